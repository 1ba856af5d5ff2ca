package catalog_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packforge/distro/pkg/apperr"
	"github.com/packforge/distro/pkg/authz"
	"github.com/packforge/distro/pkg/catalog"
	"github.com/packforge/distro/pkg/finance"
	"github.com/packforge/distro/pkg/payments"
	"github.com/packforge/distro/pkg/wallet"
)

type allowAllStore struct{}

func (allowAllStore) Membership(ctx context.Context, publisherID, userID string) (authz.Membership, bool, error) {
	return authz.Membership{PublisherID: publisherID, UserID: userID, Role: authz.RoleOwner}, true, nil
}
func (allowAllStore) Scopes(ctx context.Context, publisherID, userID, modpackID string) ([]authz.Scope, error) {
	return nil, nil
}
func (allowAllStore) SetRole(ctx context.Context, publisherID, userID string, role authz.Role) error {
	return nil
}
func (allowAllStore) DeleteMembership(ctx context.Context, publisherID, userID string) error {
	return nil
}

func newTestService(t *testing.T) (*catalog.Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := catalog.NewStore(db)
	engine := authz.NewEngine(allowAllStore{})
	walletStore := wallet.NewStore(db)
	walletSvc := wallet.NewService(db, walletStore, engine, finance.NewMoney(1000, "USD"), 0.20)
	return catalog.NewService(db, store, engine, walletSvc, nil), mock
}

func TestPublishModpack_RejectsMissingPrimaryCategory(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM modpacks WHERE id = $1")).
		WithArgs("mp1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "publisher_id", "slug", "name", "description", "icon_url", "banner_url", "visibility", "status",
			"pricing_kind", "pricing_amount_minor", "pricing_currency", "pricing_channels", "primary_category_id",
			"created_at", "updated_at",
		}).AddRow("mp1", "pub1", "slug", "Name", "", "", "", "private", "draft",
			"free", int64(0), "", "", "", time.Now(), time.Now()))

	err := svc.PublishModpack(context.Background(), "user1", false, "mp1")
	require.Error(t, err)
	assert.Equal(t, apperr.KindPreconditionFailed, apperr.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishModpack_RejectsWithoutPublishedVersion(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM modpacks WHERE id = $1")).
		WithArgs("mp1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "publisher_id", "slug", "name", "description", "icon_url", "banner_url", "visibility", "status",
			"pricing_kind", "pricing_amount_minor", "pricing_currency", "pricing_channels", "primary_category_id",
			"created_at", "updated_at",
		}).AddRow("mp1", "pub1", "slug", "Name", "", "", "", "private", "draft",
			"free", int64(0), "", "", "cat1", time.Now(), time.Now()))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM modpack_versions WHERE modpack_id = $1 AND status = 'published'")).
		WithArgs("mp1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	err := svc.PublishModpack(context.Background(), "user1", false, "mp1")
	require.Error(t, err)
	assert.Equal(t, apperr.KindPreconditionFailed, apperr.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateDraftVersion_RejectsInvalidRuntimeVersion(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM modpacks WHERE id = $1")).
		WithArgs("mp1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "publisher_id", "slug", "name", "description", "icon_url", "banner_url", "visibility", "status",
			"pricing_kind", "pricing_amount_minor", "pricing_currency", "pricing_channels", "primary_category_id",
			"created_at", "updated_at",
		}).AddRow("mp1", "pub1", "slug", "Name", "", "", "", "private", "draft",
			"free", int64(0), "", "", "", time.Now(), time.Now()))

	_, err := svc.CreateDraftVersion(context.Background(), "user1", false, "mp1", "1.0.0", "not-a-version", []catalog.VersionFile{{Digest: "abc", RelativePath: "mods/a.jar"}})
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateDraftVersion_RejectsEmptyFileSet(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM modpacks WHERE id = $1")).
		WithArgs("mp1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "publisher_id", "slug", "name", "description", "icon_url", "banner_url", "visibility", "status",
			"pricing_kind", "pricing_amount_minor", "pricing_currency", "pricing_channels", "primary_category_id",
			"created_at", "updated_at",
		}).AddRow("mp1", "pub1", "slug", "Name", "", "", "", "private", "draft",
			"free", int64(0), "", "", "", time.Now(), time.Now()))

	_, err := svc.CreateDraftVersion(context.Background(), "user1", false, "mp1", "1.0.0", "1.20.1", nil)
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGrantFromCapture_IsIdempotentOnSecondCall(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := catalog.NewStore(db)
	engine := authz.NewEngine(allowAllStore{})
	walletStore := wallet.NewStore(db)
	walletSvc := wallet.NewService(db, walletStore, engine, finance.NewMoney(1000, "USD"), 0.20)
	svc := catalog.NewService(db, store, engine, walletSvc, nil)

	mock.ExpectQuery(regexp.QuoteMeta("FROM modpacks WHERE id = $1")).
		WithArgs("mp1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "publisher_id", "slug", "name", "description", "icon_url", "banner_url", "visibility", "status",
			"pricing_kind", "pricing_amount_minor", "pricing_currency", "pricing_channels", "primary_category_id",
			"created_at", "updated_at",
		}).AddRow("mp1", "pub1", "slug", "Name", "", "", "", "private", "draft",
			"free", int64(0), "", "", "", time.Now(), time.Now()))
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM acquisitions WHERE user_id = $1 AND modpack_id = $2 AND revoked_at IS NULL")).
		WithArgs("user1", "mp1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("existing-acq"))

	tx, err := db.Begin()
	require.NoError(t, err)

	granted, seller, err := svc.GrantFromCapture(context.Background(), tx, "user1", "mp1",
		"intent1", payments.AmountInfo{AmountMinor: 500, Currency: "USD"})
	require.NoError(t, err)
	assert.False(t, granted)
	assert.Equal(t, "pub1", seller)
	assert.NoError(t, mock.ExpectationsWereMet())
}
