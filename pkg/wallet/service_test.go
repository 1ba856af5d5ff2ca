package wallet_test

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
	"github.com/packforge/distro/pkg/finance"
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

func TestRequestWithdrawal_SucceedsWhenBalanceSufficient(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := wallet.NewStore(db)
	engine := authz.NewEngine(allowAllStore{})
	min := finance.NewMoney(1000, "USD")
	svc := wallet.NewService(db, store, engine, min, 0.20)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT publisher_id, balance_minor, currency, updated_at FROM wallets WHERE publisher_id = $1 FOR UPDATE")).
		WithArgs("pub1").
		WillReturnRows(sqlmock.NewRows([]string{"publisher_id", "balance_minor", "currency", "updated_at"}).
			AddRow("pub1", int64(5000), "USD", time.Now()))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM withdrawal_requests")).
		WithArgs("pub1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO withdrawal_requests")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	req, err := svc.RequestWithdrawal(context.Background(), "alice", false, "pub1", finance.NewMoney(4000, "USD"), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, wallet.WithdrawalPending, req.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestWithdrawal_RejectsBelowBalance(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := wallet.NewStore(db)
	engine := authz.NewEngine(allowAllStore{})
	min := finance.NewMoney(1000, "USD")
	svc := wallet.NewService(db, store, engine, min, 0.20)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT publisher_id, balance_minor, currency, updated_at FROM wallets WHERE publisher_id = $1 FOR UPDATE")).
		WithArgs("pub1").
		WillReturnRows(sqlmock.NewRows([]string{"publisher_id", "balance_minor", "currency", "updated_at"}).
			AddRow("pub1", int64(1000), "USD", time.Now()))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM withdrawal_requests")).
		WithArgs("pub1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectRollback()

	_, err = svc.RequestWithdrawal(context.Background(), "alice", false, "pub1", finance.NewMoney(4000, "USD"), "acct-1")
	require.Error(t, err)
	assert.Equal(t, apperr.KindPreconditionFailed, apperr.KindOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}
