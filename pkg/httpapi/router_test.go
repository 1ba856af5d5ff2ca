package httpapi_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/packforge/distro/pkg/access"
	"github.com/packforge/distro/pkg/authz"
	"github.com/packforge/distro/pkg/blobstore"
	"github.com/packforge/distro/pkg/catalog"
	"github.com/packforge/distro/pkg/finance"
	"github.com/packforge/distro/pkg/httpapi"
	"github.com/packforge/distro/pkg/importer"
	"github.com/packforge/distro/pkg/modcatalog"
	"github.com/packforge/distro/pkg/payments"
	"github.com/packforge/distro/pkg/wallet"
)

const testSecret = "test-signing-secret"

func signToken(t *testing.T, userID string, superAdmin bool) string {
	t.Helper()
	claims := httpapi.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: userID},
		SuperAdmin:       superAdmin,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

type openMembershipStore struct{}

func (openMembershipStore) Membership(ctx context.Context, publisherID, userID string) (authz.Membership, bool, error) {
	return authz.Membership{PublisherID: publisherID, UserID: userID, Role: authz.RoleOwner}, true, nil
}
func (openMembershipStore) Scopes(ctx context.Context, publisherID, userID, modpackID string) ([]authz.Scope, error) {
	return nil, nil
}
func (openMembershipStore) SetRole(ctx context.Context, publisherID, userID string, role authz.Role) error {
	return nil
}
func (openMembershipStore) DeleteMembership(ctx context.Context, publisherID, userID string) error {
	return nil
}

type fakeBlobStore struct{}

func (fakeBlobStore) Put(ctx context.Context, r io.Reader, claimedDigest string) (blobstore.PutResult, error) {
	return blobstore.PutResult{}, nil
}
func (fakeBlobStore) Open(ctx context.Context, digest string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(nil)), nil
}
func (fakeBlobStore) Exists(ctx context.Context, digest string) (bool, error) { return false, nil }
func (fakeBlobStore) Delete(ctx context.Context, digest string) error         { return nil }

func newTestRouter(t *testing.T) (http.Handler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	engine := authz.NewEngine(openMembershipStore{})

	walletStore := wallet.NewStore(db)
	walletSvc := wallet.NewService(db, walletStore, engine, finance.NewMoney(2000, "USD"), 0.20)

	catalogStore := catalog.NewStore(db)
	catalogSvc := catalog.NewService(db, catalogStore, engine, walletSvc, nil)

	paymentsStore := payments.NewStore(db)
	registry := payments.NewRegistry(nil, map[string]payments.GatewayType{}, payments.GatewayA)
	paymentsSvc := payments.NewService(db, paymentsStore, registry, catalogSvc, nil)

	accessResolver, err := access.NewResolver(catalogStore, engine, stubSubscriptionChecker{}, nil, nil)
	require.NoError(t, err)

	modClient := modcatalog.NewClient("http://mod-catalog.invalid", "", modcatalog.Config{})
	orchestrator := importer.NewOrchestrator(catalogSvc, modClient, fakeBlobStore{}, 5, time.Minute, nil)

	keyFunc := func(*jwt.Token) (any, error) { return []byte(testSecret), nil }

	router := httpapi.NewRouter(httpapi.Deps{
		Catalog:  catalogSvc,
		Payments: paymentsSvc,
		Wallet:   walletSvc,
		Access:   accessResolver,
		Blobs:    fakeBlobStore{},
		Importer: orchestrator,
		KeyFunc:  keyFunc,
	})
	return router, mock
}

type stubSubscriptionChecker struct{}

func (stubSubscriptionChecker) IsSubscribedToAny(ctx context.Context, userID string, channels []string) (bool, error) {
	return false, nil
}

func TestHealthz_NoAuthRequired(t *testing.T) {
	router, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIVersions_NoAuthRequired(t *testing.T) {
	router, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api-versions", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "catalog")
}

func TestProtectedRoute_MissingBearerToken(t *testing.T) {
	router, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/modpacks/mp1/access", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProtectedRoute_InvalidToken(t *testing.T) {
	router, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/modpacks/mp1/access", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhook_BypassesAuth(t *testing.T) {
	router, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/A", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	// No bearer token supplied, yet the webhook sink always 2xx's per
	// its ingestion contract rather than rejecting on auth.
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCheckAccess_AuthenticatedDispatchesToResolver(t *testing.T) {
	router, mock := newTestRouter(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM modpacks WHERE id = $1")).
		WithArgs("mp1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "publisher_id", "slug", "name", "description", "icon_url", "banner_url", "visibility", "status",
			"pricing_kind", "pricing_amount_minor", "pricing_currency", "pricing_channels", "primary_category_id",
			"created_at", "updated_at",
		}).AddRow("mp1", "pub1", "slug", "Name", "", "", "", "public", "published",
			"free", int64(0), "", "", "", time.Now(), time.Now()))

	req := httptest.NewRequest(http.MethodGet, "/modpacks/mp1/access", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "user-1", false))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminWithdrawalAction_RequiresSuperAdmin(t *testing.T) {
	router, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/admin/withdrawals/w1/approve", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "user-1", false))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	router, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodOptions, "/modpacks/mp1/access", nil)
	req.Header.Set("Origin", "https://storefront.example.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
}
