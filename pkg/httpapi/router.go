package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/golang-jwt/jwt/v5"

	"github.com/packforge/distro/pkg/access"
	"github.com/packforge/distro/pkg/blobstore"
	"github.com/packforge/distro/pkg/catalog"
	"github.com/packforge/distro/pkg/database"
	"github.com/packforge/distro/pkg/importer"
	"github.com/packforge/distro/pkg/ledger"
	"github.com/packforge/distro/pkg/observability"
	"github.com/packforge/distro/pkg/payments"
	"github.com/packforge/distro/pkg/versioning"
	"github.com/packforge/distro/pkg/wallet"
)

// Deps bundles every service the router dispatches into.
type Deps struct {
	Catalog  *catalog.Service
	Payments *payments.Service
	Wallet   *wallet.Service
	Access   *access.Resolver
	Blobs    blobstore.Store
	Importer *importer.Orchestrator
	KeyFunc  jwt.Keyfunc
	Log      *slog.Logger

	// Observability is optional; a nil Provider makes TracingMiddleware
	// a no-op so tests can build a router without standing one up.
	Observability *observability.Provider

	// Ledger is optional; a nil Registry makes LedgerMiddleware a no-op.
	Ledger *ledger.Registry

	// DB is optional; when set, /healthz reports per-region connection
	// health alongside the base status.
	DB *database.MultiRegionRouter
}

// NewRouter builds the full spec §6 HTTP surface on top of the Go
// 1.22+ method+pattern http.ServeMux, matching the reference codebase's
// choice of the standard library's mux over a third-party router.
func NewRouter(deps Deps) http.Handler {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	h := &handlers{deps: deps, apiVersions: versioning.DistributionAPIs()}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.healthz)
	mux.HandleFunc("GET /api-versions", h.apiVersionsHandler)

	mux.HandleFunc("POST /publishers/{pid}/modpacks", h.createModpack)
	mux.HandleFunc("PATCH /publishers/{pid}/modpacks/{mid}", h.updateModpack)
	mux.HandleFunc("POST /publishers/{pid}/modpacks/{mid}/versions", h.createVersion)
	mux.HandleFunc("POST /publishers/{pid}/modpacks/{mid}/versions/{vid}/publish", h.publishVersion)
	mux.HandleFunc("POST /publishers/{pid}/modpacks/import", h.importArchive)
	mux.HandleFunc("GET /modpacks/{mid}/versions/{vid}/files/{digest}", h.streamBlob)
	mux.HandleFunc("GET /modpacks/{mid}/access", h.checkAccess)
	mux.HandleFunc("POST /modpacks/{mid}/purchase", h.purchase)
	mux.HandleFunc("POST /webhooks/payments/{gateway}", h.webhook)
	mux.HandleFunc("POST /publishers/{pid}/withdrawals", h.requestWithdrawal)
	mux.HandleFunc("POST /admin/withdrawals/{id}/approve", h.approveWithdrawal)
	mux.HandleFunc("POST /admin/withdrawals/{id}/reject", h.rejectWithdrawal)
	mux.HandleFunc("POST /admin/withdrawals/{id}/complete", h.completeWithdrawal)

	var handler http.Handler = mux
	handler = RateLimitMiddleware(20, 40)(handler)
	handler = AuthMiddleware(deps.KeyFunc)(handler)
	handler = CORSMiddleware(handler)
	handler = TracingMiddleware(deps.Observability)(handler)
	handler = LedgerMiddleware(deps.Ledger)(handler)
	handler = RequestIDMiddleware(handler)
	return handler
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	if h.deps.DB == nil {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
		return
	}

	status := h.deps.DB.HealthStatus()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "regions": status})
}

// apiVersionsHandler exposes the stability/deprecation state of every
// public API group, so integrators can check for breaking changes and
// scheduled removals without reading changelogs out of band.
func (h *handlers) apiVersionsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.apiVersions)
}
