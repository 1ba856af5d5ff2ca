package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/packforge/distro/pkg/apperr"
	"github.com/packforge/distro/pkg/catalog"
	"github.com/packforge/distro/pkg/finance"
	"github.com/packforge/distro/pkg/importer"
	"github.com/packforge/distro/pkg/payments"
	"github.com/packforge/distro/pkg/versioning"
)

type handlers struct {
	deps        Deps
	apiVersions *versioning.APIRegistry
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func principalOrErr(w http.ResponseWriter, r *http.Request) (Principal, bool) {
	p, err := GetPrincipal(r.Context())
	if err != nil {
		apperr.WriteHTTP(w, r, apperr.New(apperr.KindAuthRequired, "authentication required"))
		return Principal{}, false
	}
	return p, true
}

func (h *handlers) createModpack(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrErr(w, r)
	if !ok {
		return
	}
	var body struct {
		Name string `json:"name"`
		Slug string `json:"slug"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		apperr.WriteHTTP(w, r, apperr.New(apperr.KindValidation, "invalid request body"))
		return
	}

	m, err := h.deps.Catalog.CreateModpack(r.Context(), p.UserID, p.SuperAdmin, r.PathValue("pid"), body.Name, body.Slug)
	if err != nil {
		apperr.WriteHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (h *handlers) updateModpack(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrErr(w, r)
	if !ok {
		return
	}
	var patch catalog.MetadataPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		apperr.WriteHTTP(w, r, apperr.New(apperr.KindValidation, "invalid request body"))
		return
	}

	m, err := h.deps.Catalog.UpdateMetadata(r.Context(), p.UserID, p.SuperAdmin, r.PathValue("mid"), patch)
	if err != nil {
		apperr.WriteHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *handlers) createVersion(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrErr(w, r)
	if !ok {
		return
	}
	var body struct {
		VersionString        string                 `json:"versionString"`
		TargetRuntimeVersion string                 `json:"targetRuntimeVersion"`
		Files                []catalog.VersionFile `json:"files"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		apperr.WriteHTTP(w, r, apperr.New(apperr.KindValidation, "invalid request body"))
		return
	}

	v, err := h.deps.Catalog.CreateDraftVersion(r.Context(), p.UserID, p.SuperAdmin, r.PathValue("mid"),
		body.VersionString, body.TargetRuntimeVersion, body.Files)
	if err != nil {
		apperr.WriteHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (h *handlers) publishVersion(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrErr(w, r)
	if !ok {
		return
	}
	var body struct {
		Changelog string `json:"changelog"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		apperr.WriteHTTP(w, r, apperr.New(apperr.KindValidation, "invalid request body"))
		return
	}

	if err := h.deps.Catalog.PublishVersion(r.Context(), p.UserID, p.SuperAdmin, r.PathValue("vid"), body.Changelog); err != nil {
		apperr.WriteHTTP(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// importArchive accepts a multipart archive upload (spec §6: fields
// archive, parallelDownloads?, slug?, visibility?). The archive field is
// a zip containing manifest.json at its root plus an overrides/
// directory of raw files; pkg/importer streams it apart and runs the
// resolve/download/commit pipeline. A report with non-empty
// FailedEntries is still a 201: the import committed what it could and
// the client renders the rest as warnings (spec §7).
func (h *handlers) importArchive(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrErr(w, r)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		apperr.WriteHTTP(w, r, apperr.New(apperr.KindValidation, "expected multipart/form-data"))
		return
	}

	file, header, err := r.FormFile("archive")
	if err != nil {
		apperr.WriteHTTP(w, r, apperr.Field(apperr.KindValidation, "archive", "missing archive file"))
		return
	}
	defer file.Close()

	parsed, err := importer.ReadArchive(file, header.Size)
	if err != nil {
		apperr.WriteHTTP(w, r, err)
		return
	}

	opts := importer.Opts{
		SlugOverride: r.FormValue("slug"),
		Visibility:   catalog.Visibility(r.FormValue("visibility")),
	}
	if v := r.FormValue("parallelDownloads"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.ParallelDownloads = n
		}
	}

	report, err := h.deps.Importer.Run(r.Context(), p.UserID, p.SuperAdmin, r.PathValue("pid"), parsed.Manifest, parsed.Overrides, opts)
	if err != nil {
		apperr.WriteHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, report)
}

func (h *handlers) streamBlob(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrErr(w, r)
	if !ok {
		return
	}

	decision, err := h.deps.Access.Resolve(r.Context(), p.UserID, p.SuperAdmin, r.PathValue("mid"))
	if err != nil {
		apperr.WriteHTTP(w, r, err)
		return
	}
	if !decision.Allowed {
		apperr.WriteHTTP(w, r, apperr.Field(apperr.KindForbidden, "reason", string(decision.Reason)))
		return
	}

	digest := r.PathValue("digest")
	body, err := h.deps.Blobs.Open(r.Context(), digest)
	if err != nil {
		apperr.WriteHTTP(w, r, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = io.Copy(w, body)
}

func (h *handlers) checkAccess(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrErr(w, r)
	if !ok {
		return
	}
	decision, err := h.deps.Access.Resolve(r.Context(), p.UserID, p.SuperAdmin, r.PathValue("mid"))
	if err != nil {
		apperr.WriteHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func (h *handlers) purchase(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrErr(w, r)
	if !ok {
		return
	}
	var body struct {
		AmountMinor int64  `json:"amountMinor"`
		Currency    string `json:"currency"`
		Region      string `json:"region"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		apperr.WriteHTTP(w, r, apperr.New(apperr.KindValidation, "invalid request body"))
		return
	}

	intent, result, err := h.deps.Payments.CreatePayment(r.Context(), payments.CreateRequest{
		UserID:    p.UserID,
		ModpackID: r.PathValue("mid"),
		Amount:    finance.NewMoney(body.AmountMinor, body.Currency),
		Region:    body.Region,
	})
	if err != nil {
		apperr.WriteHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		Intent payments.PaymentIntent `json:"intent"`
		Result payments.CreateResult  `json:"result"`
	}{intent, result})
}

func (h *handlers) webhook(w http.ResponseWriter, r *http.Request) {
	gatewayType := payments.GatewayType(r.PathValue("gateway"))
	signature := r.Header.Get("X-Webhook-Signature")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		// still 2xx per spec's webhook-ingestion contract: the sink
		// never retries a malformed delivery into a retry storm.
		w.WriteHeader(http.StatusOK)
		return
	}

	h.deps.Payments.IngestWebhook(r.Context(), GetRequestID(r.Context()), gatewayType, body, signature)
	w.WriteHeader(http.StatusOK)
}

func (h *handlers) requestWithdrawal(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrErr(w, r)
	if !ok {
		return
	}
	var body struct {
		AmountMinor int64  `json:"amountMinor"`
		Currency    string `json:"currency"`
		PayoutRef   string `json:"payoutAccountRef"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		apperr.WriteHTTP(w, r, apperr.New(apperr.KindValidation, "invalid request body"))
		return
	}

	wr, err := h.deps.Wallet.RequestWithdrawal(r.Context(), p.UserID, p.SuperAdmin, r.PathValue("pid"),
		finance.NewMoney(body.AmountMinor, body.Currency), body.PayoutRef)
	if err != nil {
		apperr.WriteHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, wr)
}

func (h *handlers) approveWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.adminWithdrawalAction(w, r, func(p Principal, id string) (any, error) {
		return h.deps.Wallet.ApproveWithdrawal(r.Context(), p.UserID, id)
	})
}

func (h *handlers) rejectWithdrawal(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Notes string `json:"notes"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	h.adminWithdrawalAction(w, r, func(p Principal, id string) (any, error) {
		return h.deps.Wallet.RejectWithdrawal(r.Context(), p.UserID, id, body.Notes)
	})
}

func (h *handlers) completeWithdrawal(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ExternalPayoutRef string `json:"externalPayoutRef"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		apperr.WriteHTTP(w, r, apperr.New(apperr.KindValidation, "invalid request body"))
		return
	}
	h.adminWithdrawalAction(w, r, func(p Principal, id string) (any, error) {
		return h.deps.Wallet.CompleteWithdrawal(r.Context(), p.UserID, id, body.ExternalPayoutRef)
	})
}

func (h *handlers) adminWithdrawalAction(w http.ResponseWriter, r *http.Request, action func(Principal, string) (any, error)) {
	p, ok := principalOrErr(w, r)
	if !ok {
		return
	}
	if !p.SuperAdmin {
		apperr.WriteHTTP(w, r, apperr.New(apperr.KindForbidden, "admin flag required"))
		return
	}
	result, err := action(p, r.PathValue("id"))
	if err != nil {
		apperr.WriteHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
