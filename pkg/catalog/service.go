package catalog

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/packforge/distro/pkg/apperr"
	"github.com/packforge/distro/pkg/authz"
	"github.com/packforge/distro/pkg/finance"
	"github.com/packforge/distro/pkg/payments"
	"github.com/packforge/distro/pkg/wallet"
)

// Service implements publisher/modpack/version CRUD and the lifecycle
// invariants of spec §4.4, plus the acquisition-grant hook payments and
// access resolution depend on.
type Service struct {
	db     *sql.DB
	store  *Store
	authz  *authz.Engine
	wallet *wallet.Service
	log    *slog.Logger
}

func NewService(db *sql.DB, store *Store, engine *authz.Engine, walletSvc *wallet.Service, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{db: db, store: store, authz: engine, wallet: walletSvc, log: log}
}

func (s *Service) CreatePublisher(ctx context.Context, name, rawSlug string) (Publisher, error) {
	slug, ok := NormalizeSlug(rawSlug)
	if !ok {
		return Publisher{}, apperr.Field(apperr.KindValidation, "slug", "must be lowercase alphanumeric segments separated by single hyphens")
	}
	p := Publisher{ID: uuid.NewString(), Name: name, Slug: slug, CreatedAt: time.Now()}
	if err := s.store.CreatePublisher(ctx, p); err != nil {
		return Publisher{}, err
	}
	return p, nil
}

// CreateModpack creates a draft modpack. Visibility/pricing start
// unset-minimal (free, private) and are set by subsequent updates; a
// modpack is not publishable until it also carries a primary category
// and at least one published version (invariant enforced in
// PublishModpack).
func (s *Service) CreateModpack(ctx context.Context, userID string, superAdmin bool, publisherID, name, rawSlug string) (Modpack, error) {
	if err := s.authz.Require(ctx, userID, superAdmin, authz.PermModpackModify, authz.Resource{PublisherID: publisherID}); err != nil {
		return Modpack{}, err
	}
	slug, ok := NormalizeSlug(rawSlug)
	if !ok {
		return Modpack{}, apperr.Field(apperr.KindValidation, "slug", "must be lowercase alphanumeric segments separated by single hyphens")
	}
	now := time.Now()
	m := Modpack{
		ID:          uuid.NewString(),
		PublisherID: publisherID,
		Slug:        slug,
		Name:        name,
		Visibility:  VisibilityPrivate,
		Status:      ModpackDraft,
		Pricing:     Pricing{Kind: PricingFree},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateModpack(ctx, m); err != nil {
		return Modpack{}, err
	}
	return m, nil
}

func (s *Service) GetModpack(ctx context.Context, id string) (Modpack, error) {
	return s.store.GetModpack(ctx, id)
}

// GetModpackBySlug is used by the import orchestrator to decide whether
// an incoming archive upserts an existing modpack or creates a new one.
func (s *Service) GetModpackBySlug(ctx context.Context, slug string) (Modpack, error) {
	return s.store.GetModpackBySlug(ctx, slug)
}

func (s *Service) SetPrimaryCategory(ctx context.Context, userID string, superAdmin bool, modpackID, categoryID string) error {
	m, err := s.store.GetModpack(ctx, modpackID)
	if err != nil {
		return err
	}
	if err := s.authz.Require(ctx, userID, superAdmin, authz.PermModpackModify, authz.Resource{PublisherID: m.PublisherID, ModpackID: m.ID}); err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE modpacks SET primary_category_id = $1, updated_at = $2 WHERE id = $3`,
		categoryID, time.Now(), modpackID)
	if err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// MetadataPatch carries the PATCH /modpacks/{mid} optional fields; a nil
// pointer leaves the corresponding column untouched.
type MetadataPatch struct {
	Name        *string
	Description *string
	IconURL     *string
	BannerURL   *string
	Visibility  *Visibility
	Pricing     *Pricing
}

// UpdateMetadata applies a partial edit to a modpack's descriptive
// fields and commercial terms. Lifecycle fields (status) are changed
// only through PublishModpack/ArchiveModpack/DeleteModpack.
func (s *Service) UpdateMetadata(ctx context.Context, userID string, superAdmin bool, modpackID string, patch MetadataPatch) (Modpack, error) {
	m, err := s.store.GetModpack(ctx, modpackID)
	if err != nil {
		return Modpack{}, err
	}
	if err := s.authz.Require(ctx, userID, superAdmin, authz.PermModpackModify, authz.Resource{PublisherID: m.PublisherID, ModpackID: m.ID}); err != nil {
		return Modpack{}, err
	}

	if patch.Name != nil {
		m.Name = *patch.Name
	}
	if patch.Description != nil {
		m.Description = *patch.Description
	}
	if patch.IconURL != nil {
		m.IconURL = *patch.IconURL
	}
	if patch.BannerURL != nil {
		m.BannerURL = *patch.BannerURL
	}
	if patch.Visibility != nil {
		m.Visibility = *patch.Visibility
	}
	if patch.Pricing != nil {
		m.Pricing = *patch.Pricing
	}
	m.UpdatedAt = time.Now()

	if _, err := s.db.ExecContext(ctx, `
		UPDATE modpacks SET name = $1, description = $2, icon_url = $3, banner_url = $4, visibility = $5,
			pricing_kind = $6, pricing_amount_minor = $7, pricing_currency = $8, pricing_channels = $9, updated_at = $10
		WHERE id = $11`,
		m.Name, m.Description, m.IconURL, m.BannerURL, m.Visibility,
		m.Pricing.Kind, m.Pricing.AmountMinor, m.Pricing.Currency, joinChannels(m.Pricing.SubscriptionKeys), m.UpdatedAt,
		modpackID); err != nil {
		return Modpack{}, apperr.Internal(err)
	}

	return m, nil
}

// PublishModpack enforces invariant P5: a modpack becomes publicly
// listable only once it has at least one published version and a
// primary category.
func (s *Service) PublishModpack(ctx context.Context, userID string, superAdmin bool, modpackID string) error {
	m, err := s.store.GetModpack(ctx, modpackID)
	if err != nil {
		return err
	}
	if err := s.authz.Require(ctx, userID, superAdmin, authz.PermModpackPublish, authz.Resource{PublisherID: m.PublisherID, ModpackID: m.ID}); err != nil {
		return err
	}
	if m.PrimaryCategoryID == "" {
		return apperr.New(apperr.KindPreconditionFailed, "modpack must have a primary category before publishing")
	}
	count, err := s.store.PublishedVersionCount(ctx, modpackID)
	if err != nil {
		return err
	}
	if count == 0 {
		return apperr.New(apperr.KindPreconditionFailed, "modpack must have at least one published version before publishing")
	}
	return s.store.UpdateModpackStatus(ctx, modpackID, ModpackPublished)
}

// ArchiveModpack and DeleteModpack are soft status flips — neither
// cascades to versions or files (spec §4.4 "archive/delete never
// cascade"); blobs become collectible only once blobstore's GC finds
// them unreferenced via ReferencedDigests.
func (s *Service) ArchiveModpack(ctx context.Context, userID string, superAdmin bool, modpackID string) error {
	m, err := s.store.GetModpack(ctx, modpackID)
	if err != nil {
		return err
	}
	if err := s.authz.Require(ctx, userID, superAdmin, authz.PermModpackDelete, authz.Resource{PublisherID: m.PublisherID, ModpackID: m.ID}); err != nil {
		return err
	}
	return s.store.UpdateModpackStatus(ctx, modpackID, ModpackArchived)
}

func (s *Service) DeleteModpack(ctx context.Context, userID string, superAdmin bool, modpackID string) error {
	m, err := s.store.GetModpack(ctx, modpackID)
	if err != nil {
		return err
	}
	if err := s.authz.Require(ctx, userID, superAdmin, authz.PermModpackDelete, authz.Resource{PublisherID: m.PublisherID, ModpackID: m.ID}); err != nil {
		return err
	}
	return s.store.UpdateModpackStatus(ctx, modpackID, ModpackDeleted)
}

// CreateDraftVersion lands an import orchestrator's aggregated file list
// as a new draft version (invariant P6: (modpackId, versionString) is
// unique; enforced by the store's UNIQUE constraint).
func (s *Service) CreateDraftVersion(ctx context.Context, userID string, superAdmin bool, modpackID, versionString, targetRuntimeVersion string, files []VersionFile) (ModpackVersion, error) {
	m, err := s.store.GetModpack(ctx, modpackID)
	if err != nil {
		return ModpackVersion{}, err
	}
	if m.Status == ModpackDeleted {
		return ModpackVersion{}, apperr.New(apperr.KindPreconditionFailed, "cannot add a version to a deleted modpack")
	}
	if err := s.authz.Require(ctx, userID, superAdmin, authz.PermModpackManageVersions, authz.Resource{PublisherID: m.PublisherID, ModpackID: m.ID}); err != nil {
		return ModpackVersion{}, err
	}
	if !ValidTargetRuntimeVersion(targetRuntimeVersion) {
		return ModpackVersion{}, apperr.Field(apperr.KindValidation, "targetRuntimeVersion", "must be X.Y[.Z][-suffix]")
	}
	if len(files) == 0 {
		return ModpackVersion{}, apperr.New(apperr.KindValidation, "a version must contain at least one file")
	}

	v := ModpackVersion{
		ID:                   uuid.NewString(),
		ModpackID:            modpackID,
		VersionString:        versionString,
		TargetRuntimeVersion: targetRuntimeVersion,
		Status:               VersionDraft,
		CreatedBy:            userID,
		CreatedAt:            time.Now(),
	}
	for i := range files {
		files[i].ID = uuid.NewString()
		files[i].VersionID = v.ID
	}
	if err := s.store.CreateVersion(ctx, v, files); err != nil {
		return ModpackVersion{}, err
	}
	return v, nil
}

// PublishVersion enforces invariant P7: a version needs a non-empty
// changelog and at least one file before it can move draft -> published;
// once published, only UpdateChangelog may touch it.
func (s *Service) PublishVersion(ctx context.Context, userID string, superAdmin bool, versionID, changelog string) error {
	v, err := s.store.GetVersion(ctx, versionID)
	if err != nil {
		return err
	}
	m, err := s.store.GetModpack(ctx, v.ModpackID)
	if err != nil {
		return err
	}
	if err := s.authz.Require(ctx, userID, superAdmin, authz.PermModpackPublish, authz.Resource{PublisherID: m.PublisherID, ModpackID: m.ID}); err != nil {
		return err
	}
	if changelog == "" {
		return apperr.New(apperr.KindValidation, "changelog is required to publish a version")
	}
	count, err := s.store.VersionFileCount(ctx, versionID)
	if err != nil {
		return err
	}
	if count == 0 {
		return apperr.New(apperr.KindPreconditionFailed, "version has no files")
	}
	if err := s.store.UpdateChangelog(ctx, versionID, changelog); err != nil {
		return err
	}
	return s.store.PublishVersion(ctx, versionID)
}

func (s *Service) UpdateChangelog(ctx context.Context, userID string, superAdmin bool, versionID, changelog string) error {
	v, err := s.store.GetVersion(ctx, versionID)
	if err != nil {
		return err
	}
	m, err := s.store.GetModpack(ctx, v.ModpackID)
	if err != nil {
		return err
	}
	if err := s.authz.Require(ctx, userID, superAdmin, authz.PermModpackManageVersions, authz.Resource{PublisherID: m.PublisherID, ModpackID: m.ID}); err != nil {
		return err
	}
	return s.store.UpdateChangelog(ctx, versionID, changelog)
}

// GrantFromCapture implements payments.AcquisitionGranter: invoked inside
// the webhook-ingestion transaction once a PaymentIntent reaches
// captured. Idempotent per invariant P3 — a second capture webhook for
// the same intent must not grant (or credit) twice.
func (s *Service) GrantFromCapture(ctx context.Context, tx *sql.Tx, userID, modpackID, intentID string, amount payments.AmountInfo) (bool, string, error) {
	m, err := s.store.GetModpack(ctx, modpackID)
	if err != nil {
		return false, "", err
	}

	var existing string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM acquisitions WHERE user_id = $1 AND modpack_id = $2 AND revoked_at IS NULL`,
		userID, modpackID).Scan(&existing)
	if err == nil {
		return false, m.PublisherID, nil
	}
	if err != sql.ErrNoRows {
		return false, "", apperr.Internal(err)
	}

	acq := Acquisition{
		ID:               uuid.NewString(),
		UserID:           userID,
		ModpackID:        modpackID,
		Source:           SourcePurchase,
		RelatedPaymentID: intentID,
		AcquiredAt:       time.Now(),
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO acquisitions (id, user_id, modpack_id, source, related_payment_id, acquired_at) VALUES ($1,$2,$3,$4,$5,$6)`,
		acq.ID, acq.UserID, acq.ModpackID, acq.Source, acq.RelatedPaymentID, acq.AcquiredAt); err != nil {
		return false, "", apperr.Internal(err)
	}

	money := finance.NewMoney(amount.AmountMinor, amount.Currency)
	if err := s.wallet.CreditSale(ctx, m.PublisherID, money, acq.ID); err != nil {
		return false, "", err
	}

	return true, m.PublisherID, nil
}

// ReferencedDigests implements blobstore.ReferenceSource: every digest
// named by a version_files row is live, regardless of the parent
// modpack or version's status, since archived/deleted modpacks keep
// their files downloadable for anyone who already holds an acquisition.
func (s *Service) ReferencedDigests(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT digest FROM version_files`)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var digest string
		if err := rows.Scan(&digest); err != nil {
			return nil, apperr.Internal(err)
		}
		out[digest] = struct{}{}
	}
	return out, rows.Err()
}
