package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/packforge/distro/pkg/apperr"
)

// Store persists catalog entities over database/sql.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS publishers (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	slug       TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS modpacks (
	id                  TEXT PRIMARY KEY,
	publisher_id        TEXT NOT NULL,
	slug                TEXT NOT NULL UNIQUE,
	name                TEXT NOT NULL,
	description         TEXT NOT NULL DEFAULT '',
	icon_url            TEXT NOT NULL DEFAULT '',
	banner_url          TEXT NOT NULL DEFAULT '',
	visibility          TEXT NOT NULL,
	status              TEXT NOT NULL,
	pricing_kind        TEXT NOT NULL,
	pricing_amount_minor BIGINT NOT NULL DEFAULT 0,
	pricing_currency    TEXT NOT NULL DEFAULT '',
	pricing_channels    TEXT NOT NULL DEFAULT '',
	primary_category_id TEXT NOT NULL DEFAULT '',
	created_at          TIMESTAMPTZ NOT NULL,
	updated_at          TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS modpack_versions (
	id                      TEXT PRIMARY KEY,
	modpack_id              TEXT NOT NULL,
	version_string          TEXT NOT NULL,
	target_runtime_version  TEXT NOT NULL,
	optional_loader_version TEXT NOT NULL DEFAULT '',
	changelog               TEXT NOT NULL DEFAULT '',
	status                  TEXT NOT NULL,
	created_by              TEXT NOT NULL,
	created_at              TIMESTAMPTZ NOT NULL,
	released_at             TIMESTAMPTZ,
	UNIQUE (modpack_id, version_string)
);

CREATE TABLE IF NOT EXISTS version_files (
	id            TEXT PRIMARY KEY,
	version_id    TEXT NOT NULL,
	digest        TEXT NOT NULL,
	relative_path TEXT NOT NULL,
	UNIQUE (version_id, relative_path)
);

CREATE TABLE IF NOT EXISTS categories (
	id       TEXT PRIMARY KEY,
	name     TEXT NOT NULL,
	slug     TEXT NOT NULL UNIQUE,
	icon_url TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS acquisitions (
	id                  TEXT PRIMARY KEY,
	user_id             TEXT NOT NULL,
	modpack_id          TEXT NOT NULL,
	source              TEXT NOT NULL,
	related_payment_id  TEXT NOT NULL DEFAULT '',
	acquired_at         TIMESTAMPTZ NOT NULL,
	revoked_at          TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS one_active_acquisition
	ON acquisitions (user_id, modpack_id) WHERE revoked_at IS NULL;
`

func (s *Store) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *Store) CreatePublisher(ctx context.Context, p Publisher) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO publishers (id, name, slug, created_at) VALUES ($1, $2, $3, $4)`,
		p.ID, p.Name, p.Slug, p.CreatedAt)
	if err != nil {
		return mapUniqueViolation(err, "publisher slug already in use")
	}
	return nil
}

func (s *Store) GetModpack(ctx context.Context, id string) (Modpack, error) {
	return scanModpack(s.db.QueryRowContext(ctx, modpackSelectCols+` FROM modpacks WHERE id = $1`, id))
}

func (s *Store) GetModpackBySlug(ctx context.Context, slug string) (Modpack, error) {
	return scanModpack(s.db.QueryRowContext(ctx, modpackSelectCols+` FROM modpacks WHERE slug = $1`, slug))
}

const modpackSelectCols = `SELECT id, publisher_id, slug, name, description, icon_url, banner_url, visibility, status,
	pricing_kind, pricing_amount_minor, pricing_currency, pricing_channels, primary_category_id, created_at, updated_at`

func scanModpack(row *sql.Row) (Modpack, error) {
	var m Modpack
	var channels string
	if err := row.Scan(&m.ID, &m.PublisherID, &m.Slug, &m.Name, &m.Description, &m.IconURL, &m.BannerURL,
		&m.Visibility, &m.Status, &m.Pricing.Kind, &m.Pricing.AmountMinor, &m.Pricing.Currency, &channels,
		&m.PrimaryCategoryID, &m.CreatedAt, &m.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Modpack{}, apperr.New(apperr.KindNotFound, "modpack not found")
		}
		return Modpack{}, apperr.Internal(err)
	}
	m.Pricing.SubscriptionKeys = splitChannels(channels)
	return m, nil
}

func (s *Store) CreateModpack(ctx context.Context, m Modpack) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO modpacks (id, publisher_id, slug, name, description, icon_url, banner_url, visibility, status,
			pricing_kind, pricing_amount_minor, pricing_currency, pricing_channels, primary_category_id, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		m.ID, m.PublisherID, m.Slug, m.Name, m.Description, m.IconURL, m.BannerURL, m.Visibility, m.Status,
		m.Pricing.Kind, m.Pricing.AmountMinor, m.Pricing.Currency, joinChannels(m.Pricing.SubscriptionKeys),
		m.PrimaryCategoryID, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return mapUniqueViolation(err, "modpack slug already in use")
	}
	return nil
}

func (s *Store) UpdateModpackStatus(ctx context.Context, id string, status ModpackStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE modpacks SET status = $1, updated_at = $2 WHERE id = $3`, status, time.Now(), id)
	if err != nil {
		return apperr.Internal(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.KindNotFound, "modpack not found")
	}
	return nil
}

func (s *Store) PublishedVersionCount(ctx context.Context, modpackID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM modpack_versions WHERE modpack_id = $1 AND status = 'published'`, modpackID).Scan(&count)
	if err != nil {
		return 0, apperr.Internal(err)
	}
	return count, nil
}

func (s *Store) CreateVersion(ctx context.Context, v ModpackVersion, files []VersionFile) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Internal(err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO modpack_versions (id, modpack_id, version_string, target_runtime_version, optional_loader_version,
			changelog, status, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		v.ID, v.ModpackID, v.VersionString, v.TargetRuntimeVersion, v.OptionalLoaderVersion,
		v.Changelog, v.Status, v.CreatedBy, v.CreatedAt)
	if err != nil {
		return mapUniqueViolation(err, "version string already exists for this modpack")
	}

	for _, f := range files {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO version_files (id, version_id, digest, relative_path) VALUES ($1,$2,$3,$4)`,
			f.ID, v.ID, f.Digest, f.RelativePath); err != nil {
			return mapUniqueViolation(err, "duplicate relative path in version")
		}
	}

	return tx.Commit()
}

func (s *Store) GetVersion(ctx context.Context, id string) (ModpackVersion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, modpack_id, version_string, target_runtime_version, optional_loader_version, changelog,
		       status, created_by, created_at, released_at
		FROM modpack_versions WHERE id = $1`, id)

	var v ModpackVersion
	if err := row.Scan(&v.ID, &v.ModpackID, &v.VersionString, &v.TargetRuntimeVersion, &v.OptionalLoaderVersion,
		&v.Changelog, &v.Status, &v.CreatedBy, &v.CreatedAt, &v.ReleasedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ModpackVersion{}, apperr.New(apperr.KindNotFound, "version not found")
		}
		return ModpackVersion{}, apperr.Internal(err)
	}
	return v, nil
}

func (s *Store) VersionFileCount(ctx context.Context, versionID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM version_files WHERE version_id = $1`, versionID).Scan(&count)
	if err != nil {
		return 0, apperr.Internal(err)
	}
	return count, nil
}

func (s *Store) PublishVersion(ctx context.Context, versionID string) error {
	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE modpack_versions SET status = 'published', released_at = $1
		WHERE id = $2 AND status = 'draft'`, now, versionID)
	if err != nil {
		return apperr.Internal(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.KindConflict, "version is not a draft")
	}
	return nil
}

// UpdateChangelog is the one allowed mutation on a published version
// (spec §4.4 "Editing a published version is forbidden except for
// changelog").
func (s *Store) UpdateChangelog(ctx context.Context, versionID, changelog string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE modpack_versions SET changelog = $1 WHERE id = $2`, changelog, versionID)
	if err != nil {
		return apperr.Internal(err)
	}
	return nil
}

func (s *Store) ActiveAcquisition(ctx context.Context, userID, modpackID string) (Acquisition, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, modpack_id, source, related_payment_id, acquired_at, revoked_at
		FROM acquisitions WHERE user_id = $1 AND modpack_id = $2 AND revoked_at IS NULL`, userID, modpackID)

	var a Acquisition
	if err := row.Scan(&a.ID, &a.UserID, &a.ModpackID, &a.Source, &a.RelatedPaymentID, &a.AcquiredAt, &a.RevokedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Acquisition{}, false, nil
		}
		return Acquisition{}, false, apperr.Internal(err)
	}
	return a, true, nil
}

func mapUniqueViolation(err error, detail string) error {
	if err == nil {
		return nil
	}
	// lib/pq and modernc.org/sqlite both surface unique-constraint
	// violations in ways that don't satisfy errors.Is against a shared
	// sentinel; a substring check keeps this portable across drivers.
	msg := err.Error()
	if containsAny(msg, "unique", "UNIQUE", "duplicate key") {
		return apperr.New(apperr.KindConflict, detail)
	}
	return apperr.Internal(fmt.Errorf("catalog: %w", err))
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if len(sub) > 0 && stringsContains(s, sub) {
			return true
		}
	}
	return false
}
