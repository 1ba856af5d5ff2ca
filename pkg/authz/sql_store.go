package authz

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/packforge/distro/pkg/apperr"
)

// SQLStore implements Store over database/sql (Postgres via lib/pq in
// production); the package's tests use an in-memory fake Store instead.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS memberships (
	publisher_id TEXT NOT NULL,
	user_id      TEXT NOT NULL,
	role         TEXT NOT NULL,
	joined_at    TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (publisher_id, user_id)
);

CREATE TABLE IF NOT EXISTS scopes (
	id           TEXT PRIMARY KEY,
	publisher_id TEXT NOT NULL,
	user_id      TEXT NOT NULL,
	target_kind  TEXT NOT NULL,
	modpack_id   TEXT NOT NULL DEFAULT '',
	permissions  BIGINT NOT NULL,
	FOREIGN KEY (publisher_id, user_id) REFERENCES memberships(publisher_id, user_id)
);
`

func (s *SQLStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *SQLStore) Membership(ctx context.Context, publisherID, userID string) (Membership, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT publisher_id, user_id, role, joined_at FROM memberships WHERE publisher_id = $1 AND user_id = $2`,
		publisherID, userID)

	var m Membership
	if err := row.Scan(&m.PublisherID, &m.UserID, &m.Role, &m.JoinedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Membership{}, false, nil
		}
		return Membership{}, false, apperr.Internal(fmt.Errorf("authz: membership lookup: %w", err))
	}
	return m, true, nil
}

// Scopes returns every Scope belonging to (publisherID, userID) whose
// target is either the publisher itself or the given modpackID, i.e. the
// set the §4.3 resolution algorithm unions over. Pass an empty modpackID
// for a publisher-level check (no modpack-targeted scopes will match).
func (s *SQLStore) Scopes(ctx context.Context, publisherID, userID string, modpackID string) ([]Scope, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, publisher_id, user_id, target_kind, modpack_id, permissions
		FROM scopes
		WHERE publisher_id = $1 AND user_id = $2
		  AND (target_kind = 'publisher' OR (target_kind = 'modpack' AND modpack_id = $3))`,
		publisherID, userID, modpackID)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("authz: scope lookup: %w", err))
	}
	defer func() { _ = rows.Close() }()

	var out []Scope
	for rows.Next() {
		var sc Scope
		var kind string
		if err := rows.Scan(&sc.ID, &sc.PublisherID, &sc.MemberID, &kind, &sc.ModpackID, &sc.Permissions); err != nil {
			return nil, apperr.Internal(fmt.Errorf("authz: scope scan: %w", err))
		}
		sc.TargetKind = TargetKind(kind)
		if sc.TargetKind == TargetPublisher {
			sc.PublisherID = publisherID
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal(err)
	}
	return out, nil
}

func (s *SQLStore) SetRole(ctx context.Context, publisherID, userID string, role Role) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memberships SET role = $1 WHERE publisher_id = $2 AND user_id = $3`,
		role, publisherID, userID)
	if err != nil {
		return apperr.Internal(fmt.Errorf("authz: set role: %w", err))
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return apperr.Internal(err)
	}
	if rows == 0 {
		return apperr.New(apperr.KindNotFound, "membership not found")
	}
	return nil
}

func (s *SQLStore) DeleteMembership(ctx context.Context, publisherID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM memberships WHERE publisher_id = $1 AND user_id = $2`, publisherID, userID)
	if err != nil {
		return apperr.Internal(fmt.Errorf("authz: delete membership: %w", err))
	}
	return nil
}
