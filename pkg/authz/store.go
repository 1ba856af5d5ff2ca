package authz

import "context"

// Store is the persistence contract the Engine checks against. SQLStore is
// the production implementation; tests can substitute an in-memory fake.
type Store interface {
	Membership(ctx context.Context, publisherID, userID string) (Membership, bool, error)
	Scopes(ctx context.Context, publisherID, userID string, modpackID string) ([]Scope, error)
	SetRole(ctx context.Context, publisherID, userID string, role Role) error
	DeleteMembership(ctx context.Context, publisherID, userID string) error
}
