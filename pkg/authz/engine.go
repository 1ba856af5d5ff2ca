package authz

import (
	"context"

	"github.com/packforge/distro/pkg/apperr"
)

// Engine evaluates permission checks against a Store (spec §4.3).
type Engine struct {
	store Store
	cache *Cache // optional; nil disables caching
}

func NewEngine(store Store) *Engine {
	return &Engine{store: store}
}

// WithCache attaches a Redis-backed decision cache.
func (e *Engine) WithCache(c *Cache) *Engine {
	e.cache = c
	return e
}

// Check implements the §4.3 resolution algorithm:
//  1. superAdmin always allows.
//  2. no membership in the resource's publisher denies.
//  3. role default grants allow.
//  4. else the union of matching scopes decides.
func (e *Engine) Check(ctx context.Context, userID string, superAdmin bool, perm Permission, res Resource) (bool, error) {
	if superAdmin {
		return true, nil
	}

	if e.cache != nil {
		if decision, ok := e.cache.Get(ctx, userID, perm, res); ok {
			return decision, nil
		}
	}

	allowed, err := e.check(ctx, userID, perm, res)
	if err != nil {
		return false, err
	}

	if e.cache != nil {
		e.cache.Set(ctx, userID, perm, res, allowed)
	}
	return allowed, nil
}

func (e *Engine) check(ctx context.Context, userID string, perm Permission, res Resource) (bool, error) {
	membership, ok, err := e.store.Membership(ctx, res.PublisherID, userID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	if defaultGrants(membership.Role).Has(perm) {
		return true, nil
	}

	scopes, err := e.store.Scopes(ctx, res.PublisherID, userID, res.ModpackID)
	if err != nil {
		return false, err
	}

	var union Set
	for _, sc := range scopes {
		union = union.Union(sc.Permissions)
	}
	return union.Has(perm), nil
}

// Require is Check plus a ready-to-send apperr.Error on denial, for
// handlers that just want to bail out on failure.
func (e *Engine) Require(ctx context.Context, userID string, superAdmin bool, perm Permission, res Resource) error {
	allowed, err := e.Check(ctx, userID, superAdmin, perm, res)
	if err != nil {
		return err
	}
	if !allowed {
		return apperr.New(apperr.KindForbidden, "missing permission: "+perm.String())
	}
	return nil
}

// CanManageRole implements the §4.3 role-management rule: U may set V's
// role in P to newRole iff U has publisher.manage_members, U's rank is
// strictly above the rank of both V's current role and the target role,
// and U != V.
// Creating or transferring ownership is reserved to the current owner.
func (e *Engine) CanManageRole(ctx context.Context, actorID string, actorSuperAdmin bool, publisherID, targetUserID string, targetCurrentRole, newRole Role) (bool, error) {
	if actorID == targetUserID {
		return false, nil
	}

	if newRole == RoleOwner || targetCurrentRole == RoleOwner {
		if actorSuperAdmin {
			return true, nil
		}
		actor, ok, err := e.store.Membership(ctx, publisherID, actorID)
		if err != nil {
			return false, err
		}
		return ok && actor.Role == RoleOwner, nil
	}

	allowed, err := e.Check(ctx, actorID, actorSuperAdmin, PermPublisherManageMembers, Resource{PublisherID: publisherID})
	if err != nil || !allowed {
		return false, err
	}

	actor, ok, err := e.store.Membership(ctx, publisherID, actorID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	// admin's publisher.manage_members grant only reaches members (§4.3
	// role defaults: "admin ... manage_members only over members"), so
	// unlike the owner tier this compares with strict "<", not "<=":
	// an admin can never manage another admin, only the owner can.
	rank := actor.Role.Rank()
	return rank > targetCurrentRole.Rank() && rank > newRole.Rank(), nil
}
