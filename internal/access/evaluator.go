package access

import (
	"context"
	"errors"

	"nijjara.org/internal/identity"
	"nijjara.org/internal/obs"
)

// UserDirectory is the slice of the identity store the evaluator needs.
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (identity.User, error)
}

// Context carries the optional target of a permission check.
type Context struct {
	TargetUserID     string
	TargetDepartment string
	NewRoleID        string
}

// Evaluator decides allow/deny for an actor against a permission key.
// Evaluation is a pure read apart from the idempotent first-touch seeding
// of the grant table.
type Evaluator struct {
	users   UserDirectory
	catalog *Catalog
}

// NewEvaluator wires the evaluator to its user directory and grant catalog.
func NewEvaluator(users UserDirectory, catalog *Catalog) *Evaluator {
	return &Evaluator{users: users, catalog: catalog}
}

// Allowed evaluates the full scope-aware algorithm, fail-closed:
// missing or inactive actors, missing grants, denied grants, unmet scopes
// and unknown scope values all deny. The Admin role bypasses the matrix.
func (e *Evaluator) Allowed(ctx context.Context, actorID string, perm Permission, pc Context) (bool, error) {
	allowed, err := e.evaluate(ctx, actorID, perm, pc)
	if err == nil {
		obs.AuthzDecision(string(perm), allowed)
	}
	return allowed, err
}

func (e *Evaluator) evaluate(ctx context.Context, actorID string, perm Permission, pc Context) (bool, error) {
	if actorID == "" {
		return false, nil
	}
	actor, err := e.users.GetUser(ctx, actorID)
	if err != nil {
		// Unknown actor denies; store failures propagate.
		if errors.Is(err, identity.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if !actor.Active {
		return false, nil
	}
	if actor.RoleID == identity.AdminRoleID {
		return true, nil
	}

	grant, found, err := e.catalog.Grant(ctx, actor.RoleID, perm)
	if err != nil {
		return false, err
	}
	if !found || !grant.Allowed {
		return false, nil
	}

	scope := grant.Scope
	if scope == "" {
		scope = ScopeGlobal
	}
	switch scope {
	case ScopeGlobal:
		return true, nil
	case ScopeLimited:
		// A LIMITED ASSIGN_ROLE grant must not allow escalation into the
		// superuser role.
		if perm == PermAssignRole && pc.NewRoleID == identity.AdminRoleID {
			return false, nil
		}
		return true, nil
	case ScopeDepartment:
		dept := pc.TargetDepartment
		if dept == "" && pc.TargetUserID != "" {
			target, err := e.users.GetUser(ctx, pc.TargetUserID)
			if err == nil {
				dept = target.Department
			}
		}
		return dept != "" && dept == actor.Department, nil
	case ScopeSelf:
		return pc.TargetUserID != "" && pc.TargetUserID == actor.ID, nil
	}
	// Unknown scope values deny rather than allow.
	return false, nil
}
