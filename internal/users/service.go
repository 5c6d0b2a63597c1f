// Package users is the application service behind every user-management
// surface: it gates each operation on the permission evaluator, applies the
// lifecycle rules and writes the audit trail.
package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nijjara.org/internal/access"
	"nijjara.org/internal/audit"
	"nijjara.org/internal/identity"
	"nijjara.org/internal/session"
)

// ErrInvalidCredentials is returned for every login failure. Callers never
// learn whether the username, the password or the account state was wrong.
var ErrInvalidCredentials = errors.New("users: invalid credentials")

// ErrLastAdmin blocks removing or archiving the final active superuser.
var ErrLastAdmin = errors.New("users: cannot remove the last active admin")

// Config carries the deployment-tunable policy knobs.
type Config struct {
	// DeletePermission gates archive-delete. Defaults to DELETE_USER.
	DeletePermission access.Permission
}

func (c Config) deletePermission() access.Permission {
	if c.DeletePermission != "" {
		return c.DeletePermission
	}
	return access.PermDeleteUser
}

// Listener receives lifecycle notifications after successful mutations.
// Notifications are best-effort; a listener cannot veto or roll back.
type Listener interface {
	UserCreated(ctx context.Context, u identity.User)
	UserUpdated(ctx context.Context, u identity.User)
	UserDeleted(ctx context.Context, userID string)
}

// Service wires the identity store, permission evaluator, session manager
// and audit recorder into the lifecycle operations.
type Service struct {
	cfg      Config
	store    *identity.Store
	catalog  *access.Catalog
	eval     *access.Evaluator
	sessions *session.Manager
	recorder *audit.Recorder
	listener Listener
	now      func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithListener attaches a lifecycle listener.
func WithListener(l Listener) ServiceOption {
	return func(s *Service) { s.listener = l }
}

// WithClock overrides the time source.
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the lifecycle service.
func NewService(cfg Config, store *identity.Store, catalog *access.Catalog, eval *access.Evaluator, sessions *session.Manager, recorder *audit.Recorder, opts ...ServiceOption) *Service {
	s := &Service{
		cfg:      cfg,
		store:    store,
		catalog:  catalog,
		eval:     eval,
		sessions: sessions,
		recorder: recorder,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// require evaluates the permission and converts a deny into
// access.ErrPermissionDenied.
func (s *Service) require(ctx context.Context, actorID string, perm access.Permission, pc access.Context) error {
	ok, err := s.eval.Allowed(ctx, actorID, perm, pc)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", access.ErrPermissionDenied, perm)
	}
	return nil
}

// Directory lists users the actor may see. GLOBAL and LIMITED viewers see
// everyone, DEPARTMENT viewers see their own department and SELF viewers see
// only themselves.
func (s *Service) Directory(ctx context.Context, actorID string, f identity.Filter) ([]identity.User, error) {
	actor, err := s.store.GetUser(ctx, actorID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", access.ErrPermissionDenied, access.PermViewUsers)
		}
		return nil, err
	}
	if !actor.Active {
		return nil, fmt.Errorf("%w: %s", access.ErrPermissionDenied, access.PermViewUsers)
	}
	if actor.RoleID != identity.AdminRoleID {
		grant, found, err := s.catalog.Grant(ctx, actor.RoleID, access.PermViewUsers)
		if err != nil {
			return nil, err
		}
		if !found || !grant.Allowed {
			return nil, fmt.Errorf("%w: %s", access.ErrPermissionDenied, access.PermViewUsers)
		}
		switch grant.Scope {
		case access.ScopeDepartment:
			f.Department = actor.Department
		case access.ScopeSelf:
			u, err := s.store.GetUser(ctx, actorID)
			if err != nil {
				return nil, err
			}
			return []identity.User{u}, nil
		}
	}
	return s.store.ListUsers(ctx, f)
}

// Profile is the detail view of one user: the account row plus its role,
// grants, properties, sessions and recent audit trail.
type Profile struct {
	User       identity.User       `json:"user"`
	Role       identity.Role       `json:"role"`
	Grants     []access.Grant      `json:"grants,omitempty"`
	Properties []identity.Property `json:"properties,omitempty"`
	Sessions   []session.Session   `json:"sessions,omitempty"`
	Trail      []audit.Entry       `json:"trail,omitempty"`
}

// GetProfile returns one user with role, properties and sessions, gated on
// VIEW_USERS against that target.
func (s *Service) GetProfile(ctx context.Context, actorID, userID string) (Profile, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	// Self-view is always allowed; everything else goes through the matrix.
	if actorID != userID {
		if err := s.require(ctx, actorID, access.PermViewUsers, access.Context{
			TargetUserID: userID, TargetDepartment: u.Department,
		}); err != nil {
			return Profile{}, err
		}
	}
	role, err := s.store.GetRole(ctx, u.RoleID)
	if err != nil && !errors.Is(err, identity.ErrNotFound) {
		return Profile{}, err
	}
	grants, err := s.catalog.Grants(ctx, u.RoleID)
	if err != nil {
		return Profile{}, err
	}
	props, err := s.store.Properties(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	sessions, err := s.sessions.ListForUser(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	trail, err := s.recorder.UserTrail(ctx, userID, 20)
	if err != nil {
		return Profile{}, err
	}
	return Profile{User: u, Role: role, Grants: grants, Properties: props, Sessions: sessions, Trail: trail}, nil
}

// Export returns the full directory for download and audits the export.
func (s *Service) Export(ctx context.Context, actorID string) ([]identity.User, error) {
	if err := s.require(ctx, actorID, access.PermExportUsers, access.Context{}); err != nil {
		return nil, err
	}
	users, err := s.store.ListUsers(ctx, identity.Filter{})
	if err != nil {
		return nil, err
	}
	if err := s.recorder.Record(ctx, audit.Event{
		ActorID: actorID,
		Sheet:   identity.UsersSheet,
		Action:  "EXPORT",
		Details: map[string]any{"count": len(users)},
	}); err != nil {
		return nil, err
	}
	return users, nil
}

// Overview returns the dashboard summary, gated on VIEW_USERS.
func (s *Service) Overview(ctx context.Context, actorID string) (identity.Overview, error) {
	if err := s.require(ctx, actorID, access.PermViewUsers, access.Context{}); err != nil {
		return identity.Overview{}, err
	}
	return s.store.BuildOverview(ctx)
}

// AuditTrail returns compact audit entries, gated on VIEW_AUDIT.
func (s *Service) AuditTrail(ctx context.Context, actorID string, f audit.Filter) ([]audit.Entry, error) {
	if err := s.require(ctx, actorID, access.PermViewAudit, access.Context{}); err != nil {
		return nil, err
	}
	return s.recorder.Logs(ctx, f)
}

// AuditReports returns report feed entries, gated on VIEW_AUDIT.
func (s *Service) AuditReports(ctx context.Context, actorID string, limit int) ([]audit.ReportEntry, error) {
	if err := s.require(ctx, actorID, access.PermViewAudit, access.Context{}); err != nil {
		return nil, err
	}
	return s.recorder.Reports(ctx, limit)
}

// UserTrail returns one user's audit trail, gated on VIEW_AUDIT.
func (s *Service) UserTrail(ctx context.Context, actorID, userID string, limit int) ([]audit.Entry, error) {
	if err := s.require(ctx, actorID, access.PermViewAudit, access.Context{}); err != nil {
		return nil, err
	}
	return s.recorder.UserTrail(ctx, userID, limit)
}

// Roles lists all roles, gated on VIEW_USERS.
func (s *Service) Roles(ctx context.Context, actorID string) ([]identity.Role, error) {
	if err := s.require(ctx, actorID, access.PermViewUsers, access.Context{}); err != nil {
		return nil, err
	}
	return s.store.ListRoles(ctx)
}

// CreateRole adds a custom role. Superuser only; seeded system roles are
// created by bootstrap, not through this path.
func (s *Service) CreateRole(ctx context.Context, actorID string, role identity.Role) (identity.Role, error) {
	if err := s.requireAdmin(ctx, actorID); err != nil {
		return identity.Role{}, err
	}
	role.System = false
	role, err := s.store.CreateRole(ctx, role, actorID)
	if err != nil {
		return identity.Role{}, err
	}
	if err := s.recorder.Record(ctx, audit.Event{
		ActorID:  actorID,
		Sheet:    identity.RolesSheet,
		Action:   "CREATE",
		TargetID: role.ID,
		Details:  map[string]any{"title": role.Title},
		Entity:   "Role",
		Summary:  fmt.Sprintf("Created role %s", role.Title),
	}); err != nil {
		return identity.Role{}, err
	}
	return role, nil
}

// PermissionMatrix returns every grant row. Superuser only.
func (s *Service) PermissionMatrix(ctx context.Context, actorID string) ([]access.Grant, error) {
	if err := s.requireAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	return s.catalog.Matrix(ctx)
}

// SetGrant writes one grant row. Superuser only.
func (s *Service) SetGrant(ctx context.Context, actorID, roleID string, perm access.Permission, scope access.Scope, allowed bool) error {
	if err := s.requireAdmin(ctx, actorID); err != nil {
		return err
	}
	if err := s.catalog.Set(ctx, roleID, perm, scope, allowed, actorID); err != nil {
		return err
	}
	return s.recorder.Record(ctx, audit.Event{
		ActorID:  actorID,
		Sheet:    access.GrantsSheet,
		Action:   "SET_GRANT",
		TargetID: roleID,
		Details:  map[string]any{"permission": string(perm), "scope": string(scope), "allowed": allowed},
		Entity:   "Role",
		Summary:  fmt.Sprintf("Changed %s grant for role %s", perm, roleID),
	})
}

// CloneRoleGrants copies the source role's grants onto the target role.
// Superuser only.
func (s *Service) CloneRoleGrants(ctx context.Context, actorID, sourceRoleID, targetRoleID string) (int, error) {
	if err := s.requireAdmin(ctx, actorID); err != nil {
		return 0, err
	}
	n, err := s.catalog.Clone(ctx, sourceRoleID, targetRoleID, actorID)
	if err != nil {
		return n, err
	}
	return n, s.recorder.Record(ctx, audit.Event{
		ActorID:  actorID,
		Sheet:    access.GrantsSheet,
		Action:   "CLONE_GRANTS",
		TargetID: targetRoleID,
		Details:  map[string]any{"source": sourceRoleID, "cloned": n},
	})
}

// PermissionCatalog lists the permission directory, gated on VIEW_USERS.
func (s *Service) PermissionCatalog(ctx context.Context, actorID string) ([]access.CatalogEntry, error) {
	if err := s.require(ctx, actorID, access.PermViewUsers, access.Context{}); err != nil {
		return nil, err
	}
	return s.catalog.ListCatalog(ctx)
}

// requireAdmin gates matrix management on the hard-coded superuser role.
func (s *Service) requireAdmin(ctx context.Context, actorID string) error {
	actor, err := s.store.GetUser(ctx, actorID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return fmt.Errorf("%w: matrix management", access.ErrPermissionDenied)
		}
		return err
	}
	if !actor.Active || actor.RoleID != identity.AdminRoleID {
		return fmt.Errorf("%w: matrix management", access.ErrPermissionDenied)
	}
	return nil
}

func (s *Service) notifyCreated(ctx context.Context, u identity.User) {
	if s.listener != nil {
		s.listener.UserCreated(ctx, u)
	}
}

func (s *Service) notifyUpdated(ctx context.Context, u identity.User) {
	if s.listener != nil {
		s.listener.UserUpdated(ctx, u)
	}
}

func (s *Service) notifyDeleted(ctx context.Context, userID string) {
	if s.listener != nil {
		s.listener.UserDeleted(ctx, userID)
	}
}
