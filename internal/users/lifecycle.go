package users

import (
	"context"
	"fmt"
	"time"

	"nijjara.org/internal/access"
	"nijjara.org/internal/audit"
	"nijjara.org/internal/identity"
	"nijjara.org/internal/obs"
	"nijjara.org/internal/session"
)

// CreateInput is the request for CreateUser. When Password is empty a
// temporary one is generated and returned exactly once.
type CreateInput struct {
	FullName   string
	Username   string
	Email      string
	JobTitle   string
	Department string
	RoleID     string
	Password   string
	ExternalID string
	MFAEnabled bool
	Notes      string
}

// CreateUser creates an active user. Assigning the superuser role at
// creation additionally requires ASSIGN_ROLE against that role, so a
// LIMITED grant cannot mint admins through the create path.
func (s *Service) CreateUser(ctx context.Context, actorID string, in CreateInput) (u identity.User, tempPassword string, err error) {
	defer func() { obs.LifecycleOp("create", err) }()

	if err = s.require(ctx, actorID, access.PermCreateUser, access.Context{}); err != nil {
		return identity.User{}, "", err
	}
	if in.RoleID == identity.AdminRoleID {
		if err = s.require(ctx, actorID, access.PermAssignRole, access.Context{NewRoleID: in.RoleID}); err != nil {
			return identity.User{}, "", err
		}
	}

	password := in.Password
	mustChange := false
	if password == "" {
		password = identity.TemporaryPassword()
		tempPassword = password
		mustChange = true
	}

	u, err = s.store.CreateUser(ctx, identity.NewUser{
		FullName:     in.FullName,
		Username:     in.Username,
		Email:        in.Email,
		JobTitle:     in.JobTitle,
		Department:   in.Department,
		RoleID:       in.RoleID,
		Active:       true,
		PasswordHash: identity.HashPassword(password),
		ExternalID:   in.ExternalID,
		MFAEnabled:   in.MFAEnabled,
		Notes:        in.Notes,
	}, actorID)
	if err != nil {
		return identity.User{}, "", err
	}
	if mustChange {
		if err = s.store.SetProperty(ctx, u.ID, identity.PropMustChange, "TRUE", actorID); err != nil {
			return identity.User{}, "", err
		}
	}
	if err = s.recorder.Record(ctx, audit.Event{
		ActorID:  actorID,
		Sheet:    identity.UsersSheet,
		Action:   "CREATE",
		TargetID: u.ID,
		Details:  map[string]any{"username": u.Username, "role": u.RoleID},
		Entity:   "User",
		Summary:  fmt.Sprintf("Created user %s (%s)", u.FullName, u.Username),
	}); err != nil {
		return identity.User{}, "", err
	}
	s.notifyCreated(ctx, u)
	return u, tempPassword, nil
}

// Update is a sparse patch for UpdateUser; nil fields are untouched.
type Update struct {
	FullName   *string
	Username   *string
	Email      *string
	JobTitle   *string
	Department *string
	RoleID     *string
	Active     *bool
	MFAEnabled *bool
	Notes      *string
}

// UpdateUser applies a sparse patch, audits the changed fields, and runs
// the role-change and deactivation cascades when those fields move.
func (s *Service) UpdateUser(ctx context.Context, actorID, userID string, patch Update) (u identity.User, err error) {
	defer func() { obs.LifecycleOp("update", err) }()

	u, err = s.store.GetUser(ctx, userID)
	if err != nil {
		return identity.User{}, err
	}
	if err = s.require(ctx, actorID, access.PermEditUser, access.Context{
		TargetUserID: userID, TargetDepartment: u.Department,
	}); err != nil {
		return identity.User{}, err
	}

	changed := map[string]any{}
	if patch.FullName != nil && *patch.FullName != u.FullName {
		changed["Full_Name"] = *patch.FullName
		u.FullName = *patch.FullName
	}
	if patch.Username != nil && identity.NormalizeUsername(*patch.Username) != u.Username {
		// SaveUser re-checks uniqueness against every other row.
		changed["Username"] = identity.NormalizeUsername(*patch.Username)
		u.Username = *patch.Username
	}
	if patch.Email != nil && identity.NormalizeEmail(*patch.Email) != u.Email {
		changed["Email"] = identity.NormalizeEmail(*patch.Email)
		u.Email = *patch.Email
	}
	if patch.JobTitle != nil && *patch.JobTitle != u.JobTitle {
		changed["Job_Title"] = *patch.JobTitle
		u.JobTitle = *patch.JobTitle
	}
	if patch.Department != nil && *patch.Department != u.Department {
		changed["Department"] = *patch.Department
		u.Department = *patch.Department
	}
	if patch.MFAEnabled != nil && *patch.MFAEnabled != u.MFAEnabled {
		changed["MFA_Enabled"] = *patch.MFAEnabled
		u.MFAEnabled = *patch.MFAEnabled
	}
	if patch.Notes != nil && *patch.Notes != u.Notes {
		changed["Notes"] = *patch.Notes
		u.Notes = *patch.Notes
	}

	oldRole := u.RoleID
	if patch.RoleID != nil && *patch.RoleID != u.RoleID {
		if err = s.require(ctx, actorID, access.PermAssignRole, access.Context{
			TargetUserID: userID, NewRoleID: *patch.RoleID,
		}); err != nil {
			return identity.User{}, err
		}
		if *patch.RoleID != identity.AdminRoleID {
			if err = s.ensureNotLastAdmin(ctx, u); err != nil {
				return identity.User{}, err
			}
		}
		changed["Role_Id"] = *patch.RoleID
		u.RoleID = *patch.RoleID
	}

	deactivating := false
	if patch.Active != nil && *patch.Active != u.Active {
		if err = s.require(ctx, actorID, access.PermDeactivateUser, access.Context{
			TargetUserID: userID, TargetDepartment: u.Department,
		}); err != nil {
			return identity.User{}, err
		}
		if !*patch.Active {
			if err = s.ensureNotLastAdmin(ctx, u); err != nil {
				return identity.User{}, err
			}
		}
		changed["IsActive"] = *patch.Active
		u.Active = *patch.Active
		if u.Active {
			u.DisabledAt, u.DisabledBy = "", ""
		} else {
			deactivating = true
			u.DisabledAt = formatISO(s.clock())
			u.DisabledBy = actorID
			u.LastLogin = ""
		}
	}

	if len(changed) == 0 {
		return u, nil
	}
	u, err = s.store.SaveUser(ctx, u, actorID)
	if err != nil {
		return identity.User{}, err
	}

	if err = s.recorder.Record(ctx, audit.Event{
		ActorID:  actorID,
		Sheet:    identity.UsersSheet,
		Action:   "EDIT",
		TargetID: u.ID,
		Details:  changed,
	}); err != nil {
		return identity.User{}, err
	}
	if newRole, ok := changed["Role_Id"]; ok {
		if err = s.recorder.Record(ctx, audit.Event{
			ActorID:  actorID,
			Sheet:    identity.UsersSheet,
			Action:   "ROLE_CHANGE",
			TargetID: u.ID,
			Details:  map[string]any{"old": oldRole, "new": newRole},
			Entity:   "User",
			Summary:  fmt.Sprintf("Changed role of %s from %s to %v", u.Username, oldRole, newRole),
		}); err != nil {
			return identity.User{}, err
		}
	}
	if deactivating {
		if err = s.revokeSessions(ctx, actorID, u.ID); err != nil {
			return identity.User{}, err
		}
	}
	s.notifyUpdated(ctx, u)
	return u, nil
}

// SetUserStatus activates or deactivates a user with an optional reason.
// Deactivation revokes every live session of the target.
func (s *Service) SetUserStatus(ctx context.Context, actorID, userID string, active bool, reason string) (err error) {
	defer func() { obs.LifecycleOp("set_status", err) }()

	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if err = s.require(ctx, actorID, access.PermDeactivateUser, access.Context{
		TargetUserID: userID, TargetDepartment: u.Department,
	}); err != nil {
		return err
	}
	if u.Active == active {
		return nil
	}
	if !active {
		if err = s.ensureNotLastAdmin(ctx, u); err != nil {
			return err
		}
	}

	u.Active = active
	action := "ACTIVATE"
	if active {
		u.DisabledAt, u.DisabledBy = "", ""
	} else {
		action = "DEACTIVATE"
		u.DisabledAt = formatISO(s.clock())
		u.DisabledBy = actorID
		u.LastLogin = ""
	}
	if u, err = s.store.SaveUser(ctx, u, actorID); err != nil {
		return err
	}
	if reason != "" {
		if err = s.store.SetProperty(ctx, userID, identity.PropLastStatusReason, reason, actorID); err != nil {
			return err
		}
	}
	if err = s.recorder.Record(ctx, audit.Event{
		ActorID:  actorID,
		Sheet:    identity.UsersSheet,
		Action:   action,
		TargetID: userID,
		Details:  map[string]any{"reason": reason},
		Entity:   "User",
		Summary:  fmt.Sprintf("%sd user %s", titleCase(action), u.Username),
	}); err != nil {
		return err
	}
	if !active {
		if err = s.revokeSessions(ctx, actorID, userID); err != nil {
			return err
		}
	}
	s.notifyUpdated(ctx, u)
	return nil
}

// DeleteUser archives a user: deactivate, flag IsArchived, keep the row.
// The last active superuser can never be archived.
func (s *Service) DeleteUser(ctx context.Context, actorID, userID, note string) (err error) {
	defer func() { obs.LifecycleOp("delete", err) }()

	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if err = s.require(ctx, actorID, s.cfg.deletePermission(), access.Context{
		TargetUserID: userID, TargetDepartment: u.Department,
	}); err != nil {
		return err
	}
	if err = s.ensureNotLastAdmin(ctx, u); err != nil {
		return err
	}

	if u.Active {
		u.Active = false
		u.DisabledAt = formatISO(s.clock())
		u.DisabledBy = actorID
		u.LastLogin = ""
		if u, err = s.store.SaveUser(ctx, u, actorID); err != nil {
			return err
		}
	}
	if err = s.store.SetProperty(ctx, userID, identity.PropArchived, "TRUE", actorID); err != nil {
		return err
	}
	if note != "" {
		if err = s.store.SetProperty(ctx, userID, identity.PropArchiveNote, note, actorID); err != nil {
			return err
		}
	}
	if err = s.recorder.Record(ctx, audit.Event{
		ActorID:  actorID,
		Sheet:    identity.UsersSheet,
		Action:   "DELETE",
		TargetID: userID,
		Details:  map[string]any{"note": note},
		Entity:   "User",
		Summary:  fmt.Sprintf("Archived user %s", u.Username),
	}); err != nil {
		return err
	}
	if err = s.revokeSessions(ctx, actorID, userID); err != nil {
		return err
	}
	s.notifyDeleted(ctx, userID)
	return nil
}

// ResetUserPassword sets the user's password to newPassword, or to a fresh
// temporary one when newPassword is empty. Either way the user must change
// it on next login; the plaintext is returned exactly once.
func (s *Service) ResetUserPassword(ctx context.Context, actorID, userID, newPassword string) (plaintext string, err error) {
	defer func() { obs.LifecycleOp("reset_password", err) }()

	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if err = s.require(ctx, actorID, access.PermResetPassword, access.Context{
		TargetUserID: userID, TargetDepartment: u.Department,
	}); err != nil {
		return "", err
	}

	plaintext = newPassword
	if plaintext == "" {
		plaintext = identity.TemporaryPassword()
	}
	u.PasswordHash = identity.HashPassword(plaintext)
	if _, err = s.store.SaveUser(ctx, u, actorID); err != nil {
		return "", err
	}
	if err = s.store.SetProperty(ctx, userID, identity.PropMustChange, "TRUE", actorID); err != nil {
		return "", err
	}
	if err = s.recorder.Record(ctx, audit.Event{
		ActorID:  actorID,
		Sheet:    identity.UsersSheet,
		Action:   "RESET_PASSWORD",
		TargetID: userID,
		Entity:   "User",
		Summary:  fmt.Sprintf("Reset password for %s", u.Username),
	}); err != nil {
		return "", err
	}
	return plaintext, nil
}

// AssignRoleToUser moves the user onto a new role. effectiveFrom is
// recorded in the audit detail but never enforced; role changes always
// apply immediately. When empty, the current time is stamped instead.
func (s *Service) AssignRoleToUser(ctx context.Context, actorID, userID, roleID, effectiveFrom string) (err error) {
	defer func() { obs.LifecycleOp("assign_role", err) }()

	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if err = s.require(ctx, actorID, access.PermAssignRole, access.Context{
		TargetUserID: userID, TargetDepartment: u.Department, NewRoleID: roleID,
	}); err != nil {
		return err
	}
	if u.RoleID == roleID {
		return nil
	}
	if roleID != identity.AdminRoleID {
		if err = s.ensureNotLastAdmin(ctx, u); err != nil {
			return err
		}
	}
	oldRole := u.RoleID
	u.RoleID = roleID
	if u, err = s.store.SaveUser(ctx, u, actorID); err != nil {
		return err
	}
	if effectiveFrom == "" {
		effectiveFrom = formatISO(s.clock())
	}
	if err = s.recorder.Record(ctx, audit.Event{
		ActorID:  actorID,
		Sheet:    identity.UsersSheet,
		Action:   "ROLE_CHANGE",
		TargetID: userID,
		Details:  map[string]any{"old": oldRole, "new": roleID, "effective_from": effectiveFrom},
		Entity:   "User",
		Summary:  fmt.Sprintf("Changed role of %s from %s to %s", u.Username, oldRole, roleID),
	}); err != nil {
		return err
	}
	s.notifyUpdated(ctx, u)
	return nil
}

// BulkResult reports the outcome of a bulk role assignment: the ids that
// moved and the per-id failures.
type BulkResult struct {
	Updated []string          `json:"updated"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// BulkAssignRole assigns a role to many users, continuing past individual
// failures and reporting them per user id.
func (s *Service) BulkAssignRole(ctx context.Context, actorID string, userIDs []string, roleID string) (BulkResult, error) {
	res := BulkResult{Updated: []string{}, Errors: map[string]string{}}
	for _, id := range userIDs {
		if err := s.AssignRoleToUser(ctx, actorID, id, roleID, ""); err != nil {
			res.Errors[id] = err.Error()
			continue
		}
		res.Updated = append(res.Updated, id)
	}
	if len(res.Errors) == 0 {
		res.Errors = nil
	}
	return res, nil
}

// ImpersonateUserSession opens a tagged session on behalf of another user.
// The duration hint is advisory metadata; nothing enforces it server-side.
func (s *Service) ImpersonateUserSession(ctx context.Context, actorID, targetID string, duration time.Duration, reason string) (sess session.Session, err error) {
	defer func() { obs.LifecycleOp("impersonate", err) }()

	target, err := s.store.GetUser(ctx, targetID)
	if err != nil {
		return session.Session{}, err
	}
	if err = s.require(ctx, actorID, access.PermImpersonate, access.Context{
		TargetUserID: targetID, TargetDepartment: target.Department,
	}); err != nil {
		return session.Session{}, err
	}
	if !target.Active {
		return session.Session{}, fmt.Errorf("%w: user %s is inactive", identity.ErrConflict, targetID)
	}

	hint := ""
	if duration > 0 {
		hint = formatISO(s.clock().Add(duration))
	}
	// The manager mints an opaque token; the actor link lives only in the
	// audit row and the Last_Impersonated_By property, never in the
	// credential itself.
	sess, err = s.sessions.Create(ctx, session.New{
		UserID:      targetID,
		Device:      session.DeviceImpersonation,
		ExpiresHint: hint,
	})
	if err != nil {
		return session.Session{}, err
	}
	if err = s.store.SetProperty(ctx, targetID, identity.PropLastImpersonatedBy, actorID, actorID); err != nil {
		return session.Session{}, err
	}
	if err = s.recorder.Record(ctx, audit.Event{
		ActorID:  actorID,
		Sheet:    session.Sheet,
		Action:   "IMPERSONATE",
		TargetID: targetID,
		Details:  map[string]any{"session": sess.ID, "expires_hint": hint, "reason": reason},
		Entity:   "User",
		Summary:  fmt.Sprintf("Impersonated %s", target.Username),
	}); err != nil {
		return session.Session{}, err
	}
	return sess, nil
}

// ensureNotLastAdmin blocks removing the final active superuser, whether by
// deactivation, archiving or moving it off the Admin role. No-op for anyone
// who is not an active admin.
func (s *Service) ensureNotLastAdmin(ctx context.Context, u identity.User) error {
	if u.RoleID != identity.AdminRoleID || !u.Active {
		return nil
	}
	n, err := s.store.CountActiveByRole(ctx, identity.AdminRoleID)
	if err != nil {
		return err
	}
	if n <= 1 {
		return ErrLastAdmin
	}
	return nil
}

// revokeSessions revokes all live sessions of the user and audits the count.
func (s *Service) revokeSessions(ctx context.Context, actorID, userID string) error {
	n, err := s.sessions.RevokeAllForUser(ctx, userID, actorID)
	if err != nil {
		return err
	}
	return s.recorder.Record(ctx, audit.Event{
		ActorID:  actorID,
		Sheet:    session.Sheet,
		Action:   "REVOKE_USER_SESSIONS",
		TargetID: userID,
		Details:  map[string]any{"revoked": n},
	})
}

func titleCase(action string) string {
	switch action {
	case "ACTIVATE":
		return "Activate"
	case "DEACTIVATE":
		return "Deactivate"
	}
	return action
}

func formatISO(t time.Time) string { return t.Format(time.RFC3339) }

// clock returns the service time source, defaulting to time.Now.
func (s *Service) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}
