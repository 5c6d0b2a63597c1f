package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"nijjara.org/internal/ids"
	"nijjara.org/internal/tabular"
)

// Store persists users, roles and user properties on the tabular backend.
type Store struct {
	tab tabular.Store
	now func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) StoreOption {
	return func(s *Store) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewStore constructs a Store over a tabular backend.
func NewStore(tab tabular.Store, opts ...StoreOption) *Store {
	s := &Store{tab: tab, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureSchemas registers the identity sheets.
func (s *Store) EnsureSchemas(ctx context.Context) error {
	for sheet, headers := range map[string][]string{
		UsersSheet:      userHeaders,
		RolesSheet:      roleHeaders,
		PropertiesSheet: propertyHeaders,
	} {
		if err := s.tab.EnsureSchema(ctx, sheet, headers); err != nil {
			return fmt.Errorf("ensure %s: %w", sheet, err)
		}
	}
	return nil
}

// NewUser is the input for CreateUser. The password hash (if any) is
// prepared by the caller; the store never sees plaintext credentials.
type NewUser struct {
	FullName     string
	Username     string
	Email        string
	JobTitle     string
	Department   string
	RoleID       string
	Active       bool
	PasswordHash string
	ExternalID   string
	MFAEnabled   bool
	Notes        string
}

// CreateUser validates, normalizes and appends a new user row, assigning the
// next USR_xxxxx id. Uniqueness of username and email is case-insensitive.
func (s *Store) CreateUser(ctx context.Context, in NewUser, actor string) (User, error) {
	username := NormalizeUsername(in.Username)
	email := NormalizeEmail(in.Email)

	if strings.TrimSpace(in.FullName) == "" {
		return User{}, invalid("Full_Name", "required")
	}
	if username == "" {
		return User{}, invalid("Username", "required")
	}
	if email == "" {
		return User{}, invalid("Email", "required")
	}
	if !ValidEmail(email) {
		return User{}, invalid("Email", "malformed address")
	}
	if in.RoleID == "" {
		return User{}, invalid("Role_Id", "required")
	}
	if _, err := s.GetRole(ctx, in.RoleID); err != nil {
		return User{}, fmt.Errorf("role %s: %w", in.RoleID, err)
	}
	if err := s.ensureUniqueField(ctx, "Email", email, ""); err != nil {
		return User{}, err
	}
	if err := s.ensureUniqueField(ctx, "Username", username, ""); err != nil {
		return User{}, err
	}

	seq, err := s.tab.NextSequence(ctx, "USR", UsersSheet)
	if err != nil {
		return User{}, err
	}
	now := formatISO(s.now())
	u := User{
		ID:           ids.Format("USR", seq),
		FullName:     in.FullName,
		Username:     username,
		Email:        email,
		JobTitle:     in.JobTitle,
		Department:   in.Department,
		RoleID:       in.RoleID,
		Active:       in.Active,
		PasswordHash: in.PasswordHash,
		CreatedAt:    now,
		CreatedBy:    actor,
		UpdatedAt:    now,
		UpdatedBy:    actor,
		ExternalID:   in.ExternalID,
		MFAEnabled:   in.MFAEnabled,
		Notes:        in.Notes,
	}
	if err := s.tab.AppendRow(ctx, UsersSheet, userRecord(u)); err != nil {
		return User{}, err
	}
	return u, nil
}

// GetUser resolves a user by id.
func (s *Store) GetUser(ctx context.Context, id string) (User, error) {
	if id == "" {
		return User{}, ErrNotFound
	}
	rows, err := s.tab.ListRows(ctx, UsersSheet)
	if err != nil {
		return User{}, err
	}
	for _, rec := range rows {
		if rec["User_Id"] == id {
			return userFromRecord(rec), nil
		}
	}
	return User{}, ErrNotFound
}

// FindByUsername resolves a user by normalized username.
func (s *Store) FindByUsername(ctx context.Context, username string) (User, error) {
	username = NormalizeUsername(username)
	if username == "" {
		return User{}, ErrNotFound
	}
	rows, err := s.tab.ListRows(ctx, UsersSheet)
	if err != nil {
		return User{}, err
	}
	for _, rec := range rows {
		if NormalizeUsername(rec["Username"]) == username {
			return userFromRecord(rec), nil
		}
	}
	return User{}, ErrNotFound
}

// FindByEmail resolves a user by normalized email.
func (s *Store) FindByEmail(ctx context.Context, email string) (User, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return User{}, ErrNotFound
	}
	rows, err := s.tab.ListRows(ctx, UsersSheet)
	if err != nil {
		return User{}, err
	}
	for _, rec := range rows {
		if NormalizeEmail(rec["Email"]) == email {
			return userFromRecord(rec), nil
		}
	}
	return User{}, ErrNotFound
}

// Filter narrows ListUsers results.
type Filter struct {
	Active     *bool
	RoleID     string
	Department string
	Search     string
}

// ListUsers returns users in sheet order, optionally filtered.
func (s *Store) ListUsers(ctx context.Context, f Filter) ([]User, error) {
	rows, err := s.tab.ListRows(ctx, UsersSheet)
	if err != nil {
		return nil, err
	}
	var out []User
	for _, rec := range rows {
		u := userFromRecord(rec)
		if f.Active != nil && u.Active != *f.Active {
			continue
		}
		if f.RoleID != "" && u.RoleID != f.RoleID {
			continue
		}
		if f.Department != "" && u.Department != f.Department {
			continue
		}
		if f.Search != "" {
			needle := strings.ToLower(f.Search)
			if !strings.Contains(strings.ToLower(u.FullName), needle) &&
				!strings.Contains(strings.ToLower(u.Email), needle) &&
				!strings.Contains(strings.ToLower(u.Username), needle) {
				continue
			}
		}
		out = append(out, u)
	}
	return out, nil
}

// SaveUser writes back a full user record, re-validating changed identity
// fields against the rest of the sheet (excluding the user's own row) and
// stamping the update audit columns.
func (s *Store) SaveUser(ctx context.Context, u User, actor string) (User, error) {
	if u.ID == "" {
		return User{}, ErrNotFound
	}
	u.Username = NormalizeUsername(u.Username)
	u.Email = NormalizeEmail(u.Email)
	if !ValidEmail(u.Email) {
		return User{}, invalid("Email", "malformed address")
	}
	if err := s.ensureUniqueField(ctx, "Email", u.Email, u.ID); err != nil {
		return User{}, err
	}
	if err := s.ensureUniqueField(ctx, "Username", u.Username, u.ID); err != nil {
		return User{}, err
	}
	if _, err := s.GetRole(ctx, u.RoleID); err != nil {
		return User{}, fmt.Errorf("role %s: %w", u.RoleID, err)
	}

	u.UpdatedAt = formatISO(s.now())
	u.UpdatedBy = actor
	ok, err := s.tab.UpdateRowByKey(ctx, UsersSheet, "User_Id", u.ID, userRecord(u))
	if err != nil {
		return User{}, err
	}
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

// CountActiveByRole counts active users holding the given role.
func (s *Store) CountActiveByRole(ctx context.Context, roleID string) (int, error) {
	active := true
	users, err := s.ListUsers(ctx, Filter{Active: &active, RoleID: roleID})
	if err != nil {
		return 0, err
	}
	return len(users), nil
}

func (s *Store) ensureUniqueField(ctx context.Context, field, value, excludeID string) error {
	rows, err := s.tab.ListRows(ctx, UsersSheet)
	if err != nil {
		return err
	}
	for _, rec := range rows {
		if excludeID != "" && rec["User_Id"] == excludeID {
			continue
		}
		existing := rec[field]
		if field == "Email" {
			existing = NormalizeEmail(existing)
		} else {
			existing = NormalizeUsername(existing)
		}
		if existing == value {
			return fmt.Errorf("%s %q already exists: %w", strings.ToLower(field), value, ErrConflict)
		}
	}
	return nil
}

// Roles ---------------------------------------------------------------------

// CreateRole appends a role row, assigning a ROL_xxxxx id when none given.
func (s *Store) CreateRole(ctx context.Context, r Role, actor string) (Role, error) {
	if strings.TrimSpace(r.Title) == "" {
		return Role{}, invalid("Role_Title", "required")
	}
	if r.ID == "" {
		seq, err := s.tab.NextSequence(ctx, "ROL", RolesSheet)
		if err != nil {
			return Role{}, err
		}
		r.ID = ids.Format("ROL", seq)
	}
	if _, err := s.GetRole(ctx, r.ID); err == nil {
		return Role{}, fmt.Errorf("role %q already exists: %w", r.ID, ErrConflict)
	}
	now := formatISO(s.now())
	r.CreatedAt, r.CreatedBy = now, actor
	r.UpdatedAt, r.UpdatedBy = now, actor
	if err := s.tab.AppendRow(ctx, RolesSheet, roleRecord(r)); err != nil {
		return Role{}, err
	}
	return r, nil
}

// GetRole resolves a role by id.
func (s *Store) GetRole(ctx context.Context, roleID string) (Role, error) {
	if roleID == "" {
		return Role{}, ErrNotFound
	}
	rows, err := s.tab.ListRows(ctx, RolesSheet)
	if err != nil {
		return Role{}, err
	}
	for _, rec := range rows {
		if rec["Role_Id"] == roleID {
			return roleFromRecord(rec), nil
		}
	}
	return Role{}, ErrNotFound
}

// ListRoles returns all roles.
func (s *Store) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := s.tab.ListRows(ctx, RolesSheet)
	if err != nil {
		return nil, err
	}
	out := make([]Role, 0, len(rows))
	for _, rec := range rows {
		out = append(out, roleFromRecord(rec))
	}
	return out, nil
}

// Properties ----------------------------------------------------------------

// SetProperty upserts a (user, key, value) property row.
func (s *Store) SetProperty(ctx context.Context, userID, key, value, actor string) error {
	if userID == "" || key == "" {
		return invalid("Property_Key", "user id and key are required")
	}
	now := formatISO(s.now())
	ok, err := s.tab.UpdateRowMatching(ctx, PropertiesSheet,
		tabular.Record{"User_Id": userID, "Property_Key": key},
		tabular.Record{"Property_Value": value, "Updated_At": now, "Updated_By": actor},
	)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return s.tab.AppendRow(ctx, PropertiesSheet, tabular.Record{
		"User_Id":        userID,
		"Property_Key":   key,
		"Property_Value": value,
		"Created_At":     now,
		"Created_By":     actor,
		"Updated_At":     now,
		"Updated_By":     actor,
	})
}

// ClearProperty blanks a property value, keeping the row.
func (s *Store) ClearProperty(ctx context.Context, userID, key, actor string) error {
	now := formatISO(s.now())
	_, err := s.tab.UpdateRowMatching(ctx, PropertiesSheet,
		tabular.Record{"User_Id": userID, "Property_Key": key},
		tabular.Record{"Property_Value": "", "Updated_At": now, "Updated_By": actor},
	)
	return err
}

// Properties lists all properties, optionally scoped to one user.
func (s *Store) Properties(ctx context.Context, userID string) ([]Property, error) {
	rows, err := s.tab.ListRows(ctx, PropertiesSheet)
	if err != nil {
		return nil, err
	}
	var out []Property
	for _, rec := range rows {
		if userID != "" && rec["User_Id"] != userID {
			continue
		}
		out = append(out, propertyFromRecord(rec))
	}
	return out, nil
}

// PropertyValue returns the value for (user, key), empty when unset.
func (s *Store) PropertyValue(ctx context.Context, userID, key string) (string, error) {
	props, err := s.Properties(ctx, userID)
	if err != nil {
		return "", err
	}
	for _, p := range props {
		if p.Key == key {
			return p.Value, nil
		}
	}
	return "", nil
}

// Overview is the at-a-glance summary surfaced on login and dashboards.
type Overview struct {
	TotalUsers            int `json:"totalUsers"`
	ActiveUsers           int `json:"activeUsers"`
	InactiveUsers         int `json:"inactiveUsers"`
	LockedUsers           int `json:"lockedUsers"`
	Roles                 int `json:"roles"`
	PendingPasswordResets int `json:"pendingPasswordResets"`
}

// BuildOverview aggregates user, role and pending-reset counts.
func (s *Store) BuildOverview(ctx context.Context) (Overview, error) {
	users, err := s.ListUsers(ctx, Filter{})
	if err != nil {
		return Overview{}, err
	}
	var active int
	for _, u := range users {
		if u.Active {
			active++
		}
	}
	roles, err := s.ListRoles(ctx)
	if err != nil {
		return Overview{}, err
	}
	props, err := s.Properties(ctx, "")
	if err != nil {
		return Overview{}, err
	}
	var pending int
	for _, p := range props {
		if p.Key == PropMustChange && parseBool(p.Value) {
			pending++
		}
	}
	return Overview{
		TotalUsers:            len(users),
		ActiveUsers:           active,
		InactiveUsers:         len(users) - active,
		LockedUsers:           len(users) - active,
		Roles:                 len(roles),
		PendingPasswordResets: pending,
	}, nil
}
