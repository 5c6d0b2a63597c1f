package users

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"nijjara.org/internal/access"
	"nijjara.org/internal/audit"
	"nijjara.org/internal/identity"
	"nijjara.org/internal/session"
	"nijjara.org/internal/tabular"
)

type fixture struct {
	store    *identity.Store
	catalog  *access.Catalog
	sessions *session.Manager
	recorder *audit.Recorder
	svc      *Service
}

func newFixture(t *testing.T, opts ...ServiceOption) *fixture {
	t.Helper()
	ctx := context.Background()
	tab := tabular.NewMemory()
	store := identity.NewStore(tab)
	if err := store.EnsureSchemas(ctx); err != nil {
		t.Fatal(err)
	}
	catalog := access.NewCatalog(tab)
	if err := catalog.EnsureSeeded(ctx); err != nil {
		t.Fatal(err)
	}
	sessions := session.NewManager(tab)
	if err := sessions.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}
	recorder := audit.NewRecorder(tab)
	if err := recorder.EnsureSchemas(ctx); err != nil {
		t.Fatal(err)
	}
	for _, r := range []identity.Role{
		{ID: "Admin", Title: "Administrator", System: true},
		{ID: "HR_Manager", Title: "HR Manager", System: true},
		{ID: "Manager", Title: "Manager", System: true},
		{ID: "Basic_User", Title: "Basic User", System: true},
	} {
		if _, err := store.CreateRole(ctx, r, "SYSTEM"); err != nil {
			t.Fatal(err)
		}
	}
	eval := access.NewEvaluator(store, catalog)
	svc := NewService(Config{}, store, catalog, eval, sessions, recorder, opts...)
	return &fixture{store: store, catalog: catalog, sessions: sessions, recorder: recorder, svc: svc}
}

func (f *fixture) addUser(t *testing.T, username, roleID, dept string, active bool, password string) identity.User {
	t.Helper()
	u, err := f.store.CreateUser(context.Background(), identity.NewUser{
		FullName:     username,
		Username:     username,
		Email:        username + "@nijjara.org",
		Department:   dept,
		RoleID:       roleID,
		Active:       active,
		PasswordHash: identity.HashPassword(password),
	}, "SYSTEM")
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func (f *fixture) auditEntries(t *testing.T, action string) []audit.Entry {
	t.Helper()
	entries, err := f.recorder.Logs(context.Background(), audit.Filter{Action: action})
	if err != nil {
		t.Fatal(err)
	}
	return entries
}

func TestLoginSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, "amina", "Manager", "HR", true, "Secret1")

	res, err := f.svc.Login(ctx, Credentials{Username: "amina", Password: "Secret1", Device: "web", IPAddress: "10.0.0.9"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Token == "" {
		t.Fatal("no token issued")
	}
	if res.Session.UserID != res.User.ID {
		t.Fatalf("session user mismatch: %+v", res.Session)
	}
	if res.User.LastLogin == "" {
		t.Fatal("last login not stamped")
	}
	if res.Overview == nil {
		t.Fatal("overview missing")
	}
	if res.MustChangePassword {
		t.Fatal("unexpected must-change flag")
	}
	if got := f.auditEntries(t, "LOGIN"); len(got) != 1 {
		t.Fatalf("LOGIN audit rows = %d", len(got))
	}
}

func TestLoginFailuresAreGeneric(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, "amina", "Manager", "HR", true, "Secret1")
	f.addUser(t, "omar", "Manager", "HR", false, "Secret1")

	cases := []Credentials{
		{Username: "amina", Password: "wrong"},
		{Username: "nobody", Password: "Secret1"},
		{Username: "omar", Password: "Secret1"},
	}
	for _, creds := range cases {
		_, err := f.svc.Login(ctx, creds)
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("login %q: err = %v", creds.Username, err)
		}
	}
	if got := f.auditEntries(t, "LOGIN_FAILED"); len(got) != 3 {
		t.Fatalf("LOGIN_FAILED audit rows = %d", len(got))
	}
}

func TestLoginByEmail(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "amina", "Manager", "HR", true, "Secret1")
	res, err := f.svc.Login(context.Background(), Credentials{Username: "amina@nijjara.org", Password: "Secret1"})
	if err != nil {
		t.Fatal(err)
	}
	if res.User.Username != "amina" {
		t.Fatalf("resolved %q", res.User.Username)
	}
}

func TestCreateUserIssuesTemporaryPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.addUser(t, "root", "Admin", "", true, "Secret1")

	u, temp, err := f.svc.CreateUser(ctx, admin.ID, CreateInput{
		FullName: "Amina Khalid", Username: "amina", Email: "amina@nijjara.org",
		Department: "HR", RoleID: "Manager",
	})
	if err != nil {
		t.Fatal(err)
	}
	if temp == "" {
		t.Fatal("temporary password not returned")
	}
	v, err := f.store.PropertyValue(ctx, u.ID, identity.PropMustChange)
	if err != nil {
		t.Fatal(err)
	}
	if v != "TRUE" {
		t.Fatalf("Must_Change = %q", v)
	}

	res, err := f.svc.Login(ctx, Credentials{Username: "amina", Password: temp})
	if err != nil {
		t.Fatalf("login with temp password: %v", err)
	}
	if !res.MustChangePassword {
		t.Fatal("must-change flag not surfaced on login")
	}
	if got := f.auditEntries(t, "CREATE"); len(got) != 1 {
		t.Fatalf("CREATE audit rows = %d", len(got))
	}
}

func TestCreateUserDeniedWithoutPermission(t *testing.T) {
	f := newFixture(t)
	basic := f.addUser(t, "basic", "Basic_User", "", true, "Secret1")
	_, _, err := f.svc.CreateUser(context.Background(), basic.ID, CreateInput{
		FullName: "X", Username: "x", Email: "x@nijjara.org", RoleID: "Manager",
	})
	if !errors.Is(err, access.ErrPermissionDenied) {
		t.Fatalf("err = %v", err)
	}
}

func TestCreateAdminRequiresUnlimitedAssignRole(t *testing.T) {
	f := newFixture(t)
	hr := f.addUser(t, "hr", "HR_Manager", "HR", true, "Secret1")
	// HR_Manager holds CREATE_USER globally but only a LIMITED ASSIGN_ROLE,
	// so minting a superuser through the create path must fail.
	_, _, err := f.svc.CreateUser(context.Background(), hr.ID, CreateInput{
		FullName: "Sneaky", Username: "sneaky", Email: "sneaky@nijjara.org", RoleID: "Admin",
	})
	if !errors.Is(err, access.ErrPermissionDenied) {
		t.Fatalf("err = %v", err)
	}
}

func TestDeactivationRevokesSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.addUser(t, "root", "Admin", "", true, "Secret1")
	target := f.addUser(t, "omar", "Manager", "Sales", true, "Secret1")

	for i := 0; i < 2; i++ {
		if _, err := f.svc.Login(ctx, Credentials{Username: "omar", Password: "Secret1"}); err != nil {
			t.Fatal(err)
		}
	}

	if err := f.svc.SetUserStatus(ctx, admin.ID, target.ID, false, "left company"); err != nil {
		t.Fatal(err)
	}

	sessions, err := f.sessions.ListForUser(ctx, target.ID)
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range sessions {
		if !s.Revoked() {
			t.Fatalf("session %s still live", s.ID)
		}
	}

	got := f.auditEntries(t, "REVOKE_USER_SESSIONS")
	if len(got) != 1 {
		t.Fatalf("REVOKE_USER_SESSIONS rows = %d", len(got))
	}
	var details map[string]any
	if err := json.Unmarshal([]byte(got[0].Details), &details); err != nil {
		t.Fatal(err)
	}
	if details["revoked"] != float64(2) {
		t.Fatalf("revoked = %v", details["revoked"])
	}

	u, err := f.store.GetUser(ctx, target.ID)
	if err != nil {
		t.Fatal(err)
	}
	if u.Active || u.DisabledAt == "" || u.DisabledBy != admin.ID {
		t.Fatalf("disabled stamps: %+v", u)
	}
	if u.LastLogin != "" {
		t.Fatal("last login not cleared")
	}
	reason, err := f.store.PropertyValue(ctx, target.ID, identity.PropLastStatusReason)
	if err != nil {
		t.Fatal(err)
	}
	if reason != "left company" {
		t.Fatalf("status reason = %q", reason)
	}
}

func TestReactivationClearsDisabledStamps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.addUser(t, "root", "Admin", "", true, "Secret1")
	target := f.addUser(t, "omar", "Manager", "Sales", true, "Secret1")

	if err := f.svc.SetUserStatus(ctx, admin.ID, target.ID, false, ""); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.SetUserStatus(ctx, admin.ID, target.ID, true, "rehired"); err != nil {
		t.Fatal(err)
	}
	u, err := f.store.GetUser(ctx, target.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !u.Active || u.DisabledAt != "" || u.DisabledBy != "" {
		t.Fatalf("stamps not cleared: %+v", u)
	}
	if got := f.auditEntries(t, "ACTIVATE"); len(got) != 1 {
		t.Fatalf("ACTIVATE rows = %d", len(got))
	}
}

func TestBulkAssignRolePartialFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.addUser(t, "root", "Admin", "", true, "Secret1")
	u1 := f.addUser(t, "u1", "Basic_User", "", true, "Secret1")

	res, err := f.svc.BulkAssignRole(ctx, admin.ID, []string{u1.ID, "USR_99999"}, "Manager")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Updated) != 1 || res.Updated[0] != u1.ID {
		t.Fatalf("updated = %v", res.Updated)
	}
	if len(res.Errors) != 1 || res.Errors["USR_99999"] == "" {
		t.Fatalf("errors = %v", res.Errors)
	}

	got, err := f.store.GetUser(ctx, u1.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.RoleID != "Manager" {
		t.Fatalf("role = %q", got.RoleID)
	}
	if rows := f.auditEntries(t, "ROLE_CHANGE"); len(rows) != 1 {
		t.Fatalf("ROLE_CHANGE rows = %d", len(rows))
	}
}

func TestDeleteLastAdminBlocked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.addUser(t, "root", "Admin", "", true, "Secret1")

	err := f.svc.DeleteUser(ctx, admin.ID, admin.ID, "cleanup")
	if !errors.Is(err, ErrLastAdmin) {
		t.Fatalf("err = %v", err)
	}

	second := f.addUser(t, "root2", "Admin", "", true, "Secret1")
	if err := f.svc.DeleteUser(ctx, admin.ID, second.ID, "duplicate account"); err != nil {
		t.Fatal(err)
	}
	archived, err := f.store.PropertyValue(ctx, second.ID, identity.PropArchived)
	if err != nil {
		t.Fatal(err)
	}
	if archived != "TRUE" {
		t.Fatalf("IsArchived = %q", archived)
	}
	note, err := f.store.PropertyValue(ctx, second.ID, identity.PropArchiveNote)
	if err != nil {
		t.Fatal(err)
	}
	if note != "duplicate account" {
		t.Fatalf("note = %q", note)
	}
	u, err := f.store.GetUser(ctx, second.ID)
	if err != nil {
		t.Fatal(err)
	}
	if u.Active {
		t.Fatal("archived user still active")
	}
}

func TestDeactivateLastAdminBlocked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.addUser(t, "root", "Admin", "", true, "Secret1")

	if err := f.svc.SetUserStatus(ctx, admin.ID, admin.ID, false, "offboarding"); !errors.Is(err, ErrLastAdmin) {
		t.Fatalf("status err = %v", err)
	}
	inactive := false
	if _, err := f.svc.UpdateUser(ctx, admin.ID, admin.ID, Update{Active: &inactive}); !errors.Is(err, ErrLastAdmin) {
		t.Fatalf("patch err = %v", err)
	}
	u, err := f.store.GetUser(ctx, admin.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !u.Active {
		t.Fatal("sole admin deactivated")
	}

	f.addUser(t, "root2", "Admin", "", true, "Secret1")
	if err := f.svc.SetUserStatus(ctx, admin.ID, admin.ID, false, "offboarding"); err != nil {
		t.Fatal(err)
	}
}

func TestLastAdminRoleMoveBlocked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.addUser(t, "root", "Admin", "", true, "Secret1")

	if err := f.svc.AssignRoleToUser(ctx, admin.ID, admin.ID, "Manager", ""); !errors.Is(err, ErrLastAdmin) {
		t.Fatalf("assign err = %v", err)
	}
	role := "Manager"
	if _, err := f.svc.UpdateUser(ctx, admin.ID, admin.ID, Update{RoleID: &role}); !errors.Is(err, ErrLastAdmin) {
		t.Fatalf("patch err = %v", err)
	}

	f.addUser(t, "root2", "Admin", "", true, "Secret1")
	if err := f.svc.AssignRoleToUser(ctx, admin.ID, admin.ID, "Manager", ""); err != nil {
		t.Fatal(err)
	}
}

func TestResetPasswordForcesChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.addUser(t, "root", "Admin", "", true, "Secret1")
	target := f.addUser(t, "amina", "Manager", "HR", true, "Secret1")

	temp, err := f.svc.ResetUserPassword(ctx, admin.ID, target.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if temp == "" {
		t.Fatal("no temporary password")
	}

	if _, err := f.svc.Login(ctx, Credentials{Username: "amina", Password: "Secret1"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password still works: %v", err)
	}
	res, err := f.svc.Login(ctx, Credentials{Username: "amina", Password: temp})
	if err != nil {
		t.Fatal(err)
	}
	if !res.MustChangePassword {
		t.Fatal("must-change flag missing")
	}
	if rows := f.auditEntries(t, "RESET_PASSWORD"); len(rows) != 1 {
		t.Fatalf("RESET_PASSWORD rows = %d", len(rows))
	}
}

func TestResetPasswordCallerSupplied(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.addUser(t, "root", "Admin", "", true, "Secret1")
	target := f.addUser(t, "amina", "Manager", "HR", true, "Secret1")

	got, err := f.svc.ResetUserPassword(ctx, admin.ID, target.ID, "Chosen9!")
	if err != nil {
		t.Fatal(err)
	}
	if got != "Chosen9!" {
		t.Fatalf("plaintext = %q", got)
	}
	res, err := f.svc.Login(ctx, Credentials{Username: "amina", Password: "Chosen9!"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.MustChangePassword {
		t.Fatal("must-change flag missing")
	}
}

func TestImpersonateUserSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.addUser(t, "root", "Admin", "", true, "Secret1")
	target := f.addUser(t, "amina", "Manager", "HR", true, "Secret1")

	sess, err := f.svc.ImpersonateUserSession(ctx, admin.ID, target.ID, time.Hour, "support case 4411")
	if err != nil {
		t.Fatal(err)
	}
	if sess.Device != session.DeviceImpersonation {
		t.Fatalf("device = %q", sess.Device)
	}
	if sess.AuthToken == "" {
		t.Fatal("no session token")
	}
	if sess.ExpiresHint == "" {
		t.Fatal("expires hint not set")
	}
	by, err := f.store.PropertyValue(ctx, target.ID, identity.PropLastImpersonatedBy)
	if err != nil {
		t.Fatal(err)
	}
	if by != admin.ID {
		t.Fatalf("Last_Impersonated_By = %q", by)
	}
	if rows := f.auditEntries(t, "IMPERSONATE"); len(rows) != 1 {
		t.Fatalf("IMPERSONATE rows = %d", len(rows))
	}
}

func TestImpersonationTokenNotGuessable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.addUser(t, "root", "Admin", "", true, "Secret1")
	target := f.addUser(t, "amina", "Manager", "HR", true, "Secret1")

	sess, err := f.svc.ImpersonateUserSession(ctx, admin.ID, target.ID, time.Hour, "")
	if err != nil {
		t.Fatal(err)
	}
	// The credential must not be derivable from the public user ids.
	if sess.AuthToken == admin.ID+"->"+target.ID {
		t.Fatalf("token = %q", sess.AuthToken)
	}
	if _, _, err := f.svc.ResolveToken(ctx, admin.ID+"->"+target.ID); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("derived string resolved: %v", err)
	}
	u, got, err := f.svc.ResolveToken(ctx, sess.AuthToken)
	if err != nil {
		t.Fatal(err)
	}
	if u.ID != target.ID || got.ID != sess.ID {
		t.Fatalf("resolved %s / %s", u.ID, got.ID)
	}

	again, err := f.svc.ImpersonateUserSession(ctx, admin.ID, target.ID, time.Hour, "")
	if err != nil {
		t.Fatal(err)
	}
	if again.AuthToken == sess.AuthToken {
		t.Fatal("token reused across sessions")
	}
}

func TestImpersonateInactiveTargetRejected(t *testing.T) {
	f := newFixture(t)
	admin := f.addUser(t, "root", "Admin", "", true, "Secret1")
	target := f.addUser(t, "gone", "Manager", "HR", false, "Secret1")
	_, err := f.svc.ImpersonateUserSession(context.Background(), admin.ID, target.ID, 0, "")
	if !errors.Is(err, identity.ErrConflict) {
		t.Fatalf("err = %v", err)
	}
}

func TestUpdateUserAuditsChangedFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.addUser(t, "root", "Admin", "", true, "Secret1")
	target := f.addUser(t, "amina", "Basic_User", "HR", true, "Secret1")

	title := "Team lead"
	role := "Manager"
	if _, err := f.svc.UpdateUser(ctx, admin.ID, target.ID, Update{JobTitle: &title, RoleID: &role}); err != nil {
		t.Fatal(err)
	}

	edits := f.auditEntries(t, "EDIT")
	if len(edits) != 1 {
		t.Fatalf("EDIT rows = %d", len(edits))
	}
	var details map[string]any
	if err := json.Unmarshal([]byte(edits[0].Details), &details); err != nil {
		t.Fatal(err)
	}
	if details["Job_Title"] != "Team lead" || details["Role_Id"] != "Manager" {
		t.Fatalf("details = %v", details)
	}
	if rows := f.auditEntries(t, "ROLE_CHANGE"); len(rows) != 1 {
		t.Fatalf("ROLE_CHANGE rows = %d", len(rows))
	}
}

func TestUpdateUserRenamesUsername(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.addUser(t, "root", "Admin", "", true, "Secret1")
	target := f.addUser(t, "amina", "Manager", "HR", true, "Secret1")

	name := "a.hassan"
	if _, err := f.svc.UpdateUser(ctx, admin.ID, target.ID, Update{Username: &name}); err != nil {
		t.Fatal(err)
	}
	u, err := f.store.FindByUsername(ctx, "a.hassan")
	if err != nil {
		t.Fatal(err)
	}
	if u.ID != target.ID {
		t.Fatalf("renamed user = %s", u.ID)
	}
	edits := f.auditEntries(t, "EDIT")
	if len(edits) != 1 {
		t.Fatalf("EDIT rows = %d", len(edits))
	}
	var details map[string]any
	if err := json.Unmarshal([]byte(edits[0].Details), &details); err != nil {
		t.Fatal(err)
	}
	if details["Username"] != "a.hassan" {
		t.Fatalf("details = %v", details)
	}

	taken := "root"
	if _, err := f.svc.UpdateUser(ctx, admin.ID, target.ID, Update{Username: &taken}); !errors.Is(err, identity.ErrConflict) {
		t.Fatalf("duplicate username err = %v", err)
	}
}

func TestAssignRoleRecordsEffectiveFrom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.addUser(t, "root", "Admin", "", true, "Secret1")
	target := f.addUser(t, "amina", "Basic_User", "HR", true, "Secret1")

	if err := f.svc.AssignRoleToUser(ctx, admin.ID, target.ID, "Manager", "2026-09-01T00:00:00Z"); err != nil {
		t.Fatal(err)
	}
	// Recorded for the audit trail only; the role moves immediately.
	u, err := f.store.GetUser(ctx, target.ID)
	if err != nil {
		t.Fatal(err)
	}
	if u.RoleID != "Manager" {
		t.Fatalf("role = %q", u.RoleID)
	}
	rows := f.auditEntries(t, "ROLE_CHANGE")
	if len(rows) != 1 {
		t.Fatalf("ROLE_CHANGE rows = %d", len(rows))
	}
	var details map[string]any
	if err := json.Unmarshal([]byte(rows[0].Details), &details); err != nil {
		t.Fatal(err)
	}
	if details["effective_from"] != "2026-09-01T00:00:00Z" {
		t.Fatalf("effective_from = %v", details["effective_from"])
	}
}

func TestUpdateUserNoChangesNoAudit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.addUser(t, "root", "Admin", "", true, "Secret1")
	target := f.addUser(t, "amina", "Manager", "HR", true, "Secret1")

	name := target.FullName
	if _, err := f.svc.UpdateUser(ctx, admin.ID, target.ID, Update{FullName: &name}); err != nil {
		t.Fatal(err)
	}
	if rows := f.auditEntries(t, "EDIT"); len(rows) != 0 {
		t.Fatalf("EDIT rows = %d", len(rows))
	}
}

func TestDirectoryScoping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, "root", "Admin", "IT", true, "Secret1")
	mgr := f.addUser(t, "mgr", "Manager", "Sales", true, "Secret1")
	f.addUser(t, "omar", "Basic_User", "Sales", true, "Secret1")
	f.addUser(t, "amina", "Basic_User", "HR", true, "Secret1")

	got, err := f.svc.Directory(ctx, mgr.ID, identity.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("department-scoped directory: %d users", len(got))
	}
	for _, u := range got {
		if u.Department != "Sales" {
			t.Fatalf("leaked %s from %s", u.Username, u.Department)
		}
	}
}

func TestDirectorySelfScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	basic := f.addUser(t, "basic", "Basic_User", "HR", true, "Secret1")
	f.addUser(t, "other", "Manager", "HR", true, "Secret1")

	// Seeded Basic_User VIEW_USERS is disallowed outright.
	if _, err := f.svc.Directory(ctx, basic.ID, identity.Filter{}); !errors.Is(err, access.ErrPermissionDenied) {
		t.Fatalf("err = %v", err)
	}

	if err := f.catalog.Set(ctx, "Basic_User", access.PermViewUsers, access.ScopeSelf, true, "SYSTEM"); err != nil {
		t.Fatal(err)
	}
	got, err := f.svc.Directory(ctx, basic.ID, identity.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != basic.ID {
		t.Fatalf("self scope: %+v", got)
	}
}

func TestResolveToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.addUser(t, "root", "Admin", "", true, "Secret1")
	res, err := f.svc.Login(ctx, Credentials{Username: "root", Password: "Secret1"})
	if err != nil {
		t.Fatal(err)
	}

	u, sess, err := f.svc.ResolveToken(ctx, res.Token)
	if err != nil {
		t.Fatal(err)
	}
	if u.ID != admin.ID || sess.ID != res.Session.ID {
		t.Fatalf("resolved %s / %s", u.ID, sess.ID)
	}

	if err := f.svc.Logout(ctx, res.Token); err != nil {
		t.Fatal(err)
	}
	if _, _, err := f.svc.ResolveToken(ctx, res.Token); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("revoked token resolved: %v", err)
	}
}

type recordingListener struct {
	created []string
	updated []string
	deleted []string
}

func (l *recordingListener) UserCreated(_ context.Context, u identity.User) {
	l.created = append(l.created, u.ID)
}
func (l *recordingListener) UserUpdated(_ context.Context, u identity.User) {
	l.updated = append(l.updated, u.ID)
}
func (l *recordingListener) UserDeleted(_ context.Context, userID string) {
	l.deleted = append(l.deleted, userID)
}

func TestListenerNotifications(t *testing.T) {
	listener := &recordingListener{}
	f := newFixture(t, WithListener(listener))
	ctx := context.Background()
	admin := f.addUser(t, "root", "Admin", "", true, "Secret1")
	f.addUser(t, "root2", "Admin", "", true, "Secret1")

	u, _, err := f.svc.CreateUser(ctx, admin.ID, CreateInput{
		FullName: "Amina Khalid", Username: "amina", Email: "amina@nijjara.org", RoleID: "Manager",
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.svc.AssignRoleToUser(ctx, admin.ID, u.ID, "Basic_User", ""); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.DeleteUser(ctx, admin.ID, u.ID, ""); err != nil {
		t.Fatal(err)
	}

	if len(listener.created) != 1 || listener.created[0] != u.ID {
		t.Fatalf("created = %v", listener.created)
	}
	if len(listener.updated) != 1 {
		t.Fatalf("updated = %v", listener.updated)
	}
	if len(listener.deleted) != 1 || listener.deleted[0] != u.ID {
		t.Fatalf("deleted = %v", listener.deleted)
	}
}
