// Package access implements the role→permission→scope matrix and the
// scope-aware permission evaluator that gates every privileged operation.
package access

// Permission is a closed enumeration of capability keys. Keys are fixed at
// compile time; the matrix can only grant or deny them, never invent new ones.
type Permission string

const (
	PermViewUsers      Permission = "VIEW_USERS"
	PermCreateUser     Permission = "CREATE_USER"
	PermEditUser       Permission = "EDIT_USER"
	PermAssignRole     Permission = "ASSIGN_ROLE"
	PermDeactivateUser Permission = "DEACTIVATE_USER"
	PermDeleteUser     Permission = "DELETE_USER"
	PermResetPassword  Permission = "RESET_PASSWORD"
	PermViewAudit      Permission = "VIEW_AUDIT"
	PermImpersonate    Permission = "IMPERSONATE"
	PermExportUsers    Permission = "EXPORT_USERS"
)

// AllPermissions lists every key in catalog order.
var AllPermissions = []Permission{
	PermViewUsers, PermCreateUser, PermEditUser, PermAssignRole,
	PermDeactivateUser, PermDeleteUser, PermResetPassword,
	PermViewAudit, PermImpersonate, PermExportUsers,
}

// Scope narrows a grant's applicability.
type Scope string

const (
	ScopeGlobal     Scope = "GLOBAL"
	ScopeLimited    Scope = "LIMITED"
	ScopeDepartment Scope = "DEPARTMENT"
	ScopeSelf       Scope = "SELF"
)

// KnownScope reports whether the value belongs to the closed scope set.
// Anything else evaluates as deny.
func KnownScope(s Scope) bool {
	switch s {
	case ScopeGlobal, ScopeLimited, ScopeDepartment, ScopeSelf:
		return true
	}
	return false
}

// Grant is one authoritative (role, permission, scope, allowed) tuple.
type Grant struct {
	RoleID      string     `json:"role_id"`
	Permission  Permission `json:"permission_key"`
	Scope       Scope      `json:"scope"`
	Allowed     bool       `json:"allowed"`
	Constraints string     `json:"constraints,omitempty"`
	CreatedAt   string     `json:"created_at,omitempty"`
	CreatedBy   string     `json:"created_by,omitempty"`
	UpdatedAt   string     `json:"updated_at,omitempty"`
	UpdatedBy   string     `json:"updated_by,omitempty"`
}

// CatalogEntry describes a permission key for directory listings.
type CatalogEntry struct {
	Key         Permission `json:"permission_key"`
	Label       string     `json:"permission_label"`
	Description string     `json:"description,omitempty"`
	Category    string     `json:"category,omitempty"`
}

// BuiltinCatalog describes every permission key for UI directories.
var BuiltinCatalog = []CatalogEntry{
	{Key: PermViewUsers, Label: "View users", Category: "Users"},
	{Key: PermCreateUser, Label: "Create user", Category: "Users"},
	{Key: PermEditUser, Label: "Edit user", Category: "Users"},
	{Key: PermAssignRole, Label: "Assign role", Category: "Roles"},
	{Key: PermDeactivateUser, Label: "Deactivate user", Category: "Users"},
	{Key: PermDeleteUser, Label: "Delete (archive) user", Category: "Users"},
	{Key: PermResetPassword, Label: "Reset password", Category: "Security"},
	{Key: PermViewAudit, Label: "View audit trail", Category: "Audit"},
	{Key: PermImpersonate, Label: "Impersonate user", Category: "Security"},
	{Key: PermExportUsers, Label: "Export user directory", Category: "Users"},
}

// DefaultGrants is the matrix seeded into an empty grant table. The Admin
// role is also hard-wired to bypass the matrix, so its rows here are
// documentation more than enforcement.
var DefaultGrants = []Grant{
	{RoleID: "Admin", Permission: PermViewUsers, Scope: ScopeGlobal, Allowed: true},
	{RoleID: "Admin", Permission: PermCreateUser, Scope: ScopeGlobal, Allowed: true},
	{RoleID: "Admin", Permission: PermEditUser, Scope: ScopeGlobal, Allowed: true},
	{RoleID: "Admin", Permission: PermAssignRole, Scope: ScopeGlobal, Allowed: true},
	{RoleID: "Admin", Permission: PermDeactivateUser, Scope: ScopeGlobal, Allowed: true},
	{RoleID: "Admin", Permission: PermDeleteUser, Scope: ScopeGlobal, Allowed: true},
	{RoleID: "Admin", Permission: PermResetPassword, Scope: ScopeGlobal, Allowed: true},
	{RoleID: "Admin", Permission: PermViewAudit, Scope: ScopeGlobal, Allowed: true},
	{RoleID: "Admin", Permission: PermImpersonate, Scope: ScopeGlobal, Allowed: true},
	{RoleID: "Admin", Permission: PermExportUsers, Scope: ScopeGlobal, Allowed: true},

	{RoleID: "HR_Manager", Permission: PermViewUsers, Scope: ScopeGlobal, Allowed: true},
	{RoleID: "HR_Manager", Permission: PermCreateUser, Scope: ScopeGlobal, Allowed: true},
	{RoleID: "HR_Manager", Permission: PermEditUser, Scope: ScopeGlobal, Allowed: true},
	{RoleID: "HR_Manager", Permission: PermAssignRole, Scope: ScopeLimited, Allowed: true},
	{RoleID: "HR_Manager", Permission: PermDeactivateUser, Scope: ScopeGlobal, Allowed: true},
	{RoleID: "HR_Manager", Permission: PermResetPassword, Scope: ScopeGlobal, Allowed: true},
	{RoleID: "HR_Manager", Permission: PermViewAudit, Scope: ScopeLimited, Allowed: true},

	{RoleID: "Manager", Permission: PermViewUsers, Scope: ScopeDepartment, Allowed: true},
	{RoleID: "Manager", Permission: PermEditUser, Scope: ScopeDepartment, Allowed: true},
	{RoleID: "Manager", Permission: PermDeactivateUser, Scope: ScopeDepartment, Allowed: true},

	{RoleID: "Basic_User", Permission: PermViewUsers, Scope: ScopeSelf, Allowed: false},
}
