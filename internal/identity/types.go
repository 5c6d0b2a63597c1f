// Package identity owns user and role records on the tabular store:
// credentials, role membership, the active flag and free-form per-user
// properties. Permission gating lives elsewhere; this package only
// persists and validates identity state.
package identity

import (
	"regexp"
	"strings"
	"time"

	"nijjara.org/internal/tabular"
)

// Sheet names, kept identical to the production workbook.
const (
	UsersSheet      = "SYS_Users"
	RolesSheet      = "SYS_Roles"
	PropertiesSheet = "SYS_User_Properties"
)

// AdminRoleID is the hard-coded superuser role. It bypasses the permission
// matrix entirely and can never be locked out by matrix corruption.
const AdminRoleID = "Admin"

var userHeaders = []string{
	"User_Id", "Full_Name", "Username", "Email", "Job_Title", "Department",
	"Role_Id", "IsActive", "Disabled_At", "Disabled_By", "Password_Hash",
	"Last_Login", "Created_At", "Created_By", "Updated_At", "Updated_By",
	"External_Id", "MFA_Enabled", "Notes",
}

var roleHeaders = []string{
	"Role_Id", "Role_Title", "Description", "Is_System",
	"Created_At", "Created_By", "Updated_At", "Updated_By",
}

var propertyHeaders = []string{
	"User_Id", "Property_Key", "Property_Value",
	"Created_At", "Created_By", "Updated_At", "Updated_By",
}

// User is a single account row. Timestamps are stored as ISO-8601 strings in
// the deployment's local timezone, matching the sheet format.
type User struct {
	ID           string `json:"user_id"`
	FullName     string `json:"full_name"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	JobTitle     string `json:"job_title,omitempty"`
	Department   string `json:"department,omitempty"`
	RoleID       string `json:"role_id"`
	Active       bool   `json:"is_active"`
	DisabledAt   string `json:"disabled_at,omitempty"`
	DisabledBy   string `json:"disabled_by,omitempty"`
	PasswordHash string `json:"-"`
	LastLogin    string `json:"last_login,omitempty"`
	CreatedAt    string `json:"created_at"`
	CreatedBy    string `json:"created_by"`
	UpdatedAt    string `json:"updated_at,omitempty"`
	UpdatedBy    string `json:"updated_by,omitempty"`
	ExternalID   string `json:"external_id,omitempty"`
	MFAEnabled   bool   `json:"mfa_enabled"`
	Notes        string `json:"notes,omitempty"`
}

// Role groups permission grants.
type Role struct {
	ID          string `json:"role_id"`
	Title       string `json:"role_title"`
	Description string `json:"description,omitempty"`
	System      bool   `json:"is_system"`
	CreatedAt   string `json:"created_at"`
	CreatedBy   string `json:"created_by"`
	UpdatedAt   string `json:"updated_at,omitempty"`
	UpdatedBy   string `json:"updated_by,omitempty"`
}

// Property is a free-form (user, key, value) row used for flags such as
// Must_Change or IsArchived.
type Property struct {
	UserID    string `json:"user_id"`
	Key       string `json:"property_key"`
	Value     string `json:"property_value"`
	CreatedAt string `json:"created_at"`
	CreatedBy string `json:"created_by"`
	UpdatedAt string `json:"updated_at,omitempty"`
	UpdatedBy string `json:"updated_by,omitempty"`
}

// Well-known property keys.
const (
	PropMustChange         = "Must_Change"
	PropArchived           = "IsArchived"
	PropArchiveNote        = "Archive_Note"
	PropLastImpersonatedBy = "Last_Impersonated_By"
	PropLastStatusReason   = "Last_Status_Reason"
)

// NormalizeUsername lowercases and trims a username.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidEmail reports whether the address is RFC-shaped.
func ValidEmail(email string) bool {
	return emailPattern.MatchString(strings.TrimSpace(email))
}

func formatISO(t time.Time) string {
	return t.Format(time.RFC3339)
}

func boolString(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "y":
		return true
	}
	return false
}

func userRecord(u User) tabular.Record {
	return tabular.Record{
		"User_Id":       u.ID,
		"Full_Name":     u.FullName,
		"Username":      u.Username,
		"Email":         u.Email,
		"Job_Title":     u.JobTitle,
		"Department":    u.Department,
		"Role_Id":       u.RoleID,
		"IsActive":      boolString(u.Active),
		"Disabled_At":   u.DisabledAt,
		"Disabled_By":   u.DisabledBy,
		"Password_Hash": u.PasswordHash,
		"Last_Login":    u.LastLogin,
		"Created_At":    u.CreatedAt,
		"Created_By":    u.CreatedBy,
		"Updated_At":    u.UpdatedAt,
		"Updated_By":    u.UpdatedBy,
		"External_Id":   u.ExternalID,
		"MFA_Enabled":   boolString(u.MFAEnabled),
		"Notes":         u.Notes,
	}
}

func userFromRecord(rec tabular.Record) User {
	return User{
		ID:           rec["User_Id"],
		FullName:     rec["Full_Name"],
		Username:     rec["Username"],
		Email:        rec["Email"],
		JobTitle:     rec["Job_Title"],
		Department:   rec["Department"],
		RoleID:       rec["Role_Id"],
		Active:       parseBool(rec["IsActive"]),
		DisabledAt:   rec["Disabled_At"],
		DisabledBy:   rec["Disabled_By"],
		PasswordHash: rec["Password_Hash"],
		LastLogin:    rec["Last_Login"],
		CreatedAt:    rec["Created_At"],
		CreatedBy:    rec["Created_By"],
		UpdatedAt:    rec["Updated_At"],
		UpdatedBy:    rec["Updated_By"],
		ExternalID:   rec["External_Id"],
		MFAEnabled:   parseBool(rec["MFA_Enabled"]),
		Notes:        rec["Notes"],
	}
}

func roleRecord(r Role) tabular.Record {
	return tabular.Record{
		"Role_Id":     r.ID,
		"Role_Title":  r.Title,
		"Description": r.Description,
		"Is_System":   boolString(r.System),
		"Created_At":  r.CreatedAt,
		"Created_By":  r.CreatedBy,
		"Updated_At":  r.UpdatedAt,
		"Updated_By":  r.UpdatedBy,
	}
}

func roleFromRecord(rec tabular.Record) Role {
	return Role{
		ID:          rec["Role_Id"],
		Title:       rec["Role_Title"],
		Description: rec["Description"],
		System:      parseBool(rec["Is_System"]),
		CreatedAt:   rec["Created_At"],
		CreatedBy:   rec["Created_By"],
		UpdatedAt:   rec["Updated_At"],
		UpdatedBy:   rec["Updated_By"],
	}
}

func propertyFromRecord(rec tabular.Record) Property {
	return Property{
		UserID:    rec["User_Id"],
		Key:       rec["Property_Key"],
		Value:     rec["Property_Value"],
		CreatedAt: rec["Created_At"],
		CreatedBy: rec["Created_By"],
		UpdatedAt: rec["Updated_At"],
		UpdatedBy: rec["Updated_By"],
	}
}
