package access

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"nijjara.org/internal/tabular"
)

// Sheet names for the grant matrix and the permission catalog.
const (
	GrantsSheet  = "SYS_Role_Permissions"
	CatalogSheet = "SYS_Permissions"
)

var grantHeaders = []string{
	"Role_Id", "Permission_Key", "Scope", "Allowed", "Constraints",
	"Created_At", "Created_By", "Updated_At", "Updated_By",
}

var catalogHeaders = []string{
	"Permission_Key", "Permission_Label", "Description", "Category",
	"Created_At", "Created_By", "Updated_At", "Updated_By",
}

// ErrPermissionDenied is returned by callers that gate on the evaluator.
var ErrPermissionDenied = errors.New("access: permission denied")

// Catalog persists grants and permission descriptions, seeding the default
// matrix on first touch of an empty grant table.
type Catalog struct {
	tab tabular.Store
	now func() time.Time

	seedMu sync.Mutex
	seeded bool
}

// CatalogOption configures a Catalog.
type CatalogOption func(*Catalog)

// WithClock overrides the time source.
func WithClock(fn func() time.Time) CatalogOption {
	return func(c *Catalog) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewCatalog constructs a Catalog over the tabular backend.
func NewCatalog(tab tabular.Store, opts ...CatalogOption) *Catalog {
	c := &Catalog{tab: tab, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EnsureSchemas registers the grant and catalog sheets.
func (c *Catalog) EnsureSchemas(ctx context.Context) error {
	if err := c.tab.EnsureSchema(ctx, GrantsSheet, grantHeaders); err != nil {
		return fmt.Errorf("ensure %s: %w", GrantsSheet, err)
	}
	if err := c.tab.EnsureSchema(ctx, CatalogSheet, catalogHeaders); err != nil {
		return fmt.Errorf("ensure %s: %w", CatalogSheet, err)
	}
	return nil
}

// EnsureSeeded inserts the default matrix when the grant table is empty.
// Idempotent: a populated table is never overwritten.
func (c *Catalog) EnsureSeeded(ctx context.Context) error {
	c.seedMu.Lock()
	defer c.seedMu.Unlock()
	if c.seeded {
		return nil
	}
	if err := c.EnsureSchemas(ctx); err != nil {
		return err
	}
	rows, err := c.tab.ListRows(ctx, GrantsSheet)
	if err != nil {
		return err
	}
	if len(rows) > 0 {
		c.seeded = true
		return nil
	}
	now := formatISO(c.now())
	for _, g := range DefaultGrants {
		if err := c.tab.AppendRow(ctx, GrantsSheet, grantRecord(g, now, "SYSTEM")); err != nil {
			return err
		}
	}
	c.seeded = true
	return nil
}

// Grants returns the grants of one role, seeding defaults first if needed.
func (c *Catalog) Grants(ctx context.Context, roleID string) ([]Grant, error) {
	if err := c.EnsureSeeded(ctx); err != nil {
		return nil, err
	}
	rows, err := c.tab.ListRows(ctx, GrantsSheet)
	if err != nil {
		return nil, err
	}
	var out []Grant
	for _, rec := range rows {
		if rec["Role_Id"] == roleID {
			out = append(out, grantFromRecord(rec))
		}
	}
	return out, nil
}

// Grant resolves the authoritative grant for (role, permission). The last
// written row wins when duplicates exist.
func (c *Catalog) Grant(ctx context.Context, roleID string, perm Permission) (Grant, bool, error) {
	grants, err := c.Grants(ctx, roleID)
	if err != nil {
		return Grant{}, false, err
	}
	found := false
	var g Grant
	for _, candidate := range grants {
		if candidate.Permission == perm {
			g = candidate
			found = true
		}
	}
	return g, found, nil
}

// Matrix returns every grant row, seeding defaults first if needed.
func (c *Catalog) Matrix(ctx context.Context) ([]Grant, error) {
	if err := c.EnsureSeeded(ctx); err != nil {
		return nil, err
	}
	rows, err := c.tab.ListRows(ctx, GrantsSheet)
	if err != nil {
		return nil, err
	}
	out := make([]Grant, 0, len(rows))
	for _, rec := range rows {
		out = append(out, grantFromRecord(rec))
	}
	return out, nil
}

// Set writes the authoritative grant for (role, permission), updating an
// existing row in place or appending a new one.
func (c *Catalog) Set(ctx context.Context, roleID string, perm Permission, scope Scope, allowed bool, actor string) error {
	if roleID == "" || perm == "" {
		return fmt.Errorf("access: role id and permission key are required")
	}
	if scope == "" {
		scope = ScopeGlobal
	}
	if err := c.EnsureSeeded(ctx); err != nil {
		return err
	}
	now := formatISO(c.now())
	patch := tabular.Record{
		"Scope":      string(scope),
		"Allowed":    boolString(allowed),
		"Updated_At": now,
		"Updated_By": actor,
	}
	ok, err := c.tab.UpdateRowMatching(ctx, GrantsSheet,
		tabular.Record{"Role_Id": roleID, "Permission_Key": string(perm)}, patch)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	g := Grant{RoleID: roleID, Permission: perm, Scope: scope, Allowed: allowed}
	return c.tab.AppendRow(ctx, GrantsSheet, grantRecord(g, now, actor))
}

// Clone replaces the target role's grants with a copy of the source role's.
// Returns the number of cloned grants.
func (c *Catalog) Clone(ctx context.Context, sourceRoleID, targetRoleID, actor string) (int, error) {
	if sourceRoleID == "" || targetRoleID == "" {
		return 0, fmt.Errorf("access: source and target roles are required")
	}
	if sourceRoleID == targetRoleID {
		return 0, fmt.Errorf("access: source and target roles must differ")
	}
	source, err := c.Grants(ctx, sourceRoleID)
	if err != nil {
		return 0, err
	}
	cloned := 0
	for _, g := range source {
		if err := c.Set(ctx, targetRoleID, g.Permission, g.Scope, g.Allowed, actor); err != nil {
			return cloned, err
		}
		cloned++
	}
	return cloned, nil
}

// ListCatalog returns the permission directory entries.
func (c *Catalog) ListCatalog(ctx context.Context) ([]CatalogEntry, error) {
	rows, err := c.tab.ListRows(ctx, CatalogSheet)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return BuiltinCatalog, nil
	}
	out := make([]CatalogEntry, 0, len(rows))
	for _, rec := range rows {
		out = append(out, CatalogEntry{
			Key:         Permission(rec["Permission_Key"]),
			Label:       rec["Permission_Label"],
			Description: rec["Description"],
			Category:    rec["Category"],
		})
	}
	return out, nil
}

func grantRecord(g Grant, now, actor string) tabular.Record {
	return tabular.Record{
		"Role_Id":        g.RoleID,
		"Permission_Key": string(g.Permission),
		"Scope":          string(g.Scope),
		"Allowed":        boolString(g.Allowed),
		"Constraints":    g.Constraints,
		"Created_At":     now,
		"Created_By":     actor,
		"Updated_At":     now,
		"Updated_By":     actor,
	}
}

func grantFromRecord(rec tabular.Record) Grant {
	return Grant{
		RoleID:      rec["Role_Id"],
		Permission:  Permission(rec["Permission_Key"]),
		Scope:       Scope(rec["Scope"]),
		Allowed:     parseBool(rec["Allowed"]),
		Constraints: rec["Constraints"],
		CreatedAt:   rec["Created_At"],
		CreatedBy:   rec["Created_By"],
		UpdatedAt:   rec["Updated_At"],
		UpdatedBy:   rec["Updated_By"],
	}
}

func formatISO(t time.Time) string { return t.Format(time.RFC3339) }

func boolString(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}

func parseBool(v string) bool {
	switch v {
	case "TRUE", "true", "1", "yes", "y":
		return true
	}
	return false
}
