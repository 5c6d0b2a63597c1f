// Command bootstrap prepares a fresh deployment: it creates the backing
// tables, seeds the system roles and the default permission matrix, and
// creates the first administrator with a one-time password printed to
// stdout exactly once.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"nijjara.org/internal/access"
	"nijjara.org/internal/audit"
	"nijjara.org/internal/identity"
	"nijjara.org/internal/session"
	"nijjara.org/internal/tabular"
)

var systemRoles = []identity.Role{
	{ID: "Admin", Title: "Administrator", Description: "Full access to every module", System: true},
	{ID: "HR_Manager", Title: "HR Manager", Description: "Manages the user directory", System: true},
	{ID: "Manager", Title: "Department Manager", Description: "Manages own department", System: true},
	{ID: "Basic_User", Title: "Basic User", Description: "Self-service only", System: true},
}

func main() {
	log.SetFlags(0)
	_ = godotenv.Load()
	var (
		dsn           = flag.String("dsn", os.Getenv("NIJJARA_PG_DSN"), "PostgreSQL DSN (empty runs against a throwaway in-memory store)")
		adminUsername = flag.String("admin-username", "admin", "Username of the first administrator")
		adminEmail    = flag.String("admin-email", "", "Email of the first administrator")
		adminName     = flag.String("admin-name", "System Administrator", "Full name of the first administrator")
	)
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var tab tabular.Store
	if *dsn != "" {
		db, err := sql.Open("pgx", *dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer db.Close()
		pg := tabular.NewPG(db)
		if err := pg.CreateTables(ctx); err != nil {
			log.Fatalf("create tables: %v", err)
		}
		tab = pg
	} else {
		log.Println("no DSN given, bootstrapping an in-memory store (dry run)")
		tab = tabular.NewMemory()
	}

	if err := bootstrap(ctx, tab, *adminUsername, *adminEmail, *adminName); err != nil {
		log.Fatalf("bootstrap: %v", err)
	}
}

func bootstrap(ctx context.Context, tab tabular.Store, username, email, fullName string) error {
	store := identity.NewStore(tab)
	if err := store.EnsureSchemas(ctx); err != nil {
		return fmt.Errorf("identity schemas: %w", err)
	}
	sessions := session.NewManager(tab)
	if err := sessions.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("session schema: %w", err)
	}
	recorder := audit.NewRecorder(tab)
	if err := recorder.EnsureSchemas(ctx); err != nil {
		return fmt.Errorf("audit schemas: %w", err)
	}

	for _, role := range systemRoles {
		_, err := store.CreateRole(ctx, role, "SYSTEM")
		if errors.Is(err, identity.ErrConflict) {
			continue
		}
		if err != nil {
			return fmt.Errorf("seed role %s: %w", role.ID, err)
		}
		log.Printf("created role %s", role.ID)
	}

	catalog := access.NewCatalog(tab)
	if err := catalog.EnsureSeeded(ctx); err != nil {
		return fmt.Errorf("seed grants: %w", err)
	}

	if _, err := store.FindByUsername(ctx, username); err == nil {
		log.Printf("administrator %q already exists, skipping", username)
		return nil
	} else if !errors.Is(err, identity.ErrNotFound) {
		return err
	}

	if email == "" {
		email = username + "@nijjara.local"
	}
	password := identity.TemporaryPassword()
	admin, err := store.CreateUser(ctx, identity.NewUser{
		FullName:     fullName,
		Username:     username,
		Email:        email,
		RoleID:       identity.AdminRoleID,
		Active:       true,
		PasswordHash: identity.HashPassword(password),
	}, "SYSTEM")
	if err != nil {
		return fmt.Errorf("create admin: %w", err)
	}
	if err := store.SetProperty(ctx, admin.ID, identity.PropMustChange, "TRUE", "SYSTEM"); err != nil {
		return err
	}
	if err := recorder.Record(ctx, audit.Event{
		ActorID:  "SYSTEM",
		Sheet:    identity.UsersSheet,
		Action:   "CREATE",
		TargetID: admin.ID,
		Details:  map[string]any{"username": admin.Username, "role": admin.RoleID},
		Entity:   "User",
		Summary:  "Bootstrapped first administrator",
	}); err != nil {
		return err
	}

	log.Printf("created administrator %s (%s)", admin.Username, admin.ID)
	fmt.Printf("one-time password: %s\n", password)
	fmt.Println("it will not be shown again; a change is forced on first login")
	return nil
}
