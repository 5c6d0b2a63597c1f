package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"nijjara.org/internal/access"
	"nijjara.org/internal/audit"
	"nijjara.org/internal/httpapi"
	"nijjara.org/internal/identity"
	"nijjara.org/internal/obs"
	"nijjara.org/internal/session"
	"nijjara.org/internal/tabular"
	"nijjara.org/internal/users"
)

var (
	version = "1.2.0"
	commit  = "dev"
)

func main() {
	_ = godotenv.Load()
	obs.Init()
	obs.InitBuildInfo(version, commit)

	var db *sql.DB
	var tab tabular.Store
	if dsn := os.Getenv("NIJJARA_PG_DSN"); dsn != "" {
		var err error
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		pg := tabular.NewPG(db)
		if err := pg.CreateTables(context.Background()); err != nil {
			log.Fatalf("create tables: %v", err)
		}
		tab = pg
	} else {
		tab = tabular.NewMemory()
	}

	ctx := context.Background()
	store := identity.NewStore(tab)
	if err := store.EnsureSchemas(ctx); err != nil {
		log.Fatalf("identity schemas: %v", err)
	}
	catalog := access.NewCatalog(tab)
	if err := catalog.EnsureSeeded(ctx); err != nil {
		log.Fatalf("seed grants: %v", err)
	}
	sessions := session.NewManager(tab)
	if err := sessions.EnsureSchema(ctx); err != nil {
		log.Fatalf("session schema: %v", err)
	}
	recorder := audit.NewRecorder(tab)
	if err := recorder.EnsureSchemas(ctx); err != nil {
		log.Fatalf("audit schemas: %v", err)
	}

	svc := users.NewService(users.Config{
		DeletePermission: access.Permission(os.Getenv("NIJJARA_DELETE_PERMISSION")),
	}, store, catalog, access.NewEvaluator(store, catalog), sessions, recorder)

	api := httpapi.New(svc, httpapi.ReadyProbe{DB: db}, version)

	addr := os.Getenv("NIJJARA_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting nijjara-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
