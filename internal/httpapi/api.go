// Package httpapi exposes the user-management service over a JSON HTTP API.
// Every response uses the same envelope: {"success": true, "data": ...} or
// {"success": false, "error": {"code", "message"}}.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"nijjara.org/internal/obs"
	"nijjara.org/internal/users"
)

// ReadyProbe reports backend readiness. A nil DB always passes, which is the
// in-memory deployment mode.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the lifecycle service.
type API struct {
	mux        *http.ServeMux
	svc        *users.Service
	readyProbe ReadyProbe
	version    string
}

// New wires all routes.
func New(svc *users.Service, rp ReadyProbe, version string) *API {
	a := &API{
		mux:        http.NewServeMux(),
		svc:        svc,
		readyProbe: rp,
		version:    version,
	}

	a.mux.HandleFunc("/healthz", a.handleHealthz)
	a.mux.HandleFunc("/readyz", a.handleReady)
	a.mux.HandleFunc("/v1/info", a.handleInfo)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/me", a.handleMe)

	a.mux.HandleFunc("/v1/users", a.handleUsers)
	a.mux.HandleFunc("/v1/users/", a.handleUserResource)
	a.mux.HandleFunc("/v1/users:bulk-role", a.handleBulkRole)
	a.mux.HandleFunc("/v1/users:export", a.handleExport)
	a.mux.HandleFunc("/v1/overview", a.handleOverview)

	a.mux.HandleFunc("/v1/roles", a.handleRoles)
	a.mux.HandleFunc("/v1/permissions", a.handlePermissionCatalog)
	a.mux.HandleFunc("/v1/permissions/matrix", a.handleMatrix)
	a.mux.HandleFunc("/v1/permissions/clone", a.handleCloneGrants)

	a.mux.HandleFunc("/v1/audit", a.handleAudit)
	a.mux.HandleFunc("/v1/audit/reports", a.handleAuditReports)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, codeNotFound, "resource not found")
	})

	return a
}

// Handler assembles the middleware chain around the mux.
func (a *API) Handler() http.Handler {
	h := http.Handler(a.mux)
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, 20, 10)
	h = SecurityHeaders(h)
	h = CORS(h)
	return obs.Instrument(h)
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "nijjara-api",
		"version": a.version,
	})
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, codeInternal, "backend not ready")
		return
	}
	writeData(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]any{
		"name":    "nijjara-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
