package httpapi

import (
	"net/http"

	"nijjara.org/internal/audit"
)

func (a *API) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	entries, err := a.svc.AuditTrail(r.Context(), actor.ID, audit.Filter{
		ActorID:  q.Get("actor"),
		Action:   q.Get("action"),
		TargetID: q.Get("target"),
		Sheet:    q.Get("sheet"),
		Limit:    queryInt(r, "limit", 100),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, entries)
}

func (a *API) handleAuditReports(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	entries, err := a.svc.AuditReports(r.Context(), actor.ID, queryInt(r, "limit", 100))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, entries)
}
