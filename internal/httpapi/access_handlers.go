package httpapi

import (
	"net/http"

	"nijjara.org/internal/access"
	"nijjara.org/internal/identity"
)

type createRoleRequest struct {
	RoleID      string `json:"role_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type setGrantRequest struct {
	RoleID     string `json:"role_id"`
	Permission string `json:"permission_key"`
	Scope      string `json:"scope"`
	Allowed    bool   `json:"allowed"`
}

type cloneGrantsRequest struct {
	SourceRoleID string `json:"source_role_id"`
	TargetRoleID string `json:"target_role_id"`
}

func (a *API) handleRoles(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		roles, err := a.svc.Roles(r.Context(), actor.ID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusOK, roles)
	case http.MethodPost:
		var req createRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, codeValidation, err.Error())
			return
		}
		role, err := a.svc.CreateRole(r.Context(), actor.ID, identity.Role{
			ID:          req.RoleID,
			Title:       req.Title,
			Description: req.Description,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusCreated, role)
	default:
		methodNotAllowed(w, "GET, POST")
	}
}

func (a *API) handlePermissionCatalog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	entries, err := a.svc.PermissionCatalog(r.Context(), actor.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, entries)
}

func (a *API) handleMatrix(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		matrix, err := a.svc.PermissionMatrix(r.Context(), actor.ID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusOK, matrix)
	case http.MethodPut:
		var req setGrantRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, codeValidation, err.Error())
			return
		}
		err := a.svc.SetGrant(r.Context(), actor.ID, req.RoleID,
			access.Permission(req.Permission), access.Scope(req.Scope), req.Allowed)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusOK, map[string]any{"updated": true})
	default:
		methodNotAllowed(w, "GET, PUT")
	}
}

func (a *API) handleCloneGrants(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req cloneGrantsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	n, err := a.svc.CloneRoleGrants(r.Context(), actor.ID, req.SourceRoleID, req.TargetRoleID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"cloned": n})
}
