package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"nijjara.org/internal/identity"
	"nijjara.org/internal/users"
)

type createUserRequest struct {
	FullName   string `json:"full_name"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	JobTitle   string `json:"job_title"`
	Department string `json:"department"`
	RoleID     string `json:"role_id"`
	Password   string `json:"password"`
	ExternalID string `json:"external_id"`
	MFAEnabled bool   `json:"mfa_enabled"`
	Notes      string `json:"notes"`
}

type updateUserRequest struct {
	FullName   *string `json:"full_name"`
	Username   *string `json:"username"`
	Email      *string `json:"email"`
	JobTitle   *string `json:"job_title"`
	Department *string `json:"department"`
	RoleID     *string `json:"role_id"`
	Active     *bool   `json:"is_active"`
	MFAEnabled *bool   `json:"mfa_enabled"`
	Notes      *string `json:"notes"`
}

type setStatusRequest struct {
	Active bool   `json:"active"`
	Reason string `json:"reason"`
}

type assignRoleRequest struct {
	RoleID        string `json:"role_id"`
	EffectiveFrom string `json:"effective_from"`
}

type resetPasswordRequest struct {
	Password string `json:"password"`
}

type bulkRoleRequest struct {
	UserIDs []string `json:"user_ids"`
	RoleID  string   `json:"role_id"`
}

type deleteUserRequest struct {
	Note string `json:"note"`
}

type impersonateRequest struct {
	DurationMinutes int    `json:"duration_minutes"`
	Reason          string `json:"reason"`
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		f := identity.Filter{
			RoleID:     r.URL.Query().Get("role"),
			Department: r.URL.Query().Get("department"),
			Search:     r.URL.Query().Get("q"),
		}
		if v := r.URL.Query().Get("active"); v != "" {
			active := v == "true"
			f.Active = &active
		}
		list, err := a.svc.Directory(r.Context(), actor.ID, f)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusOK, list)
	case http.MethodPost:
		var req createUserRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, codeValidation, err.Error())
			return
		}
		u, temp, err := a.svc.CreateUser(r.Context(), actor.ID, users.CreateInput{
			FullName:   req.FullName,
			Username:   req.Username,
			Email:      req.Email,
			JobTitle:   req.JobTitle,
			Department: req.Department,
			RoleID:     req.RoleID,
			Password:   req.Password,
			ExternalID: req.ExternalID,
			MFAEnabled: req.MFAEnabled,
			Notes:      req.Notes,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		payload := map[string]any{"user": u}
		if temp != "" {
			// Surfaced exactly once; never persisted in plaintext.
			payload["temporary_password"] = temp
		}
		writeData(w, http.StatusCreated, payload)
	default:
		methodNotAllowed(w, "GET, POST")
	}
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/users/"), "/")
	if path == "" {
		writeError(w, http.StatusNotFound, codeNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	userID := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			profile, err := a.svc.GetProfile(r.Context(), actor.ID, userID)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeData(w, http.StatusOK, profile)
		case http.MethodPatch:
			var req updateUserRequest
			if err := decodeJSON(w, r, &req); err != nil {
				writeError(w, http.StatusBadRequest, codeValidation, err.Error())
				return
			}
			u, err := a.svc.UpdateUser(r.Context(), actor.ID, userID, users.Update{
				FullName:   req.FullName,
				Username:   req.Username,
				Email:      req.Email,
				JobTitle:   req.JobTitle,
				Department: req.Department,
				RoleID:     req.RoleID,
				Active:     req.Active,
				MFAEnabled: req.MFAEnabled,
				Notes:      req.Notes,
			})
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeData(w, http.StatusOK, u)
		case http.MethodDelete:
			var req deleteUserRequest
			if r.ContentLength > 0 {
				if err := decodeJSON(w, r, &req); err != nil {
					writeError(w, http.StatusBadRequest, codeValidation, err.Error())
					return
				}
			}
			if err := a.svc.DeleteUser(r.Context(), actor.ID, userID, req.Note); err != nil {
				writeServiceError(w, err)
				return
			}
			writeData(w, http.StatusOK, map[string]any{"archived": true})
		default:
			methodNotAllowed(w, "GET, PATCH, DELETE")
		}
		return
	}

	if len(parts) != 2 {
		writeError(w, http.StatusNotFound, codeNotFound, "resource not found")
		return
	}
	switch parts[1] {
	case "status":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		var req setStatusRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, codeValidation, err.Error())
			return
		}
		if err := a.svc.SetUserStatus(r.Context(), actor.ID, userID, req.Active, req.Reason); err != nil {
			writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusOK, map[string]any{"active": req.Active})
	case "password-reset":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		var req resetPasswordRequest
		if r.ContentLength > 0 {
			if err := decodeJSON(w, r, &req); err != nil {
				writeError(w, http.StatusBadRequest, codeValidation, err.Error())
				return
			}
		}
		temp, err := a.svc.ResetUserPassword(r.Context(), actor.ID, userID, req.Password)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusOK, map[string]any{"temporary_password": temp})
	case "role":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		var req assignRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, codeValidation, err.Error())
			return
		}
		if err := a.svc.AssignRoleToUser(r.Context(), actor.ID, userID, req.RoleID, req.EffectiveFrom); err != nil {
			writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusOK, map[string]any{"role_id": req.RoleID})
	case "impersonate":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		var req impersonateRequest
		if r.ContentLength > 0 {
			if err := decodeJSON(w, r, &req); err != nil {
				writeError(w, http.StatusBadRequest, codeValidation, err.Error())
				return
			}
		}
		sess, err := a.svc.ImpersonateUserSession(r.Context(), actor.ID, userID,
			time.Duration(req.DurationMinutes)*time.Minute, req.Reason)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusCreated, sess)
	case "trail":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		limit := queryInt(r, "limit", 50)
		trail, err := a.svc.UserTrail(r.Context(), actor.ID, userID, limit)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusOK, trail)
	default:
		writeError(w, http.StatusNotFound, codeNotFound, "resource not found")
	}
}

func (a *API) handleBulkRole(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req bulkRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	res, err := a.svc.BulkAssignRole(r.Context(), actor.ID, req.UserIDs, req.RoleID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

func (a *API) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	list, err := a.svc.Export(r.Context(), actor.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, list)
}

func (a *API) handleOverview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	ov, err := a.svc.Overview(r.Context(), actor.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, ov)
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
