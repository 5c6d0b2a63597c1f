package httpapi

import (
	"net/http"

	"nijjara.org/internal/users"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Device   string `json:"device"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	res, err := a.svc.Login(r.Context(), users.Credentials{
		Username:  req.Username,
		Password:  req.Password,
		Device:    req.Device,
		IPAddress: clientIP(r),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	token, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		writeError(w, http.StatusUnauthorized, codeInvalidCredentials, err.Error())
		return
	}
	if err := a.svc.Logout(r.Context(), token); err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"logged_out": true})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	profile, err := a.svc.GetProfile(r.Context(), actor.ID, actor.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, profile)
}
