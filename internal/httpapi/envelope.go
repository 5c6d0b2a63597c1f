package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"nijjara.org/internal/access"
	"nijjara.org/internal/identity"
	"nijjara.org/internal/session"
	"nijjara.org/internal/tabular"
	"nijjara.org/internal/users"
)

// Stable machine-readable error codes carried in the envelope.
const (
	codeNotFound           = "NOT_FOUND"
	codeValidation         = "VALIDATION_ERROR"
	codePermissionDenied   = "PERMISSION_DENIED"
	codeConflict           = "CONFLICT"
	codeStoreTimeout       = "STORE_TIMEOUT"
	codeInvalidCredentials = "INVALID_CREDENTIALS"
	codeRateLimited        = "RATE_LIMITED"
	codeInternal           = "INTERNAL"
)

type envelope struct {
	Success bool           `json:"success"`
	Data    any            `json:"data,omitempty"`
	Error   *envelopeError `json:"error,omitempty"`
}

type envelopeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{
		Success: false,
		Error:   &envelopeError{Code: code, Message: message},
	})
}

// writeServiceError maps domain errors onto HTTP status and envelope codes.
func writeServiceError(w http.ResponseWriter, err error) {
	var ve *identity.ValidationError
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, codeValidation, ve.Error())
	case errors.Is(err, users.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, codeInvalidCredentials, "invalid credentials")
	case errors.Is(err, access.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, codePermissionDenied, "permission denied")
	case errors.Is(err, users.ErrLastAdmin), errors.Is(err, identity.ErrConflict):
		writeError(w, http.StatusConflict, codeConflict, err.Error())
	case errors.Is(err, identity.ErrNotFound), errors.Is(err, session.ErrNotFound), errors.Is(err, tabular.ErrUnknownTable):
		writeError(w, http.StatusNotFound, codeNotFound, err.Error())
	case errors.Is(err, tabular.ErrTimeout):
		writeError(w, http.StatusServiceUnavailable, codeStoreTimeout, "store busy, retry")
	default:
		writeError(w, http.StatusInternalServerError, codeInternal, "operation failed")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	writeError(w, http.StatusMethodNotAllowed, codeValidation, "method not allowed")
}
