package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"nijjara.org/internal/audit"
	"nijjara.org/internal/identity"
	"nijjara.org/internal/users"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/login",
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/",
}

type actorKeyType struct{}

var actorKey actorKeyType

// actorFromContext returns the authenticated user, if any.
func actorFromContext(ctx context.Context) (identity.User, bool) {
	u, ok := ctx.Value(actorKey).(identity.User)
	return u, ok
}

// withAuth resolves the bearer token to its session user and stores the
// actor on the request context. Public paths pass through untouched.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, http.StatusUnauthorized, codeInvalidCredentials, err.Error())
			return
		}
		u, _, err := a.svc.ResolveToken(r.Context(), token)
		if err != nil {
			if errors.Is(err, users.ErrInvalidCredentials) {
				writeError(w, http.StatusUnauthorized, codeInvalidCredentials, "invalid token")
				return
			}
			writeServiceError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), actorKey, u)
		if rid := r.Header.Get("X-Request-Id"); rid != "" {
			ctx = audit.WithRequestID(ctx, rid)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireActor is the first line of every protected handler.
func requireActor(w http.ResponseWriter, r *http.Request) (identity.User, bool) {
	u, ok := actorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, codeInvalidCredentials, "authentication required")
	}
	return u, ok
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
