package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"goldilocks.org/internal/account"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var (
	errUnauthorized = errors.New("authentication required")
	errForbidden    = errors.New("admin access required")
)

// Paths reachable without a credential.
var publicPaths = []string{
	"/",
	"/health",
	"/healthz",
	"/readyz",
	"/version",
	"/metrics",
	"/v1/auth/register",
	"/v1/auth/login",
}

// withAuth resolves the session cookie or a bearer API token into a user on
// the request context. Unknown credentials fall through anonymously; the
// handlers decide whether authentication is required.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
			user, err := a.accounts.ResolveSession(ctx, c.Value)
			switch {
			case err == nil:
				ctx = account.ContextWithUser(ctx, user)
				ctx = account.ContextWithSessionToken(ctx, c.Value)
			case errors.Is(err, account.ErrAccountDisabled):
				writeError(w, r, http.StatusForbidden, err.Error())
				return
			}
		}

		if _, ok := account.UserFromContext(ctx); !ok && a.tokens != nil {
			if raw, err := extractBearerToken(r.Header.Get(authHeader)); err == nil {
				if claims, err := a.tokens.ParseAndValidate(raw); err == nil {
					if user, err := a.accounts.GetUser(ctx, claims.UserID); err == nil && user.Active {
						ctx = account.ContextWithUser(ctx, user)
					}
				}
			}
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *API) requireAdmin(r *http.Request) error {
	user, ok := account.UserFromContext(r.Context())
	if !ok {
		return errUnauthorized
	}
	if !user.IsAdmin() {
		return errForbidden
	}
	return nil
}

func (a *API) denied(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errUnauthorized) {
		writeError(w, r, http.StatusUnauthorized, err.Error())
		return
	}
	writeError(w, r, http.StatusForbidden, err.Error())
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
