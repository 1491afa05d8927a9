package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"worknest.io/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// authenticate resolves the bearer token into a caller. Every authentication failure
// produces the same 401 body so clients cannot tell which check rejected them.
func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			unauthorized(w, r)
			return
		}
		caller, err := a.engine.Authenticate(r.Context(), token)
		if err != nil {
			switch {
			case auth.IsAuthentication(err):
				a.logger.Debug("authentication rejected",
					zap.String("request_id", RequestIDFromContext(r.Context())),
					zap.Stringer("kind", auth.KindOf(err)))
				unauthorized(w, r)
			case auth.IsAuthorization(err):
				writeError(w, r, http.StatusForbidden, "forbidden")
			default:
				a.logger.Error("authentication error",
					zap.String("request_id", RequestIDFromContext(r.Context())),
					zap.Error(err))
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}
		ctx := auth.ContextWithCaller(r.Context(), caller)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// require guards next with req. target, when set, extracts the owner of the
// addressed resource so self and subordinate access can apply.
func (a *API) require(req auth.Requirement, target func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := auth.CallerFromContext(r.Context())
			if !ok {
				unauthorized(w, r)
				return
			}
			var owner string
			if target != nil {
				owner = target(r)
			}
			if _, err := a.engine.Authorize(r.Context(), caller, req, owner); err != nil {
				a.authorizationError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole admits callers holding any of names. Admins always pass.
func (a *API) RequireRole(names ...string) func(http.Handler) http.Handler {
	return a.require(auth.RequireRoles(names...), nil)
}

func (a *API) authorizationError(w http.ResponseWriter, r *http.Request, err error) {
	if auth.IsAuthorization(err) {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}
	a.logger.Error("authorization error",
		zap.String("request_id", RequestIDFromContext(r.Context())),
		zap.Error(err))
	writeError(w, r, http.StatusInternalServerError, "authorization error")
}

func unauthorized(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="worknest"`)
	writeError(w, r, http.StatusUnauthorized, "not authenticated")
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
