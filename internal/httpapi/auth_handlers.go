package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"worknest.io/internal/audit"
	"worknest.io/internal/auth"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type meResponse struct {
	ID       string              `json:"id"`
	Username string              `json:"username"`
	Email    string              `json:"email,omitempty"`
	FullName string              `json:"full_name,omitempty"`
	RoleIDs  []string            `json:"role_ids"`
	Roles    []string            `json:"roles"`
	Grants   map[string][]string `json:"grants"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !readBody(w, r, &req) {
		return
	}
	pair, user, err := a.tokens.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if auth.KindOf(err) == auth.KindUnknown && !errors.Is(err, auth.ErrInvalidCredentials) {
			a.logger.Error("login failed", zap.Error(err))
			writeError(w, r, http.StatusInternalServerError, "login failed")
			return
		}
		_ = audit.LogEvent(r.Context(), "auth.login.failed", map[string]any{
			"username": strings.ToLower(strings.TrimSpace(req.Username)),
		})
		unauthorized(w, r)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"subject_id": user.ID,
		"expires_at": pair.AccessExpiresAt,
	})
	writeJSON(w, http.StatusOK, pair)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !readBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, r, http.StatusBadRequest, "refresh_token is required")
		return
	}
	pair, err := a.tokens.Refresh(r.Context(), strings.TrimSpace(req.RefreshToken))
	if err != nil {
		switch {
		case auth.IsAuthentication(err):
			unauthorized(w, r)
		case auth.IsAuthorization(err):
			writeError(w, r, http.StatusForbidden, "forbidden")
		default:
			a.logger.Error("refresh failed", zap.Error(err))
			writeError(w, r, http.StatusInternalServerError, "refresh failed")
		}
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.refresh", map[string]any{
		"expires_at": pair.AccessExpiresAt,
	})
	writeJSON(w, http.StatusOK, pair)
}

// handleLogout revokes whatever tokens were presented and always reports success.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token, err := extractBearerToken(r.Header.Get(authHeader)); err == nil {
		a.tokens.Revoke(r.Context(), token, "")
	}
	var req logoutRequest
	if r.ContentLength != 0 && decodeJSON(w, r, &req) == nil && strings.TrimSpace(req.RefreshToken) != "" {
		a.tokens.Revoke(r.Context(), req.RefreshToken, "")
	}
	_ = audit.LogEvent(r.Context(), "auth.logout", nil)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Successfully logged out",
	})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.CallerFromContext(r.Context())
	if !ok {
		unauthorized(w, r)
		return
	}
	user, err := a.directory.GetUser(r.Context(), caller.UserID)
	if err != nil {
		a.handleDirectoryError(w, r, err)
		return
	}
	grants, err := a.engine.Grants(r.Context(), caller)
	if err != nil {
		a.logger.Error("resolve grants", zap.String("user_id", caller.UserID), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "permission resolution failed")
		return
	}
	writeJSON(w, http.StatusOK, meResponse{
		ID:       user.ID,
		Username: user.Username,
		Email:    user.Email,
		FullName: user.FullName,
		RoleIDs:  caller.RoleIDs,
		Roles:    caller.Roles.Names(),
		Grants:   grants.Map(),
	})
}
