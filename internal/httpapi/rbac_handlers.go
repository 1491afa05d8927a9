package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"worknest.io/internal/audit"
	"worknest.io/internal/auth"
)

type createRoleRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

type updateRolePermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

type assignRolesRequest struct {
	RoleIDs []string `json:"role_ids"`
}

type authzCheckRequest struct {
	Roles         []string `json:"roles"`
	Resource      string   `json:"resource"`
	Actions       []string `json:"actions"`
	TargetOwnerID string   `json:"target_owner_id"`
}

type authzCheckResponse struct {
	Allowed      bool     `json:"allowed"`
	Grant        string   `json:"grant,omitempty"`
	Reason       string   `json:"reason,omitempty"`
	MatchedRoles []string `json:"matched_roles,omitempty"`
	Missing      []string `json:"missing,omitempty"`
}

func (a *API) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := a.directory.ListRoles(r.Context())
	if err != nil {
		a.handleDirectoryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"roles": roles,
	})
}

func (a *API) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if !readBody(w, r, &req) {
		return
	}
	role, err := a.directory.CreateRole(r.Context(), req.Name, req.Description, req.Permissions)
	if err != nil {
		a.handleDirectoryError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.role.create", map[string]any{
		"role_id": role.ID,
		"name":    role.Name,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/roles/%s", role.ID))
	writeJSON(w, http.StatusCreated, role)
}

func (a *API) handleSetRolePermissions(w http.ResponseWriter, r *http.Request) {
	roleID := mux.Vars(r)["id"]
	var req updateRolePermissionsRequest
	if !readBody(w, r, &req) {
		return
	}
	role, err := a.directory.SetRolePermissions(r.Context(), roleID, req.Permissions)
	if err != nil {
		a.handleDirectoryError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.role.permissions.update", map[string]any{
		"role_id": role.ID,
		"count":   len(role.Permissions),
	})
	writeJSON(w, http.StatusOK, role)
}

func (a *API) handleAssignRoles(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]
	var req assignRolesRequest
	if !readBody(w, r, &req) {
		return
	}
	caller, _ := auth.CallerFromContext(r.Context())
	if err := a.directory.GuardAdminRole(r.Context(), caller.Roles, userID, req.RoleIDs); err != nil {
		a.handleDirectoryError(w, r, err)
		return
	}
	if err := a.directory.AssignRoles(r.Context(), userID, req.RoleIDs); err != nil {
		a.handleDirectoryError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.user.assign_roles", map[string]any{
		"target_id": userID,
		"role_ids":  req.RoleIDs,
	})
	w.WriteHeader(http.StatusNoContent)
}

// handleAuthzCheck evaluates an arbitrary requirement for the caller. Supplying
// roles makes it a role requirement; otherwise resource and actions are used.
func (a *API) handleAuthzCheck(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.CallerFromContext(r.Context())
	if !ok {
		unauthorized(w, r)
		return
	}
	var req authzCheckRequest
	if !readBody(w, r, &req) {
		return
	}
	var requirement auth.Requirement
	switch {
	case len(req.Roles) > 0:
		requirement = auth.RequireRoles(req.Roles...)
	case strings.TrimSpace(req.Resource) != "" && len(req.Actions) > 0:
		requirement = auth.RequirePermission(req.Resource, req.Actions...)
	default:
		writeError(w, r, http.StatusBadRequest, "roles or resource and actions are required")
		return
	}
	d, err := a.engine.Authorize(r.Context(), caller, requirement, req.TargetOwnerID)
	if err != nil && !auth.IsAuthorization(err) {
		a.authorizationError(w, r, err)
		return
	}
	resp := authzCheckResponse{
		Allowed:      d.Allowed,
		Grant:        string(d.Grant),
		MatchedRoles: d.MatchedRoles,
		Missing:      d.Missing,
	}
	if !d.Allowed {
		resp.Reason = d.Kind.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleDirectoryError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput), errors.Is(err, auth.ErrInvalidHierarchy):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrAdminGrant):
		writeError(w, r, http.StatusForbidden, "forbidden")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "resource not found")
	default:
		a.logger.Error("directory operation failed",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "operation failed")
	}
}
