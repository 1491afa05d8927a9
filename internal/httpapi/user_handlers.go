package httpapi

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"worknest.io/internal/audit"
	"worknest.io/internal/auth"
)

type createUserRequest struct {
	Username        string   `json:"username"`
	Email           string   `json:"email"`
	FullName        string   `json:"full_name"`
	Password        string   `json:"password"`
	RoleIDs         []string `json:"role_ids"`
	ReportingUserID string   `json:"reporting_user_id"`
}

type setManagerRequest struct {
	ManagerID *string `json:"manager_id"`
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !readBody(w, r, &req) {
		return
	}
	caller, _ := auth.CallerFromContext(r.Context())
	if err := a.directory.GuardAdminRole(r.Context(), caller.Roles, "", req.RoleIDs); err != nil {
		a.handleDirectoryError(w, r, err)
		return
	}
	user, err := a.directory.CreateUser(r.Context(), auth.NewUser{
		Username:        req.Username,
		Email:           req.Email,
		FullName:        req.FullName,
		Password:        req.Password,
		RoleIDs:         req.RoleIDs,
		ReportingUserID: req.ReportingUserID,
	})
	if err != nil {
		a.handleDirectoryError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user.create", map[string]any{
		"target_id": user.ID,
		"username":  user.Username,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/users/%s", user.ID))
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := a.directory.GetUser(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		a.handleDirectoryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleDeactivateUser(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]
	if caller, ok := auth.CallerFromContext(r.Context()); ok && caller.UserID == userID {
		writeError(w, r, http.StatusBadRequest, "cannot deactivate yourself")
		return
	}
	if err := a.directory.Deactivate(r.Context(), userID); err != nil {
		a.handleDirectoryError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user.deactivate", map[string]any{
		"target_id": userID,
	})
	w.WriteHeader(http.StatusNoContent)
}

// handleSetManager moves a user under manager_id; a null or empty manager_id makes them a root.
func (a *API) handleSetManager(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]
	var req setManagerRequest
	if !readBody(w, r, &req) {
		return
	}
	var managerID string
	if req.ManagerID != nil {
		managerID = *req.ManagerID
	}
	edge, err := a.hierarchy.SetManager(r.Context(), userID, managerID)
	if err != nil {
		a.handleDirectoryError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "hierarchy.manager.set", map[string]any{
		"target_id":  edge.UserID,
		"manager_id": edge.ManagerID,
		"level":      edge.Level,
	})
	writeJSON(w, http.StatusOK, edge)
}

func (a *API) handleTeam(w http.ResponseWriter, r *http.Request) {
	team, err := a.hierarchy.TeamMembers(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		a.handleDirectoryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, team)
}

func (a *API) handleSubordinates(w http.ResponseWriter, r *http.Request) {
	subs, err := a.hierarchy.Subordinates(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		a.handleDirectoryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"subordinates": subs,
	})
}
