package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"gatecode.org/internal/audit"
	"gatecode.org/internal/auth"
)

type updateUserRequest struct {
	DisplayName *string `json:"display_name,omitempty"`
	Role        *string `json:"role,omitempty"`
	IsActive    *bool   `json:"is_active,omitempty"`
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	users, err := a.store.Users().List(r.Context())
	if err != nil {
		a.internalError(w, r, "list users", err)
		return
	}
	if users == nil {
		users = []*auth.User{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": users})
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/admin/users/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPatch {
		methodNotAllowed(w, r, http.MethodPatch)
		return
	}
	a.requireAuth(auth.PermUsersUpdate, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.updateUser(w, r, id)
	})).ServeHTTP(w, r)
}

func (a *API) updateUser(w http.ResponseWriter, r *http.Request, id string) {
	var req updateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.DisplayName == nil && req.Role == nil && req.IsActive == nil {
		writeError(w, r, http.StatusBadRequest, "nothing to update")
		return
	}

	upd := auth.UserUpdate{IsActive: req.IsActive}
	if req.DisplayName != nil {
		name := strings.TrimSpace(*req.DisplayName)
		if name == "" {
			writeError(w, r, http.StatusBadRequest, "display_name must not be empty")
			return
		}
		upd.DisplayName = &name
	}
	if req.Role != nil {
		role, ok := auth.ParseRole(*req.Role)
		if !ok {
			writeError(w, r, http.StatusBadRequest, "role must be one of owner, admin, editor, viewer")
			return
		}
		// Changing roles is a separate capability from editing profiles.
		principal, _ := auth.PrincipalFromContext(r.Context())
		if !auth.HasPermission(principal.User.Role, auth.PermUsersManageRole) {
			writeJSON(w, http.StatusForbidden, map[string]any{
				"error":    "insufficient permissions",
				"required": auth.PermUsersManageRole,
				"userRole": principal.User.Role,
			})
			return
		}
		upd.Role = &role
	}

	user, err := a.store.Users().Update(r.Context(), id, upd)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "user not found")
			return
		}
		a.internalError(w, r, "update user", err)
		return
	}

	details := map[string]any{}
	if req.Role != nil {
		details["role"] = user.Role
	}
	if req.IsActive != nil {
		details["is_active"] = user.IsActive
	}
	if req.DisplayName != nil {
		details["display_name"] = user.DisplayName
	}
	a.recorder.Record(r.Context(), actorID(r.Context()), "users.update", "user", user.ID, details, audit.FromRequest(r))

	writeJSON(w, http.StatusOK, user)
}
