package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"gatecode.org/internal/audit"
	"gatecode.org/internal/auth"
)

type createCodeRequest struct {
	Role      string     `json:"role"`
	MaxUses   *int       `json:"max_uses,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Note      string     `json:"note,omitempty"`
	Format    string     `json:"format,omitempty"`
}

type createCodeResponse struct {
	// Code carries the plaintext. This is the only time it is ever
	// returned; it cannot be recovered later.
	Code       string           `json:"code"`
	AccessCode *auth.AccessCode `json:"access_code"`
}

func (a *API) handleAccessCodes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.requireAuth(auth.PermCodesRead, http.HandlerFunc(a.listAccessCodes)).ServeHTTP(w, r)
	case http.MethodPost:
		a.requireAuth(auth.PermCodesCreate, http.HandlerFunc(a.createAccessCode)).ServeHTTP(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) listAccessCodes(w http.ResponseWriter, r *http.Request) {
	codes, err := a.codes.List(r.Context())
	if err != nil {
		a.internalError(w, r, "list access codes", err)
		return
	}
	if codes == nil {
		codes = []*auth.AccessCode{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": codes})
}

func (a *API) createAccessCode(w http.ResponseWriter, r *http.Request) {
	var req createCodeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, ok := auth.ParseRole(req.Role)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "role must be one of owner, admin, editor, viewer")
		return
	}
	format := auth.CodeFormat(strings.TrimSpace(strings.ToLower(req.Format)))
	if format == "" {
		format = auth.FormatGrouped
	}

	plaintext, code, err := a.codes.Generate(r.Context(), auth.GenerateParams{
		RoleToAssign: role,
		MaxUses:      req.MaxUses,
		ExpiresAt:    req.ExpiresAt,
		Note:         req.Note,
		CreatedBy:    actorID(r.Context()),
		Format:       format,
	})
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidInput):
			writeError(w, r, http.StatusBadRequest, err.Error())
		case errors.Is(err, auth.ErrGenerationExhausted):
			writeError(w, r, http.StatusConflict, "could not generate a unique code, retry")
		default:
			a.internalError(w, r, "generate access code", err)
		}
		return
	}

	a.recorder.Record(r.Context(), actorID(r.Context()), "codes.create", "access_code", code.ID, map[string]any{
		"display_code": code.DisplayCode,
		"role":         code.RoleToAssign,
		"max_uses":     req.MaxUses,
		"note":         code.Note,
	}, audit.FromRequest(r))

	writeJSON(w, http.StatusCreated, createCodeResponse{
		Code:       plaintext,
		AccessCode: code,
	})
}

func (a *API) handleAccessCodeResource(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/admin/access-codes/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	a.requireAuth(auth.PermCodesDelete, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.disableAccessCode(w, r, id)
	})).ServeHTTP(w, r)
}

// disableAccessCode flags the code off. The row survives so the audit trail
// and its display_code do.
func (a *API) disableAccessCode(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.codes.Disable(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, auth.ErrNotFound):
			writeError(w, r, http.StatusNotFound, "access code not found")
		case errors.Is(err, auth.ErrInvalidInput):
			writeError(w, r, http.StatusBadRequest, err.Error())
		default:
			a.internalError(w, r, "disable access code", err)
		}
		return
	}
	a.recorder.Record(r.Context(), actorID(r.Context()), "codes.disable", "access_code", id, nil, audit.FromRequest(r))
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
