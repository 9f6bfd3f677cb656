package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"gatecode.org/internal/auth"
)

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	q := r.URL.Query()
	filter := auth.AuditFilter{
		ActorUserID:  strings.TrimSpace(q.Get("user_id")),
		ResourceType: strings.TrimSpace(q.Get("resource_type")),
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		filter.Offset = n
	}

	entries, err := a.store.Audit().List(r.Context(), filter)
	if err != nil {
		a.internalError(w, r, "list audit logs", err)
		return
	}
	if entries == nil {
		entries = []*auth.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}
