package audit

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"gatecode.org/internal/auth"
	"gatecode.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the audit request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// RequestMeta is the caller context captured alongside an audit entry.
type RequestMeta struct {
	RemoteAddr string
	UserAgent  string
}

// FromRequest extracts audit metadata from an HTTP request. Multi-value
// proxy headers are normalized to their first element.
func FromRequest(r *http.Request) RequestMeta {
	if r == nil {
		return RequestMeta{}
	}
	addr := r.RemoteAddr
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		addr = strings.TrimSpace(parts[0])
	} else if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	return RequestMeta{
		RemoteAddr: addr,
		UserAgent:  r.UserAgent(),
	}
}

// Recorder appends privileged actions to the persistent audit log. Audit
// writes are a side channel: Record never surfaces an error to the caller.
type Recorder struct {
	store auth.AuditStore
	now   func() time.Time
}

// NewRecorder constructs a Recorder. A nil store turns Record into a
// log-only no-op, which keeps tests and partial deployments working.
func NewRecorder(store auth.AuditStore) *Recorder {
	return &Recorder{store: store, now: time.Now}
}

// Record appends one entry. A failed write is reported to the operational
// error stream and then swallowed; the triggering business operation must
// never fail because auditing did.
func (r *Recorder) Record(ctx context.Context, actorUserID, action, resourceType, resourceID string, details map[string]any, meta RequestMeta) {
	if r == nil {
		return
	}
	entry := &auth.AuditEntry{
		OccurredAt:   r.now().UTC(),
		ActorUserID:  actorUserID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Details:      details,
		RemoteAddr:   meta.RemoteAddr,
		UserAgent:    meta.UserAgent,
	}
	if r.store == nil {
		r.logFallback(ctx, entry, nil)
		return
	}
	if err := r.store.Append(ctx, entry); err != nil {
		r.logFallback(ctx, entry, err)
	}
}

func (r *Recorder) logFallback(ctx context.Context, entry *auth.AuditEntry, appendErr error) {
	fields := map[string]any{
		"type":          "audit",
		"ts":            entry.OccurredAt.Format(time.RFC3339Nano),
		"action":        entry.Action,
		"resource_type": entry.ResourceType,
	}
	if entry.ActorUserID != "" {
		fields["actor_user_id"] = entry.ActorUserID
	}
	if entry.ResourceID != "" {
		fields["resource_id"] = entry.ResourceID
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		fields["request_id"] = rid
	}
	if appendErr != nil {
		obs.LogError("audit append failed", map[string]any{
			"action": entry.Action,
			"err":    appendErr.Error(),
		})
	}
	obs.LogRequest(fields)
}
