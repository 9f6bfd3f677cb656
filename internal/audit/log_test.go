package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"gatecode.org/internal/auth"
	"gatecode.org/internal/obs"
)

type fakeAuditStore struct {
	entries []*auth.AuditEntry
	err     error
}

func (s *fakeAuditStore) Append(ctx context.Context, entry *auth.AuditEntry) error {
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *fakeAuditStore) List(ctx context.Context, filter auth.AuditFilter) ([]*auth.AuditEntry, error) {
	return s.entries, nil
}

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	logger := obs.Logger()
	original := logger.Writer()
	logger.SetFlags(0)
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.SetOutput(original) })
	return &buf
}

func TestRecordPersists(t *testing.T) {
	store := &fakeAuditStore{}
	rec := NewRecorder(store)

	rec.Record(context.Background(), "u1", "codes.create", "access_code", "c1",
		map[string]any{"role": "editor"}, RequestMeta{RemoteAddr: "10.0.0.1", UserAgent: "curl/8"})

	if len(store.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(store.entries))
	}
	e := store.entries[0]
	if e.ActorUserID != "u1" || e.Action != "codes.create" || e.ResourceID != "c1" {
		t.Fatalf("unexpected entry: %+v", e)
	}
	if e.OccurredAt.IsZero() {
		t.Fatal("expected a timestamp")
	}
	if e.RemoteAddr != "10.0.0.1" {
		t.Fatalf("unexpected remote addr: %s", e.RemoteAddr)
	}
}

func TestRecordSwallowsStoreFailure(t *testing.T) {
	buf := captureLog(t)
	rec := NewRecorder(&fakeAuditStore{err: errors.New("store down")})

	// Must not panic and must not surface the failure.
	rec.Record(context.Background(), "", "auth.code.redeem", "access_code", "", nil, RequestMeta{})

	out := buf.String()
	if !strings.Contains(out, "audit append failed") {
		t.Fatalf("expected operational error line, got: %s", out)
	}
	var hasFallback bool
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("log line is not JSON: %v (%s)", err, line)
		}
		if entry["type"] == "audit" {
			hasFallback = true
		}
	}
	if !hasFallback {
		t.Fatal("expected a fallback audit line")
	}
}

func TestRecordNilRecorderAndStore(t *testing.T) {
	captureLog(t)

	var rec *Recorder
	rec.Record(context.Background(), "", "a", "r", "", nil, RequestMeta{})

	NewRecorder(nil).Record(context.Background(), "", "a", "r", "", nil, RequestMeta{})
}

func TestFromRequestNormalizesForwardedFor(t *testing.T) {
	r := httptest.NewRequest("POST", "/auth/verify-code", nil)
	r.RemoteAddr = "192.0.2.1:38422"
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 70.41.3.18, 150.172.238.178")
	r.Header.Set("User-Agent", "test-agent")

	meta := FromRequest(r)
	if meta.RemoteAddr != "203.0.113.9" {
		t.Fatalf("expected first proxy hop, got %q", meta.RemoteAddr)
	}
	if meta.UserAgent != "test-agent" {
		t.Fatalf("unexpected user agent: %q", meta.UserAgent)
	}
}

func TestFromRequestFallsBackToRemoteAddr(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "192.0.2.1:38422"
	if meta := FromRequest(r); meta.RemoteAddr != "192.0.2.1" {
		t.Fatalf("expected host split from RemoteAddr, got %q", meta.RemoteAddr)
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-9")
	if got := RequestIDFromContext(ctx); got != "req-9" {
		t.Fatalf("unexpected request id: %q", got)
	}
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Fatalf("expected empty request id, got %q", got)
	}
	if ctx := WithRequestID(context.Background(), "  "); RequestIDFromContext(ctx) != "" {
		t.Fatal("blank request id should not be stored")
	}
}
