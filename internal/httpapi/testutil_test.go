package httpapi

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"gatecode.org/internal/audit"
	"gatecode.org/internal/auth"
	"gatecode.org/internal/ratelimit"
)

// memStore is an in-memory auth.Store for handler tests.
type memStore struct {
	mu      sync.Mutex
	seq     int
	users   map[string]*auth.User
	codes   map[string]*auth.AccessCode
	audit   []*auth.AuditEntry
	touches int
}

func newMemStore() *memStore {
	return &memStore{
		users: make(map[string]*auth.User),
		codes: make(map[string]*auth.AccessCode),
	}
}

func (s *memStore) nextID(prefix string) string {
	s.seq++
	return prefix + "-" + strconv.Itoa(s.seq)
}

func (s *memStore) Users() auth.UserStore             { return &memUsers{s} }
func (s *memStore) AccessCodes() auth.AccessCodeStore { return &memCodes{s} }
func (s *memStore) Sessions() auth.SessionStore       { return &memSessions{s} }
func (s *memStore) Audit() auth.AuditStore            { return &memAudit{s} }

func (s *memStore) addUser(u *auth.User) *auth.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = s.nextID("user")
	}
	cp := *u
	s.users[u.ID] = &cp
	return u
}

type memUsers struct{ s *memStore }

func (m *memUsers) Create(ctx context.Context, u *auth.User) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if u.ID == "" {
		u.ID = m.s.nextID("user")
	}
	cp := *u
	m.s.users[u.ID] = &cp
	return nil
}

func (m *memUsers) Find(ctx context.Context, id string) (*auth.User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u, ok := m.s.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) FindByExternalID(ctx context.Context, externalID string) (*auth.User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, u := range m.s.users {
		if u.ExternalID == externalID && externalID != "" {
			cp := *u
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (m *memUsers) List(ctx context.Context) ([]*auth.User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []*auth.User
	for _, u := range m.s.users {
		cp := *u
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memUsers) Update(ctx context.Context, id string, upd auth.UserUpdate) (*auth.User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u, ok := m.s.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	if upd.DisplayName != nil {
		u.DisplayName = *upd.DisplayName
	}
	if upd.Role != nil {
		u.Role = *upd.Role
	}
	if upd.IsActive != nil {
		u.IsActive = *upd.IsActive
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if u, ok := m.s.users[id]; ok {
		t := at
		u.LastLoginAt = &t
	}
	return nil
}

type memCodes struct{ s *memStore }

func (m *memCodes) Create(ctx context.Context, c *auth.AccessCode) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if c.ID == "" {
		c.ID = m.s.nextID("code")
	}
	cp := *c
	m.s.codes[c.ID] = &cp
	return nil
}

func (m *memCodes) Find(ctx context.Context, id string) (*auth.AccessCode, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	c, ok := m.s.codes[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memCodes) ListActive(ctx context.Context) ([]*auth.AccessCode, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	now := time.Now()
	var out []*auth.AccessCode
	for _, c := range m.s.codes {
		if c.IsDisabled || c.Expired(now) {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memCodes) List(ctx context.Context) ([]*auth.AccessCode, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []*auth.AccessCode
	for _, c := range m.s.codes {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memCodes) Redeem(ctx context.Context, id, redeemedBy string, at time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	c, ok := m.s.codes[id]
	if !ok || c.IsDisabled || c.Expired(at) || c.Exhausted() {
		return auth.ErrInvalidCode
	}
	c.UsesCount++
	t := at
	c.LastUsedAt = &t
	c.LastUsedBy = redeemedBy
	return nil
}

func (m *memCodes) Disable(ctx context.Context, id string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	c, ok := m.s.codes[id]
	if !ok {
		return auth.ErrNotFound
	}
	c.IsDisabled = true
	return nil
}

type memSessions struct{ s *memStore }

func (m *memSessions) TouchActivity(ctx context.Context, tokenID, userID string, at time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.touches++
	return nil
}

type memAudit struct{ s *memStore }

func (m *memAudit) Append(ctx context.Context, entry *auth.AuditEntry) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = m.s.nextID("audit")
	}
	m.s.audit = append(m.s.audit, entry)
	return nil
}

func (m *memAudit) List(ctx context.Context, filter auth.AuditFilter) ([]*auth.AuditEntry, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []*auth.AuditEntry
	for _, e := range m.s.audit {
		if filter.ActorUserID != "" && e.ActorUserID != filter.ActorUserID {
			continue
		}
		if filter.ResourceType != "" && e.ResourceType != filter.ResourceType {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// newTestAPI wires an API around the in-memory store with the token secret
// configured for the duration of the test.
func newTestAPI(t *testing.T) (*API, *memStore) {
	t.Helper()
	t.Setenv("GATECODE_AUTH_SECRET", "handler-test-secret")
	auth.ResetSecretForTests()
	t.Cleanup(auth.ResetSecretForTests)

	store := newMemStore()
	codes, err := auth.NewCodeService(store)
	if err != nil {
		t.Fatalf("NewCodeService: %v", err)
	}
	limiter := ratelimit.NewWithClock(time.Now)
	api := New(store, codes, audit.NewRecorder(store.Audit()), limiter, ReadyProbe{}, Config{Version: "test"})
	return api, store
}

func sessionFor(t *testing.T, user *auth.User) string {
	t.Helper()
	token, _, err := auth.IssueSession(user, time.Hour)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	return token
}
