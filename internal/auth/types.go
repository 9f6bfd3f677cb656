package auth

import "time"

// User is an identity record. Users are never deleted, only deactivated.
type User struct {
	ID          string     `json:"id"`
	ExternalID  string     `json:"external_id,omitempty"`
	Email       string     `json:"email,omitempty"`
	DisplayName string     `json:"display_name"`
	Role        Role       `json:"role"`
	IsActive    bool       `json:"is_active"`
	CreatedAt   time.Time  `json:"created_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// AccessCode is a shareable secret stored only as a one-way hash.
// The plaintext is knowable to the system at the instant of creation
// and never again.
type AccessCode struct {
	ID           string     `json:"id"`
	CodeHash     string     `json:"-"`
	DisplayCode  string     `json:"display_code"`
	RoleToAssign Role       `json:"role_to_assign"`
	MaxUses      *int       `json:"max_uses,omitempty"`
	UsesCount    int        `json:"uses_count"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	IsDisabled   bool       `json:"is_disabled"`
	Note         string     `json:"note,omitempty"`
	CreatedBy    string     `json:"created_by,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
	LastUsedBy   string     `json:"last_used_by,omitempty"`
}

// Exhausted reports whether the usage limit has been reached.
func (c *AccessCode) Exhausted() bool {
	return c.MaxUses != nil && c.UsesCount >= *c.MaxUses
}

// Expired reports whether the code's validity window has passed.
func (c *AccessCode) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}

// UserUpdate carries partial user mutations. Nil fields are left untouched.
type UserUpdate struct {
	DisplayName *string
	Role        *Role
	IsActive    *bool
}

// AuditEntry is one row of the append-only privileged-action log.
type AuditEntry struct {
	ID           string         `json:"id"`
	OccurredAt   time.Time      `json:"occurred_at"`
	ActorUserID  string         `json:"actor_user_id,omitempty"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	RemoteAddr   string         `json:"remote_addr,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
}

// AuditFilter narrows audit log listings.
type AuditFilter struct {
	ActorUserID  string
	ResourceType string
	Limit        int
	Offset       int
}
