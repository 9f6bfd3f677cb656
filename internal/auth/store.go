package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Users() UserStore
	AccessCodes() AccessCodeStore
	Sessions() SessionStore
	Audit() AuditStore
}

// UserStore manages identity records.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByExternalID(ctx context.Context, externalID string) (*User, error)
	List(ctx context.Context) ([]*User, error)
	Update(ctx context.Context, id string, upd UserUpdate) (*User, error)
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
}

// AccessCodeStore manages code records. Codes are never hard-deleted.
type AccessCodeStore interface {
	Create(ctx context.Context, c *AccessCode) error
	Find(ctx context.Context, id string) (*AccessCode, error)
	// ListActive returns enabled, unexpired codes only; this is the set a
	// redemption attempt probes, so keeping it small is an operational goal.
	ListActive(ctx context.Context) ([]*AccessCode, error)
	List(ctx context.Context) ([]*AccessCode, error)
	// Redeem must perform the uses_count increment as a single conditional
	// update at the store so concurrent redemptions cannot pass max_uses.
	// It returns ErrInvalidCode when the guard fails.
	Redeem(ctx context.Context, id, redeemedBy string, at time.Time) error
	Disable(ctx context.Context, id string) error
}

// SessionStore tracks per-token activity for diagnostics.
type SessionStore interface {
	TouchActivity(ctx context.Context, tokenID, userID string, at time.Time) error
}

// AuditStore appends immutable entries.
type AuditStore interface {
	Append(ctx context.Context, entry *AuditEntry) error
	List(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error)
}
