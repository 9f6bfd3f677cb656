package auth

import "errors"

var (
	// ErrInvalidCode covers every redemption failure mode: unknown code,
	// expired, exhausted, disabled. Callers must not learn which one applied.
	ErrInvalidCode = errors.New("auth: invalid code")

	// ErrInvalidToken indicates the session token failed verification.
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrGenerationExhausted means no unique code could be produced within
	// the bounded attempt budget.
	ErrGenerationExhausted = errors.New("auth: code generation exhausted")

	ErrNotFound     = errors.New("auth: not found")
	ErrForbidden    = errors.New("auth: forbidden")
	ErrInvalidInput = errors.New("auth: invalid input")
)
