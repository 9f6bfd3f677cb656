package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"
)

// CodeFormat selects the plaintext alphabet for generated codes.
type CodeFormat string

const (
	// FormatGrouped is the default: 12 characters from A-Z0-9 rendered as
	// XXXX-XXXX-XXXX. Entropy is high enough that collisions are not checked.
	FormatGrouped CodeFormat = "grouped"
	// FormatNumeric is the 6-digit end-user entry form. The space is small,
	// so generation probes existing active codes and retries on collision.
	FormatNumeric CodeFormat = "numeric"
)

const (
	groupedAlphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	groupedLength     = 12
	numericLength     = 6
	maxNumericRetries = 10
)

// GenerateParams describes a code to mint.
type GenerateParams struct {
	RoleToAssign Role
	MaxUses      *int
	ExpiresAt    *time.Time
	Note         string
	CreatedBy    string
	Format       CodeFormat
}

// CodeService owns the access-code lifecycle: generation, redemption,
// disabling and listing. It holds no state beyond its collaborators.
type CodeService struct {
	store Store
	now   func() time.Time
	rand  io.Reader
}

// CodeServiceOption configures CodeService behavior.
type CodeServiceOption func(*CodeService)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) CodeServiceOption {
	return func(s *CodeService) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithRandReader overrides the entropy source (useful for tests).
func WithRandReader(r io.Reader) CodeServiceOption {
	return func(s *CodeService) {
		if r != nil {
			s.rand = r
		}
	}
}

// NewCodeService constructs a CodeService.
func NewCodeService(store Store, opts ...CodeServiceOption) (*CodeService, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	svc := &CodeService{
		store: store,
		now:   time.Now,
		rand:  rand.Reader,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Generate mints a new access code and returns the plaintext exactly once.
// The plaintext is hashed before persistence and is never re-derivable;
// losing it means generating a new code.
func (s *CodeService) Generate(ctx context.Context, p GenerateParams) (string, *AccessCode, error) {
	if !p.RoleToAssign.Valid() {
		return "", nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, p.RoleToAssign)
	}
	if p.MaxUses != nil && *p.MaxUses <= 0 {
		return "", nil, fmt.Errorf("%w: max_uses must be positive", ErrInvalidInput)
	}
	if p.ExpiresAt != nil && !p.ExpiresAt.After(s.now()) {
		return "", nil, fmt.Errorf("%w: expires_at is in the past", ErrInvalidInput)
	}
	if p.Format == "" {
		p.Format = FormatGrouped
	}

	plaintext, err := s.mintPlaintext(ctx, p.Format)
	if err != nil {
		return "", nil, err
	}

	hash, err := HashSecret(NormalizeCode(plaintext))
	if err != nil {
		return "", nil, err
	}
	code := &AccessCode{
		CodeHash:     hash,
		DisplayCode:  maskCode(plaintext),
		RoleToAssign: p.RoleToAssign,
		MaxUses:      p.MaxUses,
		ExpiresAt:    p.ExpiresAt,
		Note:         strings.TrimSpace(p.Note),
		CreatedBy:    p.CreatedBy,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.AccessCodes().Create(ctx, code); err != nil {
		return "", nil, err
	}
	return plaintext, code, nil
}

func (s *CodeService) mintPlaintext(ctx context.Context, format CodeFormat) (string, error) {
	switch format {
	case FormatGrouped:
		raw, err := s.randomString(groupedAlphabet, groupedLength)
		if err != nil {
			return "", err
		}
		return raw[0:4] + "-" + raw[4:8] + "-" + raw[8:12], nil
	case FormatNumeric:
		// 10^6 candidates: probe the active set and retry on collision so
		// two live codes never share a plaintext.
		for attempt := 0; attempt < maxNumericRetries; attempt++ {
			candidate, err := s.randomString("0123456789", numericLength)
			if err != nil {
				return "", err
			}
			taken, err := s.plaintextInUse(ctx, candidate)
			if err != nil {
				return "", err
			}
			if !taken {
				return candidate, nil
			}
		}
		return "", ErrGenerationExhausted
	default:
		return "", fmt.Errorf("%w: unknown code format %q", ErrInvalidInput, format)
	}
}

func (s *CodeService) plaintextInUse(ctx context.Context, candidate string) (bool, error) {
	active, err := s.store.AccessCodes().ListActive(ctx)
	if err != nil {
		return false, err
	}
	normalized := NormalizeCode(candidate)
	for _, c := range active {
		if VerifySecret(c.CodeHash, normalized) {
			return true, nil
		}
	}
	return false, nil
}

func (s *CodeService) randomString(alphabet string, length int) (string, error) {
	bound := big.NewInt(int64(len(alphabet)))
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(s.rand, bound)
		if err != nil {
			return "", fmt.Errorf("read entropy: %w", err)
		}
		b.WriteByte(alphabet[n.Int64()])
	}
	return b.String(), nil
}

// Redeem checks a candidate plaintext against the active code set and, on a
// match, performs the race-safe usage increment at the store. Salted hashes
// cannot be looked up by equality, so this probes every active hash in turn;
// the cost is intentional and bounded by the active set size.
func (s *CodeService) Redeem(ctx context.Context, candidate, redeemedBy string) (*AccessCode, error) {
	normalized := NormalizeCode(candidate)
	if normalized == "" {
		return nil, ErrInvalidCode
	}

	active, err := s.store.AccessCodes().ListActive(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	for _, code := range active {
		// ListActive already excludes disabled and expired rows, but the
		// set may be stale by the time we probe it; re-check before the
		// expensive hash comparison.
		if code.Expired(now) || code.Exhausted() {
			continue
		}
		if !VerifySecret(code.CodeHash, normalized) {
			continue
		}
		if err := s.store.AccessCodes().Redeem(ctx, code.ID, redeemedBy, now); err != nil {
			return nil, err
		}
		code.UsesCount++
		code.LastUsedAt = &now
		code.LastUsedBy = redeemedBy
		return code, nil
	}
	return nil, ErrInvalidCode
}

// Disable flags a code off. Idempotent: disabling a disabled code succeeds.
// The row is kept so the audit trail and display_code survive.
func (s *CodeService) Disable(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: code id is required", ErrInvalidInput)
	}
	return s.store.AccessCodes().Disable(ctx, id)
}

// List returns code metadata. Hashes never leave the store layer's record,
// and the JSON shape of AccessCode excludes them.
func (s *CodeService) List(ctx context.Context) ([]*AccessCode, error) {
	return s.store.AccessCodes().List(ctx)
}

// NormalizeCode strips separators and upper-cases a candidate so redemption
// is insensitive to formatting differences.
func NormalizeCode(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range strings.ToUpper(strings.TrimSpace(raw)) {
		switch r {
		case '-', ' ', '\t':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// maskCode derives the display form. Only the 12-character format shows a
// prefix: its 8 hidden characters leave 36^8 completions. Shorter codes are
// masked entirely; revealing 4 of 6 digits would leave 100 candidates, a
// space any holder of codes:read could brute-force against the stored hash.
func maskCode(plaintext string) string {
	normalized := NormalizeCode(plaintext)
	if len(normalized) == groupedLength {
		return normalized[:4] + "-****-****"
	}
	return strings.Repeat("*", len(normalized))
}
