package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func setTestSecret(t *testing.T) {
	t.Helper()
	t.Setenv(secretEnvVariable, "test-secret-value")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)
}

func TestIssueAndVerifySession(t *testing.T) {
	setTestSecret(t)

	user := &User{ID: "user-1", ExternalID: "ext-77", Role: RoleEditor, IsActive: true}
	token, expiresAt, err := IssueSession(user, time.Hour)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Fatalf("expected future expiration, got %v", expiresAt)
	}

	claims, err := VerifySession(token)
	if err != nil {
		t.Fatalf("VerifySession: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.Role != RoleEditor {
		t.Fatalf("unexpected role: %s", claims.Role)
	}
	if claims.ExternalID != "ext-77" {
		t.Fatalf("unexpected external id: %s", claims.ExternalID)
	}
	if claims.ID == "" {
		t.Fatal("expected a token id")
	}
}

func TestVerifySessionExpired(t *testing.T) {
	setTestSecret(t)

	user := &User{ID: "user-1", Role: RoleViewer}
	token, _, err := IssueSession(user, time.Nanosecond)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	if _, err := VerifySession(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired session, got %v", err)
	}
}

func TestVerifySessionTampered(t *testing.T) {
	setTestSecret(t)

	user := &User{ID: "user-1", Role: RoleViewer}
	token, _, err := IssueSession(user, time.Hour)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token shape: %d segments", len(parts))
	}
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))
	if _, err := VerifySession(tampered); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for bad signature, got %v", err)
	}

	if _, err := VerifySession("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for malformed token, got %v", err)
	}
	if _, err := VerifySession(""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for empty token, got %v", err)
	}
}

func TestVerifySessionRejectsForeignAlgorithm(t *testing.T) {
	setTestSecret(t)

	claims := SessionClaims{
		Role: RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   "user-1",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	// "none" carries no signature at all; the verifier pins HS256 and must
	// refuse it even though the claims are otherwise well formed.
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none token: %v", err)
	}
	if _, err := VerifySession(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for alg=none, got %v", err)
	}
}

func TestVerifySessionUnknownRole(t *testing.T) {
	setTestSecret(t)

	claims := SessionClaims{
		Role: Role("superuser"),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   "user-1",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret-value"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := VerifySession(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for unknown role claim, got %v", err)
	}
}

func TestIssueSessionMissingSecret(t *testing.T) {
	t.Setenv(secretEnvVariable, "")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)

	if _, _, err := IssueSession(&User{ID: "u", Role: RoleViewer}, time.Hour); err == nil {
		t.Fatal("expected error when secret is not configured")
	}
}

func TestIssueSessionInvalidInput(t *testing.T) {
	setTestSecret(t)

	if _, _, err := IssueSession(nil, time.Hour); err == nil {
		t.Fatal("expected error for nil user")
	}
	if _, _, err := IssueSession(&User{ID: "u"}, 0); err == nil {
		t.Fatal("expected error for non-positive ttl")
	}
}
