package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// hashCost keeps verification around tens of milliseconds so brute-forcing
// the active code set scales with hardware cost.
const hashCost = 10

// HashSecret hashes a plaintext access code with bcrypt.
func HashSecret(secret string) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("secret is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), hashCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifySecret compares a candidate against a stored hash. A structurally
// invalid hash counts as a mismatch rather than an error; bcrypt's own
// compare routine is constant-time over the digest.
func VerifySecret(hash, secret string) bool {
	if hash == "" || secret == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}
