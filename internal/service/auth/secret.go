package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// SecretVerifier checks a presented shared secret, such as the cron trigger's
// bearer secret, against a stored hash.
type SecretVerifier interface {
	Verify(secret string) error
}

// BcryptVerifier implements SecretVerifier using bcrypt.
type BcryptVerifier struct {
	hash []byte
}

// NewBcryptVerifier creates a verifier for the given bcrypt hash. An empty
// hash yields a verifier that rejects everything with ErrSecretNotConfigured.
func NewBcryptVerifier(hash string) *BcryptVerifier {
	return &BcryptVerifier{hash: []byte(hash)}
}

// Verify implements SecretVerifier.
func (v *BcryptVerifier) Verify(secret string) error {
	if len(v.hash) == 0 {
		return ErrSecretNotConfigured
	}
	err := bcrypt.CompareHashAndPassword(v.hash, []byte(secret))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrInvalidSecret
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	return nil
}

// HashSecret returns the bcrypt hash of secret at the given cost. A cost
// outside bcrypt's range falls back to bcrypt.DefaultCost.
func HashSecret(secret string, cost int) (string, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}
	return string(hash), nil
}
