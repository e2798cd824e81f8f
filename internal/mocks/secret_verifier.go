package mocks

import "github.com/phrazzld/lottery-keeper/internal/service/auth"

// MockSecretVerifier implements auth.SecretVerifier for testing
type MockSecretVerifier struct {
	// Secret is the only value Verify accepts when VerifyFn is nil
	Secret   string
	VerifyFn func(secret string) error

	// VerifyCallCount tracks how many times Verify was called
	VerifyCallCount int
}

var _ auth.SecretVerifier = (*MockSecretVerifier)(nil)

// Verify implements the auth.SecretVerifier interface
func (m *MockSecretVerifier) Verify(secret string) error {
	m.VerifyCallCount++
	if m.VerifyFn != nil {
		return m.VerifyFn(secret)
	}
	if m.Secret == "" || secret != m.Secret {
		return auth.ErrInvalidSecret
	}
	return nil
}
