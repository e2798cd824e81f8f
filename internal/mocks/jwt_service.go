package mocks

import (
	"context"
	"sync"

	"github.com/phrazzld/lottery-keeper/internal/service/auth"
)

// MockJWTService implements auth.JWTService. Resolution order for
// ValidateToken: ValidateTokenFn, then Tokens, then Claims/ValidateErr.
type MockJWTService struct {
	GenerateTokenFn func(ctx context.Context, operator string) (string, error)
	ValidateTokenFn func(ctx context.Context, tokenString string) (*auth.Claims, error)

	// Tokens maps known bearer tokens to their claims; any other token is
	// rejected with auth.ErrInvalidToken.
	Tokens map[string]*auth.Claims

	Token       string
	Err         error
	Claims      *auth.Claims
	ValidateErr error

	mu        sync.Mutex
	validated []string
}

var _ auth.JWTService = (*MockJWTService)(nil)

func (m *MockJWTService) GenerateToken(ctx context.Context, operator string) (string, error) {
	if m.GenerateTokenFn != nil {
		return m.GenerateTokenFn(ctx, operator)
	}
	return m.Token, m.Err
}

func (m *MockJWTService) ValidateToken(ctx context.Context, tokenString string) (*auth.Claims, error) {
	m.mu.Lock()
	m.validated = append(m.validated, tokenString)
	m.mu.Unlock()

	switch {
	case m.ValidateTokenFn != nil:
		return m.ValidateTokenFn(ctx, tokenString)
	case m.Tokens != nil:
		if c, ok := m.Tokens[tokenString]; ok {
			return c, nil
		}
		return nil, auth.ErrInvalidToken
	default:
		return m.Claims, m.ValidateErr
	}
}

// Validated returns the tokens passed to ValidateToken, in call order.
func (m *MockJWTService) Validated() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.validated...)
}
