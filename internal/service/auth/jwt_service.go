package auth

import (
	"context"
	"time"
)

// RoleOperator is the only role the task API recognizes. Operator tokens
// unlock the debug, force and reset task routes.
const RoleOperator = "operator"

// JWTService issues and validates operator bearer tokens.
type JWTService interface {
	// GenerateToken creates a signed operator token for the named operator.
	GenerateToken(ctx context.Context, operator string) (string, error)

	// ValidateToken validates the token and extracts its claims. It returns
	// ErrExpiredToken, ErrInvalidToken or ErrWrongRole on failure.
	ValidateToken(ctx context.Context, tokenString string) (*Claims, error)
}

// Claims are the validated claims of an operator token.
type Claims struct {
	Operator  string    `json:"sub,omitempty"`
	Role      string    `json:"role,omitempty"`
	IssuedAt  time.Time `json:"iat,omitempty"`
	ExpiresAt time.Time `json:"exp,omitempty"`
	ID        string    `json:"jti,omitempty"`
}
