package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/lottery-keeper/internal/config"
	"github.com/phrazzld/lottery-keeper/internal/platform/logger"
)

const (
	tokenIssuer   = "lottery-keeper"
	minSecretLen  = 32
	tokenLeeway   = 2 * time.Minute
	signingMethod = "HS256"
)

type operatorClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// operatorTokens signs and checks HS256 operator tokens.
type operatorTokens struct {
	key      []byte
	lifetime time.Duration
	now      func() time.Time
	parser   *jwt.Parser
}

var _ JWTService = (*operatorTokens)(nil)

// NewJWTService returns the operator token service for cfg.
func NewJWTService(cfg config.AuthConfig) (JWTService, error) {
	if len(cfg.JWTSecret) < minSecretLen {
		return nil, fmt.Errorf("jwt secret must be at least %d characters", minSecretLen)
	}
	return newOperatorTokens(cfg.JWTSecret, time.Duration(cfg.TokenLifetimeMinutes)*time.Minute, time.Now), nil
}

func newOperatorTokens(secret string, lifetime time.Duration, now func() time.Time) *operatorTokens {
	return &operatorTokens{
		key:      []byte(secret),
		lifetime: lifetime,
		now:      now,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{signingMethod}),
			jwt.WithIssuer(tokenIssuer),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(tokenLeeway),
			jwt.WithTimeFunc(now),
		),
	}
}

func (s *operatorTokens) GenerateToken(ctx context.Context, operator string) (string, error) {
	if operator == "" {
		return "", errors.New("operator name is required")
	}
	now := s.now()
	claims := operatorClaims{
		Role: RoleOperator,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   operator,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.lifetime)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		logger.FromContext(ctx).ErrorContext(ctx, "sign operator token", "operator", operator, "error", err)
		return "", fmt.Errorf("sign operator token: %w", err)
	}
	return signed, nil
}

func (s *operatorTokens) keyFunc(*jwt.Token) (any, error) {
	return s.key, nil
}

func (s *operatorTokens) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	var claims operatorClaims
	if _, err := s.parser.ParseWithClaims(tokenString, &claims, s.keyFunc); err != nil {
		mapped := classifyTokenError(err)
		logger.FromContext(ctx).DebugContext(ctx, "operator token rejected",
			"reason", mapped.Error(),
			"error", err)
		return nil, mapped
	}

	switch {
	case claims.Subject == "":
		return nil, ErrInvalidToken
	case claims.Role != RoleOperator:
		logger.FromContext(ctx).DebugContext(ctx, "operator token rejected",
			"reason", ErrWrongRole.Error(),
			"role", claims.Role)
		return nil, ErrWrongRole
	}

	out := &Claims{Operator: claims.Subject, Role: claims.Role, ID: claims.ID}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	out.ExpiresAt = claims.ExpiresAt.Time
	return out, nil
}

func classifyTokenError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpiredToken
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return ErrTokenNotYetValid
	default:
		return ErrInvalidToken
	}
}
