package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/phrazzld/lottery-keeper/internal/api/shared"
	"github.com/phrazzld/lottery-keeper/internal/service/auth"
)

// AuthMiddleware provides operator JWT authentication for routes.
type AuthMiddleware struct {
	jwtService auth.JWTService
}

// NewAuthMiddleware creates a new AuthMiddleware with the given dependencies.
func NewAuthMiddleware(jwtService auth.JWTService) *AuthMiddleware {
	return &AuthMiddleware{
		jwtService: jwtService,
	}
}

// Identify validates a bearer token when one is present and adds the
// operator to the request context. Requests without an Authorization header
// pass through anonymously; a header that does not validate is rejected.
func (m *AuthMiddleware) Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			next.ServeHTTP(w, r)
			return
		}
		m.authenticate(w, r, next)
	})
}

// Authenticate requires a valid operator token on every request.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.authenticate(w, r, next)
	})
}

func (m *AuthMiddleware) authenticate(w http.ResponseWriter, r *http.Request, next http.Handler) {
	token, ok := bearerToken(r)
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Invalid authorization format")
		return
	}

	claims, err := m.jwtService.ValidateToken(r.Context(), token)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrExpiredToken):
			shared.RespondWithErrorAndLog(w, r, http.StatusUnauthorized, "Token expired", err)
		case errors.Is(err, auth.ErrInvalidToken),
			errors.Is(err, auth.ErrTokenNotYetValid),
			errors.Is(err, auth.ErrWrongRole):
			shared.RespondWithErrorAndLog(w, r, http.StatusUnauthorized, "Invalid token", err,
				shared.WithElevatedLogLevel())
		default:
			shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Authentication error", err)
		}
		return
	}

	ctx := shared.WithOperator(r.Context(), claims.Operator)
	next.ServeHTTP(w, r.WithContext(ctx))
}

// GetOperator extracts the authenticated operator from the request context.
func GetOperator(r *http.Request) (string, bool) {
	return shared.GetOperator(r.Context())
}

func bearerToken(r *http.Request) (string, bool) {
	parts := strings.Split(r.Header.Get("Authorization"), " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
