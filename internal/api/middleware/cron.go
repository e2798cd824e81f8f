package middleware

import (
	"errors"
	"net/http"

	"github.com/phrazzld/lottery-keeper/internal/api/shared"
	"github.com/phrazzld/lottery-keeper/internal/service/auth"
)

// RequireSecret guards scheduled-trigger routes. The caller must send the
// shared secret as a bearer token; it is checked against the configured hash.
func RequireSecret(verifier auth.SecretVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			secret, ok := bearerToken(r)
			if !ok {
				shared.RespondWithError(w, r, http.StatusUnauthorized, "Unauthorized")
				return
			}
			if err := verifier.Verify(secret); err != nil {
				if errors.Is(err, auth.ErrSecretNotConfigured) {
					shared.RespondWithErrorAndLog(w, r, http.StatusServiceUnavailable,
						"Scheduled trigger is not configured", err)
					return
				}
				shared.RespondWithErrorAndLog(w, r, http.StatusUnauthorized, "Unauthorized", err,
					shared.WithElevatedLogLevel())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
