package auth

import "errors"

// Common authentication errors
var (
	// ErrInvalidToken indicates the token format is invalid or signature doesn't match
	ErrInvalidToken = errors.New("invalid authentication token")

	// ErrExpiredToken indicates the token has expired
	ErrExpiredToken = errors.New("authentication token has expired")

	// ErrTokenNotYetValid indicates the token is not yet valid (nbf claim in the future)
	ErrTokenNotYetValid = errors.New("authentication token not yet valid")

	// ErrMissingToken indicates a token was expected but not provided
	ErrMissingToken = errors.New("authentication token is missing")

	// ErrWrongRole indicates a valid token that does not carry the operator role
	ErrWrongRole = errors.New("authentication token lacks the operator role")

	// ErrInvalidSecret indicates a shared secret did not match its stored hash
	ErrInvalidSecret = errors.New("invalid shared secret")

	// ErrSecretNotConfigured indicates no hash is configured for the secret
	ErrSecretNotConfigured = errors.New("shared secret is not configured")
)
