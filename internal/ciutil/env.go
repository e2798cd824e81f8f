package ciutil

import (
	"log/slog"
	"os"
	"strings"
)

// Environment variables read by the integration test helpers.
const (
	EnvCI            = "CI"
	EnvGitHubActions = "GITHUB_ACTIONS"
	EnvGitLabCI      = "GITLAB_CI"

	// Preferred names come first; the unprefixed names match what local
	// docker-compose setups usually export.
	EnvTestDatabaseURL = "LOTTERY_TEST_DATABASE_URL"
	EnvDatabaseURL     = "DATABASE_URL"
	EnvTestMongoURI    = "LOTTERY_TEST_MONGO_URI"
	EnvMongoURI        = "MONGO_URI"
)

// IsCI reports whether the process runs under a CI provider.
func IsCI() bool {
	return os.Getenv(EnvCI) != "" ||
		os.Getenv(EnvGitHubActions) != "" ||
		os.Getenv(EnvGitLabCI) != ""
}

// GetEnvWithFallbacks returns the value of the first non-empty variable in
// envVars, or defaultValue. Using anything but the first name is logged.
func GetEnvWithFallbacks(envVars []string, defaultValue string, logger *slog.Logger) string {
	for i, envVar := range envVars {
		val := os.Getenv(envVar)
		if val == "" {
			continue
		}
		if i > 0 && logger != nil {
			logger.Debug("using fallback environment variable",
				"used_var", envVar,
				"preferred_var", envVars[0],
				"value", MaskSensitiveValue(val))
		}
		return val
	}
	return defaultValue
}

// TestDatabaseURL returns the Postgres URL for integration tests, or "".
func TestDatabaseURL(logger *slog.Logger) string {
	return GetEnvWithFallbacks([]string{EnvTestDatabaseURL, EnvDatabaseURL}, "", logger)
}

// TestMongoURI returns the MongoDB URI for integration tests, or "".
func TestMongoURI(logger *slog.Logger) string {
	return GetEnvWithFallbacks([]string{EnvTestMongoURI, EnvMongoURI}, "", logger)
}

// MaskSensitiveValue hides the password of a connection URL so the value
// can be logged.
func MaskSensitiveValue(value string) string {
	scheme, rest, ok := strings.Cut(value, "://")
	if !ok {
		return value
	}
	userinfo, host, ok := strings.Cut(rest, "@")
	if !ok {
		return value
	}
	user, _, hasPassword := strings.Cut(userinfo, ":")
	if !hasPassword {
		return value
	}
	return scheme + "://" + user + ":****@" + host
}
