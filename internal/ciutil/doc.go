// Package ciutil resolves the environment of integration tests: whether the
// run happens in CI and which Postgres and MongoDB instances to use.
// Integration tests skip themselves when no instance is configured.
package ciutil
