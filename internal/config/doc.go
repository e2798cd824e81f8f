// Package config handles configuration loading, parsing, and validation
// from a YAML file, a .env file and LOTTERY_-prefixed environment variables.
// It provides type-safe access to the settings of the task scheduler, the
// store backends, the ledger collaborators and the HTTP surface.
package config
