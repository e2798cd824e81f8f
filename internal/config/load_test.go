package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "a-very-long-secret-key-that-is-at-least-32-chars"

func setMinimalEnv(t *testing.T) {
	t.Helper()
	t.Setenv("LOTTERY_STORE_DRIVER", "memory")
	t.Setenv("LOTTERY_LEDGER_MODE", "simulated")
	t.Setenv("LOTTERY_AUTH_JWT_SECRET", testSecret)
}

func TestLoad_DefaultsFromEnv(t *testing.T) {
	setMinimalEnv(t)

	cfg, err := LoadWithOptions(LoadOptions{ConfigFile: "", DotEnvFiles: nil})
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 5*time.Second, cfg.Task.TickInterval)
	assert.Equal(t, 10, cfg.Task.ConfirmAttempts)
	assert.Equal(t, 5*time.Second, cfg.Task.ConfirmInterval)
	assert.Equal(t, 30*time.Minute, cfg.Task.StaleTaskAge)
	assert.False(t, cfg.Task.InlineProcessing)
	assert.Equal(t, testSecret, cfg.Auth.JWTSecret)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("LOTTERY_SERVER_PORT", "9090")
	t.Setenv("LOTTERY_TASK_TICK_INTERVAL", "250ms")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
server:
  port: 7070
  log_level: debug
task:
  confirm_attempts: 3
  inline_processing: true
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := LoadWithOptions(LoadOptions{ConfigFile: path})
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
	assert.Equal(t, 250*time.Millisecond, cfg.Task.TickInterval)
	assert.Equal(t, 3, cfg.Task.ConfirmAttempts)
	assert.True(t, cfg.Task.InlineProcessing)
}

func TestLoad_DotEnvFile(t *testing.T) {
	t.Setenv("LOTTERY_STORE_DRIVER", "memory")
	t.Setenv("LOTTERY_LEDGER_MODE", "simulated")

	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("LOTTERY_AUTH_JWT_SECRET="+testSecret+"\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("LOTTERY_AUTH_JWT_SECRET") })

	cfg, err := LoadWithOptions(LoadOptions{DotEnvFiles: []string{envPath}})
	require.NoError(t, err)
	assert.Equal(t, testSecret, cfg.Auth.JWTSecret)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	setMinimalEnv(t)

	_, err := LoadWithOptions(LoadOptions{ConfigFile: filepath.Join(t.TempDir(), "nope.yaml")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoad_KafkaBrokersFromEnv(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("LOTTERY_EVENTS_KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := LoadWithOptions(LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Events.KafkaBrokers)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server: ServerConfig{Port: 8080, LogLevel: "info"},
			Store:  StoreConfig{Driver: "memory"},
			Task: TaskConfig{
				TickInterval:       time.Second,
				ConfirmAttempts:    10,
				ConfirmInterval:    time.Second,
				StaleTaskAge:       time.Minute,
				StaleCheckInterval: time.Minute,
			},
			Ledger: LedgerConfig{Mode: "simulated", Timeout: time.Second},
			Auth:   AuthConfig{JWTSecret: testSecret, TokenLifetimeMinutes: 60},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, true},
		{"bad log level", func(c *Config) { c.Server.LogLevel = "verbose" }, true},
		{"unknown store driver", func(c *Config) { c.Store.Driver = "sqlite" }, true},
		{"postgres without url", func(c *Config) {
			c.Store.Driver = "postgres"
			c.Database.Driver = "postgres"
		}, true},
		{"postgres with url", func(c *Config) {
			c.Store.Driver = "postgres"
			c.Database.Driver = "postgres"
			c.Database.URL = "postgres://localhost/lottery"
		}, false},
		{"mongo without uri", func(c *Config) { c.Store.Driver = "mongo" }, true},
		{"gateway without url", func(c *Config) { c.Ledger.Mode = "gateway" }, true},
		{"short jwt secret", func(c *Config) { c.Auth.JWTSecret = "short" }, true},
		{"zero confirm attempts", func(c *Config) { c.Task.ConfirmAttempts = 0 }, true},
		{"kafka brokers without topic", func(c *Config) { c.Events.KafkaBrokers = []string{"k:9092"} }, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			err := Validate(cfg)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
