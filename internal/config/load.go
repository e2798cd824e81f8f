package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable the loader reads,
// e.g. LOTTERY_SERVER_PORT or LOTTERY_TASK_TICK_INTERVAL.
const EnvPrefix = "LOTTERY"

// LoadOptions tunes where Load looks for configuration.
type LoadOptions struct {
	// ConfigFile is an explicit path to a YAML config file. When empty, Load
	// looks for config.yaml in the working directory and ignores its absence.
	ConfigFile string
	// DotEnvFiles are loaded into the process environment before reading
	// variables. Missing files are ignored.
	DotEnvFiles []string
}

// Load configuration from environment variables and optionally config files.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	return LoadWithOptions(LoadOptions{DotEnvFiles: []string{".env"}})
}

// LoadWithOptions is Load with explicit file locations.
func LoadWithOptions(opts LoadOptions) (*Config, error) {
	for _, file := range opts.DotEnvFiles {
		// godotenv never overrides variables that are already set
		_ = godotenv.Load(file)
	}

	v := viper.New()
	setDefaults(v)

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.ConfigFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// viper does not split comma separated env values for slices
	if len(cfg.Events.KafkaBrokers) == 1 && strings.Contains(cfg.Events.KafkaBrokers[0], ",") {
		cfg.Events.KafkaBrokers = strings.Split(cfg.Events.KafkaBrokers[0], ",")
	}
	cfg.Database.Driver = cfg.Store.Driver

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cfg against its struct tags.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.mongo_database", "taskQueue")

	v.SetDefault("task.tick_interval", 5*time.Second)
	v.SetDefault("task.confirm_attempts", 10)
	v.SetDefault("task.confirm_interval", 5*time.Second)
	v.SetDefault("task.stale_task_age", 30*time.Minute)
	v.SetDefault("task.stale_check_interval", 5*time.Minute)
	v.SetDefault("task.inline_processing", false)
	v.SetDefault("task.shutdown_drain_timeout", 2*time.Minute)

	v.SetDefault("ledger.mode", "gateway")
	v.SetDefault("ledger.timeout", 30*time.Second)

	v.SetDefault("auth.token_lifetime_minutes", 60)

	v.SetDefault("events.kafka_topic", "lottery.tasks")
	v.SetDefault("events.nats_subject", "lottery.tasks")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "lottery-keeper")
}

// bindEnvs registers every key so AutomaticEnv resolves variables for keys
// that have neither a default nor a config file entry.
func bindEnvs(v *viper.Viper) {
	keys := []string{
		"database.url",
		"store.mongo_uri",
		"ledger.gateway_url",
		"ledger.program_id",
		"ledger.admin_key",
		"auth.jwt_secret",
		"auth.cron_secret_hash",
		"events.kafka_brokers",
		"events.nats_url",
	}
	for _, key := range keys {
		_ = v.BindEnv(key)
	}
}
