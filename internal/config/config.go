package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Store     StoreConfig     `mapstructure:"store" validate:"required"`
	Task      TaskConfig      `mapstructure:"task" validate:"required"`
	Ledger    LedgerConfig    `mapstructure:"ledger" validate:"required"`
	Auth      AuthConfig      `mapstructure:"auth" validate:"required"`
	Events    EventsConfig    `mapstructure:"events"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains the Postgres connection settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required_if=Driver postgres"`
	// Driver mirrors StoreConfig.Driver so the conditional rule above can see it.
	Driver string `mapstructure:"-"`
}

// StoreConfig selects and configures the task record store backend.
type StoreConfig struct {
	Driver        string `mapstructure:"driver" validate:"required,oneof=postgres mongo memory"`
	MongoURI      string `mapstructure:"mongo_uri" validate:"required_if=Driver mongo"`
	MongoDatabase string `mapstructure:"mongo_database" validate:"required_if=Driver mongo"`
}

// TaskConfig contains the scheduler, poller and API behaviour settings.
type TaskConfig struct {
	TickInterval         time.Duration `mapstructure:"tick_interval" validate:"required,gt=0"`
	ConfirmAttempts      int           `mapstructure:"confirm_attempts" validate:"required,gt=0"`
	ConfirmInterval      time.Duration `mapstructure:"confirm_interval" validate:"required,gt=0"`
	StaleTaskAge         time.Duration `mapstructure:"stale_task_age" validate:"required,gt=0"`
	StaleCheckInterval   time.Duration `mapstructure:"stale_check_interval" validate:"required,gt=0"`
	InlineProcessing     bool          `mapstructure:"inline_processing"`
	ShutdownDrainTimeout time.Duration `mapstructure:"shutdown_drain_timeout" validate:"gte=0"`
}

// LedgerConfig points the service at the external ledger program and oracle.
type LedgerConfig struct {
	// Mode is "gateway" for the HTTP ledger gateway or "simulated" for the
	// in-process ledger used in local development.
	Mode       string        `mapstructure:"mode" validate:"required,oneof=gateway simulated"`
	GatewayURL string        `mapstructure:"gateway_url" validate:"required_if=Mode gateway"`
	ProgramID  string        `mapstructure:"program_id" validate:"required_if=Mode gateway"`
	AdminKey   string        `mapstructure:"admin_key" validate:"required_if=Mode gateway"`
	Timeout    time.Duration `mapstructure:"timeout" validate:"required,gt=0"`
}

// AuthConfig contains operator and cron authentication settings.
type AuthConfig struct {
	JWTSecret            string `mapstructure:"jwt_secret" validate:"required,min=32"`
	TokenLifetimeMinutes int    `mapstructure:"token_lifetime_minutes" validate:"required,gt=0"`
	// CronSecretHash is a bcrypt hash of the bearer secret the cron trigger sends.
	CronSecretHash string `mapstructure:"cron_secret_hash"`
}

// EventsConfig enables the optional lifecycle event sinks.
type EventsConfig struct {
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	KafkaTopic   string   `mapstructure:"kafka_topic" validate:"required_with=KafkaBrokers"`
	NATSURL      string   `mapstructure:"nats_url"`
	NATSSubject  string   `mapstructure:"nats_subject" validate:"required_with=NATSURL"`
}

// TelemetryConfig controls the OpenTelemetry SDK.
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name" validate:"required_if=Enabled true"`
}
