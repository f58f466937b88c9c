package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"rentalcore/internal/models"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	App         AppConfig         `yaml:"app"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Backup      BackupConfig      `yaml:"backup"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
	Logging     LoggingConfig     `yaml:"logging"`
	API         APIConfig         `yaml:"api"`
	Lifecycle   LifecycleConfig   `yaml:"lifecycle"`
	Reservation ReservationConfig `yaml:"reservation"`
	Settlement  SettlementConfig  `yaml:"settlement"`
	Refund      RefundConfig      `yaml:"refund"`
	Hooks       HooksConfig       `yaml:"hooks"`
	Fleet       FleetConfig       `yaml:"fleet"`
	Telegram    TelegramConfig    `yaml:"telegram"`
	Google      GoogleConfig      `yaml:"google"`
	Documents   DocumentsConfig   `yaml:"documents"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled" env:"RENTAL_API_ENABLED"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port" env:"RENTAL_HTTP_PORT"`
}

type APIGRPCConfig struct {
	Enabled    bool         `yaml:"enabled"`
	Port       int          `yaml:"port" env:"RENTAL_GRPC_PORT"`
	Reflection bool         `yaml:"reflection"`
	TLS        APITLSConfig `yaml:"tls"`
}

type APITLSConfig struct {
	Enabled           bool   `yaml:"enabled"`
	CertFile          string `yaml:"cert_file"`
	KeyFile           string `yaml:"key_file"`
	ClientCAFile      string `yaml:"client_ca_file"`
	RequireClientCert bool   `yaml:"require_client_cert"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment" env:"RENTAL_ENV"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Driver   string         `yaml:"driver" env:"RENTAL_DB_DRIVER"`
	Path     string         `yaml:"path" env:"RENTAL_DB_PATH"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type PostgresConfig struct {
	DSN      string `yaml:"dsn" env:"RENTAL_POSTGRES_DSN"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	Address  string `yaml:"address" env:"RENTAL_REDIS_ADDRESS"`
	Password string `yaml:"password" env:"RENTAL_REDIS_PASSWORD"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port" env:"RENTAL_PROMETHEUS_PORT"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" env:"RENTAL_LOG_LEVEL"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type LifecycleConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`
	SweepBatch    int           `yaml:"sweep_batch"`
}

type ReservationConfig struct {
	MaxAttempts       int `yaml:"max_attempts" env:"RENTAL_RESERVATION_MAX_ATTEMPTS"`
	UsageHistoryLimit int `yaml:"usage_history_limit"`
}

type SettlementConfig struct {
	PaymentMethods []models.PaymentMethod `yaml:"payment_methods"`
}

type RefundConfig struct {
	LeaseTTL time.Duration `yaml:"lease_ttl"`
}

type HooksConfig struct {
	Workers         int           `yaml:"workers"`
	QueueKey        string        `yaml:"queue_key"`
	DeadLetterKey   string        `yaml:"dead_letter_key"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	MaxRetries      int           `yaml:"max_retries"`
	RetryBaseDelay  time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay   time.Duration `yaml:"retry_max_delay"`
	LocalBufferSize int           `yaml:"local_buffer_size"`
}

type FleetConfig struct {
	BaseURL  string        `yaml:"base_url" env:"RENTAL_FLEET_URL"`
	APIKey   string        `yaml:"api_key" env:"RENTAL_FLEET_API_KEY"`
	APIExtra string        `yaml:"api_extra" env:"RENTAL_FLEET_API_EXTRA"`
	Timeout  time.Duration `yaml:"timeout"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token" env:"RENTAL_TELEGRAM_TOKEN"`
	Debug    bool   `yaml:"debug"`
}

type GoogleConfig struct {
	CredentialsFile     string `yaml:"credentials_file" env:"RENTAL_GOOGLE_CREDENTIALS"`
	LedgerSpreadsheetID string `yaml:"ledger_spreadsheet_id" env:"RENTAL_LEDGER_SPREADSHEET_ID"`
}

type DocumentsConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	if err := env.Parse(&config); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return errors.New("database path is required")
		}
	case DriverPostgres:
		if c.Database.Postgres.DSN == "" {
			return errors.New("postgres dsn is required")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	for _, m := range c.Settlement.PaymentMethods {
		if !models.IsKnownPaymentMethod(m) {
			return fmt.Errorf("unknown payment method %q", m)
		}
	}

	if c.Reservation.MaxAttempts > models.MaxReservationAttempts {
		return fmt.Errorf("reservation max_attempts must be at most %d", models.MaxReservationAttempts)
	}

	if c.API.Enabled && c.API.Auth.Enabled && len(c.API.Auth.APIKeys) == 0 {
		return errors.New("api auth enabled but no api keys configured")
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "rentalcore"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	if c.Database.Postgres.MaxConns == 0 {
		c.Database.Postgres.MaxConns = 10
	}

	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}

	if c.Lifecycle.SweepInterval == 0 {
		c.Lifecycle.SweepInterval = time.Minute
	}
	if c.Lifecycle.SweepBatch == 0 {
		c.Lifecycle.SweepBatch = 200
	}

	if c.Reservation.MaxAttempts <= 0 {
		c.Reservation.MaxAttempts = models.DefaultReservationAttempts
	}
	if c.Reservation.UsageHistoryLimit <= 0 {
		c.Reservation.UsageHistoryLimit = models.DefaultUsageHistoryLimit
	}

	if len(c.Settlement.PaymentMethods) == 0 {
		c.Settlement.PaymentMethods = append([]models.PaymentMethod(nil), models.DefaultPaymentMethods...)
	}

	if c.Refund.LeaseTTL == 0 {
		c.Refund.LeaseTTL = 30 * time.Second
	}

	if c.Hooks.Workers == 0 {
		c.Hooks.Workers = 1
	}
	if c.Hooks.QueueKey == "" {
		c.Hooks.QueueKey = "rentalcore:hooks"
	}
	if c.Hooks.DeadLetterKey == "" {
		c.Hooks.DeadLetterKey = c.Hooks.QueueKey + ":dead"
	}
	if c.Hooks.PollInterval == 0 {
		c.Hooks.PollInterval = 5 * time.Second
	}
	if c.Hooks.MaxRetries == 0 {
		c.Hooks.MaxRetries = 5
	}
	if c.Hooks.RetryBaseDelay == 0 {
		c.Hooks.RetryBaseDelay = 2 * time.Second
	}
	if c.Hooks.RetryMaxDelay == 0 {
		c.Hooks.RetryMaxDelay = 5 * time.Minute
	}
	if c.Hooks.LocalBufferSize == 0 {
		c.Hooks.LocalBufferSize = 100
	}

	if c.Fleet.Timeout == 0 {
		c.Fleet.Timeout = 5 * time.Second
	}
	if c.Documents.Path == "" {
		c.Documents.Path = "documents"
	}
}
