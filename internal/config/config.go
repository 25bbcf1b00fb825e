package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/WeatherVane-Labs/derivative_layer/pkg/logger"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ProviderConfig holds the contract provider's operating parameters.
type ProviderConfig struct {
	Admin             string `yaml:"admin"`
	Account           string `yaml:"account"`
	InitialBalance    uint64 `yaml:"initial_balance"`
	PaymentPerRequest uint64 `yaml:"payment_per_request"`
	FundingBuffer     int    `yaml:"funding_buffer"`
	DefaultEndpoint   string `yaml:"default_endpoint"`
	DefaultJobID      string `yaml:"default_job_id"`
}

// TransportConfig selects how oracle requests leave the process.
type TransportConfig struct {
	// Mode is "http" or "amqp".
	Mode         string `yaml:"mode"`
	CallbackURL  string `yaml:"callback_url"`
	APIKey       string `yaml:"api_key"`
	AMQPURL      string `yaml:"amqp_url"`
	AMQPExchange string `yaml:"amqp_exchange"`
}

// DatabaseConfig selects the event journal store. An empty DSN means the
// in-memory store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// SchedulerConfig controls automatic evaluation of matured contracts.
type SchedulerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Spec    string `yaml:"spec"`
}

// APIConfig holds HTTP API tuning knobs.
type APIConfig struct {
	AuditFile        string  `yaml:"audit_file"`
	FulfillmentRate  float64 `yaml:"fulfillment_rate"`
	FulfillmentBurst int     `yaml:"fulfillment_burst"`
}

// Config is the root application configuration.
type Config struct {
	Server    ServerConfig         `yaml:"server"`
	Logging   logger.LoggingConfig `yaml:"logging"`
	Provider  ProviderConfig       `yaml:"provider"`
	Transport TransportConfig      `yaml:"transport"`
	Database  DatabaseConfig       `yaml:"database"`
	Scheduler SchedulerConfig      `yaml:"scheduler"`
	API       APIConfig            `yaml:"api"`
}

// Default returns a configuration suitable for local development.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Logging: logger.LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Provider: ProviderConfig{
			Admin:             "admin",
			Account:           "provider",
			InitialBalance:    1_000_000,
			PaymentPerRequest: 100,
			FundingBuffer:     4,
			DefaultEndpoint:   "weather.primary",
			DefaultJobID:      "station-readout",
		},
		Transport: TransportConfig{
			Mode:         "http",
			CallbackURL:  "http://localhost:8080/fulfillments",
			AMQPExchange: "oracle.requests",
		},
		Database: DatabaseConfig{Driver: "postgres"},
		Scheduler: SchedulerConfig{
			Enabled: true,
			Spec:    "@every 30s",
		},
		API: APIConfig{
			FulfillmentRate:  50,
			FulfillmentBurst: 100,
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fields that have no sensible fallback.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Provider.Admin == "" {
		return fmt.Errorf("provider admin identity is required")
	}
	if c.Provider.PaymentPerRequest == 0 {
		return fmt.Errorf("payment per request must be positive")
	}
	switch c.Transport.Mode {
	case "http", "amqp":
	default:
		return fmt.Errorf("unknown transport mode %q", c.Transport.Mode)
	}
	if c.Transport.Mode == "amqp" && c.Transport.AMQPURL == "" {
		return fmt.Errorf("amqp transport requires an amqp_url")
	}
	return nil
}

// ListenAddr returns the host:port pair for the HTTP server.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func applyEnv(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString("DL_SERVER_HOST", &cfg.Server.Host)
	if v := os.Getenv("DL_SERVER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	setString("DL_LOG_LEVEL", &cfg.Logging.Level)
	setString("DL_LOG_FORMAT", &cfg.Logging.Format)
	setString("DL_ADMIN", &cfg.Provider.Admin)
	setString("DL_PROVIDER_ACCOUNT", &cfg.Provider.Account)
	if v := os.Getenv("DL_INITIAL_BALANCE"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Provider.InitialBalance = n
		}
	}
	if v := os.Getenv("DL_PAYMENT_PER_REQUEST"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Provider.PaymentPerRequest = n
		}
	}
	setString("DL_TRANSPORT_MODE", &cfg.Transport.Mode)
	setString("DL_CALLBACK_URL", &cfg.Transport.CallbackURL)
	setString("DL_ORACLE_API_KEY", &cfg.Transport.APIKey)
	setString("DL_AMQP_URL", &cfg.Transport.AMQPURL)
	setString("DL_AMQP_EXCHANGE", &cfg.Transport.AMQPExchange)
	setString("DL_DATABASE_DSN", &cfg.Database.DSN)
	setString("DL_SCHEDULER_SPEC", &cfg.Scheduler.Spec)
	setString("DL_AUDIT_FILE", &cfg.API.AuditFile)
}
