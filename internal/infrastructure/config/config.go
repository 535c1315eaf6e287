package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Marquee Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Fleet     FleetConfig     `yaml:"fleet"`
	Database  DatabaseConfig  `yaml:"database"`
	API       APIConfig       `yaml:"api"`
	Channel   ChannelConfig   `yaml:"channel"`
	Ack       AckConfig       `yaml:"ack"`
	Queue     QueueConfig     `yaml:"queue"`
	Pairing   PairingConfig   `yaml:"pairing"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Settings  map[string]any  `yaml:"settings"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// FleetConfig contains fleet-wide identification settings.
type FleetConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
// An empty AllowedOrigins list allows all origins (dev mode).
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// ChannelConfig contains device WebSocket channel settings.
type ChannelConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
	HelloTimeout   int    `yaml:"hello_timeout"`
}

// AckConfig bounds the synchronous acknowledgment wait.
// Requested timeouts are clamped into [MinTimeoutMs, MaxTimeoutMs];
// DefaultTimeoutMs applies when the caller does not specify one.
type AckConfig struct {
	MinTimeoutMs     int `yaml:"min_timeout_ms"`
	MaxTimeoutMs     int `yaml:"max_timeout_ms"`
	DefaultTimeoutMs int `yaml:"default_timeout_ms"`
}

// QueueConfig contains offline command queue settings.
type QueueConfig struct {
	MaxPerDevice int `yaml:"max_per_device"`
	// OverflowPolicy is "drop_oldest" (latest instruction wins) or "drop_newest".
	OverflowPolicy string `yaml:"overflow_policy"`
}

// PairingConfig contains pairing code issuance settings.
type PairingConfig struct {
	CodeLength   int `yaml:"code_length"`
	DefaultTTLMs int `yaml:"default_ttl_ms"`
}

// RateLimitConfig contains per-device channel rate limiting settings.
type RateLimitConfig struct {
	WindowMs    int `yaml:"window_ms"`
	MaxMessages int `yaml:"max_messages"`
	// MaxViolations closes the connection after this many consecutive
	// rate-limited frames. 0 disables forced disconnect.
	MaxViolations int `yaml:"max_violations"`
}

// MQTTConfig contains MQTT broker connection settings for fleet events.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB telemetry settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: MARQUEE_SECTION_KEY
// For example: MARQUEE_DATABASE_PATH, MARQUEE_API_PORT
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Fleet: FleetConfig{
			ID:   "fleet-001",
			Name: "Marquee",
		},
		Database: DatabaseConfig{
			Path:        "./data/marquee.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 4000,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Channel: ChannelConfig{
			Path:           "/api/v1/channel",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
			HelloTimeout:   10,
		},
		Ack: AckConfig{
			MinTimeoutMs:     50,
			MaxTimeoutMs:     30000,
			DefaultTimeoutMs: 5000,
		},
		Queue: QueueConfig{
			MaxPerDevice:   50,
			OverflowPolicy: "drop_oldest",
		},
		Pairing: PairingConfig{
			CodeLength:   6,
			DefaultTTLMs: 15 * 60 * 1000,
		},
		RateLimit: RateLimitConfig{
			WindowMs:      1000,
			MaxMessages:   20,
			MaxViolations: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: MARQUEE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("MARQUEE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// API
	if v := os.Getenv("MARQUEE_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("MARQUEE_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// MQTT
	if v := os.Getenv("MARQUEE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("MARQUEE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("MARQUEE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("MARQUEE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Fleet.ID == "" {
		errs = append(errs, "fleet.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Channel.MaxMessageSize < 256 {
		errs = append(errs, "channel.max_message_size must be at least 256 bytes")
	}

	if c.Ack.MinTimeoutMs < 1 {
		errs = append(errs, "ack.min_timeout_ms must be positive")
	}
	if c.Ack.MaxTimeoutMs < c.Ack.MinTimeoutMs {
		errs = append(errs, "ack.max_timeout_ms must be >= ack.min_timeout_ms")
	}
	if c.Ack.DefaultTimeoutMs < c.Ack.MinTimeoutMs || c.Ack.DefaultTimeoutMs > c.Ack.MaxTimeoutMs {
		errs = append(errs, "ack.default_timeout_ms must be within [min_timeout_ms, max_timeout_ms]")
	}

	if c.Queue.MaxPerDevice < 1 {
		errs = append(errs, "queue.max_per_device must be positive")
	}
	switch c.Queue.OverflowPolicy {
	case "drop_oldest", "drop_newest":
	default:
		errs = append(errs, "queue.overflow_policy must be drop_oldest or drop_newest")
	}

	if c.Pairing.CodeLength < 4 || c.Pairing.CodeLength > 16 {
		errs = append(errs, "pairing.code_length must be between 4 and 16")
	}
	if c.Pairing.DefaultTTLMs < 1000 {
		errs = append(errs, "pairing.default_ttl_ms must be at least 1000")
	}

	if c.RateLimit.WindowMs < 1 {
		errs = append(errs, "rate_limit.window_ms must be positive")
	}
	if c.RateLimit.MaxMessages < 1 {
		errs = append(errs, "rate_limit.max_messages must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// AckMinTimeout returns the minimum ack wait as a Duration.
func (c *Config) AckMinTimeout() time.Duration {
	return time.Duration(c.Ack.MinTimeoutMs) * time.Millisecond
}

// AckMaxTimeout returns the maximum ack wait as a Duration.
func (c *Config) AckMaxTimeout() time.Duration {
	return time.Duration(c.Ack.MaxTimeoutMs) * time.Millisecond
}

// AckDefaultTimeout returns the default ack wait as a Duration.
func (c *Config) AckDefaultTimeout() time.Duration {
	return time.Duration(c.Ack.DefaultTimeoutMs) * time.Millisecond
}

// PairingDefaultTTL returns the default pairing code lifetime as a Duration.
func (c *Config) PairingDefaultTTL() time.Duration {
	return time.Duration(c.Pairing.DefaultTTLMs) * time.Millisecond
}

// RateLimitWindow returns the rate limit window as a Duration.
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimit.WindowMs) * time.Millisecond
}
