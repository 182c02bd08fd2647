package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Ledger backends accepted by ContinuationConfig.Ledger.
const (
	LedgerMemory = "memory"
	LedgerSQLite = "sqlite"
	LedgerRedis  = "redis"
)

// Config is the root configuration structure for Sinapsi Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Device       DeviceConfig       `yaml:"device"`
	Database     DatabaseConfig     `yaml:"database"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	API          APIConfig          `yaml:"api"`
	WebSocket    WebSocketConfig    `yaml:"websocket"`
	InfluxDB     InfluxDBConfig     `yaml:"influxdb"`
	Logging      LoggingConfig      `yaml:"logging"`
	Continuation ContinuationConfig `yaml:"continuation"`
	Engine       EngineConfig       `yaml:"engine"`
}

// DeviceConfig identifies the device this engine runs on.
//
// The ID is the one the rest of the user's devices address it by; actions
// bound to any other ID are handed off.
type DeviceConfig struct {
	ID      int    `yaml:"id"`
	Name    string `yaml:"name"`
	Model   string `yaml:"model"`
	Type    string `yaml:"type"`
	Version int    `yaml:"version"`
	User    string `yaml:"user"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
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

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings. An empty
// AllowedOrigins list allows every origin.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
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

// ContinuationConfig controls cross-device hand-off delivery and the
// idempotency ledger that guards against re-delivered descriptors.
type ContinuationConfig struct {
	// Ledger selects the idempotency store: "memory", "sqlite" or "redis".
	Ledger string `yaml:"ledger"`

	// PublishAttempts bounds delivery attempts for one hand-off. Default: 3
	PublishAttempts int `yaml:"publish_attempts"`

	// RetryBackoffMS is the delay before the first retry, doubled per attempt.
	RetryBackoffMS int `yaml:"retry_backoff_ms"`

	// KeyTTL is how long a claimed continuation key is remembered, in
	// seconds, by every ledger backend. Zero keeps keys forever.
	KeyTTL int `yaml:"key_ttl"`

	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig contains Redis connection settings for the continuation ledger.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// EngineConfig contains macro engine settings.
type EngineConfig struct {
	// LoadExamples seeds the built-in demonstration macros when the
	// catalog is empty.
	LoadExamples bool `yaml:"load_examples"`

	// AutoStart enables the engine as soon as the catalog is loaded.
	AutoStart bool `yaml:"auto_start"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: SINAPSI_SECTION_KEY
// For example: SINAPSI_DATABASE_PATH, SINAPSI_DEVICE_ID
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
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
		Device: DeviceConfig{
			ID:      1,
			Name:    "sinapsi-device",
			Model:   "generic",
			Type:    "server",
			Version: 1,
		},
		Database: DatabaseConfig{
			Path:        "./data/sinapsi.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "sinapsi-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Continuation: ContinuationConfig{
			Ledger:          LedgerSQLite,
			PublishAttempts: 3,
			RetryBackoffMS:  200,
			KeyTTL:          86400,
			Redis: RedisConfig{
				Addr: "localhost:6379",
			},
		},
		Engine: EngineConfig{
			AutoStart: true,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: SINAPSI_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Device
	if v := os.Getenv("SINAPSI_DEVICE_ID"); v != "" {
		if id, err := strconv.Atoi(v); err == nil {
			cfg.Device.ID = id
		}
	}
	if v := os.Getenv("SINAPSI_DEVICE_NAME"); v != "" {
		cfg.Device.Name = v
	}

	// Database
	if v := os.Getenv("SINAPSI_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("SINAPSI_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SINAPSI_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SINAPSI_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("SINAPSI_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("SINAPSI_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Continuation
	if v := os.Getenv("SINAPSI_CONTINUATION_LEDGER"); v != "" {
		cfg.Continuation.Ledger = v
	}
	if v := os.Getenv("SINAPSI_REDIS_ADDR"); v != "" {
		cfg.Continuation.Redis.Addr = v
	}
	if v := os.Getenv("SINAPSI_REDIS_PASSWORD"); v != "" {
		cfg.Continuation.Redis.Password = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Device.ID <= 0 {
		errs = append(errs, "device.id must be positive")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	switch c.Continuation.Ledger {
	case LedgerMemory, LedgerSQLite:
	case LedgerRedis:
		if c.Continuation.Redis.Addr == "" {
			errs = append(errs, "continuation.redis.addr is required for the redis ledger")
		}
	default:
		errs = append(errs, fmt.Sprintf("continuation.ledger %q must be memory, sqlite, or redis", c.Continuation.Ledger))
	}

	if c.Continuation.PublishAttempts < 1 {
		errs = append(errs, "continuation.publish_attempts must be at least 1")
	}

	if c.Continuation.KeyTTL < 0 {
		errs = append(errs, "continuation.key_ttl must not be negative")
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

// RetryBackoff returns the first hand-off retry delay as a Duration.
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.Continuation.RetryBackoffMS) * time.Millisecond
}

// LedgerTTL returns the continuation key lifetime as a Duration. It applies
// to whichever ledger backend is selected.
func (c *Config) LedgerTTL() time.Duration {
	return time.Duration(c.Continuation.KeyTTL) * time.Second
}
