package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Twincore.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Engine    EngineConfig    `yaml:"engine"`
	Channel   ChannelConfig   `yaml:"channel"`
	Sync      SyncConfig      `yaml:"sync"`
	Templates TemplatesConfig `yaml:"templates"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// EngineConfig identifies this engine instance.
type EngineConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// ChannelConfig contains settings for the device channel: the line-oriented
// serial/REPL link the engine polls and probes devices over.
type ChannelConfig struct {
	// Connection is the channel endpoint URL: "tcp://host:port" or
	// "unix:///path/to/socket". Empty disables the physical channel
	// (simulation-only deployments).
	Connection string `yaml:"connection"`

	// ConnectTimeout is the dial timeout in seconds.
	ConnectTimeout int `yaml:"connect_timeout"`

	// ReadTimeout is the per-read deadline in seconds.
	ReadTimeout int `yaml:"read_timeout"`

	// WriteTimeout is the per-write deadline in seconds.
	WriteTimeout int `yaml:"write_timeout"`

	// Proxy configures an optional managed serial-to-TCP proxy subprocess.
	Proxy ProxyConfig `yaml:"proxy"`
}

// ProxyConfig contains settings for managing the channel proxy subprocess.
type ProxyConfig struct {
	// Enabled indicates whether Twincore should manage the proxy lifecycle.
	// If false, the channel endpoint is expected to exist externally.
	Enabled bool `yaml:"enabled"`

	// Binary is the path to the proxy executable.
	Binary string `yaml:"binary"`

	// Args are passed to the proxy verbatim (serial port, baud rate, bind address).
	Args []string `yaml:"args"`

	// RestartOnFailure enables automatic restart if the proxy crashes.
	// Default: true
	RestartOnFailure bool `yaml:"restart_on_failure"`

	// RestartDelaySeconds is the time to wait before restarting (in seconds).
	// Default: 5
	RestartDelaySeconds int `yaml:"restart_delay_seconds"`

	// MaxRestartAttempts limits restart attempts. 0 means unlimited.
	// Default: 10
	MaxRestartAttempts int `yaml:"max_restart_attempts"`

	// GracefulTimeoutSeconds is how long to wait for SIGTERM before SIGKILL.
	// Default: 10
	GracefulTimeoutSeconds int `yaml:"graceful_timeout_seconds"`
}

// SyncConfig contains reconciliation timing settings.
type SyncConfig struct {
	// PollIntervalMs is the global poll tick in milliseconds. Default: 50
	PollIntervalMs int `yaml:"poll_interval_ms"`

	// PollTimeoutMs is how long one state probe may take before the poll
	// is counted as missed, in milliseconds. Default: 200
	PollTimeoutMs int `yaml:"poll_timeout_ms"`

	// ThrottleWindowMs is the per-device merge throttle window in
	// milliseconds. Must sit between 50 and 100. Default: 75
	ThrottleWindowMs int `yaml:"throttle_window_ms"`

	// IntrospectionTimeoutSeconds bounds each template-generation probe.
	// Default: 10
	IntrospectionTimeoutSeconds int `yaml:"introspection_timeout_seconds"`
}

// TemplatesConfig contains board template settings.
type TemplatesConfig struct {
	// Dir is an optional directory of JSON template files registered at startup.
	Dir string `yaml:"dir"`

	// CacheTTLDays is how long a generated template stays fresh. Default: 7
	CacheTTLDays int `yaml:"cache_ttl_days"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
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
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
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

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`

	// AccessKey is the shared key exchanged for a JWT at /auth/login.
	AccessKey string `yaml:"access_key"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"` // minutes
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: TWINCORE_SECTION_KEY
// For example: TWINCORE_DATABASE_PATH, TWINCORE_API_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			ID:   "twincore-001",
			Name: "Twincore",
		},
		Channel: ChannelConfig{
			ConnectTimeout: 10,
			ReadTimeout:    30,
			WriteTimeout:   5,
			Proxy: ProxyConfig{
				RestartOnFailure:       true,
				RestartDelaySeconds:    5,
				MaxRestartAttempts:     10,
				GracefulTimeoutSeconds: 10,
			},
		},
		Sync: SyncConfig{
			PollIntervalMs:              50,
			PollTimeoutMs:               200,
			ThrottleWindowMs:            75,
			IntrospectionTimeoutSeconds: 10,
		},
		Templates: TemplatesConfig{
			CacheTTLDays: 7,
		},
		Database: DatabaseConfig{
			Path:        "./data/twincore.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "twincore",
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
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 60,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: TWINCORE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Channel
	if v := os.Getenv("TWINCORE_CHANNEL_CONNECTION"); v != "" {
		cfg.Channel.Connection = v
	}

	// Templates
	if v := os.Getenv("TWINCORE_TEMPLATES_DIR"); v != "" {
		cfg.Templates.Dir = v
	}

	// Database
	if v := os.Getenv("TWINCORE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("TWINCORE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("TWINCORE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("TWINCORE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("TWINCORE_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("TWINCORE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security - always override in production
	if v := os.Getenv("TWINCORE_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
	if v := os.Getenv("TWINCORE_ACCESS_KEY"); v != "" {
		cfg.Security.AccessKey = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Engine validation
	if c.Engine.ID == "" {
		errs = append(errs, "engine.id is required")
	}

	// Channel validation - connection is optional, but when set must carry
	// a scheme the channel client understands
	if c.Channel.Connection != "" &&
		!strings.HasPrefix(c.Channel.Connection, "tcp://") &&
		!strings.HasPrefix(c.Channel.Connection, "unix://") {
		errs = append(errs, "channel.connection must use tcp:// or unix:// scheme")
	}
	if c.Channel.Proxy.Enabled && c.Channel.Proxy.Binary == "" {
		errs = append(errs, "channel.proxy.binary is required when the proxy is managed")
	}

	// Sync validation - the throttle window is bounded so merges stay
	// responsive without flooding listeners
	if c.Sync.PollIntervalMs < 10 {
		errs = append(errs, "sync.poll_interval_ms must be at least 10")
	}
	if c.Sync.PollTimeoutMs < c.Sync.PollIntervalMs {
		errs = append(errs, "sync.poll_timeout_ms must not be shorter than the poll interval")
	}
	if c.Sync.ThrottleWindowMs < 50 || c.Sync.ThrottleWindowMs > 100 {
		errs = append(errs, "sync.throttle_window_ms must be between 50 and 100")
	}
	if c.Sync.IntrospectionTimeoutSeconds < 1 {
		errs = append(errs, "sync.introspection_timeout_seconds must be at least 1")
	}

	// Templates validation
	if c.Templates.CacheTTLDays < 1 {
		errs = append(errs, "templates.cache_ttl_days must be at least 1")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Security validation - JWT secret is REQUIRED
	// The API exposes virtual writes that drive physical hardware. Empty or
	// weak secrets would let an attacker forge tokens and toggle real pins.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set TWINCORE_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	const minAccessKeyLength = 16
	if c.Security.AccessKey == "" {
		errs = append(errs, "security.access_key is required (set TWINCORE_ACCESS_KEY environment variable)")
	} else if len(c.Security.AccessKey) < minAccessKeyLength {
		errs = append(errs, "security.access_key must be at least 16 characters")
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

// GetPollInterval returns the global poll tick as a Duration.
func (c *Config) GetPollInterval() time.Duration {
	return time.Duration(c.Sync.PollIntervalMs) * time.Millisecond
}

// GetPollTimeout returns the per-probe poll deadline as a Duration.
func (c *Config) GetPollTimeout() time.Duration {
	return time.Duration(c.Sync.PollTimeoutMs) * time.Millisecond
}

// GetThrottleWindow returns the per-device merge throttle window as a Duration.
func (c *Config) GetThrottleWindow() time.Duration {
	return time.Duration(c.Sync.ThrottleWindowMs) * time.Millisecond
}

// GetIntrospectionTimeout returns the per-probe introspection deadline as a Duration.
func (c *Config) GetIntrospectionTimeout() time.Duration {
	return time.Duration(c.Sync.IntrospectionTimeoutSeconds) * time.Second
}

// GetTemplateCacheTTL returns the generated-template freshness window as a Duration.
func (c *Config) GetTemplateCacheTTL() time.Duration {
	return time.Duration(c.Templates.CacheTTLDays) * 24 * time.Hour
}
