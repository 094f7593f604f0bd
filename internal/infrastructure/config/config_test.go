package config

import (
	"os"
	"path/filepath"
	"testing"
)

// validSecurity fills the mandatory security section for test configs.
func validSecurity() SecurityConfig {
	return SecurityConfig{
		JWT:       JWTConfig{Secret: "test-secret-key-at-least-32-chars!"},
		AccessKey: "test-access-key-16",
	}
}

func TestLoad_ValidConfig(t *testing.T) {
	// Create a temporary config file
	content := `
engine:
  id: "bench-01"
channel:
  connection: "tcp://127.0.0.1:8765"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  enabled: true
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
api:
  host: "0.0.0.0"
  port: 8080
security:
  jwt:
    secret: "test-secret-key-at-least-32-chars!"
  access_key: "test-access-key-16"
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Engine.ID != "bench-01" {
		t.Errorf("Engine.ID = %q, want %q", cfg.Engine.ID, "bench-01")
	}

	if cfg.Channel.Connection != "tcp://127.0.0.1:8765" {
		t.Errorf("Channel.Connection = %q, want %q", cfg.Channel.Connection, "tcp://127.0.0.1:8765")
	}

	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}

	if cfg.MQTT.Broker.Host != "localhost" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "localhost")
	}

	// Defaults survive a partial file
	if cfg.Sync.PollIntervalMs != 50 {
		t.Errorf("Sync.PollIntervalMs = %d, want 50", cfg.Sync.PollIntervalMs)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: [yaml: content"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
engine:
  id: ""
database:
  path: "/tmp/test.db"
api:
  port: 8080
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected validation error for empty engine.id, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	base := func() *Config {
		cfg := defaultConfig()
		cfg.Security = validSecurity()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing engine ID",
			mutate:  func(c *Config) { c.Engine.ID = "" },
			wantErr: true,
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: true,
		},
		{
			name:    "bad channel scheme",
			mutate:  func(c *Config) { c.Channel.Connection = "serial:///dev/ttyACM0" },
			wantErr: true,
		},
		{
			name:    "unix channel scheme accepted",
			mutate:  func(c *Config) { c.Channel.Connection = "unix:///run/twincore/channel.sock" },
			wantErr: false,
		},
		{
			name:    "proxy enabled without binary",
			mutate:  func(c *Config) { c.Channel.Proxy.Enabled = true; c.Channel.Proxy.Binary = "" },
			wantErr: true,
		},
		{
			name:    "throttle window too low",
			mutate:  func(c *Config) { c.Sync.ThrottleWindowMs = 20 },
			wantErr: true,
		},
		{
			name:    "throttle window too high",
			mutate:  func(c *Config) { c.Sync.ThrottleWindowMs = 500 },
			wantErr: true,
		},
		{
			name:    "poll timeout shorter than interval",
			mutate:  func(c *Config) { c.Sync.PollTimeoutMs = 20 },
			wantErr: true,
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: true,
		},
		{
			name:    "invalid port low",
			mutate:  func(c *Config) { c.API.Port = 0 },
			wantErr: true,
		},
		{
			name:    "invalid port high",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "missing JWT secret",
			mutate:  func(c *Config) { c.Security.JWT.Secret = "" },
			wantErr: true,
		},
		{
			name:    "JWT secret too short",
			mutate:  func(c *Config) { c.Security.JWT.Secret = "short" },
			wantErr: true,
		},
		{
			name:    "missing access key",
			mutate:  func(c *Config) { c.Security.AccessKey = "" },
			wantErr: true,
		},
		{
			name:    "cache TTL zero",
			mutate:  func(c *Config) { c.Templates.CacheTTLDays = 0 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
		Sync: SyncConfig{
			PollIntervalMs:              50,
			PollTimeoutMs:               200,
			ThrottleWindowMs:            75,
			IntrospectionTimeoutSeconds: 10,
		},
		Templates: TemplatesConfig{CacheTTLDays: 7},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}

	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}

	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}

	if got := cfg.GetPollInterval().Milliseconds(); got != 50 {
		t.Errorf("GetPollInterval() = %vms, want 50ms", got)
	}

	if got := cfg.GetPollTimeout().Milliseconds(); got != 200 {
		t.Errorf("GetPollTimeout() = %vms, want 200ms", got)
	}

	if got := cfg.GetThrottleWindow().Milliseconds(); got != 75 {
		t.Errorf("GetThrottleWindow() = %vms, want 75ms", got)
	}

	if got := cfg.GetIntrospectionTimeout().Seconds(); got != 10 {
		t.Errorf("GetIntrospectionTimeout() = %v, want 10s", got)
	}

	if got := cfg.GetTemplateCacheTTL().Hours(); got != 7*24 {
		t.Errorf("GetTemplateCacheTTL() = %v hours, want %v", got, 7*24)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	// Set environment variables
	t.Setenv("TWINCORE_CHANNEL_CONNECTION", "tcp://bench:8765")
	t.Setenv("TWINCORE_DATABASE_PATH", "/custom/path.db")
	t.Setenv("TWINCORE_MQTT_HOST", "mqtt.example.com")
	t.Setenv("TWINCORE_MQTT_USERNAME", "testuser")
	t.Setenv("TWINCORE_MQTT_PASSWORD", "testpass")
	t.Setenv("TWINCORE_API_HOST", "192.168.1.1")
	t.Setenv("TWINCORE_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("TWINCORE_JWT_SECRET", "jwt-secret")
	t.Setenv("TWINCORE_ACCESS_KEY", "env-access-key")

	applyEnvOverrides(cfg)

	if cfg.Channel.Connection != "tcp://bench:8765" {
		t.Errorf("Channel.Connection = %q, want %q", cfg.Channel.Connection, "tcp://bench:8765")
	}

	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}

	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}

	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "testuser")
	}

	if cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "testpass")
	}

	if cfg.API.Host != "192.168.1.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "192.168.1.1")
	}

	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}

	if cfg.Security.JWT.Secret != "jwt-secret" {
		t.Errorf("Security.JWT.Secret = %q, want %q", cfg.Security.JWT.Secret, "jwt-secret")
	}

	if cfg.Security.AccessKey != "env-access-key" {
		t.Errorf("Security.AccessKey = %q, want %q", cfg.Security.AccessKey, "env-access-key")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Engine.ID == "" {
		t.Error("defaultConfig should have non-empty Engine.ID")
	}

	if cfg.Database.Path == "" {
		t.Error("defaultConfig should have non-empty Database.Path")
	}

	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}

	if cfg.API.Port != 8080 {
		t.Errorf("defaultConfig API.Port = %d, want 8080", cfg.API.Port)
	}

	if cfg.Sync.PollIntervalMs != 50 {
		t.Errorf("defaultConfig Sync.PollIntervalMs = %d, want 50", cfg.Sync.PollIntervalMs)
	}

	if cfg.Sync.PollTimeoutMs != 200 {
		t.Errorf("defaultConfig Sync.PollTimeoutMs = %d, want 200", cfg.Sync.PollTimeoutMs)
	}

	if cfg.Templates.CacheTTLDays != 7 {
		t.Errorf("defaultConfig Templates.CacheTTLDays = %d, want 7", cfg.Templates.CacheTTLDays)
	}
}
