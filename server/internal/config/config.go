package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/musink/musink/pkg/accounts"
	"github.com/musink/musink/pkg/logging"
)

// AlertsConfig holds alerting rules and webhook delivery targets.
type AlertsConfig struct {
	// Interval is how often rules are evaluated against the hub metrics.
	Interval time.Duration `yaml:"interval"`

	Rules    []AlertRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// AlertRule defines one threshold-based alert condition.
type AlertRule struct {
	// Name is the human-readable alert identifier, used as the deduplication key.
	Name string `yaml:"name"`

	// Condition is a simple expression over a hub metric:
	// "workers_mutual_playlist < 1", "refresh_failures > 10".
	Condition string `yaml:"condition"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-fires for this duration after an alert fires.
	// Defaults to 15 minutes if zero.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// Default values for the hub configuration.
const (
	DefaultGRPCPort        = 50051
	DefaultHTTPPort        = 8080
	DefaultLogLevel        = "info"
	DefaultSendBuffer      = 64
	DefaultMaxMessageBytes = 64 << 10
	DefaultPongWait        = 60 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultAlertInterval   = 15 * time.Second
	DefaultRequestTimeout  = 10 * time.Second
)

// Config holds the hub configuration parsed from the `server:` section of
// config.yaml. The `worker:` key in the same file is ignored.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all hub settings.
type ServerConfig struct {
	// ListenHost is the interface both listeners bind to (default all).
	ListenHost string `yaml:"listen_host"`

	// HTTPPort serves /ws, /api/v1 and /metrics (default 8080).
	HTTPPort int `yaml:"http_port"`

	// GRPCPort serves the gRPC health service (default 50051).
	GRPCPort int `yaml:"grpc_port"`

	// LogLevel is one of debug | info | warn | error. Hot-reloadable.
	LogLevel string `yaml:"log_level"`

	Accounts  accounts.Config `yaml:"accounts"`
	Auth      AuthConfig      `yaml:"auth"`
	Transport TransportConfig `yaml:"transport"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// Alerts holds rule definitions and webhook delivery targets. Rules and
	// webhooks are hot-reloadable.
	Alerts AlertsConfig `yaml:"alerts"`
}

// AuthConfig controls authentication of the admin API and gRPC health.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	// Used when Mode == "apikey".
	KeyEnv string `yaml:"key_env"`

	// Header is the gRPC metadata key (and HTTP header name) to read the key from.
	// Defaults to "x-api-key" if empty.
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// TransportConfig tunes the WebSocket transport.
type TransportConfig struct {
	SendBuffer      int           `yaml:"send_buffer"`
	MaxMessageBytes int64         `yaml:"max_message_bytes"`
	PingPeriod      time.Duration `yaml:"ping_period"`
	PongWait        time.Duration `yaml:"pong_wait"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
}

// RateLimitConfig limits inbound messages per connection. PerSecond 0
// disables the limit.
type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// Load reads and parses the config file at path, returning the hub configuration.
// Missing fields are filled with sensible defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			GRPCPort: DefaultGRPCPort,
			HTTPPort: DefaultHTTPPort,
			LogLevel: DefaultLogLevel,
			Accounts: accounts.Config{
				RequestTimeout: DefaultRequestTimeout,
			},
			Transport: TransportConfig{
				SendBuffer:      DefaultSendBuffer,
				MaxMessageBytes: DefaultMaxMessageBytes,
				PongWait:        DefaultPongWait,
				PingPeriod:      (DefaultPongWait * 9) / 10,
				WriteTimeout:    DefaultWriteTimeout,
			},
			Alerts: AlertsConfig{
				Interval: DefaultAlertInterval,
			},
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	s := cfg.Server
	if s.GRPCPort <= 0 || s.GRPCPort > 65535 {
		return fmt.Errorf("server.grpc_port %d is out of range [1, 65535]", s.GRPCPort)
	}
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", s.HTTPPort)
	}
	if s.HTTPPort == s.GRPCPort {
		return fmt.Errorf("server.http_port and server.grpc_port must differ (both %d)", s.HTTPPort)
	}
	if _, err := logging.ParseLevel(s.LogLevel); err != nil {
		return fmt.Errorf("server.log_level: %w", err)
	}
	switch s.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", s.Auth.Mode)
	}
	if s.Transport.PingPeriod >= s.Transport.PongWait {
		return fmt.Errorf("server.transport.ping_period (%v) must be less than pong_wait (%v)",
			s.Transport.PingPeriod, s.Transport.PongWait)
	}
	if s.Transport.SendBuffer <= 0 {
		return fmt.Errorf("server.transport.send_buffer must be positive")
	}
	if s.RateLimit.PerSecond < 0 || s.RateLimit.Burst < 0 {
		return fmt.Errorf("server.rate_limit values must not be negative")
	}
	if s.Alerts.Interval <= 0 {
		return fmt.Errorf("server.alerts.interval must be positive")
	}
	if s.Accounts.RequestTimeout < 0 {
		return fmt.Errorf("server.accounts.request_timeout must not be negative")
	}
	for i, r := range s.Alerts.Rules {
		if r.Name == "" || r.Condition == "" {
			return fmt.Errorf("server.alerts.rules[%d]: name and condition are required", i)
		}
	}
	return nil
}
