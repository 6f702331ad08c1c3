package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wardwatch/wardwatch/server/internal/domain"
)

// Default values for the server configuration.
const (
	DefaultHTTPPort           = 8080
	DefaultWarningAfter       = 36 * time.Hour
	DefaultCriticalAfter      = 48 * time.Hour
	DefaultSweepInterval      = 60 * time.Second
	DefaultOrphanTimeout      = 30 * time.Second
	DefaultClaimLease         = 5 * time.Minute
	DefaultEscalationInterval = 15 * time.Minute
	DefaultEscalationCooldown = time.Hour
)

// Config holds the server configuration parsed from the `server:` section
// of config.yaml.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	// HTTPPort is the port the REST API, ingestion endpoint and WebSocket
	// hub listen on (default 8080).
	HTTPPort int `yaml:"http_port"`

	// Auth configures API key authentication for ingestion and API clients.
	Auth AuthConfig `yaml:"auth"`

	// Monitoring holds staleness thresholds and engine timing.
	Monitoring MonitoringConfig `yaml:"monitoring"`

	// Alerts holds webhook delivery targets and escalation timing.
	Alerts AlertsConfig `yaml:"alerts"`
}

// AuthConfig controls client authentication.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the
	// expected API key. Used when Mode == "apikey".
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header to read the key from.
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

// MonitoringConfig holds the staleness thresholds and engine timing knobs.
type MonitoringConfig struct {
	// WarningAfter is the elapsed time without a qualifying test after
	// which an admission enters the warning tier (default 36h).
	WarningAfter time.Duration `yaml:"warning_after"`

	// CriticalAfter is the elapsed time after which an admission enters
	// the critical tier (default 48h). Must exceed WarningAfter.
	CriticalAfter time.Duration `yaml:"critical_after"`

	// SweepInterval is how often the aging sweeper re-derives elapsed time
	// for all active admissions (default 60s).
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// OrphanTimeout is how long an event referencing an unknown admission
	// is buffered before being dead-lettered (default 30s).
	OrphanTimeout time.Duration `yaml:"orphan_timeout"`

	// ClaimLease is how long a claimed index batch stays reserved before
	// it is automatically returned (default 5m).
	ClaimLease time.Duration `yaml:"claim_lease"`
}

// Thresholds converts the monitoring settings to domain thresholds.
func (m MonitoringConfig) Thresholds() domain.Thresholds {
	return domain.Thresholds{Warning: m.WarningAfter, Critical: m.CriticalAfter}
}

// AlertsConfig holds webhook targets and escalation timing.
type AlertsConfig struct {
	// Webhooks are the external delivery targets for alerts.
	Webhooks []WebhookConfig `yaml:"webhooks"`

	// EscalationInterval is how often the escalator claims a batch of
	// critical admissions (default 15m).
	EscalationInterval time.Duration `yaml:"escalation_interval"`

	// EscalationCooldown suppresses repeat escalations per admission
	// (default 1h).
	EscalationCooldown time.Duration `yaml:"escalation_cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | pagerduty | http.
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

// Load reads and parses the config file at path. Missing fields are filled
// with defaults before validation; invalid thresholds are fatal.
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
			HTTPPort: DefaultHTTPPort,
			Monitoring: MonitoringConfig{
				WarningAfter:  DefaultWarningAfter,
				CriticalAfter: DefaultCriticalAfter,
				SweepInterval: DefaultSweepInterval,
				OrphanTimeout: DefaultOrphanTimeout,
				ClaimLease:    DefaultClaimLease,
			},
			Alerts: AlertsConfig{
				EscalationInterval: DefaultEscalationInterval,
				EscalationCooldown: DefaultEscalationCooldown,
			},
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", cfg.Server.HTTPPort)
	}
	switch cfg.Server.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", cfg.Server.Auth.Mode)
	}
	mon := cfg.Server.Monitoring
	if err := mon.Thresholds().Validate(); err != nil {
		return fmt.Errorf("server.monitoring: %w", err)
	}
	if mon.SweepInterval <= 0 {
		return fmt.Errorf("server.monitoring.sweep_interval must be positive")
	}
	if mon.OrphanTimeout <= 0 {
		return fmt.Errorf("server.monitoring.orphan_timeout must be positive")
	}
	if mon.ClaimLease <= 0 {
		return fmt.Errorf("server.monitoring.claim_lease must be positive")
	}
	for _, wh := range cfg.Server.Alerts.Webhooks {
		switch wh.Type {
		case "slack", "teams", "pagerduty", "http":
		default:
			return fmt.Errorf("server.alerts.webhooks: type %q unknown", wh.Type)
		}
	}
	return nil
}
