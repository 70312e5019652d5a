// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sparkling-owl/spin/internal/engine"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig      `mapstructure:"server"`
	Auth      AuthConfig        `mapstructure:"auth"`
	HTTP      HTTPConfig        `mapstructure:"http"`
	Stealth   StealthConfig     `mapstructure:"stealth"`
	Proxy     ProxyConfig       `mapstructure:"proxy"`
	Runner    RunnerConfig      `mapstructure:"runner"`
	Frontier  FrontierConfig    `mapstructure:"frontier"`
	Events    EventsConfig      `mapstructure:"events"`
	DB        DBConfig          `mapstructure:"db"`
	Logging   LoggingConfig     `mapstructure:"logging"`
	Templates []engine.Template `mapstructure:"templates"`
	Jobs      []engine.Job      `mapstructure:"jobs"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// HTTPConfig configures the plain HTTP fetch strategy.
type HTTPConfig struct {
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// StealthConfig configures the browser-based fetch strategy.
type StealthConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	MaxParallel       int           `mapstructure:"max_parallel"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	// PromotionBodyBytes is the body size below which a plain response is
	// suspected to be a JS shell worth re-fetching with the browser.
	PromotionBodyBytes int `mapstructure:"promotion_body_bytes"`
}

// ProxyConfig configures the proxy pool and its health prober.
type ProxyConfig struct {
	Endpoints           []string      `mapstructure:"endpoints"`
	Alpha               float64       `mapstructure:"alpha"`
	QuarantineThreshold int           `mapstructure:"quarantine_threshold"`
	BaseCooldown        time.Duration `mapstructure:"base_cooldown"`
	MaxCooldown         time.Duration `mapstructure:"max_cooldown"`
	DegradedBelow       float64       `mapstructure:"degraded_below"`
	ProbeInterval       time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout        time.Duration `mapstructure:"probe_timeout"`
	ProbeURL            string        `mapstructure:"probe_url"`
}

// RunnerConfig bounds run execution.
type RunnerConfig struct {
	DefaultConcurrency int           `mapstructure:"default_concurrency"`
	HeartbeatInterval  time.Duration `mapstructure:"heartbeat_interval"`
	DriftThreshold     int           `mapstructure:"drift_threshold"`
}

// FrontierConfig sets politeness defaults applied when jobs omit them.
type FrontierConfig struct {
	DefaultDelay time.Duration            `mapstructure:"default_delay"`
	DomainDelays map[string]time.Duration `mapstructure:"domain_delays"`
}

// EventsConfig controls the run event hub.
type EventsConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
}

// DBConfig controls access to Postgres. An empty DSN selects the in-memory
// stores.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SPIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("http.user_agent", "spin-bot/0.1")
	v.SetDefault("http.timeout", "15s")
	v.SetDefault("stealth.enabled", false)
	v.SetDefault("stealth.max_parallel", 1)
	v.SetDefault("stealth.navigation_timeout", "45s")
	v.SetDefault("stealth.promotion_body_bytes", 2048)
	v.SetDefault("proxy.alpha", 0.2)
	v.SetDefault("proxy.quarantine_threshold", 3)
	v.SetDefault("proxy.base_cooldown", "30s")
	v.SetDefault("proxy.max_cooldown", "30m")
	v.SetDefault("proxy.degraded_below", 0.5)
	v.SetDefault("proxy.probe_interval", "1m")
	v.SetDefault("proxy.probe_timeout", "10s")
	v.SetDefault("proxy.probe_url", "https://www.gstatic.com/generate_204")
	v.SetDefault("runner.default_concurrency", 4)
	v.SetDefault("runner.heartbeat_interval", "30s")
	v.SetDefault("runner.drift_threshold", 5)
	v.SetDefault("frontier.default_delay", "1s")
	v.SetDefault("events.buffer_size", 4096)
	v.SetDefault("events.max_batch_events", 512)
	v.SetDefault("events.max_batch_wait", "500ms")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}
	if c.Stealth.Enabled && c.Stealth.MaxParallel <= 0 {
		return fmt.Errorf("stealth.max_parallel must be > 0 when stealth is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Proxy.Alpha <= 0 || c.Proxy.Alpha > 1 {
		return fmt.Errorf("proxy.alpha must be in (0, 1]")
	}
	if c.Runner.DefaultConcurrency <= 0 {
		return fmt.Errorf("runner.default_concurrency must be > 0")
	}
	for i, job := range c.Jobs {
		if job.ID == "" {
			return fmt.Errorf("jobs[%d].id is required", i)
		}
		if job.TemplateID == "" {
			return fmt.Errorf("jobs[%d].template_id is required", i)
		}
		if len(job.Seeds) == 0 {
			return fmt.Errorf("jobs[%d].seeds must not be empty", i)
		}
	}
	for i, tmpl := range c.Templates {
		if tmpl.ID == "" {
			return fmt.Errorf("templates[%d].id is required", i)
		}
		if tmpl.Version <= 0 {
			return fmt.Errorf("templates[%d].version must be > 0", i)
		}
		if len(tmpl.Fields) == 0 {
			return fmt.Errorf("templates[%d].fields must not be empty", i)
		}
	}
	return nil
}

// ProxyEndpoints parses the configured endpoint strings into pool entries.
// Entries may carry a protocol prefix ("socks5://host:port"); bare host:port
// defaults to http.
func (c Config) ProxyEndpoints() []engine.ProxyEndpoint {
	endpoints := make([]engine.ProxyEndpoint, 0, len(c.Proxy.Endpoints))
	for _, raw := range c.Proxy.Endpoints {
		protocol := ""
		address := raw
		if idx := strings.Index(raw, "://"); idx >= 0 {
			protocol = raw[:idx]
			address = raw[idx+3:]
		}
		if address == "" {
			continue
		}
		endpoints = append(endpoints, engine.ProxyEndpoint{
			Address:  address,
			Protocol: protocol,
		})
	}
	return endpoints
}
