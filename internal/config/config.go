package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Session SessionConfig `mapstructure:"session" yaml:"session"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Network NetworkConfig `mapstructure:"network" yaml:"network"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	URLs    URLsConfig    `mapstructure:"urls" yaml:"urls"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// SessionConfig tunes the visit loop: dwell times, adaptation and retries.
type SessionConfig struct {
	Interval               time.Duration `mapstructure:"interval" yaml:"interval"`
	AdaptiveInterval       bool          `mapstructure:"adaptive_interval" yaml:"adaptive_interval"`
	MinInterval            time.Duration `mapstructure:"min_interval" yaml:"min_interval"`
	MaxInterval            time.Duration `mapstructure:"max_interval" yaml:"max_interval"`
	MaxRetries             int           `mapstructure:"max_retries" yaml:"max_retries"`
	MaxConsecutiveFailures int           `mapstructure:"max_consecutive_failures" yaml:"max_consecutive_failures"`
	VisitJitter            time.Duration `mapstructure:"visit_jitter" yaml:"visit_jitter"`
}

// BrowserConfig holds settings for the managed browser instance.
type BrowserConfig struct {
	Headless            bool          `mapstructure:"headless" yaml:"headless"`
	StartMaximized      bool          `mapstructure:"start_maximized" yaml:"start_maximized"`
	Kiosk               bool          `mapstructure:"kiosk" yaml:"kiosk"`
	ExecPath            string        `mapstructure:"exec_path" yaml:"exec_path"`
	RestartInterval     time.Duration `mapstructure:"restart_interval" yaml:"restart_interval"`
	RestartSettle       time.Duration `mapstructure:"restart_settle" yaml:"restart_settle"`
	MaxRestarts         int           `mapstructure:"max_restarts" yaml:"max_restarts"`
	MemoryCheckInterval time.Duration `mapstructure:"memory_check_interval" yaml:"memory_check_interval"`
	MaxMemoryPercent    float64       `mapstructure:"max_memory_percent" yaml:"max_memory_percent"`
	UserAgents          []string      `mapstructure:"user_agents" yaml:"user_agents"`
	Proxies             []string      `mapstructure:"proxies" yaml:"proxies"`
	Args                []string      `mapstructure:"args" yaml:"args"`
}

// NetworkConfig tunes navigation and reachability probing.
type NetworkConfig struct {
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	Settle            time.Duration `mapstructure:"settle" yaml:"settle"`
	PrecheckTimeout   time.Duration `mapstructure:"precheck_timeout" yaml:"precheck_timeout"`
	ProbeRate         float64       `mapstructure:"probe_rate" yaml:"probe_rate"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
}

// MetricsConfig controls where and how often the performance snapshot is written.
type MetricsConfig struct {
	Path        string `mapstructure:"path" yaml:"path"`
	FlushCycles int    `mapstructure:"flush_cycles" yaml:"flush_cycles"`
}

// URLsConfig points at the playlist file and shapes how it is walked.
type URLsConfig struct {
	Path     string `mapstructure:"path" yaml:"path"`
	Shuffle  bool   `mapstructure:"shuffle" yaml:"shuffle"`
	Category string `mapstructure:"category" yaml:"category"`
	Watch    bool   `mapstructure:"watch" yaml:"watch"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "marquee")
	v.SetDefault("logger.log_file", "marquee.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Session --
	v.SetDefault("session.interval", "90s")
	v.SetDefault("session.adaptive_interval", true)
	v.SetDefault("session.min_interval", "30s")
	v.SetDefault("session.max_interval", "180s")
	v.SetDefault("session.max_retries", 3)
	v.SetDefault("session.max_consecutive_failures", 3)
	v.SetDefault("session.visit_jitter", "3s")

	// -- Browser --
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.start_maximized", true)
	v.SetDefault("browser.kiosk", false)
	v.SetDefault("browser.restart_interval", "0s")
	v.SetDefault("browser.restart_settle", "5s")
	v.SetDefault("browser.max_restarts", 5)
	v.SetDefault("browser.memory_check_interval", "5m")
	v.SetDefault("browser.max_memory_percent", 80.0)
	v.SetDefault("browser.user_agents", []string{
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	})

	// -- Network --
	v.SetDefault("network.navigation_timeout", "30s")
	v.SetDefault("network.settle", "2s")
	v.SetDefault("network.precheck_timeout", "10s")
	v.SetDefault("network.probe_rate", 2.0)
	v.SetDefault("network.ignore_tls_errors", false)

	// -- Metrics --
	v.SetDefault("metrics.path", "marquee-metrics.json")
	v.SetDefault("metrics.flush_cycles", 5)

	// -- URLs --
	v.SetDefault("urls.path", "urls.json")
	v.SetDefault("urls.shuffle", true)
	v.SetDefault("urls.category", "")
	v.SetDefault("urls.watch", false)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session configuration invalid: %w", err)
	}
	if err := c.Browser.Validate(); err != nil {
		return fmt.Errorf("browser configuration invalid: %w", err)
	}
	if err := c.Network.Validate(); err != nil {
		return fmt.Errorf("network configuration invalid: %w", err)
	}
	if c.Metrics.Path == "" {
		return fmt.Errorf("metrics.path must not be empty")
	}
	if c.Metrics.FlushCycles <= 0 {
		return fmt.Errorf("metrics.flush_cycles must be a positive integer")
	}
	if c.URLs.Path == "" {
		return fmt.Errorf("urls.path must not be empty")
	}
	return nil
}

// Validate checks the session loop settings. Sub-second dwell values are
// rejected outright: they are almost always a bare integer that viper read
// as nanoseconds.
func (s *SessionConfig) Validate() error {
	if s.Interval < time.Second {
		return fmt.Errorf("interval must be at least 1s, got %s", s.Interval)
	}
	if s.MinInterval < time.Second {
		return fmt.Errorf("min_interval must be at least 1s, got %s", s.MinInterval)
	}
	if s.MaxInterval < s.MinInterval {
		return fmt.Errorf("max_interval (%s) must not be below min_interval (%s)", s.MaxInterval, s.MinInterval)
	}
	if s.AdaptiveInterval && (s.Interval < s.MinInterval || s.Interval > s.MaxInterval) {
		return fmt.Errorf("interval (%s) must lie within [min_interval, max_interval] = [%s, %s]",
			s.Interval, s.MinInterval, s.MaxInterval)
	}
	if s.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	if s.MaxConsecutiveFailures <= 0 {
		return fmt.Errorf("max_consecutive_failures must be a positive integer")
	}
	if s.VisitJitter < 0 {
		return fmt.Errorf("visit_jitter must not be negative")
	}
	return nil
}

// Validate checks the browser settings, including that every configured
// proxy parses as an absolute URL.
func (b *BrowserConfig) Validate() error {
	if b.MaxRestarts < 0 {
		return fmt.Errorf("max_restarts must not be negative")
	}
	if b.MemoryCheckInterval <= 0 {
		return fmt.Errorf("memory_check_interval must be a positive duration")
	}
	if b.MaxMemoryPercent <= 0 || b.MaxMemoryPercent > 100 {
		return fmt.Errorf("max_memory_percent must be in (0, 100], got %.1f", b.MaxMemoryPercent)
	}
	if b.RestartInterval < 0 {
		return fmt.Errorf("restart_interval must not be negative")
	}
	if b.RestartSettle < 0 {
		return fmt.Errorf("restart_settle must not be negative")
	}
	for _, p := range b.Proxies {
		u, err := url.Parse(p)
		if err != nil {
			return fmt.Errorf("proxy %q is not a valid URL: %w", p, err)
		}
		switch u.Scheme {
		case "http", "https", "socks5":
		default:
			return fmt.Errorf("proxy %q has unsupported scheme %q", p, u.Scheme)
		}
	}
	return nil
}

// Validate checks navigation and probing timeouts.
func (n *NetworkConfig) Validate() error {
	if n.NavigationTimeout < time.Second {
		return fmt.Errorf("navigation_timeout must be at least 1s, got %s", n.NavigationTimeout)
	}
	if n.Settle < 0 {
		return fmt.Errorf("settle must not be negative")
	}
	if n.PrecheckTimeout < time.Second {
		return fmt.Errorf("precheck_timeout must be at least 1s, got %s", n.PrecheckTimeout)
	}
	if n.ProbeRate <= 0 {
		return fmt.Errorf("probe_rate must be a positive number of probes per second")
	}
	return nil
}
