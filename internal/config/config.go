// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Session() SessionConfig
	Network() NetworkConfig
	Capture() CaptureConfig

	// Browser Setters
	SetBrowserHeadless(bool)
	SetBrowserIgnoreTLSErrors(bool)

	// Session Setters
	SetSessionWaitTimeout(d time.Duration)
	SetSessionUserAgent(ua string)
	SetSessionCookieFile(path string)

	// Network Setters
	SetNetworkExcludePattern(pattern string)
	SetNetworkProxy(p ProxyConfig)

	// Capture Setters
	SetCaptureConfig(cc CaptureConfig)
}

// Config holds the entire application configuration. Access normally goes
// through the Interface's getter methods.
type Config struct {
	LoggerCfg  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	BrowserCfg BrowserConfig `mapstructure:"browser" yaml:"browser"`
	SessionCfg SessionConfig `mapstructure:"session" yaml:"session"`
	NetworkCfg NetworkConfig `mapstructure:"network" yaml:"network"`
	// CaptureCfg gets its marching orders from CLI flags, not the config file.
	CaptureCfg CaptureConfig `mapstructure:"-" yaml:"-"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig   { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig { return c.BrowserCfg }
func (c *Config) Session() SessionConfig { return c.SessionCfg }
func (c *Config) Network() NetworkConfig { return c.NetworkCfg }
func (c *Config) Capture() CaptureConfig { return c.CaptureCfg }

// --- Interface Method Implementations (Setters) ---

// Browser Setters
func (c *Config) SetBrowserHeadless(b bool)        { c.BrowserCfg.Headless = b }
func (c *Config) SetBrowserIgnoreTLSErrors(b bool) { c.BrowserCfg.IgnoreTLSErrors = b }

// Session Setters
func (c *Config) SetSessionWaitTimeout(d time.Duration) { c.SessionCfg.WaitTimeout = d }
func (c *Config) SetSessionUserAgent(ua string)         { c.SessionCfg.UserAgent = ua }
func (c *Config) SetSessionCookieFile(path string)      { c.SessionCfg.CookieFile = path }

// Network Setters
func (c *Config) SetNetworkExcludePattern(pattern string) { c.NetworkCfg.ExcludePattern = pattern }
func (c *Config) SetNetworkProxy(p ProxyConfig)           { c.NetworkCfg.Proxy = p }

// Capture Setter
func (c *Config) SetCaptureConfig(cc CaptureConfig) { c.CaptureCfg = cc }

// LoggerConfig controls log output, format and rotation.
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

// BrowserConfig controls how the underlying browser engine is launched.
type BrowserConfig struct {
	Headless        bool           `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	OpTimeout       time.Duration  `mapstructure:"op_timeout" yaml:"op_timeout"`
	ExtraFlags      map[string]any `mapstructure:"extra_flags" yaml:"extra_flags"`
}

// SessionConfig carries the defaults every new page session starts with.
type SessionConfig struct {
	WaitTimeout    time.Duration `mapstructure:"wait_timeout" yaml:"wait_timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	ViewportWidth  int           `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight int           `mapstructure:"viewport_height" yaml:"viewport_height"`
	UserAgent      string        `mapstructure:"user_agent" yaml:"user_agent"`
	CookieFile     string        `mapstructure:"cookie_file" yaml:"cookie_file"`
}

// ProxyConfig describes an egress proxy.
type ProxyConfig struct {
	Type     string `mapstructure:"type" yaml:"type"`
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`
}

// NetworkConfig controls request handling.
type NetworkConfig struct {
	ExcludePattern string      `mapstructure:"exclude_pattern" yaml:"exclude_pattern"`
	Proxy          ProxyConfig `mapstructure:"proxy" yaml:"proxy"`
}

// CaptureConfig parameterizes the capture command.
type CaptureConfig struct {
	Output      string
	Selector    string
	PDF         bool
	PaperWidth  float64
	PaperHeight float64
	Zoom        float64
	// RatePerSecond throttles batch captures across multiple URLs.
	RatePerSecond float64
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
	// Logger Defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "specter")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// Browser Defaults
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", true)
	v.SetDefault("browser.op_timeout", "30s")

	// Session Defaults
	v.SetDefault("session.wait_timeout", "10s")
	v.SetDefault("session.poll_interval", "100ms")
	v.SetDefault("session.viewport_width", 1600)
	v.SetDefault("session.viewport_height", 900)
	v.SetDefault("session.user_agent", "")
	v.SetDefault("session.cookie_file", "")

	// Network Defaults
	v.SetDefault("network.exclude_pattern", "")
	v.SetDefault("network.proxy.type", "default")
	v.SetDefault("network.proxy.port", 8080)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	v.BindEnv("network.proxy.password", "SPECTER_PROXY_PASSWORD")

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
	if c.SessionCfg.WaitTimeout <= 0 {
		return fmt.Errorf("session.wait_timeout must be a positive duration")
	}
	if c.SessionCfg.PollInterval <= 0 {
		return fmt.Errorf("session.poll_interval must be a positive duration")
	}
	if c.SessionCfg.ViewportWidth <= 0 || c.SessionCfg.ViewportHeight <= 0 {
		return fmt.Errorf("session viewport dimensions must be positive")
	}
	if err := c.NetworkCfg.Proxy.Validate(); err != nil {
		return fmt.Errorf("network.proxy configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the proxy settings.
func (p *ProxyConfig) Validate() error {
	switch p.Type {
	case "", "none", "default":
		return nil
	case "http", "https", "socks5":
		if p.Host == "" {
			return fmt.Errorf("host is required for proxy type %q", p.Type)
		}
		if p.Port <= 0 || p.Port > 65535 {
			return fmt.Errorf("port %d is out of range", p.Port)
		}
		return nil
	default:
		return fmt.Errorf("unknown proxy type %q", p.Type)
	}
}
