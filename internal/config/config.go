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
	Resolver() ResolverConfig

	// Browser Setters
	SetBrowserHeadless(bool)
	SetBrowserDebug(bool)
	SetBrowserDownloadDir(string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	BrowserCfg  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	ResolverCfg ResolverConfig `mapstructure:"resolver" yaml:"resolver"`
}

var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig   { return c.BrowserCfg }
func (c *Config) Resolver() ResolverConfig { return c.ResolverCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool)      { c.BrowserCfg.Headless = b }
func (c *Config) SetBrowserDebug(b bool)         { c.BrowserCfg.Debug = b }
func (c *Config) SetBrowserDownloadDir(d string) { c.BrowserCfg.DownloadDir = d }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the headless browser instance.
type BrowserConfig struct {
	Headless bool `mapstructure:"headless" yaml:"headless"`
	// ExecPath overrides Chrome discovery. Empty means chromedp's default lookup.
	ExecPath    string         `mapstructure:"exec_path" yaml:"exec_path"`
	Args        []string       `mapstructure:"args" yaml:"args"`
	Viewport    ViewportConfig `mapstructure:"viewport" yaml:"viewport"`
	DownloadDir string         `mapstructure:"download_dir" yaml:"download_dir"`
	Debug       bool           `mapstructure:"debug" yaml:"debug"`
}

// ViewportConfig is the emulated window size in CSS pixels.
type ViewportConfig struct {
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`
}

// ResolverConfig tunes element resolution and flow execution.
type ResolverConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	IdleWindow   time.Duration `mapstructure:"idle_window" yaml:"idle_window"`
	// StepTimeout bounds each flow step. Zero waits indefinitely.
	StepTimeout time.Duration `mapstructure:"step_timeout" yaml:"step_timeout"`
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
	v.SetDefault("logger.service_name", "scalpel-driver")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.args", []string{})
	v.SetDefault("browser.viewport.width", 1920)
	v.SetDefault("browser.viewport.height", 1080)
	v.SetDefault("browser.download_dir", "")
	v.SetDefault("browser.debug", false)

	// -- Resolver --
	v.SetDefault("resolver.poll_interval", "200ms")
	v.SetDefault("resolver.idle_window", "2s")
	v.SetDefault("resolver.step_timeout", "0s")
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
	if err := c.BrowserCfg.Validate(); err != nil {
		return fmt.Errorf("browser configuration invalid: %w", err)
	}
	if err := c.ResolverCfg.Validate(); err != nil {
		return fmt.Errorf("resolver configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the browser settings.
func (b *BrowserConfig) Validate() error {
	if b.Viewport.Width <= 0 || b.Viewport.Height <= 0 {
		return fmt.Errorf("viewport dimensions must be positive, got %dx%d", b.Viewport.Width, b.Viewport.Height)
	}
	return nil
}

// Validate checks the resolver timing settings.
func (r *ResolverConfig) Validate() error {
	if r.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be a positive duration")
	}
	if r.IdleWindow <= 0 {
		return fmt.Errorf("idle_window must be a positive duration")
	}
	if r.StepTimeout < 0 {
		return fmt.Errorf("step_timeout must not be negative")
	}
	return nil
}
