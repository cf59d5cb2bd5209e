// Package config provides configuration management for asyncview using Viper
// for loading from files, environment variables and command-line flags.
//
// The configuration supports YAML files, environment variable overrides with
// the ASYNCVIEW_ prefix and validation. It covers the live server, the file
// watch stream, the ticker stream, logging and the declarative list of views
// the server projects.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "ASYNCVIEW"

// Source kinds a view can be built from.
const (
	SourceTicker  = "ticker"
	SourceWatch   = "watch"
	SourceStatic  = "static"
	SourcePromise = "promise"
)

// Sources lists every known source kind.
var Sources = []string{SourceTicker, SourceWatch, SourceStatic, SourcePromise}

type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server" toml:"server"`
	Watch   WatchConfig   `mapstructure:"watch" yaml:"watch" toml:"watch"`
	Ticker  TickerConfig  `mapstructure:"ticker" yaml:"ticker" toml:"ticker"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging" toml:"logging"`
	Views   []ViewConfig  `mapstructure:"views" yaml:"views" toml:"views"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host" toml:"host"`
	Port            int           `mapstructure:"port" yaml:"port" toml:"port"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins" yaml:"allowed_origins" toml:"allowed_origins"`
	TrustedProxies  []string      `mapstructure:"trusted_proxies" yaml:"trusted_proxies" toml:"trusted_proxies"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" toml:"shutdown_timeout"`
	ErrorOverlay    bool          `mapstructure:"error_overlay" yaml:"error_overlay" toml:"error_overlay"`
}

type WatchConfig struct {
	Paths       []string      `mapstructure:"paths" yaml:"paths" toml:"paths"`
	Extensions  []string      `mapstructure:"extensions" yaml:"extensions" toml:"extensions"`
	Patterns    []string      `mapstructure:"patterns" yaml:"patterns" toml:"patterns"`
	Root        string        `mapstructure:"root" yaml:"root,omitempty" toml:"root,omitempty"`
	Debounce    time.Duration `mapstructure:"debounce" yaml:"debounce" toml:"debounce"`
	FailOnError bool          `mapstructure:"fail_on_error" yaml:"fail_on_error" toml:"fail_on_error"`
}

type TickerConfig struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval" toml:"interval"`
	Count    int           `mapstructure:"count" yaml:"count" toml:"count"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level" toml:"level"`
	Format string `mapstructure:"format" yaml:"format" toml:"format"`
	Dir    string `mapstructure:"dir" yaml:"dir,omitempty" toml:"dir,omitempty"`
}

// ViewConfig declares one view: its name, the kind of producer feeding it
// and source-specific parameters.
type ViewConfig struct {
	Name   string            `mapstructure:"name" yaml:"name" toml:"name"`
	Source string            `mapstructure:"source" yaml:"source" toml:"source"`
	Title  string            `mapstructure:"title" yaml:"title,omitempty" toml:"title,omitempty"`
	Params map[string]string `mapstructure:"params" yaml:"params,omitempty" toml:"params,omitempty"`
}

// Param returns a view parameter or def when it is unset.
func (vc ViewConfig) Param(key, def string) string {
	if v, ok := vc.Params[key]; ok && v != "" {
		return v
	}
	return def
}

// BindEnv makes ASYNCVIEW_SECTION_KEY environment variables override the
// matching section.key setting.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.trusted_proxies", []string{})
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("server.error_overlay", true)

	v.SetDefault("watch.paths", []string{"."})
	v.SetDefault("watch.extensions", []string{})
	v.SetDefault("watch.patterns", []string{})
	v.SetDefault("watch.root", "")
	v.SetDefault("watch.debounce", 100*time.Millisecond)
	v.SetDefault("watch.fail_on_error", false)

	v.SetDefault("ticker.interval", time.Second)
	v.SetDefault("ticker.count", 0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, _ := decode(v)
	return cfg
}

// Load reads the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads and validates the configuration held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	config, err := decode(v)
	if err != nil {
		return nil, err
	}

	if len(config.Views) == 0 {
		config.Views = DefaultViews()
	}

	if err := Validate(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Slices set through env vars arrive as a single string.
	if v.IsSet("server.allowed_origins") && len(config.Server.AllowedOrigins) == 0 {
		config.Server.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	}
	if v.IsSet("watch.paths") && len(config.Watch.Paths) == 0 {
		config.Watch.Paths = v.GetStringSlice("watch.paths")
	}

	return &config, nil
}

// DefaultViews is the view set served when the config declares none.
func DefaultViews() []ViewConfig {
	return []ViewConfig{
		{Name: "clock", Source: SourceTicker},
		{Name: "changes", Source: SourceWatch},
	}
}

// Addr returns host:port for the server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
