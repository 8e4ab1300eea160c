package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/bcpc-build/bcpc-build/pkg/allocator"
	"github.com/bcpc-build/bcpc-build/pkg/log"
	"github.com/bcpc-build/bcpc-build/pkg/store"
)

// EnvPrefix prefixes environment overrides: BCPC_BUILD_STORE_DRIVER etc.
const EnvPrefix = "BCPC_BUILD"

type Store struct {
	// Driver is badger or sqlite.
	Driver string `mapstructure:"driver" yaml:"driver"`
	// Path defaults to a driver specific location under DataDir.
	Path string `mapstructure:"path" yaml:"path"`
}

type Proxy struct {
	HTTP  string `mapstructure:"http" yaml:"http"`
	HTTPS string `mapstructure:"https" yaml:"https"`
}

type Log struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

type Config struct {
	DataDir         string        `mapstructure:"data_dir" yaml:"data_dir"`
	Store           Store         `mapstructure:"store" yaml:"store"`
	BuildHome       string        `mapstructure:"build_home" yaml:"build_home"`
	CertsDir        string        `mapstructure:"certs_dir" yaml:"certs_dir"`
	Proxy           Proxy         `mapstructure:"proxy" yaml:"proxy"`
	UserShell       string        `mapstructure:"user_shell" yaml:"user_shell"`
	KillTimeout     time.Duration `mapstructure:"kill_timeout" yaml:"kill_timeout"`
	DefaultStrategy string        `mapstructure:"default_strategy" yaml:"default_strategy"`
	Log             Log           `mapstructure:"log" yaml:"log"`
}

func Default() *Config {
	alloc := allocator.DefaultConfig()
	return &Config{
		DataDir:         defaultDataDir(),
		Store:           Store{Driver: store.DriverSQLite},
		BuildHome:       alloc.BuildHome,
		CertsDir:        alloc.CertsDir,
		Proxy:           Proxy{HTTP: os.Getenv("http_proxy"), HTTPS: os.Getenv("https_proxy")},
		UserShell:       alloc.UserShell,
		KillTimeout:     alloc.KillTimeout,
		DefaultStrategy: allocator.DefaultStrategy,
		Log:             Log{Level: "info", Format: "text"},
	}
}

func defaultDataDir() string {
	// prefer /var/lib/bcpc-build when running as root
	if os.Geteuid() == 0 {
		return "/var/lib/bcpc-build"
	}
	home, _ := os.UserHomeDir()
	if home == "" {
		return "./data"
	}
	return filepath.Join(home, ".bcpc-build")
}

// DefaultPath is the per-user config file.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".bcpc-build", "config.yaml")
}

// Load reads path, or the default locations when path is empty, and applies
// BCPC_BUILD_* environment overrides. A missing default file is not an
// error; a missing explicit file is.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		home, _ := os.UserHomeDir()
		if home != "" {
			v.AddConfigPath(filepath.Join(home, ".bcpc-build"))
		}
		v.AddConfigPath("/etc/bcpc-build/")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so that environment overrides reach
// Unmarshal even when no file sets them.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("build_home", d.BuildHome)
	v.SetDefault("certs_dir", d.CertsDir)
	v.SetDefault("proxy.http", d.Proxy.HTTP)
	v.SetDefault("proxy.https", d.Proxy.HTTPS)
	v.SetDefault("user_shell", d.UserShell)
	v.SetDefault("kill_timeout", d.KillTimeout)
	v.SetDefault("default_strategy", d.DefaultStrategy)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Validate rejects settings the engine cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case store.DriverBadger, store.DriverSQLite, store.DriverMemory:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if _, err := allocator.LookupStrategy(c.DefaultStrategy); err != nil {
		return err
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if !filepath.IsAbs(c.BuildHome) {
		return fmt.Errorf("build_home must be absolute: %q", c.BuildHome)
	}
	if c.KillTimeout <= 0 {
		return fmt.Errorf("kill_timeout must be positive: %s", c.KillTimeout)
	}
	return nil
}

// StorePath returns the database location for the configured driver.
func (c *Config) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	switch c.Store.Driver {
	case store.DriverBadger:
		return filepath.Join(c.DataDir, "badger")
	default:
		return filepath.Join(c.DataDir, "bcpc-build.sqlite")
	}
}

// LogDir holds per-unit build logs.
func (c *Config) LogDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// Allocator returns the allocator settings.
func (c *Config) Allocator() allocator.Config {
	return allocator.Config{
		BuildHome:   c.BuildHome,
		CertsDir:    c.CertsDir,
		LogDir:      c.LogDir(),
		HTTPProxy:   c.Proxy.HTTP,
		HTTPSProxy:  c.Proxy.HTTPS,
		UserShell:   c.UserShell,
		KillTimeout: c.KillTimeout,
	}
}

// LogConfig returns the logger settings.
func (c *Config) LogConfig() *log.Config {
	cfg := log.DefaultConfig()
	cfg.Level = c.Log.Level
	cfg.Format = c.Log.Format
	return cfg
}
