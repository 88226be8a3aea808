package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"

	"github.com/fcinq/genchat/internal/provider"
	"github.com/fcinq/genchat/internal/security"
)

const (
	EnvPrefix = "GENCHAT"
	appName   = "genchat"
	fileName  = "config.yaml"
)

type Config struct {
	WebhookURL string         `mapstructure:"webhook_url"`
	Log        LogConfig      `mapstructure:"log"`
	Store      StoreConfig    `mapstructure:"store"`
	Server     ServerConfig   `mapstructure:"server"`
	Progress   ProgressConfig `mapstructure:"progress"`
	Display    DisplayConfig  `mapstructure:"display"`
	Download   DownloadConfig `mapstructure:"download"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	RedisAddr string `mapstructure:"redis_addr"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type ProgressConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type DisplayConfig struct {
	Inline bool `mapstructure:"inline"`
}

type DownloadConfig struct {
	Dir string `mapstructure:"dir"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("webhook_url", "")
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.format", "text")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "")
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("server.addr", "127.0.0.1:8080")
	v.SetDefault("progress.enabled", true)
	v.SetDefault("display.inline", true)
	v.SetDefault("download.dir", ".")
}

// New prepares a viper instance with defaults and GENCHAT_* environment
// overrides. Flags are bound by the caller.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file into v and decodes the result. An explicit
// path must exist; the default path is optional.
func Load(v *viper.Viper, path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit || !(errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.WebhookURL = strings.TrimSpace(cfg.WebhookURL)
	return cfg, nil
}

// WebhookConfigured reports whether a usable webhook URL is set.
func (c *Config) WebhookConfigured() bool {
	return provider.IsConfigured(c.WebhookURL)
}

func (c *Config) Validate() error {
	if c.WebhookConfigured() {
		if err := security.ValidateEndpoint(c.WebhookURL); err != nil {
			return fmt.Errorf("webhook_url: %w", err)
		}
	}
	switch c.Store.Driver {
	case "", "sqlite", "redis", "memory":
	default:
		return fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver)
	}
	return nil
}

// Dir returns the platform-specific config directory.
func Dir() (string, error) {
	if override := os.Getenv(EnvPrefix + "_CONFIG_DIR"); override != "" {
		return override, nil
	}

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Application Support", appName), nil
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(appData, appName), nil
	default:
		configHome := os.Getenv("XDG_CONFIG_HOME")
		if configHome == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configHome = filepath.Join(home, ".config")
		}
		return filepath.Join(configHome, appName), nil
	}
}

func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fileName), nil
}

// Set persists key=value into the config file at path, creating it with
// owner-only permissions when missing.
func Set(path, key, value string) error {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	v.Set(key, value)

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return os.Chmod(path, 0600)
}

// MaskURL hides everything after the host, which usually carries the
// webhook's secret path.
func MaskURL(raw string) string {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return strings.Repeat("*", min(len(raw), 8))
	}
	host, path, _ := strings.Cut(rest, "/")
	if path == "" {
		return raw
	}
	return scheme + "://" + host + "/" + strings.Repeat("*", min(len(path), 12))
}
