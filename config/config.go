package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ruteri/nexus-storage-gateway/dnslink"
	"github.com/ruteri/nexus-storage-gateway/kvstore"
	"github.com/ruteri/nexus-storage-gateway/storage"
	"github.com/ruteri/nexus-storage-gateway/upload"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. NEXUS_SERVER_LISTEN_ADDR.
const EnvPrefix = "NEXUS"

// Config is the gateway service configuration.
type Config struct {
	Server ServerConfig `mapstructure:"server"`

	Embedded EmbeddedConfig `mapstructure:"embedded"`

	Remote RemoteConfig `mapstructure:"remote"`

	Gateway GatewayConfig `mapstructure:"gateway"`

	Persistence kvstore.StoreConfig `mapstructure:"persistence"`

	Uploads upload.Policy `mapstructure:"uploads"`

	DNSLink dnslink.Config `mapstructure:"dnslink"`
}

// ServerConfig configures the HTTP listeners.
type ServerConfig struct {
	ListenAddr string `mapstructure:"listen_addr" validate:"required"`

	// MetricsAddr is the Prometheus listener. Empty disables it.
	MetricsAddr string `mapstructure:"metrics_addr"`

	EnablePprof bool `mapstructure:"enable_pprof"`

	DrainDuration time.Duration `mapstructure:"drain_duration" validate:"gte=0"`

	GracefulShutdownDuration time.Duration `mapstructure:"graceful_shutdown_duration" validate:"gt=0"`

	ReadTimeout time.Duration `mapstructure:"read_timeout" validate:"gte=0"`

	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"gte=0"`
}

// EmbeddedConfig configures the in-process node.
type EmbeddedConfig struct {
	Enabled bool `mapstructure:"enabled"`

	storage.EmbeddedConfig `mapstructure:",squash"`
}

// RemoteConfig configures the remote API providers.
type RemoteConfig struct {
	// Providers adds or overrides provider table entries by name.
	Providers map[string]string `mapstructure:"providers" validate:"dive,keys,required,endkeys,url"`

	DefaultProvider string `mapstructure:"default_provider" validate:"required"`

	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// GatewayConfig configures routing between backends.
type GatewayConfig struct {
	StartupTimeout time.Duration `mapstructure:"startup_timeout" validate:"gt=0"`

	// PublicGateway is the HTTP gateway used for view links.
	PublicGateway string `mapstructure:"public_gateway" validate:"required,url"`
}

// Load reads configuration from configPath (or the default location when
// empty), applies environment overrides, defaults and validation.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)
	setViperDefaults(v)

	if err := readConfigFile(v, configPath); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(GetConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

func readConfigFile(v *viper.Viper, configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
			return nil
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// GetConfigDir returns the directory searched for config.yaml.
func GetConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "nexus-gateway")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "nexus-gateway")
}

// GatewayOptions converts the configuration into storage gateway options.
func (c *Config) GatewayOptions() storage.Options {
	return storage.Options{
		EmbeddedEnabled: c.Embedded.Enabled,
		Embedded:        c.Embedded.EmbeddedConfig,
		Providers:       c.Remote.Providers,
		DefaultProvider: c.Remote.DefaultProvider,
		RemoteTimeout:   c.Remote.Timeout,
		StartupTimeout:  c.Gateway.StartupTimeout,
		GatewayBase:     c.Gateway.PublicGateway,
	}
}
