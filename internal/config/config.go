package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DuplicatePolicyLast  = "last"
	DuplicatePolicyFirst = "first"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// AppConfig holds application-specific configuration.
type AppConfig struct {
	Domain            string        `mapstructure:"domain"`
	HostsFile         string        `mapstructure:"hosts_file"`
	UpdateCommand     string        `mapstructure:"update_command"`
	UpdateTimeout     time.Duration `mapstructure:"update_timeout"`
	DuplicatePolicy   string        `mapstructure:"duplicate_policy"`
	NetworkNames      bool          `mapstructure:"network_names"`
	LabelPrefix       string        `mapstructure:"label_prefix"`
	QueueSize         int           `mapstructure:"queue_size"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	WatchHostsFile    bool          `mapstructure:"watch_hosts_file"`
}

// LoggingConfig holds the logging-related configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// DockerConfig controls how the event stream is (re)established.
type DockerConfig struct {
	ReconnectInitialInterval time.Duration `mapstructure:"reconnect_initial_interval"`
	ReconnectMaxInterval     time.Duration `mapstructure:"reconnect_max_interval"`
}

// EtcdConfig holds configuration for the optional etcd mirror.
type EtcdConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Endpoints         []string      `mapstructure:"endpoints"`
	PathPrefix        string        `mapstructure:"path_prefix"`
	Hostname          string        `mapstructure:"hostname"`
	TTL               int           `mapstructure:"ttl"`
	DialTimeout       time.Duration `mapstructure:"dial_timeout"`
	LockTTL           time.Duration `mapstructure:"lock_ttl"`
	LockTimeout       time.Duration `mapstructure:"lock_timeout"`
	LockRetryInterval time.Duration `mapstructure:"lock_retry_interval"`
}

type MetricsConfig struct {
	ListenAddress string `mapstructure:"listen_address"`
}

// Config is the top-level configuration struct.
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Logging LoggingConfig `mapstructure:"log"`
	Docker  DockerConfig  `mapstructure:"docker"`
	Etcd    EtcdConfig    `mapstructure:"etcd"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// SetDefaults registers the default value of every setting on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("app.domain", "docker")
	v.SetDefault("app.hosts_file", "./hosts")
	v.SetDefault("app.update_command", "")
	v.SetDefault("app.update_timeout", 30*time.Second)
	v.SetDefault("app.duplicate_policy", DuplicatePolicyLast)
	v.SetDefault("app.network_names", false)
	v.SetDefault("app.label_prefix", "hosts")
	v.SetDefault("app.queue_size", 100)
	v.SetDefault("app.reconcile_interval", 30*time.Second)
	v.SetDefault("app.watch_hosts_file", true)
	v.SetDefault("log.level", "WARN")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("docker.reconnect_initial_interval", 500*time.Millisecond)
	v.SetDefault("docker.reconnect_max_interval", 30*time.Second)
	v.SetDefault("etcd.enabled", false)
	v.SetDefault("etcd.endpoints", []string{"localhost:2379"})
	v.SetDefault("etcd.path_prefix", "/skydns")
	v.SetDefault("etcd.hostname", "")
	v.SetDefault("etcd.ttl", 30)
	v.SetDefault("etcd.dial_timeout", 2*time.Second)
	v.SetDefault("etcd.lock_ttl", 5*time.Second)
	v.SetDefault("etcd.lock_timeout", 2*time.Second)
	v.SetDefault("etcd.lock_retry_interval", 100*time.Millisecond)
	v.SetDefault("metrics.listen_address", "")
}

// InitConfig performs the initial configuration: setting defaults, specifying the config file, and reading it.
func InitConfig(v *viper.Viper, configFile string) error {
	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config") // Looks for config.yaml
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// If the file is not found, just continue with defaults and env vars.
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return nil
}

// Load unmarshals the configuration into the Config struct and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.App.HostsFile) == "" {
		return fmt.Errorf("%w: app.hosts_file must not be empty", ErrInvalidConfig)
	}
	switch c.App.DuplicatePolicy {
	case DuplicatePolicyLast, DuplicatePolicyFirst:
	default:
		return fmt.Errorf("%w: app.duplicate_policy must be %q or %q, got %q",
			ErrInvalidConfig, DuplicatePolicyLast, DuplicatePolicyFirst, c.App.DuplicatePolicy)
	}
	if c.App.QueueSize <= 0 {
		return fmt.Errorf("%w: app.queue_size must be positive", ErrInvalidConfig)
	}
	if c.App.UpdateTimeout <= 0 {
		return fmt.Errorf("%w: app.update_timeout must be positive", ErrInvalidConfig)
	}
	if c.App.ReconcileInterval < 0 {
		return fmt.Errorf("%w: app.reconcile_interval must not be negative", ErrInvalidConfig)
	}
	if c.Docker.ReconnectInitialInterval <= 0 || c.Docker.ReconnectMaxInterval < c.Docker.ReconnectInitialInterval {
		return fmt.Errorf("%w: docker reconnect intervals must be positive and max >= initial", ErrInvalidConfig)
	}
	if c.Etcd.Enabled {
		if len(c.Etcd.Endpoints) == 0 {
			return fmt.Errorf("%w: etcd.endpoints must not be empty when etcd is enabled", ErrInvalidConfig)
		}
		if c.Etcd.LockTimeout <= 0 || c.Etcd.LockRetryInterval <= 0 || c.Etcd.LockTTL < time.Second {
			return fmt.Errorf("%w: etcd lock settings must be positive (lock_ttl >= 1s)", ErrInvalidConfig)
		}
	}
	return nil
}
