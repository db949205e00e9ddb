// Package config loads the serial-jobs process configuration.
//
// Values come from defaults, an optional YAML or TOML file, and environment
// variables prefixed with SERIALJOBS_ where dots become underscores, for
// example SERIALJOBS_DATABASE_DSN.
package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SERIALJOBS"

// Config is the full process configuration.
type Config struct {
	Database  Database  `mapstructure:"database"`
	Scheduler Scheduler `mapstructure:"scheduler"`
	Hosts     Hosts     `mapstructure:"hosts"`
	Network   Network   `mapstructure:"network"`
	History   History   `mapstructure:"history"`
	Metrics   Metrics   `mapstructure:"metrics"`
	Log       Log       `mapstructure:"log"`
	Sources   []Source  `mapstructure:"sources"`
}

// Database selects the job store.
type Database struct {
	// Driver is "sqlite" or "mysql".
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
}

// Scheduler tunes the job queue and the orchestrator.
type Scheduler struct {
	MaxActive         int           `mapstructure:"max_active"`
	Capacity          int           `mapstructure:"capacity"`
	TickInterval      time.Duration `mapstructure:"tick_interval"`
	MinInterval       time.Duration `mapstructure:"min_interval"`
	FetchLimit        int           `mapstructure:"fetch_limit"`
	DependencyPasses  int           `mapstructure:"dependency_passes"`
	ShortStuckAfter   time.Duration `mapstructure:"short_stuck_after"`
	ShortStuckCount   int           `mapstructure:"short_stuck_count"`
	LongStuckAfter    time.Duration `mapstructure:"long_stuck_after"`
	LongStuckCount    int           `mapstructure:"long_stuck_count"`
	StorageStuckAfter time.Duration `mapstructure:"storage_stuck_after"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

// Hosts tunes the host request queues.
type Hosts struct {
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	FastMaxDelay time.Duration `mapstructure:"fast_max_delay"`
	// RateLimit caps requests per second across all hosts of a pool. Zero
	// disables the cap.
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
	UserAgent string  `mapstructure:"user_agent"`
}

// Network configures the watchdog's reachability probe.
type Network struct {
	ProbeTargets []string      `mapstructure:"probe_targets"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
}

// History configures run history retention.
type History struct {
	Retention time.Duration `mapstructure:"retention"`
}

// Metrics configures the prometheus endpoint. An empty Listen disables it.
type Metrics struct {
	Listen string `mapstructure:"listen"`
	Path   string `mapstructure:"path"`
}

// Log configures process logging.
type Log struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// Source is a site polled by a recurring news job.
type Source struct {
	Name     string        `mapstructure:"name"`
	URL      string        `mapstructure:"url"`
	Interval time.Duration `mapstructure:"interval"`
}

// SetDefaults registers the default value of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "serial-jobs.db")
	v.SetDefault("database.max_open_conns", 0)
	v.SetDefault("database.max_idle_conns", 0)
	v.SetDefault("database.conn_max_lifetime", time.Duration(0))
	v.SetDefault("database.conn_max_idle_time", time.Duration(0))
	v.SetDefault("database.max_retries", 5)
	v.SetDefault("database.retry_delay", 500*time.Millisecond)

	v.SetDefault("scheduler.max_active", 50)
	v.SetDefault("scheduler.capacity", 0)
	v.SetDefault("scheduler.tick_interval", time.Minute)
	v.SetDefault("scheduler.min_interval", time.Minute)
	v.SetDefault("scheduler.fetch_limit", 0)
	v.SetDefault("scheduler.dependency_passes", 10)
	v.SetDefault("scheduler.short_stuck_after", 30*time.Minute)
	v.SetDefault("scheduler.short_stuck_count", 5)
	v.SetDefault("scheduler.long_stuck_after", 2*time.Hour)
	v.SetDefault("scheduler.long_stuck_count", 1)
	v.SetDefault("scheduler.storage_stuck_after", 2*time.Hour)
	v.SetDefault("scheduler.shutdown_timeout", 30*time.Second)

	v.SetDefault("hosts.max_delay", time.Second)
	v.SetDefault("hosts.fast_max_delay", 100*time.Millisecond)
	v.SetDefault("hosts.rate_limit", 0.0)
	v.SetDefault("hosts.rate_burst", 1)
	v.SetDefault("hosts.user_agent", "serial-jobs")

	v.SetDefault("network.probe_targets", []string{"1.1.1.1:53", "8.8.8.8:53"})
	v.SetDefault("network.probe_timeout", 3*time.Second)

	v.SetDefault("history.retention", 30*24*time.Hour)

	v.SetDefault("metrics.listen", ":9090")
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
}

// New returns a viper instance with defaults and environment binding set up.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load reads the configuration. path may be empty, in which case only
// defaults and the environment apply.
func Load(path string) (*Config, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "config: read %s", path)
		}
	}
	return LoadWithViper(v)
}

// LoadWithViper decodes the configuration held by v.
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "config: decode")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports settings that cannot work.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		return errors.Newf("config: unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("config: database.dsn is required")
	}
	if c.Scheduler.MaxActive < 1 {
		return errors.Newf("config: scheduler.max_active must be positive, got %d", c.Scheduler.MaxActive)
	}
	if c.Scheduler.TickInterval <= 0 {
		return errors.New("config: scheduler.tick_interval must be positive")
	}
	for i, s := range c.Sources {
		if s.Name == "" || s.URL == "" {
			return errors.Newf("config: sources[%d] needs a name and a url", i)
		}
	}
	return nil
}
