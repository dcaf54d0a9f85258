// Package config loads the rewindd daemon configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arloliu/rewind"
	"github.com/arloliu/rewind/types"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreNATS   = "nats"
	StoreSQLite = "sqlite"
)

// Config represents the rewindd configuration.
type Config struct {
	Retention RetentionConfig `yaml:"retention"`
	Store     StoreConfig     `yaml:"store"`
	Transport TransportConfig `yaml:"transport"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
}

type RetentionConfig struct {
	Mode           string        `yaml:"mode"` // count | age
	CountLimit     int           `yaml:"count_limit"`
	MaxAge         time.Duration `yaml:"max_age"`
	InactivityTTL  time.Duration `yaml:"inactivity_ttl"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	DrainOnAppend  bool          `yaml:"drain_on_append"`
	DefaultChannel string        `yaml:"default_channel"`
	ExcludedEvents []string      `yaml:"excluded_events"` // added to the control events
	RecordTimeout  time.Duration `yaml:"record_timeout"`
	ReplayTimeout  time.Duration `yaml:"replay_timeout"`
}

type StoreConfig struct {
	Type   string       `yaml:"type"` // memory | redis | nats | sqlite
	Redis  RedisConfig  `yaml:"redis"`
	NATS   NATSConfig   `yaml:"nats"`
	SQLite SQLiteConfig `yaml:"sqlite"`
}

type RedisConfig struct {
	Addrs     []string `yaml:"addrs"` // more than one selects a cluster client
	Username  string   `yaml:"username"`
	Password  string   `yaml:"password"`
	DB        int      `yaml:"db"`
	KeyPrefix string   `yaml:"key_prefix"`
}

type NATSConfig struct {
	URL           string `yaml:"url"`
	Bucket        string `yaml:"bucket"`
	Replicas      int    `yaml:"replicas"`
	MemoryStorage bool   `yaml:"memory_storage"`
}

type SQLiteConfig struct {
	Path  string `yaml:"path"`
	Table string `yaml:"table"`
}

type TransportConfig struct {
	NATSURL       string `yaml:"nats_url"` // empty disables the NATS transport
	SubjectPrefix string `yaml:"subject_prefix"`
	QueueGroup    string `yaml:"queue_group"`
}

type MetricsConfig struct {
	Addr   string `yaml:"addr"` // empty disables the HTTP endpoint
	Prefix string `yaml:"prefix"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	policy := types.DefaultRetentionPolicy()

	return &Config{
		Retention: RetentionConfig{
			Mode:           string(policy.Mode),
			CountLimit:     policy.CountLimit,
			MaxAge:         policy.MaxAge,
			InactivityTTL:  policy.InactivityTTL,
			SweepInterval:  policy.SweepInterval,
			DefaultChannel: rewind.DefaultChannel,
			RecordTimeout:  2 * time.Second,
			ReplayTimeout:  30 * time.Second,
		},
		Store: StoreConfig{
			Type: StoreMemory,
			Redis: RedisConfig{
				Addrs:     []string{"localhost:6379"},
				KeyPrefix: "rewind",
			},
			NATS: NATSConfig{
				URL:      "nats://localhost:4222",
				Bucket:   "rewind-events",
				Replicas: 1,
			},
			SQLite: SQLiteConfig{
				Path:  "rewind.db",
				Table: "rewind_events",
			},
		},
		Transport: TransportConfig{
			SubjectPrefix: "rewind",
			QueueGroup:    "rewind",
		},
		Metrics: MetricsConfig{
			Addr:   ":9090",
			Prefix: "rewind",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from a YAML file. Keys absent from the file
// keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML configuration over the defaults and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for values rewindd cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if err := c.RetentionPolicy().Validate(); err != nil {
		errs = append(errs, err)
	}

	switch c.Store.Type {
	case StoreMemory:
	case StoreRedis:
		if len(c.Store.Redis.Addrs) == 0 {
			errs = append(errs, errors.New("store.redis.addrs is required"))
		}
	case StoreNATS:
		if c.Store.NATS.URL == "" {
			errs = append(errs, errors.New("store.nats.url is required"))
		}
	case StoreSQLite:
		if c.Store.SQLite.Path == "" {
			errs = append(errs, errors.New("store.sqlite.path is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store type %q (memory|redis|nats|sqlite)", c.Store.Type))
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q (text|json)", c.Log.Format))
	}

	return errors.Join(errs...)
}

// RetentionPolicy converts the retention section to a policy.
func (c *Config) RetentionPolicy() types.RetentionPolicy {
	r := c.Retention

	return types.RetentionPolicy{
		Mode:          types.RetentionMode(r.Mode),
		CountLimit:    r.CountLimit,
		MaxAge:        r.MaxAge,
		InactivityTTL: r.InactivityTTL,
		SweepInterval: r.SweepInterval,
		DrainOnAppend: r.DrainOnAppend,
	}
}

// Options converts the retention section to rewind options.
func (c *Config) Options() []rewind.Option {
	return []rewind.Option{
		rewind.WithRetentionPolicy(c.RetentionPolicy()),
		rewind.WithDefaultChannel(c.Retention.DefaultChannel),
		rewind.WithExcludedEvents(c.Retention.ExcludedEvents...),
		rewind.WithRecordTimeout(c.Retention.RecordTimeout),
		rewind.WithReplayTimeout(c.Retention.ReplayTimeout),
	}
}
