package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the simulation configuration
type Config struct {
	Simulation SimulationConfig `yaml:"simulation"`
	Store      StoreConfig      `yaml:"store"`
	Rewind     RewindConfig     `yaml:"rewind"`
	Workload   WorkloadConfig   `yaml:"workload"`
}

type SimulationConfig struct {
	Duration        time.Duration `yaml:"duration"`
	Seed            int64         `yaml:"seed"`
	Step            time.Duration `yaml:"step"` // length of one scenario phase
	ConsoleInterval time.Duration `yaml:"console_interval"`
}

type StoreConfig struct {
	Type string `yaml:"type"` // memory | redis
}

type RewindConfig struct {
	CountLimit    int           `yaml:"count_limit"`
	InactivityTTL time.Duration `yaml:"inactivity_ttl"`
	RecordTimeout time.Duration `yaml:"record_timeout"`
}

type WorkloadConfig struct {
	Clients         int           `yaml:"clients"`
	Channels        []string      `yaml:"channels"`
	PublishInterval time.Duration `yaml:"publish_interval"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()

	return cfg
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyDefaults()

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Simulation.Duration == 0 {
		c.Simulation.Duration = 5 * time.Minute
	}
	if c.Simulation.Step == 0 {
		c.Simulation.Step = 2 * time.Second
	}
	if c.Simulation.ConsoleInterval == 0 {
		c.Simulation.ConsoleInterval = 10 * time.Second
	}
	if c.Store.Type == "" {
		c.Store.Type = "memory"
	}
	if c.Rewind.CountLimit <= 0 {
		c.Rewind.CountLimit = 200
	}
	if c.Rewind.InactivityTTL == 0 {
		c.Rewind.InactivityTTL = 10 * time.Minute
	}
	if c.Rewind.RecordTimeout == 0 {
		c.Rewind.RecordTimeout = time.Second
	}
	if c.Workload.Clients <= 0 {
		c.Workload.Clients = 8
	}
	if len(c.Workload.Channels) == 0 {
		c.Workload.Channels = []string{"room1", "room2", "room3"}
	}
	if c.Workload.PublishInterval == 0 {
		c.Workload.PublishInterval = 5 * time.Millisecond
	}
}
