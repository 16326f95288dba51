// Package config handles loading and validating runtime and data source
// configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/sqlpool/sqlpool/pkg/datasource"
	"gopkg.in/yaml.v3"
)

// RuntimeConfig holds process-wide settings: instance identity, logging,
// metrics and health-check ports. Pool tunables live on each data source;
// their defaults are fixed in applyDefaults.
type RuntimeConfig struct {
	InstanceID          string        `yaml:"instance_id"`
	LogLevel            string        `yaml:"log_level"`
	MetricsPort         int           `yaml:"metrics_port"`
	HealthCheckPort     int           `yaml:"health_check_port"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
}

// RedisConfig holds the distributed-coordinator Redis connection
// configuration (spec §12). Zero value means coordination is disabled and
// every Pool runs with purely local capacity bookkeeping.
type RedisConfig struct {
	Addr              string        `yaml:"addr"`
	Password          string        `yaml:"password"`
	DB                int           `yaml:"db"`
	PoolSize          int           `yaml:"pool_size"`
	DialTimeout       time.Duration `yaml:"dial_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTTL      time.Duration `yaml:"heartbeat_ttl"`
}

// Config is the root configuration structure.
type Config struct {
	Runtime     RuntimeConfig
	Redis       RedisConfig
	DataSources []datasource.DataSource
}

// runtimeFileConfig mirrors the YAML structure for the runtime config file.
type runtimeFileConfig struct {
	Runtime RuntimeConfig `yaml:"runtime"`
	Redis   RedisConfig   `yaml:"redis"`
}

// dataSourcesFileConfig mirrors the YAML structure for the data sources
// config file.
type dataSourcesFileConfig struct {
	DataSources []datasource.DataSource `yaml:"data_sources"`
}

// Load reads and parses both the runtime configuration file and the data
// sources configuration file.
func Load(runtimeConfigPath, dataSourcesConfigPath string) (*Config, error) {
	runtimeData, err := os.ReadFile(runtimeConfigPath)
	if err != nil {
		return nil, fmt.Errorf("reading runtime config %s: %w", runtimeConfigPath, err)
	}

	var runtimeFile runtimeFileConfig
	if err := yaml.Unmarshal(runtimeData, &runtimeFile); err != nil {
		return nil, fmt.Errorf("parsing runtime config %s: %w", runtimeConfigPath, err)
	}

	dsData, err := os.ReadFile(dataSourcesConfigPath)
	if err != nil {
		return nil, fmt.Errorf("reading data sources config %s: %w", dataSourcesConfigPath, err)
	}

	var dsFile dataSourcesFileConfig
	if err := yaml.Unmarshal(dsData, &dsFile); err != nil {
		return nil, fmt.Errorf("parsing data sources config %s: %w", dataSourcesConfigPath, err)
	}

	cfg := &Config{
		Runtime:     runtimeFile.Runtime,
		Redis:       runtimeFile.Redis,
		DataSources: dsFile.DataSources,
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	cfg.applyDefaults()

	return cfg, nil
}

// validate checks mandatory fields.
func (c *Config) validate() error {
	if len(c.DataSources) == 0 {
		return fmt.Errorf("at least one data source must be configured")
	}
	for i, d := range c.DataSources {
		if d.ID == "" {
			return fmt.Errorf("data_sources[%d].id is required", i)
		}
		if d.Driver == "" {
			return fmt.Errorf("data_sources[%d].driver is required", i)
		}
		if d.Host == "" {
			return fmt.Errorf("data_sources[%d].host is required", i)
		}
		if d.Max == 0 {
			return fmt.Errorf("data_sources[%d].max is required", i)
		}
		if d.Initial > d.Max {
			return fmt.Errorf("data_sources[%d].initial (%d) exceeds max (%d)", i, d.Initial, d.Max)
		}
	}
	return nil
}

// applyDefaults fills in reasonable defaults for unset optional fields.
func (c *Config) applyDefaults() {
	if c.Runtime.LogLevel == "" {
		c.Runtime.LogLevel = "info"
	}
	if c.Runtime.HealthCheckInterval == 0 {
		c.Runtime.HealthCheckInterval = 15 * time.Second
	}
	if c.Runtime.HealthCheckPort == 0 {
		c.Runtime.HealthCheckPort = 8080
	}
	if c.Runtime.MetricsPort == 0 {
		c.Runtime.MetricsPort = 9090
	}
	if c.Runtime.InstanceID == "" {
		hostname, _ := os.Hostname()
		c.Runtime.InstanceID = hostname
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "redis:6379"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 20
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}
	if c.Redis.HeartbeatInterval == 0 {
		c.Redis.HeartbeatInterval = 10 * time.Second
	}
	if c.Redis.HeartbeatTTL == 0 {
		c.Redis.HeartbeatTTL = 30 * time.Second
	}

	for i := range c.DataSources {
		d := &c.DataSources[i]
		if d.IdleTimeout == 0 {
			d.IdleTimeout = 5 * time.Minute
		}
		if d.SweepInterval == 0 {
			d.SweepInterval = 60 * time.Second
		}
		if d.ConnectionTimeout == 0 {
			d.ConnectionTimeout = 30 * time.Second
		}
		if d.QueryTimeout == 0 {
			d.QueryTimeout = 30 * time.Second
		}
	}
}

// DataSourceByID returns the data source configuration for a given ID.
func (c *Config) DataSourceByID(id string) (*datasource.DataSource, bool) {
	for i := range c.DataSources {
		if c.DataSources[i].ID == id {
			return &c.DataSources[i], true
		}
	}
	return nil, false
}
