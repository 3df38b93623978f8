package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

//go:generate go run ../../cmd/schema/main.go schema.json

// Config holds the application configuration
type Config struct {
	Server struct {
		Listen    string        `yaml:"listen" json:"listen" jsonschema:"default=:8080,description=HTTP server listen address"`
		Timeout   time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=HTTP server timeout"`
		StaticDir string        `yaml:"static_dir" json:"static_dir" jsonschema:"description=Optional directory with the web UI served at /"`
	} `yaml:"server" json:"server" jsonschema:"description=Server configuration"`

	Database struct {
		DSN             string `yaml:"dsn" json:"dsn" jsonschema:"default=file:feedview.db?cache=shared&mode=rwc,description=Database connection string"`
		MaxOpenConns    int    `yaml:"max_open_conns" json:"max_open_conns" jsonschema:"default=10,description=Maximum number of open connections"`
		MaxIdleConns    int    `yaml:"max_idle_conns" json:"max_idle_conns" jsonschema:"default=5,description=Maximum number of idle connections"`
		ConnMaxLifetime int    `yaml:"conn_max_lifetime" json:"conn_max_lifetime" jsonschema:"default=3600,description=Connection maximum lifetime in seconds"`
	} `yaml:"database" json:"database" jsonschema:"description=Database configuration"`

	Reload ReloadConfig `yaml:"reload" json:"reload" jsonschema:"description=Feed reload configuration"`
}

// ReloadConfig holds reload scheduling and fetching settings
type ReloadConfig struct {
	DefaultIntervalMins float64       `yaml:"default_interval_mins" json:"default_interval_mins" jsonschema:"default=30,description=Fallback reload interval in minutes when no tree setting resolves"`
	SweepInterval       time.Duration `yaml:"sweep_interval" json:"sweep_interval" jsonschema:"default=60s,description=Interval of the timer reconcile sweep"`
	HTTPTimeout         time.Duration `yaml:"http_timeout" json:"http_timeout" jsonschema:"default=500s,description=Request-level timeout for feed fetches"`
	FeedTimeout         time.Duration `yaml:"feed_timeout" json:"feed_timeout" jsonschema:"default=600s,description=Job-level timeout wrapping fetch and reconciliation"`
	DefaultLane         string        `yaml:"default_lane" json:"default_lane" jsonschema:"default=default,description=Lane used when no thread setting resolves"`
	UserAgent           string        `yaml:"user_agent" json:"user_agent" jsonschema:"default=feedview/1.0,description=User agent for feed requests"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // file path comes from CLI flag
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.setDefaults()

	// validate configuration
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	// verify against embedded schema
	if err := VerifyAgainstEmbeddedSchema(&cfg); err != nil {
		// log warning but don't fail - schema validation is supplementary
		fmt.Printf("warning: schema validation failed: %v\n", err)
	}

	return &cfg, nil
}

// Default returns a configuration with all defaults applied, used when no
// config file is given
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

func (c *Config) setDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if c.Server.Timeout == 0 {
		c.Server.Timeout = 30 * time.Second
	}

	if c.Database.DSN == "" {
		c.Database.DSN = "file:feedview.db?cache=shared&mode=rwc&_txlock=immediate"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 3600
	}

	if c.Reload.DefaultIntervalMins == 0 {
		c.Reload.DefaultIntervalMins = 30
	}
	if c.Reload.SweepInterval == 0 {
		c.Reload.SweepInterval = 60 * time.Second
	}
	if c.Reload.HTTPTimeout == 0 {
		c.Reload.HTTPTimeout = 500 * time.Second
	}
	if c.Reload.FeedTimeout == 0 {
		c.Reload.FeedTimeout = 600 * time.Second
	}
	if c.Reload.DefaultLane == "" {
		c.Reload.DefaultLane = "default"
	}
	if c.Reload.UserAgent == "" {
		c.Reload.UserAgent = "feedview/1.0"
	}
}

// validate checks configuration for correctness
func validate(cfg *Config) error {
	if cfg.Server.Timeout < time.Second {
		return fmt.Errorf("server timeout must be at least 1 second")
	}

	if cfg.Reload.DefaultIntervalMins <= 0 {
		return fmt.Errorf("reload.default_interval_mins must be positive")
	}
	if cfg.Reload.SweepInterval < time.Second {
		return fmt.Errorf("reload.sweep_interval must be at least 1 second")
	}
	if cfg.Reload.HTTPTimeout < time.Second {
		return fmt.Errorf("reload.http_timeout must be at least 1 second")
	}
	if cfg.Reload.FeedTimeout < cfg.Reload.HTTPTimeout {
		return fmt.Errorf("reload.feed_timeout must not be shorter than reload.http_timeout")
	}

	return nil
}

// GetServerConfig returns server configuration
func (c *Config) GetServerConfig() (listen string, timeout time.Duration, staticDir string) {
	return c.Server.Listen, c.Server.Timeout, c.Server.StaticDir
}

// GetReloadConfig returns reload configuration
func (c *Config) GetReloadConfig() ReloadConfig {
	return c.Reload
}
