// Package config loads pgexport configuration from a YAML file with
// environment variable overrides. A .env file, when present, is loaded
// into the environment first.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/quarrydata/pgexport/command"
)

// Config holds the full pgexport configuration.
type Config struct {
	// Database connection settings.
	Database DatabaseConfig `yaml:"database"`

	// Command execution settings.
	Command CommandConfig `yaml:"command"`

	// Async runner settings.
	Async AsyncConfig `yaml:"async"`

	// HTTP server settings.
	Server ServerConfig `yaml:"server"`

	// Export defaults.
	Export ExportConfig `yaml:"export"`

	// Logging settings.
	Log LogConfig `yaml:"log"`
}

// DatabaseConfig holds connection settings.
type DatabaseConfig struct {
	// DSN is the Postgres connection string.
	DSN string `yaml:"dsn"`

	// MaxOpenConns is the connection pool ceiling. Default: 25
	MaxOpenConns int `yaml:"max_open_conns"`

	// MaxIdleConns is the idle connection ceiling. Default: 10
	MaxIdleConns int `yaml:"max_idle_conns"`

	// ConnMaxLifetime is the maximum connection age. Default: 5m
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// CommandConfig holds command execution settings.
type CommandConfig struct {
	// DefaultTimeoutSeconds is the command timeout applied when a command
	// does not set its own, in whole seconds. Default: 30
	DefaultTimeoutSeconds int `yaml:"default_timeout_seconds"`

	// SlowThreshold is the duration past which commands are logged as
	// slow. Zero disables slow logging. Default: 5s
	SlowThreshold time.Duration `yaml:"slow_threshold"`
}

// AsyncConfig holds async runner settings.
type AsyncConfig struct {
	// Workers is the number of concurrent job workers. Default: 4
	Workers int `yaml:"workers"`

	// QueueDepth is the pending job buffer size. Default: 64
	QueueDepth int `yaml:"queue_depth"`

	// JobRetention is how long finished jobs stay queryable. Default: 10m
	JobRetention time.Duration `yaml:"job_retention"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Addr is the listen address. Default: :8080
	Addr string `yaml:"addr"`

	// ReadTimeout bounds request reads. Default: 10s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout bounds response writes. Default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// ShutdownTimeout bounds graceful shutdown. Default: 15s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ExportConfig holds export defaults, overridable per invocation.
type ExportConfig struct {
	// Format is the default output format: csv, tsv, or jsonl.
	// Default: csv
	Format string `yaml:"format"`

	// NullString is the text rendered for NULL values in csv/tsv output.
	// Default: empty string
	NullString string `yaml:"null_string"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the minimum log level: DEBUG, INFO, WARN, or ERROR.
	// Default: INFO
	Level string `yaml:"level"`

	// Debug enables verbose error formatting with stack traces.
	Debug bool `yaml:"debug"`
}

// Default returns a Config populated with default values.
func Default() *Config {
	opts := command.DefaultOptions()
	return &Config{
		Database: DatabaseConfig{
			MaxOpenConns:    opts.MaxOpenConns,
			MaxIdleConns:    opts.MaxIdleConns,
			ConnMaxLifetime: opts.ConnMaxLifetime,
		},
		Command: CommandConfig{
			DefaultTimeoutSeconds: opts.DefaultTimeoutSeconds,
			SlowThreshold:         opts.SlowCommandThreshold,
		},
		Async: AsyncConfig{
			Workers:      opts.AsyncWorkers,
			QueueDepth:   opts.AsyncQueueDepth,
			JobRetention: opts.JobRetention,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Export: ExportConfig{
			Format: "csv",
		},
		Log: LogConfig{
			Level: "INFO",
		},
	}
}

// Load reads configuration from the given YAML file path, then applies
// environment overrides. An empty path skips the file and loads from the
// environment alone. A .env file in the working directory is honored.
func Load(path string) (*Config, error) {
	// Missing .env is not an error.
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides config fields from PGEXPORT_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("PGEXPORT_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v, ok := envInt("PGEXPORT_MAX_OPEN_CONNS"); ok {
		c.Database.MaxOpenConns = v
	}
	if v, ok := envInt("PGEXPORT_MAX_IDLE_CONNS"); ok {
		c.Database.MaxIdleConns = v
	}
	if v, ok := envInt("PGEXPORT_TIMEOUT_SECONDS"); ok {
		c.Command.DefaultTimeoutSeconds = v
	}
	if v, ok := envInt("PGEXPORT_ASYNC_WORKERS"); ok {
		c.Async.Workers = v
	}
	if v, ok := envInt("PGEXPORT_ASYNC_QUEUE_DEPTH"); ok {
		c.Async.QueueDepth = v
	}
	if v := os.Getenv("PGEXPORT_SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("PGEXPORT_FORMAT"); v != "" {
		c.Export.Format = v
	}
	if v := os.Getenv("PGEXPORT_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("PGEXPORT_DEBUG"); v != "" {
		c.Log.Debug = v == "true" || v == "1"
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Command.DefaultTimeoutSeconds < 0 {
		return command.ErrNegativeTimeout(c.Command.DefaultTimeoutSeconds)
	}
	if c.Async.Workers < 0 {
		return fmt.Errorf("config: async workers must not be negative, got %d", c.Async.Workers)
	}
	if c.Async.QueueDepth < 0 {
		return fmt.Errorf("config: async queue depth must not be negative, got %d", c.Async.QueueDepth)
	}
	switch strings.ToLower(strings.TrimSpace(c.Export.Format)) {
	case "", "csv", "tsv", "jsonl":
	default:
		return fmt.Errorf("config: unknown export format %q", c.Export.Format)
	}
	if level := strings.ToUpper(strings.TrimSpace(c.Log.Level)); level != "" {
		switch level {
		case "DEBUG", "INFO", "WARN", "ERROR":
		default:
			return fmt.Errorf("config: unknown log level %q", c.Log.Level)
		}
	}
	return nil
}

// ToOptions converts the configuration to client options.
func (c *Config) ToOptions() *command.Options {
	opts := command.DefaultOptions()
	opts.DefaultTimeoutSeconds = c.Command.DefaultTimeoutSeconds
	opts.SlowCommandThreshold = c.Command.SlowThreshold
	if c.Database.MaxOpenConns > 0 {
		opts.MaxOpenConns = c.Database.MaxOpenConns
	}
	if c.Database.MaxIdleConns > 0 {
		opts.MaxIdleConns = c.Database.MaxIdleConns
	}
	if c.Database.ConnMaxLifetime > 0 {
		opts.ConnMaxLifetime = c.Database.ConnMaxLifetime
	}
	if c.Async.Workers > 0 {
		opts.AsyncWorkers = c.Async.Workers
	}
	if c.Async.QueueDepth > 0 {
		opts.AsyncQueueDepth = c.Async.QueueDepth
	}
	if c.Async.JobRetention > 0 {
		opts.JobRetention = c.Async.JobRetention
	}
	opts.DebugMode = c.Log.Debug
	opts.LogLevel = c.Log.Level
	return &opts
}
