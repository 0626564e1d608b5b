// Package config loads service configuration from an optional YAML file and the
// environment. Environment variables always win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete service configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Forms    FormsConfig    `yaml:"forms"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type ServerConfig struct {
	Port                 string        `yaml:"port"`
	ReadTimeout          time.Duration `yaml:"read_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	IdleTimeout          time.Duration `yaml:"idle_timeout"`
	RequestTimeout       time.Duration `yaml:"request_timeout"`
	ShutdownTimeout      time.Duration `yaml:"shutdown_timeout"`
	SlowRequestThreshold time.Duration `yaml:"slow_request_threshold"`
	MaxBodyBytes         int64         `yaml:"max_body_bytes"`
}

// DatabaseConfig selects the schema store. An empty URL keeps forms in memory.
type DatabaseConfig struct {
	URL            string `yaml:"url"`
	MaxOpenConns   int    `yaml:"max_open_conns"`
	MigrationsPath string `yaml:"migrations_path"`
}

// RedisConfig selects the session store. An empty Addr keeps sessions in memory.
type RedisConfig struct {
	Addr       string        `yaml:"addr"`
	Password   string        `yaml:"password"`
	DB         int           `yaml:"db"`
	Prefix     string        `yaml:"prefix"`
	SessionTTL time.Duration `yaml:"session_ttl"`
}

type FormsConfig struct {
	// StrictValidation rejects schemas with authoring errors on create and update.
	// When false they are stored and the problems are logged.
	StrictValidation bool          `yaml:"strict_validation"`
	CacheTTL         time.Duration `yaml:"cache_ttl"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	SampleRate int    `yaml:"sample_rate"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Path      string `yaml:"path"`
}

// Load reads path (skipped when empty), applies defaults and environment overrides,
// then validates the result
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
		}
	}

	ApplyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// ApplyDefaults fills every unset value
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 15 * time.Second
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 60 * time.Second
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 60 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Server.SlowRequestThreshold == 0 {
		cfg.Server.SlowRequestThreshold = 500 * time.Millisecond
	}

	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 1 << 20
	}

	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MigrationsPath == "" {
		cfg.Database.MigrationsPath = "migrations"
	}

	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "formrules:session:"
	}
	if cfg.Redis.SessionTTL == 0 {
		cfg.Redis.SessionTTL = 24 * time.Hour
	}

	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "formrules"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

// applyEnvOverrides uses the plain names the deployment already sets (DATABASE_URL,
// PORT, REDIS_ADDR, LOG_LEVEL) plus FORMRULES_SECTION_FIELD for everything else
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("PORT"); val != "" {
		cfg.Server.Port = val
	}
	if val := os.Getenv("DATABASE_URL"); val != "" {
		cfg.Database.URL = val
	}
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("ERROR_SAMPLE_RATE"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Logging.SampleRate = i
		}
	}

	if val := os.Getenv("FORMRULES_SERVER_REQUEST_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Server.RequestTimeout = d
		}
	}
	if val := os.Getenv("FORMRULES_SERVER_SLOW_REQUEST_THRESHOLD"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Server.SlowRequestThreshold = d
		}
	}
	if val := os.Getenv("FORMRULES_SERVER_MAX_BODY_BYTES"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			cfg.Server.MaxBodyBytes = n
		}
	}
	if val := os.Getenv("FORMRULES_DATABASE_MAX_OPEN_CONNS"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Database.MaxOpenConns = i
		}
	}
	if val := os.Getenv("FORMRULES_REDIS_DB"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = i
		}
	}
	if val := os.Getenv("FORMRULES_REDIS_SESSION_TTL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Redis.SessionTTL = d
		}
	}
	if val := os.Getenv("FORMRULES_FORMS_STRICT_VALIDATION"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Forms.StrictValidation = b
		}
	}
	if val := os.Getenv("FORMRULES_FORMS_CACHE_TTL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Forms.CacheTTL = d
		}
	}
	if val := os.Getenv("FORMRULES_METRICS_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Metrics.Enabled = b
		}
	}
}

// Validate reports every invalid setting at once
func Validate(cfg *Config) error {
	var errs []error

	if port, err := strconv.Atoi(cfg.Server.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %q is not a valid port", cfg.Server.Port))
	}
	if cfg.Server.ShutdownTimeout < 0 || cfg.Server.RequestTimeout < 0 {
		errs = append(errs, errors.New("server timeouts must not be negative"))
	}
	if cfg.Server.MaxBodyBytes < 1 {
		errs = append(errs, fmt.Errorf("server.max_body_bytes must be positive, got %d", cfg.Server.MaxBodyBytes))
	}
	if cfg.Database.MaxOpenConns < 1 {
		errs = append(errs, fmt.Errorf("database.max_open_conns must be positive, got %d", cfg.Database.MaxOpenConns))
	}
	if cfg.Redis.DB < 0 {
		errs = append(errs, fmt.Errorf("redis.db must not be negative, got %d", cfg.Redis.DB))
	}
	if cfg.Redis.SessionTTL < 0 {
		errs = append(errs, errors.New("redis.session_ttl must not be negative"))
	}
	if cfg.Forms.CacheTTL < 0 {
		errs = append(errs, errors.New("forms.cache_ttl must not be negative"))
	}
	if cfg.Logging.Level != "" {
		switch strings.ToUpper(cfg.Logging.Level) {
		case "TRACE", "DEBUG", "INFO", "WARN", "WARNING", "ERROR", "FATAL":
		default:
			errs = append(errs, fmt.Errorf("logging.level %q is not a known level", cfg.Logging.Level))
		}
	}
	if cfg.Logging.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("logging.sample_rate must not be negative, got %d", cfg.Logging.SampleRate))
	}
	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("metrics.path %q must start with /", cfg.Metrics.Path))
	}

	return errors.Join(errs...)
}
