// Package config handles YAML configuration loading with environment variable expansion.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/eugener/ngevent/internal/cache"
)

// Config is the top-level service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Backend   BackendConfig   `yaml:"backend"`
	Cache     CacheConfig     `yaml:"cache"`
	Auth      AuthConfig      `yaml:"auth"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Seed      SeedConfig      `yaml:"seed"`
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
}

// SlogLevel maps Level to a slog.Level, defaulting to info.
func (l LogConfig) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // file path or ":memory:"
}

// Backend types.
const (
	BackendSQLite    = "sqlite"
	BackendPostgREST = "postgrest"
)

// BackendConfig selects where events, profiles and registrations live.
type BackendConfig struct {
	Type           string        `yaml:"type"`     // sqlite or postgrest
	URL            string        `yaml:"url"`      // PostgREST base URL
	APIKey         string        `yaml:"api_key"`  // sent as apikey and bearer token
	Timeout        time.Duration `yaml:"timeout"`  // per attempt
	Retries        int           `yaml:"retries"`  // retries after the first attempt
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	DNSRefresh     time.Duration `yaml:"dns_refresh"`
}

// Cache storage types.
const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite"
	StorageRedis  = "redis"
)

// CacheConfig holds settings of both cache layers.
type CacheConfig struct {
	Storage       string        `yaml:"storage"` // memory, sqlite or redis
	Redis         RedisConfig   `yaml:"redis"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	QueryMaxSize  int           `yaml:"query_max_size"`
	QueryMaxTTL   time.Duration `yaml:"query_max_ttl"`
	TTL           cache.Policy  `yaml:"ttl"`
}

// RedisConfig points the durable cache at Redis.
type RedisConfig struct {
	URL       string `yaml:"url"` // redis:// URL or comma-separated host:port list
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	Namespace string `yaml:"namespace"`
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	AdminKey string `yaml:"admin_key"` // bearer key for admin endpoints
}

// SeedConfig lists rows created on first run.
type SeedConfig struct {
	Profiles []ProfileEntry `yaml:"profiles"`
	Events   []EventEntry   `yaml:"events"`
}

// ProfileEntry is a profile seed.
type ProfileEntry struct {
	ID       string `yaml:"id"`
	FullName string `yaml:"full_name"`
	Email    string `yaml:"email"`
	City     string `yaml:"city"`
	Role     string `yaml:"role"`
}

// EventEntry is an event seed.
type EventEntry struct {
	ID          string    `yaml:"id"`
	OrganizerID string    `yaml:"organizer_id"`
	Title       string    `yaml:"title"`
	Description string    `yaml:"description"`
	StartDate   time.Time `yaml:"start_date"`
	EndDate     time.Time `yaml:"end_date"`
	Location    string    `yaml:"location"`
	Category    string    `yaml:"category"`
	Capacity    *int      `yaml:"capacity"`
	Fee         string    `yaml:"registration_fee"` // decimal string
	Status      string    `yaml:"status"`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Database: DatabaseConfig{
			DSN: "ngevent.db",
		},
		Backend: BackendConfig{
			Type:           BackendSQLite,
			Timeout:        20 * time.Second,
			Retries:        2,
			RetryBaseDelay: 500 * time.Millisecond,
			DNSRefresh:     5 * time.Minute,
		},
		Cache: CacheConfig{
			Storage:       StorageMemory,
			Redis:         RedisConfig{Namespace: "ngevent:"},
			SweepInterval: 5 * time.Minute,
			QueryMaxSize:  10_000,
			QueryMaxTTL:   15 * time.Minute,
			TTL:           cache.DefaultPolicy(),
		},
	}
}

// Load reads and parses a YAML config file, expanding environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = expandEnv(data)

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Cache.TTL = cfg.Cache.TTL.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	var errs []error
	switch c.Backend.Type {
	case BackendSQLite:
	case BackendPostgREST:
		if c.Backend.URL == "" {
			errs = append(errs, errors.New("backend.url is required for postgrest"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend.type %q", c.Backend.Type))
	}
	switch c.Cache.Storage {
	case StorageMemory:
	case StorageSQLite:
		if c.Backend.Type != BackendSQLite {
			errs = append(errs, errors.New("cache.storage sqlite needs backend.type sqlite"))
		}
	case StorageRedis:
		if strings.TrimSpace(c.Cache.Redis.URL) == "" {
			errs = append(errs, errors.New("cache.redis.url is required for redis storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache.storage %q", c.Cache.Storage))
	}
	if c.Backend.Retries < 0 {
		errs = append(errs, errors.New("backend.retries must not be negative"))
	}
	if c.Cache.QueryMaxSize <= 0 {
		errs = append(errs, errors.New("cache.query_max_size must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
