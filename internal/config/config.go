// -------------------------------------------------------------------------------
// Configuration - QCut Storage Settings
//
// Author: Alex Freidah
//
// Configuration types and loader for the QCut storage subsystem. Supports
// environment variable expansion in YAML values using ${VAR} syntax. Validates
// required fields before returning to catch misconfiguration early.
// -------------------------------------------------------------------------------

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// -------------------------------------------------------------------------
// CONSTANTS
// -------------------------------------------------------------------------

const (
	// RuntimeWeb is the browser-style runtime without a host process.
	RuntimeWeb = "web"

	// RuntimeDesktop is the desktop build where a privileged host bridge may exist.
	RuntimeDesktop = "desktop"
)

// Structured database drivers.
const (
	DriverBolt     = "bolt"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Blob store kinds.
const (
	BlobsFS = "fs"
	BlobsS3 = "s3"
)

// -------------------------------------------------------------------------
// CONFIGURATION TYPES
// -------------------------------------------------------------------------

// Config holds the complete storage configuration.
type Config struct {
	Runtime        string               `yaml:"runtime"`  // "web" or "desktop" (default: web)
	DataDir        string               `yaml:"data_dir"` // Root for on-device files (default: ./qcut-data)
	Log            LogConfig            `yaml:"log"`
	Bridge         BridgeConfig         `yaml:"bridge"`
	Server         ServerConfig         `yaml:"server"`
	Auth           AuthConfig           `yaml:"auth"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	Database       DatabaseConfig       `yaml:"database"`
	Fallback       FallbackConfig       `yaml:"fallback"`
	Blobs          BlobsConfig          `yaml:"blobs"`
	Quota          QuotaConfig          `yaml:"quota"`
	Migration      MigrationConfig      `yaml:"migration"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
}

// LogConfig controls the slog handler installed by the command.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error (default: info)
	Format string `yaml:"format"` // text or json (default: text)
}

// BridgeConfig holds the client side of the host bridge. The bridge is only
// considered when the runtime is desktop and a URL is configured.
type BridgeConfig struct {
	URL     string        `yaml:"url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"` // Per-request timeout (default: 10s)
}

// ServerConfig holds the host bridge HTTP server settings.
type ServerConfig struct {
	ListenAddr   string `yaml:"listen_addr"`    // default: 127.0.0.1:9470
	MaxValueSize int64  `yaml:"max_value_size"` // Max PUT body in bytes (default: 256MB)
}

// AuthConfig holds the shared token checked by the bridge server.
type AuthConfig struct {
	Token string `yaml:"token"`
}

// RateLimitConfig holds per-IP rate limiting settings. Disabled by default.
type RateLimitConfig struct {
	Enabled        bool    `yaml:"enabled"`
	RequestsPerSec float64 `yaml:"requests_per_sec"` // Token refill rate (default: 100)
	Burst          int     `yaml:"burst"`            // Max burst size (default: 200)
}

// DatabaseConfig selects and configures the structured metadata database.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"` // bolt, postgres, redis (default: bolt)
	Path     string         `yaml:"path"`   // bbolt file (default: {data_dir}/qcut.db)
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxConns        int           `yaml:"max_conns"`         // Max pool connections (default: 10)
	MinConns        int           `yaml:"min_conns"`         // Min idle connections (default: 5)
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"` // Max connection age (default: 5m)
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"` // default: qcut
}

// FallbackConfig holds the string-keyed fallback store settings. An empty path
// keeps the fallback in memory only.
type FallbackConfig struct {
	Path string `yaml:"path"`
}

// BlobsConfig holds the binary payload store settings.
type BlobsConfig struct {
	Kind        string        `yaml:"kind"`         // fs or s3 (default: fs)
	Dir         string        `yaml:"dir"`          // fs root (default: {data_dir}/blobs)
	ExportDir   string        `yaml:"export_dir"`   // native export files (default: {data_dir}/export)
	RevokeDelay time.Duration `yaml:"revoke_delay"` // Delay before a released handle is revoked (default: 2s)
	S3          S3Config      `yaml:"s3"`
}

// S3Config holds configuration for an S3-compatible blob bucket.
type S3Config struct {
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
}

// QuotaConfig holds the quota monitor settings.
type QuotaConfig struct {
	Enabled     bool          `yaml:"enabled"`      // Report usage via the platform estimator; disabled reports unbounded
	QuotaBytes  int64         `yaml:"quota_bytes"`  // Explicit quota; 0 uses filesystem capacity
	WarnPercent float64       `yaml:"warn_percent"` // Soft warning threshold (default: 80)
	Interval    time.Duration `yaml:"interval"`     // Periodic check interval (default: 5m)
}

// MigrationConfig holds settings for the boot-time migration runners.
type MigrationConfig struct {
	Unpaced      bool    `yaml:"unpaced"`        // Turn write pacing off
	WritesPerSec float64 `yaml:"writes_per_sec"` // Write pacing (default: 200)
	Burst        int     `yaml:"burst"`          // default: 50
}

// CircuitBreakerConfig holds settings for the remote backend circuit breaker.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"` // Consecutive failures before opening (default: 3)
	OpenTimeout      time.Duration `yaml:"open_timeout"`      // Delay before probing recovery (default: 15s)
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`
	SampleRate float64 `yaml:"sample_rate"`
	Insecure   bool    `yaml:"insecure"` // Use insecure connection (no TLS)
}

// -------------------------------------------------------------------------
// CONFIGURATION LOADER
// -------------------------------------------------------------------------

// LoadConfig reads and parses the configuration file with environment variable
// expansion. Returns an error if the file cannot be read, parsed, or validated.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// --- Expand environment variables ---
	expanded := os.Expand(string(data), func(key string) string {
		return os.Getenv(key)
	})

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.SetDefaultsAndValidate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// -------------------------------------------------------------------------
// VALIDATION
// -------------------------------------------------------------------------

// SetDefaultsAndValidate applies default values for optional fields and checks
// that all required configuration values are present.
func (c *Config) SetDefaultsAndValidate() error {
	var errors []string

	// --- Runtime ---
	if c.Runtime == "" {
		c.Runtime = RuntimeWeb
	}
	if c.Runtime != RuntimeWeb && c.Runtime != RuntimeDesktop {
		errors = append(errors, "runtime must be 'web' or 'desktop'")
	}
	if c.DataDir == "" {
		c.DataDir = "qcut-data"
	}

	// --- Logging ---
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errors = append(errors, "log.level must be one of debug, info, warn, error")
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errors = append(errors, "log.format must be 'text' or 'json'")
	}

	// --- Bridge client ---
	if c.Bridge.Timeout == 0 {
		c.Bridge.Timeout = 10 * time.Second
	}
	if c.Bridge.URL != "" {
		if u, err := url.Parse(c.Bridge.URL); err != nil || u.Scheme == "" || u.Host == "" {
			errors = append(errors, "bridge.url must be an absolute URL")
		}
	}

	// --- Bridge server ---
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = "127.0.0.1:9470"
	}
	if c.Server.MaxValueSize == 0 {
		c.Server.MaxValueSize = 256 * 1024 * 1024
	}
	if c.Server.MaxValueSize < 0 {
		errors = append(errors, "server.max_value_size must be positive")
	}

	// --- Database ---
	if c.Database.Driver == "" {
		c.Database.Driver = DriverBolt
	}
	switch c.Database.Driver {
	case DriverBolt:
		if c.Database.Path == "" {
			c.Database.Path = filepath.Join(c.DataDir, "qcut.db")
		}
	case DriverPostgres:
		pg := &c.Database.Postgres
		if pg.Host == "" {
			errors = append(errors, "database.postgres.host is required")
		}
		if pg.Database == "" {
			errors = append(errors, "database.postgres.database is required")
		}
		if pg.User == "" {
			errors = append(errors, "database.postgres.user is required")
		}
		if pg.Port == 0 {
			pg.Port = 5432
		}
		if pg.SSLMode == "" {
			pg.SSLMode = "disable"
		}
		if pg.MaxConns == 0 {
			pg.MaxConns = 10
		}
		if pg.MinConns == 0 {
			pg.MinConns = 5
		}
		if pg.MaxConnLifetime == 0 {
			pg.MaxConnLifetime = 5 * time.Minute
		}
	case DriverRedis:
		if c.Database.Redis.Addr == "" {
			errors = append(errors, "database.redis.addr is required")
		}
		if c.Database.Redis.KeyPrefix == "" {
			c.Database.Redis.KeyPrefix = "qcut"
		}
	default:
		errors = append(errors, "database.driver must be 'bolt', 'postgres' or 'redis'")
	}

	// --- Blobs ---
	if c.Blobs.Kind == "" {
		c.Blobs.Kind = BlobsFS
	}
	if c.Blobs.Dir == "" {
		c.Blobs.Dir = filepath.Join(c.DataDir, "blobs")
	}
	if c.Blobs.ExportDir == "" {
		c.Blobs.ExportDir = filepath.Join(c.DataDir, "export")
	}
	if c.Blobs.RevokeDelay == 0 {
		c.Blobs.RevokeDelay = 2 * time.Second
	}
	switch c.Blobs.Kind {
	case BlobsFS:
	case BlobsS3:
		s3 := &c.Blobs.S3
		if s3.Endpoint == "" {
			errors = append(errors, "blobs.s3.endpoint is required")
		}
		if s3.Bucket == "" {
			errors = append(errors, "blobs.s3.bucket is required")
		}
		if s3.AccessKeyID == "" {
			errors = append(errors, "blobs.s3.access_key_id is required")
		}
		if s3.SecretAccessKey == "" {
			errors = append(errors, "blobs.s3.secret_access_key is required")
		}
		if s3.Region == "" {
			s3.Region = "us-east-1"
		}
	default:
		errors = append(errors, "blobs.kind must be 'fs' or 's3'")
	}

	// --- Quota ---
	if c.Quota.WarnPercent == 0 {
		c.Quota.WarnPercent = 80
	}
	if c.Quota.WarnPercent < 0 || c.Quota.WarnPercent > 100 {
		errors = append(errors, "quota.warn_percent must be between 0 and 100")
	}
	if c.Quota.QuotaBytes < 0 {
		errors = append(errors, "quota.quota_bytes must not be negative")
	}
	if c.Quota.Interval == 0 {
		c.Quota.Interval = 5 * time.Minute
	}
	if c.Quota.Interval < 0 {
		errors = append(errors, "quota.interval must be positive")
	}

	// --- Migration pacing ---
	if c.Migration.WritesPerSec == 0 {
		c.Migration.WritesPerSec = 200
	}
	if c.Migration.Burst == 0 {
		c.Migration.Burst = 50
	}
	if c.Migration.WritesPerSec < 0 {
		errors = append(errors, "migration.writes_per_sec must be positive")
	}

	// --- Rate limit defaults ---
	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerSec == 0 {
			c.RateLimit.RequestsPerSec = 100
		}
		if c.RateLimit.Burst == 0 {
			c.RateLimit.Burst = 200
		}
		if c.RateLimit.RequestsPerSec <= 0 {
			errors = append(errors, "rate_limit.requests_per_sec must be positive")
		}
		if c.RateLimit.Burst <= 0 {
			errors = append(errors, "rate_limit.burst must be positive")
		}
	}

	// --- Circuit breaker defaults ---
	if c.CircuitBreaker.FailureThreshold == 0 {
		c.CircuitBreaker.FailureThreshold = 3
	}
	if c.CircuitBreaker.OpenTimeout == 0 {
		c.CircuitBreaker.OpenTimeout = 15 * time.Second
	}

	// --- Telemetry defaults ---
	if c.Telemetry.Metrics.Path == "" {
		c.Telemetry.Metrics.Path = "/metrics"
	}
	if c.Telemetry.Tracing.SampleRate == 0 && c.Telemetry.Tracing.Enabled {
		c.Telemetry.Tracing.SampleRate = 1.0
	}
	if c.Telemetry.Tracing.Enabled && c.Telemetry.Tracing.Endpoint == "" {
		errors = append(errors, "telemetry.tracing.endpoint is required when tracing is enabled")
	}

	if len(errors) > 0 {
		return fmt.Errorf("%s", strings.Join(errors, "; "))
	}
	return nil
}

// BridgeAvailable reports whether the host bridge should be probed. Resolved
// once at startup; the rest of the code receives the answer as a value.
func (c *Config) BridgeAvailable() bool {
	return c.Runtime == RuntimeDesktop && c.Bridge.URL != ""
}

// ConnectionString returns a PostgreSQL connection URI with properly escaped
// credentials, safe for passwords containing special characters.
func (c *PostgresConfig) ConnectionString() string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     c.Database,
		RawQuery: fmt.Sprintf("sslmode=%s", url.QueryEscape(c.SSLMode)),
	}
	return u.String()
}
