package domain

import (
	"time"
)

// Config represents the main application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Artifacts ArtifactConfig  `mapstructure:"artifacts"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Feedback  FeedbackConfig  `mapstructure:"feedback"`
	Session   SessionConfig   `mapstructure:"session"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	TLSEnabled     bool          `mapstructure:"tls_enabled"`
	CertFile       string        `mapstructure:"cert_file"`
	KeyFile        string        `mapstructure:"key_file"`
}

// ArtifactConfig locates the fitted artifacts on disk
type ArtifactConfig struct {
	Dir          string `mapstructure:"dir"`
	Preprocessor string `mapstructure:"preprocessor"`
	ModelBase    string `mapstructure:"model_base"`
	Population   string `mapstructure:"population"`
}

// PipelineConfig holds the tunable decision and explanation parameters
type PipelineConfig struct {
	RiskThreshold         float64 `mapstructure:"risk_threshold"`
	SignificanceThreshold float64 `mapstructure:"significance_threshold"`
	AdditivityTolerance   float64 `mapstructure:"additivity_tolerance"`
	BackgroundSize        int     `mapstructure:"background_size"`
	BackgroundSeed        uint64  `mapstructure:"background_seed"`
	MaxFactors            int     `mapstructure:"max_factors"`
	OutputSpace           string  `mapstructure:"output_space"`
}

// DefaultPipelineConfig returns the pipeline parameters used when nothing is configured
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		RiskThreshold:         0.5,
		SignificanceThreshold: 0.01,
		AdditivityTolerance:   1e-3,
		BackgroundSize:        100,
		BackgroundSeed:        42,
		MaxFactors:            5,
		OutputSpace:           string(OutputProbability),
	}
}

// DatabaseConfig represents database connection configuration
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// FeedbackConfig selects the clinician feedback backend
type FeedbackConfig struct {
	Driver      string `mapstructure:"driver"` // "sqlite", "postgres" or "none"
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresURL string `mapstructure:"postgres_url"`
}

// SessionConfig selects where per-session results are kept
type SessionConfig struct {
	Backend    string        `mapstructure:"backend"` // "memory" or "redis"
	RedisURL   string        `mapstructure:"redis_url"`
	TTL        time.Duration `mapstructure:"ttl"`
	MaxEntries int           `mapstructure:"max_entries"`
}

// RateLimitConfig represents per-client request limits
type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// MetricsConfig represents Prometheus exposition settings
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
