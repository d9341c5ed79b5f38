package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/cardiovision-risk-engine/internal/domain"
)

// Manager implements the ConfigManager interface using Viper
type Manager struct {
	v          *viper.Viper
	configFile string
	config     *domain.Config
}

// NewManager creates a configuration manager that searches the default paths
func NewManager() (*Manager, error) {
	return newManager("")
}

// NewManagerFromFile creates a configuration manager bound to one config file
func NewManagerFromFile(path string) (*Manager, error) {
	return newManager(path)
}

func newManager(path string) (*Manager, error) {
	m := &Manager{configFile: path}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from file, environment and defaults
func (m *Manager) loadConfig() error {
	v := viper.New()
	if m.configFile != "" {
		v.SetConfigFile(m.configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/cardiovision/")
	}

	v.SetEnvPrefix("CARDIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.v = v
	m.config = config
	return nil
}

// setDefaults registers every key so AutomaticEnv can override it
func setDefaults(v *viper.Viper) {
	pipeline := domain.DefaultPipelineConfig()

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.request_timeout", "20s")
	v.SetDefault("server.tls_enabled", false)
	v.SetDefault("server.cert_file", "")
	v.SetDefault("server.key_file", "")

	// Artifacts
	v.SetDefault("artifacts.dir", "./artifacts")
	v.SetDefault("artifacts.preprocessor", "preprocessor.json")
	v.SetDefault("artifacts.model_base", "model")
	v.SetDefault("artifacts.population", "population.csv")

	// Pipeline
	v.SetDefault("pipeline.risk_threshold", pipeline.RiskThreshold)
	v.SetDefault("pipeline.significance_threshold", pipeline.SignificanceThreshold)
	v.SetDefault("pipeline.additivity_tolerance", pipeline.AdditivityTolerance)
	v.SetDefault("pipeline.background_size", pipeline.BackgroundSize)
	v.SetDefault("pipeline.background_seed", pipeline.BackgroundSeed)
	v.SetDefault("pipeline.max_factors", pipeline.MaxFactors)
	v.SetDefault("pipeline.output_space", pipeline.OutputSpace)

	// Database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "cardiovision")
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.migrations_path", "file://migrations")

	// Feedback
	v.SetDefault("feedback.driver", "sqlite")
	v.SetDefault("feedback.sqlite_path", "./data/feedback.db")
	v.SetDefault("feedback.postgres_url", "")

	// Sessions
	v.SetDefault("session.backend", "memory")
	v.SetDefault("session.redis_url", "redis://localhost:6379/0")
	v.SetDefault("session.ttl", "30m")
	v.SetDefault("session.max_entries", 10000)

	// Rate limiting
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_second", 10.0)
	v.SetDefault("rate_limit.burst", 20)

	// Metrics
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// GetPipelineConfig returns the decision and explanation parameters
func (m *Manager) GetPipelineConfig() *domain.PipelineConfig {
	return &m.config.Pipeline
}

// GetArtifactConfig returns artifact locations
func (m *Manager) GetArtifactConfig() *domain.ArtifactConfig {
	return &m.config.Artifacts
}

// GetDatabaseConfig returns database configuration
func (m *Manager) GetDatabaseConfig() *domain.DatabaseConfig {
	return &m.config.Database
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	config := m.config

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}
	if config.Server.TLSEnabled && (config.Server.CertFile == "" || config.Server.KeyFile == "") {
		return fmt.Errorf("TLS requires cert_file and key_file")
	}

	if config.Artifacts.Dir == "" {
		return fmt.Errorf("artifact directory is required")
	}
	if config.Artifacts.Preprocessor == "" || config.Artifacts.ModelBase == "" {
		return fmt.Errorf("preprocessor and model_base artifact names are required")
	}

	if err := ValidatePipeline(config.Pipeline); err != nil {
		return err
	}

	if config.Database.Enabled {
		if config.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if config.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
		if config.Database.Username == "" {
			return fmt.Errorf("database username is required")
		}
	}

	switch config.Feedback.Driver {
	case "sqlite":
		if config.Feedback.SQLitePath == "" {
			return fmt.Errorf("feedback sqlite_path is required")
		}
	case "postgres":
		if config.Feedback.PostgresURL == "" {
			return fmt.Errorf("feedback postgres_url is required")
		}
	case "none":
	default:
		return fmt.Errorf("unknown feedback driver: %s", config.Feedback.Driver)
	}

	switch config.Session.Backend {
	case "memory":
	case "redis":
		if config.Session.RedisURL == "" {
			return fmt.Errorf("Redis URL is required for the redis session backend")
		}
	default:
		return fmt.Errorf("unknown session backend: %s", config.Session.Backend)
	}
	if config.Session.TTL <= 0 {
		return fmt.Errorf("session ttl must be positive")
	}

	if config.RateLimit.Enabled && (config.RateLimit.RequestsPerSecond <= 0 || config.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate limit requires positive requests_per_second and burst")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	return nil
}

// ValidatePipeline checks the decision and explanation parameters
func ValidatePipeline(p domain.PipelineConfig) error {
	if p.RiskThreshold <= 0 || p.RiskThreshold >= 1 {
		return fmt.Errorf("risk threshold must be in (0, 1), got %v", p.RiskThreshold)
	}
	if p.SignificanceThreshold < 0 {
		return fmt.Errorf("significance threshold must not be negative, got %v", p.SignificanceThreshold)
	}
	if p.AdditivityTolerance <= 0 {
		return fmt.Errorf("additivity tolerance must be positive, got %v", p.AdditivityTolerance)
	}
	if p.BackgroundSize <= 0 {
		return fmt.Errorf("background size must be positive, got %d", p.BackgroundSize)
	}
	if p.MaxFactors < 0 {
		return fmt.Errorf("max factors must not be negative, got %d", p.MaxFactors)
	}
	switch domain.OutputSpace(p.OutputSpace) {
	case domain.OutputProbability, domain.OutputLogOdds:
	default:
		return fmt.Errorf("unknown output space: %s", p.OutputSpace)
	}
	return nil
}

// GetDatabaseConnectionString returns a formatted database connection string
func (m *Manager) GetDatabaseConnectionString() string {
	db := m.config.Database
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		db.Host, db.Port, db.Username, db.Password, db.Database, db.SSLMode)
}

// IsProduction returns true if running in production mode
func (m *Manager) IsProduction() bool {
	return strings.ToLower(m.v.GetString("environment")) == "production"
}
