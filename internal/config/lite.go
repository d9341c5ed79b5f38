// Package config provides configuration management for the risk engine.
// This file contains the lightweight configuration for standalone operation.
package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/cardiovision-risk-engine/internal/domain"
)

// LiteConfig is a simplified configuration for the stdio MCP server and the CLI.
// It requires no external services and is read from the environment only.
type LiteConfig struct {
	// Data storage
	DataDir     string // Base directory for the feedback database and exports
	ArtifactDir string // Directory holding the fitted artifacts

	// Pipeline
	Pipeline domain.PipelineConfig

	// Logging
	LogLevel  string // Log level: debug, info, warn, error
	LogFormat string // Log format: json, text
}

// DefaultLiteConfig returns a configuration with sensible defaults.
func DefaultLiteConfig() *LiteConfig {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".cardiovision")

	return &LiteConfig{
		DataDir:     dataDir,
		ArtifactDir: filepath.Join(dataDir, "artifacts"),
		Pipeline:    domain.DefaultPipelineConfig(),
		LogLevel:    "info",
		LogFormat:   "json",
	}
}

// LoadLiteConfig loads configuration from environment variables.
// Unset or malformed values keep their defaults.
func LoadLiteConfig() *LiteConfig {
	cfg := DefaultLiteConfig()

	if v := os.Getenv("CARDIO_DATA_DIR"); v != "" {
		cfg.DataDir = v
		cfg.ArtifactDir = filepath.Join(v, "artifacts")
	}
	if v := os.Getenv("CARDIO_ARTIFACT_DIR"); v != "" {
		cfg.ArtifactDir = v
	}

	// Pipeline
	if v := os.Getenv("CARDIO_RISK_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 && f < 1 {
			cfg.Pipeline.RiskThreshold = f
		}
	}
	if v := os.Getenv("CARDIO_SIGNIFICANCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			cfg.Pipeline.SignificanceThreshold = f
		}
	}
	if v := os.Getenv("CARDIO_ADDITIVITY_TOLERANCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.Pipeline.AdditivityTolerance = f
		}
	}
	if v := os.Getenv("CARDIO_BACKGROUND_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Pipeline.BackgroundSize = n
		}
	}
	if v := os.Getenv("CARDIO_BACKGROUND_SEED"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Pipeline.BackgroundSeed = n
		}
	}
	if v := os.Getenv("CARDIO_MAX_FACTORS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Pipeline.MaxFactors = n
		}
	}
	if v := os.Getenv("CARDIO_OUTPUT_SPACE"); v != "" {
		switch domain.OutputSpace(v) {
		case domain.OutputProbability, domain.OutputLogOdds:
			cfg.Pipeline.OutputSpace = v
		}
	}

	// Logging
	if v := os.Getenv("CARDIO_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CARDIO_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	return cfg
}

// Artifacts returns the artifact locations under ArtifactDir.
func (c *LiteConfig) Artifacts() domain.ArtifactConfig {
	return domain.ArtifactConfig{
		Dir:          c.ArtifactDir,
		Preprocessor: "preprocessor.json",
		ModelBase:    "model",
		Population:   "population.csv",
	}
}

// Logging returns the logger settings. Output is always stderr.
func (c *LiteConfig) Logging() domain.LoggingConfig {
	return domain.LoggingConfig{Level: c.LogLevel, Format: c.LogFormat, Output: "stderr"}
}

// FeedbackDBPath returns the path to the feedback SQLite database.
func (c *LiteConfig) FeedbackDBPath() string {
	return filepath.Join(c.DataDir, "feedback.db")
}

// ExportDir returns the directory for JSON exports.
func (c *LiteConfig) ExportDir() string {
	return filepath.Join(c.DataDir, "exports")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *LiteConfig) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	return os.MkdirAll(c.ExportDir(), 0755)
}
