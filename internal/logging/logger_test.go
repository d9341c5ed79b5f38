package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardiovision-risk-engine/internal/domain"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name      string
		cfg       domain.LoggingConfig
		level     logrus.Level
		formatter interface{}
	}{
		{"json debug", domain.LoggingConfig{Level: "debug", Format: "json"}, logrus.DebugLevel, &logrus.JSONFormatter{}},
		{"text warn", domain.LoggingConfig{Level: "warn", Format: "text"}, logrus.WarnLevel, &logrus.TextFormatter{}},
		{"unknown level", domain.LoggingConfig{Level: "chatty"}, logrus.InfoLevel, &logrus.JSONFormatter{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.cfg)
			assert.Equal(t, tt.level, logger.GetLevel())
			assert.IsType(t, tt.formatter, logger.Formatter)
		})
	}
}

func TestNewLogger_Outputs(t *testing.T) {
	assert.Equal(t, os.Stderr, NewLogger(domain.LoggingConfig{Output: "stderr"}).Out)
	assert.Equal(t, os.Stdout, NewLogger(domain.LoggingConfig{}).Out)

	path := filepath.Join(t.TempDir(), "engine.log")
	logger := NewLogger(domain.LoggingConfig{Output: path})
	logger.Info("model loaded")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "model loaded")
}
