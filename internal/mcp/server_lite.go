// Package mcp provides the MCP server implementation.
// This file contains the lightweight server that requires no external databases.
package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/cardiovision-risk-engine/internal/assembler"
	litecfg "github.com/cardiovision-risk-engine/internal/config"
	"github.com/cardiovision-risk-engine/internal/domain"
	"github.com/cardiovision-risk-engine/internal/feedback"
	"github.com/cardiovision-risk-engine/internal/logging"
	"github.com/cardiovision-risk-engine/internal/service"
	"github.com/cardiovision-risk-engine/internal/session"
)

const (
	serverName    = "cardiovision-risk-engine-lite"
	serverVersion = "v0.1.0"

	// recentResults bounds how many assessments stay available to feedback tools.
	recentResults   = 1000
	recentResultTTL = 24 * time.Hour
)

// LiteServer is a lightweight MCP server that requires no external databases.
// Recent results live in memory and feedback in SQLite.
type LiteServer struct {
	config        *litecfg.LiteConfig
	mcpServer     *mcp.Server
	risk          domain.RiskCalculator
	recent        session.Store
	feedbackStore feedback.Store
	logger        *logrus.Logger
}

// LiteServerOption is a functional option for LiteServer.
type LiteServerOption func(*LiteServer) error

// WithFeedbackStore sets a custom feedback store.
func WithFeedbackStore(store feedback.Store) LiteServerOption {
	return func(s *LiteServer) error {
		s.feedbackStore = store
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *logrus.Logger) LiteServerOption {
	return func(s *LiteServer) error {
		s.logger = logger
		return nil
	}
}

// WithRiskCalculator replaces the pipeline loaded from the artifact directory.
func WithRiskCalculator(risk domain.RiskCalculator) LiteServerOption {
	return func(s *LiteServer) error {
		s.risk = risk
		return nil
	}
}

// NewLiteServer creates a new lightweight MCP server instance.
func NewLiteServer(cfg *litecfg.LiteConfig, opts ...LiteServerOption) (*LiteServer, error) {
	server := &LiteServer{
		config: cfg,
		logger: logging.NewLogger(cfg.Logging()),
		recent: session.NewMemoryStore(recentResults, recentResultTTL),
	}

	for _, opt := range opts {
		if err := opt(server); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	if server.risk == nil {
		asm := assembler.NewDefault()
		artifacts, err := service.LoadArtifacts(cfg.Artifacts(), asm, server.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to load artifacts: %w", err)
		}
		risk, err := service.NewRiskService(server.logger, asm, artifacts, cfg.Pipeline)
		if err != nil {
			return nil, fmt.Errorf("failed to create risk service: %w", err)
		}
		server.risk = risk
	}

	if server.feedbackStore == nil {
		store, err := feedback.NewSQLiteStore(cfg.FeedbackDBPath())
		if err != nil {
			return nil, fmt.Errorf("failed to create feedback store: %w", err)
		}
		server.feedbackStore = store
	}

	server.mcpServer = mcp.NewServer(&mcp.Implementation{
		Name:    serverName,
		Version: serverVersion,
	}, nil)
	server.registerTools()

	server.logger.Info("Lite server initialized successfully")
	return server, nil
}

// registerTools registers every tool with the MCP SDK.
func (s *LiteServer) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolCalculateRisk,
		Description: "Estimate heart attack risk for a structured patient record and explain which factors drove the prediction",
	}, s.handleCalculateRisk)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolValidateRecord,
		Description: "Check a patient record for missing or malformed fields without running the model",
	}, s.handleValidateRecord)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolDescribeModel,
		Description: "Describe the loaded model, preprocessing transform, explainer and risk threshold",
	}, s.handleDescribeModel)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolSubmitFeedback,
		Description: "Record a clinician's agreement or disagreement with a risk assessment",
	}, s.handleSubmitFeedback)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolExportFeedback,
		Description: "Export all clinician feedback as JSON, inline or to the export directory",
	}, s.handleExportFeedback)

	s.logger.WithField("tool_count", len(ToolNames)).Info("Successfully registered all tools")
}

// Start runs the server over stdio until ctx is cancelled or the client disconnects.
func (s *LiteServer) Start(ctx context.Context) error {
	s.logger.Info("Starting CardioVision MCP Server (Lite)...")

	if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}

// Close cleans up server resources.
func (s *LiteServer) Close() error {
	if s.feedbackStore != nil {
		if err := s.feedbackStore.Close(); err != nil {
			s.logger.WithError(err).Error("Failed to close feedback store")
		}
	}
	return s.recent.Close()
}

// GetFeedbackStore returns the feedback store for external access.
func (s *LiteServer) GetFeedbackStore() feedback.Store {
	return s.feedbackStore
}
