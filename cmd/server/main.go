package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/cardiovision-risk-engine/internal/api"
	"github.com/cardiovision-risk-engine/internal/assembler"
	"github.com/cardiovision-risk-engine/internal/config"
	"github.com/cardiovision-risk-engine/internal/database"
	"github.com/cardiovision-risk-engine/internal/domain"
	"github.com/cardiovision-risk-engine/internal/feedback"
	"github.com/cardiovision-risk-engine/internal/logging"
	"github.com/cardiovision-risk-engine/internal/metrics"
	"github.com/cardiovision-risk-engine/internal/repository"
	"github.com/cardiovision-risk-engine/internal/service"
	"github.com/cardiovision-risk-engine/internal/session"
)

const version = "1.0.0"

func main() {
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()
	logger := logging.NewLogger(cfg.Logging)
	logger.WithFields(logrus.Fields{
		"host":    cfg.Server.Host,
		"port":    cfg.Server.Port,
		"version": version,
	}).Info("Starting CardioVision risk engine")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	asm := assembler.NewDefault()

	artifacts, err := service.LoadArtifacts(cfg.Artifacts, asm, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load artifacts")
	}

	deps := api.Dependencies{
		Logger:  logger,
		Metrics: m,
		Checks:  map[string]func(context.Context) error{},
		Version: version,
	}
	opts := []service.Option{service.WithMetrics(m)}

	if cfg.Database.Enabled {
		db, err := openDatabase(ctx, cfg.Database, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to prepare database")
		}
		defer db.Close()

		repo := repository.NewAssessmentRepository(db.Pool, logger)
		opts = append(opts, service.WithRecorder(repo))
		deps.Assessments = repo
		deps.Checks["database"] = db.Health
	}

	svc, err := service.NewRiskService(logger, asm, artifacts, cfg.Pipeline, opts...)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create risk service")
	}
	deps.Risk = svc

	sessions, err := session.New(cfg.Session, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create session store")
	}
	defer sessions.Close()
	deps.Sessions = sessions
	if redisStore, ok := sessions.(*session.RedisStore); ok {
		deps.Checks["sessions"] = redisStore.Ping
	}

	store, err := openFeedback(cfg.Feedback)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open feedback store")
	}
	if store != nil {
		defer store.Close()
		deps.Feedback = store
	}

	server, err := api.NewServer(configManager, deps)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create server")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Error("Server stopped with error")
		return
	}
	logger.Info("Server stopped")
}

// openDatabase connects the pool and applies pending migrations
func openDatabase(ctx context.Context, cfg domain.DatabaseConfig, logger *logrus.Logger) (*database.DB, error) {
	runner, err := database.NewMigrationRunner(database.URL(cfg), cfg.MigrationsPath, logger)
	if err != nil {
		return nil, err
	}
	defer runner.Close()
	if err := runner.Up(); err != nil {
		return nil, err
	}
	return database.NewConnection(ctx, cfg, logger)
}

// openFeedback returns nil when feedback storage is disabled
func openFeedback(cfg domain.FeedbackConfig) (feedback.Store, error) {
	switch cfg.Driver {
	case "postgres":
		return feedback.NewPostgresStoreFromURL(cfg.PostgresURL)
	case "none":
		return nil, nil
	default:
		return feedback.NewSQLiteStore(cfg.SQLitePath)
	}
}
