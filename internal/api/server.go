package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/cardiovision-risk-engine/internal/domain"
	"github.com/cardiovision-risk-engine/internal/feedback"
	"github.com/cardiovision-risk-engine/internal/metrics"
	"github.com/cardiovision-risk-engine/internal/middleware"
	"github.com/cardiovision-risk-engine/internal/session"
)

// SessionHeader carries the caller session whose last result is remembered
const SessionHeader = "X-Session-ID"

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Dependencies are the collaborators the HTTP surface routes to.
// Feedback, Assessments and Metrics are optional.
type Dependencies struct {
	Logger      *logrus.Logger
	Risk        domain.RiskCalculator
	Sessions    session.Store
	Feedback    feedback.Store
	Assessments domain.AssessmentRepository
	Metrics     *metrics.Metrics
	Checks      map[string]func(context.Context) error
	Version     string
}

// Server represents the HTTP server
type Server struct {
	configManager domain.ConfigManager
	deps          Dependencies
	router        *gin.Engine
	server        *http.Server
}

// NewServer creates a new HTTP server instance
func NewServer(configManager domain.ConfigManager, deps Dependencies) (*Server, error) {
	if deps.Risk == nil {
		return nil, errors.New("risk calculator is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("session store is required")
	}
	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}
	cfg := configManager.GetConfig()

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.AuditLogger())
	router.Use(middleware.SecurityHeaders())
	if deps.Metrics != nil {
		router.Use(middleware.RequestMetrics(deps.Metrics))
	}

	server := &Server{
		configManager: configManager,
		deps:          deps,
		router:        router,
	}
	server.setupRoutes(cfg)

	return server, nil
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	cfg := s.configManager.GetServerConfig()
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.deps.Logger.WithField("addr", addr).Info("HTTP server listening")
		var err error
		if cfg.TLSEnabled {
			err = s.server.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.deps.Logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes(cfg *domain.Config) {
	s.router.GET("/health", s.handleHealth)

	if cfg.Metrics.Enabled && s.deps.Metrics != nil {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		s.router.GET(path, gin.WrapH(s.deps.Metrics.Handler()))
	}

	v1 := s.router.Group("/api/v1")
	v1.Use(middleware.RequestTimeout(cfg.Server.RequestTimeout))
	if cfg.RateLimit.Enabled {
		v1.Use(middleware.RateLimit(middleware.NewRateLimiter(cfg.RateLimit), s.deps.Metrics))
	}
	{
		v1.POST("/risk", s.handleCalculateRisk)
		v1.POST("/risk/validate", s.handleValidateRecord)
		v1.GET("/model", s.handleDescribeModel)
		v1.GET("/sessions/:id/risk", s.handleSessionRisk)

		v1.POST("/feedback", s.handleSubmitFeedback)
		v1.GET("/feedback/:assessment_id", s.handleAssessmentFeedback)
		v1.GET("/feedback", s.handleListFeedback)
	}
}

// handleHealth reports model identity and the state of optional backends
func (s *Server) handleHealth(c *gin.Context) {
	model := s.deps.Risk.DescribeModel()
	checks := make(map[string]string, len(s.deps.Checks))
	status, code := "healthy", http.StatusOK

	for name, check := range s.deps.Checks {
		if err := check(c.Request.Context()); err != nil {
			checks[name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	c.JSON(code, gin.H{
		"status":        status,
		"timestamp":     time.Now().UTC(),
		"version":       s.deps.Version,
		"model_kind":    model.ModelKind,
		"model_version": model.ModelVersion,
		"checks":        checks,
	})
}

// handleCalculateRisk runs the pipeline for one patient record
func (s *Server) handleCalculateRisk(c *gin.Context) {
	var record domain.PatientRecord
	if err := c.ShouldBindJSON(&record); err != nil {
		s.badRequest(c, "Patient record must be a JSON object of sections", err)
		return
	}

	result, err := s.deps.Risk.CalculateRisk(c.Request.Context(), record)
	if err != nil {
		s.writeError(c, err)
		return
	}

	if sessionID := c.GetHeader(SessionHeader); sessionID != "" {
		if err := s.deps.Sessions.Put(c.Request.Context(), sessionID, result); err != nil {
			s.deps.Logger.WithError(err).WithField("assessment_id", result.ID).Warn("Failed to remember session result")
		}
	}

	c.JSON(http.StatusOK, result)
}

// handleValidateRecord checks a record without running the model
func (s *Server) handleValidateRecord(c *gin.Context) {
	var record domain.PatientRecord
	if err := c.ShouldBindJSON(&record); err != nil {
		s.badRequest(c, "Patient record must be a JSON object of sections", err)
		return
	}

	fv, err := s.deps.Risk.ValidateRecord(c.Request.Context(), record)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"valid":    true,
		"features": fv,
	})
}

// handleDescribeModel reports the loaded artifacts
func (s *Server) handleDescribeModel(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Risk.DescribeModel())
}

// handleSessionRisk returns the last result computed for a session
func (s *Server) handleSessionRisk(c *gin.Context) {
	result, err := s.deps.Sessions.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, session.ErrNotFound) {
		s.respond(c, http.StatusNotFound, domain.ErrNotFound, "No risk result for this session", "")
		return
	}
	if err != nil {
		s.deps.Logger.WithError(err).Error("Failed to read session result")
		s.respond(c, http.StatusServiceUnavailable, domain.ErrInternalServer, "Session store unavailable", "")
		return
	}
	c.JSON(http.StatusOK, result)
}

// feedbackRequest is what a clinician submits. Predicted label and
// probability may be omitted when the assessment can be looked up.
type feedbackRequest struct {
	AssessmentID   string           `json:"assessment_id" binding:"required"`
	ClinicianLabel domain.RiskLabel `json:"clinician_label" binding:"required"`
	PredictedLabel domain.RiskLabel `json:"predicted_label"`
	Probability    *float64         `json:"probability"`
	ModelVersion   string           `json:"model_version"`
	Reviewer       string           `json:"reviewer"`
	Notes          string           `json:"notes"`
}

// handleSubmitFeedback records a clinician review of an assessment
func (s *Server) handleSubmitFeedback(c *gin.Context) {
	if !s.feedbackEnabled(c) {
		return
	}

	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "Feedback requires assessment_id and clinician_label", err)
		return
	}

	fb := &feedback.Feedback{
		AssessmentID:   req.AssessmentID,
		PredictedLabel: req.PredictedLabel,
		ClinicianLabel: req.ClinicianLabel,
		ModelVersion:   req.ModelVersion,
		Reviewer:       req.Reviewer,
		Notes:          req.Notes,
	}
	if req.Probability != nil {
		fb.Probability = *req.Probability
	}
	if fb.PredictedLabel == "" || req.Probability == nil {
		if original := s.lookupAssessment(c, req.AssessmentID); original != nil {
			fb.PredictedLabel = original.RiskLabel
			fb.Probability = original.Probability
			fb.ModelVersion = original.ModelVersion
		}
	}

	if err := fb.Validate(); err != nil {
		s.respond(c, http.StatusUnprocessableEntity, domain.ErrValidation, "Invalid feedback", err.Error())
		return
	}
	if err := s.deps.Feedback.Save(c.Request.Context(), fb); err != nil {
		s.deps.Logger.WithError(err).WithField("assessment_id", fb.AssessmentID).Error("Failed to save feedback")
		s.respond(c, http.StatusInternalServerError, domain.ErrDatabaseError, "Feedback could not be saved", "")
		return
	}

	s.deps.Logger.WithFields(logrus.Fields{
		"assessment_id": fb.AssessmentID,
		"agrees":        fb.Agrees,
	}).Info("Clinician feedback recorded")
	c.JSON(http.StatusCreated, fb)
}

// lookupAssessment finds the original result in the audit repository or the
// caller's session.
func (s *Server) lookupAssessment(c *gin.Context, id string) *domain.RiskResult {
	ctx := c.Request.Context()
	if s.deps.Assessments != nil {
		if result, err := s.deps.Assessments.GetAssessment(ctx, id); err == nil {
			return result
		}
	}
	if sessionID := c.GetHeader(SessionHeader); sessionID != "" {
		if result, err := s.deps.Sessions.Get(ctx, sessionID); err == nil && result.ID == id {
			return result
		}
	}
	return nil
}

// handleAssessmentFeedback lists the reviews of one assessment
func (s *Server) handleAssessmentFeedback(c *gin.Context) {
	if !s.feedbackEnabled(c) {
		return
	}

	list, err := s.deps.Feedback.ListByAssessment(c.Request.Context(), c.Param("assessment_id"))
	if err != nil {
		s.deps.Logger.WithError(err).Error("Failed to list feedback")
		s.respond(c, http.StatusInternalServerError, domain.ErrDatabaseError, "Feedback could not be read", "")
		return
	}
	if list == nil {
		list = []*feedback.Feedback{}
	}
	c.JSON(http.StatusOK, gin.H{
		"assessment_id": c.Param("assessment_id"),
		"feedback":      list,
	})
}

// handleListFeedback pages through all reviews
func (s *Server) handleListFeedback(c *gin.Context) {
	if !s.feedbackEnabled(c) {
		return
	}

	limit := queryInt(c, "limit", defaultPageSize)
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	offset := queryInt(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	ctx := c.Request.Context()
	list, err := s.deps.Feedback.List(ctx, limit, offset)
	if err != nil {
		s.deps.Logger.WithError(err).Error("Failed to list feedback")
		s.respond(c, http.StatusInternalServerError, domain.ErrDatabaseError, "Feedback could not be read", "")
		return
	}
	total, err := s.deps.Feedback.Count(ctx)
	if err != nil {
		s.deps.Logger.WithError(err).Error("Failed to count feedback")
		s.respond(c, http.StatusInternalServerError, domain.ErrDatabaseError, "Feedback could not be read", "")
		return
	}
	if list == nil {
		list = []*feedback.Feedback{}
	}

	c.JSON(http.StatusOK, gin.H{
		"total":    total,
		"limit":    limit,
		"offset":   offset,
		"feedback": list,
	})
}

func (s *Server) feedbackEnabled(c *gin.Context) bool {
	if s.deps.Feedback != nil {
		return true
	}
	s.respond(c, http.StatusServiceUnavailable, domain.ErrInternalServer, "Feedback storage is disabled", "")
	return false
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
