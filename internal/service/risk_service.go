package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cardiovision-risk-engine/internal/assembler"
	"github.com/cardiovision-risk-engine/internal/domain"
	"github.com/cardiovision-risk-engine/internal/explain"
	"github.com/cardiovision-risk-engine/internal/metrics"
	"github.com/cardiovision-risk-engine/internal/model"
	"github.com/cardiovision-risk-engine/internal/narrative"
	"github.com/cardiovision-risk-engine/internal/preprocess"
	"github.com/cardiovision-risk-engine/internal/risk"
)

// Recorder persists finished assessments for audit
type Recorder interface {
	SaveAssessment(ctx context.Context, result *domain.RiskResult) error
}

// Artifacts are the fitted, read-only resources the pipeline runs on
type Artifacts struct {
	Transformer *preprocess.Transformer
	Model       model.Model
	Population  *explain.Population
}

// LoadArtifacts reads the preprocessor, resolves the model and loads the
// background population. The population is optional for tree models.
func LoadArtifacts(cfg domain.ArtifactConfig, asm *assembler.Assembler, logger *logrus.Logger) (*Artifacts, error) {
	preprocessorPath := filepath.Join(cfg.Dir, cfg.Preprocessor)
	transformer, err := preprocess.Load(preprocessorPath)
	if err != nil {
		return nil, err
	}

	base := filepath.Join(cfg.Dir, cfg.ModelBase)
	m, err := model.Load(base)
	if err != nil {
		return nil, err
	}
	if m.Kind() == domain.ModelKindNeural {
		for _, ignored := range ignoredArtifacts(m.Path(), model.Candidates(base)) {
			logger.WithField("path", ignored).Warn("Tree artifact ignored because a neural network artifact is present")
		}
	}
	if err := model.CheckCompatible(m, transformer.FeatureNamesOut()); err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"model_kind":           m.Kind(),
		"model_version":        m.Version(),
		"model_path":           m.Path(),
		"preprocessor_version": transformer.Version(),
		"encoded_columns":      transformer.Width(),
	}).Info("Loaded model artifacts")

	artifacts := &Artifacts{Transformer: transformer, Model: m}

	populationPath := filepath.Join(cfg.Dir, cfg.Population)
	population, err := explain.LoadPopulation(populationPath, asm, transformer)
	if err != nil {
		if m.Kind() == domain.ModelKindNeural {
			logger.WithError(err).Warn("Background population unavailable; neural network explanations will be skipped")
		} else {
			logger.WithError(err).Debug("Background population not loaded")
		}
		return artifacts, nil
	}
	artifacts.Population = population
	logger.WithField("rows", population.Len()).Info("Loaded background population")
	return artifacts, nil
}

// ignoredArtifacts lists the candidates other than the one that was loaded.
// The candidate list is read after loading and may no longer include it.
func ignoredArtifacts(loaded string, candidates []string) []string {
	var ignored []string
	for _, c := range candidates {
		if c != loaded {
			ignored = append(ignored, c)
		}
	}
	return ignored
}

// RiskService runs assemble, transform, predict, classify, explain and narrate
// for one patient record at a time. Every dependency is read-only after
// construction so a single instance may serve concurrent callers.
type RiskService struct {
	logger     *logrus.Logger
	assembler  *assembler.Assembler
	artifacts  *Artifacts
	classifier *risk.Classifier
	engine     *explain.Engine
	narrator   *narrative.Generator
	pipeline   domain.PipelineConfig
	metrics    *metrics.Metrics
	recorder   Recorder
}

// Option customizes a RiskService
type Option func(*RiskService)

// WithMetrics records pipeline metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *RiskService) { s.metrics = m }
}

// WithRecorder persists every successful assessment
func WithRecorder(r Recorder) Option {
	return func(s *RiskService) { s.recorder = r }
}

// NewRiskService wires the pipeline stages around loaded artifacts
func NewRiskService(
	logger *logrus.Logger,
	asm *assembler.Assembler,
	artifacts *Artifacts,
	pipeline domain.PipelineConfig,
	opts ...Option,
) (*RiskService, error) {
	if artifacts == nil || artifacts.Transformer == nil || artifacts.Model == nil {
		return nil, errors.New("risk service requires a transformer and a model")
	}
	classifier, err := risk.NewClassifier(pipeline.RiskThreshold)
	if err != nil {
		return nil, fmt.Errorf("invalid pipeline configuration: %w", err)
	}

	reconciler := explain.NewReconciler(artifacts.Transformer.Mapping(), asm.DisplayName)
	s := &RiskService{
		logger:     logger,
		assembler:  asm,
		artifacts:  artifacts,
		classifier: classifier,
		engine: explain.NewEngine(reconciler, explain.Options{
			Tolerance:   pipeline.AdditivityTolerance,
			OutputSpace: domain.OutputSpace(pipeline.OutputSpace),
		}),
		narrator: narrative.NewGenerator(pipeline.SignificanceThreshold, pipeline.MaxFactors),
		pipeline: pipeline,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CalculateRisk runs the full pipeline. Input and artifact failures abort the
// call; explanation failures only degrade the result. A cancelled or expired
// ctx stops the pipeline before the next stage starts.
func (s *RiskService) CalculateRisk(ctx context.Context, record domain.PatientRecord) (*domain.RiskResult, error) {
	start := time.Now()

	if err := checkContext(ctx, "assemble"); err != nil {
		s.countOutcome(err)
		return nil, err
	}
	fv, tensor, err := s.prepare(record)
	if err != nil {
		s.countOutcome(err)
		return nil, err
	}

	if err := checkContext(ctx, "predict"); err != nil {
		s.countOutcome(err)
		return nil, err
	}
	stage := time.Now()
	probability, err := s.artifacts.Model.Predict(tensor)
	s.observe("predict", stage)
	if err != nil {
		err = fmt.Errorf("prediction failed: %w", err)
		s.countOutcome(err)
		return nil, err
	}
	label := s.classifier.Classify(probability)

	result := &domain.RiskResult{
		ID:           uuid.New().String(),
		RiskLabel:    label,
		Probability:  probability,
		Threshold:    s.classifier.Threshold(),
		ModelKind:    s.artifacts.Model.Kind(),
		ModelVersion: s.artifacts.Model.Version(),
		CreatedAt:    time.Now().UTC(),
	}

	if err := checkContext(ctx, "explain"); err != nil {
		s.countOutcome(err)
		return nil, err
	}
	s.explain(result, fv, tensor)

	result.ProcessingTimeMs = time.Since(start).Milliseconds()

	s.logger.WithFields(logrus.Fields{
		"assessment_id":      result.ID,
		"risk_label":         result.RiskLabel,
		"probability":        result.Probability,
		"model_kind":         result.ModelKind,
		"explanation_status": result.ExplanationStatus,
		"processing_time_ms": result.ProcessingTimeMs,
	}).Info("Risk assessment completed")

	if s.metrics != nil {
		s.metrics.Assessments.WithLabelValues("ok").Inc()
		s.metrics.Predictions.WithLabelValues(string(label), string(result.ModelKind)).Inc()
		s.metrics.ExplanationStatus.WithLabelValues(string(result.ExplanationStatus)).Inc()
		s.metrics.RiskProbability.Observe(probability)
	}

	if s.recorder != nil {
		if err := s.recorder.SaveAssessment(ctx, result); err != nil {
			s.logger.WithError(err).WithField("assessment_id", result.ID).Warn("Failed to record assessment")
			result.Warnings = append(result.Warnings, "assessment could not be recorded for audit")
		}
	}
	return result, nil
}

// ValidateRecord runs only the assembler and the transform
func (s *RiskService) ValidateRecord(ctx context.Context, record domain.PatientRecord) (domain.FeatureVector, error) {
	fv, _, err := s.prepare(record)
	return fv, err
}

// DescribeModel reports what is loaded
func (s *RiskService) DescribeModel() domain.ModelDescription {
	m := s.artifacts.Model
	explainer, err := explain.ExplainerFor(m)
	if err != nil {
		explainer = "unavailable"
	}
	rows := 0
	if s.artifacts.Population != nil {
		rows = s.artifacts.Population.Len()
	}
	return domain.ModelDescription{
		ModelKind:           m.Kind(),
		ModelVersion:        m.Version(),
		ModelPath:           m.Path(),
		PreprocessorVersion: s.artifacts.Transformer.Version(),
		InputFeatures:       s.artifacts.Transformer.InputFeatures(),
		EncodedColumns:      s.artifacts.Transformer.FeatureNamesOut(),
		Explainer:           explainer,
		RiskThreshold:       s.classifier.Threshold(),
		BackgroundRows:      rows,
	}
}

func (s *RiskService) prepare(record domain.PatientRecord) (domain.FeatureVector, domain.EncodedTensor, error) {
	stage := time.Now()
	fv, err := s.assembler.Assemble(record, s.artifacts.Transformer.CheckValue)
	s.observe("assemble", stage)
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			s.logger.WithFields(logrus.Fields{
				"missing": len(verr.Missing),
				"invalid": len(verr.Invalid),
			}).Info("Patient record rejected")
			if s.metrics != nil {
				s.metrics.ValidationFailures.Inc()
			}
		}
		return domain.FeatureVector{}, domain.EncodedTensor{}, err
	}

	stage = time.Now()
	tensor, err := s.artifacts.Transformer.Transform(fv)
	s.observe("transform", stage)
	if err != nil {
		return domain.FeatureVector{}, domain.EncodedTensor{}, fmt.Errorf("preprocessing failed: %w", err)
	}
	s.logger.WithField("features", fv.Len()).Debug("Patient record validated")
	return fv, tensor, nil
}

func (s *RiskService) explain(result *domain.RiskResult, fv domain.FeatureVector, tensor domain.EncodedTensor) {
	stage := time.Now()
	defer s.observe("explain", stage)

	var background explain.BackgroundSample
	if s.artifacts.Population != nil {
		background = s.artifacts.Population.Sample(s.pipeline.BackgroundSize, s.pipeline.BackgroundSeed)
	}

	if s.artifacts.Model.Kind() == domain.ModelKindNeural && background.Size() == 0 {
		s.unexplained(result, "no background population loaded")
		return
	}

	set, err := s.engine.Explain(s.artifacts.Model, fv, tensor, background)
	if err != nil {
		s.logger.WithError(err).WithField("assessment_id", result.ID).Warn("Explanation unavailable")
		reason := "explainer failed"
		var uerr *domain.ExplainerUnavailableError
		if errors.As(err, &uerr) {
			reason = "no explainer for model kind " + uerr.ModelKind
		}
		s.unexplained(result, reason)
		return
	}

	result.Attributions = set
	result.ExplanationStatus = set.Status
	result.Warnings = append(result.Warnings, set.Warnings...)
	if set.Status == domain.ExplanationDegraded {
		s.logger.WithFields(logrus.Fields{
			"assessment_id": result.ID,
			"residual":      set.Residual,
			"method":        set.Method,
		}).Warn("Attributions failed the additivity check")
	}
	result.ExplanationText = s.narrator.Narrate(set, result.RiskLabel)
}

func (s *RiskService) unexplained(result *domain.RiskResult, reason string) {
	result.ExplanationStatus = domain.ExplanationUnavailable
	result.Warnings = append(result.Warnings, "explanation unavailable: "+reason)
	result.ExplanationText = s.narrator.Unexplained(result.RiskLabel, result.Probability, reason)
}

func (s *RiskService) observe(stage string, since time.Time) {
	if s.metrics != nil {
		s.metrics.PipelineDuration.WithLabelValues(stage).Observe(time.Since(since).Seconds())
	}
}

func checkContext(ctx context.Context, stage string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("risk assessment stopped before %s: %w", stage, err)
	}
	return nil
}

func (s *RiskService) countOutcome(err error) {
	if s.metrics == nil {
		return
	}
	outcome := "internal_error"
	switch domain.CategoryOf(err) {
	case domain.CategoryInput:
		outcome = "input_error"
	case domain.CategoryArtifact:
		outcome = "artifact_error"
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		outcome = "cancelled"
	}
	s.metrics.Assessments.WithLabelValues(outcome).Inc()
}
