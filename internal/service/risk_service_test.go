package service

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardiovision-risk-engine/internal/assembler"
	"github.com/cardiovision-risk-engine/internal/domain"
	"github.com/cardiovision-risk-engine/internal/explain"
	"github.com/cardiovision-risk-engine/internal/fixtures"
	"github.com/cardiovision-risk-engine/internal/metrics"
	"github.com/cardiovision-risk-engine/internal/model"
)

func artifactConfig(dir string) domain.ArtifactConfig {
	return domain.ArtifactConfig{
		Dir:          dir,
		Preprocessor: fixtures.PreprocessorFile,
		ModelBase:    fixtures.ModelBase,
		Population:   fixtures.PopulationFile,
	}
}

func newService(t *testing.T, kind string, opts ...Option) *RiskService {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, fixtures.WriteArtifacts(dir, kind, 200, 11))

	logger, _ := logtest.NewNullLogger()
	asm := assembler.NewDefault()
	artifacts, err := LoadArtifacts(artifactConfig(dir), asm, logger)
	require.NoError(t, err)

	svc, err := NewRiskService(logger, asm, artifacts, domain.DefaultPipelineConfig(), opts...)
	require.NoError(t, err)
	return svc
}

// countingModel wraps a model and counts Predict calls.
type countingModel struct {
	model.Model
	calls int
}

func (m *countingModel) Predict(t domain.EncodedTensor) (float64, error) {
	m.calls++
	return m.Model.Predict(t)
}

type recorderFunc func(ctx context.Context, r *domain.RiskResult) error

func (f recorderFunc) SaveAssessment(ctx context.Context, r *domain.RiskResult) error {
	return f(ctx, r)
}

func TestCalculateRisk_TreeHighRisk(t *testing.T) {
	svc := newService(t, "tree")

	result, err := svc.CalculateRisk(context.Background(), fixtures.HighRiskRecord())
	require.NoError(t, err)

	assert.Equal(t, domain.HighRisk, result.RiskLabel)
	assert.InDelta(t, model.Sigmoid(0.3), result.Probability, 1e-9)
	assert.Equal(t, 0.5, result.Threshold)
	assert.Equal(t, domain.ModelKindTree, result.ModelKind)
	assert.Equal(t, fixtures.Version, result.ModelVersion)
	assert.Equal(t, domain.ExplanationVerified, result.ExplanationStatus)
	assert.True(t, result.IsExplained())
	assert.NotEmpty(t, result.ID)
	assert.False(t, result.CreatedAt.IsZero())

	require.NotNil(t, result.Attributions)
	assert.Equal(t, explain.MethodTreePathDependent, result.Attributions.Method)
	assert.Len(t, result.Attributions.Attributions, 14)

	text := result.ExplanationText
	start := strings.Index(text, "Factors that raised the risk:")
	end := strings.Index(text, "Mitigating factors")
	require.NotEqual(t, -1, start)
	require.Greater(t, end, start)
	raised := text[start:end]
	assert.Contains(t, raised, "Age (70")
	assert.Contains(t, raised, "Serum cholesterol (280")
	assert.NotContains(t, raised, "Resting ECG results")
	assert.Contains(t, text[end:], "Resting ECG results (Normal")
}

func TestCalculateRisk_TreeLowRisk(t *testing.T) {
	svc := newService(t, "tree")

	result, err := svc.CalculateRisk(context.Background(), fixtures.LowRiskRecord())
	require.NoError(t, err)

	assert.Equal(t, domain.LowRisk, result.RiskLabel)
	assert.InDelta(t, model.Sigmoid(-2.5), result.Probability, 1e-9)
	assert.True(t, strings.HasPrefix(result.ExplanationText, "Low Risk:"))
	assert.Contains(t, result.ExplanationText, "Factors that lowered the risk: Serum cholesterol (190")
}

func TestCalculateRisk_NeuralNetwork(t *testing.T) {
	svc := newService(t, "neural")

	result, err := svc.CalculateRisk(context.Background(), fixtures.HighRiskRecord())
	require.NoError(t, err)

	assert.Equal(t, domain.HighRisk, result.RiskLabel)
	assert.Equal(t, domain.ModelKindNeural, result.ModelKind)
	assert.Equal(t, domain.ExplanationVerified, result.ExplanationStatus)
	require.NotNil(t, result.Attributions)
	assert.Equal(t, explain.MethodDeepLIFT, result.Attributions.Method)
	assert.InDelta(t, result.Probability, result.Attributions.Output, 1e-12)

	again, err := svc.CalculateRisk(context.Background(), fixtures.HighRiskRecord())
	require.NoError(t, err)
	assert.Equal(t, result.Attributions, again.Attributions)
	assert.Equal(t, result.ExplanationText, again.ExplanationText)
	assert.NotEqual(t, result.ID, again.ID)
}

func TestCalculateRisk_MissingFieldNeverReachesModel(t *testing.T) {
	svc := newService(t, "tree")
	spy := &countingModel{Model: svc.artifacts.Model}
	svc.artifacts.Model = spy

	record := fixtures.HighRiskRecord()
	delete(record[domain.SectionVitalParameters], "resting_heart_rate")

	result, err := svc.CalculateRisk(context.Background(), record)
	assert.Nil(t, result)

	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"resting_heart_rate"}, verr.Missing)
	assert.Contains(t, err.Error(), "Missing required fields: resting_heart_rate")
	assert.Zero(t, spy.calls)
}

func TestCalculateRisk_UnknownCategoriesAreValidationErrors(t *testing.T) {
	svc := newService(t, "tree")
	spy := &countingModel{Model: svc.artifacts.Model}
	svc.artifacts.Model = spy

	record := fixtures.HighRiskRecord()
	record[domain.SectionPatientInfo]["gender"] = "Other"
	record[domain.SectionECGResults]["resting_ecg_results"] = "Normall"
	delete(record[domain.SectionLaboratoryValues], "serum_cholesterol")

	_, err := svc.CalculateRisk(context.Background(), record)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, domain.CategoryInput, domain.CategoryOf(err))
	assert.Equal(t, []string{"serum_cholesterol"}, verr.Missing)

	require.Len(t, verr.Invalid, 2)
	assert.Equal(t, "gender", verr.Invalid[0].Field)
	assert.Contains(t, verr.Invalid[0].Message, `unknown category "Other"`)
	assert.Equal(t, "resting_ecg_results", verr.Invalid[1].Field)
	assert.Contains(t, verr.Invalid[1].Message, "Left Ventricular Hypertrophy, Normal, ST-T Wave Abnormality")
	assert.Zero(t, spy.calls)
}

func TestCalculateRisk_UnsupportedModelStillPredicts(t *testing.T) {
	svc := newService(t, "tree")
	spy := &countingModel{Model: svc.artifacts.Model}
	svc.artifacts.Model = spy

	result, err := svc.CalculateRisk(context.Background(), fixtures.HighRiskRecord())
	require.NoError(t, err)

	assert.Equal(t, 1, spy.calls)
	assert.Equal(t, domain.HighRisk, result.RiskLabel)
	assert.Equal(t, domain.ExplanationUnavailable, result.ExplanationStatus)
	assert.False(t, result.IsExplained())
	assert.Nil(t, result.Attributions)
	assert.Contains(t, result.ExplanationText, "Feature attributions are unavailable")
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "explanation unavailable")
}

func TestLoadArtifacts_ModelNotFound(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, fixtures.Preprocessor().Save(filepath.Join(dir, fixtures.PreprocessorFile)))

	logger, _ := logtest.NewNullLogger()
	_, err := LoadArtifacts(artifactConfig(dir), assembler.NewDefault(), logger)

	var nf *domain.ModelNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Len(t, nf.Tried, 2)
	assert.Equal(t, domain.CategoryArtifact, domain.CategoryOf(err))
}

func TestLoadArtifacts_NeuralWinsOverTree(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, fixtures.WriteArtifacts(dir, "tree", 50, 1))
	require.NoError(t, fixtures.WriteArtifacts(dir, "neural", 50, 1))

	logger, hook := logtest.NewNullLogger()
	artifacts, err := LoadArtifacts(artifactConfig(dir), assembler.NewDefault(), logger)
	require.NoError(t, err)

	assert.Equal(t, domain.ModelKindNeural, artifacts.Model.Kind())
	ignored := false
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel && strings.Contains(entry.Message, "Tree artifact ignored") {
			ignored = true
			assert.Equal(t, filepath.Join(dir, fixtures.ModelBase)+model.TreeSuffix, entry.Data["path"])
		}
	}
	assert.True(t, ignored)
}

func TestIgnoredArtifacts(t *testing.T) {
	neural, tree := "models/heart"+model.NeuralSuffix, "models/heart"+model.TreeSuffix

	assert.Equal(t, []string{tree}, ignoredArtifacts(neural, []string{neural, tree}))
	assert.Empty(t, ignoredArtifacts(neural, []string{neural}))
	assert.Empty(t, ignoredArtifacts(neural, nil))
	assert.Equal(t, []string{tree}, ignoredArtifacts(neural, []string{tree}))
}

func TestLoadArtifacts_IncompatibleModel(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, fixtures.WriteArtifacts(dir, "tree", 10, 1))

	art := fixtures.TreeArtifact()
	art.FeatureNames = append(art.FeatureNames[:0:0], art.FeatureNames...)
	art.FeatureNames[0] = "num__height"
	require.NoError(t, model.SaveJSON(filepath.Join(dir, fixtures.ModelBase)+model.TreeSuffix, art))

	logger, _ := logtest.NewNullLogger()
	_, err := LoadArtifacts(artifactConfig(dir), assembler.NewDefault(), logger)
	var aerr *domain.ArtifactError
	assert.ErrorAs(t, err, &aerr)
}

func TestCalculateRisk_NeuralWithoutPopulation(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, fixtures.WriteArtifacts(dir, "neural", 10, 1))
	cfg := artifactConfig(dir)
	cfg.Population = "absent.csv"

	logger, hook := logtest.NewNullLogger()
	asm := assembler.NewDefault()
	artifacts, err := LoadArtifacts(cfg, asm, logger)
	require.NoError(t, err)
	assert.Nil(t, artifacts.Population)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)

	svc, err := NewRiskService(logger, asm, artifacts, domain.DefaultPipelineConfig())
	require.NoError(t, err)

	result, err := svc.CalculateRisk(context.Background(), fixtures.HighRiskRecord())
	require.NoError(t, err)
	assert.Equal(t, domain.ExplanationUnavailable, result.ExplanationStatus)
	assert.Contains(t, result.ExplanationText, "no background population loaded")
}

func TestCalculateRisk_DegradedExplanationIsFlagged(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, fixtures.WriteArtifacts(dir, "tree", 10, 1))

	logger, hook := logtest.NewNullLogger()
	asm := assembler.NewDefault()
	artifacts, err := LoadArtifacts(artifactConfig(dir), asm, logger)
	require.NoError(t, err)

	pipeline := domain.DefaultPipelineConfig()
	pipeline.AdditivityTolerance = 1e-300
	svc, err := NewRiskService(logger, asm, artifacts, pipeline)
	require.NoError(t, err)

	result, err := svc.CalculateRisk(context.Background(), fixtures.HighRiskRecord())
	require.NoError(t, err)
	if result.ExplanationStatus == domain.ExplanationVerified {
		t.Skip("attributions reconstructed the output exactly")
	}
	assert.Equal(t, domain.ExplanationDegraded, result.ExplanationStatus)
	assert.False(t, result.IsExplained())
	assert.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.ExplanationText, "Note:")

	warned := false
	for _, entry := range hook.AllEntries() {
		if strings.Contains(entry.Message, "additivity") {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestCalculateRisk_RecorderAndMetrics(t *testing.T) {
	m := metrics.New()
	var recorded []*domain.RiskResult
	svc := newService(t, "tree", WithMetrics(m), WithRecorder(recorderFunc(func(_ context.Context, r *domain.RiskResult) error {
		recorded = append(recorded, r)
		return nil
	})))

	result, err := svc.CalculateRisk(context.Background(), fixtures.HighRiskRecord())
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.Equal(t, result.ID, recorded[0].ID)

	record := fixtures.HighRiskRecord()
	delete(record, domain.SectionECGResults)
	_, err = svc.CalculateRisk(context.Background(), record)
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Assessments.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Assessments.WithLabelValues("input_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ValidationFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Predictions.WithLabelValues("High Risk", "gradient_boosted_tree")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExplanationStatus.WithLabelValues("verified")))
	assert.Len(t, recorded, 1)
}

func TestCalculateRisk_StopsOnCancelledContext(t *testing.T) {
	m := metrics.New()
	svc := newService(t, "tree", WithMetrics(m))
	spy := &countingModel{Model: svc.artifacts.Model}
	svc.artifacts.Model = spy

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := svc.CalculateRisk(ctx, fixtures.HighRiskRecord())
	assert.Nil(t, result)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, spy.calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Assessments.WithLabelValues("cancelled")))

	expired, stop := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer stop()
	_, err = svc.CalculateRisk(expired, fixtures.HighRiskRecord())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCalculateRisk_RecorderFailureIsAWarning(t *testing.T) {
	svc := newService(t, "tree", WithRecorder(recorderFunc(func(context.Context, *domain.RiskResult) error {
		return errors.New("database is down")
	})))

	result, err := svc.CalculateRisk(context.Background(), fixtures.HighRiskRecord())
	require.NoError(t, err)
	assert.Contains(t, result.Warnings, "assessment could not be recorded for audit")
}

func TestValidateRecord(t *testing.T) {
	svc := newService(t, "tree")

	fv, err := svc.ValidateRecord(context.Background(), fixtures.HighRiskRecord())
	require.NoError(t, err)
	assert.Equal(t, 14, fv.Len())

	record := fixtures.HighRiskRecord()
	record[domain.SectionPatientInfo]["age"] = "seventy"
	_, err = svc.ValidateRecord(context.Background(), record)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Invalid, 1)
	assert.Equal(t, "age", verr.Invalid[0].Field)
}

func TestDescribeModel(t *testing.T) {
	svc := newService(t, "neural")

	desc := svc.DescribeModel()
	assert.Equal(t, domain.ModelKindNeural, desc.ModelKind)
	assert.Equal(t, explain.MethodDeepLIFT, desc.Explainer)
	assert.Equal(t, 200, desc.BackgroundRows)
	assert.Len(t, desc.InputFeatures, 14)
	assert.Equal(t, fixtures.Columns(), desc.EncodedColumns)
	assert.Equal(t, 0.5, desc.RiskThreshold)
}

func TestNewRiskService_RejectsBadThreshold(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	artifacts := &Artifacts{Transformer: fixtures.Transformer(), Model: fixtures.TreeModel()}
	pipeline := domain.DefaultPipelineConfig()
	pipeline.RiskThreshold = 1.5

	_, err := NewRiskService(logger, assembler.NewDefault(), artifacts, pipeline)
	assert.Error(t, err)

	_, err = NewRiskService(logger, assembler.NewDefault(), &Artifacts{}, domain.DefaultPipelineConfig())
	assert.Error(t, err)
}
