package explain

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardiovision-risk-engine/internal/assembler"
	"github.com/cardiovision-risk-engine/internal/domain"
	"github.com/cardiovision-risk-engine/internal/fixtures"
	"github.com/cardiovision-risk-engine/internal/model"
)

func newTestEngine(opts Options) *Engine {
	tr := fixtures.Transformer()
	return NewEngine(NewReconciler(tr.Mapping(), assembler.NewDefault().DisplayName), opts)
}

func demoBackground(t *testing.T, n int) BackgroundSample {
	t.Helper()
	asm := assembler.NewDefault()
	var rows []domain.FeatureVector
	for _, flat := range fixtures.PopulationRows(200, 3) {
		fv, err := asm.AssembleFlat(flat)
		require.NoError(t, err)
		rows = append(rows, fv)
	}
	pop, err := NewPopulation(rows, fixtures.Transformer())
	require.NoError(t, err)
	return pop.Sample(n, 42)
}

type unsupportedModel struct {
	model.Model
}

func (unsupportedModel) Kind() domain.ModelKind { return "support_vector_machine" }
func (unsupportedModel) NumFeatures() int       { return 20 }

func TestEngine_TreeExplanation(t *testing.T) {
	engine := newTestEngine(Options{})
	fv, tensor := encodeRecord(t, fixtures.HighRiskRecord())

	set, err := engine.Explain(fixtures.TreeModel(), fv, tensor, BackgroundSample{})
	require.NoError(t, err)

	assert.Equal(t, MethodTreePathDependent, set.Method)
	assert.Equal(t, domain.OutputProbability, set.OutputSpace)
	assert.Equal(t, domain.ExplanationVerified, set.Status)
	assert.Empty(t, set.Warnings)
	assert.Len(t, set.Attributions, 14)
	assert.Less(t, abs(set.Baseline+set.Sum()-set.Output), 1e-3)
	assert.InDelta(t, model.Sigmoid(0.3), set.Output, 1e-12)

	age, ok := set.Find("age")
	require.True(t, ok)
	assert.Greater(t, age.Contribution, 0.0)
	assert.Equal(t, "70", age.Value)
	assert.Equal(t, "Age", age.DisplayName)

	chol, _ := set.Find("serum_cholesterol")
	assert.Greater(t, chol.Contribution, 0.0)

	ecg, _ := set.Find("resting_ecg_results")
	assert.Less(t, ecg.Contribution, 0.0)
	assert.Equal(t, "Normal", ecg.Value)
	assert.Len(t, ecg.EncodedColumns, 3)

	gender, _ := set.Find("gender")
	assert.Zero(t, gender.Contribution)

	assert.Equal(t, "age", set.Attributions[0].Feature)
}

func TestEngine_TreeExplanationLogOdds(t *testing.T) {
	engine := newTestEngine(Options{OutputSpace: domain.OutputLogOdds})
	fv, tensor := encodeRecord(t, fixtures.HighRiskRecord())

	set, err := engine.Explain(fixtures.TreeModel(), fv, tensor, BackgroundSample{})
	require.NoError(t, err)

	assert.Equal(t, domain.OutputLogOdds, set.OutputSpace)
	assert.InDelta(t, -0.15, set.Baseline, 1e-12)
	assert.InDelta(t, 0.3, set.Output, 1e-12)
	age, _ := set.Find("age")
	assert.InDelta(t, 1.12, age.Contribution, 1e-12)
}

func TestEngine_NeuralExplanation(t *testing.T) {
	engine := newTestEngine(Options{})
	fv, tensor := encodeRecord(t, fixtures.HighRiskRecord())
	bg := demoBackground(t, 50)

	set, err := engine.Explain(fixtures.NeuralModel(), fv, tensor, bg)
	require.NoError(t, err)

	assert.Equal(t, MethodDeepLIFT, set.Method)
	assert.Equal(t, domain.ExplanationVerified, set.Status)
	assert.Less(t, abs(set.Residual), 1e-6)

	p, err := fixtures.NeuralModel().Predict(tensor)
	require.NoError(t, err)
	assert.InDelta(t, p, set.Output, 1e-12)

	age, _ := set.Find("age")
	chol, _ := set.Find("serum_cholesterol")
	assert.Greater(t, age.Contribution, 0.0)
	assert.Greater(t, chol.Contribution, 0.0)
}

func TestEngine_NeuralRequiresBackground(t *testing.T) {
	engine := newTestEngine(Options{})
	fv, tensor := encodeRecord(t, fixtures.HighRiskRecord())

	_, err := engine.Explain(fixtures.NeuralModel(), fv, tensor, BackgroundSample{})
	assert.Error(t, err)
}

func TestEngine_NeuralLogOddsFallsBackWithWarning(t *testing.T) {
	engine := newTestEngine(Options{OutputSpace: domain.OutputLogOdds})
	fv, tensor := encodeRecord(t, fixtures.HighRiskRecord())

	set, err := engine.Explain(fixtures.NeuralModel(), fv, tensor, demoBackground(t, 10))
	require.NoError(t, err)
	assert.Equal(t, domain.OutputProbability, set.OutputSpace)
	assert.Len(t, set.Warnings, 1)
	assert.Equal(t, domain.ExplanationVerified, set.Status)
}

func TestEngine_UnsupportedModel(t *testing.T) {
	engine := newTestEngine(Options{})
	fv, tensor := encodeRecord(t, fixtures.HighRiskRecord())

	_, err := engine.Explain(unsupportedModel{}, fv, tensor, BackgroundSample{})
	var uerr *domain.ExplainerUnavailableError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "support_vector_machine", uerr.ModelKind)

	_, err = ExplainerFor(unsupportedModel{})
	assert.ErrorAs(t, err, &uerr)

	method, err := ExplainerFor(fixtures.TreeModel())
	require.NoError(t, err)
	assert.Equal(t, MethodTreePathDependent, method)
	method, err = ExplainerFor(fixtures.NeuralModel())
	require.NoError(t, err)
	assert.Equal(t, MethodDeepLIFT, method)
}

func TestEngine_WidthMismatch(t *testing.T) {
	engine := newTestEngine(Options{})
	fv, _ := encodeRecord(t, fixtures.HighRiskRecord())

	_, err := engine.Explain(fixtures.TreeModel(), fv, domain.EncodedTensor{Values: []float64{1}}, BackgroundSample{})
	var terr *domain.TransformError
	assert.ErrorAs(t, err, &terr)
}

func TestEngine_DeterministicWithSameSeed(t *testing.T) {
	engine := newTestEngine(Options{})
	fv, tensor := encodeRecord(t, fixtures.HighRiskRecord())

	first, err := engine.Explain(fixtures.NeuralModel(), fv, tensor, demoBackground(t, 30))
	require.NoError(t, err)
	second, err := engine.Explain(fixtures.NeuralModel(), fv, tensor, demoBackground(t, 30))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCheckAdditivity(t *testing.T) {
	set := &domain.AttributionSet{
		Baseline: 0.4,
		Output:   0.7,
		Status:   domain.ExplanationVerified,
		Attributions: []domain.Attribution{
			{Feature: "age", Contribution: 0.2},
			{Feature: "serum_cholesterol", Contribution: 0.05},
		},
	}

	checkAdditivity(set, set.Baseline+set.Sum()-set.Output, domain.OutputProbability, 1e-3)

	assert.Equal(t, domain.ExplanationDegraded, set.Status)
	assert.InDelta(t, -0.05, set.Residual, 1e-12)
	require.Len(t, set.Warnings, 1)
	assert.Contains(t, set.Warnings[0], "probability residual")

	set.Attributions[1].Contribution = 0.1
	set.Status = domain.ExplanationVerified
	set.Warnings = nil
	checkAdditivity(set, set.Baseline+set.Sum()-set.Output, domain.OutputProbability, 1e-3)
	assert.Equal(t, domain.ExplanationVerified, set.Status)
	assert.Empty(t, set.Warnings)
}

func TestCheckAdditivity_LogOddsResidualWhenProbabilitiesBalance(t *testing.T) {
	// A log-odds gap of 0.002 shrinks below 1e-3 once scaled by p(1-p) <= 0.25.
	set := &domain.AttributionSet{
		OutputSpace:  domain.OutputProbability,
		Baseline:     0.4,
		Output:       0.7,
		Status:       domain.ExplanationVerified,
		Attributions: []domain.Attribution{{Feature: "age", Contribution: 0.3}},
	}

	checkAdditivity(set, 0.002, domain.OutputLogOdds, 1e-3)

	assert.Equal(t, domain.ExplanationDegraded, set.Status)
	assert.InDelta(t, 0.002, set.Residual, 1e-12)
	require.Len(t, set.Warnings, 1)
	assert.Contains(t, set.Warnings[0], "log_odds residual 0.002000")
}

func TestLoadPopulation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "population.csv")
	require.NoError(t, fixtures.WritePopulationCSV(path, fixtures.PopulationRows(25, 1)))

	pop, err := LoadPopulation(path, assembler.NewDefault(), fixtures.Transformer())
	require.NoError(t, err)
	assert.Equal(t, 25, pop.Len())

	broken := filepath.Join(dir, "broken.csv")
	require.NoError(t, os.WriteFile(broken, []byte("age,gender\n61,Male\n"), 0o644))
	_, err = LoadPopulation(broken, assembler.NewDefault(), fixtures.Transformer())
	var aerr *domain.ArtifactError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "population", aerr.Artifact)

	_, err = LoadPopulation(filepath.Join(dir, "missing.csv"), assembler.NewDefault(), fixtures.Transformer())
	assert.ErrorAs(t, err, &aerr)
}

func TestPopulationSample(t *testing.T) {
	asm := assembler.NewDefault()
	var rows []domain.FeatureVector
	for _, flat := range fixtures.PopulationRows(40, 9) {
		fv, err := asm.AssembleFlat(flat)
		require.NoError(t, err)
		rows = append(rows, fv)
	}
	pop, err := NewPopulation(rows, fixtures.Transformer())
	require.NoError(t, err)

	snapshot := make([][]float64, pop.Len())
	for i, r := range pop.encoded {
		snapshot[i] = append([]float64(nil), r...)
	}

	a := pop.Sample(10, 42)
	b := pop.Sample(10, 42)
	c := pop.Sample(10, 43)
	assert.Equal(t, 10, a.Size())
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	a.Rows[0][0] = 999
	assert.Equal(t, snapshot, pop.encoded)

	assert.Equal(t, 40, pop.Sample(1000, 1).Size())
	assert.Equal(t, 0, pop.Sample(0, 1).Size())
}
