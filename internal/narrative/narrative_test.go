package narrative

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardiovision-risk-engine/internal/domain"
)

func sampleSet() *domain.AttributionSet {
	return &domain.AttributionSet{
		Method:      "tree_path_dependent",
		OutputSpace: domain.OutputProbability,
		Baseline:    0.4626,
		Output:      0.5744,
		Status:      domain.ExplanationVerified,
		Attributions: []domain.Attribution{
			{Feature: "age", DisplayName: "Age", Value: "70", Contribution: 0.2784},
			{Feature: "serum_cholesterol", DisplayName: "Serum cholesterol", Value: "280", Contribution: 0.1492},
			{Feature: "st_depression", DisplayName: "ST depression", Value: "0.2", Contribution: -0.0834},
			{Feature: "resting_ecg_results", DisplayName: "Resting ECG results", Value: "Normal", Contribution: -0.0671},
			{Feature: "gender", DisplayName: "Gender", Value: "Female", Contribution: 0.004},
			{Feature: "years_smoking", DisplayName: "Years smoking", Value: "0", Contribution: 0},
		},
	}
}

func TestPartition(t *testing.T) {
	g := NewGenerator(0.01, 0)

	inc, dec := g.Partition(sampleSet())

	require.Len(t, inc, 2)
	assert.Equal(t, "age", inc[0].Feature)
	assert.Equal(t, "serum_cholesterol", inc[1].Feature)
	require.Len(t, dec, 2)
	assert.Equal(t, "st_depression", dec[0].Feature)
	assert.Equal(t, "resting_ecg_results", dec[1].Feature)
}

func TestNarrate_HighRisk(t *testing.T) {
	text := NewGenerator(0.01, 0).Narrate(sampleSet(), domain.HighRisk)

	assert.True(t, strings.HasPrefix(text, "High Risk: the model estimates a 57.4% probability"))
	assert.Contains(t, text, "against 46.3% for the reference population")
	assert.Contains(t, text, "Factors that raised the risk: Age (70, +27.8 pp), Serum cholesterol (280, +14.9 pp).")
	assert.Contains(t, text, "Mitigating factors that were not enough to offset it: ST depression (0.2, -8.3 pp), Resting ECG results (Normal, -6.7 pp).")
	assert.NotContains(t, text, "Gender")
	assert.NotContains(t, text, "Years smoking")
	assert.Less(t, strings.Index(text, "raised"), strings.Index(text, "Mitigating"))
}

func TestNarrate_LowRiskLeadsWithProtectiveFactors(t *testing.T) {
	set := sampleSet()
	set.Output = 0.21

	text := NewGenerator(0.01, 0).Narrate(set, domain.LowRisk)

	assert.True(t, strings.HasPrefix(text, "Low Risk:"))
	lowered := strings.Index(text, "Factors that lowered the risk: ST depression")
	outweighed := strings.Index(text, "Risk factors present but outweighed: Age")
	require.NotEqual(t, -1, lowered)
	require.NotEqual(t, -1, outweighed)
	assert.Less(t, lowered, outweighed)
}

func TestNarrate_Asymmetry(t *testing.T) {
	g := NewGenerator(0.01, 0)
	set := sampleSet()

	high := g.Narrate(set, domain.HighRisk)
	low := g.Narrate(set, domain.LowRisk)

	assert.NotEqual(t, high, low)
	assert.NotEqual(t,
		strings.TrimPrefix(high, "High Risk"),
		strings.TrimPrefix(low, "Low Risk"),
		"framing must differ beyond the label itself")
}

func TestNarrate_Deterministic(t *testing.T) {
	g := NewGenerator(0.01, 0)
	first := g.Narrate(sampleSet(), domain.HighRisk)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, g.Narrate(sampleSet(), domain.HighRisk))
	}
}

func TestNarrate_NoSignificantFactors(t *testing.T) {
	set := sampleSet()
	for i := range set.Attributions {
		set.Attributions[i].Contribution /= 1000
	}
	g := NewGenerator(0.01, 0)

	assert.Contains(t, g.Narrate(set, domain.HighRisk), "No single factor raised the risk")
	assert.Contains(t, g.Narrate(set, domain.LowRisk), "No single factor lowered the risk")
	assert.NotContains(t, g.Narrate(set, domain.HighRisk), "Mitigating")
}

func TestNarrate_MaxFactors(t *testing.T) {
	text := NewGenerator(0.01, 1).Narrate(sampleSet(), domain.HighRisk)

	assert.Contains(t, text, "Factors that raised the risk: Age (70, +27.8 pp), and 1 more.")
	assert.NotContains(t, text, "Serum cholesterol")
}

func TestNarrate_DegradedIsFlagged(t *testing.T) {
	set := sampleSet()
	set.Status = domain.ExplanationDegraded
	set.Residual = 0.0123

	text := NewGenerator(0.01, 0).Narrate(set, domain.HighRisk)
	assert.Contains(t, text, "do not fully reconcile with the model output (residual 0.0123)")

	verified := NewGenerator(0.01, 0).Narrate(sampleSet(), domain.HighRisk)
	assert.NotContains(t, verified, "reconcile")
}

func TestNarrate_LogOdds(t *testing.T) {
	set := &domain.AttributionSet{
		OutputSpace: domain.OutputLogOdds,
		Baseline:    -0.15,
		Output:      0.3,
		Attributions: []domain.Attribution{
			{Feature: "age", DisplayName: "Age", Value: "70", Contribution: 1.12},
			{Feature: "max_heart_rate", DisplayName: "Maximum heart rate", Value: "165", Contribution: -0.28},
		},
	}

	text := NewGenerator(0.01, 0).Narrate(set, domain.HighRisk)
	assert.Contains(t, text, "57.4% probability")
	assert.Contains(t, text, "Age (70, +1.12 log-odds)")
	assert.Contains(t, text, "Maximum heart rate (165, -0.28 log-odds)")
}

func TestUnexplained(t *testing.T) {
	text := NewGenerator(0.01, 0).Unexplained(domain.HighRisk, 0.8123, "no explainer for model kind")

	assert.Equal(t, "High Risk: the model estimates a 81.2% probability of a heart attack. "+
		"Feature attributions are unavailable (no explainer for model kind), so no contributing factors can be shown.", text)
}
