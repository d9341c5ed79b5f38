package domain

import (
	"math"
	"sort"
	"time"
)

// RiskLabel represents the binary risk category
type RiskLabel string

const (
	LowRisk  RiskLabel = "Low Risk"
	HighRisk RiskLabel = "High Risk"
)

// IsValid reports whether the label is one of the known categories
func (l RiskLabel) IsValid() bool {
	return l == LowRisk || l == HighRisk
}

// ModelKind identifies the model family behind a loaded artifact
type ModelKind string

const (
	ModelKindTree   ModelKind = "gradient_boosted_tree"
	ModelKindNeural ModelKind = "neural_network"
)

// ExplanationStatus tells the caller how far the explanation can be trusted
type ExplanationStatus string

const (
	// ExplanationVerified means the attributions passed the additivity check.
	ExplanationVerified ExplanationStatus = "verified"
	// ExplanationDegraded means attributions exist but did not reconcile with the output.
	ExplanationDegraded ExplanationStatus = "degraded"
	// ExplanationUnavailable means no attributions could be computed.
	ExplanationUnavailable ExplanationStatus = "unavailable"
)

// OutputSpace is the scale attributions are expressed in
type OutputSpace string

const (
	OutputProbability OutputSpace = "probability"
	OutputLogOdds     OutputSpace = "log_odds"
)

// Attribution is the contribution of one original feature to a prediction
type Attribution struct {
	Feature        string   `json:"feature"`
	DisplayName    string   `json:"display_name"`
	Value          string   `json:"value"`
	Contribution   float64  `json:"contribution"`
	EncodedColumns []string `json:"encoded_columns,omitempty"`
}

// AttributionSet is an additive decomposition of one model output
type AttributionSet struct {
	Method       string            `json:"method"`
	OutputSpace  OutputSpace       `json:"output_space"`
	Baseline     float64           `json:"baseline"`
	Output       float64           `json:"output"`
	Attributions []Attribution     `json:"attributions"`
	Residual     float64           `json:"residual"`
	Status       ExplanationStatus `json:"status"`
	Warnings     []string          `json:"warnings,omitempty"`
}

// Sum returns the total of all contributions
func (s *AttributionSet) Sum() float64 {
	total := 0.0
	for _, a := range s.Attributions {
		total += a.Contribution
	}
	return total
}

// Find returns the attribution for an original feature
func (s *AttributionSet) Find(feature string) (Attribution, bool) {
	for _, a := range s.Attributions {
		if a.Feature == feature {
			return a, true
		}
	}
	return Attribution{}, false
}

// Rank orders attributions by absolute contribution, largest first.
// Ties keep their existing relative order.
func (s *AttributionSet) Rank() {
	sort.SliceStable(s.Attributions, func(i, j int) bool {
		return math.Abs(s.Attributions[i].Contribution) > math.Abs(s.Attributions[j].Contribution)
	})
}

// RiskResult is the immutable outcome of one risk calculation
type RiskResult struct {
	ID                string            `json:"id"`
	RiskLabel         RiskLabel         `json:"risk_label"`
	Probability       float64           `json:"probability"`
	Threshold         float64           `json:"threshold"`
	ModelKind         ModelKind         `json:"model_kind"`
	ModelVersion      string            `json:"model_version"`
	Attributions      *AttributionSet   `json:"attributions,omitempty"`
	ExplanationText   string            `json:"explanation_text"`
	ExplanationStatus ExplanationStatus `json:"explanation_status"`
	Warnings          []string          `json:"warnings,omitempty"`
	ProcessingTimeMs  int64             `json:"processing_time_ms"`
	CreatedAt         time.Time         `json:"created_at"`
}

// IsExplained reports whether the result carries verified attributions
func (r *RiskResult) IsExplained() bool {
	return r.ExplanationStatus == ExplanationVerified
}
