// Package risk turns model probabilities into risk categories.
package risk

import (
	"fmt"
	"math"

	"github.com/cardiovision-risk-engine/internal/domain"
)

// DefaultThreshold is the decision boundary used when none is configured.
// It is an uncalibrated simplification, not a clinical guarantee.
const DefaultThreshold = 0.5

// Classifier applies a fixed decision boundary with no hysteresis
type Classifier struct {
	threshold float64
}

// NewClassifier creates a classifier; the threshold must lie strictly inside (0, 1)
func NewClassifier(threshold float64) (*Classifier, error) {
	if math.IsNaN(threshold) || threshold <= 0 || threshold >= 1 {
		return nil, fmt.Errorf("risk threshold must be in (0, 1), got %v", threshold)
	}
	return &Classifier{threshold: threshold}, nil
}

// NewDefaultClassifier creates a classifier at DefaultThreshold
func NewDefaultClassifier() *Classifier {
	return &Classifier{threshold: DefaultThreshold}
}

// Threshold returns the decision boundary
func (c *Classifier) Threshold() float64 {
	return c.threshold
}

// Classify returns High Risk only when the probability is strictly above the threshold
func (c *Classifier) Classify(probability float64) domain.RiskLabel {
	if probability > c.threshold {
		return domain.HighRisk
	}
	return domain.LowRisk
}
