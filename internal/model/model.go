// Package model loads the pretrained risk classifier behind a uniform predict interface.
package model

import (
	"fmt"
	"math"

	"github.com/cardiovision-risk-engine/internal/domain"
)

// Model is one loaded classifier. Exactly two implementations exist,
// *TreeEnsemble and *NeuralNetwork, and the set is closed.
type Model interface {
	Kind() domain.ModelKind
	Version() string
	Path() string
	NumFeatures() int
	FeatureNames() []string
	// Predict returns the probability of the positive (high risk) class.
	Predict(t domain.EncodedTensor) (float64, error)

	sealed()
}

// CheckCompatible verifies that a model accepts the columns produced by a transform.
func CheckCompatible(m Model, columns []string) error {
	names := m.FeatureNames()
	if len(names) > 0 {
		if len(names) != len(columns) {
			return domain.NewArtifactError("model", m.Path(),
				fmt.Errorf("model expects %d columns, transform produces %d", len(names), len(columns)))
		}
		for i := range names {
			if names[i] != columns[i] {
				return domain.NewArtifactError("model", m.Path(),
					fmt.Errorf("column %d is %q in the model but %q in the transform", i, names[i], columns[i]))
			}
		}
		return nil
	}
	if m.NumFeatures() != len(columns) {
		return domain.NewArtifactError("model", m.Path(),
			fmt.Errorf("model expects %d columns, transform produces %d", m.NumFeatures(), len(columns)))
	}
	return nil
}

func checkWidth(m Model, t domain.EncodedTensor) error {
	if t.Width() != m.NumFeatures() {
		return &domain.TransformError{
			Reason: fmt.Sprintf("encoded tensor has %d columns, model expects %d", t.Width(), m.NumFeatures()),
		}
	}
	return nil
}

func checkProbability(p float64) (float64, error) {
	if math.IsNaN(p) || math.IsInf(p, 0) || p < 0 || p > 1 {
		return 0, fmt.Errorf("model produced invalid probability %v", p)
	}
	return p, nil
}

// Sigmoid is the logistic function
func Sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}
