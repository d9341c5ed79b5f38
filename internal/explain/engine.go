// Package explain computes additive feature attributions for the loaded model.
//
// Tree ensembles are explained with exact path-dependent TreeSHAP, neural
// networks with DeepLIFT's Rescale rule averaged over a background sample.
// Attributions are reconciled to the original features before they leave the
// package.
package explain

import (
	"fmt"
	"math"

	"github.com/cardiovision-risk-engine/internal/domain"
	"github.com/cardiovision-risk-engine/internal/model"
)

// DefaultTolerance is the largest additivity residual accepted as verified
const DefaultTolerance = 1e-3

// Options configure an Engine
type Options struct {
	Tolerance   float64
	OutputSpace domain.OutputSpace
}

// Engine selects the explainer that matches a model family. It holds no
// per-request state and is safe for concurrent use.
type Engine struct {
	reconciler *Reconciler
	tolerance  float64
	space      domain.OutputSpace
}

// NewEngine creates an attribution engine
func NewEngine(reconciler *Reconciler, opts Options) *Engine {
	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultTolerance
	}
	if opts.OutputSpace == "" {
		opts.OutputSpace = domain.OutputProbability
	}
	return &Engine{reconciler: reconciler, tolerance: opts.Tolerance, space: opts.OutputSpace}
}

// ExplainerFor names the algorithm used for a model, or returns ExplainerUnavailableError
func ExplainerFor(m model.Model) (string, error) {
	switch m.(type) {
	case *model.TreeEnsemble:
		return MethodTreePathDependent, nil
	case *model.NeuralNetwork:
		return MethodDeepLIFT, nil
	default:
		return "", &domain.ExplainerUnavailableError{ModelKind: string(m.Kind())}
	}
}

// Explain decomposes the model output for one encoded row into per-feature
// contributions. An additivity residual above tolerance does not fail the call;
// it marks the set degraded and records a warning.
func (e *Engine) Explain(m model.Model, fv domain.FeatureVector, tensor domain.EncodedTensor, background BackgroundSample) (*domain.AttributionSet, error) {
	if tensor.Width() != m.NumFeatures() {
		return nil, &domain.TransformError{
			Reason: fmt.Sprintf("encoded tensor has %d columns, model expects %d", tensor.Width(), m.NumFeatures()),
		}
	}

	var (
		cols *columnAttribution
		err  error
	)
	switch mm := m.(type) {
	case *model.TreeEnsemble:
		cols = explainTrees(mm, tensor.Values, e.space)
	case *model.NeuralNetwork:
		cols, err = explainNetwork(mm, tensor.Values, background)
		if err != nil {
			return nil, err
		}
		if e.space == domain.OutputLogOdds {
			cols.warnings = append(cols.warnings, "log-odds output is only available for tree models; attributions are in probability space")
		}
	default:
		return nil, &domain.ExplainerUnavailableError{ModelKind: string(m.Kind())}
	}

	attributions, err := e.reconciler.Reconcile(cols.values, fv)
	if err != nil {
		return nil, fmt.Errorf("failed to reconcile attributions: %w", err)
	}

	set := &domain.AttributionSet{
		Method:       cols.method,
		OutputSpace:  cols.space,
		Baseline:     cols.baseline,
		Output:       cols.output,
		Attributions: attributions,
		Status:       domain.ExplanationVerified,
		Warnings:     cols.warnings,
	}
	residual, space := set.Baseline+set.Sum()-set.Output, set.OutputSpace
	if cols.residualSpace != "" {
		residual, space = cols.residual, cols.residualSpace
	}
	checkAdditivity(set, residual, space, e.tolerance)
	set.Rank()
	return set, nil
}

// checkAdditivity records the residual and downgrades the set when it exceeds
// tolerance. Tree residuals are measured in log-odds before any rescaling.
func checkAdditivity(set *domain.AttributionSet, residual float64, space domain.OutputSpace, tolerance float64) {
	set.Residual = residual
	if math.IsNaN(residual) || math.Abs(residual) > tolerance {
		set.Status = domain.ExplanationDegraded
		set.Warnings = append(set.Warnings, fmt.Sprintf(
			"attributions do not reconstruct the model output: %s residual %.6f exceeds tolerance %.6f",
			space, residual, tolerance))
	}
}

// Tolerance returns the additivity tolerance
func (e *Engine) Tolerance() float64 {
	return e.tolerance
}
