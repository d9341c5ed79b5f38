package explain

import (
	"fmt"

	"github.com/cardiovision-risk-engine/internal/domain"
	"github.com/cardiovision-risk-engine/internal/preprocess"
)

// Reconciler folds encoded-column attributions back onto original features
// using the mapping declared by the preprocessing artifact.
type Reconciler struct {
	mapping     map[string]preprocess.FeatureColumns
	width       int
	displayName func(string) string
}

// NewReconciler builds a reconciler from a transform mapping.
// displayName may be nil, in which case feature names are shown as is.
func NewReconciler(mapping []preprocess.FeatureColumns, displayName func(string) string) *Reconciler {
	r := &Reconciler{
		mapping:     make(map[string]preprocess.FeatureColumns, len(mapping)),
		displayName: displayName,
	}
	for _, fc := range mapping {
		r.mapping[fc.Feature] = fc
		r.width += len(fc.Indices)
	}
	if r.displayName == nil {
		r.displayName = func(s string) string { return s }
	}
	return r
}

// Reconcile returns one attribution per original feature, in vector order.
// The contribution is the sum over the feature's encoded columns and the value
// is the raw input, so a one-hot field reports its category label.
func (r *Reconciler) Reconcile(values []float64, fv domain.FeatureVector) ([]domain.Attribution, error) {
	if len(values) != r.width {
		return nil, fmt.Errorf("got %d column attributions, mapping covers %d columns", len(values), r.width)
	}

	out := make([]domain.Attribution, 0, fv.Len())
	for _, feature := range fv.Names() {
		fc, ok := r.mapping[feature]
		if !ok {
			return nil, fmt.Errorf("feature %s has no encoded columns", feature)
		}
		sum := 0.0
		for _, idx := range fc.Indices {
			sum += values[idx]
		}
		raw, _ := fv.Get(feature)
		out = append(out, domain.Attribution{
			Feature:        feature,
			DisplayName:    r.displayName(feature),
			Value:          raw.String(),
			Contribution:   sum,
			EncodedColumns: append([]string(nil), fc.Columns...),
		})
	}
	return out, nil
}
