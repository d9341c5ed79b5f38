// Package preprocess applies a fitted scaling and encoding transform to feature vectors.
package preprocess

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cardiovision-risk-engine/internal/domain"
)

// FeatureColumns is the declared mapping from one input feature to its encoded columns
type FeatureColumns struct {
	Feature string
	Columns []string
	Indices []int
}

type compiledStep struct {
	Step
	offset     int
	categories map[string]int
}

// Transformer is an immutable, fitted column transform. Safe for concurrent use.
type Transformer struct {
	version   string
	inputs    []string
	steps     []compiledStep
	columns   []string
	mapping   []FeatureColumns
	byFeature map[string]int
}

// New compiles an artifact into a transformer, rejecting inconsistent definitions.
func New(a *Artifact) (*Transformer, error) {
	if a == nil {
		return nil, fmt.Errorf("preprocessor artifact is nil")
	}
	if len(a.InputFeatures) == 0 {
		return nil, fmt.Errorf("preprocessor declares no input features")
	}

	t := &Transformer{
		version:   a.Version,
		inputs:    append([]string(nil), a.InputFeatures...),
		byFeature: make(map[string]int, len(a.InputFeatures)),
	}

	declared := make(map[string]bool, len(a.InputFeatures))
	for _, f := range a.InputFeatures {
		if declared[f] {
			return nil, fmt.Errorf("input feature %s declared twice", f)
		}
		declared[f] = true
	}

	seen := make(map[string]bool, len(a.Steps))
	for _, step := range a.Steps {
		if !declared[step.Feature] {
			return nil, fmt.Errorf("step references undeclared feature %s", step.Feature)
		}
		if seen[step.Feature] {
			return nil, fmt.Errorf("feature %s is encoded by more than one step", step.Feature)
		}
		seen[step.Feature] = true

		cs := compiledStep{Step: step, offset: len(t.columns)}
		if cs.Group == "" {
			cs.Group = defaultGroup(step.Kind)
		}
		if cs.HandleUnknown == "" {
			cs.HandleUnknown = HandleUnknownError
		}

		var names []string
		switch step.Kind {
		case KindStandardScaler:
			if step.Scale == 0 {
				return nil, fmt.Errorf("feature %s has zero scale", step.Feature)
			}
			names = []string{cs.Group + "__" + step.Feature}
		case KindPassthrough:
			names = []string{cs.Group + "__" + step.Feature}
		case KindOneHot:
			if len(step.Categories) == 0 {
				return nil, fmt.Errorf("feature %s has no categories", step.Feature)
			}
			if cs.HandleUnknown != HandleUnknownError && cs.HandleUnknown != HandleUnknownIgnore {
				return nil, fmt.Errorf("feature %s has unsupported handle_unknown %q", step.Feature, cs.HandleUnknown)
			}
			cs.categories = make(map[string]int, len(step.Categories))
			dropFound := step.Drop == ""
			for _, c := range step.Categories {
				if _, dup := cs.categories[c]; dup {
					return nil, fmt.Errorf("feature %s lists category %q twice", step.Feature, c)
				}
				if c == step.Drop {
					cs.categories[c] = -1
					dropFound = true
					continue
				}
				cs.categories[c] = len(names)
				names = append(names, cs.Group+"__"+step.Feature+"_"+c)
			}
			if !dropFound {
				return nil, fmt.Errorf("feature %s drops unknown category %q", step.Feature, step.Drop)
			}
		default:
			return nil, fmt.Errorf("feature %s has unsupported step kind %q", step.Feature, step.Kind)
		}

		fc := FeatureColumns{Feature: step.Feature, Columns: names}
		for i := range names {
			fc.Indices = append(fc.Indices, cs.offset+i)
		}
		t.byFeature[step.Feature] = len(t.mapping)
		t.mapping = append(t.mapping, fc)
		t.columns = append(t.columns, names...)
		t.steps = append(t.steps, cs)
	}

	var unencoded []string
	for _, f := range a.InputFeatures {
		if !seen[f] {
			unencoded = append(unencoded, f)
		}
	}
	if len(unencoded) > 0 {
		return nil, fmt.Errorf("input features without an encoding step: %v", unencoded)
	}

	return t, nil
}

// Load reads and compiles a transform artifact
func Load(path string) (*Transformer, error) {
	a, err := LoadArtifact(path)
	if err != nil {
		return nil, domain.NewArtifactError("preprocessor", path, err)
	}
	t, err := New(a)
	if err != nil {
		return nil, domain.NewArtifactError("preprocessor", path, err)
	}
	return t, nil
}

func defaultGroup(kind string) string {
	switch kind {
	case KindStandardScaler:
		return "num"
	case KindOneHot:
		return "cat"
	default:
		return "remainder"
	}
}

// Version returns the artifact version string
func (t *Transformer) Version() string {
	return t.version
}

// InputFeatures returns the raw feature names the transform was fitted on
func (t *Transformer) InputFeatures() []string {
	return append([]string(nil), t.inputs...)
}

// FeatureNamesOut returns the encoded column names in tensor order
func (t *Transformer) FeatureNamesOut() []string {
	return append([]string(nil), t.columns...)
}

// Width returns the number of encoded columns
func (t *Transformer) Width() int {
	return len(t.columns)
}

// Mapping returns the feature to encoded column mapping in step order
func (t *Transformer) Mapping() []FeatureColumns {
	out := make([]FeatureColumns, len(t.mapping))
	for i, fc := range t.mapping {
		out[i] = FeatureColumns{
			Feature: fc.Feature,
			Columns: append([]string(nil), fc.Columns...),
			Indices: append([]int(nil), fc.Indices...),
		}
	}
	return out
}

// EncodedColumns returns the encoded columns that belong to one input feature
func (t *Transformer) EncodedColumns(feature string) []string {
	i, ok := t.byFeature[feature]
	if !ok {
		return nil
	}
	return append([]string(nil), t.mapping[i].Columns...)
}

// Categories returns the labels a one-hot feature was fitted on, in artifact order
func (t *Transformer) Categories(feature string) ([]string, bool) {
	i, ok := t.byFeature[feature]
	if !ok || t.steps[i].Kind != KindOneHot {
		return nil, false
	}
	return append([]string(nil), t.steps[i].Categories...), true
}

// CheckValue rejects a category label that the fitted encoder would refuse.
// Features ignoring unknown labels accept anything.
func (t *Transformer) CheckValue(feature string, v domain.FeatureValue) error {
	i, ok := t.byFeature[feature]
	if !ok || v.Kind != domain.KindCategorical {
		return nil
	}
	step := t.steps[i]
	if step.Kind != KindOneHot || step.HandleUnknown == HandleUnknownIgnore {
		return nil
	}
	if _, known := step.categories[v.Label]; known {
		return nil
	}
	return fmt.Errorf("unknown category %q, expected one of: %s", v.Label, strings.Join(step.Categories, ", "))
}

// Transform encodes a feature vector into the tensor the model was trained on.
func (t *Transformer) Transform(fv domain.FeatureVector) (domain.EncodedTensor, error) {
	if err := t.checkSchema(fv); err != nil {
		return domain.EncodedTensor{}, err
	}

	values := make([]float64, len(t.columns))
	for _, step := range t.steps {
		v, _ := fv.Get(step.Feature)
		switch step.Kind {
		case KindStandardScaler:
			if v.Kind == domain.KindCategorical {
				return domain.EncodedTensor{}, kindMismatch(step.Feature, v.Kind, step.Kind)
			}
			values[step.offset] = (v.Number - step.Mean) / step.Scale
		case KindPassthrough:
			if v.Kind == domain.KindCategorical {
				return domain.EncodedTensor{}, kindMismatch(step.Feature, v.Kind, step.Kind)
			}
			values[step.offset] = v.Number
		case KindOneHot:
			if v.Kind != domain.KindCategorical {
				return domain.EncodedTensor{}, kindMismatch(step.Feature, v.Kind, step.Kind)
			}
			idx, known := step.categories[v.Label]
			if !known {
				if step.HandleUnknown == HandleUnknownIgnore {
					continue
				}
				return domain.EncodedTensor{}, &domain.TransformError{
					Reason:  fmt.Sprintf("unknown category %q", v.Label),
					Feature: step.Feature,
				}
			}
			if idx >= 0 {
				values[step.offset+idx] = 1
			}
		}
	}

	return domain.EncodedTensor{Columns: t.columns, Values: values}, nil
}

// checkSchema verifies the vector carries exactly the fitted input features.
func (t *Transformer) checkSchema(fv domain.FeatureVector) error {
	have := make(map[string]bool, fv.Len())
	for _, n := range fv.Names() {
		have[n] = true
	}

	var missing, unexpected []string
	for _, f := range t.inputs {
		if !have[f] {
			missing = append(missing, f)
		}
		delete(have, f)
	}
	for n := range have {
		unexpected = append(unexpected, n)
	}
	sort.Strings(unexpected)

	if len(missing) > 0 || len(unexpected) > 0 {
		return &domain.TransformError{
			Reason:     "feature vector does not match the fitted schema",
			Missing:    missing,
			Unexpected: unexpected,
		}
	}
	for _, f := range t.inputs {
		if _, ok := fv.Get(f); !ok {
			return &domain.TransformError{Reason: "feature has no value", Feature: f}
		}
	}
	return nil
}

func kindMismatch(feature string, got domain.ValueKind, step string) error {
	return &domain.TransformError{
		Reason:  fmt.Sprintf("%s value cannot be encoded by %s", got, step),
		Feature: feature,
	}
}
