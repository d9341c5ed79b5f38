// Package assembler flattens nested patient records into the fixed feature vector.
package assembler

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/cardiovision-risk-engine/internal/domain"
)

// ValueCheck rejects a normalized value the downstream encoder cannot accept.
// A non-nil error is reported as an invalid field alongside every other violation.
type ValueCheck func(feature string, v domain.FeatureValue) error

// Assembler maps patient records onto a fixed, ordered set of feature slots
type Assembler struct {
	slots   []Slot
	names   []string
	byName  map[string]Slot
	aliases map[string]string
}

// New creates an assembler over the given slots. Nil slots selects DefaultSlots.
func New(slots []Slot, aliases map[string]string) *Assembler {
	if slots == nil {
		slots = DefaultSlots()
	}
	if aliases == nil {
		aliases = DefaultSectionAliases()
	}
	a := &Assembler{
		slots:   make([]Slot, len(slots)),
		names:   make([]string, len(slots)),
		byName:  make(map[string]Slot, len(slots)),
		aliases: aliases,
	}
	copy(a.slots, slots)
	for i, s := range slots {
		a.names[i] = s.Name
		a.byName[s.Name] = s
	}
	return a
}

// NewDefault creates an assembler for the standard risk model schema
func NewDefault() *Assembler {
	return New(nil, nil)
}

// Slots returns the slot definitions in vector order
func (a *Assembler) Slots() []Slot {
	out := make([]Slot, len(a.slots))
	copy(out, a.slots)
	return out
}

// Names returns the slot names in vector order
func (a *Assembler) Names() []string {
	out := make([]string, len(a.names))
	copy(out, a.names)
	return out
}

// DisplayName returns the human name of a feature, or the feature itself if unknown
func (a *Assembler) DisplayName(feature string) string {
	if s, ok := a.byName[feature]; ok && s.DisplayName != "" {
		return s.DisplayName
	}
	return feature
}

// Assemble validates a patient record and returns its feature vector.
// Every missing or malformed field is reported in a single ValidationError.
// A section that is not an object of fields is reported as invalid and
// each of its fields as missing.
func (a *Assembler) Assemble(record domain.PatientRecord, checks ...ValueCheck) (domain.FeatureVector, error) {
	sections := a.canonicalSections(record)
	verr := &domain.ValidationError{}
	values := make(map[string]domain.FeatureValue, len(a.slots))
	malformed := make(map[string]bool)

	for _, slot := range a.slots {
		section, ok := sections[slot.Section]
		if !ok || section == nil {
			verr.AddMissing(slot.Name)
			continue
		}
		if raw, bad := section.Malformed(); bad {
			if !malformed[slot.Section] {
				malformed[slot.Section] = true
				verr.AddInvalid(slot.Section, "section must be an object of fields", raw)
			}
			verr.AddMissing(slot.Name)
			continue
		}
		raw, ok := section[slot.Name]
		if !ok || raw == nil {
			verr.AddMissing(slot.Name)
			continue
		}
		v, present, err := normalize(slot.Kind, raw)
		if !present {
			verr.AddMissing(slot.Name)
			continue
		}
		if err != nil {
			verr.AddInvalid(slot.Name, err.Error(), raw)
			continue
		}
		if err := runChecks(checks, slot.Name, v); err != nil {
			verr.AddInvalid(slot.Name, err.Error(), raw)
			continue
		}
		values[slot.Name] = v
	}

	if verr.HasViolations() {
		return domain.FeatureVector{}, verr
	}
	return domain.NewFeatureVector(a.names, values), nil
}

func runChecks(checks []ValueCheck, feature string, v domain.FeatureValue) error {
	for _, check := range checks {
		if err := check(feature, v); err != nil {
			return err
		}
	}
	return nil
}

// AssembleFlat validates a flat row keyed by feature name, as found in tabular population data.
func (a *Assembler) AssembleFlat(row map[string]string) (domain.FeatureVector, error) {
	verr := &domain.ValidationError{}
	values := make(map[string]domain.FeatureValue, len(a.slots))

	for _, slot := range a.slots {
		raw, ok := row[slot.Name]
		if !ok {
			verr.AddMissing(slot.Name)
			continue
		}
		v, present, err := normalize(slot.Kind, raw)
		if !present {
			verr.AddMissing(slot.Name)
			continue
		}
		if err != nil {
			verr.AddInvalid(slot.Name, err.Error(), raw)
			continue
		}
		values[slot.Name] = v
	}

	if verr.HasViolations() {
		return domain.FeatureVector{}, verr
	}
	return domain.NewFeatureVector(a.names, values), nil
}

// canonicalSections resolves section aliases. A canonical section wins over its alias.
func (a *Assembler) canonicalSections(record domain.PatientRecord) map[string]domain.Section {
	out := make(map[string]domain.Section, len(record))
	for name, section := range record {
		if _, isAlias := a.aliases[name]; isAlias {
			continue
		}
		out[name] = section
	}
	for alias, canonical := range a.aliases {
		if _, ok := out[canonical]; ok {
			continue
		}
		if section, ok := record[alias]; ok {
			out[canonical] = section
		}
	}
	return out
}

// normalize converts a loosely typed value to the slot kind.
// present is false for blank values, which count as missing rather than zero.
func normalize(kind domain.ValueKind, raw interface{}) (v domain.FeatureValue, present bool, err error) {
	if s, ok := raw.(string); ok && strings.TrimSpace(s) == "" {
		return domain.FeatureValue{}, false, nil
	}

	switch kind {
	case domain.KindNumeric:
		n, err := toNumber(raw)
		if err != nil {
			return domain.FeatureValue{}, true, err
		}
		return domain.NumberValue(n), true, nil
	case domain.KindBoolean:
		b, err := toBool(raw)
		if err != nil {
			return domain.FeatureValue{}, true, err
		}
		return domain.BoolValue(b), true, nil
	case domain.KindCategorical:
		s, ok := raw.(string)
		if !ok {
			return domain.FeatureValue{}, true, fmt.Errorf("expected a category label, got %T", raw)
		}
		return domain.LabelValue(strings.TrimSpace(s)), true, nil
	default:
		return domain.FeatureValue{}, true, fmt.Errorf("unsupported slot kind %s", kind)
	}
}

func toNumber(raw interface{}) (float64, error) {
	var n float64
	switch v := raw.(type) {
	case float64:
		n = v
	case float32:
		n = float64(v)
	case int:
		n = float64(v)
	case int64:
		n = float64(v)
	case int32:
		n = float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("expected a number")
		}
		n = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("expected a number")
		}
		n = f
	default:
		return 0, fmt.Errorf("expected a number, got %T", raw)
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, fmt.Errorf("expected a finite number")
	}
	return n, nil
}

func toBool(raw interface{}) (bool, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "yes", "true", "1", "y":
			return true, nil
		case "no", "false", "0", "n":
			return false, nil
		}
		return false, fmt.Errorf("expected yes/no")
	default:
		n, err := toNumber(raw)
		if err != nil {
			return false, fmt.Errorf("expected a boolean")
		}
		switch n {
		case 1:
			return true, nil
		case 0:
			return false, nil
		}
		return false, fmt.Errorf("expected 0 or 1")
	}
}
