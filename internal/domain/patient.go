package domain

import (
	"encoding/json"
	"strconv"
)

// Section names of a patient record as submitted by the caller.
const (
	SectionPatientInfo          = "PatientInfo"
	SectionSymptomsObservations = "SymptomsObservations"
	SectionVitalParameters      = "VitalParameters"
	SectionLaboratoryValues     = "LaboratoryValues"
	SectionECGResults           = "ECGResults"
	SectionSocialFactors        = "SocialFactors"
)

// Section is one group of loosely typed clinical fields.
type Section map[string]interface{}

// malformedKey holds the submitted value of a section that was not an object.
const malformedKey = "\x00malformed"

// MalformedSection wraps a section value that is not an object of fields
func MalformedSection(value interface{}) Section {
	return Section{malformedKey: value}
}

// Malformed returns the submitted value if the section was not an object
func (s Section) Malformed() (interface{}, bool) {
	if len(s) != 1 {
		return nil, false
	}
	v, ok := s[malformedKey]
	return v, ok
}

// PatientRecord is the nested, semi-structured input owned by the caller.
// The core only reads it.
type PatientRecord map[string]Section

// UnmarshalJSON decodes an object of sections. A section that is not an
// object is kept as a malformed marker so validation can report it with
// every other violation instead of failing the whole decode.
func (r *PatientRecord) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := make(PatientRecord, len(raw))
	for name, msg := range raw {
		var section Section
		if err := json.Unmarshal(msg, &section); err == nil {
			out[name] = section
			continue
		}
		var value interface{}
		if err := json.Unmarshal(msg, &value); err != nil {
			return err
		}
		out[name] = MalformedSection(value)
	}
	*r = out
	return nil
}

// MarshalJSON writes malformed sections back as the value that was submitted.
func (r PatientRecord) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(r))
	for name, section := range r {
		if v, bad := section.Malformed(); bad {
			out[name] = v
			continue
		}
		out[name] = map[string]interface{}(section)
	}
	return json.Marshal(out)
}

// ValueKind describes how a feature slot is typed.
type ValueKind int

const (
	KindNumeric ValueKind = iota
	KindBoolean
	KindCategorical
)

// String returns the kind name used in diagnostics
func (k ValueKind) String() string {
	switch k {
	case KindNumeric:
		return "numeric"
	case KindBoolean:
		return "boolean"
	case KindCategorical:
		return "categorical"
	default:
		return "unknown"
	}
}

// FeatureValue is a raw, validated value of one slot.
// Booleans are carried as 0/1 in Number.
type FeatureValue struct {
	Kind   ValueKind `json:"kind"`
	Number float64   `json:"number,omitempty"`
	Label  string    `json:"label,omitempty"`
}

// NumberValue builds a numeric feature value
func NumberValue(v float64) FeatureValue {
	return FeatureValue{Kind: KindNumeric, Number: v}
}

// BoolValue builds a boolean feature value
func BoolValue(v bool) FeatureValue {
	if v {
		return FeatureValue{Kind: KindBoolean, Number: 1}
	}
	return FeatureValue{Kind: KindBoolean, Number: 0}
}

// LabelValue builds a categorical feature value
func LabelValue(v string) FeatureValue {
	return FeatureValue{Kind: KindCategorical, Label: v}
}

// String renders the value the way a clinician entered it.
func (v FeatureValue) String() string {
	switch v.Kind {
	case KindBoolean:
		if v.Number != 0 {
			return "yes"
		}
		return "no"
	case KindCategorical:
		return v.Label
	default:
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	}
}

// FeatureVector is an ordered mapping from the fixed feature slots to raw values.
type FeatureVector struct {
	names  []string
	values map[string]FeatureValue
}

// NewFeatureVector builds a vector that keeps names in the given order.
// Values for names not listed are ignored.
func NewFeatureVector(names []string, values map[string]FeatureValue) FeatureVector {
	ordered := make([]string, len(names))
	copy(ordered, names)
	vals := make(map[string]FeatureValue, len(names))
	for _, n := range ordered {
		if v, ok := values[n]; ok {
			vals[n] = v
		}
	}
	return FeatureVector{names: ordered, values: vals}
}

// Names returns the slot names in their fixed order
func (fv FeatureVector) Names() []string {
	out := make([]string, len(fv.names))
	copy(out, fv.names)
	return out
}

// Get returns the value of a slot
func (fv FeatureVector) Get(name string) (FeatureValue, bool) {
	v, ok := fv.values[name]
	return v, ok
}

// Len returns the number of slots
func (fv FeatureVector) Len() int {
	return len(fv.names)
}

// MarshalJSON emits the vector as an object in slot order.
func (fv FeatureVector) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, n := range fv.names {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = strconv.AppendQuote(buf, n)
		buf = append(buf, ':')
		v := fv.values[n]
		switch v.Kind {
		case KindCategorical:
			buf = strconv.AppendQuote(buf, v.Label)
		case KindBoolean:
			buf = strconv.AppendBool(buf, v.Number != 0)
		default:
			buf = strconv.AppendFloat(buf, v.Number, 'f', -1, 64)
		}
	}
	return append(buf, '}'), nil
}

// EncodedTensor is the numeric row produced by the preprocessing transform.
// Columns is shared with the transform and must not be modified.
type EncodedTensor struct {
	Columns []string  `json:"columns"`
	Values  []float64 `json:"values"`
}

// Width returns the number of encoded columns
func (t EncodedTensor) Width() int {
	return len(t.Values)
}
