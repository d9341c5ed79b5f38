package preprocess

import (
	"encoding/json"
	"fmt"
	"os"
)

// Step kinds supported by the fitted transform
const (
	KindStandardScaler = "standard_scaler"
	KindOneHot         = "one_hot"
	KindPassthrough    = "passthrough"
)

// Unknown category handling for one-hot steps
const (
	HandleUnknownError  = "error"
	HandleUnknownIgnore = "ignore"
)

// Artifact is the serialized form of a fitted column transform
type Artifact struct {
	Version       string   `json:"version"`
	InputFeatures []string `json:"input_features"`
	Steps         []Step   `json:"steps"`
}

// Step encodes one input feature
type Step struct {
	Group         string   `json:"group"`
	Feature       string   `json:"feature"`
	Kind          string   `json:"kind"`
	Mean          float64  `json:"mean,omitempty"`
	Scale         float64  `json:"scale,omitempty"`
	Categories    []string `json:"categories,omitempty"`
	Drop          string   `json:"drop,omitempty"`
	HandleUnknown string   `json:"handle_unknown,omitempty"`
}

// LoadArtifact reads a transform artifact from disk
func LoadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read preprocessor artifact: %w", err)
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to decode preprocessor artifact: %w", err)
	}
	return &a, nil
}

// Save writes the artifact as indented JSON
func (a *Artifact) Save(path string) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode preprocessor artifact: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write preprocessor artifact: %w", err)
	}
	return nil
}
