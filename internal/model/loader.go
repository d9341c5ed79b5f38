package model

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/cardiovision-risk-engine/internal/domain"
)

// Artifact file suffixes appended to a model base path
const (
	NeuralSuffix = ".nn.json"
	TreeSuffix   = ".gbt.json"
)

// Candidates returns the artifact paths that exist for a base path, in resolution order.
func Candidates(basePath string) []string {
	var found []string
	for _, p := range []string{basePath + NeuralSuffix, basePath + TreeSuffix} {
		if fileExists(p) {
			found = append(found, p)
		}
	}
	return found
}

// Load resolves the model at basePath. The neural network artifact is checked
// first, then the tree ensemble; if neither exists a ModelNotFoundError is returned.
func Load(basePath string) (Model, error) {
	neuralPath := basePath + NeuralSuffix
	treePath := basePath + TreeSuffix

	if fileExists(neuralPath) {
		return LoadNeural(neuralPath)
	}
	if fileExists(treePath) {
		return LoadTree(treePath)
	}
	return nil, &domain.ModelNotFoundError{BasePath: basePath, Tried: []string{neuralPath, treePath}}
}

// LoadNeural reads a neural network artifact
func LoadNeural(path string) (*NeuralNetwork, error) {
	var a NeuralArtifact
	if err := readJSON(path, &a); err != nil {
		return nil, domain.NewArtifactError("model", path, err)
	}
	m, err := NewNeuralNetwork(&a, path)
	if err != nil {
		return nil, domain.NewArtifactError("model", path, err)
	}
	return m, nil
}

// LoadTree reads a gradient-boosted tree artifact
func LoadTree(path string) (*TreeEnsemble, error) {
	var a TreeArtifact
	if err := readJSON(path, &a); err != nil {
		return nil, domain.NewArtifactError("model", path, err)
	}
	m, err := NewTreeEnsemble(&a, path)
	if err != nil {
		return nil, domain.NewArtifactError("model", path, err)
	}
	return m, nil
}

// SaveJSON writes any artifact as indented JSON
func SaveJSON(path string, artifact interface{}) error {
	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode model artifact: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write model artifact: %w", err)
	}
	return nil
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read artifact: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode artifact: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
