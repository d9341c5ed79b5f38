package domain

import (
	"context"
)

// RiskCalculator runs the full inference and explanation pipeline
type RiskCalculator interface {
	CalculateRisk(ctx context.Context, record PatientRecord) (*RiskResult, error)
	ValidateRecord(ctx context.Context, record PatientRecord) (FeatureVector, error)
	DescribeModel() ModelDescription
}

// AssessmentRepository defines the interface for assessment audit persistence
type AssessmentRepository interface {
	SaveAssessment(ctx context.Context, result *RiskResult) error
	GetAssessment(ctx context.Context, id string) (*RiskResult, error)
	ListAssessments(ctx context.Context, limit int) ([]*RiskResult, error)
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetServerConfig() *ServerConfig
	GetPipelineConfig() *PipelineConfig
	GetArtifactConfig() *ArtifactConfig
	Validate() error
	Reload() error
}

// ModelDescription summarizes the loaded artifacts for operators
type ModelDescription struct {
	ModelKind           ModelKind `json:"model_kind"`
	ModelVersion        string    `json:"model_version"`
	ModelPath           string    `json:"model_path"`
	PreprocessorVersion string    `json:"preprocessor_version"`
	InputFeatures       []string  `json:"input_features"`
	EncodedColumns      []string  `json:"encoded_columns"`
	Explainer           string    `json:"explainer"`
	RiskThreshold       float64   `json:"risk_threshold"`
	BackgroundRows      int       `json:"background_rows"`
}
