package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// APIError represents a standardized error response
type APIError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes for different failure scenarios
const (
	ErrInvalidInput         = "INVALID_INPUT"
	ErrValidation           = "VALIDATION_ERROR"
	ErrTransform            = "TRANSFORM_ERROR"
	ErrModelNotFound        = "MODEL_NOT_FOUND"
	ErrArtifact             = "ARTIFACT_ERROR"
	ErrExplainerUnavailable = "EXPLAINER_UNAVAILABLE"
	ErrNotFound             = "NOT_FOUND"
	ErrDatabaseError        = "DATABASE_ERROR"
	ErrRateLimit            = "RATE_LIMIT_EXCEEDED"
	ErrTimeout              = "REQUEST_TIMEOUT"
	ErrInternalServer       = "INTERNAL_SERVER_ERROR"
)

// NewAPIError creates a new APIError with timestamp
func NewAPIError(code, message, details, requestID string) *APIError {
	return &APIError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

// ErrorCategory groups errors by who can fix them
type ErrorCategory string

const (
	CategoryInput          ErrorCategory = "input"
	CategoryArtifact       ErrorCategory = "artifact"
	CategoryExplainability ErrorCategory = "explainability"
	CategoryInternal       ErrorCategory = "internal"
)

// FieldViolation describes one malformed field
type FieldViolation struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

// ValidationError lists every missing or malformed patient field at once
type ValidationError struct {
	Missing []string         `json:"missing,omitempty"`
	Invalid []FieldViolation `json:"invalid,omitempty"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "Missing required fields: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		details := make([]string, 0, len(e.Invalid))
		for _, v := range e.Invalid {
			details = append(details, fmt.Sprintf("%s (%s)", v.Field, v.Message))
		}
		parts = append(parts, "Invalid fields: "+strings.Join(details, ", "))
	}
	if len(parts) == 0 {
		return "validation error"
	}
	return strings.Join(parts, "; ")
}

// HasViolations reports whether anything was collected
func (e *ValidationError) HasViolations() bool {
	return len(e.Missing) > 0 || len(e.Invalid) > 0
}

// AddMissing records an absent or null field
func (e *ValidationError) AddMissing(field string) {
	e.Missing = append(e.Missing, field)
}

// AddInvalid records a malformed field
func (e *ValidationError) AddInvalid(field, message string, value interface{}) {
	e.Invalid = append(e.Invalid, FieldViolation{Field: field, Message: message, Value: value})
}

// NewValidationError creates a ValidationError for the given missing fields
func NewValidationError(missing ...string) *ValidationError {
	return &ValidationError{Missing: missing}
}

// TransformError reports schema drift between a feature vector and the fitted transform
type TransformError struct {
	Reason     string   `json:"reason"`
	Feature    string   `json:"feature,omitempty"`
	Missing    []string `json:"missing,omitempty"`
	Unexpected []string `json:"unexpected,omitempty"`
}

// Error implements the error interface
func (e *TransformError) Error() string {
	var b strings.Builder
	b.WriteString("transform error: ")
	b.WriteString(e.Reason)
	if e.Feature != "" {
		fmt.Fprintf(&b, " (feature %s)", e.Feature)
	}
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, "; missing: %s", strings.Join(e.Missing, ", "))
	}
	if len(e.Unexpected) > 0 {
		fmt.Fprintf(&b, "; unexpected: %s", strings.Join(e.Unexpected, ", "))
	}
	return b.String()
}

// ModelNotFoundError is returned when no model artifact exists at a base path
type ModelNotFoundError struct {
	BasePath string   `json:"base_path"`
	Tried    []string `json:"tried"`
}

// Error implements the error interface
func (e *ModelNotFoundError) Error() string {
	return fmt.Sprintf("no model artifact found at %s (tried %s)", e.BasePath, strings.Join(e.Tried, ", "))
}

// ArtifactError wraps a corrupt or incompatible deployment artifact
type ArtifactError struct {
	Artifact string `json:"artifact"`
	Path     string `json:"path,omitempty"`
	Err      error  `json:"-"`
}

// Error implements the error interface
func (e *ArtifactError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("invalid %s artifact %s: %v", e.Artifact, e.Path, e.Err)
	}
	return fmt.Sprintf("invalid %s artifact: %v", e.Artifact, e.Err)
}

// Unwrap returns the underlying cause
func (e *ArtifactError) Unwrap() error {
	return e.Err
}

// NewArtifactError creates a new ArtifactError
func NewArtifactError(artifact, path string, err error) *ArtifactError {
	return &ArtifactError{Artifact: artifact, Path: path, Err: err}
}

// ExplainerUnavailableError is returned when a model family has no matching explainer
type ExplainerUnavailableError struct {
	ModelKind string `json:"model_kind"`
}

// Error implements the error interface
func (e *ExplainerUnavailableError) Error() string {
	return fmt.Sprintf("no explainer available for model kind %q", e.ModelKind)
}

// CategoryOf classifies an error for transports and metrics
func CategoryOf(err error) ErrorCategory {
	var (
		validationErr *ValidationError
		transformErr  *TransformError
		notFoundErr   *ModelNotFoundError
		artifactErr   *ArtifactError
		explainerErr  *ExplainerUnavailableError
	)
	switch {
	case errors.As(err, &validationErr):
		return CategoryInput
	case errors.As(err, &transformErr), errors.As(err, &notFoundErr), errors.As(err, &artifactErr):
		return CategoryArtifact
	case errors.As(err, &explainerErr):
		return CategoryExplainability
	default:
		return CategoryInternal
	}
}

// CodeOf returns the API error code for an error
func CodeOf(err error) string {
	var (
		validationErr *ValidationError
		transformErr  *TransformError
		notFoundErr   *ModelNotFoundError
		explainerErr  *ExplainerUnavailableError
	)
	switch {
	case errors.As(err, &validationErr):
		return ErrValidation
	case errors.As(err, &transformErr):
		return ErrTransform
	case errors.As(err, &notFoundErr):
		return ErrModelNotFound
	case errors.As(err, &explainerErr):
		return ErrExplainerUnavailable
	case CategoryOf(err) == CategoryArtifact:
		return ErrArtifact
	default:
		return ErrInternalServer
	}
}
