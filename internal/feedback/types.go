// Package feedback stores clinician reviews of risk assessments.
// A reviewer either confirms the predicted label or records their own.
package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cardiovision-risk-engine/internal/domain"
)

// Feedback is one clinician's review of one assessment.
type Feedback struct {
	ID             int64            `json:"id,omitempty"`
	AssessmentID   string           `json:"assessment_id"`
	PredictedLabel domain.RiskLabel `json:"predicted_label"` // Label the model produced
	ClinicianLabel domain.RiskLabel `json:"clinician_label"` // Label the reviewer settled on
	Agrees         bool             `json:"agrees"`          // Derived: predicted == clinician
	Probability    float64          `json:"probability"`
	ModelVersion   string           `json:"model_version,omitempty"`
	Reviewer       string           `json:"reviewer,omitempty"`
	Notes          string           `json:"notes,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// Validate checks required fields and derives Agrees.
func (f *Feedback) Validate() error {
	if f.AssessmentID == "" {
		return errors.New("assessment_id is required")
	}
	if !f.PredictedLabel.IsValid() {
		return fmt.Errorf("invalid predicted label %q", f.PredictedLabel)
	}
	if !f.ClinicianLabel.IsValid() {
		return fmt.Errorf("invalid clinician label %q", f.ClinicianLabel)
	}
	if f.Probability < 0 || f.Probability > 1 {
		return fmt.Errorf("probability %v outside [0, 1]", f.Probability)
	}
	f.Agrees = f.PredictedLabel == f.ClinicianLabel
	return nil
}

// Store defines the interface for feedback storage operations.
type Store interface {
	// Save stores or updates a review.
	// A second review by the same reviewer of the same assessment replaces the first.
	Save(ctx context.Context, feedback *Feedback) error

	// Get retrieves the review of an assessment by one reviewer, or nil.
	Get(ctx context.Context, assessmentID string, reviewer string) (*Feedback, error)

	// ListByAssessment returns every review of an assessment, newest first.
	ListByAssessment(ctx context.Context, assessmentID string) ([]*Feedback, error)

	// List returns all feedback entries with pagination.
	List(ctx context.Context, limit, offset int) ([]*Feedback, error)

	// Count returns the total number of feedback entries.
	Count(ctx context.Context) (int64, error)

	// Delete removes a feedback entry by ID.
	Delete(ctx context.Context, id int64) error

	// ExportJSON exports all feedback to a JSON writer.
	ExportJSON(ctx context.Context, writer io.Writer) error

	// ImportJSON imports feedback from a JSON reader.
	// Returns the number of imported and skipped entries.
	ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error)

	// Close closes the store and releases resources.
	Close() error
}

// FeedbackExport represents the JSON export format.
type FeedbackExport struct {
	Version    string      `json:"version"`
	ExportedAt time.Time   `json:"exported_at"`
	Count      int         `json:"count"`
	Feedback   []*Feedback `json:"feedback"`
}

// exportVersion is written into every export
const exportVersion = "1.0"

// maxExportLimit is the maximum number of entries to export at once.
const maxExportLimit = 1000000

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanFeedback scans a row into a Feedback struct.
func scanFeedback(s scanner) (*Feedback, error) {
	fb := &Feedback{}
	var predicted, clinician string

	err := s.Scan(
		&fb.ID, &fb.AssessmentID, &predicted, &clinician, &fb.Agrees,
		&fb.Probability, &fb.ModelVersion, &fb.Reviewer, &fb.Notes,
		&fb.CreatedAt, &fb.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	fb.PredictedLabel = domain.RiskLabel(predicted)
	fb.ClinicianLabel = domain.RiskLabel(clinician)
	return fb, nil
}

// selectColumns is the column list scanFeedback expects
const selectColumns = `id, assessment_id, predicted_label, clinician_label, agrees,
			probability, model_version, reviewer, notes, created_at, updated_at`

// importFeedback is shared by both stores: entries whose assessment and
// reviewer already have a review are skipped.
func importFeedback(ctx context.Context, s Store, reader io.Reader) (imported int, skipped int, err error) {
	var export FeedbackExport
	if err := json.NewDecoder(reader).Decode(&export); err != nil {
		return 0, 0, fmt.Errorf("failed to decode JSON: %w", err)
	}

	for _, fb := range export.Feedback {
		existing, err := s.Get(ctx, fb.AssessmentID, fb.Reviewer)
		if err != nil {
			return imported, skipped, fmt.Errorf("failed to check existing: %w", err)
		}
		if existing != nil {
			skipped++
			continue
		}

		fb.ID = 0
		if err := s.Save(ctx, fb); err != nil {
			return imported, skipped, fmt.Errorf("failed to save: %w", err)
		}
		imported++
	}

	return imported, skipped, nil
}

// exportFeedback writes every entry of s as an indented FeedbackExport.
func exportFeedback(ctx context.Context, s Store, writer io.Writer) error {
	all, err := s.List(ctx, maxExportLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to list feedback: %w", err)
	}
	if all == nil {
		all = []*Feedback{}
	}

	export := &FeedbackExport{
		Version:    exportVersion,
		ExportedAt: time.Now(),
		Count:      len(all),
		Feedback:   all,
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}
