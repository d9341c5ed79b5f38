package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/cardiovision-risk-engine/internal/domain"
)

// ErrAssessmentNotFound is returned when no assessment has the requested ID
var ErrAssessmentNotFound = errors.New("assessment not found")

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// AssessmentRepository keeps an audit trail of finished risk assessments
type AssessmentRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewAssessmentRepository creates a new assessment repository
func NewAssessmentRepository(db *pgxpool.Pool, logger *logrus.Logger) *AssessmentRepository {
	return &AssessmentRepository{
		db:  db,
		log: logger,
	}
}

// Create inserts a finished assessment
func (r *AssessmentRepository) Create(ctx context.Context, result *domain.RiskResult) error {
	if _, err := uuid.Parse(result.ID); err != nil {
		return fmt.Errorf("invalid assessment id %q: %w", result.ID, err)
	}

	attributions, warnings, err := encodeDetails(result)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO assessments (
			id, risk_label, probability, threshold, model_kind, model_version,
			explanation_status, explanation_text, attributions, warnings,
			processing_time_ms, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)`

	_, err = r.db.Exec(ctx, query,
		result.ID,
		string(result.RiskLabel),
		result.Probability,
		result.Threshold,
		string(result.ModelKind),
		result.ModelVersion,
		string(result.ExplanationStatus),
		result.ExplanationText,
		attributions,
		warnings,
		result.ProcessingTimeMs,
		result.CreatedAt,
	)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"assessment_id": result.ID,
			"error":         err,
		}).Error("Failed to create assessment")
		return fmt.Errorf("creating assessment: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"assessment_id": result.ID,
		"risk_label":    result.RiskLabel,
		"status":        result.ExplanationStatus,
	}).Debug("Assessment recorded")

	return nil
}

// GetByID retrieves an assessment by its ID
func (r *AssessmentRepository) GetByID(ctx context.Context, id string) (*domain.RiskResult, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("assessment %q: %w", id, ErrAssessmentNotFound)
	}

	query := `
		SELECT ` + assessmentColumns + `
		FROM assessments
		WHERE id = $1`

	result, err := scanAssessment(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("assessment %s: %w", id, ErrAssessmentNotFound)
		}
		r.log.WithFields(logrus.Fields{
			"assessment_id": id,
			"error":         err,
		}).Error("Failed to get assessment by ID")
		return nil, fmt.Errorf("getting assessment by ID: %w", err)
	}
	return result, nil
}

// ListRecent returns the newest assessments first
func (r *AssessmentRepository) ListRecent(ctx context.Context, limit, offset int) ([]*domain.RiskResult, error) {
	limit = clampLimit(limit)
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT ` + assessmentColumns + `
		FROM assessments
		ORDER BY created_at DESC, id
		LIMIT $1 OFFSET $2`

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing assessments: %w", err)
	}
	defer rows.Close()

	var results []*domain.RiskResult
	for rows.Next() {
		result, err := scanAssessment(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning assessment: %w", err)
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating assessments: %w", err)
	}
	return results, nil
}

// SaveAssessment records a result. It satisfies the risk service recorder.
func (r *AssessmentRepository) SaveAssessment(ctx context.Context, result *domain.RiskResult) error {
	return r.Create(ctx, result)
}

// GetAssessment is GetByID under the domain repository name
func (r *AssessmentRepository) GetAssessment(ctx context.Context, id string) (*domain.RiskResult, error) {
	return r.GetByID(ctx, id)
}

// ListAssessments returns the newest assessments
func (r *AssessmentRepository) ListAssessments(ctx context.Context, limit int) ([]*domain.RiskResult, error) {
	return r.ListRecent(ctx, limit, 0)
}

const assessmentColumns = `id, risk_label, probability, threshold, model_kind, model_version,
			explanation_status, explanation_text, attributions, warnings,
			processing_time_ms, created_at`

func scanAssessment(row pgx.Row) (*domain.RiskResult, error) {
	var (
		result       domain.RiskResult
		label        string
		kind         string
		status       string
		attributions []byte
		warnings     []byte
	)

	err := row.Scan(
		&result.ID,
		&label,
		&result.Probability,
		&result.Threshold,
		&kind,
		&result.ModelVersion,
		&status,
		&result.ExplanationText,
		&attributions,
		&warnings,
		&result.ProcessingTimeMs,
		&result.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	result.RiskLabel = domain.RiskLabel(label)
	result.ModelKind = domain.ModelKind(kind)
	result.ExplanationStatus = domain.ExplanationStatus(status)
	result.CreatedAt = result.CreatedAt.UTC()

	if err := decodeDetails(&result, attributions, warnings); err != nil {
		return nil, err
	}
	return &result, nil
}

// encodeDetails renders the JSONB columns. A nil attribution set stays NULL.
func encodeDetails(result *domain.RiskResult) (attributions []byte, warnings []byte, err error) {
	if result.Attributions != nil {
		attributions, err = json.Marshal(result.Attributions)
		if err != nil {
			return nil, nil, fmt.Errorf("encoding attributions: %w", err)
		}
	}
	list := result.Warnings
	if list == nil {
		list = []string{}
	}
	warnings, err = json.Marshal(list)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding warnings: %w", err)
	}
	return attributions, warnings, nil
}

func decodeDetails(result *domain.RiskResult, attributions, warnings []byte) error {
	if len(attributions) > 0 && string(attributions) != "null" {
		var set domain.AttributionSet
		if err := json.Unmarshal(attributions, &set); err != nil {
			return fmt.Errorf("decoding attributions: %w", err)
		}
		result.Attributions = &set
	}
	if len(warnings) > 0 {
		if err := json.Unmarshal(warnings, &result.Warnings); err != nil {
			return fmt.Errorf("decoding warnings: %w", err)
		}
		if len(result.Warnings) == 0 {
			result.Warnings = nil
		}
	}
	return nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultListLimit
	case limit > maxListLimit:
		return maxListLimit
	default:
		return limit
	}
}
