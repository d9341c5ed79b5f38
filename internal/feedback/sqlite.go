package feedback

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore creates a new SQLite feedback store.
// It creates the database file and schema if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// createSchema creates the database tables and indexes.
func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS assessment_feedback (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		assessment_id TEXT NOT NULL,
		predicted_label TEXT NOT NULL,
		clinician_label TEXT NOT NULL,
		agrees INTEGER NOT NULL DEFAULT 0,
		probability REAL NOT NULL DEFAULT 0,
		model_version TEXT DEFAULT '',
		reviewer TEXT DEFAULT '',
		notes TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(assessment_id, reviewer)
	);

	CREATE INDEX IF NOT EXISTS idx_feedback_assessment ON assessment_feedback(assessment_id);
	CREATE INDEX IF NOT EXISTS idx_feedback_created_at ON assessment_feedback(created_at);
	`

	_, err := db.Exec(schema)
	return err
}

// Save stores or updates a review. The stored row is read back so ID and
// CreatedAt reflect the first review when this one replaces it.
func (s *SQLiteStore) Save(ctx context.Context, feedback *Feedback) error {
	if err := feedback.Validate(); err != nil {
		return fmt.Errorf("invalid feedback: %w", err)
	}
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO assessment_feedback (
			assessment_id, predicted_label, clinician_label, agrees,
			probability, model_version, reviewer, notes, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (assessment_id, reviewer) DO UPDATE SET
			predicted_label = excluded.predicted_label,
			clinician_label = excluded.clinician_label,
			agrees = excluded.agrees,
			probability = excluded.probability,
			model_version = excluded.model_version,
			notes = excluded.notes,
			updated_at = excluded.updated_at
	`,
		feedback.AssessmentID,
		string(feedback.PredictedLabel),
		string(feedback.ClinicianLabel),
		feedback.Agrees,
		feedback.Probability,
		feedback.ModelVersion,
		feedback.Reviewer,
		feedback.Notes,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to save feedback: %w", err)
	}

	stored, err := s.Get(ctx, feedback.AssessmentID, feedback.Reviewer)
	if err != nil {
		return err
	}
	if stored == nil {
		return errors.New("saved feedback could not be read back")
	}
	feedback.ID = stored.ID
	feedback.CreatedAt = stored.CreatedAt
	feedback.UpdatedAt = now
	return nil
}

// Get retrieves the review of an assessment by one reviewer.
func (s *SQLiteStore) Get(ctx context.Context, assessmentID string, reviewer string) (*Feedback, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+selectColumns+`
		FROM assessment_feedback
		WHERE assessment_id = ? AND reviewer = ?
		LIMIT 1
	`, assessmentID, reviewer)

	fb, err := scanFeedback(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan: %w", err)
	}
	return fb, nil
}

// ListByAssessment returns every review of an assessment, newest first.
func (s *SQLiteStore) ListByAssessment(ctx context.Context, assessmentID string) ([]*Feedback, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+selectColumns+`
		FROM assessment_feedback
		WHERE assessment_id = ?
		ORDER BY updated_at DESC, id DESC
	`, assessmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	return collect(rows)
}

// List returns all feedback entries with pagination.
func (s *SQLiteStore) List(ctx context.Context, limit, offset int) ([]*Feedback, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+selectColumns+`
		FROM assessment_feedback
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	return collect(rows)
}

func collect(rows *sql.Rows) ([]*Feedback, error) {
	defer rows.Close()

	var result []*Feedback
	for rows.Next() {
		fb, err := scanFeedback(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, fb)
	}
	return result, rows.Err()
}

// Count returns the total number of feedback entries.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM assessment_feedback").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count feedback: %w", err)
	}
	return count, nil
}

// Delete removes a feedback entry by ID.
func (s *SQLiteStore) Delete(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM assessment_feedback WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete feedback: %w", err)
	}
	return nil
}

// ExportJSON exports all feedback to a JSON writer.
func (s *SQLiteStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	return exportFeedback(ctx, s, writer)
}

// ImportJSON imports feedback from a JSON reader.
func (s *SQLiteStore) ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error) {
	return importFeedback(ctx, s, reader)
}

// Close closes the store and releases resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
