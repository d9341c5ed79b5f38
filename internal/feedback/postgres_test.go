package feedback

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardiovision-risk-engine/internal/domain"
)

var feedbackColumns = []string{
	"id", "assessment_id", "predicted_label", "clinician_label", "agrees",
	"probability", "model_version", "reviewer", "notes", "created_at", "updated_at",
}

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	mock.ExpectPing()

	store, err := NewPostgresStore(db)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
	})
	return store, mock
}

func TestNewPostgresStore(t *testing.T) {
	_, err := NewPostgresStore(nil)
	assert.Error(t, err)

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	_, err = NewPostgresStore(db)
	assert.ErrorContains(t, err, "failed to ping database")
}

func TestPostgresStore_Save(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO assessment_feedback")).
		WithArgs("a-1", "High Risk", "Low Risk", false, 0.64, "demo-2024.1", "dr.lee", "", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(7), created))

	fb := review("a-1", "dr.lee", domain.LowRisk)
	require.NoError(t, store.Save(context.Background(), fb))

	assert.Equal(t, int64(7), fb.ID)
	assert.Equal(t, created, fb.CreatedAt)
	assert.False(t, fb.UpdatedAt.IsZero())
	assert.False(t, fb.Agrees)
}

func TestPostgresStore_SaveRejectsInvalid(t *testing.T) {
	store, _ := newMockStore(t)

	err := store.Save(context.Background(), &Feedback{AssessmentID: "a-1", PredictedLabel: "Benign"})
	assert.ErrorContains(t, err, "invalid feedback")
}

func TestPostgresStore_Get(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM assessment_feedback")).
		WithArgs("a-1", "dr.lee").
		WillReturnRows(sqlmock.NewRows(feedbackColumns).
			AddRow(int64(3), "a-1", "High Risk", "High Risk", true, 0.64, "demo-2024.1", "dr.lee", "agree", now, now))

	fb, err := store.Get(context.Background(), "a-1", "dr.lee")
	require.NoError(t, err)
	require.NotNil(t, fb)
	assert.Equal(t, int64(3), fb.ID)
	assert.Equal(t, domain.HighRisk, fb.ClinicianLabel)
	assert.True(t, fb.Agrees)

	mock.ExpectQuery(regexp.QuoteMeta("FROM assessment_feedback")).
		WithArgs("a-2", "").
		WillReturnError(sql.ErrNoRows)

	fb, err = store.Get(context.Background(), "a-2", "")
	require.NoError(t, err)
	assert.Nil(t, fb)
}

func TestPostgresStore_ListByAssessment(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE assessment_id = $1")).
		WithArgs("a-1").
		WillReturnRows(sqlmock.NewRows(feedbackColumns).
			AddRow(int64(2), "a-1", "High Risk", "Low Risk", false, 0.64, "", "dr.patel", "", now, now).
			AddRow(int64(1), "a-1", "High Risk", "High Risk", true, 0.64, "", "dr.lee", "", now, now))

	list, err := store.ListByAssessment(context.Background(), "a-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "dr.patel", list[0].Reviewer)
	assert.Equal(t, domain.LowRisk, list[0].ClinicianLabel)
}

func TestPostgresStore_CountDeleteErrors(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM assessment_feedback")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(4)))
	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM assessment_feedback WHERE id = $1")).
		WithArgs(int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.Delete(ctx, 4))

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM assessment_feedback")).
		WithArgs(int64(5)).
		WillReturnError(errors.New("deadlock detected"))
	assert.ErrorContains(t, store.Delete(ctx, 5), "failed to delete feedback")

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC")).
		WithArgs(10, 0).
		WillReturnError(errors.New("relation does not exist"))
	_, err = store.List(ctx, 10, 0)
	assert.ErrorContains(t, err, "failed to list feedback")
}

func TestPostgresStore_ExportJSON(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC")).
		WithArgs(maxExportLimit, 0).
		WillReturnRows(sqlmock.NewRows(feedbackColumns).
			AddRow(int64(1), "a-1", "High Risk", "High Risk", true, 0.7, "", "dr.lee", "", now, now))

	var buf bytes.Buffer
	require.NoError(t, store.ExportJSON(context.Background(), &buf))
	assert.Contains(t, buf.String(), `"assessment_id": "a-1"`)
	assert.Contains(t, buf.String(), `"count": 1`)
}

// TestPostgresStore_Live runs against a real database when TEST_DATABASE_URL is set.
func TestPostgresStore_Live(t *testing.T) {
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping PostgreSQL tests")
	}

	db, err := sql.Open("postgres", dbURL)
	require.NoError(t, err)
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS assessment_feedback (
			id BIGSERIAL PRIMARY KEY,
			assessment_id TEXT NOT NULL,
			predicted_label TEXT NOT NULL,
			clinician_label TEXT NOT NULL,
			agrees BOOLEAN NOT NULL DEFAULT FALSE,
			probability DOUBLE PRECISION NOT NULL DEFAULT 0,
			model_version TEXT NOT NULL DEFAULT '',
			reviewer TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			CONSTRAINT assessment_feedback_assessment_reviewer_unique UNIQUE (assessment_id, reviewer)
		)
	`)
	require.NoError(t, err)
	_, err = db.Exec("DELETE FROM assessment_feedback")
	require.NoError(t, err)

	store, err := NewPostgresStore(db)
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	fb := review("a-1", "dr.lee", domain.HighRisk)
	require.NoError(t, store.Save(ctx, fb))
	firstID := fb.ID

	fb.ClinicianLabel = domain.LowRisk
	require.NoError(t, store.Save(ctx, fb))
	assert.Equal(t, firstID, fb.ID)

	got, err := store.Get(ctx, "a-1", "dr.lee")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.Agrees)
}
