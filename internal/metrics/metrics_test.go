package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_IndependentRegistries(t *testing.T) {
	a := New()
	b := New()

	a.Assessments.WithLabelValues("ok").Inc()
	a.Assessments.WithLabelValues("ok").Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(a.Assessments.WithLabelValues("ok")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Assessments.WithLabelValues("ok")))
}

func TestHandler_ExposesCollectors(t *testing.T) {
	m := New()
	m.Predictions.WithLabelValues("High Risk", "neural_network").Inc()
	m.ValidationFailures.Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `cardio_predictions_total{model_kind="neural_network",risk_label="High Risk"} 1`)
	assert.Contains(t, string(body), "cardio_validation_failures_total 1")
}
