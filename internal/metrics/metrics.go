package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the risk pipeline
type Metrics struct {
	registry *prometheus.Registry

	// Pipeline outcomes
	Assessments        *prometheus.CounterVec
	Predictions        *prometheus.CounterVec
	ExplanationStatus  *prometheus.CounterVec
	ValidationFailures prometheus.Counter
	PipelineDuration   *prometheus.HistogramVec
	RiskProbability    prometheus.Histogram

	// HTTP surface
	HTTPRequests *prometheus.CounterVec
	RateLimited  prometheus.Counter
}

// New creates all collectors on a private registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Assessments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cardio_assessments_total",
				Help: "Risk calculations by outcome (ok, input_error, artifact_error, internal_error)",
			},
			[]string{"outcome"},
		),
		Predictions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cardio_predictions_total",
				Help: "Completed predictions per risk label and model kind",
			},
			[]string{"risk_label", "model_kind"},
		),
		ExplanationStatus: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cardio_explanations_total",
				Help: "Explanations per status (verified, degraded, unavailable)",
			},
			[]string{"status"},
		),
		ValidationFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "cardio_validation_failures_total",
			Help: "Patient records rejected before reaching the model",
		}),
		PipelineDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cardio_pipeline_stage_seconds",
				Help:    "Time spent per pipeline stage",
				Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
			},
			[]string{"stage"},
		),
		RiskProbability: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "cardio_risk_probability",
			Help:    "Distribution of predicted heart attack probabilities",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 9),
		}),
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cardio_http_requests_total",
				Help: "HTTP requests by route and status code",
			},
			[]string{"route", "code"},
		),
		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "cardio_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		}),
	}
}

// Registry exposes the underlying registry for gathering in tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
