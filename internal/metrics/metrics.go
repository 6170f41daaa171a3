// Package metrics provides Prometheus metrics collection for the dropout-risk service.
// It defines the prediction, encoding and HTTP metrics exposed on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Prediction metrics
	MLPredictions      prometheus.Counter     // Total number of successful predictions
	MLFailures         prometheus.Counter     // Total number of failed predictions
	MLLabels           *prometheus.CounterVec // Predicted labels, by outcome
	MLModelAge         prometheus.Gauge       // Age of the loaded classifier artifact in seconds
	MLLatency          prometheus.Histogram   // Scaler plus classifier latency in seconds
	MLPredictionScores prometheus.Histogram   // Distribution of dropout probabilities

	// Input metrics
	EncodeErrors  prometheus.Counter   // Rejected form or API submissions
	FilledColumns prometheus.Counter   // Schema columns zero-filled because the input lacked them
	FeatureDrift  *prometheus.GaugeVec // Mean shift of recent inputs, in training standard deviations

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec   // Requests by route and status code
	HTTPDuration *prometheus.HistogramVec // Request duration by route

	// Storage metrics
	HistoryWriteErrors prometheus.Counter // Failed prediction history writes
}

// New creates and registers all Prometheus metrics using the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		MLPredictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "dropout_predictions_total",
			Help: "Total number of successful predictions",
		}),
		MLFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "dropout_prediction_failures_total",
			Help: "Total number of failed predictions",
		}),
		MLLabels: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dropout_predicted_labels_total",
			Help: "Predicted labels by outcome",
		}, []string{"outcome"}),
		MLModelAge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dropout_model_age_seconds",
			Help: "Age of the loaded classifier artifact in seconds",
		}),
		MLLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dropout_prediction_latency_seconds",
			Help:    "Scaler and classifier latency in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
		MLPredictionScores: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dropout_probability",
			Help:    "Distribution of predicted dropout probabilities",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		EncodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "dropout_encode_errors_total",
			Help: "Total number of rejected submissions",
		}),
		FilledColumns: factory.NewCounter(prometheus.CounterOpts{
			Name: "dropout_filled_columns_total",
			Help: "Total number of schema columns zero-filled because the input lacked them",
		}),
		FeatureDrift: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dropout_feature_drift",
			Help: "Shift of the recent input mean from the training mean, in standard deviations",
		}, []string{"feature"}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dropout_http_requests_total",
			Help: "HTTP requests by route and status code",
		}, []string{"route", "code"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dropout_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		HistoryWriteErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "dropout_history_write_errors_total",
			Help: "Total number of failed prediction history writes",
		}),
	}
}

// LabelName returns the outcome label value used for a predicted class.
func LabelName(label int) string {
	switch label {
	case 0:
		return "continue"
	case 1:
		return "dropout"
	default:
		return "other"
	}
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(route string, code int, d time.Duration) {
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(d.Seconds())
}

// FailureRate returns failures / (predictions + failures), or 0 before any prediction.
func (m *Metrics) FailureRate() float64 {
	ok := counterValue(m.MLPredictions)
	failed := counterValue(m.MLFailures)
	if ok+failed == 0 {
		return 0
	}
	return failed / (ok + failed)
}

func counterValue(c prometheus.Counter) float64 {
	var pb dto.Metric
	if err := c.Write(&pb); err != nil || pb.Counter == nil {
		return 0
	}
	return pb.Counter.GetValue()
}
