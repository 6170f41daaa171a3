package metrics

import "github.com/prometheus/client_golang/prometheus"

// Interfaces for metrics to avoid circular imports
type MetricsCounter interface {
	Inc()
}

// MetricsWrapper adapts Metrics to the interface the prediction invoker records through.
type MetricsWrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *MetricsWrapper {
	return &MetricsWrapper{m: m}
}

func (w *MetricsWrapper) MLPredictionsInc() {
	w.m.MLPredictions.Inc()
}

func (w *MetricsWrapper) MLFailuresInc() {
	w.m.MLFailures.Inc()
}

func (w *MetricsWrapper) MLLatencyObserve(v float64) {
	w.m.MLLatency.Observe(v)
}

func (w *MetricsWrapper) MLPredictionScoresObserve(v float64) {
	w.m.MLPredictionScores.Observe(v)
}

func (w *MetricsWrapper) MLLabelInc(label int) {
	w.m.MLLabels.WithLabelValues(LabelName(label)).Inc()
}

func (w *MetricsWrapper) MLModelAgeSet(v float64) {
	w.m.MLModelAge.Set(v)
}

func (w *MetricsWrapper) EncodeErrors() MetricsCounter {
	return &CounterWrapper{w.m.EncodeErrors}
}

func (w *MetricsWrapper) HistoryWriteErrors() MetricsCounter {
	return &CounterWrapper{w.m.HistoryWriteErrors}
}

// FilledColumnsAdd counts columns that were zero-filled for one submission.
func (w *MetricsWrapper) FilledColumnsAdd(n int) {
	if n > 0 {
		w.m.FilledColumns.Add(float64(n))
	}
}

// FeatureDriftSet publishes the current drift of one column.
func (w *MetricsWrapper) FeatureDriftSet(feature string, shift float64) {
	w.m.FeatureDrift.WithLabelValues(feature).Set(shift)
}

type CounterWrapper struct {
	c prometheus.Counter
}

func (cw *CounterWrapper) Inc() {
	cw.c.Inc()
}
