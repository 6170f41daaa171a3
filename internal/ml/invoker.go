package ml

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"dropout-risk/internal/features"

	"github.com/rs/zerolog/log"
)

// MetricsInterface defines metrics methods needed by the invoker
type MetricsInterface interface {
	MLPredictionsInc()
	MLFailuresInc()
	MLLatencyObserve(float64)
	MLPredictionScoresObserve(float64)
	MLLabelInc(label int)
	MLModelAgeSet(float64)
}

// Label values produced by the classifier.
const (
	LabelContinue = 0
	LabelDropout  = 1
)

// Status tags an Outcome.
type Status int

const (
	StatusOK Status = iota
	StatusFailed
)

// Outcome is the explicit result of one prediction. A failed outcome carries
// no label and no probability.
type Outcome struct {
	Status      Status
	Label       int
	Probability *float64 // nil when the classifier has no probability support
	Err         error
	Latency     time.Duration
}

// OK reports whether the prediction succeeded.
func (o Outcome) OK() bool { return o.Status == StatusOK }

// Failed builds a failure outcome.
func Failed(err error) Outcome {
	return Outcome{Status: StatusFailed, Err: err}
}

// Invoker runs encoded rows through the scaler and then the classifier.
// It holds no mutable state beyond its injected dependencies.
type Invoker struct {
	scaler     Scaler
	classifier Classifier
	metrics    MetricsInterface
}

// NewInvoker wires an invoker to its artifacts. metrics may be nil.
func NewInvoker(scaler Scaler, classifier Classifier, metrics MetricsInterface) *Invoker {
	return &Invoker{
		scaler:     scaler,
		classifier: classifier,
		metrics:    metrics,
	}
}

// NewInvokerFromArtifacts wires an invoker to loaded artifacts and publishes their age.
func NewInvokerFromArtifacts(a *Artifacts, metrics MetricsInterface) *Invoker {
	if metrics != nil && !a.ModelCreated.IsZero() {
		metrics.MLModelAgeSet(time.Since(a.ModelCreated).Seconds())
	}
	return NewInvoker(a.Scaler, a.Classifier, metrics)
}

// SupportsProbability reports whether outcomes can carry a probability.
func (inv *Invoker) SupportsProbability() bool {
	if inv == nil {
		return false
	}
	_, ok := inv.classifier.(ProbabilityClassifier)
	return ok
}

// Predict scales the row, classifies it and, when supported, estimates the
// class-1 probability. Errors and panics raised by either artifact become a
// failed Outcome.
func (inv *Invoker) Predict(ctx context.Context, row features.Row) (out Outcome) {
	if inv == nil {
		return Failed(errors.New("invoker is nil"))
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			out = Failed(fmt.Errorf("artifact panic: %v", r))
		}
		out.Latency = time.Since(start)
		inv.record(out, row)
	}()

	select {
	case <-ctx.Done():
		return Failed(ctx.Err())
	default:
	}

	if len(row.Values) == 0 {
		return Failed(errors.New("empty feature row"))
	}

	scaled, err := inv.scaler.Transform([][]float64{row.Values})
	if err != nil {
		return Failed(fmt.Errorf("scaler transform failed: %w", err))
	}

	labels, err := inv.classifier.Predict(scaled)
	if err != nil {
		return Failed(fmt.Errorf("classifier predict failed: %w", err))
	}
	if len(labels) != 1 {
		return Failed(fmt.Errorf("expected 1 label, got %d", len(labels)))
	}
	label := labels[0]
	if label != LabelContinue && label != LabelDropout {
		return Failed(fmt.Errorf("invalid label %d", label))
	}

	out = Outcome{Status: StatusOK, Label: label}

	pc, ok := inv.classifier.(ProbabilityClassifier)
	if !ok {
		return out
	}

	proba, err := pc.PredictProba(scaled)
	if err != nil {
		return Failed(fmt.Errorf("classifier predict_proba failed: %w", err))
	}
	if len(proba) != 1 || len(proba[0]) < 2 {
		return Failed(fmt.Errorf("expected 1x2 probabilities, got %v", proba))
	}
	p := proba[0][1]
	if p < 0 || p > 1 || math.IsNaN(p) {
		return Failed(fmt.Errorf("invalid probability %f", p))
	}
	out.Probability = &p
	return out
}

func (inv *Invoker) record(out Outcome, row features.Row) {
	if out.OK() {
		ev := log.Debug().
			Int("label", out.Label).
			Dur("latency", out.Latency)
		if out.Probability != nil {
			ev = ev.Float64("probability", *out.Probability)
		}
		ev.Msg("prediction successful")
	} else {
		log.Error().
			Err(out.Err).
			Interface("features", row.Map()).
			Msg("prediction failed")
	}

	if inv.metrics == nil {
		return
	}
	inv.metrics.MLLatencyObserve(out.Latency.Seconds())
	if !out.OK() {
		inv.metrics.MLFailuresInc()
		return
	}
	inv.metrics.MLPredictionsInc()
	inv.metrics.MLLabelInc(out.Label)
	if out.Probability != nil {
		inv.metrics.MLPredictionScoresObserve(*out.Probability)
	}
}
