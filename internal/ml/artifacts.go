package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

var ErrSchemaMismatch = errors.New("artifact schema mismatch")

// Scaler kinds
const (
	ScalerStandard = "standard"
	ScalerMinMax   = "minmax"
	ScalerIdentity = "identity"
)

// Classifier kinds
const (
	ClassifierLogistic  = "logistic_regression"
	ClassifierLinearSVC = "linear_svc"
	ClassifierConstant  = "constant"
)

// ScalerArtifact is the on-disk scaler document.
type ScalerArtifact struct {
	Kind         string    `json:"kind"`
	FeatureNames []string  `json:"feature_names,omitempty"`
	Mean         []float64 `json:"mean,omitempty"`
	Scale        []float64 `json:"scale,omitempty"`
	DataMin      []float64 `json:"data_min,omitempty"`
	DataMax      []float64 `json:"data_max,omitempty"`
}

// ClassifierArtifact is the on-disk classifier document.
type ClassifierArtifact struct {
	Kind         string    `json:"kind"`
	FeatureNames []string  `json:"feature_names,omitempty"`
	Coef         []float64 `json:"coef,omitempty"`
	Intercept    float64   `json:"intercept"`
	Label        int       `json:"label,omitempty"`
	Probability  *float64  `json:"probability,omitempty"`
}

// StandardScaler applies (x - mean) / scale per column.
type StandardScaler struct {
	Mean  []float64
	Scale []float64
}

func (s *StandardScaler) Transform(X [][]float64) ([][]float64, error) {
	return mapColumns(X, len(s.Mean), func(j int, v float64) float64 {
		return (v - s.Mean[j]) / s.Scale[j]
	})
}

// MinMaxScaler maps each column from [min, max] onto [0, 1].
type MinMaxScaler struct {
	Min []float64
	Max []float64
}

func (s *MinMaxScaler) Transform(X [][]float64) ([][]float64, error) {
	return mapColumns(X, len(s.Min), func(j int, v float64) float64 {
		span := s.Max[j] - s.Min[j]
		if span == 0 {
			return 0
		}
		return (v - s.Min[j]) / span
	})
}

// IdentityScaler returns its input unchanged.
type IdentityScaler struct{}

func (IdentityScaler) Transform(X [][]float64) ([][]float64, error) {
	out := make([][]float64, len(X))
	for i, row := range X {
		out[i] = append([]float64(nil), row...)
	}
	return out, nil
}

func mapColumns(X [][]float64, width int, fn func(j int, v float64) float64) ([][]float64, error) {
	out := make([][]float64, len(X))
	for i, row := range X {
		if len(row) != width {
			return nil, fmt.Errorf("expected %d features, got %d", width, len(row))
		}
		scaled := make([]float64, width)
		for j, v := range row {
			scaled[j] = fn(j, v)
		}
		out[i] = scaled
	}
	return out, nil
}

// LinearModel holds a fitted linear decision function w.x + b.
type LinearModel struct {
	Coef      []float64
	Intercept float64
}

func (m *LinearModel) decision(X [][]float64) ([]float64, error) {
	out := make([]float64, len(X))
	for i, row := range X {
		if len(row) != len(m.Coef) {
			return nil, fmt.Errorf("expected %d features, got %d", len(m.Coef), len(row))
		}
		sum := m.Intercept
		for j, v := range row {
			sum += m.Coef[j] * v
		}
		out[i] = sum
	}
	return out, nil
}

func (m *LinearModel) Predict(X [][]float64) ([]int, error) {
	scores, err := m.decision(X)
	if err != nil {
		return nil, err
	}
	labels := make([]int, len(scores))
	for i, s := range scores {
		if s > 0 {
			labels[i] = 1
		}
	}
	return labels, nil
}

// LogisticRegression is a binary linear model with sigmoid probabilities.
type LogisticRegression struct {
	LinearModel
}

func (m *LogisticRegression) PredictProba(X [][]float64) ([][]float64, error) {
	scores, err := m.decision(X)
	if err != nil {
		return nil, err
	}
	out := make([][]float64, len(scores))
	for i, s := range scores {
		p := sigmoid(s)
		out[i] = []float64{1 - p, p}
	}
	return out, nil
}

// LinearSVC only exposes labels; it has no probability estimates.
type LinearSVC struct {
	LinearModel
}

// ConstantClassifier always returns the same label, and a fixed class-1
// probability when one is configured.
type ConstantClassifier struct {
	Label int
}

func (c *ConstantClassifier) Predict(X [][]float64) ([]int, error) {
	out := make([]int, len(X))
	for i := range out {
		out[i] = c.Label
	}
	return out, nil
}

// ConstantProbabilityClassifier is a ConstantClassifier that also reports a probability.
type ConstantProbabilityClassifier struct {
	ConstantClassifier
	Probability float64
}

func (c *ConstantProbabilityClassifier) PredictProba(X [][]float64) ([][]float64, error) {
	out := make([][]float64, len(X))
	for i := range out {
		out[i] = []float64{1 - c.Probability, c.Probability}
	}
	return out, nil
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// BuildScaler validates a decoded scaler artifact against the expected column
// list and returns the matching implementation.
func BuildScaler(a ScalerArtifact, columns []string) (Scaler, error) {
	if err := checkFeatureNames(a.FeatureNames, columns); err != nil {
		return nil, err
	}

	n := len(columns)
	switch a.Kind {
	case ScalerStandard:
		if len(a.Mean) != n || len(a.Scale) != n {
			return nil, fmt.Errorf("%w: standard scaler has %d means and %d scales, want %d", ErrSchemaMismatch, len(a.Mean), len(a.Scale), n)
		}
		scale := make([]float64, n)
		for j, s := range a.Scale {
			// sklearn stores 1 for zero-variance columns; do the same for hand-written artifacts.
			if s == 0 {
				s = 1
			}
			scale[j] = s
		}
		return &StandardScaler{Mean: append([]float64(nil), a.Mean...), Scale: scale}, nil
	case ScalerMinMax:
		if len(a.DataMin) != n || len(a.DataMax) != n {
			return nil, fmt.Errorf("%w: minmax scaler has %d mins and %d maxs, want %d", ErrSchemaMismatch, len(a.DataMin), len(a.DataMax), n)
		}
		return &MinMaxScaler{Min: append([]float64(nil), a.DataMin...), Max: append([]float64(nil), a.DataMax...)}, nil
	case ScalerIdentity:
		return IdentityScaler{}, nil
	default:
		return nil, fmt.Errorf("unsupported scaler kind %q", a.Kind)
	}
}

// BuildClassifier validates a decoded classifier artifact against the
// expected column list and returns the matching implementation.
func BuildClassifier(a ClassifierArtifact, columns []string) (Classifier, error) {
	if err := checkFeatureNames(a.FeatureNames, columns); err != nil {
		return nil, err
	}

	switch a.Kind {
	case ClassifierLogistic, ClassifierLinearSVC:
		if len(a.Coef) != len(columns) {
			return nil, fmt.Errorf("%w: %s has %d coefficients, want %d", ErrSchemaMismatch, a.Kind, len(a.Coef), len(columns))
		}
		lm := LinearModel{Coef: append([]float64(nil), a.Coef...), Intercept: a.Intercept}
		if a.Kind == ClassifierLogistic {
			return &LogisticRegression{LinearModel: lm}, nil
		}
		return &LinearSVC{LinearModel: lm}, nil
	case ClassifierConstant:
		if a.Label != 0 && a.Label != 1 {
			return nil, fmt.Errorf("constant classifier label must be 0 or 1, got %d", a.Label)
		}
		if a.Probability == nil {
			return &ConstantClassifier{Label: a.Label}, nil
		}
		if *a.Probability < 0 || *a.Probability > 1 {
			return nil, fmt.Errorf("constant classifier probability %f outside [0, 1]", *a.Probability)
		}
		return &ConstantProbabilityClassifier{ConstantClassifier: ConstantClassifier{Label: a.Label}, Probability: *a.Probability}, nil
	default:
		return nil, fmt.Errorf("unsupported classifier kind %q", a.Kind)
	}
}

func checkFeatureNames(names, columns []string) error {
	if len(names) == 0 {
		return nil
	}
	if len(names) != len(columns) {
		return fmt.Errorf("%w: artifact has %d feature names, want %d", ErrSchemaMismatch, len(names), len(columns))
	}
	for i, n := range names {
		if n != columns[i] {
			return fmt.Errorf("%w: feature %d is %q, want %q", ErrSchemaMismatch, i, n, columns[i])
		}
	}
	return nil
}

func decodeArtifact(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode artifact: %w", err)
	}
	return nil
}
