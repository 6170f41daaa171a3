package ml

import (
	"context"
	"errors"
	"testing"

	"dropout-risk/internal/features"
	"dropout-risk/internal/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubScaler struct {
	err   error
	panic bool
	seen  [][]float64
}

func (s *stubScaler) Transform(X [][]float64) ([][]float64, error) {
	if s.panic {
		panic("scaler exploded")
	}
	s.seen = X
	if s.err != nil {
		return nil, s.err
	}
	return X, nil
}

type stubClassifier struct {
	labels []int
	err    error
}

func (c *stubClassifier) Predict(X [][]float64) ([]int, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.labels, nil
}

type stubProbaClassifier struct {
	stubClassifier
	proba    [][]float64
	probaErr error
}

func (c *stubProbaClassifier) PredictProba(X [][]float64) ([][]float64, error) {
	if c.probaErr != nil {
		return nil, c.probaErr
	}
	return c.proba, nil
}

func defaultRow(t *testing.T) features.Row {
	t.Helper()
	row, err := features.NewEncoder(false).Encode(features.RawInput(schema.Fields.Defaults()))
	require.NoError(t, err)
	return row
}

func TestInvoker_LabelAndProbability(t *testing.T) {
	metrics := &MockMetrics{}
	scaler := &stubScaler{}
	clf := &stubProbaClassifier{
		stubClassifier: stubClassifier{labels: []int{0}},
		proba:          [][]float64{{0.88, 0.12}},
	}
	inv := NewInvoker(scaler, clf, metrics)
	row := defaultRow(t)

	out := inv.Predict(context.Background(), row)

	require.True(t, out.OK(), "unexpected failure: %v", out.Err)
	assert.Equal(t, LabelContinue, out.Label)
	require.NotNil(t, out.Probability)
	assert.InDelta(t, 0.12, *out.Probability, 1e-12)
	assert.Equal(t, [][]float64{row.Values}, scaler.seen)
	assert.True(t, inv.SupportsProbability())

	assert.Equal(t, 1, metrics.predictions)
	assert.Equal(t, 0, metrics.failures)
	assert.Equal(t, 1, metrics.labels[LabelContinue])
	assert.Equal(t, []float64{0.12}, metrics.predictionScores)
	assert.Equal(t, 1, metrics.latencyCount)
}

func TestInvoker_LabelOnlyClassifier(t *testing.T) {
	inv := NewInvoker(&stubScaler{}, &stubClassifier{labels: []int{1}}, nil)

	out := inv.Predict(context.Background(), defaultRow(t))

	require.True(t, out.OK())
	assert.Equal(t, LabelDropout, out.Label)
	assert.Nil(t, out.Probability)
	assert.False(t, inv.SupportsProbability())
}

func TestInvoker_Failures(t *testing.T) {
	testCases := []struct {
		name       string
		scaler     Scaler
		classifier Classifier
		wantErr    string
	}{
		{
			name:       "scaler error",
			scaler:     &stubScaler{err: errors.New("bad shape")},
			classifier: &stubClassifier{labels: []int{0}},
			wantErr:    "scaler transform failed: bad shape",
		},
		{
			name:       "scaler panic",
			scaler:     &stubScaler{panic: true},
			classifier: &stubClassifier{labels: []int{0}},
			wantErr:    "artifact panic: scaler exploded",
		},
		{
			name:       "classifier error",
			scaler:     &stubScaler{},
			classifier: &stubClassifier{err: errors.New("not fitted")},
			wantErr:    "classifier predict failed: not fitted",
		},
		{
			name:       "no labels",
			scaler:     &stubScaler{},
			classifier: &stubClassifier{labels: nil},
			wantErr:    "expected 1 label, got 0",
		},
		{
			name:       "label outside binary",
			scaler:     &stubScaler{},
			classifier: &stubClassifier{labels: []int{2}},
			wantErr:    "invalid label 2",
		},
		{
			name:   "probability error",
			scaler: &stubScaler{},
			classifier: &stubProbaClassifier{
				stubClassifier: stubClassifier{labels: []int{1}},
				probaErr:       errors.New("no proba"),
			},
			wantErr: "classifier predict_proba failed: no proba",
		},
		{
			name:   "probability out of range",
			scaler: &stubScaler{},
			classifier: &stubProbaClassifier{
				stubClassifier: stubClassifier{labels: []int{1}},
				proba:          [][]float64{{-0.5, 1.5}},
			},
			wantErr: "invalid probability",
		},
		{
			name:   "probability shape",
			scaler: &stubScaler{},
			classifier: &stubProbaClassifier{
				stubClassifier: stubClassifier{labels: []int{1}},
				proba:          [][]float64{{1}},
			},
			wantErr: "expected 1x2 probabilities",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			metrics := &MockMetrics{}
			inv := NewInvoker(tc.scaler, tc.classifier, metrics)

			out := inv.Predict(context.Background(), defaultRow(t))

			assert.False(t, out.OK())
			assert.Equal(t, StatusFailed, out.Status)
			require.Error(t, out.Err)
			assert.Contains(t, out.Err.Error(), tc.wantErr)
			assert.Nil(t, out.Probability)
			assert.Equal(t, 0, out.Label)
			assert.Equal(t, 1, metrics.failures)
			assert.Equal(t, 0, metrics.predictions)
		})
	}
}

func TestInvoker_RecoversForRetry(t *testing.T) {
	scaler := &stubScaler{err: errors.New("transient")}
	inv := NewInvoker(scaler, &stubClassifier{labels: []int{0}}, nil)
	row := defaultRow(t)

	first := inv.Predict(context.Background(), row)
	require.False(t, first.OK())

	scaler.err = nil
	second := inv.Predict(context.Background(), row)
	assert.True(t, second.OK())
}

func TestInvoker_CancelledContext(t *testing.T) {
	inv := NewInvoker(&stubScaler{}, &stubClassifier{labels: []int{0}}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := inv.Predict(ctx, defaultRow(t))
	assert.False(t, out.OK())
	assert.ErrorIs(t, out.Err, context.Canceled)
}

func TestInvoker_EmptyRow(t *testing.T) {
	inv := NewInvoker(&stubScaler{}, &stubClassifier{labels: []int{0}}, nil)
	out := inv.Predict(context.Background(), features.Row{})
	assert.False(t, out.OK())
}

func TestInvoker_NilSafety(t *testing.T) {
	var inv *Invoker

	out := inv.Predict(context.Background(), features.Row{Values: []float64{1}})
	assert.False(t, out.OK())
	assert.False(t, inv.SupportsProbability())
}

func TestInvoker_WithRealArtifacts(t *testing.T) {
	row := defaultRow(t)
	n := len(row.Values)

	coef := make([]float64, n)
	coef[12] = 4 // debtor
	clf, err := BuildClassifier(ClassifierArtifact{Kind: ClassifierLogistic, Coef: coef, Intercept: -1}, schema.Columns)
	require.NoError(t, err)

	inv := NewInvoker(IdentityScaler{}, clf, nil)

	out := inv.Predict(context.Background(), row)
	require.True(t, out.OK())
	assert.Equal(t, LabelContinue, out.Label)
	require.NotNil(t, out.Probability)
	assert.InDelta(t, sigmoid(-1), *out.Probability, 1e-12)

	row.Values[12] = 1
	out = inv.Predict(context.Background(), row)
	require.True(t, out.OK())
	assert.Equal(t, LabelDropout, out.Label)
	assert.InDelta(t, sigmoid(3), *out.Probability, 1e-12)
}

func TestNewInvokerFromArtifacts_SetsModelAge(t *testing.T) {
	dir := t.TempDir()
	modelPath, scalerPath := writeArtifacts(t, dir, logisticJSON(t), `{"kind":"identity"}`)

	a, err := Load(modelPath, scalerPath, "", schema.Columns)
	require.NoError(t, err)

	metrics := &MockMetrics{}
	inv := NewInvokerFromArtifacts(a, metrics)
	assert.True(t, inv.SupportsProbability())
	assert.GreaterOrEqual(t, metrics.modelAge, 0.0)
}
