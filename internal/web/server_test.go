package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"dropout-risk/internal/features"
	"dropout-risk/internal/metrics"
	"dropout-risk/internal/ml"
	"dropout-risk/internal/sample"
	"dropout-risk/internal/schema"
	"dropout-risk/internal/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyScaler struct {
	err error
}

func (s *flakyScaler) Transform(X [][]float64) ([][]float64, error) {
	if s.err != nil {
		return nil, s.err
	}
	return X, nil
}

type testEnv struct {
	server   *Server
	metrics  *metrics.Metrics
	registry *prometheus.Registry
	history  *storage.Store
}

type envOptions struct {
	scaler     ml.Scaler
	classifier ml.Classifier
	strict     bool
	history    bool
	retain     int
	drift      *ml.DriftMonitor
}

func constantClassifier(t *testing.T, label int, p *float64) ml.Classifier {
	t.Helper()
	c, err := ml.BuildClassifier(ml.ClassifierArtifact{Kind: ml.ClassifierConstant, Label: label, Probability: p}, schema.Columns)
	require.NoError(t, err)
	return c
}

func newTestEnv(t *testing.T, o envOptions) *testEnv {
	t.Helper()
	if o.scaler == nil {
		o.scaler = ml.IdentityScaler{}
	}
	if o.classifier == nil {
		p := 0.12
		o.classifier = constantClassifier(t, ml.LabelContinue, &p)
	}

	registry := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(registry)
	env := &testEnv{metrics: m, registry: registry}

	opts := Options{
		Addr:     "127.0.0.1:0",
		Invoker:  ml.NewInvoker(o.scaler, o.classifier, metrics.NewWrapper(m)),
		Encoder:  features.NewEncoder(o.strict),
		Metrics:  m,
		Gatherer: registry,
		Artifacts: &ml.Artifacts{
			ModelPath:  "model/best_model.json",
			ScalerPath: "model/scaler.json",
			Metadata:   &ml.ModelMetadata{Version: "test-v1", Accuracy: 0.87},
			Classifier: o.classifier,
			Scaler:     o.scaler,
		},
	}
	opts.Drift = o.drift
	opts.HistoryRetain = o.retain
	if o.history {
		store, err := storage.New(t.TempDir())
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		env.history = store
		opts.History = store
	}

	s, err := NewServer(opts)
	require.NoError(t, err)
	env.server = s
	return env
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rr, req)
	return rr
}

func defaultForm() url.Values {
	form := url.Values{}
	for k, v := range schema.Fields.Defaults() {
		form.Set(k, v)
	}
	return form
}

func postForm(form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func postJSON(t *testing.T, body any) *http.Request {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/predict", bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	_, err := NewServer(Options{Encoder: features.NewEncoder(false)})
	assert.Error(t, err)

	_, err = NewServer(Options{Invoker: ml.NewInvoker(ml.IdentityScaler{}, nil, nil)})
	assert.Error(t, err)
}

func TestFormPage(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rr := env.do(t, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/html")

	body := rr.Body.String()
	assert.Contains(t, body, "Student Dropout Risk Prediction")
	assert.Contains(t, body, "Enter student details to estimate dropout likelihood.")
	assert.Contains(t, body, "Predict Dropout Risk")
	assert.Contains(t, body, "Mother&#39;s Qualification")
	assert.Contains(t, body, `name="age_at_enrollment" min="15" max="60" step="1" value="20"`)
	assert.Contains(t, body, `name="curricular_units_1st_sem_grade" min="0" max="20" step="0.01" value="12.0"`)
	assert.Contains(t, body, `<option value="Male" selected>Male</option>`)
	assert.NotContains(t, body, `id="result"`)

	for _, f := range schema.Fields {
		assert.Contains(t, body, `name="`+f.Name+`"`, f.Name)
	}
}

func TestFormPredict_Continue(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rr := env.do(t, postForm(defaultForm()))
	require.Equal(t, http.StatusOK, rr.Code)

	body := rr.Body.String()
	assert.Contains(t, body, `class="result success"`)
	assert.Contains(t, body, "Prediction: Student is likely to CONTINUE.")
	assert.Contains(t, body, "Dropout probability: 0.12")
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.MLPredictions))
}

func TestFormPredict_DropoutWithoutProbability(t *testing.T) {
	env := newTestEnv(t, envOptions{classifier: constantClassifier(t, ml.LabelDropout, nil)})

	rr := env.do(t, postForm(defaultForm()))
	require.Equal(t, http.StatusOK, rr.Code)

	body := rr.Body.String()
	assert.Contains(t, body, `class="result error"`)
	assert.Contains(t, body, "Prediction: Student is likely to DROP OUT.")
	assert.NotContains(t, body, "Dropout probability")
}

func TestFormPredict_StickyValues(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	form := defaultForm()
	form.Set("age_at_enrollment", "33")
	form.Set("gender", "Female")
	form.Set("debtor", "Yes")

	body := env.do(t, postForm(form)).Body.String()
	assert.Contains(t, body, `name="age_at_enrollment" min="15" max="60" step="1" value="33"`)
	assert.Contains(t, body, `<option value="Female" selected>Female</option>`)
	assert.Contains(t, body, `<option value="Male">Male</option>`)
	assert.Contains(t, body, `<option value="Yes" selected>Yes</option>`)
}

func TestFormPredict_ErrorKeepsFormUsable(t *testing.T) {
	scaler := &flakyScaler{err: errors.New("scaler not fitted")}
	env := newTestEnv(t, envOptions{scaler: scaler})

	rr := env.do(t, postForm(defaultForm()))
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "Error during prediction: scaler transform failed: scaler not fitted")
	assert.Contains(t, body, "Predict Dropout Risk")
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.MLFailures))

	scaler.err = nil
	rr = env.do(t, postForm(defaultForm()))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Prediction: Student is likely to CONTINUE.")
}

func TestFormPredict_InvalidInput(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	form := defaultForm()
	form.Set("age_at_enrollment", "abc")

	body := env.do(t, postForm(form)).Body.String()
	assert.Contains(t, body, "Error during prediction: invalid input:")
	assert.Contains(t, body, `value="abc"`)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.EncodeErrors))
}

func TestFormPredict_MissingFieldsAreZeroFilled(t *testing.T) {
	env := newTestEnv(t, envOptions{history: true})

	form := defaultForm()
	form.Del("course_id")
	form.Del("international")

	body := env.do(t, postForm(form)).Body.String()
	assert.Contains(t, body, "likely to CONTINUE")
	assert.Equal(t, 2.0, testutil.ToFloat64(env.metrics.FilledColumns))

	recent, err := env.history.Recent(1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.ElementsMatch(t, []string{"international", "course_id"}, recent[0].Filled)
	assert.Equal(t, 0.0, recent[0].Features["course_id"])
	assert.Equal(t, "form", recent[0].Source)
}

func TestFormPredict_StrictRejectsMissing(t *testing.T) {
	env := newTestEnv(t, envOptions{strict: true})

	form := defaultForm()
	form.Del("course_id")

	body := env.do(t, postForm(form)).Body.String()
	assert.Contains(t, body, "Error during prediction: invalid input: missing schema column: course_id")
}

func TestAPIPredict(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	feats := map[string]any{}
	for k, v := range schema.Fields.Defaults() {
		feats[k] = v
	}
	feats["age_at_enrollment"] = 25
	feats["curricular_units_1st_sem_grade"] = 13.5

	rr := env.do(t, postJSON(t, PredictRequest{Features: feats, RequestID: "req-1"}))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp PredictResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, ml.LabelContinue, resp.Label)
	assert.Equal(t, "continue", resp.Outcome)
	require.NotNil(t, resp.Probability)
	assert.InDelta(t, 0.12, *resp.Probability, 1e-12)
	assert.Equal(t, "Prediction: Student is likely to CONTINUE.", resp.Message)
	assert.Equal(t, "Dropout probability: 0.12", resp.View.Probability)
	assert.Equal(t, "req-1", resp.RequestID)
	assert.NotEmpty(t, rr.Header().Get(requestIDHeader))
	assert.Equal(t, "test-v1", resp.ModelVersion)
	assert.Empty(t, resp.Filled)
}

func TestAPIPredict_Errors(t *testing.T) {
	testCases := []struct {
		name     string
		body     string
		scaler   ml.Scaler
		status   int
		contains string
	}{
		{name: "malformed json", body: `{"features":`, status: http.StatusBadRequest, contains: "invalid request"},
		{name: "no features", body: `{}`, status: http.StatusBadRequest, contains: "features cannot be empty"},
		{name: "unknown label", body: `{"features":{"gender":"Other"}}`, status: http.StatusUnprocessableEntity, contains: "unknown categorical label"},
		{name: "out of range", body: `{"features":{"age_at_enrollment":99}}`, status: http.StatusUnprocessableEntity, contains: "value out of range"},
		{name: "unsupported type", body: `{"features":{"debtor":true}}`, status: http.StatusUnprocessableEntity, contains: "unsupported type"},
		{name: "artifact failure", body: `{"features":{}}`, scaler: &flakyScaler{err: errors.New("boom")}, status: http.StatusUnprocessableEntity, contains: "scaler transform failed: boom"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, envOptions{scaler: tc.scaler})

			req := httptest.NewRequest(http.MethodPost, "/api/predict", strings.NewReader(tc.body))
			rr := env.do(t, req)
			require.Equal(t, tc.status, rr.Code)

			var resp ErrorResponse
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
			assert.Contains(t, resp.Error, tc.contains)
		})
	}
}

func TestSchemaEndpoint(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rr := env.do(t, httptest.NewRequest(http.MethodGet, "/api/schema", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp schemaResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, schema.Columns, resp.Columns)
	require.Len(t, resp.Fields, len(schema.Fields))

	gender := resp.Fields[14]
	assert.Equal(t, "gender", gender.Name)
	assert.Equal(t, "categorical", gender.Kind)
	assert.Equal(t, []string{"Male", "Female"}, gender.Options)
	assert.Nil(t, gender.Min)

	age := resp.Fields[16]
	assert.Equal(t, "age_at_enrollment", age.Name)
	require.NotNil(t, age.Max)
	assert.Equal(t, 60.0, *age.Max)
	assert.Equal(t, "20", age.Default)
}

func TestHistoryEndpoint(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		env := newTestEnv(t, envOptions{})
		rr := env.do(t, httptest.NewRequest(http.MethodGet, "/api/history", nil))
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("enabled", func(t *testing.T) {
		env := newTestEnv(t, envOptions{history: true})
		for i := 0; i < 3; i++ {
			env.do(t, postForm(defaultForm()))
		}

		rr := env.do(t, httptest.NewRequest(http.MethodGet, "/api/history?limit=2", nil))
		require.Equal(t, http.StatusOK, rr.Code)

		var resp struct {
			Count       int                        `json:"count"`
			Predictions []storage.PredictionRecord `json:"predictions"`
		}
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.Equal(t, 2, resp.Count)
		require.Len(t, resp.Predictions, 2)
		assert.Equal(t, uint64(3), resp.Predictions[0].ID)
		assert.Equal(t, "test-v1", resp.Predictions[0].ModelVersion)
		require.NotNil(t, resp.Predictions[0].Label)
		assert.Equal(t, 0, *resp.Predictions[0].Label)
	})

	t.Run("bad query", func(t *testing.T) {
		env := newTestEnv(t, envOptions{history: true})
		for _, q := range []string{
			"limit=-1",
			"since=yesterday",
			"until=2024-13-01T00:00:00Z",
			"since=2024-02-01T00:00:00Z&until=2024-01-01T00:00:00Z",
		} {
			rr := env.do(t, httptest.NewRequest(http.MethodGet, "/api/history?"+q, nil))
			assert.Equal(t, http.StatusBadRequest, rr.Code, q)
		}
	})

	t.Run("time range", func(t *testing.T) {
		env := newTestEnv(t, envOptions{history: true})
		old := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
		for i := 0; i < 3; i++ {
			_, err := env.history.Record(storage.PredictionRecord{Timestamp: old.Add(time.Duration(i) * time.Hour), Source: "api"})
			require.NoError(t, err)
		}
		_, err := env.history.Record(storage.PredictionRecord{Timestamp: old.Add(2 * time.Hour), Error: "invalid input"})
		require.NoError(t, err)
		env.do(t, postForm(defaultForm()))

		rr := env.do(t, httptest.NewRequest(http.MethodGet,
			"/api/history?since=2024-01-10T13:00:00Z&until=2024-01-10T15:00:00Z", nil))
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		var resp struct {
			Count       int                        `json:"count"`
			Failed      int                        `json:"failed"`
			Total       int                        `json:"total"`
			Predictions []storage.PredictionRecord `json:"predictions"`
		}
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.Equal(t, 3, resp.Count)
		assert.Equal(t, 3, resp.Failed, "records without a label count as failed")
		assert.Equal(t, 5, resp.Total)
		require.Len(t, resp.Predictions, 3)
		assert.Equal(t, uint64(4), resp.Predictions[0].ID, "newest first")
		assert.Equal(t, uint64(2), resp.Predictions[2].ID)

		rr = env.do(t, httptest.NewRequest(http.MethodGet, "/api/history?since=2024-01-10T13:00:00Z&limit=1", nil))
		require.Equal(t, http.StatusOK, rr.Code)
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		require.Len(t, resp.Predictions, 1)
		assert.Equal(t, uint64(5), resp.Predictions[0].ID)
		assert.Equal(t, 0, resp.Failed)
	})

	t.Run("retention", func(t *testing.T) {
		env := newTestEnv(t, envOptions{history: true, retain: 5})
		for i := 0; i < 8; i++ {
			rr := env.do(t, postForm(defaultForm()))
			require.Equal(t, http.StatusOK, rr.Code)
		}

		n, err := env.history.Count()
		require.NoError(t, err)
		assert.Equal(t, 5, n)

		records, err := env.history.Recent(10)
		require.NoError(t, err)
		require.Len(t, records, 5)
		assert.Equal(t, uint64(8), records[0].ID)
		assert.Equal(t, uint64(4), records[4].ID)
	})
}

func TestDriftEndpoint(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		env := newTestEnv(t, envOptions{})
		rr := env.do(t, httptest.NewRequest(http.MethodGet, "/api/drift", nil))
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("enabled", func(t *testing.T) {
		n := len(schema.Columns)
		mean := make([]float64, n)
		scale := make([]float64, n)
		for i := range scale {
			scale[i] = 1
		}
		scaler, err := ml.BuildScaler(ml.ScalerArtifact{Kind: ml.ScalerStandard, Mean: mean, Scale: scale}, schema.Columns)
		require.NoError(t, err)

		dm := ml.NewDriftMonitor(schema.Columns, scaler, ml.DriftConfig{MinSamples: 2})
		env := newTestEnv(t, envOptions{scaler: scaler, drift: dm})

		env.do(t, postForm(defaultForm()))
		env.do(t, postForm(defaultForm()))

		rr := env.do(t, httptest.NewRequest(http.MethodGet, "/api/drift", nil))
		require.Equal(t, http.StatusOK, rr.Code)

		var report ml.DriftReport
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&report))
		assert.Equal(t, 2, report.Samples)
		assert.True(t, report.Ready)
		assert.Contains(t, report.Drifted, "age_at_enrollment")
		assert.NotContains(t, report.Drifted, "debtor")

		gauge := env.metrics.FeatureDrift.WithLabelValues("age_at_enrollment")
		assert.InDelta(t, 20.0, testutil.ToFloat64(gauge), 1e-9)
	})

	t.Run("partial inputs do not drift", func(t *testing.T) {
		sa, _, _ := sample.Build(sample.DefaultOptions())
		scaler, err := ml.BuildScaler(sa, schema.Columns)
		require.NoError(t, err)

		dm := ml.NewDriftMonitor(schema.Columns, scaler, ml.DriftConfig{})
		env := newTestEnv(t, envOptions{scaler: scaler, drift: dm})

		for i := 0; i < 30; i++ {
			debtor := "No"
			if i%2 == 1 {
				debtor = "Yes"
			}
			rr := env.do(t, postJSON(t, PredictRequest{Features: map[string]any{"debtor": debtor}}))
			require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		}

		report := dm.Report()
		assert.Equal(t, 30, report.Samples)
		assert.True(t, report.Ready)
		assert.Empty(t, report.Drifted)
		for _, f := range report.Features {
			if f.Name != "debtor" {
				assert.Equal(t, 0, f.Samples, f.Name)
			}
		}
	})
}

func TestModelInfoAndHealth(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rr := env.do(t, httptest.NewRequest(http.MethodGet, "/model/info", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var info map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&info))
	assert.Equal(t, "test-v1", info["version"])
	assert.Equal(t, true, info["probability"])

	rr = env.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var health map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, false, health["history"])
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.do(t, postForm(defaultForm()))

	rr := env.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	body := rr.Body.String()
	assert.Contains(t, body, "dropout_predictions_total 1")
	assert.Contains(t, body, `dropout_predicted_labels_total{outcome="continue"} 1`)
	assert.Contains(t, body, `dropout_http_requests_total{code="200",route="/predict"} 1`)
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rr := env.do(t, httptest.NewRequest(http.MethodGet, "/predict", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestRequestIDs(t *testing.T) {
	env := newTestEnv(t, envOptions{history: true})

	req := postForm(defaultForm())
	req.Header.Set(requestIDHeader, "form-42")
	rr := env.do(t, req)
	assert.Equal(t, "form-42", rr.Header().Get(requestIDHeader))

	rr = env.do(t, postJSON(t, PredictRequest{Features: map[string]any{"gender": "Male"}}))
	require.Equal(t, http.StatusOK, rr.Code)
	var resp PredictResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Len(t, resp.RequestID, 36, "generated IDs are UUIDs")
	assert.Equal(t, rr.Header().Get(requestIDHeader), resp.RequestID)

	records, err := env.history.Recent(2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, resp.RequestID, records[0].RequestID)
	assert.Equal(t, "form-42", records[1].RequestID)
}

func TestRequestIDs_BodyOverridesHeader(t *testing.T) {
	var logs bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&logs)
	defer func() { log.Logger = prev }()

	env := newTestEnv(t, envOptions{history: true})

	tests := []struct {
		name   string
		header string
		body   string
		want   string
	}{
		{name: "body wins", header: "hdr-id", body: "body-id", want: "body-id"},
		{name: "header kept", header: "hdr-only", want: "hdr-only"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logs.Reset()
			req := postJSON(t, PredictRequest{Features: map[string]any{"gender": "Male"}, RequestID: tt.body})
			req.Header.Set(requestIDHeader, tt.header)
			rr := env.do(t, req)
			require.Equal(t, http.StatusOK, rr.Code)

			var resp PredictResponse
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
			assert.Equal(t, tt.want, resp.RequestID)
			assert.Equal(t, tt.want, rr.Header().Get(requestIDHeader))
			assert.Contains(t, logs.String(), `"request_id":"`+tt.want+`"`)

			records, err := env.history.Recent(1)
			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.Equal(t, tt.want, records[0].RequestID)
		})
	}
}

func TestCollectForm(t *testing.T) {
	form := url.Values{
		"age_at_enrollment": {" 21 "},
		"gender":            {"Female"},
		"unrelated":         {"x"},
	}
	raw := collectForm(form, schema.Fields)
	assert.Equal(t, features.RawInput{"age_at_enrollment": "21", "gender": "Female"}, raw)
}
