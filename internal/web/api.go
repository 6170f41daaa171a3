package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"dropout-risk/internal/features"
	"dropout-risk/internal/metrics"
	"dropout-risk/internal/render"
	"dropout-risk/internal/schema"
	"dropout-risk/internal/storage"

	"github.com/rs/zerolog/log"
)

const maxRequestBody = 1 << 20

// PredictRequest is the body of POST /api/predict. Feature values may be JSON
// strings or numbers; categorical fields take their label ("Yes", "Female").
type PredictRequest struct {
	Features  map[string]any `json:"features"`
	RequestID string         `json:"request_id,omitempty"`
}

// PredictResponse is a successful POST /api/predict result.
type PredictResponse struct {
	Label        int         `json:"label"`
	Outcome      string      `json:"outcome"`
	Probability  *float64    `json:"probability,omitempty"`
	Message      string      `json:"message"`
	Filled       []string    `json:"filled,omitempty"`
	RequestID    string      `json:"request_id,omitempty"`
	ModelVersion string      `json:"model_version,omitempty"`
	Latency      float64     `json:"latency_ms"`
	Timestamp    time.Time   `json:"timestamp"`
	View         render.View `json:"view"`
}

// ErrorResponse is returned with every non-2xx API status.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

type fieldInfo struct {
	Name    string   `json:"name"`
	Label   string   `json:"label"`
	Kind    string   `json:"kind"`
	Min     *float64 `json:"min,omitempty"`
	Max     *float64 `json:"max,omitempty"`
	Step    *float64 `json:"step,omitempty"`
	Default string   `json:"default"`
	Options []string `json:"options,omitempty"`
	Column  int      `json:"column"`
}

type schemaResponse struct {
	Columns []string    `json:"columns"`
	Fields  []fieldInfo `json:"fields"`
	Strict  bool        `json:"strict"`
}

// rawFromJSON converts decoded JSON values into raw form strings.
func rawFromJSON(in map[string]any) (features.RawInput, error) {
	raw := make(features.RawInput, len(in))
	for k, v := range in {
		switch x := v.(type) {
		case string:
			raw[k] = x
		case json.Number:
			raw[k] = x.String()
		case float64:
			raw[k] = strconv.FormatFloat(x, 'f', -1, 64)
		default:
			return nil, fmt.Errorf("%w: %s has unsupported type %T", features.ErrInvalidNumber, k, v)
		}
	}
	return raw, nil
}

func (s *Server) handleAPIPredict(w http.ResponseWriter, r *http.Request) {
	var req PredictRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("invalid request: %v", err), RequestID: requestID(r.Context())})
		return
	}
	// A request_id in the body takes precedence over the header.
	if req.RequestID == "" {
		req.RequestID = requestID(r.Context())
	} else {
		setRequestID(w, r, req.RequestID)
	}
	if req.Features == nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "features cannot be empty", RequestID: req.RequestID})
		return
	}

	raw, err := rawFromJSON(req.Features)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error(), RequestID: req.RequestID})
		return
	}

	p := s.predict(r.Context(), raw, "api")
	if !p.Outcome.OK() {
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: p.Outcome.Err.Error(), RequestID: req.RequestID})
		return
	}

	view := render.Render(p.Outcome)
	writeJSON(w, http.StatusOK, PredictResponse{
		Label:        p.Outcome.Label,
		Outcome:      metrics.LabelName(p.Outcome.Label),
		Probability:  p.Outcome.Probability,
		Message:      view.Message,
		Filled:       p.Row.Filled,
		RequestID:    req.RequestID,
		ModelVersion: s.modelVersion(),
		Latency:      float64(p.Outcome.Latency.Microseconds()) / 1000,
		Timestamp:    time.Now().UTC(),
		View:         view,
	})
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	resp := schemaResponse{
		Columns: s.encoder.Columns,
		Strict:  s.encoder.Strict,
	}
	for _, f := range s.encoder.Fields {
		fi := fieldInfo{
			Name:    f.Name,
			Label:   f.Label,
			Kind:    f.Kind.String(),
			Default: f.DefaultValue(),
			Options: f.Options,
			Column:  f.Column,
		}
		if f.Kind != schema.Categorical {
			lo, hi, step := f.Min, f.Max, f.Step
			fi.Min, fi.Max, fi.Step = &lo, &hi, &step
		}
		resp.Fields = append(resp.Fields, fi)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "prediction history is disabled"})
		return
	}

	q := r.URL.Query()
	limit := s.historyLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("invalid limit %q", v)})
			return
		}
		if n < limit {
			limit = n
		}
	}

	var (
		records []storage.PredictionRecord
		err     error
	)
	if q.Has("since") || q.Has("until") {
		since, until, perr := parseRange(q.Get("since"), q.Get("until"))
		if perr != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: perr.Error()})
			return
		}
		records, err = s.history.InRange(since, until)
		records = newestFirst(records, limit)
	} else {
		records, err = s.history.Recent(limit)
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to read prediction history")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "failed to read prediction history"})
		return
	}

	total, err := s.history.Count()
	if err != nil {
		log.Warn().Err(err).Msg("failed to count prediction history")
	}
	failed := 0
	for _, rec := range records {
		if !rec.Succeeded() {
			failed++
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count":       len(records),
		"failed":      failed,
		"total":       total,
		"predictions": records,
	})
}

// parseRange reads RFC 3339 bounds. A missing since means the epoch and a
// missing until means now.
func parseRange(sinceStr, untilStr string) (time.Time, time.Time, error) {
	since, until := time.Unix(0, 0).UTC(), time.Now().UTC()
	if sinceStr != "" {
		t, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			return since, until, fmt.Errorf("invalid since %q: want RFC 3339", sinceStr)
		}
		since = t
	}
	if untilStr != "" {
		t, err := time.Parse(time.RFC3339, untilStr)
		if err != nil {
			return since, until, fmt.Errorf("invalid until %q: want RFC 3339", untilStr)
		}
		until = t
	}
	if until.Before(since) {
		return since, until, fmt.Errorf("until %s is before since %s", until.Format(time.RFC3339), since.Format(time.RFC3339))
	}
	return since, until, nil
}

// newestFirst reverses an oldest-first slice and keeps the newest limit entries.
func newestFirst(records []storage.PredictionRecord, limit int) []storage.PredictionRecord {
	out := make([]storage.PredictionRecord, 0, min(len(records), limit))
	for i := len(records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, records[i])
	}
	return out
}

func (s *Server) handleDrift(w http.ResponseWriter, r *http.Request) {
	if s.drift == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "drift monitoring is disabled"})
		return
	}
	writeJSON(w, http.StatusOK, s.drift.Report())
}

func (s *Server) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	if s.artifacts == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "model info unavailable"})
		return
	}

	info := map[string]interface{}{
		"model_path":  s.artifacts.ModelPath,
		"scaler_path": s.artifacts.ScalerPath,
		"probability": s.artifacts.SupportsProbability(),
		"loaded_at":   s.artifacts.LoadedAt,
		"features":    s.encoder.Columns,
	}
	if md := s.artifacts.Metadata; md != nil {
		info["version"] = md.Version
		info["trained_at"] = md.TrainedAt
		info["accuracy"] = md.Accuracy
		info["validation_acc"] = md.ValidationAcc
		info["training_rows"] = md.TrainingRows
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":        "ok",
		"probability":   s.invoker.SupportsProbability(),
		"model_version": s.modelVersion(),
		"history":       s.history != nil,
		"uptime":        time.Since(s.started).Round(time.Second).String(),
	}
	if s.metrics != nil {
		health["failure_rate"] = s.metrics.FailureRate()
	}
	writeJSON(w, http.StatusOK, health)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
