// Package web serves the prediction form and its JSON API.
//
// Every request is independent: the form is parsed into raw values, encoded
// into a feature row, run through the invoker and rendered. Artifacts are
// read-only after startup, so handlers share them without locking.
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"dropout-risk/internal/common"
	"dropout-risk/internal/features"
	"dropout-risk/internal/metrics"
	"dropout-risk/internal/ml"
	"dropout-risk/internal/storage"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// History is the optional prediction log.
type History interface {
	Record(rec storage.PredictionRecord) (uint64, error)
	Recent(n int) ([]storage.PredictionRecord, error)
	InRange(start, end time.Time) ([]storage.PredictionRecord, error)
	Count() (int, error)
	Prune(keep int) (int, error)
}

// Options configures a Server. Invoker and Encoder are required.
type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	Invoker   *ml.Invoker
	Encoder   *features.Encoder
	Artifacts *ml.Artifacts // model info; may be nil

	Metrics  *metrics.Metrics    // may be nil
	Gatherer prometheus.Gatherer // defaults to prometheus.DefaultGatherer

	History       History // nil disables /api/history and recording
	HistoryLimit  int
	HistoryRetain int // records kept after pruning; 0 keeps all

	Drift *ml.DriftMonitor // nil disables /api/drift
}

// Server provides the HTML form and the JSON prediction API.
type Server struct {
	invoker      *ml.Invoker
	encoder      *features.Encoder
	artifacts    *ml.Artifacts
	metrics      *metrics.Metrics
	wrapper      *metrics.MetricsWrapper
	history      History
	historyLimit int
	retain       int
	pruneEvery   uint64
	drift        *ml.DriftMonitor
	started      time.Time

	router *mux.Router
	server *http.Server
}

// NewServer wires routes and the underlying http.Server.
func NewServer(opts Options) (*Server, error) {
	if opts.Invoker == nil {
		return nil, errors.New("invoker is required")
	}
	if opts.Encoder == nil {
		return nil, errors.New("encoder is required")
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = common.DefaultHistoryLimit
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		invoker:      opts.Invoker,
		encoder:      opts.Encoder,
		artifacts:    opts.Artifacts,
		metrics:      opts.Metrics,
		history:      opts.History,
		historyLimit: opts.HistoryLimit,
		retain:       opts.HistoryRetain,
		pruneEvery:   pruneInterval(opts.HistoryRetain),
		drift:        opts.Drift,
		started:      time.Now(),
	}
	if opts.Metrics != nil {
		s.wrapper = metrics.NewWrapper(opts.Metrics)
	}

	r := mux.NewRouter()
	r.Use(s.logRequests)
	r.HandleFunc("/", s.handleForm).Methods(http.MethodGet)
	r.HandleFunc("/predict", s.handleFormPredict).Methods(http.MethodPost)
	r.HandleFunc("/api/predict", s.handleAPIPredict).Methods(http.MethodPost)
	r.HandleFunc("/api/schema", s.handleSchema).Methods(http.MethodGet)
	r.HandleFunc("/api/history", s.handleHistory).Methods(http.MethodGet)
	r.HandleFunc("/api/drift", s.handleDrift).Methods(http.MethodGet)
	r.HandleFunc("/model/info", s.handleModelInfo).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	s.router = r

	s.server = &http.Server{
		Addr:         opts.Addr,
		Handler:      r,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		IdleTimeout:  common.IdleTimeout,
	}

	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start begins serving HTTP requests. It returns http.ErrServerClosed after Shutdown.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("starting prediction server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// prediction is the outcome of one submission plus what was encoded for it.
type prediction struct {
	Outcome ml.Outcome
	Row     features.Row
}

func (s *Server) predict(ctx context.Context, raw features.RawInput, source string) prediction {
	ctx, cancel := context.WithTimeout(ctx, common.PredictTimeout)
	defer cancel()

	row, err := s.encoder.Encode(raw)
	if err != nil {
		log.Warn().Err(err).Str("source", source).Msg("rejected input")
		if s.wrapper != nil {
			s.wrapper.EncodeErrors().Inc()
		}
		p := prediction{Outcome: ml.Failed(fmt.Errorf("invalid input: %w", err))}
		s.record(ctx, p, source)
		return p
	}

	if len(row.Filled) > 0 {
		log.Warn().
			Strs("columns", row.Filled).
			Str("source", source).
			Msg("input missing schema columns, filled with 0")
		if s.wrapper != nil {
			s.wrapper.FilledColumnsAdd(len(row.Filled))
		}
	}

	if s.drift != nil {
		s.publishDrift(s.drift.Observe(row))
	}

	p := prediction{Outcome: s.invoker.Predict(ctx, row), Row: row}
	s.record(ctx, p, source)
	return p
}

func (s *Server) record(ctx context.Context, p prediction, source string) {
	if s.history == nil {
		return
	}

	rec := storage.PredictionRecord{
		RequestID:    requestID(ctx),
		Timestamp:    time.Now().UTC(),
		Filled:       p.Row.Filled,
		LatencyMs:    float64(p.Outcome.Latency.Microseconds()) / 1000,
		ModelVersion: s.modelVersion(),
		Source:       source,
	}
	if len(p.Row.Columns) > 0 {
		rec.Features = p.Row.Map()
	}
	if p.Outcome.OK() {
		label := p.Outcome.Label
		rec.Label = &label
		rec.Probability = p.Outcome.Probability
	} else if p.Outcome.Err != nil {
		rec.Error = p.Outcome.Err.Error()
	}

	id, err := s.history.Record(rec)
	if err != nil {
		log.Error().Err(err).Msg("failed to record prediction history")
		if s.wrapper != nil {
			s.wrapper.HistoryWriteErrors().Inc()
		}
		return
	}
	if s.retain > 0 && id%s.pruneEvery == 0 {
		s.pruneHistory()
	}
}

// pruneInterval spaces pruning so the store overshoots retain by at most 1%.
func pruneInterval(retain int) uint64 {
	if n := retain / 100; n > 1 {
		return uint64(n)
	}
	return 1
}

func (s *Server) pruneHistory() {
	removed, err := s.history.Prune(s.retain)
	if err != nil {
		log.Error().Err(err).Int("retain", s.retain).Msg("failed to prune prediction history")
		if s.wrapper != nil {
			s.wrapper.HistoryWriteErrors().Inc()
		}
		return
	}
	if removed > 0 {
		log.Debug().Int("removed", removed).Int("retain", s.retain).Msg("pruned prediction history")
	}
}

func (s *Server) publishDrift(report ml.DriftReport) {
	if s.wrapper == nil || !report.Ready {
		return
	}
	for _, f := range report.Features {
		if f.Samples > 0 {
			s.wrapper.FeatureDriftSet(f.Name, f.Shift)
		}
	}
}

func (s *Server) modelVersion() string {
	if s.artifacts == nil || s.artifacts.Metadata == nil {
		return ""
	}
	return s.artifacts.Metadata.Version
}
