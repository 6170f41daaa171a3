package web

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

const requestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// requestIDHolder lets a handler replace the ID after logRequests assigned it,
// so the response header, the request log and history all carry the same one.
type requestIDHolder struct {
	id string
}

// requestID returns the ID assigned to the request.
func requestID(ctx context.Context) string {
	if h, ok := ctx.Value(requestIDKey{}).(*requestIDHolder); ok {
		return h.id
	}
	return ""
}

// setRequestID replaces the request's ID. It must run before the response
// header is written.
func setRequestID(w http.ResponseWriter, r *http.Request, id string) {
	if h, ok := r.Context().Value(requestIDKey{}).(*requestIDHolder); ok {
		h.id = id
	}
	w.Header().Set(requestIDHeader, id)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		holder := &requestIDHolder{id: id}
		w.Header().Set(requestIDHeader, id)
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, holder))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cr := mux.CurrentRoute(r); cr != nil {
			if tpl, err := cr.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		elapsed := time.Since(start)
		if s.metrics != nil {
			s.metrics.ObserveRequest(route, rec.status, elapsed)
		}

		// /health and /metrics are polled; keep them out of info logs.
		ev := log.Info()
		if route == "/health" || route == "/metrics" {
			ev = log.Debug()
		}
		ev.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Str("request_id", holder.id).
			Dur("duration", elapsed).
			Msg("request")
	})
}
