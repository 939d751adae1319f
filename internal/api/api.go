// Package api exposes the monitoring session over HTTP: start and stop
// controls, the latest snapshot, recorded history and the metrics endpoint.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"codeberg.org/mutker/bmsmon/internal/errors"
	"codeberg.org/mutker/bmsmon/internal/logger"
	"codeberg.org/mutker/bmsmon/internal/session"
	"codeberg.org/mutker/bmsmon/internal/telemetry"
)

const (
	DefaultStopTimeout  = 10 * time.Second
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 10000
)

// Controller is the session control surface
type Controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	State() session.State
}

// History serves recorded snapshots, newest first
type History interface {
	Recent(ctx context.Context, limit int) ([]telemetry.Snapshot, error)
}

type Server struct {
	ctrl        Controller
	store       *telemetry.Store
	history     History
	metrics     http.Handler
	log         logger.Logger
	stopTimeout time.Duration
}

type Option func(*Server)

func WithHistory(h History) Option {
	return func(s *Server) { s.history = h }
}

// WithMetrics mounts h at /metrics
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

func WithLogger(l logger.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithStopTimeout bounds how long a stop request waits for the session to
// unwind.
func WithStopTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.stopTimeout = d
		}
	}
}

func New(ctrl Controller, store *telemetry.Store, opts ...Option) *Server {
	s := &Server{
		ctrl:        ctrl,
		store:       store,
		log:         logger.Default(),
		stopTimeout: DefaultStopTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("api")

	return s
}

// Status is the session state returned by the control endpoints
type Status struct {
	State     session.State `json:"state"`
	Seq       uint64        `json:"seq"`
	UpdatedAt *time.Time    `json:"updated_at"`
}

type errorBody struct {
	Error   errors.ErrorCode `json:"error"`
	Message string           `json:"message"`
}

// Handler returns the routed handler wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/session/start", s.handleStart)
	mux.HandleFunc("POST /api/session/stop", s.handleStop)
	mux.HandleFunc("GET /api/session", s.handleStatus)
	mux.HandleFunc("GET /api/snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return s.logRequests(mux)
}

func (s *Server) status() Status {
	meta := s.store.Meta()
	st := Status{State: s.ctrl.State(), Seq: meta.Seq}
	if meta.Seq > 0 {
		st.UpdatedAt = &meta.UpdatedAt
	}

	return st
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Start(r.Context()); err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}

	s.writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.stopTimeout)
	defer cancel()

	if err := s.ctrl.Stop(ctx); err != nil {
		s.writeError(w, http.StatusGatewayTimeout, err)
		return
	}

	s.writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	snapshot, ok := s.store.Current()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	s.writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusNotFound, errors.New().WithMessage(errors.ErrUnavailable, "history recording is disabled"))
		return
	}

	limit := DefaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > MaxHistoryLimit {
			s.writeError(w, http.StatusBadRequest, errors.New().WithData(errors.ErrInvalidArgument, "limit="+raw))
			return
		}
		limit = n
	}

	snapshots, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if snapshots == nil {
		snapshots = []telemetry.Snapshot{}
	}

	s.writeJSON(w, http.StatusOK, snapshots)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug().Err(err).Msg("Failed to write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	code, ok := errors.CodeOf(err)
	if !ok {
		code = errors.ErrInternal
	}

	s.writeJSON(w, status, errorBody{Error: code, Message: err.Error()})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", resp.status).
			Dur("elapsed", time.Since(start)).
			Msg("HTTP request")
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
