// Package web serves the control API of a capture session.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/local/liveocr/internal/capture"
	"github.com/local/liveocr/internal/emitter"
	"github.com/local/liveocr/internal/metrics"
	"github.com/local/liveocr/internal/statuscheck"
)

// Controller drives the capture scheduler.
type Controller interface {
	Start(mode capture.Mode) error
	Stop()
	SetMode(mode capture.Mode) error
	Mode() capture.Mode
	Snapshot() capture.Snapshot
}

// Results exposes the in-memory result history.
type Results interface {
	Results(limit int) []emitter.ResultRecord
	LastStatus() (emitter.StatusRecord, bool)
}

// Health reports dependency readiness.
type Health interface {
	Summary(ctx context.Context) statuscheck.Summary
}

// Server routes control requests to a capture session.
type Server struct {
	router  *mux.Router
	cors    *cors.Cors
	ctrl    Controller
	results Results
	health  Health
}

// New builds the router. origins lists the allowed CORS origins.
func New(ctrl Controller, results Results, health Health, origins []string) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		ctrl:    ctrl,
		results: results,
		health:  health,
	}
	s.cors = cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"Content-Length", "Content-Type"},
	})
	s.registerRoutes()
	return s
}

// Handler returns the root handler. CORS sits in front of the router because
// mux middleware only runs on matched routes and preflights match none.
func (s *Server) Handler() http.Handler {
	return logRequests(s.cors.Handler(s.router))
}

const apiPrefix = "/api/v1"

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	s.router.HandleFunc(apiPrefix+"/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc(apiPrefix+"/results", s.handleResults).Methods(http.MethodGet)
	s.router.HandleFunc(apiPrefix+"/capture/start", s.handleStart).Methods(http.MethodPost)
	s.router.HandleFunc(apiPrefix+"/capture/stop", s.handleStop).Methods(http.MethodPost)
	s.router.HandleFunc(apiPrefix+"/capture/mode", s.handleMode).Methods(http.MethodPut)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
}

type modeRequest struct {
	Mode string `json:"mode"`
}

type statusResponse struct {
	Scheduler  capture.Snapshot      `json:"scheduler"`
	LastStatus *emitter.StatusRecord `json:"last_status,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sum := s.health.Summary(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"healthy": sum.Healthy(), "checks": sum})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Scheduler: s.ctrl.Snapshot()}
	if st, ok := s.results.LastStatus(); ok {
		resp.LastStatus = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": s.results.Results(limit)})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	mode, ok := s.decodeMode(w, r, true)
	if !ok {
		return
	}
	if err := s.ctrl.Start(mode); err != nil {
		switch {
		case errors.Is(err, capture.ErrRunning):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, capture.ErrClosed):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.ctrl.Stop()
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	mode, ok := s.decodeMode(w, r, false)
	if !ok {
		return
	}
	if err := s.ctrl.SetMode(mode); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

// decodeMode reads {"mode": ...}. With optional set, an empty body selects
// the current mode.
func (s *Server) decodeMode(w http.ResponseWriter, r *http.Request, optional bool) (capture.Mode, bool) {
	var req modeRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return "", false
	}
	if req.Mode == "" && optional {
		return s.ctrl.Mode(), true
	}
	mode, err := capture.ParseMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return mode, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusRecorder captures the response code for logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}
