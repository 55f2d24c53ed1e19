// Package httpapi exposes the engine over HTTP. Request and response
// bodies are JSON; errors carry a machine-readable code so callers can
// tell "could not analyze" apart from "analyzed, but some channels
// failed" without parsing messages.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"signalcast/internal/engine"
	"signalcast/pkg/logx"
)

const maxBodyBytes = 1 << 20 // 1 MiB

type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 60 * time.Second
	}
	return c
}

type Server struct {
	cfg Config
	eng *engine.Engine
	log logx.Logger
	srv *http.Server
}

func New(cfg Config, eng *engine.Engine, log logx.Logger) *Server {
	cfg = cfg.withDefaults()
	s := &Server{cfg: cfg, eng: eng, log: log}
	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Routes builds the router; exposed so tests can drive handlers through
// httptest without a listener.
func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/v1/analyze", s.handleAnalyze).Methods(http.MethodPost)
	r.HandleFunc("/v1/recommend-channels", s.handleRecommend).Methods(http.MethodPost)
	r.HandleFunc("/v1/distribute", s.handleDistribute).Methods(http.MethodPost)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/metricsz", s.handleMetrics).Methods(http.MethodGet)
	return r
}

func (s *Server) Start() error {
	s.log.Info("http listening", logx.String("addr", s.cfg.Addr))
	err := s.srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req engine.AnalyzeRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.eng.Analyze(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	var req engine.RecommendRequest
	if !s.decode(w, r, &req) {
		return
	}
	scored, err := s.eng.RecommendChannels(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"channels": scored})
}

func (s *Server) handleDistribute(w http.ResponseWriter, r *http.Request) {
	var req engine.DistributeRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.eng.Distribute(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	// Per-channel failures are part of a successful response; only the
	// hard analyze/score path maps to an error status.
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.eng.Ready() {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "loading"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.eng.Snapshot())
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error(), Code: "bad_request"})
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	if ie, ok := engine.AsInputError(err); ok {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: ie.Error(), Code: ie.Code})
		return
	}
	if ce, ok := engine.AsConfigurationError(err); ok {
		s.log.Error("request failed on configuration", logx.Err(err))
		s.writeJSON(w, http.StatusInternalServerError, errorBody{Error: ce.Error(), Code: ce.Code})
		return
	}
	s.log.Error("request failed", logx.Err(err))
	s.writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Code: "internal"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("response encode failed", logx.Err(err))
	}
}
