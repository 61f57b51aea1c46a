// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jeranaias/gpuinfo/internal/exporter"
	"github.com/jeranaias/gpuinfo/pkg/gpuinfo"
	"github.com/jeranaias/gpuinfo/pkg/model"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "127.0.0.1:9835"

	// DefaultReadTimeout bounds reading one request.
	DefaultReadTimeout = 10 * time.Second

	// DefaultWriteTimeout bounds one response. Queries may run external
	// tools, so this is well above their timeout.
	DefaultWriteTimeout = 30 * time.Second
)

// ============================================================================
// SERVER STATS
// ============================================================================

// Stats tracks server activity.
type Stats struct {
	StartTime         time.Time
	Requests          atomic.Int64
	Reinitializations atomic.Int64

	mu         sync.Mutex
	lastReinit time.Time
	lastErr    string
}

// NewStats returns stats starting now.
func NewStats() *Stats {
	return &Stats{StartTime: time.Now()}
}

// RecordReinit records one reinitialization cycle and its result.
func (s *Stats) RecordReinit(err error) {
	s.Reinitializations.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastReinit = time.Now()
	s.lastErr = ""
	if err != nil {
		s.lastErr = err.Error()
	}
}

// LastReinit returns the time and error text of the latest cycle.
func (s *Stats) LastReinit() (time.Time, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReinit, s.lastErr
}

// Uptime returns how long the server has been running.
func (s *Stats) Uptime() time.Duration {
	return time.Since(s.StartTime)
}

// ============================================================================
// SERVER
// ============================================================================

// Source is the library surface the server reads.
type Source interface {
	Census() (gpuinfo.Census, error)
	Info(index int) (*model.Record, error)
	All() ([]*model.Record, error)
}

// Config configures a Server.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// RateLimit is requests per second per client; zero disables it.
	RateLimit float64
	RateBurst int

	Auth    *AuthConfig
	Version string
	Logger  *slog.Logger
}

// Server serves GPU records as JSON and Prometheus metrics.
type Server struct {
	cfg     Config
	src     Source
	metrics *exporter.Metrics
	stats   *Stats
	logger  *slog.Logger
	router  *http.ServeMux

	mu     sync.Mutex
	server *http.Server
	closed bool
}

// New returns a server over src. metrics may be nil, in which case
// /metrics is not served.
func New(cfg Config, src Source, metrics *exporter.Metrics) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	s := &Server{
		cfg:     cfg,
		src:     src,
		metrics: metrics,
		stats:   NewStats(),
		logger:  cfg.Logger,
		router:  http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

// Stats returns the server's activity counters.
func (s *Server) Stats() *Stats { return s.stats }

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes() {
	s.router.HandleFunc("GET /api/v1/gpus", s.handleList)
	s.router.HandleFunc("GET /api/v1/gpus/{index}", s.handleInfo)
	s.router.HandleFunc("GET /api/v1/census", s.handleCensus)
	s.router.HandleFunc("GET /healthz", s.handleHealth)

	if s.metrics != nil {
		s.router.Handle("GET /metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{
			ErrorLog: slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
		}))
	}
}

// Handler returns the routes wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	middlewares := []Middleware{
		RecoveryMiddleware(s.logger),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(s.logger),
		s.countRequests,
	}
	if s.cfg.RateLimit > 0 {
		middlewares = append(middlewares, RateLimitMiddleware(NewRateLimiter(s.cfg.RateLimit, s.cfg.RateBurst), s.logger))
	}
	if s.cfg.Auth.Enabled() {
		middlewares = append(middlewares, AuthMiddleware(s.cfg.Auth, s.logger))
	}
	return Chain(middlewares...)(s.router)
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.stats.Requests.Add(1)
		next.ServeHTTP(w, r)
	})
}

// ============================================================================
// GPU HANDLERS
// ============================================================================

// ListResponse is the body of GET /api/v1/gpus. GPUs holds a null entry for
// each device whose query failed.
type ListResponse struct {
	Count int             `json:"count"`
	GPUs  []*model.Record `json:"gpus"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	records, err := s.src.All()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if records == nil {
		records = []*model.Record{}
	}
	s.writeJSON(w, http.StatusOK, ListResponse{Count: len(records), GPUs: records})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		s.writeError(w, model.NewError("info", model.VendorUnknown, -1, model.ErrInvalidIndex))
		return
	}
	rec, err := s.src.Info(index)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleCensus(w http.ResponseWriter, r *http.Request) {
	c, err := s.src.Census()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, c)
}

// ============================================================================
// HEALTH HANDLER
// ============================================================================

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status            string `json:"status"`
	Version           string `json:"version,omitempty"`
	GPUs              int    `json:"gpus"`
	NoDevice          bool   `json:"noDevice"`
	Uptime            string `json:"uptime"`
	Reinitializations int64  `json:"reinitializations"`
	LastReinitError   string `json:"lastReinitError,omitempty"`
}

// handleHealth reports 200 while the library is initialized, even with zero
// GPUs, and 503 otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_, lastErr := s.stats.LastReinit()
	health := HealthResponse{
		Status:            "ok",
		Version:           s.cfg.Version,
		Uptime:            s.stats.Uptime().Round(time.Second).String(),
		Reinitializations: s.stats.Reinitializations.Load(),
		LastReinitError:   lastErr,
	}

	c, err := s.src.Census()
	if err != nil {
		health.Status = "unavailable"
		s.writeJSON(w, http.StatusServiceUnavailable, health)
		return
	}
	health.GPUs = c.Total
	health.NoDevice = c.NoDevice
	s.writeJSON(w, http.StatusOK, health)
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	l, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Serve serves on l until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Serve(l net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       2 * s.cfg.WriteTimeout,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return l.Close()
	}
	s.server = srv
	s.mu.Unlock()

	s.logger.Info("SERVER_START", "addr", l.Addr().String(), "version", s.cfg.Version)
	if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server. A Serve that has not started
// yet returns immediately.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	s.logger.Info("SERVER_SHUTDOWN")
	return srv.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the message and the numeric library error code.
type ErrorDetail struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// statusFor maps library errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidIndex):
		return http.StatusNotFound
	case errors.Is(err, model.ErrNotInitialized):
		return http.StatusServiceUnavailable
	case errors.Is(err, model.ErrBackendFailure):
		return http.StatusBadGateway
	case errors.Is(err, model.ErrUnsupported):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("REQUEST_FAILED", "status", status, "error", err)
	}
	s.writeJSON(w, status, ErrorBody{Error: ErrorDetail{
		Message: err.Error(),
		Code:    model.ErrorCode(err),
	}})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("RESPONSE_WRITE_FAILED", "error", err)
	}
}
