// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package observability provides HTTP endpoints for metrics and health checks.
package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
)

// readinessTimeout bounds each readiness check.
const readinessTimeout = 2 * time.Second

// ReadinessCheck reports whether one dependency can serve traffic.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Operation outcomes recorded by Metrics.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeError   = "error"
)

// Metrics contains the passport Prometheus metrics.
type Metrics struct {
	AuthOperations *prometheus.CounterVec
	AuthDuration   *prometheus.HistogramVec
	MailDeliveries *prometheus.CounterVec
}

// NewMetrics creates and registers passport metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AuthOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "passport_auth_operations_total",
				Help: "Total number of auth operations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		AuthDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "passport_auth_operation_duration_seconds",
				Help:    "Auth operation latency by operation",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		MailDeliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "passport_mail_deliveries_total",
				Help: "Total number of mail deliveries by transport and outcome",
			},
			[]string{"transport", "outcome"},
		),
	}

	reg.MustRegister(m.AuthOperations, m.AuthDuration, m.MailDeliveries)
	return m
}

// ObserveOperation records one auth operation.
func (m *Metrics) ObserveOperation(operation, outcome string, elapsed time.Duration) {
	m.AuthOperations.WithLabelValues(operation, outcome).Inc()
	m.AuthDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// RecordMail records one mail delivery attempt.
func (m *Metrics) RecordMail(transport, outcome string) {
	m.MailDeliveries.WithLabelValues(transport, outcome).Inc()
}

// NewRegistry creates a registry with the standard Go and process collectors.
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return registry
}

// Server serves /metrics and the liveness and readiness checks on its own
// listener, separate from the public API.
type Server struct {
	addr       string
	listener   net.Listener
	httpServer *http.Server
	registry   *prometheus.Registry
	checks     []ReadinessCheck
	running    atomic.Bool
}

// NewServer returns a Server for addr. A nil registry gets the default
// collectors.
func NewServer(addr string, registry *prometheus.Registry, checks ...ReadinessCheck) *Server {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Server{
		addr:     addr,
		registry: registry,
		checks:   checks,
	}
}

// Handler returns the observability routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/healthz/liveness", s.handleLiveness)
	mux.HandleFunc("/healthz/readiness", s.handleReadiness)
	return mux
}

// Start listens on the configured address and serves in the background.
// Serve failures arrive on the returned channel, which is closed once the
// server has stopped.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Code("OBSERVABILITY_ALREADY_RUNNING").
			With("addr", s.addr).
			Errorf("observability server already running")
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.Code("OBSERVABILITY_LISTEN_FAILED").With("addr", s.addr).Wrap(err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go s.serve(ln, errCh)

	slog.Info("metrics endpoint listening", "addr", ln.Addr().String())
	return errCh, nil
}

func (s *Server) serve(ln net.Listener, errCh chan<- error) {
	defer close(errCh)
	err := s.httpServer.Serve(ln)
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return
	}
	slog.Error("metrics endpoint failed", "error", err)
	errCh <- err
}

// Stop shuts the server down, waiting for in-flight scrapes until ctx ends.
// Stopping a server that is not running is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.Code("OBSERVABILITY_STOP_FAILED").With("addr", s.addr).Wrap(err)
		}
	}
	slog.Info("metrics endpoint stopped")
	return nil
}

// Addr is the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, http.StatusOK, "ok")
}

// handleReadiness runs every check and returns 503 listing the failures.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	var failed []string
	for _, c := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		err := c.Check(ctx)
		cancel()
		if err != nil {
			slog.WarnContext(r.Context(), "readiness check failed", "check", c.Name, "error", err)
			failed = append(failed, c.Name)
		}
	}

	if len(failed) > 0 {
		writeStatus(w, http.StatusServiceUnavailable, "not ready: "+strings.Join(failed, ", "))
		return
	}
	writeStatus(w, http.StatusOK, "ok")
}

func writeStatus(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = fmt.Fprintln(w, body)
}
