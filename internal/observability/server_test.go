// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/passport/pkg/errutil"
)

func startServer(t *testing.T, s *Server) <-chan error {
	t.Helper()
	errCh, err := s.Start()
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return errCh
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url) //nolint:noctx // test helper
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestServer_Metrics(t *testing.T) {
	registry := NewRegistry()
	metrics := NewMetrics(registry)
	server := NewServer("127.0.0.1:0", registry)
	startServer(t, server)

	metrics.ObserveOperation("authenticate", OutcomeSuccess, 20*time.Millisecond)
	metrics.ObserveOperation("authenticate", OutcomeFailure, 5*time.Millisecond)
	metrics.RecordMail("smtp", OutcomeSuccess)

	status, body := get(t, "http://"+server.Addr()+"/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "# HELP")
	assert.Contains(t, body, "go_")
	assert.Contains(t, body, "process_")
	assert.Contains(t, body, `passport_auth_operations_total{operation="authenticate",outcome="success"} 1`)
	assert.Contains(t, body, `passport_mail_deliveries_total{outcome="success",transport="smtp"} 1`)
	assert.Contains(t, body, "passport_auth_operation_duration_seconds_bucket")
}

func TestMetrics_Counts(t *testing.T) {
	metrics := NewMetrics(NewRegistry())
	metrics.ObserveOperation("register", OutcomeFailure, time.Millisecond)
	metrics.ObserveOperation("register", OutcomeFailure, time.Millisecond)

	assert.InDelta(t, 2, testutil.ToFloat64(metrics.AuthOperations.WithLabelValues("register", OutcomeFailure)), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(metrics.AuthOperations.WithLabelValues("register", OutcomeSuccess)), 0)
}

func TestServer_Liveness(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil)
	startServer(t, server)

	status, body := get(t, "http://"+server.Addr()+"/healthz/liveness")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", strings.TrimSpace(body))
}

func TestServer_Readiness(t *testing.T) {
	ok := ReadinessCheck{Name: "database", Check: func(context.Context) error { return nil }}
	down := ReadinessCheck{Name: "mail_queue", Check: func(context.Context) error { return errors.New("dial tcp: refused") }}

	tests := []struct {
		name       string
		checks     []ReadinessCheck
		wantStatus int
		wantBody   string
	}{
		{"no checks", nil, http.StatusOK, "ok"},
		{"all healthy", []ReadinessCheck{ok}, http.StatusOK, "ok"},
		{"one failing", []ReadinessCheck{ok, down}, http.StatusServiceUnavailable, "not ready: mail_queue"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := NewServer("", nil, tt.checks...)
			rec := httptest.NewRecorder()
			server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz/readiness", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantBody, strings.TrimSpace(rec.Body.String()))
		})
	}
}

func TestServer_ReadinessCheckHasDeadline(t *testing.T) {
	var hadDeadline bool
	check := ReadinessCheck{Name: "database", Check: func(ctx context.Context) error {
		_, hadDeadline = ctx.Deadline()
		return nil
	}}
	server := NewServer("", nil, check)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz/readiness", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, hadDeadline)
}

func TestServer_DoubleStartFails(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil)
	startServer(t, server)

	_, err := server.Start()
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "OBSERVABILITY_ALREADY_RUNNING")
}

func TestServer_StartListenFailure(t *testing.T) {
	first := NewServer("127.0.0.1:0", nil)
	startServer(t, first)

	second := NewServer(first.Addr(), nil)
	_, err := second.Start()
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "OBSERVABILITY_LISTEN_FAILED")
	errutil.AssertErrorContext(t, err, "addr", first.Addr())
	assert.Empty(t, second.Addr())

	require.NoError(t, second.Stop(context.Background()), "failed start leaves the server stopped")
}

func TestServer_StopIdempotent(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil)
	require.NoError(t, server.Stop(context.Background()))
}

func TestServer_ErrorChannelReportsServeErrors(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil)
	errCh := startServer(t, server)

	require.NotNil(t, server.listener)
	_ = server.listener.Close()

	select {
	case serveErr := <-errCh:
		assert.Error(t, serveErr)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for error on error channel")
	}
}

func TestServer_ErrorChannelClosesOnNormalShutdown(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil)
	errCh, err := server.Start()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, server.Stop(ctx))

	select {
	case err, ok := <-errCh:
		if ok {
			assert.NoError(t, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for error channel to close")
	}
}
