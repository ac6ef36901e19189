// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/holomush/passport/internal/auth"
	"github.com/holomush/passport/internal/auth/memory"
	"github.com/holomush/passport/internal/httpapi"
	"github.com/holomush/passport/internal/mail"
	"github.com/holomush/passport/internal/observability"
)

const testSecret = "httpapi-test-secret-0123456789"

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// outbox records sent mail and fails when err is set.
type outbox struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
}

func (o *outbox) Send(_ context.Context, msg mail.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.sent = append(o.sent, msg)
	return nil
}

func (o *outbox) lastToken(t *testing.T) string {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	require.NotEmpty(t, o.sent)
	token, ok := o.sent[len(o.sent)-1].Context["token"].(string)
	require.True(t, ok)
	return token
}

type apiFixture struct {
	t       *testing.T
	router  http.Handler
	store   *memory.UserStore
	mail    *outbox
	clock   *clock
	metrics *observability.Metrics
}

func newAPI(t *testing.T, opts httpapi.RouterOptions) *apiFixture {
	t.Helper()
	f := &apiFixture{
		t:       t,
		store:   memory.NewUserStore(),
		mail:    &outbox{},
		clock:   &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		metrics: observability.NewMetrics(observability.NewRegistry()),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	hasher, err := auth.NewArgon2idHasherWithParams(auth.HashParams{Time: 1, Memory: 1024, Threads: 1})
	require.NoError(t, err)
	tokens, err := auth.NewTokenService(auth.TokenConfig{Secret: testSecret}, f.clock.Now)
	require.NoError(t, err)
	authn, err := auth.NewAuthenticator(f.store, hasher, tokens,
		auth.WithClock(f.clock.Now), auth.WithLogger(logger))
	require.NoError(t, err)
	resets, err := auth.NewPasswordResetService(f.store, hasher, f.mail,
		auth.ResetMailConfig{From: "forgot_password@example.com"},
		auth.WithClock(f.clock.Now), auth.WithLogger(logger))
	require.NoError(t, err)

	h, err := httpapi.NewHandler(httpapi.Deps{
		Authenticator: authn,
		Resets:        resets,
		Tokens:        tokens,
		Metrics:       f.metrics,
		Logger:        logger,
	})
	require.NoError(t, err)
	f.router = httpapi.NewRouter(h, opts)
	return f
}

func (f *apiFixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) post(path string, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	var buf bytes.Buffer
	if s, ok := body.(string); ok {
		buf.WriteString(s)
	} else {
		require.NoError(f.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return f.do(req)
}

func (f *apiFixture) me(token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return f.do(req)
}

// register creates a user through the API and returns the session token.
func (f *apiFixture) register(email, password string) string {
	f.t.Helper()
	rec := f.post("/auth/register", map[string]string{"name": "Ada", "email": email, "password": password})
	require.Equal(f.t, http.StatusOK, rec.Code, rec.Body.String())
	return decode(f.t, rec)["token"].(string)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	msg, _ := decode(t, rec)["error"].(string)
	return msg
}

func isEmpty(rec *httptest.ResponseRecorder) bool {
	return strings.TrimSpace(rec.Body.String()) == ""
}
