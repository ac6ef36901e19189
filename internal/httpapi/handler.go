// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package httpapi exposes the auth operations over HTTP with JSON bodies.
//
// Every failure of the four /auth operations is answered with 400 and a
// generic message; the internal error kind is only logged. Session failures
// on authenticated routes are answered with 401.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/passport/internal/auth"
	"github.com/holomush/passport/internal/observability"
	"github.com/holomush/passport/pkg/errutil"
)

// Authenticator is the credential side of the auth service.
type Authenticator interface {
	Register(ctx context.Context, email, password string, profile auth.Profile) (*auth.User, auth.Token, error)
	Authenticate(ctx context.Context, email, password string) (*auth.User, auth.Token, error)
	CurrentUser(ctx context.Context, userID ulid.ULID) (*auth.User, error)
}

// PasswordResetter runs the two steps of the reset flow.
type PasswordResetter interface {
	RequestReset(ctx context.Context, email string) error
	ConfirmReset(ctx context.Context, email, token, newPassword string) error
}

// TokenVerifier validates session tokens.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// Caller-visible messages.
const (
	msgInvalidRequest     = "invalid request"
	msgRegistrationFailed = "registration failed"
	msgInvalidCredentials = "invalid email or password"
	msgAuthFailed         = "authentication failed, try again"
	msgForgotFailed       = "cannot send forgot password email"
	msgInvalidResetToken  = "invalid reset token"
	msgResetTokenExpired  = "reset token expired, generate a new token"
	msgResetFailed        = "cannot reset password, try again"
	msgSessionRequired    = "session token required"
	msgSessionInvalid     = "invalid session token"
	msgSessionExpired     = "session token expired"
)

// Operation names used in logs and metrics.
const (
	opRegister     = "register"
	opAuthenticate = "authenticate"
	opForgot       = "forgot_password"
	opReset        = "reset_password"
	opMe           = "me"
)

// Handler serves the auth routes.
type Handler struct {
	authn     Authenticator
	resets    PasswordResetter
	tokens    TokenVerifier
	validate  *validator.Validate
	metrics   *observability.Metrics
	logger    *slog.Logger
	bodyLimit int64
}

// Deps groups the collaborators of a Handler. Metrics and Logger are optional.
type Deps struct {
	Authenticator Authenticator
	Resets        PasswordResetter
	Tokens        TokenVerifier
	Metrics       *observability.Metrics
	Logger        *slog.Logger
}

// defaultBodyLimit caps request bodies.
const defaultBodyLimit = 1 << 20

// NewHandler creates a Handler.
func NewHandler(deps Deps) (*Handler, error) {
	if deps.Authenticator == nil {
		return nil, oops.Code("HTTP_INVALID_CONFIG").Errorf("authenticator is required")
	}
	if deps.Resets == nil {
		return nil, oops.Code("HTTP_INVALID_CONFIG").Errorf("password resetter is required")
	}
	if deps.Tokens == nil {
		return nil, oops.Code("HTTP_INVALID_CONFIG").Errorf("token verifier is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		authn:     deps.Authenticator,
		resets:    deps.Resets,
		tokens:    deps.Tokens,
		validate:  newValidator(),
		metrics:   deps.Metrics,
		logger:    logger,
		bodyLimit: defaultBodyLimit,
	}, nil
}

type registerRequest struct {
	Name     string `json:"name" validate:"max=200"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=1024"`
}

type authenticateRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,max=1024"`
}

type forgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type resetPasswordRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Token    string `json:"token" validate:"required,max=256"`
	Password string `json:"password" validate:"required,min=8,max=1024"`
}

type sessionResponse struct {
	User  *auth.User `json:"user"`
	Token string     `json:"token"`
}

type userResponse struct {
	User *auth.User `json:"user"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req registerRequest
	if !h.decode(w, r, opRegister, &req) {
		return
	}

	user, token, err := h.authn.Register(r.Context(), req.Email, req.Password, auth.Profile{Name: req.Name})
	h.observe(r.Context(), opRegister, start, err)
	if err != nil {
		writeError(w, http.StatusBadRequest, msgRegistrationFailed)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{User: user, Token: token.String()})
}

func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req authenticateRequest
	if !h.decode(w, r, opAuthenticate, &req) {
		return
	}

	user, token, err := h.authn.Authenticate(r.Context(), req.Email, req.Password)
	h.observe(r.Context(), opAuthenticate, start, err)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, sessionResponse{User: user, Token: token.String()})
	case errors.Is(err, auth.ErrUserNotFound), errors.Is(err, auth.ErrInvalidCredential):
		writeError(w, http.StatusBadRequest, msgInvalidCredentials)
	default:
		writeError(w, http.StatusBadRequest, msgAuthFailed)
	}
}

func (h *Handler) forgotPassword(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req forgotPasswordRequest
	if !h.decode(w, r, opForgot, &req) {
		return
	}

	err := h.resets.RequestReset(r.Context(), req.Email)
	h.observe(r.Context(), opForgot, start, err)
	if err != nil {
		writeError(w, http.StatusBadRequest, msgForgotFailed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req resetPasswordRequest
	if !h.decode(w, r, opReset, &req) {
		return
	}

	err := h.resets.ConfirmReset(r.Context(), req.Email, req.Token, req.Password)
	h.observe(r.Context(), opReset, start, err)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, auth.ErrUserNotFound), errors.Is(err, auth.ErrTokenMismatch):
		writeError(w, http.StatusBadRequest, msgInvalidResetToken)
	case errors.Is(err, auth.ErrTokenExpired):
		writeError(w, http.StatusBadRequest, msgResetTokenExpired)
	default:
		writeError(w, http.StatusBadRequest, msgResetFailed)
	}
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, msgSessionRequired)
		return
	}
	userID, err := claims.UserID()
	if err != nil {
		h.observe(r.Context(), opMe, start, err)
		writeError(w, http.StatusUnauthorized, msgSessionInvalid)
		return
	}

	user, err := h.authn.CurrentUser(r.Context(), userID)
	h.observe(r.Context(), opMe, start, err)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, userResponse{User: user})
	case errors.Is(err, auth.ErrUserNotFound):
		writeError(w, http.StatusUnauthorized, msgSessionInvalid)
	default:
		writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
	}
}

// expectedFailure reports whether err is a client-caused outcome rather than
// a fault in the service or its collaborators.
func expectedFailure(err error) bool {
	for _, target := range []error{
		auth.ErrDuplicateEmail,
		auth.ErrUserNotFound,
		auth.ErrInvalidCredential,
		auth.ErrTokenMismatch,
		auth.ErrTokenExpired,
		auth.ErrEmptyPassword,
		auth.ErrSessionInvalid,
		auth.ErrSessionExpired,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// observe logs the outcome of an operation and records its metrics.
func (h *Handler) observe(ctx context.Context, op string, start time.Time, err error) {
	outcome := observability.OutcomeSuccess
	switch {
	case err == nil:
	case expectedFailure(err):
		outcome = observability.OutcomeFailure
		h.logger.InfoContext(ctx, "auth operation rejected",
			"operation", op,
			"reason", err.Error(),
			"code", errutil.Code(err),
		)
	default:
		outcome = observability.OutcomeError
		errutil.LogErrorContext(ctx, h.logger, "auth operation failed", err, "operation", op)
	}

	if h.metrics != nil {
		h.metrics.ObserveOperation(op, outcome, time.Since(start))
	}
}
