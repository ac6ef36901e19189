// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"log/slog"
	"time"
)

// Clock returns the current time. Services take one so tests can move time.
type Clock func() time.Time

type options struct {
	now    Clock
	logger *slog.Logger
}

// Option configures an Authenticator or PasswordResetService during construction.
type Option func(*options)

// WithClock replaces time.Now as the source of the current time.
func WithClock(now Clock) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the logger for best-effort failures that do not fail the
// request. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func applyOptions(opts []Option) options {
	o := options{now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
