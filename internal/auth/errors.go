// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"errors"
	"fmt"

	"github.com/samber/oops"

	"github.com/holomush/passport/pkg/errutil"
)

// Repository errors. Stores wrap these so callers can classify with errors.Is.
var (
	// ErrNotFound is returned when a requested user does not exist.
	ErrNotFound = errors.New("not found")

	// ErrEmailTaken is returned by UserRepository.Create when the email is
	// already registered.
	ErrEmailTaken = errors.New("email already registered")
)

// Error codes attached to service errors with oops.Code.
const (
	CodeDuplicateEmail     = "AUTH_DUPLICATE_EMAIL"
	CodeEmptyPassword      = "AUTH_EMPTY_PASSWORD"
	CodeUserNotFound       = "AUTH_USER_NOT_FOUND"
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodePersistence        = "AUTH_PERSISTENCE_FAILED"
	CodeTokenMismatch      = "RESET_TOKEN_MISMATCH"
	CodeTokenExpired       = "RESET_TOKEN_EXPIRED"
	CodeMailDelivery       = "RESET_MAIL_FAILED"
	CodeSessionInvalid     = "SESSION_TOKEN_INVALID"
	CodeSessionExpired     = "SESSION_TOKEN_EXPIRED"
)

// Service error kinds, matched with errors.Is. An error from Authenticator or
// PasswordResetService matches at most one of them. Input rejected before any
// lookup (invalid email, empty password) and internal faults such as hashing
// or token signing match none.
var (
	ErrDuplicateEmail    = errors.New("email already registered")
	ErrUserNotFound      = errors.New("user not found")
	ErrInvalidCredential = errors.New("invalid password")
	ErrTokenMismatch     = errors.New("reset token invalid")
	ErrTokenExpired      = errors.New("reset token expired")
	ErrMailDelivery      = errors.New("cannot send forgot password email")
	ErrPersistence       = errors.New("persistence failure")
)

// Session token errors returned by TokenService.Verify.
var (
	ErrSessionInvalid = errors.New("session token invalid")
	ErrSessionExpired = errors.New("session token expired")
)

// ErrEmptyPassword is returned when a password to hash is empty.
var ErrEmptyPassword = errors.New("password cannot be empty")

func emptyPassword() error {
	return oops.Code(CodeEmptyPassword).Wrap(ErrEmptyPassword)
}

// wrapKind classifies cause as kind under the builder's code. The cause is
// kept in the message and its code in the "cause_code" context key, but it
// is not part of the chain: oops reports the deepest code and context.
func wrapKind(b oops.OopsErrorBuilder, kind, cause error) error {
	if code := errutil.Code(cause); code != "" {
		b = b.With("cause_code", code)
	}
	return b.Wrap(fmt.Errorf("%w: %v", kind, cause))
}
