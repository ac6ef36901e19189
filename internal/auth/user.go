// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// MaxEmailLength bounds the stored email address (RFC 5321 path limit).
const MaxEmailLength = 254

// User represents a registered account.
//
// PasswordHash and the pending reset fields are never serialized. They are
// populated by a UserRepository only when requested through a Field
// projection.
type User struct {
	ID             ulid.ULID  `json:"id"`
	Name           string     `json:"name"`
	Email          string     `json:"email"`
	PasswordHash   string     `json:"-"`
	ResetTokenHash *string    `json:"-"`
	ResetExpiresAt *time.Time `json:"-"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Profile carries the registration fields other than email and password.
type Profile struct {
	Name string
}

// NewUser creates a validated User with a fresh ID.
func NewUser(email, passwordHash string, profile Profile, now time.Time) (*User, error) {
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if passwordHash == "" {
		return nil, oops.Code("USER_INVALID_HASH").Errorf("password hash cannot be empty")
	}

	return &User{
		ID:           ulid.Make(),
		Name:         strings.TrimSpace(profile.Name),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// ValidateEmail checks that email is a bare address. Emails are stored
// case-sensitive, exactly as given.
func ValidateEmail(email string) error {
	if email == "" {
		return oops.Code("USER_INVALID_EMAIL").Errorf("email cannot be empty")
	}
	if len(email) > MaxEmailLength {
		return oops.Code("USER_INVALID_EMAIL").
			With("max", MaxEmailLength).
			Errorf("email must be at most %d characters", MaxEmailLength)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return oops.Code("USER_INVALID_EMAIL").Errorf("email is not a valid address")
	}
	return nil
}

// HasPendingReset reports whether a reset secret is stored for the user.
func (u *User) HasPendingReset() bool {
	return u.ResetTokenHash != nil && u.ResetExpiresAt != nil
}

// SetPasswordReset records a pending reset. Both fields are always set together.
func (u *User) SetPasswordReset(tokenHash string, expiresAt time.Time) {
	u.ResetTokenHash = &tokenHash
	u.ResetExpiresAt = &expiresAt
}

// ClearPasswordReset drops the pending reset.
func (u *User) ClearPasswordReset() {
	u.ResetTokenHash = nil
	u.ResetExpiresAt = nil
}

// Public returns a copy safe to hand to callers: no password hash and no
// reset secret.
func (u *User) Public() *User {
	return &User{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// Field names a hidden User field that must be requested explicitly.
type Field int

// Hidden fields.
const (
	// FieldPasswordHash loads User.PasswordHash.
	FieldPasswordHash Field = iota + 1
	// FieldPasswordReset loads User.ResetTokenHash and User.ResetExpiresAt.
	FieldPasswordReset
)

// Projection is the set of hidden fields requested by a read.
type Projection struct {
	PasswordHash  bool
	PasswordReset bool
}

// Project folds requested fields into a Projection.
func Project(fields ...Field) Projection {
	var p Projection
	for _, f := range fields {
		switch f {
		case FieldPasswordHash:
			p.PasswordHash = true
		case FieldPasswordReset:
			p.PasswordReset = true
		}
	}
	return p
}

// Apply blanks every hidden field of u that p does not include.
func (p Projection) Apply(u *User) {
	if !p.PasswordHash {
		u.PasswordHash = ""
	}
	if !p.PasswordReset {
		u.ClearPasswordReset()
	}
}

// UserRepository manages user persistence.
type UserRepository interface {
	// Create stores a new user.
	// Returns an error wrapping ErrEmailTaken if the email already exists.
	Create(ctx context.Context, user *User) error

	// GetByEmail retrieves a user by exact email.
	// Hidden fields are loaded only when listed in fields.
	// Returns an error wrapping ErrNotFound if no user has the email.
	GetByEmail(ctx context.Context, email string, fields ...Field) (*User, error)

	// GetByID retrieves a user by ID without hidden fields.
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)

	// SetPasswordReset stores the reset secret hash and expiry on the user,
	// replacing any earlier pending reset.
	SetPasswordReset(ctx context.Context, id ulid.ULID, tokenHash string, expiresAt time.Time) error

	// Save overwrites the stored user, including the password hash and the
	// reset fields. Concurrent saves resolve last write wins.
	Save(ctx context.Context, user *User) error
}
