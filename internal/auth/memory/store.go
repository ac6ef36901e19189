// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package memory provides an in-process auth.UserRepository.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/passport/internal/auth"
)

// UserStore keeps users in a map guarded by a RWMutex. Reads return copies so
// callers never share state with the store.
type UserStore struct {
	mu      sync.RWMutex
	byID    map[ulid.ULID]*auth.User
	byEmail map[string]ulid.ULID
}

// NewUserStore creates an empty UserStore.
func NewUserStore() *UserStore {
	return &UserStore{
		byID:    make(map[ulid.ULID]*auth.User),
		byEmail: make(map[string]ulid.ULID),
	}
}

// Create stores a new user. The email index makes a second insert of the same
// email fail with auth.ErrEmailTaken.
func (s *UserStore) Create(_ context.Context, user *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byEmail[user.Email]; ok {
		return oops.Code("USER_CREATE_FAILED").
			With("email", user.Email).
			Wrap(auth.ErrEmailTaken)
	}
	if _, ok := s.byID[user.ID]; ok {
		return oops.Code("USER_CREATE_FAILED").
			With("id", user.ID.String()).
			Errorf("user id already exists")
	}

	s.byID[user.ID] = clone(user)
	s.byEmail[user.Email] = user.ID
	return nil
}

// GetByEmail returns a copy of the user with only the requested hidden fields.
func (s *UserStore) GetByEmail(_ context.Context, email string, fields ...auth.Field) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[email]
	if !ok {
		return nil, oops.Code("USER_NOT_FOUND").With("email", email).Wrap(auth.ErrNotFound)
	}
	u := clone(s.byID[id])
	auth.Project(fields...).Apply(u)
	return u, nil
}

// GetByID returns a copy of the user without hidden fields.
func (s *UserStore) GetByID(_ context.Context, id ulid.ULID) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.byID[id]
	if !ok {
		return nil, oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	u := clone(stored)
	auth.Project().Apply(u)
	return u, nil
}

// SetPasswordReset replaces any pending reset on the user.
func (s *UserStore) SetPasswordReset(_ context.Context, id ulid.ULID, tokenHash string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.byID[id]
	if !ok {
		return oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	stored.SetPasswordReset(tokenHash, expiresAt)
	return nil
}

// Save overwrites the stored user. The email index follows an email change.
func (s *UserStore) Save(_ context.Context, user *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.byID[user.ID]
	if !ok {
		return oops.Code("USER_NOT_FOUND").With("id", user.ID.String()).Wrap(auth.ErrNotFound)
	}
	if stored.Email != user.Email {
		if owner, taken := s.byEmail[user.Email]; taken && owner != user.ID {
			return oops.Code("USER_SAVE_FAILED").With("email", user.Email).Wrap(auth.ErrEmailTaken)
		}
		delete(s.byEmail, stored.Email)
		s.byEmail[user.Email] = user.ID
	}
	s.byID[user.ID] = clone(user)
	return nil
}

// Len returns the number of stored users.
func (s *UserStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func clone(u *auth.User) *auth.User {
	c := *u
	if u.ResetTokenHash != nil {
		h := *u.ResetTokenHash
		c.ResetTokenHash = &h
	}
	if u.ResetExpiresAt != nil {
		e := *u.ResetExpiresAt
		c.ResetExpiresAt = &e
	}
	return &c
}
