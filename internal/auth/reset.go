// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/samber/oops"
)

// Reset secret configuration.
const (
	ResetTokenBytes  = 32        // 256 bits, 64 hex chars
	ResetTokenExpiry = time.Hour // fixed lifetime of a reset secret
)

// ResetState is the password-reset state of a user at a point in time.
type ResetState int

// Reset states.
const (
	// NoPendingReset means no reset secret is stored.
	NoPendingReset ResetState = iota
	// ResetPending means a reset secret is stored and not yet expired.
	ResetPending
	// ResetExpired means a stale secret is stored. It is treated as
	// NoPendingReset for validation.
	ResetExpired
)

func (s ResetState) String() string {
	switch s {
	case ResetPending:
		return "pending"
	case ResetExpired:
		return "expired"
	default:
		return "none"
	}
}

// ResetState reports the user's reset state at now. The secret stays valid
// up to and including its expiry instant.
func (u *User) ResetState(now time.Time) ResetState {
	if !u.HasPendingReset() {
		return NoPendingReset
	}
	if now.After(*u.ResetExpiresAt) {
		return ResetExpired
	}
	return ResetPending
}

// GenerateResetToken creates a random reset secret and its digest.
// The plaintext goes to the user by mail; only the digest is stored.
func GenerateResetToken() (token, hash string, err error) {
	buf := make([]byte, ResetTokenBytes)
	if _, err = rand.Read(buf); err != nil {
		return "", "", oops.Code("RESET_TOKEN_GENERATE_FAILED").Wrap(err)
	}

	token = hex.EncodeToString(buf)
	return token, hashResetToken(token), nil
}

// VerifyResetToken reports whether token hashes to the stored digest.
// Comparison is constant time.
func VerifyResetToken(token, hash string) bool {
	if token == "" || hash == "" {
		return false
	}
	computed := hashResetToken(token)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(hash)) == 1
}

func hashResetToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
