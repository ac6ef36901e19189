// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/passport/internal/auth"
)

func TestGenerateResetToken(t *testing.T) {
	t.Run("generates 256-bit hex token", func(t *testing.T) {
		token, hash, err := auth.GenerateResetToken()
		require.NoError(t, err)
		assert.Len(t, token, 64)
		raw, err := hex.DecodeString(token)
		require.NoError(t, err)
		assert.Len(t, raw, auth.ResetTokenBytes)
		assert.NotEqual(t, token, hash)
	})

	t.Run("generates unique tokens", func(t *testing.T) {
		token1, hash1, err := auth.GenerateResetToken()
		require.NoError(t, err)
		token2, hash2, err := auth.GenerateResetToken()
		require.NoError(t, err)

		assert.NotEqual(t, token1, token2)
		assert.NotEqual(t, hash1, hash2)
	})

	t.Run("stores SHA-256 digest", func(t *testing.T) {
		_, hash, err := auth.GenerateResetToken()
		require.NoError(t, err)
		assert.Len(t, hash, 64)
	})
}

func TestVerifyResetToken(t *testing.T) {
	token, hash, err := auth.GenerateResetToken()
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		hash  string
		want  bool
	}{
		{name: "matching token", token: token, hash: hash, want: true},
		{name: "other token", token: "wrongtoken", hash: hash},
		{name: "digest instead of token", token: hash, hash: hash},
		{name: "empty token", token: "", hash: hash},
		{name: "empty digest", token: token, hash: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, auth.VerifyResetToken(tt.token, tt.hash))
		})
	}
}

func TestUser_ResetState(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	u := &auth.User{}

	assert.Equal(t, auth.NoPendingReset, u.ResetState(now))
	assert.Equal(t, "none", u.ResetState(now).String())

	u.SetPasswordReset("digest", now.Add(auth.ResetTokenExpiry))
	assert.Equal(t, auth.ResetPending, u.ResetState(now))
	assert.Equal(t, auth.ResetPending, u.ResetState(now.Add(auth.ResetTokenExpiry)), "valid through the expiry instant")
	assert.Equal(t, auth.ResetExpired, u.ResetState(now.Add(auth.ResetTokenExpiry+time.Nanosecond)))
	assert.Equal(t, "expired", auth.ResetExpired.String())

	u.ClearPasswordReset()
	assert.Equal(t, auth.NoPendingReset, u.ResetState(now))
}
