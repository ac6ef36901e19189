// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// SessionTokenExpiry is the fixed lifetime of an issued session token.
const SessionTokenExpiry = 24 * time.Hour

// MinSecretLength is the shortest signing secret TokenConfig accepts.
const MinSecretLength = 16

// Token is a signed session token in compact JWS form.
type Token string

// String returns the compact token.
func (t Token) String() string { return string(t) }

// TokenConfig holds the process-wide signing configuration. It is loaded
// once at startup and never rotated at runtime.
type TokenConfig struct {
	Secret string
	Issuer string
}

// Validate checks the signing secret is usable.
func (c TokenConfig) Validate() error {
	if c.Secret == "" {
		return oops.Code("TOKEN_CONFIG_INVALID").Errorf("signing secret is required")
	}
	if len(c.Secret) < MinSecretLength {
		return oops.Code("TOKEN_CONFIG_INVALID").
			With("min_length", MinSecretLength).
			Errorf("signing secret must be at least %d bytes", MinSecretLength)
	}
	return nil
}

// Claims are the session token claims. The subject is the user ID.
type Claims struct {
	jwt.RegisteredClaims
}

// UserID parses the subject claim.
func (c *Claims) UserID() (ulid.ULID, error) {
	id, err := ulid.Parse(c.Subject)
	if err != nil {
		return ulid.ULID{}, oops.Code(CodeSessionInvalid).
			With("subject", c.Subject).
			Wrap(errors.Join(ErrSessionInvalid, err))
	}
	return id, nil
}

// TokenService issues and verifies HS256 session tokens.
type TokenService struct {
	secret []byte
	issuer string
	now    Clock
}

// NewTokenService creates a TokenService. A nil clock uses time.Now.
func NewTokenService(cfg TokenConfig, now Clock) (*TokenService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return &TokenService{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		now:    now,
	}, nil
}

// Issue signs a token for userID that expires SessionTokenExpiry from now.
func (s *TokenService) Issue(userID ulid.ULID) (Token, error) {
	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        ulid.Make().String(),
			Subject:   userID.String(),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(SessionTokenExpiry)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", oops.Code("SESSION_TOKEN_SIGN_FAILED").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return Token(signed), nil
}

// Verify checks the signature, algorithm and expiry of token and returns its
// claims. Expired tokens fail with ErrSessionExpired, everything else with
// ErrSessionInvalid.
func (s *TokenService) Verify(token string) (*Claims, error) {
	if token == "" {
		return nil, oops.Code(CodeSessionInvalid).Wrap(ErrSessionInvalid)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, oops.Code(CodeSessionExpired).Wrap(errors.Join(ErrSessionExpired, err))
		}
		return nil, oops.Code(CodeSessionInvalid).Wrap(errors.Join(ErrSessionInvalid, err))
	}

	if _, err := claims.UserID(); err != nil {
		return nil, err
	}
	return claims, nil
}
