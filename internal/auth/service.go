// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/passport/pkg/errutil"
)

// dummyPasswordHash is verified against when the email is unknown so that
// lookups for missing users take as long as real ones. It matches no password.
//
//nolint:gosec // G101: not a credential
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// Authenticator registers users and verifies their credentials.
type Authenticator struct {
	users  UserRepository
	hasher PasswordHasher
	tokens *TokenService
	now    Clock
	logger *slog.Logger
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(users UserRepository, hasher PasswordHasher, tokens *TokenService, opts ...Option) (*Authenticator, error) {
	if users == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("user repository is required")
	}
	if hasher == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("password hasher is required")
	}
	if tokens == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("token service is required")
	}
	o := applyOptions(opts)
	return &Authenticator{
		users:  users,
		hasher: hasher,
		tokens: tokens,
		now:    o.now,
		logger: o.logger,
	}, nil
}

// Register creates a user and issues a session token for it.
// The returned user carries no password hash.
func (a *Authenticator) Register(ctx context.Context, email, password string, profile Profile) (*User, Token, error) {
	if password == "" {
		return nil, "", emptyPassword()
	}

	_, err := a.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		return nil, "", duplicateEmail(email)
	case !errors.Is(err, ErrNotFound):
		return nil, "", persistenceFailure("get user by email", err)
	}

	hash, err := a.hasher.Hash(password)
	if err != nil {
		return nil, "", oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	user, err := NewUser(email, hash, profile, a.now())
	if err != nil {
		return nil, "", err
	}

	if err := a.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, "", duplicateEmail(email)
		}
		return nil, "", persistenceFailure("create user", err)
	}

	token, err := a.tokens.Issue(user.ID)
	if err != nil {
		return nil, "", err
	}
	return user.Public(), token, nil
}

// Authenticate verifies email and password and issues a session token.
// Unknown emails fail with ErrUserNotFound and wrong passwords with
// ErrInvalidCredential; both take the same hashing time.
func (a *Authenticator) Authenticate(ctx context.Context, email, password string) (*User, Token, error) {
	user, lookupErr := a.users.GetByEmail(ctx, email, FieldPasswordHash)

	target := dummyPasswordHash
	switch {
	case lookupErr == nil:
		target = user.PasswordHash
	case !errors.Is(lookupErr, ErrNotFound):
		return nil, "", persistenceFailure("get user by email", lookupErr)
	}

	valid, verifyErr := a.hasher.Verify(password, target)
	if lookupErr != nil {
		return nil, "", oops.Code(CodeUserNotFound).
			With("email", email).
			Wrap(ErrUserNotFound)
	}
	if verifyErr != nil {
		return nil, "", oops.Code("AUTH_VERIFY_FAILED").
			With("operation", "verify password").
			With("user_id", user.ID.String()).
			Wrap(verifyErr)
	}
	if !valid {
		return nil, "", oops.Code(CodeInvalidCredentials).
			With("user_id", user.ID.String()).
			Wrap(ErrInvalidCredential)
	}

	if a.hasher.NeedsUpgrade(user.PasswordHash) {
		a.upgradeHash(ctx, user, password)
	}

	token, err := a.tokens.Issue(user.ID)
	if err != nil {
		return nil, "", err
	}
	return user.Public(), token, nil
}

// upgradeHash rehashes a legacy or under-cost hash. Failure only logs; the
// login already succeeded.
func (a *Authenticator) upgradeHash(ctx context.Context, user *User, password string) {
	hash, err := a.hasher.Hash(password)
	if err != nil {
		errutil.LogErrorContext(ctx, a.logger, "password hash upgrade failed", err, "user_id", user.ID.String())
		return
	}

	full, err := a.users.GetByEmail(ctx, user.Email, FieldPasswordHash, FieldPasswordReset)
	if err != nil {
		errutil.LogErrorContext(ctx, a.logger, "password hash upgrade failed",
			oops.With("operation", "reload user").With("user_id", user.ID.String()).Wrap(err))
		return
	}
	full.PasswordHash = hash
	full.UpdatedAt = a.now()
	if err := a.users.Save(ctx, full); err != nil {
		errutil.LogErrorContext(ctx, a.logger, "password hash upgrade failed",
			oops.With("operation", "save user").With("user_id", user.ID.String()).Wrap(err))
		return
	}
	a.logger.InfoContext(ctx, "password hash upgraded", "user_id", user.ID.String())
}

// CurrentUser resolves the subject of a verified session token.
func (a *Authenticator) CurrentUser(ctx context.Context, userID ulid.ULID) (*User, error) {
	user, err := a.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code(CodeUserNotFound).
				With("user_id", userID.String()).
				Wrap(ErrUserNotFound)
		}
		return nil, persistenceFailure("get user by id", err)
	}
	return user.Public(), nil
}

func duplicateEmail(email string) error {
	return oops.Code(CodeDuplicateEmail).
		With("email", email).
		Wrap(ErrDuplicateEmail)
}

func persistenceFailure(op string, err error) error {
	return wrapKind(oops.Code(CodePersistence).With("operation", op), ErrPersistence, err)
}
