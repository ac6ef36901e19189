// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package postgres implements auth.UserRepository on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/passport/internal/auth"
)

// Pool is the subset of pgxpool.Pool the repository uses. pgxmock.PgxPoolIface
// satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// UserRepository implements auth.UserRepository using PostgreSQL.
type UserRepository struct {
	pool Pool
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(pool Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// Create stores a new user. A unique violation on email maps to
// auth.ErrEmailTaken.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (
			id, name, email, password_hash,
			password_reset_token_hash, password_reset_expires_at,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		user.ID.String(),
		user.Name,
		user.Email,
		user.PasswordHash,
		user.ResetTokenHash,
		user.ResetExpiresAt,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return oops.Code("USER_CREATE_FAILED").
				With("email", user.Email).
				With("constraint", pgErr.ConstraintName).
				Wrap(errors.Join(auth.ErrEmailTaken, err))
		}
		return oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			With("email", user.Email).
			Wrap(err)
	}
	return nil
}

// GetByEmail retrieves a user by exact, case-sensitive email. Hidden columns
// are selected only when requested.
func (r *UserRepository) GetByEmail(ctx context.Context, email string, fields ...auth.Field) (*auth.User, error) {
	p := auth.Project(fields...)
	row := r.pool.QueryRow(ctx, selectUsers(p)+` WHERE email = $1`, email)

	user, err := scanUser(row, p)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("email", email).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_EMAIL_FAILED").
			With("operation", "get user by email").
			With("email", email).
			Wrap(err)
	}
	return user, nil
}

// GetByID retrieves a user by ID without hidden columns.
func (r *UserRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	p := auth.Project()
	row := r.pool.QueryRow(ctx, selectUsers(p)+` WHERE id = $1`, id.String())

	user, err := scanUser(row, p)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_ID_FAILED").
			With("operation", "get user by id").
			With("id", id.String()).
			Wrap(err)
	}
	return user, nil
}

// SetPasswordReset records a pending reset, replacing any earlier one.
func (r *UserRepository) SetPasswordReset(ctx context.Context, id ulid.ULID, tokenHash string, expiresAt time.Time) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE users SET
			password_reset_token_hash = $2,
			password_reset_expires_at = $3,
			updated_at = now()
		WHERE id = $1
	`, id.String(), tokenHash, expiresAt)
	if err != nil {
		return oops.Code("USER_SET_RESET_FAILED").
			With("operation", "set password reset").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// Save overwrites the user row. No version check is made; the last write wins.
func (r *UserRepository) Save(ctx context.Context, user *auth.User) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE users SET
			name = $2,
			email = $3,
			password_hash = $4,
			password_reset_token_hash = $5,
			password_reset_expires_at = $6,
			updated_at = $7
		WHERE id = $1
	`,
		user.ID.String(),
		user.Name,
		user.Email,
		user.PasswordHash,
		user.ResetTokenHash,
		user.ResetExpiresAt,
		user.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return oops.Code("USER_SAVE_FAILED").
				With("email", user.Email).
				Wrap(errors.Join(auth.ErrEmailTaken, err))
		}
		return oops.Code("USER_SAVE_FAILED").
			With("operation", "update user").
			With("id", user.ID.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", user.ID.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// Column lists. Hidden columns are appended after the public ones in this order.
const (
	publicColumns = "id, name, email, created_at, updated_at"
	hashColumn    = "password_hash"
	resetColumns  = "password_reset_token_hash, password_reset_expires_at"
)

func selectUsers(p auth.Projection) string {
	cols := []string{publicColumns}
	if p.PasswordHash {
		cols = append(cols, hashColumn)
	}
	if p.PasswordReset {
		cols = append(cols, resetColumns)
	}
	return "SELECT " + strings.Join(cols, ", ") + " FROM users"
}

func scanUser(row pgx.Row, p auth.Projection) (*auth.User, error) {
	var (
		idStr string
		u     auth.User
	)
	dest := []any{&idStr, &u.Name, &u.Email, &u.CreatedAt, &u.UpdatedAt}
	if p.PasswordHash {
		dest = append(dest, &u.PasswordHash)
	}
	if p.PasswordReset {
		dest = append(dest, &u.ResetTokenHash, &u.ResetExpiresAt)
	}

	// QueryRow defers query errors to Scan. Callers wrap them with the lookup
	// code and operation.
	if err := row.Scan(dest...); err != nil {
		return nil, err //nolint:wrapcheck // wrapped by GetByEmail and GetByID
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("USER_INVALID_ID").
			With("id", idStr).
			Wrap(err)
	}
	u.ID = id

	// A half-set pair is treated as no pending reset.
	if !u.HasPendingReset() {
		u.ClearPasswordReset()
	}
	return &u, nil
}
