// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/url"

	"github.com/samber/oops"

	"github.com/holomush/passport/internal/mail"
)

// Mailer delivers outbound mail. Only success or failure matters here.
type Mailer interface {
	Send(ctx context.Context, msg mail.Message) error
}

// ResetMailConfig is the sender identity and link base for reset mails.
type ResetMailConfig struct {
	From string
	// Link is the page that accepts the reset secret. The token and email are
	// appended as query parameters. Empty means the mail carries the bare token.
	Link string
}

// PasswordResetService issues and consumes password-reset secrets.
type PasswordResetService struct {
	users  UserRepository
	hasher PasswordHasher
	mailer Mailer
	mail   ResetMailConfig
	now    Clock
	logger *slog.Logger
}

// NewPasswordResetService creates a PasswordResetService.
func NewPasswordResetService(
	users UserRepository,
	hasher PasswordHasher,
	mailer Mailer,
	cfg ResetMailConfig,
	opts ...Option,
) (*PasswordResetService, error) {
	if users == nil {
		return nil, oops.Code("RESET_INVALID_CONFIG").Errorf("user repository is required")
	}
	if hasher == nil {
		return nil, oops.Code("RESET_INVALID_CONFIG").Errorf("password hasher is required")
	}
	if mailer == nil {
		return nil, oops.Code("RESET_INVALID_CONFIG").Errorf("mailer is required")
	}
	if cfg.From == "" {
		return nil, oops.Code("RESET_INVALID_CONFIG").Errorf("mail sender is required")
	}
	if cfg.Link != "" {
		if _, err := url.Parse(cfg.Link); err != nil {
			return nil, oops.Code("RESET_INVALID_CONFIG").With("link", cfg.Link).Wrap(err)
		}
	}
	o := applyOptions(opts)
	return &PasswordResetService{
		users:  users,
		hasher: hasher,
		mailer: mailer,
		mail:   cfg,
		now:    o.now,
		logger: o.logger,
	}, nil
}

// RequestReset stores a fresh reset secret for the user and mails it.
// A second request overwrites the first, invalidating its secret. A mail
// failure returns ErrMailDelivery but the stored secret is kept.
func (s *PasswordResetService) RequestReset(ctx context.Context, email string) error {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code(CodeUserNotFound).With("email", email).Wrap(ErrUserNotFound)
		}
		return persistenceFailure("get user by email", err)
	}

	token, hash, err := GenerateResetToken()
	if err != nil {
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "generate reset token").
			Wrap(err)
	}

	expiresAt := s.now().Add(ResetTokenExpiry)
	if err := s.users.SetPasswordReset(ctx, user.ID, hash, expiresAt); err != nil {
		return persistenceFailure("set password reset", err)
	}

	msg := mail.Message{
		To:       user.Email,
		From:     s.mail.From,
		Template: mail.TemplateForgotPassword,
		Context: map[string]any{
			"token":      token,
			"link":       s.resetLink(user.Email, token),
			"name":       user.Name,
			"expires_at": expiresAt,
		},
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		return wrapKind(oops.Code(CodeMailDelivery).
			With("user_id", user.ID.String()).
			With("template", msg.Template),
			ErrMailDelivery, err)
	}

	s.logger.InfoContext(ctx, "password reset requested", "user_id", user.ID.String())
	return nil
}

// ConfirmReset replaces the password if token matches the stored secret and
// has not expired. The match is checked before the expiry, and nothing is
// written unless both pass. On success the secret is cleared.
func (s *PasswordResetService) ConfirmReset(ctx context.Context, email, token, newPassword string) error {
	user, err := s.users.GetByEmail(ctx, email, FieldPasswordHash, FieldPasswordReset)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code(CodeUserNotFound).With("email", email).Wrap(ErrUserNotFound)
		}
		return persistenceFailure("get user by email", err)
	}

	if !user.HasPendingReset() || !VerifyResetToken(token, *user.ResetTokenHash) {
		return oops.Code(CodeTokenMismatch).
			With("user_id", user.ID.String()).
			Wrap(ErrTokenMismatch)
	}

	now := s.now()
	if user.ResetState(now) == ResetExpired {
		return oops.Code(CodeTokenExpired).
			With("user_id", user.ID.String()).
			With("expired_at", *user.ResetExpiresAt).
			Wrap(ErrTokenExpired)
	}

	if newPassword == "" {
		return emptyPassword()
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return oops.Code("RESET_PASSWORD_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	user.PasswordHash = hash
	user.ClearPasswordReset()
	user.UpdatedAt = now
	if err := s.users.Save(ctx, user); err != nil {
		return persistenceFailure("save user", err)
	}

	s.logger.InfoContext(ctx, "password reset completed", "user_id", user.ID.String())
	return nil
}

func (s *PasswordResetService) resetLink(email, token string) string {
	if s.mail.Link == "" {
		return ""
	}
	u, err := url.Parse(s.mail.Link)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("email", email)
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}
