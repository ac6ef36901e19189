// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package mail delivers templated outbound mail through a pluggable transport.
package mail

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
)

// TemplateForgotPassword is the template carrying a password-reset secret.
const TemplateForgotPassword = "forgot_password"

// Message is one outbound mail. Context feeds the template.
type Message struct {
	To       string         `json:"to"`
	From     string         `json:"from"`
	Template string         `json:"template"`
	Context  map[string]any `json:"context,omitempty"`
}

// Validate checks the addressing fields.
func (m Message) Validate() error {
	if m.To == "" {
		return oops.Code("MAIL_INVALID_MESSAGE").Errorf("recipient is required")
	}
	if m.From == "" {
		return oops.Code("MAIL_INVALID_MESSAGE").Errorf("sender is required")
	}
	if m.Template == "" {
		return oops.Code("MAIL_INVALID_MESSAGE").Errorf("template is required")
	}
	return nil
}

// Sender delivers a Message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender renders messages and writes them to a logger instead of sending
// them. Intended for development.
type LogSender struct {
	renderer *Renderer
	logger   *slog.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(renderer *Renderer, logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{renderer: renderer, logger: logger}
}

// Send renders msg and logs its envelope. The body carries reset secrets and
// is never logged.
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	rendered, err := s.renderer.Render(msg)
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "mail",
		"to", msg.To,
		"from", msg.From,
		"template", msg.Template,
		"subject", rendered.Subject,
		"body_bytes", len(rendered.Body),
	)
	return nil
}
