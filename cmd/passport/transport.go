// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/samber/oops"

	"github.com/holomush/passport/internal/config"
	"github.com/holomush/passport/internal/mail"
	"github.com/holomush/passport/internal/observability"
)

// newTransport builds the sender for cfg.Mail.Transport.
func newTransport(cfg *config.Config, logger *slog.Logger) (*Transport, error) {
	renderer, err := mail.NewRenderer()
	if err != nil {
		return nil, oops.Code("MAIL_SETUP_FAILED").With("operation", "load templates").Wrap(err)
	}

	switch cfg.Mail.Transport {
	case config.MailSMTP:
		sender, err := mail.NewSMTPSender(smtpConfig(cfg), renderer)
		if err != nil {
			return nil, oops.Code("MAIL_SETUP_FAILED").With("transport", config.MailSMTP).Wrap(err)
		}
		return &Transport{Name: config.MailSMTP, Sender: sender, Close: noopClose}, nil
	case config.MailQueue:
		sender, err := mail.NewQueueSender(cfg.Mail.Queue.Redis)
		if err != nil {
			return nil, oops.Code("MAIL_SETUP_FAILED").With("transport", config.MailQueue).Wrap(err)
		}
		return &Transport{Name: config.MailQueue, Sender: sender, Ready: sender.Ping, Close: sender.Close}, nil
	default:
		return &Transport{Name: config.MailLog, Sender: mail.NewLogSender(renderer, logger), Close: noopClose}, nil
	}
}

// deliverySender picks how the worker delivers dequeued mail: SMTP when a
// relay is configured, the log otherwise.
func deliverySender(cfg *config.Config, logger *slog.Logger) (string, mail.Sender, error) {
	renderer, err := mail.NewRenderer()
	if err != nil {
		return "", nil, oops.Code("MAIL_SETUP_FAILED").With("operation", "load templates").Wrap(err)
	}
	if cfg.Mail.SMTP.Host == "" {
		return config.MailLog, mail.NewLogSender(renderer, logger), nil
	}
	sender, err := mail.NewSMTPSender(smtpConfig(cfg), renderer)
	if err != nil {
		return "", nil, oops.Code("MAIL_SETUP_FAILED").With("transport", config.MailSMTP).Wrap(err)
	}
	return config.MailSMTP, sender, nil
}

func smtpConfig(cfg *config.Config) mail.SMTPConfig {
	return mail.SMTPConfig{
		Host:     cfg.Mail.SMTP.Host,
		Port:     cfg.Mail.SMTP.Port,
		User:     cfg.Mail.SMTP.User,
		Password: cfg.Mail.SMTP.Password,
	}
}

func noopClose() error { return nil }

// observedSender counts deliveries per transport and outcome.
type observedSender struct {
	next      mail.Sender
	transport string
	metrics   *observability.Metrics
}

func (s observedSender) Send(ctx context.Context, msg mail.Message) error {
	err := s.next.Send(ctx, msg)
	outcome := observability.OutcomeSuccess
	if err != nil {
		outcome = observability.OutcomeError
	}
	s.metrics.RecordMail(s.transport, outcome)
	return err //nolint:wrapcheck // pass-through decorator
}
