// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package mail

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/samber/oops"
	gomail "github.com/wneessen/go-mail"
)

// smtpTimeout bounds dialing and each SMTP command.
const smtpTimeout = 15 * time.Second

// SMTPConfig addresses an SMTP relay. Auth is PLAIN and only used when User
// is set. STARTTLS is used when the relay offers it.
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
}

// Addr returns host:port.
func (c SMTPConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate checks the relay address.
func (c SMTPConfig) Validate() error {
	if c.Host == "" {
		return oops.Code("MAIL_SMTP_CONFIG_INVALID").Errorf("smtp host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return oops.Code("MAIL_SMTP_CONFIG_INVALID").With("port", c.Port).Errorf("smtp port out of range")
	}
	return nil
}

// smtpClient delivers composed messages. *gomail.Client satisfies it.
type smtpClient interface {
	DialAndSendWithContext(ctx context.Context, messages ...*gomail.Msg) error
}

// SMTPSender renders messages and submits them to an SMTP relay.
type SMTPSender struct {
	cfg      SMTPConfig
	renderer *Renderer
	client   smtpClient
	now      func() time.Time
}

// NewSMTPSender creates an SMTPSender. No connection is made until Send.
func NewSMTPSender(cfg SMTPConfig, renderer *Renderer) (*SMTPSender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := newSMTPClient(cfg)
	if err != nil {
		return nil, err
	}
	return &SMTPSender{cfg: cfg, renderer: renderer, client: client, now: time.Now}, nil
}

func newSMTPClient(cfg SMTPConfig) (*gomail.Client, error) {
	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(smtpTimeout),
	}
	if cfg.User != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.User),
			gomail.WithPassword(cfg.Password),
		)
	}
	client, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, oops.Code("MAIL_SMTP_CONFIG_INVALID").With("addr", cfg.Addr()).Wrap(err)
	}
	return client, nil
}

// Send renders msg and submits it over one SMTP session.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return oops.Code("MAIL_SEND_FAILED").With("transport", "smtp").Wrap(err)
	}

	rendered, err := s.renderer.Render(msg)
	if err != nil {
		return err
	}
	m, err := s.compose(msg, rendered)
	if err != nil {
		return err
	}

	if err := s.client.DialAndSendWithContext(ctx, m); err != nil {
		return oops.Code("MAIL_SEND_FAILED").
			With("transport", "smtp").
			With("addr", s.cfg.Addr()).
			With("template", msg.Template).
			Wrap(err)
	}
	return nil
}

func (s *SMTPSender) compose(msg Message, r Rendered) (*gomail.Msg, error) {
	m := gomail.NewMsg()
	if err := m.From(msg.From); err != nil {
		return nil, oops.Code("MAIL_INVALID_MESSAGE").With("from", msg.From).Wrap(err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, oops.Code("MAIL_INVALID_MESSAGE").With("to", msg.To).Wrap(err)
	}
	m.Subject(r.Subject)
	m.SetDateWithValue(s.now())
	m.SetBodyString(gomail.TypeTextPlain, r.Body)
	return m, nil
}
