// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gomail "github.com/wneessen/go-mail"

	"github.com/holomush/passport/pkg/errutil"
)

func resetMessage() Message {
	return Message{
		To:       "ada@example.com",
		From:     "forgot_password@example.com",
		Template: TemplateForgotPassword,
		Context: map[string]any{
			"token":      "deadbeef",
			"link":       "https://example.com/reset?token=deadbeef",
			"name":       "Ada",
			"expires_at": time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		},
	}
}

func TestMessage_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Message)
	}{
		{"missing recipient", func(m *Message) { m.To = "" }},
		{"missing sender", func(m *Message) { m.From = "" }},
		{"missing template", func(m *Message) { m.Template = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := resetMessage()
			tt.mutate(&msg)
			err := msg.Validate()
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, "MAIL_INVALID_MESSAGE")
		})
	}

	require.NoError(t, resetMessage().Validate())
}

func TestRenderer_ForgotPassword(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	out, err := r.Render(resetMessage())
	require.NoError(t, err)
	assert.Equal(t, "Reset your password", out.Subject)
	assert.Contains(t, out.Body, "Hello Ada,")
	assert.Contains(t, out.Body, "deadbeef")
	assert.Contains(t, out.Body, "https://example.com/reset?token=deadbeef")
}

func TestRenderer_OmitsEmptyOptionalFields(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	msg := resetMessage()
	msg.Context = map[string]any{"token": "cafe", "expires_at": "soon"}
	out, err := r.Render(msg)
	require.NoError(t, err)
	assert.Contains(t, out.Body, "Hello,")
	assert.NotContains(t, out.Body, " or open ")
	assert.Contains(t, out.Body, "cafe")
}

func TestRenderer_UnknownTemplate(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	msg := resetMessage()
	msg.Template = "welcome"
	_, err = r.Render(msg)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "MAIL_TEMPLATE_UNKNOWN")
}

func TestLogSender_Send(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	s := NewLogSender(r, logger)

	require.NoError(t, s.Send(context.Background(), resetMessage()))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "mail", entry["msg"])
	assert.Equal(t, "ada@example.com", entry["to"])
	assert.Equal(t, "Reset your password", entry["subject"])
	assert.Greater(t, entry["body_bytes"], float64(0))
	assert.NotContains(t, entry, "body")
	assert.NotContains(t, buf.String(), "deadbeef", "reset secret must not reach the log")
}

// fakeSMTPClient records messages instead of dialing a relay.
type fakeSMTPClient struct {
	sent []*gomail.Msg
	err  error
}

func (f *fakeSMTPClient) DialAndSendWithContext(_ context.Context, messages ...*gomail.Msg) error {
	f.sent = append(f.sent, messages...)
	return f.err
}

func TestSMTPSender(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)
	sentAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	newSender := func(t *testing.T, cfg SMTPConfig) (*SMTPSender, *fakeSMTPClient) {
		t.Helper()
		s, err := NewSMTPSender(cfg, r)
		require.NoError(t, err)
		require.IsType(t, &gomail.Client{}, s.client)
		fake := &fakeSMTPClient{}
		s.client = fake
		s.now = func() time.Time { return sentAt }
		return s, fake
	}

	t.Run("rejects invalid config", func(t *testing.T) {
		_, err := NewSMTPSender(SMTPConfig{Port: 25}, r)
		errutil.AssertErrorCode(t, err, "MAIL_SMTP_CONFIG_INVALID")

		_, err = NewSMTPSender(SMTPConfig{Host: "localhost", Port: 70000}, r)
		errutil.AssertErrorCode(t, err, "MAIL_SMTP_CONFIG_INVALID")
	})

	t.Run("submits rendered message", func(t *testing.T) {
		s, fake := newSender(t, SMTPConfig{Host: "smtp.example.com", Port: 587, User: "u", Password: "p"})

		require.NoError(t, s.Send(context.Background(), resetMessage()))
		require.Len(t, fake.sent, 1)
		m := fake.sent[0]

		require.Len(t, m.GetFrom(), 1)
		assert.Equal(t, "forgot_password@example.com", m.GetFrom()[0].Address)
		require.Len(t, m.GetTo(), 1)
		assert.Equal(t, "ada@example.com", m.GetTo()[0].Address)
		assert.Equal(t, []string{"Reset your password"}, m.GetGenHeader(gomail.HeaderSubject))

		var raw bytes.Buffer
		_, err := m.WriteTo(&raw)
		require.NoError(t, err)
		assert.Contains(t, raw.String(), "deadbeef")
		assert.Contains(t, raw.String(), "text/plain")
	})

	t.Run("rejects malformed address", func(t *testing.T) {
		s, fake := newSender(t, SMTPConfig{Host: "localhost", Port: 25})
		msg := resetMessage()
		msg.To = "not an address"

		err := s.Send(context.Background(), msg)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "MAIL_INVALID_MESSAGE")
		errutil.AssertErrorContext(t, err, "to", "not an address")
		assert.Empty(t, fake.sent)
	})

	t.Run("wraps transport failure", func(t *testing.T) {
		s, fake := newSender(t, SMTPConfig{Host: "localhost", Port: 25})
		fake.err = errors.New("connection refused")

		err := s.Send(context.Background(), resetMessage())
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "MAIL_SEND_FAILED")
		errutil.AssertErrorContext(t, err, "transport", "smtp")
		errutil.AssertErrorContext(t, err, "addr", "localhost:25")
	})

	t.Run("honours cancelled context", func(t *testing.T) {
		s, fake := newSender(t, SMTPConfig{Host: "localhost", Port: 25})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := s.Send(ctx, resetMessage())
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, fake.sent)
	})
}

type fakeEnqueuer struct {
	tasks  []*asynq.Task
	err    error
	closed bool
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Queue: QueueName, Type: task.Type()}, nil
}

func (f *fakeEnqueuer) Close() error {
	f.closed = true
	return nil
}

func TestQueueSender_Send(t *testing.T) {
	t.Run("enqueues encoded message", func(t *testing.T) {
		q := &fakeEnqueuer{}
		s := &QueueSender{client: q}

		require.NoError(t, s.Send(context.Background(), resetMessage()))
		require.Len(t, q.tasks, 1)
		assert.Equal(t, TaskTypeSend, q.tasks[0].Type())

		var got Message
		require.NoError(t, json.Unmarshal(q.tasks[0].Payload(), &got))
		assert.Equal(t, "ada@example.com", got.To)
		assert.Equal(t, TemplateForgotPassword, got.Template)
		assert.Equal(t, "deadbeef", got.Context["token"])
	})

	t.Run("wraps enqueue failure", func(t *testing.T) {
		s := &QueueSender{client: &fakeEnqueuer{err: errors.New("redis down")}}
		err := s.Send(context.Background(), resetMessage())
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "MAIL_ENQUEUE_FAILED")
	})

	t.Run("rejects invalid message before enqueue", func(t *testing.T) {
		q := &fakeEnqueuer{}
		s := &QueueSender{client: q}
		msg := resetMessage()
		msg.To = ""
		require.Error(t, s.Send(context.Background(), msg))
		assert.Empty(t, q.tasks)
	})

	t.Run("requires address", func(t *testing.T) {
		_, err := NewQueueSender("")
		errutil.AssertErrorCode(t, err, "MAIL_QUEUE_CONFIG_INVALID")
	})
}

func TestQueueSender_Ping(t *testing.T) {
	mr := miniredis.RunT(t)
	q := &fakeEnqueuer{}
	s := &QueueSender{client: q, redis: redis.NewClient(&redis.Options{Addr: mr.Addr()})}

	require.NoError(t, s.Ping(context.Background()))

	mr.Close()
	err := s.Ping(context.Background())
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "MAIL_QUEUE_UNAVAILABLE")

	require.NoError(t, s.Close())
	assert.True(t, q.closed)
}

type recordingSender struct {
	sent []Message
	err  error
}

func (r *recordingSender) Send(_ context.Context, msg Message) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

func TestTaskHandler_ProcessTask(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers decoded message", func(t *testing.T) {
		rec := &recordingSender{}
		h := NewTaskHandler(rec, nil)
		task, err := NewSendTask(resetMessage())
		require.NoError(t, err)

		require.NoError(t, h.ProcessTask(ctx, task))
		require.Len(t, rec.sent, 1)
		assert.Equal(t, "ada@example.com", rec.sent[0].To)
	})

	t.Run("skips retry on bad payload", func(t *testing.T) {
		h := NewTaskHandler(&recordingSender{}, nil)
		err := h.ProcessTask(ctx, asynq.NewTask(TaskTypeSend, []byte("{not json")))
		require.Error(t, err)
		assert.ErrorIs(t, err, asynq.SkipRetry)
		errutil.AssertErrorCode(t, err, "MAIL_TASK_DECODE_FAILED")
		errutil.AssertErrorContext(t, err, "task_type", TaskTypeSend)
	})

	t.Run("skips retry on invalid message", func(t *testing.T) {
		h := NewTaskHandler(&recordingSender{}, nil)
		err := h.ProcessTask(ctx, asynq.NewTask(TaskTypeSend, []byte(`{"to":"a@b.c"}`)))
		require.Error(t, err)
		assert.ErrorIs(t, err, asynq.SkipRetry)
		errutil.AssertErrorCode(t, err, "MAIL_INVALID_MESSAGE")
		errutil.AssertErrorContext(t, err, "operation", "validate mail task")
	})

	t.Run("returns delivery error for retry", func(t *testing.T) {
		boom := errors.New("relay unavailable")
		h := NewTaskHandler(&recordingSender{err: boom}, nil)
		task, err := NewSendTask(resetMessage())
		require.NoError(t, err)

		err = h.ProcessTask(ctx, task)
		require.Error(t, err)
		assert.ErrorIs(t, err, boom)
		assert.NotErrorIs(t, err, asynq.SkipRetry)
	})
}

func TestNewWorker_Validation(t *testing.T) {
	_, err := NewWorker("", 1, NewTaskHandler(&recordingSender{}, nil), nil)
	errutil.AssertErrorCode(t, err, "MAIL_QUEUE_CONFIG_INVALID")

	_, err = NewWorker("localhost:6379", 1, nil, nil)
	errutil.AssertErrorCode(t, err, "MAIL_QUEUE_CONFIG_INVALID")
}
