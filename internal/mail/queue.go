// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package mail

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

// Queue settings for mail tasks.
const (
	QueueName    = "mail"
	TaskTypeSend = "mail:send"
	maxRetry     = 5
)

// NewSendTask encodes msg as a TaskTypeSend task.
func NewSendTask(msg Message) (*asynq.Task, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, oops.Code("MAIL_TASK_ENCODE_FAILED").With("template", msg.Template).Wrap(err)
	}
	return asynq.NewTask(TaskTypeSend, data), nil
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// QueueSender hands messages to a worker through Redis. Send succeeds once
// the task is enqueued; delivery happens in the worker.
type QueueSender struct {
	client enqueuer
	redis  *redis.Client
}

// NewQueueSender connects an asynq client to the Redis server at addr.
func NewQueueSender(addr string) (*QueueSender, error) {
	if addr == "" {
		return nil, oops.Code("MAIL_QUEUE_CONFIG_INVALID").Errorf("redis address is required")
	}
	return &QueueSender{
		client: asynq.NewClient(asynq.RedisClientOpt{Addr: addr}),
		redis:  redis.NewClient(&redis.Options{Addr: addr}),
	}, nil
}

// Send enqueues msg on the mail queue.
func (s *QueueSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	task, err := NewSendTask(msg)
	if err != nil {
		return err
	}
	info, err := s.client.EnqueueContext(ctx, task, asynq.Queue(QueueName), asynq.MaxRetry(maxRetry))
	if err != nil {
		return oops.Code("MAIL_ENQUEUE_FAILED").
			With("transport", "queue").
			With("template", msg.Template).
			Wrap(err)
	}
	slog.DebugContext(ctx, "mail enqueued", "task_id", info.ID, "queue", info.Queue)
	return nil
}

// Ping checks that Redis is reachable. Used as a readiness check.
func (s *QueueSender) Ping(ctx context.Context) error {
	if s.redis == nil {
		return nil
	}
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return oops.Code("MAIL_QUEUE_UNAVAILABLE").Wrap(err)
	}
	return nil
}

// Close releases the Redis connections.
func (s *QueueSender) Close() error {
	var errs []error
	if err := s.client.Close(); err != nil {
		errs = append(errs, err)
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return oops.Code("MAIL_QUEUE_CLOSE_FAILED").Wrap(errors.Join(errs...))
	}
	return nil
}

// TaskHandler delivers queued mail through a Sender. It implements
// asynq.Handler.
type TaskHandler struct {
	sender Sender
	logger *slog.Logger
}

// NewTaskHandler creates a TaskHandler.
func NewTaskHandler(sender Sender, logger *slog.Logger) *TaskHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskHandler{sender: sender, logger: logger}
}

// ProcessTask decodes and delivers one message. Undecodable payloads are not
// retried.
func (h *TaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var msg Message
	if err := json.Unmarshal(t.Payload(), &msg); err != nil {
		h.logger.WarnContext(ctx, "dropping undecodable mail task", "error", err)
		return oops.Code("MAIL_TASK_DECODE_FAILED").
			With("task_type", t.Type()).
			Wrap(errors.Join(err, asynq.SkipRetry))
	}
	if err := msg.Validate(); err != nil {
		h.logger.WarnContext(ctx, "dropping invalid mail task", "error", err)
		return oops.With("operation", "validate mail task").
			With("task_type", t.Type()).
			Wrap(errors.Join(err, asynq.SkipRetry))
	}
	if err := h.sender.Send(ctx, msg); err != nil {
		return oops.With("operation", "deliver queued mail").With("template", msg.Template).Wrap(err)
	}
	return nil
}

// Worker runs the asynq server that drains the mail queue.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *slog.Logger
}

// NewWorker creates a Worker reading from the Redis server at addr.
func NewWorker(addr string, concurrency int, handler *TaskHandler, logger *slog.Logger) (*Worker, error) {
	if addr == "" {
		return nil, oops.Code("MAIL_QUEUE_CONFIG_INVALID").Errorf("redis address is required")
	}
	if handler == nil {
		return nil, oops.Code("MAIL_QUEUE_CONFIG_INVALID").Errorf("task handler is required")
	}
	if concurrency <= 0 {
		concurrency = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	srv := asynq.NewServer(asynq.RedisClientOpt{Addr: addr}, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{QueueName: 1},
	})
	mux := asynq.NewServeMux()
	mux.Handle(TaskTypeSend, handler)
	return &Worker{server: srv, mux: mux, logger: logger}, nil
}

// Run processes tasks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return oops.Code("MAIL_WORKER_FAILED").Wrap(err)
	}
	w.logger.InfoContext(ctx, "mail worker started", "queue", QueueName)

	<-ctx.Done()
	w.server.Shutdown()
	w.logger.InfoContext(context.Background(), "mail worker stopped")
	return nil
}
