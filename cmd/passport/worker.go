// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/passport/internal/config"
	"github.com/holomush/passport/internal/logging"
	"github.com/holomush/passport/internal/mail"
	"github.com/holomush/passport/internal/observability"
)

// NewWorkerCmd creates the worker subcommand.
func NewWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Deliver mail queued by the queue transport",
		Long: `Drain the Redis-backed mail queue filled by "serve" when
mail.transport is "queue". Messages are sent through SMTP when
mail.smtp.host is set and logged otherwise.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runWorkerWithDeps(ctx, cfg, cmd, nil)
		},
	}

	config.RegisterFlags(cmd.Flags())
	return cmd
}

// runWorkerWithDeps processes queued mail until ctx is cancelled.
func runWorkerWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *WorkerDeps) error {
	if err := cfg.ValidateWorker(); err != nil {
		return err //nolint:wrapcheck // config errors carry their own codes
	}
	deps = deps.withDefaults()
	logger := logging.SetDefault("passport-worker", version, cfg.Log.Format)

	name, sender, err := deliverySender(cfg, logger)
	if err != nil {
		return err
	}

	registry := observability.NewRegistry()
	metrics := observability.NewMetrics(registry)
	handler := mail.NewTaskHandler(observedSender{next: sender, transport: name, metrics: metrics}, logger)

	worker, err := deps.WorkerFactory(cfg.Mail.Queue.Redis, cfg.Worker.Concurrency, handler, logger)
	if err != nil {
		return oops.Code("WORKER_START_FAILED").With("redis", cfg.Mail.Queue.Redis).Wrap(err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var obsServer ObservabilityServer
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, registry)
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").With("addr", cfg.Metrics.Addr).Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	cmd.Println("Mail worker started")
	logger.Info("mail worker ready",
		"redis", cfg.Mail.Queue.Redis,
		"concurrency", cfg.Worker.Concurrency,
		"delivery", name,
	)

	runErr := worker.Run(ctx)

	if obsServer != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		if err := obsServer.Stop(stopCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}

	logger.Info("shutdown complete")
	if runErr != nil {
		return oops.Code("WORKER_FAILED").Wrap(runErr)
	}
	return nil
}
