// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/passport/internal/auth"
	"github.com/holomush/passport/internal/config"
	"github.com/holomush/passport/internal/httpapi"
	"github.com/holomush/passport/internal/logging"
	"github.com/holomush/passport/internal/observability"
)

const readHeaderTimeout = 10 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the auth HTTP API",
		Long: `Start the HTTP API serving registration, authentication and the
forgot/reset password flow. Settings come from --config, the environment
(PASSPORT_*, DATABASE_URL) and flags, in increasing precedence.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServeWithDeps(ctx, cfg, cmd, nil)
		},
	}

	config.RegisterFlags(cmd.Flags())
	return cmd
}

// runServeWithDeps runs the API until ctx is cancelled or a listener fails.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	if err := cfg.Validate(); err != nil {
		return err //nolint:wrapcheck // config errors carry their own codes
	}
	deps = deps.withDefaults()
	logger := logging.SetDefault("passport", version, cfg.Log.Format)

	if cfg.Store.Driver == config.StorePostgres && cfg.Database.AutoMigrate {
		if err := runAutoMigration(cfg.Database.URL, deps.MigratorFactory); err != nil {
			return err
		}
		logger.Info("database migrations applied")
	}

	users, err := deps.StoreOpener(ctx, cfg)
	if err != nil {
		return oops.Code("STORE_OPEN_FAILED").With("driver", cfg.Store.Driver).Wrap(err)
	}
	defer users.Close()
	logger.Info("user store ready", "driver", cfg.Store.Driver)

	transport, err := deps.TransportFactory(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := transport.Close(); closeErr != nil {
			logger.Warn("error closing mail transport", "error", closeErr)
		}
	}()

	registry := observability.NewRegistry()
	metrics := observability.NewMetrics(registry)

	router, err := buildRouter(cfg, users, transport, metrics, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var obsServer ObservabilityServer
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, registry, readinessChecks(users, transport)...)
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").With("addr", cfg.Metrics.Addr).Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		logger.Info("observability server started", "addr", obsServer.Addr())
	}
	stopObservability := func(ctx context.Context) {
		if obsServer == nil {
			return
		}
		if err := obsServer.Stop(ctx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}

	listener, err := deps.ListenerFactory("tcp", cfg.HTTP.Addr)
	if err != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		stopObservability(stopCtx)
		return oops.Code("HTTP_LISTEN_FAILED").With("addr", cfg.HTTP.Addr).Wrap(err)
	}

	srv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	errChan := make(chan error, 1)
	go func() {
		if serveErr := srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errChan <- serveErr
		}
	}()

	cmd.Printf("passport listening on %s\n", listener.Addr())
	logger.Info("passport ready",
		"addr", listener.Addr().String(),
		"store", cfg.Store.Driver,
		"mail_transport", transport.Name,
	)

	var runErr error
	select {
	case err := <-errChan:
		runErr = oops.Code("HTTP_SERVE_FAILED").With("addr", cfg.HTTP.Addr).Wrap(err)
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	timeout := cfg.HTTP.ShutdownTimeout
	if timeout <= 0 {
		timeout = config.DefaultShutdownTimeout
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error shutting down HTTP server", "error", err)
	}
	stopObservability(shutdownCtx)

	logger.Info("shutdown complete")
	return runErr
}

// buildRouter assembles the auth services and the HTTP API over them.
func buildRouter(cfg *config.Config, users *UserStore, transport *Transport, metrics *observability.Metrics, logger *slog.Logger) (http.Handler, error) {
	hasher, err := auth.NewArgon2idHasherWithParams(cfg.Hash.Params())
	if err != nil {
		return nil, err //nolint:wrapcheck // hash errors carry their own codes
	}
	tokens, err := auth.NewTokenService(auth.TokenConfig{Secret: cfg.Auth.Secret, Issuer: cfg.Auth.Issuer}, nil)
	if err != nil {
		return nil, err //nolint:wrapcheck // token errors carry their own codes
	}
	authn, err := auth.NewAuthenticator(users.Users, hasher, tokens, auth.WithLogger(logger))
	if err != nil {
		return nil, err //nolint:wrapcheck // constructor errors carry their own codes
	}
	mailer := observedSender{next: transport.Sender, transport: transport.Name, metrics: metrics}
	resets, err := auth.NewPasswordResetService(users.Users, hasher, mailer,
		auth.ResetMailConfig{From: cfg.Mail.From, Link: cfg.Mail.Link}, auth.WithLogger(logger))
	if err != nil {
		return nil, err //nolint:wrapcheck // constructor errors carry their own codes
	}

	handler, err := httpapi.NewHandler(httpapi.Deps{
		Authenticator: authn,
		Resets:        resets,
		Tokens:        tokens,
		Metrics:       metrics,
		Logger:        logger,
	})
	if err != nil {
		return nil, err //nolint:wrapcheck // constructor errors carry their own codes
	}
	return httpapi.NewRouter(handler, httpapi.RouterOptions{CORSOrigins: cfg.HTTP.CORS.Origins}), nil
}

func readinessChecks(users *UserStore, transport *Transport) []observability.ReadinessCheck {
	var checks []observability.ReadinessCheck
	if users.Ready != nil {
		checks = append(checks, observability.ReadinessCheck{Name: "database", Check: users.Ready})
	}
	if transport.Ready != nil {
		checks = append(checks, observability.ReadinessCheck{Name: "mail_queue", Check: transport.Ready})
	}
	return checks
}

// monitorServerErrors cancels ctx when a background server fails.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
