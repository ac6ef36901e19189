// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"net"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/holomush/passport/internal/auth"
	"github.com/holomush/passport/internal/config"
	"github.com/holomush/passport/internal/mail"
	"github.com/holomush/passport/internal/observability"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// StoreOpener opens the configured user store.
	// Default: openStore
	StoreOpener func(ctx context.Context, cfg *config.Config) (*UserStore, error)

	// MigratorFactory creates a migrator for startup migrations.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (AutoMigrator, error)

	// TransportFactory builds the configured mail transport.
	// Default: newTransport
	TransportFactory func(cfg *config.Config, logger *slog.Logger) (*Transport, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, registry *prometheus.Registry, checks ...observability.ReadinessCheck) ObservabilityServer

	// ListenerFactory creates the HTTP listener.
	// Default: net.Listen
	ListenerFactory func(network, address string) (net.Listener, error)
}

// WorkerDeps contains injectable dependencies for the worker command.
type WorkerDeps struct {
	// WorkerFactory creates the queue worker.
	// Default: mail.NewWorker
	WorkerFactory func(addr string, concurrency int, handler *mail.TaskHandler, logger *slog.Logger) (QueueWorker, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, registry *prometheus.Registry, checks ...observability.ReadinessCheck) ObservabilityServer
}

// UserStore is an opened user repository with its lifecycle hooks.
type UserStore struct {
	Users auth.UserRepository
	// Ready is a readiness check. Nil when the store has nothing to check.
	Ready func(ctx context.Context) error
	Close func()
}

// Transport is a mail sender with its lifecycle hooks.
type Transport struct {
	Name   string
	Sender mail.Sender
	// Ready is a readiness check. Nil when the transport has nothing to check.
	Ready func(ctx context.Context) error
	Close func() error
}

// AutoMigrator is the subset of store.Migrator used on startup.
type AutoMigrator interface {
	Up() error
	Close() error
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

// QueueWorker interface wraps the methods used from mail.Worker.
type QueueWorker interface {
	Run(ctx context.Context) error
}

func newObservabilityServer(addr string, registry *prometheus.Registry, checks ...observability.ReadinessCheck) ObservabilityServer {
	return observability.NewServer(addr, registry, checks...)
}

func (d *ServeDeps) withDefaults() *ServeDeps {
	out := ServeDeps{}
	if d != nil {
		out = *d
	}
	if out.StoreOpener == nil {
		out.StoreOpener = openStore
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = newMigrator
	}
	if out.TransportFactory == nil {
		out.TransportFactory = newTransport
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = newObservabilityServer
	}
	if out.ListenerFactory == nil {
		out.ListenerFactory = net.Listen
	}
	return &out
}

func (d *WorkerDeps) withDefaults() *WorkerDeps {
	out := WorkerDeps{}
	if d != nil {
		out = *d
	}
	if out.WorkerFactory == nil {
		out.WorkerFactory = func(addr string, concurrency int, handler *mail.TaskHandler, logger *slog.Logger) (QueueWorker, error) {
			return mail.NewWorker(addr, concurrency, handler, logger)
		}
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = newObservabilityServer
	}
	return &out
}
