// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/samber/oops"

	"github.com/holomush/passport/internal/auth/memory"
	"github.com/holomush/passport/internal/auth/postgres"
	"github.com/holomush/passport/internal/config"
	"github.com/holomush/passport/internal/store"
)

// openStore opens the user store named by cfg.Store.Driver.
func openStore(ctx context.Context, cfg *config.Config) (*UserStore, error) {
	if cfg.Store.Driver == config.StoreMemory {
		return &UserStore{Users: memory.NewUserStore(), Close: func() {}}, nil
	}

	pool, err := store.Connect(ctx, cfg.Database.URL, store.DefaultConnectAttempts)
	if err != nil {
		return nil, oops.With("operation", "open user store").Wrap(err)
	}
	return &UserStore{
		Users: postgres.NewUserRepository(pool),
		Ready: pool.Ping,
		Close: pool.Close,
	}, nil
}

func newMigrator(databaseURL string) (AutoMigrator, error) {
	m, err := store.NewMigrator(databaseURL)
	if err != nil {
		return nil, err //nolint:wrapcheck // wrapped by runAutoMigration
	}
	return m, nil
}

// runAutoMigration applies pending migrations and closes the migrator.
func runAutoMigration(databaseURL string, factory func(string) (AutoMigrator, error)) error {
	migrator, err := factory(databaseURL)
	if err != nil {
		return oops.Code("AUTO_MIGRATION_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			slog.Warn("failed to close migrator", "error", closeErr)
		}
	}()

	if err := migrator.Up(); err != nil {
		return oops.Code("AUTO_MIGRATION_FAILED").With("operation", "apply migrations").Wrap(err)
	}
	return nil
}
