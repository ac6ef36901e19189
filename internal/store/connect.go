// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Connection retry defaults. A database started alongside the service may
// refuse connections for a few seconds.
const (
	DefaultConnectAttempts = 5
	defaultConnectBase     = 250 * time.Millisecond
	defaultConnectCap      = 5 * time.Second
)

// Pinger is anything that can check its connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Connect opens a pgx pool and waits for the first successful ping.
func Connect(ctx context.Context, databaseURL string, attempts uint64) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, oops.Code("DB_CONFIG_INVALID").With("operation", "parse database url").Wrap(err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}

	if err := waitForPing(ctx, pool, connectBackoff(attempts)); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func connectBackoff(attempts uint64) retry.Backoff {
	if attempts == 0 {
		attempts = DefaultConnectAttempts
	}
	b := retry.NewExponential(defaultConnectBase)
	b = retry.WithCappedDuration(defaultConnectCap, b)
	// attempts counts the first try; retries are the rest.
	return retry.WithMaxRetries(attempts-1, b)
}

func waitForPing(ctx context.Context, p Pinger, b retry.Backoff) error {
	tries := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		tries++
		if err := p.Ping(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").
			With("operation", "ping database").
			With("attempts", tries).
			Wrap(err)
	}
	return nil
}
