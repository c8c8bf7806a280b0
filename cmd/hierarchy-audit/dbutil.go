package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iota-uz/iota-hierarchy/modules/hierarchy"
	"github.com/iota-uz/iota-hierarchy/pkg/composables"
	"github.com/iota-uz/iota-hierarchy/pkg/configuration"
)

func connectDB(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("db connect failed: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping failed: %w", err)
	}
	return pool, nil
}

// withModule connects to the configured database and runs fn with the pool
// bound to ctx. Audits are read-only, so no cache or event bus is wired.
func withModule(ctx context.Context, fn func(ctx context.Context, m *hierarchy.Module) error) error {
	conf := configuration.Use()
	pool, err := connectDB(ctx, conf.Database.Opts)
	if err != nil {
		return err
	}
	defer pool.Close()

	m := hierarchy.NewModule(hierarchy.Options{
		Logger:          conf.Logger(),
		DefaultMaxDepth: conf.Hierarchy.DefaultMaxDepth,
	})
	return fn(composables.WithPool(ctx, pool), m)
}
