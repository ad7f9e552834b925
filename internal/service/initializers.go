// Package service wires the application components together. All dependencies
// are passed explicitly; there is no package-level service handle.
package service

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/vhalberd/tracegraph/api/schemas"
	"github.com/vhalberd/tracegraph/internal/config"
	"github.com/vhalberd/tracegraph/internal/export"
	"github.com/vhalberd/tracegraph/internal/fixtures"
	"github.com/vhalberd/tracegraph/internal/graph"
	"github.com/vhalberd/tracegraph/internal/graph/query"
	"github.com/vhalberd/tracegraph/internal/integrity"
	"github.com/vhalberd/tracegraph/internal/risk"
	"github.com/vhalberd/tracegraph/internal/versioning"
)

// Services bundles the assembled application components.
type Services struct {
	Store     schemas.GraphStore
	Snapshots schemas.SnapshotStore
	Composer  *query.Composer
	Ledger    *versioning.Ledger
	Checker   *integrity.Checker
	Risks     *risk.Propagator
	Fixtures  *fixtures.Loader
	Exporter  *export.Exporter
}

// InitializeStores connects the configured backend and returns the graph and
// snapshot stores plus a cleanup function. An unset or "memory" driver yields
// the ephemeral in-memory pair; everything written there is lost on exit.
func InitializeStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (schemas.GraphStore, schemas.SnapshotStore, func(), error) {
	switch cfg.Database.Driver {
	case "", "memory":
		logger.Warn("No persistent graph backend configured; using the in-memory store. All data is lost on exit.")
		return graph.NewMemory(logger), graph.NewMemorySnapshots(), func() {}, nil

	case "postgres":
		logger.Info("Initializing PostgreSQL graph store.", zap.String("host", cfg.Database.Host))
		poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL())
		if err != nil {
			return nil, nil, nil, fmt.Errorf("unable to parse PGX pool config: %w", err)
		}
		poolConfig.MinConns = cfg.Database.MinConns
		poolConfig.MaxConns = cfg.Database.MaxConns
		poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
		poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("unable to create PGX connection pool: %w", err)
		}

		// pgxpool waits indefinitely for a free connection; the bounded
		// adapter caps that wait at the configured acquire timeout.
		store, err := graph.NewPostgres(ctx, graph.NewBoundedPool(pool, cfg.Database.AcquireTimeout), cfg.Graph, logger)
		if err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		cleanup := func() {
			logger.Info("Closing PostgreSQL connection pool.")
			pool.Close()
		}
		return store, graph.NewPostgresSnapshots(store), cleanup, nil

	default:
		return nil, nil, nil, fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
	}
}

// NewServices assembles the full component graph over the configured store.
// The returned cleanup closes the backend.
func NewServices(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Services, func(), error) {
	store, snaps, cleanup, err := InitializeStores(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	checker := integrity.NewChecker(store, logger)
	risks := risk.NewPropagator(store, cfg.Risk, logger)

	svc := &Services{
		Store:     store,
		Snapshots: snaps,
		Composer:  query.NewComposer(store, cfg.Graph, logger),
		Ledger:    versioning.NewLedger(store, snaps, logger),
		Checker:   checker,
		Risks:     risks,
		Fixtures:  fixtures.NewLoader(store, checker, logger),
		Exporter:  export.NewExporter(risks, logger),
	}
	return svc, cleanup, nil
}
