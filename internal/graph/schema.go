package graph

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// schemaStatements is the graph namespace DDL. Every statement is idempotent,
// so the ensure step is safe to repeat after partial failures.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS graph_nodes (
		id TEXT PRIMARY KEY,
		label TEXT NOT NULL,
		properties JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS graph_edges (
		id TEXT PRIMARY KEY,
		from_node TEXT NOT NULL REFERENCES graph_nodes(id) ON DELETE CASCADE,
		to_node TEXT NOT NULL REFERENCES graph_nodes(id) ON DELETE CASCADE,
		rel_type TEXT NOT NULL,
		properties JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE (from_node, to_node, rel_type)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_graph_edges_from ON graph_edges (from_node, rel_type);`,
	`CREATE INDEX IF NOT EXISTS idx_graph_edges_to ON graph_edges (to_node, rel_type);`,
	`CREATE TABLE IF NOT EXISTS workitem_snapshots (
		workitem_id TEXT NOT NULL,
		version TEXT NOT NULL,
		data JSONB NOT NULL,
		change_description TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (workitem_id, version)
	);`,
}

// schemaEnsurer runs the DDL exactly once per process, deduplicating
// concurrent callers through singleflight and retrying transient failures.
type schemaEnsurer struct {
	done    atomic.Bool
	group   singleflight.Group
	retries int
	backoff time.Duration
}

func (s *schemaEnsurer) ensure(ctx context.Context, pool DBPool, log *zap.Logger) error {
	if s.done.Load() {
		return nil
	}

	_, err, _ := s.group.Do("schema", func() (interface{}, error) {
		if s.done.Load() {
			return nil, nil
		}

		attempts := s.retries
		if attempts < 1 {
			attempts = 1
		}
		var lastErr error
		for attempt := 1; attempt <= attempts; attempt++ {
			lastErr = s.apply(ctx, pool)
			if lastErr == nil {
				s.done.Store(true)
				log.Debug("Graph schema ensured", zap.Int("attempt", attempt))
				return nil, nil
			}
			if attempt == attempts {
				break
			}
			log.Warn("Graph schema ensure failed, retrying",
				zap.Int("attempt", attempt), zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.backoff):
			}
		}
		return nil, lastErr
	})
	return err
}

func (s *schemaEnsurer) apply(ctx context.Context, pool DBPool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
