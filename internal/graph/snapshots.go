package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/vhalberd/tracegraph/api/schemas"
)

// MemorySnapshots is the ephemeral SnapshotStore used in tests and tooling.
type MemorySnapshots struct {
	mu    sync.RWMutex
	items map[string][]schemas.VersionSnapshot // key: workitem id
}

var _ schemas.SnapshotStore = (*MemorySnapshots)(nil)

// NewMemorySnapshots creates an empty in-memory snapshot ledger.
func NewMemorySnapshots() *MemorySnapshots {
	return &MemorySnapshots{items: make(map[string][]schemas.VersionSnapshot)}
}

// AppendSnapshot stores an immutable snapshot. Duplicate versions for the
// same work item indicate ledger corruption and error out.
func (m *MemorySnapshots) AppendSnapshot(ctx context.Context, snap schemas.VersionSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.items[snap.WorkItemID] {
		if existing.Version == snap.Version {
			return fmt.Errorf("snapshot %s of work item %s already exists", snap.Version, snap.WorkItemID)
		}
	}
	snap.Data = snap.Data.Clone()
	m.items[snap.WorkItemID] = append(m.items[snap.WorkItemID], snap)
	return nil
}

// Snapshots returns every snapshot for the work item.
func (m *MemorySnapshots) Snapshots(ctx context.Context, workItemID string) ([]schemas.VersionSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snaps := m.items[workItemID]
	out := make([]schemas.VersionSnapshot, len(snaps))
	for i, s := range snaps {
		s.Data = s.Data.Clone()
		out[i] = s
	}
	return out, nil
}

// Snapshot returns one exact version, or ErrNotFound.
func (m *MemorySnapshots) Snapshot(ctx context.Context, workItemID, version string) (schemas.VersionSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.items[workItemID] {
		if s.Version == version {
			s.Data = s.Data.Clone()
			return s, nil
		}
	}
	return schemas.VersionSnapshot{}, notFoundf("snapshot %s of work item %s", version, workItemID)
}

// PostgresSnapshots persists the append-only version ledger. It shares the
// graph schema (the workitem_snapshots table) with the node store.
type PostgresSnapshots struct {
	pool   DBPool
	log    *zap.Logger
	schema *schemaEnsurer
}

var _ schemas.SnapshotStore = (*PostgresSnapshots)(nil)

// NewPostgresSnapshots creates a snapshot ledger sharing the graph store's
// pool and schema ensurer, so the namespace is created exactly once.
func NewPostgresSnapshots(store *Postgres) *PostgresSnapshots {
	return &PostgresSnapshots{
		pool:   store.pool,
		log:    store.log.Named("snapshots"),
		schema: &store.schema,
	}
}

const sqlInsertSnapshot = `
	INSERT INTO workitem_snapshots (workitem_id, version, data, change_description, created_by, created_at)
	VALUES ($1, $2, $3, $4, $5, $6);
`

// AppendSnapshot persists an immutable snapshot. The primary key on
// (workitem_id, version) enforces uniqueness; a violation is surfaced, never
// merged.
func (p *PostgresSnapshots) AppendSnapshot(ctx context.Context, snap schemas.VersionSnapshot) error {
	if err := p.schema.ensure(ctx, p.pool, p.log); err != nil {
		return classify("ensure schema", err)
	}
	blob, err := marshalProps(snap.Data)
	if err != nil {
		return err
	}
	createdAt := snap.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = p.pool.Exec(ctx, sqlInsertSnapshot,
		snap.WorkItemID, snap.Version, blob, snap.ChangeDescription, snap.CreatedBy, createdAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("snapshot %s of work item %s already exists: %w", snap.Version, snap.WorkItemID, err)
		}
		return classify("append snapshot", err)
	}
	return nil
}

const sqlSelectSnapshots = `
	SELECT workitem_id, version, data, change_description, created_by, created_at
	FROM workitem_snapshots WHERE workitem_id = $1;
`

// Snapshots returns every snapshot for the work item.
func (p *PostgresSnapshots) Snapshots(ctx context.Context, workItemID string) ([]schemas.VersionSnapshot, error) {
	rows, err := p.pool.Query(ctx, sqlSelectSnapshots, workItemID)
	if err != nil {
		return nil, classify("query snapshots", err)
	}
	defer rows.Close()

	var out []schemas.VersionSnapshot
	for rows.Next() {
		snap, err := scanSnapshotRow(rows)
		if err != nil {
			return nil, classify("snapshot scan", err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("snapshot rows", err)
	}
	return out, nil
}

const sqlSelectSnapshot = `
	SELECT workitem_id, version, data, change_description, created_by, created_at
	FROM workitem_snapshots WHERE workitem_id = $1 AND version = $2;
`

// Snapshot returns one exact version, or ErrNotFound.
func (p *PostgresSnapshots) Snapshot(ctx context.Context, workItemID, version string) (schemas.VersionSnapshot, error) {
	snap, err := scanSnapshotRow(p.pool.QueryRow(ctx, sqlSelectSnapshot, workItemID, version))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return schemas.VersionSnapshot{}, notFoundf("snapshot %s of work item %s", version, workItemID)
		}
		return schemas.VersionSnapshot{}, classify("get snapshot", err)
	}
	return snap, nil
}

func scanSnapshotRow(row pgx.Row) (schemas.VersionSnapshot, error) {
	var snap schemas.VersionSnapshot
	var blob []byte
	if err := row.Scan(&snap.WorkItemID, &snap.Version, &blob, &snap.ChangeDescription, &snap.CreatedBy, &snap.CreatedAt); err != nil {
		return schemas.VersionSnapshot{}, err
	}
	data, err := unmarshalProps(blob)
	if err != nil {
		return schemas.VersionSnapshot{}, err
	}
	snap.Data = data
	return snap, nil
}
