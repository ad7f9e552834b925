package versioning

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/vhalberd/tracegraph/api/schemas"
)

// metadataFields are excluded from version comparison: they describe the
// versioning act itself, not the work item's content.
var metadataFields = map[string]struct{}{
	schemas.PropVersion:  {},
	"created_at":         {},
	"updated_at":         {},
	"change_description": {},
	"last_modified":      {},
}

// Ledger gates every work item mutation: it snapshots the pre-update state,
// merges the patch, bumps the minor version and commits with a
// compare-and-swap on the prior version string. On a CAS conflict it
// re-fetches and retries exactly once.
type Ledger struct {
	store schemas.GraphStore
	snaps schemas.SnapshotStore
	log   *zap.Logger
}

// NewLedger wires a ledger over a graph store and a snapshot store.
func NewLedger(store schemas.GraphStore, snaps schemas.SnapshotStore, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{store: store, snaps: snaps, log: logger.Named("VersionLedger")}
}

// CreateWorkItem creates a WorkItem node at version 1.0 with the immutable
// type discriminant set.
func (l *Ledger) CreateWorkItem(ctx context.Context, wiType schemas.WorkItemType, props *schemas.Properties) (schemas.Node, error) {
	if !wiType.Valid() {
		return schemas.Node{}, fmt.Errorf("%w: unknown work item type %q", schemas.ErrInvalidQuery, wiType)
	}
	if props == nil {
		props = schemas.NewProperties()
	}
	full := props.Clone()
	full.Set(schemas.PropType, schemas.String(string(wiType)))
	full.Set(schemas.PropVersion, schemas.String(Initial.String()))

	node, err := l.store.CreateNode(ctx, schemas.LabelWorkItem, full)
	if err != nil {
		return schemas.Node{}, err
	}
	l.log.Debug("Work item created",
		zap.String("id", node.ID), zap.String("type", string(wiType)))
	return node, nil
}

// Update applies a patch as a new minor version. The pre-update state is
// captured as an immutable snapshot only after the CAS commit succeeds, so
// exactly one writer per version ever appends.
func (l *Ledger) Update(ctx context.Context, id string, patch *schemas.Properties, changedBy, changeDescription string) (schemas.Node, error) {
	updated, err := l.transition(ctx, id, changedBy, changeDescription, func(current *schemas.Properties, v Version) (*schemas.Properties, Version, error) {
		if err := guardImmutable(current, patch); err != nil {
			return nil, Version{}, err
		}
		merged := current.Merge(patch)
		return merged, v.NextMinor(), nil
	})
	return updated, err
}

// BumpMajor promotes the work item to the next major version without content
// changes. Never performed implicitly.
func (l *Ledger) BumpMajor(ctx context.Context, id string, changedBy, changeDescription string) (schemas.Node, error) {
	return l.transition(ctx, id, changedBy, changeDescription, func(current *schemas.Properties, v Version) (*schemas.Properties, Version, error) {
		return current.Clone(), v.NextMajor(), nil
	})
}

// Restore creates a new version whose payload equals the target snapshot's
// data. History is append-only; this is never an in-place rollback.
func (l *Ledger) Restore(ctx context.Context, id, targetVersion, restoredBy string) (schemas.Node, error) {
	if _, err := Parse(targetVersion); err != nil {
		return schemas.Node{}, err
	}
	target, err := l.snaps.Snapshot(ctx, id, targetVersion)
	if err != nil {
		return schemas.Node{}, err
	}

	desc := fmt.Sprintf("restored from version %s", targetVersion)
	return l.transition(ctx, id, restoredBy, desc, func(current *schemas.Properties, v Version) (*schemas.Properties, Version, error) {
		restored := target.Data.Clone()
		// The type discriminant is immutable; keep the live value in case the
		// snapshot predates a ledger rule change.
		if typ, ok := current.GetString(schemas.PropType); ok {
			restored.Set(schemas.PropType, schemas.String(typ))
		}
		return restored, v.NextMinor(), nil
	})
}

// transition runs one ledger state change: load, compute next state, CAS,
// snapshot the pre-state. A CAS conflict triggers exactly one re-fetch and
// retry before ErrVersionConflict surfaces to the caller.
func (l *Ledger) transition(
	ctx context.Context,
	id, changedBy, changeDescription string,
	next func(current *schemas.Properties, v Version) (*schemas.Properties, Version, error),
) (schemas.Node, error) {
	const attempts = 2

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		node, err := l.store.GetNode(ctx, id)
		if err != nil {
			return schemas.Node{}, err
		}
		if node.Label != schemas.LabelWorkItem {
			return schemas.Node{}, fmt.Errorf("%w: node %s is %s, only WorkItem nodes are versioned",
				schemas.ErrInvalidQuery, id, node.Label)
		}

		current, err := Parse(node.Version())
		if err != nil {
			return schemas.Node{}, err
		}

		preState := node.Properties.Clone()
		nextProps, nextVersion, err := next(node.Properties, current)
		if err != nil {
			return schemas.Node{}, err
		}
		nextProps.Set(schemas.PropVersion, schemas.String(nextVersion.String()))

		updated, err := l.store.UpdateNodeCAS(ctx, id, nextProps, current.String())
		if err != nil {
			if errors.Is(err, schemas.ErrVersionConflict) {
				lastErr = err
				l.log.Debug("Version CAS conflict, retrying",
					zap.String("id", id), zap.Int("attempt", attempt))
				continue
			}
			return schemas.Node{}, err
		}

		snap := schemas.VersionSnapshot{
			WorkItemID:        id,
			Version:           current.String(),
			Data:              preState,
			ChangeDescription: changeDescription,
			CreatedBy:         changedBy,
			CreatedAt:         time.Now().UTC(),
		}
		if err := l.snaps.AppendSnapshot(ctx, snap); err != nil {
			// The live node already advanced; a missing snapshot is a
			// history hole and must surface, not be swallowed.
			return schemas.Node{}, fmt.Errorf("version %s committed but snapshot failed: %w", nextVersion, err)
		}
		return updated, nil
	}
	return schemas.Node{}, lastErr
}

// guardImmutable rejects patches touching ledger-owned or write-once fields.
func guardImmutable(current, patch *schemas.Properties) error {
	if patch == nil {
		return nil
	}
	if patch.Has(schemas.PropVersion) {
		return fmt.Errorf("%w: %q is owned by the version ledger", schemas.ErrImmutableField, schemas.PropVersion)
	}
	if newType, ok := patch.GetString(schemas.PropType); ok {
		if curType, exists := current.GetString(schemas.PropType); exists && curType != newType {
			return fmt.Errorf("%w: work item type cannot change from %q to %q",
				schemas.ErrImmutableField, curType, newType)
		}
	}
	return nil
}

// History reconstructs the full version history: the current node state plus
// all snapshots, sorted by (major, minor) descending. The first entry is
// always the live version.
func (l *Ledger) History(ctx context.Context, id string) ([]schemas.HistoryEntry, error) {
	node, err := l.store.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}
	currentVersion, err := Parse(node.Version())
	if err != nil {
		return nil, err
	}

	snaps, err := l.snaps.Snapshots(ctx, id)
	if err != nil {
		return nil, err
	}

	type versioned struct {
		v     Version
		entry schemas.HistoryEntry
	}
	entries := make([]versioned, 0, len(snaps)+1)
	entries = append(entries, versioned{
		v: currentVersion,
		entry: schemas.HistoryEntry{
			Version:   currentVersion.String(),
			Data:      node.Properties.Clone(),
			CreatedAt: node.UpdatedAt,
			Current:   true,
		},
	})
	for _, s := range snaps {
		v, err := Parse(s.Version)
		if err != nil {
			return nil, err
		}
		entries = append(entries, versioned{
			v: v,
			entry: schemas.HistoryEntry{
				Version:           s.Version,
				Data:              s.Data,
				ChangeDescription: s.ChangeDescription,
				CreatedBy:         s.CreatedBy,
				CreatedAt:         s.CreatedAt,
			},
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].v.Compare(entries[j].v) > 0
	})

	out := make([]schemas.HistoryEntry, len(entries))
	for i, e := range entries {
		out[i] = e.entry
	}
	return out, nil
}

// Compare returns field-level diffs between two versions of a work item,
// bucketed into added, removed and changed. Metadata fields are excluded.
func (l *Ledger) Compare(ctx context.Context, id, fromVersion, toVersion string) (schemas.VersionDiff, error) {
	fromData, err := l.versionData(ctx, id, fromVersion)
	if err != nil {
		return schemas.VersionDiff{}, err
	}
	toData, err := l.versionData(ctx, id, toVersion)
	if err != nil {
		return schemas.VersionDiff{}, err
	}
	return Diff(fromVersion, toVersion, fromData, toData), nil
}

// versionData resolves a version's property state from the live node or the
// snapshot ledger.
func (l *Ledger) versionData(ctx context.Context, id, version string) (*schemas.Properties, error) {
	if _, err := Parse(version); err != nil {
		return nil, err
	}
	node, err := l.store.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}
	if node.Version() == version {
		return node.Properties, nil
	}
	snap, err := l.snaps.Snapshot(ctx, id, version)
	if err != nil {
		return nil, err
	}
	return snap.Data, nil
}

// Diff computes the field-level comparison of two property states, skipping
// metadata fields.
func Diff(fromVersion, toVersion string, from, to *schemas.Properties) schemas.VersionDiff {
	diff := schemas.VersionDiff{From: fromVersion, To: toVersion}

	for _, key := range to.Keys() {
		if _, meta := metadataFields[key]; meta {
			continue
		}
		newVal, _ := to.Get(key)
		oldVal, existed := from.Get(key)
		if !existed {
			diff.Added = append(diff.Added, key)
			continue
		}
		if !oldVal.Equal(newVal) {
			diff.Changed = append(diff.Changed, schemas.FieldChange{Field: key, Old: oldVal, New: newVal})
		}
	}
	for _, key := range from.Keys() {
		if _, meta := metadataFields[key]; meta {
			continue
		}
		if !to.Has(key) {
			diff.Removed = append(diff.Removed, key)
		}
	}
	return diff
}
