package schemas

import (
	"time"
)

// VersionSnapshot is an immutable copy of a work item's property state at a
// prior version. The live node always holds the latest version; history lives
// only in the snapshot ledger.
type VersionSnapshot struct {
	WorkItemID        string      `json:"workitem_id"`
	Version           string      `json:"version"`
	Data              *Properties `json:"data"`
	ChangeDescription string      `json:"change_description"`
	CreatedBy         string      `json:"created_by"`
	CreatedAt         time.Time   `json:"created_at"`
}

// HistoryEntry is one row of a reconstructed version history: either the
// current node state or a snapshot, normalized to the same shape.
type HistoryEntry struct {
	Version           string      `json:"version"`
	Data              *Properties `json:"data"`
	ChangeDescription string      `json:"change_description"`
	CreatedBy         string      `json:"created_by"`
	CreatedAt         time.Time   `json:"created_at"`
	Current           bool        `json:"current"`
}

// FieldChange records a single changed field between two versions.
type FieldChange struct {
	Field string `json:"field"`
	Old   Value  `json:"old"`
	New   Value  `json:"new"`
}

// VersionDiff is the field-level comparison of two versions, bucketed into
// added, removed and changed. Metadata fields (version, timestamps, change
// description) are excluded from comparison.
type VersionDiff struct {
	From    string        `json:"from"`
	To      string        `json:"to"`
	Added   []string      `json:"added"`
	Removed []string      `json:"removed"`
	Changed []FieldChange `json:"changed"`
}

// Empty reports whether the two versions are identical over compared fields.
func (d VersionDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}
