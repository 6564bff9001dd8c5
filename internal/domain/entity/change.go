package entity

import "time"

// ChangeType classifies a recorded change.
type ChangeType string

const (
	// ChangeNew is the first content seen for a resource; it sets the baseline.
	ChangeNew ChangeType = "new"
	// ChangeModified is content whose hash differs from the previous one.
	ChangeModified ChangeType = "modified"
)

// MaxSnapshotLength bounds stored snapshots, in characters.
const MaxSnapshotLength = 10000

// ChangeRecord is one detected change. Records live in memory only.
type ChangeRecord struct {
	ID               string            `json:"id"`
	ResourceID       string            `json:"resource_id"`
	Timestamp        time.Time         `json:"timestamp"`
	ChangeType       ChangeType        `json:"change_type"`
	PreviousHash     string            `json:"previous_hash,omitempty"`
	CurrentHash      string            `json:"current_hash"`
	PreviousSnapshot string            `json:"previous_snapshot,omitempty"`
	CurrentSnapshot  string            `json:"current_snapshot"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// TruncateSnapshot cuts s to MaxSnapshotLength characters.
func TruncateSnapshot(s string) string {
	if len(s) <= MaxSnapshotLength {
		return s
	}
	n := 0
	for i := range s {
		if n == MaxSnapshotLength {
			return s[:i]
		}
		n++
	}
	return s
}
