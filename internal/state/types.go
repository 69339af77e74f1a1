// Package state persists per-project memory: the current consolidated
// fragment set, the ordered list of immutable per-session snapshots, and the
// per-session processing cursors. Engines receive a ProjectMemory explicitly
// and mutate it in memory; persistence is always the caller's single atomic
// write at the end of a pass, never an ambient side effect.
package state

import (
	"time"

	"github.com/nextlevelbuilder/recall/internal/fragment"
)

// ProcessingState is the idempotency cursor for one session log.
// ByteOffset is monotonically non-decreasing across passes; it is advanced
// even when a pass yields zero new events, so an unchanged log is never
// reprocessed.
type ProcessingState struct {
	SessionID    string    `json:"sessionId"`
	EventCount   int       `json:"eventCount"`
	ByteOffset   int64     `json:"byteOffset"`
	ModifiedTime time.Time `json:"modifiedTime"`
}

// Snapshot is the immutable fragment state produced by one vertical pass over
// one session. Re-running a session replaces its snapshot by SessionID; a
// snapshot is never mutated in place.
type Snapshot struct {
	SessionID string       `json:"sessionId"`
	Timestamp time.Time    `json:"timestamp"`
	Fragments fragment.Set `json:"fragments"`
}

// ProjectMemory is the full persisted document for one project.
type ProjectMemory struct {
	Current        fragment.Set      `json:"current"`
	Snapshots      []Snapshot        `json:"snapshots"`
	Processing     []ProcessingState `json:"processing"`
	LinkedProjects []string          `json:"linkedProjects,omitempty"`
}

// ProcessingFor returns the cursor for a session, if one exists.
func (m *ProjectMemory) ProcessingFor(sessionID string) (ProcessingState, bool) {
	for _, p := range m.Processing {
		if p.SessionID == sessionID {
			return p, true
		}
	}
	return ProcessingState{}, false
}

// SnapshotFor returns the snapshot for a session, if one exists.
func (m *ProjectMemory) SnapshotFor(sessionID string) (Snapshot, bool) {
	for _, s := range m.Snapshots {
		if s.SessionID == sessionID {
			return s, true
		}
	}
	return Snapshot{}, false
}
