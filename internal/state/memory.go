package state

import (
	"sort"
	"time"

	"github.com/nextlevelbuilder/recall/internal/fragment"
)

// NeedsWork reports whether a session log has bytes the project has not yet
// processed. It needs only the current file size — no parsing — so batch runs
// can skip untouched sessions cheaply.
func NeedsWork(m *ProjectMemory, sessionID string, currentFileSize int64, force bool) bool {
	if force {
		return true
	}
	p, ok := m.ProcessingFor(sessionID)
	if !ok {
		return true
	}
	return currentFileSize > p.ByteOffset
}

// RecordSession upserts the session's snapshot (replace-by-id) and its
// processing cursor. The byte offset never moves backward, even if a caller
// hands in a smaller value, preserving the monotonicity invariant.
//
// resumed distinguishes the two ways a pass can reach this point: an
// incremental parse (the event count covers only the new suffix, so it adds
// to the cursor's running total) versus a full re-parse from byte zero (the
// event count covers the whole log and replaces the total).
func RecordSession(m *ProjectMemory, snap Snapshot, eventCount int, byteOffset int64, modified time.Time, resumed bool) {
	replaced := false
	for i := range m.Snapshots {
		if m.Snapshots[i].SessionID == snap.SessionID {
			m.Snapshots[i] = snap
			replaced = true
			break
		}
	}
	if !replaced {
		m.Snapshots = append(m.Snapshots, snap)
	}
	sort.SliceStable(m.Snapshots, func(i, j int) bool {
		return m.Snapshots[i].Timestamp.Before(m.Snapshots[j].Timestamp)
	})

	cursor := ProcessingState{
		SessionID:    snap.SessionID,
		EventCount:   eventCount,
		ByteOffset:   byteOffset,
		ModifiedTime: modified,
	}
	for i := range m.Processing {
		if m.Processing[i].SessionID == snap.SessionID {
			if byteOffset < m.Processing[i].ByteOffset {
				cursor.ByteOffset = m.Processing[i].ByteOffset
			}
			if resumed {
				cursor.EventCount += m.Processing[i].EventCount
			}
			m.Processing[i] = cursor
			return
		}
	}
	m.Processing = append(m.Processing, cursor)
}

// AdvanceCursor updates only the processing cursor, for passes that yielded
// zero new events but still must not be retried forever.
func AdvanceCursor(m *ProjectMemory, sessionID string, byteOffset int64, modified time.Time) {
	for i := range m.Processing {
		if m.Processing[i].SessionID == sessionID {
			if byteOffset > m.Processing[i].ByteOffset {
				m.Processing[i].ByteOffset = byteOffset
			}
			m.Processing[i].ModifiedTime = modified
			return
		}
	}
	m.Processing = append(m.Processing, ProcessingState{
		SessionID:    sessionID,
		ByteOffset:   byteOffset,
		ModifiedTime: modified,
	})
}

// SetCurrent replaces the consolidated baseline wholesale. Horizontal
// evolution is the only caller.
func SetCurrent(m *ProjectMemory, set fragment.Set) {
	m.Current = set
}

// RecentSnapshots returns up to n snapshots, newest first by timestamp.
func RecentSnapshots(snapshots []Snapshot, n int) []Snapshot {
	out := append([]Snapshot(nil), snapshots...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
