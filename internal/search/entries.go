package search

import (
	"time"

	"github.com/nextlevelbuilder/recall/internal/fragment"
	"github.com/nextlevelbuilder/recall/internal/state"
)

// VectorLookup resolves a stored vector for a content hash. May be nil when
// no embedding store is configured.
type VectorLookup func(hash string) ([]float32, bool)

// Selector names the corpora a search draws from.
type Selector struct {
	Snapshots bool
	Current   bool
	Code      bool
}

// DefaultSelector covers snapshots and the current baseline.
func DefaultSelector() Selector {
	return Selector{Snapshots: true, Current: true}
}

// CollectMemory flattens a project's snapshots and current baseline into
// candidates, resolving vectors through lookup when provided. Snapshot
// entries carry their snapshot's session id and timestamp; current-baseline
// entries carry the newest snapshot timestamp.
func CollectMemory(m *state.ProjectMemory, sel Selector, lookup VectorLookup) []Candidate {
	if m == nil {
		return nil
	}

	var newest time.Time
	for _, snap := range m.Snapshots {
		if snap.Timestamp.After(newest) {
			newest = snap.Timestamp
		}
	}

	var out []Candidate
	if sel.Snapshots {
		for _, snap := range m.Snapshots {
			for _, ie := range fragment.Flatten(snap.Fragments) {
				out = append(out, candidate(ie, SourceSnapshot, snap.SessionID, snap.Timestamp, lookup))
			}
		}
	}
	if sel.Current {
		for _, ie := range fragment.Flatten(m.Current) {
			out = append(out, candidate(ie, SourceCurrent, "", newest, lookup))
		}
	}
	return out
}

func candidate(ie fragment.IndexEntry, source, sessionID string, ts time.Time, lookup VectorLookup) Candidate {
	c := Candidate{Entry: Entry{
		Kind:      string(ie.Kind),
		Primary:   ie.Primary,
		Secondary: ie.Secondary,
		Hash:      ie.Hash,
		Source:    source,
		SessionID: sessionID,
		Timestamp: ts,
	}}
	if lookup != nil {
		if vec, ok := lookup(ie.Hash); ok {
			c.Vector = vec
		}
	}
	return c
}
