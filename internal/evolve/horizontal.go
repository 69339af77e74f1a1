package evolve

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nextlevelbuilder/recall/internal/fragment"
	"github.com/nextlevelbuilder/recall/internal/state"
)

// EvolveHorizontal consolidates the most recent snapshots (and optionally
// the current fragments of linked projects) into a new baseline. This is the
// mechanism that keeps total memory bounded: the window is fixed-size and
// the narrative reconciliation keeps only memorable beats, so stale material
// ages out without any explicit deletion step.
//
// Bootstrap special case: exactly one snapshot in the window and no existing
// baseline means there is nothing to reconcile — that snapshot's fragments
// are adopted directly with zero collaborator calls.
func (e *Engine) EvolveHorizontal(ctx context.Context, current fragment.Set,
	snapshots []state.Snapshot, linked []fragment.Set) (fragment.Set, []Warning) {
	ctx, span := tracer.Start(ctx, "evolve.horizontal")
	defer span.End()

	window := state.RecentSnapshots(snapshots, e.cfg.ConsolidationWindow)
	span.SetAttributes(attribute.Int("window", len(window)))

	if len(window) == 0 {
		return current.Clone(), nil
	}
	if len(window) == 1 && current.IsEmpty() {
		return window[0].Fragments.Clone(), nil
	}

	// Vocabulary is carried over unchanged: it is not subject to horizontal
	// consolidation.
	next := current.Clone()

	baseline := make(map[fragment.Kind]json.RawMessage)
	siblings := make(map[fragment.Kind]map[fragment.Kind]json.RawMessage)
	evidence := make(map[fragment.Kind]string)
	var kinds []fragment.Kind
	for _, k := range fragment.ReasonedKinds() {
		ev := renderWindowEvidence(k, window, linked)
		if ev == "" && baselineEmpty(current, k) {
			continue // nothing known for this kind anywhere
		}
		kinds = append(kinds, k)
		baseline[k] = current.Marshal(k)
		siblings[k] = current.Siblings(k)
		evidence[k] = ev
	}

	results := fanOut(ctx, kinds, func(ctx context.Context, k fragment.Kind) (json.RawMessage, error) {
		return e.reasoner.Reconcile(ctx, k, baseline[k], siblings[k], evidence[k])
	})

	var warnings []Warning
	for _, res := range results {
		if res.err != nil {
			warnings = append(warnings, Warning{Stage: "horizontal", Kind: res.kind, Err: res.err})
			slog.Warn("horizontal consolidation failed for kind", "kind", res.kind, "error", res.err)
			continue
		}
		if err := next.Apply(res.kind, res.raw); err != nil {
			warnings = append(warnings, Warning{Stage: "horizontal", Kind: res.kind, Err: err})
			slog.Warn("horizontal consolidation response rejected", "kind", res.kind, "error", err)
		}
	}

	return next, warnings
}

func baselineEmpty(current fragment.Set, k fragment.Kind) bool {
	return current.Marshal(k) == nil
}

// renderWindowEvidence lays out the per-session values for one kind, newest
// first, plus any linked-project baselines. Returns "" when no source has a
// value for this kind.
func renderWindowEvidence(k fragment.Kind, window []state.Snapshot, linked []fragment.Set) string {
	var b strings.Builder
	found := false

	for i, snap := range window {
		raw := snap.Fragments.Marshal(k)
		if raw == nil {
			continue
		}
		found = true
		marker := ""
		if i == 0 {
			marker = ", most recent"
		}
		fmt.Fprintf(&b, "### Session %s (%s%s)\n%s\n\n",
			snap.SessionID, snap.Timestamp.UTC().Format("2006-01-02 15:04"), marker, raw)
	}

	for i, set := range linked {
		raw := set.Marshal(k)
		if raw == nil {
			continue
		}
		found = true
		fmt.Fprintf(&b, "### Linked project %d baseline\n%s\n\n", i+1, raw)
	}

	if !found {
		return ""
	}
	return strings.TrimSpace(b.String())
}
