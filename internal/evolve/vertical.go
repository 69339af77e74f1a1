package evolve

import (
	"context"
	"encoding/json"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nextlevelbuilder/recall/internal/fragment"
	"github.com/nextlevelbuilder/recall/internal/ingest"
)

// EvolveVertical merges a session's prior fragments with a batch of new,
// timestamp-ordered events. Events are split into token-bounded windows; for
// each window the four reasoned kinds evolve concurrently, while vocabulary
// is computed locally and merged additively. A collaborator failure on one
// kind/window leaves that kind at its prior value and is returned as a
// warning.
func (e *Engine) EvolveVertical(ctx context.Context, prev fragment.Set, events []ingest.Event) (fragment.Set, []Warning) {
	ctx, span := tracer.Start(ctx, "evolve.vertical")
	defer span.End()
	span.SetAttributes(attribute.Int("events", len(events)))

	next := prev.Clone()
	if len(events) == 0 {
		return next, nil
	}

	windows := buildWindows(events, e.cfg.WindowTokenBudget, e.counter)
	span.SetAttributes(attribute.Int("windows", len(windows)))

	var warnings []Warning
	for wi, window := range windows {
		// Snapshot the sibling context before the fan-out so concurrent kinds
		// all see the same pre-window state.
		prevRaw := make(map[fragment.Kind]json.RawMessage)
		siblings := make(map[fragment.Kind]map[fragment.Kind]json.RawMessage)
		for _, k := range fragment.ReasonedKinds() {
			prevRaw[k] = next.Marshal(k)
			siblings[k] = next.Siblings(k)
		}

		results := fanOut(ctx, fragment.ReasonedKinds(), func(ctx context.Context, k fragment.Kind) (json.RawMessage, error) {
			return e.reasoner.Evolve(ctx, k, prevRaw[k], siblings[k], window)
		})

		for _, res := range results {
			if res.err != nil {
				warnings = append(warnings, Warning{Stage: "vertical", Kind: res.kind, Window: wi, Err: res.err})
				slog.Warn("vertical evolution failed for kind", "kind", res.kind, "window", wi, "error", res.err)
				continue
			}
			if err := next.Apply(res.kind, res.raw); err != nil {
				warnings = append(warnings, Warning{Stage: "vertical", Kind: res.kind, Window: wi, Err: err})
				slog.Warn("vertical evolution response rejected", "kind", res.kind, "window", wi, "error", err)
			}
		}

	}

	// Vocabulary works off the raw event text, not the rendered windows, so
	// role tags and correction markers never pollute the term counts.
	for _, ev := range events {
		next.Vocabulary = fragment.MergeVocabulary(next.Vocabulary, fragment.ExtractVocabulary(ev.Text))
	}

	return next, warnings
}
