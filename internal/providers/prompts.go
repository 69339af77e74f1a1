package providers

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/nextlevelbuilder/recall/internal/fragment"
)

// Fragment schemas, stated in the prompt so JSON mode has a target shape.
var kindSchemas = map[fragment.Kind]string{
	fragment.KindDecisions: `{"entries":[{"what":"...","why":"...","confidence":0.0-1.0}]}`,
	fragment.KindInsights:  `{"entries":[{"text":"...","context":"..."}]}`,
	fragment.KindFocus:     `{"goal":"...","tasks":["..."],"blockers":["..."]}`,
	fragment.KindNarrative: `{"beats":[{"text":"...","quote":"..."}]}`,
}

var kindEvolveHints = map[fragment.Kind]string{
	fragment.KindDecisions: "Record technical and product decisions: what was decided and why. Revise a prior decision only when the new events overturn it.",
	fragment.KindInsights:  "Record durable lessons and observations worth remembering across sessions.",
	fragment.KindFocus:     "Capture what the work is aimed at right now: the goal, open tasks, and blockers. Replace stale focus entirely when the events show the goal has moved on.",
	fragment.KindNarrative: "Maintain the story of the project as ordered beats. Keep only materially memorable moments and quotes.",
}

var kindReconcileHints = map[fragment.Kind]string{
	fragment.KindDecisions: "Merge overlapping decisions into one entry each and drop entries the later sessions contradict. The result is the deduplicated current set of standing decisions.",
	fragment.KindInsights:  "Merge duplicate or overlapping insights; keep each distinct lesson once.",
	fragment.KindFocus:     "Focus is ephemeral: weight the most recent session heavily. Synthesize a combined focus only if the recent sessions genuinely disagree.",
	fragment.KindNarrative: "Merge the session narratives into one coherent arc. Keep only materially memorable beats and quotes; let everything else fall away.",
}

func evolvePrompt(kind fragment.Kind) string {
	return fmt.Sprintf(`You maintain the %s view of a software project's long-term memory.

You will receive the previous value, related sibling views for cross-reference, and a window of new session transcript events.

Evolve the previous value. Do NOT re-summarize from scratch: retain prior content the new events do not touch, and add or revise only what the new events justify. Lines marked [USER CORRECTION] are authoritative ground truth from a human and override any conflicting derived content.

%s

Reply with only a JSON object of shape %s.`, kind, kindEvolveHints[kind], kindSchemas[kind])
}

func reconcilePrompt(kind fragment.Kind) string {
	return fmt.Sprintf(`You consolidate the %s view of a software project's long-term memory across sessions.

You will receive the current consolidated baseline, related sibling views for cross-reference, and the per-session values from a window of recent sessions (newest first), possibly followed by views from linked projects.

Produce the new consolidated baseline. %s

Reply with only a JSON object of shape %s.`, kind, kindReconcileHints[kind], kindSchemas[kind])
}

func userPrompt(previous json.RawMessage, siblings map[fragment.Kind]json.RawMessage, evidence string) string {
	var b strings.Builder

	b.WriteString("## Previous value\n")
	if len(previous) == 0 {
		b.WriteString("(none)\n")
	} else {
		b.Write(previous)
		b.WriteString("\n")
	}

	if len(siblings) > 0 {
		b.WriteString("\n## Sibling views (context only, do not restate)\n")
		kinds := make([]string, 0, len(siblings))
		for k := range siblings {
			kinds = append(kinds, string(k))
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			fmt.Fprintf(&b, "### %s\n%s\n", k, siblings[fragment.Kind(k)])
		}
	}

	b.WriteString("\n## Evidence\n")
	b.WriteString(evidence)
	return b.String()
}
