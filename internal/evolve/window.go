package evolve

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/nextlevelbuilder/recall/internal/ingest"
)

// tokenCounter estimates the token cost of a piece of prompt text.
type tokenCounter func(string) int

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// newTokenCounter returns a counter backed by the cl100k_base encoding.
// When the encoding cannot be loaded (offline first run), it falls back to
// the usual four-bytes-per-token estimate rather than failing the pass.
func newTokenCounter() tokenCounter {
	return func(s string) int {
		encOnce.Do(func() {
			e, err := tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
			if err != nil {
				slog.Warn("tiktoken unavailable, using byte estimate", "error", err)
				return
			}
			enc = e
		})
		if enc != nil {
			return len(enc.Encode(s, nil, nil))
		}
		return len(s)/4 + 1
	}
}

// renderEvent formats one event as a role-tagged transcript line. Explicit
// human corrections are marked so the collaborator treats them as
// authoritative over conflicting derived content.
func renderEvent(ev ingest.Event) string {
	if ev.Correction {
		return fmt.Sprintf("[USER CORRECTION] %s: %s", ev.Role, ev.Text)
	}
	return fmt.Sprintf("%s: %s", ev.Role, ev.Text)
}

// buildWindows packs timestamp-ordered events greedily into windows whose
// rendered text fits the token budget. An event larger than the whole budget
// gets a window of its own — it is never split mid-event.
func buildWindows(events []ingest.Event, budget int, count tokenCounter) []string {
	var windows []string
	var current []string
	used := 0

	flush := func() {
		if len(current) > 0 {
			windows = append(windows, strings.Join(current, "\n"))
			current = nil
			used = 0
		}
	}

	for _, ev := range events {
		line := renderEvent(ev)
		cost := count(line)
		if used > 0 && used+cost > budget {
			flush()
		}
		current = append(current, line)
		used += cost
		if used >= budget {
			flush()
		}
	}
	flush()
	return windows
}
