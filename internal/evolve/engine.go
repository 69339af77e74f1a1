// Package evolve implements the two-level consolidation protocol. Vertical
// evolution merges a session's prior snapshot with new events, one reasoning
// call per fragment kind per window; horizontal evolution reconciles a
// bounded window of recent snapshots into the project's current baseline.
// Failures follow a bulkhead pattern: a failed call leaves that one fragment
// kind at its prior value and never blocks siblings, later windows, or the
// pass.
package evolve

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/recall/internal/fragment"
)

var tracer = otel.Tracer("recall/evolve")

// Reasoner is the external reasoning collaborator contract. Both methods
// must support independent invocation per fragment kind.
type Reasoner interface {
	Evolve(ctx context.Context, kind fragment.Kind, previous json.RawMessage,
		siblings map[fragment.Kind]json.RawMessage, evidence string) (json.RawMessage, error)
	Reconcile(ctx context.Context, kind fragment.Kind, baseline json.RawMessage,
		siblings map[fragment.Kind]json.RawMessage, evidence string) (json.RawMessage, error)
}

// Config bounds the engine's work.
type Config struct {
	WindowTokenBudget   int // max tokens of event text per reasoning window
	ConsolidationWindow int // snapshots considered by one horizontal pass
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		WindowTokenBudget:   8000,
		ConsolidationWindow: 3,
	}
}

// Warning records one non-fatal failure inside a pass. Warnings are counted
// and surfaced at end of run; nothing is discarded silently.
type Warning struct {
	Stage  string // "vertical" or "horizontal"
	Kind   fragment.Kind
	Window int
	Err    error
}

func (w Warning) String() string {
	switch {
	case w.Kind == "":
		return fmt.Sprintf("%s: %v", w.Stage, w.Err)
	case w.Stage == "vertical":
		return fmt.Sprintf("%s/%s window %d: %v", w.Stage, w.Kind, w.Window, w.Err)
	default:
		return fmt.Sprintf("%s/%s: %v", w.Stage, w.Kind, w.Err)
	}
}

// Engine runs vertical and horizontal evolution passes.
type Engine struct {
	reasoner Reasoner
	cfg      Config
	counter  tokenCounter
}

// NewEngine creates an engine. Zero config fields fall back to defaults.
func NewEngine(r Reasoner, cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.WindowTokenBudget <= 0 {
		cfg.WindowTokenBudget = def.WindowTokenBudget
	}
	if cfg.ConsolidationWindow <= 0 {
		cfg.ConsolidationWindow = def.ConsolidationWindow
	}
	return &Engine{reasoner: r, cfg: cfg, counter: newTokenCounter()}
}

// kindResult carries one fan-out result back to the applying goroutine.
type kindResult struct {
	kind fragment.Kind
	raw  json.RawMessage
	err  error
}

// fanOut invokes call once per kind concurrently and joins the results.
// Per-kind errors stay in the result slice — a failure on one kind must not
// cancel its siblings — so the group error is always nil. Each kind writes
// to a disjoint part of the set, so applying the results afterward needs no
// locks.
func fanOut(ctx context.Context, kinds []fragment.Kind,
	call func(context.Context, fragment.Kind) (json.RawMessage, error)) []kindResult {
	results := make([]kindResult, len(kinds))
	g, ctx := errgroup.WithContext(ctx)
	for i, k := range kinds {
		i, k := i, k
		g.Go(func() error {
			raw, err := call(ctx, k)
			results[i] = kindResult{kind: k, raw: raw, err: err}
			return nil
		})
	}
	g.Wait()
	return results
}
