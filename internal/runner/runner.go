// Package runner orchestrates full memory passes: discover session logs,
// parse new bytes, run vertical evolution per session, consolidate
// horizontally, persist. Failures are bulkheaded at two levels: a fragment
// failure degrades one kind (handled inside evolve), and a project failure
// aborts that project's pass without touching the others.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nextlevelbuilder/recall/internal/config"
	"github.com/nextlevelbuilder/recall/internal/evolve"
	"github.com/nextlevelbuilder/recall/internal/fragment"
	"github.com/nextlevelbuilder/recall/internal/ingest"
	"github.com/nextlevelbuilder/recall/internal/search"
	"github.com/nextlevelbuilder/recall/internal/state"
)

var tracer = otel.Tracer("recall/runner")

// Runner drives memory passes over a log root.
type Runner struct {
	LogRoot string
	Store   state.Store
	Engine  *evolve.Engine

	// Embedder and OpenEmbedStore are optional; when both are set, each
	// successful pass tops up the project's entry embeddings.
	Embedder       search.Embedder
	OpenEmbedStore func(project string) (*search.EmbeddingStore, error)
}

// ProjectReport summarizes one project's pass.
type ProjectReport struct {
	Project  string
	Sessions int // sessions that produced a vertical pass
	Events   int
	Skipped  int // malformed interior lines dropped
	Deferred int // sessions with a trailing line left for next pass
	Warnings []evolve.Warning
}

// Report summarizes a full run across projects.
type Report struct {
	RunID    string
	Started  time.Time
	Duration time.Duration
	Projects []ProjectReport
	Failed   map[string]error // project → fatal error for that project
}

// Sessions sums sessions across project reports.
func (r *Report) Sessions() int {
	n := 0
	for _, p := range r.Projects {
		n += p.Sessions
	}
	return n
}

// Warnings sums non-fatal warnings across project reports.
func (r *Report) Warnings() int {
	n := 0
	for _, p := range r.Projects {
		n += len(p.Warnings)
	}
	return n
}

// RunAll runs a pass for every project directory under the log root.
// A failed project is recorded and the run continues.
func (r *Runner) RunAll(ctx context.Context, force bool) *Report {
	ctx, span := tracer.Start(ctx, "runner.run_all")
	defer span.End()

	report := &Report{
		RunID:   uuid.NewString(),
		Started: time.Now(),
		Failed:  make(map[string]error),
	}

	dirs, err := projectDirs(r.LogRoot)
	if err != nil {
		slog.Error("cannot list log root", "root", r.LogRoot, "error", err)
		report.Duration = time.Since(report.Started)
		return report
	}

	for _, dir := range dirs {
		project := config.NormalizeProjectID(dir)
		if project == "" {
			continue
		}
		pr, err := r.RunProject(ctx, dir, force)
		if err != nil {
			report.Failed[project] = err
			slog.Error("project pass failed", "project", project, "error", err)
			continue
		}
		report.Projects = append(report.Projects, *pr)
	}

	report.Duration = time.Since(report.Started)
	span.SetAttributes(
		attribute.Int("projects", len(report.Projects)),
		attribute.Int("failed", len(report.Failed)),
	)
	slog.Info("run complete", "run_id", report.RunID,
		"projects", len(report.Projects), "failed", len(report.Failed),
		"sessions", report.Sessions(), "warnings", report.Warnings(),
		"duration", report.Duration)
	return report
}

// RunProject runs one full pass for the project whose logs live in
// <LogRoot>/<dir>. Load → parse new bytes per session (oldest-modified
// first) → vertical evolution → horizontal consolidation → save. The save is
// the pass's single commit point: a write failure loses the pass but never
// corrupts the stored document.
func (r *Runner) RunProject(ctx context.Context, dir string, force bool) (*ProjectReport, error) {
	project := config.NormalizeProjectID(dir)
	ctx, span := tracer.Start(ctx, "runner.project")
	span.SetAttributes(attribute.String("project", project))
	defer span.End()

	m, err := r.Store.Load(ctx, project)
	if err != nil {
		return nil, &PersistenceError{Project: project, Op: "load", Err: err}
	}

	logs, err := ingest.Discover(filepath.Join(r.LogRoot, dir))
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", project, err)
	}

	pr := &ProjectReport{Project: project}
	advanced := false // a cursor moved, the document must be saved
	evolved := false  // a snapshot changed, consolidation must rerun

	for _, log := range logs {
		if !state.NeedsWork(m, log.SessionID, log.SizeBytes, force) {
			continue
		}

		var from int64
		if cursor, ok := m.ProcessingFor(log.SessionID); ok && !force {
			from = cursor.ByteOffset
		}
		resumed := from > 0

		res, err := ingest.ParseFromOffset(log.Path, from)
		if err != nil {
			// Unreadable file: skip this session, the rest of the project
			// still runs.
			pr.Warnings = append(pr.Warnings, evolve.Warning{
				Stage: "ingest", Err: fmt.Errorf("session %s: %w", log.SessionID, err),
			})
			continue
		}
		pr.Skipped += res.Skipped
		if res.Deferred {
			pr.Deferred++
		}

		if len(res.Events) == 0 {
			state.AdvanceCursor(m, log.SessionID, res.ProcessedBytes, log.ModifiedTime)
			advanced = true
			continue
		}

		// A parse that resumed mid-log evolves the session's prior snapshot;
		// a parse from byte zero (first sighting or forced re-parse) saw the
		// whole log, so its snapshot is rebuilt from nothing. Re-running a
		// session replaces its snapshot, never compounds it.
		prev := fragment.Set{}
		if resumed {
			if snap, ok := m.SnapshotFor(log.SessionID); ok {
				prev = snap.Fragments
			}
		}

		next, warnings := r.Engine.EvolveVertical(ctx, prev, res.Events)
		pr.Warnings = append(pr.Warnings, warnings...)

		state.RecordSession(m, state.Snapshot{
			SessionID: log.SessionID,
			Timestamp: res.Events[len(res.Events)-1].Timestamp,
			Fragments: next,
		}, len(res.Events), res.ProcessedBytes, log.ModifiedTime, resumed)

		pr.Sessions++
		pr.Events += len(res.Events)
		evolved = true
	}

	// Cursor-only passes (a still-deferred trailing line, say) change no
	// snapshot, so the baseline cannot change either; skip the collaborator
	// round and just persist the cursors.
	if evolved && len(m.Snapshots) > 0 {
		linked := r.loadLinked(ctx, m.LinkedProjects)
		current, warnings := r.Engine.EvolveHorizontal(ctx, m.Current, m.Snapshots, linked)
		pr.Warnings = append(pr.Warnings, warnings...)
		state.SetCurrent(m, current)
	}

	if advanced || evolved {
		if err := r.Store.Save(ctx, project, m); err != nil {
			return nil, &PersistenceError{Project: project, Op: "save", Err: err}
		}
	}
	if evolved {
		r.ensureEmbeddings(ctx, project, m, pr)
	}

	return pr, nil
}

// Consolidate runs only the horizontal step for every project, used by the
// scheduled sweep in watch mode. Projects with no snapshots are skipped.
func (r *Runner) Consolidate(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "runner.consolidate")
	defer span.End()

	projects, err := r.Store.List(ctx)
	if err != nil {
		slog.Error("consolidation sweep: cannot list projects", "error", err)
		return
	}

	for _, project := range projects {
		m, err := r.Store.Load(ctx, project)
		if err != nil || len(m.Snapshots) == 0 {
			continue
		}
		linked := r.loadLinked(ctx, m.LinkedProjects)
		current, warnings := r.Engine.EvolveHorizontal(ctx, m.Current, m.Snapshots, linked)
		for _, w := range warnings {
			slog.Warn("consolidation warning", "project", project, "warning", w.String())
		}
		state.SetCurrent(m, current)
		if err := r.Store.Save(ctx, project, m); err != nil {
			slog.Error("consolidation save failed", "project", project, "error", err)
		}
	}
}

// loadLinked fetches the current baselines of linked projects. A missing
// link is skipped, cross-project context is best-effort.
func (r *Runner) loadLinked(ctx context.Context, projects []string) []fragment.Set {
	var out []fragment.Set
	for _, p := range projects {
		m, err := r.Store.Load(ctx, p)
		if err != nil {
			slog.Warn("linked project unavailable", "project", p, "error", err)
			continue
		}
		if !m.Current.IsEmpty() {
			out = append(out, m.Current)
		}
	}
	return out
}

// ensureEmbeddings tops up stored entry vectors after a successful pass.
// Failures log and move on, search degrades to keyword scoring until the
// next pass.
func (r *Runner) ensureEmbeddings(ctx context.Context, project string, m *state.ProjectMemory, pr *ProjectReport) {
	if r.Embedder == nil || r.OpenEmbedStore == nil {
		return
	}
	store, err := r.OpenEmbedStore(project)
	if err != nil {
		slog.Warn("embedding store unavailable", "project", project, "error", err)
		return
	}
	defer store.Close()

	if _, err := search.EnsureEmbeddings(ctx, store, r.Embedder, m); err != nil {
		pr.Warnings = append(pr.Warnings, evolve.Warning{
			Stage: "embed", Err: fmt.Errorf("project %s: %w", project, err),
		})
	}
}

func projectDirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	return dirs, nil
}
