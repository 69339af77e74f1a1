package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nextlevelbuilder/recall/internal/evolve"
	"github.com/nextlevelbuilder/recall/internal/fragment"
	"github.com/nextlevelbuilder/recall/internal/state"
)

// stubReasoner returns a fixed valid value per kind.
type stubReasoner struct {
	evolveCalls    int
	reconcileCalls int
}

func (s *stubReasoner) respond(kind fragment.Kind) json.RawMessage {
	switch kind {
	case fragment.KindDecisions:
		return json.RawMessage(`{"entries":[{"what":"d"}]}`)
	case fragment.KindInsights:
		return json.RawMessage(`{"entries":[{"text":"i"}]}`)
	case fragment.KindFocus:
		return json.RawMessage(`{"goal":"g"}`)
	default:
		return json.RawMessage(`{"beats":[{"text":"b"}]}`)
	}
}

func (s *stubReasoner) Evolve(_ context.Context, kind fragment.Kind, _ json.RawMessage,
	_ map[fragment.Kind]json.RawMessage, _ string) (json.RawMessage, error) {
	s.evolveCalls++
	return s.respond(kind), nil
}

func (s *stubReasoner) Reconcile(_ context.Context, kind fragment.Kind, _ json.RawMessage,
	_ map[fragment.Kind]json.RawMessage, _ string) (json.RawMessage, error) {
	s.reconcileCalls++
	return s.respond(kind), nil
}

func record(id, session, role, text string, ts time.Time) string {
	rec := map[string]any{
		"id":        id,
		"sessionId": session,
		"role":      role,
		"timestamp": ts.Format(time.RFC3339),
		"content":   text,
	}
	b, _ := json.Marshal(rec)
	return string(b)
}

func writeLog(t *testing.T, root, project, session string, lines ...string) string {
	t.Helper()
	dir := filepath.Join(root, project)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, session+".jsonl")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newRunner(t *testing.T, logRoot string) (*Runner, *stubReasoner, state.Store) {
	t.Helper()
	store, err := state.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	rs := &stubReasoner{}
	return &Runner{
		LogRoot: logRoot,
		Store:   store,
		Engine:  evolve.NewEngine(rs, evolve.Config{}),
	}, rs, store
}

func TestRunProject_FullPass(t *testing.T) {
	logRoot := t.TempDir()
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	writeLog(t, logRoot, "webapp", "s1",
		record("r1", "s1", "user", "use sqlite for the cache", base),
		record("r2", "s1", "assistant", "done", base.Add(time.Minute)),
	)

	r, rs, store := newRunner(t, logRoot)
	pr, err := r.RunProject(context.Background(), "webapp", false)
	if err != nil {
		t.Fatalf("RunProject: %v", err)
	}
	if pr.Sessions != 1 || pr.Events != 2 {
		t.Errorf("report = %+v", pr)
	}
	if rs.evolveCalls != 4 {
		t.Errorf("evolve calls = %d, want 4", rs.evolveCalls)
	}

	m, err := store.Load(context.Background(), "webapp")
	if err != nil {
		t.Fatal(err)
	}
	snap, ok := m.SnapshotFor("s1")
	if !ok || !snap.Timestamp.Equal(base.Add(time.Minute)) {
		t.Errorf("snapshot = %+v ok=%v", snap, ok)
	}
	cursor, ok := m.ProcessingFor("s1")
	if !ok || cursor.EventCount != 2 || cursor.ByteOffset == 0 {
		t.Errorf("cursor = %+v ok=%v", cursor, ok)
	}
	// Single snapshot + empty baseline: bootstrap adoption, no reconcile.
	if rs.reconcileCalls != 0 {
		t.Errorf("reconcile calls = %d, want 0 on bootstrap", rs.reconcileCalls)
	}
	if m.Current.Focus == nil || m.Current.Focus.Goal != "g" {
		t.Errorf("current = %+v", m.Current)
	}
}

func TestRunProject_SecondRunIsNoOp(t *testing.T) {
	logRoot := t.TempDir()
	writeLog(t, logRoot, "webapp", "s1",
		record("r1", "s1", "user", "hello", time.Now().UTC()),
	)

	r, rs, _ := newRunner(t, logRoot)
	if _, err := r.RunProject(context.Background(), "webapp", false); err != nil {
		t.Fatal(err)
	}
	first := rs.evolveCalls

	pr, err := r.RunProject(context.Background(), "webapp", false)
	if err != nil {
		t.Fatal(err)
	}
	if pr.Sessions != 0 || rs.evolveCalls != first {
		t.Errorf("second run did work: report=%+v calls=%d", pr, rs.evolveCalls)
	}
}

func TestRunProject_ResumesFromOffset(t *testing.T) {
	logRoot := t.TempDir()
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	path := writeLog(t, logRoot, "webapp", "s1",
		record("r1", "s1", "user", "first", base),
	)

	r, _, store := newRunner(t, logRoot)
	if _, err := r.RunProject(context.Background(), "webapp", false); err != nil {
		t.Fatal(err)
	}

	// Append one record; the next pass must see exactly one new event.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString(record("r2", "s1", "user", "second", base.Add(time.Hour)) + "\n")
	f.Close()

	pr, err := r.RunProject(context.Background(), "webapp", false)
	if err != nil {
		t.Fatal(err)
	}
	if pr.Events != 1 {
		t.Errorf("events = %d, want 1 (incremental)", pr.Events)
	}

	m, _ := store.Load(context.Background(), "webapp")
	cursor, _ := m.ProcessingFor("s1")
	if cursor.EventCount != 2 {
		t.Errorf("accumulated event count = %d, want 2", cursor.EventCount)
	}
}

func TestRunProject_DeferredTrailingLine(t *testing.T) {
	logRoot := t.TempDir()
	base := time.Now().UTC()
	dir := filepath.Join(logRoot, "webapp")
	os.MkdirAll(dir, 0o755)
	content := record("r1", "s1", "user", "complete", base) + "\n" +
		`{"id":"r2","sessionId":"s1","role":"user","time` // mid-write
	os.WriteFile(filepath.Join(dir, "s1.jsonl"), []byte(content), 0o644)

	r, _, store := newRunner(t, logRoot)
	pr, err := r.RunProject(context.Background(), "webapp", false)
	if err != nil {
		t.Fatal(err)
	}
	if pr.Deferred != 1 || pr.Events != 1 {
		t.Errorf("report = %+v", pr)
	}

	m, _ := store.Load(context.Background(), "webapp")
	cursor, _ := m.ProcessingFor("s1")
	wantOffset := int64(len(record("r1", "s1", "user", "complete", base)) + 1)
	if cursor.ByteOffset != wantOffset {
		t.Errorf("offset = %d, want %d (start of the partial line)", cursor.ByteOffset, wantOffset)
	}
}

func TestRunProject_ForceRebuildsFromScratch(t *testing.T) {
	logRoot := t.TempDir()
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	writeLog(t, logRoot, "webapp", "s1",
		record("r1", "s1", "user", "sqlite sqlite sqlite", base),
		record("r2", "s1", "assistant", "done", base.Add(time.Minute)),
	)

	r, _, store := newRunner(t, logRoot)
	ctx := context.Background()
	if _, err := r.RunProject(ctx, "webapp", false); err != nil {
		t.Fatal(err)
	}
	m, _ := store.Load(ctx, "webapp")
	snap, _ := m.SnapshotFor("s1")
	if got := snap.Fragments.Vocabulary.Terms["sqlite"]; got != 3 {
		t.Fatalf("sqlite count after first pass = %d, want 3", got)
	}

	// A forced re-parse sees every event again: the snapshot is rebuilt from
	// nothing, so neither vocabulary counts nor the event count compound.
	pr, err := r.RunProject(ctx, "webapp", true)
	if err != nil {
		t.Fatal(err)
	}
	if pr.Events != 2 {
		t.Errorf("events = %d, want 2 (full re-parse)", pr.Events)
	}

	m, _ = store.Load(ctx, "webapp")
	snap, _ = m.SnapshotFor("s1")
	if got := snap.Fragments.Vocabulary.Terms["sqlite"]; got != 3 {
		t.Errorf("sqlite count after forced re-pass = %d, want 3", got)
	}
	cursor, _ := m.ProcessingFor("s1")
	if cursor.EventCount != 2 {
		t.Errorf("event count = %d, want 2 (replaced, not accumulated)", cursor.EventCount)
	}
}

func TestRunProject_CursorOnlyPassSkipsConsolidation(t *testing.T) {
	logRoot := t.TempDir()
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	path := writeLog(t, logRoot, "webapp", "s1",
		record("r1", "s1", "user", "hello", base),
	)

	r, rs, _ := newRunner(t, logRoot)
	ctx := context.Background()
	if _, err := r.RunProject(ctx, "webapp", false); err != nil {
		t.Fatal(err)
	}
	evolveAfterFirst := rs.evolveCalls

	// Grow the log by a partial line only. The next pass yields zero events;
	// no snapshot changed, so the baseline must not be reconciled again.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString(`{"id":"r2","sessionId":"s1","role":"us`)
	f.Close()

	pr, err := r.RunProject(ctx, "webapp", false)
	if err != nil {
		t.Fatal(err)
	}
	if pr.Deferred != 1 || pr.Sessions != 0 {
		t.Errorf("report = %+v", pr)
	}
	if rs.evolveCalls != evolveAfterFirst {
		t.Errorf("evolve calls = %d, want %d (no vertical rerun)", rs.evolveCalls, evolveAfterFirst)
	}
	if rs.reconcileCalls != 0 {
		t.Errorf("reconcile calls = %d, want 0 for a cursor-only pass", rs.reconcileCalls)
	}
}

func TestRunAll_ProjectBulkhead(t *testing.T) {
	logRoot := t.TempDir()
	base := time.Now().UTC()
	writeLog(t, logRoot, "good", "s1", record("r1", "s1", "user", "fine", base))
	// Unreadable project directory name that normalizes to empty is skipped;
	// use a store that fails for one project instead.
	writeLog(t, logRoot, "bad", "s1", record("r1", "s1", "user", "fine", base))

	r, _, store := newRunner(t, logRoot)
	r.Store = failingStore{Store: store, failProject: "bad"}

	report := r.RunAll(context.Background(), false)
	if len(report.Projects) != 1 || report.Projects[0].Project != "good" {
		t.Errorf("projects = %+v", report.Projects)
	}
	if _, ok := report.Failed["bad"]; !ok {
		t.Errorf("failed = %+v, want bad recorded", report.Failed)
	}
	if report.RunID == "" {
		t.Error("run id missing")
	}
}

type failingStore struct {
	state.Store
	failProject string
}

func (f failingStore) Load(ctx context.Context, project string) (*state.ProjectMemory, error) {
	if project == f.failProject {
		return nil, fmt.Errorf("disk on fire")
	}
	return f.Store.Load(ctx, project)
}

func TestScheduler_ValidatesExpression(t *testing.T) {
	r := &Runner{}
	if _, err := NewScheduler(r, "not a cron"); err == nil {
		t.Fatal("expected error for invalid expression")
	}

	s, err := NewScheduler(r, "*/5 * * * *")
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	s.now = func() time.Time { return time.Date(2026, 2, 1, 10, 5, 0, 0, time.UTC) }
	if !s.Due() {
		t.Error("10:05 should match */5")
	}
	s.now = func() time.Time { return time.Date(2026, 2, 1, 10, 7, 0, 0, time.UTC) }
	if s.Due() {
		t.Error("10:07 should not match */5")
	}
}
