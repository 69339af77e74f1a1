package runner

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors the log root and triggers a run when session logs change.
// Appends arrive in bursts (an active session writes continuously), so runs
// are debounced; at most one run is in flight at a time and a change during
// a run queues exactly one follow-up.
type Watcher struct {
	runner   *Runner
	fsw      *fsnotify.Watcher
	debounce time.Duration
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu      sync.Mutex
	timer   *time.Timer
	trigger chan struct{}
}

// NewWatcher creates a log-root watcher. debounce bounds how soon after the
// last write a run starts.
func NewWatcher(r *Runner, debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &Watcher{
		runner:   r,
		fsw:      fsw,
		debounce: debounce,
		trigger:  make(chan struct{}, 1),
	}, nil
}

// Start watches the log root and every project subdirectory, then begins
// the event and run loops.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.fsw.Add(w.runner.LogRoot); err != nil {
		return err
	}

	watched := 1
	entries, err := os.ReadDir(w.runner.LogRoot)
	if err == nil {
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			if err := w.fsw.Add(filepath.Join(w.runner.LogRoot, e.Name())); err == nil {
				watched++
			}
		}
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(2)
	go w.eventLoop(ctx)
	go w.runLoop(ctx)

	slog.Info("log watcher started", "root", w.runner.LogRoot, "watched", watched)
	return nil
}

// Stop shuts the watcher down and waits for an in-flight run to finish.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.fsw.Close()
	w.wg.Wait()

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
}

func (w *Watcher) eventLoop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("log watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	// A new project directory must itself be watched for log writes.
	if event.Has(fsnotify.Create) {
		if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
			if err := w.fsw.Add(event.Name); err == nil {
				slog.Info("watching new project directory", "path", event.Name)
			}
			w.schedule()
			return
		}
	}

	if !strings.HasSuffix(event.Name, ".jsonl") {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}
	w.schedule()
}

// schedule arms (or re-arms) the debounce timer.
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case w.trigger <- struct{}{}:
		default: // a run is already queued
		}
	})
}

func (w *Watcher) runLoop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.trigger:
			w.runner.RunAll(ctx, false)
		}
	}
}
