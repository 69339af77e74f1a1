package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
)

// Scheduler fires periodic horizontal consolidation sweeps in watch mode.
// The expression is standard 5-field cron; ticks are checked once a minute.
type Scheduler struct {
	runner *Runner
	expr   string

	// now and tick are test seams.
	now  func() time.Time
	tick time.Duration
}

// NewScheduler validates the cron expression and returns a scheduler.
func NewScheduler(r *Runner, expr string) (*Scheduler, error) {
	if !gronx.New().IsValid(expr) {
		return nil, fmt.Errorf("invalid cron expression: %s", expr)
	}
	return &Scheduler{
		runner: r,
		expr:   expr,
		now:    time.Now,
		tick:   time.Minute,
	}, nil
}

// Run blocks until ctx is cancelled, firing a consolidation sweep at each
// cron match.
func (s *Scheduler) Run(ctx context.Context) {
	slog.Info("consolidation scheduler started", "cron", s.expr)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("consolidation scheduler stopped")
			return
		case <-ticker.C:
			if s.Due() {
				slog.Info("scheduled consolidation sweep", "cron", s.expr)
				s.runner.Consolidate(ctx)
			}
		}
	}
}

// Due reports whether the expression matches the current minute.
func (s *Scheduler) Due() bool {
	due, err := gronx.New().IsDue(s.expr, s.now())
	if err != nil {
		slog.Error("cron check failed", "expr", s.expr, "error", err)
		return false
	}
	return due
}
