package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/recall/internal/config"
	"github.com/nextlevelbuilder/recall/internal/runner"
	"github.com/nextlevelbuilder/recall/internal/tracing"
)

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Watch session logs and keep memory up to date",
		Long: "Runs an initial pass, then watches the log root for transcript writes\n" +
			"(debounced) and fires scheduled horizontal consolidation sweeps on the\n" +
			"configured cron expression. Stops on SIGINT/SIGTERM.",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			store, closeStore, err := newStore(cfg)
			if err != nil {
				fail(err)
			}
			defer closeStore()

			shutdownTracing, err := tracing.Setup(cmd.Context(), tracing.Config{
				Endpoint: cfg.Tracing.Endpoint,
				Protocol: cfg.Tracing.Protocol,
				Insecure: cfg.Tracing.Insecure,
			})
			if err != nil {
				fail(err)
			}

			client := requireProvider(cfg)
			r := newRunner(cfg, store, client)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// Catch up before watching.
			r.RunAll(ctx, false)

			w, err := runner.NewWatcher(r, time.Duration(cfg.Watch.DebounceMs)*time.Millisecond)
			if err != nil {
				fail(err)
			}
			if err := w.Start(ctx); err != nil {
				fail(err)
			}
			defer w.Stop()

			sched, err := runner.NewScheduler(r, cfg.Watch.ConsolidateCron)
			if err != nil {
				fail(err)
			}
			go sched.Run(ctx)

			// Config edits need a restart to rebuild the pipeline; watch the
			// file anyway so the operator is told instead of left guessing.
			if cw, err := config.NewWatcher(resolveConfigPath()); err == nil {
				cw.OnChange(func(*config.Config) {
					slog.Warn("config file changed; restart recall watch to apply")
				})
				if err := cw.Start(); err == nil {
					defer cw.Stop()
				}
			}

			fmt.Printf("watching %s (consolidation: %s)\n", cfg.LogRoot, cfg.Watch.ConsolidateCron)
			<-ctx.Done()

			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(flushCtx); err != nil {
				fmt.Fprintf(os.Stderr, "tracing shutdown: %s\n", err)
			}
		},
	}
}
