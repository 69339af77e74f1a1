package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/recall/internal/config"
	"github.com/nextlevelbuilder/recall/internal/runner"
	"github.com/nextlevelbuilder/recall/internal/search"
)

func ingestCmd() *cobra.Command {
	var (
		project string
		force   bool
		codeDir string
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Run one memory pass over session logs",
		Long: "Parses new transcript bytes for every project (or one with --project),\n" +
			"evolves per-session fragments, consolidates the current baseline, and\n" +
			"persists the result. With --code, also (re)indexes a source directory\n" +
			"into the project's code corpus.",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			store, closeStore, err := newStore(cfg)
			if err != nil {
				fail(err)
			}
			defer closeStore()

			client := requireProvider(cfg)
			r := newRunner(cfg, store, client)
			ctx := cmd.Context()

			if codeDir != "" {
				if project == "" {
					fail(fmt.Errorf("--code requires --project"))
				}
				indexCode(ctx, cfg, config.NormalizeProjectID(project), codeDir, client)
			}

			if project != "" {
				pr, err := r.RunProject(ctx, project, force)
				if err != nil {
					fail(err)
				}
				printProjectReport(pr)
				return
			}

			report := r.RunAll(ctx, force)
			for i := range report.Projects {
				printProjectReport(&report.Projects[i])
			}
			for p, err := range report.Failed {
				fmt.Printf("%-20s FAILED: %s\n", p, err)
			}
			fmt.Printf("run %s: %d projects, %d sessions, %d warnings in %s\n",
				report.RunID, len(report.Projects), report.Sessions(),
				report.Warnings(), report.Duration.Round(1e6))
		},
	}

	cmd.Flags().StringVar(&project, "project", "", "restrict the pass to one project")
	cmd.Flags().BoolVar(&force, "force", false, "reprocess sessions from byte zero")
	cmd.Flags().StringVar(&codeDir, "code", "", "also index this source directory into the code corpus")
	return cmd
}

func printProjectReport(pr *runner.ProjectReport) {
	fmt.Printf("%-20s %d sessions, %d events", pr.Project, pr.Sessions, pr.Events)
	if pr.Skipped > 0 {
		fmt.Printf(", %d malformed lines skipped", pr.Skipped)
	}
	if pr.Deferred > 0 {
		fmt.Printf(", %d partial lines deferred", pr.Deferred)
	}
	fmt.Println()
	for _, w := range pr.Warnings {
		fmt.Printf("  warning: %s\n", w.String())
	}
}

func indexCode(ctx context.Context, cfg *config.Config, project, dir string, embedder search.Embedder) {
	path := codeCorpusPath(cfg, project)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		fail(err)
	}
	corpus, err := search.OpenCodeCorpus(path)
	if err != nil {
		fail(err)
	}
	defer corpus.Close()

	files, err := corpus.IndexDir(ctx, dir, embedder)
	if err != nil {
		fail(err)
	}
	fmt.Printf("%-20s %d files indexed, %d chunks total\n", project, files, corpus.ChunkCount())
}
