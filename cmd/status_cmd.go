package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/recall/internal/config"
	"github.com/nextlevelbuilder/recall/internal/fragment"
	"github.com/nextlevelbuilder/recall/internal/state"
)

func statusCmd() *cobra.Command {
	var project string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show memory state per project",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			store, closeStore, err := newStore(cfg)
			if err != nil {
				fail(err)
			}
			defer closeStore()

			ctx := cmd.Context()
			projects := []string{}
			if project != "" {
				projects = append(projects, config.NormalizeProjectID(project))
			} else {
				projects, err = store.List(ctx)
				if err != nil {
					fail(err)
				}
			}
			if len(projects) == 0 {
				fmt.Println("no projects yet — run: recall ingest")
				return
			}

			for _, p := range projects {
				m, err := store.Load(ctx, p)
				if err != nil {
					fmt.Printf("%s: load failed: %s\n", p, err)
					continue
				}
				printProjectStatus(cfg, p, m)
			}
		},
	}

	cmd.Flags().StringVar(&project, "project", "", "show one project")
	return cmd
}

func printProjectStatus(cfg *config.Config, project string, m *state.ProjectMemory) {
	fmt.Printf("%s\n", project)
	fmt.Printf("  snapshots: %d   baseline entries: %d\n",
		len(m.Snapshots), len(fragment.Flatten(m.Current)))

	if m.Current.Focus != nil && m.Current.Focus.Goal != "" {
		fmt.Printf("  focus: %s\n", m.Current.Focus.Goal)
	}
	if len(m.LinkedProjects) > 0 {
		fmt.Printf("  linked: %v\n", m.LinkedProjects)
	}

	for _, p := range m.Processing {
		line := fmt.Sprintf("  session %-24s %6d events  offset %d", p.SessionID, p.EventCount, p.ByteOffset)
		// Unprocessed tail bytes after a pass usually mean a trailing line
		// that never parsed; it is retried every pass, never skipped.
		path := filepath.Join(cfg.LogRoot, project, p.SessionID+".jsonl")
		if fi, err := os.Stat(path); err == nil && fi.Size() > p.ByteOffset {
			line += fmt.Sprintf("  (%d bytes pending)", fi.Size()-p.ByteOffset)
		}
		fmt.Println(line)
	}
}
