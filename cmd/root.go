// Package cmd implements the recall CLI.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/recall/internal/config"
)

var configFlag string

// Execute runs the CLI.
func Execute() {
	root := &cobra.Command{
		Use:   "recall",
		Short: "Semantic memory over development-session transcripts",
		Long: "recall distills append-only session transcripts into evolving semantic\n" +
			"fragments (decisions, insights, focus, narrative, vocabulary) and serves\n" +
			"hybrid vector + keyword retrieval over them.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configFlag, "config", "", "config file path (default ~/.recall/config.json5)")

	root.AddCommand(ingestCmd())
	root.AddCommand(watchCmd())
	root.AddCommand(searchCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func resolveConfigPath() string {
	if configFlag != "" {
		return configFlag
	}
	if env := os.Getenv("RECALL_CONFIG"); env != "" {
		return env
	}
	return config.DefaultPath()
}

// loadConfig loads the config or exits with a readable error.
func loadConfig() *config.Config {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %s\n", err)
		os.Exit(1)
	}
	return cfg
}
