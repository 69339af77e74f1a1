package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/nextlevelbuilder/recall/internal/config"
	"github.com/nextlevelbuilder/recall/internal/evolve"
	"github.com/nextlevelbuilder/recall/internal/providers"
	"github.com/nextlevelbuilder/recall/internal/runner"
	"github.com/nextlevelbuilder/recall/internal/search"
	"github.com/nextlevelbuilder/recall/internal/state"
)

// newStore builds the configured memory store. The returned closer is a
// no-op for the file backend.
func newStore(cfg *config.Config) (state.Store, func(), error) {
	switch cfg.Backend {
	case "postgres":
		pg, err := state.OpenPG(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres store: %w", err)
		}
		return pg, func() { pg.Close() }, nil
	default:
		fs, err := state.NewFileStore(cfg.StateRoot)
		if err != nil {
			return nil, nil, fmt.Errorf("open file store: %w", err)
		}
		return fs, func() {}, nil
	}
}

// newProvider builds the reasoning/embedding client, or nil when no
// provider is configured. Commands that need one exit with guidance.
func newProvider(cfg *config.Config) *providers.Client {
	if cfg.Provider.BaseURL == "" {
		return nil
	}
	client, err := providers.NewClient(providers.Config{
		BaseURL:           cfg.Provider.BaseURL,
		APIKey:            cfg.Provider.APIKey,
		ChatModel:         cfg.Provider.ChatModel,
		EmbedModel:        cfg.Provider.EmbedModel,
		TimeoutSeconds:    cfg.Provider.TimeoutSeconds,
		RequestsPerMinute: cfg.Provider.RequestsPerMinute,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building provider client: %s\n", err)
		os.Exit(1)
	}
	return client
}

func requireProvider(cfg *config.Config) *providers.Client {
	client := newProvider(cfg)
	if client == nil {
		fmt.Fprintln(os.Stderr, "Error: no reasoning provider configured.")
		fmt.Fprintln(os.Stderr, "Set provider.baseUrl in the config file:  recall config path")
		os.Exit(1)
	}
	return client
}

// newRunner wires the full pipeline: store, provider, engine, embeddings.
func newRunner(cfg *config.Config, store state.Store, client *providers.Client) *runner.Runner {
	r := &runner.Runner{
		LogRoot: cfg.LogRoot,
		Store:   store,
		Engine: evolve.NewEngine(client, evolve.Config{
			WindowTokenBudget:   cfg.Evolution.WindowTokenBudget,
			ConsolidationWindow: cfg.Evolution.ConsolidationWindow,
		}),
	}
	if client != nil {
		r.Embedder = client
		r.OpenEmbedStore = func(project string) (*search.EmbeddingStore, error) {
			return openEmbedStore(cfg, project)
		}
	}
	return r
}

func openEmbedStore(cfg *config.Config, project string) (*search.EmbeddingStore, error) {
	dir := filepath.Join(cfg.StateRoot, project)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return search.OpenEmbeddingStore(filepath.Join(dir, "embeddings.db"), cfg.Provider.EmbedModel)
}

func codeCorpusPath(cfg *config.Config, project string) string {
	return filepath.Join(cfg.StateRoot, project, "code.db")
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	os.Exit(1)
}
