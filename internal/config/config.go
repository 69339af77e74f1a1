// Package config loads and watches the recall configuration file. The
// native format is JSON5 (comments and trailing commas allowed); files with
// a .yaml/.yml extension parse as YAML. Missing fields fall back to
// defaults, so an empty file is a valid config.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/titanous/json5"
	"gopkg.in/yaml.v3"
)

// Config is the full recall configuration.
type Config struct {
	// LogRoot holds one subdirectory per project, each containing *.jsonl
	// session transcripts.
	LogRoot string `json:"logRoot" yaml:"logRoot"`
	// StateRoot holds per-project memory documents and sqlite databases.
	StateRoot string `json:"stateRoot" yaml:"stateRoot"`

	// Backend selects the memory store: "file" or "postgres".
	Backend     string `json:"backend" yaml:"backend"`
	PostgresDSN string `json:"postgresDsn" yaml:"postgresDsn"`

	Provider  ProviderConfig  `json:"provider" yaml:"provider"`
	Evolution EvolutionConfig `json:"evolution" yaml:"evolution"`
	Search    SearchConfig    `json:"search" yaml:"search"`
	Watch     WatchConfig     `json:"watch" yaml:"watch"`
	Tracing   TracingConfig   `json:"tracing" yaml:"tracing"`
}

// ProviderConfig points at the OpenAI-compatible reasoning/embedding service.
type ProviderConfig struct {
	BaseURL           string `json:"baseUrl" yaml:"baseUrl"`
	APIKey            string `json:"apiKey" yaml:"apiKey"`
	ChatModel         string `json:"chatModel" yaml:"chatModel"`
	EmbedModel        string `json:"embedModel" yaml:"embedModel"`
	TimeoutSeconds    int    `json:"timeoutSeconds" yaml:"timeoutSeconds"`
	RequestsPerMinute int    `json:"requestsPerMinute" yaml:"requestsPerMinute"`
}

// EvolutionConfig bounds the consolidation passes.
type EvolutionConfig struct {
	WindowTokenBudget   int `json:"windowTokenBudget" yaml:"windowTokenBudget"`
	ConsolidationWindow int `json:"consolidationWindow" yaml:"consolidationWindow"`
}

// SearchConfig tunes the hybrid scorer.
type SearchConfig struct {
	SimilarityThreshold float64 `json:"similarityThreshold" yaml:"similarityThreshold"`
	RecencyBonusMax     float64 `json:"recencyBonusMax" yaml:"recencyBonusMax"`
	Limit               int     `json:"limit" yaml:"limit"`
}

// WatchConfig controls watch mode.
type WatchConfig struct {
	DebounceMs int `json:"debounceMs" yaml:"debounceMs"`
	// ConsolidateCron is a cron expression for periodic horizontal
	// consolidation sweeps while watching.
	ConsolidateCron string `json:"consolidateCron" yaml:"consolidateCron"`
}

// TracingConfig enables OTLP span export when an endpoint is set.
type TracingConfig struct {
	Endpoint string `json:"endpoint" yaml:"endpoint"`
	Protocol string `json:"protocol" yaml:"protocol"` // "grpc" or "http"
	Insecure bool   `json:"insecure" yaml:"insecure"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		LogRoot:   filepath.Join(home, ".recall", "logs"),
		StateRoot: filepath.Join(home, ".recall", "state"),
		Backend:   "file",
		Provider: ProviderConfig{
			ChatModel:         "gpt-4o-mini",
			EmbedModel:        "text-embedding-3-small",
			TimeoutSeconds:    60,
			RequestsPerMinute: 60,
		},
		Evolution: EvolutionConfig{
			WindowTokenBudget:   8000,
			ConsolidationWindow: 3,
		},
		Search: SearchConfig{
			SimilarityThreshold: 0.6,
			RecencyBonusMax:     20,
			Limit:               10,
		},
		Watch: WatchConfig{
			DebounceMs:      2000,
			ConsolidateCron: "*/5 * * * *",
		},
		Tracing: TracingConfig{Protocol: "grpc"},
	}
}

// DefaultPath returns the conventional config file location.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".recall", "config.json5")
}

// Load reads the config at path. A missing file returns defaults; a present
// file is parsed by extension and merged over defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse yaml config: %w", err)
		}
	default:
		if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse json5 config: %w", err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults backfills zero values that a partial file left empty.
func (c *Config) applyDefaults() {
	def := Default()
	if c.LogRoot == "" {
		c.LogRoot = def.LogRoot
	}
	if c.StateRoot == "" {
		c.StateRoot = def.StateRoot
	}
	if c.Backend == "" {
		c.Backend = def.Backend
	}
	if c.Provider.ChatModel == "" {
		c.Provider.ChatModel = def.Provider.ChatModel
	}
	if c.Provider.EmbedModel == "" {
		c.Provider.EmbedModel = def.Provider.EmbedModel
	}
	if c.Provider.TimeoutSeconds <= 0 {
		c.Provider.TimeoutSeconds = def.Provider.TimeoutSeconds
	}
	if c.Provider.RequestsPerMinute <= 0 {
		c.Provider.RequestsPerMinute = def.Provider.RequestsPerMinute
	}
	if c.Evolution.WindowTokenBudget <= 0 {
		c.Evolution.WindowTokenBudget = def.Evolution.WindowTokenBudget
	}
	if c.Evolution.ConsolidationWindow <= 0 {
		c.Evolution.ConsolidationWindow = def.Evolution.ConsolidationWindow
	}
	if c.Search.SimilarityThreshold <= 0 {
		c.Search.SimilarityThreshold = def.Search.SimilarityThreshold
	}
	if c.Search.RecencyBonusMax <= 0 {
		c.Search.RecencyBonusMax = def.Search.RecencyBonusMax
	}
	if c.Search.Limit <= 0 {
		c.Search.Limit = def.Search.Limit
	}
	if c.Watch.DebounceMs <= 0 {
		c.Watch.DebounceMs = def.Watch.DebounceMs
	}
	if c.Watch.ConsolidateCron == "" {
		c.Watch.ConsolidateCron = def.Watch.ConsolidateCron
	}
	if c.Tracing.Protocol == "" {
		c.Tracing.Protocol = def.Tracing.Protocol
	}
}

func (c *Config) validate() error {
	switch c.Backend {
	case "file", "postgres":
	default:
		return fmt.Errorf("unknown backend %q (want file or postgres)", c.Backend)
	}
	if c.Backend == "postgres" && c.PostgresDSN == "" {
		return fmt.Errorf("backend postgres requires postgresDsn")
	}
	switch c.Tracing.Protocol {
	case "grpc", "http":
	default:
		return fmt.Errorf("unknown tracing protocol %q (want grpc or http)", c.Tracing.Protocol)
	}
	return nil
}
