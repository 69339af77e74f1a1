package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/recall/internal/config"
	"github.com/nextlevelbuilder/recall/internal/search"
)

func searchCmd() *cobra.Command {
	var (
		project string
		limit   int
		corpora string
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Query project memory",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			query := strings.Join(args, " ")
			cfg := loadConfig()
			if limit <= 0 {
				limit = cfg.Search.Limit
			}

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

			sel, err := parseSelector(corpora)
			if err != nil {
				fail(err)
			}

			// A typed-nil client must not reach the interface, search treats a
			// nil embedder as keyword-only.
			var embedder search.Embedder
			if client := newProvider(cfg); client != nil {
				embedder = client
			}
			engine := search.NewEngine(embedder, search.Config{
				SimilarityThreshold: cfg.Search.SimilarityThreshold,
				RecencyBonusMax:     cfg.Search.RecencyBonusMax,
			})

			var cands []search.Candidate
			for _, p := range projects {
				m, err := store.Load(ctx, p)
				if err != nil {
					fail(err)
				}

				var lookup search.VectorLookup
				if es, err := openEmbedStore(cfg, p); err == nil {
					defer es.Close()
					lookup = es.Get
				}
				cands = append(cands, search.CollectMemory(m, sel, lookup)...)

				if sel.Code {
					if corpus, err := search.OpenCodeCorpus(codeCorpusPath(cfg, p)); err == nil {
						defer corpus.Close()
						if cc, err := corpus.Candidates(); err == nil {
							cands = append(cands, cc...)
						}
					}
				}
			}

			results, info := engine.Search(ctx, query, cands, limit)
			if info.Degraded {
				fmt.Println("(embedding unavailable, keyword scoring only)")
			}
			if len(results) == 0 {
				fmt.Println("no matches")
				return
			}
			for _, r := range results {
				printResult(r)
			}
		},
	}

	cmd.Flags().StringVar(&project, "project", "", "search one project (default: all)")
	cmd.Flags().IntVar(&limit, "limit", 0, "max results (default from config)")
	cmd.Flags().StringVar(&corpora, "corpus", "snapshots,current", "comma-separated corpora: snapshots, current, code")
	return cmd
}

func parseSelector(s string) (search.Selector, error) {
	var sel search.Selector
	for _, part := range strings.Split(s, ",") {
		switch strings.TrimSpace(part) {
		case "snapshots":
			sel.Snapshots = true
		case "current":
			sel.Current = true
		case "code":
			sel.Code = true
		case "":
		default:
			return sel, fmt.Errorf("unknown corpus %q (want snapshots, current, or code)", part)
		}
	}
	if !sel.Snapshots && !sel.Current && !sel.Code {
		sel = search.DefaultSelector()
	}
	return sel, nil
}

func printResult(r search.Result) {
	where := r.Entry.Source
	if r.Entry.SessionID != "" {
		where += "/" + r.Entry.SessionID
	}
	fmt.Printf("%6.1f  [%s] %s  (%s, %s)\n", r.Score, r.Entry.Kind, firstLine(r.Entry.Primary), where, r.Matched)
	if r.Entry.Secondary != "" {
		fmt.Printf("        %s\n", firstLine(r.Entry.Secondary))
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:120] + "..."
	}
	return s
}
