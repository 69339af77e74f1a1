package search

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/recall/internal/fragment"
	"github.com/nextlevelbuilder/recall/internal/state"
)

// embedBatchSize bounds one embedding request.
const embedBatchSize = 64

// EnsureEmbeddings embeds every flattened entry of the project's snapshots
// and current baseline that has no stored vector yet. Entries are immutable,
// so already-stored hashes are skipped. Returns the number of newly embedded
// entries.
func EnsureEmbeddings(ctx context.Context, store *EmbeddingStore, embedder Embedder, m *state.ProjectMemory) (int, error) {
	if store == nil || embedder == nil || m == nil {
		return 0, nil
	}
	ctx, span := tracer.Start(ctx, "search.ensure_embeddings")
	defer span.End()

	texts := make(map[string]string)
	collect := func(set fragment.Set) {
		for _, ie := range fragment.Flatten(set) {
			if _, seen := texts[ie.Hash]; !seen {
				texts[ie.Hash] = EmbedText(ie)
			}
		}
	}
	for _, snap := range m.Snapshots {
		collect(snap.Fragments)
	}
	collect(m.Current)

	hashes := make([]string, 0, len(texts))
	for h := range texts {
		hashes = append(hashes, h)
	}
	missing := store.Missing(hashes)
	if len(missing) == 0 {
		return 0, nil
	}

	embedded := 0
	for start := 0; start < len(missing); start += embedBatchSize {
		end := min(start+embedBatchSize, len(missing))
		batch := missing[start:end]

		input := make([]string, len(batch))
		for i, h := range batch {
			input[i] = texts[h]
		}

		vecs, err := embedder.Embed(ctx, input, ModePassage)
		if err != nil {
			return embedded, fmt.Errorf("embed batch: %w", err)
		}
		if len(vecs) != len(batch) {
			return embedded, fmt.Errorf("embed batch: got %d vectors for %d texts", len(vecs), len(batch))
		}

		for i, h := range batch {
			if err := store.Put(h, vecs[i]); err != nil {
				return embedded, err
			}
			embedded++
		}
	}

	slog.Info("entry embeddings updated", "new", embedded, "total", store.Count())
	return embedded, nil
}
