package search

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "modernc.org/sqlite"
)

const embedCacheSize = 4096

// EmbeddingStore persists entry vectors keyed by content hash. Entries are
// immutable (the hash covers the text), so a vector never needs invalidation
// and an LRU sits in front of the sqlite table.
type EmbeddingStore struct {
	db    *sql.DB
	mu    sync.RWMutex
	cache *lru.Cache[string, []float32]
	model string
}

// OpenEmbeddingStore opens (or creates) the store at dbPath. Vectors from a
// different model are invisible, a model switch simply re-embeds over time.
func OpenEmbeddingStore(dbPath, model string) (*EmbeddingStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS embeddings (
		hash TEXT NOT NULL,
		model TEXT NOT NULL,
		dims INTEGER NOT NULL DEFAULT 0,
		vector TEXT NOT NULL,
		updated_at INTEGER NOT NULL DEFAULT (strftime('%s','now')),
		PRIMARY KEY (hash, model)
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	cache, err := lru.New[string, []float32](embedCacheSize)
	if err != nil {
		db.Close()
		return nil, err
	}

	slog.Info("embedding store opened", "path", dbPath, "model", model)
	return &EmbeddingStore{db: db, cache: cache, model: model}, nil
}

// Get returns the stored vector for a content hash.
func (s *EmbeddingStore) Get(hash string) ([]float32, bool) {
	if vec, ok := s.cache.Get(hash); ok {
		return vec, true
	}

	s.mu.RLock()
	var vecJSON string
	err := s.db.QueryRow("SELECT vector FROM embeddings WHERE hash = ? AND model = ?",
		hash, s.model).Scan(&vecJSON)
	s.mu.RUnlock()
	if err != nil {
		return nil, false
	}

	var vec []float32
	if err := json.Unmarshal([]byte(vecJSON), &vec); err != nil {
		return nil, false
	}
	s.cache.Add(hash, vec)
	return vec, true
}

// Put stores a vector for a content hash.
func (s *EmbeddingStore) Put(hash string, vec []float32) error {
	vecJSON, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("marshal vector: %w", err)
	}

	s.mu.Lock()
	_, err = s.db.Exec(`INSERT OR REPLACE INTO embeddings (hash, model, dims, vector, updated_at)
		VALUES (?, ?, ?, ?, strftime('%s','now'))`,
		hash, s.model, len(vec), string(vecJSON))
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("store vector: %w", err)
	}

	s.cache.Add(hash, vec)
	return nil
}

// Missing filters hashes down to those with no stored vector.
func (s *EmbeddingStore) Missing(hashes []string) []string {
	var missing []string
	for _, h := range hashes {
		if _, ok := s.Get(h); !ok {
			missing = append(missing, h)
		}
	}
	return missing
}

// Count returns the number of stored vectors for the configured model.
func (s *EmbeddingStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	s.db.QueryRow("SELECT COUNT(*) FROM embeddings WHERE model = ?", s.model).Scan(&n)
	return n
}

// Close closes the underlying database.
func (s *EmbeddingStore) Close() error {
	return s.db.Close()
}
