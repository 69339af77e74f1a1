package search

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/recall/internal/fragment"
)

// CodeCorpus is the optional source-code side of retrieval: files split into
// line-aligned chunks, embedded, and stored in sqlite so code snippets can
// compete with memory entries in the same fan-in.
type CodeCorpus struct {
	db *sql.DB
	mu sync.RWMutex
}

// OpenCodeCorpus opens (or creates) the corpus database at dbPath.
func OpenCodeCorpus(dbPath string) (*CodeCorpus, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	c := &CodeCorpus{db: db}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	slog.Info("code corpus opened", "path", dbPath)
	return c, nil
}

func (c *CodeCorpus) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			start_line INTEGER NOT NULL,
			end_line INTEGER NOT NULL,
			hash TEXT NOT NULL,
			text TEXT NOT NULL,
			embedding TEXT NOT NULL DEFAULT '[]',
			updated_at INTEGER NOT NULL DEFAULT (strftime('%s','now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_path ON chunks(path)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_hash ON chunks(hash)`,
		`CREATE TABLE IF NOT EXISTS files (
			path TEXT PRIMARY KEY,
			hash TEXT NOT NULL,
			mtime INTEGER NOT NULL DEFAULT 0,
			size INTEGER NOT NULL DEFAULT 0
		)`,
	}
	for _, stmt := range stmts {
		if _, err := c.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:min(len(stmt), 60)], err)
		}
	}
	return nil
}

// Chunk is one stored code chunk.
type Chunk struct {
	ID        string
	Path      string
	StartLine int
	EndLine   int
	Hash      string
	Text      string
	Embedding []float32
}

// codeExtensions limits indexing to source and doc files.
var codeExtensions = map[string]bool{
	".go": true, ".ts": true, ".tsx": true, ".js": true, ".jsx": true,
	".py": true, ".rs": true, ".java": true, ".rb": true, ".sh": true,
	".sql": true, ".proto": true, ".md": true, ".yaml": true, ".yml": true,
}

// IndexDir walks root, chunks every recognized source file that changed
// since the last pass, embeds the chunks, and upserts them. Unchanged files
// (same content hash) are skipped entirely. Returns the number of files
// re-indexed.
func (c *CodeCorpus) IndexDir(ctx context.Context, root string, embedder Embedder) (int, error) {
	ctx, span := tracer.Start(ctx, "search.index_code")
	defer span.End()

	indexed := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if name != "." && (strings.HasPrefix(name, ".") || name == "node_modules" || name == "vendor") {
				return filepath.SkipDir
			}
			return nil
		}
		if !codeExtensions[filepath.Ext(path)] {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		changed, err := c.indexFile(ctx, root, path, embedder)
		if err != nil {
			return fmt.Errorf("index %s: %w", path, err)
		}
		if changed {
			indexed++
		}
		return nil
	})
	if err != nil {
		return indexed, err
	}

	slog.Info("code corpus indexed", "root", root, "files", indexed)
	return indexed, nil
}

func (c *CodeCorpus) indexFile(ctx context.Context, root, path string, embedder Embedder) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}

	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}

	sum := sha256.Sum256(data)
	fileHash := fmt.Sprintf("%x", sum[:16])
	if prev, ok := c.fileHash(rel); ok && prev == fileHash {
		return false, nil
	}

	chunks := ChunkText(string(data), 1000)

	var vecs [][]float32
	if embedder != nil {
		input := make([]string, len(chunks))
		for i, ch := range chunks {
			input[i] = ch.Text
		}
		vecs, err = embedder.Embed(ctx, input, ModePassage)
		if err != nil {
			return false, fmt.Errorf("embed chunks: %w", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM chunks WHERE path = ?", rel); err != nil {
		return false, err
	}
	for i, ch := range chunks {
		hash := fragment.EntryHash("code", ch.Text, rel)
		var embJSON []byte
		if i < len(vecs) {
			embJSON, _ = json.Marshal(vecs[i])
		} else {
			embJSON = []byte("[]")
		}
		_, err := tx.Exec(`INSERT OR REPLACE INTO chunks (id, path, start_line, end_line, hash, text, embedding, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, strftime('%s','now'))`,
			fmt.Sprintf("%s:%d", rel, ch.StartLine), rel, ch.StartLine, ch.EndLine, hash, ch.Text, string(embJSON))
		if err != nil {
			return false, err
		}
	}

	fi, _ := os.Stat(path)
	var mtime, size int64
	if fi != nil {
		mtime, size = fi.ModTime().Unix(), fi.Size()
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO files (path, hash, mtime, size) VALUES (?, ?, ?, ?)`,
		rel, fileHash, mtime, size); err != nil {
		return false, err
	}

	return true, tx.Commit()
}

func (c *CodeCorpus) fileHash(path string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var hash string
	if err := c.db.QueryRow("SELECT hash FROM files WHERE path = ?", path).Scan(&hash); err != nil {
		return "", false
	}
	return hash, true
}

// Candidates returns every stored chunk as a search candidate. Chunk vectors
// live inline in the corpus, not in the embedding store.
func (c *CodeCorpus) Candidates() ([]Candidate, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rows, err := c.db.Query("SELECT path, start_line, end_line, hash, text, embedding FROM chunks")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var ch Chunk
		var embJSON string
		if err := rows.Scan(&ch.Path, &ch.StartLine, &ch.EndLine, &ch.Hash, &ch.Text, &embJSON); err != nil {
			continue
		}
		json.Unmarshal([]byte(embJSON), &ch.Embedding)

		out = append(out, Candidate{
			Entry: Entry{
				Kind:      "code",
				Primary:   ch.Text,
				Secondary: fmt.Sprintf("%s:%d-%d", ch.Path, ch.StartLine, ch.EndLine),
				Hash:      ch.Hash,
				Source:    SourceCode,
			},
			Vector: ch.Embedding,
		})
	}
	return out, rows.Err()
}

// ChunkCount returns the number of stored chunks.
func (c *CodeCorpus) ChunkCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var n int
	c.db.QueryRow("SELECT COUNT(*) FROM chunks").Scan(&n)
	return n
}

// Close closes the underlying database.
func (c *CodeCorpus) Close() error {
	return c.db.Close()
}

// TextChunk is a chunk of text with line number metadata.
type TextChunk struct {
	Text      string
	StartLine int
	EndLine   int
}

// ChunkText splits text into line-aligned chunks of roughly maxChunkLen
// bytes. When a chunk overflows the budget it is cut at the most recent
// blank line, so functions and paragraphs tend to stay whole; a run with no
// blank line is cut at the current line instead. Line numbers are 1-based
// and cover exactly the lines the chunk carries.
func ChunkText(text string, maxChunkLen int) []TextChunk {
	if maxChunkLen <= 0 {
		maxChunkLen = 1000
	}
	lines := strings.Split(text, "\n")

	var chunks []TextChunk
	emit := func(start, end int) { // 0-based, inclusive
		for start <= end && strings.TrimSpace(lines[start]) == "" {
			start++
		}
		for end >= start && strings.TrimSpace(lines[end]) == "" {
			end--
		}
		if start > end {
			return
		}
		chunks = append(chunks, TextChunk{
			Text:      strings.Join(lines[start:end+1], "\n"),
			StartLine: start + 1,
			EndLine:   end + 1,
		})
	}

	start := 0
	size := 0
	lastBlank := -1
	for i, line := range lines {
		size += len(line) + 1
		if strings.TrimSpace(line) == "" {
			lastBlank = i
		}
		if size < maxChunkLen {
			continue
		}
		cut := i
		if lastBlank > start {
			cut = lastBlank
		}
		emit(start, cut)
		start = cut + 1
		lastBlank = -1
		size = 0
		for j := start; j <= i; j++ {
			size += len(lines[j]) + 1
		}
	}
	if start < len(lines) {
		emit(start, len(lines)-1)
	}
	return chunks
}
