// Package search implements hybrid retrieval over fragment entries: keyword
// scoring for short queries, cosine similarity over stored embeddings for
// longer ones (with per-entry keyword fallback), plus a recency bonus tied to
// the owning snapshot's position in the observed time range. Candidates from
// all corpora (snapshots, current baseline, code chunks) go through one
// fan-in with content-hash dedup.
package search

import (
	"context"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nextlevelbuilder/recall/internal/fragment"
)

var tracer = otel.Tracer("recall/search")

// Embedder turns texts into vectors. Mode is "query" or "passage";
// providers.Client satisfies this.
type Embedder interface {
	Embed(ctx context.Context, texts []string, mode string) ([][]float32, error)
}

// Embedding modes, matching the providers package.
const (
	ModeQuery   = "query"
	ModePassage = "passage"
)

// Entry sources.
const (
	SourceSnapshot = "snapshot"
	SourceCurrent  = "current"
	SourceCode     = "code"
)

// Entry is one retrievable unit with its provenance.
type Entry struct {
	Kind      string
	Primary   string
	Secondary string
	Hash      string
	Source    string
	SessionID string
	Timestamp time.Time
}

// Candidate pairs an entry with its vector, when one is known. A nil vector
// routes the entry through keyword scoring on multi-term queries.
type Candidate struct {
	Entry  Entry
	Vector []float32
}

// Result is one scored entry.
type Result struct {
	Entry   Entry
	Score   float64
	Matched string // "keyword" or "vector"
}

// Info reports side conditions of a search pass.
type Info struct {
	Candidates int
	Degraded   bool // query embedding failed, keyword-only scoring used
}

// Config tunes the scorer. Zero values fall back to defaults.
type Config struct {
	SimilarityThreshold float64 // min cosine similarity for vector acceptance
	RecencyBonusMax     float64 // additive bonus for the newest snapshot
	SubstringPoints     float64 // per matched query term
	WordBoundaryPoints  float64 // extra when the term matches on a word boundary
	PerTermMinimum      float64 // keyword acceptance floor, per query term
}

// DefaultConfig returns the scorer defaults.
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold: 0.6,
		RecencyBonusMax:     20,
		SubstringPoints:     10,
		WordBoundaryPoints:  5,
		PerTermMinimum:      5,
	}
}

// Engine scores candidates against queries.
type Engine struct {
	cfg      Config
	embedder Embedder
}

// NewEngine creates a scoring engine. A nil embedder degrades every
// multi-term query to keyword-only scoring.
func NewEngine(embedder Embedder, cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = def.SimilarityThreshold
	}
	if cfg.RecencyBonusMax <= 0 {
		cfg.RecencyBonusMax = def.RecencyBonusMax
	}
	if cfg.SubstringPoints <= 0 {
		cfg.SubstringPoints = def.SubstringPoints
	}
	if cfg.WordBoundaryPoints <= 0 {
		cfg.WordBoundaryPoints = def.WordBoundaryPoints
	}
	if cfg.PerTermMinimum <= 0 {
		cfg.PerTermMinimum = def.PerTermMinimum
	}
	return &Engine{cfg: cfg, embedder: embedder}
}

var termRe = regexp.MustCompile(`[a-zA-Z0-9_][a-zA-Z0-9_.-]*`)

// QueryTerms tokenizes a query into lowercase terms.
func QueryTerms(query string) []string {
	raw := termRe.FindAllString(query, -1)
	terms := make([]string, 0, len(raw))
	for _, t := range raw {
		terms = append(terms, strings.ToLower(t))
	}
	return terms
}

// Search scores candidates against the query, dedups by content hash keeping
// the best score, and returns up to limit results sorted by score descending.
// Queries of one or two terms use keyword scoring only; longer queries use
// vector similarity where a candidate vector exists, keyword otherwise.
func (e *Engine) Search(ctx context.Context, query string, cands []Candidate, limit int) ([]Result, Info) {
	ctx, span := tracer.Start(ctx, "search")
	defer span.End()

	terms := QueryTerms(query)
	info := Info{Candidates: len(cands)}
	if len(terms) == 0 || len(cands) == 0 {
		return nil, info
	}
	span.SetAttributes(attribute.Int("terms", len(terms)), attribute.Int("candidates", len(cands)))

	var queryVec []float32
	useVector := len(terms) >= 3 && e.embedder != nil
	if useVector {
		vecs, err := e.embedder.Embed(ctx, []string{query}, ModeQuery)
		if err != nil || len(vecs) == 0 {
			slog.Warn("query embedding failed, keyword-only scoring", "error", err)
			info.Degraded = true
			useVector = false
		} else {
			queryVec = vecs[0]
		}
	}

	oldest, newest := timeRange(cands)

	best := make(map[string]Result)
	for _, c := range cands {
		var score float64
		var matched string

		if useVector && len(c.Vector) > 0 {
			sim := CosineSimilarity(queryVec, c.Vector)
			if sim < e.cfg.SimilarityThreshold {
				continue
			}
			score = sim * 100
			matched = "vector"
		} else {
			ks, ok := e.keywordScore(c.Entry, terms)
			if !ok || ks < float64(len(terms))*e.cfg.PerTermMinimum {
				continue
			}
			score = ks
			matched = "keyword"
		}

		score += e.recencyBonus(c.Entry, oldest, newest)

		prev, seen := best[c.Entry.Hash]
		if !seen || score > prev.Score {
			best[c.Entry.Hash] = Result{Entry: c.Entry, Score: score, Matched: matched}
		}
	}

	results := make([]Result, 0, len(best))
	for _, r := range best {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if !results[i].Entry.Timestamp.Equal(results[j].Entry.Timestamp) {
			return results[i].Entry.Timestamp.After(results[j].Entry.Timestamp)
		}
		return results[i].Entry.Hash < results[j].Entry.Hash
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	span.SetAttributes(attribute.Int("results", len(results)))
	return results, info
}

// keywordScore scores one entry against the query terms. Every term must
// appear as a substring of the entry text; a word-boundary occurrence earns
// extra points. Returns ok=false when any term is missing.
func (e *Engine) keywordScore(entry Entry, terms []string) (float64, bool) {
	text := strings.ToLower(entry.Primary)
	if entry.Secondary != "" {
		text += " " + strings.ToLower(entry.Secondary)
	}

	var score float64
	for _, term := range terms {
		if !strings.Contains(text, term) {
			return 0, false
		}
		score += e.cfg.SubstringPoints
		if containsWholeWord(text, term) {
			score += e.cfg.WordBoundaryPoints
		}
	}
	return score, true
}

// recencyBonus positions the entry's snapshot linearly within the observed
// time range. The current baseline is the latest known truth and always gets
// the full bonus; code chunks carry no session time and get none.
func (e *Engine) recencyBonus(entry Entry, oldest, newest time.Time) float64 {
	switch entry.Source {
	case SourceCurrent:
		return e.cfg.RecencyBonusMax
	case SourceCode:
		return 0
	}
	if entry.Timestamp.IsZero() {
		return 0
	}
	span := newest.Sub(oldest)
	if span <= 0 {
		return e.cfg.RecencyBonusMax
	}
	frac := float64(entry.Timestamp.Sub(oldest)) / float64(span)
	return e.cfg.RecencyBonusMax * frac
}

func timeRange(cands []Candidate) (oldest, newest time.Time) {
	for _, c := range cands {
		ts := c.Entry.Timestamp
		if ts.IsZero() {
			continue
		}
		if oldest.IsZero() || ts.Before(oldest) {
			oldest = ts
		}
		if newest.IsZero() || ts.After(newest) {
			newest = ts
		}
	}
	return oldest, newest
}

// CosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched dimensions or zero vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func containsWholeWord(haystack, word string) bool {
	idx := 0
	for {
		i := strings.Index(haystack[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || !isWordByte(haystack[start-1])
		afterOK := end == len(haystack) || !isWordByte(haystack[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// EmbedText is the text sent to the embedder for one entry: primary plus
// secondary, newline-joined. Must stay stable, the content hash keys the
// stored vector.
func EmbedText(entry fragment.IndexEntry) string {
	if entry.Secondary == "" {
		return entry.Primary
	}
	return entry.Primary + "\n" + entry.Secondary
}
