package fragment

import (
	"encoding/json"
	"testing"
)

func TestEntryHash_Stable(t *testing.T) {
	a := EntryHash("decisions", "use sqlite", "simpler ops")
	b := EntryHash("decisions", "use sqlite", "simpler ops")
	if a != b {
		t.Errorf("same input produced different hashes: %s vs %s", a, b)
	}
	if len(a) != 32 {
		t.Errorf("hash length = %d, want 32", len(a))
	}
}

func TestEntryHash_Distinguishes(t *testing.T) {
	base := EntryHash("decisions", "use sqlite", "simpler ops")
	if EntryHash("insights", "use sqlite", "simpler ops") == base {
		t.Error("kind change did not change hash")
	}
	if EntryHash("decisions", "use sqlite", "") == base {
		t.Error("secondary change did not change hash")
	}
	// Field boundary must matter: (a, bc) != (ab, c)
	if EntryHash("k", "a", "bc") == EntryHash("k", "ab", "c") {
		t.Error("field boundary not encoded in hash")
	}
}

func TestSet_MarshalApplyRoundTrip(t *testing.T) {
	s := Set{
		Decisions: &Decisions{Entries: []Decision{{What: "use pgx", Why: "stdlib driver", Confidence: 0.9}}},
		Focus:     &Focus{Goal: "ship ingestion", Tasks: []string{"parser", "offsets"}},
	}

	raw := s.Marshal(KindDecisions)
	if raw == nil {
		t.Fatal("Marshal returned nil for set view")
	}

	var dst Set
	if err := dst.Apply(KindDecisions, raw); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if dst.Decisions == nil || len(dst.Decisions.Entries) != 1 || dst.Decisions.Entries[0].What != "use pgx" {
		t.Errorf("round trip lost data: %+v", dst.Decisions)
	}

	if s.Marshal(KindNarrative) != nil {
		t.Error("Marshal of unset view should be nil")
	}
}

func TestSet_ApplyRejectsWrongShape(t *testing.T) {
	var s Set
	// A focus-shaped payload must not be accepted as decisions.
	raw := json.RawMessage(`{"goal":"x","tasks":["y"]}`)
	if err := s.Apply(KindDecisions, raw); err == nil {
		t.Error("expected shape error, got nil")
	}
	if s.Decisions != nil {
		t.Error("failed Apply must not mutate the set")
	}
}

func TestSet_ApplyEmptyClears(t *testing.T) {
	s := Set{Focus: &Focus{Goal: "old"}}
	if err := s.Apply(KindFocus, nil); err != nil {
		t.Fatalf("Apply(nil): %v", err)
	}
	if s.Focus != nil {
		t.Error("empty payload should clear the view")
	}
}

func TestSet_Siblings(t *testing.T) {
	s := Set{
		Decisions: &Decisions{Entries: []Decision{{What: "a"}}},
		Insights:  &Insights{Entries: []Insight{{Text: "b"}}},
	}
	sib := s.Siblings(KindDecisions)
	if _, ok := sib[KindDecisions]; ok {
		t.Error("siblings must exclude the requested kind")
	}
	if _, ok := sib[KindInsights]; !ok {
		t.Error("siblings missing a populated view")
	}
	if len(sib) != 1 {
		t.Errorf("siblings = %d views, want 1", len(sib))
	}
}

func TestFlatten(t *testing.T) {
	s := Set{
		Decisions: &Decisions{Entries: []Decision{{What: "use sqlite", Why: "zero deps"}, {What: "use sqlite", Why: "zero deps"}}},
		Insights:  &Insights{Entries: []Insight{{Text: "offsets must be monotonic"}}},
		Focus:     &Focus{Goal: "finish parser", Tasks: []string{"partial lines"}},
		Narrative: &Narrative{Beats: []Beat{{Text: "first green build", Quote: "it works"}}},
		Vocabulary: &Vocabulary{
			Terms: map[string]int{"parser": 3},
		},
	}

	entries := Flatten(s)
	if len(entries) != 5 {
		t.Fatalf("Flatten returned %d entries, want 5", len(entries))
	}
	// Duplicate decisions share one hash.
	if entries[0].Hash != entries[1].Hash {
		t.Error("identical decisions should share a hash")
	}
	for _, e := range entries {
		if e.Kind == KindVocabulary {
			t.Error("vocabulary must not be flattened")
		}
		if e.Hash == "" || e.Primary == "" {
			t.Errorf("incomplete entry: %+v", e)
		}
	}
}

func TestExtractVocabulary(t *testing.T) {
	text := "We moved the parser to internal/ingest/parser.go and switched from Redis to SQLite for the embedding cache."
	v := ExtractVocabulary(text)

	if v.Terms["parser"] != 1 {
		t.Errorf(`Terms["parser"] = %d, want 1`, v.Terms["parser"])
	}
	if v.Terms["the"] != 0 {
		t.Error("stopword leaked into terms")
	}
	if len(v.Files) != 1 || v.Files[0] != "internal/ingest/parser.go" {
		t.Errorf("Files = %v", v.Files)
	}
	found := map[string]bool{}
	for _, tech := range v.Technologies {
		found[tech] = true
	}
	if !found["redis"] || !found["sqlite"] {
		t.Errorf("Technologies = %v, want redis and sqlite", v.Technologies)
	}
}

func TestMergeVocabulary(t *testing.T) {
	a := &Vocabulary{Terms: map[string]int{"parser": 2}, Technologies: []string{"sqlite"}}
	b := &Vocabulary{Terms: map[string]int{"parser": 1, "offsets": 4}, Files: []string{"a.go"}}

	m := MergeVocabulary(a, b)
	if m.Terms["parser"] != 3 || m.Terms["offsets"] != 4 {
		t.Errorf("merged terms = %v", m.Terms)
	}
	if len(m.Technologies) != 1 || len(m.Files) != 1 {
		t.Errorf("merged mentions = %v / %v", m.Technologies, m.Files)
	}

	if got := MergeVocabulary(nil, b); got != b {
		t.Error("nil prev should return next unchanged")
	}
	if got := MergeVocabulary(a, nil); got != a {
		t.Error("nil next should return prev unchanged")
	}
}

func TestSet_Clone(t *testing.T) {
	s := Set{
		Decisions:  &Decisions{Entries: []Decision{{What: "a"}}},
		Vocabulary: &Vocabulary{Terms: map[string]int{"x": 1}},
	}
	c := s.Clone()
	c.Decisions.Entries[0].What = "changed"
	c.Vocabulary.Terms["x"] = 99

	if s.Decisions.Entries[0].What != "a" {
		t.Error("clone shares decisions backing array")
	}
	if s.Vocabulary.Terms["x"] != 1 {
		t.Error("clone shares vocabulary map")
	}
}
