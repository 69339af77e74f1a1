package fragment

import (
	"regexp"
	"sort"
	"strings"
)

// Vocabulary extraction is the one view that never touches the reasoning
// collaborator: token frequencies and regex-based technology/file mentions,
// computed locally so the result is deterministic and free.

var (
	wordRe = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9_-]{2,}`)
	fileRe = regexp.MustCompile(`[\w./-]+\.(?:go|ts|tsx|js|jsx|py|rs|java|rb|sh|sql|proto|md|json|json5|yaml|yml|toml)\b`)
)

// knownTechnologies is the closed match list for technology mentions.
// Matching is case-insensitive on word boundaries.
var knownTechnologies = []string{
	"docker", "kubernetes", "postgres", "postgresql", "sqlite", "redis",
	"grpc", "graphql", "kafka", "rabbitmq", "nginx", "terraform",
	"react", "vue", "svelte", "typescript", "javascript", "python",
	"golang", "rust", "webpack", "vite", "prometheus", "grafana",
	"opentelemetry", "oauth", "jwt", "websocket", "protobuf", "openai",
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true,
	"this": true, "from": true, "have": true, "has": true, "was": true,
	"are": true, "not": true, "but": true, "you": true, "your": true,
	"can": true, "will": true, "should": true, "would": true, "could": true,
	"then": true, "than": true, "into": true, "just": true, "also": true,
	"when": true, "what": true, "which": true, "there": true, "here": true,
	"all": true, "its": true, "it's": true, "been": true, "use": true,
	"using": true, "need": true, "now": true, "let": true, "like": true,
	"out": true, "get": true, "set": true, "one": true, "two": true,
	"new": true, "make": true, "made": true, "want": true, "only": true,
	"some": true, "more": true, "does": true, "did": true, "don": true,
	"doesn": true, "about": true, "after": true, "before": true,
}

// ExtractVocabulary computes the vocabulary view of a block of transcript
// text. Terms shorter than three characters and common stopwords are
// dropped; file and technology mentions come from the regex/match lists.
func ExtractVocabulary(text string) *Vocabulary {
	v := &Vocabulary{Terms: make(map[string]int)}

	for _, w := range wordRe.FindAllString(text, -1) {
		lw := strings.ToLower(w)
		if stopwords[lw] {
			continue
		}
		v.Terms[lw]++
	}

	files := map[string]bool{}
	for _, f := range fileRe.FindAllString(text, -1) {
		files[f] = true
	}
	v.Files = sortedKeys(files)

	lower := strings.ToLower(text)
	techs := map[string]bool{}
	for _, t := range knownTechnologies {
		if containsWord(lower, t) {
			techs[t] = true
		}
	}
	v.Technologies = sortedKeys(techs)

	return v
}

// MergeVocabulary merges next into prev additively: term counts sum, mention
// lists union. Either side may be nil.
func MergeVocabulary(prev, next *Vocabulary) *Vocabulary {
	if prev == nil {
		return next
	}
	if next == nil {
		return prev
	}
	out := &Vocabulary{Terms: make(map[string]int, len(prev.Terms))}
	for t, c := range prev.Terms {
		out.Terms[t] = c
	}
	for t, c := range next.Terms {
		out.Terms[t] += c
	}
	out.Technologies = unionSorted(prev.Technologies, next.Technologies)
	out.Files = unionSorted(prev.Files, next.Files)
	return out
}

func containsWord(haystack, word string) bool {
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

func sortedKeys(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func unionSorted(a, b []string) []string {
	m := map[string]bool{}
	for _, s := range a {
		m[s] = true
	}
	for _, s := range b {
		m[s] = true
	}
	return sortedKeys(m)
}
