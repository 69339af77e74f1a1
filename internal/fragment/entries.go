package fragment

import "strings"

// IndexEntry is the retrieval-facing reduction of one fragment entry:
// a kind plus primary/secondary text, with the stable content hash.
type IndexEntry struct {
	Kind      Kind
	Primary   string
	Secondary string
	Hash      string
}

// Flatten reduces a set to its indexable entries. Vocabulary is not
// flattened: it is a frequency map, not a retrievable statement, and
// embedding individual terms would only add noise to the vector corpus.
func Flatten(s Set) []IndexEntry {
	var out []IndexEntry
	add := func(k Kind, primary, secondary string) {
		primary = strings.TrimSpace(primary)
		if primary == "" {
			return
		}
		out = append(out, IndexEntry{
			Kind:      k,
			Primary:   primary,
			Secondary: strings.TrimSpace(secondary),
			Hash:      EntryHash(string(k), primary, strings.TrimSpace(secondary)),
		})
	}

	if s.Decisions != nil {
		for _, d := range s.Decisions.Entries {
			add(KindDecisions, d.What, d.Why)
		}
	}
	if s.Insights != nil {
		for _, i := range s.Insights.Entries {
			add(KindInsights, i.Text, i.Context)
		}
	}
	if s.Focus != nil {
		add(KindFocus, s.Focus.Goal, strings.Join(s.Focus.Tasks, "; "))
	}
	if s.Narrative != nil {
		for _, b := range s.Narrative.Beats {
			add(KindNarrative, b.Text, b.Quote)
		}
	}
	return out
}
