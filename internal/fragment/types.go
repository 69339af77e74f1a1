// Package fragment defines the five independently evolving semantic views of
// a project's session history: decisions, insights, focus, narrative, and
// vocabulary. A Set groups one value per view; any field may be nil, since a
// failed extraction for one view must not block its siblings.
package fragment

// Decision is one recorded technical or product decision.
type Decision struct {
	What       string  `json:"what"`
	Why        string  `json:"why,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Decisions is the ordered list of decisions known for a project.
type Decisions struct {
	Entries []Decision `json:"entries"`
}

// Insight is one durable lesson or observation.
type Insight struct {
	Text    string `json:"text"`
	Context string `json:"context,omitempty"`
}

// Insights is the ordered list of insights known for a project.
type Insights struct {
	Entries []Insight `json:"entries"`
}

// Focus is the single ephemeral record of what the project is working
// toward right now. Unlike the list views it is replaced, not appended.
type Focus struct {
	Goal     string   `json:"goal"`
	Tasks    []string `json:"tasks,omitempty"`
	Blockers []string `json:"blockers,omitempty"`
}

// Beat is one memorable moment in the project narrative.
type Beat struct {
	Text  string `json:"text"`
	Quote string `json:"quote,omitempty"`
}

// Narrative is the ordered arc of memorable beats.
type Narrative struct {
	Beats []Beat `json:"beats"`
}

// Vocabulary is the locally computed term-frequency view plus extracted
// technology and file mentions. It never goes through the reasoning
// collaborator.
type Vocabulary struct {
	Terms        map[string]int `json:"terms"`
	Technologies []string       `json:"technologies,omitempty"`
	Files        []string       `json:"files,omitempty"`
}

// Set holds one value per fragment view. Each field may legitimately be nil.
type Set struct {
	Decisions  *Decisions  `json:"decisions,omitempty"`
	Insights   *Insights   `json:"insights,omitempty"`
	Focus      *Focus      `json:"focus,omitempty"`
	Narrative  *Narrative  `json:"narrative,omitempty"`
	Vocabulary *Vocabulary `json:"vocabulary,omitempty"`
}

// IsEmpty reports whether no view has a value.
func (s Set) IsEmpty() bool {
	return s.Decisions == nil && s.Insights == nil && s.Focus == nil &&
		s.Narrative == nil && s.Vocabulary == nil
}

// Clone returns a deep copy of the set.
func (s Set) Clone() Set {
	out := Set{}
	if s.Decisions != nil {
		d := Decisions{Entries: append([]Decision(nil), s.Decisions.Entries...)}
		out.Decisions = &d
	}
	if s.Insights != nil {
		i := Insights{Entries: append([]Insight(nil), s.Insights.Entries...)}
		out.Insights = &i
	}
	if s.Focus != nil {
		f := Focus{
			Goal:     s.Focus.Goal,
			Tasks:    append([]string(nil), s.Focus.Tasks...),
			Blockers: append([]string(nil), s.Focus.Blockers...),
		}
		out.Focus = &f
	}
	if s.Narrative != nil {
		n := Narrative{Beats: append([]Beat(nil), s.Narrative.Beats...)}
		out.Narrative = &n
	}
	if s.Vocabulary != nil {
		v := Vocabulary{
			Terms:        make(map[string]int, len(s.Vocabulary.Terms)),
			Technologies: append([]string(nil), s.Vocabulary.Technologies...),
			Files:        append([]string(nil), s.Vocabulary.Files...),
		}
		for k, c := range s.Vocabulary.Terms {
			v.Terms[k] = c
		}
		out.Vocabulary = &v
	}
	return out
}
