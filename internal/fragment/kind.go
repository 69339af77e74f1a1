package fragment

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Kind identifies one fragment view. The set of kinds is closed.
type Kind string

const (
	KindDecisions  Kind = "decisions"
	KindInsights   Kind = "insights"
	KindFocus      Kind = "focus"
	KindNarrative  Kind = "narrative"
	KindVocabulary Kind = "vocabulary"
)

// Kinds returns every fragment kind.
func Kinds() []Kind {
	return []Kind{KindDecisions, KindInsights, KindFocus, KindNarrative, KindVocabulary}
}

// ReasonedKinds returns the kinds evolved by the reasoning collaborator.
// Vocabulary is excluded: it is computed locally and deterministically.
func ReasonedKinds() []Kind {
	return []Kind{KindDecisions, KindInsights, KindFocus, KindNarrative}
}

// Marshal returns the JSON encoding of the named view, or nil when unset.
// This is the generic read half of the per-kind evolution contract.
func (s *Set) Marshal(k Kind) json.RawMessage {
	var v any
	switch k {
	case KindDecisions:
		if s.Decisions == nil {
			return nil
		}
		v = s.Decisions
	case KindInsights:
		if s.Insights == nil {
			return nil
		}
		v = s.Insights
	case KindFocus:
		if s.Focus == nil {
			return nil
		}
		v = s.Focus
	case KindNarrative:
		if s.Narrative == nil {
			return nil
		}
		v = s.Narrative
	case KindVocabulary:
		if s.Vocabulary == nil {
			return nil
		}
		v = s.Vocabulary
	default:
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}

// Apply validates raw against the named view's shape and stores it.
// An empty raw value clears the view. This is the generic write half of the
// per-kind evolution contract; shape validation here is what turns a
// malformed collaborator response into an error instead of corrupt state.
func (s *Set) Apply(k Kind, raw json.RawMessage) error {
	if len(raw) == 0 {
		s.clear(k)
		return nil
	}
	switch k {
	case KindDecisions:
		var v Decisions
		if err := strictUnmarshal(raw, &v); err != nil {
			return fmt.Errorf("decisions: %w", err)
		}
		s.Decisions = &v
	case KindInsights:
		var v Insights
		if err := strictUnmarshal(raw, &v); err != nil {
			return fmt.Errorf("insights: %w", err)
		}
		s.Insights = &v
	case KindFocus:
		var v Focus
		if err := strictUnmarshal(raw, &v); err != nil {
			return fmt.Errorf("focus: %w", err)
		}
		s.Focus = &v
	case KindNarrative:
		var v Narrative
		if err := strictUnmarshal(raw, &v); err != nil {
			return fmt.Errorf("narrative: %w", err)
		}
		s.Narrative = &v
	case KindVocabulary:
		var v Vocabulary
		if err := strictUnmarshal(raw, &v); err != nil {
			return fmt.Errorf("vocabulary: %w", err)
		}
		s.Vocabulary = &v
	default:
		return fmt.Errorf("unknown fragment kind %q", k)
	}
	return nil
}

// Siblings returns the JSON of every set view except k, for cross-reference
// context in collaborator prompts.
func (s *Set) Siblings(k Kind) map[Kind]json.RawMessage {
	out := make(map[Kind]json.RawMessage)
	for _, other := range Kinds() {
		if other == k {
			continue
		}
		if raw := s.Marshal(other); raw != nil {
			out[other] = raw
		}
	}
	return out
}

func (s *Set) clear(k Kind) {
	switch k {
	case KindDecisions:
		s.Decisions = nil
	case KindInsights:
		s.Insights = nil
	case KindFocus:
		s.Focus = nil
	case KindNarrative:
		s.Narrative = nil
	case KindVocabulary:
		s.Vocabulary = nil
	}
}

// strictUnmarshal rejects JSON that is not an object of the expected shape.
// Unknown fields are rejected so a response for the wrong kind cannot be
// silently accepted as an empty value.
func strictUnmarshal(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	return nil
}
