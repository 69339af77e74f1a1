// Package ingest reads append-only, line-delimited session transcripts into
// ordered events. Logs only grow, and a writer may be mid-line at read time:
// parsing is incremental (byte-offset based) and a malformed trailing line is
// deferred to the next pass instead of being skipped.
package ingest

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Event is one role-tagged, timestamped turn of a session transcript.
// Events are transient: produced by a parse pass, consumed by vertical
// evolution, never persisted on their own.
type Event struct {
	Role       string
	Text       string
	Timestamp  time.Time
	RecordID   string
	SessionID  string
	Correction bool
}

// record is the self-describing wire shape of one log line. Content is
// either a plain string or an array of blocks; only text blocks contribute.
type record struct {
	ID         string          `json:"id"`
	SessionID  string          `json:"sessionId"`
	Role       string          `json:"role"`
	Timestamp  string          `json:"timestamp"`
	Correction bool            `json:"correction,omitempty"`
	Content    json.RawMessage `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// decodeLine parses one log line into an Event. Any failure means the line
// is malformed; the caller decides whether that is a skip or a deferral.
func decodeLine(line []byte) (Event, error) {
	var r record
	if err := json.Unmarshal(line, &r); err != nil {
		return Event{}, fmt.Errorf("decode record: %w", err)
	}
	if r.ID == "" || r.SessionID == "" || r.Role == "" {
		return Event{}, fmt.Errorf("record missing id/sessionId/role")
	}
	ts, err := time.Parse(time.RFC3339, r.Timestamp)
	if err != nil {
		return Event{}, fmt.Errorf("record timestamp: %w", err)
	}

	text, err := contentText(r.Content)
	if err != nil {
		return Event{}, err
	}

	return Event{
		Role:       r.Role,
		Text:       text,
		Timestamp:  ts,
		RecordID:   r.ID,
		SessionID:  r.SessionID,
		Correction: r.Correction,
	}, nil
}

func contentText(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("record missing content")
	}

	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return plain, nil
	}

	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return "", fmt.Errorf("record content: %w", err)
	}
	var parts []string
	for _, b := range blocks {
		if b.Type != "text" || strings.TrimSpace(b.Text) == "" {
			continue
		}
		parts = append(parts, b.Text)
	}
	return strings.Join(parts, "\n"), nil
}
