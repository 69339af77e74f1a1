package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func line(id, role, ts, text string) string {
	return fmt.Sprintf(`{"id":%q,"sessionId":"s1","role":%q,"timestamp":%q,"content":%q}`, id, role, ts, text) + "\n"
}

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "s1.jsonl")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseFull_CompleteLog(t *testing.T) {
	content := line("r1", "user", "2026-01-02T10:00:00Z", "fix the parser") +
		line("r2", "assistant", "2026-01-02T10:00:05Z", "done")
	path := writeLog(t, content)

	res, err := ParseFull(path)
	if err != nil {
		t.Fatalf("ParseFull: %v", err)
	}
	if len(res.Events) != 2 {
		t.Fatalf("events = %d, want 2", len(res.Events))
	}
	if res.ProcessedBytes != int64(len(content)) {
		t.Errorf("ProcessedBytes = %d, want %d", res.ProcessedBytes, len(content))
	}
	if res.Skipped != 0 || res.Deferred {
		t.Errorf("Skipped = %d, Deferred = %v", res.Skipped, res.Deferred)
	}
	if res.Events[0].RecordID != "r1" || res.Events[0].Role != "user" {
		t.Errorf("first event = %+v", res.Events[0])
	}
}

func TestParseFull_TrailingPartialLine(t *testing.T) {
	complete := line("r1", "user", "2026-01-02T10:00:00Z", "a") +
		line("r2", "assistant", "2026-01-02T10:00:01Z", "b")
	content := complete + `{"id":"r3","sessionId":"s1","ro`
	path := writeLog(t, content)

	res, err := ParseFull(path)
	if err != nil {
		t.Fatalf("ParseFull: %v", err)
	}
	if len(res.Events) != 2 {
		t.Fatalf("events = %d, want 2", len(res.Events))
	}
	// ProcessedBytes points at the start of the incomplete record, just past
	// the second record's terminating newline, strictly less than file length.
	if res.ProcessedBytes != int64(len(complete)) {
		t.Errorf("ProcessedBytes = %d, want %d", res.ProcessedBytes, len(complete))
	}
	if !res.Deferred {
		t.Error("trailing partial line should be deferred")
	}
	if res.Skipped != 0 {
		t.Errorf("deferred line must not count as skipped, got %d", res.Skipped)
	}
}

func TestParseFromOffset_ResumesCompletedRecord(t *testing.T) {
	complete := line("r1", "user", "2026-01-02T10:00:00Z", "a")
	partial := `{"id":"r2","sessionId":"s1","role":"assistant","timestamp":"2026-01-02T10:00:01Z","content":"b`
	path := writeLog(t, complete+partial)

	first, err := ParseFull(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Events) != 1 || !first.Deferred {
		t.Fatalf("first pass: events=%d deferred=%v", len(first.Events), first.Deferred)
	}

	// Writer finishes the record.
	if err := os.WriteFile(path, []byte(complete+partial+"\"}\n"), 0644); err != nil {
		t.Fatal(err)
	}

	second, err := ParseFromOffset(path, first.ProcessedBytes)
	if err != nil {
		t.Fatal(err)
	}
	if len(second.Events) != 1 || second.Events[0].RecordID != "r2" {
		t.Fatalf("second pass events = %+v", second.Events)
	}
	if second.Deferred {
		t.Error("completed record should not be deferred")
	}
	if second.ProcessedBytes <= first.ProcessedBytes {
		t.Errorf("offset did not advance: %d -> %d", first.ProcessedBytes, second.ProcessedBytes)
	}
}

func TestParseFromOffset_Idempotent(t *testing.T) {
	content := line("r1", "user", "2026-01-02T10:00:00Z", "a")
	path := writeLog(t, content)

	first, err := ParseFull(path)
	if err != nil {
		t.Fatal(err)
	}
	second, err := ParseFromOffset(path, first.ProcessedBytes)
	if err != nil {
		t.Fatal(err)
	}
	if len(second.Events) != 0 {
		t.Errorf("unchanged log produced %d new events", len(second.Events))
	}
	if second.ProcessedBytes != first.ProcessedBytes {
		t.Errorf("offset moved on unchanged log: %d -> %d", first.ProcessedBytes, second.ProcessedBytes)
	}
}

func TestParseFull_SkipsMalformedInteriorLines(t *testing.T) {
	content := line("r1", "user", "2026-01-02T10:00:00Z", "a") +
		"not json at all\n" +
		line("r2", "assistant", "2026-01-02T10:00:01Z", "b")
	path := writeLog(t, content)

	res, err := ParseFull(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Events) != 2 {
		t.Errorf("events = %d, want 2", len(res.Events))
	}
	if res.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", res.Skipped)
	}
	if res.ProcessedBytes != int64(len(content)) {
		t.Errorf("ProcessedBytes = %d, want %d", res.ProcessedBytes, len(content))
	}
}

func TestParseFull_OrdersByTimestamp(t *testing.T) {
	// Interleaved on disk, ordered in output.
	content := line("r2", "assistant", "2026-01-02T10:00:05Z", "later") +
		line("r1", "user", "2026-01-02T10:00:00Z", "earlier")
	path := writeLog(t, content)

	res, err := ParseFull(path)
	if err != nil {
		t.Fatal(err)
	}
	if res.Events[0].RecordID != "r1" || res.Events[1].RecordID != "r2" {
		t.Errorf("events not timestamp-ordered: %s, %s", res.Events[0].RecordID, res.Events[1].RecordID)
	}
}

func TestParseFull_BlockContent(t *testing.T) {
	content := `{"id":"r1","sessionId":"s1","role":"assistant","timestamp":"2026-01-02T10:00:00Z","content":[{"type":"text","text":"part one"},{"type":"tool_use","text":"ignored"},{"type":"text","text":"part two"}]}` + "\n"
	path := writeLog(t, content)

	res, err := ParseFull(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Events) != 1 {
		t.Fatalf("events = %d, want 1", len(res.Events))
	}
	if res.Events[0].Text != "part one\npart two" {
		t.Errorf("text = %q", res.Events[0].Text)
	}
}

func TestParseFull_CorrectionFlag(t *testing.T) {
	content := `{"id":"r1","sessionId":"s1","role":"user","timestamp":"2026-01-02T10:00:00Z","correction":true,"content":"no, we decided against redis"}` + "\n"
	path := writeLog(t, content)

	res, err := ParseFull(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Events) != 1 || !res.Events[0].Correction {
		t.Errorf("correction flag lost: %+v", res.Events)
	}
}

func TestParseFromOffset_BeyondEOF(t *testing.T) {
	content := line("r1", "user", "2026-01-02T10:00:00Z", "a")
	path := writeLog(t, content)

	res, err := ParseFromOffset(path, int64(len(content))+100)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Events) != 0 {
		t.Errorf("events = %d, want 0", len(res.Events))
	}
	if res.ProcessedBytes != int64(len(content)) {
		t.Errorf("ProcessedBytes = %d, want file length %d", res.ProcessedBytes, len(content))
	}
}

func TestDiscover_OldestFirst(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "old.jsonl")
	recent := filepath.Join(dir, "recent.jsonl")
	os.WriteFile(old, []byte("{}\n"), 0644)
	os.WriteFile(recent, []byte("{}\n"), 0644)
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644)

	past := time.Now().Add(-time.Hour)
	os.Chtimes(old, past, past)

	logs, err := Discover(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 2 {
		t.Fatalf("discovered %d logs, want 2", len(logs))
	}
	if logs[0].SessionID != "old" || logs[1].SessionID != "recent" {
		t.Errorf("order = %s, %s; want oldest first", logs[0].SessionID, logs[1].SessionID)
	}
	if logs[0].SizeBytes == 0 {
		t.Error("size not populated")
	}
}

func TestDiscover_MissingDir(t *testing.T) {
	logs, err := Discover(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("missing dir should not error: %v", err)
	}
	if logs != nil {
		t.Errorf("logs = %v, want nil", logs)
	}
}
