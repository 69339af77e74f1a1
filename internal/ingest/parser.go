package ingest

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"sort"
)

// Result is the outcome of one parse pass over a log file.
//
// ProcessedBytes is the absolute offset up to which the file has been fully
// consumed. When the final line fails to parse it is treated as an
// in-progress concurrent write: ProcessedBytes then points at the start of
// that line (not the file length), so the next pass retries it once the
// writer has finished.
type Result struct {
	Events         []Event
	ProcessedBytes int64
	Skipped        int  // malformed interior lines, dropped and counted
	Deferred       bool // trailing line left for the next pass
}

// ParseFull parses the whole file. Events are ordered by timestamp, not file
// order: concurrent actor turns can interleave on disk.
func ParseFull(path string) (Result, error) {
	return ParseFromOffset(path, 0)
}

// ParseFromOffset parses only bytes at and after fromByte, making the cost of
// a reprocessing pass proportional to new bytes rather than file size.
func ParseFromOffset(path string, fromByte int64) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("read log: %w", err)
	}
	if fromByte < 0 {
		fromByte = 0
	}
	if fromByte > int64(len(data)) {
		// Offset beyond EOF means the stored cursor is stale (or the file was
		// replaced, which the append-only contract forbids). Nothing to read.
		return Result{ProcessedBytes: int64(len(data))}, nil
	}

	res := Result{ProcessedBytes: fromByte}
	pos := fromByte

	for pos < int64(len(data)) {
		lineStart := pos
		var line []byte
		if i := bytes.IndexByte(data[pos:], '\n'); i >= 0 {
			line = data[pos : pos+int64(i)]
			pos += int64(i) + 1
		} else {
			line = data[pos:]
			pos = int64(len(data))
		}

		trimmed := bytes.TrimRight(line, "\r")
		if len(bytes.TrimSpace(trimmed)) == 0 {
			res.ProcessedBytes = pos
			continue
		}

		ev, err := decodeLine(trimmed)
		if err != nil {
			if pos == int64(len(data)) {
				// Last line of the file: assume a concurrent partial write and
				// stop exactly at its start so the next pass retries it.
				res.ProcessedBytes = lineStart
				res.Deferred = true
				return res, nil
			}
			res.Skipped++
			res.ProcessedBytes = pos
			continue
		}

		res.Events = append(res.Events, ev)
		res.ProcessedBytes = pos
	}

	sort.SliceStable(res.Events, func(i, j int) bool {
		return res.Events[i].Timestamp.Before(res.Events[j].Timestamp)
	})

	if res.Skipped > 0 {
		slog.Warn("ingest: dropped malformed lines", "path", path, "count", res.Skipped)
	}
	return res, nil
}
