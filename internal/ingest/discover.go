package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// LogInfo describes one candidate session log file. Size and mtime are
// enough for the needs-work fast path; no parsing happens at discovery.
type LogInfo struct {
	SessionID    string
	Path         string
	SizeBytes    int64
	ModifiedTime time.Time
}

// Discover lists the *.jsonl session logs under dir, oldest-modified first.
// Processing sessions in that order keeps the consolidated narrative
// advancing monotonically.
func Discover(dir string) ([]LogInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("discover logs: %w", err)
	}

	var logs []LogInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		logs = append(logs, LogInfo{
			SessionID:    strings.TrimSuffix(e.Name(), ".jsonl"),
			Path:         filepath.Join(dir, e.Name()),
			SizeBytes:    info.Size(),
			ModifiedTime: info.ModTime(),
		})
	}

	sort.Slice(logs, func(i, j int) bool {
		return logs[i].ModifiedTime.Before(logs[j].ModifiedTime)
	})
	return logs, nil
}
