package state

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const memoryFileName = "memory.json"

// FileStore keeps one JSON document per project under root/<project>/.
// Writes go through a temp file + rename so a crashed pass never leaves a
// half-written document behind.
type FileStore struct {
	root string
}

// NewFileStore creates the file-backed store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create state root: %w", err)
	}
	return &FileStore{root: dir}, nil
}

// ProjectDir returns the directory holding a project's state files.
func (s *FileStore) ProjectDir(project string) string {
	return filepath.Join(s.root, project)
}

func (s *FileStore) Load(_ context.Context, project string) (*ProjectMemory, error) {
	path := filepath.Join(s.ProjectDir(project), memoryFileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &ProjectMemory{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load project memory: %w", err)
	}

	m, err := decodeDocument(data)
	if err != nil {
		return nil, fmt.Errorf("decode project memory %s: %w", project, err)
	}
	return m, nil
}

func (s *FileStore) Save(_ context.Context, project string, m *ProjectMemory) error {
	dir := s.ProjectDir(project)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create project dir: %w", err)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode project memory: %w", err)
	}

	path := filepath.Join(dir, memoryFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write project memory: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit project memory: %w", err)
	}
	return nil
}

func (s *FileStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	var projects []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.root, e.Name(), memoryFileName)); err == nil {
			projects = append(projects, e.Name())
		}
	}
	sort.Strings(projects)
	return projects, nil
}

// decodeDocument normalizes the on-disk shape. Older documents stored
// processing cursors as a plain sessionId → byteOffset map; those are
// migrated to the explicit ProcessingState list on load.
func decodeDocument(data []byte) (*ProjectMemory, error) {
	var m ProjectMemory
	if err := json.Unmarshal(data, &m); err == nil {
		return &m, nil
	}

	var legacy struct {
		Current        json.RawMessage  `json:"current"`
		Snapshots      []Snapshot       `json:"snapshots"`
		Processing     map[string]int64 `json:"processing"`
		LinkedProjects []string         `json:"linkedProjects"`
	}
	if err := json.Unmarshal(data, &legacy); err != nil {
		return nil, err
	}

	m = ProjectMemory{
		Snapshots:      legacy.Snapshots,
		LinkedProjects: legacy.LinkedProjects,
	}
	if len(legacy.Current) > 0 {
		if err := json.Unmarshal(legacy.Current, &m.Current); err != nil {
			return nil, fmt.Errorf("legacy current: %w", err)
		}
	}

	ids := make([]string, 0, len(legacy.Processing))
	for id := range legacy.Processing {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		m.Processing = append(m.Processing, ProcessingState{
			SessionID:  id,
			ByteOffset: legacy.Processing[id],
			// Legacy docs carried no mtime; zero forces one reprocess check.
			ModifiedTime: time.Time{},
		})
	}

	slog.Info("migrated legacy processing state", "sessions", len(m.Processing))
	return &m, nil
}
