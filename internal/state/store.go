package state

import "context"

// Store loads and saves project memory documents. Implementations assume a
// single writer process per project: memory is read, mutated in memory, and
// written back as one unit per pass, with no cross-process locking.
type Store interface {
	// Load returns the project's memory, creating an empty document on first use.
	Load(ctx context.Context, project string) (*ProjectMemory, error)
	// Save persists the document wholesale.
	Save(ctx context.Context, project string, m *ProjectMemory) error
	// List returns the known project keys.
	List(ctx context.Context) ([]string, error)
}
