package runner

import "fmt"

// PersistenceError wraps a memory-store load or save failure. It aborts the
// owning project's pass; other projects in the same run are unaffected.
type PersistenceError struct {
	Project string
	Op      string // "load" or "save"
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s project %s: %v", e.Op, e.Project, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
