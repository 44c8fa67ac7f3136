package task

import "fmt"

// NotFoundError reports that a referenced task does not exist in the store.
// Backends return this from mutating operations; lookups return (nil, nil)
// instead ("A not-found is null/None, not an error").
type NotFoundError struct {
	TaskID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("task %q not found", e.TaskID)
}

// InvalidStateError reports an operation incompatible with a task's current
// state (e.g. closing an already-closed task).
type InvalidStateError struct {
	TaskID string
	Reason string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("task %q: %s", e.TaskID, e.Reason)
}

// CorruptionError reports a malformed store file header (not an individual
// malformed record, which is skipped).
type CorruptionError struct {
	Path   string
	Reason string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("%s is corrupted: %s", e.Path, e.Reason)
}

// ExternalFailureError wraps a failure from an external process (the CLI
// wrapper's shelled-out task manager), carrying the reconstructed command
// line for actionable diagnostics.
type ExternalFailureError struct {
	Command []string
	Stderr  string
	Err     error
}

func (e *ExternalFailureError) Error() string {
	return fmt.Sprintf("command %q failed: %s: %v", e.Command, e.Stderr, e.Err)
}

func (e *ExternalFailureError) Unwrap() error { return e.Err }

// DuplicateIDError reports that ImportTasks was given an explicit id that
// already exists in the store; import of duplicates is fatal with no
// partial import.
type DuplicateIDError struct {
	TaskID string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("task %q already exists, import aborted", e.TaskID)
}
