package schedule

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidSpec = errors.New("invalid schedule spec")
	ErrPersistence = errors.New("persistence failure")
)

// SpecError describes user input that cannot become a job.
type SpecError struct {
	Field  string
	Value  string
	Reason string
}

func (e *SpecError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

func (e *SpecError) Is(target error) bool { return target == ErrInvalidSpec }

// PersistenceError wraps a store failure for one job operation.
type PersistenceError struct {
	Op    string
	JobID string
	Err   error
}

func (e *PersistenceError) Error() string {
	if e.JobID == "" {
		return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("persist %s job %s: %v", e.Op, e.JobID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }
