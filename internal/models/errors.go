package models

import "fmt"

// ValidationError reports a malformed incident payload. No run state is
// created when it is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid incident payload: %s: %s", e.Field, e.Message)
}

// DomainInvocationError reports a failed or timed-out investigator call.
type DomainInvocationError struct {
	Domain Domain
	Task   string
	Err    error
}

func (e *DomainInvocationError) Error() string {
	return fmt.Sprintf("%s investigation task %s failed: %v", e.Domain, e.Task, e.Err)
}

func (e *DomainInvocationError) Unwrap() error { return e.Err }

// PersistenceError reports a failed store write. Runs continue in memory.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failed during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
