package models

import "fmt"

// ValidationError rejects an operation before any side effect occurs.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

// NotFoundError reports an unknown identifier.
type NotFoundError struct {
	Kind string // "grid" or "strategy"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// StateError reports an operation that is invalid for the entity's current
// lifecycle state.
type StateError struct {
	ID     string
	Reason string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: %s", e.ID, e.Reason)
}

// ConnectivityError reports that the exchange connector is unusable.
type ConnectivityError struct {
	Reason string
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("exchange connectivity: %s", e.Reason)
}

// PartialFailure reports a best-effort batch in which some sub-operations
// failed. It is carried inside results and never aborts the batch.
type PartialFailure struct {
	Op        string
	Attempted int
	Succeeded int
	Failed    int
}

func (e *PartialFailure) Error() string {
	return fmt.Sprintf("%s: %d/%d sub-operations failed", e.Op, e.Failed, e.Attempted)
}
