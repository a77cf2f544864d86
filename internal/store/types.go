// Package store provides SQLite-based operation history for hangulkey.
package store

import "time"

// Outcome is the result of a recorded operation.
type Outcome string

const (
	// OutcomeSuccess indicates the operation completed.
	OutcomeSuccess Outcome = "success"
	// OutcomeDenied indicates the user declined the administrator prompt.
	OutcomeDenied Outcome = "denied"
	// OutcomeFailure indicates any other error.
	OutcomeFailure Outcome = "failure"
)

// Operation is one row of the history.
type Operation struct {
	ID          int64
	Kind        string
	SourceUsage uint32
	SourceName  string
	Outcome     Outcome
	Error       string
	// FailedStep is the 1-based privileged step that failed, or 0.
	FailedStep int
	At         time.Time
}

// Succeeded reports whether the operation completed.
func (o Operation) Succeeded() bool {
	return o.Outcome == OutcomeSuccess
}
