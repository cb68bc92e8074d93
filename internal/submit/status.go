package submit

import (
	"errors"
	"fmt"
)

// OperationStatus represents the status of a submission
type OperationStatus string

const (
	// StatusIdle means the operation has not started or was reset
	StatusIdle OperationStatus = "idle"

	// StatusPending means conversion or transmission is in flight
	StatusPending OperationStatus = "pending"

	// StatusSucceeded means the operation finished successfully
	StatusSucceeded OperationStatus = "succeeded"

	// StatusFailed means the operation finished with an error
	StatusFailed OperationStatus = "failed"
)

// ErrInvalidTransition is returned for a status change the lifecycle forbids
var ErrInvalidTransition = errors.New("invalid status transition")

// String returns the string representation of OperationStatus
func (s OperationStatus) String() string {
	return string(s)
}

// IsActive returns true while the operation is in flight
func (s OperationStatus) IsActive() bool {
	return s == StatusPending
}

// IsFinished returns true if the operation succeeded or failed
func (s OperationStatus) IsFinished() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// CanTransition reports whether the lifecycle allows moving from s to next.
// Statuses only move forward; a finished operation may return to idle.
func (s OperationStatus) CanTransition(next OperationStatus) bool {
	switch s {
	case StatusIdle:
		return next == StatusPending
	case StatusPending:
		return next.IsFinished()
	case StatusSucceeded, StatusFailed:
		return next == StatusIdle
	}
	return false
}

func transitionError(from, to OperationStatus) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
