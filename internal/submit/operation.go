package submit

import (
	"sync"
	"time"
)

// Kind names what an operation does
type Kind string

const (
	KindSave     Kind = "save"
	KindSearch   Kind = "search"
	KindDownload Kind = "download"
)

// Operation tracks one convert-then-send job
type Operation struct {
	ID      string
	Kind    Kind
	Subject string // file name or URL the operation works on

	status     OperationStatus
	err        error
	matches    []string
	createdAt  time.Time
	startedAt  time.Time
	finishedAt time.Time

	mu sync.RWMutex
}

// OperationInfo is a snapshot of an operation for monitoring
type OperationInfo struct {
	ID         string          `json:"id"`
	Kind       Kind            `json:"kind"`
	Subject    string          `json:"subject"`
	Status     OperationStatus `json:"status"`
	Error      string          `json:"error,omitempty"`
	Matches    []string        `json:"matches,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Duration   float64         `json:"duration_seconds"`
}

// Status returns the current status
func (op *Operation) Status() OperationStatus {
	op.mu.RLock()
	defer op.mu.RUnlock()
	return op.status
}

// Err returns the failure of a failed operation
func (op *Operation) Err() error {
	op.mu.RLock()
	defer op.mu.RUnlock()
	return op.err
}

// Matches returns the ordered search results of a successful search
func (op *Operation) Matches() []string {
	op.mu.RLock()
	defer op.mu.RUnlock()
	return append([]string(nil), op.matches...)
}

// Info returns a snapshot of the operation
func (op *Operation) Info() OperationInfo {
	op.mu.RLock()
	defer op.mu.RUnlock()
	return op.info()
}

// info is called with op.mu held
func (op *Operation) info() OperationInfo {
	info := OperationInfo{
		ID:         op.ID,
		Kind:       op.Kind,
		Subject:    op.Subject,
		Status:     op.status,
		CreatedAt:  op.createdAt,
		StartedAt:  op.startedAt,
		FinishedAt: op.finishedAt,
	}
	if op.err != nil {
		info.Error = op.err.Error()
	}
	if op.matches != nil {
		info.Matches = append([]string{}, op.matches...)
	}
	if !op.finishedAt.IsZero() {
		info.Duration = op.finishedAt.Sub(op.startedAt).Seconds()
	}
	return info
}

// transition moves the operation to next and returns the new snapshot
func (op *Operation) transition(next OperationStatus, mutate func(op *Operation)) (OperationInfo, error) {
	op.mu.Lock()
	defer op.mu.Unlock()

	if !op.status.CanTransition(next) {
		return op.info(), transitionError(op.status, next)
	}

	now := time.Now()
	switch next {
	case StatusIdle:
		op.err = nil
		op.matches = nil
		op.startedAt = time.Time{}
		op.finishedAt = time.Time{}
	case StatusPending:
		op.startedAt = now
	default:
		op.finishedAt = now
	}
	op.status = next

	if mutate != nil {
		mutate(op)
	}

	return op.info(), nil
}
