package submit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/wavecore/internal/audio"
	"github.com/skypro1111/wavecore/internal/convert"
	"github.com/skypro1111/wavecore/internal/metrics"
)

// Converter normalizes media into canonical audio
type Converter interface {
	Convert(ctx context.Context, blob audio.MediaBlob) (audio.CanonicalAudio, error)
}

// Service is the remote end that stores and searches canonical audio
type Service interface {
	Save(ctx context.Context, wav audio.CanonicalAudio) error
	Search(ctx context.Context, wav audio.CanonicalAudio) ([]string, error)
	Download(ctx context.Context, mediaURL string) (audio.MediaBlob, error)
}

// DefaultMaxHistory is how many finished operations a coordinator keeps
const DefaultMaxHistory = 100

// Coordinator runs convert-then-send operations and tracks their status
type Coordinator struct {
	converter Converter
	service   Service
	logger    *slog.Logger
	metrics   *metrics.Metrics

	ops        map[string]*Operation
	order      []string
	maxHistory int
	mu         sync.RWMutex

	// notifyMu orders transitions and guards the update queue. Callbacks
	// run outside it.
	onUpdate   func(OperationInfo)
	updates    []OperationInfo
	delivering bool
	notifyMu   sync.Mutex
}

// NewCoordinator creates a coordinator. logger and m may be nil.
func NewCoordinator(converter Converter, service Service, logger *slog.Logger, m *metrics.Metrics) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}

	return &Coordinator{
		converter:  converter,
		service:    service,
		logger:     logger,
		metrics:    m,
		ops:        make(map[string]*Operation),
		maxHistory: DefaultMaxHistory,
	}
}

// SetMaxHistory caps how many finished operations are kept. The oldest
// finished operations are forgotten as others finish. Zero keeps all.
func (c *Coordinator) SetMaxHistory(n int) {
	if n < 0 {
		n = 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxHistory = n
	c.trimHistoryLocked()
}

// SetUpdateCallback sets the function called after every status change.
// Calls never overlap and arrive in transition order. The callback runs
// without coordinator locks held, so it may call back into the Coordinator;
// those updates are delivered after it returns.
func (c *Coordinator) SetUpdateCallback(callback func(OperationInfo)) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.onUpdate = callback
}

// SubmitForSave converts and saves every blob in parallel. A failure in one
// never affects the others. It returns after all operations have finished,
// in the order of blobs.
func (c *Coordinator) SubmitForSave(ctx context.Context, blobs []audio.MediaBlob) []*Operation {
	ops := make([]*Operation, len(blobs))
	for i, blob := range blobs {
		ops[i] = c.newOperation(KindSave, blob.Name())
	}

	var wg sync.WaitGroup
	for i, blob := range blobs {
		wg.Add(1)
		go func(op *Operation, blob audio.MediaBlob) {
			defer wg.Done()
			c.run(op, func(_ *Operation) error {
				wav, err := c.converter.Convert(ctx, blob)
				if err != nil {
					return err
				}
				return c.service.Save(ctx, wav)
			})
		}(ops[i], blob)
	}
	wg.Wait()

	return ops
}

// SubmitForSearch converts blob and searches for it. It returns the ordered
// matches; an empty list is a successful search.
func (c *Coordinator) SubmitForSearch(ctx context.Context, blob audio.MediaBlob) (*Operation, []string, error) {
	op := c.newOperation(KindSearch, blob.Name())

	var matches []string
	err := c.run(op, func(out *Operation) error {
		wav, err := c.converter.Convert(ctx, blob)
		if err != nil {
			return err
		}

		matches, err = c.service.Search(ctx, wav)
		if err != nil {
			return err
		}
		if matches == nil {
			matches = []string{}
		}

		out.matches = matches
		return nil
	})
	if err != nil {
		return op, nil, err
	}

	return op, matches, nil
}

// Download has the service fetch mediaURL and converts the result
func (c *Coordinator) Download(ctx context.Context, mediaURL string) (*Operation, audio.CanonicalAudio, error) {
	op := c.newOperation(KindDownload, mediaURL)

	// The audio goes to the caller only; tracked operations keep no samples
	var wav audio.CanonicalAudio
	err := c.run(op, func(_ *Operation) error {
		blob, err := c.service.Download(ctx, mediaURL)
		if err != nil {
			return err
		}

		wav, err = c.converter.Convert(ctx, blob)
		return err
	})
	if err != nil {
		return op, audio.CanonicalAudio{}, err
	}

	return op, wav, nil
}

// newOperation registers an idle operation
func (c *Coordinator) newOperation(kind Kind, subject string) *Operation {
	op := &Operation{
		ID:        uuid.NewString(),
		Kind:      kind,
		Subject:   subject,
		status:    StatusIdle,
		createdAt: time.Now(),
	}

	c.mu.Lock()
	c.ops[op.ID] = op
	c.order = append(c.order, op.ID)
	c.mu.Unlock()

	c.notify(op.Info())

	return op
}

// run moves op through pending to its final status. work runs without
// the operation lock and records results on a scratch operation that is
// published with the final transition.
func (c *Coordinator) run(op *Operation, work func(op *Operation) error) error {
	if _, err := c.setStatus(op, StatusPending, nil); err != nil {
		return err
	}

	staged := &Operation{}
	err := work(staged)

	var final OperationInfo
	var tErr error
	if err != nil {
		c.logger.Warn("Operation failed",
			slog.String("operation_id", op.ID),
			slog.String("kind", string(op.Kind)),
			slog.String("subject", op.Subject),
			slog.String("error_kind", convert.KindLabel(err)),
			slog.String("error", err.Error()),
		)
		final, tErr = c.setStatus(op, StatusFailed, func(op *Operation) { op.err = err })
	} else {
		c.logger.Info("Operation succeeded",
			slog.String("operation_id", op.ID),
			slog.String("kind", string(op.Kind)),
			slog.String("subject", op.Subject),
		)
		final, tErr = c.setStatus(op, StatusSucceeded, func(op *Operation) {
			op.matches = staged.matches
		})
	}
	if tErr != nil {
		return tErr
	}

	// final is the snapshot of the finishing transition; a callback may
	// already have reset op
	c.metrics.RecordSubmission(string(op.Kind), string(final.Status), final.Duration)

	c.mu.Lock()
	c.trimHistoryLocked()
	c.mu.Unlock()

	return err
}

// setStatus applies a transition, reports it to the update callback and
// returns the new snapshot
func (c *Coordinator) setStatus(op *Operation, next OperationStatus, mutate func(op *Operation)) (OperationInfo, error) {
	c.notifyMu.Lock()
	info, err := op.transition(next, mutate)
	if err != nil {
		c.notifyMu.Unlock()
		return info, fmt.Errorf("operation %s: %w", op.ID, err)
	}
	c.enqueueLocked(info)
	c.notifyMu.Unlock()

	c.deliver()
	return info, nil
}

func (c *Coordinator) notify(info OperationInfo) {
	c.notifyMu.Lock()
	c.enqueueLocked(info)
	c.notifyMu.Unlock()

	c.deliver()
}

// enqueueLocked is called with notifyMu held
func (c *Coordinator) enqueueLocked(info OperationInfo) {
	if c.onUpdate != nil {
		c.updates = append(c.updates, info)
	}
}

// deliver drains queued updates. Only one goroutine delivers at a time;
// others leave their updates to it and return.
func (c *Coordinator) deliver() {
	c.notifyMu.Lock()
	if c.delivering {
		c.notifyMu.Unlock()
		return
	}
	c.delivering = true

	for len(c.updates) > 0 {
		info := c.updates[0]
		c.updates = c.updates[1:]
		callback := c.onUpdate

		c.notifyMu.Unlock()
		if callback != nil {
			callback(info)
		}
		c.notifyMu.Lock()
	}

	c.updates = nil
	c.delivering = false
	c.notifyMu.Unlock()
}

// Operation returns an operation by ID
func (c *Coordinator) Operation(id string) (*Operation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	op, exists := c.ops[id]
	return op, exists
}

// Operations returns snapshots of all tracked operations in creation order
func (c *Coordinator) Operations() []OperationInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	infos := make([]OperationInfo, 0, len(c.order))
	for _, id := range c.order {
		infos = append(infos, c.ops[id].Info())
	}
	return infos
}

// Reset returns a finished operation to idle
func (c *Coordinator) Reset(id string) error {
	op, exists := c.Operation(id)
	if !exists {
		return fmt.Errorf("operation not found: %s", id)
	}

	_, err := c.setStatus(op, StatusIdle, nil)
	return err
}

// trimHistoryLocked forgets the oldest finished operations beyond
// maxHistory. It is called with c.mu held.
func (c *Coordinator) trimHistoryLocked() {
	if c.maxHistory == 0 {
		return
	}

	finished := 0
	for _, id := range c.order {
		if c.ops[id].Status().IsFinished() {
			finished++
		}
	}

	excess := finished - c.maxHistory
	if excess <= 0 {
		return
	}

	kept := c.order[:0]
	for _, id := range c.order {
		if excess > 0 && c.ops[id].Status().IsFinished() {
			delete(c.ops, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	c.order = kept
}

// Prune forgets finished operations and returns how many were removed
func (c *Coordinator) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.order[:0]
	removed := 0
	for _, id := range c.order {
		if c.ops[id].Status().IsFinished() {
			delete(c.ops, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	c.order = kept

	return removed
}
