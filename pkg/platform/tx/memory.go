package tx

import (
	"context"
	"sync"
	"time"

	dErrors "passculture/pkg/domain-errors"
)

// DefaultTimeout bounds a unit of work when the caller did not set a deadline.
const DefaultTimeout = 5 * time.Second

type journalKey struct{}

// journal collects undo steps recorded by in-memory stores during one unit of work.
type journal struct {
	mu    sync.Mutex
	undos []func()
}

func (j *journal) add(undo func()) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.undos = append(j.undos, undo)
}

func (j *journal) rollback() {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i := len(j.undos) - 1; i >= 0; i-- {
		j.undos[i]()
	}
	j.undos = nil
}

// OnRollback registers undo to run if the unit of work carried by ctx fails.
// Outside a unit of work the mutation is already final and undo is discarded.
func OnRollback(ctx context.Context, undo func()) {
	if j, ok := ctx.Value(journalKey{}).(*journal); ok {
		j.add(undo)
	}
}

// InTx reports whether ctx already belongs to a unit of work.
func InTx(ctx context.Context) bool {
	if _, ok := From(ctx); ok {
		return true
	}
	_, ok := ctx.Value(journalKey{}).(*journal)
	return ok
}

// InMemory serializes units of work behind a single lock and replays the undo
// journal when fn fails. It stands in for the database in unit tests and for
// the in-memory server profile.
type InMemory struct {
	mu      sync.Mutex
	timeout time.Duration
}

// NewInMemory builds an in-memory unit of work. A zero timeout uses DefaultTimeout.
func NewInMemory(timeout time.Duration) *InMemory {
	return &InMemory{timeout: timeout}
}

func (t *InMemory) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	// Nested calls join the outer unit of work.
	if InTx(ctx) {
		return fn(ctx)
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	j := &journal{}
	txCtx := context.WithValue(ctx, journalKey{}, j)
	if err := fn(txCtx); err != nil {
		j.rollback()
		return err
	}
	return nil
}
