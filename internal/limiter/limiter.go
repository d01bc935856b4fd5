// Package limiter bounds concurrent browser work. A process-wide page
// gate caps how many Chrome pages run at once; batch requests get an
// additional narrower gate so one batch cannot hog the whole budget.
//
// The limiter is an injected dependency: the gateway receives one
// instance and threads it through, there is no package-level state.
package limiter

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Limiter is the process-wide page gate.
type Limiter struct {
	pages     *semaphore.Weighted
	batchSize int64
}

// New creates a limiter. batchSize caps concurrency inside one batch
// request (default 2); globalSize caps pages across the whole process
// (default 10).
func New(batchSize, globalSize int64) *Limiter {
	if batchSize <= 0 {
		batchSize = 2
	}
	if globalSize <= 0 {
		globalSize = 10
	}
	return &Limiter{
		pages:     semaphore.NewWeighted(globalSize),
		batchSize: batchSize,
	}
}

// Acquire blocks until a page slot is free or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	return l.pages.Acquire(ctx, 1)
}

// Release returns a page slot.
func (l *Limiter) Release() {
	l.pages.Release(1)
}

// Batch creates the narrower per-batch gate. Each batch request gets
// its own Batch; the global gate stays shared.
func (l *Limiter) Batch() *Batch {
	return &Batch{
		parent: l,
		local:  semaphore.NewWeighted(l.batchSize),
	}
}

// Batch gates the items of one batch request.
type Batch struct {
	parent *Limiter
	local  *semaphore.Weighted
}

// Acquire takes the batch slot first, then the global page slot, so a
// saturated batch never holds global capacity while waiting on itself.
func (b *Batch) Acquire(ctx context.Context) error {
	if err := b.local.Acquire(ctx, 1); err != nil {
		return err
	}
	if err := b.parent.Acquire(ctx); err != nil {
		b.local.Release(1)
		return err
	}
	return nil
}

// Release returns both slots.
func (b *Batch) Release() {
	b.parent.Release()
	b.local.Release(1)
}
