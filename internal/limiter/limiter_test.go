package limiter

import (
	"context"
	"testing"
	"time"
)

func TestGlobalBound(t *testing.T) {
	// WHAT: the global gate blocks acquirer N+1 until a slot frees.
	l := New(2, 2)
	ctx := context.Background()

	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("acquire 1: %v", err)
	}
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("acquire 2: %v", err)
	}

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := l.Acquire(short); err == nil {
		t.Fatal("third acquire should block until release")
	}

	l.Release()
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestBatchNarrowerThanGlobal(t *testing.T) {
	// WHY: one batch must not consume the whole page budget.
	l := New(1, 10)
	b := l.Batch()
	ctx := context.Background()

	if err := b.Acquire(ctx); err != nil {
		t.Fatalf("batch acquire: %v", err)
	}

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := b.Acquire(short); err == nil {
		t.Fatal("second batch acquire should block on the local gate")
	}

	// A direct (non-batch) request still fits in the global gate.
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("direct acquire alongside batch: %v", err)
	}
	l.Release()

	b.Release()
	if err := b.Acquire(ctx); err != nil {
		t.Fatalf("batch acquire after release: %v", err)
	}
}

func TestBatchReleasesGlobalOnCancel(t *testing.T) {
	// WHAT: a cancelled batch acquire must not leak the local slot.
	l := New(1, 1)
	b := l.Batch()
	ctx := context.Background()

	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("saturate global: %v", err)
	}

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := b.Acquire(short); err == nil {
		t.Fatal("batch acquire should fail while global is saturated")
	}

	l.Release()
	if err := b.Acquire(ctx); err != nil {
		t.Fatalf("batch acquire after global freed: %v", err)
	}
}
