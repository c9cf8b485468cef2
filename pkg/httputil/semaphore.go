package httputil

import (
	"context"
	"sync/atomic"
)

// Semaphore caps concurrent fire-and-forget work (report rendering, intel
// callbacks) so a burst of scam sessions cannot explode the goroutine count.
type Semaphore struct {
	sem     chan struct{}
	dropped atomic.Int64
}

// NewSemaphore creates a semaphore with the given capacity.
func NewSemaphore(capacity int) *Semaphore {
	if capacity <= 0 {
		capacity = 64
	}
	return &Semaphore{sem: make(chan struct{}, capacity)}
}

// TryAcquire attempts to take a slot without blocking. Returns false when at
// capacity; callers drop the side-effect and log rather than queue it.
func (s *Semaphore) TryAcquire() bool {
	select {
	case s.sem <- struct{}{}:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Acquire blocks until a slot is available or the context is cancelled.
func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a slot. Must follow a successful TryAcquire/Acquire.
func (s *Semaphore) Release() {
	select {
	case <-s.sem:
	default:
	}
}

// DroppedCount reports how many side-effects were dropped at capacity.
func (s *Semaphore) DroppedCount() int64 {
	return s.dropped.Load()
}

// InUse returns the number of slots currently held.
func (s *Semaphore) InUse() int {
	return len(s.sem)
}
