package reconcile

import (
	"context"
	"sync"
)

// latestWriter persists values in the background, one write at a time. When
// several values are scheduled while a write is in flight only the newest is
// written next, so a slow write can never overwrite a newer value.
type latestWriter[T any] struct {
	write func(ctx context.Context, v T) error
	fail  func(err error)

	mu      sync.Mutex
	pending T
	has     bool
	stopped bool
	kick    chan struct{}
	idle    sync.WaitGroup
}

func newLatestWriter[T any](write func(context.Context, T) error, fail func(error)) *latestWriter[T] {
	return &latestWriter[T]{write: write, fail: fail, kick: make(chan struct{}, 1)}
}

// schedule queues v for writing. It does nothing once run has returned.
func (w *latestWriter[T]) schedule(v T) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	if !w.has {
		w.idle.Add(1)
	}
	w.pending, w.has = v, true
	w.mu.Unlock()

	select {
	case w.kick <- struct{}{}:
	default:
	}
}

func (w *latestWriter[T]) take() (T, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	v, ok := w.pending, w.has
	var zero T
	w.pending, w.has = zero, false
	return v, ok
}

func (w *latestWriter[T]) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	if w.has {
		var zero T
		w.pending, w.has = zero, false
		w.idle.Done()
	}
}

func (w *latestWriter[T]) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.stop()
			return
		case <-w.kick:
			v, ok := w.take()
			if !ok {
				continue
			}
			if err := w.write(ctx, v); err != nil {
				w.fail(err)
			}
			w.idle.Done()
		}
	}
}

func (w *latestWriter[T]) wait() {
	w.idle.Wait()
}
