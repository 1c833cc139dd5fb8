package transport

import (
	"context"
	"sync"
)

// Queue is an unbounded FIFO. Items pushed before anyone reads are kept, so a
// late consumer still sees everything in arrival order.
type Queue[T any] struct {
	mu      sync.Mutex
	items   []T
	signal  chan struct{}
	err     error
	claimed bool
}

func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{signal: make(chan struct{})}
}

func (q *Queue[T]) wake() {
	close(q.signal)
	q.signal = make(chan struct{})
}

// Push appends v. It fails once the queue has been closed.
func (q *Queue[T]) Push(v T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.err != nil {
		return q.err
	}

	q.items = append(q.items, v)
	q.wake()

	return nil
}

// Close stops the queue. Items already buffered are still handed out; after
// that Pop returns err.
func (q *Queue[T]) Close(err error) {
	if err == nil {
		err = ErrClosed
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.err != nil {
		return
	}

	q.err = err
	q.wake()
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}

// Pop blocks until an item is available, the queue is closed or ctx is done.
// A done ctx leaves buffered items in place.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	var zero T

	for {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		q.mu.Lock()

		if len(q.items) > 0 {
			v := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			q.mu.Unlock()

			return v, nil
		}

		if q.err != nil {
			err := q.err
			q.mu.Unlock()

			return zero, err
		}

		signal := q.signal
		q.mu.Unlock()

		select {
		case <-signal:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Claim makes the caller the only consumer until the subscription is released.
func (q *Queue[T]) Claim() (*Subscription[T], error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.claimed {
		return nil, ErrAlreadyClaimed
	}

	q.claimed = true

	return &Subscription[T]{q: q}, nil
}

type Subscription[T any] struct {
	q        *Queue[T]
	mu       sync.Mutex
	released bool
}

// Next returns the next queued item, draining any backlog first.
func (s *Subscription[T]) Next(ctx context.Context) (T, error) {
	s.mu.Lock()
	released := s.released
	s.mu.Unlock()

	if released {
		var zero T
		return zero, ErrReleased
	}

	return s.q.Pop(ctx)
}

// Release gives up the claim. Unread items stay queued for the next claimant.
func (s *Subscription[T]) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return
	}

	s.released = true

	s.q.mu.Lock()
	s.q.claimed = false
	s.q.mu.Unlock()
}
