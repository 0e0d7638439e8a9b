// Package queue provides a fixed-capacity FIFO used to hand work from network
// listeners to worker pools.
//
// Producers block while the queue is full and consumers block while it is
// empty, so a slow pool pushes back on whoever feeds it. The empty and full
// flags are only read and written under the queue mutex, and every wait loop
// re-checks them after waking.
//
// A queue can be drained: once Drain is called, consumers that find the queue
// empty get ErrDrained instead of sleeping, which lets a persistent pool learn
// that no more work is coming for the current round. Reset re-arms the queue.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrFull is returned by TryPush when no slot is free.
	ErrFull = errors.New("queue is full")

	// ErrDrained is returned by Pop when the queue is empty and draining, and
	// by Push once Drain has been called.
	ErrDrained = errors.New("queue is drained")
)

// BoundedQueue is a blocking FIFO holding at most Cap() items.
type BoundedQueue[T any] struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	items []T
	head  int
	size  int

	empty    bool
	full     bool
	draining bool
}

// New creates a queue with the given capacity.
//
// Panics if capacity < 1.
func New[T any](capacity int) *BoundedQueue[T] {
	if capacity < 1 {
		panic(fmt.Sprintf("queue capacity must be positive, got %d", capacity))
	}

	q := &BoundedQueue[T]{
		items: make([]T, capacity),
		empty: true,
	}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Push appends item at the tail, blocking while the queue is full.
//
// Returns ctx.Err() if the context ends first, or ErrDrained if the queue
// is draining. On success exactly one waiting consumer is woken.
func (q *BoundedQueue[T]) Push(ctx context.Context, item T) error {
	stop := context.AfterFunc(ctx, q.wakeAll)
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for q.full && !q.draining {
		if err := ctx.Err(); err != nil {
			q.passFullWakeup()
			return err
		}
		q.notFull.Wait()
	}

	if q.draining {
		return ErrDrained
	}

	q.enqueue(item)
	q.notEmpty.Signal()
	return nil
}

// TryPush appends item without blocking. Returns ErrFull if no slot is free.
func (q *BoundedQueue[T]) TryPush(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.draining {
		return ErrDrained
	}
	if q.full {
		return ErrFull
	}

	q.enqueue(item)
	q.notEmpty.Signal()
	return nil
}

// Pop removes and returns the head, blocking while the queue is empty.
//
// Returns ErrDrained when the queue is empty and Drain has been called, or
// ctx.Err() if the context ends first. On success exactly one waiting
// producer is woken.
func (q *BoundedQueue[T]) Pop(ctx context.Context) (T, error) {
	var zero T

	stop := context.AfterFunc(ctx, q.wakeAll)
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for q.empty {
		if q.draining {
			return zero, ErrDrained
		}
		if err := ctx.Err(); err != nil {
			q.passEmptyWakeup()
			return zero, err
		}
		q.notEmpty.Wait()
	}

	item := q.dequeue()
	q.notFull.Signal()
	return item, nil
}

// Drain marks the queue as finishing. Items already queued are still
// delivered; consumers that then find it empty return ErrDrained.
func (q *BoundedQueue[T]) Drain() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.draining = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

// Reset clears the drain flag and discards anything still queued, returning
// the number of discarded items. Callers must make sure no consumer can be
// between a successful Pop and the end of its round when calling Reset.
func (q *BoundedQueue[T]) Reset() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	discarded := q.size
	var zero T
	for i := range q.items {
		q.items[i] = zero
	}
	q.head = 0
	q.size = 0
	q.draining = false
	q.updateFlags()
	return discarded
}

// Len returns the number of queued items.
func (q *BoundedQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Cap returns the capacity.
func (q *BoundedQueue[T]) Cap() int {
	return len(q.items)
}

// IsEmpty reports the empty flag. Informational only: never block on it.
func (q *BoundedQueue[T]) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.empty
}

// IsFull reports the full flag. Informational only: never block on it.
func (q *BoundedQueue[T]) IsFull() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.full
}

// Draining reports whether Drain was called since the last Reset.
func (q *BoundedQueue[T]) Draining() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.draining
}

// enqueue and dequeue must be called with mu held.
func (q *BoundedQueue[T]) enqueue(item T) {
	tail := (q.head + q.size) % len(q.items)
	q.items[tail] = item
	q.size++
	q.updateFlags()
}

func (q *BoundedQueue[T]) dequeue() T {
	var zero T
	item := q.items[q.head]
	q.items[q.head] = zero
	q.head = (q.head + 1) % len(q.items)
	q.size--
	q.updateFlags()
	return item
}

func (q *BoundedQueue[T]) updateFlags() {
	q.empty = q.size == 0
	q.full = q.size == len(q.items)
}

// A cancelled waiter may have consumed the single Signal meant for a live
// one; hand it on so the slot or item is not stranded.
func (q *BoundedQueue[T]) passFullWakeup() {
	if !q.full {
		q.notFull.Signal()
	}
}

func (q *BoundedQueue[T]) passEmptyWakeup() {
	if !q.empty {
		q.notEmpty.Signal()
	}
}

func (q *BoundedQueue[T]) wakeAll() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}
