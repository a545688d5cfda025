package bus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Queue is the process-wide notification FIFO. Any goroutine may push; the
// per-connection poll loops pop, so each entry goes to exactly one
// connection.
type Queue struct {
	mu      sync.Mutex
	items   []Notification
	wake    chan struct{}
	closed  bool
	closeCh chan struct{}
}

func NewQueue() *Queue {
	return &Queue{
		wake:    make(chan struct{}, 1),
		closeCh: make(chan struct{}),
	}
}

// Push enqueues payload. It never blocks. Pushes after Close are dropped.
func (q *Queue) Push(payload any) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, Notification{
		ID:         uuid.NewString(),
		Payload:    payload,
		EnqueuedAt: time.Now(),
	})
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Pop returns the oldest entry, waiting up to timeout for one to arrive.
// The bool is false on timeout, context cancellation or Close.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (Notification, bool) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		if n, ok := q.tryPop(); ok {
			return n, true
		}
		select {
		case <-q.wake:
		case <-deadline:
			return q.tryPop()
		case <-ctx.Done():
			return Notification{}, false
		case <-q.closeCh:
			return Notification{}, false
		}
	}
}

func (q *Queue) tryPop() (Notification, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Notification{}, false
	}
	n := q.items[0]
	q.items[0] = Notification{}
	q.items = q.items[1:]
	if len(q.items) > 0 {
		// another waiter may be parked
		select {
		case q.wake <- struct{}{}:
		default:
		}
	}
	return n, true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close wakes every waiter and drops pending entries.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.items = nil
	close(q.closeCh)
}

// Done is closed once the queue is closed.
func (q *Queue) Done() <-chan struct{} {
	return q.closeCh
}
