package queue

import (
	"context"
	"sync"

	"github.com/soundprediction/ipifhub/pkg/types"
)

// MemoryQueue is an unbounded in-process queue.
type MemoryQueue struct {
	mu     sync.Mutex
	items  []types.Task
	closed bool
	sig    signal
}

// NewMemoryQueue returns an empty queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{sig: newSignal()}
}

func (q *MemoryQueue) Enqueue(_ context.Context, tasks ...types.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, tasks...)
	q.mu.Unlock()
	q.sig.notify()
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrClosed
		}
		if len(q.items) > 0 {
			t := q.items[0]
			q.items[0] = types.Task{}
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				q.sig.notify()
			}
			return &Delivery{Task: t}, nil
		}
		q.mu.Unlock()

		if err := q.sig.wait(ctx); err != nil {
			return nil, err
		}
	}
}

func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	q.items = nil
	close(q.sig.done)
	return nil
}
