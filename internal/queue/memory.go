package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// deadLetterLimit bounds the in-process dead letter queue; the oldest entry
// is dropped first
const deadLetterLimit = 1000

// MemoryQueue is a FIFO held in process memory. Enqueue never blocks: a
// queue at capacity rejects the item with ErrQueueFull.
type MemoryQueue struct {
	mu       sync.Mutex
	items    []interface{}
	capacity int
	closed   bool

	ready chan struct{} // signalled after an append
	done  chan struct{} // closed by Close
}

// NewMemoryQueue creates a queue holding up to config.Capacity items
func NewMemoryQueue(config *Config) *MemoryQueue {
	if config == nil {
		config = DefaultConfig("memory")
	}

	return &MemoryQueue{
		capacity: config.capacity(),
		ready:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, item interface{}) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if len(q.items) >= q.capacity {
		q.mu.Unlock()
		return ErrQueueFull
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	q.signal()
	return nil
}

// Dequeue blocks until at least one item is queued, then returns up to maxItems
func (q *MemoryQueue) Dequeue(ctx context.Context, maxItems int) ([]interface{}, error) {
	return q.wait(ctx, maxItems, nil)
}

// DequeueWithTimeout is Dequeue returning an empty batch once timeout elapses
func (q *MemoryQueue) DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]interface{}, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	return q.wait(ctx, maxItems, timer.C)
}

func (q *MemoryQueue) wait(ctx context.Context, maxItems int, deadline <-chan time.Time) ([]interface{}, error) {
	for {
		items, err := q.take(maxItems)
		if err != nil || len(items) > 0 {
			return items, err
		}

		select {
		case <-q.ready:
		case <-q.done:
			return nil, ErrQueueClosed
		case <-deadline:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// take pops up to maxItems from the head
func (q *MemoryQueue) take(maxItems int) ([]interface{}, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrQueueClosed
	}
	if maxItems <= 0 {
		maxItems = 1
	}
	n := len(q.items)
	if n > maxItems {
		n = maxItems
	}
	if n == 0 {
		return nil, nil
	}

	batch := make([]interface{}, n)
	copy(batch, q.items)
	q.items = q.items[n:]
	if len(q.items) > 0 {
		q.signal()
	}
	return batch, nil
}

func (q *MemoryQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *MemoryQueue) Length(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return 0, ErrQueueClosed
	}
	return len(q.items), nil
}

// Close discards pending items and wakes blocked consumers
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	q.items = nil
	close(q.done)
	return nil
}

// MemoryDeadLetterQueue keeps the most recent failed items in process memory
type MemoryDeadLetterQueue struct {
	mu     sync.Mutex
	items  []DeadLetterItem
	limit  int
	closed bool
}

func NewMemoryDeadLetterQueue() *MemoryDeadLetterQueue {
	return &MemoryDeadLetterQueue{limit: deadLetterLimit}
}

func (q *MemoryDeadLetterQueue) Add(_ context.Context, item interface{}, err error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	q.items = append(q.items, DeadLetterItem{
		ID:        uuid.NewString(),
		Item:      item,
		Error:     err.Error(),
		Timestamp: time.Now(),
	})
	if over := len(q.items) - q.limit; over > 0 {
		q.items = append(q.items[:0:0], q.items[over:]...)
	}
	return nil
}

// List returns up to maxItems entries, oldest first (0 means all)
func (q *MemoryDeadLetterQueue) List(_ context.Context, maxItems int) ([]DeadLetterItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	n := len(q.items)
	if maxItems > 0 && maxItems < n {
		n = maxItems
	}
	return append([]DeadLetterItem(nil), q.items[:n]...), nil
}

func (q *MemoryDeadLetterQueue) Remove(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	for i := range q.items {
		if q.items[i].ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return nil
		}
	}
	return ErrItemNotFound
}

func (q *MemoryDeadLetterQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.items = nil
	return nil
}
