// Package queue carries background jobs (thread titles, token usage) out of the
// request path. Two backends share one interface:
//
//   - MemoryQueue: buffered channel, lost on restart, used when no Redis
//     address is configured
//   - RedisQueue: Redis list shared by every server instance
//
// Workers dequeue in batches, retry with exponential backoff and park
// items that keep failing in a DeadLetterQueue.
package queue

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Queue is a FIFO of JSON-serialisable jobs
type Queue interface {
	Enqueue(ctx context.Context, item interface{}) error

	// Dequeue blocks until at least one item is available and returns up to maxItems
	Dequeue(ctx context.Context, maxItems int) ([]interface{}, error)

	// DequeueWithTimeout returns an empty batch when nothing arrives within timeout
	DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]interface{}, error)

	Length(ctx context.Context) (int, error)
	Close() error
}

// DeadLetterQueue parks jobs that exhausted their retries for inspection
type DeadLetterQueue interface {
	Add(ctx context.Context, item interface{}, err error) error
	List(ctx context.Context, maxItems int) ([]DeadLetterItem, error)
	Remove(ctx context.Context, id string) error
	Close() error
}

// DeadLetterItem is a job parked after its last failed attempt
type DeadLetterItem struct {
	ID        string      `json:"id"`
	Item      interface{} `json:"item"`
	Error     string      `json:"error"`
	Timestamp time.Time   `json:"timestamp"`
}

// Config describes one named queue and the retry policy of its worker
type Config struct {
	QueueName string // Redis list suffix, "queue:{name}" and "dlq:{name}"

	BatchSize    int           // items handed to the worker at once
	BatchTimeout time.Duration // wait for the first item of a batch

	MaxRetries   int           // attempts after the first failure
	RetryBackoff time.Duration // doubled after every attempt

	// Capacity caps an in-process queue; 0 means ten batches
	Capacity int
}

func (c *Config) capacity() int {
	if c.Capacity > 0 {
		return c.Capacity
	}
	if c.BatchSize > 0 {
		return c.BatchSize * 10
	}
	return 1000
}

// DefaultConfig returns the worker defaults for queueName
func DefaultConfig(queueName string) *Config {
	return &Config{
		QueueName:    queueName,
		BatchSize:    100,
		BatchTimeout: 5 * time.Second,
		MaxRetries:   3,
		RetryBackoff: 1 * time.Second,
	}
}

// New returns a Redis queue and dead letter queue when client is set,
// in-memory ones otherwise.
func New(config *Config, client *redis.Client) (Queue, DeadLetterQueue) {
	if client == nil {
		return NewMemoryQueue(config), NewMemoryDeadLetterQueue()
	}
	return NewRedisQueue(client, config), NewRedisDeadLetterQueue(client, config)
}
