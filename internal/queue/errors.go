package queue

import "errors"

var (
	ErrQueueClosed = errors.New("queue is closed")

	// ErrQueueFull is returned by in-process queues at capacity. Callers on
	// the request path drop the job instead of waiting.
	ErrQueueFull = errors.New("queue is full")

	ErrItemNotFound = errors.New("item not found")

	// ErrMaxRetriesExceeded wraps the last error of a job that exhausted its retries
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)
