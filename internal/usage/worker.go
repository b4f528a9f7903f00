package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"llm_chat/internal/queue"
	"llm_chat/internal/utils"
)

// Worker applies queued usage updates to a Tracker
type Worker struct {
	queue       queue.Queue
	dlq         queue.DeadLetterQueue
	tracker     Tracker
	config      *queue.Config
	logger      *utils.Logger
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewWorker creates a usage worker
func NewWorker(q queue.Queue, dlq queue.DeadLetterQueue, tracker Tracker, config *queue.Config) *Worker {
	if config == nil {
		config = queue.DefaultConfig("usage")
	}

	return &Worker{
		queue:       q,
		dlq:         dlq,
		tracker:     tracker,
		config:      config,
		logger:      utils.NewLogger("usage-worker"),
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Start starts the worker goroutine
func (w *Worker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop gracefully stops the worker
func (w *Worker) Stop() error {
	close(w.stopChan)
	<-w.stoppedChan
	return nil
}

// Enqueue schedules an update
func (w *Worker) Enqueue(ctx context.Context, u *Update) error {
	if u.Timestamp.IsZero() {
		u.Timestamp = time.Now().UTC()
	}
	return w.queue.Enqueue(ctx, u)
}

// Monthly reads through to the tracker
func (w *Worker) Monthly(ctx context.Context, userID string, year, month int) (*Summary, error) {
	return w.tracker.Monthly(ctx, userID, year, month)
}

// QueueLength returns the number of pending updates
func (w *Worker) QueueLength(ctx context.Context) (int, error) {
	return w.queue.Length(ctx)
}

// DeadLetters lists updates that exhausted their retries
func (w *Worker) DeadLetters(ctx context.Context, maxItems int) ([]queue.DeadLetterItem, error) {
	if w.dlq == nil {
		return nil, fmt.Errorf("dead letter queue not configured")
	}
	return w.dlq.List(ctx, maxItems)
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.stoppedChan)

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("Usage worker stopping")
			return
		case <-ctx.Done():
			w.logger.Info("Usage worker context cancelled")
			return
		default:
			w.processBatch(ctx)
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) {
	items, err := w.queue.DequeueWithTimeout(ctx, w.config.BatchSize, w.config.BatchTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.logger.Error("Failed to dequeue usage updates", "error", err)
		time.Sleep(1 * time.Second)
		return
	}

	for _, item := range items {
		if err := w.processItem(ctx, item); err != nil {
			w.logger.Error("Failed to process usage update", "error", err)
		}
	}
}

// processItem applies one update, retrying with exponential backoff
func (w *Worker) processItem(ctx context.Context, item interface{}) error {
	var u Update
	if err := unmarshalItem(item, &u); err != nil {
		return fmt.Errorf("failed to unmarshal usage update: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := w.config.RetryBackoff * time.Duration(1<<uint(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := w.tracker.Add(ctx, u); err != nil {
			lastErr = err
			w.logger.Warn("Failed to add usage", "attempt", attempt, "error", err)
			continue
		}
		return nil
	}

	if w.dlq != nil {
		if err := w.dlq.Add(ctx, u, lastErr); err != nil {
			w.logger.Error("Failed to add to dead letter queue", "error", err)
		} else {
			w.logger.Warn("Usage update moved to DLQ", "user_id", u.UserID, "error", lastErr)
		}
	}
	return fmt.Errorf("%w: %v", queue.ErrMaxRetriesExceeded, lastErr)
}

func unmarshalItem(item interface{}, u *Update) error {
	switch v := item.(type) {
	case *Update:
		*u = *v
		return nil
	case Update:
		*u = v
		return nil
	case json.RawMessage:
		return json.Unmarshal(v, u)
	case []byte:
		return json.Unmarshal(v, u)
	default:
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("failed to marshal item: %w", err)
		}
		return json.Unmarshal(data, u)
	}
}
