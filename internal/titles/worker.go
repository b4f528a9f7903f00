package titles

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"llm_chat/internal/models"
	"llm_chat/internal/queue"
	"llm_chat/internal/utils"
)

// Job asks for a title for a freshly created thread
type Job struct {
	UserID   string    `json:"user_id"`
	ThreadID string    `json:"thread_id"`
	Prompt   string    `json:"prompt"`
	QueuedAt time.Time `json:"queued_at"`
}

// Titler stores a generated title
type Titler interface {
	SetTitle(ctx context.Context, userID, threadID, title string) error
}

// Worker generates thread titles asynchronously
type Worker struct {
	queue       queue.Queue
	dlq         queue.DeadLetterQueue
	generator   Generator
	fallback    Generator
	titler      Titler
	config      *queue.Config
	logger      *utils.Logger
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewWorker creates a title worker. Titles the generator cannot produce
// after all retries fall back to the heuristic; jobs whose title cannot be
// stored are parked in the dead letter queue.
func NewWorker(q queue.Queue, dlq queue.DeadLetterQueue, generator Generator, titler Titler, config *queue.Config) *Worker {
	if config == nil {
		config = queue.DefaultConfig("titles")
	}
	if generator == nil {
		generator = HeuristicGenerator{}
	}

	return &Worker{
		queue:       q,
		dlq:         dlq,
		generator:   generator,
		fallback:    HeuristicGenerator{},
		titler:      titler,
		config:      config,
		logger:      utils.NewLogger("title-worker"),
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

// Enqueue schedules a title for the thread
func (w *Worker) Enqueue(ctx context.Context, job *Job) error {
	if job.QueuedAt.IsZero() {
		job.QueuedAt = time.Now().UTC()
	}
	return w.queue.Enqueue(ctx, job)
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.stoppedChan)

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("Title worker stopping")
			return
		case <-ctx.Done():
			w.logger.Info("Title worker context cancelled")
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
		w.logger.Error("Failed to dequeue title jobs", "error", err)
		time.Sleep(1 * time.Second)
		return
	}

	if len(items) == 0 {
		return
	}

	w.logger.Debug("Processing title batch", "count", len(items))

	for _, item := range items {
		if err := w.processItem(ctx, item); err != nil {
			w.logger.Error("Failed to process title job", "error", err)
		}
	}
}

// processItem generates and stores one title with retries
func (w *Worker) processItem(ctx context.Context, item interface{}) error {
	var job Job
	if err := unmarshalItem(item, &job); err != nil {
		return fmt.Errorf("failed to unmarshal title job: %w", err)
	}
	logger := w.logger.With("thread_id", job.ThreadID)

	title, genErr := w.generate(ctx, job, logger)
	if genErr != nil {
		logger.Warn("Title generation failed, using heuristic", "error", genErr)
		title, _ = w.fallback.Generate(ctx, job.Prompt)
	}
	if title == "" {
		title = models.DefaultThreadTitle
	}

	if err := w.titler.SetTitle(ctx, job.UserID, job.ThreadID, title); err != nil {
		w.park(ctx, job, err, logger)
		return err
	}
	logger.Debug("Thread titled", "title", title)
	return nil
}

func (w *Worker) generate(ctx context.Context, job Job, logger *utils.Logger) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := w.config.RetryBackoff * time.Duration(1<<uint(attempt-1))
			logger.Debug("Retrying title generation", "attempt", attempt, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		title, err := w.generator.Generate(ctx, job.Prompt)
		if err == nil && title != "" {
			return title, nil
		}
		if err == nil {
			err = fmt.Errorf("empty title")
		}
		lastErr = err
		if !utils.IsRecoverableError(err) {
			break
		}
	}
	return "", fmt.Errorf("%w: %v", queue.ErrMaxRetriesExceeded, lastErr)
}

func (w *Worker) park(ctx context.Context, job Job, cause error, logger *utils.Logger) {
	if w.dlq == nil {
		return
	}
	if err := w.dlq.Add(ctx, job, cause); err != nil {
		logger.Error("Failed to add to dead letter queue", "error", err)
		return
	}
	logger.Warn("Title job moved to DLQ", "error", cause)
}

func unmarshalItem(item interface{}, job *Job) error {
	switch v := item.(type) {
	case *Job:
		*job = *v
		return nil
	case Job:
		*job = v
		return nil
	case json.RawMessage:
		return json.Unmarshal(v, job)
	case []byte:
		return json.Unmarshal(v, job)
	default:
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("failed to marshal item: %w", err)
		}
		return json.Unmarshal(data, job)
	}
}

// Length returns the number of queued jobs
func (w *Worker) Length(ctx context.Context) (int, error) {
	return w.queue.Length(ctx)
}
