// Package effects defers side effects such as cache writes until the HTTP
// response has been written, then runs them in the background.
package effects

import (
	"context"
	"net/http"
	"sync"
	"time"

	"llm_chat/internal/utils"
)

// Effect is work that must not delay the HTTP response, such as cache
// writes and invalidations.
type Effect func(ctx context.Context) error

type namedEffect struct {
	name string
	fn   Effect
}

// Queue collects the effects scheduled while handling one request.
// Effects run in scheduling order.
type Queue struct {
	mu      sync.Mutex
	effects []namedEffect
}

// NewQueue creates an empty queue
func NewQueue() *Queue {
	return &Queue{}
}

// Schedule appends an effect
func (q *Queue) Schedule(name string, fn Effect) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.effects = append(q.effects, namedEffect{name: name, fn: fn})
}

// Len returns the number of pending effects
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.effects)
}

func (q *Queue) take() []namedEffect {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.effects
	q.effects = nil
	return out
}

// Drain runs all pending effects synchronously and returns the first error.
// Every effect runs even when an earlier one fails.
func (q *Queue) Drain(ctx context.Context) error {
	var first error
	for _, e := range q.take() {
		if err := e.fn(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type queueKey struct{}

// WithQueue returns a context carrying q
func WithQueue(ctx context.Context, q *Queue) context.Context {
	return context.WithValue(ctx, queueKey{}, q)
}

// FromContext returns the queue carried by ctx, or nil
func FromContext(ctx context.Context) *Queue {
	q, _ := ctx.Value(queueKey{}).(*Queue)
	return q
}

var logger = utils.NewLogger("effects")

// ScheduleAfterResponse defers fn until the current response has been
// written. Outside of a request (workers, CLI) fn runs immediately and its
// error is logged.
func ScheduleAfterResponse(ctx context.Context, name string, fn Effect) {
	if q := FromContext(ctx); q != nil {
		q.Schedule(name, fn)
		return
	}
	if err := fn(ctx); err != nil {
		logger.Warn("Effect failed", "effect", name, "error", err)
	}
}

// Runner executes request queues in the background once handlers return
type Runner struct {
	timeout time.Duration
	logger  *utils.Logger

	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

// NewRunner creates a runner; each queue gets at most timeout to finish
func NewRunner(timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Runner{timeout: timeout, logger: utils.NewLogger("effects-runner")}
}

// Run executes the queue's effects on a background goroutine. After Close,
// effects run inline so nothing scheduled is lost.
func (r *Runner) Run(q *Queue) {
	pending := q.take()
	if len(pending) == 0 {
		return
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.execute(pending)
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		r.execute(pending)
	}()
}

func (r *Runner) execute(pending []namedEffect) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	for _, e := range pending {
		if err := e.fn(ctx); err != nil {
			r.logger.Warn("Effect failed", "effect", e.name, "error", err)
			continue
		}
		r.logger.Debug("Effect done", "effect", e.name)
	}
}

// Middleware attaches a fresh queue to every request and hands it to the
// runner after the handler has written its response.
func (r *Runner) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		q := NewQueue()
		defer r.Run(q)
		next.ServeHTTP(w, req.WithContext(WithQueue(req.Context(), q)))
	})
}

// Close waits for in-flight effects or until ctx is done
func (r *Runner) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
