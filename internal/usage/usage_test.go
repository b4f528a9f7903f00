package usage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm_chat/internal/queue"
)

var october = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

func newRedisTracker(t *testing.T) (*RedisTracker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisTracker(client, 48*time.Hour), mr
}

func TestTrackers(t *testing.T) {
	redisTracker, _ := newRedisTracker(t)
	trackers := map[string]Tracker{
		"redis":  redisTracker,
		"memory": NewMemoryTracker(),
	}

	for name, tracker := range trackers {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, tracker.Add(ctx, Update{UserID: "u1", Provider: "openai", InputTokens: 10, OutputTokens: 5, Timestamp: october}))
			require.NoError(t, tracker.Add(ctx, Update{UserID: "u1", Provider: "openrouter", InputTokens: 3, OutputTokens: 2, ReasoningTokens: 7, Timestamp: october}))
			require.NoError(t, tracker.Add(ctx, Update{UserID: "u2", Provider: "openai", InputTokens: 100, Timestamp: october}))
			require.NoError(t, tracker.Add(ctx, Update{UserID: "u1", Provider: "openai", InputTokens: 1, Timestamp: october.AddDate(0, 1, 0)}))

			s, err := tracker.Monthly(ctx, "u1", 2026, 10)
			require.NoError(t, err)
			assert.Equal(t, int64(2), s.Requests)
			assert.Equal(t, int64(13), s.InputTokens)
			assert.Equal(t, int64(7), s.OutputTokens)
			assert.Equal(t, int64(7), s.ReasoningTokens)
			assert.Equal(t, map[string]int64{"openai": 1, "openrouter": 1}, s.ByProvider)

			empty, err := tracker.Monthly(ctx, "nobody", 2026, 10)
			require.NoError(t, err)
			assert.Zero(t, empty.Requests)
			assert.Equal(t, 10, empty.Month)
			assert.NotNil(t, empty.ByProvider)
		})
	}
}

func TestRedisTracker_SetsRetention(t *testing.T) {
	tracker, mr := newRedisTracker(t)
	require.NoError(t, tracker.Add(context.Background(), Update{UserID: "u1", Provider: "google", Timestamp: october}))
	assert.Equal(t, 48*time.Hour, mr.TTL("usage:u1:2026:10"))
}

func TestRedisTracker_Unavailable(t *testing.T) {
	tracker, mr := newRedisTracker(t)
	mr.Close()

	assert.Error(t, tracker.Add(context.Background(), Update{UserID: "u1", Timestamp: october}))
	_, err := tracker.Monthly(context.Background(), "u1", 2026, 10)
	assert.Error(t, err)
}

type flakyTracker struct {
	mu       sync.Mutex
	failures int
	calls    int
	inner    *MemoryTracker
}

func (f *flakyTracker) Add(ctx context.Context, u Update) error {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.failures
	f.mu.Unlock()
	if fail {
		return errors.New("redis down")
	}
	return f.inner.Add(ctx, u)
}

func (f *flakyTracker) Monthly(ctx context.Context, userID string, year, month int) (*Summary, error) {
	return f.inner.Monthly(ctx, userID, year, month)
}

func testConfig() *queue.Config {
	cfg := queue.DefaultConfig("usage-test")
	cfg.BatchSize = 5
	cfg.BatchTimeout = 20 * time.Millisecond
	cfg.MaxRetries = 2
	cfg.RetryBackoff = time.Millisecond
	return cfg
}

func TestWorker_AppliesUpdates(t *testing.T) {
	tracker := &flakyTracker{failures: 1, inner: NewMemoryTracker()}
	w := NewWorker(queue.NewMemoryQueue(testConfig()), queue.NewMemoryDeadLetterQueue(), tracker, testConfig())
	w.Start(context.Background())
	defer w.Stop()

	ctx := context.Background()
	require.NoError(t, w.Enqueue(ctx, &Update{UserID: "u1", Provider: "openai", InputTokens: 4, Timestamp: october}))

	assert.Eventually(t, func() bool {
		s, err := w.Monthly(ctx, "u1", 2026, 10)
		return err == nil && s.Requests == 1
	}, time.Second, 10*time.Millisecond)
}

func TestWorker_ParksAfterRetries(t *testing.T) {
	tracker := &flakyTracker{failures: 100, inner: NewMemoryTracker()}
	dlq := queue.NewMemoryDeadLetterQueue()
	w := NewWorker(queue.NewMemoryQueue(testConfig()), dlq, tracker, testConfig())

	err := w.processItem(context.Background(), &Update{UserID: "u1", Timestamp: october})
	assert.ErrorIs(t, err, queue.ErrMaxRetriesExceeded)
	assert.Equal(t, 3, tracker.calls)

	items, err := w.DeadLetters(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestWorker_StampsTimestamp(t *testing.T) {
	q := queue.NewMemoryQueue(testConfig())
	w := NewWorker(q, nil, NewMemoryTracker(), testConfig())

	u := &Update{UserID: "u1"}
	require.NoError(t, w.Enqueue(context.Background(), u))
	assert.False(t, u.Timestamp.IsZero())

	n, err := w.QueueLength(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUnmarshalItem(t *testing.T) {
	var u Update
	require.NoError(t, unmarshalItem([]byte(`{"user_id":"u1","input_tokens":3}`), &u))
	assert.Equal(t, "u1", u.UserID)
	assert.Equal(t, 3, u.InputTokens)

	require.NoError(t, unmarshalItem(map[string]interface{}{"user_id": "u2"}, &u))
	assert.Equal(t, "u2", u.UserID)
}
