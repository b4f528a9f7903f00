// Package usage accounts token consumption per user and month.
package usage

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Update is the usage of one assistant turn
type Update struct {
	UserID          string    `json:"user_id"`
	Provider        string    `json:"provider"`
	Model           string    `json:"model"`
	InputTokens     int       `json:"input_tokens"`
	OutputTokens    int       `json:"output_tokens"`
	ReasoningTokens int       `json:"reasoning_tokens,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// Summary aggregates a user's usage for one calendar month
type Summary struct {
	Year            int              `json:"year"`
	Month           int              `json:"month"`
	Requests        int64            `json:"requests"`
	InputTokens     int64            `json:"inputTokens"`
	OutputTokens    int64            `json:"outputTokens"`
	ReasoningTokens int64            `json:"reasoningTokens"`
	ByProvider      map[string]int64 `json:"byProvider"`
}

// Tracker records and reports usage
type Tracker interface {
	Add(ctx context.Context, u Update) error
	Monthly(ctx context.Context, userID string, year, month int) (*Summary, error)
}

func monthlyKey(userID string, year, month int) string {
	return fmt.Sprintf("usage:%s:%d:%02d", userID, year, month)
}

func monthOf(t time.Time) (int, int) {
	if t.IsZero() {
		t = time.Now()
	}
	t = t.UTC()
	return t.Year(), int(t.Month())
}

const providerField = "provider:"

var addScript = redis.NewScript(`
	local key = KEYS[1]
	local ttl = tonumber(ARGV[1])

	redis.call('HINCRBY', key, 'requests', 1)
	redis.call('HINCRBY', key, 'input', ARGV[2])
	redis.call('HINCRBY', key, 'output', ARGV[3])
	redis.call('HINCRBY', key, 'reasoning', ARGV[4])
	redis.call('HINCRBY', key, ARGV[5], 1)
	redis.call('EXPIRE', key, ttl)
	return 1
`)

// RedisTracker keeps monthly counters in Redis hashes
type RedisTracker struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisTracker creates a tracker whose counters expire after retention
func NewRedisTracker(client *redis.Client, retention time.Duration) *RedisTracker {
	if retention <= 0 {
		retention = 60 * 24 * time.Hour
	}
	return &RedisTracker{client: client, retention: retention}
}

// Add increments the month's counters atomically
func (t *RedisTracker) Add(ctx context.Context, u Update) error {
	year, month := monthOf(u.Timestamp)
	key := monthlyKey(u.UserID, year, month)

	_, err := addScript.Run(ctx, t.client, []string{key},
		int(t.retention.Seconds()),
		u.InputTokens,
		u.OutputTokens,
		u.ReasoningTokens,
		providerField+u.Provider,
	).Result()
	if err != nil {
		return fmt.Errorf("failed to add usage: %w", err)
	}
	return nil
}

// Monthly returns the counters for the month, zeroed when none were recorded
func (t *RedisTracker) Monthly(ctx context.Context, userID string, year, month int) (*Summary, error) {
	fields, err := t.client.HGetAll(ctx, monthlyKey(userID, year, month)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get usage: %w", err)
	}

	s := &Summary{Year: year, Month: month, ByProvider: make(map[string]int64)}
	for field, raw := range fields {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		switch {
		case field == "requests":
			s.Requests = n
		case field == "input":
			s.InputTokens = n
		case field == "output":
			s.OutputTokens = n
		case field == "reasoning":
			s.ReasoningTokens = n
		case strings.HasPrefix(field, providerField):
			s.ByProvider[strings.TrimPrefix(field, providerField)] = n
		}
	}
	return s, nil
}

// MemoryTracker keeps counters in process memory
type MemoryTracker struct {
	mu     sync.Mutex
	months map[string]*Summary
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{months: make(map[string]*Summary)}
}

func (t *MemoryTracker) Add(_ context.Context, u Update) error {
	year, month := monthOf(u.Timestamp)
	key := monthlyKey(u.UserID, year, month)

	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.months[key]
	if !ok {
		s = &Summary{Year: year, Month: month, ByProvider: make(map[string]int64)}
		t.months[key] = s
	}
	s.Requests++
	s.InputTokens += int64(u.InputTokens)
	s.OutputTokens += int64(u.OutputTokens)
	s.ReasoningTokens += int64(u.ReasoningTokens)
	s.ByProvider[u.Provider]++
	return nil
}

func (t *MemoryTracker) Monthly(_ context.Context, userID string, year, month int) (*Summary, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := &Summary{Year: year, Month: month, ByProvider: make(map[string]int64)}
	if s, ok := t.months[monthlyKey(userID, year, month)]; ok {
		*out = *s
		out.ByProvider = make(map[string]int64, len(s.ByProvider))
		for k, v := range s.ByProvider {
			out.ByProvider[k] = v
		}
	}
	return out, nil
}
