// Package streams tracks the live generation streams of each chat and
// delivers stop signals to the process serving them.
package streams

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"llm_chat/internal/cache"
	"llm_chat/internal/utils"
)

var (
	// ErrStopped is the cancellation cause of a stream stopped by its user
	ErrStopped = errors.New("stream stopped by user")

	// ErrUnknownStream is returned for stream ids that were never registered or have expired
	ErrUnknownStream = errors.New("unknown stream")
)

const stopPayload = "stop"

// Manager registers resumable streams per chat and carries the stop
// handshake between the process serving a stream and the one receiving
// the stop request.
type Manager interface {
	// Register appends streamID to the chat's stream list
	Register(ctx context.Context, chatID, streamID string) error
	// Streams lists the chat's stream ids in registration order
	Streams(ctx context.Context, chatID string) ([]string, error)
	// ChatOf returns the chat streamID was registered for
	ChatOf(ctx context.Context, streamID string) (string, error)
	// Stop publishes the abort signal and returns how many subscribers got it
	Stop(ctx context.Context, streamID string) (int64, error)
	// Subscribe listens for the abort signal of streamID
	Subscribe(ctx context.Context, streamID string) (Subscription, error)
}

// Subscription is closed when a stop signal arrives
type Subscription interface {
	Done() <-chan struct{}
	Close() error
}

// Cancellable derives a context cancelled with cause ErrStopped when the
// stream's stop signal arrives. The returned func releases the subscription.
func Cancellable(ctx context.Context, m Manager, streamID string) (context.Context, func(), error) {
	sub, err := m.Subscribe(ctx, streamID)
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithCancelCause(ctx)
	go func() {
		select {
		case <-sub.Done():
			cancel(ErrStopped)
		case <-ctx.Done():
		}
	}()

	release := func() {
		cancel(context.Canceled)
		sub.Close()
	}
	return ctx, release, nil
}

// RedisManager implements Manager with a Redis list and pub/sub
type RedisManager struct {
	client *redis.Client
	ttl    time.Duration
	logger *utils.Logger
}

// NewRedisManager creates a Redis backed manager; ttl bounds the stream list
func NewRedisManager(client *redis.Client, ttl time.Duration) *RedisManager {
	return &RedisManager{client: client, ttl: ttl, logger: utils.NewLogger("streams")}
}

// Register implements Manager
func (m *RedisManager) Register(ctx context.Context, chatID, streamID string) error {
	key := cache.StreamsKey(chatID)
	pipe := m.client.TxPipeline()
	pipe.RPush(ctx, key, streamID)
	pipe.Expire(ctx, key, m.ttl)
	pipe.Set(ctx, cache.StreamChatKey(streamID), chatID, m.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to register stream: %w", err)
	}
	return nil
}

// Streams implements Manager
func (m *RedisManager) Streams(ctx context.Context, chatID string) ([]string, error) {
	ids, err := m.client.LRange(ctx, cache.StreamsKey(chatID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list streams: %w", err)
	}
	return ids, nil
}

// ChatOf implements Manager
func (m *RedisManager) ChatOf(ctx context.Context, streamID string) (string, error) {
	chatID, err := m.client.Get(ctx, cache.StreamChatKey(streamID)).Result()
	if err == redis.Nil {
		return "", ErrUnknownStream
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up stream: %w", err)
	}
	return chatID, nil
}

// Stop implements Manager
func (m *RedisManager) Stop(ctx context.Context, streamID string) (int64, error) {
	n, err := m.client.Publish(ctx, cache.StopStreamChannel(streamID), stopPayload).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to publish stop signal: %w", err)
	}
	return n, nil
}

// Subscribe implements Manager. It returns once the subscription is active.
func (m *RedisManager) Subscribe(ctx context.Context, streamID string) (Subscription, error) {
	pubsub := m.client.Subscribe(ctx, cache.StopStreamChannel(streamID))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to stop signal: %w", err)
	}

	sub := &redisSubscription{pubsub: pubsub, done: make(chan struct{})}
	go func() {
		for range pubsub.Channel() {
			sub.fire()
			return
		}
	}()
	m.logger.Debug("Subscribed to stop signal", "stream_id", streamID)
	return sub, nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	done   chan struct{}
	once   sync.Once
}

func (s *redisSubscription) fire() {
	s.once.Do(func() { close(s.done) })
}

func (s *redisSubscription) Done() <-chan struct{} {
	return s.done
}

func (s *redisSubscription) Close() error {
	return s.pubsub.Close()
}

// MemoryManager implements Manager in process
type MemoryManager struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	streams map[string]*streamList
	owners  map[string]streamOwner
	subs    map[string]map[*memorySubscription]struct{}
}

type streamOwner struct {
	chatID    string
	expiresAt time.Time
}

type streamList struct {
	ids       []string
	expiresAt time.Time
}

// NewMemoryManager creates an in-process manager
func NewMemoryManager(ttl time.Duration) *MemoryManager {
	return &MemoryManager{
		ttl:     ttl,
		now:     time.Now,
		streams: make(map[string]*streamList),
		owners:  make(map[string]streamOwner),
		subs:    make(map[string]map[*memorySubscription]struct{}),
	}
}

// Register implements Manager
func (m *MemoryManager) Register(ctx context.Context, chatID, streamID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l := m.live(chatID)
	if l == nil {
		l = &streamList{}
		m.streams[chatID] = l
	}
	l.ids = append(l.ids, streamID)
	l.expiresAt = m.now().Add(m.ttl)
	m.owners[streamID] = streamOwner{chatID: chatID, expiresAt: l.expiresAt}
	return nil
}

// ChatOf implements Manager
func (m *MemoryManager) ChatOf(ctx context.Context, streamID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.owners[streamID]
	if !ok {
		return "", ErrUnknownStream
	}
	if m.now().After(o.expiresAt) {
		delete(m.owners, streamID)
		return "", ErrUnknownStream
	}
	return o.chatID, nil
}

// Streams implements Manager
func (m *MemoryManager) Streams(ctx context.Context, chatID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l := m.live(chatID)
	if l == nil {
		return []string{}, nil
	}
	return append([]string(nil), l.ids...), nil
}

func (m *MemoryManager) live(chatID string) *streamList {
	l, ok := m.streams[chatID]
	if !ok {
		return nil
	}
	if m.now().After(l.expiresAt) {
		delete(m.streams, chatID)
		return nil
	}
	return l
}

// Stop implements Manager
func (m *MemoryManager) Stop(ctx context.Context, streamID string) (int64, error) {
	m.mu.Lock()
	subs := m.subs[streamID]
	delete(m.subs, streamID)
	m.mu.Unlock()

	for s := range subs {
		s.fire()
	}
	return int64(len(subs)), nil
}

// Subscribe implements Manager
func (m *MemoryManager) Subscribe(ctx context.Context, streamID string) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &memorySubscription{done: make(chan struct{})}
	s.unsubscribe = func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs[streamID], s)
		if len(m.subs[streamID]) == 0 {
			delete(m.subs, streamID)
		}
	}
	if m.subs[streamID] == nil {
		m.subs[streamID] = make(map[*memorySubscription]struct{})
	}
	m.subs[streamID][s] = struct{}{}
	return s, nil
}

type memorySubscription struct {
	done        chan struct{}
	once        sync.Once
	unsubscribe func()
}

func (s *memorySubscription) fire() {
	s.once.Do(func() { close(s.done) })
}

func (s *memorySubscription) Done() <-chan struct{} {
	return s.done
}

func (s *memorySubscription) Close() error {
	s.unsubscribe()
	return nil
}
