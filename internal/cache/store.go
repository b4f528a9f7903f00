package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is a key-value cache holding JSON encoded values with per-key TTLs
type Store interface {
	// Get decodes the value at key into dest and reports whether it was found
	Get(ctx context.Context, key string, dest interface{}) (bool, error)

	// Set encodes value as JSON and stores it for ttl (ttl <= 0 means no expiry)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Delete removes keys; missing keys are ignored
	Delete(ctx context.Context, keys ...string) error

	// AddMember adds member to the set at key and resets its ttl
	AddMember(ctx context.Context, key, member string, ttl time.Duration) error

	// RemoveMember removes member from the set at key
	RemoveMember(ctx context.Context, key, member string) error

	// Members lists the set at key in no particular order
	Members(ctx context.Context, key string) ([]string, error)
}

// RedisStore implements Store on Redis strings
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis backed store
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Get implements Store
func (s *RedisStore) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("cache get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("cache decode %s: %w", key, err)
	}
	return true, nil
}

// Set implements Store
func (s *RedisStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// Delete implements Store
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

// AddMember implements Store
func (s *RedisStore) AddMember(ctx context.Context, key, member string, ttl time.Duration) error {
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, key, member)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache add member %s: %w", key, err)
	}
	return nil
}

// RemoveMember implements Store
func (s *RedisStore) RemoveMember(ctx context.Context, key, member string) error {
	if err := s.client.SRem(ctx, key, member).Err(); err != nil {
		return fmt.Errorf("cache remove member %s: %w", key, err)
	}
	return nil
}

// Members implements Store
func (s *RedisStore) Members(ctx context.Context, key string) ([]string, error) {
	members, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("cache members %s: %w", key, err)
	}
	return members, nil
}

// memberSet is the in-process representation of a set key
type memberSet map[string]struct{}

// MemoryStore implements Store on an LRU cache
type MemoryStore struct {
	lru *LRUCache
	// serializes read-modify-write of set keys
	setMu sync.Mutex
}

// NewMemoryStore creates an in-process store holding at most capacity keys
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 10000
	}
	return &MemoryStore{lru: NewLRUCache(capacity)}
}

// Get implements Store
func (s *MemoryStore) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	v, ok := s.lru.Get(key)
	if !ok {
		return false, nil
	}
	data, ok := v.([]byte)
	if !ok {
		return false, fmt.Errorf("cache decode %s: key holds a set", key)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("cache decode %s: %w", key, err)
	}
	return true, nil
}

// Set implements Store
func (s *MemoryStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	s.lru.Set(key, data, ttl)
	return nil
}

// Delete implements Store
func (s *MemoryStore) Delete(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		s.lru.Delete(k)
	}
	return nil
}

// AddMember implements Store
func (s *MemoryStore) AddMember(ctx context.Context, key, member string, ttl time.Duration) error {
	s.setMu.Lock()
	defer s.setMu.Unlock()

	set, err := s.set(key)
	if err != nil {
		return err
	}
	if set == nil {
		set = make(memberSet)
	}
	set[member] = struct{}{}
	s.lru.Set(key, set, ttl)
	return nil
}

// RemoveMember implements Store
func (s *MemoryStore) RemoveMember(ctx context.Context, key, member string) error {
	s.setMu.Lock()
	defer s.setMu.Unlock()

	set, err := s.set(key)
	if err != nil || set == nil {
		return err
	}
	delete(set, member)
	if len(set) == 0 {
		s.lru.Delete(key)
	}
	return nil
}

// Members implements Store
func (s *MemoryStore) Members(ctx context.Context, key string) ([]string, error) {
	s.setMu.Lock()
	defer s.setMu.Unlock()

	set, err := s.set(key)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) set(key string) (memberSet, error) {
	v, ok := s.lru.Get(key)
	if !ok {
		return nil, nil
	}
	set, ok := v.(memberSet)
	if !ok {
		return nil, fmt.Errorf("cache %s does not hold a set", key)
	}
	return set, nil
}

// TTL returns the remaining lifetime of key; 0 when missing or unbounded
func (s *MemoryStore) TTL(key string) time.Duration {
	return s.lru.TTL(key)
}

// Len returns the number of cached keys
func (s *MemoryStore) Len() int {
	return s.lru.Len()
}
