// Package session holds per-user client state behind a pluggable persistence adapter.
package session

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Persisted state names. Cookie adapters use them verbatim as cookie names.
const (
	KeyChatModel     = "chat-model"
	KeyModelRouting  = "model-routing"
	KeyPinnedThreads = "pinned-threads"
)

// DefaultMaxAge is the lifetime of persisted client state
const DefaultMaxAge = 30 * 24 * time.Hour

// KeyHasAPIKeys is the flag telling the UI whether userID holds any key
func KeyHasAPIKeys(userID string) string {
	return "has-api-keys-" + userID
}

// KeyAPIKeys holds the obfuscated credential set of userID
func KeyAPIKeys(userID string) string {
	return "api-keys-" + userID
}

// Adapter is the persistence mechanism behind the state containers
type Adapter interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// MemoryAdapter keeps state in a map
type MemoryAdapter struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{values: make(map[string]string)}
}

func (a *MemoryAdapter) Get(ctx context.Context, key string) (string, bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.values[key]
	return v, ok, nil
}

func (a *MemoryAdapter) Set(ctx context.Context, key, value string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.values[key] = value
	return nil
}

func (a *MemoryAdapter) Remove(ctx context.Context, key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.values, key)
	return nil
}

// CookieOptions controls the attributes of written cookies
type CookieOptions struct {
	MaxAge   time.Duration
	Path     string
	Secure   bool
	SameSite http.SameSite
}

// CookieAdapter reads request cookies and writes Set-Cookie headers. It is
// scoped to one request; values written during the request are visible to
// later reads of the same adapter.
type CookieAdapter struct {
	r       *http.Request
	w       http.ResponseWriter
	opts    CookieOptions
	mu      sync.Mutex
	pending map[string]*string
}

func NewCookieAdapter(w http.ResponseWriter, r *http.Request, opts CookieOptions) *CookieAdapter {
	if opts.MaxAge == 0 {
		opts.MaxAge = DefaultMaxAge
	}
	if opts.Path == "" {
		opts.Path = "/"
	}
	if opts.SameSite == 0 {
		opts.SameSite = http.SameSiteLaxMode
	}
	return &CookieAdapter{r: r, w: w, opts: opts, pending: make(map[string]*string)}
}

func (a *CookieAdapter) Get(ctx context.Context, key string) (string, bool, error) {
	a.mu.Lock()
	if v, ok := a.pending[key]; ok {
		a.mu.Unlock()
		if v == nil {
			return "", false, nil
		}
		return *v, true, nil
	}
	a.mu.Unlock()

	c, err := a.r.Cookie(key)
	if err == http.ErrNoCookie {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	v, err := url.QueryUnescape(c.Value)
	if err != nil {
		return "", false, fmt.Errorf("decode cookie %s: %w", key, err)
	}
	return v, true, nil
}

func (a *CookieAdapter) Set(ctx context.Context, key, value string) error {
	a.mu.Lock()
	a.pending[key] = &value
	a.mu.Unlock()

	http.SetCookie(a.w, &http.Cookie{
		Name:     key,
		Value:    url.QueryEscape(value),
		Path:     a.opts.Path,
		MaxAge:   int(a.opts.MaxAge.Seconds()),
		Expires:  time.Now().Add(a.opts.MaxAge),
		Secure:   a.opts.Secure,
		SameSite: a.opts.SameSite,
	})
	return nil
}

func (a *CookieAdapter) Remove(ctx context.Context, key string) error {
	a.mu.Lock()
	a.pending[key] = nil
	a.mu.Unlock()

	http.SetCookie(a.w, &http.Cookie{
		Name:     key,
		Value:    "",
		Path:     a.opts.Path,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		Secure:   a.opts.Secure,
		SameSite: a.opts.SameSite,
	})
	return nil
}

// RedisAdapter keeps one user's state in a Redis hash so it survives across devices
type RedisAdapter struct {
	client redis.Cmdable
	key    string
	ttl    time.Duration
}

func NewRedisAdapter(client redis.Cmdable, userID string, ttl time.Duration) *RedisAdapter {
	if ttl == 0 {
		ttl = DefaultMaxAge
	}
	return &RedisAdapter{client: client, key: fmt.Sprintf("session:%s", userID), ttl: ttl}
}

func (a *RedisAdapter) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := a.client.HGet(ctx, a.key, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read session value: %w", err)
	}
	return v, true, nil
}

func (a *RedisAdapter) Set(ctx context.Context, key, value string) error {
	pipe := a.client.TxPipeline()
	pipe.HSet(ctx, a.key, key, value)
	pipe.Expire(ctx, a.key, a.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write session value: %w", err)
	}
	return nil
}

func (a *RedisAdapter) Remove(ctx context.Context, key string) error {
	if err := a.client.HDel(ctx, a.key, key).Err(); err != nil {
		return fmt.Errorf("failed to remove session value: %w", err)
	}
	return nil
}

// MemoryRegistry hands out one MemoryAdapter per user
type MemoryRegistry struct {
	mu       sync.Mutex
	adapters map[string]*MemoryAdapter
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{adapters: make(map[string]*MemoryAdapter)}
}

// For returns the adapter of userID, creating it on first use
func (r *MemoryRegistry) For(userID string) *MemoryAdapter {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.adapters[userID]
	if !ok {
		a = NewMemoryAdapter()
		r.adapters[userID] = a
	}
	return a
}
