package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func adapters(t *testing.T) map[string]Adapter {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	return map[string]Adapter{
		"memory": NewMemoryAdapter(),
		"redis":  NewRedisAdapter(client, "user-1", time.Hour),
		"cookie": NewCookieAdapter(rec, req, CookieOptions{}),
	}
}

func TestAdapters_GetSetRemove(t *testing.T) {
	ctx := context.Background()
	for name, a := range adapters(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := a.Get(ctx, KeyChatModel)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, a.Set(ctx, KeyChatModel, "openai:gpt-4.1-mini"))
			v, ok, err := a.Get(ctx, KeyChatModel)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "openai:gpt-4.1-mini", v)

			require.NoError(t, a.Remove(ctx, KeyChatModel))
			_, ok, err = a.Get(ctx, KeyChatModel)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestCookieAdapter_ReadsRequestAndWritesHeaders(t *testing.T) {
	ctx := context.Background()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: KeyPinnedThreads, Value: "%5B%22t1%22%5D"})
	rec := httptest.NewRecorder()

	a := NewCookieAdapter(rec, req, CookieOptions{Secure: true})
	v, ok, err := a.Get(ctx, KeyPinnedThreads)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `["t1"]`, v)

	require.NoError(t, a.Set(ctx, KeyModelRouting, "true"))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, KeyModelRouting, cookies[0].Name)
	assert.Equal(t, int((30 * 24 * time.Hour).Seconds()), cookies[0].MaxAge)
	assert.True(t, cookies[0].Secure)
}

func TestSettings(t *testing.T) {
	ctx := context.Background()
	s := NewSettings(NewMemoryAdapter())

	pref, err := s.AggregatorOnly(ctx)
	require.NoError(t, err)
	assert.Nil(t, pref, "routing starts unset")

	require.NoError(t, s.SetAggregatorOnly(ctx, true))
	pref, err = s.AggregatorOnly(ctx)
	require.NoError(t, err)
	require.NotNil(t, pref)
	assert.True(t, *pref)

	require.NoError(t, s.ClearRouting(ctx))
	pref, err = s.AggregatorOnly(ctx)
	require.NoError(t, err)
	assert.Nil(t, pref)

	_, ok, err := s.SelectedModel(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, s.SetSelectedModel(ctx, "google:gemini-2.5-flash"))
	m, ok, err := s.SelectedModel(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "google:gemini-2.5-flash", m)
}

func TestPinnedThreads(t *testing.T) {
	ctx := context.Background()
	adapter := NewMemoryAdapter()
	p := NewPinnedThreads(adapter)

	ids, err := p.Pin(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids)

	ids, err = p.Pin(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, ids)

	ids, err = p.Pin(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, ids, "pinning twice is a no-op")

	ids, err = p.Toggle(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids)

	raw, ok, _ := adapter.Get(ctx, KeyPinnedThreads)
	require.True(t, ok)
	assert.JSONEq(t, `["a"]`, raw)

	ids, err = p.Unpin(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, ids)
	_, ok, _ = adapter.Get(ctx, KeyPinnedThreads)
	assert.False(t, ok)
}

func TestPinnedThreads_CorruptValue(t *testing.T) {
	ctx := context.Background()
	adapter := NewMemoryAdapter()
	require.NoError(t, adapter.Set(ctx, KeyPinnedThreads, "{not json"))

	ids, err := NewPinnedThreads(adapter).List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
