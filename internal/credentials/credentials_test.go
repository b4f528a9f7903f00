package credentials_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm_chat/internal/catalog"
	"llm_chat/internal/credentials"
	"llm_chat/internal/routing"
	"llm_chat/internal/session"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	keys := []string{
		"sk-" + strings.Repeat("x", 48),
		"AIza" + strings.Repeat("Q", 35),
		"",
		"ünïcødé-key",
	}
	users := []string{"user-1", "a", "", "00000000-0000-0000-0000-000000000000"}

	for _, k := range keys {
		for _, u := range users {
			enc := credentials.EncryptKey(k, u)
			dec, err := credentials.DecryptKey(enc, u)
			require.NoError(t, err)
			assert.Equal(t, k, dec, "user %q", u)
		}
	}
}

func TestEncryptKey_DependsOnUser(t *testing.T) {
	key := "sk-" + strings.Repeat("x", 40)
	a := credentials.EncryptKey(key, "alice")
	b := credentials.EncryptKey(key, "bob")
	assert.NotEqual(t, a, b)

	wrong, err := credentials.DecryptKey(a, "bob")
	require.NoError(t, err)
	assert.NotEqual(t, key, wrong)
}

func TestDecryptKey_InvalidBase64(t *testing.T) {
	_, err := credentials.DecryptKey("%%%not-base64", "u")
	assert.Error(t, err)
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "sk-a••••••••wxyz", credentials.MaskKey("sk-abcdefghijwxyz"))
	assert.Equal(t, "••••••••", credentials.MaskKey("short"))
}

func TestValidateFormat(t *testing.T) {
	tests := []struct {
		name     string
		provider catalog.Provider
		key      string
		wantErr  bool
	}{
		{"openai ok", catalog.OpenAI, "sk-" + strings.Repeat("a", 32), false},
		{"openai project key", catalog.OpenAI, "sk-proj-" + strings.Repeat("a", 40), false},
		{"openai too short", catalog.OpenAI, "sk-" + strings.Repeat("a", 31), true},
		{"openai wrong prefix", catalog.OpenAI, "pk-" + strings.Repeat("a", 40), true},
		{"anthropic ok", catalog.Anthropic, "sk-ant-api03-" + strings.Repeat("b", 40), false},
		{"openrouter ok", catalog.OpenRouter, "sk-or-v1-" + strings.Repeat("c", 64), false},
		{"google ok", catalog.Google, "AIza" + strings.Repeat("d", 35), false},
		{"google short", catalog.Google, "AIza" + strings.Repeat("d", 34), true},
		{"google bad chars", catalog.Google, "AIza" + strings.Repeat("d", 34) + "!", true},
		{"unsupported", catalog.Meta, "sk-" + strings.Repeat("a", 40), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := credentials.ValidateFormat(tt.provider, tt.key)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestKeys_Usable(t *testing.T) {
	keys := credentials.Keys{
		catalog.OpenAI: "sk-" + strings.Repeat("a", 40),
		catalog.Google: "nope",
	}
	usable := keys.Usable()
	assert.True(t, usable.Has(catalog.OpenAI))
	assert.False(t, usable.Has(catalog.Google))
	assert.Len(t, keys, 2, "Usable must not mutate the receiver")
}

func TestAuthFor(t *testing.T) {
	key := "sk-" + strings.Repeat("a", 40)

	req := httptest.NewRequest(http.MethodGet, "https://api.anthropic.com/v1/models", nil)
	auth, err := credentials.AuthFor(catalog.Anthropic, key)
	require.NoError(t, err)
	require.NoError(t, auth.Apply(req))
	assert.Equal(t, key, req.Header.Get("x-api-key"))
	assert.Equal(t, credentials.AnthropicVersion, req.Header.Get("anthropic-version"))

	req = httptest.NewRequest(http.MethodGet, "https://openrouter.ai/api/v1/credits", nil)
	auth, err = credentials.AuthFor(catalog.OpenRouter, key)
	require.NoError(t, err)
	require.NoError(t, auth.Apply(req))
	assert.Equal(t, "Bearer "+key, req.Header.Get("Authorization"))

	req = httptest.NewRequest(http.MethodGet, "https://generativelanguage.googleapis.com/v1beta/models", nil)
	auth, err = credentials.AuthFor(catalog.Google, "AIza"+strings.Repeat("d", 35))
	require.NoError(t, err)
	require.NoError(t, auth.Apply(req))
	assert.Equal(t, "AIza"+strings.Repeat("d", 35), req.URL.Query().Get("key"))
	assert.Empty(t, req.Header.Get("Authorization"))

	_, err = credentials.AuthFor(catalog.DeepSeek, key)
	assert.ErrorIs(t, err, credentials.ErrUnsupportedProvider)
}

func newValidator(t *testing.T, handler http.HandlerFunc) *credentials.Validator {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	endpoints := credentials.Endpoints{
		OpenAI:     srv.URL,
		Anthropic:  srv.URL,
		Google:     srv.URL,
		OpenRouter: srv.URL,
	}
	return credentials.NewValidator(endpoints, srv.Client(), 2*time.Second)
}

func TestValidator_StatusMapping(t *testing.T) {
	tests := []struct {
		status     int
		wantValid  bool
		wantReason credentials.Reason
	}{
		{http.StatusOK, true, ""},
		{http.StatusUnauthorized, false, credentials.ReasonInvalidCredential},
		{http.StatusBadRequest, false, credentials.ReasonInvalidCredential},
		{http.StatusForbidden, false, credentials.ReasonPermission},
		{http.StatusTooManyRequests, false, credentials.ReasonValidationFailed},
		{http.StatusInternalServerError, false, credentials.ReasonValidationFailed},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			v := newValidator(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})
			res := v.Validate(context.Background(), catalog.OpenAI, "sk-"+strings.Repeat("a", 40))
			assert.Equal(t, tt.wantValid, res.IsValid)
			assert.Equal(t, tt.wantReason, res.Reason)
		})
	}
}

func TestValidator_ProviderEndpoints(t *testing.T) {
	var gotPath, gotQueryKey, gotVersion string
	v := newValidator(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQueryKey = r.URL.Query().Get("key")
		gotVersion = r.Header.Get("anthropic-version")
		w.WriteHeader(http.StatusOK)
	})
	ctx := context.Background()

	require.True(t, v.Validate(ctx, catalog.OpenRouter, "sk-or-"+strings.Repeat("a", 40)).IsValid)
	assert.Equal(t, "/api/v1/credits", gotPath)

	require.True(t, v.Validate(ctx, catalog.Google, "AIza"+strings.Repeat("b", 35)).IsValid)
	assert.Equal(t, "/v1beta/models", gotPath)
	assert.Equal(t, "AIza"+strings.Repeat("b", 35), gotQueryKey)

	require.True(t, v.Validate(ctx, catalog.Anthropic, "sk-ant-"+strings.Repeat("c", 40)).IsValid)
	assert.Equal(t, "/v1/models", gotPath)
	assert.Equal(t, credentials.AnthropicVersion, gotVersion)
}

func TestValidator_MalformedSkipsNetwork(t *testing.T) {
	var calls int32
	v := newValidator(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	})
	res := v.Validate(context.Background(), catalog.OpenAI, "bad")
	assert.False(t, res.IsValid)
	assert.Equal(t, credentials.ReasonMalformed, res.Reason)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestValidator_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	v := credentials.NewValidator(credentials.Endpoints{OpenAI: url}, nil, time.Second)
	res := v.Validate(context.Background(), catalog.OpenAI, "sk-"+strings.Repeat("a", 40))
	assert.False(t, res.IsValid)
	assert.Equal(t, credentials.ReasonNetwork, res.Reason)
}

func newStore(t *testing.T, status *int32) (*credentials.Store, *session.MemoryAdapter) {
	t.Helper()
	v := newValidator(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(atomic.LoadInt32(status)))
	})
	adapter := session.NewMemoryAdapter()
	return credentials.NewStore("user-1", adapter, v, routing.Resolver{}), adapter
}

func TestStore_SaveKeyValidatesBeforePersisting(t *testing.T) {
	ctx := context.Background()
	status := int32(http.StatusUnauthorized)
	store, adapter := newStore(t, &status)
	key := "sk-" + strings.Repeat("a", 40)

	err := store.SaveKey(ctx, catalog.OpenRouter, key)
	require.Error(t, err)
	ve, ok := credentials.IsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, credentials.ReasonInvalidCredential, ve.Result.Reason)

	_, found, err := adapter.Get(ctx, session.KeyAPIKeys("user-1"))
	require.NoError(t, err)
	assert.False(t, found, "rejected key must not be persisted")

	atomic.StoreInt32(&status, http.StatusOK)
	require.NoError(t, store.SaveKey(ctx, catalog.OpenRouter, key))

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, key, keys[catalog.OpenRouter])

	raw, found, err := adapter.Get(ctx, session.KeyAPIKeys("user-1"))
	require.NoError(t, err)
	require.True(t, found)
	assert.NotContains(t, raw, key, "keys are stored obfuscated")

	has, err := store.HasKeys(ctx)
	require.NoError(t, err)
	assert.True(t, has)

	settings := session.NewSettings(adapter)
	pref, err := settings.AggregatorOnly(ctx)
	require.NoError(t, err)
	require.NotNil(t, pref)
	assert.True(t, *pref)
}

func TestStore_SaveKeyMalformed(t *testing.T) {
	status := int32(http.StatusOK)
	store, _ := newStore(t, &status)

	err := store.SaveKey(context.Background(), catalog.Google, "AIzaShort")
	ve, ok := credentials.IsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, credentials.ReasonMalformed, ve.Result.Reason)
}

func TestStore_SelectedModelFollowsKeys(t *testing.T) {
	ctx := context.Background()
	status := int32(http.StatusOK)
	store, adapter := newStore(t, &status)
	settings := session.NewSettings(adapter)

	require.NoError(t, store.SaveKey(ctx, catalog.Google, "AIza"+strings.Repeat("g", 35)))
	model, ok, err := settings.SelectedModel(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "google:gemini-2.5-flash", model)

	require.NoError(t, settings.SetSelectedModel(ctx, "google:gemini-2.5-pro"))
	require.NoError(t, store.SaveKey(ctx, catalog.Anthropic, "sk-ant-"+strings.Repeat("a", 40)))
	model, _, err = settings.SelectedModel(ctx)
	require.NoError(t, err)
	assert.Equal(t, "anthropic:claude-sonnet-4-0", model, "a usable selection is still replaced by the best default")

	require.NoError(t, store.SaveKey(ctx, catalog.OpenAI, "sk-"+strings.Repeat("o", 40)))
	model, _, err = settings.SelectedModel(ctx)
	require.NoError(t, err)
	assert.Equal(t, "openai:gpt-4.1-mini", model)

	require.NoError(t, store.RemoveKey(ctx, catalog.OpenAI))
	model, _, err = settings.SelectedModel(ctx)
	require.NoError(t, err)
	assert.Equal(t, "anthropic:claude-sonnet-4-0", model)

	require.NoError(t, store.ClearAllKeys(ctx))
	model, _, err = settings.SelectedModel(ctx)
	require.NoError(t, err)
	assert.Equal(t, catalog.DefaultModelKey, model)
}

func TestStore_RemoveAggregatorResetsRouting(t *testing.T) {
	ctx := context.Background()
	status := int32(http.StatusOK)
	store, adapter := newStore(t, &status)
	settings := session.NewSettings(adapter)

	require.NoError(t, store.SaveKey(ctx, catalog.OpenRouter, "sk-or-"+strings.Repeat("r", 40)))
	require.NoError(t, store.RemoveKey(ctx, catalog.OpenRouter))

	pref, err := settings.AggregatorOnly(ctx)
	require.NoError(t, err)
	require.NotNil(t, pref)
	assert.False(t, *pref)

	has, err := store.HasKeys(ctx)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestStore_ClearAllKeys(t *testing.T) {
	ctx := context.Background()
	status := int32(http.StatusOK)
	store, adapter := newStore(t, &status)
	settings := session.NewSettings(adapter)

	require.NoError(t, store.SaveKey(ctx, catalog.OpenAI, "sk-"+strings.Repeat("o", 40)))
	require.NoError(t, store.SaveKey(ctx, catalog.OpenRouter, "sk-or-"+strings.Repeat("r", 40)))
	require.NoError(t, store.ClearAllKeys(ctx))

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)

	pref, err := settings.AggregatorOnly(ctx)
	require.NoError(t, err)
	assert.Nil(t, pref)

	model, _, err := settings.SelectedModel(ctx)
	require.NoError(t, err)
	assert.Equal(t, catalog.DefaultModelKey, model)
}
