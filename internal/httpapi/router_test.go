package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm_chat/internal/attachments"
	"llm_chat/internal/auth"
	"llm_chat/internal/cache"
	"llm_chat/internal/catalog"
	"llm_chat/internal/config"
	"llm_chat/internal/credentials"
	"llm_chat/internal/effects"
	"llm_chat/internal/logging"
	"llm_chat/internal/models"
	"llm_chat/internal/providers"
	"llm_chat/internal/ratelimit"
	"llm_chat/internal/routing"
	"llm_chat/internal/storage"
	"llm_chat/internal/streams"
	"llm_chat/internal/threads"
	"llm_chat/internal/titles"
	"llm_chat/internal/usage"
)

var (
	testSecret = []byte("router-test-secret")
	openAIKey  = "sk-" + strings.Repeat("a", 40)
	rejected   = "sk-" + strings.Repeat("r", 40)
)

type stubChecker struct{}

func (stubChecker) Validate(_ context.Context, _ catalog.Provider, key string) credentials.ValidationResult {
	if key == rejected {
		return credentials.ValidationResult{IsValid: false, Reason: credentials.ReasonInvalidCredential, Error: "Invalid API key"}
	}
	return credentials.ValidationResult{IsValid: true}
}

// scriptedClient replays events; with block set it waits for cancellation
type scriptedClient struct {
	events []providers.StreamEvent
	block  bool
	err    error
}

func (c *scriptedClient) StreamChat(ctx context.Context, req providers.ChatRequest, handler providers.StreamHandler) (*providers.Result, error) {
	parts := models.MessageParts{}
	for _, ev := range c.events {
		if err := handler(ev); err != nil {
			return nil, err
		}
		if ev.Type == providers.EventText {
			parts = parts.AppendText(ev.Text)
		}
	}
	if c.block {
		<-ctx.Done()
		return nil, context.Cause(ctx)
	}
	if c.err != nil {
		return nil, c.err
	}
	return &providers.Result{
		Parts:        parts,
		FinishReason: "stop",
		Steps:        1,
		Usage:        providers.Usage{InputTokens: 12, OutputTokens: 2},
	}, nil
}

type stubClients struct {
	mu     sync.Mutex
	client *scriptedClient
	last   providers.ChatRequest
}

func (s *stubClients) ClientFor(route routing.Route) (providers.ChatClient, error) {
	return &recordingClient{parent: s}, nil
}

func (s *stubClients) MaxSteps() int { return 3 }

type recordingClient struct{ parent *stubClients }

func (c *recordingClient) StreamChat(ctx context.Context, req providers.ChatRequest, handler providers.StreamHandler) (*providers.Result, error) {
	c.parent.mu.Lock()
	c.parent.last = req
	client := c.parent.client
	c.parent.mu.Unlock()
	return client.StreamChat(ctx, req, handler)
}

type recordingTitles struct {
	mu   sync.Mutex
	jobs []*titles.Job
}

func (q *recordingTitles) Enqueue(_ context.Context, job *titles.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *recordingTitles) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// syncUsage applies updates immediately instead of through a worker
type syncUsage struct{ *usage.MemoryTracker }

func (u syncUsage) Enqueue(ctx context.Context, upd *usage.Update) error {
	return u.Add(ctx, *upd)
}

type recordingSink struct {
	mu      sync.Mutex
	records []*logging.TurnRecord
}

func (s *recordingSink) Enqueue(rec *logging.TurnRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *recordingSink) last() *logging.TurnRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.records) == 0 {
		return nil
	}
	return s.records[len(s.records)-1]
}

type testEnv struct {
	deps    *Dependencies
	handler http.Handler
	chat    *stubClients
	titles  *recordingTitles
	turns   *recordingSink
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := &config.Config{
		AllowedOrigins: []string{"*"},
		StorageBackend: "memory",
		StateBackend:   "server",
		Auth:           config.AuthConfig{JWTSecret: testSecret, TokenTTL: time.Hour, DevLogin: true},
		Cache: config.CacheConfig{
			ThreadTTL:         30 * time.Second,
			BranchedThreadTTL: 120 * time.Second,
			ThreadListTTL:     300 * time.Second,
			StreamsTTL:        time.Hour,
			PartialShareTTL:   7 * 24 * time.Hour,
			MemoryCapacity:    1000,
		},
	}

	// a closed runner executes deferred effects inline, keeping reads deterministic
	runner := effects.NewRunner(time.Second)
	require.NoError(t, runner.Close(context.Background()))

	files := attachments.NewMemoryStore("http://localhost/files")
	chat := &stubClients{client: &scriptedClient{events: []providers.StreamEvent{
		{Type: providers.EventText, Text: "Hello"},
		{Type: providers.EventText, Text: " there"},
	}}}
	titleQueue := &recordingTitles{}
	turns := &recordingSink{}

	deps := &Dependencies{
		Config:      cfg,
		Threads:     threads.NewService(storage.NewMemoryRepository(), cache.NewMemoryStore(1000), cfg.Cache),
		Streams:     streams.NewMemoryManager(time.Hour),
		Chat:        chat,
		Tools:       providers.NewToolFactory(nil, nil, "", nil),
		Validator:   stubChecker{},
		State:       NewStateFactory(cfg, nil),
		Uploader:    attachments.NewUploader(files, 1<<20),
		Files:       files,
		Titles:      titleQueue,
		Usage:       syncUsage{usage.NewMemoryTracker()},
		TurnLog:     turns,
		Auth:        auth.NewHandler(cfg.Auth, nil),
		ChatLimiter: ratelimit.NewNoopLimiter(),
		KeyLimiter:  ratelimit.NewNoopLimiter(),
		Effects:     runner,
		Health:      map[string]HealthChecker{},
	}
	return &testEnv{deps: deps, handler: NewRouter(deps), chat: chat, titles: titleQueue, turns: turns}
}

func tokenFor(t *testing.T, userID string) string {
	t.Helper()
	token, _, err := auth.IssueToken(testSecret, time.Hour, auth.User{ID: userID, Email: userID + "@example.com"})
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, userID))
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), target), rec.Body.String())
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	decodeBody(t, rec, &body)
	return body.Code
}

func (e *testEnv) saveKey(t *testing.T, userID string) {
	t.Helper()
	rec := e.do(t, http.MethodPut, "/api/keys/openai", userID, map[string]string{"key": openAIKey})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/threads", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized:auth", errorCode(t, rec))

	rec = env.do(t, http.MethodGet, "/api/auth/me", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var me map[string]string
	decodeBody(t, rec, &me)
	assert.Equal(t, "user-1", me["id"])
}

func TestThreadLifecycle(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/threads", "owner", map[string]string{"id": "t1", "prompt": "How do tides work?"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var thread models.Thread
	decodeBody(t, rec, &thread)
	assert.Equal(t, models.DefaultThreadTitle, thread.Title)
	assert.Equal(t, 1, env.titles.count())

	rec = env.do(t, http.MethodPatch, "/api/threads/t1", "owner", map[string]string{"title": "Tides"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/threads", "owner", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Threads []models.Thread `json:"threads"`
	}
	decodeBody(t, rec, &list)
	require.Len(t, list.Threads, 1)
	assert.Equal(t, "Tides", list.Threads[0].Title)

	t.Run("private thread hidden from others", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/share/t1", "stranger", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "not_found:thread", errorCode(t, rec))
	})

	t.Run("public thread readable anonymously", func(t *testing.T) {
		rec := env.do(t, http.MethodPut, "/api/threads/t1/visibility", "owner", map[string]string{"visibility": "public"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		rec = env.do(t, http.MethodGet, "/api/share/t1", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var twm models.ThreadWithMessages
		decodeBody(t, rec, &twm)
		assert.Equal(t, "t1", twm.Thread.ID)
	})

	t.Run("non-owner cannot rename public thread", func(t *testing.T) {
		rec := env.do(t, http.MethodPatch, "/api/threads/t1", "stranger", map[string]string{"title": "Mine"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("invalid visibility", func(t *testing.T) {
		rec := env.do(t, http.MethodPut, "/api/threads/t1/visibility", "owner", map[string]string{"visibility": "friends"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	rec = env.do(t, http.MethodDelete, "/api/threads/t1", "owner", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/threads/t1", "owner", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func seedMessages(t *testing.T, env *testEnv, userID, threadID string, n int) []string {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/api/threads", userID, map[string]string{"id": threadID, "title": "Seeded"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	ids := make([]string, 0, n)
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < n; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		id := threadID + "-m" + string(rune('0'+i))
		rec := env.do(t, http.MethodPost, "/api/threads/"+threadID+"/messages", userID, map[string]interface{}{
			"id":        id,
			"role":      role,
			"content":   "message " + id,
			"createdAt": base.Add(time.Duration(i) * time.Minute),
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		ids = append(ids, id)
	}
	return ids
}

func TestDeleteTrailing(t *testing.T) {
	env := newTestEnv(t)
	ids := seedMessages(t, env, "owner", "t1", 4)

	rec := env.do(t, http.MethodDelete, "/api/messages/"+ids[1]+"/trailing?inclusive=maybe", "owner", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/messages/"+ids[1]+"/trailing", "owner", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		Deleted int64 `json:"deleted"`
	}
	decodeBody(t, rec, &out)
	assert.Equal(t, int64(2), out.Deleted)

	rec = env.do(t, http.MethodDelete, "/api/messages/"+ids[1]+"/trailing?inclusive=true", "owner", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &out)
	assert.Equal(t, int64(1), out.Deleted)

	rec = env.do(t, http.MethodGet, "/api/threads/t1", "owner", nil)
	var twm models.ThreadWithMessages
	decodeBody(t, rec, &twm)
	require.Len(t, twm.Messages, 1)
	assert.Equal(t, ids[0], twm.Messages[0].ID)
}

func TestBranchAndPartialShare(t *testing.T) {
	env := newTestEnv(t)
	ids := seedMessages(t, env, "owner", "t1", 4)

	rec := env.do(t, http.MethodPost, "/api/threads/t1/branch", "owner", map[string]string{"messageId": ids[1], "newThreadId": "t2"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var branched models.ThreadWithMessages
	decodeBody(t, rec, &branched)
	assert.Equal(t, "t2", branched.Thread.ID)
	assert.Len(t, branched.Messages, 2)

	rec = env.do(t, http.MethodPost, "/api/threads/t1/branch", "stranger", map[string]string{"messageId": ids[1]})
	assert.NotEqual(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/threads/t1/branch", "owner", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/threads/t1/partial-shares", "owner", map[string]string{"messageId": ids[2]})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var share threads.PartialShare
	decodeBody(t, rec, &share)
	require.NotEmpty(t, share.Token)

	rec = env.do(t, http.MethodGet, "/api/partial-share/"+share.Token, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var shared models.ThreadWithMessages
	decodeBody(t, rec, &shared)
	assert.Len(t, shared.Messages, 3)

	rec = env.do(t, http.MethodGet, "/api/partial-shares", "owner", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Shares []threads.PartialShare `json:"shares"`
	}
	decodeBody(t, rec, &listed)
	assert.Len(t, listed.Shares, 1)

	rec = env.do(t, http.MethodDelete, "/api/partial-shares/"+share.Token, "owner", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/partial-share/"+share.Token, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestKeys(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPut, "/api/keys/openai", "u1", map[string]string{"key": rejected})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var failed struct {
		Validation credentials.ValidationResult `json:"validation"`
	}
	decodeBody(t, rec, &failed)
	assert.Equal(t, credentials.ReasonInvalidCredential, failed.Validation.Reason)

	rec = env.do(t, http.MethodPut, "/api/keys/openai", "u1", map[string]string{"key": openAIKey})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var state keysState
	decodeBody(t, rec, &state)
	assert.True(t, state.HasKeys)
	assert.NotEqual(t, openAIKey, state.Providers[catalog.OpenAI])

	rec = env.do(t, http.MethodPut, "/api/keys/mistral", "u1", map[string]string{"key": openAIKey})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// keys are scoped per user
	rec = env.do(t, http.MethodGet, "/api/keys", "u2", nil)
	decodeBody(t, rec, &state)
	assert.False(t, state.HasKeys)

	rec = env.do(t, http.MethodDelete, "/api/keys/openai", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &state)
	assert.False(t, state.HasKeys)
}

func TestModels(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/models?provider=anthropic", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	env.saveKey(t, "u1")
	rec = env.do(t, http.MethodGet, "/api/models/available", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var available struct {
		DefaultModel string `json:"defaultModel"`
	}
	decodeBody(t, rec, &available)
	assert.Equal(t, catalog.DefaultModelKey, available.DefaultModel)
}

func readEvents(body string) []string {
	var names []string
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "event: ") {
			names = append(names, strings.TrimPrefix(line, "event: "))
		}
	}
	return names
}

func TestChat_RequiresKey(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/chat", "u1", map[string]interface{}{
		"chatId":  "c1",
		"message": map[string]string{"content": "hi"},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "api_key_missing:chat", errorCode(t, rec))
}

func TestChat_UnknownModel(t *testing.T) {
	env := newTestEnv(t)
	env.saveKey(t, "u1")

	rec := env.do(t, http.MethodPost, "/api/chat", "u1", map[string]interface{}{
		"chatId":  "c1",
		"model":   "openai:gpt-0",
		"message": map[string]string{"content": "hi"},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "model_not_found:models", errorCode(t, rec))
}

func TestChat_RejectedRequestLeavesNoThread(t *testing.T) {
	env := newTestEnv(t)
	env.saveKey(t, "u1")

	rec := env.do(t, http.MethodPost, "/api/chat", "u1", map[string]interface{}{
		"chatId":  "orphan-1",
		"model":   "openai:gpt-0",
		"message": map[string]string{"content": "hi"},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/chat", "u1", map[string]interface{}{
		"chatId":  "orphan-2",
		"message": map[string]string{"content": ""},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/chat", "u1", map[string]interface{}{
		"chatId": "orphan-3",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/chat", "u1", map[string]interface{}{
		"chatId":  "orphan-4",
		"model":   "anthropic:claude-sonnet-4-0",
		"message": map[string]string{"content": "hi"},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/threads", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []models.Thread
	decodeBody(t, rec, &listed)
	assert.Empty(t, listed)
	assert.Zero(t, env.titles.count())
}

func TestChat_StreamsAndPersists(t *testing.T) {
	env := newTestEnv(t)
	env.saveKey(t, "u1")

	rec := env.do(t, http.MethodPost, "/api/chat", "u1", map[string]interface{}{
		"chatId":     "c1",
		"message":    map[string]string{"id": "m1", "content": "Say hello"},
		"effort":     "high",
		"searchMode": "off",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	streamID := rec.Header().Get("X-Stream-Id")
	require.NotEmpty(t, streamID)
	assert.Equal(t, []string{"start", "text", "text", "finish"}, readEvents(rec.Body.String()))

	// a new thread gets a title job with the first prompt
	assert.Equal(t, 1, env.titles.count())

	env.chat.mu.Lock()
	last := env.chat.last
	env.chat.mu.Unlock()
	assert.Equal(t, catalog.DefaultModelKey, last.Route.Model.Key())
	require.Len(t, last.Messages, 1)
	assert.Equal(t, "Say hello", last.Messages[0].Content)
	assert.Equal(t, 3, last.MaxSteps)

	rec = env.do(t, http.MethodGet, "/api/threads/c1", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var twm models.ThreadWithMessages
	decodeBody(t, rec, &twm)
	require.Len(t, twm.Messages, 2)
	assert.Equal(t, "m1", twm.Messages[0].ID)
	assistant := twm.Messages[1]
	assert.Equal(t, models.RoleAssistant, assistant.Role)
	assert.Equal(t, models.StatusDone, assistant.Status)
	assert.Equal(t, "Hello there", assistant.Content)

	turn := env.turns.last()
	require.NotNil(t, turn)
	assert.Equal(t, "done", turn.Status)
	assert.Equal(t, assistant.ID, turn.MessageID)
	assert.Equal(t, 12, turn.InputTokens)

	rec = env.do(t, http.MethodGet, "/api/chat/c1/streams", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Streams []string `json:"streams"`
	}
	decodeBody(t, rec, &listed)
	assert.Equal(t, []string{streamID}, listed.Streams)

	t.Run("history is replayed on the next turn", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/chat", "u1", map[string]interface{}{
			"chatId":  "c1",
			"message": map[string]string{"content": "Again"},
		})
		require.Equal(t, http.StatusOK, rec.Code)

		env.chat.mu.Lock()
		defer env.chat.mu.Unlock()
		require.Len(t, env.chat.last.Messages, 3)
		assert.Equal(t, "Hello there", env.chat.last.Messages[1].Content)
		assert.Equal(t, 1, env.titles.count())
	})
}

func TestUsage(t *testing.T) {
	env := newTestEnv(t)
	env.saveKey(t, "u1")

	for _, chatID := range []string{"c1", "c2"} {
		rec := env.do(t, http.MethodPost, "/api/chat", "u1", map[string]interface{}{
			"chatId":  chatID,
			"message": map[string]string{"content": "hi"},
		})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/api/usage", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary usage.Summary
	decodeBody(t, rec, &summary)
	assert.Equal(t, int64(2), summary.Requests)
	assert.Equal(t, int64(24), summary.InputTokens)
	assert.Equal(t, int64(4), summary.OutputTokens)
	assert.Equal(t, int64(2), summary.ByProvider[string(catalog.OpenAI)])

	rec = env.do(t, http.MethodGet, "/api/usage", "u2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &summary)
	assert.Zero(t, summary.Requests)

	rec = env.do(t, http.MethodGet, "/api/usage?month=2020-01", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &summary)
	assert.Zero(t, summary.Requests)
	assert.Equal(t, 2020, summary.Year)

	rec = env.do(t, http.MethodGet, "/api/usage?month=last", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChat_UpstreamError(t *testing.T) {
	env := newTestEnv(t)
	env.saveKey(t, "u1")
	env.chat.client = &scriptedClient{err: &providers.UpstreamError{Provider: catalog.OpenAI, Status: http.StatusUnauthorized, Body: "bad key"}}

	rec := env.do(t, http.MethodPost, "/api/chat", "u1", map[string]interface{}{
		"chatId":  "c1",
		"message": map[string]string{"content": "hi"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"start", "error"}, readEvents(rec.Body.String()))
	assert.Contains(t, rec.Body.String(), "unauthorized:chat")

	rec = env.do(t, http.MethodGet, "/api/threads/c1", "u1", nil)
	var twm models.ThreadWithMessages
	decodeBody(t, rec, &twm)
	require.Len(t, twm.Messages, 2)
	assert.Equal(t, models.StatusError, twm.Messages[1].Status)
	require.NotNil(t, twm.Messages[1].ErrorMessage)
}

func TestChat_Stop(t *testing.T) {
	env := newTestEnv(t)
	env.saveKey(t, "u1")
	env.chat.client = &scriptedClient{
		events: []providers.StreamEvent{{Type: providers.EventText, Text: "Partial"}},
		block:  true,
	}

	token := tokenFor(t, "u1")
	done := make(chan *httptest.ResponseRecorder)
	go func() {
		payload, _ := json.Marshal(map[string]interface{}{
			"chatId":  "c1",
			"message": map[string]string{"content": "Tell me a long story"},
		})
		req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader(payload))
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		done <- rec
	}()

	var streamID string
	require.Eventually(t, func() bool {
		ids, err := env.deps.Streams.Streams(context.Background(), "c1")
		if err != nil || len(ids) == 0 {
			return false
		}
		streamID = ids[0]
		return true
	}, 2*time.Second, 10*time.Millisecond)

	// the subscription may trail registration slightly
	require.Eventually(t, func() bool {
		rec := env.do(t, http.MethodPost, "/api/chat/"+streamID+"/stop", "u1", nil)
		var out struct {
			Stopped bool `json:"stopped"`
		}
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
		return out.Stopped
	}, 2*time.Second, 10*time.Millisecond)

	var rec *httptest.ResponseRecorder
	select {
	case rec = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop")
	}
	assert.Contains(t, rec.Body.String(), `"finishReason":"stopped"`)

	rec = env.do(t, http.MethodGet, "/api/threads/c1", "u1", nil)
	var twm models.ThreadWithMessages
	decodeBody(t, rec, &twm)
	require.Len(t, twm.Messages, 2)
	assert.Equal(t, models.StatusStopped, twm.Messages[1].Status)
	assert.Equal(t, "Partial", twm.Messages[1].Content)
}

func TestChat_StreamsAreOwnerOnly(t *testing.T) {
	env := newTestEnv(t)
	env.saveKey(t, "u1")

	for _, chatID := range []string{"c1", "c2"} {
		rec := env.do(t, http.MethodPost, "/api/chat", "u1", map[string]interface{}{
			"chatId":  chatID,
			"message": map[string]string{"content": "hi"},
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	rec := env.do(t, http.MethodPut, "/api/threads/c1/visibility", "u1", map[string]string{"visibility": "public"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	ids, err := env.deps.Streams.Streams(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, ids, 1)
	streamID := ids[0]

	sub, err := env.deps.Streams.Subscribe(context.Background(), streamID)
	require.NoError(t, err)
	defer sub.Close()

	t.Run("public thread", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/chat/c1/streams", "intruder", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		rec = env.do(t, http.MethodPost, "/api/chat/"+streamID+"/stop", "intruder", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		select {
		case <-sub.Done():
			t.Fatal("a non-owner stopped the stream")
		default:
		}
	})

	t.Run("private thread", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/chat/c2/streams", "intruder", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		others, err := env.deps.Streams.Streams(context.Background(), "c2")
		require.NoError(t, err)
		require.Len(t, others, 1)
		rec = env.do(t, http.MethodPost, "/api/chat/"+others[0]+"/stop", "intruder", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("unknown stream", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/chat/no-such-stream/stop", "u1", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "not_found:stream", errorCode(t, rec))
	})

	rec = env.do(t, http.MethodPost, "/api/chat/"+streamID+"/stop", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("owner stop was not delivered")
	}
}

func TestUploadAndServe(t *testing.T) {
	env := newTestEnv(t)
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

	upload := func(name string, content []byte) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile("file", name)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, "/api/attachments", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, "u1"))
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		return rec
	}

	rec := upload("pic.png", png)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var up attachments.Upload
	decodeBody(t, rec, &up)
	assert.Equal(t, "image/png", up.ContentType)

	rec = env.do(t, http.MethodGet, "/files/"+up.Key, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, png, rec.Body.Bytes())

	rec = upload("page.html", []byte("<!DOCTYPE html><html><body>x</body></html>"))
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	assert.Equal(t, "unsupported_file_type:files", errorCode(t, rec))

	rec = upload("big.txt", bytes.Repeat([]byte("a"), 2<<20))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = env.do(t, http.MethodGet, "/files/uploads/nope.png", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSettings(t *testing.T) {
	env := newTestEnv(t)
	env.saveKey(t, "u1")

	rec := env.do(t, http.MethodPut, "/api/settings", "u1", map[string]interface{}{"selectedModel": "anthropic:claude-sonnet-4-0"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/settings", "u1", map[string]interface{}{"selectedModel": "nope:model"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/pinned/t1", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = env.do(t, http.MethodGet, "/api/pinned", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "t1")
}
