package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm_chat/internal/catalog"
	"llm_chat/internal/config"
	"llm_chat/internal/models"
	"llm_chat/internal/search"
)

// sseServer replies to the n-th request with the n-th script and records bodies
type sseServer struct {
	mu      sync.Mutex
	scripts [][]string
	bodies  []map[string]any
	paths   []string
	headers []http.Header
}

func (s *sseServer) handler(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(raw, &body)

	s.mu.Lock()
	n := len(s.bodies)
	s.bodies = append(s.bodies, body)
	s.paths = append(s.paths, r.URL.String())
	s.headers = append(s.headers, r.Header.Clone())
	s.mu.Unlock()

	w.Header().Set("Content-Type", "text/event-stream")
	if n >= len(s.scripts) {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	for _, line := range s.scripts[n] {
		fmt.Fprintf(w, "data: %s\n\n", line)
	}
}

func collect(events *[]StreamEvent) StreamHandler {
	return func(ev StreamEvent) error {
		*events = append(*events, ev)
		return nil
	}
}

func TestOpenAIClient_StreamsTextAndReasoning(t *testing.T) {
	s := &sseServer{scripts: [][]string{{
		`{"choices":[{"delta":{"reasoning":"thinking..."}}]}`,
		`{"choices":[{"delta":{"content":"Hel"}}]}`,
		`{"choices":[{"delta":{"content":"lo"},"finish_reason":"stop"}]}`,
		`{"choices":[],"usage":{"prompt_tokens":12,"completion_tokens":3}}`,
		`[DONE]`,
	}}}
	srv := httptest.NewServer(http.HandlerFunc(s.handler))
	defer srv.Close()

	client := NewOpenAIClient(catalog.OpenRouter, srv.URL+"/api/v1", testOpenRouterKey, srv.Client())
	r := route(t, "openrouter:deepseek/deepseek-r1", false)
	r.APIKey = testOpenRouterKey

	var events []StreamEvent
	res, err := client.StreamChat(context.Background(), ChatRequest{
		Route:    r,
		System:   "be brief",
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
		Effort:   EffortHigh,
	}, collect(&events))
	require.NoError(t, err)

	assert.Equal(t, "Hello", res.Text())
	assert.Equal(t, "stop", res.FinishReason)
	assert.Equal(t, 12, res.Usage.InputTokens)
	require.Len(t, res.Parts, 2)
	assert.Equal(t, models.PartReasoning, res.Parts[0].Type)
	assert.Len(t, events, 3)

	require.Len(t, s.bodies, 1)
	assert.Equal(t, "/api/v1/chat/completions", s.paths[0])
	assert.Equal(t, "Bearer "+testOpenRouterKey, s.headers[0].Get("Authorization"))
	assert.Equal(t, "deepseek/deepseek-r1", s.bodies[0]["model"])
	assert.Equal(t, map[string]any{"effort": "high"}, s.bodies[0]["reasoning"], "aggregator receives its own effort field")
	assert.Nil(t, s.bodies[0]["reasoning_effort"])
	msgs := s.bodies[0]["messages"].([]any)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
}

func TestOpenAIClient_ToolLoop(t *testing.T) {
	s := &sseServer{scripts: [][]string{
		{
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"web_search","arguments":""}}]}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"query\":"}}]}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"go 1.24\"}"}}]},"finish_reason":"tool_calls"}]}`,
			`[DONE]`,
		},
		{
			`{"choices":[{"delta":{"content":"Go 1.24 is out."},"finish_reason":"stop"}]}`,
			`[DONE]`,
		},
	}}
	srv := httptest.NewServer(http.HandlerFunc(s.handler))
	defer srv.Close()

	searcher := &fakeSearcher{enabled: true, results: []search.Result{{URL: "https://go.dev/doc/go1.24", Title: "Go 1.24"}}}
	tools := NewToolFactory(searcher, nil, "", nil).CreateToolsConfig("openai:gpt-4.1", SearchModeTool, "u1", nil)
	require.False(t, tools.Empty())

	client := NewOpenAIClient(catalog.OpenAI, srv.URL+"/v1", testOpenAIKey, srv.Client())
	var events []StreamEvent
	res, err := client.StreamChat(context.Background(), ChatRequest{
		Route:    route(t, "openai:gpt-4.1", false),
		Messages: []ChatMessage{{Role: "user", Content: "what's new in go?"}},
		Tools:    tools,
	}, collect(&events))
	require.NoError(t, err)

	assert.Equal(t, 2, res.Steps)
	assert.Equal(t, []string{"go 1.24"}, searcher.queries)
	assert.Equal(t, "Go 1.24 is out.", res.Text())

	require.Len(t, res.Parts, 3)
	assert.Equal(t, models.PartToolInvocation, res.Parts[0].Type)
	assert.Equal(t, models.ToolStateResult, res.Parts[0].ToolInvocation.State)
	assert.Equal(t, models.PartSource, res.Parts[1].Type)
	assert.Equal(t, models.PartText, res.Parts[2].Type)

	require.Len(t, s.bodies, 2)
	tl := s.bodies[0]["tools"].([]any)
	assert.Equal(t, "web_search", tl[0].(map[string]any)["function"].(map[string]any)["name"])

	second := s.bodies[1]["messages"].([]any)
	require.Len(t, second, 3)
	assistant := second[1].(map[string]any)
	assert.Equal(t, "assistant", assistant["role"])
	assert.NotEmpty(t, assistant["tool_calls"])
	toolMsg := second[2].(map[string]any)
	assert.Equal(t, "tool", toolMsg["role"])
	assert.Equal(t, "call_1", toolMsg["tool_call_id"])
	assert.Contains(t, toolMsg["content"], "go.dev")
}

func TestOpenAIClient_MaxSteps(t *testing.T) {
	loop := `{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"c","function":{"name":"web_search","arguments":"{\"query\":\"x\"}"}}]},"finish_reason":"tool_calls"}]}`
	s := &sseServer{scripts: [][]string{{loop}, {loop}, {loop}}}
	srv := httptest.NewServer(http.HandlerFunc(s.handler))
	defer srv.Close()

	tools := NewToolFactory(&fakeSearcher{enabled: true}, nil, "", nil).CreateToolsConfig("openai:gpt-4.1", SearchModeTool, "u", nil)
	client := NewOpenAIClient(catalog.OpenAI, srv.URL, testOpenAIKey, srv.Client())
	res, err := client.StreamChat(context.Background(), ChatRequest{
		Route:    route(t, "openai:gpt-4.1", false),
		Messages: []ChatMessage{{Role: "user", Content: "loop"}},
		Tools:    tools,
		MaxSteps: 2,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Steps)
	assert.Len(t, s.bodies, 2)
}

func TestOpenAIClient_NativeOptions(t *testing.T) {
	s := &sseServer{scripts: [][]string{{`{"choices":[{"delta":{"content":"ok"}}]}`}}}
	srv := httptest.NewServer(http.HandlerFunc(s.handler))
	defer srv.Close()

	client := NewOpenAIClient(catalog.OpenAI, srv.URL, testOpenAIKey, srv.Client())
	r := route(t, "openai:o4-mini", false)
	_, err := client.StreamChat(context.Background(), ChatRequest{
		Route: r,
		Messages: []ChatMessage{{Role: "user", Content: "see", Attachments: []Attachment{
			{URL: "https://cdn.example/a.png", ContentType: "image/png"},
			{URL: "https://cdn.example/b.pdf", ContentType: "application/pdf"},
		}}},
		Options: CreateProviderOptions(r, EffortLow),
		Effort:  EffortLow,
	}, nil)
	require.NoError(t, err)

	body := s.bodies[0]
	assert.Equal(t, "low", body["reasoning_effort"])
	assert.Nil(t, body["reasoning"])
	content := body["messages"].([]any)[0].(map[string]any)["content"].([]any)
	require.Len(t, content, 2)
	assert.Contains(t, content[0].(map[string]any)["text"], "b.pdf")
	assert.Equal(t, "image_url", content[1].(map[string]any)["type"])
}

func TestOpenAIClient_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"rate limited"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewOpenAIClient(catalog.OpenAI, srv.URL, testOpenAIKey, srv.Client())
	_, err := client.StreamChat(context.Background(), ChatRequest{
		Route:    route(t, "openai:gpt-4.1", false),
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	}, nil)

	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, http.StatusTooManyRequests, upstream.Status)
	assert.Contains(t, upstream.Body, "rate limited")
}

func TestStreamChat_HandlerErrorAborts(t *testing.T) {
	s := &sseServer{scripts: [][]string{{
		`{"choices":[{"delta":{"content":"a"}}]}`,
		`{"choices":[{"delta":{"content":"b"}}]}`,
	}}}
	srv := httptest.NewServer(http.HandlerFunc(s.handler))
	defer srv.Close()

	stop := errors.New("stop")
	client := NewOpenAIClient(catalog.OpenAI, srv.URL, testOpenAIKey, srv.Client())
	res, err := client.StreamChat(context.Background(), ChatRequest{
		Route:    route(t, "openai:gpt-4.1", false),
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	}, func(ev StreamEvent) error { return stop })

	assert.ErrorIs(t, err, stop)
	assert.Equal(t, "a", res.Text(), "partial output is kept")
}

func TestAnthropicClient_ThinkingAndTools(t *testing.T) {
	s := &sseServer{scripts: [][]string{
		{
			`{"type":"message_start","message":{"usage":{"input_tokens":20}}}`,
			`{"type":"content_block_start","index":0,"content_block":{"type":"thinking"}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"need search"}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"signature_delta","signature":"sig"}}`,
			`{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"web_search"}}`,
			`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"query\":\"x\"}"}}`,
			`{"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":5}}`,
			`{"type":"message_stop"}`,
		},
		{
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Answer"}}`,
			`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":2}}`,
		},
	}}
	srv := httptest.NewServer(http.HandlerFunc(s.handler))
	defer srv.Close()

	r := route(t, "anthropic:claude-sonnet-4-0", false)
	tools := NewToolFactory(&fakeSearcher{enabled: true}, nil, "", nil).CreateToolsConfig(r.Model.Key(), SearchModeTool, "u", nil)
	client := NewAnthropicClient(srv.URL, "sk-ant-"+strings.Repeat("a", 40), srv.Client())

	res, err := client.StreamChat(context.Background(), ChatRequest{
		Route:    r,
		System:   "sys",
		Messages: []ChatMessage{{Role: "user", Content: "q"}},
		Options:  CreateProviderOptions(r, EffortLow),
		Tools:    tools,
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "Answer", res.Text())
	assert.Equal(t, "end_turn", res.FinishReason)
	assert.Equal(t, 20, res.Usage.InputTokens)
	assert.Equal(t, 7, res.Usage.OutputTokens)

	require.Len(t, s.bodies, 2)
	assert.Equal(t, "/v1/messages", s.paths[0])
	assert.Equal(t, "2023-06-01", s.headers[0].Get("anthropic-version"))
	thinking := s.bodies[0]["thinking"].(map[string]any)
	assert.Equal(t, float64(ThinkingBudget(r.Model, EffortLow)), thinking["budget_tokens"])
	assert.Equal(t, "sys", s.bodies[0]["system"])

	second := s.bodies[1]["messages"].([]any)
	require.Len(t, second, 3)
	assistant := second[1].(map[string]any)["content"].([]any)
	assert.Equal(t, "thinking", assistant[0].(map[string]any)["type"])
	assert.Equal(t, "sig", assistant[0].(map[string]any)["signature"])
	assert.Equal(t, "tool_use", assistant[1].(map[string]any)["type"])
	result := second[2].(map[string]any)
	assert.Equal(t, "user", result["role"])
	assert.Equal(t, "tool_result", result["content"].([]any)[0].(map[string]any)["type"])
}

func TestGoogleClient_GroundingAndThoughts(t *testing.T) {
	s := &sseServer{scripts: [][]string{{
		`{"candidates":[{"content":{"role":"model","parts":[{"text":"hmm","thought":true}]}}]}`,
		`{"candidates":[{"content":{"role":"model","parts":[{"text":"Result"}]},"finishReason":"STOP","groundingMetadata":{"groundingChunks":[{"web":{"uri":"https://example.com","title":"Ex"}}]}}],"usageMetadata":{"promptTokenCount":4,"candidatesTokenCount":1,"thoughtsTokenCount":2}}`,
	}}}
	srv := httptest.NewServer(http.HandlerFunc(s.handler))
	defer srv.Close()

	googleKey := "AIza" + strings.Repeat("g", 35)
	r := route(t, "google:gemini-2.5-flash", false)
	opts := ApplySearchMode(CreateProviderOptions(r, EffortMedium), r, SearchModeNative)

	client := NewGoogleClient(srv.URL, googleKey, srv.Client())
	res, err := client.StreamChat(context.Background(), ChatRequest{
		Route:    r,
		Messages: []ChatMessage{{Role: "user", Content: "news"}},
		Options:  opts,
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "Result", res.Text())
	assert.Equal(t, 2, res.Usage.ReasoningTokens)
	require.Len(t, res.Parts, 3)
	assert.Equal(t, models.PartReasoning, res.Parts[0].Type)
	assert.Equal(t, "https://example.com", res.Parts[2].Source.URL)

	assert.Contains(t, s.paths[0], "/v1beta/models/gemini-2.5-flash:streamGenerateContent")
	assert.Contains(t, s.paths[0], "alt=sse")
	assert.Contains(t, s.paths[0], "key="+googleKey)
	tools := s.bodies[0]["tools"].([]any)
	assert.Contains(t, tools[0].(map[string]any), "googleSearch")
	gen := s.bodies[0]["generationConfig"].(map[string]any)
	assert.Equal(t, true, gen["thinkingConfig"].(map[string]any)["includeThoughts"])
}

func TestFactory_ClientFor(t *testing.T) {
	f := NewFactory(config.ProvidersConfig{
		OpenAIBaseURL:     "https://api.openai.com",
		AnthropicBaseURL:  "https://api.anthropic.com",
		GoogleBaseURL:     "https://generativelanguage.googleapis.com",
		OpenRouterBaseURL: "https://openrouter.ai",
		MaxToolSteps:      3,
	}, nil)

	for _, p := range []catalog.Provider{catalog.OpenAI, catalog.OpenRouter, catalog.Anthropic, catalog.Google} {
		c, err := f.ClientFor(routingRoute(p))
		require.NoError(t, err, p)
		assert.NotNil(t, c)
	}

	_, err := f.ClientFor(routingRoute(catalog.Meta))
	assert.ErrorIs(t, err, ErrUnsupportedProvider)
	assert.Equal(t, 3, f.MaxSteps())

	oc, err := f.ClientFor(routingRoute(catalog.OpenRouter))
	require.NoError(t, err)
	assert.Equal(t, "https://openrouter.ai/api/v1", oc.(*OpenAIClient).baseURL)
}
