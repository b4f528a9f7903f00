package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"llm_chat/internal/catalog"
	"llm_chat/internal/credentials"
	"llm_chat/internal/utils"
)

// OpenAIClient speaks the OpenAI chat completions protocol. It serves both
// OpenAI and the OpenRouter aggregator, which exposes the same API.
type OpenAIClient struct {
	toolLoop
	provider   catalog.Provider
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewOpenAIClient creates a client. baseURL includes the version path,
// e.g. https://api.openai.com/v1 or https://openrouter.ai/api/v1.
func NewOpenAIClient(provider catalog.Provider, baseURL, apiKey string, httpClient *http.Client) *OpenAIClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &OpenAIClient{
		provider:   provider,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
	}
	c.toolLoop = toolLoop{stepper: c, logger: utils.NewLogger(string(provider) + "-client")}
	return c
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    any              `json:"content,omitempty"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAIContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIToolCall struct {
	Index    *int   `json:"index,omitempty"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function"`
}

type openAITool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

type openAIReasoning struct {
	Effort Effort `json:"effort"`
}

type openAIRequest struct {
	Model            string           `json:"model"`
	Messages         []openAIMessage  `json:"messages"`
	Stream           bool             `json:"stream"`
	StreamOptions    map[string]bool  `json:"stream_options,omitempty"`
	Tools            []openAITool     `json:"tools,omitempty"`
	ReasoningEffort  Effort           `json:"reasoning_effort,omitempty"`
	Reasoning        *openAIReasoning `json:"reasoning,omitempty"`
	WebSearchOptions *struct{}        `json:"web_search_options,omitempty"`
}

type openAIReasoningDetail struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content          string                  `json:"content"`
			Reasoning        string                  `json:"reasoning"`
			ReasoningDetails []openAIReasoningDetail `json:"reasoning_details"`
			ToolCalls        []openAIToolCall        `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens            int `json:"prompt_tokens"`
		CompletionTokens        int `json:"completion_tokens"`
		CompletionTokensDetails *struct {
			ReasoningTokens int `json:"reasoning_tokens"`
		} `json:"completion_tokens_details"`
	} `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *OpenAIClient) buildRequest(req ChatRequest, msgs []ChatMessage) openAIRequest {
	body := openAIRequest{
		Model:         req.Route.ModelID,
		Stream:        true,
		StreamOptions: map[string]bool{"include_usage": true},
	}

	if req.System != "" {
		body.Messages = append(body.Messages, openAIMessage{Role: "system", Content: req.System})
	}
	for _, m := range msgs {
		body.Messages = append(body.Messages, toOpenAIMessage(m))
	}

	for _, t := range req.Tools.Sorted() {
		var tool openAITool
		tool.Type = "function"
		tool.Function.Name = t.Name()
		tool.Function.Description = t.Description()
		tool.Function.Parameters = t.Parameters()
		body.Tools = append(body.Tools, tool)
	}

	if c.provider == catalog.OpenAI && req.Options.OpenAI != nil {
		body.ReasoningEffort = req.Options.OpenAI.ReasoningEffort
		if req.Options.OpenAI.WebSearch {
			body.WebSearchOptions = &struct{}{}
		}
	}
	if c.provider == catalog.OpenRouter && req.Effort != "" && req.Route.Model.Capabilities.Has(catalog.CapReasoning) {
		body.Reasoning = &openAIReasoning{Effort: req.Effort}
	}
	return body
}

func toOpenAIMessage(m ChatMessage) openAIMessage {
	switch m.Role {
	case "tool":
		return openAIMessage{Role: "tool", ToolCallID: m.ToolCallID, Content: m.Content}
	case "assistant":
		out := openAIMessage{Role: "assistant", Content: m.Content}
		for _, tc := range m.ToolCalls {
			var call openAIToolCall
			call.ID = tc.ID
			call.Type = "function"
			call.Function.Name = tc.Name
			call.Function.Arguments = string(tc.Arguments)
			out.ToolCalls = append(out.ToolCalls, call)
		}
		return out
	}

	if len(m.Attachments) == 0 {
		return openAIMessage{Role: m.Role, Content: m.Content}
	}
	parts := []openAIContentPart{{Type: "text", Text: withFileReferences(m)}}
	for _, a := range m.Attachments {
		if a.IsImage() {
			parts = append(parts, openAIContentPart{Type: "image_url", ImageURL: &openAIImageURL{URL: a.URL}})
		}
	}
	return openAIMessage{Role: m.Role, Content: parts}
}

// withFileReferences appends non-image attachment URLs to the message text
func withFileReferences(m ChatMessage) string {
	var sb strings.Builder
	sb.WriteString(m.Content)
	for _, a := range m.Attachments {
		if a.IsImage() {
			continue
		}
		fmt.Fprintf(&sb, "\n\n[Attached file (%s): %s]", a.ContentType, a.URL)
	}
	return sb.String()
}

func (c *OpenAIClient) streamStep(ctx context.Context, req ChatRequest, msgs []ChatMessage, emit StreamHandler) (stepResult, error) {
	var res stepResult

	payload, err := json.Marshal(c.buildRequest(req, msgs))
	if err != nil {
		return res, fmt.Errorf("marshal %s request: %w", c.provider, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return res, fmt.Errorf("build %s request: %w", c.provider, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	auth, err := credentials.AuthFor(c.provider, c.apiKey)
	if err != nil {
		return res, err
	}
	if err := auth.Apply(httpReq); err != nil {
		return res, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return res, fmt.Errorf("request %s: %w", c.provider, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(c.provider, resp); err != nil {
		return res, err
	}

	var text strings.Builder
	calls := make(map[int]*ToolCall)
	reader := newSSEReader(resp.Body)
	for {
		data, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, err
		}

		var chunk openAIStreamChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			continue
		}
		if chunk.Error != nil && strings.TrimSpace(chunk.Error.Message) != "" {
			return res, &UpstreamError{Provider: c.provider, Status: http.StatusBadGateway, Body: strings.TrimSpace(chunk.Error.Message)}
		}
		if chunk.Usage != nil {
			res.Usage.InputTokens = chunk.Usage.PromptTokens
			res.Usage.OutputTokens = chunk.Usage.CompletionTokens
			if chunk.Usage.CompletionTokensDetails != nil {
				res.Usage.ReasoningTokens = chunk.Usage.CompletionTokensDetails.ReasoningTokens
			}
		}

		for _, choice := range chunk.Choices {
			reasoning := choice.Delta.Reasoning
			if reasoning == "" {
				for _, d := range choice.Delta.ReasoningDetails {
					if d.Type == "reasoning.text" {
						reasoning += d.Text
					}
				}
			}
			if reasoning != "" {
				if err := emit(StreamEvent{Type: EventReasoning, Text: reasoning}); err != nil {
					return res, err
				}
			}

			if delta := choice.Delta.Content; delta != "" {
				text.WriteString(delta)
				if err := emit(StreamEvent{Type: EventText, Text: delta}); err != nil {
					return res, err
				}
			}

			for i, tc := range choice.Delta.ToolCalls {
				idx := i
				if tc.Index != nil {
					idx = *tc.Index
				}
				acc, ok := calls[idx]
				if !ok {
					acc = &ToolCall{}
					calls[idx] = acc
				}
				if tc.ID != "" {
					acc.ID = tc.ID
				}
				if tc.Function.Name != "" {
					acc.Name = tc.Function.Name
				}
				acc.Arguments = append(acc.Arguments, tc.Function.Arguments...)
			}

			if choice.FinishReason != nil {
				res.FinishReason = *choice.FinishReason
			}
		}
	}

	res.Text = text.String()
	res.ToolCalls = orderedCalls(calls)
	return res, nil
}

// orderedCalls returns accumulated tool calls by stream index. Empty
// argument strings become an empty JSON object.
func orderedCalls(calls map[int]*ToolCall) []ToolCall {
	if len(calls) == 0 {
		return nil
	}
	idx := make([]int, 0, len(calls))
	for i := range calls {
		idx = append(idx, i)
	}
	sort.Ints(idx)

	out := make([]ToolCall, 0, len(calls))
	for _, i := range idx {
		tc := *calls[i]
		if len(bytes.TrimSpace(tc.Arguments)) == 0 {
			tc.Arguments = json.RawMessage("{}")
		}
		out = append(out, tc)
	}
	return out
}
