package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"llm_chat/internal/catalog"
	"llm_chat/internal/credentials"
	"llm_chat/internal/utils"
)

const anthropicDefaultMaxTokens = 4096

// AnthropicClient streams from the Anthropic Messages API
type AnthropicClient struct {
	toolLoop
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewAnthropicClient(baseURL, apiKey string, httpClient *http.Client) *AnthropicClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &AnthropicClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
	}
	c.toolLoop = toolLoop{stepper: c, logger: utils.NewLogger("anthropic-client")}
	return c
}

type anthropicBlock struct {
	Type      string           `json:"type"`
	Text      string           `json:"text,omitempty"`
	Thinking  string           `json:"thinking,omitempty"`
	Signature string           `json:"signature,omitempty"`
	Source    *anthropicSource `json:"source,omitempty"`
	ID        string           `json:"id,omitempty"`
	Name      string           `json:"name,omitempty"`
	Input     json.RawMessage  `json:"input,omitempty"`
	ToolUseID string           `json:"tool_use_id,omitempty"`
	Content   string           `json:"content,omitempty"`
}

type anthropicSource struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Stream    bool               `json:"stream"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
	Thinking  *anthropicThinking `json:"thinking,omitempty"`
}

type anthropicEvent struct {
	Type    string `json:"type"`
	Index   int    `json:"index"`
	Message *struct {
		Usage struct {
			InputTokens int `json:"input_tokens"`
		} `json:"usage"`
	} `json:"message,omitempty"`
	ContentBlock *anthropicBlock `json:"content_block,omitempty"`
	Delta        *struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		Thinking    string `json:"thinking"`
		Signature   string `json:"signature"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta,omitempty"`
	Usage *struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *AnthropicClient) buildRequest(req ChatRequest, msgs []ChatMessage) anthropicRequest {
	maxTokens := req.Route.Model.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}
	body := anthropicRequest{
		Model:     req.Route.ModelID,
		MaxTokens: maxTokens,
		System:    req.System,
		Stream:    true,
	}

	for _, m := range msgs {
		if m.Role == "system" {
			body.System = strings.TrimSpace(body.System + "\n\n" + m.Content)
			continue
		}
		role, blocks := toAnthropicBlocks(m)
		// consecutive turns of one role are merged; tool results follow as user content
		if n := len(body.Messages); n > 0 && body.Messages[n-1].Role == role {
			body.Messages[n-1].Content = append(body.Messages[n-1].Content, blocks...)
			continue
		}
		body.Messages = append(body.Messages, anthropicMessage{Role: role, Content: blocks})
	}

	for _, t := range req.Tools.Sorted() {
		body.Tools = append(body.Tools, anthropicTool{Name: t.Name(), Description: t.Description(), InputSchema: t.Parameters()})
	}

	if opts := req.Options.Anthropic; opts != nil && opts.Thinking != nil && opts.Thinking.BudgetTokens > 0 {
		body.Thinking = &anthropicThinking{Type: opts.Thinking.Type, BudgetTokens: opts.Thinking.BudgetTokens}
	}
	return body
}

func toAnthropicBlocks(m ChatMessage) (string, []anthropicBlock) {
	switch m.Role {
	case "tool":
		return "user", []anthropicBlock{{Type: "tool_result", ToolUseID: m.ToolCallID, Content: m.Content}}
	case "assistant":
		var blocks []anthropicBlock
		if m.Reasoning != "" && m.Signature != "" {
			blocks = append(blocks, anthropicBlock{Type: "thinking", Thinking: m.Reasoning, Signature: m.Signature})
		}
		if m.Content != "" {
			blocks = append(blocks, anthropicBlock{Type: "text", Text: m.Content})
		}
		for _, tc := range m.ToolCalls {
			blocks = append(blocks, anthropicBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: tc.Arguments})
		}
		if len(blocks) == 0 {
			blocks = append(blocks, anthropicBlock{Type: "text", Text: " "})
		}
		return "assistant", blocks
	}

	blocks := []anthropicBlock{{Type: "text", Text: withFileReferences(m)}}
	for _, a := range m.Attachments {
		if a.IsImage() {
			blocks = append(blocks, anthropicBlock{Type: "image", Source: &anthropicSource{Type: "url", URL: a.URL}})
		}
	}
	return "user", blocks
}

func (c *AnthropicClient) streamStep(ctx context.Context, req ChatRequest, msgs []ChatMessage, emit StreamHandler) (stepResult, error) {
	var res stepResult

	payload, err := json.Marshal(c.buildRequest(req, msgs))
	if err != nil {
		return res, fmt.Errorf("marshal anthropic request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return res, fmt.Errorf("build anthropic request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	auth, err := credentials.AuthFor(catalog.Anthropic, c.apiKey)
	if err != nil {
		return res, err
	}
	if err := auth.Apply(httpReq); err != nil {
		return res, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return res, fmt.Errorf("request anthropic: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(catalog.Anthropic, resp); err != nil {
		return res, err
	}

	var text, reasoning strings.Builder
	blocks := make(map[int]*ToolCall)
	var order []int

	reader := newSSEReader(resp.Body)
	for {
		data, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, err
		}

		var ev anthropicEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}

		switch ev.Type {
		case "message_start":
			if ev.Message != nil {
				res.Usage.InputTokens = ev.Message.Usage.InputTokens
			}
		case "content_block_start":
			if ev.ContentBlock != nil && ev.ContentBlock.Type == "tool_use" {
				blocks[ev.Index] = &ToolCall{ID: ev.ContentBlock.ID, Name: ev.ContentBlock.Name}
				order = append(order, ev.Index)
			}
		case "content_block_delta":
			if ev.Delta == nil {
				continue
			}
			switch ev.Delta.Type {
			case "text_delta":
				text.WriteString(ev.Delta.Text)
				if err := emit(StreamEvent{Type: EventText, Text: ev.Delta.Text}); err != nil {
					return res, err
				}
			case "thinking_delta":
				reasoning.WriteString(ev.Delta.Thinking)
				if err := emit(StreamEvent{Type: EventReasoning, Text: ev.Delta.Thinking}); err != nil {
					return res, err
				}
			case "signature_delta":
				res.Signature += ev.Delta.Signature
			case "input_json_delta":
				if tc, ok := blocks[ev.Index]; ok {
					tc.Arguments = append(tc.Arguments, ev.Delta.PartialJSON...)
				}
			}
		case "message_delta":
			if ev.Delta != nil && ev.Delta.StopReason != "" {
				res.FinishReason = ev.Delta.StopReason
			}
			if ev.Usage != nil {
				res.Usage.OutputTokens = ev.Usage.OutputTokens
			}
		case "error":
			msg := "stream error"
			if ev.Error != nil {
				msg = ev.Error.Message
			}
			return res, &UpstreamError{Provider: catalog.Anthropic, Status: http.StatusBadGateway, Body: msg}
		}
	}

	res.Text = text.String()
	res.Reasoning = reasoning.String()
	for _, i := range order {
		tc := *blocks[i]
		if len(bytes.TrimSpace(tc.Arguments)) == 0 {
			tc.Arguments = json.RawMessage("{}")
		}
		res.ToolCalls = append(res.ToolCalls, tc)
	}
	return res, nil
}
