package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"llm_chat/internal/catalog"
	"llm_chat/internal/config"
	"llm_chat/internal/models"
	"llm_chat/internal/routing"
	"llm_chat/internal/utils"
)

const defaultMaxSteps = 5

// ErrUnsupportedProvider is returned when no client exists for a route
var ErrUnsupportedProvider = errors.New("no chat client for provider")

// UpstreamError is a non-2xx answer from a provider API
type UpstreamError struct {
	Provider catalog.Provider
	Status   int
	Body     string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.Provider, e.Status, e.Body)
}

// StatusCode implements utils.StatusCoder
func (e *UpstreamError) StatusCode() int {
	return e.Status
}

// Attachment is a file referenced by a user message
type Attachment struct {
	URL         string
	ContentType string
}

// IsImage reports whether the attachment can be sent as image input
func (a Attachment) IsImage() bool {
	return strings.HasPrefix(a.ContentType, "image/")
}

// ToolCall is a tool call requested by the model
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ChatMessage is one conversation turn in provider-neutral form.
// Role is system, user, assistant or tool.
type ChatMessage struct {
	Role        string
	Content     string
	Attachments []Attachment
	ToolCalls   []ToolCall // assistant turns that requested tools
	Reasoning   string     // assistant turns; replayed to providers that require it
	Signature   string     // signature of the reasoning block, when the provider issues one
	ToolCallID  string     // tool turns
	ToolName    string     // tool turns
}

// ChatRequest is a resolved request for one assistant turn
type ChatRequest struct {
	Route    routing.Route
	System   string
	Messages []ChatMessage
	Options  ProviderOptions
	Effort   Effort // forwarded to the aggregator, which maps it itself
	Tools    ToolsConfig
	MaxSteps int
}

// EventType discriminates stream events
type EventType string

const (
	EventText       EventType = "text"
	EventReasoning  EventType = "reasoning"
	EventToolCall   EventType = "tool-call"
	EventToolResult EventType = "tool-result"
	EventSource     EventType = "source"
)

// StreamEvent is one incremental piece of the assistant turn
type StreamEvent struct {
	Type EventType              `json:"type"`
	Text string                 `json:"text,omitempty"`
	Tool *models.ToolInvocation `json:"toolInvocation,omitempty"`
	Src  *models.Source         `json:"source,omitempty"`
}

// StreamHandler receives events in order; returning an error aborts the stream
type StreamHandler func(StreamEvent) error

// Usage is token accounting reported by the provider
type Usage struct {
	InputTokens     int `json:"inputTokens"`
	OutputTokens    int `json:"outputTokens"`
	ReasoningTokens int `json:"reasoningTokens,omitempty"`
}

func (u *Usage) add(o Usage) {
	u.InputTokens += o.InputTokens
	u.OutputTokens += o.OutputTokens
	u.ReasoningTokens += o.ReasoningTokens
}

// Result is the completed assistant turn
type Result struct {
	Parts        models.MessageParts
	Usage        Usage
	FinishReason string
	Steps        int
}

// Text returns the concatenated text parts
func (r *Result) Text() string {
	m := models.Message{Parts: r.Parts}
	return m.Text()
}

// ChatClient streams one assistant turn, running requested tools in between
// model steps.
type ChatClient interface {
	StreamChat(ctx context.Context, req ChatRequest, handler StreamHandler) (*Result, error)
}

// stepResult is the outcome of one model call
type stepResult struct {
	Text         string
	Reasoning    string
	Signature    string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        Usage
}

// stepper performs a single streamed model call over msgs
type stepper interface {
	streamStep(ctx context.Context, req ChatRequest, msgs []ChatMessage, emit StreamHandler) (stepResult, error)
}

// toolLoop drives a stepper: after every step that requests tools, the tools
// run and their results are appended before the next step. The loop ends on a
// step without tool calls or after MaxSteps steps.
type toolLoop struct {
	stepper stepper
	logger  *utils.Logger
}

func (l toolLoop) StreamChat(ctx context.Context, req ChatRequest, handler StreamHandler) (*Result, error) {
	maxSteps := req.MaxSteps
	if maxSteps <= 0 {
		maxSteps = defaultMaxSteps
	}

	result := &Result{}
	emit := func(ev StreamEvent) error {
		switch ev.Type {
		case EventText:
			result.Parts = result.Parts.AppendText(ev.Text)
		case EventReasoning:
			result.Parts = result.Parts.AppendReasoning(ev.Text)
		case EventToolCall, EventToolResult:
			result.Parts = result.Parts.UpsertTool(*ev.Tool)
		case EventSource:
			result.Parts = result.Parts.AppendSource(*ev.Src)
		}
		if handler == nil {
			return nil
		}
		return handler(ev)
	}

	msgs := append([]ChatMessage(nil), req.Messages...)
	for step := 1; step <= maxSteps; step++ {
		res, err := l.stepper.streamStep(ctx, req, msgs, emit)
		result.Steps = step
		result.Usage.add(res.Usage)
		result.FinishReason = res.FinishReason
		if err != nil {
			return result, err
		}
		if len(res.ToolCalls) == 0 || req.Tools.Empty() {
			return result, nil
		}

		msgs = append(msgs, ChatMessage{
			Role:      "assistant",
			Content:   res.Text,
			ToolCalls: res.ToolCalls,
			Reasoning: res.Reasoning,
			Signature: res.Signature,
		})
		for _, call := range res.ToolCalls {
			output, err := l.runTool(ctx, req.Tools, call, emit)
			if err != nil {
				return result, err
			}
			msgs = append(msgs, ChatMessage{Role: "tool", ToolCallID: call.ID, ToolName: call.Name, Content: output})
		}
	}

	l.logger.Warn("Tool loop stopped at step limit", "steps", maxSteps, "model", req.Route.Model.Key())
	return result, nil
}

// runTool executes call and returns the JSON text handed back to the model.
// Tool failures are reported to the model rather than aborting the turn.
func (l toolLoop) runTool(ctx context.Context, tools ToolsConfig, call ToolCall, emit StreamHandler) (string, error) {
	inv := models.ToolInvocation{ToolCallID: call.ID, ToolName: call.Name, Args: call.Arguments, State: models.ToolStateCall}
	if err := emit(StreamEvent{Type: EventToolCall, Tool: &inv}); err != nil {
		return "", err
	}

	var payload any
	tool, ok := tools.Lookup(call.Name)
	if !ok {
		payload = map[string]string{"error": "unknown tool " + call.Name}
	} else {
		start := time.Now()
		out, err := tool.Execute(ctx, call.Arguments)
		switch {
		case err != nil && ctx.Err() != nil:
			return "", ctx.Err()
		case err != nil:
			l.logger.Warn("Tool failed", "tool", call.Name, "error", err)
			payload = map[string]string{"error": err.Error()}
		default:
			l.logger.Debug("Tool finished", "tool", call.Name, "duration", time.Since(start))
			payload = out.Result
			for i := range out.Sources {
				if err := emit(StreamEvent{Type: EventSource, Src: &out.Sources[i]}); err != nil {
					return "", err
				}
			}
		}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s result: %w", call.Name, err)
	}
	inv.Result = raw
	inv.State = models.ToolStateResult
	if err := emit(StreamEvent{Type: EventToolResult, Tool: &inv}); err != nil {
		return "", err
	}
	return string(raw), nil
}

// Factory creates chat clients for resolved routes
type Factory struct {
	cfg        config.ProvidersConfig
	httpClient *http.Client
}

// NewFactory creates a client factory. A nil httpClient uses a client tuned
// for long-lived streams.
func NewFactory(cfg config.ProvidersConfig, httpClient *http.Client) *Factory {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &Factory{cfg: cfg, httpClient: httpClient}
}

// ClientFor returns the client that serves route.Provider
func (f *Factory) ClientFor(route routing.Route) (ChatClient, error) {
	switch route.Provider {
	case catalog.OpenAI:
		return NewOpenAIClient(catalog.OpenAI, f.cfg.OpenAIBaseURL+"/v1", route.APIKey, f.httpClient), nil
	case catalog.OpenRouter:
		return NewOpenAIClient(catalog.OpenRouter, f.cfg.OpenRouterBaseURL+"/api/v1", route.APIKey, f.httpClient), nil
	case catalog.Anthropic:
		return NewAnthropicClient(f.cfg.AnthropicBaseURL, route.APIKey, f.httpClient), nil
	case catalog.Google:
		return NewGoogleClient(f.cfg.GoogleBaseURL, route.APIKey, f.httpClient), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, route.Provider)
}

// MaxSteps is the configured tool loop bound
func (f *Factory) MaxSteps() int {
	return f.cfg.MaxToolSteps
}
