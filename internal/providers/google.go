package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"llm_chat/internal/catalog"
	"llm_chat/internal/credentials"
	"llm_chat/internal/models"
	"llm_chat/internal/utils"
)

// GoogleClient streams from the Gemini generateContent API
type GoogleClient struct {
	toolLoop
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewGoogleClient(baseURL, apiKey string, httpClient *http.Client) *GoogleClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &GoogleClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
	}
	c.toolLoop = toolLoop{stepper: c, logger: utils.NewLogger("google-client")}
	return c
}

type geminiFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type geminiFunctionResponse struct {
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response"`
}

type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	Thought          bool                    `json:"thought,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiFunctionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFunctionDeclaration `json:"functionDeclarations,omitempty"`
	GoogleSearch         *struct{}                   `json:"googleSearch,omitempty"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int                   `json:"maxOutputTokens,omitempty"`
	ThinkingConfig  *GoogleThinkingConfig `json:"thinkingConfig,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	Tools             []geminiTool            `json:"tools,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiChunk struct {
	Candidates []struct {
		Content           geminiContent `json:"content"`
		FinishReason      string        `json:"finishReason"`
		GroundingMetadata *struct {
			GroundingChunks []struct {
				Web *struct {
					URI   string `json:"uri"`
					Title string `json:"title"`
				} `json:"web"`
			} `json:"groundingChunks"`
		} `json:"groundingMetadata"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		ThoughtsTokenCount   int `json:"thoughtsTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *GoogleClient) buildRequest(req ChatRequest, msgs []ChatMessage) geminiRequest {
	var body geminiRequest
	system := req.System

	for _, m := range msgs {
		if m.Role == "system" {
			system = strings.TrimSpace(system + "\n\n" + m.Content)
			continue
		}
		content := toGeminiContent(m)
		if n := len(body.Contents); n > 0 && body.Contents[n-1].Role == content.Role {
			body.Contents[n-1].Parts = append(body.Contents[n-1].Parts, content.Parts...)
			continue
		}
		body.Contents = append(body.Contents, content)
	}
	if system != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: system}}}
	}

	if !req.Tools.Empty() {
		var decls []geminiFunctionDeclaration
		for _, t := range req.Tools.Sorted() {
			decls = append(decls, geminiFunctionDeclaration{Name: t.Name(), Description: t.Description(), Parameters: t.Parameters()})
		}
		body.Tools = append(body.Tools, geminiTool{FunctionDeclarations: decls})
	}

	gen := &geminiGenerationConfig{MaxOutputTokens: req.Route.Model.MaxOutputTokens}
	if opts := req.Options.Google; opts != nil {
		if opts.UseSearchGrounding {
			body.Tools = append(body.Tools, geminiTool{GoogleSearch: &struct{}{}})
		}
		gen.ThinkingConfig = opts.ThinkingConfig
	}
	body.GenerationConfig = gen
	return body
}

func toGeminiContent(m ChatMessage) geminiContent {
	switch m.Role {
	case "tool":
		response := json.RawMessage(m.Content)
		if !json.Valid(response) {
			response, _ = json.Marshal(m.Content)
		}
		wrapped, _ := json.Marshal(map[string]json.RawMessage{"content": response})
		return geminiContent{Role: "user", Parts: []geminiPart{{
			FunctionResponse: &geminiFunctionResponse{Name: m.ToolName, Response: wrapped},
		}}}
	case "assistant":
		var parts []geminiPart
		if m.Content != "" {
			parts = append(parts, geminiPart{Text: m.Content})
		}
		for _, tc := range m.ToolCalls {
			parts = append(parts, geminiPart{FunctionCall: &geminiFunctionCall{Name: tc.Name, Args: tc.Arguments}})
		}
		if len(parts) == 0 {
			parts = append(parts, geminiPart{Text: " "})
		}
		return geminiContent{Role: "model", Parts: parts}
	}

	text := m.Content
	if len(m.Attachments) > 0 {
		text = withFileReferences(m)
		for _, a := range m.Attachments {
			if a.IsImage() {
				text += fmt.Sprintf("\n\n[Attached image: %s]", a.URL)
			}
		}
	}
	return geminiContent{Role: "user", Parts: []geminiPart{{Text: text}}}
}

func (c *GoogleClient) streamStep(ctx context.Context, req ChatRequest, msgs []ChatMessage, emit StreamHandler) (stepResult, error) {
	var res stepResult

	payload, err := json.Marshal(c.buildRequest(req, msgs))
	if err != nil {
		return res, fmt.Errorf("marshal google request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse", c.baseURL, url.PathEscape(req.Route.ModelID))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return res, fmt.Errorf("build google request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	auth, err := credentials.AuthFor(catalog.Google, c.apiKey)
	if err != nil {
		return res, err
	}
	if err := auth.Apply(httpReq); err != nil {
		return res, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return res, fmt.Errorf("request google: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(catalog.Google, resp); err != nil {
		return res, err
	}

	var text strings.Builder
	reader := newSSEReader(resp.Body)
	for {
		data, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, err
		}

		var chunk geminiChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			continue
		}
		if chunk.Error != nil {
			return res, &UpstreamError{Provider: catalog.Google, Status: chunk.Error.Code, Body: chunk.Error.Message}
		}
		if u := chunk.UsageMetadata; u != nil {
			res.Usage = Usage{InputTokens: u.PromptTokenCount, OutputTokens: u.CandidatesTokenCount, ReasoningTokens: u.ThoughtsTokenCount}
		}

		for _, cand := range chunk.Candidates {
			for _, p := range cand.Content.Parts {
				switch {
				case p.FunctionCall != nil:
					args := p.FunctionCall.Args
					if len(bytes.TrimSpace(args)) == 0 {
						args = json.RawMessage("{}")
					}
					res.ToolCalls = append(res.ToolCalls, ToolCall{ID: "call_" + uuid.NewString(), Name: p.FunctionCall.Name, Arguments: args})
				case p.Thought && p.Text != "":
					if err := emit(StreamEvent{Type: EventReasoning, Text: p.Text}); err != nil {
						return res, err
					}
				case p.Text != "":
					text.WriteString(p.Text)
					if err := emit(StreamEvent{Type: EventText, Text: p.Text}); err != nil {
						return res, err
					}
				}
			}
			if g := cand.GroundingMetadata; g != nil {
				for _, gc := range g.GroundingChunks {
					if gc.Web == nil || gc.Web.URI == "" {
						continue
					}
					src := models.Source{URL: gc.Web.URI, Title: gc.Web.Title}
					if err := emit(StreamEvent{Type: EventSource, Src: &src}); err != nil {
						return res, err
					}
				}
			}
			if cand.FinishReason != "" {
				res.FinishReason = cand.FinishReason
			}
		}
	}

	res.Text = text.String()
	return res, nil
}
