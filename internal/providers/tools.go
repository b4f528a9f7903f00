package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/google/uuid"

	"llm_chat/internal/catalog"
	"llm_chat/internal/credentials"
	"llm_chat/internal/models"
	"llm_chat/internal/search"
)

const (
	ToolGenerateImage = "generate_image"
	ToolWebSearch     = "web_search"
)

// ToolOutput is what a tool hands back to the model, plus any sources to cite
type ToolOutput struct {
	Result  any
	Sources []models.Source
}

// Tool is a server-executed function offered to the model
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any // JSON schema of the arguments
	Execute(ctx context.Context, args json.RawMessage) (ToolOutput, error)
}

// ToolsConfig is the set of tools registered for one request
type ToolsConfig struct {
	Tools map[string]Tool
}

// Empty reports whether no tool is registered
func (c ToolsConfig) Empty() bool {
	return len(c.Tools) == 0
}

// Lookup finds a tool by name
func (c ToolsConfig) Lookup(name string) (Tool, bool) {
	t, ok := c.Tools[name]
	return t, ok
}

// Names returns the registered tool names, sorted
func (c ToolsConfig) Names() []string {
	names := make([]string, 0, len(c.Tools))
	for n := range c.Tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Sorted returns the tools ordered by name
func (c ToolsConfig) Sorted() []Tool {
	out := make([]Tool, 0, len(c.Tools))
	for _, n := range c.Names() {
		out = append(out, c.Tools[n])
	}
	return out
}

func (c *ToolsConfig) register(t Tool) {
	if c.Tools == nil {
		c.Tools = make(map[string]Tool)
	}
	c.Tools[t.Name()] = t
}

// ImageStore persists generated images and returns their public URL
type ImageStore interface {
	Put(ctx context.Context, key, contentType string, body []byte) (string, error)
}

// Searcher runs web searches
type Searcher interface {
	Enabled() bool
	Search(ctx context.Context, query string) ([]search.Result, error)
}

// ToolFactory builds per-request tool sets
type ToolFactory struct {
	searcher      Searcher
	images        ImageStore
	openAIBaseURL string
	httpClient    *http.Client
}

func NewToolFactory(searcher Searcher, images ImageStore, openAIBaseURL string, httpClient *http.Client) *ToolFactory {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &ToolFactory{
		searcher:      searcher,
		images:        images,
		openAIBaseURL: strings.TrimRight(openAIBaseURL, "/"),
		httpClient:    httpClient,
	}
}

// CreateToolsConfig registers generate_image only for the image generation
// model, and web_search only in SearchModeTool for other tools-capable
// models. Native search never registers a tool, so the two search mechanisms
// cannot both apply to one request.
func (f *ToolFactory) CreateToolsConfig(modelKey string, mode SearchMode, userID string, keys credentials.Keys) ToolsConfig {
	var cfg ToolsConfig
	model, ok := catalog.GetModelByKey(modelKey)
	if !ok {
		return cfg
	}

	if modelKey == catalog.ImageGenerationModelKey {
		if keys.Has(catalog.OpenAI) && f.images != nil {
			cfg.register(&imageTool{
				apiKey:     keys[catalog.OpenAI],
				model:      model.ID,
				userID:     userID,
				baseURL:    f.openAIBaseURL,
				httpClient: f.httpClient,
				store:      f.images,
			})
		}
		return cfg
	}

	if mode == SearchModeTool && model.Capabilities.Has(catalog.CapTools) && f.searcher != nil && f.searcher.Enabled() {
		cfg.register(&webSearchTool{searcher: f.searcher})
	}
	return cfg
}

type webSearchTool struct {
	searcher Searcher
}

func (t *webSearchTool) Name() string { return ToolWebSearch }

func (t *webSearchTool) Description() string {
	return "Search the web for current information. Returns titles, URLs and snippets."
}

func (t *webSearchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string", "description": "The search query"},
		},
		"required": []string{"query"},
	}
}

func (t *webSearchTool) Execute(ctx context.Context, args json.RawMessage) (ToolOutput, error) {
	var in struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return ToolOutput{}, fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(in.Query) == "" {
		return ToolOutput{}, errors.New("query is required")
	}

	results, err := t.searcher.Search(ctx, in.Query)
	if err != nil {
		return ToolOutput{}, err
	}

	sources := make([]models.Source, 0, len(results))
	for _, r := range results {
		sources = append(sources, models.Source{URL: r.URL, Title: r.Title})
	}
	return ToolOutput{Result: map[string]any{"results": results}, Sources: sources}, nil
}

type imageTool struct {
	apiKey     string
	model      string
	userID     string
	baseURL    string
	httpClient *http.Client
	store      ImageStore
}

func (t *imageTool) Name() string { return ToolGenerateImage }

func (t *imageTool) Description() string {
	return "Generate an image from a text prompt. Returns the URL of the generated image."
}

func (t *imageTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"prompt": map[string]any{"type": "string", "description": "Detailed description of the image"},
			"size": map[string]any{
				"type": "string",
				"enum": []string{"1024x1024", "1536x1024", "1024x1536", "auto"},
			},
		},
		"required": []string{"prompt"},
	}
}

func (t *imageTool) Execute(ctx context.Context, args json.RawMessage) (ToolOutput, error) {
	var in struct {
		Prompt string `json:"prompt"`
		Size   string `json:"size"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return ToolOutput{}, fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(in.Prompt) == "" {
		return ToolOutput{}, errors.New("prompt is required")
	}
	if in.Size == "" {
		in.Size = "1024x1024"
	}

	payload, err := json.Marshal(map[string]any{
		"model":  t.model,
		"prompt": in.Prompt,
		"size":   in.Size,
		"n":      1,
	})
	if err != nil {
		return ToolOutput{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/v1/images/generations", bytes.NewReader(payload))
	if err != nil {
		return ToolOutput{}, fmt.Errorf("build image request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	auth, err := credentials.AuthFor(catalog.OpenAI, t.apiKey)
	if err != nil {
		return ToolOutput{}, err
	}
	if err := auth.Apply(req); err != nil {
		return ToolOutput{}, err
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return ToolOutput{}, fmt.Errorf("request image generation: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(catalog.OpenAI, resp); err != nil {
		return ToolOutput{}, err
	}

	var parsed struct {
		Data []struct {
			B64JSON       string `json:"b64_json"`
			RevisedPrompt string `json:"revised_prompt"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return ToolOutput{}, fmt.Errorf("decode image response: %w", err)
	}
	if len(parsed.Data) == 0 || parsed.Data[0].B64JSON == "" {
		return ToolOutput{}, errors.New("image generation returned no image")
	}

	img, err := base64.StdEncoding.DecodeString(parsed.Data[0].B64JSON)
	if err != nil {
		return ToolOutput{}, fmt.Errorf("decode image data: %w", err)
	}

	key := fmt.Sprintf("generated/%s/%s.png", t.userID, uuid.NewString())
	url, err := t.store.Put(ctx, key, "image/png", img)
	if err != nil {
		return ToolOutput{}, fmt.Errorf("upload generated image: %w", err)
	}

	return ToolOutput{Result: map[string]any{
		"url":    url,
		"prompt": in.Prompt,
	}}, nil
}
