package titles

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"llm_chat/internal/catalog"
	"llm_chat/internal/config"
	"llm_chat/internal/providers"
	"llm_chat/internal/routing"
)

const (
	maxTitleRunes = 80
	maxTitleWords = 8
)

const titlePrompt = "Write a short title (at most six words) for a conversation that starts with the " +
	"user message below. Reply with the title only, without quotes or punctuation at the end."

// Generator turns the first user message of a thread into a title
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// HeuristicGenerator takes the leading words of the message
type HeuristicGenerator struct{}

// Generate implements Generator
func (HeuristicGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	words := strings.Fields(prompt)
	if len(words) > maxTitleWords {
		words = words[:maxTitleWords]
	}
	return Clean(strings.Join(words, " ")), nil
}

// ModelGenerator asks a model through the aggregator with a server-side key
type ModelGenerator struct {
	client providers.ChatClient
	route  routing.Route
}

// NewModelGenerator creates a generator calling cfg.Model on OpenRouter
func NewModelGenerator(factory *providers.Factory, cfg config.TitlesConfig) (*ModelGenerator, error) {
	if cfg.OpenRouterAPIKey == "" {
		return nil, errors.New("titles: OpenRouter API key is required")
	}
	route := routing.Route{
		Model: catalog.ModelConfig{
			ID:              cfg.Model,
			Name:            cfg.Model,
			Provider:        catalog.OpenRouter,
			MaxOutputTokens: 32,
		},
		Provider:      catalog.OpenRouter,
		ModelID:       cfg.Model,
		ViaAggregator: true,
		APIKey:        cfg.OpenRouterAPIKey,
	}
	client, err := factory.ClientFor(route)
	if err != nil {
		return nil, err
	}
	return &ModelGenerator{client: client, route: route}, nil
}

// Generate implements Generator
func (g *ModelGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	res, err := g.client.StreamChat(ctx, providers.ChatRequest{
		Route:    g.route,
		System:   titlePrompt,
		Messages: []providers.ChatMessage{{Role: "user", Content: prompt}},
		MaxSteps: 1,
	}, func(providers.StreamEvent) error { return nil })
	if err != nil {
		return "", err
	}
	return Clean(res.Text()), nil
}

// Clean normalizes a generated title: single line, no wrapping quotes,
// no trailing punctuation, bounded length.
func Clean(title string) string {
	title = strings.Join(strings.Fields(title), " ")
	title = strings.Trim(title, "\"'`*# ")
	title = strings.TrimRightFunc(title, func(r rune) bool {
		return unicode.IsPunct(r) && r != ')' && r != '?'
	})

	runes := []rune(title)
	if len(runes) > maxTitleRunes {
		title = strings.TrimSpace(string(runes[:maxTitleRunes-1])) + "…"
	}
	return title
}
