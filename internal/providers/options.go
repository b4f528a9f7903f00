package providers

import (
	"strings"

	"llm_chat/internal/catalog"
	"llm_chat/internal/routing"
)

// Effort is the qualitative reasoning effort chosen by the user
type Effort string

const (
	EffortLow    Effort = "low"
	EffortMedium Effort = "medium"
	EffortHigh   Effort = "high"
)

// effortBudgetShare maps effort to the share of max output tokens spent thinking
var effortBudgetShare = map[Effort]float64{
	EffortLow:    0.2,
	EffortMedium: 0.5,
	EffortHigh:   0.8,
}

// ParseEffort normalizes s; unknown values return "" and false
func ParseEffort(s string) (Effort, bool) {
	e := Effort(strings.ToLower(strings.TrimSpace(s)))
	_, ok := effortBudgetShare[e]
	return e, ok
}

// ThinkingBudget is the absolute thinking token budget for effort on model
func ThinkingBudget(model catalog.ModelConfig, effort Effort) int {
	share, ok := effortBudgetShare[effort]
	if !ok {
		return 0
	}
	return int(share * float64(model.MaxOutputTokens))
}

// SearchMode selects how web search is offered to a model
type SearchMode string

const (
	SearchModeOff    SearchMode = "off"
	SearchModeNative SearchMode = "native" // provider built-in search, toggled by a request flag
	SearchModeTool   SearchMode = "tool"   // web_search tool executed by the server
)

// ParseSearchMode normalizes s; unknown or empty values are SearchModeOff
func ParseSearchMode(s string) SearchMode {
	switch m := SearchMode(strings.ToLower(strings.TrimSpace(s))); m {
	case SearchModeNative, SearchModeTool:
		return m
	}
	return SearchModeOff
}

type OpenAIOptions struct {
	ReasoningEffort Effort `json:"reasoningEffort,omitempty"`
	WebSearch       bool   `json:"webSearch,omitempty"`
}

type AnthropicThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budgetTokens"`
}

type AnthropicOptions struct {
	Thinking *AnthropicThinking `json:"thinking,omitempty"`
}

type GoogleThinkingConfig struct {
	ThinkingBudget  int  `json:"thinkingBudget"`
	IncludeThoughts bool `json:"includeThoughts"`
}

type GoogleOptions struct {
	ThinkingConfig     *GoogleThinkingConfig `json:"thinkingConfig,omitempty"`
	UseSearchGrounding bool                  `json:"useSearchGrounding,omitempty"`
}

// ProviderOptions holds at most one option block per native provider
type ProviderOptions struct {
	OpenAI    *OpenAIOptions    `json:"openai,omitempty"`
	Anthropic *AnthropicOptions `json:"anthropic,omitempty"`
	Google    *GoogleOptions    `json:"google,omitempty"`
}

// Empty reports whether no block is set
func (o ProviderOptions) Empty() bool {
	return o.OpenAI == nil && o.Anthropic == nil && o.Google == nil
}

// CreateProviderOptions builds the native reasoning options for route.
// Nothing is emitted for aggregator routes, for models without the reasoning
// capability, or for an unknown effort.
func CreateProviderOptions(route routing.Route, effort Effort) ProviderOptions {
	var opts ProviderOptions
	if route.ViaAggregator || !route.Model.Capabilities.Has(catalog.CapReasoning) {
		return opts
	}
	if _, ok := effortBudgetShare[effort]; !ok {
		return opts
	}

	switch route.Model.ResolvedProvider() {
	case catalog.OpenAI:
		opts.OpenAI = &OpenAIOptions{ReasoningEffort: effort}
	case catalog.Anthropic:
		opts.Anthropic = &AnthropicOptions{Thinking: &AnthropicThinking{
			Type:         "enabled",
			BudgetTokens: ThinkingBudget(route.Model, effort),
		}}
	case catalog.Google:
		opts.Google = &GoogleOptions{ThinkingConfig: &GoogleThinkingConfig{
			ThinkingBudget:  ThinkingBudget(route.Model, effort),
			IncludeThoughts: true,
		}}
	}
	return opts
}

// ApplySearchMode turns on provider built-in search for SearchModeNative on a
// search-capable native route. Other modes and routes leave opts unchanged.
func ApplySearchMode(opts ProviderOptions, route routing.Route, mode SearchMode) ProviderOptions {
	if mode != SearchModeNative || route.ViaAggregator || !route.Model.Capabilities.Has(catalog.CapSearch) {
		return opts
	}

	switch route.Model.ResolvedProvider() {
	case catalog.Google:
		if opts.Google == nil {
			opts.Google = &GoogleOptions{}
		}
		opts.Google.UseSearchGrounding = true
	case catalog.OpenAI:
		if opts.OpenAI == nil {
			opts.OpenAI = &OpenAIOptions{}
		}
		opts.OpenAI.WebSearch = true
	}
	return opts
}
