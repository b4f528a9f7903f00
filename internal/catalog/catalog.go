// Package catalog holds the static table of callable models and lookups over it.
//
// Every model is addressed by its model key, "{apiProvider or provider}:{id}".
// The table is built at compile time and never mutated.
package catalog

import "strings"

// Provider identifies an upstream vendor or the aggregator
type Provider string

const (
	OpenAI     Provider = "openai"
	Anthropic  Provider = "anthropic"
	Google     Provider = "google"
	Meta       Provider = "meta"
	DeepSeek   Provider = "deepseek"
	OpenRouter Provider = "openrouter"
)

// Aggregator is the single provider whose key can reach every model
const Aggregator = OpenRouter

// CredentialProviders are the providers a user can hold a key for
var CredentialProviders = []Provider{OpenAI, Anthropic, Google, OpenRouter}

// IsCredentialProvider reports whether p accepts a user key
func IsCredentialProvider(p Provider) bool {
	for _, cp := range CredentialProviders {
		if cp == p {
			return true
		}
	}
	return false
}

// Capability is a boolean model feature flag
type Capability string

const (
	CapStreaming  Capability = "streaming"
	CapVision     Capability = "vision"
	CapTools      Capability = "tools"
	CapSearch     Capability = "search"
	CapPDF        Capability = "pdf"
	CapReasoning  Capability = "reasoning"
	CapCoding     Capability = "coding"
	CapMultimodal Capability = "multimodal"
	CapEffort     Capability = "effort"
)

// Capabilities is the fixed set of model feature flags
type Capabilities struct {
	Streaming  bool `json:"streaming"`
	Vision     bool `json:"vision"`
	Tools      bool `json:"tools"`
	Search     bool `json:"search"`
	PDF        bool `json:"pdf"`
	Reasoning  bool `json:"reasoning"`
	Coding     bool `json:"coding"`
	Multimodal bool `json:"multimodal"`
	Effort     bool `json:"effort"`
}

// Has returns the flag for c; unknown capabilities are false
func (c Capabilities) Has(capability Capability) bool {
	switch capability {
	case CapStreaming:
		return c.Streaming
	case CapVision:
		return c.Vision
	case CapTools:
		return c.Tools
	case CapSearch:
		return c.Search
	case CapPDF:
		return c.PDF
	case CapReasoning:
		return c.Reasoning
	case CapCoding:
		return c.Coding
	case CapMultimodal:
		return c.Multimodal
	case CapEffort:
		return c.Effort
	}
	return false
}

type Speed string

const (
	SpeedFast   Speed = "fast"
	SpeedMedium Speed = "medium"
	SpeedSlow   Speed = "slow"
)

type Quality string

const (
	QualityHigh   Quality = "high"
	QualityMedium Quality = "medium"
	QualityLow    Quality = "low"
)

// Performance is a coarse speed/quality rating
type Performance struct {
	Speed   Speed   `json:"speed"`
	Quality Quality `json:"quality"`
}

// Tier groups models for display only
type Tier string

const (
	TierPremium  Tier = "premium"
	TierStandard Tier = "standard"
	TierBudget   Tier = "budget"
)

// Pricing is the advisory cost in USD per 1K tokens
type Pricing struct {
	Input  float64 `json:"input"`
	Output float64 `json:"output"`
}

// ModelConfig describes one callable model variant
type ModelConfig struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Provider    Provider `json:"provider"`
	// APIProvider overrides Provider when choosing which API to call.
	APIProvider Provider `json:"apiProvider,omitempty"`
	// AggregatorID is the model id on the aggregator when it differs from "{provider}/{id}".
	AggregatorID string `json:"aggregatorId,omitempty"`
	// DriverModelID is the chat model that drives a non-chat model through tools.
	DriverModelID string `json:"driverModelId,omitempty"`

	Capabilities    Capabilities `json:"capabilities"`
	Performance     Performance  `json:"performance"`
	Tier            Tier         `json:"tier"`
	Pricing         *Pricing     `json:"pricing,omitempty"`
	ContextWindow   int          `json:"contextWindow"`
	MaxOutputTokens int          `json:"maxOutputTokens"`
}

// ResolvedProvider is APIProvider when set, Provider otherwise
func (m ModelConfig) ResolvedProvider() Provider {
	if m.APIProvider != "" {
		return m.APIProvider
	}
	return m.Provider
}

// Key is the globally unique model key
func (m ModelConfig) Key() string {
	return MakeKey(m.ResolvedProvider(), m.ID)
}

// AggregatorModelID is the id used when the model is called through the aggregator
func (m ModelConfig) AggregatorModelID() string {
	if m.AggregatorID != "" {
		return m.AggregatorID
	}
	if m.ResolvedProvider() == Aggregator {
		return m.ID
	}
	return string(m.Provider) + "/" + m.ID
}

// MakeKey builds a model key
func MakeKey(p Provider, id string) string {
	return string(p) + ":" + id
}

// SplitKey splits a model key on its first colon
func SplitKey(key string) (Provider, string, bool) {
	i := strings.Index(key, ":")
	if i <= 0 || i == len(key)-1 {
		return "", "", false
	}
	return Provider(key[:i]), key[i+1:], true
}

var byKey = func() map[string]ModelConfig {
	m := make(map[string]ModelConfig, len(models))
	for _, cfg := range models {
		m[cfg.Key()] = cfg
	}
	return m
}()

// GetModelByKey looks up a model; unknown keys return false
func GetModelByKey(key string) (ModelConfig, bool) {
	cfg, ok := byKey[key]
	return cfg, ok
}

// ProviderForKey returns the resolved provider of a known model key
func ProviderForKey(key string) (Provider, bool) {
	cfg, ok := byKey[key]
	if !ok {
		return "", false
	}
	return cfg.ResolvedProvider(), true
}

// All returns every model in table order
func All() []ModelConfig {
	out := make([]ModelConfig, len(models))
	copy(out, models)
	return out
}

// Keys returns every model key in table order
func Keys() []string {
	out := make([]string, 0, len(models))
	for _, m := range models {
		out = append(out, m.Key())
	}
	return out
}
