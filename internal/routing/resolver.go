// Package routing decides which models a credential set can use and which
// upstream provider, model id and key a request goes through.
package routing

import (
	"errors"
	"fmt"

	"llm_chat/internal/catalog"
	"llm_chat/internal/credentials"
)

// ErrModelUnavailable is returned when no held key can serve a model
var ErrModelUnavailable = errors.New("model is not available with the configured keys")

// ErrUnknownModel is returned for keys missing from the catalog
var ErrUnknownModel = errors.New("unknown model")

// defaultPreference is the fixed order used to pick a default model
var defaultPreference = []string{
	"openai:gpt-4.1-mini",
	"anthropic:claude-sonnet-4-0",
	"google:gemini-2.5-flash",
	"openrouter:meta-llama/llama-4-maverick",
}

// accessOverride decides usability for specific models before the general
// rule applies. decided=false defers to the general rule.
type accessOverride func(model catalog.ModelConfig, keys credentials.Keys) (usable bool, decided bool)

// imageGenerationOverride: the image model needs a native OpenAI key and is
// never reachable through the aggregator.
func imageGenerationOverride(model catalog.ModelConfig, keys credentials.Keys) (bool, bool) {
	if model.Key() != catalog.ImageGenerationModelKey {
		return false, false
	}
	return keys.Has(model.ResolvedProvider()), true
}

var overrides = []accessOverride{imageGenerationOverride}

// generalAccessRule: an aggregator key reaches every model, otherwise the
// model's exact provider key is required.
func generalAccessRule(model catalog.ModelConfig, keys credentials.Keys) bool {
	if keys.Has(catalog.Aggregator) {
		return true
	}
	return keys.Has(model.ResolvedProvider())
}

// CanUseModel reports whether keys can serve modelKey. Unknown models are not usable.
func CanUseModel(modelKey string, keys credentials.Keys) bool {
	model, ok := catalog.GetModelByKey(modelKey)
	if !ok {
		return false
	}
	for _, override := range overrides {
		if usable, decided := override(model, keys); decided {
			return usable
		}
	}
	return generalAccessRule(model, keys)
}

// GetBestAvailableDefaultModel returns the first usable model in the fixed
// preference order, or the static default when nothing is usable.
func GetBestAvailableDefaultModel(keys credentials.Keys) string {
	for _, key := range defaultPreference {
		if CanUseModel(key, keys) {
			return key
		}
	}
	return catalog.DefaultModelKey
}

// UsableModels returns every catalog model keys can serve, in table order
func UsableModels(keys credentials.Keys) []catalog.ModelConfig {
	all := catalog.All()
	out := make([]catalog.ModelConfig, 0, len(all))
	for _, m := range all {
		if CanUseModel(m.Key(), keys) {
			out = append(out, m)
		}
	}
	return out
}

// DefaultRoutingPreference derives the aggregator-only flag from the key set:
// true with only an aggregator key, false with any native key, nil with no keys.
func DefaultRoutingPreference(keys credentials.Keys) *bool {
	if keys.HasNative() {
		f := false
		return &f
	}
	if keys.Has(catalog.Aggregator) {
		t := true
		return &t
	}
	return nil
}

// Route is the concrete upstream target of a request
type Route struct {
	Model         catalog.ModelConfig
	Provider      catalog.Provider // API actually called
	ModelID       string           // id sent to that API
	ViaAggregator bool
	APIKey        string
}

// ResolveRoute picks the upstream for modelKey. A native key wins unless
// aggregatorOnly is set; the image model never goes through the aggregator.
func ResolveRoute(modelKey string, keys credentials.Keys, aggregatorOnly bool) (Route, error) {
	model, ok := catalog.GetModelByKey(modelKey)
	if !ok {
		return Route{}, fmt.Errorf("%w: %s", ErrUnknownModel, modelKey)
	}
	if !CanUseModel(modelKey, keys) {
		return Route{}, fmt.Errorf("%w: %s", ErrModelUnavailable, modelKey)
	}

	native := model.ResolvedProvider()
	modelID := model.ID
	if model.DriverModelID != "" {
		modelID = model.DriverModelID
	}

	if modelKey == catalog.ImageGenerationModelKey {
		return Route{Model: model, Provider: native, ModelID: modelID, APIKey: keys[native]}, nil
	}

	useNative := keys.Has(native) && (!aggregatorOnly || !keys.Has(catalog.Aggregator))
	if useNative {
		return Route{
			Model:         model,
			Provider:      native,
			ModelID:       modelID,
			ViaAggregator: native == catalog.Aggregator,
			APIKey:        keys[native],
		}, nil
	}

	return Route{
		Model:         model,
		Provider:      catalog.Aggregator,
		ModelID:       model.AggregatorModelID(),
		ViaAggregator: true,
		APIKey:        keys[catalog.Aggregator],
	}, nil
}

// ResolveInitialModel picks the model a chat opens with. Precedence: the model
// of the latest assistant message, then the persisted selection, then the best
// default. A candidate is taken only when it is known and usable.
func ResolveInitialModel(messageModel, cookieModel string, keys credentials.Keys) string {
	for _, candidate := range []string{messageModel, cookieModel} {
		if candidate != "" && CanUseModel(candidate, keys) {
			return candidate
		}
	}
	return GetBestAvailableDefaultModel(keys)
}

// Resolver adapts the package functions to credentials.ModelResolver
type Resolver struct{}

func (Resolver) CanUseModel(modelKey string, keys credentials.Keys) bool {
	return CanUseModel(modelKey, keys)
}

func (Resolver) BestAvailableDefaultModel(keys credentials.Keys) string {
	return GetBestAvailableDefaultModel(keys)
}

func (Resolver) DefaultRoutingPreference(keys credentials.Keys) *bool {
	return DefaultRoutingPreference(keys)
}
