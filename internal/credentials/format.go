// Package credentials manages user-supplied provider API keys: format checks,
// live validation against the vendor, and obfuscated client-side persistence.
package credentials

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"llm_chat/internal/catalog"
)

var (
	// ErrInvalidFormat is returned when a key does not match its provider's pattern
	ErrInvalidFormat = errors.New("invalid API key format")

	// ErrUnsupportedProvider is returned for providers that take no user key
	ErrUnsupportedProvider = errors.New("provider does not accept API keys")
)

var formatPatterns = map[catalog.Provider]*regexp.Regexp{
	catalog.OpenAI:     regexp.MustCompile(`^sk-[A-Za-z0-9_-]{32,}$`),
	catalog.Anthropic:  regexp.MustCompile(`^sk-[A-Za-z0-9_-]{32,}$`),
	catalog.OpenRouter: regexp.MustCompile(`^sk-[A-Za-z0-9_-]{32,}$`),
	catalog.Google:     regexp.MustCompile(`^AIza[A-Za-z0-9_-]{35,}$`),
}

// ValidateFormat checks key against the provider's prefix and length pattern
func ValidateFormat(provider catalog.Provider, key string) error {
	pattern, ok := formatPatterns[provider]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}
	if !pattern.MatchString(key) {
		return fmt.Errorf("%w for %s", ErrInvalidFormat, provider)
	}
	return nil
}

// Keys is a credential set: at most one key per provider
type Keys map[catalog.Provider]string

// Has reports whether a non-empty key is held for p
func (k Keys) Has(p catalog.Provider) bool {
	return strings.TrimSpace(k[p]) != ""
}

// Any reports whether at least one key is held
func (k Keys) Any() bool {
	for p := range k {
		if k.Has(p) {
			return true
		}
	}
	return false
}

// HasNative reports whether any non-aggregator key is held
func (k Keys) HasNative() bool {
	for p := range k {
		if p != catalog.Aggregator && k.Has(p) {
			return true
		}
	}
	return false
}

// Providers lists the providers with a key, sorted
func (k Keys) Providers() []catalog.Provider {
	out := make([]catalog.Provider, 0, len(k))
	for p := range k {
		if k.Has(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Usable drops keys that fail their provider's format check
func (k Keys) Usable() Keys {
	out := make(Keys, len(k))
	for p, key := range k {
		if ValidateFormat(p, key) == nil {
			out[p] = key
		}
	}
	return out
}

// Clone returns an independent copy
func (k Keys) Clone() Keys {
	out := make(Keys, len(k))
	for p, key := range k {
		out[p] = key
	}
	return out
}
