package credentials

import (
	"fmt"
	"net/http"

	"llm_chat/internal/catalog"
)

// AnthropicVersion is sent with every Anthropic API request
const AnthropicVersion = "2023-06-01"

// APIKeyAuth applies a provider key to outgoing requests, either as a header
// value with a prefix or as a query parameter.
type APIKeyAuth struct {
	apiKey     string
	headerName string
	prefix     string
	queryParam string
	extra      map[string]string
}

// NewAPIKeyAuth creates a header authenticator. Empty header defaults to
// Authorization with a "Bearer " prefix.
func NewAPIKeyAuth(apiKey, headerName, prefix string) *APIKeyAuth {
	if headerName == "" {
		headerName = "Authorization"
		if prefix == "" {
			prefix = "Bearer "
		}
	}
	return &APIKeyAuth{apiKey: apiKey, headerName: headerName, prefix: prefix}
}

// AuthFor returns the vendor-specific authenticator for provider
func AuthFor(provider catalog.Provider, apiKey string) (*APIKeyAuth, error) {
	switch provider {
	case catalog.OpenAI, catalog.OpenRouter:
		return NewAPIKeyAuth(apiKey, "Authorization", "Bearer "), nil
	case catalog.Anthropic:
		a := NewAPIKeyAuth(apiKey, "x-api-key", "")
		a.extra = map[string]string{"anthropic-version": AnthropicVersion}
		return a, nil
	case catalog.Google:
		return &APIKeyAuth{apiKey: apiKey, queryParam: "key"}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
}

// Apply adds the credential to req
func (a *APIKeyAuth) Apply(req *http.Request) error {
	if a.apiKey == "" {
		return fmt.Errorf("API key is required")
	}
	if a.queryParam != "" {
		q := req.URL.Query()
		q.Set(a.queryParam, a.apiKey)
		req.URL.RawQuery = q.Encode()
	} else {
		req.Header.Set(a.headerName, a.prefix+a.apiKey)
	}
	for k, v := range a.extra {
		req.Header.Set(k, v)
	}
	return nil
}
