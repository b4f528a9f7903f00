package credentials

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"llm_chat/internal/catalog"
	"llm_chat/internal/utils"
)

// Reason classifies a failed validation
type Reason string

const (
	ReasonMalformed         Reason = "malformed"
	ReasonInvalidCredential Reason = "invalid_credential"
	ReasonPermission        Reason = "insufficient_permission"
	ReasonValidationFailed  Reason = "validation_failed"
	ReasonNetwork           Reason = "network_error"
)

// ValidationResult is the tagged outcome of validating a key
type ValidationResult struct {
	IsValid bool   `json:"isValid"`
	Reason  Reason `json:"reason,omitempty"`
	Error   string `json:"error,omitempty"`
}

func valid() ValidationResult {
	return ValidationResult{IsValid: true}
}

func invalid(reason Reason, msg string) ValidationResult {
	return ValidationResult{IsValid: false, Reason: reason, Error: msg}
}

// ValidationError is returned by Store.SaveKey when validation rejects a key
type ValidationError struct {
	Provider catalog.Provider
	Result   ValidationResult
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s key rejected (%s): %s", e.Provider, e.Result.Reason, e.Result.Error)
}

// IsValidationError reports whether err is a rejected key and returns it
func IsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	ok := errors.As(err, &ve)
	return ve, ok
}

// Checker validates a key against its provider
type Checker interface {
	Validate(ctx context.Context, provider catalog.Provider, key string) ValidationResult
}

// Endpoints are the vendor API base URLs used for validation
type Endpoints struct {
	OpenAI     string
	Anthropic  string
	Google     string
	OpenRouter string
}

// DefaultEndpoints are the public vendor APIs
func DefaultEndpoints() Endpoints {
	return Endpoints{
		OpenAI:     "https://api.openai.com",
		Anthropic:  "https://api.anthropic.com",
		Google:     "https://generativelanguage.googleapis.com",
		OpenRouter: "https://openrouter.ai",
	}
}

// Validator performs a live, read-only call against each provider
type Validator struct {
	endpoints Endpoints
	client    *http.Client
	timeout   time.Duration
	logger    *utils.Logger
}

// NewValidator creates a validator. A nil client uses a dedicated client.
func NewValidator(endpoints Endpoints, client *http.Client, timeout time.Duration) *Validator {
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Validator{
		endpoints: endpoints,
		client:    client,
		timeout:   timeout,
		logger:    utils.NewLogger("key-validator"),
	}
}

func (v *Validator) endpoint(provider catalog.Provider) (string, error) {
	trim := func(s string) string { return strings.TrimRight(s, "/") }
	switch provider {
	case catalog.OpenAI:
		return trim(v.endpoints.OpenAI) + "/v1/models", nil
	case catalog.Anthropic:
		return trim(v.endpoints.Anthropic) + "/v1/models", nil
	case catalog.Google:
		return trim(v.endpoints.Google) + "/v1beta/models", nil
	case catalog.OpenRouter:
		return trim(v.endpoints.OpenRouter) + "/api/v1/credits", nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
}

// Validate checks the format, then asks the provider whether the key works.
// Status 401/400 means invalid, 403 insufficient permission, any other
// non-2xx a generic failure; transport errors are reported as network errors.
func (v *Validator) Validate(ctx context.Context, provider catalog.Provider, key string) ValidationResult {
	key = strings.TrimSpace(key)
	if err := ValidateFormat(provider, key); err != nil {
		return invalid(ReasonMalformed, formatHint(provider))
	}

	url, err := v.endpoint(provider)
	if err != nil {
		return invalid(ReasonMalformed, err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return invalid(ReasonValidationFailed, "Failed to build validation request")
	}
	auth, err := AuthFor(provider, key)
	if err != nil {
		return invalid(ReasonMalformed, err.Error())
	}
	if err := auth.Apply(req); err != nil {
		return invalid(ReasonMalformed, err.Error())
	}

	resp, err := v.client.Do(req)
	if err != nil {
		v.logger.Warn("Key validation request failed", "provider", provider, "key", MaskKey(key), "error", err)
		return invalid(ReasonNetwork, "Network error. Please check your connection and try again.")
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		v.logger.Debug("Key validated", "provider", provider, "key", MaskKey(key))
		return valid()
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusBadRequest:
		return invalid(ReasonInvalidCredential, "Invalid API key")
	case resp.StatusCode == http.StatusForbidden:
		return invalid(ReasonPermission, "API key does not have required permissions")
	default:
		return invalid(ReasonValidationFailed, fmt.Sprintf("Validation failed with status %d", resp.StatusCode))
	}
}

func formatHint(provider catalog.Provider) string {
	switch provider {
	case catalog.Google:
		return "Google API keys start with \"AIza\" followed by at least 35 characters"
	case catalog.OpenAI, catalog.Anthropic, catalog.OpenRouter:
		return fmt.Sprintf("%s API keys start with \"sk-\" followed by at least 32 characters", provider)
	}
	return "Unsupported provider"
}
