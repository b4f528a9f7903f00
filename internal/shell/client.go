// Package shell holds the client half of the chat application: a typed SDK
// for the HTTP API and the local state containers a UI builds on.
package shell

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"llm_chat/internal/apperr"
	"llm_chat/internal/catalog"
	"llm_chat/internal/credentials"
	"llm_chat/internal/models"
)

const maxErrorBodyBytes = 8 * 1024

// APIError is a non-2xx answer from the API
type APIError struct {
	StatusCode int
	Code       string // type:surface
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// Type returns the error type half of Code
func (e *APIError) Type() apperr.Type {
	t, _, _ := strings.Cut(e.Code, ":")
	return apperr.Type(t)
}

// Client calls the chat API on behalf of one signed-in user
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a client; token is the session JWT and may be empty for
// public endpoints
func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:      token,
		httpClient: httpClient,
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return err
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return nil
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}

	var body apperr.Body
	if json.Unmarshal(raw, &body) == nil && body.Code != "" {
		apiErr.Code = body.Code
		apiErr.Message = body.Message
	}
	return apiErr
}

// ListThreads returns the caller's threads, newest first
func (c *Client) ListThreads(ctx context.Context) ([]models.Thread, error) {
	var out struct {
		Threads []models.Thread `json:"threads"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/threads", nil, &out); err != nil {
		return nil, err
	}
	return out.Threads, nil
}

// CreateThread creates a thread; a prompt without a title queues title generation
func (c *Client) CreateThread(ctx context.Context, id, title, prompt string) (*models.Thread, error) {
	var out models.Thread
	body := map[string]string{"id": id, "title": title, "prompt": prompt}
	if err := c.do(ctx, http.MethodPost, "/api/threads", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetThread(ctx context.Context, threadID string) (*models.ThreadWithMessages, error) {
	var out models.ThreadWithMessages
	if err := c.do(ctx, http.MethodGet, "/api/threads/"+url.PathEscape(threadID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RenameThread(ctx context.Context, threadID, title string) error {
	return c.do(ctx, http.MethodPatch, "/api/threads/"+url.PathEscape(threadID), map[string]string{"title": title}, nil)
}

func (c *Client) DeleteThread(ctx context.Context, threadID string) error {
	return c.do(ctx, http.MethodDelete, "/api/threads/"+url.PathEscape(threadID), nil, nil)
}

func (c *Client) SetVisibility(ctx context.Context, threadID string, visibility models.Visibility) error {
	body := map[string]models.Visibility{"visibility": visibility}
	return c.do(ctx, http.MethodPut, "/api/threads/"+url.PathEscape(threadID)+"/visibility", body, nil)
}

// Branch copies threadID up to messageID into newThreadID
func (c *Client) Branch(ctx context.Context, threadID, messageID, newThreadID string) (*models.ThreadWithMessages, error) {
	var out models.ThreadWithMessages
	body := map[string]string{"messageId": messageID, "newThreadId": newThreadID}
	if err := c.do(ctx, http.MethodPost, "/api/threads/"+url.PathEscape(threadID)+"/branch", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteTrailing removes the messages after messageID, or from it on when inclusive
func (c *Client) DeleteTrailing(ctx context.Context, messageID string, inclusive bool) (int64, error) {
	var out struct {
		Deleted int64 `json:"deleted"`
	}
	path := "/api/messages/" + url.PathEscape(messageID) + "/trailing?inclusive=" + strconv.FormatBool(inclusive)
	if err := c.do(ctx, http.MethodDelete, path, nil, &out); err != nil {
		return 0, err
	}
	return out.Deleted, nil
}

// Shared reads a public thread, or a private one owned by the caller
func (c *Client) Shared(ctx context.Context, threadID string) (*models.ThreadWithMessages, error) {
	var out models.ThreadWithMessages
	if err := c.do(ctx, http.MethodGet, "/api/share/"+url.PathEscape(threadID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PartialShare is a token-addressed snapshot link
type PartialShare struct {
	Token     string `json:"token"`
	ThreadID  string `json:"threadId"`
	MessageID string `json:"messageId"`
}

func (c *Client) CreatePartialShare(ctx context.Context, threadID, messageID string) (*PartialShare, error) {
	var out PartialShare
	path := "/api/threads/" + url.PathEscape(threadID) + "/partial-shares"
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"messageId": messageID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) PartialShared(ctx context.Context, token string) (*models.ThreadWithMessages, error) {
	var out models.ThreadWithMessages
	if err := c.do(ctx, http.MethodGet, "/api/partial-share/"+url.PathEscape(token), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeletePartialShare(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodDelete, "/api/partial-shares/"+url.PathEscape(token), nil, nil)
}

// KeysState is the masked view of the caller's keys
type KeysState struct {
	Providers      map[catalog.Provider]string `json:"providers"`
	HasKeys        bool                        `json:"hasKeys"`
	SelectedModel  string                      `json:"selectedModel,omitempty"`
	AggregatorOnly *bool                       `json:"aggregatorOnly"`
}

func (c *Client) Keys(ctx context.Context) (*KeysState, error) {
	var out KeysState
	if err := c.do(ctx, http.MethodGet, "/api/keys", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ValidateKey checks a key without saving it
func (c *Client) ValidateKey(ctx context.Context, provider catalog.Provider, key string) (credentials.ValidationResult, error) {
	var out credentials.ValidationResult
	body := map[string]string{"provider": string(provider), "key": key}
	err := c.do(ctx, http.MethodPost, "/api/keys/validate", body, &out)
	return out, err
}

func (c *Client) SaveKey(ctx context.Context, provider catalog.Provider, key string) (*KeysState, error) {
	var out KeysState
	if err := c.do(ctx, http.MethodPut, "/api/keys/"+url.PathEscape(string(provider)), map[string]string{"key": key}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RemoveKey(ctx context.Context, provider catalog.Provider) (*KeysState, error) {
	var out KeysState
	if err := c.do(ctx, http.MethodDelete, "/api/keys/"+url.PathEscape(string(provider)), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StopStream publishes the abort signal of a running stream
func (c *Client) StopStream(ctx context.Context, streamID string) (bool, error) {
	var out struct {
		Stopped bool `json:"stopped"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/chat/"+url.PathEscape(streamID)+"/stop", nil, &out); err != nil {
		return false, err
	}
	return out.Stopped, nil
}

// ChatInput is one user turn sent to POST /api/chat
type ChatInput struct {
	ChatID     string            `json:"chatId"`
	Message    *ChatInputMessage `json:"message,omitempty"`
	Model      string            `json:"model,omitempty"`
	Effort     string            `json:"effort,omitempty"`
	SearchMode string            `json:"searchMode,omitempty"`
}

type ChatInputMessage struct {
	ID          string           `json:"id,omitempty"`
	Content     string           `json:"content"`
	Attachments []ChatAttachment `json:"attachments,omitempty"`
}

type ChatAttachment struct {
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
}

// ChatEvent is one server-sent event of a chat stream
type ChatEvent struct {
	Name string
	Data json.RawMessage
}

// Chat sends a turn and calls onEvent for every event until the stream
// ends. The stream id is available from the first call on.
func (c *Client) Chat(ctx context.Context, in ChatInput, onEvent func(streamID string, ev ChatEvent) error) error {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/chat", in)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request chat: %w", err)
	}
	defer resp.Body.Close()
	if err := checkResponse(resp); err != nil {
		return err
	}

	streamID := resp.Header.Get("X-Stream-Id")
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var current ChatEvent
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if current.Name != "" {
				if err := onEvent(streamID, current); err != nil {
					return err
				}
			}
			current = ChatEvent{}
		case strings.HasPrefix(line, "event:"):
			current.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			current.Data = json.RawMessage(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read chat stream: %w", err)
	}
	return nil
}
