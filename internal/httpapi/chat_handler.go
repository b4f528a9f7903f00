package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"llm_chat/internal/apperr"
	"llm_chat/internal/catalog"
	"llm_chat/internal/credentials"
	"llm_chat/internal/logging"
	"llm_chat/internal/middleware"
	"llm_chat/internal/models"
	"llm_chat/internal/providers"
	"llm_chat/internal/routing"
	"llm_chat/internal/session"
	"llm_chat/internal/streams"
	"llm_chat/internal/threads"
	"llm_chat/internal/usage"
	"llm_chat/internal/utils"
)

const saveTimeout = 10 * time.Second

// chatAttachment references an uploaded file
type chatAttachment struct {
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
}

// chatRequest is the body of POST /api/chat. Message is omitted when
// regenerating an answer to the last stored user message.
type chatRequest struct {
	ChatID  string `json:"chatId"`
	Message *struct {
		ID          string           `json:"id"`
		Content     string           `json:"content"`
		Attachments []chatAttachment `json:"attachments"`
	} `json:"message"`
	Model      string `json:"model"`
	Effort     string `json:"effort"`
	SearchMode string `json:"searchMode"`
}

// chatPlan is everything resolved before the stream starts
type chatPlan struct {
	userID    string
	threadID  string
	modelKey  string
	route     routing.Route
	request   providers.ChatRequest
	client    providers.ChatClient
	userMsg   *models.Message
	created   bool
	titleText string
}

// sseWriter frames events as "event: <name>\ndata: <json>\n\n"
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	broken  bool
}

func (s *sseWriter) send(event string, data interface{}) error {
	if s.broken {
		return errStreamClosed
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		s.broken = true
		return err
	}
	s.flusher.Flush()
	return nil
}

var errStreamClosed = errors.New("client connection closed")

// handleChat streams one assistant turn over SSE.
//
// Flow:
//  1. Resolve keys, model, route, provider options and tools
//  2. Ensure the thread exists and persist the user message
//  3. Register the stream id and subscribe to its stop signal
//  4. Relay provider events to the client
//  5. Persist the assistant message with its final status
func (d *Dependencies) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decode(w, r, apperr.SurfaceChat, &req) || !requireField(w, apperr.SurfaceChat, "chatId", req.ChatID) {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		apperr.Write(w, apperr.Newf(apperr.InternalServerError, apperr.SurfaceStream, "streaming not supported"), apperr.SurfaceStream)
		return
	}

	plan, err := d.planChat(w, r, &req)
	if err != nil {
		apperr.Write(w, err, apperr.SurfaceChat)
		return
	}

	ctx := r.Context()
	if plan.userMsg != nil {
		if err := d.Threads.SaveMessage(ctx, plan.userID, plan.userMsg); err != nil {
			writeThreadError(w, err)
			return
		}
	}
	if plan.created {
		d.enqueueTitle(ctx, plan.userID, plan.threadID, plan.titleText)
	}

	streamID := uuid.NewString()
	if err := d.Streams.Register(ctx, plan.threadID, streamID); err != nil {
		apperr.Write(w, apperr.Wrap(apperr.InternalServerError, apperr.SurfaceStream, err), apperr.SurfaceStream)
		return
	}
	streamCtx, release, err := streams.Cancellable(ctx, d.Streams, streamID)
	if err != nil {
		apperr.Write(w, apperr.Wrap(apperr.InternalServerError, apperr.SurfaceStream, err), apperr.SurfaceStream)
		return
	}
	defer release()

	assistant := &models.Message{
		ID:       uuid.NewString(),
		ThreadID: plan.threadID,
		Role:     models.RoleAssistant,
		Parts:    models.MessageParts{},
		ModelKey: utils.StringPtr(plan.modelKey),
		Status:   models.StatusStreaming,
	}
	if err := d.Threads.SaveMessage(ctx, plan.userID, assistant); err != nil {
		writeThreadError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Stream-Id", streamID)
	w.WriteHeader(http.StatusOK)

	sse := &sseWriter{w: w, flusher: flusher}
	_ = sse.send("start", map[string]interface{}{
		"streamId":      streamID,
		"chatId":        plan.threadID,
		"messageId":     assistant.ID,
		"model":         plan.modelKey,
		"provider":      plan.route.Provider,
		"viaAggregator": plan.route.ViaAggregator,
	})

	started := time.Now()
	parts := models.MessageParts{}
	result, streamErr := plan.client.StreamChat(streamCtx, plan.request, func(ev providers.StreamEvent) error {
		switch ev.Type {
		case providers.EventText:
			parts = parts.AppendText(ev.Text)
		case providers.EventReasoning:
			parts = parts.AppendReasoning(ev.Text)
		case providers.EventToolCall, providers.EventToolResult:
			if ev.Tool != nil {
				parts = parts.UpsertTool(*ev.Tool)
			}
		case providers.EventSource:
			if ev.Src != nil {
				parts = parts.AppendSource(*ev.Src)
			}
		}
		return sse.send(sseEventName(ev.Type), ev)
	})

	// the request context may already be gone; the final write must still land
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()

	switch {
	case streamErr == nil:
		assistant.Parts = result.Parts
		assistant.Content = result.Text()
		assistant.Status = models.StatusDone
		_ = sse.send("finish", map[string]interface{}{
			"messageId":    assistant.ID,
			"finishReason": result.FinishReason,
			"usage":        result.Usage,
			"steps":        result.Steps,
		})
	case errors.Is(context.Cause(streamCtx), streams.ErrStopped) || sse.broken || ctx.Err() != nil:
		assistant.Parts = parts
		assistant.Content = (&models.Message{Parts: parts}).Text()
		assistant.Status = models.StatusStopped
		logger.Info("Stream stopped", "stream_id", streamID, "thread_id", plan.threadID)
		_ = sse.send("finish", map[string]interface{}{
			"messageId":    assistant.ID,
			"finishReason": "stopped",
		})
	default:
		appErr := upstreamError(streamErr)
		assistant.Parts = parts
		assistant.Content = (&models.Message{Parts: parts}).Text()
		assistant.Status = models.StatusError
		assistant.ErrorMessage = utils.StringPtr(appErr.Message)
		logger.Error("Chat stream failed",
			"stream_id", streamID,
			"thread_id", plan.threadID,
			"model", plan.modelKey,
			"provider", plan.route.Provider,
			"error", streamErr,
		)
		_ = sse.send("error", appErr.Response())
	}

	if err := d.Threads.SaveMessage(saveCtx, plan.userID, assistant); err != nil {
		logger.Error("Failed to persist assistant message", "message_id", assistant.ID, "error", err)
	}
	d.recordTurn(saveCtx, plan, assistant, streamID, result, started)
}

// recordTurn reports token usage and appends the turn log. Neither may
// fail the request.
func (d *Dependencies) recordTurn(ctx context.Context, plan *chatPlan, msg *models.Message, streamID string, result *providers.Result, started time.Time) {
	rec := &logging.TurnRecord{
		Timestamp:     started.UTC(),
		UserID:        plan.userID,
		ThreadID:      plan.threadID,
		MessageID:     msg.ID,
		StreamID:      streamID,
		Model:         plan.modelKey,
		Provider:      string(plan.route.Provider),
		ViaAggregator: plan.route.ViaAggregator,
		Status:        string(msg.Status),
		DurationMs:    time.Since(started).Milliseconds(),
		Error:         utils.StringPtrValue(msg.ErrorMessage),
	}
	if result != nil {
		rec.FinishReason = result.FinishReason
		rec.InputTokens = result.Usage.InputTokens
		rec.OutputTokens = result.Usage.OutputTokens
		rec.Steps = result.Steps

		if d.Usage != nil {
			err := d.Usage.Enqueue(ctx, &usage.Update{
				UserID:          plan.userID,
				Provider:        string(plan.route.Provider),
				Model:           plan.modelKey,
				InputTokens:     result.Usage.InputTokens,
				OutputTokens:    result.Usage.OutputTokens,
				ReasoningTokens: result.Usage.ReasoningTokens,
				Timestamp:       rec.Timestamp,
			})
			if err != nil {
				logger.Warn("Failed to enqueue usage", "message_id", msg.ID, "error", err)
			}
		}
	}

	if d.TurnLog != nil {
		if err := d.TurnLog.Enqueue(rec); err != nil {
			logger.Warn("Turn record dropped", "message_id", msg.ID, "error", err)
		}
	}
}

// planChat resolves the request against the caller's keys and thread history
func (d *Dependencies) planChat(w http.ResponseWriter, r *http.Request, req *chatRequest) (*chatPlan, error) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	adapter := d.state(w, r)
	keys, err := d.storeOn(r, adapter).Keys(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.InternalServerError, apperr.SurfaceAPI, err)
	}
	if !keys.Usable().Any() {
		return nil, apperr.Newf(apperr.APIKeyMissing, apperr.SurfaceChat, "Add an API key in settings to start chatting.")
	}

	if req.Message != nil && req.Message.Content == "" && len(req.Message.Attachments) == 0 {
		return nil, apperr.Newf(apperr.BadRequest, apperr.SurfaceChat, "message content is required")
	}

	// nothing is written until the request has fully resolved
	var history []models.Message
	twm, err := d.Threads.GetThread(ctx, userID, req.ChatID)
	switch {
	case err == nil:
		history = twm.Messages
	case errors.Is(err, threads.ErrThreadNotFound):
	default:
		return nil, threads.ToAppError(err)
	}

	settings := session.NewSettings(adapter)
	modelKey, err := chooseModel(ctx, req.Model, history, settings, keys)
	if err != nil {
		return nil, err
	}
	aggregatorOnly := false
	if pref, err := settings.AggregatorOnly(ctx); err == nil && pref != nil {
		aggregatorOnly = *pref
	}

	route, err := routing.ResolveRoute(modelKey, keys, aggregatorOnly)
	if err != nil {
		return nil, routeError(err)
	}
	client, err := d.Chat.ClientFor(route)
	if err != nil {
		return nil, apperr.Wrap(apperr.ModelNotFound, apperr.SurfaceModels, err)
	}

	plan := &chatPlan{
		userID:   userID,
		threadID: req.ChatID,
		modelKey: modelKey,
		route:    route,
		client:   client,
	}

	if req.Message != nil {
		msg := &models.Message{
			ID:       req.Message.ID,
			ThreadID: req.ChatID,
			Role:     models.RoleUser,
			Content:  req.Message.Content,
			Parts:    models.MessageParts{}.AppendText(req.Message.Content),
			Status:   models.StatusDone,
		}
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		for _, a := range req.Message.Attachments {
			msg.Attachments = append(msg.Attachments, a.URL)
		}
		plan.userMsg = msg
		plan.titleText = msg.Content
		history = append(history, *msg)
	} else if len(history) == 0 || history[len(history)-1].Role != models.RoleUser {
		return nil, apperr.Newf(apperr.BadRequest, apperr.SurfaceChat, "nothing to answer: the last message is not from the user")
	}

	thread, created, err := d.Threads.EnsureThread(ctx, userID, req.ChatID)
	if err != nil {
		return nil, threads.ToAppError(err)
	}
	plan.threadID = thread.ID
	plan.created = created

	effort, _ := providers.ParseEffort(req.Effort)
	mode := providers.ParseSearchMode(req.SearchMode)
	opts := providers.ApplySearchMode(providers.CreateProviderOptions(route, effort), route, mode)

	plan.request = providers.ChatRequest{
		Route:    route,
		System:   systemPrompt(route.Model, time.Now()),
		Messages: toChatMessages(history, req),
		Options:  opts,
		Effort:   effort,
		Tools:    d.Tools.CreateToolsConfig(modelKey, mode, userID, keys),
		MaxSteps: d.Chat.MaxSteps(),
	}
	return plan, nil
}

// chooseModel honors an explicit model, else falls back to the thread's last
// model, the saved selection and the best default in that order
func chooseModel(ctx context.Context, explicit string, history []models.Message, settings *session.Settings, keys credentials.Keys) (string, error) {
	if explicit != "" {
		if _, ok := catalog.GetModelByKey(explicit); !ok {
			return "", apperr.Newf(apperr.ModelNotFound, apperr.SurfaceModels, "Unknown model %q", explicit)
		}
		if !routing.CanUseModel(explicit, keys) {
			return "", apperr.New(apperr.APIKeyMissing, apperr.SurfaceModels)
		}
		return explicit, nil
	}
	selected, _, err := settings.SelectedModel(ctx)
	if err != nil {
		return "", apperr.Wrap(apperr.InternalServerError, apperr.SurfaceAPI, err)
	}
	return routing.ResolveInitialModel(models.LatestAssistantModel(history), selected, keys), nil
}

func routeError(err error) error {
	switch {
	case errors.Is(err, routing.ErrUnknownModel):
		return apperr.Wrap(apperr.ModelNotFound, apperr.SurfaceModels, err)
	case errors.Is(err, routing.ErrModelUnavailable):
		return apperr.Wrap(apperr.APIKeyMissing, apperr.SurfaceModels, err)
	}
	return apperr.Wrap(apperr.InternalServerError, apperr.SurfaceChat, err)
}

// upstreamError classifies a provider failure for the client
func upstreamError(err error) *apperr.Error {
	var up *providers.UpstreamError
	if errors.As(err, &up) {
		switch up.Status {
		case http.StatusUnauthorized, http.StatusForbidden:
			return apperr.Newf(apperr.Unauthorized, apperr.SurfaceChat, "%s rejected the API key. Check it in settings.", up.Provider)
		case http.StatusTooManyRequests:
			return apperr.Newf(apperr.RateLimit, apperr.SurfaceChat, "%s is rate limiting this key. Please try again later.", up.Provider)
		case http.StatusNotFound:
			return apperr.Wrap(apperr.ModelNotFound, apperr.SurfaceChat, err)
		}
	}
	return apperr.As(err, apperr.SurfaceChat)
}

func sseEventName(t providers.EventType) string {
	switch t {
	case providers.EventToolCall, providers.EventToolResult:
		return "tool"
	}
	return string(t)
}

func systemPrompt(model catalog.ModelConfig, now time.Time) string {
	return fmt.Sprintf("You are %s, a helpful assistant. The current date is %s. Format answers in Markdown.",
		model.Name, now.UTC().Format("2006-01-02"))
}

// toChatMessages converts stored messages into provider turns. Failed or
// empty assistant turns are dropped so every provider sees a valid exchange.
func toChatMessages(history []models.Message, req *chatRequest) []providers.ChatMessage {
	declared := make(map[string]string)
	if req.Message != nil {
		for _, a := range req.Message.Attachments {
			declared[a.URL] = a.ContentType
		}
	}

	out := make([]providers.ChatMessage, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case models.RoleUser:
			cm := providers.ChatMessage{Role: string(models.RoleUser), Content: m.Text()}
			for _, url := range m.Attachments {
				ct := declared[url]
				if ct == "" {
					ct = mime.TypeByExtension(path.Ext(url))
				}
				cm.Attachments = append(cm.Attachments, providers.Attachment{URL: url, ContentType: ct})
			}
			out = append(out, cm)
		case models.RoleAssistant:
			text := m.Text()
			if m.IsErrored() || text == "" {
				continue
			}
			out = append(out, providers.ChatMessage{Role: string(models.RoleAssistant), Content: text})
		}
	}
	return out
}

// handleStopStream publishes the abort signal for a stream of the caller's chat
func (d *Dependencies) handleStopStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	streamID := chi.URLParam(r, "streamId")

	chatID, err := d.Streams.ChatOf(ctx, streamID)
	if errors.Is(err, streams.ErrUnknownStream) {
		apperr.Write(w, apperr.Newf(apperr.NotFound, apperr.SurfaceStream, "The stream was not found."), apperr.SurfaceStream)
		return
	}
	if err != nil {
		apperr.Write(w, apperr.Wrap(apperr.InternalServerError, apperr.SurfaceStream, err), apperr.SurfaceStream)
		return
	}
	if _, err := d.Threads.OwnedThread(ctx, middleware.GetUserID(ctx), chatID); err != nil {
		writeThreadError(w, err)
		return
	}

	receivers, err := d.Streams.Stop(ctx, streamID)
	if err != nil {
		apperr.Write(w, apperr.Wrap(apperr.InternalServerError, apperr.SurfaceStream, err), apperr.SurfaceStream)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"streamId":  streamID,
		"stopped":   receivers > 0,
		"receivers": receivers,
	})
}

// handleListStreams lists the stream ids registered for the caller's chat
func (d *Dependencies) handleListStreams(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatId")
	if _, err := d.Threads.OwnedThread(r.Context(), middleware.GetUserID(r.Context()), chatID); err != nil {
		writeThreadError(w, err)
		return
	}
	ids, err := d.Streams.Streams(r.Context(), chatID)
	if err != nil {
		apperr.Write(w, apperr.Wrap(apperr.InternalServerError, apperr.SurfaceStream, err), apperr.SurfaceStream)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{"streams": ids})
}
