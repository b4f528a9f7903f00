package shell

import (
	"context"
	"sync"

	"llm_chat/internal/models"
	"llm_chat/internal/utils"
)

// StreamStopper delivers the abort signal of a stream
type StreamStopper interface {
	StopStream(ctx context.Context, streamID string) (bool, error)
}

// Conversation is the local message list of the open thread
type Conversation struct {
	mu       sync.RWMutex
	messages []models.Message
}

func NewConversation(messages []models.Message) *Conversation {
	return &Conversation{messages: append([]models.Message(nil), messages...)}
}

// Messages returns a copy of the current messages
func (c *Conversation) Messages() []models.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.Message(nil), c.messages...)
}

// Upsert replaces the message with m's id or appends m
func (c *Conversation) Upsert(m models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.messages {
		if c.messages[i].ID == m.ID {
			c.messages[i] = m
			return
		}
	}
	c.messages = append(c.messages, m)
}

// MarkStopped flags a message that is still generating as stopped
func (c *Conversation) MarkStopped(messageID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.messages {
		m := &c.messages[i]
		if m.ID != messageID {
			continue
		}
		if m.Status.Terminal() && m.Status != models.StatusStopped {
			return false
		}
		m.Status = models.StatusStopped
		return true
	}
	return false
}

var stopLogger = utils.NewLogger("shell")

// StopStream marks messageID stopped locally, then sends the abort signal.
// The local state stays stopped when delivery fails; the error is returned
// for display.
func StopStream(ctx context.Context, api StreamStopper, conv *Conversation, streamID, messageID string) error {
	conv.MarkStopped(messageID)

	delivered, err := api.StopStream(ctx, streamID)
	if err != nil {
		stopLogger.Error("Failed to stop stream", "stream_id", streamID, "error", err)
		return err
	}
	if !delivered {
		stopLogger.Debug("Stop signal had no receiver", "stream_id", streamID)
	}
	return nil
}
