package models

import (
	"strings"
	"time"

	"github.com/lib/pq"
)

// Role is the author of a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleData      Role = "data"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleData:
		return true
	}
	return false
}

// MessageStatus tracks the generation lifecycle of a message
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusStreaming MessageStatus = "streaming"
	StatusDone      MessageStatus = "done"
	StatusError     MessageStatus = "error"
	StatusStopped   MessageStatus = "stopped"
)

// Terminal reports whether no further updates are expected
func (s MessageStatus) Terminal() bool {
	return s == StatusDone || s == StatusError || s == StatusStopped
}

// Message represents one turn in a thread (messages table).
// Messages of a thread are ordered by CreatedAt.
type Message struct {
	ID           string         `db:"id" json:"id"`
	ThreadID     string         `db:"thread_id" json:"threadId"`
	Role         Role           `db:"role" json:"role"`
	Content      string         `db:"content" json:"content"`
	Parts        MessageParts   `db:"parts" json:"parts"`
	ModelKey     *string        `db:"model_key" json:"model,omitempty"` // assistant only
	Status       MessageStatus  `db:"status" json:"status"`
	ErrorMessage *string        `db:"error_message" json:"errorMessage,omitempty"`
	Attachments  pq.StringArray `db:"attachments" json:"attachments"`
	CreatedAt    time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updatedAt"`
}

// IsErrored checks if generation failed
func (m *Message) IsErrored() bool {
	return m.Status == StatusError
}

// IsStopped checks if generation was cancelled by the user
func (m *Message) IsStopped() bool {
	return m.Status == StatusStopped
}

// Text returns the plain text of the message: Content when set, otherwise
// the concatenated text parts.
func (m *Message) Text() string {
	if m.Content != "" {
		return m.Content
	}
	var sb strings.Builder
	for _, p := range m.Parts {
		if p.Type == PartText {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// LatestAssistantModel returns the model key of the newest assistant message
// that has one, or "".
func LatestAssistantModel(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.Role == RoleAssistant && m.ModelKey != nil && *m.ModelKey != "" {
			return *m.ModelKey
		}
	}
	return ""
}
