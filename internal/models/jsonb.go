package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

//
// Message parts (jsonb column)
//

// PartType discriminates the segments of a message
type PartType string

const (
	PartText           PartType = "text"
	PartReasoning      PartType = "reasoning"
	PartToolInvocation PartType = "tool-invocation"
	PartSource         PartType = "source"
)

// ToolState is the progress of a tool invocation
type ToolState string

const (
	ToolStateCall   ToolState = "call"
	ToolStateResult ToolState = "result"
)

// ToolInvocation is a model-requested tool call and, once executed, its result
type ToolInvocation struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Args       json.RawMessage `json:"args,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	State      ToolState       `json:"state"`
}

// Source is a cited web document
type Source struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// MessagePart is one typed segment of a message
type MessagePart struct {
	Type           PartType        `json:"type"`
	Text           string          `json:"text,omitempty"`
	Reasoning      string          `json:"reasoning,omitempty"`
	ToolInvocation *ToolInvocation `json:"toolInvocation,omitempty"`
	Source         *Source         `json:"source,omitempty"`
}

// MessageParts is the ordered list of parts stored in a Postgres jsonb column
type MessageParts []MessagePart

func (p MessageParts) Value() (driver.Value, error) {
	if p == nil {
		return []byte("[]"), nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (p *MessageParts) Scan(value any) error {
	if value == nil {
		*p = nil
		return nil
	}

	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("MessageParts: expected []byte, got %T", value)
	}

	if len(b) == 0 {
		*p = nil
		return nil
	}

	return json.Unmarshal(b, p)
}

// AppendText adds text to the trailing text part, or starts a new one
func (p MessageParts) AppendText(text string) MessageParts {
	return p.appendDelta(PartText, text)
}

// AppendReasoning adds reasoning to the trailing reasoning part, or starts a new one
func (p MessageParts) AppendReasoning(text string) MessageParts {
	return p.appendDelta(PartReasoning, text)
}

func (p MessageParts) appendDelta(t PartType, text string) MessageParts {
	if text == "" {
		return p
	}
	if n := len(p); n > 0 && p[n-1].Type == t {
		if t == PartText {
			p[n-1].Text += text
		} else {
			p[n-1].Reasoning += text
		}
		return p
	}
	part := MessagePart{Type: t}
	if t == PartText {
		part.Text = text
	} else {
		part.Reasoning = text
	}
	return append(p, part)
}

// UpsertTool records a tool invocation, replacing an earlier part with the same call id
func (p MessageParts) UpsertTool(inv ToolInvocation) MessageParts {
	for i := range p {
		if p[i].Type == PartToolInvocation && p[i].ToolInvocation != nil && p[i].ToolInvocation.ToolCallID == inv.ToolCallID {
			p[i].ToolInvocation = &inv
			return p
		}
	}
	return append(p, MessagePart{Type: PartToolInvocation, ToolInvocation: &inv})
}

// AppendSource adds a source part unless the URL is already cited
func (p MessageParts) AppendSource(src Source) MessageParts {
	for _, part := range p {
		if part.Type == PartSource && part.Source != nil && part.Source.URL == src.URL {
			return p
		}
	}
	return append(p, MessagePart{Type: PartSource, Source: &src})
}
