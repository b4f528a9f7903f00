package logging

import (
	"errors"
	"time"
)

// ErrSinkFull is returned when the sink buffer cannot accept another record
var ErrSinkFull = errors.New("turn log buffer full")

// ErrSinkClosed is returned by Enqueue after Close
var ErrSinkClosed = errors.New("turn log closed")

// TurnRecord describes one completed assistant turn
type TurnRecord struct {
	Timestamp     time.Time `json:"timestamp"`
	UserID        string    `json:"user_id"`
	ThreadID      string    `json:"thread_id"`
	MessageID     string    `json:"message_id"`
	StreamID      string    `json:"stream_id"`
	Model         string    `json:"model"`
	Provider      string    `json:"provider"`
	ViaAggregator bool      `json:"via_aggregator"`
	Status        string    `json:"status"`
	FinishReason  string    `json:"finish_reason,omitempty"`
	InputTokens   int       `json:"input_tokens"`
	OutputTokens  int       `json:"output_tokens"`
	Steps         int       `json:"steps,omitempty"`
	DurationMs    int64     `json:"duration_ms"`
	Error         string    `json:"error,omitempty"`
}

// Sink receives turn records from the chat handler
type Sink interface {
	Enqueue(rec *TurnRecord) error
}

// NoopSink discards every record
type NoopSink struct{}

func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (s *NoopSink) Enqueue(*TurnRecord) error {
	return nil
}
