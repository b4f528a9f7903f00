package utils

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type statusErr int

func (e statusErr) Error() string   { return fmt.Sprintf("upstream returned status %d", int(e)) }
func (e statusErr) StatusCode() int { return int(e) }

func TestIsRecoverableError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil", err: nil, expected: false},
		{name: "rate limited", err: statusErr(429), expected: true},
		{name: "server error", err: fmt.Errorf("wrapped: %w", statusErr(503)), expected: true},
		{name: "unauthorized", err: statusErr(401), expected: false},
		{name: "cancelled", err: context.Canceled, expected: false},
		{name: "plain error", err: errors.New("authentication failed"), expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRecoverableError(tt.err); got != tt.expected {
				t.Errorf("IsRecoverableError() = %v, want %v", got, tt.expected)
			}
		})
	}
}
