package session

import (
	"context"
	"encoding/json"
	"fmt"
)

// Settings is the selected model and routing preference of one session
type Settings struct {
	adapter Adapter
}

func NewSettings(adapter Adapter) *Settings {
	return &Settings{adapter: adapter}
}

// SelectedModel returns the persisted model key, if any
func (s *Settings) SelectedModel(ctx context.Context) (string, bool, error) {
	v, ok, err := s.adapter.Get(ctx, KeyChatModel)
	if err != nil || !ok || v == "" {
		return "", false, err
	}
	return v, true, nil
}

func (s *Settings) SetSelectedModel(ctx context.Context, modelKey string) error {
	return s.adapter.Set(ctx, KeyChatModel, modelKey)
}

// AggregatorOnly returns the routing preference; nil means unset
func (s *Settings) AggregatorOnly(ctx context.Context) (*bool, error) {
	v, ok, err := s.adapter.Get(ctx, KeyModelRouting)
	if err != nil || !ok {
		return nil, err
	}
	switch v {
	case "true":
		t := true
		return &t, nil
	case "false":
		f := false
		return &f, nil
	}
	return nil, nil
}

func (s *Settings) SetAggregatorOnly(ctx context.Context, aggregatorOnly bool) error {
	v := "false"
	if aggregatorOnly {
		v = "true"
	}
	return s.adapter.Set(ctx, KeyModelRouting, v)
}

func (s *Settings) ClearRouting(ctx context.Context) error {
	return s.adapter.Remove(ctx, KeyModelRouting)
}

// PinnedThreads is the ordered set of pinned thread ids
type PinnedThreads struct {
	adapter Adapter
}

func NewPinnedThreads(adapter Adapter) *PinnedThreads {
	return &PinnedThreads{adapter: adapter}
}

// List returns pinned ids, most recently pinned first
func (p *PinnedThreads) List(ctx context.Context) ([]string, error) {
	v, ok, err := p.adapter.Get(ctx, KeyPinnedThreads)
	if err != nil {
		return nil, err
	}
	if !ok || v == "" {
		return []string{}, nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(v), &ids); err != nil {
		// a corrupt value is treated as empty and overwritten on the next write
		return []string{}, nil
	}
	return ids, nil
}

func (p *PinnedThreads) IsPinned(ctx context.Context, threadID string) (bool, error) {
	ids, err := p.List(ctx)
	if err != nil {
		return false, err
	}
	return indexOf(ids, threadID) >= 0, nil
}

func (p *PinnedThreads) Pin(ctx context.Context, threadID string) ([]string, error) {
	ids, err := p.List(ctx)
	if err != nil {
		return nil, err
	}
	if indexOf(ids, threadID) >= 0 {
		return ids, nil
	}
	ids = append([]string{threadID}, ids...)
	return ids, p.save(ctx, ids)
}

func (p *PinnedThreads) Unpin(ctx context.Context, threadID string) ([]string, error) {
	ids, err := p.List(ctx)
	if err != nil {
		return nil, err
	}
	i := indexOf(ids, threadID)
	if i < 0 {
		return ids, nil
	}
	ids = append(ids[:i], ids[i+1:]...)
	return ids, p.save(ctx, ids)
}

// Toggle pins an unpinned thread and unpins a pinned one
func (p *PinnedThreads) Toggle(ctx context.Context, threadID string) ([]string, error) {
	pinned, err := p.IsPinned(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if pinned {
		return p.Unpin(ctx, threadID)
	}
	return p.Pin(ctx, threadID)
}

func (p *PinnedThreads) save(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return p.adapter.Remove(ctx, KeyPinnedThreads)
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("failed to encode pinned threads: %w", err)
	}
	return p.adapter.Set(ctx, KeyPinnedThreads, string(data))
}

func indexOf(list []string, v string) int {
	for i, item := range list {
		if item == v {
			return i
		}
	}
	return -1
}
