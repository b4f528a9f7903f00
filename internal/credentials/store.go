package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"llm_chat/internal/catalog"
	"llm_chat/internal/session"
	"llm_chat/internal/utils"
)

// ModelResolver answers availability questions over a credential set
type ModelResolver interface {
	CanUseModel(modelKey string, keys Keys) bool
	BestAvailableDefaultModel(keys Keys) string
	DefaultRoutingPreference(keys Keys) *bool
}

// Store holds one user's credential set, obfuscated, behind a session adapter
type Store struct {
	userID   string
	adapter  session.Adapter
	settings *session.Settings
	checker  Checker
	resolver ModelResolver
	logger   *utils.Logger
}

func NewStore(userID string, adapter session.Adapter, checker Checker, resolver ModelResolver) *Store {
	return &Store{
		userID:   userID,
		adapter:  adapter,
		settings: session.NewSettings(adapter),
		checker:  checker,
		resolver: resolver,
		logger:   utils.NewLogger("credential-store").With("user_id", userID),
	}
}

// Keys returns the decrypted credential set. Entries that fail to decode or
// no longer match their format pattern are dropped.
func (s *Store) Keys(ctx context.Context) (Keys, error) {
	raw, ok, err := s.adapter.Get(ctx, session.KeyAPIKeys(s.userID))
	if err != nil {
		return nil, fmt.Errorf("failed to load keys: %w", err)
	}
	keys := make(Keys)
	if !ok || raw == "" {
		return keys, nil
	}

	var stored map[catalog.Provider]string
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		s.logger.Warn("Discarding unreadable key set", "error", err)
		return keys, nil
	}
	for p, enc := range stored {
		plain, err := DecryptKey(enc, s.userID)
		if err != nil {
			continue
		}
		keys[p] = plain
	}
	return keys.Usable(), nil
}

// HasKeys reads the plaintext-free indicator flag
func (s *Store) HasKeys(ctx context.Context) (bool, error) {
	v, ok, err := s.adapter.Get(ctx, session.KeyHasAPIKeys(s.userID))
	if err != nil {
		return false, err
	}
	return ok && v == "true", nil
}

// SaveKey validates key live and persists it only when the provider accepts it.
// The selected model, routing preference and has-keys flag are recomputed.
func (s *Store) SaveKey(ctx context.Context, provider catalog.Provider, rawKey string) error {
	key := strings.TrimSpace(rawKey)
	if err := ValidateFormat(provider, key); err != nil {
		return &ValidationError{Provider: provider, Result: invalid(ReasonMalformed, formatHint(provider))}
	}

	result := s.checker.Validate(ctx, provider, key)
	if !result.IsValid {
		s.logger.Info("Key rejected", "provider", provider, "reason", result.Reason)
		return &ValidationError{Provider: provider, Result: result}
	}

	keys, err := s.Keys(ctx)
	if err != nil {
		return err
	}
	keys[provider] = key
	if err := s.persist(ctx, keys); err != nil {
		return err
	}

	s.logger.Info("Key saved", "provider", provider, "key", MaskKey(key))
	return s.afterChange(ctx, keys)
}

// RemoveKey deletes one provider's key. Removing the aggregator key resets
// routing to native providers.
func (s *Store) RemoveKey(ctx context.Context, provider catalog.Provider) error {
	keys, err := s.Keys(ctx)
	if err != nil {
		return err
	}
	delete(keys, provider)
	if err := s.persist(ctx, keys); err != nil {
		return err
	}

	if provider == catalog.Aggregator {
		if err := s.settings.SetAggregatorOnly(ctx, false); err != nil {
			return err
		}
	}

	s.logger.Info("Key removed", "provider", provider)
	return s.afterChange(ctx, keys)
}

// ClearAllKeys removes every credential and the routing and has-keys flags
func (s *Store) ClearAllKeys(ctx context.Context) error {
	for _, k := range []string{session.KeyAPIKeys(s.userID), session.KeyHasAPIKeys(s.userID), session.KeyModelRouting} {
		if err := s.adapter.Remove(ctx, k); err != nil {
			return fmt.Errorf("failed to clear %s: %w", k, err)
		}
	}
	s.logger.Info("All keys cleared")
	return s.settings.SetSelectedModel(ctx, s.resolver.BestAvailableDefaultModel(Keys{}))
}

func (s *Store) persist(ctx context.Context, keys Keys) error {
	if !keys.Any() {
		return s.adapter.Remove(ctx, session.KeyAPIKeys(s.userID))
	}
	stored := make(map[catalog.Provider]string, len(keys))
	for p, key := range keys {
		stored[p] = EncryptKey(key, s.userID)
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to encode keys: %w", err)
	}
	return s.adapter.Set(ctx, session.KeyAPIKeys(s.userID), string(data))
}

// afterChange writes back state derived from the credential set: the
// has-keys flag, the routing default when unset, and the best available
// default model as the selected model.
func (s *Store) afterChange(ctx context.Context, keys Keys) error {
	flag := "false"
	if keys.Any() {
		flag = "true"
	}
	if err := s.adapter.Set(ctx, session.KeyHasAPIKeys(s.userID), flag); err != nil {
		return err
	}

	pref, err := s.settings.AggregatorOnly(ctx)
	if err != nil {
		return err
	}
	if pref == nil {
		if derived := s.resolver.DefaultRoutingPreference(keys); derived != nil {
			if err := s.settings.SetAggregatorOnly(ctx, *derived); err != nil {
				return err
			}
		}
	}

	current, _, err := s.settings.SelectedModel(ctx)
	if err != nil {
		return err
	}
	best := s.resolver.BestAvailableDefaultModel(keys)
	if best != current {
		s.logger.Debug("Selected model recomputed", "from", current, "to", best)
	}
	return s.settings.SetSelectedModel(ctx, best)
}
