package threads

import (
	"context"
	"fmt"
	"sort"
	"time"

	"llm_chat/internal/cache"
	"llm_chat/internal/models"
	"llm_chat/internal/utils"
)

// PartialShareTokenLength is the length of partial share tokens
const PartialShareTokenLength = 12

// PartialShare is a token-addressed public view of a thread truncated at a message
type PartialShare struct {
	Token     string    `json:"token"`
	ThreadID  string    `json:"threadId"`
	MessageID string    `json:"messageId"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// SharedThread returns a thread for its share URL: public threads to
// anyone, private ones only to their owner.
func (s *Service) SharedThread(ctx context.Context, viewerID, threadID string) (*models.ThreadWithMessages, error) {
	return s.GetThread(ctx, viewerID, threadID)
}

// CreatePartialShare shares the user's thread up to and including messageID
func (s *Service) CreatePartialShare(ctx context.Context, userID, threadID, messageID string) (*PartialShare, error) {
	if _, err := s.OwnedThread(ctx, userID, threadID); err != nil {
		return nil, err
	}
	msg, err := s.repo.GetMessage(ctx, messageID)
	if err != nil {
		return nil, fromStorage(err)
	}
	if msg.ThreadID != threadID {
		return nil, ErrMessageNotFound
	}

	token, err := utils.RandomToken(PartialShareTokenLength)
	if err != nil {
		return nil, err
	}
	now := s.now()
	share := &PartialShare{
		Token:     token,
		ThreadID:  threadID,
		MessageID: messageID,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl.PartialShareTTL),
	}

	if err := s.cache.Set(ctx, cache.PartialShareKey(token), share, s.ttl.PartialShareTTL); err != nil {
		return nil, fmt.Errorf("failed to store partial share: %w", err)
	}

	if err := s.cache.AddMember(ctx, cache.UserPartialSharesKey(userID), token, s.ttl.PartialShareTTL); err != nil {
		return nil, fmt.Errorf("failed to index partial share: %w", err)
	}

	s.logger.Info("Partial share created", "thread_id", threadID, "user_id", userID)
	return share, nil
}

// PartialShared resolves a share token into a synthetic public thread
// holding the messages created at or before the shared message.
func (s *Service) PartialShared(ctx context.Context, token string) (*models.ThreadWithMessages, error) {
	share, err := s.share(ctx, token)
	if err != nil {
		return nil, err
	}

	twm, err := s.loadThread(ctx, share.ThreadID)
	if err != nil {
		if err == ErrThreadNotFound {
			return nil, ErrShareNotFound
		}
		return nil, err
	}

	var cutoff *time.Time
	for i := range twm.Messages {
		if twm.Messages[i].ID == share.MessageID {
			cutoff = &twm.Messages[i].CreatedAt
			break
		}
	}
	if cutoff == nil {
		return nil, ErrShareNotFound
	}

	msgs := make([]models.Message, 0, len(twm.Messages))
	for _, m := range twm.Messages {
		if !m.CreatedAt.After(*cutoff) {
			msgs = append(msgs, m)
		}
	}

	return &models.ThreadWithMessages{
		Thread: models.Thread{
			ID:         twm.Thread.ID,
			Title:      twm.Thread.Title,
			Visibility: models.VisibilityPublic,
			CreatedAt:  twm.Thread.CreatedAt,
			UpdatedAt:  twm.Thread.UpdatedAt,
		},
		Messages: msgs,
	}, nil
}

// ListPartialShares returns the user's live partial shares, oldest first.
// Expired tokens are dropped from the index as they are found.
func (s *Service) ListPartialShares(ctx context.Context, userID string) ([]PartialShare, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	indexKey := cache.UserPartialSharesKey(userID)
	tokens, err := s.cache.Members(ctx, indexKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read partial share index: %w", err)
	}

	shares := make([]PartialShare, 0, len(tokens))
	for _, token := range tokens {
		share, err := s.share(ctx, token)
		if err == ErrShareNotFound {
			if err := s.cache.RemoveMember(ctx, indexKey, token); err != nil {
				s.logger.Warn("Failed to prune partial share", "user_id", userID, "error", err)
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		shares = append(shares, *share)
	}
	sort.Slice(shares, func(i, j int) bool { return shares[i].CreatedAt.Before(shares[j].CreatedAt) })
	return shares, nil
}

// DeletePartialShare revokes one of the user's partial shares
func (s *Service) DeletePartialShare(ctx context.Context, userID, token string) error {
	share, err := s.share(ctx, token)
	if err != nil {
		return err
	}
	if share.UserID != userID {
		return ErrShareNotFound
	}

	if err := s.cache.Delete(ctx, cache.PartialShareKey(token)); err != nil {
		return fmt.Errorf("failed to delete partial share: %w", err)
	}

	if err := s.cache.RemoveMember(ctx, cache.UserPartialSharesKey(userID), token); err != nil {
		return fmt.Errorf("failed to update partial share index: %w", err)
	}
	return nil
}

func (s *Service) share(ctx context.Context, token string) (*PartialShare, error) {
	if len(token) != PartialShareTokenLength {
		return nil, ErrShareNotFound
	}
	var share PartialShare
	found, err := s.cache.Get(ctx, cache.PartialShareKey(token), &share)
	if err != nil {
		return nil, fmt.Errorf("failed to read partial share: %w", err)
	}
	if !found {
		return nil, ErrShareNotFound
	}
	return &share, nil
}
