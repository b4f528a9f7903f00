package threads

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"llm_chat/internal/cache"
	"llm_chat/internal/config"
	"llm_chat/internal/effects"
	"llm_chat/internal/models"
	"llm_chat/internal/storage"
	"llm_chat/internal/utils"
)

// Service owns thread and message mutations and keeps the denormalized
// cache entries in step with them. Cache writes and invalidations are
// deferred until the current response has been written.
type Service struct {
	repo   storage.Repository
	cache  cache.Store
	ttl    config.CacheConfig
	logger *utils.Logger
	now    func() time.Time
	newID  func() string
}

// NewService creates a thread service
func NewService(repo storage.Repository, store cache.Store, ttl config.CacheConfig) *Service {
	return &Service{
		repo:   repo,
		cache:  store,
		ttl:    ttl,
		logger: utils.NewLogger("threads"),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
}

// CreateThread creates a thread owned by userID. An empty id is generated.
func (s *Service) CreateThread(ctx context.Context, userID, id, title string) (*models.Thread, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	thread := &models.Thread{ID: id, UserID: userID, Title: strings.TrimSpace(title)}
	if err := s.repo.CreateThread(ctx, thread); err != nil {
		return nil, fromStorage(err)
	}
	s.invalidate(ctx, cache.UserThreadsKey(userID))
	return thread, nil
}

// EnsureThread returns the user's thread, creating it when it does not
// exist yet. created reports whether it was created.
func (s *Service) EnsureThread(ctx context.Context, userID, id string) (thread *models.Thread, created bool, err error) {
	thread, err = s.repo.GetThread(ctx, id)
	switch {
	case err == nil:
		if !thread.OwnedBy(userID) {
			return nil, false, ErrNotOwner
		}
		return thread, false, nil
	case fromStorage(err) == ErrThreadNotFound:
		thread, err = s.CreateThread(ctx, userID, id, "")
		if err != nil {
			return nil, false, err
		}
		return thread, true, nil
	default:
		return nil, false, err
	}
}

// GetThread returns the thread with its messages if userID may read it.
// Private threads of other users are reported as not found.
func (s *Service) GetThread(ctx context.Context, userID, threadID string) (*models.ThreadWithMessages, error) {
	twm, err := s.loadThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if !twm.Thread.CanRead(userID) {
		return nil, ErrThreadNotFound
	}
	return twm, nil
}

// loadThread reads through the thread cache without access checks
func (s *Service) loadThread(ctx context.Context, threadID string) (*models.ThreadWithMessages, error) {
	key := cache.ThreadKey(threadID)

	var cached models.ThreadWithMessages
	found, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		s.logger.Warn("Thread cache read failed", "thread_id", threadID, "error", err)
	}
	if found {
		return &cached, nil
	}

	thread, err := s.repo.GetThread(ctx, threadID)
	if err != nil {
		return nil, fromStorage(err)
	}
	msgs, err := s.repo.GetMessages(ctx, threadID)
	if err != nil {
		return nil, fromStorage(err)
	}
	twm := &models.ThreadWithMessages{Thread: *thread, Messages: msgs}

	s.populate(ctx, key, twm, s.ttl.ThreadTTL)
	return twm, nil
}

// ListThreads returns the user's threads, most recently updated first
func (s *Service) ListThreads(ctx context.Context, userID string) ([]models.Thread, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	key := cache.UserThreadsKey(userID)

	var cached []models.Thread
	found, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		s.logger.Warn("Thread list cache read failed", "user_id", userID, "error", err)
	}
	if found {
		return cached, nil
	}

	threads, err := s.repo.ListThreadsByUser(ctx, userID)
	if err != nil {
		return nil, fromStorage(err)
	}
	s.populate(ctx, key, threads, s.ttl.ThreadListTTL)
	return threads, nil
}

// RenameThread sets the title of the user's thread
func (s *Service) RenameThread(ctx context.Context, userID, threadID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		title = models.DefaultThreadTitle
	}
	if _, err := s.OwnedThread(ctx, userID, threadID); err != nil {
		return err
	}
	return s.SetTitle(ctx, userID, threadID, title)
}

// SetTitle sets a title without an ownership check; used by the title worker
func (s *Service) SetTitle(ctx context.Context, userID, threadID, title string) error {
	if err := s.repo.UpdateThreadTitle(ctx, threadID, title); err != nil {
		return fromStorage(err)
	}
	s.invalidate(ctx, cache.ThreadKey(threadID), cache.UserThreadsKey(userID))
	return nil
}

// SetVisibility makes the user's thread public or private
func (s *Service) SetVisibility(ctx context.Context, userID, threadID string, visibility models.Visibility) error {
	if !visibility.Valid() {
		return ErrInvalidVisibility
	}
	if _, err := s.OwnedThread(ctx, userID, threadID); err != nil {
		return err
	}
	if err := s.repo.UpdateThreadVisibility(ctx, threadID, visibility); err != nil {
		return fromStorage(err)
	}
	s.invalidate(ctx, cache.ThreadKey(threadID), cache.UserThreadsKey(userID))
	return nil
}

// DeleteThread deletes the user's thread and its messages
func (s *Service) DeleteThread(ctx context.Context, userID, threadID string) error {
	if _, err := s.OwnedThread(ctx, userID, threadID); err != nil {
		return err
	}
	if err := s.repo.DeleteThread(ctx, threadID); err != nil {
		return fromStorage(err)
	}
	s.invalidate(ctx, cache.ThreadKey(threadID), cache.UserThreadsKey(userID))
	return nil
}

// SaveMessage inserts or updates a message of the user's thread
func (s *Service) SaveMessage(ctx context.Context, userID string, msg *models.Message) error {
	if !msg.Role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, msg.Role)
	}
	if _, err := s.OwnedThread(ctx, userID, msg.ThreadID); err != nil {
		return err
	}
	if err := s.repo.UpsertMessage(ctx, msg); err != nil {
		return fromStorage(err)
	}
	s.invalidate(ctx, cache.ThreadKey(msg.ThreadID), cache.UserThreadsKey(userID))
	return nil
}

// DeleteMessage deletes a single message of the user's thread
func (s *Service) DeleteMessage(ctx context.Context, userID, messageID string) error {
	msg, err := s.ownedMessage(ctx, userID, messageID)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteMessage(ctx, messageID); err != nil {
		return fromStorage(err)
	}
	s.invalidate(ctx, cache.ThreadKey(msg.ThreadID))
	return nil
}

// DeleteTrailingMessages deletes the messages after messageID. With
// inclusive the message itself is deleted too (edit and regenerate).
func (s *Service) DeleteTrailingMessages(ctx context.Context, userID, messageID string, inclusive bool) (int64, error) {
	msg, err := s.ownedMessage(ctx, userID, messageID)
	if err != nil {
		return 0, err
	}
	n, err := s.repo.DeleteTrailingMessages(ctx, msg.ThreadID, msg.CreatedAt, inclusive)
	if err != nil {
		return 0, fromStorage(err)
	}
	s.invalidate(ctx, cache.ThreadKey(msg.ThreadID))
	return n, nil
}

// Branch copies the thread up to and including messageID into a new
// thread owned by userID. Anyone who can read the origin may branch it.
// The new thread's cache entry is written before returning so the client
// navigating to it never misses.
func (s *Service) Branch(ctx context.Context, userID, threadID, messageID, newThreadID string) (*models.ThreadWithMessages, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	origin, err := s.repo.GetThread(ctx, threadID)
	if err != nil {
		return nil, fromStorage(err)
	}
	if !origin.CanRead(userID) {
		return nil, ErrThreadNotFound
	}
	if newThreadID == "" {
		newThreadID = s.newID()
	}

	branched, err := s.repo.BranchThread(ctx, storage.BranchRequest{
		OriginThreadID: threadID,
		MessageID:      messageID,
		NewThreadID:    newThreadID,
		UserID:         userID,
		Now:            s.now(),
	})
	if err != nil {
		return nil, fromStorage(err)
	}

	if err := s.cache.Set(ctx, cache.ThreadKey(newThreadID), branched, s.ttl.BranchedThreadTTL); err != nil {
		s.logger.Warn("Failed to pre-populate branched thread", "thread_id", newThreadID, "error", err)
	}
	s.invalidate(ctx, cache.UserThreadsKey(userID))

	s.logger.Info("Thread branched", "origin_thread_id", threadID, "thread_id", newThreadID,
		"messages", len(branched.Messages))
	return branched, nil
}

// OwnedThread returns the thread if userID owns it. Other users get
// ErrNotOwner for public threads and ErrThreadNotFound for private ones.
func (s *Service) OwnedThread(ctx context.Context, userID, threadID string) (*models.Thread, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	thread, err := s.repo.GetThread(ctx, threadID)
	if err != nil {
		return nil, fromStorage(err)
	}
	if !thread.OwnedBy(userID) {
		if !thread.IsPublic() {
			return nil, ErrThreadNotFound
		}
		return nil, ErrNotOwner
	}
	return thread, nil
}

func (s *Service) ownedMessage(ctx context.Context, userID, messageID string) (*models.Message, error) {
	msg, err := s.repo.GetMessage(ctx, messageID)
	if err != nil {
		return nil, fromStorage(err)
	}
	if _, err := s.OwnedThread(ctx, userID, msg.ThreadID); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *Service) populate(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	effects.ScheduleAfterResponse(ctx, "cache-populate", func(ctx context.Context) error {
		return s.cache.Set(ctx, key, value, ttl)
	})
}

func (s *Service) invalidate(ctx context.Context, keys ...string) {
	effects.ScheduleAfterResponse(ctx, "cache-invalidate", func(ctx context.Context) error {
		return s.cache.Delete(ctx, keys...)
	})
}
