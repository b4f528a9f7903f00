package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"llm_chat/internal/models"
)

// MemoryRepository is an in-process Repository used when no database is
// configured and in tests. It follows the same ordering and boundary rules
// as the Postgres repository.
type MemoryRepository struct {
	mu       sync.RWMutex
	threads  map[string]models.Thread
	messages map[string]models.Message
	now      func() time.Time
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		threads:  make(map[string]models.Thread),
		messages: make(map[string]models.Message),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateThread inserts a new thread
func (r *MemoryRepository) CreateThread(ctx context.Context, thread *models.Thread) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if thread.ID == "" {
		thread.ID = uuid.NewString()
	}
	if _, exists := r.threads[thread.ID]; exists {
		return ErrThreadExists
	}
	if thread.Title == "" {
		thread.Title = models.DefaultThreadTitle
	}
	if thread.Visibility == "" {
		thread.Visibility = models.VisibilityPrivate
	}
	now := r.now()
	thread.CreatedAt = now
	thread.UpdatedAt = now
	r.threads[thread.ID] = *thread
	return nil
}

// GetThread retrieves a thread by ID
func (r *MemoryRepository) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.threads[id]
	if !ok {
		return nil, ErrThreadNotFound
	}
	return &t, nil
}

// ListThreadsByUser returns the user's threads, most recently updated first
func (r *MemoryRepository) ListThreadsByUser(ctx context.Context, userID string) ([]models.Thread, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []models.Thread{}
	for _, t := range r.threads {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// UpdateThreadTitle sets the thread title
func (r *MemoryRepository) UpdateThreadTitle(ctx context.Context, id, title string) error {
	return r.updateThread(id, func(t *models.Thread) { t.Title = title })
}

// UpdateThreadVisibility sets the thread visibility
func (r *MemoryRepository) UpdateThreadVisibility(ctx context.Context, id string, visibility models.Visibility) error {
	return r.updateThread(id, func(t *models.Thread) { t.Visibility = visibility })
}

func (r *MemoryRepository) updateThread(id string, fn func(*models.Thread)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.threads[id]
	if !ok {
		return ErrThreadNotFound
	}
	fn(&t)
	t.UpdatedAt = r.now()
	r.threads[id] = t
	return nil
}

// DeleteThread deletes a thread, its messages, and clears the origin of its branches
func (r *MemoryRepository) DeleteThread(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.threads[id]; !ok {
		return ErrThreadNotFound
	}
	delete(r.threads, id)
	for mid, m := range r.messages {
		if m.ThreadID == id {
			delete(r.messages, mid)
		}
	}
	for tid, t := range r.threads {
		if t.OriginThreadID != nil && *t.OriginThreadID == id {
			t.OriginThreadID = nil
			r.threads[tid] = t
		}
	}
	return nil
}

// GetMessages returns the thread's messages in creation order
func (r *MemoryRepository) GetMessages(ctx context.Context, threadID string) ([]models.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.messagesOf(threadID), nil
}

func (r *MemoryRepository) messagesOf(threadID string) []models.Message {
	out := []models.Message{}
	for _, m := range r.messages {
		if m.ThreadID == threadID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// GetMessage retrieves a message by ID
func (r *MemoryRepository) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.messages[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	return &m, nil
}

// UpsertMessage inserts the message or updates its mutable fields by id
func (r *MemoryRepository) UpsertMessage(ctx context.Context, msg *models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	thread, ok := r.threads[msg.ThreadID]
	if !ok {
		return ErrThreadNotFound
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Status == "" {
		msg.Status = models.StatusDone
	}
	now := r.now()
	if existing, ok := r.messages[msg.ID]; ok {
		if existing.ThreadID != msg.ThreadID {
			return ErrMessageThreadMismatch
		}
		msg.CreatedAt = existing.CreatedAt
		msg.Role = existing.Role
	} else if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.UpdatedAt = now
	if msg.Attachments == nil {
		msg.Attachments = []string{}
	}
	r.messages[msg.ID] = *msg

	thread.UpdatedAt = now
	r.threads[thread.ID] = thread
	return nil
}

// DeleteMessage deletes a single message
func (r *MemoryRepository) DeleteMessage(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.messages[id]; !ok {
		return ErrMessageNotFound
	}
	delete(r.messages, id)
	return nil
}

// DeleteTrailingMessages deletes messages after (or at and after) the given time
func (r *MemoryRepository) DeleteTrailingMessages(ctx context.Context, threadID string, at time.Time, inclusive bool) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, m := range r.messages {
		if m.ThreadID != threadID {
			continue
		}
		if m.CreatedAt.After(at) || (inclusive && m.CreatedAt.Equal(at)) {
			delete(r.messages, id)
			n++
		}
	}
	return n, nil
}

// BranchThread copies messages into a new thread
func (r *MemoryRepository) BranchThread(ctx context.Context, req BranchRequest) (*models.ThreadWithMessages, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if req.Now.IsZero() {
		req.Now = r.now()
	}
	origin, ok := r.threads[req.OriginThreadID]
	if !ok {
		return nil, ErrThreadNotFound
	}
	if _, exists := r.threads[req.NewThreadID]; exists {
		return nil, ErrThreadExists
	}
	src, ok := upTo(r.messagesOf(origin.ID), req.MessageID)
	if !ok {
		return nil, ErrMessageNotFound
	}

	title := req.Title
	if title == "" {
		title = origin.Title
	}
	originID := origin.ID
	thread := models.Thread{
		ID:             req.NewThreadID,
		UserID:         req.UserID,
		Title:          title,
		Visibility:     models.VisibilityPrivate,
		OriginThreadID: &originID,
		CreatedAt:      req.Now,
		UpdatedAt:      req.Now,
	}
	r.threads[thread.ID] = thread

	copies := branchCopies(req, src)
	for _, c := range copies {
		r.messages[c.ID] = c
	}
	return &models.ThreadWithMessages{Thread: thread, Messages: copies}, nil
}
