package shell

import (
	"context"
	"sync"

	"llm_chat/internal/models"
	"llm_chat/internal/optimistic"
)

// ThreadFetcher loads the caller's threads
type ThreadFetcher interface {
	ListThreads(ctx context.Context) ([]models.Thread, error)
}

// ThreadMutator performs thread mutations on the server
type ThreadMutator interface {
	RenameThread(ctx context.Context, threadID, title string) error
	DeleteThread(ctx context.Context, threadID string) error
}

// ThreadList is the locally cached thread list. Mutations apply
// optimistically and restore the previous list when the server rejects them.
type ThreadList struct {
	mu      sync.RWMutex
	threads []models.Thread
	stale   bool
}

// NewThreadList creates an empty list that loads on first Refresh
func NewThreadList() *ThreadList {
	return &ThreadList{stale: true}
}

// Refresh reloads the list when it was invalidated
func (l *ThreadList) Refresh(ctx context.Context, api ThreadFetcher) ([]models.Thread, error) {
	l.mu.RLock()
	stale := l.stale
	l.mu.RUnlock()
	if !stale {
		return l.Snapshot(), nil
	}

	list, err := api.ListThreads(ctx)
	if err != nil {
		return nil, err
	}
	l.Replace(list)
	return l.Snapshot(), nil
}

// Invalidate marks the list for reload
func (l *ThreadList) Invalidate() {
	l.mu.Lock()
	l.stale = true
	l.mu.Unlock()
}

// Snapshot returns a copy of the current list
func (l *ThreadList) Snapshot() []models.Thread {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]models.Thread(nil), l.threads...)
}

// Replace swaps the whole list
func (l *ThreadList) Replace(list []models.Thread) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.threads = append([]models.Thread(nil), list...)
	l.stale = false
}

// Prepend puts t at the head of the list
func (l *ThreadList) Prepend(t models.Thread) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.threads = append([]models.Thread{t}, l.threads...)
}

// Upsert replaces the entry with t's id or prepends t
func (l *ThreadList) Upsert(t models.Thread) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.threads {
		if l.threads[i].ID == t.ID {
			l.threads[i] = t
			return
		}
	}
	l.threads = append([]models.Thread{t}, l.threads...)
}

// Get returns the entry with id
func (l *ThreadList) Get(id string) (models.Thread, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, t := range l.threads {
		if t.ID == id {
			return t, true
		}
	}
	return models.Thread{}, false
}

func (l *ThreadList) update(id string, fn func(*models.Thread)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.threads {
		if l.threads[i].ID == id {
			fn(&l.threads[i])
			return
		}
	}
}

func (l *ThreadList) remove(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.threads[:0:0]
	for _, t := range l.threads {
		if t.ID != id {
			kept = append(kept, t)
		}
	}
	l.threads = kept
}

// Rename retitles a thread locally, then on the server
func (l *ThreadList) Rename(ctx context.Context, api ThreadMutator, threadID, title string) error {
	_, err := optimistic.Mutate(ctx, optimistic.Mutation[[]models.Thread, struct{}]{
		Snapshot: l.Snapshot,
		Apply:    func() { l.update(threadID, func(t *models.Thread) { t.Title = title }) },
		Remote: func(ctx context.Context) (struct{}, error) {
			return struct{}{}, api.RenameThread(ctx, threadID, title)
		},
		Rollback: l.Replace,
		Settled:  func(struct{}) { l.Invalidate() },
	})
	return err
}

// Delete drops a thread locally, then on the server
func (l *ThreadList) Delete(ctx context.Context, api ThreadMutator, threadID string) error {
	_, err := optimistic.Mutate(ctx, optimistic.Mutation[[]models.Thread, struct{}]{
		Snapshot: l.Snapshot,
		Apply:    func() { l.remove(threadID) },
		Remote: func(ctx context.Context) (struct{}, error) {
			return struct{}{}, api.DeleteThread(ctx, threadID)
		},
		Rollback: l.Replace,
		Settled:  func(struct{}) { l.Invalidate() },
	})
	return err
}
