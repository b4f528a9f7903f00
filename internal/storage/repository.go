package storage

import (
	"context"
	"fmt"
	"time"

	"llm_chat/internal/models"
)

// Repository is the persistence contract for threads and messages.
// Messages of a thread are always returned ordered by created_at, then id.
type Repository interface {
	CreateThread(ctx context.Context, thread *models.Thread) error
	GetThread(ctx context.Context, id string) (*models.Thread, error)
	ListThreadsByUser(ctx context.Context, userID string) ([]models.Thread, error)
	UpdateThreadTitle(ctx context.Context, id, title string) error
	UpdateThreadVisibility(ctx context.Context, id string, visibility models.Visibility) error
	// DeleteThread removes the thread and its messages. Branches of the
	// thread keep existing with their origin cleared.
	DeleteThread(ctx context.Context, id string) error

	GetMessages(ctx context.Context, threadID string) ([]models.Message, error)
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	UpsertMessage(ctx context.Context, msg *models.Message) error
	DeleteMessage(ctx context.Context, id string) error
	// DeleteTrailingMessages deletes messages of threadID created after at
	// (created_at > at), or at and after it when inclusive (created_at >= at).
	DeleteTrailingMessages(ctx context.Context, threadID string, at time.Time, inclusive bool) (int64, error)

	// BranchThread copies the origin's messages up to and including
	// req.MessageID into a new thread owned by req.UserID.
	BranchThread(ctx context.Context, req BranchRequest) (*models.ThreadWithMessages, error)
}

// BranchRequest describes a branch-out
type BranchRequest struct {
	OriginThreadID string
	MessageID      string
	NewThreadID    string
	UserID         string
	Title          string // defaults to the origin's title
	Now            time.Time
}

// BranchMessageID returns the synthetic id of the index-th copied message
func BranchMessageID(newThreadID string, index int) string {
	return fmt.Sprintf("%s-msg-%d", newThreadID, index)
}

// branchCopies builds the copied messages of a branch. Each copy gets a
// synthetic id and a timestamp one millisecond after the previous one so
// the original relative order survives.
func branchCopies(req BranchRequest, src []models.Message) []models.Message {
	out := make([]models.Message, 0, len(src))
	for i, m := range src {
		ts := req.Now.Add(time.Duration(i) * time.Millisecond)
		c := m
		c.ID = BranchMessageID(req.NewThreadID, i)
		c.ThreadID = req.NewThreadID
		c.CreatedAt = ts
		c.UpdatedAt = ts
		if !c.Status.Terminal() {
			// An in-flight copy would never be finished by anyone.
			c.Status = models.StatusStopped
		}
		c.Parts = append(models.MessageParts(nil), m.Parts...)
		c.Attachments = append([]string(nil), m.Attachments...)
		out = append(out, c)
	}
	return out
}

// upTo returns the prefix of msgs ending with the message with the given id
func upTo(msgs []models.Message, messageID string) ([]models.Message, bool) {
	for i, m := range msgs {
		if m.ID == messageID {
			return msgs[:i+1], true
		}
	}
	return nil, false
}
