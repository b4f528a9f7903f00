package models

import "time"

// Visibility controls who can read a thread through its share URL
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
)

// Valid reports whether v is a known visibility
func (v Visibility) Valid() bool {
	return v == VisibilityPrivate || v == VisibilityPublic
}

// DefaultThreadTitle is the title of a thread before the title worker runs
const DefaultThreadTitle = "New Chat"

// Thread represents a conversation (threads table)
type Thread struct {
	ID             string     `db:"id" json:"id"`
	UserID         string     `db:"user_id" json:"userId"`
	Title          string     `db:"title" json:"title"`
	Visibility     Visibility `db:"visibility" json:"visibility"`
	OriginThreadID *string    `db:"origin_thread_id" json:"originThreadId,omitempty"` // set when created by branch-out
	CreatedAt      time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updatedAt"`
}

// OwnedBy checks if userID owns the thread
func (t *Thread) OwnedBy(userID string) bool {
	return userID != "" && t.UserID == userID
}

// IsPublic checks if the thread is readable by anyone
func (t *Thread) IsPublic() bool {
	return t.Visibility == VisibilityPublic
}

// CanRead checks if userID may read the thread
func (t *Thread) CanRead(userID string) bool {
	return t.IsPublic() || t.OwnedBy(userID)
}

// IsBranch checks if the thread was created by branching another one
func (t *Thread) IsBranch() bool {
	return t.OriginThreadID != nil && *t.OriginThreadID != ""
}

// ThreadWithMessages is the denormalized read model cached per thread
type ThreadWithMessages struct {
	Thread   Thread    `json:"thread"`
	Messages []Message `json:"messages"`
}
