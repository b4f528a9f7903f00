package shell

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"llm_chat/internal/apperr"
	"llm_chat/internal/models"
	"llm_chat/internal/optimistic"
	"llm_chat/internal/utils"
)

// PlaceholderTitle is shown for a branch until the server answers
const PlaceholderTitle = "Cloning..."

const (
	msgBranchForbidden = "You are not allowed to branch this thread."
	msgBranchNotFound  = "The thread or message no longer exists."
	msgBranchFailed    = "Failed to branch thread. Please try again."
)

// ErrBranchInFlight is returned when a branch is triggered while another one runs
var ErrBranchInFlight = errors.New("a branch is already in progress")

// BranchState is the phase of the branch-out state machine
type BranchState string

const (
	BranchIdle    BranchState = "idle"
	Branching     BranchState = "branching"
	BranchSuccess BranchState = "settled-success"
	BranchFailed  BranchState = "settled-error"
)

// BranchAPI performs the server side of a branch
type BranchAPI interface {
	Branch(ctx context.Context, threadID, messageID, newThreadID string) (*models.ThreadWithMessages, error)
}

// BranchError carries the message shown to the user
type BranchError struct {
	Message string
	Err     error
}

func (e *BranchError) Error() string { return e.Message + ": " + e.Err.Error() }
func (e *BranchError) Unwrap() error { return e.Err }

// BranchErrorMessage maps a branch failure to its user-facing message
func BranchErrorMessage(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Type() {
		case apperr.Unauthorized, apperr.Forbidden:
			return msgBranchForbidden
		case apperr.NotFound:
			return msgBranchNotFound
		}
		switch apiErr.StatusCode {
		case 401, 403:
			return msgBranchForbidden
		case 404:
			return msgBranchNotFound
		}
	}
	return msgBranchFailed
}

// Brancher drives branch-out from an assistant message:
// idle -> branching -> settled-success | settled-error.
type Brancher struct {
	api      BranchAPI
	list     *ThreadList
	navigate func(threadID string)
	newID    func() string
	now      func() time.Time
	logger   *utils.Logger

	mu      sync.Mutex
	state   BranchState
	message string
}

// NewBrancher creates a brancher over the cached thread list. navigate is
// called with the new thread id as soon as the placeholder is inserted.
func NewBrancher(api BranchAPI, list *ThreadList, navigate func(threadID string)) *Brancher {
	if navigate == nil {
		navigate = func(string) {}
	}
	return &Brancher{
		api:      api,
		list:     list,
		navigate: navigate,
		newID:    uuid.NewString,
		now:      time.Now,
		logger:   utils.NewLogger("brancher"),
		state:    BranchIdle,
	}
}

// State returns the current phase
func (b *Brancher) State() BranchState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Message returns the user-facing message of the last failure
func (b *Brancher) Message() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.message
}

func (b *Brancher) settle(state BranchState, message string) {
	b.mu.Lock()
	b.state = state
	b.message = message
	b.mu.Unlock()
}

// Branch copies threadID up to and including messageID into a new thread.
// It returns ErrBranchInFlight without side effects while another branch runs.
func (b *Brancher) Branch(ctx context.Context, threadID, messageID string) (*models.ThreadWithMessages, error) {
	b.mu.Lock()
	if b.state == Branching {
		b.mu.Unlock()
		return nil, ErrBranchInFlight
	}
	b.state = Branching
	b.message = ""
	b.mu.Unlock()

	newID := b.newID()
	now := b.now().UTC()
	origin := threadID
	placeholder := models.Thread{
		ID:             newID,
		Title:          PlaceholderTitle,
		Visibility:     models.VisibilityPrivate,
		OriginThreadID: &origin,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	res, err := optimistic.Mutate(ctx, optimistic.Mutation[[]models.Thread, *models.ThreadWithMessages]{
		Snapshot: b.list.Snapshot,
		Apply: func() {
			b.list.Prepend(placeholder)
			b.navigate(newID)
		},
		Remote: func(ctx context.Context) (*models.ThreadWithMessages, error) {
			return b.api.Branch(ctx, threadID, messageID, newID)
		},
		Rollback: b.list.Replace,
		Settled: func(twm *models.ThreadWithMessages) {
			b.list.Upsert(twm.Thread)
		},
	})
	if err != nil {
		msg := BranchErrorMessage(err)
		b.logger.Warn("Branch failed", "thread_id", threadID, "message_id", messageID, "error", err)
		b.settle(BranchFailed, msg)
		return nil, &BranchError{Message: msg, Err: err}
	}

	b.settle(BranchSuccess, "")
	return res, nil
}
