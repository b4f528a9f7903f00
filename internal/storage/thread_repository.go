package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"llm_chat/internal/models"
)

const threadColumns = `id, user_id, title, visibility, origin_thread_id, created_at, updated_at`

// PostgresRepository implements Repository on top of sqlx
type PostgresRepository struct {
	db *DB
}

// NewPostgresRepository creates a new Postgres repository
func NewPostgresRepository(db *DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateThread inserts a new thread
func (r *PostgresRepository) CreateThread(ctx context.Context, thread *models.Thread) error {
	query := `
		INSERT INTO threads (id, user_id, title, visibility, origin_thread_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`

	if thread.ID == "" {
		thread.ID = uuid.NewString()
	}
	if thread.Title == "" {
		thread.Title = models.DefaultThreadTitle
	}
	if thread.Visibility == "" {
		thread.Visibility = models.VisibilityPrivate
	}

	err := r.db.conn.QueryRowxContext(
		ctx, query,
		thread.ID, thread.UserID, thread.Title, thread.Visibility, thread.OriginThreadID,
	).Scan(&thread.CreatedAt, &thread.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrThreadExists
		}
		return fmt.Errorf("failed to create thread: %w", err)
	}

	return nil
}

// GetThread retrieves a thread by ID
func (r *PostgresRepository) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	var thread models.Thread
	query := `SELECT ` + threadColumns + ` FROM threads WHERE id = $1`

	err := r.db.conn.GetContext(ctx, &thread, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrThreadNotFound
		}
		return nil, fmt.Errorf("failed to get thread: %w", err)
	}

	return &thread, nil
}

// ListThreadsByUser returns the user's threads, most recently updated first
func (r *PostgresRepository) ListThreadsByUser(ctx context.Context, userID string) ([]models.Thread, error) {
	query := `
		SELECT ` + threadColumns + `
		FROM threads
		WHERE user_id = $1
		ORDER BY updated_at DESC, id
	`

	threads := []models.Thread{}
	if err := r.db.conn.SelectContext(ctx, &threads, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}

	return threads, nil
}

// UpdateThreadTitle sets the thread title
func (r *PostgresRepository) UpdateThreadTitle(ctx context.Context, id, title string) error {
	return r.updateThread(ctx, "title", id, title)
}

// UpdateThreadVisibility sets the thread visibility
func (r *PostgresRepository) UpdateThreadVisibility(ctx context.Context, id string, visibility models.Visibility) error {
	return r.updateThread(ctx, "visibility", id, visibility)
}

func (r *PostgresRepository) updateThread(ctx context.Context, column, id string, value interface{}) error {
	query := fmt.Sprintf(`UPDATE threads SET %s = $2, updated_at = now() WHERE id = $1`, column)

	result, err := r.db.conn.ExecContext(ctx, query, id, value)
	if err != nil {
		return fmt.Errorf("failed to update thread %s: %w", column, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return ErrThreadNotFound
	}

	return nil
}

// DeleteThread deletes a thread; messages cascade and branches keep a NULL origin
func (r *PostgresRepository) DeleteThread(ctx context.Context, id string) error {
	result, err := r.db.conn.ExecContext(ctx, "DELETE FROM threads WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete thread: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return ErrThreadNotFound
	}

	return nil
}

// BranchThread copies messages into a new thread inside one transaction
func (r *PostgresRepository) BranchThread(ctx context.Context, req BranchRequest) (*models.ThreadWithMessages, error) {
	if req.Now.IsZero() {
		req.Now = time.Now().UTC()
	}

	var thread models.Thread
	var copies []models.Message
	err := r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		var origin models.Thread
		err := tx.GetContext(ctx, &origin, `SELECT `+threadColumns+` FROM threads WHERE id = $1`, req.OriginThreadID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrThreadNotFound
			}
			return fmt.Errorf("failed to get origin thread: %w", err)
		}

		var src []models.Message
		err = tx.SelectContext(ctx, &src, `
			SELECT `+messageColumns+`
			FROM messages
			WHERE thread_id = $1
			  AND created_at <= (SELECT created_at FROM messages WHERE id = $2 AND thread_id = $1)
			ORDER BY created_at, id
		`, req.OriginThreadID, req.MessageID)
		if err != nil {
			return fmt.Errorf("failed to read origin messages: %w", err)
		}
		src, ok := upTo(src, req.MessageID)
		if !ok {
			return ErrMessageNotFound
		}

		title := req.Title
		if title == "" {
			title = origin.Title
		}
		originID := origin.ID
		thread = models.Thread{
			ID:             req.NewThreadID,
			UserID:         req.UserID,
			Title:          title,
			Visibility:     models.VisibilityPrivate,
			OriginThreadID: &originID,
			CreatedAt:      req.Now,
			UpdatedAt:      req.Now,
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO threads (id, user_id, title, visibility, origin_thread_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, thread.ID, thread.UserID, thread.Title, thread.Visibility, thread.OriginThreadID, thread.CreatedAt, thread.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrThreadExists
			}
			return fmt.Errorf("failed to create branch thread: %w", err)
		}

		copies = branchCopies(req, src)
		for i := range copies {
			if _, err := tx.NamedExecContext(ctx, insertMessageQuery, &copies[i]); err != nil {
				return fmt.Errorf("failed to copy message %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &models.ThreadWithMessages{Thread: thread, Messages: copies}, nil
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
