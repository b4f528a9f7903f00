package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"llm_chat/internal/models"
)

const messageColumns = `id, thread_id, role, content, parts, model_key, status, error_message,
	attachments, created_at, updated_at`

const insertMessageQuery = `
	INSERT INTO messages (id, thread_id, role, content, parts, model_key, status,
	                      error_message, attachments, created_at, updated_at)
	VALUES (:id, :thread_id, :role, :content, :parts, :model_key, :status,
	        :error_message, :attachments, :created_at, :updated_at)
`

// GetMessages returns the thread's messages in creation order
func (r *PostgresRepository) GetMessages(ctx context.Context, threadID string) ([]models.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE thread_id = $1
		ORDER BY created_at, id
	`

	messages := []models.Message{}
	if err := r.db.conn.SelectContext(ctx, &messages, query, threadID); err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}

	return messages, nil
}

// GetMessage retrieves a message by ID
func (r *PostgresRepository) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	var msg models.Message
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`

	if err := r.db.conn.GetContext(ctx, &msg, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	return &msg, nil
}

// UpsertMessage inserts the message or updates its mutable columns by id.
// created_at and thread_id of an existing row are never changed.
func (r *PostgresRepository) UpsertMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Status == "" {
		msg.Status = models.StatusDone
	}
	now := time.Now().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.UpdatedAt = now
	if msg.Attachments == nil {
		msg.Attachments = []string{}
	}

	return r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		query := `
			INSERT INTO messages (id, thread_id, role, content, parts, model_key, status,
			                      error_message, attachments, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (id) DO UPDATE
			SET content = EXCLUDED.content,
			    parts = EXCLUDED.parts,
			    model_key = EXCLUDED.model_key,
			    status = EXCLUDED.status,
			    error_message = EXCLUDED.error_message,
			    attachments = EXCLUDED.attachments,
			    updated_at = EXCLUDED.updated_at
			WHERE messages.thread_id = EXCLUDED.thread_id
			RETURNING created_at
		`
		err := tx.QueryRowxContext(
			ctx, query,
			msg.ID, msg.ThreadID, msg.Role, msg.Content, msg.Parts, msg.ModelKey, msg.Status,
			msg.ErrorMessage, msg.Attachments, msg.CreatedAt, msg.UpdatedAt,
		).Scan(&msg.CreatedAt)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrMessageThreadMismatch
			}
			if isForeignKeyViolation(err) {
				return ErrThreadNotFound
			}
			return fmt.Errorf("failed to upsert message: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `UPDATE threads SET updated_at = $2 WHERE id = $1`, msg.ThreadID, now); err != nil {
			return fmt.Errorf("failed to touch thread: %w", err)
		}
		return nil
	})
}

// DeleteMessage deletes a single message
func (r *PostgresRepository) DeleteMessage(ctx context.Context, id string) error {
	result, err := r.db.conn.ExecContext(ctx, "DELETE FROM messages WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return ErrMessageNotFound
	}

	return nil
}

// DeleteTrailingMessages deletes messages after (or at and after) the given time
func (r *PostgresRepository) DeleteTrailingMessages(ctx context.Context, threadID string, at time.Time, inclusive bool) (int64, error) {
	query := `DELETE FROM messages WHERE thread_id = $1 AND created_at > $2`
	if inclusive {
		query = `DELETE FROM messages WHERE thread_id = $1 AND created_at >= $2`
	}

	result, err := r.db.conn.ExecContext(ctx, query, threadID, at)
	if err != nil {
		return 0, fmt.Errorf("failed to delete trailing messages: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}
