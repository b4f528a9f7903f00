package storage

import (
	"context"
	"fmt"
)

// migrations are applied in order; each statement is idempotent.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS threads (
		id               TEXT PRIMARY KEY,
		user_id          TEXT NOT NULL,
		title            TEXT NOT NULL DEFAULT 'New Chat',
		visibility       TEXT NOT NULL DEFAULT 'private' CHECK (visibility IN ('private', 'public')),
		origin_thread_id TEXT REFERENCES threads(id) ON DELETE SET NULL,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_threads_user_updated ON threads (user_id, updated_at DESC)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id            TEXT PRIMARY KEY,
		thread_id     TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
		role          TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'system', 'data')),
		content       TEXT NOT NULL DEFAULT '',
		parts         JSONB NOT NULL DEFAULT '[]'::jsonb,
		model_key     TEXT,
		status        TEXT NOT NULL DEFAULT 'done'
		              CHECK (status IN ('pending', 'streaming', 'done', 'error', 'stopped')),
		error_message TEXT,
		attachments   TEXT[] NOT NULL DEFAULT '{}',
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_thread_created ON messages (thread_id, created_at, id)`,
}

// Migrate creates or updates the schema
func (db *DB) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
