package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/noble1911/butler/internal/agent"
)

// AppendExchange records one user turn and the assistant's reply as a
// single transaction, so history never holds a dangling user message.
func (s *Store) AppendExchange(ctx context.Context, userID, userText, assistantText string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	const q = `INSERT INTO messages (id, user_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, q, uuid.NewString(), userID, "user", userText, formatTime(now)); err != nil {
		return fmt.Errorf("insert user message: %w", err)
	}
	if _, err := tx.ExecContext(ctx, q, uuid.NewString(), userID, "assistant", assistantText, formatTime(now.Add(time.Microsecond))); err != nil {
		return fmt.Errorf("insert assistant message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// History returns the user's most recent messages in chronological
// order, at most limit entries.
func (s *Store) History(ctx context.Context, userID string, limit int) ([]agent.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content FROM (
			SELECT role, content, created_at, rowid FROM messages
			WHERE user_id = ?
			ORDER BY created_at DESC, rowid DESC
			LIMIT ?
		) ORDER BY created_at ASC, rowid ASC`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var history []agent.Message
	for rows.Next() {
		var msg agent.Message
		if err := rows.Scan(&msg.Role, &msg.Content); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		history = append(history, msg)
	}
	return history, rows.Err()
}

// ClearHistory deletes all of the user's messages.
func (s *Store) ClearHistory(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}
