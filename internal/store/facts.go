package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Fact is one remembered key/value pair for a user.
type Fact struct {
	UserID    string    `json:"user_id"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UpsertFact stores a fact, replacing any previous value for the key.
func (s *Store) UpsertFact(ctx context.Context, userID, key, value string) error {
	now := formatTime(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO facts (user_id, key, value, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, key)
		DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		userID, key, value, now, now)
	if err != nil {
		return fmt.Errorf("upsert fact: %w", err)
	}
	return nil
}

// Fact returns one fact by key, or ("", false) when unknown.
func (s *Store) Fact(ctx context.Context, userID, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM facts WHERE user_id = ? AND key = ?`, userID, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("query fact: %w", err)
	}
	return value, true, nil
}

// FactsForUser returns all of the user's facts ordered by key.
func (s *Store) FactsForUser(ctx context.Context, userID string) ([]*Fact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, key, value, created_at, updated_at
		FROM facts WHERE user_id = ? ORDER BY key ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query facts: %w", err)
	}
	defer rows.Close()

	var facts []*Fact
	for rows.Next() {
		var (
			fact      Fact
			createdAt string
			updatedAt string
		)
		if err := rows.Scan(&fact.UserID, &fact.Key, &fact.Value, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		if fact.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("decode created_at for fact %s: %w", fact.Key, err)
		}
		if fact.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("decode updated_at for fact %s: %w", fact.Key, err)
		}
		facts = append(facts, &fact)
	}
	return facts, rows.Err()
}

// DeleteFact forgets one fact. Unknown keys are a no-op.
func (s *Store) DeleteFact(ctx context.Context, userID, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM facts WHERE user_id = ? AND key = ?`, userID, key); err != nil {
		return fmt.Errorf("delete fact: %w", err)
	}
	return nil
}
