package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is one calendar entry.
type Event struct {
	ID       string     `json:"id"`
	UserID   string     `json:"user_id"`
	Title    string     `json:"title"`
	StartsAt time.Time  `json:"starts_at"`
	EndsAt   *time.Time `json:"ends_at,omitempty"`
	Location string     `json:"location,omitempty"`
	Notes    string     `json:"notes,omitempty"`
}

// AddEvent persists a calendar event, assigning an ID when absent.
func (s *Store) AddEvent(ctx context.Context, event *Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO calendar_events (id, user_id, title, starts_at, ends_at, location, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.UserID, event.Title, formatTime(event.StartsAt),
		nullableTime(event.EndsAt), event.Location, event.Notes, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// EventsBetween returns the user's events starting within [from, to),
// earliest first.
func (s *Store) EventsBetween(ctx context.Context, userID string, from, to time.Time) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, starts_at, ends_at, location, notes
		FROM calendar_events
		WHERE user_id = ? AND starts_at >= ? AND starts_at < ?
		ORDER BY starts_at ASC`,
		userID, formatTime(from), formatTime(to))
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var (
			event    Event
			startsAt string
			endsAt   sql.NullString
			location sql.NullString
			notes    sql.NullString
		)
		if err := rows.Scan(&event.ID, &event.UserID, &event.Title, &startsAt, &endsAt, &location, &notes); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if event.StartsAt, err = parseTime(startsAt); err != nil {
			return nil, fmt.Errorf("decode starts_at for event %s: %w", event.ID, err)
		}
		if event.EndsAt, err = scanNullableTime(endsAt); err != nil {
			return nil, fmt.Errorf("decode ends_at for event %s: %w", event.ID, err)
		}
		event.Location = location.String
		event.Notes = notes.String
		events = append(events, &event)
	}
	return events, rows.Err()
}

// DeleteEvent removes one event scoped to the user. Unknown IDs are a
// no-op.
func (s *Store) DeleteEvent(ctx context.Context, userID, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM calendar_events WHERE id = ? AND user_id = ?`, id, userID); err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	return nil
}
