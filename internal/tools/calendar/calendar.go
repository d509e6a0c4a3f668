// Package calendar lets the agent read and extend the user's local
// calendar.
package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/noble1911/butler/internal/auth"
	"github.com/noble1911/butler/internal/store"
)

// Store is the persistence the calendar tools need.
type Store interface {
	AddEvent(ctx context.Context, event *store.Event) error
	EventsBetween(ctx context.Context, userID string, from, to time.Time) ([]*store.Event, error)
}

func userID(ctx context.Context) (string, error) {
	user, ok := auth.UserFromContext(ctx)
	if !ok {
		return "", fmt.Errorf("no user in request context")
	}
	return user.ID, nil
}

// ListEventsTool returns upcoming events in a window.
type ListEventsTool struct {
	store Store
	now   func() time.Time
}

func NewListEventsTool(s Store) *ListEventsTool {
	return &ListEventsTool{store: s, now: time.Now}
}

func (t *ListEventsTool) Name() string { return "list_calendar_events" }

func (t *ListEventsTool) Description() string {
	return "List the user's upcoming calendar events. Defaults to the next 7 days."
}

func (t *ListEventsTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "days": { "type": "integer", "description": "How many days ahead to look (default 7).", "default": 7 }
  }
}`)
}

func (t *ListEventsTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	uid, err := userID(ctx)
	if err != nil {
		return "", err
	}

	var input struct {
		Days int `json:"days"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}
	if input.Days <= 0 {
		input.Days = 7
	}

	now := t.now()
	events, err := t.store.EventsBetween(ctx, uid, now, now.AddDate(0, 0, input.Days))
	if err != nil {
		return "", err
	}
	if len(events) == 0 {
		return fmt.Sprintf("No events in the next %d days.", input.Days), nil
	}

	var sb strings.Builder
	for _, event := range events {
		fmt.Fprintf(&sb, "%s — %s", event.StartsAt.Format("Mon Jan 2 15:04"), event.Title)
		if event.Location != "" {
			fmt.Fprintf(&sb, " (%s)", event.Location)
		}
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}

// AddEventTool creates a calendar event.
type AddEventTool struct {
	store Store
}

func NewAddEventTool(s Store) *AddEventTool { return &AddEventTool{store: s} }

func (t *AddEventTool) Name() string { return "add_calendar_event" }

func (t *AddEventTool) Description() string {
	return "Add an event to the user's calendar. Times are RFC 3339 (e.g., 2026-09-01T14:00:00+02:00)."
}

func (t *AddEventTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "title": { "type": "string", "description": "Event title." },
    "starts_at": { "type": "string", "description": "Start time, RFC 3339." },
    "ends_at": { "type": "string", "description": "Optional end time, RFC 3339." },
    "location": { "type": "string", "description": "Optional location." },
    "notes": { "type": "string", "description": "Optional free-form notes." }
  },
  "required": ["title", "starts_at"]
}`)
}

func (t *AddEventTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	uid, err := userID(ctx)
	if err != nil {
		return "", err
	}

	var input struct {
		Title    string `json:"title"`
		StartsAt string `json:"starts_at"`
		EndsAt   string `json:"ends_at"`
		Location string `json:"location"`
		Notes    string `json:"notes"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}
	if strings.TrimSpace(input.Title) == "" {
		return "", fmt.Errorf("title is required")
	}

	startsAt, err := time.Parse(time.RFC3339, input.StartsAt)
	if err != nil {
		return "", fmt.Errorf("invalid starts_at: %w", err)
	}
	var endsAt *time.Time
	if input.EndsAt != "" {
		t, err := time.Parse(time.RFC3339, input.EndsAt)
		if err != nil {
			return "", fmt.Errorf("invalid ends_at: %w", err)
		}
		endsAt = &t
	}

	event := &store.Event{
		UserID:   uid,
		Title:    input.Title,
		StartsAt: startsAt,
		EndsAt:   endsAt,
		Location: input.Location,
		Notes:    input.Notes,
	}
	if err := t.store.AddEvent(ctx, event); err != nil {
		return "", err
	}
	return fmt.Sprintf("Added %q on %s.", event.Title, startsAt.Format("Mon Jan 2 15:04")), nil
}
