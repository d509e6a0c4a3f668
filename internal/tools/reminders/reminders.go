// Package reminders lets the agent schedule, list, and cancel
// reminders, backed by the scheduled-task store.
package reminders

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/noble1911/butler/internal/auth"
	"github.com/noble1911/butler/internal/scheduler"
)

// TaskStore is the slice of task persistence the reminder tools need.
type TaskStore interface {
	CreateTask(ctx context.Context, task *scheduler.Task) error
	TasksForUser(ctx context.Context, userID string) ([]*scheduler.Task, error)
	DeleteTask(ctx context.Context, userID, id string) error
}

func userID(ctx context.Context) (string, error) {
	user, ok := auth.UserFromContext(ctx)
	if !ok {
		return "", fmt.Errorf("no user in request context")
	}
	return user.ID, nil
}

// SetTool creates a one-shot or recurring reminder.
type SetTool struct {
	store TaskStore
	now   func() time.Time
}

func NewSetTool(store TaskStore) *SetTool {
	return &SetTool{store: store, now: time.Now}
}

func (t *SetTool) Name() string { return "reminder_set" }

func (t *SetTool) Description() string {
	return "Set a reminder. Use 'when' for a single reminder ('in 20 minutes', '15:04', RFC 3339) or 'cron' for a recurring one (e.g. '0 8 * * *')."
}

func (t *SetTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "message": { "type": "string", "description": "The reminder text to deliver." },
    "when": { "type": "string", "description": "One-shot trigger: 'in X minutes/hours/days', 'HH:MM', or an RFC 3339 timestamp." },
    "cron": { "type": "string", "description": "Recurring schedule as a cron expression. Exactly one of when/cron." },
    "title": { "type": "string", "description": "Optional short name for the reminder." },
    "channel": { "type": "string", "description": "Delivery channel: push (default), whatsapp, or both." }
  },
  "required": ["message"]
}`)
}

func (t *SetTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	uid, err := userID(ctx)
	if err != nil {
		return "", err
	}

	var input struct {
		Message string `json:"message"`
		When    string `json:"when"`
		Cron    string `json:"cron"`
		Title   string `json:"title"`
		Channel string `json:"channel"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}
	if strings.TrimSpace(input.Message) == "" {
		return "", fmt.Errorf("message is required")
	}
	if (input.When == "") == (input.Cron == "") {
		return "", fmt.Errorf("exactly one of when or cron is required")
	}

	now := t.now()
	task := &scheduler.Task{
		ID:      uuid.NewString(),
		UserID:  uid,
		Name:    reminderName(input.Title, input.Message),
		Enabled: true,
		Action: scheduler.Action{
			Type: scheduler.ActionReminder,
			Reminder: &scheduler.ReminderAction{
				Message: input.Message,
				Channel: input.Channel,
			},
		},
	}

	if input.Cron != "" {
		nextRun, err := scheduler.NextRun(&input.Cron, now)
		if err != nil {
			return "", fmt.Errorf("invalid cron expression: %w", err)
		}
		task.CronExpr = &input.Cron
		task.NextRun = nextRun
	} else {
		triggerAt, err := parseWhen(input.When, now)
		if err != nil {
			return "", fmt.Errorf("invalid time: %w", err)
		}
		if triggerAt.Before(now) {
			return "", fmt.Errorf("cannot set a reminder in the past")
		}
		task.NextRun = &triggerAt
	}

	if err := t.store.CreateTask(ctx, task); err != nil {
		return "", err
	}

	if task.NextRun == nil {
		return fmt.Sprintf("Reminder %q saved (id %s), but its schedule has no upcoming run.", task.Name, task.ID), nil
	}
	return fmt.Sprintf("Reminder %q set for %s (id %s).",
		task.Name, task.NextRun.Format("Mon Jan 2 15:04"), task.ID), nil
}

// ListTool lists the user's scheduled tasks.
type ListTool struct {
	store TaskStore
}

func NewListTool(store TaskStore) *ListTool { return &ListTool{store: store} }

func (t *ListTool) Name() string { return "reminder_list" }

func (t *ListTool) Description() string {
	return "List the user's scheduled reminders and tasks with their IDs and next run times."
}

func (t *ListTool) Schema() json.RawMessage {
	return json.RawMessage(`{ "type": "object", "properties": {} }`)
}

func (t *ListTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	uid, err := userID(ctx)
	if err != nil {
		return "", err
	}

	tasks, err := t.store.TasksForUser(ctx, uid)
	if err != nil {
		return "", err
	}
	if len(tasks) == 0 {
		return "No reminders or scheduled tasks.", nil
	}

	var sb strings.Builder
	for _, task := range tasks {
		next := "unscheduled"
		if task.NextRun != nil {
			next = task.NextRun.Format("Mon Jan 2 15:04")
		}
		state := ""
		if !task.Enabled {
			state = " (disabled)"
		}
		fmt.Fprintf(&sb, "%s — %s, next %s%s\n", task.ID, task.Name, next, state)
	}
	return sb.String(), nil
}

// CancelTool deletes a reminder by ID.
type CancelTool struct {
	store TaskStore
}

func NewCancelTool(store TaskStore) *CancelTool { return &CancelTool{store: store} }

func (t *CancelTool) Name() string { return "reminder_cancel" }

func (t *CancelTool) Description() string {
	return "Cancel a reminder or scheduled task by its ID."
}

func (t *CancelTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "id": { "type": "string", "description": "ID of the reminder to cancel (see reminder_list)." }
  },
  "required": ["id"]
}`)
}

func (t *CancelTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	uid, err := userID(ctx)
	if err != nil {
		return "", err
	}

	var input struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}
	if strings.TrimSpace(input.ID) == "" {
		return "", fmt.Errorf("id is required")
	}

	if err := t.store.DeleteTask(ctx, uid, input.ID); err != nil {
		return "", err
	}
	return fmt.Sprintf("Cancelled %s.", input.ID), nil
}

func reminderName(title, message string) string {
	if title != "" {
		return title
	}
	if len(message) > 40 {
		return message[:37] + "..."
	}
	return message
}

var relativePattern = regexp.MustCompile(`^in\s+(\d+)\s*(seconds?|secs?|minutes?|mins?|hours?|hrs?|days?)$`)

// parseWhen accepts relative phrases, bare clock times (next
// occurrence), and RFC 3339 timestamps.
func parseWhen(when string, now time.Time) (time.Time, error) {
	when = strings.TrimSpace(strings.ToLower(when))

	if m := relativePattern.FindStringSubmatch(when); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, err
		}
		var unit time.Duration
		switch {
		case strings.HasPrefix(m[2], "sec"):
			unit = time.Second
		case strings.HasPrefix(m[2], "min"):
			unit = time.Minute
		case strings.HasPrefix(m[2], "h"):
			unit = time.Hour
		default:
			unit = 24 * time.Hour
		}
		return now.Add(time.Duration(n) * unit), nil
	}

	if t, err := time.Parse("15:04", when); err == nil {
		at := time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, now.Location())
		if !at.After(now) {
			at = at.Add(24 * time.Hour)
		}
		return at, nil
	}

	if t, err := time.Parse(time.RFC3339, strings.ToUpper(when)); err == nil {
		return t, nil
	}

	return time.Time{}, fmt.Errorf("could not parse time %q", when)
}
