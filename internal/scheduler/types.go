// Package scheduler polls persisted tasks on a fixed interval and
// executes the due ones: reminders, tool automations, and health
// checks with conditional notification.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ActionType identifies the handler for a scheduled task.
type ActionType string

const (
	ActionReminder   ActionType = "reminder"
	ActionAutomation ActionType = "automation"
	ActionCheck      ActionType = "check"
)

// NotifyPolicy decides when a check action notifies.
type NotifyPolicy string

const (
	NotifyAlways   NotifyPolicy = "always"
	NotifyWarning  NotifyPolicy = "warning"
	NotifyCritical NotifyPolicy = "critical"
)

// ReminderAction delivers a notification.
type ReminderAction struct {
	Message  string `json:"message"`
	Category string `json:"category,omitempty"`
	Channel  string `json:"channel,omitempty"`
}

// AutomationAction invokes a named tool; no notification.
type AutomationAction struct {
	Tool   string          `json:"tool"`
	Params json.RawMessage `json:"params,omitempty"`
}

// CheckAction invokes a named tool and notifies according to the
// severity markers found in its output.
type CheckAction struct {
	Tool     string          `json:"tool"`
	Params   json.RawMessage `json:"params,omitempty"`
	NotifyOn NotifyPolicy    `json:"notifyOn,omitempty"`
	Channel  string          `json:"channel,omitempty"`
	Category string          `json:"category,omitempty"`
}

// Action is the tagged payload of a scheduled task. Exactly one variant
// is set, matching Type. Validation happens at decode time so an
// unknown type or missing field is an error, not a silently ignored
// key.
type Action struct {
	Type       ActionType
	Reminder   *ReminderAction
	Automation *AutomationAction
	Check      *CheckAction
}

// UnmarshalJSON decodes the wire form
// {"type": "reminder"|"automation"|"check", ...flat fields}.
func (a *Action) UnmarshalJSON(data []byte) error {
	var tag struct {
		Type ActionType `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return err
	}

	switch tag.Type {
	case ActionReminder:
		var reminder ReminderAction
		if err := json.Unmarshal(data, &reminder); err != nil {
			return err
		}
		if strings.TrimSpace(reminder.Message) == "" {
			return fmt.Errorf("reminder action missing message")
		}
		*a = Action{Type: ActionReminder, Reminder: &reminder}
	case ActionAutomation:
		var automation AutomationAction
		if err := json.Unmarshal(data, &automation); err != nil {
			return err
		}
		if strings.TrimSpace(automation.Tool) == "" {
			return fmt.Errorf("automation action missing tool")
		}
		*a = Action{Type: ActionAutomation, Automation: &automation}
	case ActionCheck:
		var check CheckAction
		if err := json.Unmarshal(data, &check); err != nil {
			return err
		}
		if strings.TrimSpace(check.Tool) == "" {
			return fmt.Errorf("check action missing tool")
		}
		if check.NotifyOn == "" {
			check.NotifyOn = NotifyAlways
		}
		switch check.NotifyOn {
		case NotifyAlways, NotifyWarning, NotifyCritical:
		default:
			return fmt.Errorf("check action has unknown notifyOn %q", check.NotifyOn)
		}
		*a = Action{Type: ActionCheck, Check: &check}
	default:
		return fmt.Errorf("unsupported action type %q", tag.Type)
	}
	return nil
}

// MarshalJSON re-emits the wire form.
func (a Action) MarshalJSON() ([]byte, error) {
	switch a.Type {
	case ActionReminder:
		if a.Reminder == nil {
			return nil, fmt.Errorf("reminder action missing payload")
		}
		return json.Marshal(struct {
			Type ActionType `json:"type"`
			*ReminderAction
		}{a.Type, a.Reminder})
	case ActionAutomation:
		if a.Automation == nil {
			return nil, fmt.Errorf("automation action missing payload")
		}
		return json.Marshal(struct {
			Type ActionType `json:"type"`
			*AutomationAction
		}{a.Type, a.Automation})
	case ActionCheck:
		if a.Check == nil {
			return nil, fmt.Errorf("check action missing payload")
		}
		return json.Marshal(struct {
			Type ActionType `json:"type"`
			*CheckAction
		}{a.Type, a.Check})
	default:
		return nil, fmt.Errorf("unsupported action type %q", a.Type)
	}
}

// Task is a persisted scheduled job. The scheduler reads tasks and
// advances their timestamps; creation and deletion belong to an
// external owner.
type Task struct {
	ID       string
	UserID   string
	Name     string
	CronExpr *string
	Action   Action
	Enabled  bool
	LastRun  *time.Time
	NextRun  *time.Time
}

// Store is the persistence boundary the scheduler polls.
type Store interface {
	// DueTasks returns enabled tasks with next_run <= now, ordered by
	// next_run ascending (earliest-due first).
	DueTasks(ctx context.Context, now time.Time) ([]*Task, error)

	// UpdateRun records an execution: last_run is set and next_run
	// replaced (nil disables future runs).
	UpdateRun(ctx context.Context, id string, lastRun time.Time, nextRun *time.Time) error
}

// ToolRunner executes a named tool with JSON parameters.
type ToolRunner interface {
	Execute(ctx context.Context, name string, params json.RawMessage) (string, error)
}

// Notifier routes a notification through the configured channels.
// channel selects push (default), whatsapp, or both.
type Notifier interface {
	Notify(ctx context.Context, channel, userID, title, body, category string) int
}
