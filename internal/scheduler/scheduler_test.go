package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/noble1911/butler/internal/auth"
)

type updateCall struct {
	id      string
	lastRun time.Time
	nextRun *time.Time
}

type fakeStore struct {
	mu      sync.Mutex
	due     []*Task
	dueErr  error
	updates []updateCall
}

func (s *fakeStore) DueTasks(ctx context.Context, now time.Time) ([]*Task, error) {
	return s.due, s.dueErr
}

func (s *fakeStore) UpdateRun(ctx context.Context, id string, lastRun time.Time, nextRun *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, updateCall{id, lastRun, nextRun})
	return nil
}

type fakeToolRunner struct {
	result string
	err    error

	mu       sync.Mutex
	calls    []string
	lastCtx  context.Context
	lastArgs json.RawMessage
}

func (r *fakeToolRunner) Execute(ctx context.Context, name string, params json.RawMessage) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name)
	r.lastCtx = ctx
	r.lastArgs = params
	return r.result, r.err
}

type notifyCall struct {
	channel  string
	userID   string
	title    string
	body     string
	category string
}

type fakeNotifier struct {
	delivered int

	mu    sync.Mutex
	calls []notifyCall
}

func (n *fakeNotifier) Notify(ctx context.Context, channel, userID, title, body, category string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notifyCall{channel, userID, title, body, category})
	return n.delivered
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newTestTask(action Action) *Task {
	return &Task{
		ID:      "task-1",
		UserID:  "alice",
		Name:    "morning briefing",
		Action:  action,
		Enabled: true,
	}
}

func TestRunOnceDispatchesReminder(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	task := newTestTask(Action{Type: ActionReminder, Reminder: &ReminderAction{
		Message:  "take your vitamins",
		Category: "health",
		Channel:  "push",
	}})
	store := &fakeStore{due: []*Task{task}}
	notifier := &fakeNotifier{delivered: 1}

	s := New(store, &fakeToolRunner{}, notifier, WithNow(fixedClock(now)))
	if got := s.RunOnce(context.Background()); got != 1 {
		t.Fatalf("RunOnce() = %d, want 1", got)
	}

	if len(notifier.calls) != 1 {
		t.Fatalf("notify calls = %d, want 1", len(notifier.calls))
	}
	call := notifier.calls[0]
	if call.title != "morning briefing" {
		t.Errorf("title = %q, want task name", call.title)
	}
	if call.body != "take your vitamins" || call.userID != "alice" || call.channel != "push" || call.category != "health" {
		t.Errorf("unexpected notify call %+v", call)
	}
}

func TestRunOnceAdvancesOneShotToNil(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	task := newTestTask(Action{Type: ActionReminder, Reminder: &ReminderAction{Message: "x"}})
	task.CronExpr = nil
	store := &fakeStore{due: []*Task{task}}

	s := New(store, &fakeToolRunner{}, &fakeNotifier{}, WithNow(fixedClock(now)))
	s.RunOnce(context.Background())

	if len(store.updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(store.updates))
	}
	update := store.updates[0]
	if update.id != "task-1" || !update.lastRun.Equal(now) {
		t.Errorf("unexpected update %+v", update)
	}
	if update.nextRun != nil {
		t.Errorf("one-shot nextRun = %v, want nil", update.nextRun)
	}
}

func TestRunOnceAdvancesCronTask(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	expr := "0 8 * * *"
	task := newTestTask(Action{Type: ActionReminder, Reminder: &ReminderAction{Message: "x"}})
	task.CronExpr = &expr
	store := &fakeStore{due: []*Task{task}}

	s := New(store, &fakeToolRunner{}, &fakeNotifier{}, WithNow(fixedClock(now)))
	s.RunOnce(context.Background())

	want := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	update := store.updates[0]
	if update.nextRun == nil || !update.nextRun.Equal(want) {
		t.Errorf("nextRun = %v, want %v", update.nextRun, want)
	}
}

func TestFailingAutomationStillAdvances(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	expr := "@hourly"
	task := newTestTask(Action{Type: ActionAutomation, Automation: &AutomationAction{Tool: "ha_call_service"}})
	task.CronExpr = &expr
	store := &fakeStore{due: []*Task{task}}
	tools := &fakeToolRunner{err: errors.New("service unavailable")}

	s := New(store, tools, &fakeNotifier{}, WithNow(fixedClock(now)))
	if got := s.RunOnce(context.Background()); got != 1 {
		t.Fatalf("RunOnce() = %d, want 1", got)
	}

	if len(store.updates) != 1 {
		t.Fatalf("updates = %d, want 1: a failing task must not retry in a tight loop", len(store.updates))
	}
	if store.updates[0].nextRun == nil {
		t.Error("nextRun should be the next cron occurrence, not nil")
	}
}

func TestInvalidCronDisablesTask(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	expr := "total garbage"
	task := newTestTask(Action{Type: ActionReminder, Reminder: &ReminderAction{Message: "x"}})
	task.CronExpr = &expr
	store := &fakeStore{due: []*Task{task}}

	s := New(store, &fakeToolRunner{}, &fakeNotifier{}, WithNow(fixedClock(now)))
	s.RunOnce(context.Background())

	if update := store.updates[0]; update.nextRun != nil {
		t.Errorf("nextRun = %v, want nil for unparseable expression", update.nextRun)
	}
}

func TestAutomationDoesNotNotify(t *testing.T) {
	task := newTestTask(Action{Type: ActionAutomation, Automation: &AutomationAction{
		Tool:   "ha_call_service",
		Params: json.RawMessage(`{"domain":"light","service":"turn_off"}`),
	}})
	store := &fakeStore{due: []*Task{task}}
	tools := &fakeToolRunner{result: "ok"}
	notifier := &fakeNotifier{delivered: 1}

	s := New(store, tools, notifier)
	s.RunOnce(context.Background())

	if len(tools.calls) != 1 || tools.calls[0] != "ha_call_service" {
		t.Fatalf("tool calls = %v", tools.calls)
	}
	if string(tools.lastArgs) != `{"domain":"light","service":"turn_off"}` {
		t.Errorf("params = %s", tools.lastArgs)
	}
	if len(notifier.calls) != 0 {
		t.Errorf("automation notified: %+v", notifier.calls)
	}
}

func TestCheckNotifyPolicy(t *testing.T) {
	tests := []struct {
		policy NotifyPolicy
		result string
		want   bool
	}{
		{NotifyAlways, "all good", true},
		{NotifyAlways, "WARNING: disk at 91%", true},
		{NotifyWarning, "all good", false},
		{NotifyWarning, "Warning: disk at 91%", true},
		{NotifyWarning, "CRITICAL: disk full", true},
		{NotifyCritical, "warning: disk at 91%", false},
		{NotifyCritical, "critical: disk full", true},
		{NotifyCritical, "all good", false},
	}

	for _, tt := range tests {
		name := fmt.Sprintf("%s/%s", tt.policy, tt.result)
		t.Run(name, func(t *testing.T) {
			task := newTestTask(Action{Type: ActionCheck, Check: &CheckAction{
				Tool:     "server_health",
				NotifyOn: tt.policy,
			}})
			store := &fakeStore{due: []*Task{task}}
			tools := &fakeToolRunner{result: tt.result}
			notifier := &fakeNotifier{delivered: 1}

			s := New(store, tools, notifier)
			s.RunOnce(context.Background())

			if notified := len(notifier.calls) > 0; notified != tt.want {
				t.Errorf("notified = %v, want %v", notified, tt.want)
			}
			if tt.want && notifier.calls[0].body != tt.result {
				t.Errorf("notification body = %q, want check output", notifier.calls[0].body)
			}
		})
	}
}

func TestCheckToolErrorDoesNotNotify(t *testing.T) {
	task := newTestTask(Action{Type: ActionCheck, Check: &CheckAction{
		Tool:     "server_health",
		NotifyOn: NotifyAlways,
	}})
	store := &fakeStore{due: []*Task{task}}
	notifier := &fakeNotifier{delivered: 1}

	s := New(store, &fakeToolRunner{err: errors.New("timeout")}, notifier)
	s.RunOnce(context.Background())

	if len(notifier.calls) != 0 {
		t.Errorf("failed check notified: %+v", notifier.calls)
	}
	if len(store.updates) != 1 {
		t.Error("failed check should still advance timestamps")
	}
}

func TestExecuteTaskInjectsTaskOwner(t *testing.T) {
	task := newTestTask(Action{Type: ActionAutomation, Automation: &AutomationAction{Tool: "remember_fact"}})
	store := &fakeStore{due: []*Task{task}}
	tools := &fakeToolRunner{result: "ok"}

	s := New(store, tools, &fakeNotifier{})
	s.RunOnce(context.Background())

	user, ok := auth.UserFromContext(tools.lastCtx)
	if !ok || user.ID != "alice" {
		t.Errorf("tool context user = %v, %v; want alice", user, ok)
	}
}

func TestRunOnceStoreError(t *testing.T) {
	store := &fakeStore{dueErr: errors.New("database is locked")}
	s := New(store, &fakeToolRunner{}, &fakeNotifier{})

	if got := s.RunOnce(context.Background()); got != 0 {
		t.Errorf("RunOnce() = %d, want 0 on store error", got)
	}
}

func TestRunOnceCancelledContext(t *testing.T) {
	tasks := []*Task{
		newTestTask(Action{Type: ActionReminder, Reminder: &ReminderAction{Message: "a"}}),
		newTestTask(Action{Type: ActionReminder, Reminder: &ReminderAction{Message: "b"}}),
	}
	store := &fakeStore{due: tasks}
	notifier := &fakeNotifier{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := New(store, &fakeToolRunner{}, notifier)
	if got := s.RunOnce(ctx); got != 0 {
		t.Errorf("RunOnce() = %d, want 0 with cancelled context", got)
	}
	if len(notifier.calls) != 0 {
		t.Errorf("cancelled cycle still dispatched: %+v", notifier.calls)
	}
}

func TestStartStopIdempotent(t *testing.T) {
	store := &fakeStore{}
	s := New(store, &fakeToolRunner{}, &fakeNotifier{}, WithPollInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	s.Start(ctx) // second call is a no-op
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}
