package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/noble1911/butler/internal/notify"
	"github.com/noble1911/butler/internal/scheduler"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendExchangeAndHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.AppendExchange(ctx, "alice", "hello", "hi there"); err != nil {
		t.Fatalf("AppendExchange() error = %v", err)
	}
	if err := s.AppendExchange(ctx, "alice", "what's the weather", "sunny"); err != nil {
		t.Fatalf("AppendExchange() error = %v", err)
	}

	history, err := s.History(ctx, "alice", 40)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("len(history) = %d, want 4", len(history))
	}

	wantRoles := []string{"user", "assistant", "user", "assistant"}
	wantText := []string{"hello", "hi there", "what's the weather", "sunny"}
	for i, msg := range history {
		if msg.Role != wantRoles[i] || msg.Content != wantText[i] {
			t.Errorf("history[%d] = %s %q, want %s %q", i, msg.Role, msg.Content, wantRoles[i], wantText[i])
		}
	}
}

func TestHistoryLimitKeepsNewest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three"} {
		if err := s.AppendExchange(ctx, "alice", text, "ack "+text); err != nil {
			t.Fatalf("AppendExchange() error = %v", err)
		}
	}

	history, err := s.History(ctx, "alice", 2)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("len(history) = %d, want 2", len(history))
	}
	// The newest two messages, still oldest-first.
	if history[0].Content != "three" || history[1].Content != "ack three" {
		t.Errorf("history = %q, %q; want newest exchange", history[0].Content, history[1].Content)
	}
}

func TestHistoryScopedByUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.AppendExchange(ctx, "alice", "alice says", "ok"); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendExchange(ctx, "bob", "bob says", "ok"); err != nil {
		t.Fatal(err)
	}

	history, err := s.History(ctx, "bob", 40)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 || history[0].Content != "bob says" {
		t.Errorf("bob's history = %+v", history)
	}
}

func TestClearHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.AppendExchange(ctx, "alice", "hello", "hi"); err != nil {
		t.Fatal(err)
	}
	if err := s.ClearHistory(ctx, "alice"); err != nil {
		t.Fatalf("ClearHistory() error = %v", err)
	}
	history, err := s.History(ctx, "alice", 40)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 0 {
		t.Errorf("len(history) = %d after clear, want 0", len(history))
	}
}

func reminderTask(id, userID, name string) *scheduler.Task {
	return &scheduler.Task{
		ID:      id,
		UserID:  userID,
		Name:    name,
		Enabled: true,
		Action: scheduler.Action{
			Type:     scheduler.ActionReminder,
			Reminder: &scheduler.ReminderAction{Message: "ping"},
		},
	}
}

func TestTaskRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	expr := "0 8 * * *"
	next := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	task := reminderTask("t1", "alice", "morning briefing")
	task.CronExpr = &expr
	task.NextRun = &next

	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	got, err := s.GetTask(ctx, "alice", "t1")
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if got.Name != "morning briefing" || !got.Enabled {
		t.Errorf("task = %+v", got)
	}
	if got.CronExpr == nil || *got.CronExpr != expr {
		t.Errorf("cron_expr = %v, want %q", got.CronExpr, expr)
	}
	if got.NextRun == nil || !got.NextRun.Equal(next) {
		t.Errorf("next_run = %v, want %v", got.NextRun, next)
	}
	if got.LastRun != nil {
		t.Errorf("last_run = %v, want nil", got.LastRun)
	}
	if got.Action.Type != scheduler.ActionReminder || got.Action.Reminder.Message != "ping" {
		t.Errorf("action = %+v", got.Action)
	}
}

func TestGetTaskScopedByUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateTask(ctx, reminderTask("t1", "alice", "x")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetTask(ctx, "bob", "t1"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("GetTask() error = %v, want ErrTaskNotFound", err)
	}
}

func TestDeleteTaskNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.DeleteTask(ctx, "alice", "missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("DeleteTask() error = %v, want ErrTaskNotFound", err)
	}

	if err := s.CreateTask(ctx, reminderTask("t1", "alice", "x")); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteTask(ctx, "alice", "t1"); err != nil {
		t.Fatalf("DeleteTask() error = %v", err)
	}
	if _, err := s.GetTask(ctx, "alice", "t1"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("task survived deletion: %v", err)
	}
}

func TestSetTaskEnabled(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateTask(ctx, reminderTask("t1", "alice", "x")); err != nil {
		t.Fatal(err)
	}
	if err := s.SetTaskEnabled(ctx, "alice", "t1", false); err != nil {
		t.Fatalf("SetTaskEnabled() error = %v", err)
	}
	got, err := s.GetTask(ctx, "alice", "t1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Enabled {
		t.Error("task still enabled")
	}
	if err := s.SetTaskEnabled(ctx, "alice", "missing", true); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("SetTaskEnabled() error = %v, want ErrTaskNotFound", err)
	}
}

func TestDueTasksOrderingAndFiltering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	add := func(id string, nextRun *time.Time, enabled bool) {
		task := reminderTask(id, "alice", id)
		task.NextRun = nextRun
		task.Enabled = enabled
		if err := s.CreateTask(ctx, task); err != nil {
			t.Fatalf("CreateTask(%s) error = %v", id, err)
		}
	}
	earlier := now.Add(-2 * time.Hour)
	later := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	add("due-second", &later, true)
	add("due-first", &earlier, true)
	add("not-yet", &future, true)
	add("disabled", &earlier, false)
	add("unscheduled", nil, true)

	due, err := s.DueTasks(ctx, now)
	if err != nil {
		t.Fatalf("DueTasks() error = %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("len(due) = %d, want 2", len(due))
	}
	if due[0].ID != "due-first" || due[1].ID != "due-second" {
		t.Errorf("due order = %s, %s; want earliest first", due[0].ID, due[1].ID)
	}
}

// Timestamps compare as strings in SQL, so a whole-second next_run must
// still sort before a sub-second poll time.
func TestDueTasksSubSecondBoundary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	nextRun := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	task := reminderTask("t1", "alice", "whole-second")
	task.NextRun = &nextRun
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	due, err := s.DueTasks(ctx, nextRun.Add(500*time.Millisecond))
	if err != nil {
		t.Fatalf("DueTasks() error = %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("len(due) = %d, want 1", len(due))
	}
	if due[0].ID != "t1" {
		t.Errorf("due[0].ID = %s, want t1", due[0].ID)
	}
}

func TestFormatTimeSortsLexicographically(t *testing.T) {
	times := []time.Time{
		time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 1, 10, 0, 0, 500_000_000, time.UTC),
		time.Date(2026, 3, 1, 10, 0, 1, 0, time.UTC),
		time.Date(2026, 3, 1, 10, 0, 1, 1, time.UTC),
	}
	for i := 1; i < len(times); i++ {
		prev, cur := formatTime(times[i-1]), formatTime(times[i])
		if !(prev < cur) {
			t.Errorf("formatTime(%v) = %q, not below %q", times[i-1], prev, cur)
		}
		parsed, err := parseTime(cur)
		if err != nil {
			t.Fatalf("parseTime(%q) error = %v", cur, err)
		}
		if !parsed.Equal(times[i]) {
			t.Errorf("parseTime(formatTime(%v)) = %v", times[i], parsed)
		}
	}
}

func TestUpdateRunAdvancesTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	past := now.Add(-time.Minute)
	task := reminderTask("t1", "alice", "x")
	task.NextRun = &past
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatal(err)
	}

	if err := s.UpdateRun(ctx, "t1", now, nil); err != nil {
		t.Fatalf("UpdateRun() error = %v", err)
	}

	due, err := s.DueTasks(ctx, now.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 0 {
		t.Errorf("one-shot task still due after run: %+v", due)
	}

	got, err := s.GetTask(ctx, "alice", "t1")
	if err != nil {
		t.Fatal(err)
	}
	if got.LastRun == nil || !got.LastRun.Equal(now) {
		t.Errorf("last_run = %v, want %v", got.LastRun, now)
	}
	if got.NextRun != nil {
		t.Errorf("next_run = %v, want nil", got.NextRun)
	}
}

func TestTasksForUserOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	soon := now.Add(time.Hour)
	later := now.Add(2 * time.Hour)
	add := func(id, name string, nextRun *time.Time) {
		task := reminderTask(id, "alice", name)
		task.NextRun = nextRun
		if err := s.CreateTask(ctx, task); err != nil {
			t.Fatal(err)
		}
	}
	add("t1", "zeta", nil)
	add("t2", "later", &later)
	add("t3", "soon", &soon)

	tasks, err := s.TasksForUser(ctx, "alice")
	if err != nil {
		t.Fatalf("TasksForUser() error = %v", err)
	}
	var names []string
	for _, task := range tasks {
		names = append(names, task.Name)
	}
	want := []string{"soon", "later", "zeta"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("order = %v, want %v", names, want)
		}
	}
}

func TestSaveSubscriptionUpserts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sub := &notify.Subscription{
		UserID:    "alice",
		Endpoint:  "https://push.example/a",
		P256dhKey: "key-1",
		AuthKey:   "auth-1",
	}
	if err := s.SaveSubscription(ctx, sub); err != nil {
		t.Fatalf("SaveSubscription() error = %v", err)
	}
	if sub.ID == "" {
		t.Fatal("SaveSubscription() did not assign an ID")
	}

	// Same user and endpoint with rotated keys replaces, not duplicates.
	rotated := &notify.Subscription{
		UserID:    "alice",
		Endpoint:  "https://push.example/a",
		P256dhKey: "key-2",
		AuthKey:   "auth-2",
	}
	if err := s.SaveSubscription(ctx, rotated); err != nil {
		t.Fatalf("SaveSubscription() upsert error = %v", err)
	}

	subs, err := s.SubscriptionsForUser(ctx, "alice")
	if err != nil {
		t.Fatalf("SubscriptionsForUser() error = %v", err)
	}
	if len(subs) != 1 {
		t.Fatalf("len(subs) = %d, want 1", len(subs))
	}
	if subs[0].P256dhKey != "key-2" || subs[0].AuthKey != "auth-2" {
		t.Errorf("keys not rotated: %+v", subs[0])
	}
}

func TestDeleteSubscription(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sub := &notify.Subscription{UserID: "alice", Endpoint: "https://push.example/a", P256dhKey: "k", AuthKey: "a"}
	if err := s.SaveSubscription(ctx, sub); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteSubscription(ctx, sub.ID); err != nil {
		t.Fatalf("DeleteSubscription() error = %v", err)
	}
	subs, err := s.SubscriptionsForUser(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 0 {
		t.Errorf("len(subs) = %d after delete, want 0", len(subs))
	}

	// Deleting an unknown ID is a no-op, matching pruning semantics.
	if err := s.DeleteSubscription(ctx, "missing"); err != nil {
		t.Errorf("DeleteSubscription(missing) error = %v", err)
	}
}

func TestFactsLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertFact(ctx, "alice", "coffee", "flat white"); err != nil {
		t.Fatalf("UpsertFact() error = %v", err)
	}
	value, found, err := s.Fact(ctx, "alice", "coffee")
	if err != nil || !found || value != "flat white" {
		t.Fatalf("Fact() = %q, %v, %v", value, found, err)
	}

	if err := s.UpsertFact(ctx, "alice", "coffee", "espresso"); err != nil {
		t.Fatal(err)
	}
	value, _, err = s.Fact(ctx, "alice", "coffee")
	if err != nil || value != "espresso" {
		t.Errorf("Fact() after upsert = %q, %v", value, err)
	}

	if _, found, err = s.Fact(ctx, "alice", "tea"); err != nil || found {
		t.Errorf("Fact(unknown) = %v, %v; want not found without error", found, err)
	}
	if _, found, _ = s.Fact(ctx, "bob", "coffee"); found {
		t.Error("fact leaked across users")
	}

	if err := s.UpsertFact(ctx, "alice", "allergy", "peanuts"); err != nil {
		t.Fatal(err)
	}
	facts, err := s.FactsForUser(ctx, "alice")
	if err != nil {
		t.Fatalf("FactsForUser() error = %v", err)
	}
	if len(facts) != 2 || facts[0].Key != "allergy" || facts[1].Key != "coffee" {
		t.Errorf("facts = %+v, want key-ordered allergy, coffee", facts)
	}

	if err := s.DeleteFact(ctx, "alice", "coffee"); err != nil {
		t.Fatalf("DeleteFact() error = %v", err)
	}
	if _, found, _ := s.Fact(ctx, "alice", "coffee"); found {
		t.Error("fact survived deletion")
	}
}

func TestCalendarEventsWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	day := func(d int) time.Time {
		return time.Date(2026, 3, d, 10, 0, 0, 0, time.UTC)
	}
	add := func(id string, starts time.Time) {
		err := s.AddEvent(ctx, &Event{ID: id, UserID: "alice", Title: id, StartsAt: starts})
		if err != nil {
			t.Fatalf("AddEvent(%s) error = %v", id, err)
		}
	}
	add("before", day(1))
	add("second", day(3))
	add("first", day(2))
	add("at-boundary", day(5))

	// Window is inclusive at from, exclusive at to.
	events, err := s.EventsBetween(ctx, "alice", day(2), day(5))
	if err != nil {
		t.Fatalf("EventsBetween() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	if events[0].ID != "first" || events[1].ID != "second" {
		t.Errorf("events = %s, %s; want chronological", events[0].ID, events[1].ID)
	}
}

func TestCalendarEventEndAndDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	starts := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	ends := starts.Add(time.Hour)
	event := &Event{
		ID:       "e1",
		UserID:   "alice",
		Title:    "standup",
		StartsAt: starts,
		EndsAt:   &ends,
		Location: "office",
	}
	if err := s.AddEvent(ctx, event); err != nil {
		t.Fatal(err)
	}

	events, err := s.EventsBetween(ctx, "alice", starts.Add(-time.Hour), starts.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}
	got := events[0]
	if got.EndsAt == nil || !got.EndsAt.Equal(ends) {
		t.Errorf("ends_at = %v, want %v", got.EndsAt, ends)
	}
	if got.Location != "office" {
		t.Errorf("location = %q", got.Location)
	}

	if err := s.DeleteEvent(ctx, "alice", "e1"); err != nil {
		t.Fatalf("DeleteEvent() error = %v", err)
	}
	events, err = s.EventsBetween(ctx, "alice", starts.Add(-time.Hour), starts.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Errorf("event survived deletion: %+v", events)
	}
}
