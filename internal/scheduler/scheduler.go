package scheduler

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/noble1911/butler/internal/auth"
	"github.com/noble1911/butler/internal/metrics"
)

// Scheduler polls the task store and executes due tasks sequentially.
//
// Per poll cycle: Idle → Polling → Executing(1..N) → Idle. Cycles never
// overlap — the loop sleeps after the work finishes, so a slow cycle
// simply pushes the next poll later.
type Scheduler struct {
	store    Store
	tools    ToolRunner
	notifier Notifier
	logger   *slog.Logger

	now      func() time.Time
	interval time.Duration

	mu      sync.Mutex
	started bool
	wg      sync.WaitGroup
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithLogger configures the scheduler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithPollInterval overrides the poll interval.
func WithPollInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// New creates a scheduler over the given store, tool runner, and
// notifier.
func New(store Store, tools ToolRunner, notifier Notifier, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:    store,
		tools:    tools,
		notifier: notifier,
		logger:   slog.Default(),
		now:      time.Now,
		interval: time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "scheduler")
	return s
}

// Start begins the poll loop until the context is cancelled. Nothing
// escapes a loop iteration: task failures are logged and the cycle
// continues.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			s.RunOnce(ctx)
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.interval):
			}
		}
	}()
}

// Stop waits for the poll loop to exit.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce executes one poll cycle and returns the number of tasks run.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	now := s.now()
	due, err := s.store.DueTasks(ctx, now)
	if err != nil {
		s.logger.Error("due-task query failed", "error", err)
		return 0
	}

	for _, task := range due {
		if ctx.Err() != nil {
			return 0
		}
		s.executeTask(ctx, task, now)
	}
	return len(due)
}

// executeTask dispatches one task and advances its timestamps whether
// it succeeded or not — a failing task waits for its next natural cron
// occurrence instead of retrying in a tight loop.
func (s *Scheduler) executeTask(ctx context.Context, task *Task, now time.Time) {
	// Tools that scope their data by user resolve the owner from the
	// context, same as in an interactive request.
	ctx = auth.WithUser(ctx, &auth.User{ID: task.UserID})
	err := s.dispatch(ctx, task)

	outcome := "ok"
	if err != nil {
		outcome = "error"
		s.logger.Error("scheduled task failed",
			"task_id", task.ID, "task_name", task.Name, "action", task.Action.Type, "error", err)
	}
	metrics.SchedulerRuns.WithLabelValues(string(task.Action.Type), outcome).Inc()

	nextRun, nextErr := NextRun(task.CronExpr, now)
	if nextErr != nil {
		s.logger.Warn("task disabled until expression is repaired",
			"task_id", task.ID, "task_name", task.Name, "error", nextErr)
		nextRun = nil
	}

	if err := s.store.UpdateRun(ctx, task.ID, now, nextRun); err != nil {
		s.logger.Error("failed to advance task timestamps",
			"task_id", task.ID, "task_name", task.Name, "error", err)
	}
}

func (s *Scheduler) dispatch(ctx context.Context, task *Task) error {
	switch task.Action.Type {
	case ActionReminder:
		return s.runReminder(ctx, task)
	case ActionAutomation:
		return s.runAutomation(ctx, task)
	case ActionCheck:
		return s.runCheck(ctx, task)
	default:
		s.logger.Warn("task has unknown action type", "task_id", task.ID, "type", task.Action.Type)
		return nil
	}
}

func (s *Scheduler) runReminder(ctx context.Context, task *Task) error {
	action := task.Action.Reminder
	delivered := s.notifier.Notify(ctx, action.Channel, task.UserID, task.Name, action.Message, action.Category)
	s.logger.Info("reminder dispatched", "task_id", task.ID, "delivered", delivered)
	return nil
}

func (s *Scheduler) runAutomation(ctx context.Context, task *Task) error {
	action := task.Action.Automation
	result, err := s.tools.Execute(ctx, action.Tool, action.Params)
	if err != nil {
		return err
	}
	s.logger.Info("automation completed", "task_id", task.ID, "tool", action.Tool, "result", truncate(result, 200))
	return nil
}

func (s *Scheduler) runCheck(ctx context.Context, task *Task) error {
	action := task.Action.Check
	result, err := s.tools.Execute(ctx, action.Tool, action.Params)
	if err != nil {
		return err
	}

	if !shouldNotify(action.NotifyOn, result) {
		s.logger.Debug("check passed quietly", "task_id", task.ID, "tool", action.Tool)
		return nil
	}

	delivered := s.notifier.Notify(ctx, action.Channel, task.UserID, task.Name, result, action.Category)
	s.logger.Info("check notified", "task_id", task.ID, "tool", action.Tool, "delivered", delivered)
	return nil
}

// shouldNotify applies the notifyOn policy to the check output,
// scanning for severity markers case-insensitively.
func shouldNotify(policy NotifyPolicy, result string) bool {
	lower := strings.ToLower(result)
	hasCritical := strings.Contains(lower, "critical")
	hasWarning := strings.Contains(lower, "warning")

	switch policy {
	case NotifyAlways:
		return true
	case NotifyWarning:
		return hasWarning || hasCritical
	case NotifyCritical:
		return hasCritical
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
