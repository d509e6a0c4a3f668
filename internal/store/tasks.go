package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/noble1911/butler/internal/scheduler"
)

// ErrTaskNotFound is returned for an unknown task ID.
var ErrTaskNotFound = errors.New("task not found")

// CreateTask persists a new scheduled task.
func (s *Store) CreateTask(ctx context.Context, task *scheduler.Task) error {
	action, err := json.Marshal(task.Action)
	if err != nil {
		return fmt.Errorf("encode action: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, user_id, name, cron_expr, action, enabled, last_run, next_run, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.UserID, task.Name, nullableString(task.CronExpr), string(action),
		boolToInt(task.Enabled), nullableTime(task.LastRun), nullableTime(task.NextRun),
		formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetTask returns one task by ID scoped to the user.
func (s *Store) GetTask(ctx context.Context, userID, id string) (*scheduler.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, cron_expr, action, enabled, last_run, next_run
		FROM tasks WHERE id = ? AND user_id = ?`, id, userID)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	return task, err
}

// TasksForUser lists all of the user's tasks, soonest-due first, with
// unscheduled tasks last.
func (s *Store) TasksForUser(ctx context.Context, userID string) ([]*scheduler.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, cron_expr, action, enabled, last_run, next_run
		FROM tasks WHERE user_id = ?
		ORDER BY next_run IS NULL, next_run ASC, name ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// DeleteTask removes a task scoped to the user.
func (s *Store) DeleteTask(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// SetTaskEnabled toggles a task without touching its schedule.
func (s *Store) SetTaskEnabled(ctx context.Context, userID, id string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET enabled = ? WHERE id = ? AND user_id = ?`,
		boolToInt(enabled), id, userID)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// DueTasks implements scheduler.Store. Stored timestamps are RFC 3339,
// so string comparison orders them correctly.
func (s *Store) DueTasks(ctx context.Context, now time.Time) ([]*scheduler.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, cron_expr, action, enabled, last_run, next_run
		FROM tasks
		WHERE enabled = 1 AND next_run IS NOT NULL AND next_run <= ?
		ORDER BY next_run ASC`, formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("query due tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// UpdateRun implements scheduler.Store.
func (s *Store) UpdateRun(ctx context.Context, id string, lastRun time.Time, nextRun *time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET last_run = ?, next_run = ? WHERE id = ?`,
		formatTime(lastRun), nullableTime(nextRun), id)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*scheduler.Task, error) {
	var (
		task     scheduler.Task
		cronExpr sql.NullString
		action   string
		enabled  int
		lastRun  sql.NullString
		nextRun  sql.NullString
	)
	if err := row.Scan(&task.ID, &task.UserID, &task.Name, &cronExpr, &action, &enabled, &lastRun, &nextRun); err != nil {
		return nil, err
	}
	if cronExpr.Valid {
		task.CronExpr = &cronExpr.String
	}
	if err := json.Unmarshal([]byte(action), &task.Action); err != nil {
		return nil, fmt.Errorf("decode action for task %s: %w", task.ID, err)
	}
	task.Enabled = enabled != 0

	var err error
	if task.LastRun, err = scanNullableTime(lastRun); err != nil {
		return nil, fmt.Errorf("decode last_run for task %s: %w", task.ID, err)
	}
	if task.NextRun, err = scanNullableTime(nextRun); err != nil {
		return nil, fmt.Errorf("decode next_run for task %s: %w", task.ID, err)
	}
	return &task, nil
}

func collectTasks(rows *sql.Rows) ([]*scheduler.Task, error) {
	var tasks []*scheduler.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
