package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// NextRun computes the next occurrence of expr strictly after now. A
// nil or blank expression means the task is one-shot and gets no next
// run; an unparsable expression is an error, which the scheduler turns
// into a nil next run, leaving the task dormant until an external actor
// repairs it.
func NextRun(expr *string, now time.Time) (*time.Time, error) {
	if expr == nil || strings.TrimSpace(*expr) == "" {
		return nil, nil
	}
	schedule, err := cronParser.Parse(strings.TrimSpace(*expr))
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", *expr, err)
	}
	next := schedule.Next(now)
	if next.IsZero() {
		return nil, nil
	}
	return &next, nil
}
