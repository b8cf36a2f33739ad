package cron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// NextRun calculates the next run time for a schedule relative to now.
func NextRun(schedule Schedule, now time.Time) (time.Time, error) {
	switch schedule.Kind {
	case ScheduleKindAt:
		return nextAtSchedule(schedule)
	case ScheduleKindEvery:
		return nextEverySchedule(schedule, now)
	case ScheduleKindCron:
		return nextCronSchedule(schedule, now)
	default:
		return time.Time{}, fmt.Errorf("unknown schedule kind: %s", schedule.Kind)
	}
}

// nextAtSchedule returns the one-shot absolute time verbatim. A time
// already in the past still counts as "next" once; such jobs are
// typically paired with delete-after-run.
func nextAtSchedule(schedule Schedule) (time.Time, error) {
	if schedule.At == "" {
		return time.Time{}, fmt.Errorf("'at' schedule requires 'at' field")
	}

	t, err := time.Parse(time.RFC3339, schedule.At)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp: %w", err)
	}

	return t, nil
}

func nextEverySchedule(schedule Schedule, now time.Time) (time.Time, error) {
	if schedule.EveryMs <= 0 {
		return time.Time{}, fmt.Errorf("'every' schedule requires positive 'everyMs' value")
	}

	return now.Add(time.Duration(schedule.EveryMs) * time.Millisecond), nil
}

func nextCronSchedule(schedule Schedule, now time.Time) (time.Time, error) {
	if schedule.Expr == "" {
		return time.Time{}, fmt.Errorf("'cron' schedule requires 'expr' field")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(schedule.Expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression: %w", err)
	}

	if schedule.TZ != "" {
		loc, err := time.LoadLocation(schedule.TZ)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timezone: %w", err)
		}
		now = now.In(loc)
	}

	return sched.Next(now), nil
}
