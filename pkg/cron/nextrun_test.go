package cron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextRun(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)

	t.Run("at returns the timestamp verbatim", func(t *testing.T) {
		at := time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)
		next, err := NextRun(Schedule{Kind: ScheduleKindAt, At: at.Format(time.RFC3339)}, now)
		require.NoError(t, err)
		assert.True(t, next.Equal(at))
	})

	t.Run("at in the past is still next once", func(t *testing.T) {
		at := now.Add(-time.Hour)
		next, err := NextRun(Schedule{Kind: ScheduleKindAt, At: at.Format(time.RFC3339)}, now)
		require.NoError(t, err)
		assert.True(t, next.Before(now))
	})

	t.Run("at requires a timestamp", func(t *testing.T) {
		_, err := NextRun(Schedule{Kind: ScheduleKindAt}, now)
		assert.Error(t, err)

		_, err = NextRun(Schedule{Kind: ScheduleKindAt, At: "yesterday"}, now)
		assert.Error(t, err)
	})

	t.Run("every adds the interval to now", func(t *testing.T) {
		next, err := NextRun(Schedule{Kind: ScheduleKindEvery, EveryMs: 1000}, now)
		require.NoError(t, err)
		assert.Equal(t, now.Add(time.Second), next)
	})

	t.Run("every rejects non-positive intervals", func(t *testing.T) {
		_, err := NextRun(Schedule{Kind: ScheduleKindEvery}, now)
		assert.Error(t, err)

		_, err = NextRun(Schedule{Kind: ScheduleKindEvery, EveryMs: -5}, now)
		assert.Error(t, err)
	})

	t.Run("cron evaluates real field semantics", func(t *testing.T) {
		// Top of every hour: 10:30 -> 11:00.
		next, err := NextRun(Schedule{Kind: ScheduleKindCron, Expr: "0 * * * *"}, now)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, 6, 15, 11, 0, 0, 0, time.UTC), next.UTC())

		// Every five minutes: 10:30 -> 10:35.
		next, err = NextRun(Schedule{Kind: ScheduleKindCron, Expr: "*/5 * * * *"}, now)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, 6, 15, 10, 35, 0, 0, time.UTC), next.UTC())

		// Weekly on Monday: 2025-06-15 is a Sunday.
		next, err = NextRun(Schedule{Kind: ScheduleKindCron, Expr: "0 9 * * 1"}, now)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, 6, 16, 9, 0, 0, 0, time.UTC), next.UTC())
	})

	t.Run("cron honors the timezone", func(t *testing.T) {
		next, err := NextRun(Schedule{Kind: ScheduleKindCron, Expr: "0 9 * * *", TZ: "America/New_York"}, now)
		require.NoError(t, err)

		loc, err := time.LoadLocation("America/New_York")
		require.NoError(t, err)
		assert.Equal(t, 9, next.In(loc).Hour())
	})

	t.Run("cron rejects bad input", func(t *testing.T) {
		_, err := NextRun(Schedule{Kind: ScheduleKindCron}, now)
		assert.Error(t, err)

		_, err = NextRun(Schedule{Kind: ScheduleKindCron, Expr: "not a cron"}, now)
		assert.Error(t, err)

		_, err = NextRun(Schedule{Kind: ScheduleKindCron, Expr: "0 * * * *", TZ: "Mars/Olympus"}, now)
		assert.Error(t, err)
	})

	t.Run("unknown kind", func(t *testing.T) {
		_, err := NextRun(Schedule{Kind: "sometimes"}, now)
		assert.Error(t, err)
	})
}
