package queue_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/queuekit/pkg/queue"
)

func TestNewCronRule(t *testing.T) {
	t.Parallel()

	t.Run("valid expression", func(t *testing.T) {
		t.Parallel()

		rule, err := queue.NewCronRule("nightly", "0 2 * * *", "cleanup")
		require.NoError(t, err)
		require.NotNil(t, rule.NextRun)
		assert.Equal(t, 2, rule.NextRun.Hour())
		assert.True(t, rule.Enabled)
	})

	t.Run("invalid expression fails at construction", func(t *testing.T) {
		t.Parallel()

		rule, err := queue.NewCronRule("bad", "not a cron", "cleanup")
		assert.ErrorIs(t, err, queue.ErrInvalidCronExpr)
		assert.Nil(t, rule)
	})

	t.Run("every minute grid", func(t *testing.T) {
		t.Parallel()

		rule, err := queue.NewCronRule("minutely", "* * * * *", "tick")
		require.NoError(t, err)
		require.NotNil(t, rule.NextRun)
		assert.Zero(t, rule.NextRun.Second())
	})
}

func TestNewIntervalRule(t *testing.T) {
	t.Parallel()

	t.Run("first fire one interval after creation", func(t *testing.T) {
		t.Parallel()

		before := time.Now()
		rule, err := queue.NewIntervalRule("refresh", 10*time.Minute, "refresh_cache")
		require.NoError(t, err)
		require.NotNil(t, rule.NextRun)
		assert.False(t, rule.NextRun.Before(before.Add(10*time.Minute)))
	})

	t.Run("non-positive interval", func(t *testing.T) {
		t.Parallel()

		_, err := queue.NewIntervalRule("bad", 0, "refresh_cache")
		assert.Error(t, err)
	})
}

func TestNewOnceRule(t *testing.T) {
	t.Parallel()

	at := time.Now().Add(time.Hour)
	rule, err := queue.NewOnceRule("reminder", at, "send_reminder")
	require.NoError(t, err)
	require.NotNil(t, rule.NextRun)
	assert.True(t, rule.NextRun.Equal(at))
	assert.Equal(t, 1, rule.MaxRuns)
}

func TestRule_CalculateNextRun(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

	t.Run("disabled rule never fires", func(t *testing.T) {
		t.Parallel()

		rule, err := queue.NewIntervalRule("r", time.Minute, "work", queue.WithDisabled())
		require.NoError(t, err)
		assert.Nil(t, rule.NextRun)
		assert.Nil(t, rule.CalculateNextRun(base))
	})

	t.Run("max runs reached", func(t *testing.T) {
		t.Parallel()

		rule, err := queue.NewIntervalRule("r", time.Minute, "work", queue.WithMaxRuns(2))
		require.NoError(t, err)
		rule.RunCount = 2
		assert.Nil(t, rule.CalculateNextRun(base))
	})

	t.Run("past end time", func(t *testing.T) {
		t.Parallel()

		end := base.Add(-time.Hour)
		rule, err := queue.NewIntervalRule("r", time.Minute, "work", queue.WithEndAt(end))
		require.NoError(t, err)
		assert.Nil(t, rule.CalculateNextRun(base))
	})

	t.Run("candidate past end time", func(t *testing.T) {
		t.Parallel()

		end := base.Add(30 * time.Second)
		rule, err := queue.NewIntervalRule("r", time.Minute, "work", queue.WithEndAt(end))
		require.NoError(t, err)
		assert.Nil(t, rule.CalculateNextRun(base))
	})

	t.Run("start time clamps forward", func(t *testing.T) {
		t.Parallel()

		start := base.Add(time.Hour)
		rule, err := queue.NewIntervalRule("r", time.Minute, "work", queue.WithStartAt(start))
		require.NoError(t, err)

		next := rule.CalculateNextRun(base)
		require.NotNil(t, next)
		assert.True(t, next.Equal(start.Add(time.Minute)))
	})

	t.Run("interval advances from last run", func(t *testing.T) {
		t.Parallel()

		rule, err := queue.NewIntervalRule("r", time.Minute, "work")
		require.NoError(t, err)

		last := base
		rule.LastRun = &last
		next := rule.CalculateNextRun(base.Add(10 * time.Second))
		require.NotNil(t, next)
		assert.True(t, next.Equal(base.Add(time.Minute)))
	})
}

func TestRule_ShouldRunAndMarkRun(t *testing.T) {
	t.Parallel()

	t.Run("interval lifecycle", func(t *testing.T) {
		t.Parallel()

		rule, err := queue.NewIntervalRule("r", time.Minute, "work")
		require.NoError(t, err)

		now := time.Now()
		assert.False(t, rule.ShouldRun(now), "not due immediately after creation")

		due := rule.NextRun.Add(time.Second)
		assert.True(t, rule.ShouldRun(due))

		rule.MarkRun(due)
		assert.Equal(t, 1, rule.RunCount)
		require.NotNil(t, rule.LastRun)
		assert.True(t, rule.LastRun.Equal(due))
		require.NotNil(t, rule.NextRun)
		assert.True(t, rule.NextRun.Equal(due.Add(time.Minute)))
		assert.False(t, rule.ShouldRun(due))
	})

	t.Run("one-shot fires exactly once", func(t *testing.T) {
		t.Parallel()

		at := time.Now().Add(time.Minute)
		rule, err := queue.NewOnceRule("r", at, "work")
		require.NoError(t, err)

		assert.False(t, rule.ShouldRun(at.Add(-time.Second)))
		assert.True(t, rule.ShouldRun(at))

		rule.MarkRun(at)
		assert.Nil(t, rule.NextRun)
		assert.False(t, rule.ShouldRun(at.Add(time.Hour)))
	})

	t.Run("window bounds", func(t *testing.T) {
		t.Parallel()

		now := time.Now()
		start := now.Add(time.Hour)
		end := now.Add(2 * time.Hour)
		rule, err := queue.NewIntervalRule("r", time.Minute, "work",
			queue.WithStartAt(start), queue.WithEndAt(end))
		require.NoError(t, err)

		assert.False(t, rule.ShouldRun(now))
		assert.True(t, rule.ShouldRun(start.Add(2*time.Minute)))
		assert.False(t, rule.ShouldRun(end))
		assert.False(t, rule.ShouldRun(end.Add(time.Minute)))
	})
}
