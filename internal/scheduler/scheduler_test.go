package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIntervalDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"30s": 30 * time.Second,
		"5m":  5 * time.Minute,
		"1h":  time.Hour,
		"4H":  4 * time.Hour,
		"1d":  24 * time.Hour,
		"1w":  7 * 24 * time.Hour,
	}
	for in, want := range cases {
		got, ok := ParseIntervalDuration(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "m", "0m", "-1h", "5x", "abc"} {
		_, ok := ParseIntervalDuration(bad)
		assert.False(t, ok, bad)
	}
}

func TestLoop_RunsUntilCancelledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var rounds int
	var slept []time.Duration
	loop := NewLoop(time.Minute)
	loop.sleep = func(ctx context.Context, d time.Duration) bool {
		slept = append(slept, d)
		if len(slept) == 3 {
			cancel()
			return false
		}
		return true
	}

	err := loop.Run(ctx, func(taskCtx context.Context) {
		rounds++
		assert.NoError(t, taskCtx.Err())
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, rounds)
	assert.Equal(t, []time.Duration{time.Minute, time.Minute, time.Minute}, slept)
}

func TestLoop_TaskContextSurvivesCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	loop := NewLoop(time.Second)
	loop.sleep = func(context.Context, time.Duration) bool { return false }

	var taskErr error
	_ = loop.Run(ctx, func(taskCtx context.Context) {
		cancel()
		taskErr = taskCtx.Err()
	})
	assert.NoError(t, taskErr)
}

func TestLoop_InvalidInterval(t *testing.T) {
	called := false
	err := NewLoop(0).Run(context.Background(), func(context.Context) { called = true })
	assert.NoError(t, err)
	assert.False(t, called)
}
