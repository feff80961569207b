package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_KeepsExistingTask(t *testing.T) {
	s := NewScheduler()

	var first, second atomic.Int32
	assert.True(t, s.EnqueueUniquePeriodic("budget", time.Hour, func(context.Context) error {
		first.Add(1)
		return nil
	}))
	assert.False(t, s.EnqueueUniquePeriodic("budget", time.Minute, func(context.Context) error {
		second.Add(1)
		return nil
	}))
	assert.Equal(t, []string{"budget"}, s.Tasks())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return first.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Zero(t, second.Load())
}

func TestScheduler_RunsPeriodicallyAndSurvivesErrors(t *testing.T) {
	s := NewScheduler()

	var runs atomic.Int32
	s.EnqueueUniquePeriodic("sweep", 10*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return errors.New("transient")
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestScheduler_TaskAddedWhileRunning(t *testing.T) {
	s := NewScheduler()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	var ran atomic.Bool
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.runCtx != nil
	}, time.Second, time.Millisecond)

	s.EnqueueUniquePeriodic("late", time.Hour, func(context.Context) error {
		ran.Store(true)
		return nil
	})
	require.Eventually(t, ran.Load, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestScheduler_RunTwice(t *testing.T) {
	s := NewScheduler()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.runCtx != nil
	}, time.Second, time.Millisecond)
	assert.Error(t, s.Run(ctx))
}
