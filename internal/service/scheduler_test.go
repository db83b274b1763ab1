package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestScheduler_RunsJob(t *testing.T) {
	s := NewScheduler(zap.NewNop())
	defer s.Stop()

	done := make(chan struct{})
	s.Schedule("job", 10*time.Millisecond, func(ctx context.Context) {
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job did not run")
	}
	assert.Eventually(t, func() bool { return len(s.Pending()) == 0 }, time.Second, 5*time.Millisecond)
}

func TestScheduler_CancelPreventsExecution(t *testing.T) {
	s := NewScheduler(zap.NewNop())
	defer s.Stop()

	var ran atomic.Bool
	s.Schedule("job", 50*time.Millisecond, func(ctx context.Context) {
		ran.Store(true)
	})

	assert.True(t, s.Cancel("job"))
	assert.False(t, s.Cancel("job"))

	time.Sleep(100 * time.Millisecond)
	assert.False(t, ran.Load())
}

func TestScheduler_RescheduleReplaces(t *testing.T) {
	s := NewScheduler(zap.NewNop())
	defer s.Stop()

	results := make(chan string, 2)
	s.Schedule("job", 20*time.Millisecond, func(ctx context.Context) { results <- "first" })
	s.Schedule("job", 20*time.Millisecond, func(ctx context.Context) { results <- "second" })

	select {
	case got := <-results:
		assert.Equal(t, "second", got)
	case <-time.After(time.Second):
		t.Fatal("job did not run")
	}

	select {
	case got := <-results:
		t.Fatalf("replaced job ran: %s", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestScheduler_StopCancelsPending(t *testing.T) {
	s := NewScheduler(zap.NewNop())

	var ran atomic.Bool
	s.Schedule("a", time.Hour, func(ctx context.Context) { ran.Store(true) })
	s.Schedule("b", time.Hour, func(ctx context.Context) { ran.Store(true) })
	require.Equal(t, []string{"a", "b"}, s.Pending())

	s.Stop()

	assert.Empty(t, s.Pending())
	s.Schedule("c", 0, func(ctx context.Context) { ran.Store(true) })
	assert.Empty(t, s.Pending())
	time.Sleep(20 * time.Millisecond)
	assert.False(t, ran.Load())
}
