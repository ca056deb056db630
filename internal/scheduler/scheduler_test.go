package scheduler_test

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bops/internal/scheduler"
)

type fakeSweeper struct {
	calls  atomic.Int32
	actor  string
	at     time.Time
	closed int
	err    error
	block  chan struct{}
}

func (f *fakeSweeper) AutoCloseExpired(ctx context.Context, now time.Time, actorID string) (int, error) {
	f.calls.Add(1)
	f.actor, f.at = actorID, now
	if f.block != nil {
		<-f.block
	}
	return f.closed, f.err
}

func TestRunOnceSweeps(t *testing.T) {
	now := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	sw := &fakeSweeper{closed: 3}
	r := &scheduler.Runner{Sweeper: sw, Now: func() time.Time { return now }}
	closed, ran, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 3, closed)
	assert.Equal(t, now, sw.at)
	assert.Empty(t, sw.actor)
}

func TestRunOnceReportsSweepError(t *testing.T) {
	sw := &fakeSweeper{err: errors.New("boom")}
	r := &scheduler.Runner{Sweeper: sw}
	_, ran, err := r.RunOnce(context.Background())
	assert.True(t, ran)
	assert.EqualError(t, err, "boom")
}

func TestHeldLockSkipsSweep(t *testing.T) {
	sw := &fakeSweeper{block: make(chan struct{})}
	locker := &scheduler.LocalLocker{}
	first := &scheduler.Runner{Sweeper: sw, Locker: locker}
	second := &scheduler.Runner{Sweeper: sw, Locker: locker}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, _ = first.RunOnce(context.Background())
	}()
	require.Eventually(t, func() bool { return sw.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	_, ran, err := second.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)

	close(sw.block)
	<-done
	sw.block = nil
	_, ran, err = second.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, int32(2), sw.calls.Load())
}

func TestRunStopsWithContext(t *testing.T) {
	sw := &fakeSweeper{}
	r := &scheduler.Runner{Sweeper: sw, Interval: 10 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- r.Run(ctx) }()
	require.Eventually(t, func() bool { return sw.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
}

func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("BOPS_TEST_REDIS")
	if addr == "" {
		t.Skip("BOPS_TEST_REDIS not set")
	}
	ctx := context.Background()
	client, err := scheduler.Connect(ctx, addr)
	require.NoError(t, err)
	defer client.Close()

	l := scheduler.RedisLocker{Client: client, Prefix: "bops:test:" + time.Now().Format("150405.000") + ":"}
	release, ok, err := l.Acquire(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, err = l.Acquire(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	release()
	release2, ok, err := l.Acquire(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	release2()
}
