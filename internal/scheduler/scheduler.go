// Package scheduler runs the deadline sweep that auto-closes expired
// validation requests.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"bops/internal/metrics"
)

const lockKey = "auto-close-sweep"

// Sweeper closes requests whose deadline has passed.
type Sweeper interface {
	AutoCloseExpired(ctx context.Context, now time.Time, actorID string) (int, error)
}

// Locker keeps a sweep from running on two instances at once.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// LocalLocker serializes sweeps inside one process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *LocalLocker) Acquire(_ context.Context, key string, _ time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = map[string]bool{}
	}
	if l.held[key] {
		return nil, false, nil
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}, true, nil
}

type Runner struct {
	Sweeper  Sweeper
	Locker   Locker
	Interval time.Duration
	LockTTL  time.Duration
	Logger   *zap.Logger
	Now      func() time.Time
}

func (r *Runner) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Runner) locker() Locker {
	if r.Locker == nil {
		r.Locker = &LocalLocker{}
	}
	return r.Locker
}

// RunOnce sweeps if the lock is free. ran is false when another sweep holds it.
func (r *Runner) RunOnce(ctx context.Context) (closed int, ran bool, err error) {
	if r.Sweeper == nil {
		return 0, false, errors.New("scheduler has no sweeper")
	}
	ttl := r.LockTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	release, ok, err := r.locker().Acquire(ctx, lockKey, ttl)
	if err != nil {
		metrics.SweepRuns.WithLabelValues("error").Inc()
		return 0, false, err
	}
	if !ok {
		metrics.SweepRuns.WithLabelValues("skipped").Inc()
		r.logger().Debug("sweep skipped, lock held elsewhere")
		return 0, false, nil
	}
	defer release()
	closed, err = r.Sweeper.AutoCloseExpired(ctx, r.now(), "")
	metrics.SweepRuns.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		r.logger().Error("auto-close sweep failed", zap.Error(err), zap.Int("closed", closed))
	} else if closed > 0 {
		r.logger().Info("auto-close sweep", zap.Int("closed", closed))
	}
	return closed, true, err
}

// Run sweeps once immediately and then on every interval until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	interval := r.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		// Failures are logged; the next tick retries.
		_, _, _ = r.RunOnce(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
