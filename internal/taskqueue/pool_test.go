package taskqueue

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/dubbox/api/wa-campaign-engine/internal/apperrors"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/config"
	"gitlab.com/dubbox/api/wa-campaign-engine/pkg/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Initialize("error"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func newTestPool(t *testing.T) *Pool {
	t.Helper()
	pool, err := NewPool("test", config.WorkerPoolConfig{
		PoolSize:   4,
		QueueSize:  100,
		MaxBlock:   time.Second,
		ExpiryTime: time.Minute,
	}, logger.Log)
	require.NoError(t, err)
	t.Cleanup(pool.Release)
	return pool
}

func TestSubmit_RunsTask(t *testing.T) {
	pool := newTestPool(t)
	done := make(chan struct{})

	err := pool.Submit(context.Background(), TaskSpec{Name: "noop", MaxAttempts: 1}, func(ctx context.Context) error {
		close(done)
		return nil
	})

	require.NoError(t, err)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}
}

func TestSubmit_RetriesTransientFailures(t *testing.T) {
	pool := newTestPool(t)
	var attempts int32
	done := make(chan struct{})

	err := pool.Submit(context.Background(), TaskSpec{
		Name:        "flaky",
		MaxAttempts: 3,
		Backoff:     10 * time.Millisecond,
	}, func(ctx context.Context) error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return apperrors.NewRetryable(errors.New("connection reset"), "send")
		}
		close(done)
		return nil
	})

	require.NoError(t, err)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not succeed after retries")
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestSubmit_PermanentErrorStopsRetrying(t *testing.T) {
	pool := newTestPool(t)
	var attempts int32

	err := pool.Submit(context.Background(), TaskSpec{
		Name:        "rejected",
		MaxAttempts: 3,
		Backoff:     10 * time.Millisecond,
	}, func(ctx context.Context) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("invalid template")
	})

	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&attempts) == 1
	}, 2*time.Second, 20*time.Millisecond)
	// Give a potential second attempt time to show up.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestSubmit_HonorsMaxAttempts(t *testing.T) {
	pool := newTestPool(t)
	var attempts int32

	err := pool.Submit(context.Background(), TaskSpec{
		Name:        "always-failing",
		MaxAttempts: 3,
		Backoff:     10 * time.Millisecond,
	}, func(ctx context.Context) error {
		atomic.AddInt32(&attempts, 1)
		return apperrors.NewRetryable(errors.New("still down"), "send")
	})

	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&attempts) == 3
	}, 2*time.Second, 20*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestSubmit_AttemptTimeoutIsTransient(t *testing.T) {
	pool := newTestPool(t)
	var attempts int32
	done := make(chan struct{})

	err := pool.Submit(context.Background(), TaskSpec{
		Name:        "slow-then-fast",
		MaxAttempts: 2,
		Backoff:     10 * time.Millisecond,
		Timeout:     50 * time.Millisecond,
	}, func(ctx context.Context) error {
		if atomic.AddInt32(&attempts, 1) == 1 {
			<-ctx.Done()
			return ctx.Err()
		}
		close(done)
		return nil
	})

	require.NoError(t, err)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not recover after a timed-out attempt")
	}
}
