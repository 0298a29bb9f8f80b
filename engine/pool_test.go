package engine

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"gotest.tools/v3/assert"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestPool(t *testing.T, max int) *Pool {
	t.Helper()
	pool := NewPool(max, NewSharedState(), NewModuleRegistry(testLogger()), testLogger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = pool.Shutdown(ctx)
	})
	return pool
}

func TestPoolReusesMostRecentRunner(t *testing.T) {
	pool := newTestPool(t, 2)

	first, err := pool.Lease(context.Background())
	assert.NilError(t, err)
	firstID := first.ID()
	pool.Release(first)

	second, err := pool.Lease(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, firstID, second.ID())
	pool.Release(second)
}

func TestPoolReleaseIsIdempotent(t *testing.T) {
	pool := newTestPool(t, 2)

	runner, err := pool.Lease(context.Background())
	assert.NilError(t, err)

	pool.Release(runner)
	pool.Release(runner)

	assert.Equal(t, 1, pool.Idle())
	assert.Equal(t, 0, pool.Leased())

	// both slots must still be leasable after the double release
	a, err := pool.Lease(context.Background())
	assert.NilError(t, err)
	b, err := pool.Lease(context.Background())
	assert.NilError(t, err)
	pool.Release(a)
	pool.Release(b)
}

func TestPoolBlocksAtCapacity(t *testing.T) {
	pool := newTestPool(t, 1)

	runner, err := pool.Lease(context.Background())
	assert.NilError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = pool.Lease(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	pool.Release(runner)
	again, err := pool.Lease(context.Background())
	assert.NilError(t, err)
	pool.Release(again)
}

func TestPoolDestroysBrokenRunners(t *testing.T) {
	pool := newTestPool(t, 1)

	runner, err := pool.Lease(context.Background())
	assert.NilError(t, err)
	runner.markBroken()
	pool.Release(runner)

	assert.Equal(t, 0, pool.Idle())

	replacement, err := pool.Lease(context.Background())
	assert.NilError(t, err)
	assert.Assert(t, replacement.ID() != runner.ID())
	pool.Release(replacement)
}

func TestPoolLeaseSeedsSnapshot(t *testing.T) {
	pool := newTestPool(t, 1)
	pool.State().Set("greeting", "hello")

	runner, err := pool.Lease(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, "hello", runner.Snapshot()["greeting"])

	// writes after the lease stay invisible to this runner
	pool.State().Set("greeting", "changed")
	assert.Equal(t, "hello", runner.Snapshot()["greeting"])
	pool.Release(runner)
}

func TestPoolShutdownStopsLeasing(t *testing.T) {
	pool := NewPool(1, NewSharedState(), NewModuleRegistry(testLogger()), testLogger())

	runner, err := pool.Lease(context.Background())
	assert.NilError(t, err)

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		done <- pool.Shutdown(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	pool.Release(runner)
	assert.NilError(t, <-done)

	_, err = pool.Lease(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)
}
