package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func submitWithin(wp *WorkerPool, d time.Duration, fn func(int)) error {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return wp.Submit(ctx, fn)
}

func TestWorkerPoolResize(t *testing.T) {
	wp := NewWorkerPool(1)
	release := make(chan struct{})
	block := func(int) { <-release }

	require.NoError(t, wp.Submit(context.Background(), block))
	assert.ErrorIs(t, submitWithin(wp, 50*time.Millisecond, block), context.DeadlineExceeded)

	wp.Resize(2)
	assert.Equal(t, 2, wp.Size())
	require.NoError(t, submitWithin(wp, time.Second, block))
	assert.Equal(t, 2, wp.Active())

	wp.Resize(0)
	assert.Equal(t, 1, wp.Size())
	close(release)
	wp.Close()
	wp.Wait()
	assert.Equal(t, 0, wp.Active())
}

func TestWorkerPoolPause(t *testing.T) {
	wp := NewWorkerPool(4)
	var ran atomic.Int32
	wp.Pause()
	assert.True(t, wp.Paused())
	assert.ErrorIs(t, submitWithin(wp, 50*time.Millisecond, func(int) { ran.Add(1) }), context.DeadlineExceeded)

	done := make(chan error, 1)
	go func() { done <- submitWithin(wp, 5*time.Second, func(int) { ran.Add(1) }) }()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), ran.Load())
	wp.Resume()
	require.NoError(t, <-done)
	wp.Close()
	wp.Wait()
	assert.Equal(t, int32(1), ran.Load())
}

func TestWorkerPoolCloseRejectsWaiters(t *testing.T) {
	wp := NewWorkerPool(1)
	release := make(chan struct{})
	require.NoError(t, wp.Submit(context.Background(), func(int) { <-release }))

	done := make(chan error, 1)
	go func() { done <- wp.Submit(context.Background(), func(int) {}) }()
	time.Sleep(20 * time.Millisecond)
	wp.Close()
	assert.ErrorIs(t, <-done, ErrPoolClosed)
	close(release)
	wp.Wait()
}

func TestWorkerIdsAreReused(t *testing.T) {
	wp := NewWorkerPool(2)
	ids := make(chan int, 10)
	for i := 0; i < 10; i++ {
		require.NoError(t, wp.Submit(context.Background(), func(wid int) { ids <- wid }))
	}
	wp.Close()
	wp.Wait()
	close(ids)
	for wid := range ids {
		assert.True(t, wid == 0 || wid == 1, "wid %d", wid)
	}
}
