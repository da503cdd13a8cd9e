package scheduler

import (
	"context"
	"errors"
	"sync"
)

var ErrPoolClosed = errors.New("worker pool is closed")

// WorkerPool 可调整大小、可暂停的 worker 池
// 在跑的任务不受 Resize/Pause/Close 影响, 只影响新任务的启动
type WorkerPool struct {
	wg sync.WaitGroup

	mu        sync.Mutex
	WorkerNum int
	active    int
	paused    bool
	closed    bool
	idle      []int
	nextWid   int
	// changed 在状态变化时关闭并替换, 用来唤醒等待者
	changed chan struct{}
}

func NewWorkerPool(workerNum int) *WorkerPool {
	if workerNum < 1 {
		workerNum = 1
	}
	return &WorkerPool{WorkerNum: workerNum, changed: make(chan struct{})}
}

func (wp *WorkerPool) broadcastLocked() {
	close(wp.changed)
	wp.changed = make(chan struct{})
}

// Submit blocks until a worker slot is free and the pool is not paused, then runs
// fn on its own goroutine with the worker id.
func (wp *WorkerPool) Submit(ctx context.Context, fn func(wid int)) error {
	for {
		wp.mu.Lock()
		if wp.closed {
			wp.mu.Unlock()
			return ErrPoolClosed
		}
		if !wp.paused && wp.active < wp.WorkerNum {
			wp.active++
			wid := wp.takeWidLocked()
			wp.wg.Add(1)
			wp.mu.Unlock()
			go wp.worker(wid, fn)
			return nil
		}
		changed := wp.changed
		wp.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

func (wp *WorkerPool) takeWidLocked() int {
	if n := len(wp.idle); n > 0 {
		wid := wp.idle[n-1]
		wp.idle = wp.idle[:n-1]
		return wid
	}
	wid := wp.nextWid
	wp.nextWid++
	return wid
}

func (wp *WorkerPool) worker(wid int, fn func(wid int)) {
	defer func() {
		wp.mu.Lock()
		wp.active--
		wp.idle = append(wp.idle, wid)
		wp.broadcastLocked()
		wp.mu.Unlock()
		wp.wg.Done()
	}()
	fn(wid)
}

// Resize changes the steady-state parallelism, clamped to at least 1.
func (wp *WorkerPool) Resize(n int) {
	if n < 1 {
		n = 1
	}
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if n != wp.WorkerNum {
		wp.WorkerNum = n
		wp.broadcastLocked()
	}
}

func (wp *WorkerPool) Size() int {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.WorkerNum
}

func (wp *WorkerPool) Active() int {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.active
}

func (wp *WorkerPool) Pause() {
	wp.setPaused(true)
}

func (wp *WorkerPool) Resume() {
	wp.setPaused(false)
}

func (wp *WorkerPool) setPaused(p bool) {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.paused != p {
		wp.paused = p
		wp.broadcastLocked()
	}
}

func (wp *WorkerPool) Paused() bool {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.paused
}

// Close rejects new and waiting submissions. Running workers are not interrupted.
func (wp *WorkerPool) Close() {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if !wp.closed {
		wp.closed = true
		wp.broadcastLocked()
	}
}

// Wait blocks until every started worker has returned.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}
