package scheduler

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chengcxy/docshift/logger"
	bolt "go.etcd.io/bbolt"
)

var ErrQueueClosed = errors.New("uri queue is closed for input")

// UriQueue connects the producer to the consumer. Put blocks or spills when full;
// Take returns ok=false once input is closed and the queue is drained.
type UriQueue interface {
	Put(ctx context.Context, uri string) error
	Take(ctx context.Context) (uri string, ok bool, err error)
	CloseInput()
	Close() error
}

// memoryQueue 有界队列, 满了 Put 阻塞
type memoryQueue struct {
	ch   chan string
	once sync.Once
}

func newMemoryQueue(capacity int) *memoryQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &memoryQueue{ch: make(chan string, capacity)}
}

func (q *memoryQueue) Put(ctx context.Context, uri string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- uri:
		return nil
	}
}

func (q *memoryQueue) Take(ctx context.Context) (string, bool, error) {
	select {
	case <-ctx.Done():
		return "", false, ctx.Err()
	case uri, ok := <-q.ch:
		return uri, ok, nil
	}
}

func (q *memoryQueue) CloseInput() {
	q.once.Do(func() { close(q.ch) })
}

func (q *memoryQueue) Close() error {
	q.CloseInput()
	return nil
}

var queueBucket = []byte("uris")

// diskQueue keeps up to max uris in memory and spills the rest to a bbolt file.
// Once anything is on disk new uris go to disk too, so FIFO order holds.
// It supports a single consumer.
type diskQueue struct {
	mu        sync.Mutex
	mem       []string
	max       int
	db        *bolt.DB
	path      string
	onDisk    int
	seq       uint64
	closed    bool
	available chan struct{}
}

func newDiskQueue(dir, name string, max int) (*diskQueue, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if max < 1 {
		max = 1
	}
	path := filepath.Join(dir, name)
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second, NoSync: true})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(queueBucket)
		return err
	})
	if err != nil {
		db.Close()
		os.Remove(path)
		return nil, err
	}
	return &diskQueue{
		mem:       make([]string, 0, max),
		max:       max,
		db:        db,
		path:      path,
		available: make(chan struct{}, 1),
	}, nil
}

func (q *diskQueue) notify() {
	select {
	case q.available <- struct{}{}:
	default:
	}
}

func (q *diskQueue) Put(ctx context.Context, uri string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if q.onDisk == 0 && len(q.mem) < q.max {
		q.mem = append(q.mem, uri)
		q.notify()
		return nil
	}
	q.seq++
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, q.seq)
	err := q.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(queueBucket).Put(key, []byte(uri))
	})
	if err != nil {
		return err
	}
	if q.onDisk == 0 {
		logger.Debugf("uri queue spilled to %s", q.path)
	}
	q.onDisk++
	q.notify()
	return nil
}

// refillLocked moves up to max uris from disk into memory.
func (q *diskQueue) refillLocked() error {
	return q.db.Update(func(tx *bolt.Tx) error {
		c := tx.Bucket(queueBucket).Cursor()
		for k, v := c.First(); k != nil && len(q.mem) < q.max; k, v = c.First() {
			q.mem = append(q.mem, string(v))
			if err := c.Delete(); err != nil {
				return err
			}
			q.onDisk--
		}
		return nil
	})
}

func (q *diskQueue) Take(ctx context.Context) (string, bool, error) {
	for {
		q.mu.Lock()
		if len(q.mem) == 0 && q.onDisk > 0 {
			if err := q.refillLocked(); err != nil {
				q.mu.Unlock()
				return "", false, err
			}
		}
		if len(q.mem) > 0 {
			uri := q.mem[0]
			q.mem = q.mem[1:]
			q.mu.Unlock()
			return uri, true, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return "", false, nil
		}
		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		case <-q.available:
		}
	}
}

func (q *diskQueue) CloseInput() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notify()
}

func (q *diskQueue) Close() error {
	q.CloseInput()
	err := q.db.Close()
	if rmErr := os.Remove(q.path); err == nil && !os.IsNotExist(rmErr) {
		err = rmErr
	}
	return err
}
