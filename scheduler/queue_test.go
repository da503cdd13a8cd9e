package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func takeAll(t *testing.T, q UriQueue) []string {
	t.Helper()
	var out []string
	for {
		uri, ok, err := q.Take(context.Background())
		require.NoError(t, err)
		if !ok {
			return out
		}
		out = append(out, uri)
	}
}

func TestMemoryQueueBackpressure(t *testing.T) {
	q := newMemoryQueue(2)
	require.NoError(t, q.Put(context.Background(), "/a"))
	require.NoError(t, q.Put(context.Background(), "/b"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Put(ctx, "/c"), context.DeadlineExceeded)

	q.CloseInput()
	assert.Equal(t, []string{"/a", "/b"}, takeAll(t, q))
	require.NoError(t, q.Close())
}

func TestDiskQueueSpillKeepsOrder(t *testing.T) {
	dir := t.TempDir()
	q, err := newDiskQueue(dir, "q.db", 3)
	require.NoError(t, err)

	var want []string
	for i := 0; i < 10; i++ {
		uri := fmt.Sprintf("/doc/%02d", i)
		want = append(want, uri)
		require.NoError(t, q.Put(context.Background(), uri))
	}
	assert.Equal(t, 7, q.onDisk)

	// 交错读写
	first, ok, err := q.Take(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "/doc/00", first)
	require.NoError(t, q.Put(context.Background(), "/doc/10"))
	want = append(want, "/doc/10")
	q.CloseInput()
	assert.ErrorIs(t, q.Put(context.Background(), "/late"), ErrQueueClosed)

	assert.Equal(t, want[1:], takeAll(t, q))
	require.NoError(t, q.Close())
	_, err = os.Stat(filepath.Join(dir, "q.db"))
	assert.True(t, os.IsNotExist(err))
}

func TestDiskQueueTakeWaitsForPut(t *testing.T) {
	q, err := newDiskQueue(t.TempDir(), "q.db", 1)
	require.NoError(t, err)
	defer q.Close()

	got := make(chan string, 1)
	go func() {
		uri, _, _ := q.Take(context.Background())
		got <- uri
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Put(context.Background(), "/x"))
	select {
	case uri := <-got:
		assert.Equal(t, "/x", uri)
	case <-time.After(2 * time.Second):
		t.Fatal("take did not wake up")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err = q.Take(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
