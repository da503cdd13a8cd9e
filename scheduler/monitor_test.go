package scheduler

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chengcxy/docshift/configor"
	"github.com/chengcxy/docshift/job"
	"github.com/chengcxy/docshift/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func monitorFixture(t *testing.T) (*Monitor, *Scheduler, func(body string)) {
	path := filepath.Join(t.TempDir(), "command.properties")
	s := &Scheduler{
		opts:     configor.NewOptions(nil, nil, nil, nil),
		pool:     NewWorkerPool(1),
		recorder: metrics.NewRecorder(),
		progress: job.NewProgress(10),
	}
	// 所有写入共用同一个 modtime
	stamp := time.Now().Add(-time.Hour).Truncate(time.Second)
	write := func(body string) {
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		require.NoError(t, os.Chtimes(path, stamp, stamp))
	}
	return newMonitor(s, path, time.Millisecond), s, write
}

func TestCommandFileChangesWithSameModTime(t *testing.T) {
	m, s, write := monitorFixture(t)

	write("COMMAND=PAUSE\n")
	m.checkCommandFile()
	assert.True(t, s.pool.Paused())

	write("COMMAND=RESUME\nTHREAD-COUNT=3\n")
	m.checkCommandFile()
	assert.False(t, s.pool.Paused())
	assert.Equal(t, 3, s.pool.Size())
	assert.Equal(t, "3", s.opts.Get(configor.ThreadCount))

	write("COMMAND=STOP\nTHREAD-COUNT=3\n")
	m.checkCommandFile()
	assert.True(t, s.isStopped())
}

func TestCommandFileAppliedOnce(t *testing.T) {
	m, s, write := monitorFixture(t)
	write("THREAD-COUNT=0\n")
	m.checkCommandFile()
	assert.Equal(t, 1, s.pool.Size())

	s.pool.Resize(5)
	m.checkCommandFile()
	assert.Equal(t, 5, s.pool.Size())
}

func TestMissingCommandFileIsIgnored(t *testing.T) {
	m, s, _ := monitorFixture(t)
	m.checkCommandFile()
	assert.False(t, s.pool.Paused())
	assert.Equal(t, job.CommandRun, m.command)
}
