package scheduler

import (
	"context"
	"os"
	"time"

	"github.com/chengcxy/docshift/configor"
	"github.com/chengcxy/docshift/job"
	"github.com/chengcxy/docshift/logger"
	"github.com/chengcxy/docshift/utils"
)

// Monitor polls the command file and logs progress on a fixed tick.
type Monitor struct {
	s        *Scheduler
	file     string
	interval time.Duration
	applied  string
	command  job.Command
	ticks    int
	every    int
	lastDone int64
}

func newMonitor(s *Scheduler, file string, interval time.Duration) *Monitor {
	return &Monitor{s: s, file: file, interval: interval, command: job.CommandRun, every: 1}
}

// progressEvery 任务越多, 进度日志越稀疏
func progressEvery(total int64) int {
	switch {
	case total <= 1000:
		return 1
	case total <= 100000:
		return 5
	default:
		return 10
	}
}

func (m *Monitor) Run(ctx context.Context) {
	m.every = progressEvery(m.s.progress.Total())
	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.tick()
		}
	}
}

func (m *Monitor) tick() {
	m.checkCommandFile()
	m.ticks++
	if m.ticks%m.every != 0 {
		return
	}
	snap := m.s.progress.Snapshot()
	done := snap.Completed + snap.Failed
	if done == m.lastDone && m.command != job.CommandPause {
		return
	}
	m.lastDone = done
	if m.command == job.CommandPause {
		logger.Infof("PAUSED %s", snap)
		return
	}
	logger.Infof("%s threads: %d", snap, m.s.pool.Size())
}

// checkCommandFile applies the file when COMMAND or THREAD-COUNT differ from the last applied values.
// Modification times are not trusted, two writes may share one.
func (m *Monitor) checkCommandFile() {
	if m.file == "" {
		return
	}
	if _, err := os.Stat(m.file); err != nil {
		return
	}
	props, err := configor.LoadProperties(m.file)
	if err != nil {
		logger.Warnf("cannot read command file %s: %v", m.file, err)
		return
	}
	key := props[configor.Command] + "\n" + props[configor.ThreadCount]
	if key == m.applied {
		return
	}
	m.applied = key
	m.apply(props)
}

func (m *Monitor) apply(props map[string]string) {
	opts := m.s.opts
	opts.Set(configor.Command, props[configor.Command])
	opts.Set(configor.ThreadCount, props[configor.ThreadCount])

	if v := props[configor.ThreadCount]; !utils.IsBlank(v) {
		n := utils.ParseInt(v, m.s.pool.Size())
		if n < 1 {
			n = 1
		}
		if n != m.s.pool.Size() {
			logger.Infof("changing thread count from %d to %d", m.s.pool.Size(), n)
			m.s.pool.Resize(n)
			m.s.recorder.SetThreads(n)
		}
	}

	cmd := job.ParseCommand(props[configor.Command])
	if cmd == m.command {
		return
	}
	switch cmd {
	case job.CommandPause:
		logger.Infof("pause command received, no new task will start")
		m.s.pool.Pause()
	case job.CommandStop:
		logger.Infof("stop command received, draining in-flight tasks")
		m.s.Stop()
		m.s.pool.Resume()
	default:
		logger.Infof("resuming")
		m.s.pool.Resume()
	}
	m.command = cmd
}
