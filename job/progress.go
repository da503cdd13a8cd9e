package job

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultTpsWindow = 10
	// MinTpsWindow tps 至少需要两个采样点
	MinTpsWindow = 2
)

type sample struct {
	at   time.Time
	done int64
}

// Progress counters are atomic; the tps window has its own lock.
type Progress struct {
	total     atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	startNano atomic.Int64

	mu     sync.Mutex
	window []sample
	next   int
	size   int
	now    func() time.Time
}

func NewProgress(windowSize int) *Progress {
	if windowSize < MinTpsWindow {
		windowSize = MinTpsWindow
	}
	p := &Progress{size: windowSize, now: time.Now}
	p.startNano.Store(p.now().UnixNano())
	return p
}

// Start resets the clock and sets the total.
func (p *Progress) Start(total int64) {
	p.total.Store(total)
	p.startNano.Store(p.now().UnixNano())
	p.mu.Lock()
	p.window = p.window[:0]
	p.next = 0
	p.mu.Unlock()
}

func (p *Progress) Complete(n int) {
	done := p.completed.Add(int64(n)) + p.failed.Load()
	p.record(done)
}

func (p *Progress) Fail(n int) {
	done := p.failed.Add(int64(n)) + p.completed.Load()
	p.record(done)
}

func (p *Progress) record(done int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := sample{at: p.now(), done: done}
	if len(p.window) < p.size {
		p.window = append(p.window, s)
		return
	}
	p.window[p.next] = s
	p.next = (p.next + 1) % p.size
}

func (p *Progress) Total() int64     { return p.total.Load() }
func (p *Progress) Completed() int64 { return p.completed.Load() }
func (p *Progress) Failed() int64    { return p.failed.Load() }

type Snapshot struct {
	Total      int64
	Completed  int64
	Failed     int64
	Elapsed    time.Duration
	CurrentTps float64
	AverageTps float64
	Etc        time.Duration
}

func (p *Progress) Snapshot() Snapshot {
	now := p.now()
	s := Snapshot{
		Total:     p.total.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Elapsed:   now.Sub(time.Unix(0, p.startNano.Load())),
	}
	done := s.Completed + s.Failed
	if secs := s.Elapsed.Seconds(); secs > 0 {
		s.AverageTps = float64(done) / secs
	}
	s.CurrentTps = p.windowTps()
	if s.CurrentTps <= 0 {
		s.CurrentTps = s.AverageTps
	}
	if remaining := s.Total - done; remaining > 0 && s.CurrentTps > 0 {
		s.Etc = time.Duration(float64(remaining) / s.CurrentTps * float64(time.Second))
	}
	return s
}

func (p *Progress) windowTps() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.window) < 2 {
		return 0
	}
	oldest := p.window[0]
	newest := p.window[len(p.window)-1]
	if len(p.window) == p.size {
		oldest = p.window[p.next]
		newest = p.window[(p.next+p.size-1)%p.size]
	}
	secs := newest.at.Sub(oldest.at).Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(newest.done-oldest.done) / secs
}

func (s Snapshot) String() string {
	return fmt.Sprintf("completed %d of %d, failed %d, %.2f tps (current), %.2f tps (average), elapsed %s, ETC %s",
		s.Completed, s.Total, s.Failed, s.CurrentTps, s.AverageTps,
		s.Elapsed.Round(time.Second), s.Etc.Round(time.Second))
}
