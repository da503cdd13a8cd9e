// Package sourcetest provides a scripted content source for tests.
package sourcetest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chengcxy/docshift/source"
)

type Handler func(req *source.Request) ([]string, error)

// Echo returns the URI variable as the only item.
func Echo(req *source.Request) ([]string, error) {
	return []string{req.Variables["URI"]}, nil
}

type FakeSource struct {
	Handler Handler
	// SessionErr, when set, is asked before every session with the 1-based session number.
	SessionErr func(n int64) error
	// Delay is applied to every Submit and honours ctx.
	Delay time.Duration

	mu       sync.Mutex
	requests []*source.Request
	sessions atomic.Int64
	open     atomic.Int64
	closed   atomic.Bool
}

func New(h Handler) *FakeSource {
	return &FakeSource{Handler: h}
}

func (f *FakeSource) NewSession(ctx context.Context) (source.Session, error) {
	n := f.sessions.Add(1)
	if f.SessionErr != nil {
		if err := f.SessionErr(n); err != nil {
			return nil, err
		}
	}
	f.open.Add(1)
	return &session{f: f}, nil
}

func (f *FakeSource) Close() error {
	f.closed.Store(true)
	return nil
}

// Requests returns a copy of every submitted request.
func (f *FakeSource) Requests() []*source.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*source.Request, len(f.requests))
	copy(out, f.requests)
	return out
}

func (f *FakeSource) OpenSessions() int64 { return f.open.Load() }
func (f *FakeSource) Sessions() int64     { return f.sessions.Load() }
func (f *FakeSource) Closed() bool        { return f.closed.Load() }

type session struct {
	f      *FakeSource
	closed bool
}

func (s *session) Submit(ctx context.Context, req *source.Request) (source.ResultSequence, error) {
	cp := *req
	cp.Variables = make(map[string]string, len(req.Variables))
	for k, v := range req.Variables {
		cp.Variables[k] = v
	}
	s.f.mu.Lock()
	s.f.requests = append(s.f.requests, &cp)
	s.f.mu.Unlock()
	if s.f.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.f.Delay):
		}
	}
	items, err := s.f.Handler(&cp)
	if err != nil {
		return nil, err
	}
	return source.NewSliceSequence(items), nil
}

func (s *session) Close() error {
	if !s.closed {
		s.closed = true
		s.f.open.Add(-1)
	}
	return nil
}
