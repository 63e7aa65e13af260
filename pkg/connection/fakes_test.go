package connection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/auditlens/realtime-go/pkg/claims"
	"github.com/auditlens/realtime-go/pkg/stream"
)

// gatedSource issues "tok:<claims>" tokens. When gated, each call blocks
// until released or its context is cancelled.
type gatedSource struct {
	mu     sync.Mutex
	gated  bool
	gates  []chan error
	calls  []string
	failOn map[string]error
	arrive chan string
}

func newGatedSource(gated bool) *gatedSource {
	return &gatedSource{gated: gated, failOn: make(map[string]error), arrive: make(chan string, 64)}
}

func (s *gatedSource) Token(ctx context.Context, c claims.Claims) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, c.String())
	failErr := s.failOn[c.String()]
	var gate chan error
	if s.gated {
		gate = make(chan error, 1)
		s.gates = append(s.gates, gate)
	}
	s.mu.Unlock()
	select {
	case s.arrive <- c.String():
	default:
	}

	if gate != nil {
		select {
		case err := <-gate:
			if err != nil {
				return "", err
			}
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if failErr != nil {
		return "", failErr
	}
	return "tok:" + c.String(), nil
}

// release unblocks the oldest gated call.
func (s *gatedSource) release(err error) {
	s.mu.Lock()
	gate := s.gates[0]
	s.gates = s.gates[1:]
	s.mu.Unlock()
	gate <- err
}

func (s *gatedSource) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// invalidatingSource records Invalidate calls.
type invalidatingSource struct {
	*gatedSource
	mock.Mock
}

func (s *invalidatingSource) Invalidate(c claims.Claims) { s.Called(c.String()) }

// fakeDialer hands out fakeStreams and tracks how many are open at once.
type fakeDialer struct {
	mu      sync.Mutex
	tokens  []string
	streams []*fakeStream
	fail    error

	open    atomic.Int32
	maxOpen atomic.Int32
}

func (d *fakeDialer) Dial(ctx context.Context, tok string) (stream.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.tokens = append(d.tokens, tok)
	if d.fail != nil {
		return nil, d.fail
	}
	s := &fakeStream{
		token:  tok,
		frames: make(chan stream.Frame, 16),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
		dialer: d,
	}
	n := d.open.Add(1)
	for {
		cur := d.maxOpen.Load()
		if n <= cur || d.maxOpen.CompareAndSwap(cur, n) {
			break
		}
	}
	d.streams = append(d.streams, s)
	return s, nil
}

func (d *fakeDialer) Tokens() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.tokens...)
}

func (d *fakeDialer) last() *fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.streams) == 0 {
		return nil
	}
	return d.streams[len(d.streams)-1]
}

func (d *fakeDialer) setFail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = err
}

type fakeStream struct {
	token  string
	frames chan stream.Frame
	errs   chan error
	closed chan struct{}
	once   sync.Once
	dialer *fakeDialer
}

func (s *fakeStream) Next() (stream.Frame, error) {
	select {
	case f := <-s.frames:
		return f, nil
	case err := <-s.errs:
		return stream.Frame{}, err
	case <-s.closed:
		return stream.Frame{}, stream.ErrStreamClosed
	}
}

func (s *fakeStream) Close() error {
	s.once.Do(func() {
		close(s.closed)
		s.dialer.open.Add(-1)
	})
	return nil
}

func (s *fakeStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// manualTimers captures retry timers so tests decide when they fire.
type manualTimers struct {
	mu     sync.Mutex
	delays []time.Duration
	fns    []func()
}

type manualStop struct{ stopped atomic.Bool }

func (s *manualStop) Stop() bool { return !s.stopped.Swap(true) }

func (mt *manualTimers) afterFunc(d time.Duration, f func()) stopper {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	st := &manualStop{}
	mt.delays = append(mt.delays, d)
	mt.fns = append(mt.fns, func() {
		if !st.stopped.Load() {
			f()
		}
	})
	return st
}

func (mt *manualTimers) Delays() []time.Duration {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	return append([]time.Duration(nil), mt.delays...)
}

func (mt *manualTimers) fire(i int) {
	mt.mu.Lock()
	fn := mt.fns[i]
	mt.mu.Unlock()
	fn()
}

var errBoom = errors.New("boom")
