package realtime

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/auditlens/realtime-go/pkg/claims"
	"github.com/auditlens/realtime-go/pkg/stream"
)

// stubSource issues "tok:<claims>" tokens. When gated, calls block until
// release is called.
type stubSource struct {
	mu    sync.Mutex
	gated bool
	gates []chan struct{}
	calls []string
}

func (s *stubSource) Token(ctx context.Context, c claims.Claims) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, c.String())
	var gate chan struct{}
	if s.gated {
		gate = make(chan struct{})
		s.gates = append(s.gates, gate)
	}
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "tok:" + c.String(), nil
}

func (s *stubSource) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *stubSource) waiting() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.gates)
}

func (s *stubSource) releaseAll() {
	s.mu.Lock()
	gates := s.gates
	s.gates = nil
	s.gated = false
	s.mu.Unlock()
	for _, g := range gates {
		close(g)
	}
}

type stubDialer struct {
	mu      sync.Mutex
	streams []*stubStream

	open    atomic.Int32
	maxOpen atomic.Int32
}

func (d *stubDialer) Dial(ctx context.Context, tok string) (stream.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := &stubStream{
		token:  tok,
		frames: make(chan stream.Frame, 16),
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

func (d *stubDialer) Tokens() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.streams))
	for i, s := range d.streams {
		out[i] = s.token
	}
	return out
}

func (d *stubDialer) last() *stubStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.streams) == 0 {
		return nil
	}
	return d.streams[len(d.streams)-1]
}

type stubStream struct {
	token  string
	frames chan stream.Frame
	closed chan struct{}
	once   sync.Once
	dialer *stubDialer
}

func (s *stubStream) Next() (stream.Frame, error) {
	select {
	case f := <-s.frames:
		return f, nil
	case <-s.closed:
		return stream.Frame{}, stream.ErrStreamClosed
	}
}

func (s *stubStream) Close() error {
	s.once.Do(func() {
		close(s.closed)
		s.dialer.open.Add(-1)
	})
	return nil
}

func (s *stubStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}
