package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/auditlens/realtime-go/pkg/claims"
	rtlog "github.com/auditlens/realtime-go/pkg/log"
	"github.com/auditlens/realtime-go/pkg/stream"
	"github.com/auditlens/realtime-go/pkg/token"
)

type stopper interface {
	Stop() bool
}

// Manager owns the single physical stream.
type Manager struct {
	mu sync.Mutex

	config  Config
	tokens  token.Source
	dialer  stream.Dialer
	logger  *slog.Logger
	trace   rtlog.Logger
	backoff *Backoff

	// Current state
	state   State
	lastErr error

	// gen identifies the current attempt or connection. Results of older
	// generations are discarded.
	gen uint64

	// current is the set of the open, in-flight or failed connection.
	current claims.Claims
	conn    Conn
	active  stream.Stream

	cancelAttempt context.CancelFunc
	attemptDone   chan struct{}

	// pending holds the latest set requested while Connecting.
	pending *claims.Claims

	retry    stopper
	retrySet claims.Claims

	afterFunc func(time.Duration, func()) stopper

	// Callbacks, run in order by a single flusher
	queue    []func()
	flushing bool

	onStateChange func(oldState, newState State)
	onOpen        func(Conn)
	onClose       func(Conn)
	onFrame       FrameHandler
}

// NewManager creates a connection manager. Both collaborators are required.
func NewManager(tokens token.Source, dialer stream.Dialer, config Config) (*Manager, error) {
	if tokens == nil || dialer == nil {
		return nil, ErrMissingCollaborator
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		config:  config,
		tokens:  tokens,
		dialer:  dialer,
		logger:  logger.With("component", "connection"),
		trace:   rtlog.OrNoop(config.Trace),
		backoff: NewBackoffWithConfig(config.Backoff, config.MaxAttempts),
		state:   StateIdle,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
	}, nil
}

// OnStateChange sets a callback for state changes.
func (m *Manager) OnStateChange(fn func(oldState, newState State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = fn
}

// OnOpen sets a callback invoked when a stream opens, before its first frame.
func (m *Manager) OnOpen(fn func(Conn)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onOpen = fn
}

// OnClose sets a callback invoked when an open stream is torn down.
func (m *Manager) OnClose(fn func(Conn)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onClose = fn
}

// OnFrame sets the handler receiving frames of the open stream.
func (m *Manager) OnFrame(fn FrameHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFrame = fn
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastError returns the cause of the Error state, or nil.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Claims returns the set of the open, in-flight or failed connection.
// It is nil when Idle.
func (m *Manager) Claims() claims.Claims {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.Clone()
}

// Status is a consistent snapshot of the manager.
type Status struct {
	State        State
	Err          error
	ConnectionID string
	Claims       claims.Claims
}

// Status returns state, last error, connection ID and claims read together.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{
		State:  m.state,
		Err:    m.lastErr,
		Claims: m.current.Clone(),
	}
	if m.state == StateOpen {
		st.ConnectionID = m.conn.ID
	}
	return st
}

// Pending returns a copy of the pending set, or nil.
func (m *Manager) Pending() claims.Claims {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return nil
	}
	return m.pending.Clone()
}

// ConnectionID returns the ID of the open connection, or "".
func (m *Manager) ConnectionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateOpen {
		return ""
	}
	return m.conn.ID
}

// Failures returns the number of consecutive failures.
func (m *Manager) Failures() int {
	return m.backoff.Failures()
}

// Request asks for a connection with set. It never blocks on the network.
//
// A set equal to the open or in-flight one is a no-op. While Connecting the
// set is parked in the pending slot. Otherwise any open stream is closed and
// a new attempt starts.
func (m *Manager) Request(set claims.Claims) error {
	m.mu.Lock()
	err := m.requestLocked(set.Clone())
	m.mu.Unlock()
	m.flushAsync()
	return err
}

func (m *Manager) requestLocked(set claims.Claims) error {
	switch m.state {
	case StateClosed:
		return ErrConnectionClosed

	case StateConnecting:
		if set.Equal(m.current) {
			if m.pending != nil {
				m.pending = nil
				m.traceClaimsLocked(rtlog.ClaimsDiscarded, set)
			}
			return nil
		}
		m.pending = &set
		m.traceClaimsLocked(rtlog.ClaimsPending, set)
		m.logger.Debug("claims pending", "claims", set.String())
		return nil

	case StateOpen:
		if set.Equal(m.current) {
			m.traceClaimsLocked(rtlog.ClaimsUnchanged, set)
			return nil
		}

	case StateError:
		target := m.current
		if m.retry != nil {
			target = m.retrySet
		}
		if set.Equal(target) {
			m.traceClaimsLocked(rtlog.ClaimsUnchanged, set)
			return nil
		}
	}

	if !set.Equal(m.current) {
		m.backoff.Reset()
	}
	m.traceClaimsLocked(rtlog.ClaimsRequested, set)
	m.startLocked(set, "claims changed")
	return nil
}

// Disconnect closes the stream, abandons an in-flight attempt and discards
// the pending slot. The manager returns to Idle.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.state != StateClosed {
		m.resetLocked()
		m.setStateLocked(StateIdle, "disconnect")
	}
	m.mu.Unlock()
	m.flushAsync()
}

// Close shuts the manager down. It is safe to call Close multiple times.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.state != StateClosed {
		m.resetLocked()
		m.setStateLocked(StateClosed, "closed")
	}
	m.mu.Unlock()
	m.flushAsync()
}

func (m *Manager) resetLocked() {
	m.stopRetryLocked()
	m.teardownLocked()
	m.gen++
	if m.pending != nil {
		m.traceClaimsLocked(rtlog.ClaimsDiscarded, *m.pending)
		m.pending = nil
	}
	m.current = nil
	m.lastErr = nil
	m.backoff.Reset()
}

// startLocked begins a new attempt for set.
func (m *Manager) startLocked(set claims.Claims, reason string) {
	m.stopRetryLocked()
	m.teardownLocked()

	m.gen++
	gen := m.gen
	m.current = set
	m.pending = nil
	m.setStateLocked(StateConnecting, reason)

	ctx, cancel := context.WithCancel(context.Background())
	m.cancelAttempt = cancel
	prev := m.attemptDone
	done := make(chan struct{})
	m.attemptDone = done

	go m.run(ctx, gen, set, prev, done)
}

// teardownLocked closes the open stream and cancels an in-flight attempt.
func (m *Manager) teardownLocked() {
	if m.cancelAttempt != nil {
		m.cancelAttempt()
		m.cancelAttempt = nil
	}
	if m.active == nil {
		return
	}

	s, conn := m.active, m.conn
	m.active = nil
	m.conn = Conn{}
	if err := s.Close(); err != nil {
		m.logger.Debug("stream close", "conn_id", conn.ID, "error", err)
	}
	if fn := m.onClose; fn != nil {
		m.queue = append(m.queue, func() { fn(conn) })
	}
}

func (m *Manager) stopRetryLocked() {
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
		m.retrySet = nil
	}
}

// run performs one attempt and, on success, reads the stream until it ends.
func (m *Manager) run(ctx context.Context, gen uint64, set claims.Claims, prev <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	// The previous attempt must be gone before this one may dial.
	if prev != nil {
		<-prev
	}
	if ctx.Err() != nil {
		return
	}

	tok, err := m.fetchToken(ctx, set)
	if err != nil {
		m.attemptFailed(gen, fmt.Errorf("token: %w", err))
		return
	}

	dialCtx := ctx
	if m.config.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, m.config.DialTimeout)
		defer cancel()
	}
	s, err := m.dialer.Dial(dialCtx, tok)
	if err != nil {
		if inv, ok := m.tokens.(token.Invalidator); ok {
			inv.Invalidate(set)
		}
		m.attemptFailed(gen, fmt.Errorf("dial: %w", err))
		return
	}

	conn, ok := m.opened(gen, set, s)
	m.flush()
	if !ok {
		return
	}
	m.read(gen, conn, s)
}

func (m *Manager) fetchToken(ctx context.Context, set claims.Claims) (string, error) {
	if m.config.TokenTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.TokenTimeout)
		defer cancel()
	}
	return m.tokens.Token(ctx, set)
}

// opened installs s as the active stream. It reports false when the attempt
// was abandoned or immediately superseded by a pending set.
func (m *Manager) opened(gen uint64, set claims.Claims, s stream.Stream) (Conn, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.gen != gen || m.state != StateConnecting {
		_ = s.Close()
		return Conn{}, false
	}

	if m.cancelAttempt != nil {
		m.cancelAttempt()
		m.cancelAttempt = nil
	}

	conn := Conn{ID: ulid.Make().String(), Claims: set.Clone(), OpenedAt: time.Now()}
	m.active = s
	m.conn = conn
	m.lastErr = nil
	m.backoff.Reset()
	m.setStateLocked(StateOpen, "stream established")
	m.traceClaimsLocked(rtlog.ClaimsOpened, set)
	m.logger.Info("stream open", "conn_id", conn.ID, "claims", set.String())
	if fn := m.onOpen; fn != nil {
		m.queue = append(m.queue, func() { fn(conn) })
	}

	if m.pending != nil {
		next := *m.pending
		m.pending = nil
		if next.Equal(set) {
			m.traceClaimsLocked(rtlog.ClaimsDiscarded, next)
			return conn, true
		}
		m.startLocked(next, "pending claims")
		return conn, false
	}
	return conn, true
}

func (m *Manager) read(gen uint64, conn Conn, s stream.Stream) {
	for {
		f, err := s.Next()
		if err != nil {
			m.streamFailed(gen, err)
			return
		}

		m.trace.Log(rtlog.Event{
			Timestamp:    time.Now(),
			ConnectionID: conn.ID,
			Direction:    rtlog.DirectionIn,
			Layer:        rtlog.LayerTransport,
			Category:     rtlog.CategoryFrame,
			Frame:        rtlog.NewFrameEvent(f.Event, f.Data, f.ID),
		})

		m.mu.Lock()
		if m.gen != gen {
			m.mu.Unlock()
			return
		}
		m.queue = append(m.queue, func() { m.deliver(gen, conn, f) })
		m.mu.Unlock()
		m.flush()
	}
}

func (m *Manager) deliver(gen uint64, conn Conn, f stream.Frame) {
	m.mu.Lock()
	live := m.gen == gen && m.state == StateOpen
	handler := m.onFrame
	m.mu.Unlock()

	if !live || handler == nil {
		return
	}
	if handler(conn, f) {
		m.terminate(gen)
	}
}

// terminate closes the stream after a termination frame. This is not an error.
func (m *Manager) terminate(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.gen != gen || m.state != StateOpen {
		return
	}
	m.logger.Info("stream terminated by server", "conn_id", m.conn.ID)
	m.resetLocked()
	m.setStateLocked(StateIdle, "terminated")
}

func (m *Manager) streamFailed(gen uint64, err error) {
	m.mu.Lock()
	if m.gen != gen || m.state != StateOpen {
		m.mu.Unlock()
		return
	}
	if errors.Is(err, io.EOF) {
		err = ErrStreamEnded
	}
	m.teardownLocked()
	m.failLocked(err)
	m.mu.Unlock()
	m.flush()
}

func (m *Manager) attemptFailed(gen uint64, err error) {
	m.mu.Lock()
	if m.gen != gen || m.state != StateConnecting {
		m.mu.Unlock()
		return
	}
	if m.cancelAttempt != nil {
		m.cancelAttempt()
		m.cancelAttempt = nil
	}
	m.failLocked(err)
	m.mu.Unlock()
	m.flush()
}

// failLocked enters Error and decides on the next attempt.
func (m *Manager) failLocked(err error) {
	failures := m.backoff.Fail()
	m.lastErr = err
	m.setStateLocked(StateError, err.Error())
	m.logger.Warn("stream failed", "error", err, "failures", failures, "claims", m.current.String())
	m.trace.Log(rtlog.Event{
		Timestamp: time.Now(),
		Layer:     rtlog.LayerConnection,
		Category:  rtlog.CategoryError,
		Error: &rtlog.ErrorEventData{
			Layer:   rtlog.LayerConnection,
			Message: err.Error(),
			Context: "connect",
		},
	})

	if m.pending != nil {
		next := *m.pending
		m.pending = nil
		m.scheduleLocked(next, m.backoff.Retry(true), "pending claims")
		return
	}

	if !m.config.AutoReconnect || m.current.IsEmpty() {
		return
	}
	if m.backoff.Exhausted() {
		m.lastErr = fmt.Errorf("%w after %d failures: %w", ErrAttemptsExhausted, failures, err)
		m.logger.Error("giving up reconnecting", "failures", failures)
		return
	}
	m.scheduleLocked(m.current, m.backoff.Retry(false), "reconnect")
}

func (m *Manager) scheduleLocked(set claims.Claims, delay time.Duration, reason string) {
	if delay <= 0 {
		m.startLocked(set, reason)
		return
	}

	gen := m.gen
	m.retrySet = set
	m.logger.Debug("retry scheduled", "delay", delay, "claims", set.String())
	m.retry = m.afterFunc(delay, func() {
		m.mu.Lock()
		if m.gen != gen || m.state != StateError || m.retry == nil {
			m.mu.Unlock()
			return
		}
		m.retry = nil
		m.retrySet = nil
		m.startLocked(set, reason)
		m.mu.Unlock()
		m.flush()
	})
}

func (m *Manager) setStateLocked(newState State, reason string) {
	oldState := m.state
	if oldState == newState {
		return
	}
	m.state = newState

	m.trace.Log(rtlog.Event{
		Timestamp:    time.Now(),
		ConnectionID: m.conn.ID,
		Layer:        rtlog.LayerConnection,
		Category:     rtlog.CategoryState,
		StateChange: &rtlog.StateChangeEvent{
			OldState: oldState.String(),
			NewState: newState.String(),
			Reason:   reason,
		},
	})
	m.logger.Debug("state change", "old", oldState.String(), "new", newState.String(), "reason", reason)

	if fn := m.onStateChange; fn != nil {
		m.queue = append(m.queue, func() { fn(oldState, newState) })
	}
}

func (m *Manager) traceClaimsLocked(action rtlog.ClaimsAction, set claims.Claims) {
	m.trace.Log(rtlog.Event{
		Timestamp:    time.Now(),
		ConnectionID: m.conn.ID,
		Direction:    rtlog.DirectionOut,
		Layer:        rtlog.LayerConnection,
		Category:     rtlog.CategoryClaims,
		Claims:       &rtlog.ClaimsEvent{Action: action, Values: set.Flatten()},
	})
}

// flush runs queued callbacks on the calling goroutine unless another
// goroutine is already flushing, in which case that one picks them up.
func (m *Manager) flush() {
	m.mu.Lock()
	if m.flushing {
		m.mu.Unlock()
		return
	}
	m.flushing = true
	m.drainLocked()
}

// flushAsync is flush for public entry points: callbacks never run on the
// caller's goroutine.
func (m *Manager) flushAsync() {
	m.mu.Lock()
	if m.flushing || len(m.queue) == 0 {
		m.mu.Unlock()
		return
	}
	m.flushing = true
	m.mu.Unlock()

	go func() {
		m.mu.Lock()
		m.drainLocked()
	}()
}

// drainLocked is entered with mu held and flushing set; it returns with mu
// released.
func (m *Manager) drainLocked() {
	for len(m.queue) > 0 {
		batch := m.queue
		m.queue = nil
		m.mu.Unlock()
		for _, fn := range batch {
			fn()
		}
		m.mu.Lock()
	}
	m.flushing = false
	m.mu.Unlock()
}
