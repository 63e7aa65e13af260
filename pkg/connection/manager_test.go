package connection

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditlens/realtime-go/pkg/claims"
	"github.com/auditlens/realtime-go/pkg/stream"
)

const wait = 2 * time.Second
const tick = 5 * time.Millisecond

func set(kv ...string) claims.Claims {
	c := claims.Claims{}
	for i := 0; i+1 < len(kv); i += 2 {
		c[kv[i]] = claims.Set(kv[i+1])
	}
	return c
}

func tok(c claims.Claims) string { return "tok:" + c.String() }

func newTestManager(t *testing.T, src *gatedSource, cfg Config) (*Manager, *fakeDialer, *manualTimers) {
	t.Helper()
	d := &fakeDialer{}
	m, err := NewManager(src, d, cfg)
	require.NoError(t, err)
	timers := &manualTimers{}
	m.afterFunc = timers.afterFunc
	t.Cleanup(m.Close)
	return m, d, timers
}

func waitState(t *testing.T, m *Manager, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State() == want }, wait, tick,
		"state = %v, want %v", m.State(), want)
}

func waitArrive(t *testing.T, src *gatedSource) string {
	t.Helper()
	select {
	case c := <-src.arrive:
		return c
	case <-time.After(wait):
		t.Fatal("token request did not arrive")
		return ""
	}
}

func TestNewManagerRequiresCollaborators(t *testing.T) {
	_, err := NewManager(nil, &fakeDialer{}, DefaultConfig())
	assert.ErrorIs(t, err, ErrMissingCollaborator)
	_, err = NewManager(newGatedSource(false), nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrMissingCollaborator)
}

func TestManagerOpens(t *testing.T) {
	m, d, _ := newTestManager(t, newGatedSource(false), DefaultConfig())

	opened := make(chan Conn, 1)
	m.OnOpen(func(c Conn) { opened <- c })

	acme := set("team", "acme")
	require.NoError(t, m.Request(acme))
	waitState(t, m, StateOpen)

	var conn Conn
	select {
	case conn = <-opened:
	case <-time.After(wait):
		t.Fatal("OnOpen not called")
	}
	assert.NotEmpty(t, conn.ID)
	assert.True(t, acme.Equal(conn.Claims))
	assert.Equal(t, conn.ID, m.ConnectionID())
	assert.True(t, acme.Equal(m.Claims()))
	assert.NoError(t, m.LastError())
	assert.Equal(t, []string{tok(acme)}, d.Tokens())
}

func TestManagerStatusIsConsistent(t *testing.T) {
	src := newGatedSource(true)
	m, _, _ := newTestManager(t, src, DefaultConfig())

	acme := set("team", "acme")
	require.NoError(t, m.Request(acme))
	waitArrive(t, src)

	st := m.Status()
	assert.Equal(t, StateConnecting, st.State)
	assert.Empty(t, st.ConnectionID)
	assert.True(t, acme.Equal(st.Claims))

	done := make(chan struct{})
	var bad []Status
	go func() {
		defer close(done)
		for {
			s := m.Status()
			switch s.State {
			case StateOpen:
				if s.ConnectionID == "" {
					bad = append(bad, s)
				}
				return
			case StateClosed:
				return
			}
		}
	}()
	src.release(nil)
	waitState(t, m, StateOpen)
	<-done
	assert.Empty(t, bad)

	st = m.Status()
	assert.Equal(t, StateOpen, st.State)
	assert.Equal(t, m.ConnectionID(), st.ConnectionID)
	assert.NotEmpty(t, st.ConnectionID)
	assert.NoError(t, st.Err)
	assert.True(t, acme.Equal(st.Claims))
}

func TestManagerSameSetIsNoop(t *testing.T) {
	m, d, _ := newTestManager(t, newGatedSource(false), DefaultConfig())

	require.NoError(t, m.Request(set("team", "acme")))
	waitState(t, m, StateOpen)
	id := m.ConnectionID()

	// Different map, same canonical content.
	require.NoError(t, m.Request(claims.Claims{"team": claims.Set("acme"), "x": claims.Keep}))
	time.Sleep(20 * time.Millisecond)

	assert.Len(t, d.Tokens(), 1)
	assert.Equal(t, id, m.ConnectionID())
}

func TestManagerPendingSlotCoalesces(t *testing.T) {
	src := newGatedSource(true)
	m, d, _ := newTestManager(t, src, DefaultConfig())

	a, b, c := set("code", "a"), set("code", "b"), set("code", "c")

	require.NoError(t, m.Request(a))
	assert.Equal(t, a.String(), waitArrive(t, src))
	assert.Equal(t, StateConnecting, m.State())

	require.NoError(t, m.Request(b))
	require.NoError(t, m.Request(c))
	assert.True(t, c.Equal(m.Pending()), "pending = %s", m.Pending())
	assert.True(t, a.Equal(m.Claims()), "in-flight set must stay a")

	src.release(nil)
	assert.Equal(t, c.String(), waitArrive(t, src))
	src.release(nil)

	waitState(t, m, StateOpen)
	require.Eventually(t, func() bool { return c.Equal(m.Claims()) }, wait, tick)

	assert.Equal(t, []string{a.String(), c.String()}, src.Calls(), "b must never be connected")
	assert.Equal(t, []string{tok(a), tok(c)}, d.Tokens())
	assert.Nil(t, m.Pending())
	assert.LessOrEqual(t, d.maxOpen.Load(), int32(1))
}

func TestManagerPendingEqualToInFlightIsDropped(t *testing.T) {
	src := newGatedSource(true)
	m, d, _ := newTestManager(t, src, DefaultConfig())

	a, b := set("code", "a"), set("code", "b")
	require.NoError(t, m.Request(a))
	waitArrive(t, src)

	require.NoError(t, m.Request(b))
	require.NoError(t, m.Request(a))
	assert.Nil(t, m.Pending())

	src.release(nil)
	waitState(t, m, StateOpen)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, []string{tok(a)}, d.Tokens())
}

func TestManagerRequestWhileOpenReopens(t *testing.T) {
	m, d, _ := newTestManager(t, newGatedSource(false), DefaultConfig())

	closed := make(chan Conn, 4)
	m.OnClose(func(c Conn) { closed <- c })

	a, b := set("project", "p1"), set("project", "p2")
	require.NoError(t, m.Request(a))
	waitState(t, m, StateOpen)
	first := d.last()
	firstID := m.ConnectionID()

	require.NoError(t, m.Request(b))
	assert.True(t, first.isClosed(), "old stream must be torn down synchronously")

	require.Eventually(t, func() bool { return b.Equal(m.Claims()) && m.State() == StateOpen }, wait, tick)
	assert.NotEqual(t, firstID, m.ConnectionID())

	select {
	case c := <-closed:
		assert.Equal(t, firstID, c.ID)
	case <-time.After(wait):
		t.Fatal("OnClose not called")
	}
	assert.Equal(t, int32(1), d.maxOpen.Load())
}

func TestManagerDeliversFramesInOrder(t *testing.T) {
	m, d, _ := newTestManager(t, newGatedSource(false), DefaultConfig())

	var mu sync.Mutex
	var got []string
	m.OnFrame(func(c Conn, f stream.Frame) bool {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, f.Data)
		return false
	})

	require.NoError(t, m.Request(set("team", "acme")))
	waitState(t, m, StateOpen)

	s := d.last()
	for i := 0; i < 10; i++ {
		s.frames <- stream.Frame{Event: "code", Data: fmt.Sprint(i)}
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 10
	}, wait, tick)
	assert.Equal(t, []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9"}, got)
}

func TestManagerTerminationIsNotAnError(t *testing.T) {
	m, d, timers := newTestManager(t, newGatedSource(false), DefaultConfig())

	m.OnFrame(func(c Conn, f stream.Frame) bool { return f.Data == "[DONE]" })

	require.NoError(t, m.Request(set("team", "acme")))
	waitState(t, m, StateOpen)
	s := d.last()
	s.frames <- stream.Frame{Data: "[DONE]"}

	waitState(t, m, StateIdle)
	assert.NoError(t, m.LastError())
	assert.True(t, s.isClosed())
	assert.Nil(t, m.Claims())
	assert.Empty(t, timers.Delays(), "termination must not schedule a reconnect")
}

func TestManagerStateChangesInOrder(t *testing.T) {
	m, _, _ := newTestManager(t, newGatedSource(false), DefaultConfig())

	var mu sync.Mutex
	var transitions []string
	m.OnStateChange(func(old, new State) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, old.String()+">"+new.String())
	})

	require.NoError(t, m.Request(set("team", "acme")))
	waitState(t, m, StateOpen)
	m.Disconnect()

	want := []string{"IDLE>CONNECTING", "CONNECTING>OPEN", "OPEN>IDLE"}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(transitions) == len(want)
	}, wait, tick)
	assert.Equal(t, want, transitions)
}

func TestManagerStreamErrorReconnectsWithBackoff(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backoff = BackoffConfig{Initial: 100 * time.Millisecond, Max: time.Second, Multiplier: 2}
	m, d, timers := newTestManager(t, newGatedSource(false), cfg)

	acme := set("team", "acme")
	require.NoError(t, m.Request(acme))
	waitState(t, m, StateOpen)

	d.last().errs <- errBoom
	waitState(t, m, StateError)
	assert.ErrorIs(t, m.LastError(), errBoom)
	assert.Equal(t, []time.Duration{100 * time.Millisecond}, timers.Delays())

	// An equal request while a retry is scheduled does not bypass the backoff.
	require.NoError(t, m.Request(acme))
	assert.Equal(t, StateError, m.State())

	timers.fire(0)
	waitState(t, m, StateOpen)
	assert.NoError(t, m.LastError())
	assert.Equal(t, 0, m.Failures())
	assert.Len(t, d.Tokens(), 2)
}

func TestManagerServerEOFIsStreamEnded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoReconnect = false
	m, d, timers := newTestManager(t, newGatedSource(false), cfg)

	require.NoError(t, m.Request(set("team", "acme")))
	waitState(t, m, StateOpen)

	s := d.last()
	s.errs <- io.EOF

	waitState(t, m, StateError)
	assert.ErrorIs(t, m.LastError(), ErrStreamEnded)
	assert.True(t, s.isClosed())
	assert.Empty(t, timers.Delays())
	assert.Equal(t, int32(0), d.open.Load())
}

func TestManagerTokenFailureRetriesPendingImmediately(t *testing.T) {
	src := newGatedSource(true)
	m, d, timers := newTestManager(t, src, DefaultConfig())

	a, b := set("code", "a"), set("code", "b")
	require.NoError(t, m.Request(a))
	waitArrive(t, src)
	require.NoError(t, m.Request(b))

	src.release(errBoom)
	assert.Equal(t, b.String(), waitArrive(t, src))
	assert.Empty(t, timers.Delays(), "first failure retries the pending set without delay")

	src.release(nil)
	waitState(t, m, StateOpen)
	assert.True(t, b.Equal(m.Claims()))
	assert.Equal(t, []string{tok(b)}, d.Tokens())
}

func TestManagerConsecutiveFailuresBackOff(t *testing.T) {
	src := newGatedSource(true)
	cfg := DefaultConfig()
	cfg.AutoReconnect = false
	cfg.Backoff = BackoffConfig{Initial: time.Second, Max: time.Minute, Multiplier: 2}
	m, _, timers := newTestManager(t, src, cfg)

	a, b, c := set("code", "a"), set("code", "b"), set("code", "c")

	require.NoError(t, m.Request(a))
	waitArrive(t, src)
	require.NoError(t, m.Request(b))
	src.release(errBoom)

	// b starts immediately and fails with c pending.
	waitArrive(t, src)
	require.NoError(t, m.Request(c))
	src.release(errBoom)

	require.Eventually(t, func() bool { return len(timers.Delays()) == 1 }, wait, tick)
	assert.Equal(t, time.Second, timers.Delays()[0])
	assert.Equal(t, StateError, m.State())
	assert.Equal(t, 2, m.Failures())

	timers.fire(0)
	assert.Equal(t, c.String(), waitArrive(t, src))
}

func TestManagerMaxAttempts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAttempts = 2
	cfg.Backoff = BackoffConfig{Initial: 10 * time.Millisecond}
	m, d, timers := newTestManager(t, newGatedSource(false), cfg)
	d.setFail(errBoom)

	require.NoError(t, m.Request(set("team", "acme")))
	waitState(t, m, StateError)
	require.Eventually(t, func() bool { return len(timers.Delays()) == 1 }, wait, tick)

	timers.fire(0)
	require.Eventually(t, func() bool { return m.Failures() == 2 }, wait, tick)

	time.Sleep(20 * time.Millisecond)
	assert.Len(t, timers.Delays(), 1, "no retry after the cap")
	assert.ErrorIs(t, m.LastError(), ErrAttemptsExhausted)
	assert.ErrorIs(t, m.LastError(), errBoom)

	// A different set is a fresh start.
	d.setFail(nil)
	require.NoError(t, m.Request(set("team", "other")))
	waitState(t, m, StateOpen)
	assert.Equal(t, 0, m.Failures())
}

func TestManagerDialFailureInvalidatesToken(t *testing.T) {
	src := &invalidatingSource{gatedSource: newGatedSource(false)}
	acme := set("team", "acme")
	src.On("Invalidate", acme.String()).Return().Once()

	cfg := DefaultConfig()
	cfg.AutoReconnect = false
	d := &fakeDialer{fail: errBoom}
	m, err := NewManager(src, d, cfg)
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Request(acme))
	waitState(t, m, StateError)
	assert.ErrorIs(t, m.LastError(), errBoom)
	src.AssertExpectations(t)
}

func TestManagerDisconnectDiscardsPending(t *testing.T) {
	src := newGatedSource(true)
	m, d, _ := newTestManager(t, src, DefaultConfig())

	require.NoError(t, m.Request(set("code", "a")))
	waitArrive(t, src)
	require.NoError(t, m.Request(set("code", "b")))

	m.Disconnect()
	assert.Equal(t, StateIdle, m.State())
	assert.Nil(t, m.Pending())
	assert.Nil(t, m.Claims())

	// The abandoned attempt observes cancellation and never dials.
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, d.Tokens())
	assert.Equal(t, StateIdle, m.State())
}

func TestManagerClose(t *testing.T) {
	m, d, _ := newTestManager(t, newGatedSource(false), DefaultConfig())

	require.NoError(t, m.Request(set("team", "acme")))
	waitState(t, m, StateOpen)
	s := d.last()

	m.Close()
	m.Close()

	assert.Equal(t, StateClosed, m.State())
	assert.True(t, s.isClosed())
	assert.ErrorIs(t, m.Request(set("team", "other")), ErrConnectionClosed)
}

func TestManagerAtMostOneConnection(t *testing.T) {
	m, d, _ := newTestManager(t, newGatedSource(false), DefaultConfig())

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(int64(g)))
			for i := 0; i < 50; i++ {
				switch r.Intn(6) {
				case 0:
					m.Disconnect()
				default:
					_ = m.Request(set("code", fmt.Sprint(r.Intn(4))))
				}
				if r.Intn(3) == 0 {
					time.Sleep(time.Millisecond)
				}
			}
		}(g)
	}
	wg.Wait()

	final := set("code", "final")
	require.NoError(t, m.Request(final))
	require.Eventually(t, func() bool { return m.State() == StateOpen && final.Equal(m.Claims()) }, wait, tick)

	assert.LessOrEqual(t, d.maxOpen.Load(), int32(1))
	assert.Equal(t, int32(1), d.open.Load())
}

func TestManagerFrameHandlerMayReenter(t *testing.T) {
	m, d, _ := newTestManager(t, newGatedSource(false), DefaultConfig())

	b := set("team", "b")
	m.OnFrame(func(c Conn, f stream.Frame) bool {
		_ = m.Request(b)
		return false
	})

	require.NoError(t, m.Request(set("team", "a")))
	waitState(t, m, StateOpen)
	d.last().frames <- stream.Frame{Data: "switch"}

	require.Eventually(t, func() bool { return b.Equal(m.Claims()) && m.State() == StateOpen }, wait, tick)
	assert.False(t, errors.Is(m.LastError(), errBoom))
}
