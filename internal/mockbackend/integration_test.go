package mockbackend_test

import (
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditlens/realtime-go/internal/mockbackend"
	"github.com/auditlens/realtime-go/pkg/claims"
	"github.com/auditlens/realtime-go/pkg/config"
	"github.com/auditlens/realtime-go/pkg/connection"
	"github.com/auditlens/realtime-go/pkg/realtime"
)

const (
	wait = 3 * time.Second
	tick = 10 * time.Millisecond
)

type collector struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (c *collector) handle(ev realtime.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collector) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, ev := range c.events {
		out[i] = ev.Type
	}
	return out
}

func startBackend(t *testing.T) (*mockbackend.Server, *httptest.Server) {
	t.Helper()
	backend, err := mockbackend.New(mockbackend.Config{Secret: []byte("integration")})
	require.NoError(t, err)
	ts := httptest.NewServer(backend)
	t.Cleanup(ts.Close)
	t.Cleanup(func() { backend.Drop() })
	return backend, ts
}

func newClient(t *testing.T, ts *httptest.Server, transport string) *realtime.Client {
	t.Helper()
	cfg := config.Default()
	cfg.BackendURL = ts.URL
	cfg.Transport = transport
	cfg.Reconnect.Initial = config.Duration(10 * time.Millisecond)
	cfg.Reconnect.Max = config.Duration(50 * time.Millisecond)
	require.NoError(t, cfg.Validate())

	opts, err := realtime.OptionsFromConfig(cfg, nil, nil, nil)
	require.NoError(t, err)
	client, err := realtime.New(opts)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func waitScope(t *testing.T, backend *mockbackend.Server, client *realtime.Client, want map[string]string) {
	t.Helper()
	require.Eventually(t, func() bool {
		cs := backend.Clients()
		return client.State() == connection.StateOpen &&
			len(cs) == 1 && assert.ObjectsAreEqual(want, cs[0].Scope)
	}, wait, tick, "backend clients: %+v", backend.Clients())
}

func TestEndToEnd(t *testing.T) {
	for _, transport := range []string{config.TransportSSE, config.TransportWebSocket} {
		t.Run(transport, func(t *testing.T) {
			backend, ts := startBackend(t)
			client := newClient(t, ts, transport)

			require.NoError(t, client.Navigate("/teams/acme"))
			a, b := &collector{}, &collector{}
			_, err := client.Subscribe([]string{"activity"}, a.handle)
			require.NoError(t, err)
			_, err = client.SubscribeWithClaims([]string{"code"}, b.handle,
				claims.FromMap(map[string]string{"code": "v1"}))
			require.NoError(t, err)

			waitScope(t, backend, client, map[string]string{"team": "acme", "code": "v1"})

			_, err = backend.Publish(mockbackend.Event{Type: "code", Data: map[string]any{"status": "processed"}})
			require.NoError(t, err)
			_, err = backend.Publish(mockbackend.Event{Data: "broadcast"})
			require.NoError(t, err)
			_, err = backend.Publish(mockbackend.Event{Type: "code", Scope: map[string]string{"code": "v2"}})
			require.NoError(t, err)

			require.Eventually(t, func() bool {
				return len(a.types()) == 1 && len(b.types()) == 2
			}, wait, tick)
			assert.Equal(t, []string{""}, a.types())
			assert.Equal(t, []string{"code", ""}, b.types())

			backend.Terminate()
			require.Eventually(t, func() bool { return client.State() == connection.StateIdle }, wait, tick)
			assert.NoError(t, client.LastError())
		})
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	backend, ts := startBackend(t)
	client := newClient(t, ts, config.TransportSSE)

	require.NoError(t, client.Navigate("/teams/acme/projects/p1"))
	_, err := client.Subscribe([]string{"activity"}, func(realtime.Event) {})
	require.NoError(t, err)
	waitScope(t, backend, client, map[string]string{"team": "acme", "project": "p1"})
	firstID := client.Status().ConnectionID

	backend.Drop()

	require.Eventually(t, func() bool {
		st := client.Status()
		return st.State == connection.StateOpen && st.ConnectionID != firstID
	}, wait, tick)
	assert.Len(t, backend.Clients(), 1)
	// The cached token is reused for the same claim set.
	assert.Len(t, backend.TokenRequests(), 1)
}

func TestNavigationReopensWithNewScope(t *testing.T) {
	backend, ts := startBackend(t)
	client := newClient(t, ts, config.TransportSSE)

	require.NoError(t, client.Navigate("/teams/acme/projects/p1"))
	_, err := client.SubscribeWithClaims(nil, func(realtime.Event) {},
		claims.FromMap(map[string]string{"project": "p1"}))
	require.NoError(t, err)
	waitScope(t, backend, client, map[string]string{"team": "acme", "project": "p1"})

	require.NoError(t, client.Navigate("/teams/acme/projects/p2"))
	waitScope(t, backend, client, map[string]string{"team": "acme", "project": "p2"})
}

func TestTokenFailureSurfacesError(t *testing.T) {
	backend, ts := startBackend(t)
	backend.FailTokens(503)
	client := newClient(t, ts, config.TransportSSE)

	require.NoError(t, client.Navigate("/teams/acme"))
	_, err := client.Subscribe(nil, func(realtime.Event) {})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return client.LastError() != nil }, wait, tick)
	assert.Contains(t, client.LastError().Error(), "token")

	backend.FailTokens(0)
	waitScope(t, backend, client, map[string]string{"team": "acme"})
	assert.NoError(t, client.LastError())
}
