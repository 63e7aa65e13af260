package realtime

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/auditlens/realtime-go/pkg/claims"
	"github.com/auditlens/realtime-go/pkg/connection"
	"github.com/auditlens/realtime-go/pkg/dispatch"
	rtlog "github.com/auditlens/realtime-go/pkg/log"
	"github.com/auditlens/realtime-go/pkg/route"
	"github.com/auditlens/realtime-go/pkg/stream"
	"github.com/auditlens/realtime-go/pkg/subscription"
	"github.com/auditlens/realtime-go/pkg/token"
)

// ErrClosed is returned by operations on a closed client.
var ErrClosed = errors.New("realtime: client closed")

// Event is a frame delivered to a subscription.
type Event = subscription.Event

// Handler receives events.
type Handler = subscription.Handler

// Options configures a Client.
type Options struct {
	// Tokens issues stream tokens. Required.
	Tokens token.Source

	// Dialer opens the physical stream. Required.
	Dialer stream.Dialer

	// Matcher maps paths to route context for Navigate. Defaults to a
	// matcher over route.DefaultTemplates.
	Matcher *route.Matcher

	// Connection configures the connection manager.
	Connection connection.Config

	// Subscriptions configures the registry.
	Subscriptions subscription.Config

	// Sentinel is the stream termination payload.
	Sentinel string

	// Logger receives operational logs. Defaults to slog.Default().
	Logger *slog.Logger

	// Trace receives stream trace events.
	Trace rtlog.Logger
}

// DefaultOptions returns options with default connection and registry
// settings. Tokens and Dialer must still be set.
func DefaultOptions() Options {
	return Options{
		Connection:    connection.DefaultConfig(),
		Subscriptions: subscription.DefaultConfig(),
		Sentinel:      dispatch.DefaultSentinel,
	}
}

// Status is a snapshot of the shared connection.
type Status = connection.Status

// Client multiplexes subscriptions over one stream.
type Client struct {
	mu     sync.Mutex
	closed bool

	logger     *slog.Logger
	registry   *subscription.Manager
	conn       *connection.Manager
	dispatcher *dispatch.Dispatcher
	matcher    *route.Matcher

	route       route.Context
	routeClaims claims.Claims
}

// New creates a client. No stream is opened until the first subscription.
func New(opts Options) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	matcher := opts.Matcher
	if matcher == nil {
		var err error
		matcher, err = route.NewMatcher(route.DefaultTemplates(), nil)
		if err != nil {
			return nil, fmt.Errorf("realtime: default routes: %w", err)
		}
	}

	connCfg := opts.Connection
	if connCfg.Logger == nil {
		connCfg.Logger = logger
	}
	if connCfg.Trace == nil {
		connCfg.Trace = opts.Trace
	}
	conn, err := connection.NewManager(opts.Tokens, opts.Dialer, connCfg)
	if err != nil {
		return nil, fmt.Errorf("realtime: %w", err)
	}

	registry := subscription.NewManagerWithConfig(opts.Subscriptions)
	d := dispatch.New(registry, dispatch.Config{
		Sentinel: opts.Sentinel,
		Logger:   logger,
		Trace:    opts.Trace,
	})

	conn.OnOpen(func(cn connection.Conn) { d.Attach(cn.ID) })
	conn.OnClose(func(cn connection.Conn) { d.Detach(cn.ID) })
	conn.OnFrame(func(cn connection.Conn, f stream.Frame) bool {
		return d.Dispatch(cn.ID, f)
	})

	return &Client{
		logger:     logger.With("component", "realtime"),
		registry:   registry,
		conn:       conn,
		dispatcher: d,
		matcher:    matcher,
	}, nil
}

// OnStateChange sets a callback for connection state changes. Callbacks
// never run on the goroutine that called a Client method.
func (c *Client) OnStateChange(fn func(oldState, newState connection.State)) {
	c.conn.OnStateChange(fn)
}

// Subscribe registers fn for the named eventTypes. Anonymous frames are
// delivered regardless of eventTypes.
func (c *Client) Subscribe(eventTypes []string, fn Handler) (string, error) {
	return c.SubscribeWithClaims(eventTypes, fn, nil)
}

// SubscribeWithClaims is Subscribe with initial explicit claims.
func (c *Client) SubscribeWithClaims(eventTypes []string, fn Handler, explicit claims.Claims) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", ErrClosed
	}

	sub, err := c.registry.Add(eventTypes, fn, explicit)
	if err != nil {
		return "", err
	}
	c.logger.Debug("subscribed", "sub_id", sub.ID, "events", sub.EventTypes)
	c.dispatcher.Sync()
	return sub.ID, c.recomputeLocked()
}

// Unsubscribe removes a subscription. The stream is closed when none remain.
func (c *Client) Unsubscribe(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	if err := c.registry.Remove(id); err != nil {
		return err
	}
	c.logger.Debug("unsubscribed", "sub_id", id)
	c.dispatcher.Sync()
	return c.recomputeLocked()
}

// UpdateClaims shallow-merges partial into the subscription's explicit
// claims. Keep entries leave a key alone; Unset entries delete it from the
// canonical set.
func (c *Client) UpdateClaims(id string, partial claims.Claims) error {
	return c.mutate(func() error { return c.registry.Update(id, partial) })
}

// SetClaims replaces the subscription's explicit claims.
func (c *Client) SetClaims(id string, explicit claims.Claims) error {
	return c.mutate(func() error { return c.registry.Set(id, explicit) })
}

// ClearClaims removes the subscription's explicit claims and reconnects,
// even when the canonical set is unchanged.
func (c *Client) ClearClaims(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	if err := c.registry.Clear(id); err != nil {
		return err
	}
	c.conn.Disconnect()
	return c.recomputeLocked()
}

func (c *Client) mutate(fn func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if err := fn(); err != nil {
		return err
	}
	return c.recomputeLocked()
}

// Navigate derives the route context from path and applies it.
func (c *Client) Navigate(path string) error {
	return c.SetRoute(c.matcher.Match(path))
}

// SetRoute replaces the route context. Explicit claims that pinned the
// previous route value of a key whose value changed are dropped first.
func (c *Client) SetRoute(ctx route.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	oldClaims := c.routeClaims
	newClaims := route.Derive(ctx)
	if c.registry.RewriteExplicit(func(explicit claims.Claims) (claims.Claims, bool) {
		return claims.ClearConflicts(oldClaims, newClaims, explicit)
	}) {
		c.logger.Debug("cleared stale claim overrides", "route", newClaims.String())
	}

	c.route = copyContext(ctx)
	c.routeClaims = newClaims
	return c.recomputeLocked()
}

// Route returns a copy of the current route context.
func (c *Client) Route() route.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyContext(c.route)
}

// recomputeLocked merges the canonical set and hands it to the connection
// manager. With no subscriptions or no claims the stream is closed.
func (c *Client) recomputeLocked() error {
	if c.registry.Count() == 0 {
		c.conn.Disconnect()
		return nil
	}
	set := claims.Merge(c.routeClaims, c.registry.Explicit()...)
	if set.IsEmpty() {
		c.conn.Disconnect()
		return nil
	}
	if err := c.conn.Request(set); err != nil {
		return fmt.Errorf("realtime: %w", err)
	}
	return nil
}

// CurrentClaims returns the canonical claim set.
func (c *Client) CurrentClaims() claims.Claims {
	c.mu.Lock()
	defer c.mu.Unlock()
	return claims.Merge(c.routeClaims, c.registry.Explicit()...)
}

// Status returns a snapshot of the connection.
func (c *Client) Status() Status {
	return c.conn.Status()
}

// State returns the connection state.
func (c *Client) State() connection.State {
	return c.conn.State()
}

// LastError returns the cause of the Error state, or nil.
func (c *Client) LastError() error {
	return c.conn.LastError()
}

// Subscription returns a live subscription.
func (c *Client) Subscription(id string) (*subscription.Subscription, error) {
	return c.registry.Get(id)
}

// Subscriptions returns the live subscriptions in registration order.
func (c *Client) Subscriptions() []*subscription.Subscription {
	return c.registry.All()
}

// Count returns the number of live subscriptions.
func (c *Client) Count() int {
	return c.registry.Count()
}

// Listeners returns the event types attached to the open stream.
func (c *Client) Listeners() []string {
	return c.dispatcher.Listeners()
}

// Close closes the stream and clears the registry. It is safe to call
// Close multiple times.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.conn.Close()
	c.registry.ClearAll()
	c.logger.Debug("client closed")
}

func copyContext(ctx route.Context) route.Context {
	if ctx == nil {
		return nil
	}
	out := make(route.Context, len(ctx))
	for k, v := range ctx {
		out[k] = v
	}
	return out
}
