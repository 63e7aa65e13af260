// Package dispatch routes stream frames to subscriptions.
//
// Named frames reach only the subscriptions that declared the frame's event
// type, and only while a listener for that type is attached to the current
// physical connection. Anonymous frames are broadcast to every subscription.
// An anonymous frame whose payload equals the termination sentinel ends the
// stream instead.
package dispatch

import (
	"encoding/json"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	rtlog "github.com/auditlens/realtime-go/pkg/log"
	"github.com/auditlens/realtime-go/pkg/stream"
	"github.com/auditlens/realtime-go/pkg/subscription"
)

// DefaultSentinel is the payload that terminates a stream.
const DefaultSentinel = "[DONE]"

// Config holds dispatcher configuration.
type Config struct {
	// Sentinel is the termination payload. Defaults to DefaultSentinel.
	Sentinel string

	// Logger receives operational logs. Defaults to slog.Default().
	Logger *slog.Logger

	// Trace receives delivery trace events.
	Trace rtlog.Logger
}

// Dispatcher delivers frames to the subscriptions of a registry.
type Dispatcher struct {
	registry *subscription.Manager
	sentinel string
	logger   *slog.Logger
	trace    rtlog.Logger
	now      func() time.Time

	mu        sync.RWMutex
	connID    string
	listeners map[string]struct{}
}

// New creates a dispatcher over registry.
func New(registry *subscription.Manager, config Config) *Dispatcher {
	sentinel := config.Sentinel
	if sentinel == "" {
		sentinel = DefaultSentinel
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry:  registry,
		sentinel:  sentinel,
		logger:    logger.With("component", "dispatch"),
		trace:     rtlog.OrNoop(config.Trace),
		now:       time.Now,
		listeners: make(map[string]struct{}),
	}
}

// Sentinel returns the termination payload.
func (d *Dispatcher) Sentinel() string {
	return d.sentinel
}

// Attach binds the dispatcher to a new physical connection and attaches a
// listener for every event type a live subscription declares.
func (d *Dispatcher) Attach(connID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	types := d.registry.EventTypes()
	d.connID = connID
	d.setListenersLocked(types)
	d.logger.Debug("listeners attached", "conn_id", connID, "events", types)
}

// Sync re-derives the listener set after subscriptions changed. It does
// nothing while no connection is attached.
// Like Attach, it reads the registry while holding d.mu.
func (d *Dispatcher) Sync() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.connID == "" {
		return
	}
	d.setListenersLocked(d.registry.EventTypes())
}

// Detach drops all listeners of connID. Listeners belong to one physical
// connection and are never carried over.
func (d *Dispatcher) Detach(connID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.connID != connID {
		return
	}
	d.connID = ""
	d.listeners = make(map[string]struct{})
}

// ConnectionID returns the attached connection, or "".
func (d *Dispatcher) ConnectionID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connID
}

// Listeners returns the attached event types, sorted.
func (d *Dispatcher) Listeners() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	types := make([]string, 0, len(d.listeners))
	for t := range d.listeners {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func (d *Dispatcher) setListenersLocked(types []string) {
	d.listeners = make(map[string]struct{}, len(types))
	for _, t := range types {
		d.listeners[t] = struct{}{}
	}
}

// Dispatch delivers f, read from connection connID. It reports true when
// the frame is the termination sentinel and the stream must be closed.
func (d *Dispatcher) Dispatch(connID string, f stream.Frame) bool {
	d.mu.RLock()
	attached := d.connID == connID && connID != ""
	_, listening := d.listeners[f.Event]
	d.mu.RUnlock()

	if !attached {
		return false
	}

	data := DecodePayload(f.Data)
	ev := subscription.Event{
		Data:         data,
		Raw:          f.Data,
		ID:           f.ID,
		ConnectionID: connID,
		Received:     d.now(),
	}

	if f.Anonymous() {
		if d.IsSentinel(f.Data, data) {
			d.Detach(connID)
			d.traceDelivery(connID, rtlog.DeliveryEvent{Broadcast: true, Sentinel: true})
			return true
		}
		subs := d.registry.All()
		n := d.deliver(subs, ev)
		d.traceDelivery(connID, rtlog.DeliveryEvent{Broadcast: true, Subscribers: n})
		return false
	}

	ev.Type = f.Event
	if !listening {
		d.traceDelivery(connID, rtlog.DeliveryEvent{EventType: f.Event, Dropped: true})
		return false
	}
	n := d.deliver(d.registry.Interested(f.Event), ev)
	d.traceDelivery(connID, rtlog.DeliveryEvent{EventType: f.Event, Subscribers: n})
	return false
}

// IsSentinel reports whether a payload is the termination sentinel, either
// as raw text or as a decoded JSON string.
func (d *Dispatcher) IsSentinel(raw string, decoded any) bool {
	if raw == d.sentinel {
		return true
	}
	s, ok := decoded.(string)
	return ok && s == d.sentinel
}

func (d *Dispatcher) deliver(subs []*subscription.Subscription, ev subscription.Event) int {
	n := 0
	for _, sub := range subs {
		if d.safeCall(sub, ev) {
			n++
		}
	}
	return n
}

// safeCall invokes a handler and recovers from any panics so one consumer
// cannot stop delivery to the others.
func (d *Dispatcher) safeCall(sub *subscription.Subscription, ev subscription.Event) (delivered bool) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("subscription handler panicked",
				"sub_id", sub.ID, "event", ev.Type, "panic", r, "stack", string(debug.Stack()))
			delivered = false
		}
	}()
	return sub.Deliver(ev)
}

func (d *Dispatcher) traceDelivery(connID string, de rtlog.DeliveryEvent) {
	d.trace.Log(rtlog.Event{
		Timestamp:    d.now(),
		ConnectionID: connID,
		Direction:    rtlog.DirectionIn,
		Layer:        rtlog.LayerClient,
		Category:     rtlog.CategoryDelivery,
		Delivery:     &de,
	})
}

// DecodePayload parses raw as JSON. Text that is not valid JSON is returned
// unchanged as a string; payloads are never dropped.
func DecodePayload(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}
