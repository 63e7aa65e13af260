package subscription

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/auditlens/realtime-go/pkg/claims"
)

// Subscription errors.
var (
	ErrResourceExhausted    = errors.New("maximum subscriptions reached")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrNilHandler           = errors.New("subscription handler is nil")
)

// Default subscription limits.
const (
	DefaultMaxSubscriptions = 256
)

// Well-known event types. The vocabulary is open; any string may be used.
const (
	EventActivity = "activity"
	EventCode     = "code"
	EventInvite   = "invite"
	EventAnalysis = "analysis"
)

// Config holds subscription manager configuration.
type Config struct {
	// MaxSubscriptions is the maximum number of live subscriptions.
	MaxSubscriptions int
}

// DefaultConfig returns the default subscription configuration.
func DefaultConfig() Config {
	return Config{
		MaxSubscriptions: DefaultMaxSubscriptions,
	}
}

// Event is a decoded frame delivered to a subscription.
type Event struct {
	// Type is the named event type, or empty for anonymous frames.
	Type string

	// Data is the decoded JSON payload, or the raw text if it did not parse.
	Data any

	// Raw is the undecoded payload.
	Raw string

	// ID is the frame id sent by the backend, if any.
	ID string

	// ConnectionID identifies the physical connection the frame arrived on.
	ConnectionID string

	// Received is when the frame was read.
	Received time.Time
}

// Handler receives events for a subscription.
type Handler func(Event)

// Subscription is one consumer's registration.
type Subscription struct {
	mu sync.RWMutex

	// ID is the unique subscription identifier.
	ID string

	// EventTypes lists the named event types, sorted and deduplicated.
	EventTypes []string

	// Created is when the subscription was registered.
	Created time.Time

	seq      uint64
	handler  Handler
	explicit claims.Claims
	active   bool
}

func newSubscription(id string, seq uint64, eventTypes []string, handler Handler, explicit claims.Claims) *Subscription {
	return &Subscription{
		ID:         id,
		EventTypes: normalizeTypes(eventTypes),
		Created:    time.Now(),
		seq:        seq,
		handler:    handler,
		explicit:   explicit.Clone(),
		active:     true,
	}
}

// IsActive returns whether the subscription is still registered.
func (s *Subscription) IsActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Deactivate marks the subscription as removed.
func (s *Subscription) Deactivate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
}

// Explicit returns a copy of the explicit claims, or nil if there are none.
func (s *Subscription) Explicit() claims.Claims {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.explicit.Clone()
}

func (s *Subscription) setExplicit(c claims.Claims) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.explicit = c
}

// Interested reports whether eventType is one of the subscription's types.
func (s *Subscription) Interested(eventType string) bool {
	i := sort.SearchStrings(s.EventTypes, eventType)
	return i < len(s.EventTypes) && s.EventTypes[i] == eventType
}

// Deliver invokes the handler if the subscription is still active.
// It returns false when the event was not delivered.
func (s *Subscription) Deliver(ev Event) bool {
	s.mu.RLock()
	active, handler := s.active, s.handler
	s.mu.RUnlock()

	if !active || handler == nil {
		return false
	}
	handler(ev)
	return true
}

func normalizeTypes(types []string) []string {
	seen := make(map[string]struct{}, len(types))
	out := make([]string, 0, len(types))
	for _, t := range types {
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
