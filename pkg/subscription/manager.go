package subscription

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/auditlens/realtime-go/pkg/claims"
)

// Manager is the subscription registry.
type Manager struct {
	mu sync.RWMutex

	// Configuration
	config Config

	// Active subscriptions by ID
	subscriptions map[string]*Subscription

	// Registration counter, used for ordering
	seq uint64

	newID func() string
}

// NewManager creates a new subscription manager with default configuration.
func NewManager() *Manager {
	return NewManagerWithConfig(DefaultConfig())
}

// NewManagerWithConfig creates a new subscription manager with custom configuration.
func NewManagerWithConfig(config Config) *Manager {
	if config.MaxSubscriptions <= 0 {
		config.MaxSubscriptions = DefaultMaxSubscriptions
	}

	return &Manager{
		config:        config,
		subscriptions: make(map[string]*Subscription),
		newID:         uuid.NewString,
	}
}

// Add registers a new subscription and returns it.
func (m *Manager) Add(eventTypes []string, handler Handler, explicit claims.Claims) (*Subscription, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.subscriptions) >= m.config.MaxSubscriptions {
		return nil, ErrResourceExhausted
	}

	m.seq++
	sub := newSubscription(m.newID(), m.seq, eventTypes, handler, explicit)
	m.subscriptions[sub.ID] = sub
	return sub, nil
}

// Remove deactivates and removes a subscription.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, exists := m.subscriptions[id]
	if !exists {
		return ErrSubscriptionNotFound
	}

	sub.Deactivate()
	delete(m.subscriptions, id)
	return nil
}

// Get returns a subscription by ID.
func (m *Manager) Get(id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sub, exists := m.subscriptions[id]
	if !exists {
		return nil, ErrSubscriptionNotFound
	}
	return sub, nil
}

// Update shallow-merges partial into the subscription's explicit claims.
// Keep entries leave the key untouched; Set and Unset replace it.
func (m *Manager) Update(id string, partial claims.Claims) error {
	sub, err := m.Get(id)
	if err != nil {
		return err
	}
	sub.mu.Lock()
	sub.explicit = claims.Apply(sub.explicit, partial)
	sub.mu.Unlock()
	return nil
}

// Set replaces the subscription's explicit claims.
func (m *Manager) Set(id string, c claims.Claims) error {
	sub, err := m.Get(id)
	if err != nil {
		return err
	}
	sub.setExplicit(c.Clone())
	return nil
}

// Clear removes all explicit claims of the subscription.
func (m *Manager) Clear(id string) error {
	sub, err := m.Get(id)
	if err != nil {
		return err
	}
	sub.setExplicit(nil)
	return nil
}

// All returns the live subscriptions in registration order.
func (m *Manager) All() []*Subscription {
	m.mu.RLock()
	subs := make([]*Subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		subs = append(subs, sub)
	}
	m.mu.RUnlock()

	sort.Slice(subs, func(i, j int) bool { return subs[i].seq < subs[j].seq })
	return subs
}

// Explicit returns the explicit claims of every live subscription in
// registration order. Subscriptions without explicit claims contribute nil.
func (m *Manager) Explicit() []claims.Claims {
	subs := m.All()
	out := make([]claims.Claims, 0, len(subs))
	for _, sub := range subs {
		out = append(out, sub.Explicit())
	}
	return out
}

// EventTypes returns the sorted union of event types of all live subscriptions.
func (m *Manager) EventTypes() []string {
	m.mu.RLock()
	seen := make(map[string]struct{})
	for _, sub := range m.subscriptions {
		for _, t := range sub.EventTypes {
			seen[t] = struct{}{}
		}
	}
	m.mu.RUnlock()

	types := make([]string, 0, len(seen))
	for t := range seen {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Interested returns the live subscriptions declaring eventType, in
// registration order.
func (m *Manager) Interested(eventType string) []*Subscription {
	all := m.All()
	out := all[:0]
	for _, sub := range all {
		if sub.Interested(eventType) {
			out = append(out, sub)
		}
	}
	return out
}

// RewriteExplicit passes each subscription's explicit claims to fn. When fn
// reports a change the returned claims replace the old ones. It reports
// whether any subscription changed.
func (m *Manager) RewriteExplicit(fn func(claims.Claims) (claims.Claims, bool)) bool {
	changed := false
	for _, sub := range m.All() {
		sub.mu.Lock()
		if next, ok := fn(sub.explicit); ok {
			sub.explicit = next
			changed = true
		}
		sub.mu.Unlock()
	}
	return changed
}

// ClearAll removes all subscriptions (e.g., on provider teardown).
func (m *Manager) ClearAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sub := range m.subscriptions {
		sub.Deactivate()
	}
	m.subscriptions = make(map[string]*Subscription)
}

// Count returns the number of live subscriptions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}
