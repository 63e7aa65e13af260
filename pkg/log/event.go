package log

import (
	"sort"
	"time"
)

// MaxFrameData is the number of payload bytes kept in a FrameEvent.
const MaxFrameData = 4096

// Event represents a stream trace event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID identifies the physical connection (ULID), if any.
	ConnectionID string `cbor:"2,keyasint,omitempty"`

	// Direction indicates data flow relative to the client.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// SubscriptionID is set for events concerning one subscription.
	SubscriptionID string `cbor:"6,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"11,keyasint,omitempty"`
	Claims      *ClaimsEvent      `cbor:"12,keyasint,omitempty"`
	Delivery    *DeliveryEvent    `cbor:"13,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"`
}

// Direction indicates the direction of data flow.
type Direction uint8

const (
	// DirectionIn indicates data received from the backend.
	DirectionIn Direction = 0
	// DirectionOut indicates data sent to the backend.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which component captured the event.
type Layer uint8

const (
	// LayerTransport is the physical stream.
	LayerTransport Layer = 0
	// LayerConnection is the connection state machine.
	LayerConnection Layer = 1
	// LayerClient is the subscription-facing client and dispatcher.
	LayerClient Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerConnection:
		return "CONNECTION"
	case LayerClient:
		return "CLIENT"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryFrame indicates a frame read from the stream.
	CategoryFrame Category = 0
	// CategoryState indicates a state change.
	CategoryState Category = 1
	// CategoryClaims indicates a claim set change.
	CategoryClaims Category = 2
	// CategoryDelivery indicates frame delivery to subscribers.
	CategoryDelivery Category = 3
	// CategoryError indicates an error event.
	CategoryError Category = 4
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryFrame:
		return "FRAME"
	case CategoryState:
		return "STATE"
	case CategoryClaims:
		return "CLAIMS"
	case CategoryDelivery:
		return "DELIVERY"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures a frame read from the stream.
type FrameEvent struct {
	// Event is the named event type (empty for anonymous frames).
	Event string `cbor:"1,keyasint,omitempty"`

	// Size is the payload size in bytes.
	Size int `cbor:"2,keyasint"`

	// Data is the payload (may be truncated for large frames).
	Data []byte `cbor:"3,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"4,keyasint,omitempty"`

	// ID is the frame id sent by the backend.
	ID string `cbor:"5,keyasint,omitempty"`
}

// NewFrameEvent builds a FrameEvent, truncating data to MaxFrameData.
func NewFrameEvent(event, data, id string) *FrameEvent {
	fe := &FrameEvent{Event: event, Size: len(data), ID: id}
	if len(data) > MaxFrameData {
		fe.Data = []byte(data[:MaxFrameData])
		fe.Truncated = true
	} else {
		fe.Data = []byte(data)
	}
	return fe
}

// StateChangeEvent captures connection lifecycle events.
type StateChangeEvent struct {
	// OldState is the previous state (may be empty).
	OldState string `cbor:"1,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"2,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"3,keyasint,omitempty"`
}

// ClaimsAction describes what happened to a claim set.
type ClaimsAction uint8

const (
	// ClaimsRequested indicates a new canonical set was requested.
	ClaimsRequested ClaimsAction = 0
	// ClaimsPending indicates the set was parked in the pending slot.
	ClaimsPending ClaimsAction = 1
	// ClaimsOpened indicates a connection opened with the set.
	ClaimsOpened ClaimsAction = 2
	// ClaimsUnchanged indicates the set matched the current connection.
	ClaimsUnchanged ClaimsAction = 3
	// ClaimsDiscarded indicates a pending set was dropped.
	ClaimsDiscarded ClaimsAction = 4
)

// String returns the action name.
func (a ClaimsAction) String() string {
	switch a {
	case ClaimsRequested:
		return "REQUESTED"
	case ClaimsPending:
		return "PENDING"
	case ClaimsOpened:
		return "OPENED"
	case ClaimsUnchanged:
		return "UNCHANGED"
	case ClaimsDiscarded:
		return "DISCARDED"
	default:
		return "UNKNOWN"
	}
}

// ClaimsEvent captures a canonical claim set.
type ClaimsEvent struct {
	// Action is what happened to the set.
	Action ClaimsAction `cbor:"1,keyasint"`

	// Values holds the Set entries.
	Values map[string]string `cbor:"2,keyasint,omitempty"`
}

// Keys returns the claim keys in sorted order.
func (c *ClaimsEvent) Keys() []string {
	keys := make([]string, 0, len(c.Values))
	for k := range c.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DeliveryEvent captures how a frame was routed to subscriptions.
type DeliveryEvent struct {
	// EventType is the frame's event type (empty for anonymous frames).
	EventType string `cbor:"1,keyasint,omitempty"`

	// Subscribers is the number of handlers invoked.
	Subscribers int `cbor:"2,keyasint"`

	// Broadcast is true for anonymous frames.
	Broadcast bool `cbor:"3,keyasint,omitempty"`

	// Sentinel is true when the frame terminated the stream.
	Sentinel bool `cbor:"4,keyasint,omitempty"`

	// Dropped is true when no listener was attached for the type.
	Dropped bool `cbor:"5,keyasint,omitempty"`
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Context describes what operation was being performed.
	Context string `cbor:"3,keyasint,omitempty"`
}
