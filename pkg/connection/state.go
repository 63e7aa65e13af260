package connection

import (
	"errors"
	"time"

	"github.com/auditlens/realtime-go/pkg/claims"
	"github.com/auditlens/realtime-go/pkg/stream"
)

// Connection errors.
var (
	ErrConnectionClosed    = errors.New("connection manager closed")
	ErrStreamEnded         = errors.New("stream ended by server")
	ErrAttemptsExhausted   = errors.New("reconnect attempts exhausted")
	ErrMissingCollaborator = errors.New("token source and dialer are required")
)

// State represents the connection state.
type State uint8

const (
	// StateIdle indicates no connection and no attempt in flight.
	StateIdle State = iota

	// StateConnecting indicates an attempt (token fetch + dial) is in flight.
	StateConnecting

	// StateOpen indicates an established stream.
	StateOpen

	// StateError indicates the last attempt or stream failed.
	StateError

	// StateClosed indicates the manager has been closed.
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateError:
		return "ERROR"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Conn describes one physical connection.
type Conn struct {
	// ID is unique per physical connection (ULID).
	ID string

	// Claims is the canonical set the connection was opened with.
	Claims claims.Claims

	// OpenedAt is when the stream was established.
	OpenedAt time.Time
}

// FrameHandler receives frames of the open connection in arrival order.
// Returning true closes the connection without error.
type FrameHandler func(conn Conn, frame stream.Frame) bool
