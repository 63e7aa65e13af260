package stream

import (
	"context"
	"errors"
)

// Stream errors.
var (
	ErrUnexpectedStatus      = errors.New("stream: unexpected HTTP status")
	ErrUnexpectedContentType = errors.New("stream: unexpected content type")
	ErrStreamClosed          = errors.New("stream: closed")
)

// DefaultEvent is the event type SSE assigns to frames without an event field.
const DefaultEvent = "message"

// Frame is a single message read from a stream.
type Frame struct {
	// Event is the named event type, empty or "message" for anonymous frames.
	Event string

	// Data is the frame payload.
	Data string

	// ID is the optional frame id.
	ID string
}

// Anonymous reports whether the frame carries no named event type.
func (f Frame) Anonymous() bool {
	return f.Event == "" || f.Event == DefaultEvent
}

// Stream is one physical connection.
type Stream interface {
	// Next blocks until the next frame arrives. It returns io.EOF when the
	// server ends the stream and ErrStreamClosed after Close.
	Next() (Frame, error)

	// Close releases the connection. It unblocks a pending Next.
	Close() error
}

// Dialer opens streams.
type Dialer interface {
	Dial(ctx context.Context, token string) (Stream, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, token string) (Stream, error)

// Dial calls f(ctx, token).
func (f DialerFunc) Dial(ctx context.Context, token string) (Stream, error) {
	return f(ctx, token)
}
