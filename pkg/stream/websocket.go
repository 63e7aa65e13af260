package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/auditlens/realtime-go/pkg/version"
)

// WireMessage is the JSON envelope of one WebSocket text message.
type WireMessage struct {
	Event string `json:"event,omitempty"`
	Data  string `json:"data"`
	ID    string `json:"id,omitempty"`
}

// WSDialer opens WebSocket connections.
type WSDialer struct {
	// URL is the stream endpoint. http(s) schemes are rewritten to ws(s).
	URL string

	// Dialer is the WebSocket dialer. Defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// Header is sent with the handshake.
	Header http.Header
}

// Dial opens the stream with token as query credential.
func (d *WSDialer) Dial(ctx context.Context, token string) (Stream, error) {
	raw, err := withToken(d.URL, token)
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("stream: invalid URL %q: %w", raw, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}

	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	header := d.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	if header.Get(version.Header) == "" {
		header.Set(version.Header, version.Current)
	}

	ws, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: %d: %v", ErrUnexpectedStatus, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("stream: websocket connect: %w", err)
	}

	return &wsStream{ws: ws}, nil
}

type wsStream struct {
	ws *websocket.Conn

	mu     sync.Mutex
	closed bool
}

func (s *wsStream) Next() (Frame, error) {
	for {
		messageType, message, err := s.ws.ReadMessage()
		if err != nil {
			if s.isClosed() {
				return Frame{}, ErrStreamClosed
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure {
				return Frame{}, io.EOF
			}
			return Frame{}, fmt.Errorf("stream: read: %w", err)
		}

		if messageType != websocket.TextMessage {
			continue
		}

		var msg WireMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			// Not an envelope; deliver the text as an anonymous frame.
			return Frame{Data: string(message)}, nil
		}
		return Frame{Event: msg.Event, Data: msg.Data, ID: msg.ID}, nil
	}
}

func (s *wsStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	deadline := time.Now().Add(time.Second)
	_ = s.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return s.ws.Close()
}

func (s *wsStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
