package stream

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"sync"

	"github.com/auditlens/realtime-go/pkg/version"
)

// SSEDialer opens text/event-stream connections.
type SSEDialer struct {
	// URL is the stream endpoint, e.g. http://localhost:8080/api/stream.
	URL string

	// Client is the HTTP client. Defaults to a client without timeout.
	Client *http.Client

	// Header is added to every request.
	Header http.Header
}

// Dial opens the stream with token as query credential. ctx bounds the
// handshake only; the stream lives until Close.
func (d *SSEDialer) Dial(ctx context.Context, token string) (Stream, error) {
	u, err := withToken(d.URL, token)
	if err != nil {
		return nil, err
	}

	// The request context must outlive the handshake.
	streamCtx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, u, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stream: build request: %w", err)
	}
	for k, vs := range d.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get(version.Header) == "" {
		req.Header.Set(version.Header, version.Current)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	stop := context.AfterFunc(ctx, cancel)
	resp, err := d.client().Do(req)
	stop()
	if err != nil {
		cancel()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("stream: connect: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w: %d %s", ErrUnexpectedStatus, resp.StatusCode, string(body))
	}
	if mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mt != "text/event-stream" {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w: %q", ErrUnexpectedContentType, resp.Header.Get("Content-Type"))
	}

	return &sseStream{
		body:    resp.Body,
		scanner: NewScanner(resp.Body),
		cancel:  cancel,
	}, nil
}

func (d *SSEDialer) client() *http.Client {
	if d.Client != nil {
		return d.Client
	}
	return http.DefaultClient
}

type sseStream struct {
	body    io.ReadCloser
	scanner *Scanner
	cancel  context.CancelFunc

	mu     sync.Mutex
	closed bool
}

func (s *sseStream) Next() (Frame, error) {
	if s.scanner.Next() {
		return s.scanner.Frame(), nil
	}
	if s.isClosed() {
		return Frame{}, ErrStreamClosed
	}
	if err := s.scanner.Err(); err != nil {
		return Frame{}, fmt.Errorf("stream: read: %w", err)
	}
	return Frame{}, io.EOF
}

func (s *sseStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	return s.body.Close()
}

func (s *sseStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func withToken(raw, token string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("stream: invalid URL %q: %w", raw, err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
