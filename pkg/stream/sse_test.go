package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditlens/realtime-go/pkg/version"
)

func TestSSEDialer(t *testing.T) {
	gotToken := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken <- r.URL.Query().Get("token")
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		assert.Equal(t, version.Current, r.Header.Get(version.Header))

		w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "event: code\ndata: {\"status\":\"ready\"}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	d := &SSEDialer{URL: srv.URL + "/api/stream?v=1"}
	s, err := d.Dial(context.Background(), "tok-1")
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, "tok-1", <-gotToken)

	f, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, Frame{Event: "code", Data: `{"status":"ready"}`}, f)

	f, err = s.Next()
	require.NoError(t, err)
	assert.Equal(t, "[DONE]", f.Data)
	assert.True(t, f.Anonymous())

	_, err = s.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestSSEDialerRejectsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := (&SSEDialer{URL: srv.URL}).Dial(context.Background(), "bad")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
	assert.Contains(t, err.Error(), "401")
}

func TestSSEDialerRejectsContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, "{}")
	}))
	defer srv.Close()

	_, err := (&SSEDialer{URL: srv.URL}).Dial(context.Background(), "t")
	assert.ErrorIs(t, err, ErrUnexpectedContentType)
}

func TestSSEStreamCloseUnblocksNext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	s, err := (&SSEDialer{URL: srv.URL}).Dial(context.Background(), "t")
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		_, err := s.Next()
		errc <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Close())

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrStreamClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return after Close")
	}
}

func TestSSEDialerHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := (&SSEDialer{URL: srv.URL}).Dial(ctx, "t")
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "err = %v", err)
}
