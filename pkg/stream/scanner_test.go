package stream

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scanAll(t *testing.T, input string) []Frame {
	t.Helper()
	sc := NewScanner(strings.NewReader(input))
	var frames []Frame
	for sc.Next() {
		frames = append(frames, sc.Frame())
	}
	require.NoError(t, sc.Err())
	return frames
}

func TestScanner(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []Frame
	}{
		{
			name:  "anonymous",
			input: "data: {\"a\":1}\n\n",
			want:  []Frame{{Data: `{"a":1}`}},
		},
		{
			name:  "named",
			input: "event: code\ndata: ready\n\n",
			want:  []Frame{{Event: "code", Data: "ready"}},
		},
		{
			name:  "multi-line data",
			input: "data: line1\ndata: line2\n\n",
			want:  []Frame{{Data: "line1\nline2"}},
		},
		{
			name:  "comments and unknown fields",
			input: ": keepalive\nretry: 100\nfoo: bar\ndata: x\n\n",
			want:  []Frame{{Data: "x"}},
		},
		{
			name:  "crlf",
			input: "event: invite\r\ndata: hi\r\n\r\n",
			want:  []Frame{{Event: "invite", Data: "hi"}},
		},
		{
			name:  "no space after colon",
			input: "event:code\ndata:v1\n\n",
			want:  []Frame{{Event: "code", Data: "v1"}},
		},
		{
			name:  "trailing event without blank line",
			input: "data: first\n\ndata: last",
			want:  []Frame{{Data: "first"}, {Data: "last"}},
		},
		{
			name:  "event type does not leak into next frame",
			input: "event: code\ndata: a\n\ndata: b\n\n",
			want:  []Frame{{Event: "code", Data: "a"}, {Data: "b"}},
		},
		{
			name:  "event without data is skipped",
			input: "event: code\n\ndata: b\n\n",
			want:  []Frame{{Data: "b"}},
		},
		{
			name:  "id persists",
			input: "id: 7\ndata: a\n\ndata: b\n\n",
			want:  []Frame{{Data: "a", ID: "7"}, {Data: "b", ID: "7"}},
		},
		{
			name:  "empty data line",
			input: "data:\n\n",
			want:  []Frame{{Data: ""}},
		},
		{
			name:  "empty input",
			input: "",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, scanAll(t, tt.input))
		})
	}
}

type failingReader struct{ err error }

func (r failingReader) Read([]byte) (int, error) { return 0, r.err }

func TestScannerError(t *testing.T) {
	boom := errors.New("boom")
	sc := NewScanner(failingReader{err: boom})

	assert.False(t, sc.Next())
	assert.ErrorIs(t, sc.Err(), boom)
	assert.False(t, sc.Next())
}

func TestFrameAnonymous(t *testing.T) {
	assert.True(t, Frame{}.Anonymous())
	assert.True(t, Frame{Event: DefaultEvent}.Anonymous())
	assert.False(t, Frame{Event: "code"}.Anonymous())
}
