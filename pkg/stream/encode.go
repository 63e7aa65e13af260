package stream

import (
	"bufio"
	"io"
	"strings"
)

// WriteFrame writes f in text/event-stream format. Multi-line data is split
// into one data field per line.
func WriteFrame(w io.Writer, f Frame) error {
	bw := bufio.NewWriter(w)
	if f.Event != "" {
		bw.WriteString("event: " + f.Event + "\n")
	}
	if f.ID != "" {
		bw.WriteString("id: " + f.ID + "\n")
	}
	for _, line := range strings.Split(f.Data, "\n") {
		bw.WriteString("data: " + strings.TrimSuffix(line, "\r") + "\n")
	}
	bw.WriteString("\n")
	return bw.Flush()
}

// WriteComment writes an SSE comment line, used as keep-alive.
func WriteComment(w io.Writer, text string) error {
	_, err := io.WriteString(w, ": "+text+"\n\n")
	return err
}
