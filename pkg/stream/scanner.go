package stream

import (
	"bufio"
	"io"
	"strings"
)

// Scanner reads Server-Sent Events from an io.Reader.
//
// Events are delimited by blank lines. "data:" lines are joined with
// newlines, "event:" sets the type and "id:" the frame id. Comment lines
// and unknown fields are ignored. A final event without a terminating blank
// line is still returned before EOF.
//
//	sc := NewScanner(body)
//	for sc.Next() {
//	    f := sc.Frame()
//	}
//	if err := sc.Err(); err != nil {
//	    ...
//	}
type Scanner struct {
	reader  *bufio.Reader
	current Frame
	lastID  string
	err     error
}

// NewScanner creates a scanner over r.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{
		reader: bufio.NewReaderSize(r, 64*1024),
	}
}

// Next advances to the next frame. It returns false at EOF or on error.
func (s *Scanner) Next() bool {
	if s.err != nil {
		return false
	}
	s.current = Frame{}

	var dataLines []string
	var event string
	hasData := false

	emit := func() {
		s.current = Frame{
			Event: event,
			Data:  strings.Join(dataLines, "\n"),
			ID:    s.lastID,
		}
	}

	for {
		line, err := s.reader.ReadString('\n')

		if err != nil && line == "" {
			s.err = err
			if err == io.EOF && hasData {
				emit()
				return true
			}
			return false
		}

		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if hasData {
				emit()
				return true
			}
			event = ""
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, hasColon := strings.Cut(line, ":")
		if !hasColon {
			field = line
			value = ""
		} else {
			value = strings.TrimPrefix(value, " ")
		}

		switch field {
		case "data":
			dataLines = append(dataLines, value)
			hasData = true
		case "event":
			event = value
		case "id":
			if !strings.ContainsRune(value, 0) {
				s.lastID = value
			}
		}
	}
}

// Frame returns the most recently parsed frame.
func (s *Scanner) Frame() Frame {
	return s.current
}

// Err returns the first error encountered, or nil after a clean EOF.
func (s *Scanner) Err() error {
	if s.err == io.EOF {
		return nil
	}
	return s.err
}
