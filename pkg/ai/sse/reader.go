// Package sse provides a minimal Server-Sent Events reader for the streaming
// model endpoints. It reads SSE lines and emits (event, data) pairs.
package sse

import (
	"bufio"
	"io"
	"strings"
)

// Event is a single SSE event with an optional type and data payload.
type Event struct {
	Type string // value of the "event:" field (may be empty)
	Data string // value of the "data:" field(s), joined with "\n"
}

// Reader reads SSE events from an io.Reader.
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader wraps r. Individual SSE lines up to 1 MB are supported, which
// comfortably covers the largest single-chunk payloads the model APIs emit.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	return &Reader{scanner: sc}
}

// Next returns the next event. Returns (Event{}, io.EOF) at end of stream.
// A final event not terminated by a blank line is still delivered before EOF.
func (r *Reader) Next() (Event, error) {
	var ev Event
	var dataLines []string

	dispatch := func() Event {
		ev.Data = strings.Join(dataLines, "\n")
		return ev
	}

	for r.scanner.Scan() {
		line := r.scanner.Text()

		if line == "" {
			// Blank line terminates the pending event.
			if len(dataLines) > 0 || ev.Type != "" {
				return dispatch(), nil
			}
			continue
		}

		switch {
		case strings.HasPrefix(line, ":"):
			// Comment / keep-alive line.
		case strings.HasPrefix(line, "event:"):
			ev.Type = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
		// id: and retry: fields are intentionally ignored.
	}

	if err := r.scanner.Err(); err != nil {
		return Event{}, err
	}
	if len(dataLines) > 0 || ev.Type != "" {
		return dispatch(), nil
	}
	return Event{}, io.EOF
}
