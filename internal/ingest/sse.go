package ingest

import (
	"bufio"
	"io"
	"strings"
)

// sseEvent is one server-sent event.
type sseEvent struct {
	Name string
	Data string
}

// maxEventSize bounds a single event line; decoded payloads can be
// large but a line beyond this is a broken peer.
const maxEventSize = 4 << 20

// readEvents parses the text/event-stream wire format and invokes fn
// for each complete event. It returns when the reader is exhausted or
// fails; the returned error is the transport error (nil on clean EOF).
// Comment lines and fields other than event/data are ignored, multiple
// data lines are joined with newlines, per the SSE format.
func readEvents(r io.Reader, fn func(sseEvent)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxEventSize)

	var name string
	var data []string
	flush := func() {
		if len(data) > 0 || name != "" {
			fn(sseEvent{Name: name, Data: strings.Join(data, "\n")})
		}
		name, data = "", nil
	}

	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, ":"):
			// keep-alive comment
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	flush()
	return sc.Err()
}
