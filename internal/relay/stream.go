package relay

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
)

// maxStreamLineSize caps a single SSE line. Streamed chunks are small, but
// the default Scanner limit is too tight for long completions.
const maxStreamLineSize = 1024 * 1024

// Event is one server-sent event from the upstream stream
type Event struct {
	Data []byte
	Done bool
}

// StreamReader reads server-sent events off an upstream response body
type StreamReader struct {
	scanner *bufio.Scanner
	closer  io.Closer
}

// NewStreamReader creates a stream reader over an upstream body
func NewStreamReader(r io.ReadCloser) *StreamReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxStreamLineSize)

	return &StreamReader{
		scanner: scanner,
		closer:  r,
	}
}

// Read returns the next event. io.EOF follows the [DONE] marker or the end
// of the stream.
func (s *StreamReader) Read() (*Event, error) {
	for s.scanner.Scan() {
		line := s.scanner.Bytes()

		if len(line) == 0 {
			continue
		}
		if !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}

		data := bytes.TrimPrefix(line, []byte("data: "))
		if bytes.Equal(data, []byte("[DONE]")) {
			return &Event{Done: true}, io.EOF
		}

		return &Event{Data: data}, nil
	}

	if err := s.scanner.Err(); err != nil {
		return nil, err
	}
	return &Event{Done: true}, io.EOF
}

// Close closes the underlying stream
func (s *StreamReader) Close() error {
	return s.closer.Close()
}

// PumpSSE re-emits upstream events to the client as they arrive, flushing
// after each one, and passes the terminal [DONE] marker through. The last
// usage block observed in a chunk is returned along with the number of data
// events forwarded. A client disconnect surfaces as a write error; the
// reservation stands either way.
func PumpSSE(w io.Writer, flusher http.Flusher, stream io.ReadCloser) (Usage, int, error) {
	reader := NewStreamReader(stream)
	defer reader.Close()

	var usage Usage
	events := 0

	for {
		event, err := reader.Read()
		if err == io.EOF {
			if _, werr := fmt.Fprint(w, "data: [DONE]\n\n"); werr != nil {
				return usage, events, werr
			}
			flusher.Flush()
			return usage, events, nil
		}
		if err != nil {
			return usage, events, fmt.Errorf("stream read failed: %w", err)
		}

		if chunkUsage := extractUsage(event.Data); chunkUsage.Seen {
			usage = chunkUsage
		}

		if _, err := fmt.Fprintf(w, "data: %s\n\n", event.Data); err != nil {
			return usage, events, err
		}
		flusher.Flush()
		events++
	}
}
