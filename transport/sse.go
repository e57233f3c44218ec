package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// Common errors.
var (
	ErrClosed    = errors.New("stream closed")
	ErrConnected = errors.New("stream already connected")
)

// StatusError is returned by Connect when the stream endpoint answers with a
// non-200 status. Listening aborts immediately in that case.
type StatusError struct {
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("stream endpoint returned status %d", e.Status)
}

// StreamEvent is one Server-Sent Event delivered by the stream.
type StreamEvent struct {
	// Name is the SSE event name, empty when the server sent none.
	Name string

	// Data is the event payload with the "data:" framing stripped.
	// Multi-line payloads are joined with newlines per the SSE format.
	Data []byte
}

// StreamClient opens the SSE stream and delivers its events on a channel.
// One connection per client; there is no reconnection.
type StreamClient struct {
	url    string
	client *http.Client
	events chan StreamEvent
	done   chan struct{}

	mu        sync.Mutex
	connected bool
	closed    bool
}

// NewStreamClient creates a client for the given stream URL.
// The http.Client must not carry a global timeout; the stream is long-lived.
func NewStreamClient(url string, client *http.Client) *StreamClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &StreamClient{
		url:    url,
		client: client,
		events: make(chan StreamEvent, 100),
		done:   make(chan struct{}),
	}
}

// Events returns the channel of incoming stream events.
// It is closed when the stream ends for any reason.
func (s *StreamClient) Events() <-chan StreamEvent {
	return s.events
}

// Connect performs the streaming GET and starts reading events.
// A non-200 status returns *StatusError and closes the events channel:
// no events will ever arrive.
func (s *StreamClient) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.connected {
		s.mu.Unlock()
		return ErrConnected
	}
	s.connected = true
	s.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		close(s.events)
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.client.Do(req)
	if err != nil {
		close(s.events)
		return err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		close(s.events)
		return &StatusError{Status: resp.StatusCode}
	}

	go s.readLoop(ctx, resp.Body)
	return nil
}

// Close stops the stream. Safe to call more than once.
func (s *StreamClient) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	return nil
}

// readLoop scans the body for SSE fields and dispatches complete events.
// Any read error ends the loop silently; events already delivered stand.
func (s *StreamClient) readLoop(ctx context.Context, body io.ReadCloser) {
	defer body.Close()
	defer close(s.events)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var dataBuf bytes.Buffer
	var eventName string

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		default:
		}

		line := scanner.Text()

		if line == "" {
			// End of event, dispatch accumulated data
			if dataBuf.Len() > 0 {
				data := make([]byte, dataBuf.Len())
				copy(data, dataBuf.Bytes())
				if !s.deliver(ctx, StreamEvent{Name: eventName, Data: data}) {
					return
				}
			}
			dataBuf.Reset()
			eventName = ""
			continue
		}

		// Comment lines (keepalives) carry nothing
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value := splitField(line)
		switch field {
		case "data":
			if dataBuf.Len() > 0 {
				dataBuf.WriteByte('\n')
			}
			dataBuf.WriteString(value)
		case "event":
			eventName = value
		default:
			// id, retry and unknown fields are not used by this client
		}
	}
}

// deliver sends one event, giving up on shutdown.
func (s *StreamClient) deliver(ctx context.Context, ev StreamEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	case <-s.done:
		return false
	}
}

// splitField splits an SSE line into field name and value, stripping the
// single optional space after the colon.
func splitField(line string) (string, string) {
	field, value, found := strings.Cut(line, ":")
	if !found {
		return line, ""
	}
	if len(value) > 0 && value[0] == ' ' {
		value = value[1:]
	}
	return field, value
}
