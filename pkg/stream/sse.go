package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// DefaultWriteTimeout bounds each write when NewSSEWriter is given none.
const DefaultWriteTimeout = 10 * time.Second

// SSEWriter writes frames as server-sent events. Every write carries a
// deadline, so a client that stops reading fails the write instead of
// blocking it.
type SSEWriter struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	timeout time.Duration
}

// NewSSEWriter sets the event-stream headers and returns a writer.
func NewSSEWriter(w http.ResponseWriter, writeTimeout time.Duration) (*SSEWriter, error) {
	if _, ok := w.(http.Flusher); !ok {
		return nil, errors.New("streaming unsupported")
	}
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	s := &SSEWriter{w: w, rc: http.NewResponseController(w), timeout: writeTimeout}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set("x-vercel-ai-ui-message-stream", "v1")
	if err := s.deadline(); err != nil {
		return nil, err
	}
	w.WriteHeader(http.StatusOK)
	if err := s.rc.Flush(); err != nil {
		return nil, err
	}
	return s, nil
}

// deadline arms the write deadline. Writers without deadline support, such
// as test recorders, are written to unbounded.
func (s *SSEWriter) deadline() error {
	err := s.rc.SetWriteDeadline(time.Now().Add(s.timeout))
	if err != nil && !errors.Is(err, http.ErrNotSupported) {
		return fmt.Errorf("setting write deadline: %w", err)
	}
	return nil
}

func (s *SSEWriter) WriteFrame(f Frame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}
	return s.write(fmt.Sprintf("data: %s\n\n", b))
}

// Done writes the stream terminator.
func (s *SSEWriter) Done() error {
	return s.write("data: [DONE]\n\n")
}

func (s *SSEWriter) write(data string) error {
	if err := s.deadline(); err != nil {
		return err
	}
	if _, err := fmt.Fprint(s.w, data); err != nil {
		return err
	}
	return s.rc.Flush()
}
