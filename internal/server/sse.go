// File: internal/server/sse.go
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/xkilldash9x/director/api/schemas"
)

// sseSink writes each event as one server-sent event frame and flushes it.
type sseSink struct {
	mu sync.Mutex
	w  http.ResponseWriter
	rc *http.ResponseController
}

// newSSESink sends the stream headers. It fails before anything is written when
// the writer cannot flush.
func newSSESink(w http.ResponseWriter) (*sseSink, error) {
	rc := http.NewResponseController(w)
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	if err := rc.Flush(); err != nil {
		h.Del("Content-Type")
		return nil, fmt.Errorf("streaming unsupported: %w", err)
	}
	return &sseSink{w: w, rc: rc}, nil
}

func (s *sseSink) Send(ctx context.Context, event schemas.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event.Type, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return err
	}
	return s.rc.Flush()
}
