package events

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// SSEWriter writes Server-Sent Events
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter sets the stream headers. It fails when w cannot flush.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &SSEWriter{w: w, flusher: flusher}, nil
}

// WriteEvent sends one event with a JSON payload
func (s *SSEWriter) WriteEvent(event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(s.w, "event: %s\n", event); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", jsonData); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// WriteComment sends a keep-alive comment line
func (s *SSEWriter) WriteComment(text string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Stream forwards the messages of sessionID to w until ctx is done or a
// write fails. A comment is sent every keepAlive when the feed is idle.
func (h *Hub) Stream(ctx context.Context, w *SSEWriter, sessionID string, keepAlive time.Duration) error {
	msgs, unsubscribe := h.Subscribe(sessionID)
	defer unsubscribe()

	if err := w.WriteEvent("ready", map[string]string{"sessionId": sessionID}); err != nil {
		return err
	}

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-msgs:
			if err := w.WriteEvent(msg.Type, msg.Data); err != nil {
				return err
			}
		case <-ticker.C:
			if err := w.WriteComment("ping"); err != nil {
				return err
			}
		}
	}
}
