package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// handleSSE streams lifecycle events as Server-Sent Events until the client
// disconnects or the bus closes.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ctx := r.Context()
	eventCh := s.eventBus.Subscribe()
	defer s.eventBus.Unsubscribe(eventCh)

	s.logger.Info("SSE client connected", "remote_addr", r.RemoteAddr)

	s.sendSSEEvent(w, flusher, "connected", map[string]string{
		"status": "connected",
		"state":  s.notifier.State().String(),
	})

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("SSE client disconnected", "remote_addr", r.RemoteAddr)
			return

		case event, ok := <-eventCh:
			if !ok {
				s.logger.Info("EventBus closed, ending SSE stream")
				return
			}
			s.sendSSEEvent(w, flusher, event.EventType(), event)
		}
	}
}

// sendSSEEvent writes an event to the SSE stream.
func (s *Server) sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	// SSE format: event: type\ndata: json\n\n
	fmt.Fprintf(w, "event: %s\n", eventType)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()
}
