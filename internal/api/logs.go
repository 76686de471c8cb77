package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/Spatial-NVR/cctv-hub/internal/logging"
)

func (s *Server) handleRecentLogs(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		ServiceUnavailable(w, "Log buffer not available")
		return
	}

	v := NewQueryValidator(r.URL.Query())
	limit := v.Int("limit", 100, 1, logging.DefaultBufferSize)
	if errs := v.Errors(); errs.HasErrors() {
		ValidationErrorResponse(w, errs)
		return
	}

	OK(w, s.logs.GetRecent(limit))
}

// handleLogStream provides Server-Sent Events for live log streaming
func (s *Server) handleLogStream(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		ServiceUnavailable(w, "Log buffer not available")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		InternalError(w, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := s.logs.Subscribe()
	defer s.logs.Unsubscribe(ch)

	fmt.Fprintf(w, ": connected %s\n\n", time.Now().Format(time.RFC3339))
	flusher.Flush()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case entry, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", logging.LogEntryToJSON(entry))
			flusher.Flush()
		case <-heartbeat.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		}
	}
}
