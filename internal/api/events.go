package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Spatial-NVR/cctv-hub/internal/events"
)

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		ServiceUnavailable(w, "Event log not available")
		return
	}

	v := NewQueryValidator(r.URL.Query())
	page := v.Page()
	opts := events.ListOptions{
		CameraID:  v.Camera(nil),
		EventType: v.EventType(),
		StartTime: v.Time("start_time"),
		EndTime:   v.Time("end_time"),
		Limit:     page.Limit,
		Offset:    page.Offset,
	}
	if errs := v.Errors(); errs.HasErrors() {
		ValidationErrorResponse(w, errs)
		return
	}

	list, total, err := s.events.List(r.Context(), opts)
	if err != nil {
		s.logger.Error("Failed to list events", "error", err)
		InternalError(w, "Failed to list events")
		return
	}
	if list == nil {
		list = []*events.Event{}
	}
	List(w, list, total, page)
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		ServiceUnavailable(w, "Event log not available")
		return
	}

	event, err := s.events.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, events.ErrNotFound) {
		NotFound(w, "Event not found")
		return
	}
	if err != nil {
		InternalError(w, "Failed to get event")
		return
	}
	OK(w, event)
}

func (s *Server) handleEventStats(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		ServiceUnavailable(w, "Event log not available")
		return
	}

	v := NewQueryValidator(r.URL.Query())
	camera := v.Camera(nil)
	if errs := v.Errors(); errs.HasErrors() {
		ValidationErrorResponse(w, errs)
		return
	}

	stats, err := s.events.GetStats(r.Context(), camera)
	if err != nil {
		s.logger.Error("Failed to get event stats", "error", err)
		InternalError(w, "Failed to get event stats")
		return
	}
	OK(w, stats)
}
