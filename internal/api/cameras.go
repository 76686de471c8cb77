package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Spatial-NVR/cctv-hub/internal/camera"
	"github.com/Spatial-NVR/cctv-hub/internal/relay"
	"github.com/Spatial-NVR/cctv-hub/internal/state"
)

// LivenessResponse is the body of GET /health
type LivenessResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// HealthView is the health section of a camera status
type HealthView struct {
	Online        bool       `json:"online"`
	LastCheck     *time.Time `json:"last_check"`
	UptimeSeconds float64    `json:"uptime_seconds"`
}

// StatusResponse is the body of GET /status/{name}
type StatusResponse struct {
	Motion     bool       `json:"motion"`
	Health     HealthView `json:"health"`
	LastMotion *time.Time `json:"last_motion"`
}

// CameraResponse is one entry of the camera listing
type CameraResponse struct {
	Name       string     `json:"name"`
	IP         string     `json:"ip"`
	Motion     bool       `json:"motion"`
	Health     HealthView `json:"health"`
	LastMotion *time.Time `json:"last_motion"`
}

// HubHealthResponse is the body of GET /api/health
type HubHealthResponse struct {
	Status           string          `json:"status"`
	CamerasCount     int             `json:"cameras_count"`
	CamerasOnline    int             `json:"cameras_online"`
	RecordingEnabled bool            `json:"recording_enabled"`
	Database         *DatabaseHealth `json:"database,omitempty"`
	EventBus         *EventBusHealth `json:"event_bus,omitempty"`
}

// DatabaseHealth reports the event log database
type DatabaseHealth struct {
	Status        string `json:"status"`
	SizeBytes     int64  `json:"size_bytes"`
	SchemaVersion int    `json:"schema_version"`
	Error         string `json:"error,omitempty"`
}

// EventBusHealth reports the embedded event bus
type EventBusHealth struct {
	Status string `json:"status"`
	URL    string `json:"url"`
	Error  string `json:"error,omitempty"`
}

func healthView(h state.HealthRecord) HealthView {
	return HealthView{
		Online:        h.Online,
		LastCheck:     h.LastCheck,
		UptimeSeconds: h.UptimeSeconds,
	}
}

func (s *Server) cameraResponse(st state.CameraStatus) CameraResponse {
	resp := CameraResponse{
		Name:       st.Name,
		Motion:     st.Motion,
		Health:     healthView(st.Health),
		LastMotion: st.LastMotion,
	}
	if c, ok := s.cameras.Get(st.Name); ok {
		resp.IP = c.Address()
	}
	return resp
}

// lookup returns the client of an enabled camera
func (s *Server) lookup(name string) (*camera.Client, bool) {
	if ValidateCameraName(name) != nil || !s.state.Has(name) {
		return nil, false
	}
	return s.cameras.Get(name)
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	Plain(w, http.StatusOK, LivenessResponse{Status: "ok", Version: s.version})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, ok := s.lookup(name); !ok {
		NotFound(w, "Camera not found")
		return
	}

	st, ok := s.state.Status(name)
	if !ok {
		NotFound(w, "Camera not found")
		return
	}

	Plain(w, http.StatusOK, StatusResponse{
		Motion:     st.Motion,
		Health:     healthView(st.Health),
		LastMotion: st.LastMotion,
	})
}

func (s *Server) handleListCameras(w http.ResponseWriter, r *http.Request) {
	statuses := s.state.Statuses()
	cameras := make([]CameraResponse, 0, len(statuses))
	for _, st := range statuses {
		cameras = append(cameras, s.cameraResponse(st))
	}
	OK(w, cameras)
}

func (s *Server) handleGetCamera(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, ok := s.lookup(name); !ok {
		NotFound(w, "Camera not found")
		return
	}

	st, ok := s.state.Status(name)
	if !ok {
		NotFound(w, "Camera not found")
		return
	}
	OK(w, s.cameraResponse(st))
}

// handleHubHealth always answers "ok"; component failures show in their
// own sections.
func (s *Server) handleHubHealth(w http.ResponseWriter, r *http.Request) {
	resp := HubHealthResponse{
		Status:           "ok",
		CamerasCount:     s.state.Len(),
		CamerasOnline:    s.state.OnlineCount(),
		RecordingEnabled: s.config.Runtime().Recording.Enabled,
	}

	ctx := r.Context()
	if s.db != nil {
		dh := &DatabaseHealth{Status: "ok"}
		if err := s.db.Health(ctx); err != nil {
			dh.Status = "error"
			dh.Error = err.Error()
		} else {
			dh.SizeBytes, _ = s.db.GetSize()
			dh.SchemaVersion, _ = s.db.SchemaVersion(ctx)
		}
		resp.Database = dh
	}
	if s.bus != nil {
		bh := &EventBusHealth{Status: "ok", URL: s.bus.ClientURL()}
		bctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := s.bus.HealthCheck(bctx); err != nil {
			bh.Status = "error"
			bh.Error = err.Error()
		}
		cancel()
		resp.EventBus = bh
	}

	OK(w, resp)
}

// handleStream relays one camera to this viewer until it disconnects
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	client, ok := s.lookup(name)
	if !ok {
		NotFound(w, "Camera not found")
		return
	}

	rt := s.config.Runtime()
	opts := relay.DefaultOptions()
	opts.Width = rt.Stream.Width
	opts.Height = rt.Stream.Height
	opts.Quality = rt.Stream.Quality

	src := relay.SourceFunc(func(ctx context.Context) (relay.FrameReader, error) {
		stream, err := client.OpenStream(ctx, client.Timeout())
		if err != nil {
			return nil, err
		}
		return stream, nil
	})

	w.Header().Set("Content-Type", relay.ContentType)
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(http.StatusOK)

	s.logger.Info("Viewer connected", "camera", name, "remote", r.RemoteAddr)
	err := relay.New(name, src, opts).Run(r.Context(), w)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Debug("Relay ended", "camera", name, "error", err)
	}
}
