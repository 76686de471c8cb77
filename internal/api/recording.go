package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Spatial-NVR/cctv-hub/internal/recording"
)

// SnapshotResponse is one entry of the snapshot listing
type SnapshotResponse struct {
	*recording.Snapshot
	URL string `json:"url"`
}

// SnapshotURL returns the path a snapshot file is served under
func SnapshotURL(fileName string) string {
	return "/recordings/" + fileName
}

// handleListSnapshots lists motion snapshots with filtering
func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	if s.snapshots == nil {
		ServiceUnavailable(w, "Recording not available")
		return
	}

	v := NewQueryValidator(r.URL.Query())
	page := v.Page()
	opts := recording.ListOptions{
		CameraID: v.Camera(nil),
		Since:    v.Time("since"),
		Until:    v.Time("until"),
		Limit:    page.Limit,
		Offset:   page.Offset,
	}
	if errs := v.Errors(); errs.HasErrors() {
		ValidationErrorResponse(w, errs)
		return
	}

	snaps, total, err := s.snapshots.List(r.Context(), opts)
	if err != nil {
		s.logger.Error("Failed to list snapshots", "error", err)
		InternalError(w, "Failed to list recordings")
		return
	}

	items := make([]SnapshotResponse, 0, len(snaps))
	for _, snap := range snaps {
		items = append(items, SnapshotResponse{Snapshot: snap, URL: SnapshotURL(snap.FileName)})
	}
	List(w, items, total, page)
}

// handleSnapshotFile serves one snapshot JPEG
func (s *Server) handleSnapshotFile(w http.ResponseWriter, r *http.Request) {
	if s.snapshots == nil {
		ServiceUnavailable(w, "Recording not available")
		return
	}

	path, err := s.snapshots.Path(chi.URLParam(r, "file"))
	switch {
	case errors.Is(err, recording.ErrInvalidName), errors.Is(err, recording.ErrNotFound):
		NotFound(w, "Recording not found")
		return
	case err != nil:
		InternalError(w, "Failed to open recording")
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	http.ServeFile(w, r, path)
}
