// Package recording stores the snapshots captured when a camera reports motion
package recording

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a snapshot does not exist
var ErrNotFound = errors.New("snapshot not found")

// ErrInvalidName is returned for file names that cannot be a snapshot
var ErrInvalidName = errors.New("invalid snapshot name")

// Snapshot is one JPEG written to the recordings directory
type Snapshot struct {
	ID         string    `json:"id"`
	CameraID   string    `json:"camera_id"`
	FileName   string    `json:"file_name"`
	FilePath   string    `json:"file_path"`
	FileSize   int64     `json:"file_size"`
	CapturedAt time.Time `json:"captured_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// ListOptions filters snapshot listings
type ListOptions struct {
	CameraID string
	Since    time.Time
	Until    time.Time
	Limit    int
	Offset   int
}

// Repository indexes snapshots
type Repository interface {
	// Upsert stores s, replacing any entry with the same file name
	Upsert(ctx context.Context, s *Snapshot) error
	Get(ctx context.Context, id string) (*Snapshot, error)
	GetByFileName(ctx context.Context, fileName string) (*Snapshot, error)
	// List returns a page of snapshots, newest first, and the total count
	List(ctx context.Context, opts ListOptions) ([]*Snapshot, int, error)
	ListOlderThan(ctx context.Context, cutoff time.Time) ([]*Snapshot, error)
	Delete(ctx context.Context, id string) error
}

// RetentionStats summarises one retention cleanup run
type RetentionStats struct {
	SnapshotsDeleted int   `json:"snapshots_deleted"`
	BytesFreed       int64 `json:"bytes_freed"`
}
