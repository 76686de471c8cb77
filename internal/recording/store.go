package recording

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// timestampLayout is the time part of every snapshot file name
const timestampLayout = "20060102_150405"

// Store writes snapshots into the recordings directory and keeps them indexed.
// The index is optional; without it listings scan the directory.
type Store struct {
	dir    string
	repo   Repository
	logger *slog.Logger
}

// NewStore creates a store rooted at dir. repo may be nil.
func NewStore(dir string, repo Repository) *Store {
	return &Store{
		dir:    dir,
		repo:   repo,
		logger: slog.Default().With("component", "snapshot-store"),
	}
}

// Dir returns the recordings directory
func (s *Store) Dir() string {
	return s.dir
}

// SanitizeName makes a camera name safe to embed in a file name
func SanitizeName(camera string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ".", "_", ":", "_", "\x00", "")
	name := strings.TrimSpace(r.Replace(camera))
	if name == "" {
		return "camera"
	}
	return name
}

// FileName returns the snapshot file name for a capture of camera at t
func FileName(camera string, t time.Time) string {
	return fmt.Sprintf("%s_%s.jpg", SanitizeName(camera), t.Format(timestampLayout))
}

// parseFileName splits a snapshot file name into camera and capture time
func parseFileName(name string) (string, time.Time, bool) {
	base, ok := strings.CutSuffix(name, ".jpg")
	if !ok || len(base) < len(timestampLayout)+2 {
		return "", time.Time{}, false
	}
	split := len(base) - len(timestampLayout)
	if base[split-1] != '_' {
		return "", time.Time{}, false
	}
	at, err := time.ParseInLocation(timestampLayout, base[split:], time.Local)
	if err != nil {
		return "", time.Time{}, false
	}
	return base[:split-1], at, true
}

// Save writes data as the snapshot of camera captured at t. Writing the
// same camera twice within one second replaces the earlier file.
func (s *Store) Save(ctx context.Context, camera string, data []byte, t time.Time) (*Snapshot, error) {
	if len(data) == 0 {
		return nil, errors.New("empty snapshot")
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create recordings directory: %w", err)
	}

	name := FileName(camera, t)
	path := filepath.Join(s.dir, name)

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to write snapshot: %w", err)
	}

	snap := &Snapshot{
		CameraID:   camera,
		FileName:   name,
		FilePath:   path,
		FileSize:   int64(len(data)),
		CapturedAt: t,
		CreatedAt:  time.Now(),
	}

	if s.repo != nil {
		if err := s.repo.Upsert(ctx, snap); err != nil {
			// The file is on disk; only the index entry is missing
			s.logger.Warn("Failed to index snapshot", "file", name, "error", err)
		}
	}

	s.logger.Info("Snapshot saved", "camera", camera, "file", name, "size", snap.FileSize)
	return snap, nil
}

// List returns a page of snapshots, newest first, and the total count
func (s *Store) List(ctx context.Context, opts ListOptions) ([]*Snapshot, int, error) {
	if s.repo != nil {
		return s.repo.List(ctx, opts)
	}

	all, err := s.scan()
	if err != nil {
		return nil, 0, err
	}

	filtered := all[:0]
	for _, snap := range all {
		if opts.CameraID != "" && snap.CameraID != SanitizeName(opts.CameraID) {
			continue
		}
		if !opts.Since.IsZero() && snap.CapturedAt.Before(opts.Since) {
			continue
		}
		if !opts.Until.IsZero() && snap.CapturedAt.After(opts.Until) {
			continue
		}
		filtered = append(filtered, snap)
	}

	total := len(filtered)
	start := min(max(opts.Offset, 0), total)
	end := total
	if opts.Limit > 0 {
		end = min(start+opts.Limit, total)
	}
	return filtered[start:end], total, nil
}

// Path resolves a snapshot file name to its location on disk
func (s *Store) Path(name string) (string, error) {
	if name != filepath.Base(name) || strings.ContainsAny(name, `/\`) {
		return "", ErrInvalidName
	}
	if _, _, ok := parseFileName(name); !ok {
		return "", ErrInvalidName
	}

	path := filepath.Join(s.dir, name)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", err
	}
	return path, nil
}

// Delete removes a snapshot file and its index entry
func (s *Store) Delete(ctx context.Context, snap *Snapshot) error {
	path := filepath.Join(s.dir, snap.FileName)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove snapshot: %w", err)
	}
	if s.repo != nil && snap.ID != "" {
		if err := s.repo.Delete(ctx, snap.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	return nil
}

// olderThan returns snapshots captured before cutoff
func (s *Store) olderThan(ctx context.Context, cutoff time.Time) ([]*Snapshot, error) {
	if s.repo != nil {
		return s.repo.ListOlderThan(ctx, cutoff)
	}

	all, err := s.scan()
	if err != nil {
		return nil, err
	}
	var old []*Snapshot
	for _, snap := range all {
		if snap.CapturedAt.Before(cutoff) {
			old = append(old, snap)
		}
	}
	return old, nil
}

// scan reads the recordings directory, newest first
func (s *Store) scan() ([]*Snapshot, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read recordings directory: %w", err)
	}

	var snapshots []*Snapshot
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		camera, at, ok := parseFileName(entry.Name())
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		snapshots = append(snapshots, &Snapshot{
			CameraID:   camera,
			FileName:   entry.Name(),
			FilePath:   filepath.Join(s.dir, entry.Name()),
			FileSize:   info.Size(),
			CapturedAt: at,
			CreatedAt:  info.ModTime(),
		})
	}

	sort.Slice(snapshots, func(i, j int) bool {
		if snapshots[i].CapturedAt.Equal(snapshots[j].CapturedAt) {
			return snapshots[i].FileName > snapshots[j].FileName
		}
		return snapshots[i].CapturedAt.After(snapshots[j].CapturedAt)
	})
	return snapshots, nil
}
