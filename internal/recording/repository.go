package recording

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SQLiteRepository implements Repository on the snapshots table
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite repository
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const snapshotColumns = `id, camera_id, file_name, file_path, file_size, captured_at, created_at`

// Upsert inserts a snapshot. A second capture with the same file name (same
// camera, same second) replaces the first entry, like the file it indexes.
func (r *SQLiteRepository) Upsert(ctx context.Context, s *Snapshot) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO snapshots (`+snapshotColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_name) DO UPDATE SET
			file_path = excluded.file_path,
			file_size = excluded.file_size,
			captured_at = excluded.captured_at
		RETURNING id
	`,
		s.ID, s.CameraID, s.FileName, s.FilePath, s.FileSize,
		s.CapturedAt.Unix(), s.CreatedAt.Unix(),
	).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("failed to index snapshot: %w", err)
	}
	return nil
}

// Get retrieves a snapshot by ID
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Snapshot, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+snapshotColumns+` FROM snapshots WHERE id = ?`, id)
	return scanSnapshot(row)
}

// GetByFileName retrieves a snapshot by its file name
func (r *SQLiteRepository) GetByFileName(ctx context.Context, fileName string) (*Snapshot, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+snapshotColumns+` FROM snapshots WHERE file_name = ?`, fileName)
	return scanSnapshot(row)
}

// List retrieves snapshots with filters
func (r *SQLiteRepository) List(ctx context.Context, opts ListOptions) ([]*Snapshot, int, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}

	if opts.CameraID != "" {
		where += " AND camera_id = ?"
		args = append(args, opts.CameraID)
	}
	if !opts.Since.IsZero() {
		where += " AND captured_at >= ?"
		args = append(args, opts.Since.Unix())
	}
	if !opts.Until.IsZero() {
		where += " AND captured_at <= ?"
		args = append(args, opts.Until.Unix())
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count snapshots: %w", err)
	}

	query := `SELECT ` + snapshotColumns + ` FROM snapshots` + where + ` ORDER BY captured_at DESC, file_name DESC`
	if opts.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, opts.Limit, opts.Offset)
	} else if opts.Offset > 0 {
		query += " LIMIT -1 OFFSET ?"
		args = append(args, opts.Offset)
	}

	snapshots, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return snapshots, total, nil
}

// ListOlderThan returns every snapshot captured before cutoff, oldest first
func (r *SQLiteRepository) ListOlderThan(ctx context.Context, cutoff time.Time) ([]*Snapshot, error) {
	return r.query(ctx, `SELECT `+snapshotColumns+` FROM snapshots WHERE captured_at < ? ORDER BY captured_at ASC`, cutoff.Unix())
}

// Delete removes a snapshot from the index
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM snapshots WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) query(ctx context.Context, query string, args ...interface{}) ([]*Snapshot, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []*Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSnapshot(row scanner) (*Snapshot, error) {
	s := &Snapshot{}
	var capturedAt, createdAt int64
	err := row.Scan(&s.ID, &s.CameraID, &s.FileName, &s.FilePath, &s.FileSize, &capturedAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.CapturedAt = time.Unix(capturedAt, 0)
	s.CreatedAt = time.Unix(createdAt, 0)
	return s, nil
}
