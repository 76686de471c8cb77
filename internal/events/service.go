package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Spatial-NVR/cctv-hub/internal/database"
)

// Service manages events
type Service struct {
	db          *database.DB
	logger      *slog.Logger
	subscribers []chan *Event
	mu          sync.RWMutex
	now         func() time.Time
}

// NewService creates a new event service
func NewService(db *database.DB) *Service {
	return &Service{
		db:          db,
		logger:      slog.Default().With("component", "event_service"),
		subscribers: make([]chan *Event, 0),
		now:         time.Now,
	}
}

// Subscribe returns a channel that receives new events. Slow subscribers
// miss events rather than block writers.
func (s *Service) Subscribe() chan *Event {
	ch := make(chan *Event, 100)
	s.mu.Lock()
	s.subscribers = append(s.subscribers, ch)
	s.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscription and closes its channel
func (s *Service) Unsubscribe(ch chan *Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sub := range s.subscribers {
		if sub == ch {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			close(ch)
			break
		}
	}
}

// Create stores an event and notifies subscribers
func (s *Service) Create(ctx context.Context, event *Event) error {
	if !event.EventType.Valid() {
		return fmt.Errorf("unknown event type %q", event.EventType)
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	now := s.now()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = now
	}

	var thumbnail, metadata interface{}
	if event.ThumbnailPath != "" {
		thumbnail = event.ThumbnailPath
	}
	if len(event.Metadata) > 0 {
		metadata = string(event.Metadata)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, camera_id, event_type, timestamp, thumbnail_path, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		event.ID, event.CameraID, event.EventType, event.Timestamp.Unix(),
		thumbnail, metadata, event.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}

	s.notifySubscribers(event)

	s.logger.Debug("Event created", "id", event.ID, "type", event.EventType, "camera", event.CameraID)
	return nil
}

// Get retrieves an event by ID
func (s *Service) Get(ctx context.Context, id string) (*Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, camera_id, event_type, timestamp, thumbnail_path, metadata, created_at
		FROM events WHERE id = ?
	`, id)

	event, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return event, nil
}

// List retrieves events with filters, newest first, with the total count
func (s *Service) List(ctx context.Context, opts ListOptions) ([]*Event, int, error) {
	query := `SELECT id, camera_id, event_type, timestamp, thumbnail_path, metadata, created_at
	          FROM events WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM events WHERE 1=1`
	args := []interface{}{}

	if opts.CameraID != "" {
		query += " AND camera_id = ?"
		countQuery += " AND camera_id = ?"
		args = append(args, opts.CameraID)
	}

	if opts.EventType != "" {
		query += " AND event_type = ?"
		countQuery += " AND event_type = ?"
		args = append(args, opts.EventType)
	}

	if !opts.StartTime.IsZero() {
		query += " AND timestamp >= ?"
		countQuery += " AND timestamp >= ?"
		args = append(args, opts.StartTime.Unix())
	}

	if !opts.EndTime.IsZero() {
		query += " AND timestamp <= ?"
		countQuery += " AND timestamp <= ?"
		args = append(args, opts.EndTime.Unix())
	}

	var totalCount int
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&totalCount); err != nil {
		return nil, 0, err
	}

	query += " ORDER BY timestamp DESC, created_at DESC"

	limit := 50
	if opts.Limit > 0 && opts.Limit <= 1000 {
		limit = opts.Limit
	}
	query += " LIMIT ?"
	args = append(args, limit)

	if opts.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		events = append(events, event)
	}

	return events, totalCount, rows.Err()
}

// Delete deletes an event
func (s *Service) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM events WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// GetStats returns event counts, optionally for one camera
func (s *Service) GetStats(ctx context.Context, cameraID string) (*Stats, error) {
	now := s.now()
	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	where, args := "", []interface{}{}
	if cameraID != "" {
		where = " WHERE camera_id = ?"
		args = append(args, cameraID)
	}

	stats := &Stats{ByType: make(map[EventType]int)}

	rows, err := s.db.QueryContext(ctx,
		"SELECT event_type, COUNT(*), SUM(CASE WHEN timestamp >= ? THEN 1 ELSE 0 END) FROM events"+where+" GROUP BY event_type",
		append([]interface{}{todayStart.Unix()}, args...)...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var eventType EventType
		var count, today int
		if err := rows.Scan(&eventType, &count, &today); err != nil {
			return nil, err
		}
		stats.ByType[eventType] = count
		stats.Total += count
		stats.Today += today
	}

	return stats, rows.Err()
}

// CreateMotionEvent records a motion onset, with the snapshot path if one was taken
func (s *Service) CreateMotionEvent(ctx context.Context, cameraID string, at time.Time, thumbnail string) (*Event, error) {
	event := &Event{
		CameraID:      cameraID,
		EventType:     EventMotion,
		ThumbnailPath: thumbnail,
		Timestamp:     at,
	}
	if err := s.Create(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

// CreateStateEvent records a camera going online or offline
func (s *Service) CreateStateEvent(ctx context.Context, cameraID string, online bool, at time.Time, uptime float64) (*Event, error) {
	eventType := EventCameraOffline
	if online {
		eventType = EventCameraOnline
	}
	metadata, _ := json.Marshal(map[string]interface{}{"uptime_seconds": uptime})

	event := &Event{
		CameraID:  cameraID,
		EventType: eventType,
		Timestamp: at,
		Metadata:  metadata,
	}
	if err := s.Create(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

func (s *Service) notifySubscribers(event *Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row scanner) (*Event, error) {
	event := &Event{}
	var timestamp, createdAt int64
	var thumbnailPath, metadataJSON sql.NullString

	if err := row.Scan(
		&event.ID, &event.CameraID, &event.EventType, &timestamp,
		&thumbnailPath, &metadataJSON, &createdAt,
	); err != nil {
		return nil, err
	}

	event.Timestamp = time.Unix(timestamp, 0)
	event.CreatedAt = time.Unix(createdAt, 0)
	if thumbnailPath.Valid {
		event.ThumbnailPath = thumbnailPath.String
	}
	if metadataJSON.Valid {
		event.Metadata = json.RawMessage(metadataJSON.String)
	}
	return event, nil
}
