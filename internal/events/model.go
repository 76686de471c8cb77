// Package events provides the hub's persistent event log
package events

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when an event does not exist
var ErrNotFound = errors.New("event not found")

// EventType represents the type of event
type EventType string

const (
	EventMotion        EventType = "motion"
	EventCameraOnline  EventType = "camera_online"
	EventCameraOffline EventType = "camera_offline"
)

// Valid reports whether t is a known event type
func (t EventType) Valid() bool {
	switch t {
	case EventMotion, EventCameraOnline, EventCameraOffline:
		return true
	}
	return false
}

// Event is one entry of the event log
type Event struct {
	ID            string          `json:"id"`
	CameraID      string          `json:"camera_id"`
	EventType     EventType       `json:"event_type"`
	Timestamp     time.Time       `json:"timestamp"`
	ThumbnailPath string          `json:"thumbnail_path,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ListOptions represents filters for querying events
type ListOptions struct {
	CameraID  string    `json:"camera_id,omitempty"`
	EventType EventType `json:"event_type,omitempty"`
	StartTime time.Time `json:"start_time,omitempty"`
	EndTime   time.Time `json:"end_time,omitempty"`
	Limit     int       `json:"limit,omitempty"`
	Offset    int       `json:"offset,omitempty"`
}

// Stats holds event counts
type Stats struct {
	Today  int               `json:"today"`
	Total  int               `json:"total"`
	ByType map[EventType]int `json:"by_type"`
}
