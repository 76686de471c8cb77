// Package state holds the live motion and health records of every enabled camera
package state

import (
	"sync"
	"time"
)

// HealthRecord is the reachability record of one camera
type HealthRecord struct {
	Online        bool       `json:"online"`
	LastCheck     *time.Time `json:"last_check"`
	UptimeSeconds float64    `json:"uptime_seconds"`
	LastMotion    *time.Time `json:"-"`
}

// CameraStatus is the combined view of one camera handed to readers
type CameraStatus struct {
	Name       string       `json:"name"`
	Motion     bool         `json:"motion"`
	Health     HealthRecord `json:"health"`
	LastMotion *time.Time   `json:"last_motion"`
}

// Store keeps one motion flag and one health record per camera. The set of
// cameras is fixed at construction; writes for other names are ignored.
type Store struct {
	mu     sync.RWMutex
	order  []string
	motion map[string]bool
	health map[string]*HealthRecord
}

// NewStore creates a store with an offline, motionless entry for each name
func NewStore(names []string) *Store {
	s := &Store{
		order:  make([]string, 0, len(names)),
		motion: make(map[string]bool, len(names)),
		health: make(map[string]*HealthRecord, len(names)),
	}
	for _, name := range names {
		if _, dup := s.health[name]; dup {
			continue
		}
		s.order = append(s.order, name)
		s.motion[name] = false
		s.health[name] = &HealthRecord{}
	}
	return s
}

// Names returns the tracked camera names in construction order
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// Has reports whether name is tracked
func (s *Store) Has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.health[name]
	return ok
}

// Motion returns the current motion flag of a camera
func (s *Store) Motion(name string) (bool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.motion[name]
	return v, ok
}

// SetMotion overwrites the motion flag and returns the previous value.
// ok is false for unknown cameras, in which case nothing is stored.
func (s *Store) SetMotion(name string, active bool) (prev bool, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok = s.motion[name]
	if !ok {
		return false, false
	}
	s.motion[name] = active
	return prev, true
}

// TouchMotion records t as the last time motion was observed
func (s *Store) TouchMotion(name string, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.health[name]; ok {
		rec.LastMotion = &t
	}
}

// RecordOnline marks a camera reachable at the given time and extends its
// uptime by one check interval. It returns the updated record.
func (s *Store) RecordOnline(name string, at time.Time, interval time.Duration) (HealthRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.health[name]
	if !ok {
		return HealthRecord{}, false
	}
	rec.Online = true
	rec.LastCheck = &at
	rec.UptimeSeconds += interval.Seconds()
	return copyRecord(rec), true
}

// RecordOffline marks a camera unreachable and resets its uptime. LastCheck
// keeps the time of the last successful probe.
func (s *Store) RecordOffline(name string) (HealthRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.health[name]
	if !ok {
		return HealthRecord{}, false
	}
	rec.Online = false
	rec.UptimeSeconds = 0
	return copyRecord(rec), true
}

// Health returns a copy of a camera's health record
func (s *Store) Health(name string) (HealthRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.health[name]
	if !ok {
		return HealthRecord{}, false
	}
	return copyRecord(rec), true
}

// Status returns the combined view of one camera
func (s *Store) Status(name string) (CameraStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statusLocked(name)
}

// Statuses returns the combined view of every camera in construction order
func (s *Store) Statuses() []CameraStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]CameraStatus, 0, len(s.order))
	for _, name := range s.order {
		st, _ := s.statusLocked(name)
		out = append(out, st)
	}
	return out
}

// OnlineCount returns how many cameras were online at their last check
func (s *Store) OnlineCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, rec := range s.health {
		if rec.Online {
			n++
		}
	}
	return n
}

// Len returns the number of tracked cameras
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

func (s *Store) statusLocked(name string) (CameraStatus, bool) {
	rec, ok := s.health[name]
	if !ok {
		return CameraStatus{}, false
	}
	health := copyRecord(rec)
	return CameraStatus{
		Name:       name,
		Motion:     s.motion[name],
		Health:     health,
		LastMotion: health.LastMotion,
	}, true
}

// copyRecord detaches the time pointers so callers cannot reach shared state
func copyRecord(rec *HealthRecord) HealthRecord {
	out := *rec
	if rec.LastCheck != nil {
		t := *rec.LastCheck
		out.LastCheck = &t
	}
	if rec.LastMotion != nil {
		t := *rec.LastMotion
		out.LastMotion = &t
	}
	return out
}
