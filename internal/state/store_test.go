package state

import (
	"sync"
	"testing"
	"time"
)

func TestNewStore(t *testing.T) {
	s := NewStore([]string{"FrontDoor", "Garage", "FrontDoor"})

	if s.Len() != 2 {
		t.Fatalf("Expected 2 cameras, got %d", s.Len())
	}

	for _, name := range []string{"FrontDoor", "Garage"} {
		motion, ok := s.Motion(name)
		if !ok {
			t.Fatalf("Expected camera %s to be tracked", name)
		}
		if motion {
			t.Errorf("Expected initial motion false for %s", name)
		}
		h, _ := s.Health(name)
		if h.Online || h.UptimeSeconds != 0 || h.LastCheck != nil || h.LastMotion != nil {
			t.Errorf("Unexpected initial health for %s: %+v", name, h)
		}
	}
}

func TestSetMotionReturnsPrevious(t *testing.T) {
	s := NewStore([]string{"cam"})

	prev, ok := s.SetMotion("cam", true)
	if !ok || prev {
		t.Errorf("Expected prev=false ok=true, got prev=%v ok=%v", prev, ok)
	}

	prev, _ = s.SetMotion("cam", true)
	if !prev {
		t.Error("Expected prev=true on second set")
	}

	prev, _ = s.SetMotion("cam", false)
	if !prev {
		t.Error("Expected prev=true when clearing")
	}
	if m, _ := s.Motion("cam"); m {
		t.Error("Expected motion false after clearing")
	}
}

func TestUnknownCamerasIgnored(t *testing.T) {
	s := NewStore([]string{"cam"})
	now := time.Now()

	if _, ok := s.SetMotion("ghost", true); ok {
		t.Error("Expected SetMotion to reject unknown camera")
	}
	s.TouchMotion("ghost", now)
	if _, ok := s.RecordOnline("ghost", now, time.Second); ok {
		t.Error("Expected RecordOnline to reject unknown camera")
	}
	if _, ok := s.RecordOffline("ghost"); ok {
		t.Error("Expected RecordOffline to reject unknown camera")
	}

	if s.Has("ghost") {
		t.Error("Unknown camera must not be tracked")
	}
	if _, ok := s.Status("ghost"); ok {
		t.Error("Expected Status to miss unknown camera")
	}
	for _, st := range s.Statuses() {
		if st.Name == "ghost" {
			t.Error("Unknown camera appeared in Statuses")
		}
	}
}

func TestUptimeSequence(t *testing.T) {
	s := NewStore([]string{"cam"})
	interval := 10 * time.Second
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	steps := []struct {
		online bool
		want   float64
	}{
		{true, 10},
		{true, 20},
		{false, 0},
		{true, 10},
	}

	for i, step := range steps {
		at := base.Add(time.Duration(i) * interval)
		var rec HealthRecord
		if step.online {
			rec, _ = s.RecordOnline("cam", at, interval)
		} else {
			rec, _ = s.RecordOffline("cam")
		}
		if rec.UptimeSeconds != step.want {
			t.Errorf("Step %d: expected uptime %v, got %v", i, step.want, rec.UptimeSeconds)
		}
		if rec.Online != step.online {
			t.Errorf("Step %d: expected online=%v", i, step.online)
		}
	}
}

func TestLastCheckKeptOnOffline(t *testing.T) {
	s := NewStore([]string{"cam"})
	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	s.RecordOnline("cam", at, time.Second)
	rec, _ := s.RecordOffline("cam")

	if rec.LastCheck == nil || !rec.LastCheck.Equal(at) {
		t.Errorf("Expected last_check %v to survive offline reading, got %v", at, rec.LastCheck)
	}
}

func TestReadersGetCopies(t *testing.T) {
	s := NewStore([]string{"cam"})
	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s.RecordOnline("cam", at, time.Second)
	s.TouchMotion("cam", at)

	h, _ := s.Health("cam")
	h.Online = false
	*h.LastCheck = at.Add(time.Hour)

	st, _ := s.Status("cam")
	*st.LastMotion = at.Add(time.Hour)

	fresh, _ := s.Health("cam")
	if !fresh.Online {
		t.Error("Mutating a copy changed the stored record")
	}
	if !fresh.LastCheck.Equal(at) {
		t.Errorf("Mutating a copied last_check leaked into the store: %v", fresh.LastCheck)
	}
	if !fresh.LastMotion.Equal(at) {
		t.Errorf("Mutating a copied last_motion leaked into the store: %v", fresh.LastMotion)
	}
}

func TestStatusesOrderAndOnlineCount(t *testing.T) {
	names := []string{"c", "a", "b"}
	s := NewStore(names)
	now := time.Now()

	s.RecordOnline("a", now, time.Second)
	s.RecordOnline("b", now, time.Second)
	s.SetMotion("b", true)

	statuses := s.Statuses()
	if len(statuses) != 3 {
		t.Fatalf("Expected 3 statuses, got %d", len(statuses))
	}
	for i, st := range statuses {
		if st.Name != names[i] {
			t.Errorf("Expected status %d to be %s, got %s", i, names[i], st.Name)
		}
	}
	if !statuses[2].Motion {
		t.Error("Expected motion on camera b")
	}
	if s.OnlineCount() != 2 {
		t.Errorf("Expected 2 online, got %d", s.OnlineCount())
	}
}

func TestConcurrentAccess(t *testing.T) {
	s := NewStore([]string{"cam"})
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func(i int) {
			defer wg.Done()
			s.SetMotion("cam", i%2 == 0)
			s.TouchMotion("cam", time.Now())
		}(i)
		go func() {
			defer wg.Done()
			s.RecordOnline("cam", time.Now(), time.Second)
		}()
		go func() {
			defer wg.Done()
			_ = s.Statuses()
			_ = s.OnlineCount()
		}()
	}
	wg.Wait()

	h, _ := s.Health("cam")
	if h.UptimeSeconds != 50 {
		t.Errorf("Expected uptime 50 after 50 online readings, got %v", h.UptimeSeconds)
	}
}
