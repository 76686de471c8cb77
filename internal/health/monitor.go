// Package health periodically probes every camera and keeps its reachability record
package health

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Spatial-NVR/cctv-hub/internal/state"
)

// DefaultErrorBackoff is the pause after a check cycle fails unexpectedly
const DefaultErrorBackoff = 10 * time.Second

// Prober checks whether one camera is reachable
type Prober interface {
	Name() string
	Probe(ctx context.Context) error
}

// Change describes a camera going online or offline
type Change struct {
	Camera        string
	Online        bool
	At            time.Time
	UptimeSeconds float64
}

// Listener is told about reachability changes
type Listener interface {
	HealthChanged(change Change)
}

// ListenerFunc adapts a function to Listener
type ListenerFunc func(Change)

// HealthChanged calls f(change)
func (f ListenerFunc) HealthChanged(change Change) { f(change) }

// Monitor runs the health check loop
type Monitor struct {
	store        *state.Store
	probers      []Prober
	interval     func() time.Duration
	errorBackoff time.Duration
	listener     Listener
	now          func() time.Time
	logger       *slog.Logger
}

// Option configures a Monitor
type Option func(*Monitor)

// WithListener sets the listener for online/offline changes
func WithListener(l Listener) Option {
	return func(m *Monitor) { m.listener = l }
}

// WithErrorBackoff overrides the pause after a failed cycle
func WithErrorBackoff(d time.Duration) Option {
	return func(m *Monitor) { m.errorBackoff = d }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// NewMonitor creates a monitor over probers. interval is read every cycle.
func NewMonitor(store *state.Store, probers []Prober, interval func() time.Duration, opts ...Option) *Monitor {
	m := &Monitor{
		store:        store,
		probers:      probers,
		interval:     interval,
		errorBackoff: DefaultErrorBackoff,
		now:          time.Now,
		logger:       slog.Default().With("component", "health-monitor"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run checks every camera each interval until ctx is done
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info("Health monitor started", "cameras", len(m.probers), "interval", m.interval())
	defer m.logger.Info("Health monitor stopped")

	for {
		wait := m.interval()
		if err := m.CheckOnce(ctx); err != nil {
			m.logger.Error("Health check cycle failed", "error", err)
			wait = m.errorBackoff
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// CheckOnce probes every camera once. A failing camera never stops the
// cycle; the returned error reports a cycle that could not complete.
func (m *Monitor) CheckOnce(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during health check: %v", r)
		}
	}()

	interval := m.interval()
	for _, p := range m.probers {
		if ctx.Err() != nil {
			return nil
		}
		m.check(ctx, p, interval)
	}
	return nil
}

func (m *Monitor) check(ctx context.Context, p Prober, interval time.Duration) {
	name := p.Name()
	before, ok := m.store.Health(name)
	if !ok {
		return
	}

	probeErr := p.Probe(ctx)
	if probeErr != nil && ctx.Err() != nil {
		// Shutting down; not a real reading
		return
	}

	at := m.now()
	var rec state.HealthRecord
	if probeErr == nil {
		rec, _ = m.store.RecordOnline(name, at, interval)
	} else {
		m.logger.Debug("Camera probe failed", "camera", name, "error", probeErr)
		rec, _ = m.store.RecordOffline(name)
	}

	if rec.Online == before.Online {
		return
	}

	if rec.Online {
		m.logger.Info("Camera online", "camera", name)
	} else {
		m.logger.Warn("Camera offline", "camera", name, "error", probeErr)
	}

	if m.listener != nil {
		m.listener.HealthChanged(Change{
			Camera:        name,
			Online:        rec.Online,
			At:            at,
			UptimeSeconds: rec.UptimeSeconds,
		})
	}
}
