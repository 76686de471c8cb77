// Package motion polls cameras for motion and captures a snapshot on motion onset
package motion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Spatial-NVR/cctv-hub/internal/recording"
	"github.com/Spatial-NVR/cctv-hub/internal/state"
)

// DefaultErrorBackoff is the pause after a poll cycle fails unexpectedly
const DefaultErrorBackoff = 5 * time.Second

// Source is a camera that reports motion and serves snapshots
type Source interface {
	Name() string
	Motion(ctx context.Context) (bool, error)
	Snapshot(ctx context.Context) ([]byte, error)
}

// Saver persists a snapshot
type Saver interface {
	Save(ctx context.Context, camera string, data []byte, at time.Time) (*recording.Snapshot, error)
}

// Change describes a motion flag flipping. SnapshotPath is set on onsets
// that captured a snapshot.
type Change struct {
	Camera       string
	Active       bool
	At           time.Time
	SnapshotPath string
}

// Listener is told about motion flag changes
type Listener interface {
	MotionChanged(change Change)
}

// ListenerFunc adapts a function to Listener
type ListenerFunc func(Change)

// MotionChanged calls f(change)
func (f ListenerFunc) MotionChanged(change Change) { f(change) }

// Poller runs the motion poll loop
type Poller struct {
	store        *state.Store
	sources      []Source
	interval     func() time.Duration
	snapshots    func() bool
	saver        Saver
	listener     Listener
	errorBackoff time.Duration
	now          func() time.Time
	logger       *slog.Logger
}

// Option configures a Poller
type Option func(*Poller)

// WithSnapshots enables snapshot capture on motion onset. enabled is read
// on every onset so reloaded settings apply at once.
func WithSnapshots(saver Saver, enabled func() bool) Option {
	return func(p *Poller) {
		p.saver = saver
		p.snapshots = enabled
	}
}

// WithListener sets the listener for motion changes
func WithListener(l Listener) Option {
	return func(p *Poller) { p.listener = l }
}

// WithErrorBackoff overrides the pause after a failed cycle
func WithErrorBackoff(d time.Duration) Option {
	return func(p *Poller) { p.errorBackoff = d }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(p *Poller) { p.now = now }
}

// NewPoller creates a poller over sources. interval is read every cycle.
func NewPoller(store *state.Store, sources []Source, interval func() time.Duration, opts ...Option) *Poller {
	p := &Poller{
		store:        store,
		sources:      sources,
		interval:     interval,
		snapshots:    func() bool { return false },
		errorBackoff: DefaultErrorBackoff,
		now:          time.Now,
		logger:       slog.Default().With("component", "motion-poller"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run polls every camera each interval until ctx is done
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("Motion poller started", "cameras", len(p.sources), "interval", p.interval())
	defer p.logger.Info("Motion poller stopped")

	for {
		wait := p.interval()
		if err := p.PollOnce(ctx); err != nil {
			p.logger.Error("Motion poll cycle failed", "error", err)
			wait = p.errorBackoff
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

// PollOnce polls every camera once, in order
func (p *Poller) PollOnce(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during motion poll: %v", r)
		}
	}()

	for _, src := range p.sources {
		if ctx.Err() != nil {
			return nil
		}
		p.poll(ctx, src)
	}
	return nil
}

func (p *Poller) poll(ctx context.Context, src Source) {
	name := src.Name()
	if !p.store.Has(name) {
		return
	}

	active, err := src.Motion(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.logger.Warn("Motion poll failed", "camera", name, "error", err)
		// An unanswered poll counts as no motion
		active = false
	}

	at := p.now()
	prev, _ := p.store.SetMotion(name, active)
	if active {
		p.store.TouchMotion(name, at)
	}

	if active == prev {
		return
	}

	change := Change{Camera: name, Active: active, At: at}
	if active {
		p.logger.Info("Motion detected", "camera", name)
		change.SnapshotPath = p.capture(ctx, src, at)
	} else {
		p.logger.Debug("Motion cleared", "camera", name)
	}

	if p.listener != nil {
		p.listener.MotionChanged(change)
	}
}

// capture stores a snapshot for a motion onset and returns its path, or ""
// when snapshots are off or the capture failed
func (p *Poller) capture(ctx context.Context, src Source, at time.Time) string {
	if p.saver == nil || !p.snapshots() {
		return ""
	}

	data, err := src.Snapshot(ctx)
	if err != nil {
		p.logger.Warn("Failed to fetch snapshot", "camera", src.Name(), "error", err)
		return ""
	}

	snap, err := p.saver.Save(ctx, src.Name(), data, at)
	if err != nil {
		p.logger.Error("Failed to save snapshot", "camera", src.Name(), "error", err)
		return ""
	}
	return snap.FilePath
}
