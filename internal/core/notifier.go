package core

import (
	"context"
	"log/slog"
	"time"

	"github.com/Spatial-NVR/cctv-hub/internal/events"
	"github.com/Spatial-NVR/cctv-hub/internal/health"
	"github.com/Spatial-NVR/cctv-hub/internal/motion"
)

// Publisher sends camera changes to the event bus
type Publisher interface {
	PublishMotion(msg MotionMessage) error
	PublishHealth(msg HealthMessage) error
}

// Recorder writes camera changes to the event log
type Recorder interface {
	CreateMotionEvent(ctx context.Context, cameraID string, at time.Time, thumbnail string) (*events.Event, error)
	CreateStateEvent(ctx context.Context, cameraID string, online bool, at time.Time, uptime float64) (*events.Event, error)
}

// Broadcaster pushes camera changes to live clients
type Broadcaster interface {
	BroadcastMotion(msg MotionMessage)
	BroadcastHealth(msg HealthMessage)
}

// recordTimeout bounds one event log write
const recordTimeout = 5 * time.Second

// Notifier receives motion and health changes from the polling loops and
// forwards them to every configured sink. Sinks that are not set are skipped.
type Notifier struct {
	publisher   Publisher
	recorder    Recorder
	broadcaster Broadcaster
	logger      *slog.Logger
}

// NotifierOption configures a Notifier
type NotifierOption func(*Notifier)

// WithPublisher sets the event bus sink
func WithPublisher(p Publisher) NotifierOption {
	return func(n *Notifier) { n.publisher = p }
}

// WithRecorder sets the event log sink
func WithRecorder(r Recorder) NotifierOption {
	return func(n *Notifier) { n.recorder = r }
}

// WithBroadcaster sets the live client sink
func WithBroadcaster(b Broadcaster) NotifierOption {
	return func(n *Notifier) { n.broadcaster = b }
}

// NewNotifier creates a notifier
func NewNotifier(opts ...NotifierOption) *Notifier {
	n := &Notifier{logger: slog.Default().With("component", "notifier")}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

var (
	_ motion.Listener = (*Notifier)(nil)
	_ health.Listener = (*Notifier)(nil)
)

// MotionChanged implements motion.Listener. Only onsets are written to the
// event log; both directions are published and broadcast.
func (n *Notifier) MotionChanged(c motion.Change) {
	msg := MotionMessage{
		Camera:   c.Camera,
		Active:   c.Active,
		At:       c.At,
		Snapshot: c.SnapshotPath,
	}

	if n.publisher != nil {
		if err := n.publisher.PublishMotion(msg); err != nil {
			n.logger.Warn("Failed to publish motion change", "camera", c.Camera, "error", err)
		}
	}

	if n.recorder != nil && c.Active {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		if _, err := n.recorder.CreateMotionEvent(ctx, c.Camera, c.At, c.SnapshotPath); err != nil {
			n.logger.Error("Failed to record motion event", "camera", c.Camera, "error", err)
		}
		cancel()
	}

	if n.broadcaster != nil {
		n.broadcaster.BroadcastMotion(msg)
	}
}

// HealthChanged implements health.Listener
func (n *Notifier) HealthChanged(c health.Change) {
	msg := HealthMessage{
		Camera:        c.Camera,
		Online:        c.Online,
		At:            c.At,
		UptimeSeconds: c.UptimeSeconds,
	}

	if n.publisher != nil {
		if err := n.publisher.PublishHealth(msg); err != nil {
			n.logger.Warn("Failed to publish health change", "camera", c.Camera, "error", err)
		}
	}

	if n.recorder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		if _, err := n.recorder.CreateStateEvent(ctx, c.Camera, c.Online, c.At, c.UptimeSeconds); err != nil {
			n.logger.Error("Failed to record state event", "camera", c.Camera, "error", err)
		}
		cancel()
	}

	if n.broadcaster != nil {
		n.broadcaster.BroadcastHealth(msg)
	}
}
