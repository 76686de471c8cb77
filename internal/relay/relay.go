// Package relay forwards one camera's MJPEG stream to one viewer, resized and
// re-encoded, reconnecting to the camera when frames stop arriving
package relay

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/image/draw"
)

// Boundary separates frames in the relayed multipart stream
const Boundary = "frame"

// ContentType is the response content type of a relayed stream
const ContentType = "multipart/x-mixed-replace; boundary=" + Boundary

// State is the connection state of a relay
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// FrameReader yields decoded frames from an open upstream
type FrameReader interface {
	ReadFrame() (image.Image, error)
	Close() error
}

// Source opens upstream connections
type Source interface {
	Open(ctx context.Context) (FrameReader, error)
}

// SourceFunc adapts a function to Source
type SourceFunc func(ctx context.Context) (FrameReader, error)

// Open calls f(ctx)
func (f SourceFunc) Open(ctx context.Context) (FrameReader, error) { return f(ctx) }

// Options controls output size, quality and reconnect behaviour
type Options struct {
	Width   int
	Height  int
	Quality int
	// MaxRetries is the number of consecutive failed reads that triggers a reconnect
	MaxRetries int
	Backoff    time.Duration
}

// DefaultOptions returns 640x480 at quality 85, reconnecting after 3 failed reads
func DefaultOptions() Options {
	return Options{
		Width:      640,
		Height:     480,
		Quality:    85,
		MaxRetries: 3,
		Backoff:    time.Second,
	}
}

// Stats is a snapshot of a relay's counters
type Stats struct {
	State      string `json:"state"`
	Retries    int    `json:"retries"`
	Reconnects int    `json:"reconnects"`
	FramesSent int64  `json:"frames_sent"`
	Dropped    int64  `json:"frames_dropped"`
}

// Relay serves one viewer from one camera
type Relay struct {
	camera string
	source Source
	opts   Options
	logger *slog.Logger

	mu         sync.Mutex
	state      State
	retries    int
	reconnects int
	frames     int64
	dropped    int64
}

// New creates a relay. Zero option fields take their defaults.
func New(camera string, source Source, opts Options) *Relay {
	def := DefaultOptions()
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = def.Width, def.Height
	}
	if opts.Quality < 1 || opts.Quality > 100 {
		opts.Quality = def.Quality
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = def.MaxRetries
	}
	if opts.Backoff <= 0 {
		opts.Backoff = def.Backoff
	}
	return &Relay{
		camera: camera,
		source: source,
		opts:   opts,
		logger: slog.Default().With("component", "stream-relay", "camera", camera),
		state:  StateDisconnected,
	}
}

// Stats returns the current counters
func (r *Relay) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		State:      r.state.String(),
		Retries:    r.retries,
		Reconnects: r.reconnects,
		FramesSent: r.frames,
		Dropped:    r.dropped,
	}
}

// State returns the current connection state
func (r *Relay) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Relay) setState(s State) {
	r.mu.Lock()
	prev := r.state
	r.state = s
	r.mu.Unlock()
	if prev != s {
		r.logger.Debug("Relay state changed", "from", prev.String(), "to", s.String())
	}
}

// Run streams frames to w until writing fails or ctx is done. The upstream
// is always released before returning. The error is ctx.Err() on
// cancellation and the write error when the viewer went away.
func (r *Relay) Run(ctx context.Context, w io.Writer) error {
	var reader FrameReader
	defer func() {
		if reader != nil {
			_ = reader.Close()
		}
		r.setState(StateDisconnected)
	}()

	var buf bytes.Buffer
	r.setState(StateConnecting)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if reader == nil {
			rd, err := r.source.Open(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.logger.Warn("Failed to connect to camera stream", "error", err)
				if !sleep(ctx, r.opts.Backoff) {
					return ctx.Err()
				}
				continue
			}
			reader = rd
			r.mu.Lock()
			r.retries = 0
			r.mu.Unlock()
			r.setState(StateStreaming)
			r.logger.Info("Connected to camera stream")
			continue
		}

		img, err := reader.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if r.failedRead() {
				r.logger.Warn("Camera stream lost, reconnecting", "error", err, "retries", r.opts.MaxRetries)
				_ = reader.Close()
				reader = nil
				r.setState(StateDisconnected)
				if !sleep(ctx, r.opts.Backoff) {
					return ctx.Err()
				}
				r.setState(StateConnecting)
			}
			continue
		}

		r.mu.Lock()
		r.retries = 0
		r.mu.Unlock()

		buf.Reset()
		if err := r.encode(&buf, img); err != nil {
			r.mu.Lock()
			r.dropped++
			r.mu.Unlock()
			continue
		}

		if err := WriteFrame(w, buf.Bytes()); err != nil {
			r.logger.Info("Viewer disconnected", "error", err)
			return err
		}

		r.mu.Lock()
		r.frames++
		r.mu.Unlock()
	}
}

// failedRead counts a failed read and reports whether the ceiling was reached
func (r *Relay) failedRead() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries++
	if r.retries < r.opts.MaxRetries {
		return false
	}
	r.retries = 0
	r.reconnects++
	return true
}

// encode resizes img to the output size when needed and writes it as JPEG
func (r *Relay) encode(buf *bytes.Buffer, img image.Image) error {
	if img == nil {
		return fmt.Errorf("nil frame")
	}
	out := Resize(img, r.opts.Width, r.opts.Height)
	return jpeg.Encode(buf, out, &jpeg.Options{Quality: r.opts.Quality})
}

// Resize scales img to width x height with bilinear interpolation. Images
// already at that size are returned unchanged.
func Resize(img image.Image, width, height int) image.Image {
	b := img.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// WriteFrame writes one multipart segment and flushes it to the viewer
func WriteFrame(w io.Writer, jpegData []byte) error {
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\n\r\n", Boundary); err != nil {
		return err
	}
	if _, err := w.Write(jpegData); err != nil {
		return err
	}
	if _, err := io.WriteString(w, "\r\n"); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
