package camera

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"mime"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-mjpeg"

	"github.com/Spatial-NVR/cctv-hub/internal/config"
)

// ErrUnexpectedStatus is returned when a camera answers with a non-success status
var ErrUnexpectedStatus = errors.New("unexpected camera response status")

// ErrFrameTimeout is returned when no frame arrives within the frame timeout
var ErrFrameTimeout = errors.New("timed out waiting for frame")

// maxSnapshotSize bounds the size of a single snapshot download
const maxSnapshotSize = 10 * 1024 * 1024

// Client talks to the HTTP endpoints of one camera device
type Client struct {
	name    string
	address string
	baseURL string
	http    *http.Client
	timeout func() time.Duration
}

// NewClient creates a client for cam. A nil timeout func means 2 seconds.
func NewClient(cam config.CameraConfig, httpClient *http.Client, timeout func() time.Duration) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if timeout == nil {
		timeout = func() time.Duration { return 2 * time.Second }
	}
	return &Client{
		name:    cam.Name,
		address: cam.Address,
		baseURL: BaseURL(cam.Address),
		http:    httpClient,
		timeout: timeout,
	}
}

// BaseURL turns a configured address into the device root URL. Bare hosts get
// the default device port; addresses that already carry a scheme are kept.
func BaseURL(addr string) string {
	addr = strings.TrimRight(strings.TrimSpace(addr), "/")
	if strings.Contains(addr, "://") {
		return addr
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(strings.Trim(addr, "[]"), strconv.Itoa(config.DefaultCameraPort))
	}
	return "http://" + addr
}

// Name returns the camera name
func (c *Client) Name() string { return c.name }

// Address returns the configured camera address
func (c *Client) Address() string { return c.address }

// StreamURL returns the MJPEG stream endpoint
func (c *Client) StreamURL() string { return c.baseURL + "/stream" }

// MotionURL returns the motion status endpoint
func (c *Client) MotionURL() string { return c.baseURL + "/motion" }

// SnapshotURL returns the single frame endpoint
func (c *Client) SnapshotURL() string { return c.baseURL + "/snapshot" }

// Timeout returns the current per-request timeout
func (c *Client) Timeout() time.Duration { return c.timeout() }

// Probe checks that the stream endpoint answers 200. The body is never read.
func (c *Client) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	resp, err := c.get(ctx, c.StreamURL())
	if err != nil {
		return err
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)
	}
	return nil
}

type motionResponse struct {
	Motion bool `json:"motion"`
}

// Motion asks the camera whether it currently detects motion. A response
// without the motion field reads as no motion.
func (c *Client) Motion(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	resp, err := c.get(ctx, c.MotionURL())
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)
	}

	var body motionResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&body); err != nil {
		return false, fmt.Errorf("failed to decode motion response: %w", err)
	}
	return body.Motion, nil
}

// Snapshot downloads a single JPEG frame
func (c *Client) Snapshot(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	resp, err := c.get(ctx, c.SnapshotURL())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return data, nil
}

// OpenStream connects to the MJPEG stream. Connecting and every later frame
// read are each bounded by frameTimeout; the stream lives until Close or ctx
// is done.
func (c *Client) OpenStream(ctx context.Context, frameTimeout time.Duration) (*Stream, error) {
	if frameTimeout <= 0 {
		frameTimeout = c.timeout()
	}
	streamCtx, cancel := context.WithCancel(ctx)

	timer := time.AfterFunc(frameTimeout, cancel)
	resp, err := c.get(streamCtx, c.StreamURL())
	timer.Stop()
	if err != nil {
		cancel()
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)
	}

	boundary, err := multipartBoundary(resp.Header.Get("Content-Type"))
	if err != nil {
		resp.Body.Close()
		cancel()
		return nil, err
	}

	return &Stream{
		body:         resp.Body,
		dec:          mjpeg.NewDecoder(resp.Body, boundary),
		cancel:       cancel,
		frameTimeout: frameTimeout,
	}, nil
}

func (c *Client) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.http.Do(req)
}

func multipartBoundary(contentType string) (string, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", fmt.Errorf("invalid stream content type %q: %w", contentType, err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return "", fmt.Errorf("stream is not multipart: %s", mediaType)
	}
	boundary := strings.TrimPrefix(params["boundary"], "--")
	if boundary == "" {
		return "", errors.New("stream content type has no boundary")
	}
	return boundary, nil
}

// Stream is an open upstream MJPEG connection
type Stream struct {
	body         io.ReadCloser
	dec          *mjpeg.Decoder
	cancel       context.CancelFunc
	frameTimeout time.Duration
}

// ReadFrame decodes the next frame. A timeout tears the connection down, so
// later reads fail until the stream is reopened.
func (s *Stream) ReadFrame() (image.Image, error) {
	expired := make(chan struct{})
	timer := time.AfterFunc(s.frameTimeout, func() {
		close(expired)
		s.cancel()
	})
	img, err := s.dec.Decode()
	if !timer.Stop() {
		<-expired
		return nil, ErrFrameTimeout
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	return img, nil
}

// Close releases the upstream connection
func (s *Stream) Close() error {
	s.cancel()
	return s.body.Close()
}
