// Package cameratest provides an in-process fake camera device for tests
package cameratest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/Spatial-NVR/cctv-hub/internal/config"
)

// Camera is a fake device serving /stream, /motion and /snapshot
type Camera struct {
	Server *httptest.Server

	mu             sync.Mutex
	motion         bool
	motionBody     string
	motionStatus   int
	streamStatus   int
	snapshotStatus int
	frame          []byte
	frameInterval  time.Duration
	framesPerConn  int
	hits           map[string]int
}

// New starts a fake camera producing width x height frames
func New(width, height int) *Camera {
	c := &Camera{
		motionStatus:   http.StatusOK,
		streamStatus:   http.StatusOK,
		snapshotStatus: http.StatusOK,
		frame:          JPEG(width, height),
		frameInterval:  5 * time.Millisecond,
		hits:           make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/stream", c.handleStream)
	mux.HandleFunc("/motion", c.handleMotion)
	mux.HandleFunc("/snapshot", c.handleSnapshot)
	c.Server = httptest.NewServer(mux)
	return c
}

// Close shuts the server down
func (c *Camera) Close() {
	c.Server.CloseClientConnections()
	c.Server.Close()
}

// Address returns the address to put in a camera config
func (c *Camera) Address() string {
	return c.Server.URL
}

// Config returns an enabled camera config pointing at this device
func (c *Camera) Config(name string) config.CameraConfig {
	return config.CameraConfig{Name: name, Address: c.Address(), Enabled: config.Bool(true)}
}

// SetMotion sets the value reported by /motion
func (c *Camera) SetMotion(active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.motion = active
	c.motionBody = ""
}

// SetMotionBody makes /motion answer with a raw body
func (c *Camera) SetMotionBody(body string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.motionBody = body
}

// SetMotionStatus sets the status code of /motion
func (c *Camera) SetMotionStatus(code int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.motionStatus = code
}

// SetStreamStatus sets the status code of /stream
func (c *Camera) SetStreamStatus(code int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streamStatus = code
}

// SetSnapshotStatus sets the status code of /snapshot
func (c *Camera) SetSnapshotStatus(code int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshotStatus = code
}

// SetFramesPerConnection ends each /stream response after n frames. Zero
// streams until the client goes away.
func (c *Camera) SetFramesPerConnection(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.framesPerConn = n
}

// Frame returns the JPEG served by /snapshot and /stream
func (c *Camera) Frame() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.frame...)
}

// Hits returns how many requests a path received
func (c *Camera) Hits(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits[path]
}

func (c *Camera) record(path string) {
	c.mu.Lock()
	c.hits[path]++
	c.mu.Unlock()
}

func (c *Camera) handleMotion(w http.ResponseWriter, r *http.Request) {
	c.record("/motion")

	c.mu.Lock()
	status, motion, body := c.motionStatus, c.motion, c.motionBody
	c.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != "" {
		_, _ = w.Write([]byte(body))
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]bool{"motion": motion})
}

func (c *Camera) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	c.record("/snapshot")

	c.mu.Lock()
	status, frame := c.snapshotStatus, c.frame
	c.mu.Unlock()

	if status != http.StatusOK {
		http.Error(w, "snapshot unavailable", status)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	_, _ = w.Write(frame)
}

func (c *Camera) handleStream(w http.ResponseWriter, r *http.Request) {
	c.record("/stream")

	c.mu.Lock()
	status, frame, interval, limit := c.streamStatus, c.frame, c.frameInterval, c.framesPerConn
	c.mu.Unlock()

	if status != http.StatusOK {
		http.Error(w, "stream unavailable", status)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	for sent := 0; limit == 0 || sent < limit; sent++ {
		if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(frame)); err != nil {
			return
		}
		if _, err := w.Write(frame); err != nil {
			return
		}
		if _, err := w.Write([]byte("\r\n")); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}

		select {
		case <-r.Context().Done():
			return
		case <-time.After(interval):
		}
	}
}

// JPEG encodes a solid test image of the given size
func JPEG(width, height int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
