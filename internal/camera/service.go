// Package camera provides access to the camera devices known to the hub
package camera

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/Spatial-NVR/cctv-hub/internal/config"
)

// Info describes a camera for listings
type Info struct {
	Name    string `json:"name"`
	Address string `json:"ip"`
}

// Service holds one client per enabled camera, in configuration order.
// The set is fixed for the life of the process.
type Service struct {
	clients []*Client
	byName  map[string]*Client
	logger  *slog.Logger
}

// Option configures a Service
type Option func(*serviceOptions)

type serviceOptions struct {
	httpClient *http.Client
	timeout    func() time.Duration
}

// WithHTTPClient sets the HTTP client used for every camera request
func WithHTTPClient(c *http.Client) Option {
	return func(o *serviceOptions) { o.httpClient = c }
}

// WithTimeout sets the source of the per-request timeout. It is consulted on
// every request so reloaded settings take effect immediately.
func WithTimeout(fn func() time.Duration) Option {
	return func(o *serviceOptions) { o.timeout = fn }
}

// NewService creates clients for the enabled cameras in cameras
func NewService(cameras []config.CameraConfig, opts ...Option) *Service {
	var o serviceOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		// No client-level timeout: streams are long lived and every call
		// carries its own deadline.
		o.httpClient = &http.Client{}
	}

	s := &Service{
		byName: make(map[string]*Client, len(cameras)),
		logger: slog.Default().With("component", "camera-service"),
	}

	for _, cam := range cameras {
		if !cam.IsEnabled() {
			s.logger.Debug("Skipping disabled camera", "camera", cam.Name)
			continue
		}
		if _, dup := s.byName[cam.Name]; dup {
			s.logger.Warn("Ignoring duplicate camera", "camera", cam.Name)
			continue
		}
		c := NewClient(cam, o.httpClient, o.timeout)
		s.clients = append(s.clients, c)
		s.byName[cam.Name] = c
	}

	s.logger.Info("Cameras registered", "count", len(s.clients))
	return s
}

// Get returns the client of an enabled camera
func (s *Service) Get(name string) (*Client, bool) {
	c, ok := s.byName[name]
	return c, ok
}

// Clients returns the clients in configuration order
func (s *Service) Clients() []*Client {
	return append([]*Client(nil), s.clients...)
}

// Names returns the enabled camera names in configuration order
func (s *Service) Names() []string {
	names := make([]string, len(s.clients))
	for i, c := range s.clients {
		names[i] = c.Name()
	}
	return names
}

// List returns the name and address of every enabled camera
func (s *Service) List() []Info {
	out := make([]Info, len(s.clients))
	for i, c := range s.clients {
		out[i] = Info{Name: c.Name(), Address: c.Address()}
	}
	return out
}

// Count returns the number of enabled cameras
func (s *Service) Count() int {
	return len(s.clients)
}
