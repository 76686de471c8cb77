package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/Spatial-NVR/cctv-hub/internal/camera"
	"github.com/Spatial-NVR/cctv-hub/internal/config"
	"github.com/Spatial-NVR/cctv-hub/internal/database"
	"github.com/Spatial-NVR/cctv-hub/internal/events"
	"github.com/Spatial-NVR/cctv-hub/internal/logging"
	"github.com/Spatial-NVR/cctv-hub/internal/recording"
	"github.com/Spatial-NVR/cctv-hub/internal/state"
)

// BusChecker is the event bus as seen by the hub health endpoint
type BusChecker interface {
	HealthCheck(ctx context.Context) error
	ClientURL() string
}

// Deps are the services the API reads from. Snapshots, Events, Hub and Logs
// are optional; their routes answer 503 when unset. Database and Bus only
// add sections to GET /api/health.
type Deps struct {
	Config    *config.Config
	Cameras   *camera.Service
	State     *state.Store
	Snapshots *recording.Store
	Events    *events.Service
	Hub       *Hub
	Logs      *logging.RingBuffer
	Database  *database.DB
	Bus       BusChecker
	Version   string
}

// Server serves the hub's HTTP API
type Server struct {
	config    *config.Config
	cameras   *camera.Service
	state     *state.Store
	snapshots *recording.Store
	events    *events.Service
	hub       *Hub
	logs      *logging.RingBuffer
	db        *database.DB
	bus       BusChecker
	version   string
	logger    *slog.Logger
}

// NewServer creates an API server
func NewServer(d Deps) *Server {
	version := d.Version
	if version == "" {
		version = "dev"
	}
	return &Server{
		config:    d.Config,
		cameras:   d.Cameras,
		state:     d.State,
		snapshots: d.Snapshots,
		events:    d.Events,
		hub:       d.Hub,
		logs:      d.Logs,
		db:        d.Database,
		bus:       d.Bus,
		version:   version,
		logger:    slog.Default().With("component", "api"),
	}
}

// Route describes one registered route
type Route struct {
	Method string
	Path   string
}

// Router builds the HTTP handler. There is no timeout middleware: relayed
// streams run for as long as the viewer stays connected.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  slog.NewLogLogger(s.logger.Handler(), slog.LevelDebug),
		NoColor: true,
	}))
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleLiveness)
	r.Get("/status/{name}", s.handleStatus)
	r.Get("/stream/{name}", s.handleStream)
	r.Get("/recordings/{file}", s.handleSnapshotFile)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHubHealth)

		r.Get("/cameras", s.handleListCameras)
		r.Get("/cameras/{name}", s.handleGetCamera)

		r.Get("/recordings", s.handleListSnapshots)

		r.Get("/events", s.handleListEvents)
		r.Get("/events/stats", s.handleEventStats)
		r.Get("/events/{id}", s.handleGetEvent)

		r.Get("/logs", s.handleRecentLogs)
		r.Get("/logs/stream", s.handleLogStream)

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// Routes lists the routes of router, for the startup banner
func Routes(router chi.Routes) []Route {
	var routes []Route
	_ = chi.Walk(router, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		routes = append(routes, Route{Method: method, Path: route})
		return nil
	})
	return routes
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		ServiceUnavailable(w, "Live feed not available")
		return
	}
	s.hub.HandleWebSocket(w, r)
}
