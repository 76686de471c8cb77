package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/Spatial-NVR/cctv-hub/internal/api"
	"github.com/Spatial-NVR/cctv-hub/internal/camera"
	"github.com/Spatial-NVR/cctv-hub/internal/config"
	"github.com/Spatial-NVR/cctv-hub/internal/core"
	"github.com/Spatial-NVR/cctv-hub/internal/database"
	"github.com/Spatial-NVR/cctv-hub/internal/events"
	"github.com/Spatial-NVR/cctv-hub/internal/health"
	"github.com/Spatial-NVR/cctv-hub/internal/logging"
	"github.com/Spatial-NVR/cctv-hub/internal/motion"
	"github.com/Spatial-NVR/cctv-hub/internal/recording"
	"github.com/Spatial-NVR/cctv-hub/internal/state"
)

const version = "1.0.0"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := getEnv("CCTV_CONFIG", "config.json")
	cfg, created, cfgErr := config.LoadOrCreate(configPath)
	if cfgErr != nil {
		cfg = config.Default()
		cfg.SetPath(configPath)
	}

	dataPath := getEnv("DATA_PATH", cfg.System.DataPath)
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		slog.Warn("Failed to create data directory", "path", dataPath, "error", err)
	}

	logFile := cfg.System.Logging.File
	if logFile != "" && !filepath.IsAbs(logFile) {
		logFile = filepath.Join(dataPath, logFile)
	}
	logger, err := logging.New(logging.Options{
		Level:  getEnv("LOG_LEVEL", cfg.System.Logging.Level),
		Format: cfg.System.Logging.Format,
		File:   logFile,
		Buffer: logging.GetLogBuffer(),
	})
	slog.SetDefault(logger.Logger)
	defer logger.Close()
	if err != nil {
		slog.Warn("Log file unavailable, logging to stdout only", "file", logFile, "error", err)
	}

	slog.Info("Starting CCTV hub", "version", version, "config", configPath)
	switch {
	case cfgErr != nil:
		slog.Error("Failed to load config, using defaults", "path", configPath, "error", cfgErr)
	case created:
		slog.Info("Wrote default config", "path", configPath)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfgErr == nil {
		if err := cfg.Watch(ctx); err != nil {
			slog.Warn("Config hot reload disabled", "error", err)
		}
	}
	cfg.OnChange(func(c *config.Config) {
		rt := c.Runtime()
		slog.Info("Runtime settings reloaded",
			"motion_interval", rt.Polling.MotionInterval.Duration(),
			"health_check_interval", rt.Polling.HealthCheckInterval.Duration(),
			"recording", rt.Recording.Enabled)
	})

	// Storage degrades to in-memory operation when the database cannot open
	db, err := database.OpenAndMigrate(ctx, database.DefaultConfig(dataPath))
	if err != nil {
		slog.Error("Database unavailable, event log disabled", "error", err)
		db = nil
	} else {
		defer db.Close()
	}

	var eventLog *events.Service
	var repo recording.Repository
	if db != nil {
		eventLog = events.NewService(db)
		repo = recording.NewSQLiteRepository(db.DB)
	}

	snapshots := recording.NewStore(cfg.Recording.RecordingsDir, repo)
	retention := recording.NewRetentionPolicy(snapshots, func() int {
		return cfg.Runtime().Recording.RetentionDays
	})
	retention.Start(ctx, time.Hour)
	defer retention.Stop()

	cameras := camera.NewService(cfg.EnabledCameras(), camera.WithTimeout(func() time.Duration {
		return cfg.Runtime().Polling.Timeout.Duration()
	}))
	store := state.NewStore(cameras.Names())
	for _, info := range cameras.List() {
		slog.Info("Camera configured", "camera", info.Name, "address", info.Address)
	}

	var bus *core.EventBus
	if !cfg.System.EventBus.Disabled {
		busCfg := core.DefaultEventBusConfig()
		if h := cfg.System.EventBus.Host; h != "" {
			busCfg.Host = h
		}
		if p := cfg.System.EventBus.Port; p != 0 {
			busCfg.Port = p
		}
		bus, err = core.NewEventBus(busCfg, slog.Default())
		if err != nil {
			slog.Error("Event bus unavailable", "error", err)
			bus = nil
		} else {
			defer bus.Stop()
		}
	}

	var wg sync.WaitGroup
	goLoop := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	hub := api.NewHub()
	goLoop(func() { hub.Run(ctx) })
	if eventLog != nil {
		ch := eventLog.Subscribe()
		defer eventLog.Unsubscribe(ch)
		goLoop(func() { hub.ForwardEvents(ctx, ch) })
	}

	notifyOpts := []core.NotifierOption{core.WithBroadcaster(hub)}
	if bus != nil {
		notifyOpts = append(notifyOpts, core.WithPublisher(bus))
	}
	if eventLog != nil {
		notifyOpts = append(notifyOpts, core.WithRecorder(eventLog))
	}
	notifier := core.NewNotifier(notifyOpts...)

	clients := cameras.Clients()
	sources := make([]motion.Source, 0, len(clients))
	probers := make([]health.Prober, 0, len(clients))
	for _, c := range clients {
		sources = append(sources, c)
		probers = append(probers, c)
	}

	poller := motion.NewPoller(store, sources,
		func() time.Duration { return cfg.Runtime().Polling.MotionInterval.Duration() },
		motion.WithSnapshots(snapshots, func() bool { return cfg.Runtime().Recording.SnapshotsEnabled() }),
		motion.WithListener(notifier),
	)
	monitor := health.NewMonitor(store, probers,
		func() time.Duration { return cfg.Runtime().Polling.HealthCheckInterval.Duration() },
		health.WithListener(notifier),
	)
	goLoop(func() { poller.Run(ctx) })
	goLoop(func() { monitor.Run(ctx) })

	deps := api.Deps{
		Config:    cfg,
		Cameras:   cameras,
		State:     store,
		Snapshots: snapshots,
		Events:    eventLog,
		Hub:       hub,
		Logs:      logger.Buffer,
		Database:  db,
		Version:   version,
	}
	if bus != nil {
		deps.Bus = bus
	}
	router := api.NewServer(deps).Router()

	addr := cfg.ServerAddress()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		slog.Error("Failed to bind listener", "addr", addr, "error", err)
		return 1
	}

	// Streams run until the viewer leaves, so there is no write timeout.
	// Request contexts derive from ctx so shutdown ends open relays.
	server := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	slog.Info("Server listening", "addr", ln.Addr().String(), "cameras", cameras.Count())
	for _, rt := range api.Routes(router) {
		slog.Info("Route registered", "method", rt.Method, "path", rt.Path)
	}
	if bus != nil {
		slog.Info("Event bus ready", "url", bus.ClientURL())
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigCh:
		slog.Info("Shutting down", "signal", sig.String())
	case err := <-serveErr:
		slog.Error("Server error", "error", err)
		exitCode = 1
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown error", "error", err)
	}

	wg.Wait()
	slog.Info("CCTV hub stopped")
	return exitCode
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
