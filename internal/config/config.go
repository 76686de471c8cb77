// Package config provides configuration management for the CCTV hub
package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// DefaultCameraPort is the port every camera device serves its endpoints on
const DefaultCameraPort = 8080

// Config represents the main hub configuration
type Config struct {
	Cameras   []CameraConfig  `yaml:"cameras" json:"cameras"`
	Recording RecordingConfig `yaml:"recording" json:"recording"`
	Server    ServerConfig    `yaml:"server" json:"server"`
	Polling   PollingConfig   `yaml:"polling" json:"polling"`
	Stream    StreamConfig    `yaml:"stream" json:"stream"`
	System    SystemConfig    `yaml:"system" json:"system"`

	// Internal fields
	mu       sync.RWMutex    `yaml:"-" json:"-"`
	path     string          `yaml:"-" json:"-"`
	watchers []func(*Config) `yaml:"-" json:"-"`
}

// CameraConfig holds configuration for a single camera device
type CameraConfig struct {
	Name    string `yaml:"name" json:"name"`
	Address string `yaml:"ip" json:"ip"`
	// Enabled defaults to true when omitted from the file
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// IsEnabled reports whether the camera takes part in polling and streaming
func (c CameraConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// RecordingConfig holds motion recording settings
type RecordingConfig struct {
	Enabled          bool   `yaml:"enabled" json:"enabled"`
	SnapshotOnMotion bool   `yaml:"snapshot_on_motion" json:"snapshot_on_motion"`
	RecordingsDir    string `yaml:"recordings_dir" json:"recordings_dir"`
	RetentionDays    int    `yaml:"retention_days,omitempty" json:"retention_days,omitempty"`
}

// SnapshotsEnabled reports whether a motion onset should capture a snapshot
func (r RecordingConfig) SnapshotsEnabled() bool {
	return r.Enabled && r.SnapshotOnMotion
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host  string `yaml:"host" json:"host"`
	Port  int    `yaml:"port" json:"port"`
	Debug bool   `yaml:"debug" json:"debug"`
}

// PollingConfig holds the loop intervals and the outbound request timeout
type PollingConfig struct {
	MotionInterval      Seconds `yaml:"motion_interval" json:"motion_interval"`
	HealthCheckInterval Seconds `yaml:"health_check_interval" json:"health_check_interval"`
	Timeout             Seconds `yaml:"timeout" json:"timeout"`
}

// StreamConfig holds the relay output settings
type StreamConfig struct {
	Width   int `yaml:"width" json:"width"`
	Height  int `yaml:"height" json:"height"`
	Quality int `yaml:"quality" json:"quality"`
}

// SystemConfig holds process-wide settings
type SystemConfig struct {
	DataPath string         `yaml:"data_path,omitempty" json:"data_path,omitempty"`
	Logging  LoggingConfig  `yaml:"logging,omitempty" json:"logging,omitempty"`
	EventBus EventBusConfig `yaml:"event_bus,omitempty" json:"event_bus,omitempty"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty" json:"level,omitempty"`
	Format string `yaml:"format,omitempty" json:"format,omitempty"` // json or text
	File   string `yaml:"file,omitempty" json:"file,omitempty"`
}

// EventBusConfig holds settings for the embedded NATS server
type EventBusConfig struct {
	Disabled bool   `yaml:"disabled,omitempty" json:"disabled,omitempty"`
	Host     string `yaml:"host,omitempty" json:"host,omitempty"`
	Port     int    `yaml:"port,omitempty" json:"port,omitempty"`
}

// Seconds is a duration written as a (possibly fractional) number of seconds
type Seconds float64

// Duration converts s to a time.Duration
func (s Seconds) Duration() time.Duration {
	return time.Duration(float64(s) * float64(time.Second))
}

// Runtime is the subset of the configuration that may change while running
type Runtime struct {
	Polling   PollingConfig
	Recording RecordingConfig
	Stream    StreamConfig
}

// Default returns the configuration used when no file exists
func Default() *Config {
	return &Config{
		Cameras: []CameraConfig{
			{Name: "FrontDoor", Address: "192.168.1.101", Enabled: Bool(true)},
			{Name: "Garage", Address: "192.168.1.102", Enabled: Bool(true)},
			{Name: "BackYard", Address: "192.168.1.103", Enabled: Bool(true)},
		},
		Recording: RecordingConfig{
			Enabled:          true,
			SnapshotOnMotion: true,
			RecordingsDir:    "recordings",
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Polling: PollingConfig{
			MotionInterval:      1.5,
			HealthCheckInterval: 10,
			Timeout:             2,
		},
		Stream: StreamConfig{
			Width:   640,
			Height:  480,
			Quality: 85,
		},
		System: SystemConfig{
			DataPath: "data",
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
				File:   "cctv_hub.log",
			},
			EventBus: EventBusConfig{
				Host: "127.0.0.1",
				Port: 4222,
			},
		},
	}
}

// Bool returns a pointer to b
func Bool(b bool) *bool {
	return &b
}

// Load loads configuration from a JSON or YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if isYAML(path) {
		err = yaml.Unmarshal(data, &cfg)
	} else {
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.path = path
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// LoadOrCreate loads path, writing the default configuration there first
// when the file does not exist. A failed write still returns the defaults.
func LoadOrCreate(path string) (*Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, false, fmt.Errorf("failed to stat config file: %w", err)
	}

	cfg := Default()
	cfg.SetPath(path)
	if err := cfg.Save(); err != nil {
		slog.Error("Could not save default config", "path", path, "error", err)
	}
	return cfg, true, nil
}

// Save saves the configuration to its file
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.saveUnlocked()
}

// saveUnlocked saves without acquiring lock (caller must hold lock)
func (c *Config) saveUnlocked() error {
	if c.path == "" {
		return errors.New("config path not set")
	}

	// Copy without the mutex for marshalling
	cfgCopy := &Config{
		Cameras:   c.Cameras,
		Recording: c.Recording,
		Server:    c.Server,
		Polling:   c.Polling,
		Stream:    c.Stream,
		System:    c.System,
	}

	var data []byte
	var err error
	if isYAML(c.path) {
		data, err = yaml.Marshal(cfgCopy)
		if err == nil {
			header := "# CCTV Hub Configuration\n# Auto-generated - manual edits are preserved\n\n"
			data = append([]byte(header), data...)
		}
	} else {
		data, err = json.MarshalIndent(cfgCopy, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if dir := filepath.Dir(c.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	// Atomic write
	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return os.Rename(tmpPath, c.path)
}

// Watch reloads the runtime settings whenever the file changes, until ctx is done
func (c *Config) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	path := c.GetPath()
	target := filepath.Clean(path)

	go func() {
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					time.Sleep(100 * time.Millisecond) // Debounce
					c.reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("Config watch error", "error", err)
			}
		}
	}()

	// Watch the directory so atomic renames are seen
	return watcher.Add(filepath.Dir(target))
}

// OnChange registers a callback for config changes
func (c *Config) OnChange(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchers = append(c.watchers, fn)
}

// reload re-reads the file. Cameras, server and system settings need a
// restart; only the runtime sections are applied.
func (c *Config) reload() {
	newCfg, err := Load(c.GetPath())
	if err != nil {
		slog.Error("Failed to reload config", "error", err)
		return
	}

	c.mu.Lock()
	if !sameCameras(c.Cameras, newCfg.Cameras) {
		slog.Warn("Camera list changed on disk; restart the hub to apply it")
	}
	c.Polling = newCfg.Polling
	c.Recording = newCfg.Recording
	c.Stream = newCfg.Stream
	watchers := c.watchers
	c.mu.Unlock()

	slog.Info("Configuration reloaded")

	for _, fn := range watchers {
		fn(c)
	}
}

// Runtime returns a copy of the settings that may change while running
func (c *Config) Runtime() Runtime {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Runtime{
		Polling:   c.Polling,
		Recording: c.Recording,
		Stream:    c.Stream,
	}
}

// EnabledCameras returns the enabled cameras in file order
func (c *Config) EnabledCameras() []CameraConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cameras := make([]CameraConfig, 0, len(c.Cameras))
	for _, cam := range c.Cameras {
		if cam.IsEnabled() {
			cameras = append(cameras, cam)
		}
	}
	return cameras
}

// GetCamera returns a camera by name
func (c *Config) GetCamera(name string) (CameraConfig, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, cam := range c.Cameras {
		if cam.Name == name {
			return cam, true
		}
	}
	return CameraConfig{}, false
}

// SetPath sets the path for the config file (used for saving)
func (c *Config) SetPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = path
}

// GetPath returns the current config file path
func (c *Config) GetPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.path
}

// ServerAddress returns the listen address
func (c *Config) ServerAddress() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Validate checks the configuration for values the hub cannot run with
func (c *Config) Validate() error {
	var errs []error

	seen := make(map[string]bool, len(c.Cameras))
	for i, cam := range c.Cameras {
		if strings.TrimSpace(cam.Name) == "" {
			errs = append(errs, fmt.Errorf("cameras[%d]: name is required", i))
			continue
		}
		if seen[cam.Name] {
			errs = append(errs, fmt.Errorf("cameras[%d]: duplicate name %q", i, cam.Name))
		}
		seen[cam.Name] = true
		if cam.IsEnabled() && strings.TrimSpace(cam.Address) == "" {
			errs = append(errs, fmt.Errorf("camera %q: ip is required", cam.Name))
		}
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server port: %d", c.Server.Port))
	}
	if c.Polling.MotionInterval <= 0 {
		errs = append(errs, errors.New("polling.motion_interval must be positive"))
	}
	if c.Polling.HealthCheckInterval <= 0 {
		errs = append(errs, errors.New("polling.health_check_interval must be positive"))
	}
	if c.Polling.Timeout <= 0 {
		errs = append(errs, errors.New("polling.timeout must be positive"))
	}
	if c.Stream.Width <= 0 || c.Stream.Height <= 0 {
		errs = append(errs, fmt.Errorf("invalid stream size: %dx%d", c.Stream.Width, c.Stream.Height))
	}
	if c.Stream.Quality < 1 || c.Stream.Quality > 100 {
		errs = append(errs, fmt.Errorf("stream.quality out of range: %d", c.Stream.Quality))
	}
	if c.Recording.RetentionDays < 0 {
		errs = append(errs, errors.New("recording.retention_days cannot be negative"))
	}

	return errors.Join(errs...)
}

// setDefaults sets default values for unset fields
func (c *Config) setDefaults() {
	def := Default()

	if c.Recording.RecordingsDir == "" {
		c.Recording.RecordingsDir = def.Recording.RecordingsDir
	}
	if c.Server.Host == "" {
		c.Server.Host = def.Server.Host
	}
	if c.Server.Port == 0 {
		c.Server.Port = def.Server.Port
	}
	if c.Polling.MotionInterval == 0 {
		c.Polling.MotionInterval = def.Polling.MotionInterval
	}
	if c.Polling.HealthCheckInterval == 0 {
		c.Polling.HealthCheckInterval = def.Polling.HealthCheckInterval
	}
	if c.Polling.Timeout == 0 {
		c.Polling.Timeout = def.Polling.Timeout
	}
	if c.Stream.Width == 0 {
		c.Stream.Width = def.Stream.Width
	}
	if c.Stream.Height == 0 {
		c.Stream.Height = def.Stream.Height
	}
	if c.Stream.Quality == 0 {
		c.Stream.Quality = def.Stream.Quality
	}
	if c.System.DataPath == "" {
		c.System.DataPath = def.System.DataPath
	}
	if c.System.Logging.Level == "" {
		c.System.Logging.Level = def.System.Logging.Level
	}
	if c.System.Logging.Format == "" {
		c.System.Logging.Format = def.System.Logging.Format
	}
	if c.System.EventBus.Host == "" {
		c.System.EventBus.Host = def.System.EventBus.Host
	}
	if c.System.EventBus.Port == 0 {
		c.System.EventBus.Port = def.System.EventBus.Port
	}
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func sameCameras(a, b []CameraConfig) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name || a[i].Address != b[i].Address || a[i].IsEnabled() != b[i].IsEnabled() {
			return false
		}
	}
	return true
}
