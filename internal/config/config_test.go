package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	configContent := `{
  "cameras": [
    {"name": "FrontDoor", "ip": "192.168.1.101", "enabled": true},
    {"name": "Garage", "ip": "192.168.1.102", "enabled": false},
    {"name": "BackYard", "ip": "192.168.1.103"}
  ],
  "recording": {"enabled": true, "snapshot_on_motion": true, "video_on_motion": false, "recordings_dir": "snaps"},
  "server": {"host": "127.0.0.1", "port": 9000, "debug": false},
  "polling": {"motion_interval": 1.5, "health_check_interval": 10, "timeout": 2},
  "stream": {"width": 320, "height": 240, "quality": 70}
}`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if len(cfg.Cameras) != 3 {
		t.Fatalf("Expected 3 cameras, got %d", len(cfg.Cameras))
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Expected port 9000, got %d", cfg.Server.Port)
	}
	if cfg.Recording.RecordingsDir != "snaps" {
		t.Errorf("Expected recordings_dir 'snaps', got '%s'", cfg.Recording.RecordingsDir)
	}
	if got := cfg.Polling.MotionInterval.Duration(); got != 1500*time.Millisecond {
		t.Errorf("Expected motion interval 1.5s, got %v", got)
	}
	if cfg.Stream.Quality != 70 {
		t.Errorf("Expected quality 70, got %d", cfg.Stream.Quality)
	}

	enabled := cfg.EnabledCameras()
	if len(enabled) != 2 {
		t.Fatalf("Expected 2 enabled cameras, got %d", len(enabled))
	}
	if enabled[0].Name != "FrontDoor" || enabled[1].Name != "BackYard" {
		t.Errorf("Unexpected enabled cameras: %+v", enabled)
	}
}

func TestLoadYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
cameras:
  - name: Porch
    ip: 10.0.0.5
recording:
  enabled: false
polling:
  motion_interval: 0.5
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if !cfg.Cameras[0].IsEnabled() {
		t.Error("Camera without enabled field should default to enabled")
	}
	if cfg.Polling.MotionInterval != 0.5 {
		t.Errorf("Expected motion interval 0.5, got %v", cfg.Polling.MotionInterval)
	}
	// Unset values take defaults
	if cfg.Polling.HealthCheckInterval != 10 {
		t.Errorf("Expected default health interval 10, got %v", cfg.Polling.HealthCheckInterval)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Stream.Width != 640 || cfg.Stream.Height != 480 || cfg.Stream.Quality != 85 {
		t.Errorf("Unexpected stream defaults: %+v", cfg.Stream)
	}
}

func TestLoadNonExistent(t *testing.T) {
	_, err := Load("/nonexistent/path/config.json")
	if err == nil {
		t.Error("Expected error when loading non-existent file")
	}
}

func TestLoadInvalidJSON(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(configPath, []byte("{not json"), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("Expected error for malformed config")
	}
}

func TestLoadOrCreate(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "config.json")

	cfg, created, err := LoadOrCreate(configPath)
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if !created {
		t.Error("Expected config to be created")
	}
	if len(cfg.Cameras) != 3 {
		t.Errorf("Expected 3 default cameras, got %d", len(cfg.Cameras))
	}
	if _, err := os.Stat(configPath); err != nil {
		t.Fatalf("Default config was not written: %v", err)
	}

	// Second call loads the written file
	loaded, created, err := LoadOrCreate(configPath)
	if err != nil {
		t.Fatalf("LoadOrCreate failed on existing file: %v", err)
	}
	if created {
		t.Error("Expected existing config to be loaded, not created")
	}
	if loaded.Cameras[0].Name != "FrontDoor" {
		t.Errorf("Expected first camera 'FrontDoor', got '%s'", loaded.Cameras[0].Name)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	for _, name := range []string{"config.json", "config.yaml"} {
		t.Run(name, func(t *testing.T) {
			configPath := filepath.Join(t.TempDir(), name)

			cfg := Default()
			cfg.Cameras = []CameraConfig{{Name: "Shed", Address: "10.1.1.1", Enabled: Bool(false)}}
			cfg.Stream.Quality = 60
			cfg.SetPath(configPath)

			if err := cfg.Save(); err != nil {
				t.Fatalf("Failed to save config: %v", err)
			}

			loaded, err := Load(configPath)
			if err != nil {
				t.Fatalf("Failed to load saved config: %v", err)
			}
			if loaded.Stream.Quality != 60 {
				t.Errorf("Expected quality 60, got %d", loaded.Stream.Quality)
			}
			if loaded.Cameras[0].IsEnabled() {
				t.Error("Expected camera to stay disabled after round trip")
			}
			if _, err := os.Stat(configPath + ".tmp"); !os.IsNotExist(err) {
				t.Error("Temporary file should not remain after save")
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"empty name", func(c *Config) { c.Cameras[0].Name = "" }, "name is required"},
		{"duplicate name", func(c *Config) { c.Cameras[1].Name = c.Cameras[0].Name }, "duplicate name"},
		{"missing ip", func(c *Config) { c.Cameras[0].Address = "" }, "ip is required"},
		{"disabled without ip", func(c *Config) {
			c.Cameras[0].Address = ""
			c.Cameras[0].Enabled = Bool(false)
		}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 99999 }, "invalid server port"},
		{"zero interval", func(c *Config) { c.Polling.MotionInterval = 0 }, "motion_interval"},
		{"negative timeout", func(c *Config) { c.Polling.Timeout = -1 }, "timeout"},
		{"bad size", func(c *Config) { c.Stream.Width = 0 }, "invalid stream size"},
		{"bad quality", func(c *Config) { c.Stream.Quality = 101 }, "quality"},
		{"negative retention", func(c *Config) { c.Recording.RetentionDays = -1 }, "retention_days"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestGetCamera(t *testing.T) {
	cfg := Default()

	cam, ok := cfg.GetCamera("Garage")
	if !ok {
		t.Fatal("Expected to find camera 'Garage'")
	}
	if cam.Address != "192.168.1.102" {
		t.Errorf("Expected address 192.168.1.102, got %s", cam.Address)
	}

	if _, ok := cfg.GetCamera("Attic"); ok {
		t.Error("Expected unknown camera lookup to fail")
	}
}

func TestServerAddress(t *testing.T) {
	cfg := Default()
	cfg.Server.Host = "192.168.1.100"
	cfg.Server.Port = 9090

	if got := cfg.ServerAddress(); got != "192.168.1.100:9090" {
		t.Errorf("Expected 192.168.1.100:9090, got %s", got)
	}
}

func TestReloadKeepsCameras(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.json")
	cfg := Default()
	cfg.SetPath(configPath)
	if err := cfg.Save(); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	changed := make(chan struct{}, 1)
	cfg.OnChange(func(*Config) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})

	// Rewrite the file with a new camera list and new tunables
	edited := Default()
	edited.Cameras = []CameraConfig{{Name: "Other", Address: "10.0.0.9"}}
	edited.Polling.MotionInterval = 3
	edited.Recording.SnapshotOnMotion = false
	edited.SetPath(configPath)
	if err := edited.Save(); err != nil {
		t.Fatalf("Failed to save edited config: %v", err)
	}

	cfg.reload()

	select {
	case <-changed:
	default:
		t.Error("Expected OnChange callback to run")
	}

	rt := cfg.Runtime()
	if rt.Polling.MotionInterval != 3 {
		t.Errorf("Expected reloaded motion interval 3, got %v", rt.Polling.MotionInterval)
	}
	if rt.Recording.SnapshotsEnabled() {
		t.Error("Expected snapshots to be disabled after reload")
	}
	if len(cfg.EnabledCameras()) != 3 {
		t.Errorf("Camera list must not change on reload, got %d cameras", len(cfg.EnabledCameras()))
	}
}

func TestWatch(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.json")
	cfg := Default()
	cfg.SetPath(configPath)
	if err := cfg.Save(); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan struct{}, 4)
	cfg.OnChange(func(*Config) { changed <- struct{}{} })

	if err := cfg.Watch(ctx); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	edited := Default()
	edited.Stream.Quality = 50
	edited.SetPath(configPath)
	if err := edited.Save(); err != nil {
		t.Fatalf("Failed to save edited config: %v", err)
	}

	select {
	case <-changed:
	case <-time.After(3 * time.Second):
		t.Fatal("Timed out waiting for config reload")
	}

	if q := cfg.Runtime().Stream.Quality; q != 50 {
		t.Errorf("Expected quality 50 after reload, got %d", q)
	}
}
