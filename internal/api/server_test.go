package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/jpeg"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Spatial-NVR/cctv-hub/internal/camera"
	"github.com/Spatial-NVR/cctv-hub/internal/camera/cameratest"
	"github.com/Spatial-NVR/cctv-hub/internal/config"
	"github.com/Spatial-NVR/cctv-hub/internal/database"
	"github.com/Spatial-NVR/cctv-hub/internal/events"
	"github.com/Spatial-NVR/cctv-hub/internal/logging"
	"github.com/Spatial-NVR/cctv-hub/internal/recording"
	"github.com/Spatial-NVR/cctv-hub/internal/state"
)

type testEnv struct {
	server    *httptest.Server
	front     *cameratest.Camera
	garage    *cameratest.Camera
	cfg       *config.Config
	store     *state.Store
	snapshots *recording.Store
	events    *events.Service
	logs      *logging.RingBuffer
	bus       *fakeBus
}

type fakeBus struct {
	mu  sync.Mutex
	err error
}

func (b *fakeBus) HealthCheck(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

func (b *fakeBus) ClientURL() string { return "nats://127.0.0.1:4222" }

func (b *fakeBus) fail(err error) {
	b.mu.Lock()
	b.err = err
	b.mu.Unlock()
}

// newTestEnv serves the API over two fake cameras, FrontDoor and Garage,
// plus a disabled BackYard
func newTestEnv(t *testing.T, withOptional bool) *testEnv {
	t.Helper()

	env := &testEnv{
		front:  cameratest.New(64, 48),
		garage: cameratest.New(64, 48),
	}
	t.Cleanup(env.front.Close)
	t.Cleanup(env.garage.Close)

	backyard := config.CameraConfig{Name: "BackYard", Address: "192.0.2.1", Enabled: config.Bool(false)}

	env.cfg = config.Default()
	env.cfg.Cameras = []config.CameraConfig{env.front.Config("FrontDoor"), env.garage.Config("Garage"), backyard}
	env.cfg.Stream = config.StreamConfig{Width: 32, Height: 24, Quality: 80}
	env.cfg.Polling.Timeout = 1

	cameras := camera.NewService(env.cfg.EnabledCameras(),
		camera.WithTimeout(func() time.Duration { return time.Second }))
	env.store = state.NewStore(cameras.Names())

	deps := Deps{
		Config:  env.cfg,
		Cameras: cameras,
		State:   env.store,
		Version: "test",
	}

	if withOptional {
		db, err := database.OpenAndMigrate(context.Background(), database.DefaultConfig(t.TempDir()))
		if err != nil {
			t.Fatalf("Failed to open database: %v", err)
		}
		t.Cleanup(func() { _ = db.Close() })

		env.snapshots = recording.NewStore(t.TempDir(), recording.NewSQLiteRepository(db.DB))
		env.events = events.NewService(db)
		env.logs = logging.NewRingBuffer(10)
		env.bus = &fakeBus{}

		hub := NewHub()
		ctx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)
		go hub.Run(ctx)

		deps.Snapshots = env.snapshots
		deps.Events = env.events
		deps.Logs = env.logs
		deps.Hub = hub
		deps.Database = db
		deps.Bus = env.bus
	}

	env.server = httptest.NewServer(NewServer(deps).Router())
	t.Cleanup(env.server.Close)
	return env
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(e.server.URL + path)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}

// envelope decodes a success envelope, unmarshalling data into v
func envelope(t *testing.T, resp *http.Response, v interface{}) *Meta {
	t.Helper()
	var body struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Meta    *Meta           `json:"meta"`
	}
	decode(t, resp, &body)
	if !body.Success {
		t.Fatalf("Expected success envelope, got status %d", resp.StatusCode)
	}
	if v != nil {
		if err := json.Unmarshal(body.Data, v); err != nil {
			t.Fatalf("Failed to decode data: %v", err)
		}
	}
	return body.Meta
}

func TestLiveness(t *testing.T) {
	env := newTestEnv(t, false)

	var body LivenessResponse
	decode(t, env.get(t, "/health"), &body)
	if body.Status != "ok" || body.Version != "test" {
		t.Errorf("Unexpected liveness body: %+v", body)
	}
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t, false)

	at := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	env.store.SetMotion("FrontDoor", true)
	env.store.TouchMotion("FrontDoor", at)
	env.store.RecordOnline("FrontDoor", at, 10*time.Second)

	resp := env.get(t, "/status/FrontDoor")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var raw map[string]json.RawMessage
	decode(t, resp, &raw)
	for _, key := range []string{"motion", "health", "last_motion"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("Expected key %q in status", key)
		}
	}

	var status StatusResponse
	body, _ := json.Marshal(raw)
	_ = json.Unmarshal(body, &status)
	if !status.Motion || !status.Health.Online || status.Health.UptimeSeconds != 10 {
		t.Errorf("Unexpected status: %+v", status)
	}
	if status.LastMotion == nil || !status.LastMotion.Equal(at) {
		t.Errorf("Expected last_motion %v, got %v", at, status.LastMotion)
	}
}

func TestStatusUnknownAndDisabledCameras(t *testing.T) {
	env := newTestEnv(t, false)

	for _, path := range []string{"/status/Attic", "/status/BackYard", "/api/cameras/BackYard", "/stream/Attic", "/stream/BackYard"} {
		if resp := env.get(t, path); resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, resp.StatusCode)
		}
	}
}

func TestListCameras(t *testing.T) {
	env := newTestEnv(t, false)
	env.store.RecordOnline("Garage", time.Now(), 10*time.Second)

	var cameras []CameraResponse
	envelope(t, env.get(t, "/api/cameras"), &cameras)

	if len(cameras) != 2 {
		t.Fatalf("Expected 2 enabled cameras, got %d", len(cameras))
	}
	if cameras[0].Name != "FrontDoor" || cameras[1].Name != "Garage" {
		t.Errorf("Expected config order, got %s, %s", cameras[0].Name, cameras[1].Name)
	}
	if cameras[0].IP != env.front.Address() {
		t.Errorf("Expected ip %s, got %s", env.front.Address(), cameras[0].IP)
	}
	if cameras[0].Health.Online || !cameras[1].Health.Online {
		t.Errorf("Unexpected health: %+v", cameras)
	}
}

func TestGetCamera(t *testing.T) {
	env := newTestEnv(t, false)

	var cam CameraResponse
	envelope(t, env.get(t, "/api/cameras/Garage"), &cam)
	if cam.Name != "Garage" || cam.IP != env.garage.Address() {
		t.Errorf("Unexpected camera: %+v", cam)
	}
}

func TestHubHealth(t *testing.T) {
	env := newTestEnv(t, false)
	env.store.RecordOnline("FrontDoor", time.Now(), time.Second)

	var health HubHealthResponse
	envelope(t, env.get(t, "/api/health"), &health)
	if health.Status != "ok" || health.CamerasCount != 2 || health.CamerasOnline != 1 || !health.RecordingEnabled {
		t.Errorf("Unexpected hub health: %+v", health)
	}
}

func TestHubHealthComponents(t *testing.T) {
	env := newTestEnv(t, true)

	var health HubHealthResponse
	envelope(t, env.get(t, "/api/health"), &health)
	if health.Database == nil || health.Database.Status != "ok" || health.Database.SchemaVersion < 1 {
		t.Errorf("Unexpected database health: %+v", health.Database)
	}
	if health.EventBus == nil || health.EventBus.Status != "ok" || health.EventBus.URL == "" {
		t.Errorf("Unexpected event bus health: %+v", health.EventBus)
	}

	env.bus.fail(errors.New("no response"))
	health = HubHealthResponse{}
	envelope(t, env.get(t, "/api/health"), &health)
	if health.Status != "ok" {
		t.Errorf("Expected overall status ok, got %s", health.Status)
	}
	if health.EventBus == nil || health.EventBus.Status != "error" || health.EventBus.Error != "no response" {
		t.Errorf("Expected failing event bus, got %+v", health.EventBus)
	}
}

func TestHubHealthOmitsMissingComponents(t *testing.T) {
	env := newTestEnv(t, false)

	var health HubHealthResponse
	envelope(t, env.get(t, "/api/health"), &health)
	if health.Database != nil || health.EventBus != nil {
		t.Errorf("Expected no component sections, got %+v", health)
	}
}

func TestStreamRelaysResizedFrames(t *testing.T) {
	env := newTestEnv(t, false)

	resp := env.get(t, "/stream/FrontDoor")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/x-mixed-replace" || params["boundary"] != "frame" {
		t.Fatalf("Unexpected content type %q", resp.Header.Get("Content-Type"))
	}

	mr := multipart.NewReader(resp.Body, params["boundary"])
	for i := 0; i < 2; i++ {
		part, err := mr.NextPart()
		if err != nil {
			t.Fatalf("Part %d: %v", i, err)
		}
		data, err := io.ReadAll(part)
		if err != nil {
			t.Fatalf("Part %d: %v", i, err)
		}
		img, err := jpeg.Decode(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("Part %d: invalid JPEG: %v", i, err)
		}
		if b := img.Bounds(); b.Dx() != 32 || b.Dy() != 24 {
			t.Errorf("Part %d: expected 32x24, got %dx%d", i, b.Dx(), b.Dy())
		}
	}
}

func TestOptionalRoutesUnavailable(t *testing.T) {
	env := newTestEnv(t, false)

	for _, path := range []string{"/api/recordings", "/recordings/FrontDoor_20240101_000000.jpg", "/api/events", "/api/logs", "/api/ws"} {
		if resp := env.get(t, path); resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("%s: expected 503, got %d", path, resp.StatusCode)
		}
	}
}

func TestListAndServeSnapshots(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 8, 0, 0, 0, time.Local)
	for i := 0; i < 3; i++ {
		if _, err := env.snapshots.Save(ctx, "FrontDoor", cameratest.JPEG(8, 8), base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}
	if _, err := env.snapshots.Save(ctx, "Garage", cameratest.JPEG(8, 8), base); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	var snaps []SnapshotResponse
	meta := envelope(t, env.get(t, "/api/recordings?camera=FrontDoor&limit=2"), &snaps)
	if meta == nil || meta.Total != 3 || meta.TotalPages != 2 {
		t.Errorf("Unexpected meta: %+v", meta)
	}
	if len(snaps) != 2 {
		t.Fatalf("Expected 2 snapshots, got %d", len(snaps))
	}
	if snaps[0].FileName != "FrontDoor_20240101_080200.jpg" {
		t.Errorf("Expected newest first, got %s", snaps[0].FileName)
	}

	resp := env.get(t, snaps[0].URL)
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/jpeg" {
		t.Fatalf("Expected JPEG, got %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	if _, err := jpeg.Decode(resp.Body); err != nil {
		t.Errorf("Served file is not a JPEG: %v", err)
	}

	for _, path := range []string{"/recordings/missing_20240101_000000.jpg", "/recordings/config.json", "/recordings/..%2Fcctv_hub.db"} {
		if resp := env.get(t, path); resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, resp.StatusCode)
		}
	}
}

func TestListSnapshotsValidation(t *testing.T) {
	env := newTestEnv(t, true)

	resp := env.get(t, "/api/recordings?limit=abc&since=yesterday")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", resp.StatusCode)
	}
	var body Response
	decode(t, resp, &body)
	if body.Error == nil || body.Error.Code != "VALIDATION_ERROR" || len(body.Error.Details) != 2 {
		t.Errorf("Unexpected error: %+v", body.Error)
	}
}

func TestEvents(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()

	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	motion, err := env.events.CreateMotionEvent(ctx, "FrontDoor", at, "FrontDoor_20240301_090000.jpg")
	if err != nil {
		t.Fatalf("CreateMotionEvent failed: %v", err)
	}
	if _, err := env.events.CreateStateEvent(ctx, "Garage", false, at.Add(time.Minute), 0); err != nil {
		t.Fatalf("CreateStateEvent failed: %v", err)
	}

	var list []events.Event
	meta := envelope(t, env.get(t, "/api/events?type=motion"), &list)
	if meta.Total != 1 || len(list) != 1 || list[0].ID != motion.ID {
		t.Errorf("Unexpected motion events: %+v", list)
	}

	envelope(t, env.get(t, "/api/events?camera=Garage"), &list)
	if len(list) != 1 || list[0].EventType != events.EventCameraOffline {
		t.Errorf("Unexpected Garage events: %+v", list)
	}

	var got events.Event
	envelope(t, env.get(t, "/api/events/"+motion.ID), &got)
	if got.CameraID != "FrontDoor" {
		t.Errorf("Unexpected event: %+v", got)
	}

	if resp := env.get(t, "/api/events/nope"); resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown event, got %d", resp.StatusCode)
	}
	if resp := env.get(t, "/api/events?type=doorbell"); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown type, got %d", resp.StatusCode)
	}

	var stats events.Stats
	envelope(t, env.get(t, "/api/events/stats"), &stats)
	if stats.Total != 2 || stats.ByType[events.EventMotion] != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestRecentLogs(t *testing.T) {
	env := newTestEnv(t, true)
	for _, msg := range []string{"one", "two", "three"} {
		env.logs.Add(logging.LogEntry{Time: time.Now(), Level: "INFO", Message: msg})
	}

	var entries []logging.LogEntry
	envelope(t, env.get(t, "/api/logs?limit=2"), &entries)
	if len(entries) != 2 || entries[1].Message != "three" {
		t.Errorf("Unexpected entries: %+v", entries)
	}

	if resp := env.get(t, "/api/logs?limit=0"); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", resp.StatusCode)
	}
}

func TestLogStream(t *testing.T) {
	env := newTestEnv(t, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, env.server.URL+"/api/logs/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Expected event stream, got %s", ct)
	}

	// The subscription exists once the connect comment arrives
	buf := make([]byte, 256)
	if _, err := resp.Body.Read(buf); err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	env.logs.Add(logging.LogEntry{Message: "Motion detected", Component: "motion-poller"})

	var got []byte
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !bytes.Contains(got, []byte("Motion detected")) {
		n, err := resp.Body.Read(buf)
		got = append(got, buf[:n]...)
		if err != nil {
			break
		}
	}
	if !bytes.Contains(got, []byte("data: ")) || !bytes.Contains(got, []byte("Motion detected")) {
		t.Errorf("Expected log entry event, got %q", got)
	}
}

func TestRoutes(t *testing.T) {
	router := NewServer(Deps{Config: config.Default(), Cameras: camera.NewService(nil), State: state.NewStore(nil)}).Router()
	paths := map[string]bool{}
	for _, r := range Routes(router) {
		paths[r.Path] = true
	}
	for _, want := range []string{"/health", "/status/{name}", "/stream/{name}", "/api/cameras", "/api/health", "/api/ws"} {
		if !paths[want] {
			t.Errorf("Expected route %s", want)
		}
	}
}
