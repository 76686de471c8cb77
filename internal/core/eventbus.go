// Package core provides the hub's shared infrastructure: the embedded event
// bus and the notifier that fans camera changes out to its consumers.
package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// DefaultNATSPort is the preferred port of the embedded NATS server
const DefaultNATSPort = 4222

// RandomPort asks the embedded server to pick any free port
const RandomPort = server.RANDOM_PORT

// EventBus provides pub/sub messaging between the hub and outside
// subscribers using embedded NATS
type EventBus struct {
	server *server.Server
	conn   *nats.Conn
	logger *slog.Logger

	// Subscription tracking
	subs   map[string][]*nats.Subscription
	subsMu sync.RWMutex
}

// EventBusConfig configures the event bus
type EventBusConfig struct {
	// Host for the NATS server (default: 127.0.0.1)
	Host string
	// Port for the NATS server (default: 4222, RandomPort for any)
	Port int
	// StoreDir enables JetStream persistence when set
	StoreDir string
}

// DefaultEventBusConfig returns default configuration
func DefaultEventBusConfig() EventBusConfig {
	return EventBusConfig{
		Host: "127.0.0.1",
		Port: DefaultNATSPort,
	}
}

// NewEventBus creates an embedded NATS server and connects to it
func NewEventBus(cfg EventBusConfig, logger *slog.Logger) (*EventBus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultNATSPort
	}

	port := cfg.Port
	if port != RandomPort && !portAvailable(cfg.Host, port) {
		logger.Info("NATS port in use, using a random port", "preferred", port)
		port = RandomPort
	}

	opts := &server.Options{
		Host:   cfg.Host,
		Port:   port,
		NoSigs: true,
		NoLog:  true, // We'll use our own logger
	}
	if cfg.StoreDir != "" {
		opts.JetStream = true
		opts.StoreDir = cfg.StoreDir
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(2 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server not ready after 2 seconds (port %d)", port)
	}

	nc, err := nats.Connect(ns.ClientURL(), nats.Name("cctv-hub"))
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("failed to connect to embedded NATS: %w", err)
	}

	eb := &EventBus{
		server: ns,
		conn:   nc,
		logger: logger.With("component", "eventbus"),
		subs:   make(map[string][]*nats.Subscription),
	}

	eb.logger.Info("Event bus started", "url", ns.ClientURL(), "jetstream", opts.JetStream)

	return eb, nil
}

func portAvailable(host string, port int) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}

// Conn returns the NATS connection for direct use
func (eb *EventBus) Conn() *nats.Conn {
	return eb.conn
}

// ClientURL returns the NATS client URL
func (eb *EventBus) ClientURL() string {
	return eb.server.ClientURL()
}

// Publish publishes a message to a subject
func (eb *EventBus) Publish(subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	return eb.conn.Publish(subject, payload)
}

// Subscribe subscribes to a subject
func (eb *EventBus) Subscribe(subject string, handler func(*nats.Msg)) (*nats.Subscription, error) {
	sub, err := eb.conn.Subscribe(subject, handler)
	if err != nil {
		return nil, err
	}

	eb.subsMu.Lock()
	eb.subs[subject] = append(eb.subs[subject], sub)
	eb.subsMu.Unlock()

	return sub, nil
}

// SubscribeJSON subscribes to a subject and unmarshals JSON messages
func (eb *EventBus) SubscribeJSON(subject string, handler func(interface{})) (*nats.Subscription, error) {
	return eb.Subscribe(subject, func(msg *nats.Msg) {
		var data interface{}
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			eb.logger.Error("Failed to unmarshal message", "subject", subject, "error", err)
			return
		}
		handler(data)
	})
}

// Unsubscribe removes all subscriptions for a subject
func (eb *EventBus) Unsubscribe(subject string) {
	eb.subsMu.Lock()
	defer eb.subsMu.Unlock()

	if subs, ok := eb.subs[subject]; ok {
		for _, sub := range subs {
			_ = sub.Unsubscribe()
		}
		delete(eb.subs, subject)
	}
}

// Flush waits until the server has processed everything published so far
func (eb *EventBus) Flush() error {
	return eb.conn.Flush()
}

// Stop shuts down the event bus
func (eb *EventBus) Stop() {
	_ = eb.conn.Drain()
	eb.server.Shutdown()
	eb.logger.Info("Event bus stopped")
}

// Camera subjects
const (
	SubjectMotionAll = "cctv.cameras.*.motion"
	SubjectHealthAll = "cctv.cameras.*.health"
)

// MotionSubject returns the subject motion changes of camera are published on
func MotionSubject(camera string) string {
	return "cctv.cameras." + subjectToken(camera) + ".motion"
}

// HealthSubject returns the subject health changes of camera are published on
func HealthSubject(camera string) string {
	return "cctv.cameras." + subjectToken(camera) + ".health"
}

// subjectToken makes a camera name safe to use as one subject token
func subjectToken(name string) string {
	b := []byte(name)
	for i, c := range b {
		switch c {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			b[i] = '_'
		}
	}
	if len(b) == 0 {
		return "_"
	}
	return string(b)
}

// MotionMessage is published when a camera's motion flag changes
type MotionMessage struct {
	Camera   string    `json:"camera"`
	Active   bool      `json:"active"`
	At       time.Time `json:"at"`
	Snapshot string    `json:"snapshot,omitempty"`
}

// HealthMessage is published when a camera goes online or offline
type HealthMessage struct {
	Camera        string    `json:"camera"`
	Online        bool      `json:"online"`
	At            time.Time `json:"at"`
	UptimeSeconds float64   `json:"uptime_seconds"`
}

// PublishMotion publishes a motion change on the camera's motion subject
func (eb *EventBus) PublishMotion(msg MotionMessage) error {
	return eb.Publish(MotionSubject(msg.Camera), msg)
}

// PublishHealth publishes a health change on the camera's health subject
func (eb *EventBus) PublishHealth(msg HealthMessage) error {
	return eb.Publish(HealthSubject(msg.Camera), msg)
}

// HealthCheck performs a health check on the event bus
func (eb *EventBus) HealthCheck(ctx context.Context) error {
	if !eb.conn.IsConnected() {
		return fmt.Errorf("NATS connection not active")
	}

	timeout := 2 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}

	_, err := eb.conn.Request("_health", []byte("ping"), timeout)
	if err == nats.ErrNoResponders {
		// No responders is OK, just means no one is listening
		return nil
	}
	return err
}
