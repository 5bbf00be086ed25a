// Package bus fans normalized events out to live WebSocket subscribers.
//
// Delivery is at-most-once and strictly decoupled from ingestion: Publish
// never blocks and never returns an error to the producer. Each subscriber
// owns a bounded ring buffer drained by its own write pump; a full buffer
// drops the frame for that subscriber only and bumps its drop counter.
// Subscribers that stop answering pings, or whose connection errors on
// write, are evicted from the registry.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Alirezaa02/webvis-oakd-dashboard/errors"
	"github.com/Alirezaa02/webvis-oakd-dashboard/event"
	"github.com/Alirezaa02/webvis-oakd-dashboard/metric"
	"github.com/Alirezaa02/webvis-oakd-dashboard/pkg/buffer"
	"github.com/Alirezaa02/webvis-oakd-dashboard/pkg/timestamp"
)

// Config holds tunables for the live bus.
type Config struct {
	// QueueSize is the per-subscriber outbound buffer capacity.
	QueueSize int `yaml:"queue_size"`

	// PingInterval is how often subscribers are pinged.
	PingInterval time.Duration `yaml:"ping_interval"`

	// PongTimeout evicts a subscriber that has not answered a ping within
	// this window.
	PongTimeout time.Duration `yaml:"pong_timeout"`

	// WriteTimeout bounds a single frame write to one connection.
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DefaultConfig returns the bus defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize:    256,
		PingInterval: 30 * time.Second,
		PongTimeout:  75 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = d.PongTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
}

// Dependencies carries the injected collaborators. A nil Metrics disables
// instrumentation; a nil Logger falls back to slog.Default().
type Dependencies struct {
	Logger  *slog.Logger
	Metrics *metric.Metrics
}

// helloFrame is the control message sent immediately after a subscriber
// joins. ServerTime lets the client measure clock skew.
type helloFrame struct {
	Type       string `json:"type"`
	ServerTime int64  `json:"serverTime"`
}

// eventFrame is the wire shape of one broadcast event.
type eventFrame struct {
	Variant event.Variant `json:"variant"`
	Event   event.Event   `json:"event"`
}

// subscriber is one registered live connection.
type subscriber struct {
	id    string
	conn  *websocket.Conn
	queue *buffer.Ring[[]byte]

	// wake has capacity 1; Publish signals it after enqueueing so the
	// write pump drains without polling.
	wake chan struct{}

	lastPong  atomic.Int64 // unix ms
	closed    atomic.Bool
	closeOnce sync.Once
	writeMu   sync.Mutex
}

func (s *subscriber) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Bus is the live fan-out hub and subscriber registry.
type Bus struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metric.Metrics

	upgrader websocket.Upgrader

	subscribersMu sync.RWMutex
	subscribers   map[string]*subscriber

	lifecycleMu sync.Mutex
	running     bool
	shutdown    chan struct{}
	wg          sync.WaitGroup
}

// NewBus creates a bus. Call Initialize then Start before serving
// connections.
func NewBus(cfg Config, deps Dependencies) *Bus {
	cfg.applyDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		cfg:     cfg,
		logger:  logger.With("component", "bus"),
		metrics: deps.Metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Browser dashboards connect cross-origin in development.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		subscribers: make(map[string]*subscriber),
	}
}

// Initialize validates configuration.
func (b *Bus) Initialize() error {
	if b.cfg.PongTimeout <= b.cfg.PingInterval {
		return errors.WrapInvalid(
			fmt.Errorf("pong_timeout %v must exceed ping_interval %v", b.cfg.PongTimeout, b.cfg.PingInterval),
			"Bus", "Initialize", "validate config")
	}
	return nil
}

// Start launches the connection maintenance loop.
func (b *Bus) Start(ctx context.Context) error {
	b.lifecycleMu.Lock()
	defer b.lifecycleMu.Unlock()

	if b.running {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Bus", "Start", "check state")
	}
	b.shutdown = make(chan struct{})
	b.running = true

	b.wg.Add(1)
	go b.maintainSubscribers(ctx)

	b.logger.Info("live bus started",
		"queueSize", b.cfg.QueueSize,
		"pingInterval", b.cfg.PingInterval)
	return nil
}

// Stop closes every subscriber and waits for pumps to exit, bounded by
// timeout.
func (b *Bus) Stop(timeout time.Duration) error {
	b.lifecycleMu.Lock()
	defer b.lifecycleMu.Unlock()

	if !b.running {
		return nil
	}
	close(b.shutdown)
	b.running = false

	b.subscribersMu.Lock()
	subs := make([]*subscriber, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		subs = append(subs, s)
	}
	b.subscribersMu.Unlock()
	for _, s := range subs {
		b.evict(s, "shutdown")
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(
			fmt.Errorf("pumps still running after %v", timeout),
			"Bus", "Stop", "wait for shutdown")
	}
}

// Publish offers the event to every registered subscriber. It never blocks:
// a subscriber with a full queue loses this frame and keeps its place in the
// registry until its connection proves dead.
func (b *Bus) Publish(ev event.Event) {
	frame, err := json.Marshal(eventFrame{Variant: ev.Variant(), Event: ev})
	if err != nil {
		b.logger.Error("frame encoding failed", "variant", ev.Variant(), "error", err)
		return
	}

	b.subscribersMu.RLock()
	subs := make([]*subscriber, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		if !s.closed.Load() {
			subs = append(subs, s)
		}
	}
	b.subscribersMu.RUnlock()

	variant := string(ev.Variant())
	for _, s := range subs {
		if err := s.queue.Write(frame); err != nil {
			if b.metrics != nil {
				b.metrics.FramesDropped.WithLabelValues(variant).Inc()
			}
			b.logger.Debug("frame dropped", "subscriber", s.id, "variant", variant)
			continue
		}
		s.signal()
	}
	if b.metrics != nil {
		b.metrics.FramesPublished.WithLabelValues(variant).Inc()
	}
}

// SubscriberCount returns the number of registered subscribers.
func (b *Bus) SubscriberCount() int {
	b.subscribersMu.RLock()
	defer b.subscribersMu.RUnlock()
	return len(b.subscribers)
}

// ServeHTTP upgrades the request, sends the hello frame, registers the
// subscriber, and starts its pumps.
func (b *Bus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.lifecycleMu.Lock()
	running := b.running
	shutdown := b.shutdown
	b.lifecycleMu.Unlock()
	if !running {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		b.logger.Debug("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	sub := &subscriber{
		id:   uuid.NewString(),
		conn: conn,
		wake: make(chan struct{}, 1),
	}
	sub.queue = buffer.NewRing[[]byte](b.cfg.QueueSize,
		buffer.WithOverflowPolicy[[]byte](buffer.DropNewest),
	)
	sub.lastPong.Store(timestamp.Now())

	// Hello goes out before the subscriber can receive any event frame.
	hello, _ := json.Marshal(helloFrame{Type: "hello", ServerTime: timestamp.Now()})
	_ = conn.SetWriteDeadline(time.Now().Add(b.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
		_ = conn.Close()
		return
	}

	b.subscribersMu.Lock()
	b.subscribers[sub.id] = sub
	count := len(b.subscribers)
	b.subscribersMu.Unlock()
	if b.metrics != nil {
		b.metrics.Subscribers.Set(float64(count))
	}
	b.logger.Info("subscriber joined", "subscriber", sub.id, "remote", r.RemoteAddr, "total", count)

	b.wg.Add(2)
	go b.writePump(sub, shutdown)
	go b.readPump(sub, shutdown)
}

// writePump drains the subscriber's queue in FIFO order. One pump per
// subscriber is the only writer of event frames on the connection.
func (b *Bus) writePump(sub *subscriber, shutdown <-chan struct{}) {
	defer b.wg.Done()

	for {
		select {
		case <-shutdown:
			return
		case <-sub.wake:
			for _, frame := range sub.queue.ReadBatch(b.cfg.QueueSize) {
				if sub.closed.Load() {
					return
				}
				sub.writeMu.Lock()
				_ = sub.conn.SetWriteDeadline(time.Now().Add(b.cfg.WriteTimeout))
				err := sub.conn.WriteMessage(websocket.TextMessage, frame)
				sub.writeMu.Unlock()
				if err != nil {
					b.evict(sub, "write_error")
					return
				}
			}
		}
		if sub.closed.Load() {
			return
		}
	}
}

// readPump consumes inbound control traffic for liveness. Subscribers are
// push-only; anything they send beyond pings is discarded.
func (b *Bus) readPump(sub *subscriber, shutdown <-chan struct{}) {
	defer b.wg.Done()
	defer b.evict(sub, "read_closed")

	sub.conn.SetPongHandler(func(string) error {
		sub.lastPong.Store(timestamp.Now())
		_ = sub.conn.SetReadDeadline(time.Now().Add(b.cfg.PongTimeout))
		return nil
	})
	_ = sub.conn.SetReadDeadline(time.Now().Add(b.cfg.PongTimeout))

	for {
		select {
		case <-shutdown:
			return
		default:
		}
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
		sub.lastPong.Store(timestamp.Now())
	}
}

// maintainSubscribers pings everyone periodically and evicts the silent.
func (b *Bus) maintainSubscribers(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.shutdown:
			return
		case <-ticker.C:
			b.pingSubscribers()
		}
	}
}

func (b *Bus) pingSubscribers() {
	b.subscribersMu.RLock()
	subs := make([]*subscriber, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		subs = append(subs, s)
	}
	b.subscribersMu.RUnlock()

	deadline := timestamp.Now() - b.cfg.PongTimeout.Milliseconds()
	for _, s := range subs {
		if s.closed.Load() {
			continue
		}
		if s.lastPong.Load() < deadline {
			b.evict(s, "ping_timeout")
			continue
		}
		s.writeMu.Lock()
		err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(b.cfg.WriteTimeout))
		s.writeMu.Unlock()
		if err != nil {
			b.evict(s, "ping_error")
		}
	}
}

// evict removes the subscriber from the registry and closes its connection.
// Safe to call from any goroutine, any number of times.
func (b *Bus) evict(sub *subscriber, reason string) {
	sub.closeOnce.Do(func() {
		sub.closed.Store(true)

		b.subscribersMu.Lock()
		delete(b.subscribers, sub.id)
		count := len(b.subscribers)
		b.subscribersMu.Unlock()

		sub.queue.Close()
		sub.signal()
		_ = sub.conn.Close()

		if b.metrics != nil {
			b.metrics.Subscribers.Set(float64(count))
			b.metrics.SubscriberEvicts.WithLabelValues(reason).Inc()
		}
		stats := sub.queue.Stats()
		b.logger.Info("subscriber left",
			"subscriber", sub.id,
			"reason", reason,
			"framesDropped", stats.Drops,
			"total", count)
	})
}
