// Package socket implements the StudentLink realtime WebSocket client. It
// maintains exactly one logical connection to the live-update endpoint,
// parses inbound envelopes into typed events, and recovers from transport
// failures with bounded linear backoff. All state transitions and inbound
// messages are observable through the client's event emitter, so multiple
// independent views can subscribe without coordinating with each other.
package socket

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/studentlink/realtime/internal/emitter"
	"github.com/studentlink/realtime/internal/metrics"
	"github.com/studentlink/realtime/internal/protocol"
)

// Lifecycle event names emitted alongside the protocol message types.
const (
	EventConnected     = "connected"
	EventDisconnected  = "disconnected"
	EventError         = "error"
	EventMaxReconnects = "max_reconnect_attempts_reached"
)

// DialFunc opens the underlying transport connection. The default uses
// gobwas/ws; tests inject their own.
type DialFunc func(ctx context.Context, url string) (net.Conn, error)

// Config holds socket client settings.
type Config struct {
	URL          string        // WebSocket endpoint
	BaseInterval time.Duration // reconnect delay = BaseInterval * attempt number
	MaxAttempts  int           // reconnect attempts before giving up
	Dial         DialFunc      // nil means the gobwas/ws dialer
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:          "ws://localhost:8081/ws",
		BaseInterval: 2 * time.Second,
		MaxAttempts:  5,
	}
}

func wsDial(ctx context.Context, url string) (net.Conn, error) {
	conn, _, _, err := ws.Dial(ctx, url)
	return conn, err
}

// Client is a reconnecting WebSocket client. The zero value is not usable;
// construct with New. A Client is intended to be a process-wide single
// instance handed to whatever needs it.
type Client struct {
	cfg    Config
	events *emitter.Emitter

	mu       sync.Mutex
	writeMu  sync.Mutex
	state    ConnectionState
	conn     net.Conn
	attempts int
	timer    *time.Timer
	gen      uint64 // bumped per connection attempt; stale dial results are discarded
}

// pendingEvent is a lifecycle event collected under the mutex and emitted
// after it is released, so handlers can call back into the client.
type pendingEvent struct {
	name string
	data any
}

// New creates a Client with the given configuration. Missing config fields
// fall back to DefaultConfig values.
func New(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.BaseInterval <= 0 {
		cfg.BaseInterval = def.BaseInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Dial == nil {
		cfg.Dial = wsDial
	}
	return &Client{
		cfg:    cfg,
		events: emitter.New(),
		state:  StateDisconnected,
	}
}

// On registers a handler for a protocol message type or lifecycle event.
func (c *Client) On(event string, fn emitter.Handler) emitter.HandlerID {
	return c.events.On(event, fn)
}

// Off removes a previously registered handler.
func (c *Client) Off(event string, id emitter.HandlerID) {
	c.events.Off(event, id)
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect opens the transport connection. It is idempotent: calling it while
// already connecting or connected is a no-op. On failure the reconnect
// machinery takes over; the returned error reports only the first attempt.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	c.stopTimerLocked()
	if c.state == StateFailed {
		// A manual Connect after exhaustion starts a fresh backoff cycle.
		c.attempts = 0
	}
	c.setStateLocked(StateConnecting)
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	return c.dial(ctx, gen)
}

// Reconnect resets the attempt counter and forces a fresh connection,
// regardless of prior exhaustion. Any established connection and any pending
// reconnect timer are discarded first.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	c.stopTimerLocked()
	c.closeConnLocked()
	c.attempts = 0
	c.setStateLocked(StateConnecting)
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	return c.dial(ctx, gen)
}

// Disconnect closes the transport deterministically and cancels any pending
// reconnect timer. It is safe to call from any state.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.stopTimerLocked()
	wasIdle := c.state == StateDisconnected
	c.closeConnLocked()
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	if !wasIdle {
		log.Printf("[socket] disconnected by caller")
		c.events.Emit(EventDisconnected, nil)
	}
}

// Send builds an outbound envelope and transmits it if the client is
// connected. Otherwise the message is dropped with a logged warning: this is
// a best-effort live-update channel, not a durable message bus, and there is
// no queueing.
func (c *Client) Send(msgType string, payload any) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || conn == nil {
		metrics.MessagesTotal.WithLabelValues("dropped").Inc()
		log.Printf("[socket] dropping outbound type=%q: not connected", msgType)
		return nil
	}

	data, err := protocol.NewOutbound(msgType, payload)
	if err != nil {
		return fmt.Errorf("socket: build %q: %w", msgType, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := wsutil.WriteClientMessage(conn, ws.OpText, data); err != nil {
		return fmt.Errorf("socket: write %q: %w", msgType, err)
	}
	metrics.MessagesTotal.WithLabelValues("outbound").Inc()
	return nil
}

// dial performs a single connection attempt for the given generation. The
// caller must have already moved the state to connecting and bumped the
// generation under the mutex.
func (c *Client) dial(ctx context.Context, gen uint64) error {
	conn, err := c.cfg.Dial(ctx, c.cfg.URL)

	c.mu.Lock()
	if c.state == StateDisconnected || gen != c.gen {
		// A Disconnect, or a newer Connect/Reconnect, raced this dial.
		// That caller owns the lifecycle now; discard the result so the
		// client never holds two live connections.
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return nil
	}

	if err != nil {
		log.Printf("[socket] connect failed url=%s: %v", c.cfg.URL, err)
		pending := append([]pendingEvent{{EventError, err}}, c.failLocked()...)
		c.mu.Unlock()
		c.emitAll(pending)
		return fmt.Errorf("socket: dial %s: %w", c.cfg.URL, err)
	}

	c.conn = conn
	c.attempts = 0
	c.setStateLocked(StateConnected)
	c.mu.Unlock()

	log.Printf("[socket] connected url=%s", c.cfg.URL)
	go c.readLoop(conn)
	c.events.Emit(EventConnected, nil)
	return nil
}

// failLocked handles a failed attempt or lost connection: it either arms the
// next reconnect timer (linear backoff) or, once attempts are exhausted,
// moves to the failed state. Returns the lifecycle events to emit after the
// mutex is released.
func (c *Client) failLocked() []pendingEvent {
	c.closeConnLocked()

	if c.attempts >= c.cfg.MaxAttempts {
		c.setStateLocked(StateFailed)
		log.Printf("[socket] giving up after %d reconnect attempts", c.attempts)
		return []pendingEvent{{EventMaxReconnects, c.attempts}}
	}

	c.attempts++
	c.setStateLocked(StateReconnecting)
	delay := c.cfg.BaseInterval * time.Duration(c.attempts)
	metrics.ReconnectAttemptsTotal.Inc()
	log.Printf("[socket] reconnecting attempt=%d/%d in %s", c.attempts, c.cfg.MaxAttempts, delay)
	c.timer = time.AfterFunc(delay, c.retry)
	return nil
}

// retry is the reconnect timer callback.
func (c *Client) retry() {
	c.mu.Lock()
	if c.state != StateReconnecting {
		// Superseded by a manual Disconnect, Reconnect, or a successful
		// connection in the meantime.
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.setStateLocked(StateConnecting)
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	c.dial(context.Background(), gen)
}

// readLoop reads frames from conn until it fails or is superseded. A read
// failure on the current connection triggers the reconnect machinery.
func (c *Client) readLoop(conn net.Conn) {
	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			c.mu.Lock()
			if c.conn != conn {
				// This connection was already replaced or closed on purpose.
				c.mu.Unlock()
				return
			}
			log.Printf("[socket] connection lost: %v", err)
			pending := []pendingEvent{{EventError, err}, {EventDisconnected, nil}}
			pending = append(pending, c.failLocked()...)
			c.mu.Unlock()
			c.emitAll(pending)
			return
		}
		c.handleInbound(data)
	}
}

// handleInbound parses one inbound envelope and fans it out as a typed
// event. Parse failures and unknown types are logged and dropped; they never
// alter connection state.
func (c *Client) handleInbound(data []byte) {
	msgType, msg, err := protocol.ParseInbound(data)
	if err != nil {
		metrics.MessagesTotal.WithLabelValues("malformed").Inc()
		if errors.Is(err, protocol.ErrUnknownType) {
			log.Printf("[socket] dropping unknown message type=%q", msgType)
		} else {
			log.Printf("[socket] dropping malformed message: %v", err)
		}
		return
	}

	metrics.MessagesTotal.WithLabelValues("inbound").Inc()
	c.events.Emit(msgType, msg)
}

func (c *Client) emitAll(pending []pendingEvent) {
	for _, ev := range pending {
		c.events.Emit(ev.name, ev.data)
	}
}

func (c *Client) setStateLocked(s ConnectionState) {
	c.state = s
	metrics.SocketState.Set(float64(s))
}

func (c *Client) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Client) closeConnLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}
