// Package channels presents a channel+event subscription model on top of the
// hosted NATS pub/sub transport used by the StudentLink backend. It tracks
// one live handle per channel name, fans events out to every bound callback,
// and reference-counts attached views so the shared transport is only torn
// down when the last one detaches.
//
// When the required credentials are missing the service constructs in a
// disabled mode: every operation is a safe no-op so calling code never needs
// a defensive check before subscribing.
package channels

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/studentlink/realtime/internal/emitter"
	"github.com/studentlink/realtime/internal/metrics"
)

// Callback receives the raw JSON payload of a channel event.
type Callback func(data []byte)

// Transport is the subset of the pub/sub connection the service relies on.
// The production implementation wraps a NATS connection; tests substitute
// their own.
type Transport interface {
	Subscribe(subject string, handler func(data []byte)) (Subscription, error)
	Publish(subject string, data []byte) error
	Status() string
	IsConnected() bool
	Drain() error
}

// Subscription is a live transport-level channel handle.
type Subscription interface {
	Unsubscribe() error
}

// Config holds the connection settings for the hosted transport. AppKey,
// Cluster, and Secret are all required; if any is missing the service runs
// disabled.
type Config struct {
	URL           string        // explicit endpoint; derived from Cluster when empty
	AppID         string        // application identifier
	AppKey        string        // application key
	Cluster       string        // cluster/region identifier
	Secret        string        // credential secret, required for private channels
	Name          string        // connection name for diagnostics
	ReconnectWait time.Duration // transport-level reconnect spacing
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ReconnectWait: 2 * time.Second,
	}
}

// ConfigFromEnv builds a Config from the STUDENTLINK_* and NATS_URL
// environment variables.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.URL = os.Getenv("NATS_URL")
	cfg.AppID = os.Getenv("STUDENTLINK_APP_ID")
	cfg.AppKey = os.Getenv("STUDENTLINK_APP_KEY")
	cfg.Cluster = os.Getenv("STUDENTLINK_CLUSTER")
	cfg.Secret = os.Getenv("STUDENTLINK_SECRET")
	return cfg
}

// Enabled reports whether all required configuration values are present.
func (c Config) Enabled() bool {
	return c.AppKey != "" && c.Cluster != "" && c.Secret != ""
}

// eventEnvelope is the wire shape of one event on a channel.
type eventEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// handle is the single live subscription for one channel name, shared by
// every callback bound to that channel.
type handle struct {
	name   string
	sub    Subscription
	events *emitter.Emitter
	refs   int
}

// Service is the managed channel subscription service. Construct once per
// process and hand to whatever needs it.
type Service struct {
	cfg      Config
	disabled bool
	dial     func(Config) (Transport, error)

	mu       sync.Mutex
	tr       Transport
	channels map[string]*handle
}

// New creates a Service using the NATS transport. If the required
// configuration values are missing, the returned service is inert: all
// operations succeed as no-ops.
func New(cfg Config) *Service {
	s := &Service{
		cfg:      cfg,
		dial:     dialNATS,
		channels: make(map[string]*handle),
	}
	if !cfg.Enabled() {
		s.disabled = true
		log.Printf("[channels] app key, cluster, or secret missing; realtime channels disabled")
	}
	return s
}

// NewWithTransport creates a Service bound to an existing transport. Used by
// tests and by deployments that manage the connection themselves. Unlike New
// it skips the enabled-config gate: the service is live even with incomplete
// credentials, and only private-channel subscriptions stay gated on the
// secret.
func NewWithTransport(cfg Config, tr Transport) *Service {
	return &Service{
		cfg:      cfg,
		tr:       tr,
		dial:     func(Config) (Transport, error) { return tr, nil },
		channels: make(map[string]*handle),
	}
}

// Subscribe binds cb to the given event on the named channel and returns the
// handler id for a later Detach. The first subscription to a channel creates
// the transport-level handle; subsequent ones reuse it, so subscribing twice
// costs one transport subscription while both callbacks fire on delivery.
func (s *Service) Subscribe(channel, event string, cb Callback) (emitter.HandlerID, error) {
	if s.disabled {
		return 0, nil
	}
	if IsPrivate(channel) && s.cfg.Secret == "" {
		log.Printf("[channels] refusing private channel %q without credential secret", channel)
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.connectLocked(); err != nil {
		return 0, err
	}

	h, ok := s.channels[channel]
	if !ok {
		events := emitter.New()
		sub, err := s.tr.Subscribe(channel, dispatchTo(channel, events))
		if err != nil {
			return 0, fmt.Errorf("channels: subscribe %s: %w", channel, err)
		}
		h = &handle{name: channel, sub: sub, events: events}
		s.channels[channel] = h
		metrics.ChannelSubscriptions.Set(float64(len(s.channels)))
		log.Printf("[channels] subscribed channel=%s", channel)
	}

	h.refs++
	id := h.events.On(event, func(data any) {
		if raw, ok := data.([]byte); ok {
			cb(raw)
		}
	})
	return id, nil
}

// Detach removes one callback binding and releases its reference on the
// channel handle. When the last reference is gone the transport subscription
// is torn down, and when no channels remain the transport connection itself
// is drained.
func (s *Service) Detach(channel, event string, id emitter.HandlerID) {
	if s.disabled {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.channels[channel]
	if !ok {
		return
	}

	h.events.Off(event, id)
	h.refs--
	if h.refs > 0 {
		return
	}

	s.teardownLocked(h)
	if len(s.channels) == 0 {
		s.drainLocked()
	}
}

// Unsubscribe tears down the channel's transport subscription regardless of
// remaining references. Idempotent if not subscribed.
func (s *Service) Unsubscribe(channel string) {
	if s.disabled {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.channels[channel]
	if !ok {
		return
	}
	s.teardownLocked(h)
}

// Publish sends an event envelope to the named channel.
func (s *Service) Publish(channel, event string, payload any) error {
	if s.disabled {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("channels: marshal %s payload: %w", event, err)
	}
	data, err := json.Marshal(eventEnvelope{Event: event, Data: raw})
	if err != nil {
		return fmt.Errorf("channels: marshal %s envelope: %w", event, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.connectLocked(); err != nil {
		return err
	}
	if err := s.tr.Publish(channel, data); err != nil {
		return fmt.Errorf("channels: publish %s: %w", channel, err)
	}
	return nil
}

// Disconnect tears down every subscription and the transport connection.
// Used on full process teardown, not per-view unmount.
func (s *Service) Disconnect() {
	if s.disabled {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, h := range s.channels {
		s.teardownLocked(h)
	}
	s.drainLocked()
}

// ConnectionState exposes the transport's authoritative state for
// diagnostics.
func (s *Service) ConnectionState() string {
	if s.disabled {
		return "disabled"
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tr == nil {
		return "disconnected"
	}
	return s.tr.Status()
}

// IsConnected reports whether the transport is currently connected.
func (s *Service) IsConnected() bool {
	if s.disabled {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tr != nil && s.tr.IsConnected()
}

// SubscribedChannels returns the number of live channel handles.
func (s *Service) SubscribedChannels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.channels)
}

// ---------------------------------------------------------------------------
// Convenience wrappers for the known channel/event pairs
// ---------------------------------------------------------------------------

// SubscribeConcernUpdates binds cb to global concern broadcasts.
func (s *Service) SubscribeConcernUpdates(cb Callback) (emitter.HandlerID, error) {
	return s.Subscribe(ChannelConcerns, EventConcernUpdated, cb)
}

// SubscribeDepartmentConcerns binds cb to the department-scoped private
// channel.
func (s *Service) SubscribeDepartmentConcerns(departmentID int64, cb Callback) (emitter.HandlerID, error) {
	return s.Subscribe(DepartmentChannel(departmentID), EventConcernUpdated, cb)
}

// SubscribeChatRoom binds cb to message events for one chat room.
func (s *Service) SubscribeChatRoom(roomID int64, cb Callback) (emitter.HandlerID, error) {
	return s.Subscribe(ChatRoomChannel(roomID), EventNewMessage, cb)
}

// SubscribeUserMessages binds cb to a user's private message delivery.
func (s *Service) SubscribeUserMessages(userID int64, cb Callback) (emitter.HandlerID, error) {
	return s.Subscribe(UserChannel(userID), EventMessageSent, cb)
}

// SubscribeTypingStatus binds cb to typing indicators for one chat room.
func (s *Service) SubscribeTypingStatus(roomID int64, cb Callback) (emitter.HandlerID, error) {
	return s.Subscribe(ChatRoomChannel(roomID), EventTypingStatus, cb)
}

// ---------------------------------------------------------------------------
// Internals
// ---------------------------------------------------------------------------

// connectLocked lazily establishes the transport connection.
func (s *Service) connectLocked() error {
	if s.tr != nil {
		return nil
	}
	tr, err := s.dial(s.cfg)
	if err != nil {
		return fmt.Errorf("channels: connect: %w", err)
	}
	s.tr = tr
	return nil
}

func (s *Service) teardownLocked(h *handle) {
	if err := h.sub.Unsubscribe(); err != nil {
		log.Printf("[channels] unsubscribe %s: %v", h.name, err)
	}
	delete(s.channels, h.name)
	metrics.ChannelSubscriptions.Set(float64(len(s.channels)))
	log.Printf("[channels] unsubscribed channel=%s", h.name)
}

func (s *Service) drainLocked() {
	if s.tr == nil {
		return
	}
	if err := s.tr.Drain(); err != nil {
		log.Printf("[channels] transport drain: %v", err)
	}
	s.tr = nil
}

// dispatchTo parses the event envelope off the wire and fans it out on the
// channel's emitter under the event name.
func dispatchTo(channel string, events *emitter.Emitter) func(data []byte) {
	return func(data []byte) {
		var env eventEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Printf("[channels] dropping malformed event on %s: %v", channel, err)
			return
		}
		if env.Event == "" {
			log.Printf("[channels] dropping event without name on %s", channel)
			return
		}
		metrics.ChannelEventsTotal.WithLabelValues(env.Event).Inc()
		events.Emit(env.Event, []byte(env.Data))
	}
}

// ---------------------------------------------------------------------------
// NATS transport
// ---------------------------------------------------------------------------

type natsTransport struct {
	conn *nats.Conn
}

func dialNATS(cfg Config) (Transport, error) {
	url := cfg.URL
	if url == "" {
		url = fmt.Sprintf("nats://nats.%s.studentlink.net:4222", cfg.Cluster)
	}
	name := cfg.Name
	if name == "" {
		name = "studentlink-" + cfg.AppID
	}

	opts := []nats.Option{
		nats.Name(name),
		nats.UserInfo(cfg.AppKey, cfg.Secret),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[channels] transport disconnected: %v", err)
			} else {
				log.Printf("[channels] transport disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[channels] transport reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[channels] transport connection closed")
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	log.Printf("[channels] transport connected to %s", nc.ConnectedUrl())
	return &natsTransport{conn: nc}, nil
}

func (t *natsTransport) Subscribe(subject string, handler func(data []byte)) (Subscription, error) {
	return t.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

func (t *natsTransport) Publish(subject string, data []byte) error {
	return t.conn.Publish(subject, data)
}

func (t *natsTransport) Status() string {
	return strings.ToLower(t.conn.Status().String())
}

func (t *natsTransport) IsConnected() bool {
	return t.conn.IsConnected()
}

func (t *natsTransport) Drain() error {
	return t.conn.Drain()
}
