package channels

import (
	"encoding/json"
	"sync"
	"testing"
)

// fakeTransport records subscriptions and lets tests deliver payloads.
type fakeTransport struct {
	mu          sync.Mutex
	handlers    map[string][]func([]byte)
	subscribes  int
	unsubs      int
	drains      int
	published   map[string][][]byte
	isConnected bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		handlers:    make(map[string][]func([]byte)),
		published:   make(map[string][][]byte),
		isConnected: true,
	}
}

type fakeSubscription struct {
	tr      *fakeTransport
	subject string
}

func (s *fakeSubscription) Unsubscribe() error {
	s.tr.mu.Lock()
	defer s.tr.mu.Unlock()
	s.tr.unsubs++
	delete(s.tr.handlers, s.subject)
	return nil
}

func (t *fakeTransport) Subscribe(subject string, handler func([]byte)) (Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subscribes++
	t.handlers[subject] = append(t.handlers[subject], handler)
	return &fakeSubscription{tr: t, subject: subject}, nil
}

func (t *fakeTransport) Publish(subject string, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.published[subject] = append(t.published[subject], data)
	return nil
}

func (t *fakeTransport) Status() string    { return "connected" }
func (t *fakeTransport) IsConnected() bool { return t.isConnected }
func (t *fakeTransport) Drain() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.drains++
	return nil
}

// deliver pushes a raw wire payload to every handler on the subject.
func (t *fakeTransport) deliver(subject string, payload string) {
	t.mu.Lock()
	handlers := append([]func([]byte){}, t.handlers[subject]...)
	t.mu.Unlock()
	for _, h := range handlers {
		h([]byte(payload))
	}
}

func enabledConfig() Config {
	cfg := DefaultConfig()
	cfg.AppID = "studentlink"
	cfg.AppKey = "key"
	cfg.Cluster = "ap1"
	cfg.Secret = "secret"
	return cfg
}

func TestDisabledServiceIsInert(t *testing.T) {
	svc := New(Config{}) // no credentials

	id, err := svc.Subscribe(ChannelConcerns, EventConcernUpdated, func([]byte) {
		t.Error("callback must never fire on a disabled service")
	})
	if err != nil {
		t.Fatalf("disabled subscribe must not error, got %v", err)
	}
	if id != 0 {
		t.Errorf("disabled subscribe should return id 0, got %d", id)
	}

	svc.Unsubscribe(ChannelConcerns)
	svc.Detach(ChannelConcerns, EventConcernUpdated, id)
	svc.Disconnect()
	if err := svc.Publish(ChannelConcerns, EventConcernUpdated, nil); err != nil {
		t.Errorf("disabled publish must not error, got %v", err)
	}
	if got := svc.ConnectionState(); got != "disabled" {
		t.Errorf("state = %q, want disabled", got)
	}
	if svc.IsConnected() {
		t.Error("disabled service must not report connected")
	}
}

func TestIdempotentSubscribe(t *testing.T) {
	tr := newFakeTransport()
	svc := NewWithTransport(enabledConfig(), tr)

	var first, second int
	if _, err := svc.Subscribe(ChannelConcerns, EventConcernUpdated, func([]byte) { first++ }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := svc.Subscribe(ChannelConcerns, EventConcernUpdated, func([]byte) { second++ }); err != nil {
		t.Fatalf("second subscribe: %v", err)
	}

	if tr.subscribes != 1 {
		t.Errorf("transport subscriptions = %d, want 1", tr.subscribes)
	}
	if got := svc.SubscribedChannels(); got != 1 {
		t.Errorf("handle count = %d, want 1", got)
	}

	tr.deliver(ChannelConcerns, `{"event":"concern.updated","data":{"event":"concern.deleted","id":4}}`)

	if first != 1 || second != 1 {
		t.Errorf("both callbacks should fire once, got %d and %d", first, second)
	}
}

func TestEventNameRouting(t *testing.T) {
	tr := newFakeTransport()
	svc := NewWithTransport(enabledConfig(), tr)

	var concern, typing int
	roomChannel := ChatRoomChannel(12)
	if _, err := svc.Subscribe(roomChannel, EventNewMessage, func([]byte) { concern++ }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := svc.Subscribe(roomChannel, EventTypingStatus, func([]byte) { typing++ }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	tr.deliver(roomChannel, `{"event":"typing_status","data":{"user_id":1,"is_typing":true}}`)

	if concern != 0 {
		t.Errorf("new_message callback should not fire for typing_status, got %d", concern)
	}
	if typing != 1 {
		t.Errorf("typing_status callback should fire once, got %d", typing)
	}
}

func TestMalformedEventDropped(t *testing.T) {
	tr := newFakeTransport()
	svc := NewWithTransport(enabledConfig(), tr)

	calls := 0
	if _, err := svc.Subscribe(ChannelConcerns, EventConcernUpdated, func([]byte) { calls++ }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	tr.deliver(ChannelConcerns, `not json`)
	tr.deliver(ChannelConcerns, `{"data":{"id":1}}`) // missing event name

	if calls != 0 {
		t.Errorf("malformed events must not reach callbacks, got %d calls", calls)
	}
}

func TestDetachRefCounting(t *testing.T) {
	tr := newFakeTransport()
	svc := NewWithTransport(enabledConfig(), tr)

	id1, _ := svc.Subscribe(ChannelConcerns, EventConcernUpdated, func([]byte) {})
	id2, _ := svc.Subscribe(ChannelConcerns, EventConcernUpdated, func([]byte) {})

	svc.Detach(ChannelConcerns, EventConcernUpdated, id1)
	if tr.unsubs != 0 {
		t.Fatalf("handle must survive while references remain, unsubs = %d", tr.unsubs)
	}
	if got := svc.SubscribedChannels(); got != 1 {
		t.Errorf("handle count = %d, want 1", got)
	}

	svc.Detach(ChannelConcerns, EventConcernUpdated, id2)
	if tr.unsubs != 1 {
		t.Errorf("last detach should tear down the handle, unsubs = %d", tr.unsubs)
	}
	if got := svc.SubscribedChannels(); got != 0 {
		t.Errorf("handle count = %d, want 0", got)
	}
	if tr.drains != 1 {
		t.Errorf("transport should drain when the last channel goes, drains = %d", tr.drains)
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	tr := newFakeTransport()
	svc := NewWithTransport(enabledConfig(), tr)

	svc.Unsubscribe("never-subscribed")

	if _, err := svc.Subscribe(ChannelConcerns, EventConcernUpdated, func([]byte) {}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	svc.Unsubscribe(ChannelConcerns)
	svc.Unsubscribe(ChannelConcerns)

	if tr.unsubs != 1 {
		t.Errorf("unsubs = %d, want 1", tr.unsubs)
	}
}

func TestDisconnectClearsEverything(t *testing.T) {
	tr := newFakeTransport()
	svc := NewWithTransport(enabledConfig(), tr)

	svc.Subscribe(ChannelConcerns, EventConcernUpdated, func([]byte) {})
	svc.Subscribe(DepartmentChannel(3), EventConcernUpdated, func([]byte) {})

	svc.Disconnect()

	if got := svc.SubscribedChannels(); got != 0 {
		t.Errorf("handle count after Disconnect = %d, want 0", got)
	}
	if tr.unsubs != 2 {
		t.Errorf("unsubs = %d, want 2", tr.unsubs)
	}
	if tr.drains != 1 {
		t.Errorf("drains = %d, want 1", tr.drains)
	}
}

func TestPrivateChannelRequiresSecret(t *testing.T) {
	cfg := enabledConfig()
	cfg.Secret = ""
	tr := newFakeTransport()
	svc := NewWithTransport(cfg, tr)

	id, err := svc.Subscribe(DepartmentChannel(9), EventConcernUpdated, func([]byte) {})
	if err != nil {
		t.Fatalf("refusal must be a no-op, not an error: %v", err)
	}
	if id != 0 || tr.subscribes != 0 {
		t.Errorf("private channel without secret must not subscribe (id=%d subs=%d)", id, tr.subscribes)
	}

	// Public channels still work with only the secret missing.
	if _, err := svc.Subscribe(ChannelConcerns, EventConcernUpdated, func([]byte) {}); err != nil {
		t.Fatalf("public subscribe: %v", err)
	}
	if tr.subscribes != 1 {
		t.Errorf("public channel should subscribe, subs = %d", tr.subscribes)
	}
}

func TestPublishWireShape(t *testing.T) {
	tr := newFakeTransport()
	svc := NewWithTransport(enabledConfig(), tr)

	payload := map[string]any{"id": 7}
	if err := svc.Publish(ChannelConcerns, EventConcernUpdated, payload); err != nil {
		t.Fatalf("publish: %v", err)
	}

	msgs := tr.published[ChannelConcerns]
	if len(msgs) != 1 {
		t.Fatalf("published messages = %d, want 1", len(msgs))
	}

	var env struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(msgs[0], &env); err != nil {
		t.Fatalf("published payload should be a valid envelope: %v", err)
	}
	if env.Event != EventConcernUpdated {
		t.Errorf("event = %q, want %q", env.Event, EventConcernUpdated)
	}
}

func TestChannelNames(t *testing.T) {
	if got := DepartmentChannel(42); got != "private-concerns.department.42" {
		t.Errorf("department channel = %q", got)
	}
	if got := ChatRoomChannel(7); got != "chat.room.7" {
		t.Errorf("chat room channel = %q", got)
	}
	if got := UserChannel(3); got != "private-chat.user.3" {
		t.Errorf("user channel = %q", got)
	}
	if !IsPrivate(DepartmentChannel(1)) || !IsPrivate(UserChannel(1)) {
		t.Error("department and user channels are private")
	}
	if IsPrivate(ChannelConcerns) || IsPrivate(ChatRoomChannel(1)) {
		t.Error("concerns and chat room channels are public")
	}
}
