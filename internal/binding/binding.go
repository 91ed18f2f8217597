// Package binding gives a dashboard view a declarative way to receive live
// concern updates without managing transport lifecycle itself. A Binding
// subscribes the view's callbacks to either the department-scoped channel or
// the global one, and on Close releases exactly the subscriptions it
// created. The channel service reference-counts attachments, so closing one
// binding never severs another view's live updates.
package binding

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/studentlink/realtime/internal/channels"
	"github.com/studentlink/realtime/internal/concerns"
	"github.com/studentlink/realtime/internal/emitter"
	"github.com/studentlink/realtime/internal/protocol"
)

// Options configures a Binding. Both callbacks are optional; a Binding with
// neither is valid but inert.
type Options struct {
	OnConcernUpdate   func(concerns.Event)
	OnChatRoomCreated func(protocol.ChatRoomCreated)
	DepartmentID      int64 // 0 means the global channel
	AutoConnect       bool
}

// DefaultOptions returns Options with AutoConnect enabled.
func DefaultOptions() Options {
	return Options{AutoConnect: true}
}

// attachment records one callback bound on the channel service so Close can
// detach exactly what Bind attached.
type attachment struct {
	channel string
	event   string
	id      emitter.HandlerID
}

// Binding wires a view's callbacks to the shared channel service.
type Binding struct {
	svc  *channels.Service
	opts Options

	mu       sync.Mutex
	attached []attachment
	bound    bool
}

// New creates a Binding on the shared channel service. With AutoConnect set
// (the default via DefaultOptions) the subscriptions are established
// immediately; otherwise the caller invokes Bind.
func New(svc *channels.Service, opts Options) (*Binding, error) {
	b := &Binding{svc: svc, opts: opts}
	if opts.AutoConnect {
		if err := b.Bind(); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Bind establishes the subscriptions for the configured scope. Calling Bind
// on an already-bound Binding is a no-op.
func (b *Binding) Bind() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bindLocked()
}

// Rebind tears down the current subscriptions and re-establishes them for a
// new department scope. Safe to call whenever the view's department changes;
// no handles are leaked.
func (b *Binding) Rebind(departmentID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.unbindLocked()
	b.opts.DepartmentID = departmentID
	return b.bindLocked()
}

// Close detaches every subscription this Binding created and releases its
// reference on the shared service. Safe to call more than once.
func (b *Binding) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unbindLocked()
}

// Channel returns the channel name this Binding is (or would be) attached
// to, given its current scope.
func (b *Binding) Channel() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.channelLocked()
}

func (b *Binding) channelLocked() string {
	if b.opts.DepartmentID != 0 {
		return channels.DepartmentChannel(b.opts.DepartmentID)
	}
	return channels.ChannelConcerns
}

func (b *Binding) bindLocked() error {
	if b.bound {
		return nil
	}

	channel := b.channelLocked()

	if b.opts.OnConcernUpdate != nil {
		cb := b.opts.OnConcernUpdate
		id, err := b.svc.Subscribe(channel, channels.EventConcernUpdated, func(data []byte) {
			ev, err := concerns.DecodeEvent(data)
			if err != nil {
				log.Printf("[binding] dropping concern event on %s: %v", channel, err)
				return
			}
			cb(ev)
		})
		if err != nil {
			return err
		}
		if id != 0 {
			b.attached = append(b.attached, attachment{channel, channels.EventConcernUpdated, id})
		}
	}

	if b.opts.OnChatRoomCreated != nil {
		cb := b.opts.OnChatRoomCreated
		id, err := b.svc.Subscribe(channel, channels.EventChatRoomCreated, func(data []byte) {
			var room protocol.ChatRoomCreated
			if err := json.Unmarshal(data, &room); err != nil {
				log.Printf("[binding] dropping chat room event on %s: %v", channel, err)
				return
			}
			cb(room)
		})
		if err != nil {
			b.unbindLocked()
			return err
		}
		if id != 0 {
			b.attached = append(b.attached, attachment{channel, channels.EventChatRoomCreated, id})
		}
	}

	b.bound = true
	return nil
}

func (b *Binding) unbindLocked() {
	for _, a := range b.attached {
		b.svc.Detach(a.channel, a.event, a.id)
	}
	b.attached = nil
	b.bound = false
}
