// Package emitter provides a small in-process event registry that decouples
// transport message arrival from the code reacting to it. Handlers registered
// under an event name are invoked in registration order; a panicking handler
// never prevents the remaining handlers from running.
package emitter

import (
	"log"
	"sync"
)

// Handler is a callback invoked with the event payload.
type Handler func(data any)

// HandlerID identifies a single registration so it can be removed later.
// Go function values are not comparable, so On hands out a token instead of
// matching on the callback itself.
type HandlerID int64

type registration struct {
	id HandlerID
	fn Handler
}

// Emitter is an instance-scoped event registry. Each transport client owns
// its own Emitter; there is no process-wide registry.
type Emitter struct {
	mu       sync.Mutex
	nextID   HandlerID
	handlers map[string][]registration
}

// New creates an empty Emitter ready for use.
func New() *Emitter {
	return &Emitter{
		handlers: make(map[string][]registration),
	}
}

// On registers fn under the given event name and returns its HandlerID.
// Registering the same function twice yields two independent registrations;
// callers are responsible for a symmetric Off per On. An empty event name or
// nil handler is ignored and returns 0.
func (e *Emitter) On(event string, fn Handler) HandlerID {
	if event == "" || fn == nil {
		return 0
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	id := e.nextID
	e.handlers[event] = append(e.handlers[event], registration{id: id, fn: fn})
	return id
}

// Off removes the registration with the given id under the event name.
// It is a no-op if the id is not registered there.
func (e *Emitter) Off(event string, id HandlerID) {
	e.mu.Lock()
	defer e.mu.Unlock()

	regs := e.handlers[event]
	for i, r := range regs {
		if r.id == id {
			e.handlers[event] = append(regs[:i], regs[i+1:]...)
			break
		}
	}
	if len(e.handlers[event]) == 0 {
		delete(e.handlers, event)
	}
}

// Emit invokes every handler registered for the event, in registration order,
// passing data. Each invocation is isolated: a panic is recovered and logged
// so the remaining handlers still run.
func (e *Emitter) Emit(event string, data any) {
	e.mu.Lock()
	regs := make([]registration, len(e.handlers[event]))
	copy(regs, e.handlers[event])
	e.mu.Unlock()

	for _, r := range regs {
		invoke(event, r.fn, data)
	}
}

// HandlerCount returns the number of handlers registered for the event.
func (e *Emitter) HandlerCount(event string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.handlers[event])
}

func invoke(event string, fn Handler, data any) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[emitter] handler panic event=%s: %v", event, r)
		}
	}()
	fn(data)
}
