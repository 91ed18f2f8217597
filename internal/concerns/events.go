package concerns

import (
	"encoding/json"
	"fmt"
)

// Wire event names carried inside the concern.updated channel envelope.
const (
	WireCreated = "concern.created"
	WireUpdated = "concern.updated"
	WireDeleted = "concern.deleted"
)

// Event is a tagged concern update. The closed set of implementations gives
// reconcilers and view callbacks exhaustive switches instead of untyped
// payload maps.
type Event interface {
	concernEvent()
}

// Created carries the full record of a newly created concern.
type Created struct {
	Concern Concern
}

// Updated carries a partial or full record for an existing concern.
type Updated struct {
	Patch Patch
}

// Deleted carries only the removed concern's ID.
type Deleted struct {
	ID int64
}

func (Created) concernEvent() {}
func (Updated) concernEvent() {}
func (Deleted) concernEvent() {}

// wireEvent is the payload shape on the managed channel: the event name plus
// either a record or a bare id.
type wireEvent struct {
	Event   string          `json:"event"`
	Concern json.RawMessage `json:"concern"`
	ID      int64           `json:"id"`
}

// DecodeEvent parses a concern event payload from a managed channel into its
// tagged variant.
func DecodeEvent(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("concerns: decode event: %w", err)
	}

	switch w.Event {
	case WireCreated:
		var c Concern
		if err := json.Unmarshal(w.Concern, &c); err != nil {
			return nil, fmt.Errorf("concerns: decode created record: %w", err)
		}
		return Created{Concern: c}, nil
	case WireUpdated:
		var p Patch
		if err := json.Unmarshal(w.Concern, &p); err != nil {
			return nil, fmt.Errorf("concerns: decode updated record: %w", err)
		}
		return Updated{Patch: p}, nil
	case WireDeleted:
		return Deleted{ID: w.ID}, nil
	default:
		return nil, fmt.Errorf("concerns: unknown event %q", w.Event)
	}
}
