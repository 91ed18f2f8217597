// Package protocol defines the WebSocket message types and structures used
// for the StudentLink live-update channel. All messages are serialized as
// JSON and follow a consistent envelope format with a type discriminator,
// a payload object, and a timestamp.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Server -> Client message types. This is a closed set: any other value is
// reported as ErrUnknownType so callers can log and drop it.
const (
	TypeChatMessage          = "chat_message"
	TypeChatRoomCreated      = "chat_room_created"
	TypeChatRoomUpdated      = "chat_room_updated"
	TypeUserOnline           = "user_online"
	TypeUserOffline          = "user_offline"
	TypeConcernAssigned      = "concern_assigned"
	TypeConcernStatusUpdated = "concern_status_updated"
)

// ErrUnknownType marks a well-formed envelope whose type is outside the
// closed set. It is distinguishable from a parse failure so that callers can
// treat the two differently in logs.
var ErrUnknownType = errors.New("protocol: unknown message type")

// ---------------------------------------------------------------------------
// Envelope is the outer frame of every socket message, parsed first to
// extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type, the raw payload for deferred parsing into
// a concrete struct, and the message timestamp (ISO-8601).
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It decodes the
// envelope fields and rejects messages without a type discriminator.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var partial struct {
		Type      string          `json:"type"`
		Data      json.RawMessage `json:"data"`
		Timestamp string          `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	e.Data = partial.Data
	e.Timestamp = partial.Timestamp
	return nil
}

// ---------------------------------------------------------------------------
// Server -> Client payload structs
// ---------------------------------------------------------------------------

// ChatMessage is a chat message delivered to a room the user participates in.
type ChatMessage struct {
	RoomID   int64  `json:"room_id"`
	SenderID int64  `json:"sender_id"`
	Text     string `json:"text"`
	SentAt   string `json:"sent_at"`
}

// ChatRoomCreated announces a newly created chat room.
type ChatRoomCreated struct {
	RoomID    int64  `json:"room_id"`
	Name      string `json:"name"`
	CreatedBy int64  `json:"created_by"`
}

// ChatRoomUpdated announces a change to an existing chat room.
type ChatRoomUpdated struct {
	RoomID int64  `json:"room_id"`
	Name   string `json:"name"`
}

// UserOnline signals that a user's presence changed to online.
type UserOnline struct {
	UserID int64 `json:"user_id"`
}

// UserOffline signals that a user's presence changed to offline.
type UserOffline struct {
	UserID int64 `json:"user_id"`
}

// ConcernAssigned signals that a concern was assigned to a staff member.
type ConcernAssigned struct {
	ConcernID    int64 `json:"concern_id"`
	AssignedTo   int64 `json:"assigned_to"`
	DepartmentID int64 `json:"department_id"`
}

// ConcernStatusUpdated signals a concern status transition.
type ConcernStatusUpdated struct {
	ConcernID int64  `json:"concern_id"`
	Status    string `json:"status"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseInbound parses raw WebSocket bytes into a typed server message. It
// returns the message type string, the decoded payload struct, and any error
// encountered during parsing. A type outside the closed set yields an error
// wrapping ErrUnknownType alongside the type string.
func ParseInbound(data []byte) (string, any, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg any
		err error
	)

	switch env.Type {
	case TypeChatMessage:
		var m ChatMessage
		err = json.Unmarshal(env.Data, &m)
		msg = m
	case TypeChatRoomCreated:
		var m ChatRoomCreated
		err = json.Unmarshal(env.Data, &m)
		msg = m
	case TypeChatRoomUpdated:
		var m ChatRoomUpdated
		err = json.Unmarshal(env.Data, &m)
		msg = m
	case TypeUserOnline:
		var m UserOnline
		err = json.Unmarshal(env.Data, &m)
		msg = m
	case TypeUserOffline:
		var m UserOffline
		err = json.Unmarshal(env.Data, &m)
		msg = m
	case TypeConcernAssigned:
		var m ConcernAssigned
		err = json.Unmarshal(env.Data, &m)
		msg = m
	case TypeConcernStatusUpdated:
		var m ConcernStatusUpdated
		err = json.Unmarshal(env.Data, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewOutbound creates a JSON-encoded envelope for an outbound message. The
// timestamp is generated at build time in RFC 3339 UTC form.
func NewOutbound(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	out, err := json.Marshal(Envelope{
		Type:      msgType,
		Data:      raw,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal outbound message: %w", err)
	}
	return out, nil
}
