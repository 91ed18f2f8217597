package channels

import (
	"fmt"
	"strings"
)

// Channel naming conventions shared with the StudentLink backend. Channels
// carrying department- or user-scoped data use the "private-" class and
// require the credential secret.
const (
	// ChannelConcerns is the public channel for global concern broadcasts.
	ChannelConcerns = "concerns"

	privatePrefix = "private-"
)

// Event names delivered on managed channels.
const (
	EventConcernUpdated  = "concern.updated"
	EventChatRoomCreated = "chat_room.created"
	EventNewMessage      = "new_message"
	EventMessageSent     = "message.sent"
	EventTypingStatus    = "typing_status"
)

// DepartmentChannel returns the private channel name for department-scoped
// concern broadcasts.
func DepartmentChannel(departmentID int64) string {
	return fmt.Sprintf("private-concerns.department.%d", departmentID)
}

// ChatRoomChannel returns the channel name for per-room chat events.
func ChatRoomChannel(roomID int64) string {
	return fmt.Sprintf("chat.room.%d", roomID)
}

// UserChannel returns the private channel name for per-user message delivery.
func UserChannel(userID int64) string {
	return fmt.Sprintf("private-chat.user.%d", userID)
}

// IsPrivate reports whether a channel belongs to the authorized channel
// class.
func IsPrivate(channel string) bool {
	return strings.HasPrefix(channel, privatePrefix)
}
