package types

import (
	"time"
)

// Role identifies which side of a conversation produced a message. A room
// has exactly two logical roles: the asker who opened it and the responder
// who joined it from the directory.
type Role string

const (
	RoleAsker     Role = "asker"
	RoleResponder Role = "responder"
)

func (r Role) Valid() bool {
	return r == RoleAsker || r == RoleResponder
}

// NoMessagesPreview is the directory preview for a room with no history.
const NoMessagesPreview = "No messages yet"

// Message is a single immutable entry in a room's history. SeqId is
// 0-indexed and assigned by the registry at append time.
type Message struct {
	SeqId     int       `json:"seq_id"`
	RoomId    string    `json:"room_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// RoomSummary is the directory projection of a room: its id and the
// content of its most recent message.
type RoomSummary struct {
	RoomId  string `json:"room_id"`
	Preview string `json:"preview"`
}
