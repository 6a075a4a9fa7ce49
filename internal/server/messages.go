package server

import (
	"net/http"
	"time"

	"github.com/askdesk/askdesk/internal/types"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is the inbound wire envelope. Exactly one of the event
// fields is set per frame; the rest stay nil.
type ClientMessage struct {
	BaseMessage
	Join      *Join         `json:"join,omitempty"`
	History   *HistoryReq   `json:"history,omitempty"`
	Publish   *Publish      `json:"publish,omitempty"`
	Typing    *Typing       `json:"typing,omitempty"`
	Delete    *DeleteRoom   `json:"delete,omitempty"`
	Directory *DirectoryReq `json:"directory,omitempty"`
	client    *Client       `json:"-"`
}

type Join struct {
	RoomId string `json:"room_id" validate:"required"`
}

type HistoryReq struct {
	RoomId string `json:"room_id" validate:"required"`
}

const (
	KindQuestion = "question"
	KindResponse = "response"
)

type Publish struct {
	RoomId  string `json:"room_id" validate:"required"`
	Content string `json:"content" validate:"required"`
	Kind    string `json:"kind" validate:"required,oneof=question response"`
}

// Role maps the publish kind to the message role: questions come from the
// asker, responses from the responder.
func (p *Publish) Role() types.Role {
	if p.Kind == KindResponse {
		return types.RoleResponder
	}
	return types.RoleAsker
}

type Typing struct {
	RoomId string `json:"room_id" validate:"required"`
	Active bool   `json:"active"`
}

type DeleteRoom struct {
	RoomId string `json:"room_id" validate:"required"`
}

type DirectoryReq struct {
	Subscribe bool `json:"subscribe"`
}

// ServerMessage is the outbound wire envelope.
type ServerMessage struct {
	BaseMessage
	Response        *Response          `json:"response,omitempty"`
	History         *HistorySnapshot   `json:"history,omitempty"`
	Message         *types.Message     `json:"message,omitempty"`
	Notification    *Notification      `json:"notification,omitempty"`
	Directory       *DirectorySnapshot `json:"directory,omitempty"`
	DirectoryUpdate *DirectoryUpdate   `json:"directory_update,omitempty"`
	SkipClient      *Client            `json:"-"`
}

type Response struct {
	ResponseCode int            `json:"response_code"`
	Error        string         `json:"error,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

// HistorySnapshot is the full ordered history of a room, replayed as a
// single batch on join or on an explicit history request.
type HistorySnapshot struct {
	RoomId   string          `json:"room_id"`
	Messages []types.Message `json:"messages"`
}

type Notification struct {
	Typing      *TypingNotification `json:"typing,omitempty"`
	RoomDeleted *RoomDeleted        `json:"room_deleted,omitempty"`
}

type TypingNotification struct {
	RoomId string     `json:"room_id"`
	Role   types.Role `json:"role"`
	Active bool       `json:"active"`
}

type RoomDeleted struct {
	RoomId string `json:"room_id"`
}

type DirectorySnapshot struct {
	Rooms []types.RoomSummary `json:"rooms"`
}

type DirectoryUpdate struct {
	RoomId  string `json:"room_id"`
	Preview string `json:"preview,omitempty"`
	Removed bool   `json:"removed,omitempty"`
}

func NoErrOK(id int, data map[string]any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func NoErrAccepted(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusAccepted,
		},
	}
}

func ErrRoomNotFound(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusNotFound,
			Error:        "room not found",
		},
	}
}

func ErrEmptyMessage(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusUnprocessableEntity,
			Error:        "message content is empty",
		},
	}
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusServiceUnavailable,
			Error:        "service unavailable",
		},
	}
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusBadRequest,
			Error:        "invalid message format",
		},
	}

	if id > 0 {
		msg.Id = id
	}
	return msg
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
