package server

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askdesk/askdesk/internal/types"
)

func TestPublishRole(t *testing.T) {
	assert.Equal(t, types.RoleAsker, (&Publish{Kind: KindQuestion}).Role())
	assert.Equal(t, types.RoleResponder, (&Publish{Kind: KindResponse}).Role())
}

func TestResponseConstructors(t *testing.T) {
	tcases := []struct {
		name     string
		msg      *ServerMessage
		code     int
		hasError bool
	}{
		{name: "ok", msg: NoErrOK(1, nil), code: http.StatusOK},
		{name: "accepted", msg: NoErrAccepted(1), code: http.StatusAccepted},
		{name: "room not found", msg: ErrRoomNotFound(1), code: http.StatusNotFound, hasError: true},
		{name: "empty message", msg: ErrEmptyMessage(1), code: http.StatusUnprocessableEntity, hasError: true},
		{name: "service unavailable", msg: ErrServiceUnavailable(1), code: http.StatusServiceUnavailable, hasError: true},
		{name: "invalid message", msg: ErrInvalidMessage(1), code: http.StatusBadRequest, hasError: true},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			require.NotNil(t, tc.msg.Response)
			assert.Equal(t, 1, tc.msg.Id)
			assert.Equal(t, tc.code, tc.msg.Response.ResponseCode)
			if tc.hasError {
				assert.NotEmpty(t, tc.msg.Response.Error)
			} else {
				assert.Empty(t, tc.msg.Response.Error)
			}
			assert.False(t, tc.msg.Timestamp.IsZero(), "expected a timestamp")
		})
	}
}

func TestErrInvalidMessage_unknownId(t *testing.T) {
	msg := ErrInvalidMessage(-1)
	assert.Zero(t, msg.Id, "expected no id echo when the frame had none")
}

func TestClientMessageValidation(t *testing.T) {
	tcases := []struct {
		name string
		msg  *ClientMessage
		err  bool
	}{
		{name: "valid join", msg: &ClientMessage{Join: &Join{RoomId: "r1"}}},
		{name: "join without room id", msg: &ClientMessage{Join: &Join{}}, err: true},
		{name: "valid publish", msg: &ClientMessage{Publish: &Publish{RoomId: "r1", Content: "hi", Kind: KindQuestion}}},
		{name: "publish without content", msg: &ClientMessage{Publish: &Publish{RoomId: "r1", Kind: KindQuestion}}, err: true},
		{name: "publish with bad kind", msg: &ClientMessage{Publish: &Publish{RoomId: "r1", Content: "hi", Kind: "announcement"}}, err: true},
		{name: "typing without room id", msg: &ClientMessage{Typing: &Typing{Active: true}}, err: true},
		{name: "valid delete", msg: &ClientMessage{Delete: &DeleteRoom{RoomId: "r1"}}},
		{name: "valid directory", msg: &ClientMessage{Directory: &DirectoryReq{Subscribe: true}}},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			err := validate.Struct(tc.msg)
			if tc.err {
				assert.Error(t, err, "expected structural validation to reject the frame")
				return
			}
			assert.NoError(t, err)
		})
	}
}
