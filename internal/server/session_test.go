package server

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askdesk/askdesk/internal/registry"
	"github.com/askdesk/askdesk/internal/stats"
	"github.com/askdesk/askdesk/internal/testutil"
	"github.com/askdesk/askdesk/internal/types"
)

func newTestChatServer(t *testing.T) *ChatServer {
	t.Helper()
	return NewChatServer(testutil.TestLogger(t), registry.New(), stats.NewNoopStats())
}

func newTestClient(t *testing.T, cs *ChatServer, role types.Role) *Client {
	t.Helper()
	return &Client{
		id:         string(role) + "-conn",
		role:       role,
		chatServer: cs,
		log:        testutil.TestLogger(t),
		send:       make(chan *ServerMessage, 256),
		stop:       make(chan struct{}),
	}
}

func recvMessage(t *testing.T, c *Client) *ServerMessage {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
		return nil
	}
}

func assertNoMessage(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.send:
		t.Fatalf("expected no message, got %+v", msg)
	default:
	}
}

func Test_handleJoin(t *testing.T) {
	cs := newTestChatServer(t)
	cs.registry.GetOrCreate("r1")
	cs.registry.Append("r1", types.RoleAsker, "hello")

	session := newSession("r1", cs)
	c := newTestClient(t, cs, types.RoleResponder)

	session.handleJoin(&ClientMessage{
		BaseMessage: BaseMessage{Id: 1},
		Join:        &Join{RoomId: "r1"},
		client:      c,
	})

	msg := recvMessage(t, c)
	require.NotNil(t, msg.History, "expected a history snapshot on join")
	assert.Equal(t, 1, msg.Id, "expected snapshot to carry the request id")
	assert.Equal(t, "r1", msg.History.RoomId)
	require.Len(t, msg.History.Messages, 1)
	assert.Equal(t, "hello", msg.History.Messages[0].Content)

	assert.Contains(t, session.clients, c, "expected client to be bound after join")
	assert.Same(t, session, c.getRoom("r1"), "expected client room binding to point at the session")
}

func Test_handleJoin_supersedesPreviousBinding(t *testing.T) {
	cs := newTestChatServer(t)
	cs.registry.GetOrCreate("r1")
	cs.registry.GetOrCreate("r2")

	first := newSession("r1", cs)
	second := newSession("r2", cs)
	c := newTestClient(t, cs, types.RoleAsker)

	first.handleJoin(&ClientMessage{Join: &Join{RoomId: "r1"}, client: c})
	recvMessage(t, c)

	second.handleJoin(&ClientMessage{Join: &Join{RoomId: "r2"}, client: c})
	recvMessage(t, c)

	assert.Nil(t, c.getRoom("r1"), "expected old binding to be superseded")
	assert.Same(t, second, c.getRoom("r2"))

	select {
	case left := <-first.leaveChan:
		assert.Same(t, c, left, "expected old session to be told to drop the client")
	case <-time.After(time.Second):
		t.Fatal("timeout: old session never saw the leave")
	}
}

func Test_handlePublish(t *testing.T) {
	cs := newTestChatServer(t)
	cs.registry.GetOrCreate("r1")

	session := newSession("r1", cs)
	asker := newTestClient(t, cs, types.RoleAsker)
	responder := newTestClient(t, cs, types.RoleResponder)
	session.addClient(asker)
	session.addClient(responder)

	watcher := newTestClient(t, cs, types.RoleResponder)
	cs.directory.Subscribe(watcher, 0)
	recvMessage(t, watcher) // snapshot

	session.handlePublish(&ClientMessage{
		BaseMessage: BaseMessage{Id: 7},
		Publish:     &Publish{RoomId: "r1", Content: "hello", Kind: KindQuestion},
		client:      asker,
	})

	ack := recvMessage(t, asker)
	require.NotNil(t, ack.Response, "expected sender to be acked")
	assert.Equal(t, http.StatusAccepted, ack.Response.ResponseCode)

	// the sender receives the broadcast echo too
	echo := recvMessage(t, asker)
	require.NotNil(t, echo.Message)
	assert.Equal(t, 0, echo.Message.SeqId)
	assert.Equal(t, types.RoleAsker, echo.Message.Role)
	assert.Equal(t, "hello", echo.Message.Content)

	broadcast := recvMessage(t, responder)
	require.NotNil(t, broadcast.Message)
	assert.Equal(t, echo.Message, broadcast.Message, "expected both participants to observe the same append")

	update := recvMessage(t, watcher)
	require.NotNil(t, update.DirectoryUpdate, "expected a directory upsert after the append")
	assert.Equal(t, "r1", update.DirectoryUpdate.RoomId)
	assert.Equal(t, "hello", update.DirectoryUpdate.Preview)
	assert.False(t, update.DirectoryUpdate.Removed)

	assert.Equal(t, 1, cs.stats.(*stats.NoopStats).Value(StatMessagesTotal))
}

func Test_handlePublish_emptyMessage(t *testing.T) {
	cs := newTestChatServer(t)
	cs.registry.GetOrCreate("r1")

	session := newSession("r1", cs)
	asker := newTestClient(t, cs, types.RoleAsker)
	responder := newTestClient(t, cs, types.RoleResponder)
	session.addClient(asker)
	session.addClient(responder)

	session.handlePublish(&ClientMessage{
		BaseMessage: BaseMessage{Id: 3},
		Publish:     &Publish{RoomId: "r1", Content: "   ", Kind: KindQuestion},
		client:      asker,
	})

	errMsg := recvMessage(t, asker)
	require.NotNil(t, errMsg.Response, "expected a validation error for the sender")
	assert.Equal(t, http.StatusUnprocessableEntity, errMsg.Response.ResponseCode)

	assertNoMessage(t, asker)
	assertNoMessage(t, responder)
	assert.Empty(t, cs.registry.History("r1"), "expected no history mutation")
}

func Test_handlePublish_deletedRoom(t *testing.T) {
	cs := newTestChatServer(t)
	cs.registry.GetOrCreate("r1")
	cs.registry.Delete("r1")

	session := newSession("r1", cs)
	asker := newTestClient(t, cs, types.RoleAsker)
	session.addClient(asker)

	session.handlePublish(&ClientMessage{
		Publish: &Publish{RoomId: "r1", Content: "too late", Kind: KindQuestion},
		client:  asker,
	})

	// late sends to a deleted room are dropped, not errored
	assertNoMessage(t, asker)
}

func Test_handleTyping(t *testing.T) {
	cs := newTestChatServer(t)
	cs.registry.GetOrCreate("r1")

	session := newSession("r1", cs)
	asker := newTestClient(t, cs, types.RoleAsker)
	responder := newTestClient(t, cs, types.RoleResponder)
	session.addClient(asker)
	session.addClient(responder)

	session.handleTyping(&ClientMessage{
		Typing: &Typing{RoomId: "r1", Active: true},
		client: asker,
	})

	assert.Same(t, asker, session.typingClient, "expected typing holder to be set")
	assertNoMessage(t, asker)

	note := recvMessage(t, responder)
	require.NotNil(t, note.Notification)
	require.NotNil(t, note.Notification.Typing)
	assert.Equal(t, types.RoleAsker, note.Notification.Typing.Role)
	assert.True(t, note.Notification.Typing.Active)

	session.handleTyping(&ClientMessage{
		Typing: &Typing{RoomId: "r1", Active: false},
		client: asker,
	})

	assert.Nil(t, session.typingClient, "expected typing holder to be cleared")
	note = recvMessage(t, responder)
	assert.False(t, note.Notification.Typing.Active)
}

func Test_handlePublish_clearsTyping(t *testing.T) {
	cs := newTestChatServer(t)
	cs.registry.GetOrCreate("r1")

	session := newSession("r1", cs)
	asker := newTestClient(t, cs, types.RoleAsker)
	responder := newTestClient(t, cs, types.RoleResponder)
	session.addClient(asker)
	session.addClient(responder)

	session.handleTyping(&ClientMessage{Typing: &Typing{RoomId: "r1", Active: true}, client: asker})
	recvMessage(t, responder)

	session.handlePublish(&ClientMessage{
		Publish: &Publish{RoomId: "r1", Content: "done typing", Kind: KindQuestion},
		client:  asker,
	})

	assert.Nil(t, session.typingClient, "expected send to imply stop-typing")

	stopped := recvMessage(t, responder)
	require.NotNil(t, stopped.Notification, "expected typing-stopped before the message broadcast")
	assert.False(t, stopped.Notification.Typing.Active)

	broadcast := recvMessage(t, responder)
	assert.NotNil(t, broadcast.Message)
}

func Test_handleLeave_clearsTyping(t *testing.T) {
	cs := newTestChatServer(t)
	cs.registry.GetOrCreate("r1")

	session := newSession("r1", cs)
	asker := newTestClient(t, cs, types.RoleAsker)
	responder := newTestClient(t, cs, types.RoleResponder)
	session.addClient(asker)
	session.addClient(responder)

	session.handleTyping(&ClientMessage{Typing: &Typing{RoomId: "r1", Active: true}, client: asker})
	recvMessage(t, responder)

	session.handleLeave(asker)

	assert.NotContains(t, session.clients, asker)
	assert.Nil(t, session.typingClient, "expected disconnect to clear the typing holder")

	stopped := recvMessage(t, responder)
	require.NotNil(t, stopped.Notification)
	assert.False(t, stopped.Notification.Typing.Active)
}

func Test_handleDelete(t *testing.T) {
	cs := newTestChatServer(t)
	cs.registry.GetOrCreate("r1")

	session := newSession("r1", cs)
	responder := newTestClient(t, cs, types.RoleResponder)
	session.addClient(responder)

	watcher := newTestClient(t, cs, types.RoleResponder)
	cs.directory.Subscribe(watcher, 0)
	recvMessage(t, watcher) // snapshot

	session.handleDelete(&ClientMessage{
		BaseMessage: BaseMessage{Id: 9},
		Delete:      &DeleteRoom{RoomId: "r1"},
		client:      responder,
	})

	assert.True(t, cs.registry.Deleted("r1"), "expected registry tombstone")

	ack := recvMessage(t, responder)
	require.NotNil(t, ack.Response)
	assert.Equal(t, http.StatusOK, ack.Response.ResponseCode)

	update := recvMessage(t, watcher)
	require.NotNil(t, update.DirectoryUpdate)
	assert.True(t, update.DirectoryUpdate.Removed, "expected directory retraction")

	select {
	case req := <-cs.unloadChan:
		assert.Equal(t, "r1", req.roomId)
		assert.True(t, req.deleted, "expected deleted unload request")
	default:
		t.Fatal("expected an unload request")
	}
}

func Test_handleDelete_duplicate(t *testing.T) {
	cs := newTestChatServer(t)
	cs.registry.GetOrCreate("r1")

	session := newSession("r1", cs)
	responder := newTestClient(t, cs, types.RoleResponder)
	session.addClient(responder)

	session.handleDelete(&ClientMessage{BaseMessage: BaseMessage{Id: 1}, Delete: &DeleteRoom{RoomId: "r1"}, client: responder})
	recvMessage(t, responder) // ack
	<-cs.unloadChan

	session.handleDelete(&ClientMessage{BaseMessage: BaseMessage{Id: 2}, Delete: &DeleteRoom{RoomId: "r1"}, client: responder})

	ack := recvMessage(t, responder)
	require.NotNil(t, ack.Response)
	assert.Equal(t, http.StatusOK, ack.Response.ResponseCode)
	assert.Empty(t, cs.unloadChan, "expected no second unload request")
}

func Test_handleTyping_afterDelete(t *testing.T) {
	cs := newTestChatServer(t)
	cs.registry.GetOrCreate("r1")

	session := newSession("r1", cs)
	asker := newTestClient(t, cs, types.RoleAsker)
	responder := newTestClient(t, cs, types.RoleResponder)
	session.addClient(asker)
	session.addClient(responder)

	session.handleDelete(&ClientMessage{Delete: &DeleteRoom{RoomId: "r1"}, client: responder})
	recvMessage(t, responder) // ack

	// the session is still loaded until the server unloads it; typing must
	// already be dropped
	session.handleTyping(&ClientMessage{Typing: &Typing{RoomId: "r1", Active: true}, client: asker})

	assertNoMessage(t, responder)
	assert.Nil(t, session.typingClient, "expected typing for a deleted room to be dropped")
}

func Test_handleJoin_afterDelete(t *testing.T) {
	cs := newTestChatServer(t)
	cs.registry.GetOrCreate("r1")

	session := newSession("r1", cs)
	responder := newTestClient(t, cs, types.RoleResponder)
	session.addClient(responder)

	session.handleDelete(&ClientMessage{Delete: &DeleteRoom{RoomId: "r1"}, client: responder})
	recvMessage(t, responder) // ack

	late := newTestClient(t, cs, types.RoleAsker)
	session.handleJoin(&ClientMessage{BaseMessage: BaseMessage{Id: 4}, Join: &Join{RoomId: "r1"}, client: late})

	assertNoMessage(t, late)
	assert.NotContains(t, session.clients, late, "expected a post-delete join to be dropped, not bound")
	assert.Nil(t, late.getRoom("r1"))

	// history requests racing the unload are dropped the same way
	session.handleHistory(&ClientMessage{History: &HistoryReq{RoomId: "r1"}, client: responder})
	assertNoMessage(t, responder)
}

func Test_handleSessionExit(t *testing.T) {
	cs := newTestChatServer(t)
	session := newSession("r1", cs)
	asker := newTestClient(t, cs, types.RoleAsker)
	responder := newTestClient(t, cs, types.RoleResponder)
	session.addClient(asker)
	session.addClient(responder)

	done := make(chan struct{})
	session.handleSessionExit(exitReq{deleted: true, done: done})

	select {
	case <-done:
	default:
		t.Fatal("expected done channel to be closed")
	}

	for _, c := range []*Client{asker, responder} {
		msg := recvMessage(t, c)
		require.NotNil(t, msg.Notification, "expected a room-deleted notification")
		require.NotNil(t, msg.Notification.RoomDeleted)
		assert.Equal(t, "r1", msg.Notification.RoomDeleted.RoomId)
		assert.Nil(t, c.getRoom("r1"), "expected binding to be cleared on exit")
	}
}

func Test_handleSessionExit_reroutesPendingJoins(t *testing.T) {
	cs := newTestChatServer(t)
	session := newSession("r1", cs)

	late := newTestClient(t, cs, types.RoleAsker)
	join := &ClientMessage{Join: &Join{RoomId: "r1"}, client: late}
	session.joinChan <- join

	// an idle unload must not swallow a join that raced the kill timer
	session.handleSessionExit(exitReq{})

	select {
	case rerouted := <-cs.joinChan:
		assert.Same(t, join, rerouted, "expected the pending join to be routed back to the server")
	default:
		t.Fatal("expected the pending join to be rerouted")
	}
}

func Test_handleSessionExit_dropsPendingJoinsWhenDeleted(t *testing.T) {
	cs := newTestChatServer(t)
	session := newSession("r1", cs)

	late := newTestClient(t, cs, types.RoleAsker)
	session.joinChan <- &ClientMessage{Join: &Join{RoomId: "r1"}, client: late}

	session.handleSessionExit(exitReq{deleted: true})

	assert.Empty(t, cs.joinChan, "expected pending joins for a deleted room to be dropped")
	assertNoMessage(t, late)
}

func Test_handleSessionTimeout(t *testing.T) {
	cs := newTestChatServer(t)
	session := newSession("r1", cs)

	session.handleSessionTimeout()

	select {
	case req := <-cs.unloadChan:
		assert.Equal(t, "r1", req.roomId)
		assert.False(t, req.deleted, "expected idle unload, not deletion")
	default:
		t.Fatal("expected an unload request")
	}
}
