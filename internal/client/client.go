package client

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/teris-io/shortid"

	"github.com/askdesk/askdesk/internal/server"
	"github.com/askdesk/askdesk/internal/types"
)

// NewRoomId generates a client-side room id. Collisions resolve
// first-writer-wins on the server, so a low-entropy short id is acceptable.
func NewRoomId() (string, error) {
	return shortid.Generate()
}

// ChatClient is a websocket client speaking the askdesk wire protocol. It
// owns one SessionState for the currently joined room and one
// DirectoryState when subscribed, applying every inbound event to them in
// arrival order.
type ChatClient struct {
	conn      *websocket.Conn
	log       *log.Logger
	role      types.Role
	writeLock sync.Mutex
	nextId    atomic.Int64

	sessionLock sync.RWMutex
	session     *SessionState

	directory *DirectoryState

	// Responses carries acks and caller-local errors. Slow consumers lose
	// responses rather than blocking the read loop.
	Responses chan *server.Response

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// Dial connects to a server's /ws endpoint with the declared role and
// starts the read loop.
func Dial(ctx context.Context, wsURL string, role types.Role, l *log.Logger) (*ChatClient, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("invalid role %q", role)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, fmt.Sprintf("%s?role=%s", wsURL, role), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	c := &ChatClient{
		conn:      conn,
		log:       l,
		role:      role,
		directory: NewDirectoryState(),
		Responses: make(chan *server.Response, 64),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	go c.readLoop()

	return c, nil
}

func (c *ChatClient) readLoop() {
	defer close(c.done)

	for {
		var msg server.ServerMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			select {
			case <-c.stop:
			default:
				c.log.Printf("read: %v", err)
			}
			return
		}

		c.apply(&msg)
	}
}

// apply routes one inbound event to the owning view model. Each event is
// applied atomically with respect to readers of the state.
func (c *ChatClient) apply(msg *server.ServerMessage) {
	switch {
	case msg.Response != nil:
		select {
		case c.Responses <- msg.Response:
		default:
		}
	case msg.History != nil:
		if s := c.currentSession(msg.History.RoomId); s != nil {
			s.ApplySnapshot(msg.History.Messages)
		}
	case msg.Message != nil:
		if s := c.currentSession(msg.Message.RoomId); s != nil {
			s.ApplyMessage(*msg.Message)
		}
	case msg.Notification != nil:
		c.applyNotification(msg.Notification)
	case msg.Directory != nil:
		c.directory.ApplySnapshot(msg.Directory.Rooms)
	case msg.DirectoryUpdate != nil:
		c.directory.ApplyUpdate(msg.DirectoryUpdate.RoomId, msg.DirectoryUpdate.Preview, msg.DirectoryUpdate.Removed)
	}
}

func (c *ChatClient) applyNotification(n *server.Notification) {
	switch {
	case n.Typing != nil:
		if s := c.currentSession(n.Typing.RoomId); s != nil {
			s.ApplyTyping(n.Typing.Role, n.Typing.Active)
		}
	case n.RoomDeleted != nil:
		if s := c.currentSession(n.RoomDeleted.RoomId); s != nil {
			s.ApplyDeleted()
		}
	}
}

func (c *ChatClient) currentSession(roomId string) *SessionState {
	c.sessionLock.RLock()
	defer c.sessionLock.RUnlock()

	if c.session != nil && c.session.RoomId() == roomId {
		return c.session
	}

	return nil
}

// JoinRoom joins roomId, superseding any previous room binding, and
// returns the fresh session state the server will populate. onLeft fires
// once if the room is deleted while joined.
func (c *ChatClient) JoinRoom(roomId string, onLeft func()) (*SessionState, error) {
	session := NewSessionState(roomId, onLeft)

	c.sessionLock.Lock()
	c.session = session
	c.sessionLock.Unlock()

	err := c.write(&server.ClientMessage{
		Join: &server.Join{RoomId: roomId},
	})
	if err != nil {
		return nil, err
	}

	return session, nil
}

// Session returns the state for the currently joined room, if any.
func (c *ChatClient) Session() *SessionState {
	c.sessionLock.RLock()
	defer c.sessionLock.RUnlock()
	return c.session
}

// SendQuestion publishes asker content to the joined room.
func (c *ChatClient) SendQuestion(roomId, content string) error {
	return c.publish(roomId, content, server.KindQuestion)
}

// SendResponse publishes responder content to the joined room.
func (c *ChatClient) SendResponse(roomId, content string) error {
	return c.publish(roomId, content, server.KindResponse)
}

func (c *ChatClient) publish(roomId, content, kind string) error {
	return c.write(&server.ClientMessage{
		Publish: &server.Publish{
			RoomId:  roomId,
			Content: content,
			Kind:    kind,
		},
	})
}

// Typing signals the transient typing indicator for the joined room.
func (c *ChatClient) Typing(roomId string, active bool) error {
	return c.write(&server.ClientMessage{
		Typing: &server.Typing{RoomId: roomId, Active: active},
	})
}

// DeleteRoom requests terminal deletion of roomId.
func (c *ChatClient) DeleteRoom(roomId string) error {
	return c.write(&server.ClientMessage{
		Delete: &server.DeleteRoom{RoomId: roomId},
	})
}

// SubscribeDirectory subscribes to the room directory feed and returns the
// state the snapshot and deltas will be applied to.
func (c *ChatClient) SubscribeDirectory() (*DirectoryState, error) {
	err := c.write(&server.ClientMessage{
		Directory: &server.DirectoryReq{Subscribe: true},
	})
	if err != nil {
		return nil, err
	}

	return c.directory, nil
}

// Directory returns the directory state.
func (c *ChatClient) Directory() *DirectoryState {
	return c.directory
}

func (c *ChatClient) write(msg *server.ClientMessage) error {
	msg.Id = int(c.nextId.Add(1))
	msg.Timestamp = server.Now()

	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write: %w", err)
	}

	return nil
}

// Close tears down the connection; the server treats this as an implicit
// unbind from the room and directory feed.
func (c *ChatClient) Close() error {
	var err error
	c.stopOnce.Do(func() {
		close(c.stop)
		err = c.conn.Close()
		<-c.done
	})

	return err
}
