package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"

	"github.com/askdesk/askdesk/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 1024
)

var validate = validator.New()

// Client is one websocket connection. It is bound to at most one room at a
// time; joining a new room supersedes the previous binding. Role is
// declared by the connecting view, not authenticated.
type Client struct {
	id         string
	role       types.Role
	conn       *websocket.Conn
	chatServer *ChatServer
	log        *log.Logger
	send       chan *ServerMessage
	room       *Session
	roomLock   sync.RWMutex
	stop       chan struct{}
	stopOnce   sync.Once
}

func NewClient(id string, role types.Role, conn *websocket.Conn, cs *ChatServer, l *log.Logger) *Client {
	return &Client{
		id:         id,
		role:       role,
		conn:       conn,
		chatServer: cs,
		log:        l,
		send:       make(chan *ServerMessage, 256),
		stop:       make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Println("error parsing message:", err)
			c.queueMessage(ErrInvalidMessage(-1))
			continue
		}

		msg.client = c
		msg.Timestamp = Now()

		// malformed frames are dropped before any state mutation
		if err := validate.Struct(&msg); err != nil {
			c.log.Printf("invalid payload from %q: %v", c.id, err)
			c.queueMessage(ErrInvalidMessage(msg.Id))
			continue
		}

		c.dispatch(&msg)
	}
}

func (c *Client) dispatch(msg *ClientMessage) {
	switch {
	case msg.Join != nil:
		c.joinRoom(msg)
	case msg.History != nil:
		c.routeToRoom(msg, msg.History.RoomId)
	case msg.Publish != nil:
		c.routeToRoom(msg, msg.Publish.RoomId)
	case msg.Typing != nil:
		// typing is best-effort: unroutable signals vanish silently
		if r := c.getRoom(msg.Typing.RoomId); r != nil {
			select {
			case r.clientMsgChan <- msg:
			default:
			}
		}
	case msg.Delete != nil:
		select {
		case c.chatServer.deleteChan <- msg:
		default:
			c.queueMessage(ErrServiceUnavailable(msg.Id))
		}
	case msg.Directory != nil:
		if msg.Directory.Subscribe {
			c.chatServer.directory.Subscribe(c, msg.Id)
		} else {
			c.chatServer.directory.Unsubscribe(c)
			c.queueMessage(NoErrOK(msg.Id, nil))
		}
	}
}

// routeToRoom forwards a message to the client's bound session. Events for
// a deleted room are silently dropped; events for a room the client never
// joined get a room-not-found response.
func (c *Client) routeToRoom(msg *ClientMessage, roomId string) {
	r := c.getRoom(roomId)
	if r == nil {
		if !c.chatServer.registry.Deleted(roomId) {
			c.queueMessage(ErrRoomNotFound(msg.Id))
		}
		return
	}

	select {
	case r.clientMsgChan <- msg:
	default:
		c.queueMessage(ErrServiceUnavailable(msg.Id))
		c.log.Printf("message channel full for room %q", roomId)
	}
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Printf("send channel full for connection %q, dropping message", c.id)
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

// cleanup runs when the read pump exits: disconnecting implicitly unbinds
// the client from its room and the directory feed, no leave handshake
// required.
func (c *Client) cleanup() {
	c.chatServer.deRegisterChan <- c
	c.chatServer.directory.Unsubscribe(c)
	c.leaveRoom()
	c.stopClient()
}

func (c *Client) joinRoom(msg *ClientMessage) {
	select {
	case c.chatServer.joinChan <- msg:
	default:
		c.log.Printf("join channel full")
		c.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

func (c *Client) leaveRoom() {
	c.roomLock.RLock()
	r := c.room
	c.roomLock.RUnlock()

	if r != nil {
		select {
		case r.leaveChan <- c:
		default:
			c.log.Printf("leave channel full for room %q", r.roomId)
		}
	}
}

// bindRoom makes s the client's current room. Any previous binding is
// superseded and the old session is told to drop the client.
func (c *Client) bindRoom(s *Session) {
	c.roomLock.Lock()
	old := c.room
	c.room = s
	c.roomLock.Unlock()

	if old != nil && old != s {
		select {
		case old.leaveChan <- c:
		default:
			c.log.Printf("leave channel full for room %q", old.roomId)
		}
	}
}

func (c *Client) clearRoom(s *Session) {
	c.roomLock.Lock()
	defer c.roomLock.Unlock()

	if c.room == s {
		c.room = nil
	}
}

func (c *Client) getRoom(id string) *Session {
	c.roomLock.RLock()
	defer c.roomLock.RUnlock()

	if c.room != nil && c.room.roomId == id {
		return c.room
	}

	return nil
}
