package server

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/askdesk/askdesk/internal/registry"
)

const idleSessionTimeout = time.Second * 5

type exitReq struct {
	deleted bool
	done    chan struct{}
}

// Session is the per-room coordinator. A single goroutine owns all room
// mutations, so events for one room are serialized by the mailbox while
// unrelated rooms run concurrently.
type Session struct {
	roomId        string
	cs            *ChatServer
	joinChan      chan *ClientMessage
	leaveChan     chan *Client
	clientMsgChan chan *ClientMessage
	clients       map[*Client]struct{}
	clientLock    sync.RWMutex
	// typingClient is the last participant to signal typing, nil when the
	// indicator is clear. Later signals always override earlier ones.
	typingClient *Client
	// deleted flips on the first delete request. The mailbox keeps draining
	// until the server unloads the session, but every event except the exit
	// is dropped once set.
	deleted bool
	log     *log.Logger
	// killTimer unloads the session when no clients remain. Registry state
	// survives an unload; a rejoin reloads history.
	killTimer *time.Timer
	exit      chan exitReq
}

func newSession(roomId string, cs *ChatServer) *Session {
	s := &Session{
		roomId:        roomId,
		cs:            cs,
		joinChan:      make(chan *ClientMessage, 256),
		leaveChan:     make(chan *Client, 256),
		clientMsgChan: make(chan *ClientMessage, 256),
		clients:       make(map[*Client]struct{}),
		log:           cs.log,
		exit:          make(chan exitReq),
	}
	s.killTimer = time.NewTimer(idleSessionTimeout)
	s.killTimer.Stop()

	return s
}

func (s *Session) start() {
	s.log.Printf("starting session for room %q", s.roomId)

	for {
		select {
		case join := <-s.joinChan:
			s.handleJoin(join)
		case c := <-s.leaveChan:
			s.handleLeave(c)
		case msg := <-s.clientMsgChan:
			switch {
			case msg.Publish != nil:
				s.handlePublish(msg)
			case msg.Typing != nil:
				s.handleTyping(msg)
			case msg.Delete != nil:
				s.handleDelete(msg)
			case msg.History != nil:
				s.handleHistory(msg)
			}
		case <-s.killTimer.C:
			s.handleSessionTimeout()
		case e := <-s.exit:
			s.handleSessionExit(e)
			return
		}
	}
}

func (s *Session) handleSessionTimeout() {
	s.log.Printf("session for room %q timed out", s.roomId)
	select {
	case s.cs.unloadChan <- unloadReq{roomId: s.roomId}:
	default:
		// retry on the next tick if the server is busy
		s.killTimer.Reset(idleSessionTimeout)
	}
}

func (s *Session) handleSessionExit(e exitReq) {
	s.log.Printf("session for room %q is exiting", s.roomId)
	if e.deleted {
		s.broadcast(&ServerMessage{
			BaseMessage: BaseMessage{
				Timestamp: Now(),
			},
			Notification: &Notification{
				RoomDeleted: &RoomDeleted{RoomId: s.roomId},
			},
		})
	}

	s.clientLock.Lock()
	for c := range s.clients {
		c.clearRoom(s)
	}
	s.clientLock.Unlock()

	// an idle unload can race a join already sitting in the mailbox; route
	// it back through the server so it lands on a fresh session instead of
	// vanishing with this one
drain:
	for {
		select {
		case join := <-s.joinChan:
			if e.deleted {
				continue
			}
			select {
			case s.cs.joinChan <- join:
			default:
				join.client.queueMessage(ErrServiceUnavailable(join.Id))
			}
		default:
			break drain
		}
	}

	if e.done != nil {
		close(e.done)
	}
}

// handleJoin replays the room's full history to the joining client as a
// single snapshot, then binds the client for live events. Joins landing
// after deletion are dropped.
func (s *Session) handleJoin(join *ClientMessage) {
	if s.deleted {
		return
	}

	s.killTimer.Stop()

	c := join.client
	s.addClient(c)

	c.queueMessage(&ServerMessage{
		BaseMessage: BaseMessage{
			Id:        join.Id,
			Timestamp: Now(),
		},
		History: &HistorySnapshot{
			RoomId:   s.roomId,
			Messages: s.cs.registry.History(s.roomId),
		},
	})
}

func (s *Session) handleHistory(msg *ClientMessage) {
	if s.deleted {
		return
	}

	msg.client.queueMessage(&ServerMessage{
		BaseMessage: BaseMessage{
			Id:        msg.Id,
			Timestamp: Now(),
		},
		History: &HistorySnapshot{
			RoomId:   s.roomId,
			Messages: s.cs.registry.History(s.roomId),
		},
	})
}

func (s *Session) handleLeave(c *Client) {
	s.removeClient(c)

	// a participant that disconnects mid-typing must not leave a stuck
	// indicator behind
	if s.typingClient == c {
		s.clearTyping(c)
	}
}

// handlePublish appends the message through the registry and echoes the
// broadcast to every client in the room, sender included. The echo is the
// single source of truth for render order.
func (s *Session) handlePublish(msg *ClientMessage) {
	if s.deleted {
		return
	}

	appended, err := s.cs.registry.Append(s.roomId, msg.Publish.Role(), msg.Publish.Content)
	if err != nil {
		// validation failures go only to the offending caller
		switch {
		case errors.Is(err, registry.ErrEmptyMessage):
			msg.client.queueMessage(ErrEmptyMessage(msg.Id))
		case errors.Is(err, registry.ErrRoomNotFound):
			if !s.cs.registry.Deleted(s.roomId) {
				msg.client.queueMessage(ErrRoomNotFound(msg.Id))
			}
		}
		return
	}

	// a send implies the sender stopped typing
	if s.typingClient == msg.client {
		s.clearTyping(msg.client)
	}

	msg.client.queueMessage(NoErrAccepted(msg.Id))

	s.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: appended.Timestamp,
		},
		Message: &appended,
	})

	s.cs.directory.Upsert(s.roomId, appended.Content)
	s.cs.stats.Incr(StatMessagesTotal)
}

func (s *Session) handleTyping(msg *ClientMessage) {
	if s.deleted {
		return
	}

	if msg.Typing.Active {
		s.typingClient = msg.client
	} else {
		s.typingClient = nil
	}

	s.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Notification: &Notification{
			Typing: &TypingNotification{
				RoomId: s.roomId,
				Role:   msg.client.role,
				Active: msg.Typing.Active,
			},
		},
		SkipClient: msg.client,
	})
}

func (s *Session) clearTyping(c *Client) {
	s.typingClient = nil
	s.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Notification: &Notification{
			Typing: &TypingNotification{
				RoomId: s.roomId,
				Role:   c.role,
				Active: false,
			},
		},
		SkipClient: c,
	})
}

// handleDelete tombstones the room and asks the server to unload the
// session. The room-deleted broadcast happens once, on exit. A repeated
// delete is acked and nothing else.
func (s *Session) handleDelete(msg *ClientMessage) {
	if s.deleted {
		msg.client.queueMessage(NoErrOK(msg.Id, nil))
		return
	}

	s.deleted = true
	s.cs.registry.Delete(s.roomId)
	msg.client.queueMessage(NoErrOK(msg.Id, nil))

	s.cs.directory.Retract(s.roomId)

	select {
	case s.cs.unloadChan <- unloadReq{roomId: s.roomId, deleted: true}:
	default:
		s.log.Printf("unload channel full for room %q", s.roomId)
	}
}

func (s *Session) addClient(c *Client) {
	s.clientLock.Lock()
	defer s.clientLock.Unlock()

	s.clients[c] = struct{}{}
	c.bindRoom(s)
}

func (s *Session) removeClient(c *Client) {
	s.clientLock.Lock()
	defer s.clientLock.Unlock()

	if _, ok := s.clients[c]; !ok {
		return
	}

	delete(s.clients, c)
	c.clearRoom(s)

	if len(s.clients) == 0 {
		s.log.Printf("no clients in room %q, starting kill timer", s.roomId)
		s.killTimer.Reset(idleSessionTimeout)
	}
}

func (s *Session) broadcast(msg *ServerMessage) {
	s.clientLock.RLock()
	defer s.clientLock.RUnlock()

	for client := range s.clients {
		if client == msg.SkipClient {
			continue
		}

		client.queueMessage(msg)
	}
}
