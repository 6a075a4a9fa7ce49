package server

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/askdesk/askdesk/internal/registry"
	"github.com/askdesk/askdesk/internal/stats"
)

const (
	StatActiveConnections    = "ActiveConnections"
	StatActiveSessions       = "ActiveSessions"
	StatMessagesTotal        = "MessagesTotal"
	StatDirectorySubscribers = "DirectorySubscribers"
)

type unloadReq struct {
	roomId  string
	deleted bool
}

// ChatServer owns the session map and routes joins, deletes and connection
// lifecycle. All session map access happens on the Run goroutine.
type ChatServer struct {
	log            *log.Logger
	registry       *registry.Registry
	directory      *DirectoryPublisher
	stats          stats.StatsProvider
	clients        map[*Client]struct{}
	clientsLock    sync.Mutex
	joinChan       chan *ClientMessage
	deleteChan     chan *ClientMessage
	registerChan   chan *Client
	deRegisterChan chan *Client
	unloadChan     chan unloadReq
	sessions       map[string]*Session
	stop           chan struct{}
	done           chan struct{}
}

func NewChatServer(logger *log.Logger, reg *registry.Registry, sp stats.StatsProvider) *ChatServer {
	for _, name := range []string{
		StatActiveConnections,
		StatActiveSessions,
		StatMessagesTotal,
		StatDirectorySubscribers,
	} {
		sp.RegisterMetric(name)
	}

	cs := &ChatServer{
		log:            logger,
		registry:       reg,
		stats:          sp,
		clients:        make(map[*Client]struct{}),
		joinChan:       make(chan *ClientMessage, 256),
		deleteChan:     make(chan *ClientMessage, 256),
		registerChan:   make(chan *Client),
		deRegisterChan: make(chan *Client),
		unloadChan:     make(chan unloadReq, 256),
		sessions:       make(map[string]*Session),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
	cs.directory = NewDirectoryPublisher(logger, reg, sp)

	return cs
}

// Directory exposes the directory publisher for the transport layer.
func (cs *ChatServer) Directory() *DirectoryPublisher {
	return cs.directory
}

func (cs *ChatServer) Registry() *registry.Registry {
	return cs.registry
}

func (cs *ChatServer) Run() {
	for {
		select {
		case joinMsg := <-cs.joinChan:
			cs.handleJoin(joinMsg)
		case delMsg := <-cs.deleteChan:
			cs.handleDelete(delMsg)
		case client := <-cs.registerChan:
			cs.log.Printf("adding connection %q", client.id)
			cs.addClient(client)
		case client := <-cs.deRegisterChan:
			cs.log.Printf("removing connection %q", client.id)
			cs.removeClient(client)
		case req := <-cs.unloadChan:
			cs.unloadSession(req)
		case <-cs.stop:
			cs.log.Println("shutting down sessions")
			for _, s := range cs.sessions {
				ex := exitReq{done: make(chan struct{})}
				s.exit <- ex
				<-ex.done
			}

			close(cs.done)
			return
		}
	}
}

// handleJoin resolves a join through GetOrCreate: joining an unknown id
// implicitly creates an empty room, which is how askers originate rooms.
// Joins targeting a tombstoned id are silently dropped.
func (cs *ChatServer) handleJoin(joinMsg *ClientMessage) {
	roomId := joinMsg.Join.RoomId
	// a session can still be loaded between deletion and unload; the
	// tombstone, not the session map, decides whether a join is legal
	if cs.registry.Deleted(roomId) {
		cs.log.Printf("dropping join for deleted room %q", roomId)
		return
	}

	if session, ok := cs.sessions[roomId]; ok {
		select {
		case session.joinChan <- joinMsg:
		default:
			cs.log.Printf("join channel full on room %q", roomId)
			joinMsg.client.queueMessage(ErrServiceUnavailable(joinMsg.Id))
		}
		return
	}

	room, res := cs.registry.GetOrCreate(roomId)
	if res == registry.ResultDeleted {
		return
	}

	if res == registry.ResultCreated {
		cs.directory.Upsert(roomId, room.Preview())
	}

	session := newSession(roomId, cs)
	cs.sessions[roomId] = session
	cs.stats.Incr(StatActiveSessions)
	session.joinChan <- joinMsg

	go session.start()
}

// handleDelete routes a delete to the live session if one is loaded,
// otherwise deletes directly through the registry. Either way a repeated
// delete is an idempotent no-op.
func (cs *ChatServer) handleDelete(delMsg *ClientMessage) {
	roomId := delMsg.Delete.RoomId
	if session, ok := cs.sessions[roomId]; ok {
		select {
		case session.clientMsgChan <- delMsg:
		default:
			delMsg.client.queueMessage(ErrServiceUnavailable(delMsg.Id))
		}
		return
	}

	if cs.registry.Delete(roomId) {
		cs.directory.Retract(roomId)
	}
	delMsg.client.queueMessage(NoErrOK(delMsg.Id, nil))
}

func (cs *ChatServer) unloadSession(req unloadReq) {
	s, ok := cs.sessions[req.roomId]
	if !ok {
		return
	}

	cs.log.Printf("unloading session for room %q", req.roomId)
	delete(cs.sessions, req.roomId)
	cs.stats.Decr(StatActiveSessions)

	ex := exitReq{deleted: req.deleted, done: make(chan struct{})}
	s.exit <- ex
	<-ex.done
}

func (cs *ChatServer) RegisterClient(c *Client) {
	cs.registerChan <- c
}

func (cs *ChatServer) addClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	cs.clients[c] = struct{}{}
	cs.stats.Incr(StatActiveConnections)
}

func (cs *ChatServer) removeClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	if _, ok := cs.clients[c]; ok {
		delete(cs.clients, c)
		cs.stats.Decr(StatActiveConnections)
	}
}

func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")
	cs.clientsLock.Lock()
	for c := range cs.clients {
		c.stopClient()
	}
	cs.clientsLock.Unlock()

	close(cs.stop)

	select {
	case <-cs.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("chat server shutdown: %w", ctx.Err())
	}
}
