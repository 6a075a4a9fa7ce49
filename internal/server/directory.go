package server

import (
	"log"
	"sync"

	"github.com/askdesk/askdesk/internal/registry"
	"github.com/askdesk/askdesk/internal/stats"
)

// DirectoryPublisher keeps responder dashboards in sync with the registry.
// A fresh subscriber gets a full snapshot before any delta published after
// its subscription. A delta racing the subscription may restate content the
// snapshot already carried; the client-side map absorbs that as an upsert.
type DirectoryPublisher struct {
	mu          sync.Mutex
	log         *log.Logger
	registry    *registry.Registry
	stats       stats.StatsProvider
	subscribers map[*Client]struct{}
}

func NewDirectoryPublisher(logger *log.Logger, reg *registry.Registry, sp stats.StatsProvider) *DirectoryPublisher {
	return &DirectoryPublisher{
		log:         logger,
		registry:    reg,
		stats:       sp,
		subscribers: make(map[*Client]struct{}),
	}
}

// Subscribe adds the client to the directory feed and replays the current
// snapshot to it.
func (d *DirectoryPublisher) Subscribe(c *Client, reqId int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.subscribers[c]; !ok {
		d.subscribers[c] = struct{}{}
		d.stats.Incr(StatDirectorySubscribers)
	}

	c.queueMessage(&ServerMessage{
		BaseMessage: BaseMessage{
			Id:        reqId,
			Timestamp: Now(),
		},
		Directory: &DirectorySnapshot{
			Rooms: d.registry.List(),
		},
	})
}

// Unsubscribe removes the client from the feed. Removing a client that
// never subscribed is a no-op.
func (d *DirectoryPublisher) Unsubscribe(c *Client) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.subscribers[c]; ok {
		delete(d.subscribers, c)
		d.stats.Decr(StatDirectorySubscribers)
	}
}

// Upsert publishes a new or updated room preview to all subscribers.
func (d *DirectoryPublisher) Upsert(roomId, preview string) {
	d.publish(&ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		DirectoryUpdate: &DirectoryUpdate{
			RoomId:  roomId,
			Preview: preview,
		},
	})
}

// Retract tells all subscribers the room is gone.
func (d *DirectoryPublisher) Retract(roomId string) {
	d.publish(&ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		DirectoryUpdate: &DirectoryUpdate{
			RoomId:  roomId,
			Removed: true,
		},
	})
}

func (d *DirectoryPublisher) publish(msg *ServerMessage) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for c := range d.subscribers {
		c.queueMessage(msg)
	}
}
