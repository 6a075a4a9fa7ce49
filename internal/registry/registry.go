package registry

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/askdesk/askdesk/internal/types"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrEmptyMessage = errors.New("message content is empty")
)

// CreateResult tags the outcome of GetOrCreate so callers can tell a first
// join from a rejoin, and both from a join targeting a deleted room.
type CreateResult int

const (
	ResultCreated CreateResult = iota
	ResultExisting
	ResultDeleted
)

// Room holds the ordered message history for a single room id. Sequence
// assignment is serialized by the room's own mutex, never a registry-wide
// lock, so appends to unrelated rooms don't contend.
type Room struct {
	mu       sync.Mutex
	id       string
	messages []types.Message
	deleted  bool
}

func (r *Room) Id() string {
	return r.id
}

// History returns a copy of the ordered message history.
func (r *Room) History() []types.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	history := make([]types.Message, len(r.messages))
	copy(history, r.messages)
	return history
}

// Preview returns the content of the most recent message, or the
// no-messages sentinel for an empty history.
func (r *Room) Preview() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.preview()
}

func (r *Room) preview() string {
	if len(r.messages) == 0 {
		return types.NoMessagesPreview
	}
	return r.messages[len(r.messages)-1].Content
}

func (r *Room) append(role types.Role, content string) (types.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.deleted {
		return types.Message{}, ErrRoomNotFound
	}
	if strings.TrimSpace(content) == "" {
		return types.Message{}, ErrEmptyMessage
	}

	msg := types.Message{
		SeqId:     len(r.messages),
		RoomId:    r.id,
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC().Round(time.Millisecond),
	}
	r.messages = append(r.messages, msg)

	return msg, nil
}

// Registry is the authoritative store of all live rooms. Deleted room ids
// are tombstoned so a room can never be resurrected under the same id.
type Registry struct {
	mu         sync.RWMutex
	rooms      map[string]*Room
	tombstones map[string]struct{}
}

func New() *Registry {
	return &Registry{
		rooms:      make(map[string]*Room),
		tombstones: make(map[string]struct{}),
	}
}

// GetOrCreate returns the live room for roomId, creating an empty one if
// none exists. A tombstoned id yields no room and ResultDeleted.
func (reg *Registry) GetOrCreate(roomId string) (*Room, CreateResult) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if _, ok := reg.tombstones[roomId]; ok {
		return nil, ResultDeleted
	}
	if room, ok := reg.rooms[roomId]; ok {
		return room, ResultExisting
	}

	room := &Room{id: roomId}
	reg.rooms[roomId] = room
	return room, ResultCreated
}

// Get returns the live room for roomId, if any.
func (reg *Registry) Get(roomId string) (*Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	room, ok := reg.rooms[roomId]
	return room, ok
}

// Append adds a message with the next sequence number to the room's
// history and returns it. Fails with ErrRoomNotFound if no live room
// exists for roomId, or ErrEmptyMessage if content trims to empty.
func (reg *Registry) Append(roomId string, role types.Role, content string) (types.Message, error) {
	room, ok := reg.Get(roomId)
	if !ok {
		return types.Message{}, ErrRoomNotFound
	}

	return room.append(role, content)
}

// History returns a copy of the room's ordered history, empty if the room
// is unknown.
func (reg *Registry) History(roomId string) []types.Message {
	room, ok := reg.Get(roomId)
	if !ok {
		return nil
	}

	return room.History()
}

// Delete marks the room deleted, tombstones its id and removes it from the
// registry. Returns whether a live room existed. Deleting an unknown room
// is a no-op.
func (reg *Registry) Delete(roomId string) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room, ok := reg.rooms[roomId]
	if !ok {
		return false
	}

	room.mu.Lock()
	room.deleted = true
	room.mu.Unlock()

	delete(reg.rooms, roomId)
	reg.tombstones[roomId] = struct{}{}
	return true
}

// Deleted reports whether roomId was ever deleted.
func (reg *Registry) Deleted(roomId string) bool {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	_, ok := reg.tombstones[roomId]
	return ok
}

// List returns a snapshot of all live rooms and their latest-message
// previews. Order is unspecified.
func (reg *Registry) List() []types.RoomSummary {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	return lo.MapToSlice(reg.rooms, func(id string, room *Room) types.RoomSummary {
		return types.RoomSummary{
			RoomId:  id,
			Preview: room.Preview(),
		}
	})
}
