package client

import (
	"sort"
	"sync"

	"github.com/askdesk/askdesk/internal/types"
)

// DirectoryState is the responder dashboard view model: roomId to
// latest-message preview. It tolerates ordering races between the snapshot
// and concurrent deltas: an upsert for an unknown room inserts, a removal
// for an unknown room is a no-op.
type DirectoryState struct {
	mu    sync.Mutex
	rooms map[string]string
}

func NewDirectoryState() *DirectoryState {
	return &DirectoryState{
		rooms: make(map[string]string),
	}
}

// ApplySnapshot replaces the directory with the full snapshot.
func (d *DirectoryState) ApplySnapshot(rooms []types.RoomSummary) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.rooms = make(map[string]string, len(rooms))
	for _, room := range rooms {
		d.rooms[room.RoomId] = room.Preview
	}
}

// ApplyUpdate applies an incremental delta.
func (d *DirectoryState) ApplyUpdate(roomId, preview string, removed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if removed {
		delete(d.rooms, roomId)
		return
	}

	d.rooms[roomId] = preview
}

// Preview returns the latest-message preview for a room.
func (d *DirectoryState) Preview(roomId string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	preview, ok := d.rooms[roomId]
	return preview, ok
}

// Rooms returns the directory sorted by room id for stable rendering.
func (d *DirectoryState) Rooms() []types.RoomSummary {
	d.mu.Lock()
	defer d.mu.Unlock()

	rooms := make([]types.RoomSummary, 0, len(d.rooms))
	for id, preview := range d.rooms {
		rooms = append(rooms, types.RoomSummary{RoomId: id, Preview: preview})
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].RoomId < rooms[j].RoomId })

	return rooms
}

func (d *DirectoryState) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.rooms)
}
