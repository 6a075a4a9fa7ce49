package client

import (
	"sync"

	"github.com/askdesk/askdesk/internal/types"
)

// SessionState is the client-side view model for one room. It is rebuilt
// from the history snapshot on join and then mutated only by applying
// pushed deltas in arrival order; it never reorders or deduplicates. It is
// a disposable cache, never the source of truth.
type SessionState struct {
	mu           sync.Mutex
	roomId       string
	messages     []types.Message
	typingRole   types.Role
	typingActive bool
	synced       bool
	left         bool
	// onLeft fires exactly once, on the first deletion notification, so the
	// view can navigate away. Duplicate notifications are no-ops.
	onLeft func()
}

func NewSessionState(roomId string, onLeft func()) *SessionState {
	return &SessionState{
		roomId: roomId,
		onLeft: onLeft,
	}
}

func (s *SessionState) RoomId() string {
	return s.roomId
}

// ApplySnapshot replaces the room state with the replayed history.
func (s *SessionState) ApplySnapshot(msgs []types.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.left {
		return
	}

	s.messages = make([]types.Message, len(msgs))
	copy(s.messages, msgs)
	s.synced = true
}

// Synced reports whether the join snapshot has been applied yet. Sends
// should wait for it so they can't race the server-side room binding.
func (s *SessionState) Synced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.synced
}

// ApplyMessage appends a pushed message in arrival order.
func (s *SessionState) ApplyMessage(msg types.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.left {
		return
	}

	s.messages = append(s.messages, msg)
}

// ApplyTyping updates the transient typing indicator. A later signal of
// either kind supersedes the current one.
func (s *SessionState) ApplyTyping(role types.Role, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.left {
		return
	}

	s.typingRole = role
	s.typingActive = active
}

// ApplyDeleted transitions the session to its terminal left state.
func (s *SessionState) ApplyDeleted() {
	s.mu.Lock()
	if s.left {
		s.mu.Unlock()
		return
	}
	s.left = true
	s.typingActive = false
	onLeft := s.onLeft
	s.mu.Unlock()

	if onLeft != nil {
		onLeft()
	}
}

// Messages returns a copy of the current ordered history.
func (s *SessionState) Messages() []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := make([]types.Message, len(s.messages))
	copy(msgs, s.messages)
	return msgs
}

// Typing reports the current typing indicator.
func (s *SessionState) Typing() (types.Role, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typingRole, s.typingActive
}

// Left reports whether the room was deleted out from under this session.
func (s *SessionState) Left() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.left
}
