package app

import (
	"fmt"
	"sort"
	"sync"

	"realtime_chat_service/internal/chat/domain"
)

// ConnState lifecycle of one websocket connection
type ConnState int

const (
	// StateConnecting socket accepted, credentials not yet read
	StateConnecting ConnState = iota
	// StateAuthenticating credentials handed to the Gatekeeper
	StateAuthenticating
	// StateJoined identity resolved and rooms known
	StateJoined
	// StateActive initial snapshot sent, client events accepted
	StateActive
	// StateClosed terminal
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateJoined:
		return "joined"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// allowed transitions besides X -> Closed
var transitions = map[ConnState]ConnState{
	StateConnecting:     StateAuthenticating,
	StateAuthenticating: StateJoined,
	StateJoined:         StateActive,
}

// Session state of one connection, shared by its reader and the hub
type Session struct {
	SocketID string

	mu       sync.RWMutex
	state    ConnState
	userID   string
	deviceID string
	rooms    map[string]struct{}
}

// NewSession create a session in StateConnecting
func NewSession(socketID string) *Session {
	return &Session{
		SocketID: socketID,
		state:    StateConnecting,
		rooms:    make(map[string]struct{}),
	}
}

// Advance move to next, rejecting anything outside the lifecycle
func (s *Session) Advance(next ConnState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return fmt.Errorf("session %s: already closed", s.SocketID)
	}
	if next != StateClosed && transitions[s.state] != next {
		return fmt.Errorf("session %s: illegal transition %s -> %s", s.SocketID, s.state, next)
	}
	s.state = next
	return nil
}

// State current state
func (s *Session) State() ConnState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Bind attach the authenticated identity
func (s *Session) Bind(identity *domain.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = identity.UserID
	s.deviceID = identity.DeviceID
}

// UserID authenticated user, empty before Bind
func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// DeviceID authenticated device
func (s *Session) DeviceID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deviceID
}

// Join record roomID as joined
func (s *Session) Join(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[roomID] = struct{}{}
}

// Leave forget roomID
func (s *Session) Leave(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomID)
}

// Joined report whether roomID was joined on this connection
func (s *Session) Joined(roomID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[roomID]
	return ok
}

// Rooms joined room ids, sorted
func (s *Session) Rooms() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
