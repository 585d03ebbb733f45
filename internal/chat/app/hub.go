package app

import (
	"context"
	"encoding/json"
	"sync"

	"realtime_chat_service/internal/chat/domain"
	"realtime_chat_service/internal/chat/repository"
	"realtime_chat_service/pkg/logger"

	"go.uber.org/zap"
)

// DefaultSendBuffer frames queued per client before new ones are dropped
const DefaultSendBuffer = 64

// Client one registered connection, Send is drained by its writer goroutine
type Client struct {
	Session *Session
	send    chan []byte
	closed  bool
}

// Send frames to write to the socket, closed on Unregister
func (c *Client) Send() <-chan []byte {
	return c.send
}

// Hub room broadcast groups of this node. With a bus, room frames go through it so
// members connected to other nodes get them too.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[string]map[string]*Client

	bus    repository.RoomBus
	buffer int
}

// NewHub create Hub, bus may be nil for a single node
func NewHub(bus repository.RoomBus, buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	return &Hub{
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[string]*Client),
		bus:     bus,
		buffer:  buffer,
	}
}

// Run deliver frames published by every node until ctx is done
func (h *Hub) Run(ctx context.Context) error {
	if h.bus == nil {
		return nil
	}
	return h.bus.Subscribe(ctx, func(m repository.BusMessage) {
		if len(m.Evict) > 0 {
			h.evict(m.RoomID, m.Evict)
		}
		if len(m.Frame) > 0 {
			h.deliver(m.RoomID, m.Except, m.Frame)
		}
	})
}

// Register add the session's client
func (h *Hub) Register(s *Session) *Client {
	c := &Client{Session: s, send: make(chan []byte, h.buffer)}
	h.mu.Lock()
	h.clients[s.SocketID] = c
	h.mu.Unlock()
	return c
}

// Unregister drop the client from every room and close its send channel
func (h *Hub) Unregister(socketID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[socketID]
	if !ok {
		return
	}
	delete(h.clients, socketID)
	for roomID, members := range h.rooms {
		delete(members, socketID)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Join add a registered socket to roomID's group
func (h *Hub) Join(roomID, socketID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[socketID]
	if !ok {
		return false
	}
	members, ok := h.rooms[roomID]
	if !ok {
		members = make(map[string]*Client)
		h.rooms[roomID] = members
	}
	members[socketID] = c
	return true
}

// Leave remove socketID from roomID's group
func (h *Hub) Leave(roomID, socketID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if members, ok := h.rooms[roomID]; ok {
		delete(members, socketID)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

// Members socket ids joined to roomID on this node
func (h *Hub) Members(roomID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.rooms[roomID]))
	for id := range h.rooms[roomID] {
		ids = append(ids, id)
	}
	return ids
}

// Broadcast send event to every member of roomID except the socket except
func (h *Hub) Broadcast(ctx context.Context, roomID, except string, event domain.EventName, data interface{}) error {
	frame, err := json.Marshal(domain.OutFrame{Event: event, Data: data})
	if err != nil {
		return err
	}

	if h.bus != nil {
		err = h.bus.Publish(ctx, repository.BusMessage{RoomID: roomID, Except: except, Frame: frame})
		if err == nil {
			return nil
		}
		// bus 失敗時至少送給本節點的成員
		logger.Log.Warn("room bus publish failed, delivering locally",
			zap.String("roomID", roomID),
			zap.String("event", string(event)),
			zap.Error(err),
		)
	}
	h.deliver(roomID, except, frame)
	return nil
}

// Evict remove the sockets of userIDs from roomID on every node and send them room_removed
func (h *Hub) Evict(ctx context.Context, roomID string, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	if h.bus != nil {
		err := h.bus.Publish(ctx, repository.BusMessage{RoomID: roomID, Evict: userIDs})
		if err == nil {
			return nil
		}
		logger.Log.Warn("room bus publish failed, evicting locally",
			zap.String("roomID", roomID),
			zap.Strings("userIDs", userIDs),
			zap.Error(err),
		)
	}
	h.evict(roomID, userIDs)
	return nil
}

// SendTo send event to one socket of this node
func (h *Hub) SendTo(socketID string, event domain.EventName, data interface{}) error {
	frame, err := json.Marshal(domain.OutFrame{Event: event, Data: data})
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if c, ok := h.clients[socketID]; ok {
		h.push(c, frame)
	}
	return nil
}

func (h *Hub) deliver(roomID, except string, frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for socketID, c := range h.rooms[roomID] {
		if socketID == except {
			continue
		}
		h.push(c, frame)
	}
}

func (h *Hub) evict(roomID string, userIDs []string) {
	frame, err := json.Marshal(domain.OutFrame{
		Event: domain.EventRoomRemoved,
		Data:  domain.RoomRemovedPayload{RoomID: roomID},
	})
	if err != nil {
		logger.Log.Errorf("encode room_removed", err)
		return
	}
	users := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		users[id] = struct{}{}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[roomID]
	if !ok {
		return
	}
	for socketID, c := range members {
		if _, gone := users[c.Session.UserID()]; !gone {
			continue
		}
		delete(members, socketID)
		c.Session.Leave(roomID)
		h.push(c, frame)
		logger.Log.Info("socket evicted from room", zap.String("roomID", roomID), zap.String("socketID", socketID))
	}
	if len(members) == 0 {
		delete(h.rooms, roomID)
	}
}

// push never blocks, a client that stopped reading loses frames instead of stalling the room.
// Caller holds h.mu.
func (h *Hub) push(c *Client, frame []byte) {
	if c.closed {
		return
	}
	select {
	case c.send <- frame:
	default:
		logger.Log.Warn("client send buffer full, dropping frame", zap.String("socketID", c.Session.SocketID))
	}
}
