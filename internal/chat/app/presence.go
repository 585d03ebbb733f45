package app

import (
	"context"
	"errors"
	"sync"

	"realtime_chat_service/internal/chat/domain"
	"realtime_chat_service/internal/chat/repository"
	errprocess "realtime_chat_service/pkg/err"
	"realtime_chat_service/pkg/logger"

	"go.uber.org/zap"
)

// Presence joins connections to their rooms and announces arrivals and departures
type Presence struct {
	hub      *Hub
	rooms    repository.RoomRepository
	messages repository.MessageRepository
}

// NewPresence create Presence
func NewPresence(hub *Hub, rooms repository.RoomRepository, messages repository.MessageRepository) *Presence {
	return &Presence{hub: hub, rooms: rooms, messages: messages}
}

// JoinRooms join every room concurrently and return one snapshot per room in roomIDs order.
// A room that fails to load carries its error in the snapshot; the other rooms are unaffected.
func (p *Presence) JoinRooms(ctx context.Context, s *Session, roomIDs []string) []domain.RoomSnapshot {
	snapshots := make([]domain.RoomSnapshot, len(roomIDs))

	var wg sync.WaitGroup
	for i, roomID := range roomIDs {
		wg.Add(1)
		go func(i int, roomID string) {
			defer wg.Done()
			snapshots[i] = p.joinRoom(ctx, s, roomID)
		}(i, roomID)
	}
	wg.Wait()
	return snapshots
}

func (p *Presence) joinRoom(ctx context.Context, s *Session, roomID string) domain.RoomSnapshot {
	snap := domain.RoomSnapshot{RoomID: roomID}
	log := logger.Log.With(zap.String("socketID", s.SocketID), zap.String("roomID", roomID))

	room, err := p.rooms.Get(ctx, roomID)
	switch {
	case errors.Is(err, errprocess.ErrRoomNotFound):
		// identity 的房間清單落後於 directory, 不加入
		snap.Error = errprocess.Public(err)
		return snap
	case err != nil:
		// directory unreachable: trust the identity list and still join
		log.Errorf("load room details", err)
		snap.Error = errprocess.Public(err)
	case !room.HasMember(s.UserID()):
		snap.Error = errprocess.Public(errprocess.ErrMemberNotFound)
		return snap
	default:
		snap.RoomDetails = room
	}

	if !p.hub.Join(roomID, s.SocketID) {
		snap.Error = "connection is gone"
		return snap
	}
	s.Join(roomID)
	if err := p.hub.Broadcast(ctx, roomID, s.SocketID, domain.EventUserJoined, domain.PresencePayload{
		RoomID: roomID,
		UserID: s.UserID(),
	}); err != nil {
		log.Errorf("announce user_joined", err)
	}

	latest, err := p.messages.Latest(ctx, roomID)
	if err != nil {
		log.Errorf("load latest chunk", err)
		if snap.Error == "" {
			snap.Error = errprocess.Public(err)
		}
		return snap
	}
	snap.LatestChunk = latest
	return snap
}

// LeaveAll leave every joined room and tell the remaining members
func (p *Presence) LeaveAll(ctx context.Context, s *Session) {
	for _, roomID := range s.Rooms() {
		p.hub.Leave(roomID, s.SocketID)
		s.Leave(roomID)
		if err := p.hub.Broadcast(ctx, roomID, s.SocketID, domain.EventUserLeft, domain.PresencePayload{
			RoomID: roomID,
			UserID: s.UserID(),
		}); err != nil {
			logger.Log.Errorf("announce user_left", err, zap.String("roomID", roomID))
		}
	}
}
