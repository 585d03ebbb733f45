package app

import (
	"context"
	"io"
	"time"

	"realtime_chat_service/internal/chat/domain"
	"realtime_chat_service/internal/chat/repository"
	"realtime_chat_service/pkg"
	errprocess "realtime_chat_service/pkg/err"
	"realtime_chat_service/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CreateRoomInput request to open a room; the creator is always a member
type CreateRoomInput struct {
	CreatorID string
	Type      domain.RoomType
	Name      string
	Theme     string
	Avatar    string
	MemberIDs []string
}

// AvatarUpload image to store as a room avatar
type AvatarUpload struct {
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// RoomUseCase room lifecycle over the store and the directory
type RoomUseCase struct {
	messages repository.MessageRepository
	rooms    repository.RoomRepository
	avatars  repository.AvatarRepository
	relay    *MembershipRelay
	hub      *Hub
	now      func() time.Time
}

// NewRoomUseCase init room use case; avatars may be nil when no object store is configured,
// hub nil when no websocket connections are served
func NewRoomUseCase(
	messages repository.MessageRepository,
	rooms repository.RoomRepository,
	avatars repository.AvatarRepository,
	relay *MembershipRelay,
	hub *Hub,
) *RoomUseCase {
	return &RoomUseCase{
		messages: messages,
		rooms:    rooms,
		avatars:  avatars,
		relay:    relay,
		hub:      hub,
		now:      time.Now,
	}
}

// CreateRoom create the room collection in a shard, then its directory record
func (uc *RoomUseCase) CreateRoom(ctx context.Context, in CreateRoomInput) (*domain.Room, error) {
	if !in.Type.Valid() {
		return nil, errprocess.Validation("create room", "roomType")
	}
	members := pkg.Unique(append([]string{in.CreatorID}, in.MemberIDs...))
	if in.Type == domain.RoomTypePrivate && len(members) != 2 {
		return nil, errprocess.Invalid("private room must have exactly 2 members")
	}
	if len(members) < 2 && in.Type != domain.RoomTypeBroadcast {
		return nil, errprocess.Validation("create room", "memberIds")
	}

	roomID, err := uc.messages.CreateRoom(ctx)
	if err != nil {
		return nil, err
	}

	now := uc.now()
	room := &domain.Room{
		ID:        roomID,
		Name:      in.Name,
		Type:      in.Type,
		Theme:     in.Theme,
		Avatar:    in.Avatar,
		Members:   domain.NewMembers(members, now),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if room.Theme == "" {
		room.Theme = domain.DefaultTheme
	}
	room.Outbox = []domain.OutboxEntry{
		domain.NewOutboxEntry(uuid.NewString(), domain.OutboxRegister, room, members, nil, now),
	}

	if err := uc.rooms.Create(ctx, room); err != nil {
		// 補償: 沒有 directory 記錄的 collection 不該留下
		if derr := uc.messages.DeleteRoom(context.WithoutCancel(ctx), roomID); derr != nil {
			logger.Log.Errorf("drop orphan room collection", derr, zap.String("roomID", roomID))
		}
		return nil, err
	}

	logger.Log.Info("room created", zap.String("roomID", roomID), zap.String("type", string(in.Type)), zap.Int("members", len(members)))
	uc.sync(ctx, roomID)
	return room, nil
}

// DeleteRoom mark the directory record deleted, drop the history, then unregister it from members
func (uc *RoomUseCase) DeleteRoom(ctx context.Context, actorID, roomID string) error {
	room, err := uc.authorize(ctx, actorID, roomID)
	if err != nil {
		return err
	}
	if _, err := uc.rooms.MarkDeleted(ctx, roomID); err != nil {
		return err
	}
	uc.evict(ctx, roomID, room.MemberIDs())
	if err := uc.messages.DeleteRoom(ctx, roomID); err != nil {
		return err
	}
	logger.Log.Info("room deleted", zap.String("roomID", roomID), zap.String("by", actorID))
	uc.sync(ctx, roomID)
	return nil
}

// UpdateMembers overwrite the member list
func (uc *RoomUseCase) UpdateMembers(ctx context.Context, actorID, roomID string, memberIDs []string) (*domain.Room, error) {
	if len(memberIDs) == 0 {
		return nil, errprocess.Validation("update members", "memberIds")
	}
	prev, err := uc.authorize(ctx, actorID, roomID)
	if err != nil {
		return nil, err
	}
	room, err := uc.rooms.UpdateMembers(ctx, roomID, memberIDs)
	if err != nil {
		return nil, err
	}
	// 被移除的成員立即失去房間, 不等重連
	_, removed := pkg.Diff(prev.MemberIDs(), room.MemberIDs())
	uc.evict(ctx, roomID, removed)
	uc.sync(ctx, roomID)
	return room, nil
}

// SetAvatar upload the image and point the room at it
func (uc *RoomUseCase) SetAvatar(ctx context.Context, actorID, roomID string, up AvatarUpload) (*domain.Room, error) {
	if uc.avatars == nil {
		return nil, errprocess.Invalid("avatar uploads are not enabled")
	}
	if _, err := uc.authorize(ctx, actorID, roomID); err != nil {
		return nil, err
	}
	url, err := uc.avatars.Upload(ctx, roomID, up.FileName, up.Body, up.Size, up.ContentType)
	if err != nil {
		return nil, err
	}
	room, err := uc.rooms.SetAvatar(ctx, roomID, url)
	if err != nil {
		return nil, err
	}
	uc.sync(ctx, roomID)
	return room, nil
}

// authorize only members manage a room, the room is returned as read
func (uc *RoomUseCase) authorize(ctx context.Context, actorID, roomID string) (*domain.Room, error) {
	room, err := uc.rooms.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.HasMember(actorID) {
		return nil, errprocess.ErrMemberNotFound
	}
	return room, nil
}

// evict take userIDs' live connections out of roomID
func (uc *RoomUseCase) evict(ctx context.Context, roomID string, userIDs []string) {
	if uc.hub == nil || len(userIDs) == 0 {
		return
	}
	if err := uc.hub.Evict(context.WithoutCancel(ctx), roomID, userIDs); err != nil {
		logger.Log.Errorf("evict removed members", err, zap.String("roomID", roomID))
	}
}

// sync push the new outbox entries right away; on failure the relay loop retries later
func (uc *RoomUseCase) sync(ctx context.Context, roomID string) {
	if uc.relay == nil {
		return
	}
	if _, err := uc.relay.SyncRoom(context.WithoutCancel(ctx), roomID); err != nil {
		logger.Log.Warn("membership sync deferred to relay", zap.String("roomID", roomID), zap.Error(err))
	}
}
