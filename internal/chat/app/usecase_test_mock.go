package app

import (
	"context"
	"io"
	"time"

	"realtime_chat_service/internal/chat/domain"
	"realtime_chat_service/pkg/token"

	"github.com/stretchr/testify/mock"
)

// MockMessageRepository Mock MessageRepository
type MockMessageRepository struct {
	mock.Mock
}

// CreateRoom mock create room collection
func (m *MockMessageRepository) CreateRoom(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

// DeleteRoom mock drop room collection
func (m *MockMessageRepository) DeleteRoom(ctx context.Context, roomID string) error {
	return m.Called(ctx, roomID).Error(0)
}

// Append mock append
func (m *MockMessageRepository) Append(ctx context.Context, roomID string, msg domain.Message) error {
	return m.Called(ctx, roomID, msg).Error(0)
}

// Reply mock reply
func (m *MockMessageRepository) Reply(ctx context.Context, roomID string, msg domain.Message) error {
	return m.Called(ctx, roomID, msg).Error(0)
}

// Remove mock remove
func (m *MockMessageRepository) Remove(ctx context.Context, roomID, messageID string) error {
	return m.Called(ctx, roomID, messageID).Error(0)
}

// Edit mock edit
func (m *MockMessageRepository) Edit(ctx context.Context, roomID, messageID, originalContent, updatedContent string) error {
	return m.Called(ctx, roomID, messageID, originalContent, updatedContent).Error(0)
}

// MarkSeen mock mark seen
func (m *MockMessageRepository) MarkSeen(ctx context.Context, roomID, messageID, userID string, seenAt time.Time) error {
	return m.Called(ctx, roomID, messageID, userID, seenAt).Error(0)
}

// React mock react
func (m *MockMessageRepository) React(ctx context.Context, roomID, messageID string, reaction domain.Reaction) error {
	return m.Called(ctx, roomID, messageID, reaction).Error(0)
}

// Unreact mock unreact
func (m *MockMessageRepository) Unreact(ctx context.Context, roomID, messageID string, reaction domain.Reaction) error {
	return m.Called(ctx, roomID, messageID, reaction).Error(0)
}

// Find mock find one message
func (m *MockMessageRepository) Find(ctx context.Context, roomID, messageID string) (*domain.Message, error) {
	args := m.Called(ctx, roomID, messageID)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

// List mock paged chunks
func (m *MockMessageRepository) List(ctx context.Context, roomID string, page, pageSize int64) (*domain.ChunkPage, error) {
	args := m.Called(ctx, roomID, page, pageSize)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.ChunkPage), args.Error(1)
	}
	return nil, args.Error(1)
}

// Latest mock newest chunk
func (m *MockMessageRepository) Latest(ctx context.Context, roomID string) (*domain.MessageChunk, error) {
	args := m.Called(ctx, roomID)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.MessageChunk), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockRoomRepository Mock RoomRepository
type MockRoomRepository struct {
	mock.Mock
}

func (m *MockRoomRepository) room(args mock.Arguments) (*domain.Room, error) {
	if args.Get(0) != nil {
		return args.Get(0).(*domain.Room), args.Error(1)
	}
	return nil, args.Error(1)
}

// Create mock create directory record
func (m *MockRoomRepository) Create(ctx context.Context, room *domain.Room) error {
	return m.Called(ctx, room).Error(0)
}

// Get mock get room by id
func (m *MockRoomRepository) Get(ctx context.Context, roomID string) (*domain.Room, error) {
	return m.room(m.Called(ctx, roomID))
}

// UpdateMembers mock overwrite members
func (m *MockRoomRepository) UpdateMembers(ctx context.Context, roomID string, memberIDs []string) (*domain.Room, error) {
	return m.room(m.Called(ctx, roomID, memberIDs))
}

// SetAvatar mock set avatar
func (m *MockRoomRepository) SetAvatar(ctx context.Context, roomID, avatar string) (*domain.Room, error) {
	return m.room(m.Called(ctx, roomID, avatar))
}

// AddFavourite mock add favourite
func (m *MockRoomRepository) AddFavourite(ctx context.Context, roomID, userID string, msg domain.Message) error {
	return m.Called(ctx, roomID, userID, msg).Error(0)
}

// RemoveFavourite mock remove favourite
func (m *MockRoomRepository) RemoveFavourite(ctx context.Context, roomID, userID, messageID string) error {
	return m.Called(ctx, roomID, userID, messageID).Error(0)
}

// MarkDeleted mock soft delete
func (m *MockRoomRepository) MarkDeleted(ctx context.Context, roomID string) (*domain.Room, error) {
	return m.room(m.Called(ctx, roomID))
}

// PendingSync mock rooms with outbox entries
func (m *MockRoomRepository) PendingSync(ctx context.Context, limit int64) ([]*domain.Room, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) != nil {
		return args.Get(0).([]*domain.Room), args.Error(1)
	}
	return nil, args.Error(1)
}

// Claim mock relay lease
func (m *MockRoomRepository) Claim(ctx context.Context, roomID, owner string, lease time.Duration) (*domain.Room, error) {
	return m.room(m.Called(ctx, roomID, owner, lease))
}

// Release mock relay lease release
func (m *MockRoomRepository) Release(ctx context.Context, roomID, owner string) error {
	return m.Called(ctx, roomID, owner).Error(0)
}

// AckOutbox mock ack
func (m *MockRoomRepository) AckOutbox(ctx context.Context, roomID, entryID string) error {
	return m.Called(ctx, roomID, entryID).Error(0)
}

// FailOutbox mock fail
func (m *MockRoomRepository) FailOutbox(ctx context.Context, roomID, entryID, reason string) error {
	return m.Called(ctx, roomID, entryID, reason).Error(0)
}

// Purge mock purge
func (m *MockRoomRepository) Purge(ctx context.Context, roomID string) error {
	return m.Called(ctx, roomID).Error(0)
}

// MockIdentityRepository Mock IdentityRepository
type MockIdentityRepository struct {
	mock.Mock
}

// FindSession mock session lookup
func (m *MockIdentityRepository) FindSession(ctx context.Context, userID, accessToken string) (*domain.Identity, error) {
	args := m.Called(ctx, userID, accessToken)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.Identity), args.Error(1)
	}
	return nil, args.Error(1)
}

// Apply mock outbox projection
func (m *MockIdentityRepository) Apply(ctx context.Context, roomID string, entry domain.OutboxEntry) error {
	return m.Called(ctx, roomID, entry).Error(0)
}

// MockLifecyclePublisher Mock LifecyclePublisher
type MockLifecyclePublisher struct {
	mock.Mock
}

// Publish mock publish
func (m *MockLifecyclePublisher) Publish(ctx context.Context, evt domain.LifecycleEvent) error {
	return m.Called(ctx, evt).Error(0)
}

// Close mock close
func (m *MockLifecyclePublisher) Close() error {
	return m.Called().Error(0)
}

// MockAvatarRepository Mock AvatarRepository
type MockAvatarRepository struct {
	mock.Mock
}

// Upload mock upload
func (m *MockAvatarRepository) Upload(ctx context.Context, roomID, fileName string, r io.Reader, size int64, contentType string) (string, error) {
	args := m.Called(ctx, roomID, fileName, r, size, contentType)
	return args.String(0), args.Error(1)
}

// MockTokenVerifier Mock TokenVerifier
type MockTokenVerifier struct {
	mock.Mock
}

// Parse mock parse
func (m *MockTokenVerifier) Parse(tokenStr string) (*token.Claims, error) {
	args := m.Called(tokenStr)
	if args.Get(0) != nil {
		return args.Get(0).(*token.Claims), args.Error(1)
	}
	return nil, args.Error(1)
}
