package app

import (
	"context"
	"errors"
	"testing"

	"realtime_chat_service/internal/chat/domain"
	"realtime_chat_service/internal/chat/repository"
	"realtime_chat_service/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestRelay(rooms *MockRoomRepository, identity *MockIdentityRepository, publisher repository.LifecyclePublisher) *MembershipRelay {
	logger.SetNewNop()
	r := NewMembershipRelay(rooms, identity, publisher, 0, 10)
	r.owner = "node-1"
	return r
}

func outboxRoom(id string, deleted bool, entries ...domain.OutboxEntry) *domain.Room {
	room := groupRoom(id, "u1", "u2")
	room.Deleted = deleted
	room.Outbox = entries
	return room
}

func TestSyncRoomAppliesInOrder(t *testing.T) {
	rooms := new(MockRoomRepository)
	identity := new(MockIdentityRepository)
	publisher := new(MockLifecyclePublisher)
	relay := newTestRelay(rooms, identity, publisher)

	e1 := domain.OutboxEntry{ID: "e1", Op: domain.OutboxRegister, Members: []string{"u1", "u2"}, Added: []string{"u1", "u2"}}
	e2 := domain.OutboxEntry{ID: "e2", Op: domain.OutboxUpdate, Members: []string{"u1"}, Removed: []string{"u2"}}

	var order []string
	rooms.On("Claim", mock.Anything, "R", "node-1", relay.lease).Return(outboxRoom("R", false, e1, e2), nil)
	identity.On("Apply", mock.Anything, "R", mock.Anything).
		Run(func(args mock.Arguments) { order = append(order, args.Get(2).(domain.OutboxEntry).ID) }).
		Return(nil)
	rooms.On("AckOutbox", mock.Anything, "R", "e1").Return(nil).Once()
	rooms.On("AckOutbox", mock.Anything, "R", "e2").Return(nil).Once()
	publisher.On("Publish", mock.Anything, mock.MatchedBy(func(e domain.LifecycleEvent) bool {
		return e.RoomID == "R" && e.Op == domain.OutboxRegister
	})).Return(nil).Once()
	// kafka 失敗不影響同步結果
	publisher.On("Publish", mock.Anything, mock.MatchedBy(func(e domain.LifecycleEvent) bool {
		return e.Op == domain.OutboxUpdate && assert.ObjectsAreEqual([]string{"u2"}, e.Removed)
	})).Return(errors.New("broker down")).Once()
	rooms.On("Release", mock.Anything, "R", "node-1").Return(nil).Once()

	n, err := relay.SyncRoom(context.Background(), "R")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"e1", "e2"}, order)
	rooms.AssertNotCalled(t, "Purge", mock.Anything, mock.Anything)
	rooms.AssertExpectations(t)
	publisher.AssertExpectations(t)
}

func TestSyncRoomStopsAtFirstFailure(t *testing.T) {
	rooms := new(MockRoomRepository)
	identity := new(MockIdentityRepository)
	relay := newTestRelay(rooms, identity, nil)

	e1 := domain.OutboxEntry{ID: "e1", Op: domain.OutboxUnregister}
	e2 := domain.OutboxEntry{ID: "e2", Op: domain.OutboxUpdate}
	cause := errors.New("connection refused")

	rooms.On("Claim", mock.Anything, "R", "node-1", relay.lease).Return(outboxRoom("R", true, e1, e2), nil)
	identity.On("Apply", mock.Anything, "R", e1).Return(cause).Once()
	rooms.On("FailOutbox", mock.Anything, "R", "e1", "connection refused").Return(nil).Once()
	rooms.On("Release", mock.Anything, "R", "node-1").Return(nil).Once()

	n, err := relay.SyncRoom(context.Background(), "R")
	assert.ErrorIs(t, err, cause)
	assert.Zero(t, n)

	identity.AssertNumberOfCalls(t, "Apply", 1)
	rooms.AssertNotCalled(t, "AckOutbox", mock.Anything, mock.Anything, mock.Anything)
	// 還有未套用的 entry, 刪除的房間不能清掉
	rooms.AssertNotCalled(t, "Purge", mock.Anything, mock.Anything)
	rooms.AssertExpectations(t)
}

func TestSyncRoomPurgesDeletedRoom(t *testing.T) {
	rooms := new(MockRoomRepository)
	identity := new(MockIdentityRepository)
	relay := newTestRelay(rooms, identity, nil)

	e1 := domain.OutboxEntry{ID: "e1", Op: domain.OutboxUnregister, Removed: []string{"u1", "u2"}}
	rooms.On("Claim", mock.Anything, "R", "node-1", relay.lease).Return(outboxRoom("R", true, e1), nil)
	identity.On("Apply", mock.Anything, "R", e1).Return(nil).Once()
	rooms.On("AckOutbox", mock.Anything, "R", "e1").Return(nil).Once()
	rooms.On("Purge", mock.Anything, "R").Return(nil).Once()
	rooms.On("Release", mock.Anything, "R", "node-1").Return(nil).Once()

	n, err := relay.SyncRoom(context.Background(), "R")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	rooms.AssertExpectations(t)
}

func TestSyncRoomSkipsLeasedRoom(t *testing.T) {
	rooms := new(MockRoomRepository)
	identity := new(MockIdentityRepository)
	relay := newTestRelay(rooms, identity, nil)

	rooms.On("Claim", mock.Anything, "R", "node-1", relay.lease).Return(nil, nil)

	n, err := relay.SyncRoom(context.Background(), "R")
	require.NoError(t, err)
	assert.Zero(t, n)
	identity.AssertNotCalled(t, "Apply", mock.Anything, mock.Anything, mock.Anything)
	rooms.AssertNotCalled(t, "Release", mock.Anything, mock.Anything, mock.Anything)
}

func TestDrainContinuesPastFailingRoom(t *testing.T) {
	rooms := new(MockRoomRepository)
	identity := new(MockIdentityRepository)
	relay := newTestRelay(rooms, identity, nil)

	bad := domain.OutboxEntry{ID: "bad", Op: domain.OutboxUpdate}
	good := domain.OutboxEntry{ID: "good", Op: domain.OutboxRegister}

	rooms.On("PendingSync", mock.Anything, int64(10)).Return([]*domain.Room{{ID: "R1"}, {ID: "R2"}}, nil)
	rooms.On("Claim", mock.Anything, "R1", "node-1", relay.lease).Return(outboxRoom("R1", false, bad), nil)
	rooms.On("Claim", mock.Anything, "R2", "node-1", relay.lease).Return(outboxRoom("R2", false, good), nil)
	identity.On("Apply", mock.Anything, "R1", bad).Return(errors.New("tx aborted"))
	identity.On("Apply", mock.Anything, "R2", good).Return(nil)
	rooms.On("FailOutbox", mock.Anything, "R1", "bad", "tx aborted").Return(nil)
	rooms.On("AckOutbox", mock.Anything, "R2", "good").Return(nil)
	rooms.On("Release", mock.Anything, mock.Anything, "node-1").Return(nil)

	n, err := relay.Drain(context.Background())
	assert.EqualError(t, err, "tx aborted")
	assert.Equal(t, 1, n)
	rooms.AssertExpectations(t)
	identity.AssertExpectations(t)
}
