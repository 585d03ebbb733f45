package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"realtime_chat_service/internal/chat/domain"
	errprocess "realtime_chat_service/pkg/err"
	"realtime_chat_service/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func groupRoom(id string, members ...string) *domain.Room {
	return &domain.Room{ID: id, Type: domain.RoomTypeGroup, Theme: domain.DefaultTheme, Members: domain.NewMembers(members, testNow)}
}

func activeSession(hub *Hub, socketID, userID string, rooms ...string) (*Session, *Client) {
	s := NewSession(socketID)
	_ = s.Advance(StateAuthenticating)
	s.Bind(&domain.Identity{UserID: userID, DeviceID: "d-" + userID})
	_ = s.Advance(StateJoined)
	c := hub.Register(s)
	for _, r := range rooms {
		hub.Join(r, socketID)
		s.Join(r)
	}
	_ = s.Advance(StateActive)
	return s, c
}

func TestJoinRoomsPartialSnapshot(t *testing.T) {
	logger.SetNewNop()
	ctx := context.Background()
	hub := NewHub(nil, 16)
	rooms := new(MockRoomRepository)
	messages := new(MockMessageRepository)
	p := NewPresence(hub, rooms, messages)

	_, other := activeSession(hub, "sock-b", "u2", "R1")

	chunk := &domain.MessageChunk{Serial: 3, Messages: []domain.Message{{ID: "m1"}}}
	rooms.On("Get", mock.Anything, "R1").Return(groupRoom("R1", "u1", "u2"), nil)
	rooms.On("Get", mock.Anything, "R2").Return(nil, errprocess.ErrRoomNotFound)
	rooms.On("Get", mock.Anything, "R3").Return(groupRoom("R3", "u1"), nil)
	rooms.On("Get", mock.Anything, "R4").Return(groupRoom("R4", "someone-else"), nil)
	messages.On("Latest", mock.Anything, "R1").Return(chunk, nil)
	messages.On("Latest", mock.Anything, "R3").Return(nil, errprocess.ErrStoreUnavailable.Wrap(errors.New("deadline")))

	s := NewSession("sock-a")
	s.Bind(&domain.Identity{UserID: "u1"})
	hub.Register(s)

	snaps := p.JoinRooms(ctx, s, []string{"R1", "R2", "R3", "R4"})
	require.Len(t, snaps, 4)

	t.Run("順序與輸入一致", func(t *testing.T) {
		for i, id := range []string{"R1", "R2", "R3", "R4"} {
			assert.Equal(t, id, snaps[i].RoomID)
		}
	})

	t.Run("成功的房間", func(t *testing.T) {
		assert.Empty(t, snaps[0].Error)
		assert.Equal(t, "R1", snaps[0].RoomDetails.ID)
		assert.Equal(t, chunk, snaps[0].LatestChunk)
		assert.True(t, s.Joined("R1"))
	})

	t.Run("failures stay per room", func(t *testing.T) {
		assert.Equal(t, errprocess.ErrRoomNotFound.Msg, snaps[1].Error)
		assert.False(t, s.Joined("R2"))

		assert.Equal(t, errprocess.ErrStoreUnavailable.Msg, snaps[2].Error)
		assert.NotNil(t, snaps[2].RoomDetails)
		assert.True(t, s.Joined("R3"))

		assert.Equal(t, errprocess.ErrMemberNotFound.Msg, snaps[3].Error)
		assert.False(t, s.Joined("R4"))
	})

	t.Run("其他成員收到 user_joined", func(t *testing.T) {
		got := next(t, other)
		assert.Equal(t, domain.EventUserJoined, got.Event)
		assert.JSONEq(t, `{"roomId":"R1","userId":"u1"}`, string(got.Data))
	})

	t.Run("離開時廣播 user_left", func(t *testing.T) {
		p.LeaveAll(ctx, s)
		got := next(t, other)
		assert.Equal(t, domain.EventUserLeft, got.Event)
		assert.JSONEq(t, `{"roomId":"R1","userId":"u1"}`, string(got.Data))
		assert.Empty(t, s.Rooms())
		assert.ElementsMatch(t, []string{"sock-b"}, hub.Members("R1"))
	})
}
