package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"realtime_chat_service/internal/chat/domain"
	errprocess "realtime_chat_service/pkg/err"
	"realtime_chat_service/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type roomFixture struct {
	uc       *RoomUseCase
	messages *MockMessageRepository
	rooms    *MockRoomRepository
	identity *MockIdentityRepository
	avatars  *MockAvatarRepository
	hub      *Hub
}

func newRoomFixture() *roomFixture {
	logger.SetNewNop()
	f := &roomFixture{
		messages: new(MockMessageRepository),
		rooms:    new(MockRoomRepository),
		identity: new(MockIdentityRepository),
		avatars:  new(MockAvatarRepository),
		hub:      NewHub(nil, 8),
	}
	relay := NewMembershipRelay(f.rooms, f.identity, nil, time.Second, 10)
	f.uc = NewRoomUseCase(f.messages, f.rooms, f.avatars, relay, f.hub)
	f.uc.now = func() time.Time { return testNow }
	return f
}

// expectSync the relay finds the room leased elsewhere and leaves it to the loop
func (f *roomFixture) expectSync(roomID string) {
	f.rooms.On("Claim", mock.Anything, roomID, mock.Anything, mock.Anything).Return(nil, nil).Once()
}

func TestCreateRoom(t *testing.T) {
	t.Run("建立群組並寫入 register outbox", func(t *testing.T) {
		f := newRoomFixture()
		f.messages.On("CreateRoom", mock.Anything).Return("2026_1-00042", nil).Once()
		f.rooms.On("Create", mock.Anything, mock.MatchedBy(func(r *domain.Room) bool {
			return r.ID == "2026_1-00042" && len(r.Outbox) == 1 && r.Outbox[0].Op == domain.OutboxRegister
		})).Return(nil).Once()
		f.expectSync("2026_1-00042")

		room, err := f.uc.CreateRoom(context.Background(), CreateRoomInput{
			CreatorID: "u1",
			Type:      domain.RoomTypeGroup,
			Name:      "team",
			MemberIDs: []string{"u2", "u1", "u3"},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"u1", "u2", "u3"}, room.MemberIDs())
		assert.Equal(t, domain.DefaultTheme, room.Theme)
		assert.Equal(t, testNow, room.CreatedAt)
		assert.ElementsMatch(t, []string{"u1", "u2", "u3"}, room.Outbox[0].Added)
		f.messages.AssertExpectations(t)
		f.rooms.AssertExpectations(t)
	})

	t.Run("directory 失敗時刪掉 collection", func(t *testing.T) {
		f := newRoomFixture()
		dirErr := errprocess.ErrStoreFailure.Wrap(errors.New("insert room"))
		f.messages.On("CreateRoom", mock.Anything).Return("2026_1-00043", nil).Once()
		f.rooms.On("Create", mock.Anything, mock.Anything).Return(dirErr).Once()
		f.messages.On("DeleteRoom", mock.Anything, "2026_1-00043").Return(nil).Once()

		_, err := f.uc.CreateRoom(context.Background(), CreateRoomInput{
			CreatorID: "u1",
			Type:      domain.RoomTypePrivate,
			MemberIDs: []string{"u2"},
		})
		assert.ErrorIs(t, err, errprocess.ErrStoreFailure)
		f.messages.AssertExpectations(t)
		f.rooms.AssertNotCalled(t, "Claim", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	tests := []struct {
		name  string
		input CreateRoomInput
		want  string
	}{
		{"未知類型", CreateRoomInput{CreatorID: "u1", Type: "secret", MemberIDs: []string{"u2"}}, "roomType"},
		{"private needs two", CreateRoomInput{CreatorID: "u1", Type: domain.RoomTypePrivate, MemberIDs: []string{"u2", "u3"}}, "exactly 2"},
		{"group needs two", CreateRoomInput{CreatorID: "u1", Type: domain.RoomTypeGroup, MemberIDs: []string{"u1"}}, "memberIds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRoomFixture()
			_, err := f.uc.CreateRoom(context.Background(), tt.input)
			require.Error(t, err)
			assert.Equal(t, errprocess.KindValidation, errprocess.KindOf(err))
			assert.True(t, strings.Contains(err.Error(), tt.want), err.Error())
			f.messages.AssertNotCalled(t, "CreateRoom", mock.Anything)
		})
	}

	t.Run("broadcast may start alone", func(t *testing.T) {
		f := newRoomFixture()
		f.messages.On("CreateRoom", mock.Anything).Return("2026_1-00044", nil).Once()
		f.rooms.On("Create", mock.Anything, mock.Anything).Return(nil).Once()
		f.expectSync("2026_1-00044")

		room, err := f.uc.CreateRoom(context.Background(), CreateRoomInput{CreatorID: "u1", Type: domain.RoomTypeBroadcast, Theme: "dark"})
		require.NoError(t, err)
		assert.Equal(t, "dark", room.Theme)
	})
}

func TestDeleteRoom(t *testing.T) {
	t.Run("成員可以刪除", func(t *testing.T) {
		f := newRoomFixture()
		f.rooms.On("Get", mock.Anything, "R").Return(groupRoom("R", "u1", "u2"), nil).Once()
		f.rooms.On("MarkDeleted", mock.Anything, "R").Return(groupRoom("R", "u1", "u2"), nil).Once()
		f.messages.On("DeleteRoom", mock.Anything, "R").Return(nil).Once()
		f.expectSync("R")
		sa, a := activeSession(f.hub, "sock-a", "u1", "R")
		sb, b := activeSession(f.hub, "sock-b", "u2", "R")

		require.NoError(t, f.uc.DeleteRoom(context.Background(), "u1", "R"))
		f.rooms.AssertExpectations(t)
		f.messages.AssertExpectations(t)

		// 所有連線都離開被刪除的房間
		assert.Equal(t, domain.EventRoomRemoved, next(t, a).Event)
		assert.Equal(t, domain.EventRoomRemoved, next(t, b).Event)
		assert.False(t, sa.Joined("R"))
		assert.False(t, sb.Joined("R"))
		assert.Empty(t, f.hub.Members("R"))
	})

	t.Run("非成員被拒絕", func(t *testing.T) {
		f := newRoomFixture()
		f.rooms.On("Get", mock.Anything, "R").Return(groupRoom("R", "u1", "u2"), nil).Once()

		err := f.uc.DeleteRoom(context.Background(), "u9", "R")
		assert.ErrorIs(t, err, errprocess.ErrMemberNotFound)
		f.rooms.AssertNotCalled(t, "MarkDeleted", mock.Anything, mock.Anything)
	})

	t.Run("room missing", func(t *testing.T) {
		f := newRoomFixture()
		f.rooms.On("Get", mock.Anything, "R").Return(nil, errprocess.ErrRoomNotFound).Once()
		assert.ErrorIs(t, f.uc.DeleteRoom(context.Background(), "u1", "R"), errprocess.ErrRoomNotFound)
	})
}

func TestUpdateMembers(t *testing.T) {
	f := newRoomFixture()
	updated := groupRoom("R", "u1", "u3")
	f.rooms.On("Get", mock.Anything, "R").Return(groupRoom("R", "u1", "u2"), nil).Once()
	f.rooms.On("UpdateMembers", mock.Anything, "R", []string{"u1", "u3"}).Return(updated, nil).Once()
	f.expectSync("R")
	sa, a := activeSession(f.hub, "sock-a", "u1", "R")
	sb, b := activeSession(f.hub, "sock-b", "u2", "R")

	room, err := f.uc.UpdateMembers(context.Background(), "u1", "R", []string{"u1", "u3"})
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u3"}, room.MemberIDs())

	t.Run("removed member leaves at once", func(t *testing.T) {
		got := next(t, b)
		assert.Equal(t, domain.EventRoomRemoved, got.Event)
		assert.False(t, sb.Joined("R"))
		assert.True(t, sa.Joined("R"))
		assert.Equal(t, []string{"sock-a"}, f.hub.Members("R"))
		assertNothing(t, a)
	})

	_, err = f.uc.UpdateMembers(context.Background(), "u1", "R", nil)
	assert.Equal(t, errprocess.KindValidation, errprocess.KindOf(err))
	f.rooms.AssertExpectations(t)
}

func TestSetAvatar(t *testing.T) {
	f := newRoomFixture()
	body := strings.NewReader("png bytes")
	withAvatar := groupRoom("R", "u1", "u2")
	withAvatar.Avatar = "http://cdn/avatars/rooms/R/avatar-1.png"

	f.rooms.On("Get", mock.Anything, "R").Return(groupRoom("R", "u1", "u2"), nil).Once()
	f.avatars.On("Upload", mock.Anything, "R", "me.png", body, int64(9), "image/png").Return(withAvatar.Avatar, nil).Once()
	f.rooms.On("SetAvatar", mock.Anything, "R", withAvatar.Avatar).Return(withAvatar, nil).Once()
	f.expectSync("R")

	room, err := f.uc.SetAvatar(context.Background(), "u1", "R", AvatarUpload{
		FileName:    "me.png",
		ContentType: "image/png",
		Size:        9,
		Body:        body,
	})
	require.NoError(t, err)
	assert.Equal(t, withAvatar.Avatar, room.Avatar)
	f.avatars.AssertExpectations(t)

	t.Run("沒有設定 object store", func(t *testing.T) {
		uc := NewRoomUseCase(f.messages, f.rooms, nil, nil, nil)
		_, err := uc.SetAvatar(context.Background(), "u1", "R", AvatarUpload{})
		assert.Equal(t, errprocess.KindValidation, errprocess.KindOf(err))
	})
}
