package app

import (
	"testing"

	"realtime_chat_service/internal/chat/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionLifecycle(t *testing.T) {
	s := NewSession("sock-1")
	assert.Equal(t, StateConnecting, s.State())

	t.Run("不能跳過狀態", func(t *testing.T) {
		assert.Error(t, s.Advance(StateActive))
		assert.Equal(t, StateConnecting, s.State())
	})

	require.NoError(t, s.Advance(StateAuthenticating))
	s.Bind(&domain.Identity{UserID: "u1", DeviceID: "d1"})
	require.NoError(t, s.Advance(StateJoined))
	require.NoError(t, s.Advance(StateActive))
	assert.Equal(t, "u1", s.UserID())
	assert.Equal(t, "d1", s.DeviceID())

	require.NoError(t, s.Advance(StateClosed))
	assert.Error(t, s.Advance(StateClosed), "closed is terminal")
	assert.Equal(t, "closed", s.State().String())
}

func TestSessionFailsStraightToClosed(t *testing.T) {
	s := NewSession("sock-1")
	require.NoError(t, s.Advance(StateAuthenticating))
	require.NoError(t, s.Advance(StateClosed))
	assert.Equal(t, StateClosed, s.State())
}

func TestSessionRooms(t *testing.T) {
	s := NewSession("sock-1")
	s.Join("b")
	s.Join("a")
	s.Join("a")
	assert.Equal(t, []string{"a", "b"}, s.Rooms())
	assert.True(t, s.Joined("a"))

	s.Leave("a")
	assert.False(t, s.Joined("a"))
	assert.Equal(t, []string{"b"}, s.Rooms())
}
