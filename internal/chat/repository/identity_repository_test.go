package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"realtime_chat_service/internal/chat/domain"
	errprocess "realtime_chat_service/pkg/err"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// the identity service owns these tables, only the columns touched here are created
const identitySchema = `
CREATE TABLE IF NOT EXISTS users (
    id     TEXT PRIMARY KEY,
    tokens JSONB,
    rooms  JSONB
);
CREATE TABLE IF NOT EXISTS chat_rooms (
    id      TEXT PRIMARY KEY,
    name    TEXT,
    type    TEXT NOT NULL,
    theme   TEXT,
    avatar  TEXT,
    members JSONB NOT NULL DEFAULT '[]'::jsonb
);
TRUNCATE users, chat_rooms;
INSERT INTO users (id, tokens, rooms) VALUES
    ('u1', '{"at": "token-u1"}', '["2026_1-00001"]'),
    ('u2', '{"at": "token-u2"}', NULL);
`

func newIdentityRepo(t *testing.T) (IdentityRepository, *pgxpool.Pool) {
	t.Helper()
	pool := requirePostgres(t)
	_, err := pool.Exec(context.Background(), identitySchema)
	require.NoError(t, err)
	return NewPostgresIdentityRepository(pool, 5*time.Second), pool
}

func userRooms(t *testing.T, pool *pgxpool.Pool, userID string) []string {
	t.Helper()
	var raw []byte
	require.NoError(t, pool.QueryRow(context.Background(),
		`SELECT COALESCE(rooms, '[]'::jsonb) FROM users WHERE id = $1`, userID).Scan(&raw))
	var rooms []string
	require.NoError(t, json.Unmarshal(raw, &rooms))
	return rooms
}

func TestFindSession(t *testing.T) {
	repo, _ := newIdentityRepo(t)
	ctx := context.Background()

	t.Run("目前的 token", func(t *testing.T) {
		id, err := repo.FindSession(ctx, "u1", "token-u1")
		require.NoError(t, err)
		assert.Equal(t, "u1", id.UserID)
		assert.Equal(t, []string{"2026_1-00001"}, id.Rooms)
	})

	t.Run("rooms 為 NULL", func(t *testing.T) {
		id, err := repo.FindSession(ctx, "u2", "token-u2")
		require.NoError(t, err)
		assert.Empty(t, id.Rooms)
	})

	t.Run("舊 token", func(t *testing.T) {
		_, err := repo.FindSession(ctx, "u1", "stale")
		assert.ErrorIs(t, err, errprocess.ErrIdentityNotFound)
	})
}

func TestApplyOutboxEntries(t *testing.T) {
	repo, pool := newIdentityRepo(t)
	ctx := context.Background()
	const roomID = "2026_1-00002"
	room := &domain.Room{
		ID:      roomID,
		Type:    domain.RoomTypeGroup,
		Theme:   domain.DefaultTheme,
		Members: domain.NewMembers([]string{"u1", "u2"}, time.Now()),
	}

	register := domain.NewOutboxEntry("e1", domain.OutboxRegister, room, room.MemberIDs(), nil, time.Now())
	require.NoError(t, repo.Apply(ctx, roomID, register))
	// replaying an entry changes nothing
	require.NoError(t, repo.Apply(ctx, roomID, register))

	assert.ElementsMatch(t, []string{"2026_1-00001", roomID}, userRooms(t, pool, "u1"))
	assert.Equal(t, []string{roomID}, userRooms(t, pool, "u2"))

	var members []byte
	require.NoError(t, pool.QueryRow(ctx, `SELECT members FROM chat_rooms WHERE id = $1`, roomID).Scan(&members))
	assert.JSONEq(t, `["u1","u2"]`, string(members))

	room.Members = room.Members[:1]
	update := domain.NewOutboxEntry("e2", domain.OutboxUpdate, room, nil, []string{"u2"}, time.Now())
	require.NoError(t, repo.Apply(ctx, roomID, update))
	assert.Empty(t, userRooms(t, pool, "u2"))

	unregister := domain.NewOutboxEntry("e3", domain.OutboxUnregister, room, nil, []string{"u1"}, time.Now())
	require.NoError(t, repo.Apply(ctx, roomID, unregister))
	assert.Equal(t, []string{"2026_1-00001"}, userRooms(t, pool, "u1"))

	var count int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM chat_rooms WHERE id = $1`, roomID).Scan(&count))
	assert.Zero(t, count)

	err := repo.Apply(ctx, roomID, domain.OutboxEntry{Op: "rename"})
	assert.Equal(t, errprocess.KindValidation, errprocess.KindOf(err))
}
