package repository

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"realtime_chat_service/internal/chat/domain"
	errprocess "realtime_chat_service/pkg/err"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMessageRepo(t *testing.T, opts StoreOptions) (MessageRepository, *ShardRegistry) {
	t.Helper()
	client := requireMongo(t)
	shards := NewShardRegistry(client)
	t.Cleanup(shards.Close)
	return NewMongoMessageRepository(shards, opts), shards
}

func newRoom(t *testing.T, repo MessageRepository) string {
	t.Helper()
	roomID, err := repo.CreateRoom(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.DeleteRoom(context.Background(), roomID) })
	return roomID
}

func textMessage(sender, content string) domain.Message {
	return domain.Message{
		ID:       uuid.NewString(),
		SenderID: sender,
		Content:  content,
		Type:     domain.MessageText,
		SentAt:   time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestAppendFillsChunksInOrder(t *testing.T) {
	repo, _ := newMessageRepo(t, StoreOptions{ChunkCapacity: 31})
	ctx := context.Background()
	roomID := newRoom(t, repo)

	t.Run("空房間沒有 chunk", func(t *testing.T) {
		latest, err := repo.Latest(ctx, roomID)
		require.NoError(t, err)
		assert.Nil(t, latest)
	})

	for i := 0; i < 31; i++ {
		require.NoError(t, repo.Append(ctx, roomID, textMessage("u1", fmt.Sprintf("m%d", i))))
	}

	t.Run("31 則訊息放在同一個 chunk", func(t *testing.T) {
		latest, err := repo.Latest(ctx, roomID)
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, int64(1), latest.Serial)
		assert.Len(t, latest.Messages, 31)
		assert.Equal(t, "m0", latest.Messages[0].Content)
		assert.Equal(t, "m30", latest.Messages[30].Content)
	})

	require.NoError(t, repo.Append(ctx, roomID, textMessage("u1", "m31")))

	t.Run("第 32 則開新 chunk", func(t *testing.T) {
		latest, err := repo.Latest(ctx, roomID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), latest.Serial)
		require.Len(t, latest.Messages, 1)
		assert.Equal(t, "m31", latest.Messages[0].Content)
	})

	t.Run("分頁由新到舊", func(t *testing.T) {
		first, err := repo.List(ctx, roomID, 0, 1)
		require.NoError(t, err)
		require.Len(t, first.Chunks, 1)
		assert.Equal(t, int64(2), first.Chunks[0].Serial)
		assert.True(t, first.HasMore)

		second, err := repo.List(ctx, roomID, 1, 1)
		require.NoError(t, err)
		require.Len(t, second.Chunks, 1)
		assert.Equal(t, int64(1), second.Chunks[0].Serial)
		assert.False(t, second.HasMore)

		empty, err := repo.List(ctx, roomID, 2, 1)
		require.NoError(t, err)
		assert.Empty(t, empty.Chunks)
		assert.False(t, empty.HasMore)
	})

	t.Run("invalid paging", func(t *testing.T) {
		_, err := repo.List(ctx, roomID, -1, 1)
		assert.Equal(t, errprocess.KindValidation, errprocess.KindOf(err))
	})
}

func TestConcurrentAppendLosesNothing(t *testing.T) {
	const capacity, writers = 5, 40
	repo, _ := newMessageRepo(t, StoreOptions{ChunkCapacity: capacity})
	ctx := context.Background()
	roomID := newRoom(t, repo)

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- repo.Append(ctx, roomID, textMessage(fmt.Sprintf("u%d", i), fmt.Sprintf("m%d", i)))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	page, err := repo.List(ctx, roomID, 0, 100)
	require.NoError(t, err)

	total := 0
	seen := map[string]bool{}
	for i, c := range page.Chunks {
		// serials stay contiguous, newest first
		assert.Equal(t, int64(len(page.Chunks)-i), c.Serial)
		assert.LessOrEqual(t, len(c.Messages), capacity)
		for _, m := range c.Messages {
			assert.False(t, seen[m.ID], "duplicate message %s", m.ID)
			seen[m.ID] = true
		}
		total += len(c.Messages)
	}
	assert.Equal(t, writers, total)
}

func TestReplyRequiresParent(t *testing.T) {
	repo, _ := newMessageRepo(t, StoreOptions{})
	ctx := context.Background()
	roomID := newRoom(t, repo)

	err := repo.Reply(ctx, roomID, textMessage("u1", "re"))
	assert.Equal(t, errprocess.KindValidation, errprocess.KindOf(err))

	parent := textMessage("u1", "parent")
	require.NoError(t, repo.Append(ctx, roomID, parent))
	reply := textMessage("u2", "re")
	reply.ParentMessageID = parent.ID
	require.NoError(t, repo.Reply(ctx, roomID, reply))

	got, err := repo.Find(ctx, roomID, reply.ID)
	require.NoError(t, err)
	assert.Equal(t, parent.ID, got.ParentMessageID)
}

func TestRemoveMessage(t *testing.T) {
	repo, _ := newMessageRepo(t, StoreOptions{ChunkCapacity: 2})
	ctx := context.Background()
	roomID := newRoom(t, repo)

	a, b, c := textMessage("u1", "a"), textMessage("u1", "b"), textMessage("u1", "c")
	for _, m := range []domain.Message{a, b, c} {
		require.NoError(t, repo.Append(ctx, roomID, m))
	}

	t.Run("unknown id is a no-op", func(t *testing.T) {
		assert.NoError(t, repo.Remove(ctx, roomID, "missing"))
	})

	t.Run("chunk keeps its other messages", func(t *testing.T) {
		require.NoError(t, repo.Remove(ctx, roomID, a.ID))
		_, err := repo.Find(ctx, roomID, a.ID)
		assert.ErrorIs(t, err, errprocess.ErrMessageNotFound)
		got, err := repo.Find(ctx, roomID, b.ID)
		require.NoError(t, err)
		assert.Equal(t, "b", got.Content)
	})

	t.Run("emptied newest chunk keeps its serial", func(t *testing.T) {
		require.NoError(t, repo.Remove(ctx, roomID, c.ID))
		latest, err := repo.Latest(ctx, roomID)
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, int64(2), latest.Serial)
		assert.Empty(t, latest.Messages)

		d := textMessage("u1", "d")
		require.NoError(t, repo.Append(ctx, roomID, d))
		latest, err = repo.Latest(ctx, roomID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), latest.Serial)
		require.Len(t, latest.Messages, 1)
		assert.Equal(t, d.ID, latest.Messages[0].ID)
	})

	t.Run("emptied older chunk is deleted", func(t *testing.T) {
		require.NoError(t, repo.Remove(ctx, roomID, b.ID))
		page, err := repo.List(ctx, roomID, 0, 10)
		require.NoError(t, err)
		require.Len(t, page.Chunks, 1)
		assert.Equal(t, int64(2), page.Chunks[0].Serial)
	})

	t.Run("serials are never handed out twice", func(t *testing.T) {
		e := textMessage("u1", "e")
		require.NoError(t, repo.Append(ctx, roomID, e))
		f := textMessage("u1", "f")
		require.NoError(t, repo.Append(ctx, roomID, f))

		latest, err := repo.Latest(ctx, roomID)
		require.NoError(t, err)
		assert.Equal(t, int64(3), latest.Serial)
		assert.Equal(t, f.ID, latest.Messages[0].ID)
	})
}

func TestListRejectsOverflowingPage(t *testing.T) {
	// rejected before any shard is touched
	repo := NewMongoMessageRepository(NewShardRegistry(nil), StoreOptions{})

	_, err := repo.List(context.Background(), "2026_1-00001", math.MaxInt64/2, 3)
	assert.Equal(t, errprocess.KindValidation, errprocess.KindOf(err))
	assert.Contains(t, errprocess.Public(err), "skipCount")

	_, err = repo.List(context.Background(), "2026_1-00001", -1, 1)
	assert.Equal(t, errprocess.KindValidation, errprocess.KindOf(err))
}

func TestEditMessage(t *testing.T) {
	repo, _ := newMessageRepo(t, StoreOptions{})
	ctx := context.Background()
	roomID := newRoom(t, repo)

	msg := textMessage("u1", "helo")
	require.NoError(t, repo.Append(ctx, roomID, msg))

	require.NoError(t, repo.Edit(ctx, roomID, msg.ID, "helo", "hello"))
	got, err := repo.Find(ctx, roomID, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Content)
	assert.Equal(t, "helo", got.OriginalContent)
	assert.NotNil(t, got.EditedAt)

	err = repo.Edit(ctx, roomID, "missing", "a", "b")
	assert.ErrorIs(t, err, errprocess.ErrMessageNotFound)
}

func TestMarkSeenKeepsOneEntryPerUser(t *testing.T) {
	repo, _ := newMessageRepo(t, StoreOptions{})
	ctx := context.Background()
	roomID := newRoom(t, repo)

	first, second := textMessage("u1", "1"), textMessage("u1", "2")
	require.NoError(t, repo.Append(ctx, roomID, first))
	require.NoError(t, repo.Append(ctx, roomID, second))

	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, repo.MarkSeen(ctx, roomID, first.ID, "u2", now))
	require.NoError(t, repo.MarkSeen(ctx, roomID, second.ID, "u2", now.Add(time.Second)))
	require.NoError(t, repo.MarkSeen(ctx, roomID, second.ID, "u3", now))

	latest, err := repo.Latest(ctx, roomID)
	require.NoError(t, err)
	require.Len(t, latest.SeenBy, 2)
	for _, s := range latest.SeenBy {
		if s.UserID == "u2" {
			assert.Equal(t, second.ID, s.LastSeenMessageID)
		}
	}

	err = repo.MarkSeen(ctx, roomID, "missing", "u2", now)
	assert.ErrorIs(t, err, errprocess.ErrMessageNotFound)
}

func TestReactions(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name   string
		dedupe bool
		want   int
	}{
		{name: "dedupe by user and content", dedupe: true, want: 1},
		{name: "no dedupe", dedupe: false, want: 2},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo, _ := newMessageRepo(t, StoreOptions{DedupeReactions: tc.dedupe})
			roomID := newRoom(t, repo)
			msg := textMessage("u1", "hi")
			require.NoError(t, repo.Append(ctx, roomID, msg))

			r := domain.Reaction{UserID: "u2", Content: "👍", ReactedAt: time.Now().UTC()}
			require.NoError(t, repo.React(ctx, roomID, msg.ID, r))
			require.NoError(t, repo.React(ctx, roomID, msg.ID, r))

			got, err := repo.Find(ctx, roomID, msg.ID)
			require.NoError(t, err)
			assert.Len(t, got.Reactions, tc.want)

			require.NoError(t, repo.Unreact(ctx, roomID, msg.ID, r))
			got, err = repo.Find(ctx, roomID, msg.ID)
			require.NoError(t, err)
			assert.Empty(t, got.Reactions)
		})
	}

	t.Run("unknown message", func(t *testing.T) {
		repo, _ := newMessageRepo(t, StoreOptions{})
		roomID := newRoom(t, repo)
		err := repo.React(ctx, roomID, "missing", domain.Reaction{UserID: "u1", Content: "x"})
		assert.ErrorIs(t, err, errprocess.ErrMessageNotFound)
	})
}

func TestAppendToDeletedRoom(t *testing.T) {
	repo, _ := newMessageRepo(t, StoreOptions{})
	ctx := context.Background()

	roomID, err := repo.CreateRoom(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.DeleteRoom(ctx, roomID))

	err = repo.Append(ctx, roomID, textMessage("u1", "late"))
	assert.ErrorIs(t, err, errprocess.ErrRoomNotFound)
}

func TestCreateRoomRollsOverFullShard(t *testing.T) {
	// 用未來年份避免和其他測試共用 shard
	year := 2090 + time.Now().Nanosecond()%9
	repo, shards := newMessageRepo(t, StoreOptions{
		ShardCapacity: 2,
		Now:           func() time.Time { return time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC) },
	})
	ctx := context.Background()

	ids := []string{newRoom(t, repo), newRoom(t, repo), newRoom(t, repo)}

	for i, want := range []domain.ShardID{{Year: year, Rank: 1}, {Year: year, Rank: 1}, {Year: year, Rank: 2}} {
		got, err := domain.ShardOf(ids[i])
		require.NoError(t, err)
		assert.Equal(t, want, got, ids[i])
	}

	count, err := shards.RoomCount(ctx, domain.ShardID{Year: year, Rank: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	t.Cleanup(func() {
		for _, s := range []domain.ShardID{{Year: year, Rank: 1}, {Year: year, Rank: 2}} {
			_ = mongoClient.Database(s.Name()).Drop(context.Background())
		}
	})
}

func TestShardRegistryClose(t *testing.T) {
	client := requireMongo(t)
	shards := NewShardRegistry(client)

	db, err := shards.Acquire(domain.FirstShard(2026))
	require.NoError(t, err)
	assert.Equal(t, "2026_1", db.Name())
	assert.Len(t, shards.Open(), 1)

	shards.Close()
	assert.Empty(t, shards.Open())
	_, err = shards.Room("2026_1-00001")
	assert.ErrorIs(t, err, ErrRegistryClosed)
	_, err = shards.Databases(context.Background())
	assert.ErrorIs(t, err, ErrRegistryClosed)
}

func TestStoreTimeoutIsUnavailable(t *testing.T) {
	repo, _ := newMessageRepo(t, StoreOptions{Timeout: time.Nanosecond})
	_, err := repo.Latest(context.Background(), "2026_1-00001")
	require.Error(t, err)
	assert.ErrorIs(t, err, errprocess.ErrStoreUnavailable)
}
