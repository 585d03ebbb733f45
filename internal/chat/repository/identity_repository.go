package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"realtime_chat_service/internal/chat/domain"
	errprocess "realtime_chat_service/pkg/err"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// IdentityRepository the identity service's postgres: sessions, per-user room lists, chat_rooms
type IdentityRepository interface {
	// FindSession rooms of userID when accessToken is the user's current token
	FindSession(ctx context.Context, userID, accessToken string) (*domain.Identity, error)
	// Apply project one directory outbox entry, all or nothing
	Apply(ctx context.Context, roomID string, entry domain.OutboxEntry) error
}

const (
	sqlFindSession = `
SELECT COALESCE(rooms, '[]'::jsonb)
FROM users
WHERE id::text = $1 AND tokens->>'at' = $2`

	sqlUpsertChatRoom = `
INSERT INTO chat_rooms (id, name, type, theme, avatar, members)
VALUES ($1, NULLIF($2, ''), $3, $4, NULLIF($5, ''), $6::jsonb)
ON CONFLICT (id) DO UPDATE
SET name = EXCLUDED.name,
    type = EXCLUDED.type,
    theme = EXCLUDED.theme,
    avatar = EXCLUDED.avatar,
    members = EXCLUDED.members`

	sqlDeleteChatRoom = `DELETE FROM chat_rooms WHERE id = $1`

	sqlAddUserRoom = `
UPDATE users
SET rooms = (
    SELECT COALESCE(jsonb_agg(DISTINCT elem), '[]'::jsonb)
    FROM jsonb_array_elements_text(COALESCE(rooms, '[]'::jsonb) || to_jsonb($1::text)) AS elem
)
WHERE id::text = ANY($2)`

	sqlRemoveUserRoom = `
UPDATE users
SET rooms = COALESCE((
    SELECT jsonb_agg(elem)
    FROM jsonb_array_elements_text(COALESCE(rooms, '[]'::jsonb)) AS elem
    WHERE elem <> $1
), '[]'::jsonb)
WHERE id::text = ANY($2)`
)

type pgIdentityRepository struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewPostgresIdentityRepository create an IdentityRepository over pool
func NewPostgresIdentityRepository(pool *pgxpool.Pool, timeout time.Duration) IdentityRepository {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &pgIdentityRepository{pool: pool, timeout: timeout}
}

func (r *pgIdentityRepository) FindSession(ctx context.Context, userID, accessToken string) (*domain.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var raw []byte
	err := r.pool.QueryRow(ctx, sqlFindSession, userID, accessToken).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errprocess.ErrIdentityNotFound
	}
	if err != nil {
		return nil, errprocess.Store("find session", err)
	}

	var rooms []string
	if err := json.Unmarshal(raw, &rooms); err != nil {
		return nil, errprocess.Store("find session", fmt.Errorf("decode rooms of %s: %w", userID, err))
	}
	return &domain.Identity{UserID: userID, Rooms: rooms}, nil
}

func (r *pgIdentityRepository) Apply(ctx context.Context, roomID string, entry domain.OutboxEntry) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errprocess.Store("identity apply", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	switch entry.Op {
	case domain.OutboxRegister, domain.OutboxUpdate:
		members, err := json.Marshal(nonNil(entry.Members))
		if err != nil {
			return errprocess.Store("identity apply", err)
		}
		if _, err := tx.Exec(ctx, sqlUpsertChatRoom,
			roomID, entry.Name, string(entry.Type), entry.Theme, entry.Avatar, string(members),
		); err != nil {
			return errprocess.Store("upsert chat room", err)
		}
	case domain.OutboxUnregister:
		if _, err := tx.Exec(ctx, sqlDeleteChatRoom, roomID); err != nil {
			return errprocess.Store("delete chat room", err)
		}
	default:
		return errprocess.Invalid(fmt.Sprintf("unknown outbox op %q", entry.Op))
	}

	if len(entry.Added) > 0 {
		if _, err := tx.Exec(ctx, sqlAddUserRoom, roomID, entry.Added); err != nil {
			return errprocess.Store("add user room", err)
		}
	}
	if len(entry.Removed) > 0 {
		if _, err := tx.Exec(ctx, sqlRemoveUserRoom, roomID, entry.Removed); err != nil {
			return errprocess.Store("remove user room", err)
		}
	}

	return errprocess.Store("identity apply", tx.Commit(ctx))
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
