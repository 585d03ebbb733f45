package app

import (
	"context"
	"time"

	"realtime_chat_service/internal/chat/domain"
	"realtime_chat_service/internal/chat/repository"
	"realtime_chat_service/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MembershipRelay replays directory outbox entries into the identity store, in order, per room.
// The directory stays the source of truth; the identity room lists converge behind it.
type MembershipRelay struct {
	owner     string
	rooms     repository.RoomRepository
	identity  repository.IdentityRepository
	publisher repository.LifecyclePublisher

	interval time.Duration
	batch    int64
	lease    time.Duration
	now      func() time.Time
}

// NewMembershipRelay create MembershipRelay
func NewMembershipRelay(
	rooms repository.RoomRepository,
	identity repository.IdentityRepository,
	publisher repository.LifecyclePublisher,
	interval time.Duration,
	batch int64,
) *MembershipRelay {
	if publisher == nil {
		publisher = repository.NopLifecyclePublisher{}
	}
	return &MembershipRelay{
		owner:     uuid.NewString(),
		rooms:     rooms,
		identity:  identity,
		publisher: publisher,
		interval:  interval,
		batch:     batch,
		lease:     time.Minute,
		now:       time.Now,
	}
}

// Run drain pending outboxes every interval until ctx is done
func (r *MembershipRelay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	logger.Log.Info("membership relay started", zap.String("owner", r.owner), zap.Duration("interval", r.interval))
	for {
		select {
		case <-ctx.Done():
			logger.Log.Info("membership relay stopped")
			return
		case <-ticker.C:
			if n, err := r.Drain(ctx); err != nil {
				logger.Log.Errorf("membership relay drain", err, zap.Int("synced", n))
			} else if n > 0 {
				logger.Log.Info("membership relay drained", zap.Int("synced", n))
			}
		}
	}
}

// Drain sync one batch of rooms with pending entries, returns the number of entries applied.
// A failing room does not stop the others; the last error is returned.
func (r *MembershipRelay) Drain(ctx context.Context) (int, error) {
	pending, err := r.rooms.PendingSync(ctx, r.batch)
	if err != nil {
		return 0, err
	}

	total := 0
	var lastErr error
	for _, room := range pending {
		n, err := r.SyncRoom(ctx, room.ID)
		total += n
		if err != nil {
			lastErr = err
		}
	}
	return total, lastErr
}

// SyncRoom apply roomID's outbox entries oldest first, stopping at the first failure so
// later entries never overtake it. Rooms leased by another node are skipped.
func (r *MembershipRelay) SyncRoom(ctx context.Context, roomID string) (int, error) {
	room, err := r.rooms.Claim(ctx, roomID, r.owner, r.lease)
	if err != nil || room == nil {
		return 0, err
	}
	defer func() {
		if err := r.rooms.Release(context.WithoutCancel(ctx), roomID, r.owner); err != nil {
			logger.Log.Errorf("release relay lease", err, zap.String("roomID", roomID))
		}
	}()

	applied := 0
	for _, entry := range room.Outbox {
		if err := r.identity.Apply(ctx, roomID, entry); err != nil {
			logger.Log.Errorf("apply outbox entry", err,
				zap.String("roomID", roomID),
				zap.String("entryID", entry.ID),
				zap.String("op", string(entry.Op)),
				zap.Int("attempts", entry.Attempts+1),
			)
			if ferr := r.rooms.FailOutbox(ctx, roomID, entry.ID, err.Error()); ferr != nil {
				logger.Log.Errorf("record outbox failure", ferr, zap.String("roomID", roomID))
			}
			return applied, err
		}
		if err := r.rooms.AckOutbox(ctx, roomID, entry.ID); err != nil {
			// applied but not acked, it is replayed next round; Apply is idempotent
			return applied, err
		}
		applied++

		evt := domain.LifecycleEvent{
			RoomID:  roomID,
			Op:      entry.Op,
			Type:    entry.Type,
			Members: entry.Members,
			Added:   entry.Added,
			Removed: entry.Removed,
			At:      r.now(),
		}
		if err := r.publisher.Publish(ctx, evt); err != nil {
			logger.Log.Errorf("publish lifecycle event", err, zap.String("roomID", roomID), zap.String("op", string(entry.Op)))
		}
	}

	if room.Deleted {
		if err := r.rooms.Purge(ctx, roomID); err != nil {
			return applied, err
		}
		logger.Log.Info("deleted room purged from directory", zap.String("roomID", roomID))
	}
	return applied, nil
}
