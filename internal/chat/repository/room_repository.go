package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"realtime_chat_service/internal/chat/domain"
	"realtime_chat_service/pkg"
	errprocess "realtime_chat_service/pkg/err"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// RoomRepository room directory. Every membership change also appends an outbox entry in
// the same document update; the relay drains it into the identity store.
type RoomRepository interface {
	Create(ctx context.Context, room *domain.Room) error
	Get(ctx context.Context, roomID string) (*domain.Room, error)
	UpdateMembers(ctx context.Context, roomID string, memberIDs []string) (*domain.Room, error)
	SetAvatar(ctx context.Context, roomID, avatar string) (*domain.Room, error)
	AddFavourite(ctx context.Context, roomID, userID string, msg domain.Message) error
	RemoveFavourite(ctx context.Context, roomID, userID, messageID string) error
	MarkDeleted(ctx context.Context, roomID string) (*domain.Room, error)

	// outbox
	PendingSync(ctx context.Context, limit int64) ([]*domain.Room, error)
	// Claim lease roomID's outbox to owner, nil when another owner holds a live lease.
	// Deleted rooms can be claimed.
	Claim(ctx context.Context, roomID, owner string, lease time.Duration) (*domain.Room, error)
	Release(ctx context.Context, roomID, owner string) error
	AckOutbox(ctx context.Context, roomID, entryID string) error
	FailOutbox(ctx context.Context, roomID, entryID, reason string) error
	Purge(ctx context.Context, roomID string) error
}

const maxVersionConflicts = 5

type mongoRoomRepository struct {
	coll    *mongo.Collection
	timeout time.Duration
	now     func() time.Time
}

// NewMongoRoomRepository create the directory over db.collection
func NewMongoRoomRepository(db *mongo.Database, collection string, timeout time.Duration) RoomRepository {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &mongoRoomRepository{
		coll:    db.Collection(collection),
		timeout: timeout,
		now:     time.Now,
	}
}

func (r *mongoRoomRepository) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

// Create insert room, the caller fills Outbox with the register entry
func (r *mongoRoomRepository) Create(ctx context.Context, room *domain.Room) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	if room.Theme == "" {
		room.Theme = domain.DefaultTheme
	}
	_, err := r.coll.InsertOne(ctx, room)
	if mongo.IsDuplicateKeyError(err) {
		return errprocess.Invalid(fmt.Sprintf("room %s already exists", room.ID))
	}
	return errprocess.Store("directory create", err)
}

func (r *mongoRoomRepository) Get(ctx context.Context, roomID string) (*domain.Room, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	return r.get(ctx, roomID)
}

func (r *mongoRoomRepository) get(ctx context.Context, roomID string) (*domain.Room, error) {
	var room domain.Room
	err := r.coll.FindOne(ctx, bson.M{"_id": roomID, "deleted": bson.M{"$ne": true}}).Decode(&room)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errprocess.ErrRoomNotFound
	}
	if err != nil {
		return nil, errprocess.Store("directory get", err)
	}
	return &room, nil
}

// mutation describes one versioned change: fields to $set plus an optional outbox entry
type mutation struct {
	set   bson.M
	entry *domain.OutboxEntry
}

// mutate read the room, let fn derive the change, then write it only if nobody else
// bumped the version in between
func (r *mongoRoomRepository) mutate(ctx context.Context, roomID string, fn func(room *domain.Room, now time.Time) (mutation, error)) (*domain.Room, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	for i := 0; i < maxVersionConflicts; i++ {
		room, err := r.get(ctx, roomID)
		if err != nil {
			return nil, err
		}
		now := r.now()
		m, err := fn(room, now)
		if err != nil {
			return nil, err
		}

		m.set["updatedAt"] = now
		update := bson.M{
			"$set": m.set,
			"$inc": bson.M{"version": 1},
		}
		if m.entry != nil {
			update["$push"] = bson.M{"outbox": m.entry}
		}

		res, err := r.coll.UpdateOne(ctx, bson.M{"_id": roomID, "deleted": bson.M{"$ne": true}, "version": versionOf(room.Version)}, update)
		if err != nil {
			return nil, errprocess.Store("directory update", err)
		}
		if res.MatchedCount == 1 {
			room.Version++
			room.UpdatedAt = now
			if m.entry != nil {
				room.Outbox = append(room.Outbox, *m.entry)
			}
			return room, nil
		}
	}
	return nil, errprocess.Store("directory update", fmt.Errorf("room %s: version conflict", roomID))
}

// versionOf match version v; records written before versioning have no field at all
func versionOf(v int64) interface{} {
	if v == 0 {
		return bson.M{"$in": bson.A{0, nil}}
	}
	return v
}

func (r *mongoRoomRepository) UpdateMembers(ctx context.Context, roomID string, memberIDs []string) (*domain.Room, error) {
	memberIDs = pkg.Unique(memberIDs)
	return r.mutate(ctx, roomID, func(room *domain.Room, now time.Time) (mutation, error) {
		added, removed := pkg.Diff(room.MemberIDs(), memberIDs)

		// keep joinedAt and favourites of members that stay
		kept := make(map[string]domain.Member, len(room.Members))
		for _, m := range room.Members {
			kept[m.UserID] = m
		}
		members := make([]domain.Member, 0, len(memberIDs))
		for _, id := range memberIDs {
			if m, ok := kept[id]; ok {
				members = append(members, m)
				continue
			}
			members = append(members, domain.Member{UserID: id, JoinedAt: now})
		}
		room.Members = members

		m := mutation{set: bson.M{"members": members}}
		if len(added) > 0 || len(removed) > 0 {
			e := domain.NewOutboxEntry(uuid.NewString(), domain.OutboxUpdate, room, added, removed, now)
			m.entry = &e
		}
		return m, nil
	})
}

func (r *mongoRoomRepository) SetAvatar(ctx context.Context, roomID, avatar string) (*domain.Room, error) {
	return r.mutate(ctx, roomID, func(room *domain.Room, now time.Time) (mutation, error) {
		room.Avatar = avatar
		e := domain.NewOutboxEntry(uuid.NewString(), domain.OutboxUpdate, room, nil, nil, now)
		return mutation{set: bson.M{"avatar": avatar}, entry: &e}, nil
	})
}

func (r *mongoRoomRepository) MarkDeleted(ctx context.Context, roomID string) (*domain.Room, error) {
	return r.mutate(ctx, roomID, func(room *domain.Room, now time.Time) (mutation, error) {
		e := domain.NewOutboxEntry(uuid.NewString(), domain.OutboxUnregister, room, nil, room.MemberIDs(), now)
		room.Deleted = true
		return mutation{set: bson.M{"deleted": true}, entry: &e}, nil
	})
}

func (r *mongoRoomRepository) AddFavourite(ctx context.Context, roomID, userID string, msg domain.Message) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": roomID, "deleted": bson.M{"$ne": true}, "members.userId": userID},
		bson.M{
			"$push": bson.M{"members.$[mem].favourites": msg},
			"$set":  bson.M{"updatedAt": r.now()},
		},
		// 已收藏過的訊息不重複加入
		options.Update().SetArrayFilters(options.ArrayFilters{Filters: []interface{}{
			bson.M{"mem.userId": userID, "mem.favourites.id": bson.M{"$ne": msg.ID}},
		}}),
	)
	if err != nil {
		return errprocess.Store("add favourite", err)
	}
	if res.MatchedCount == 0 {
		return r.missing(ctx, roomID)
	}
	return nil
}

func (r *mongoRoomRepository) RemoveFavourite(ctx context.Context, roomID, userID, messageID string) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": roomID, "deleted": bson.M{"$ne": true}, "members.userId": userID},
		bson.M{
			"$pull": bson.M{"members.$.favourites": bson.M{"id": messageID}},
			"$set":  bson.M{"updatedAt": r.now()},
		},
	)
	if err != nil {
		return errprocess.Store("remove favourite", err)
	}
	if res.MatchedCount == 0 {
		return r.missing(ctx, roomID)
	}
	return nil
}

// missing tell a missing room apart from a missing member
func (r *mongoRoomRepository) missing(ctx context.Context, roomID string) error {
	if _, err := r.get(ctx, roomID); err != nil {
		return err
	}
	return errprocess.ErrMemberNotFound
}

func (r *mongoRoomRepository) PendingSync(ctx context.Context, limit int64) ([]*domain.Room, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	cur, err := r.coll.Find(ctx,
		bson.M{"outbox.0": bson.M{"$exists": true}},
		options.Find().SetSort(bson.D{{Key: "updatedAt", Value: 1}}).SetLimit(limit),
	)
	if err != nil {
		return nil, errprocess.Store("pending sync", err)
	}
	var rooms []*domain.Room
	if err := cur.All(ctx, &rooms); err != nil {
		return nil, errprocess.Store("pending sync", err)
	}
	return rooms, nil
}

func (r *mongoRoomRepository) Claim(ctx context.Context, roomID, owner string, lease time.Duration) (*domain.Room, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	now := r.now()
	var room domain.Room
	err := r.coll.FindOneAndUpdate(ctx,
		bson.M{
			"_id": roomID,
			"$or": bson.A{
				bson.M{"relayOwner": owner},
				bson.M{"relayLeaseUntil": bson.M{"$exists": false}},
				bson.M{"relayLeaseUntil": bson.M{"$lt": now}},
			},
		},
		bson.M{"$set": bson.M{"relayOwner": owner, "relayLeaseUntil": now.Add(lease)}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&room)
	if errors.Is(err, mongo.ErrNoDocuments) {
		// 不存在或被其他節點持有
		return nil, nil
	}
	if err != nil {
		return nil, errprocess.Store("claim outbox", err)
	}
	return &room, nil
}

func (r *mongoRoomRepository) Release(ctx context.Context, roomID, owner string) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	_, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": roomID, "relayOwner": owner},
		bson.M{"$unset": bson.M{"relayOwner": "", "relayLeaseUntil": ""}},
	)
	return errprocess.Store("release outbox", err)
}

func (r *mongoRoomRepository) AckOutbox(ctx context.Context, roomID, entryID string) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	_, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": roomID},
		bson.M{"$pull": bson.M{"outbox": bson.M{"id": entryID}}},
	)
	return errprocess.Store("ack outbox", err)
}

func (r *mongoRoomRepository) FailOutbox(ctx context.Context, roomID, entryID, reason string) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	_, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": roomID, "outbox.id": entryID},
		bson.M{
			"$inc": bson.M{"outbox.$.attempts": 1},
			"$set": bson.M{"outbox.$.lastError": reason},
		},
	)
	return errprocess.Store("fail outbox", err)
}

// Purge remove a deleted room once its outbox is drained
func (r *mongoRoomRepository) Purge(ctx context.Context, roomID string) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	_, err := r.coll.DeleteOne(ctx, bson.M{
		"_id":      roomID,
		"deleted":  true,
		"outbox.0": bson.M{"$exists": false},
	})
	return errprocess.Store("purge room", err)
}
