package repository

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"realtime_chat_service/internal/chat/domain"
	errprocess "realtime_chat_service/pkg/err"
	"realtime_chat_service/pkg/logger"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// MessageRepository sharded message chunk store, every call is addressed by room id
type MessageRepository interface {
	// CreateRoom pick a shard and create the room's collection in it
	CreateRoom(ctx context.Context) (string, error)
	// DeleteRoom drop the room's collection
	DeleteRoom(ctx context.Context, roomID string) error

	// Append put msg in the newest chunk, opening a new one when it is full
	Append(ctx context.Context, roomID string, msg domain.Message) error
	// Reply same placement as Append, msg carries the parent id
	Reply(ctx context.Context, roomID string, msg domain.Message) error
	// Remove pull the message, dropping its chunk when it empties unless it is the newest one;
	// unknown ids are a no-op
	Remove(ctx context.Context, roomID, messageID string) error
	// Edit overwrite content and originalContent in place
	Edit(ctx context.Context, roomID, messageID, originalContent, updatedContent string) error
	// MarkSeen upsert the user's read receipt on the chunk holding messageID
	MarkSeen(ctx context.Context, roomID, messageID, userID string, seenAt time.Time) error
	// React add a reaction to the message
	React(ctx context.Context, roomID, messageID string, reaction domain.Reaction) error
	// Unreact remove the user's reaction with the same content
	Unreact(ctx context.Context, roomID, messageID string, reaction domain.Reaction) error

	// Find read one message
	Find(ctx context.Context, roomID, messageID string) (*domain.Message, error)
	// List chunks newest first, paged in whole chunks
	List(ctx context.Context, roomID string, page, pageSize int64) (*domain.ChunkPage, error)
	// Latest newest chunk, nil when the room has none
	Latest(ctx context.Context, roomID string) (*domain.MessageChunk, error)
}

// StoreOptions placement policy of the message store
type StoreOptions struct {
	ChunkCapacity   int
	ShardCapacity   int
	Timeout         time.Duration
	DedupeReactions bool

	Now  func() time.Time
	Rand func(n int) int
}

const (
	maxPlaceAttempts   = 32
	maxSuffixAttempts  = 8
	maxShardRollovers  = 4
	codeNamespaceExist = 48
)

type mongoMessageRepository struct {
	shards *ShardRegistry
	opts   StoreOptions
}

// NewMongoMessageRepository create a MessageRepository over the shard registry
func NewMongoMessageRepository(shards *ShardRegistry, opts StoreOptions) MessageRepository {
	if opts.ChunkCapacity <= 0 {
		opts.ChunkCapacity = 31
	}
	if opts.ShardCapacity <= 0 {
		opts.ShardCapacity = 1000
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Rand == nil {
		opts.Rand = rand.Intn
	}
	return &mongoMessageRepository{shards: shards, opts: opts}
}

func (r *mongoMessageRepository) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.opts.Timeout)
}

func (r *mongoMessageRepository) CreateRoom(ctx context.Context) (string, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	year := r.opts.Now().Year()
	names, err := r.shards.Databases(ctx)
	if err != nil {
		return "", errprocess.Store("list shards", err)
	}
	shard, ok := domain.LatestShard(names, year)
	if !ok {
		shard = domain.FirstShard(year)
	}

	for i := 0; i < maxShardRollovers; i++ {
		roomID, err := r.createIn(ctx, shard)
		if errors.Is(err, errprocess.ErrShardCapacity) {
			logger.Log.Info("shard full, rolling over",
				zap.String("shard", shard.Name()),
				zap.String("next", shard.Next().Name()),
			)
			shard = shard.Next()
			continue
		}
		if err != nil {
			return "", errprocess.Store("create room", err)
		}
		return roomID, nil
	}
	return "", errprocess.Store("create room", errprocess.Set(fmt.Sprintf("no shard with free capacity after %s", shard)))
}

func (r *mongoMessageRepository) createIn(ctx context.Context, shard domain.ShardID) (string, error) {
	count, err := r.shards.RoomCount(ctx, shard)
	if err != nil {
		return "", err
	}
	if domain.ShardFull(count, r.opts.ShardCapacity) {
		return "", errprocess.ErrShardCapacity
	}

	db, err := r.shards.Acquire(shard)
	if err != nil {
		return "", err
	}
	for i := 0; i < maxSuffixAttempts; i++ {
		roomID := domain.NewRoomID(shard, r.opts.Rand(domain.RoomSuffixSpace))
		err = db.CreateCollection(ctx, roomID)
		if isNamespaceExists(err) {
			// 名稱碰撞, 重新產生 suffix
			continue
		}
		if err != nil {
			return "", err
		}
		return roomID, nil
	}
	return "", fmt.Errorf("room id collisions in shard %s: %w", shard, err)
}

func isNamespaceExists(err error) bool {
	var ce mongo.CommandError
	return errors.As(err, &ce) && ce.Code == codeNamespaceExist
}

func (r *mongoMessageRepository) DeleteRoom(ctx context.Context, roomID string) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	coll, err := r.shards.Room(roomID)
	if err != nil {
		return errprocess.Store("delete room", err)
	}
	return errprocess.Store("delete room", coll.Drop(ctx))
}

func (r *mongoMessageRepository) Append(ctx context.Context, roomID string, msg domain.Message) error {
	msg.ParentMessageID = ""
	return r.place(ctx, roomID, msg)
}

func (r *mongoMessageRepository) Reply(ctx context.Context, roomID string, msg domain.Message) error {
	if msg.ParentMessageID == "" {
		return errprocess.Validation(string(domain.EventReplyToMessage), "parentMessageId")
	}
	return r.place(ctx, roomID, msg)
}

// place is a conditional push on the newest chunk guarded by its length, falling back to
// inserting chunk serial+1. The _id index turns a concurrent insert of the same serial into a
// duplicate key error, after which the loop retries against the chunk the other writer opened.
func (r *mongoMessageRepository) place(ctx context.Context, roomID string, msg domain.Message) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	coll, err := r.shards.Room(roomID)
	if err != nil {
		return errprocess.Store("append", err)
	}
	notFull := fmt.Sprintf("messages.%d", r.opts.ChunkCapacity-1)

	for attempt := 0; attempt < maxPlaceAttempts; attempt++ {
		now := r.opts.Now()
		latest, err := latestSerial(ctx, coll)
		if err != nil {
			return errprocess.Store("append", err)
		}

		if latest > 0 {
			res, err := coll.UpdateOne(ctx,
				bson.M{"_id": latest, notFull: bson.M{"$exists": false}},
				bson.M{
					"$push": bson.M{"messages": msg},
					"$set":  bson.M{"updatedAt": now},
				},
			)
			if err != nil {
				return errprocess.Store("append", err)
			}
			if res.MatchedCount == 1 {
				return nil
			}
		} else if ok, err := collectionExists(ctx, coll); err != nil {
			return errprocess.Store("append", err)
		} else if !ok {
			// inserting would silently recreate a deleted room
			return errprocess.ErrRoomNotFound
		}

		_, err = coll.InsertOne(ctx, domain.MessageChunk{
			Serial:    latest + 1,
			Messages:  []domain.Message{msg},
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err == nil {
			return nil
		}
		if !mongo.IsDuplicateKeyError(err) {
			return errprocess.Store("append", err)
		}
		logger.Log.Debug("chunk opened concurrently, retrying",
			zap.String("roomID", roomID),
			zap.Int64("serial", latest+1),
			zap.Int("attempt", attempt+1),
		)
	}
	return errprocess.Store("append", errprocess.Set(fmt.Sprintf("room %s: gave up after %d contended attempts", roomID, maxPlaceAttempts)))
}

func latestSerial(ctx context.Context, coll *mongo.Collection) (int64, error) {
	var head struct {
		Serial int64 `bson:"_id"`
	}
	err := coll.FindOne(ctx, bson.D{},
		options.FindOne().SetSort(bson.D{{Key: "_id", Value: -1}}).SetProjection(bson.M{"_id": 1}),
	).Decode(&head)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	return head.Serial, err
}

func collectionExists(ctx context.Context, coll *mongo.Collection) (bool, error) {
	names, err := coll.Database().ListCollectionNames(ctx, bson.M{"name": coll.Name()})
	if err != nil {
		return false, err
	}
	return len(names) > 0, nil
}

func (r *mongoMessageRepository) Remove(ctx context.Context, roomID, messageID string) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	coll, err := r.shards.Room(roomID)
	if err != nil {
		return errprocess.Store("remove", err)
	}

	var after domain.MessageChunk
	err = coll.FindOneAndUpdate(ctx,
		bson.M{"messages.id": messageID},
		bson.M{
			"$pull": bson.M{"messages": bson.M{"id": messageID}},
			"$set":  bson.M{"updatedAt": r.opts.Now()},
		},
		options.FindOneAndUpdate().
			SetReturnDocument(options.After).
			SetProjection(bson.M{"_id": 1, "messages.id": 1}),
	).Decode(&after)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil
	}
	if err != nil {
		return errprocess.Store("remove", err)
	}

	if len(after.Messages) == 0 {
		// the newest chunk stays, serials come from it and must never be handed out twice
		newer, err := coll.CountDocuments(ctx, bson.M{"_id": bson.M{"$gt": after.Serial}}, options.Count().SetLimit(1))
		if err != nil {
			return errprocess.Store("remove empty chunk", err)
		}
		if newer == 0 {
			return nil
		}
		// only delete while still empty, an append may have landed in between
		_, err = coll.DeleteOne(ctx, bson.M{"_id": after.Serial, "messages": bson.M{"$size": 0}})
		return errprocess.Store("remove empty chunk", err)
	}
	return nil
}

func (r *mongoMessageRepository) Edit(ctx context.Context, roomID, messageID, originalContent, updatedContent string) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	coll, err := r.shards.Room(roomID)
	if err != nil {
		return errprocess.Store("edit", err)
	}
	now := r.opts.Now()
	res, err := coll.UpdateOne(ctx,
		bson.M{"messages.id": messageID},
		bson.M{"$set": bson.M{
			"messages.$.content":         updatedContent,
			"messages.$.originalContent": originalContent,
			"messages.$.editedAt":        now,
			"updatedAt":                  now,
		}},
	)
	if err != nil {
		return errprocess.Store("edit", err)
	}
	if res.MatchedCount == 0 {
		return errprocess.ErrMessageNotFound
	}
	return nil
}

func (r *mongoMessageRepository) MarkSeen(ctx context.Context, roomID, messageID, userID string, seenAt time.Time) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	coll, err := r.shards.Room(roomID)
	if err != nil {
		return errprocess.Store("mark seen", err)
	}
	entry := domain.SeenEntry{UserID: userID, LastSeenMessageID: messageID, SeenAt: seenAt}

	// two rounds: a concurrent first receipt from the same user makes the push miss once
	for i := 0; i < 2; i++ {
		res, err := coll.UpdateOne(ctx,
			bson.M{"messages.id": messageID, "seenBy.userId": userID},
			bson.M{"$set": bson.M{"seenBy.$[s]": entry, "updatedAt": r.opts.Now()}},
			options.Update().SetArrayFilters(options.ArrayFilters{
				Filters: []interface{}{bson.M{"s.userId": userID}},
			}),
		)
		if err != nil {
			return errprocess.Store("mark seen", err)
		}
		if res.MatchedCount == 1 {
			return nil
		}

		res, err = coll.UpdateOne(ctx,
			bson.M{"messages.id": messageID, "seenBy.userId": bson.M{"$ne": userID}},
			bson.M{
				"$push": bson.M{"seenBy": entry},
				"$set":  bson.M{"updatedAt": r.opts.Now()},
			},
		)
		if err != nil {
			return errprocess.Store("mark seen", err)
		}
		if res.MatchedCount == 1 {
			return nil
		}
	}
	return errprocess.ErrMessageNotFound
}

func (r *mongoMessageRepository) React(ctx context.Context, roomID, messageID string, reaction domain.Reaction) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	coll, err := r.shards.Room(roomID)
	if err != nil {
		return errprocess.Store("react", err)
	}

	target := bson.M{"m.id": messageID}
	if r.opts.DedupeReactions {
		// the element only matches while it has no (userId, content) reaction yet
		target["m.reactions"] = bson.M{"$not": bson.M{"$elemMatch": bson.M{
			"userId":  reaction.UserID,
			"content": reaction.Content,
		}}}
	}
	res, err := coll.UpdateOne(ctx,
		bson.M{"messages.id": messageID},
		bson.M{
			"$push": bson.M{"messages.$[m].reactions": reaction},
			"$set":  bson.M{"updatedAt": r.opts.Now()},
		},
		options.Update().SetArrayFilters(options.ArrayFilters{Filters: []interface{}{target}}),
	)
	if err != nil {
		return errprocess.Store("react", err)
	}
	if res.MatchedCount == 0 {
		return errprocess.ErrMessageNotFound
	}
	return nil
}

func (r *mongoMessageRepository) Unreact(ctx context.Context, roomID, messageID string, reaction domain.Reaction) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	coll, err := r.shards.Room(roomID)
	if err != nil {
		return errprocess.Store("unreact", err)
	}
	res, err := coll.UpdateOne(ctx,
		bson.M{"messages.id": messageID},
		bson.M{
			"$pull": bson.M{"messages.$.reactions": bson.M{
				"userId":  reaction.UserID,
				"content": reaction.Content,
			}},
			"$set": bson.M{"updatedAt": r.opts.Now()},
		},
	)
	if err != nil {
		return errprocess.Store("unreact", err)
	}
	if res.MatchedCount == 0 {
		return errprocess.ErrMessageNotFound
	}
	return nil
}

func (r *mongoMessageRepository) Find(ctx context.Context, roomID, messageID string) (*domain.Message, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	coll, err := r.shards.Room(roomID)
	if err != nil {
		return nil, errprocess.Store("find", err)
	}
	var chunk domain.MessageChunk
	err = coll.FindOne(ctx,
		bson.M{"messages.id": messageID},
		options.FindOne().SetProjection(bson.M{"messages.$": 1}),
	).Decode(&chunk)
	if errors.Is(err, mongo.ErrNoDocuments) || (err == nil && len(chunk.Messages) == 0) {
		return nil, errprocess.ErrMessageNotFound
	}
	if err != nil {
		return nil, errprocess.Store("find", err)
	}
	return &chunk.Messages[0], nil
}

func (r *mongoMessageRepository) List(ctx context.Context, roomID string, page, pageSize int64) (*domain.ChunkPage, error) {
	if page < 0 || pageSize <= 0 {
		return nil, errprocess.Invalid("page must be >= 0 and pageSize > 0")
	}
	if page >= math.MaxInt64/pageSize {
		return nil, errprocess.Validation(string(domain.EventGetMessages), "skipCount")
	}
	ctx, cancel := r.bound(ctx)
	defer cancel()

	coll, err := r.shards.Room(roomID)
	if err != nil {
		return nil, errprocess.Store("list", err)
	}

	total, err := coll.CountDocuments(ctx, bson.D{})
	if err != nil {
		return nil, errprocess.Store("list", err)
	}

	cur, err := coll.Find(ctx, bson.D{}, options.Find().
		SetSort(bson.D{{Key: "_id", Value: -1}}).
		SetSkip(page*pageSize).
		SetLimit(pageSize))
	if err != nil {
		return nil, errprocess.Store("list", err)
	}
	chunks := []domain.MessageChunk{}
	if err := cur.All(ctx, &chunks); err != nil {
		return nil, errprocess.Store("list", err)
	}

	return &domain.ChunkPage{
		Chunks:  chunks,
		HasMore: (page+1)*pageSize < total,
	}, nil
}

func (r *mongoMessageRepository) Latest(ctx context.Context, roomID string) (*domain.MessageChunk, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	coll, err := r.shards.Room(roomID)
	if err != nil {
		return nil, errprocess.Store("latest", err)
	}
	var chunk domain.MessageChunk
	err = coll.FindOne(ctx, bson.D{}, options.FindOne().SetSort(bson.D{{Key: "_id", Value: -1}})).Decode(&chunk)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, errprocess.Store("latest", err)
	}
	return &chunk, nil
}
