package repository

import (
	"context"
	"errors"
	"sync"

	"realtime_chat_service/internal/chat/domain"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// ErrRegistryClosed the registry was closed, no more shard handles are handed out
var ErrRegistryClosed = errors.New("shard registry closed")

// ShardRegistry owns the database handles of every shard this process touched
type ShardRegistry struct {
	client *mongo.Client

	mu     sync.RWMutex
	shards map[domain.ShardID]*mongo.Database
	closed bool
}

// NewShardRegistry create a registry over client, the client stays owned by the caller
func NewShardRegistry(client *mongo.Client) *ShardRegistry {
	return &ShardRegistry{
		client: client,
		shards: make(map[domain.ShardID]*mongo.Database),
	}
}

// Acquire return the database of shard, opening the handle on first use
func (r *ShardRegistry) Acquire(shard domain.ShardID) (*mongo.Database, error) {
	r.mu.RLock()
	db, ok := r.shards[shard]
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, ErrRegistryClosed
	}
	if ok {
		return db, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	if db, ok = r.shards[shard]; !ok {
		db = r.client.Database(shard.Name())
		r.shards[shard] = db
	}
	return db, nil
}

// Room return the collection backing roomID
func (r *ShardRegistry) Room(roomID string) (*mongo.Collection, error) {
	shard, err := domain.ShardOf(roomID)
	if err != nil {
		return nil, err
	}
	db, err := r.Acquire(shard)
	if err != nil {
		return nil, err
	}
	return db.Collection(roomID), nil
}

// Databases list every database name on the server
func (r *ShardRegistry) Databases(ctx context.Context) ([]string, error) {
	if r.isClosed() {
		return nil, ErrRegistryClosed
	}
	return r.client.ListDatabaseNames(ctx, bson.D{})
}

// RoomCount number of rooms (collections) in shard
func (r *ShardRegistry) RoomCount(ctx context.Context, shard domain.ShardID) (int, error) {
	db, err := r.Acquire(shard)
	if err != nil {
		return 0, err
	}
	names, err := db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return 0, err
	}
	return len(names), nil
}

// Open list the shard handles currently held
func (r *ShardRegistry) Open() []domain.ShardID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]domain.ShardID, 0, len(r.shards))
	for id := range r.shards {
		ids = append(ids, id)
	}
	return ids
}

// Close release every handle; later calls fail with ErrRegistryClosed
func (r *ShardRegistry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.shards = make(map[domain.ShardID]*mongo.Database)
}

func (r *ShardRegistry) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}
