package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"realtime_chat_service/pkg/logger"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const roomChannelPrefix = "chat:room:"

// BusMessage one room frame travelling between nodes. Evict lists users whose sockets
// must leave the room before Frame is delivered.
type BusMessage struct {
	RoomID string          `json:"roomId"`
	Except string          `json:"except,omitempty"`
	Frame  json.RawMessage `json:"frame,omitempty"`
	Evict  []string        `json:"evict,omitempty"`
}

// RoomBus room broadcast shared by every node of the service
type RoomBus interface {
	Publish(ctx context.Context, msg BusMessage) error
	// Subscribe deliver every room message to handler until ctx is done
	Subscribe(ctx context.Context, handler func(BusMessage)) error
}

// RedisRoomBus RoomBus over redis pub/sub, one channel per room
type RedisRoomBus struct {
	client *redis.Client
}

// NewRedisRoomBus create RedisRoomBus
func NewRedisRoomBus(client *redis.Client) *RedisRoomBus {
	return &RedisRoomBus{client: client}
}

// RoomChannel redis channel of roomID
func RoomChannel(roomID string) string {
	return roomChannelPrefix + roomID
}

// Publish 將 message 序列化後，發布到房間的 channel
func (b *RedisRoomBus) Publish(ctx context.Context, msg BusMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, RoomChannel(msg.RoomID), data).Err()
}

// Subscribe 訂閱所有房間 channel，收到訊息後呼叫 handler 處理
func (b *RedisRoomBus) Subscribe(ctx context.Context, handler func(BusMessage)) error {
	sub := b.client.PSubscribe(ctx, roomChannelPrefix+"*")
	// 確認訂閱成功再回傳
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return fmt.Errorf("subscribe room channels: %w", err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()

		for {
			select {
			case m, ok := <-ch:
				if !ok {
					return
				}

				var msg BusMessage
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					logger.Log.Error("decode room bus message", zap.String("channel", m.Channel), zap.Error(err))
					continue
				}
				if msg.RoomID == "" {
					msg.RoomID = strings.TrimPrefix(m.Channel, roomChannelPrefix)
				}
				handler(msg)
			case <-ctx.Done():
				logger.Log.Info("room bus subscription closed")
				return
			}
		}
	}()
	return nil
}
