package repository

import (
	"context"
	"encoding/json"

	"realtime_chat_service/internal/chat/domain"
	errprocess "realtime_chat_service/pkg/err"

	"github.com/segmentio/kafka-go"
)

// LifecyclePublisher announce room lifecycle changes once the identity store has them
type LifecyclePublisher interface {
	Publish(ctx context.Context, evt domain.LifecycleEvent) error
	Close() error
}

type kafkaLifecyclePublisher struct {
	writer *kafka.Writer
}

// NewKafkaLifecyclePublisher publish on writer's topic, keyed by room id so a room's events stay ordered
func NewKafkaLifecyclePublisher(writer *kafka.Writer) LifecyclePublisher {
	return &kafkaLifecyclePublisher{writer: writer}
}

func (p *kafkaLifecyclePublisher) Publish(ctx context.Context, evt domain.LifecycleEvent) error {
	value, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(evt.RoomID),
		Value: value,
		Time:  evt.At,
		Headers: []kafka.Header{
			{Key: "op", Value: []byte(evt.Op)},
		},
	})
	return errprocess.Store("publish lifecycle", err)
}

func (p *kafkaLifecyclePublisher) Close() error {
	return p.writer.Close()
}

// NopLifecyclePublisher used when no brokers are configured
type NopLifecyclePublisher struct{}

// Publish drop evt
func (NopLifecyclePublisher) Publish(context.Context, domain.LifecycleEvent) error { return nil }

// Close nothing to release
func (NopLifecyclePublisher) Close() error { return nil }
