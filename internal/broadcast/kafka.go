package broadcast

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"

	"sidekick/internal/config"
	"sidekick/internal/model"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher mirrors events onto a topic, keyed by event type.
type KafkaPublisher struct {
	writer messageWriter
}

func NewKafkaPublisher(cfg config.KafkaConfig) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}}
}

func (k *KafkaPublisher) write(ctx context.Context, key string, value []byte) error {
	if err := k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: value}); err != nil {
		return fmt.Errorf("kafka publish %s: %w", key, err)
	}
	return nil
}

func (k *KafkaPublisher) PublishState(ctx context.Context, st model.IntegratedState) error {
	msg, err := StateMessage(st)
	if err != nil {
		return err
	}
	return k.write(ctx, TypeState, msg)
}

func (k *KafkaPublisher) PublishNotification(ctx context.Context, n model.Notification) error {
	msg, err := NotificationMessage(n)
	if err != nil {
		return err
	}
	return k.write(ctx, TypeNotification, msg)
}

func (k *KafkaPublisher) Close() error {
	return k.writer.Close()
}
