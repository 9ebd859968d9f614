package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"paygate-be/internal/logger"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer messageWriter
}

// NewKafkaPublisher writes to the given brokers. Messages carry their own
// topic and are hashed onto partitions by key.
func NewKafkaPublisher(brokers []string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			WriteTimeout:           10 * time.Second,
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic string, evt Event) error {
	value, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", evt.Type, err)
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(evt.Key),
		Value: value,
		Time:  evt.Timestamp,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(evt.Type)},
		},
	}
	if reqID := logger.RequestIDFrom(ctx); reqID != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: "requestId", Value: []byte(reqID)})
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s event: %w", evt.Type, err)
	}

	logger.FromCtx(ctx).Debug("event published",
		zap.String("topic", topic),
		zap.String("event_type", evt.Type),
		zap.String("key", evt.Key),
	)
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher writes events to the log. Used when no brokers are configured.
type LogPublisher struct{}

func NewLogPublisher() *LogPublisher {
	return &LogPublisher{}
}

func (LogPublisher) Publish(ctx context.Context, topic string, evt Event) error {
	value, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", evt.Type, err)
	}

	logger.FromCtx(ctx).Info("event",
		zap.String("topic", topic),
		zap.String("event_type", evt.Type),
		zap.String("key", evt.Key),
		zap.ByteString("payload", value),
	)
	return nil
}

func (LogPublisher) Close() error { return nil }
