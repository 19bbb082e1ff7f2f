package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaPublisher writes event envelopes to a single topic, keyed so that
// events for the same entity land on the same partition.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}

	return &KafkaPublisher{
		writer: writer,
		logger: logger,
	}
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func (p *KafkaPublisher) Publish(ctx context.Context, data interface{}) error {
	eventType, key, err := describe(data)
	if err != nil {
		return err
	}

	event := Event{
		EventID:   uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	jsonData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	message := kafka.Message{
		Key:   []byte(key),
		Value: jsonData,
		Time:  event.Timestamp,
	}

	if err := p.writer.WriteMessages(ctx, message); err != nil {
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}

	p.logger.Info("event published",
		zap.String("eventId", event.EventID),
		zap.String("type", eventType),
		zap.String("key", key),
		zap.String("topic", p.writer.Topic),
	)
	return nil
}

// describe maps a typed payload to its event type name and partition key.
func describe(data interface{}) (eventType, key string, err error) {
	switch d := data.(type) {
	case GameAdded:
		return "GameAdded", d.GameID, nil
	case GameRemoved:
		return "GameRemoved", d.GameID, nil
	case GamePurchased:
		return "GamePurchased", d.UserID, nil
	case RefundDecided:
		return "RefundDecided", d.RequestID, nil
	case ReviewAdded:
		return "ReviewAdded", d.GameID, nil
	default:
		return "", "", fmt.Errorf("unknown event payload type %T", data)
	}
}
