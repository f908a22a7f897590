package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"congressus-cache/internal/logger"
	"congressus-cache/internal/models"
)

// MessageWriter is the part of *kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	Writer MessageWriter
	Topic  string
	Logger *logger.Logger
}

func NewProducer(brokers []string, topic string, log *logger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return &Producer{Writer: writer, Topic: topic, Logger: log}
}

// PublishPresenceChanged streams a presence change to Kafka, keyed by
// participation so changes to one ticket stay ordered.
func (p *Producer) PublishPresenceChanged(ctx context.Context, change models.PresenceChanged) error {
	if change.MessageID == "" {
		change.MessageID = uuid.NewString()
	}
	msgBytes, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("failed to encode presence change: %w", err)
	}

	err = p.Writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(change.EventID.String() + "/" + change.ParticipationID.String()),
		Value: msgBytes,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.Topic, err)
	}
	p.Logger.LogKafka("PUBLISH", p.Topic, fmt.Sprintf("Published presence change %s for ticket %s", change.MessageID, change.ParticipationID))
	return nil
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
