package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"

	"congressus-cache/internal/logger"
	"congressus-cache/internal/models"
)

type Consumer struct {
	reader *kafka.Reader
	logger *logger.Logger
}

// NewConsumer creates a new Kafka consumer for the given topic and group
func NewConsumer(brokers []string, topic, groupID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: reader, logger: log}
}

// Start reads presence changes until ctx is cancelled. Malformed messages
// are logged and skipped; handler errors are logged and do not stop the loop.
func (c *Consumer) Start(ctx context.Context, handler func(context.Context, models.PresenceChanged) error) error {
	c.logger.Info("KAFKA", "Presence consumer started")

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return fmt.Errorf("failed to read message: %w", err)
		}

		change, err := DecodePresenceChanged(msg.Value)
		if err != nil {
			c.logger.Warn("KAFKA", fmt.Sprintf("Skipping message at offset %d: %v", msg.Offset, err))
			continue
		}
		if err := handler(ctx, change); err != nil {
			c.logger.Error("KAFKA", fmt.Sprintf("Failed to handle presence change %s: %v", change.MessageID, err))
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

// DecodePresenceChanged parses a presence change message.
func DecodePresenceChanged(value []byte) (models.PresenceChanged, error) {
	var change models.PresenceChanged
	if err := json.Unmarshal(value, &change); err != nil {
		return change, fmt.Errorf("decode presence change: %w", err)
	}
	if change.EventID == "" || change.ParticipationID == "" {
		return change, errors.New("presence change without event or participation id")
	}
	return change, nil
}
