package syncstate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"congressus-cache/internal/models"
)

const (
	eventsKey         = "congressus:sync:events"
	participationsKey = "congressus:sync:participations"
)

// Store keeps the time of the last successful pull per collection in Redis.
// Events have one timestamp; participations have one per event id.
type Store struct {
	Client *redis.Client
}

func NewStore(client *redis.Client) *Store {
	return &Store{Client: client}
}

func (s *Store) MarkEventsRefreshed(ctx context.Context, at time.Time) error {
	if err := s.Client.Set(ctx, eventsKey, at.UTC().Format(time.RFC3339Nano), 0).Err(); err != nil {
		return fmt.Errorf("failed to record events refresh: %w", err)
	}
	return nil
}

func (s *Store) MarkParticipationsRefreshed(ctx context.Context, eventID string, at time.Time) error {
	if err := s.Client.HSet(ctx, participationsKey, eventID, at.UTC().Format(time.RFC3339Nano)).Err(); err != nil {
		return fmt.Errorf("failed to record participations refresh for event %s: %w", eventID, err)
	}
	return nil
}

// Status reads back all recorded refresh times. Unparsable entries are
// skipped.
func (s *Store) Status(ctx context.Context) (*models.SyncStatus, error) {
	status := &models.SyncStatus{ParticipationsRefreshedAt: map[string]time.Time{}}

	raw, err := s.Client.Get(ctx, eventsKey).Result()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return nil, fmt.Errorf("failed to read events refresh: %w", err)
	default:
		if at, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			status.EventsRefreshedAt = &at
		}
	}

	fields, err := s.Client.HGetAll(ctx, participationsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read participations refresh: %w", err)
	}
	for eventID, value := range fields {
		if at, err := time.Parse(time.RFC3339Nano, value); err == nil {
			status.ParticipationsRefreshedAt[eventID] = at
		}
	}
	return status, nil
}
