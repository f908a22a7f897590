package models

import (
	"encoding/json"
	"time"

	"github.com/uptrace/bun"
)

// EventRow is a cached event. Payload holds the record exactly as it was
// received, so fields the aggregator does not model survive a round trip.
type EventRow struct {
	bun.BaseModel `bun:"table:events"`

	ID        string          `bun:"id,pk"`
	Payload   json.RawMessage `bun:"payload,type:text,notnull"`
	UpdatedAt time.Time       `bun:"updated_at,notnull"`
}

type ParticipationRow struct {
	bun.BaseModel `bun:"table:participations"`

	ID        string          `bun:"id,pk"`
	EventID   string          `bun:"event_id,notnull"`
	Payload   json.RawMessage `bun:"payload,type:text,notnull"`
	UpdatedAt time.Time       `bun:"updated_at,notnull"`
}

// TicketRow is a cached ticket detail, keyed by participation id.
type TicketRow struct {
	bun.BaseModel `bun:"table:tickets"`

	ID        string          `bun:"id,pk"`
	EventID   string          `bun:"event_id,notnull"`
	Payload   json.RawMessage `bun:"payload,type:text,notnull"`
	UpdatedAt time.Time       `bun:"updated_at,notnull"`
}
