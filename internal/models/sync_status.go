package models

import "time"

// SyncStatus records when the cache last pulled a collection from Congressus.
type SyncStatus struct {
	EventsRefreshedAt         *time.Time           `json:"events_refreshed_at"`
	ParticipationsRefreshedAt map[string]time.Time `json:"participations_refreshed_at"`
}

// PresenceChanged is published after a ticket's presence status was changed
// in Congressus.
type PresenceChanged struct {
	MessageID       string    `json:"message_id"`
	EventID         ID        `json:"event_id"`
	ParticipationID ID        `json:"participation_id"`
	StatusPresence  string    `json:"status_presence"`
	PresenceCount   int       `json:"presence_count"`
	Tickets         int       `json:"tickets"`
	ChangedAt       time.Time `json:"changed_at"`
}
