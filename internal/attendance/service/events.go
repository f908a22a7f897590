package attendance

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"congressus-cache/internal/models"
	"congressus-cache/internal/monitoring"
	"congressus-cache/internal/utils"
)

// ListEvents returns the summaries of all published events.
//
// With force, or when the cache holds no events, the full event list is
// pulled from Congressus and reconciled. Otherwise the cache is served and
// every event starting no later than tomorrow first gets its participations
// refreshed, so attendance for current events stays live.
func (s *AttendanceService) ListEvents(ctx context.Context, force bool) ([]models.EventSummary, error) {
	rows, refreshed, err := s.loadEvents(ctx, force)
	if err != nil {
		return nil, err
	}

	events := s.decodeEvents(rows)
	due := s.DueForAttendance(events, s.Now())
	if !refreshed {
		if err := s.RefreshAttendance(ctx, due); err != nil {
			return nil, err
		}
	}

	dueSet := make(map[models.ID]bool, len(due))
	for _, id := range due {
		dueSet[id] = true
	}

	summaries := make([]models.EventSummary, 0, len(events))
	for _, event := range events {
		if !event.Published {
			continue
		}
		views, err := s.cachedParticipationViews(ctx, event.ID.String())
		if err != nil {
			return nil, err
		}
		summary := SummarizeEvent(event, views, dueSet[event.ID])
		s.Logger.Debug("EVENTS", fmt.Sprintf("Event %s - Leden: %d/%d, Niet leden: %d/%d, Present: %d/%d",
			event.ID, summary.LedenSoldTickets, summary.LedenNumTickets,
			summary.NietLedenSoldTickets, summary.NietLedenNumTickets,
			summary.PresentLeden, summary.PresentVrijrijders))
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// GetEvent returns the cached event record as received from Congressus.
func (s *AttendanceService) GetEvent(ctx context.Context, id string) (json.RawMessage, error) {
	row, err := s.DB.GetEvent(ctx, id)
	if err != nil {
		if isNotFound(err) {
			monitoring.TrackCacheRead("event", "miss")
			return nil, fmt.Errorf("event %s: %w", id, ErrEventNotFound)
		}
		return nil, fmt.Errorf("failed to load event %s: %w", id, err)
	}
	monitoring.TrackCacheRead("event", "hit")
	return row.Payload, nil
}

// DueForAttendance returns the ids of events whose start date is today,
// tomorrow, or in the past. Time of day is ignored. Events with an
// unparsable start are never due.
func (s *AttendanceService) DueForAttendance(events []models.Event, now time.Time) []models.ID {
	cutoff := utils.Tomorrow(now, s.Location)
	due := []models.ID{}
	for _, event := range events {
		start, err := event.StartDate(s.Location)
		if err != nil {
			s.Logger.Warn("EVENTS", err.Error())
			continue
		}
		if !start.After(cutoff) {
			due = append(due, event.ID)
		}
	}
	return due
}

// RefreshAttendance force-refreshes the participations of each event.
func (s *AttendanceService) RefreshAttendance(ctx context.Context, eventIDs []models.ID) error {
	for _, id := range eventIDs {
		s.Logger.Info("EVENTS", fmt.Sprintf("Event %s is due, refreshing participations", id))
		if _, err := s.refreshParticipations(ctx, id.String()); err != nil {
			return fmt.Errorf("attendance refresh for event %s: %w", id, err)
		}
	}
	return nil
}

// loadEvents returns the cached event rows, pulling them from Congressus
// first when forced or when the cache is empty. The bool reports whether a
// remote refresh happened.
func (s *AttendanceService) loadEvents(ctx context.Context, force bool) ([]models.EventRow, bool, error) {
	before, err := s.DB.EventIDs(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to snapshot cached events: %w", err)
	}
	if len(before) == 0 && !force {
		s.Logger.Info("EVENTS", "No cached events, forcing refresh")
		force = true
	}

	if !force {
		rows, err := s.DB.ListEvents(ctx)
		if err != nil {
			return nil, false, fmt.Errorf("failed to load cached events: %w", err)
		}
		monitoring.TrackCacheRead("events", "hit")
		s.Logger.Info("EVENTS", fmt.Sprintf("Loaded %d events from cache", len(rows)))
		return rows, false, nil
	}

	monitoring.TrackCacheRead("events", "refresh")
	records, err := s.Remote.FetchEvents(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to fetch events: %w", err)
	}

	rows := make([]models.EventRow, 0, len(records))
	seen := make([]string, 0, len(records))
	for _, raw := range records {
		id, err := recordID(raw)
		if err != nil {
			s.Logger.Warn("EVENTS", fmt.Sprintf("Skipping event record: %v", err))
			continue
		}
		rows = append(rows, models.EventRow{ID: id, Payload: raw})
		seen = append(seen, id)
	}

	if err := s.DB.UpsertEvents(ctx, rows); err != nil {
		return nil, false, fmt.Errorf("failed to store events: %w", err)
	}
	removed, err := s.DB.ReconcileEvents(ctx, before, seen)
	if err != nil {
		return nil, false, err
	}
	monitoring.TrackReconciled("events", removed)
	s.Logger.Info("EVENTS", fmt.Sprintf("Stored %d events, removed %d obsolete", len(rows), removed))
	s.markEventsRefreshed(ctx)
	return rows, true, nil
}

func (s *AttendanceService) decodeEvents(rows []models.EventRow) []models.Event {
	events := make([]models.Event, 0, len(rows))
	for _, row := range rows {
		var event models.Event
		if err := json.Unmarshal(row.Payload, &event); err != nil {
			s.Logger.Warn("EVENTS", fmt.Sprintf("Skipping malformed cached event %s: %v", row.ID, err))
			continue
		}
		if event.ID == "" {
			event.ID = models.ID(row.ID)
		}
		events = append(events, event)
	}
	return events
}
