package attendance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"congressus-cache/internal/models"
	"congressus-cache/internal/monitoring"
	"congressus-cache/internal/utils"
)

// GetParticipations returns the enriched participations of one event,
// refreshing them from Congressus when forced or when none are cached.
func (s *AttendanceService) GetParticipations(ctx context.Context, eventID string, force bool) ([]models.ParticipationView, error) {
	var (
		rows []models.ParticipationRow
		err  error
	)
	if !force {
		rows, err = s.DB.ListParticipations(ctx, eventID)
		if err != nil {
			return nil, fmt.Errorf("failed to load participations for event %s: %w", eventID, err)
		}
		if len(rows) == 0 {
			s.Logger.Info("PARTICIPATIONS", fmt.Sprintf("No cached participations for event %s, forcing refresh", eventID))
			force = true
		} else {
			monitoring.TrackCacheRead("participations", "hit")
		}
	}
	if force {
		rows, err = s.refreshParticipations(ctx, eventID)
		if err != nil {
			return nil, err
		}
	}

	details, err := s.ticketDetails(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return EnrichParticipations(s.decodeParticipations(rows), details), nil
}

// refreshParticipations pulls every participation of the event, trims its
// string values, stores it and drops cached participations of the same
// event that Congressus no longer returns.
func (s *AttendanceService) refreshParticipations(ctx context.Context, eventID string) ([]models.ParticipationRow, error) {
	monitoring.TrackCacheRead("participations", "refresh")

	before, err := s.DB.ParticipationIDs(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot participations for event %s: %w", eventID, err)
	}

	records, err := s.Remote.FetchParticipations(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch participations for event %s: %w", eventID, err)
	}

	rows := make([]models.ParticipationRow, 0, len(records))
	seen := make([]string, 0, len(records))
	for _, raw := range records {
		trimmed, err := trimRecord(raw)
		if err != nil {
			s.Logger.Warn("PARTICIPATIONS", fmt.Sprintf("Skipping participation record: %v", err))
			continue
		}
		id, err := recordID(trimmed)
		if err != nil {
			s.Logger.Warn("PARTICIPATIONS", fmt.Sprintf("Skipping participation record: %v", err))
			continue
		}
		rows = append(rows, models.ParticipationRow{ID: id, EventID: eventID, Payload: trimmed})
		seen = append(seen, id)
	}

	if err := s.DB.UpsertParticipations(ctx, rows); err != nil {
		return nil, fmt.Errorf("failed to store participations for event %s: %w", eventID, err)
	}
	removed, err := s.DB.ReconcileParticipations(ctx, eventID, before, seen)
	if err != nil {
		return nil, err
	}
	monitoring.TrackReconciled("participations", removed)
	s.Logger.Info("PARTICIPATIONS", fmt.Sprintf("Event %s: stored %d participations, removed %d obsolete", eventID, len(rows), removed))
	s.markParticipationsRefreshed(ctx, eventID)
	return rows, nil
}

// cachedParticipationViews enriches whatever is cached for the event without
// touching Congressus.
func (s *AttendanceService) cachedParticipationViews(ctx context.Context, eventID string) ([]models.ParticipationView, error) {
	rows, err := s.DB.ListParticipations(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to load participations for event %s: %w", eventID, err)
	}
	details, err := s.ticketDetails(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return EnrichParticipations(s.decodeParticipations(rows), details), nil
}

// ticketDetails loads the cached ticket details of an event keyed by
// participation id.
func (s *AttendanceService) ticketDetails(ctx context.Context, eventID string) (map[string]models.TicketDetail, error) {
	rows, err := s.DB.ListTickets(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tickets for event %s: %w", eventID, err)
	}
	details := make(map[string]models.TicketDetail, len(rows))
	for _, row := range rows {
		var detail models.TicketDetail
		if err := json.Unmarshal(row.Payload, &detail); err != nil {
			s.Logger.Warn("TICKETS", fmt.Sprintf("Skipping malformed cached ticket %s: %v", row.ID, err))
			continue
		}
		details[row.ID] = detail
	}
	return details, nil
}

func (s *AttendanceService) decodeParticipations(rows []models.ParticipationRow) []models.Participation {
	participations := make([]models.Participation, 0, len(rows))
	for _, row := range rows {
		var p models.Participation
		if err := json.Unmarshal(row.Payload, &p); err != nil {
			s.Logger.Warn("PARTICIPATIONS", fmt.Sprintf("Skipping malformed cached participation %s: %v", row.ID, err))
			continue
		}
		if p.ID == "" {
			p.ID = models.ID(row.ID)
		}
		participations = append(participations, p)
	}
	return participations
}

// trimRecord deep-trims all string values of a raw JSON record. Numbers are
// kept verbatim.
func trimRecord(raw json.RawMessage) (json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var value interface{}
	if err := dec.Decode(&value); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	out, err := json.Marshal(utils.DeepTrim(value))
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return out, nil
}
