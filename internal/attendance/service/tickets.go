package attendance

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"congressus-cache/internal/congressus"
	"congressus-cache/internal/models"
	"congressus-cache/internal/monitoring"
)

const statusSuccess = "success"

// GetTicket returns the check-in view of a participation's ticket detail.
// A cache miss or refresh fetches the detail from Congressus and stores it.
func (s *AttendanceService) GetTicket(ctx context.Context, eventID, id string, refresh bool) (*models.TicketView, error) {
	detail, _, err := s.ticketDetail(ctx, eventID, id, refresh)
	if err != nil {
		return nil, err
	}
	view := detail.View()
	return &view, nil
}

// SetPresence changes the presence status of a cached ticket in Congressus.
//
// The ticket must already be cached. When any of its line items already
// holds status nothing is sent. Otherwise Congressus must acknowledge the
// change with 204, after which the detail is re-fetched into the cache.
func (s *AttendanceService) SetPresence(ctx context.Context, eventID, id, status string) (*models.PresenceResult, error) {
	row, err := s.DB.GetTicket(ctx, eventID, id)
	if err != nil {
		if isNotFound(err) {
			monitoring.TrackPresence("not_found")
			return nil, fmt.Errorf("ticket %s: %w", id, ErrTicketNotFound)
		}
		return nil, fmt.Errorf("failed to load ticket %s: %w", id, err)
	}

	var cached models.TicketDetail
	if err := json.Unmarshal(row.Payload, &cached); err != nil {
		return nil, fmt.Errorf("failed to decode cached ticket %s: %w", id, err)
	}

	if cached.HasPresence(status) {
		monitoring.TrackPresence("unchanged")
		s.Logger.Info("TICKETS", fmt.Sprintf("Ticket %s already has status_presence %s", id, status))
		return &models.PresenceResult{
			Status:  statusSuccess,
			Message: fmt.Sprintf("Ticket %s already has status_presence %s.", id, status),
		}, nil
	}

	s.Logger.Info("TICKETS", fmt.Sprintf("Updating ticket %s to status_presence %s", id, status))
	if err := s.Remote.SetPresence(ctx, eventID, id, status); err != nil {
		monitoring.TrackPresence("failed")
		return nil, fmt.Errorf("failed to update ticket %s: %w", id, err)
	}
	monitoring.TrackPresence("updated")

	detail, err := s.fetchTicket(ctx, eventID, id)
	if err != nil {
		return nil, fmt.Errorf("ticket %s updated but refresh failed: %w", id, err)
	}
	s.publishPresence(ctx, eventID, id, status, detail)

	view := detail.View()
	return &models.PresenceResult{
		Status:  statusSuccess,
		Message: fmt.Sprintf("Ticket %s updated to status_presence %s.", id, status),
		Ticket:  &view,
	}, nil
}

// CollectTickets refreshes the participations of an event and then pulls the
// ticket detail of every approved participation whose first ticket is not
// checked in yet.
func (s *AttendanceService) CollectTickets(ctx context.Context, eventID string) (*models.CollectResult, error) {
	rows, err := s.refreshParticipations(ctx, eventID)
	if err != nil {
		return nil, err
	}
	participations := s.decodeParticipations(rows)
	s.Logger.Info("TICKETS", fmt.Sprintf("Collecting tickets for %d participations of event %s", len(participations), eventID))

	refreshed := 0
	for _, p := range participations {
		id := p.ID.String()
		if p.Status != models.StatusApproved {
			s.Logger.Debug("TICKETS", fmt.Sprintf("Skipping participation %s with status %s", id, p.Status))
			continue
		}

		detail, fetched, err := s.ticketDetail(ctx, eventID, id, false)
		if err != nil {
			return nil, err
		}
		if detail.FirstPresent() {
			continue
		}
		if !fetched {
			if _, err := s.fetchTicket(ctx, eventID, id); err != nil {
				return nil, err
			}
		}
		refreshed++
	}

	s.Logger.Info("TICKETS", fmt.Sprintf("Refreshed ticket data for %d participations of event %s", refreshed, eventID))
	return &models.CollectResult{
		Status:    statusSuccess,
		Message:   fmt.Sprintf("Collected tickets for event %s.", eventID),
		Refreshed: refreshed,
	}, nil
}

// ticketDetail serves the cached detail unless refresh is set or nothing
// usable is cached. The bool reports whether the detail was fetched.
func (s *AttendanceService) ticketDetail(ctx context.Context, eventID, id string, refresh bool) (*models.TicketDetail, bool, error) {
	if !refresh {
		row, err := s.DB.GetTicket(ctx, eventID, id)
		switch {
		case err == nil:
			var detail models.TicketDetail
			if err := json.Unmarshal(row.Payload, &detail); err == nil {
				monitoring.TrackCacheRead("ticket", "hit")
				return &detail, false, nil
			}
			s.Logger.Warn("TICKETS", fmt.Sprintf("Cached ticket %s is malformed, fetching again", id))
		case isNotFound(err):
			s.Logger.Debug("TICKETS", fmt.Sprintf("Ticket %s not cached, fetching", id))
		default:
			return nil, false, fmt.Errorf("failed to load ticket %s: %w", id, err)
		}
	}

	monitoring.TrackCacheRead("ticket", "refresh")
	detail, err := s.fetchTicket(ctx, eventID, id)
	if err != nil {
		return nil, false, err
	}
	return detail, true, nil
}

// fetchTicket pulls the participation detail and overwrites the cached copy.
func (s *AttendanceService) fetchTicket(ctx context.Context, eventID, id string) (*models.TicketDetail, error) {
	raw, err := s.Remote.FetchParticipation(ctx, eventID, id)
	if err != nil {
		if congressus.IsNotFound(err) {
			return nil, fmt.Errorf("ticket %s: %w", id, ErrTicketNotFound)
		}
		return nil, fmt.Errorf("failed to fetch ticket %s: %w", id, err)
	}

	var detail models.TicketDetail
	if err := json.Unmarshal(raw, &detail); err != nil {
		return nil, fmt.Errorf("failed to decode ticket %s: %w", id, err)
	}

	if err := s.DB.UpsertTicket(ctx, models.TicketRow{ID: id, EventID: eventID, Payload: raw}); err != nil {
		return nil, fmt.Errorf("failed to store ticket %s: %w", id, err)
	}
	s.Logger.Debug("TICKETS", fmt.Sprintf("Stored ticket %s for event %s", id, eventID))
	return &detail, nil
}

func (s *AttendanceService) publishPresence(ctx context.Context, eventID, id, status string, detail *models.TicketDetail) {
	if s.Publisher == nil {
		return
	}
	change := models.PresenceChanged{
		MessageID:       uuid.NewString(),
		EventID:         models.ID(eventID),
		ParticipationID: models.ID(id),
		StatusPresence:  status,
		PresenceCount:   detail.PresenceCount(),
		Tickets:         len(detail.Tickets),
		ChangedAt:       s.Now().UTC(),
	}
	if err := s.Publisher.PublishPresenceChanged(ctx, change); err != nil {
		s.Logger.Warn("KAFKA", fmt.Sprintf("Failed to publish presence change for ticket %s: %v", id, err))
	}
}
