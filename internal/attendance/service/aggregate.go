package attendance

import (
	"congressus-cache/internal/models"
)

const (
	// Ticket types priced exactly ledenPrice are member tickets; types priced
	// above nietLedenMinPrice are non-member tickets. Anything in between
	// counts toward neither tier.
	ledenPrice        = 0
	nietLedenMinPrice = 39
)

// TicketCapacity returns the available tickets per tier. Types without a
// ticket limit are skipped.
func TicketCapacity(types []models.TicketType) (leden, nietLeden int) {
	for _, tt := range types {
		if tt.NumTickets == nil {
			continue
		}
		switch {
		case tt.Price == ledenPrice:
			leden += *tt.NumTickets
		case tt.Price > nietLedenMinPrice:
			nietLeden += *tt.NumTickets
		}
	}
	return leden, nietLeden
}

// EnrichParticipations joins each participation with its cached ticket
// detail, keyed by participation id. Participations without a detail get a
// zero presence count and nil tickets.
func EnrichParticipations(participations []models.Participation, details map[string]models.TicketDetail) []models.ParticipationView {
	views := make([]models.ParticipationView, 0, len(participations))
	for _, p := range participations {
		view := models.ParticipationView{
			ID:        p.ID,
			MemberID:  p.MemberID,
			Status:    p.Status,
			Addressee: p.Addressee,
			Email:     p.Email,
		}
		if detail, ok := details[p.ID.String()]; ok {
			n := len(detail.Tickets)
			view.Tickets = &n
			view.PresenceCount = detail.PresenceCount()
		}
		views = append(views, view)
	}
	return views
}

// SummarizeEvent composes the dashboard view of one event. Presence totals
// are only filled in for events that are due for attendance.
func SummarizeEvent(event models.Event, participations []models.ParticipationView, due bool) models.EventSummary {
	summary := models.EventSummary{
		ID:    event.ID,
		Name:  event.Name,
		Start: event.Start,
	}
	summary.LedenNumTickets, summary.NietLedenNumTickets = TicketCapacity(event.TicketTypes)

	for _, p := range participations {
		if p.Status == models.StatusApproved {
			if p.MemberID != nil {
				summary.LedenSoldTickets++
			} else {
				summary.NietLedenSoldTickets++
			}
		}
		if due && p.PresenceCount > 0 {
			if p.MemberID != nil {
				summary.PresentLeden++
			} else {
				summary.PresentVrijrijders++
			}
		}
	}
	return summary
}
