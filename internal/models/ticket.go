package models

// PresencePresent marks a checked-in ticket line item.
const PresencePresent = "present"

type TicketLine struct {
	ID             ID         `json:"id"`
	StatusPresence *string    `json:"status_presence"`
	TicketType     TicketType `json:"ticket_type"`
}

// Presence returns the line item's presence status, or "" when unset.
func (l TicketLine) Presence() string {
	if l.StatusPresence == nil {
		return ""
	}
	return *l.StatusPresence
}

type TicketEvent struct {
	Name  string `json:"name"`
	Start string `json:"start"`
}

// TicketDetail is a participation detail record. It is stored under the
// participation id, one record per participation, with the individual
// tickets nested as line items.
type TicketDetail struct {
	ID        ID           `json:"id"`
	EventID   ID           `json:"event_id"`
	Addressee string       `json:"addressee"`
	Email     string       `json:"email"`
	Status    string       `json:"status"`
	Event     *TicketEvent `json:"event"`
	Tickets   []TicketLine `json:"tickets"`
}

// PresenceCount counts line items whose presence status is "present".
func (t TicketDetail) PresenceCount() int {
	count := 0
	for _, line := range t.Tickets {
		if line.Presence() == PresencePresent {
			count++
		}
	}
	return count
}

// HasPresence reports whether any line item already holds status.
func (t TicketDetail) HasPresence(status string) bool {
	for _, line := range t.Tickets {
		if line.StatusPresence != nil && *line.StatusPresence == status {
			return true
		}
	}
	return false
}

// FirstPresent reports whether the first line item is checked in.
func (t TicketDetail) FirstPresent() bool {
	return len(t.Tickets) > 0 && t.Tickets[0].Presence() == PresencePresent
}

type TicketLineView struct {
	StatusPresence string  `json:"status_presence"`
	TicketType     string  `json:"ticket_type"`
	Price          float64 `json:"price"`
	ID             ID      `json:"id"`
}

type TicketView struct {
	ID        ID               `json:"id"`
	Addressee string           `json:"addressee"`
	Email     string           `json:"email"`
	EventName string           `json:"event_name"`
	EventDate string           `json:"event_date"`
	Status    string           `json:"status"`
	Tickets   []TicketLineView `json:"tickets"`
}

// View projects the detail record to the fields the check-in page shows.
func (t TicketDetail) View() TicketView {
	view := TicketView{
		ID:        t.ID,
		Addressee: t.Addressee,
		Email:     t.Email,
		Status:    t.Status,
		Tickets:   make([]TicketLineView, 0, len(t.Tickets)),
	}
	if t.Event != nil {
		view.EventName = t.Event.Name
		view.EventDate = t.Event.Start
	}
	for _, line := range t.Tickets {
		view.Tickets = append(view.Tickets, TicketLineView{
			StatusPresence: line.Presence(),
			TicketType:     line.TicketType.Name,
			Price:          line.TicketType.Price,
			ID:             line.ID,
		})
	}
	return view
}

// PresenceResult is returned by presence mutations. Ticket is set when the
// mutation went through and the detail was re-fetched.
type PresenceResult struct {
	Status  string      `json:"status"`
	Message string      `json:"message"`
	Ticket  *TicketView `json:"ticket,omitempty"`
}

// CollectResult reports a collect-tickets run for one event.
type CollectResult struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Refreshed int    `json:"refreshed"`
}
