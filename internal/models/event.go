package models

import (
	"fmt"
	"time"
)

// StartLayout is the local timestamp format Congressus uses for event starts.
const StartLayout = "2006-01-02T15:04:05"

type TicketType struct {
	Name       string  `json:"name,omitempty"`
	Price      float64 `json:"price"`
	NumTickets *int    `json:"num_tickets"`
}

// Event is the subset of a Congressus event the aggregator reads. The full
// record is kept as an opaque payload in the cache.
type Event struct {
	ID          ID           `json:"id"`
	Name        string       `json:"name"`
	Start       string       `json:"start"`
	Published   bool         `json:"published"`
	TicketTypes []TicketType `json:"ticket_types"`
}

// StartDate parses Start in loc and truncates it to midnight of that day.
func (e Event) StartDate(loc *time.Location) (time.Time, error) {
	var (
		start time.Time
		err   error
	)
	for _, layout := range []string{StartLayout, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		start, err = time.ParseInLocation(layout, e.Start, loc)
		if err == nil {
			start = start.In(loc)
			return time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc), nil
		}
	}
	return time.Time{}, fmt.Errorf("event %s: unparsable start %q: %w", e.ID, e.Start, err)
}

// EventSummary is the filtered event view served to the dashboard.
type EventSummary struct {
	ID                   ID     `json:"id"`
	Name                 string `json:"name"`
	Start                string `json:"start"`
	LedenNumTickets      int    `json:"leden_num_tickets"`
	LedenSoldTickets     int    `json:"leden_sold_tickets"`
	NietLedenNumTickets  int    `json:"niet_leden_num_tickets"`
	NietLedenSoldTickets int    `json:"niet_leden_sold_tickets"`
	PresentLeden         int    `json:"present_leden"`
	PresentVrijrijders   int    `json:"present_vrijrijders"`
}
