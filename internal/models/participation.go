package models

// StatusApproved is the only participation status counted as sold or attending.
const StatusApproved = "approved"

type Participation struct {
	ID        ID     `json:"id"`
	EventID   ID     `json:"event_id"`
	Status    string `json:"status"`
	MemberID  *ID    `json:"member_id"`
	Addressee string `json:"addressee"`
	Email     string `json:"email"`
}

// IsMember reports whether the participation belongs to a member (leden)
// rather than a vrijrijder.
func (p Participation) IsMember() bool {
	return p.MemberID != nil
}

// ParticipationView is the allow-listed participation projection. Tickets is
// nil when no ticket detail has been cached for the participation.
type ParticipationView struct {
	ID            ID     `json:"id"`
	MemberID      *ID    `json:"member_id"`
	Status        string `json:"status"`
	Addressee     string `json:"addressee"`
	Email         string `json:"email"`
	PresenceCount int    `json:"presence_count"`
	Tickets       *int   `json:"tickets"`
}
