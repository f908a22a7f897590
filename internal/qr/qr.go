package qr

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/skip2/go-qrcode"
)

// DefaultSize is the PNG edge length in pixels.
const DefaultSize = 256

// QRGenerator renders QR codes that open a ticket's check-in page on the
// dashboard.
type QRGenerator struct {
	publicURL string
}

func NewQRGenerator(publicURL string) *QRGenerator {
	return &QRGenerator{publicURL: strings.TrimRight(publicURL, "/")}
}

// CheckInURL is the dashboard page for one participation's tickets.
func (q *QRGenerator) CheckInURL(eventID, participationID string) string {
	query := url.Values{}
	query.Set("event_id", eventID)
	query.Set("ticket_id", participationID)
	return q.publicURL + "/html/ticket.html?" + query.Encode()
}

// GeneratePNG encodes the check-in URL as a PNG image.
func (q *QRGenerator) GeneratePNG(eventID, participationID string, size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultSize
	}
	png, err := qrcode.Encode(q.CheckInURL(eventID, participationID), qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR for ticket %s: %w", participationID, err)
	}
	return png, nil
}
