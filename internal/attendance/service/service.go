package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"congressus-cache/internal/cache/db"
	"congressus-cache/internal/logger"
	"congressus-cache/internal/models"
)

var (
	ErrEventNotFound  = fmt.Errorf("event %w", db.ErrNotFound)
	ErrTicketNotFound = fmt.Errorf("ticket %w", db.ErrNotFound)
)

// CacheDBLayer is the entity cache the service reads from and refreshes.
type CacheDBLayer interface {
	EventIDs(ctx context.Context) ([]string, error)
	UpsertEvents(ctx context.Context, rows []models.EventRow) error
	ListEvents(ctx context.Context) ([]models.EventRow, error)
	GetEvent(ctx context.Context, id string) (*models.EventRow, error)
	ReconcileEvents(ctx context.Context, before, seen []string) (int, error)

	ParticipationIDs(ctx context.Context, eventID string) ([]string, error)
	UpsertParticipations(ctx context.Context, rows []models.ParticipationRow) error
	ListParticipations(ctx context.Context, eventID string) ([]models.ParticipationRow, error)
	ReconcileParticipations(ctx context.Context, eventID string, before, seen []string) (int, error)

	UpsertTicket(ctx context.Context, row models.TicketRow) error
	GetTicket(ctx context.Context, eventID, id string) (*models.TicketRow, error)
	ListTickets(ctx context.Context, eventID string) ([]models.TicketRow, error)
}

// Remote is the Congressus API surface the service needs.
type Remote interface {
	FetchEvents(ctx context.Context) ([]json.RawMessage, error)
	FetchParticipations(ctx context.Context, eventID string) ([]json.RawMessage, error)
	FetchParticipation(ctx context.Context, eventID, participationID string) (json.RawMessage, error)
	SetPresence(ctx context.Context, eventID, participationID, status string) error
}

// Publisher announces presence changes to other systems.
type Publisher interface {
	PublishPresenceChanged(ctx context.Context, change models.PresenceChanged) error
}

// Publishers fans a change out to every publisher and joins their errors.
type Publishers []Publisher

func (ps Publishers) PublishPresenceChanged(ctx context.Context, change models.PresenceChanged) error {
	var errs []error
	for _, p := range ps {
		if err := p.PublishPresenceChanged(ctx, change); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SyncRecorder keeps track of when collections were last pulled.
type SyncRecorder interface {
	MarkEventsRefreshed(ctx context.Context, at time.Time) error
	MarkParticipationsRefreshed(ctx context.Context, eventID string, at time.Time) error
	Status(ctx context.Context) (*models.SyncStatus, error)
}

type AttendanceService struct {
	DB       CacheDBLayer
	Remote   Remote
	Logger   *logger.Logger
	Location *time.Location
	Now      func() time.Time

	// Optional. Nil disables publishing and sync bookkeeping.
	Publisher Publisher
	Sync      SyncRecorder
}

func NewAttendanceService(cache CacheDBLayer, remote Remote, log *logger.Logger, loc *time.Location) *AttendanceService {
	if loc == nil {
		loc = time.Local
	}
	return &AttendanceService{
		DB:       cache,
		Remote:   remote,
		Logger:   log,
		Location: loc,
		Now:      time.Now,
	}
}

// SyncStatus reports the last refresh times. Without a recorder it returns
// an empty status.
func (s *AttendanceService) SyncStatus(ctx context.Context) (*models.SyncStatus, error) {
	if s.Sync == nil {
		return &models.SyncStatus{ParticipationsRefreshedAt: map[string]time.Time{}}, nil
	}
	return s.Sync.Status(ctx)
}

func (s *AttendanceService) markEventsRefreshed(ctx context.Context) {
	if s.Sync == nil {
		return
	}
	if err := s.Sync.MarkEventsRefreshed(ctx, s.Now()); err != nil {
		s.Logger.Warn("REDIS", fmt.Sprintf("Failed to record events refresh: %v", err))
	}
}

func (s *AttendanceService) markParticipationsRefreshed(ctx context.Context, eventID string) {
	if s.Sync == nil {
		return
	}
	if err := s.Sync.MarkParticipationsRefreshed(ctx, eventID, s.Now()); err != nil {
		s.Logger.Warn("REDIS", fmt.Sprintf("Failed to record participations refresh for event %s: %v", eventID, err))
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, db.ErrNotFound)
}

// recordID extracts the "id" field of a raw Congressus record.
func recordID(raw json.RawMessage) (string, error) {
	var rec struct {
		ID models.ID `json:"id"`
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return "", fmt.Errorf("decode record id: %w", err)
	}
	if rec.ID == "" {
		return "", errors.New("record has no id")
	}
	return rec.ID.String(), nil
}
