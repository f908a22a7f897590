package attendance_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	attendance "congressus-cache/internal/attendance/service"
	"congressus-cache/internal/cache/db"
	"congressus-cache/internal/congressus"
	"congressus-cache/internal/logger"
	"congressus-cache/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// MockRemote is a mock implementation of the Remote interface
type MockRemote struct {
	mock.Mock
}

func (m *MockRemote) FetchEvents(ctx context.Context) ([]json.RawMessage, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]json.RawMessage), args.Error(1)
}

func (m *MockRemote) FetchParticipations(ctx context.Context, eventID string) ([]json.RawMessage, error) {
	args := m.Called(ctx, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]json.RawMessage), args.Error(1)
}

func (m *MockRemote) FetchParticipation(ctx context.Context, eventID, participationID string) (json.RawMessage, error) {
	args := m.Called(ctx, eventID, participationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(json.RawMessage), args.Error(1)
}

func (m *MockRemote) SetPresence(ctx context.Context, eventID, participationID, status string) error {
	args := m.Called(ctx, eventID, participationID, status)
	return args.Error(0)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishPresenceChanged(ctx context.Context, change models.PresenceChanged) error {
	args := m.Called(ctx, change)
	return args.Error(0)
}

type MockSyncRecorder struct {
	mock.Mock
}

func (m *MockSyncRecorder) MarkEventsRefreshed(ctx context.Context, at time.Time) error {
	args := m.Called(ctx, at)
	return args.Error(0)
}

func (m *MockSyncRecorder) MarkParticipationsRefreshed(ctx context.Context, eventID string, at time.Time) error {
	args := m.Called(ctx, eventID, at)
	return args.Error(0)
}

func (m *MockSyncRecorder) Status(ctx context.Context) (*models.SyncStatus, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SyncStatus), args.Error(1)
}

var amsterdam = mustLoadLocation("Europe/Amsterdam")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

func setupTestDB(t *testing.T) *db.DB {
	name := strings.ReplaceAll(t.Name(), "/", "_")
	sqldb, err := sql.Open(sqliteshim.ShimName, fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatalf("Failed to connect to in-memory database: %v", err)
	}
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { bunDB.Close() })

	cacheDB := &db.DB{Bun: bunDB}
	require.NoError(t, cacheDB.CreateTables(context.Background()))
	return cacheDB
}

func setupService(t *testing.T) (*attendance.AttendanceService, *db.DB, *MockRemote) {
	cacheDB := setupTestDB(t)
	remote := new(MockRemote)
	svc := attendance.NewAttendanceService(cacheDB, remote, logger.NewWithWriter(io.Discard), amsterdam)
	svc.Now = func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, amsterdam) }
	return svc, cacheDB, remote
}

func raw(s string) json.RawMessage {
	return json.RawMessage(s)
}

func eventJSON(id int, start string, published bool) json.RawMessage {
	return raw(fmt.Sprintf(`{
		"id": %d, "name": "Event %d", "start": %q, "published": %t,
		"ticket_types": [
			{"name": "Leden", "price": 0, "num_tickets": 10},
			{"name": "Early", "price": 20, "num_tickets": 5},
			{"name": "Niet-leden", "price": 50, "num_tickets": 3},
			{"name": "Unlimited", "price": 0, "num_tickets": null}
		]
	}`, id, id, start, published))
}

func participationJSON(id int, memberID *int, status string) json.RawMessage {
	member := "null"
	if memberID != nil {
		member = fmt.Sprintf("%d", *memberID)
	}
	return raw(fmt.Sprintf(`{"id": %d, "member_id": %s, "status": %q, "addressee": "Guest %d", "email": "g%d@example.com"}`,
		id, member, status, id, id))
}

func ticketJSON(id int, presences ...string) json.RawMessage {
	lines := make([]string, 0, len(presences))
	for i, p := range presences {
		presence := "null"
		if p != "" {
			presence = fmt.Sprintf("%q", p)
		}
		lines = append(lines, fmt.Sprintf(`{"id": %d, "status_presence": %s, "ticket_type": {"name": "Leden", "price": 0}}`, id*100+i, presence))
	}
	return raw(fmt.Sprintf(`{
		"id": %d, "addressee": "Guest %d", "email": "g%d@example.com", "status": "approved",
		"event": {"name": "Borrel", "start": "2025-03-10T20:00:00"},
		"tickets": [%s]
	}`, id, id, id, strings.Join(lines, ",")))
}

func intPtr(n int) *int {
	return &n
}

func byID(summaries []models.EventSummary) map[models.ID]models.EventSummary {
	out := make(map[models.ID]models.EventSummary, len(summaries))
	for _, s := range summaries {
		out[s.ID] = s
	}
	return out
}

func TestTicketCapacityTiers(t *testing.T) {
	types := []models.TicketType{
		{Price: 0, NumTickets: intPtr(10)},
		{Price: 20, NumTickets: intPtr(5)},
		{Price: 50, NumTickets: intPtr(3)},
		{Price: 39, NumTickets: intPtr(7)},
		{Price: 0, NumTickets: nil},
	}

	leden, nietLeden := attendance.TicketCapacity(types)
	assert.Equal(t, 10, leden)
	assert.Equal(t, 3, nietLeden)
}

func TestEnrichParticipationsJoinsTicketDetail(t *testing.T) {
	present := models.PresencePresent
	member := models.ID("7")
	participations := []models.Participation{
		{ID: "1", MemberID: &member, Status: "approved"},
		{ID: "2", Status: "approved"},
	}
	details := map[string]models.TicketDetail{
		"1": {ID: "1", Tickets: []models.TicketLine{{StatusPresence: &present}, {}}},
		// Detail for a participation that is not in the list.
		"99": {ID: "99", Tickets: []models.TicketLine{{StatusPresence: &present}}},
	}

	views := attendance.EnrichParticipations(participations, details)
	require.Len(t, views, 2)

	assert.Equal(t, 1, views[0].PresenceCount)
	require.NotNil(t, views[0].Tickets)
	assert.Equal(t, 2, *views[0].Tickets)

	assert.Equal(t, 0, views[1].PresenceCount)
	assert.Nil(t, views[1].Tickets)
}

func TestSummarizeEventCountsOnlyApprovedAndDuePresence(t *testing.T) {
	member := models.ID("7")
	event := models.Event{ID: "1", Name: "Borrel", Start: "2025-03-10T20:00:00"}
	views := []models.ParticipationView{
		{ID: "1", MemberID: &member, Status: "approved", PresenceCount: 1},
		{ID: "2", Status: "approved", PresenceCount: 2},
		{ID: "3", Status: "waiting_list", PresenceCount: 1},
		{ID: "4", MemberID: &member, Status: "approved"},
	}

	due := attendance.SummarizeEvent(event, views, true)
	assert.Equal(t, 2, due.LedenSoldTickets)
	assert.Equal(t, 1, due.NietLedenSoldTickets)
	assert.Equal(t, 1, due.PresentLeden)
	assert.Equal(t, 2, due.PresentVrijrijders)

	later := attendance.SummarizeEvent(event, views, false)
	assert.Equal(t, 2, later.LedenSoldTickets)
	assert.Zero(t, later.PresentLeden)
	assert.Zero(t, later.PresentVrijrijders)
}

func TestDueForAttendance(t *testing.T) {
	svc, _, _ := setupService(t)
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, amsterdam)

	events := []models.Event{
		{ID: "today", Start: "2025-03-10T09:00:00"},
		{ID: "tomorrow-late", Start: "2025-03-11T23:59:00"},
		{ID: "day-after", Start: "2025-03-12T00:00:00"},
		{ID: "past", Start: "2024-12-01T10:00:00"},
		{ID: "broken", Start: "soon"},
	}

	due := svc.DueForAttendance(events, now)
	assert.Equal(t, []models.ID{"today", "tomorrow-late", "past"}, due)
}

func TestListEventsEmptyCacheForcesRefresh(t *testing.T) {
	svc, cacheDB, remote := setupService(t)
	ctx := context.Background()

	remote.On("FetchEvents", mock.Anything).Return([]json.RawMessage{
		eventJSON(1, "2025-04-01T20:00:00", true),
		eventJSON(2, "2025-04-02T20:00:00", false),
	}, nil).Once()

	summaries, err := svc.ListEvents(ctx, false)
	require.NoError(t, err)

	require.Len(t, summaries, 1)
	assert.Equal(t, models.ID("1"), summaries[0].ID)
	assert.Equal(t, 10, summaries[0].LedenNumTickets)
	assert.Equal(t, 3, summaries[0].NietLedenNumTickets)

	ids, err := cacheDB.EventIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1", "2"}, ids)
	remote.AssertExpectations(t)
	remote.AssertNumberOfCalls(t, "FetchParticipations", 0)
}

func TestListEventsForceReconcilesDeletedEvents(t *testing.T) {
	svc, cacheDB, remote := setupService(t)
	ctx := context.Background()
	sync := new(MockSyncRecorder)
	svc.Sync = sync

	require.NoError(t, cacheDB.UpsertEvents(ctx, []models.EventRow{
		{ID: "1", Payload: eventJSON(1, "2025-04-01T20:00:00", true)},
		{ID: "9", Payload: eventJSON(9, "2025-04-09T20:00:00", true)},
	}))

	remote.On("FetchEvents", mock.Anything).Return([]json.RawMessage{eventJSON(1, "2025-04-01T20:00:00", true)}, nil)
	sync.On("MarkEventsRefreshed", mock.Anything, mock.Anything).Return(nil)

	_, err := svc.ListEvents(ctx, true)
	require.NoError(t, err)

	_, err = svc.GetEvent(ctx, "9")
	assert.ErrorIs(t, err, attendance.ErrEventNotFound)

	payload, err := svc.GetEvent(ctx, "1")
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"Event 1"`)
	sync.AssertExpectations(t)
}

func TestListEventsFromCacheRefreshesDueEvents(t *testing.T) {
	svc, cacheDB, remote := setupService(t)
	ctx := context.Background()

	require.NoError(t, cacheDB.UpsertEvents(ctx, []models.EventRow{
		{ID: "1", Payload: eventJSON(1, "2025-03-11T20:00:00", true)},
		{ID: "2", Payload: eventJSON(2, "2025-03-12T00:00:00", true)},
		{ID: "3", Payload: eventJSON(3, "2025-03-01T20:00:00", false)},
	}))
	require.NoError(t, cacheDB.UpsertParticipations(ctx, []models.ParticipationRow{
		{ID: "21", EventID: "2", Payload: participationJSON(21, intPtr(5), "approved")},
	}))
	require.NoError(t, cacheDB.UpsertTicket(ctx, models.TicketRow{ID: "11", EventID: "1", Payload: ticketJSON(11, "present")}))
	require.NoError(t, cacheDB.UpsertTicket(ctx, models.TicketRow{ID: "21", EventID: "2", Payload: ticketJSON(21, "present")}))

	remote.On("FetchParticipations", mock.Anything, "1").Return([]json.RawMessage{
		participationJSON(11, intPtr(5), "approved"),
		participationJSON(12, nil, "approved"),
	}, nil).Once()
	remote.On("FetchParticipations", mock.Anything, "3").Return([]json.RawMessage{}, nil).Once()

	summaries, err := svc.ListEvents(ctx, false)
	require.NoError(t, err)

	got := byID(summaries)
	require.Len(t, got, 2)

	assert.Equal(t, 1, got["1"].LedenSoldTickets)
	assert.Equal(t, 1, got["1"].NietLedenSoldTickets)
	assert.Equal(t, 1, got["1"].PresentLeden)
	assert.Equal(t, 0, got["1"].PresentVrijrijders)

	// Not due yet: sold tickets come from cache, presence is left at zero.
	assert.Equal(t, 1, got["2"].LedenSoldTickets)
	assert.Equal(t, 0, got["2"].PresentLeden)

	remote.AssertExpectations(t)
	remote.AssertNumberOfCalls(t, "FetchEvents", 0)
	remote.AssertNumberOfCalls(t, "FetchParticipations", 2)
}

func TestListEventsPropagatesRemoteFailure(t *testing.T) {
	svc, _, remote := setupService(t)

	remote.On("FetchEvents", mock.Anything).Return(nil, &congressus.StatusError{Method: http.MethodGet, Path: "/events", StatusCode: http.StatusBadGateway})

	summaries, err := svc.ListEvents(context.Background(), true)
	assert.Nil(t, summaries)
	var statusErr *congressus.StatusError
	assert.ErrorAs(t, err, &statusErr)
}

func TestGetParticipationsTrimsAndServesFromCache(t *testing.T) {
	svc, cacheDB, remote := setupService(t)
	ctx := context.Background()
	sync := new(MockSyncRecorder)
	svc.Sync = sync

	require.NoError(t, cacheDB.UpsertTicket(ctx, models.TicketRow{ID: "11", EventID: "1", Payload: ticketJSON(11, "present", "")}))

	remote.On("FetchParticipations", mock.Anything, "1").Return([]json.RawMessage{
		raw(`{"id": 11, "member_id": 5, "status": "approved", "addressee": "  Jan Jansen ", "email": " jan@example.com"}`),
		participationJSON(12, nil, "approved"),
	}, nil).Once()
	sync.On("MarkParticipationsRefreshed", mock.Anything, "1", mock.Anything).Return(nil).Once()

	first, err := svc.GetParticipations(ctx, "1", false)
	require.NoError(t, err)
	second, err := svc.GetParticipations(ctx, "1", false)
	require.NoError(t, err)

	assert.ElementsMatch(t, first, second)
	remote.AssertNumberOfCalls(t, "FetchParticipations", 1)
	sync.AssertExpectations(t)

	views := map[models.ID]models.ParticipationView{}
	for _, v := range first {
		views[v.ID] = v
	}
	jan := views["11"]
	assert.Equal(t, "Jan Jansen", jan.Addressee)
	assert.Equal(t, "jan@example.com", jan.Email)
	assert.Equal(t, 1, jan.PresenceCount)
	require.NotNil(t, jan.Tickets)
	assert.Equal(t, 2, *jan.Tickets)

	assert.Nil(t, views["12"].Tickets)
	assert.Nil(t, views["12"].MemberID)
}

func TestGetParticipationsForceReconcilesWithinEvent(t *testing.T) {
	svc, cacheDB, remote := setupService(t)
	ctx := context.Background()

	require.NoError(t, cacheDB.UpsertParticipations(ctx, []models.ParticipationRow{
		{ID: "11", EventID: "1", Payload: participationJSON(11, nil, "approved")},
		{ID: "12", EventID: "1", Payload: participationJSON(12, nil, "approved")},
		{ID: "21", EventID: "2", Payload: participationJSON(21, nil, "approved")},
	}))
	remote.On("FetchParticipations", mock.Anything, "1").Return([]json.RawMessage{participationJSON(12, nil, "approved")}, nil)

	views, err := svc.GetParticipations(ctx, "1", true)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, models.ID("12"), views[0].ID)

	other, err := cacheDB.ParticipationIDs(ctx, "2")
	require.NoError(t, err)
	assert.Equal(t, []string{"21"}, other)
}

func TestGetTicketIsIdempotentWithoutRefresh(t *testing.T) {
	svc, _, remote := setupService(t)
	ctx := context.Background()

	remote.On("FetchParticipation", mock.Anything, "1", "11").Return(ticketJSON(11, "present", ""), nil)

	first, err := svc.GetTicket(ctx, "1", "11", false)
	require.NoError(t, err)
	second, err := svc.GetTicket(ctx, "1", "11", false)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	remote.AssertNumberOfCalls(t, "FetchParticipation", 1)

	assert.Equal(t, "Borrel", first.EventName)
	assert.Equal(t, "2025-03-10T20:00:00", first.EventDate)
	require.Len(t, first.Tickets, 2)
	assert.Equal(t, "present", first.Tickets[0].StatusPresence)
	assert.Equal(t, "", first.Tickets[1].StatusPresence)
	assert.Equal(t, "Leden", first.Tickets[0].TicketType)

	_, err = svc.GetTicket(ctx, "1", "11", true)
	require.NoError(t, err)
	remote.AssertNumberOfCalls(t, "FetchParticipation", 2)
}

func TestGetTicketRemoteNotFound(t *testing.T) {
	svc, _, remote := setupService(t)

	remote.On("FetchParticipation", mock.Anything, "1", "404").
		Return(nil, &congressus.StatusError{Method: http.MethodGet, StatusCode: http.StatusNotFound})

	view, err := svc.GetTicket(context.Background(), "1", "404", false)
	assert.Nil(t, view)
	assert.ErrorIs(t, err, attendance.ErrTicketNotFound)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestSetPresenceUncachedTicket(t *testing.T) {
	svc, _, remote := setupService(t)

	result, err := svc.SetPresence(context.Background(), "1", "11", "present")
	assert.Nil(t, result)
	assert.ErrorIs(t, err, attendance.ErrTicketNotFound)
	remote.AssertNumberOfCalls(t, "SetPresence", 0)
	remote.AssertNumberOfCalls(t, "FetchParticipation", 0)
}

func TestSetPresenceSkipsWhenAnyLineMatches(t *testing.T) {
	svc, cacheDB, remote := setupService(t)
	ctx := context.Background()

	require.NoError(t, cacheDB.UpsertTicket(ctx, models.TicketRow{ID: "11", EventID: "1", Payload: ticketJSON(11, "", "present")}))

	result, err := svc.SetPresence(ctx, "1", "11", "present")
	require.NoError(t, err)
	assert.Equal(t, "success", result.Status)
	assert.Contains(t, result.Message, "already has status_presence present")
	assert.Nil(t, result.Ticket)
	remote.AssertNumberOfCalls(t, "SetPresence", 0)
	remote.AssertNumberOfCalls(t, "FetchParticipation", 0)
}

func TestSetPresenceRemoteRejection(t *testing.T) {
	svc, cacheDB, remote := setupService(t)
	ctx := context.Background()

	cached := ticketJSON(11, "")
	require.NoError(t, cacheDB.UpsertTicket(ctx, models.TicketRow{ID: "11", EventID: "1", Payload: cached}))
	remote.On("SetPresence", mock.Anything, "1", "11", "present").
		Return(&congressus.StatusError{Method: http.MethodPost, StatusCode: http.StatusOK})

	result, err := svc.SetPresence(ctx, "1", "11", "present")
	assert.Nil(t, result)
	var statusErr *congressus.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusOK, statusErr.StatusCode)

	row, err := cacheDB.GetTicket(ctx, "1", "11")
	require.NoError(t, err)
	assert.JSONEq(t, string(cached), string(row.Payload))
	remote.AssertNumberOfCalls(t, "FetchParticipation", 0)
}

func TestSetPresenceUpdatesAndPublishes(t *testing.T) {
	svc, cacheDB, remote := setupService(t)
	ctx := context.Background()
	publisher := new(MockPublisher)
	svc.Publisher = publisher

	require.NoError(t, cacheDB.UpsertTicket(ctx, models.TicketRow{ID: "11", EventID: "1", Payload: ticketJSON(11, "")}))
	remote.On("SetPresence", mock.Anything, "1", "11", "present").Return(nil).Once()
	remote.On("FetchParticipation", mock.Anything, "1", "11").Return(ticketJSON(11, "present"), nil).Once()
	publisher.On("PublishPresenceChanged", mock.Anything, mock.MatchedBy(func(c models.PresenceChanged) bool {
		return c.MessageID != "" &&
			c.EventID == "1" &&
			c.ParticipationID == "11" &&
			c.StatusPresence == "present" &&
			c.PresenceCount == 1 &&
			c.Tickets == 1
	})).Return(nil).Once()

	result, err := svc.SetPresence(ctx, "1", "11", "present")
	require.NoError(t, err)
	assert.Equal(t, "success", result.Status)
	require.NotNil(t, result.Ticket)
	assert.Equal(t, "present", result.Ticket.Tickets[0].StatusPresence)

	row, err := cacheDB.GetTicket(ctx, "1", "11")
	require.NoError(t, err)
	assert.Contains(t, string(row.Payload), `"present"`)

	remote.AssertExpectations(t)
	publisher.AssertExpectations(t)
}

func TestCollectTickets(t *testing.T) {
	svc, cacheDB, remote := setupService(t)
	ctx := context.Background()

	require.NoError(t, cacheDB.UpsertTicket(ctx, models.TicketRow{ID: "1", EventID: "10", Payload: ticketJSON(1, "present")}))
	require.NoError(t, cacheDB.UpsertTicket(ctx, models.TicketRow{ID: "3", EventID: "10", Payload: ticketJSON(3, "")}))

	remote.On("FetchParticipations", mock.Anything, "10").Return([]json.RawMessage{
		participationJSON(1, intPtr(5), "approved"),
		participationJSON(2, nil, "approved"),
		participationJSON(3, intPtr(6), "approved"),
		participationJSON(4, nil, "pending"),
	}, nil)
	remote.On("FetchParticipation", mock.Anything, "10", "2").Return(ticketJSON(2, ""), nil).Once()
	remote.On("FetchParticipation", mock.Anything, "10", "3").Return(ticketJSON(3, "present"), nil).Once()

	result, err := svc.CollectTickets(ctx, "10")
	require.NoError(t, err)
	assert.Equal(t, "success", result.Status)
	assert.Equal(t, 2, result.Refreshed)

	remote.AssertExpectations(t)
	remote.AssertNumberOfCalls(t, "FetchParticipation", 2)

	tickets, err := cacheDB.ListTickets(ctx, "10")
	require.NoError(t, err)
	assert.Len(t, tickets, 3)
}

func TestSyncStatusWithoutRecorder(t *testing.T) {
	svc, _, _ := setupService(t)

	status, err := svc.SyncStatus(context.Background())
	require.NoError(t, err)
	assert.Nil(t, status.EventsRefreshedAt)
	assert.Empty(t, status.ParticipationsRefreshedAt)
}

func TestPublishersFanOutAndJoinErrors(t *testing.T) {
	first := new(MockPublisher)
	second := new(MockPublisher)
	change := models.PresenceChanged{EventID: "1", ParticipationID: "11", StatusPresence: "present"}

	first.On("PublishPresenceChanged", mock.Anything, change).Return(fmt.Errorf("broker down")).Once()
	second.On("PublishPresenceChanged", mock.Anything, change).Return(nil).Once()

	err := attendance.Publishers{first, second}.PublishPresenceChanged(context.Background(), change)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")

	first.AssertExpectations(t)
	second.AssertExpectations(t)
	assert.NoError(t, attendance.Publishers{}.PublishPresenceChanged(context.Background(), change))
}
