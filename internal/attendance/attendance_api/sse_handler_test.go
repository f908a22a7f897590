package attendance_api_test

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"congressus-cache/internal/attendance/attendance_api"
	"congressus-cache/internal/logger"
	"congressus-cache/internal/models"
	"congressus-cache/internal/sse"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEvent(t *testing.T, reader *bufio.Reader) (string, string) {
	var name, data string
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			return name, data
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestPresenceStream(t *testing.T) {
	emitter := sse.NewPresenceEmitter()
	r := chi.NewRouter()
	attendance_api.NewSSEHandler(logger.NewWithWriter(io.Discard), emitter).RegisterRoutes(r)

	server := httptest.NewServer(r)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/event/10/presence/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream"))

	reader := bufio.NewReader(resp.Body)
	name, data := readEvent(t, reader)
	assert.Equal(t, "connected", name)
	assert.JSONEq(t, `{"status":"connected","event_id":"10"}`, data)

	// The subscription exists before the connected event is written.
	require.Equal(t, 1, emitter.ClientCount("10"))
	require.NoError(t, emitter.PublishPresenceChanged(ctx, models.PresenceChanged{
		EventID:         "10",
		ParticipationID: "5",
		StatusPresence:  "present",
		PresenceCount:   1,
		Tickets:         1,
	}))

	name, data = readEvent(t, reader)
	assert.Equal(t, "presence", name)
	assert.Contains(t, data, `"participation_id":5`)
	assert.Contains(t, data, `"status_presence":"present"`)

	cancel()
	assert.Eventually(t, func() bool { return emitter.ClientCount("10") == 0 }, 2*time.Second, 10*time.Millisecond)
}
