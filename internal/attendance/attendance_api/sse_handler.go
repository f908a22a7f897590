package attendance_api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"congressus-cache/internal/logger"
	"congressus-cache/internal/sse"
)

// SSEHandler streams presence changes to the attendance dashboard.
type SSEHandler struct {
	Logger  *logger.Logger
	Emitter *sse.PresenceEmitter
}

func NewSSEHandler(logger *logger.Logger, emitter *sse.PresenceEmitter) *SSEHandler {
	return &SSEHandler{
		Logger:  logger,
		Emitter: emitter,
	}
}

func (h *SSEHandler) RegisterRoutes(r chi.Router) {
	r.Get("/event/{eventID}/presence/stream", h.HandleEventPresence)
}

// HandleEventPresence streams presence changes for a specific event
func (h *SSEHandler) HandleEventPresence(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	if eventID == "" {
		http.Error(w, "Event ID is required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	// Streams outlive the server's write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
	h.setupSSEHeaders(w)

	// Cancelled when the client disconnects
	ctx := r.Context()
	eventChan := h.Emitter.SubscribeToEvent(ctx, eventID)

	idJSON, _ := json.Marshal(eventID)
	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"connected\",\"event_id\":%s}\n\n", idJSON)
	flusher.Flush()

	h.Logger.Info("SSE", fmt.Sprintf("Client connected to presence stream for event: %s", eventID))

	for {
		select {
		case change, ok := <-eventChan:
			if !ok {
				h.Logger.Debug("SSE", fmt.Sprintf("Channel closed for event: %s", eventID))
				return
			}

			jsonData, err := json.Marshal(change)
			if err != nil {
				h.Logger.Error("SSE", fmt.Sprintf("Failed to serialize presence change: %v", err))
				continue
			}

			fmt.Fprintf(w, "event: presence\ndata: %s\n\n", jsonData)
			flusher.Flush()

		case <-ctx.Done():
			h.Logger.Debug("SSE", fmt.Sprintf("Client disconnected from presence stream for: %s", eventID))
			return
		}
	}
}

func (h *SSEHandler) setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, max-age=0, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
