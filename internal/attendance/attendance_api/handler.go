package attendance_api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"congressus-cache/internal/auth"
	"congressus-cache/internal/cache/db"
	"congressus-cache/internal/congressus"
	"congressus-cache/internal/logger"
	"congressus-cache/internal/models"
	"congressus-cache/internal/monitoring"
	"congressus-cache/internal/qr"
	"congressus-cache/internal/utils"
)

// AttendanceService is implemented by *attendance.AttendanceService.
type AttendanceService interface {
	ListEvents(ctx context.Context, force bool) ([]models.EventSummary, error)
	GetEvent(ctx context.Context, id string) (json.RawMessage, error)
	GetParticipations(ctx context.Context, eventID string, force bool) ([]models.ParticipationView, error)
	GetTicket(ctx context.Context, eventID, id string, refresh bool) (*models.TicketView, error)
	SetPresence(ctx context.Context, eventID, id, status string) (*models.PresenceResult, error)
	CollectTickets(ctx context.Context, eventID string) (*models.CollectResult, error)
	SyncStatus(ctx context.Context) (*models.SyncStatus, error)
}

type Handler struct {
	Service     AttendanceService
	Logger      *logger.Logger
	QRGenerator *qr.QRGenerator
	StaticDir   string
	JWTSecret   string
}

func NewHandler(service AttendanceService, log *logger.Logger, qrGen *qr.QRGenerator, staticDir, jwtSecret string) *Handler {
	return &Handler{
		Service:     service,
		Logger:      log,
		QRGenerator: qrGen,
		StaticDir:   staticDir,
		JWTSecret:   jwtSecret,
	}
}

// RegisterRoutes registers the dashboard and cache routes on a chi router
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/", h.redirectToIndex)
	r.Get("/html", h.redirectToIndex)
	r.Get("/html/", h.redirectToIndex)
	r.Get("/html/{page}", h.ServePage)

	r.Get("/events", h.ListEvents)
	r.Get("/events/refresh", h.RefreshEvents)
	r.Post("/events/refresh", h.RefreshEvents)
	r.Get("/event/{eventID}", h.GetEvent)
	r.Get("/event/{eventID}/collect-tickets", h.CollectTickets)

	r.Get("/participations/{eventID}", h.ListParticipations)
	r.Get("/participations/{eventID}/refresh", h.RefreshParticipations)

	r.Get("/ticket/{eventID}/{objID}", h.GetTicket)
	r.Get("/ticket/{eventID}/{objID}/qr.png", h.TicketQR)
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(h.JWTSecret))
		r.Get("/ticket/{eventID}/{objID}/{newStatus}", h.SetPresence)
		r.Post("/ticket/{eventID}/{objID}/{newStatus}", h.SetPresence)
	})

	r.Get("/status", h.Status)
	r.Handle("/metrics", monitoring.Handler())
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		h.Logger.LogAPI(r.Method, r.URL.Path, strconv.Itoa(ww.Status()), time.Since(started).String())
	})
}

func (h *Handler) redirectToIndex(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/html/index.html", http.StatusTemporaryRedirect)
}

// ServePage serves one file from the static dashboard directory.
func (h *Handler) ServePage(w http.ResponseWriter, r *http.Request) {
	page := chi.URLParam(r, "page")
	if page == "" || page != filepath.Base(page) || strings.HasPrefix(page, ".") {
		http.Error(w, "Page not found", http.StatusNotFound)
		return
	}

	f, err := os.Open(filepath.Join(h.StaticDir, page))
	if err != nil {
		http.Error(w, "Page not found", http.StatusNotFound)
		return
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil || stat.IsDir() {
		http.Error(w, "Page not found", http.StatusNotFound)
		return
	}
	http.ServeContent(w, r, stat.Name(), stat.ModTime(), f)
}

func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	h.listEvents(w, r, false)
}

func (h *Handler) RefreshEvents(w http.ResponseWriter, r *http.Request) {
	h.listEvents(w, r, true)
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request, force bool) {
	events, err := h.Service.ListEvents(r.Context(), force)
	if err != nil {
		h.writeServiceError(w, "Failed to list events", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, events)
}

func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	payload, err := h.Service.GetEvent(r.Context(), eventID)
	if err != nil {
		h.writeServiceError(w, "Event not available", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

func (h *Handler) CollectTickets(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	result, err := h.Service.CollectTickets(r.Context(), eventID)
	if err != nil {
		h.writeServiceError(w, "Failed to collect tickets", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) ListParticipations(w http.ResponseWriter, r *http.Request) {
	h.listParticipations(w, r, false)
}

func (h *Handler) RefreshParticipations(w http.ResponseWriter, r *http.Request) {
	h.listParticipations(w, r, true)
}

func (h *Handler) listParticipations(w http.ResponseWriter, r *http.Request, force bool) {
	eventID := chi.URLParam(r, "eventID")
	participations, err := h.Service.GetParticipations(r.Context(), eventID, force)
	if err != nil {
		h.writeServiceError(w, "Failed to list participations", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, participations)
}

func (h *Handler) GetTicket(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	objID := chi.URLParam(r, "objID")
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))

	ticket, err := h.Service.GetTicket(r.Context(), eventID, objID, refresh)
	if err != nil {
		h.writeServiceError(w, "Ticket not available", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, ticket)
}

// SetPresence answers with a PresenceResult in every case, so the check-in
// page can show the message whatever happened.
func (h *Handler) SetPresence(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	objID := chi.URLParam(r, "objID")
	newStatus := chi.URLParam(r, "newStatus")

	if by := auth.UserID(r.Context()); by != "" {
		h.Logger.Info("TICKETS", fmt.Sprintf("Presence change for ticket %s requested by %s", objID, by))
	}

	result, err := h.Service.SetPresence(r.Context(), eventID, objID, newStatus)
	if err != nil {
		status, message := http.StatusInternalServerError, fmt.Sprintf("Failed to update ticket %s.", objID)
		switch {
		case errors.Is(err, db.ErrNotFound):
			status, message = http.StatusNotFound, fmt.Sprintf("Ticket %s not found.", objID)
		case congressus.IsRemoteFailure(err):
			status = http.StatusBadGateway
		}
		h.Logger.Error("TICKETS", err.Error())
		utils.WriteJSON(w, status, models.PresenceResult{Status: "error", Message: message})
		return
	}
	utils.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) TicketQR(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	objID := chi.URLParam(r, "objID")
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))
	if size > 1024 {
		size = 1024
	}

	png, err := h.QRGenerator.GeneratePNG(eventID, objID, size)
	if err != nil {
		h.Logger.Error("TICKETS", err.Error())
		utils.WriteError(w, http.StatusInternalServerError, "Failed to generate QR code", err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.Service.SyncStatus(r.Context())
	if err != nil {
		h.Logger.Error("REDIS", fmt.Sprintf("Failed to read sync status: %v", err))
		utils.WriteError(w, http.StatusServiceUnavailable, "Sync status unavailable", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Sync status", status))
}

// writeServiceError maps cache misses to 404 and Congressus failures to 502.
func (h *Handler) writeServiceError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		utils.WriteError(w, http.StatusNotFound, message, err)
	case congressus.IsRemoteFailure(err):
		h.Logger.Error("CONGRESSUS", err.Error())
		utils.WriteError(w, http.StatusBadGateway, message, err)
	default:
		h.Logger.Error("HTTP", err.Error())
		utils.WriteError(w, http.StatusInternalServerError, message, err)
	}
}
