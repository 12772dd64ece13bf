package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"studynudge/internal/models"
	"studynudge/internal/service"
	"studynudge/internal/storage"
)

const defaultListLimit = 50

type NotifyHandler struct {
	notifications *service.Notifications
}

func NewNotifyHandler(notifications *service.Notifications) *NotifyHandler {
	return &NotifyHandler{notifications: notifications}
}

type scheduleRequest struct {
	UserID       string                  `json:"user_id"`
	Title        string                  `json:"title"`
	Body         string                  `json:"body"`
	Type         models.NotificationType `json:"type"`
	Category     models.Category         `json:"category"`
	Priority     models.Priority         `json:"priority"`
	Data         map[string]interface{}  `json:"data,omitempty"`
	ScheduledFor *time.Time              `json:"scheduled_for,omitempty"`
	ExpiresAt    *time.Time              `json:"expires_at,omitempty"`
}

func (req *scheduleRequest) candidate() *models.Candidate {
	candidate := &models.Candidate{
		UserID:    req.UserID,
		Title:     req.Title,
		Body:      req.Body,
		Type:      req.Type,
		Category:  req.Category,
		Priority:  req.Priority,
		Data:      req.Data,
		ExpiresAt: req.ExpiresAt,
	}
	if req.ScheduledFor != nil {
		candidate.RequestedFor = *req.ScheduledFor
	}
	return candidate
}

// Schedule runs a candidate through the policy at its requested time.
func (h *NotifyHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	decision, err := h.notifications.Submit(r.Context(), req.candidate())
	respondDecision(w, decision, err)
}

// Send is the immediate-delivery variant.
func (h *NotifyHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	decision, err := h.notifications.Send(r.Context(), req.candidate())
	respondDecision(w, decision, err)
}

// respondDecision maps a policy decision to a response. A hand-off error
// still carries the created record so the caller can see the flagged entry.
func respondDecision(w http.ResponseWriter, decision *models.Decision, err error) {
	if err != nil {
		if decision != nil && (errors.Is(err, models.ErrPermissionDenied) || errors.Is(err, models.ErrDeliveryFailed)) {
			writeJSON(w, statusFor(err), struct {
				Error    string           `json:"error"`
				Decision *models.Decision `json:"decision"`
			}{Error: err.Error(), Decision: decision})
			return
		}
		writeError(w, err)
		return
	}

	status := http.StatusOK
	if decision.Outcome == models.OutcomeAccepted || decision.Outcome == models.OutcomeDeferred {
		status = http.StatusCreated
	}
	writeJSON(w, status, decision)
}

func (h *NotifyHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	filter := storage.Filter{
		UserID:   query.Get("user_id"),
		Category: models.Category(query.Get("category")),
		Type:     models.NotificationType(query.Get("type")),
		Limit:    defaultListLimit,
	}
	if query.Get("unread") == "true" {
		filter.UnreadOnly = true
	}
	if query.Get("include_archived") == "true" {
		filter.IncludeArchived = true
	}
	if since := query.Get("since"); since != "" {
		parsed, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid since timestamp"})
			return
		}
		filter.Since = parsed
	}
	if limit := query.Get("limit"); limit != "" {
		parsed, err := strconv.Atoi(limit)
		if err != nil || parsed < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid limit"})
			return
		}
		filter.Limit = parsed
	}

	records, err := h.notifications.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *NotifyHandler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.notifications.Summary(r.Context(), r.URL.Query().Get("user_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *NotifyHandler) Get(w http.ResponseWriter, r *http.Request) {
	record, err := h.notifications.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *NotifyHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.notifications.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *NotifyHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	record, err := h.notifications.MarkRead(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// MarkDelivered is the platform's received callback.
func (h *NotifyHandler) MarkDelivered(w http.ResponseWriter, r *http.Request) {
	record, err := h.notifications.MarkDelivered(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// Response is the platform's interaction callback.
func (h *NotifyHandler) Response(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ActionID string `json:"action_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	record, err := h.notifications.HandleResponse(r.Context(), chi.URLParam(r, "id"), req.ActionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *NotifyHandler) Archive(w http.ResponseWriter, r *http.Request) {
	record, err := h.notifications.Archive(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *NotifyHandler) PermissionStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.notifications.PermissionStatus(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *NotifyHandler) RequestPermission(w http.ResponseWriter, r *http.Request) {
	status, err := h.notifications.RequestPermission(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *NotifyHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.notifications.MetricsSnapshot())
}
