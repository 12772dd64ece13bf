package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"studynudge/internal/models"
	"studynudge/internal/service"
)

type RemindersHandler struct {
	reminders *service.Reminders
}

func NewRemindersHandler(reminders *service.Reminders) *RemindersHandler {
	return &RemindersHandler{reminders: reminders}
}

func (h *RemindersHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID       string            `json:"user_id"`
		Title        string            `json:"title"`
		Description  string            `json:"description,omitempty"`
		ScheduledFor time.Time         `json:"scheduled_for"`
		Recurrence   models.Recurrence `json:"recurrence,omitempty"`
		MaxSnoozes   int               `json:"max_snoozes,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	reminder, err := h.reminders.Create(r.Context(), &models.Reminder{
		UserID:       req.UserID,
		Title:        req.Title,
		Description:  req.Description,
		ScheduledFor: req.ScheduledFor,
		Recurrence:   req.Recurrence,
		MaxSnoozes:   req.MaxSnoozes,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, reminder)
}

func (h *RemindersHandler) List(w http.ResponseWriter, r *http.Request) {
	reminders, err := h.reminders.ListByUser(r.Context(), r.URL.Query().Get("user_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reminders)
}

func (h *RemindersHandler) Get(w http.ResponseWriter, r *http.Request) {
	reminder, err := h.reminders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reminder)
}

func (h *RemindersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.reminders.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Snooze pushes the reminder out by the requested minutes.
func (h *RemindersHandler) Snooze(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Minutes int `json:"minutes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	reminder, err := h.reminders.Snooze(r.Context(), chi.URLParam(r, "id"), time.Duration(req.Minutes)*time.Minute)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reminder)
}

func (h *RemindersHandler) Complete(w http.ResponseWriter, r *http.Request) {
	reminder, err := h.reminders.Complete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reminder)
}
