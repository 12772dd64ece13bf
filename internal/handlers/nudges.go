package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"studynudge/internal/service"
)

type NudgesHandler struct {
	nudges *service.Nudges
}

func NewNudgesHandler(nudges *service.Nudges) *NudgesHandler {
	return &NudgesHandler{nudges: nudges}
}

func (h *NudgesHandler) List(w http.ResponseWriter, r *http.Request) {
	rules, err := h.nudges.List(r.Context(), r.URL.Query().Get("user_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

// Seed creates any default rules the user is missing. Safe to call repeatedly.
func (h *NudgesHandler) Seed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	rules, err := h.nudges.SeedDefaults(r.Context(), req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

// Trigger evaluates a behavioral event, the HTTP twin of the Kafka ingress.
func (h *NudgesHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID  string            `json:"user_id"`
		Event   string            `json:"event"`
		Context map[string]string `json:"context,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	results, err := h.nudges.Trigger(r.Context(), req.UserID, req.Event, req.Context)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *NudgesHandler) Feedback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID    string `json:"user_id"`
		Effective bool   `json:"effective"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	rule, err := h.nudges.Feedback(r.Context(), req.UserID, chi.URLParam(r, "id"), req.Effective)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (h *NudgesHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	rule, err := h.nudges.Deactivate(r.Context(), r.URL.Query().Get("user_id"), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}
