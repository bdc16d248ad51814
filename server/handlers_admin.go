package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/edustream/liveclass/session"
)

// HandleAdminPlan forces a planner pass.
func (h *Handlers) HandleAdminPlan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := h.planner.PlanOnce(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "planned"})
}

// HandleAdminReconcile forces a reconciliation pass. Diagnostic escape hatch
// when a session looks stuck between ticks.
func (h *Handlers) HandleAdminReconcile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := h.reconciler.ReconcileAll(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "reconciled"})
}

// HandleAdminCreateSession creates an ad-hoc session outside the recurring
// schedule (guest lecture, make-up class).
func (h *Handlers) HandleAdminCreateSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Title            string    `json:"title"`
		Description      string    `json:"description"`
		ScheduledStartAt time.Time `json:"scheduled_start_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	if req.Title == "" || req.ScheduledStartAt.IsZero() {
		http.Error(w, "title and scheduled_start_at are required", http.StatusBadRequest)
		return
	}
	if req.ScheduledStartAt.Before(time.Now().Add(-time.Hour)) {
		http.Error(w, "scheduled_start_at is in the past", http.StatusBadRequest)
		return
	}
	s := session.Session{
		ID:               uuid.NewString(),
		AccountID:        h.cfg.BroadcastAccountID,
		Title:            req.Title,
		Description:      req.Description,
		ScheduledStartAt: req.ScheduledStartAt,
		Status:           session.StatusScheduled,
	}
	if err := h.sessions.Create(r.Context(), &s); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	slog.Info("ad-hoc session created", slog.String("session_id", s.ID), slog.Time("scheduled_start", s.ScheduledStartAt))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(toView(s))
}
