package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/edustream/liveclass/session"
)

type sessionView struct {
	ID               string     `json:"id"`
	SlotID           *int       `json:"slot_id,omitempty"`
	Title            string     `json:"title"`
	Description      string     `json:"description,omitempty"`
	Status           string     `json:"status"`
	ScheduledStartAt time.Time  `json:"scheduled_start_at"`
	ActualStartAt    *time.Time `json:"actual_start_at,omitempty"`
	ActualEndAt      *time.Time `json:"actual_end_at,omitempty"`
	BroadcastID      string     `json:"broadcast_id,omitempty"`
	IngestURL        string     `json:"ingest_url,omitempty"`
	ViewerCount      int        `json:"viewer_count"`
	ThumbnailURL     string     `json:"thumbnail_url,omitempty"`
	Notified         bool       `json:"notified"`
}

func toView(s session.Session) sessionView {
	return sessionView{
		ID:               s.ID,
		SlotID:           s.SlotID,
		Title:            s.Title,
		Description:      s.Description,
		Status:           s.Status,
		ScheduledStartAt: s.ScheduledStartAt,
		ActualStartAt:    s.ActualStartAt,
		ActualEndAt:      s.ActualEndAt,
		BroadcastID:      s.BroadcastID,
		IngestURL:        s.IngestURL,
		ViewerCount:      s.ViewerCount,
		ThumbnailURL:     s.ThumbnailURL,
		Notified:         s.Notified,
	}
}

// HandleSessionsList returns sessions, optionally filtered by ?status= and
// bounded by ?limit=.
func (h *Handlers) HandleSessionsList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	status := r.URL.Query().Get("status")
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	sessions, err := h.sessions.List(r.Context(), status, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, toView(s))
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(views); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}

// HandleSessionGet returns one session by id, including its recording when
// one exists.
func (h *Handlers) HandleSessionGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/sessions/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "bad session id", http.StatusBadRequest)
		return
	}
	s, err := h.sessions.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := map[string]any{"session": toView(s)}
	if h.recordings != nil {
		if rec, err := h.recordings.Get(r.Context(), id); err == nil {
			out["recording"] = map[string]any{
				"ingest_status":    rec.IngestStatus,
				"playback_url":     rec.PlaybackURL,
				"thumbnail_url":    rec.ThumbnailURL,
				"duration_seconds": rec.DurationSeconds,
				"attempts":         rec.Attempts,
				"catalog_id":       rec.CatalogID,
			}
		}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}
