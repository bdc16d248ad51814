package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/edustream/liveclass/db"
)

// HandleHealthz responds to liveness probes by checking database connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz reports whether the engine can actually run sessions: database
// reachable, a usable broadcast credential stored, and the reconciler alive.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error { return h.db.PingContext(r.Context()) }},
		{"credentials", func() error {
			var count int
			err := h.db.QueryRowContext(r.Context(),
				`SELECT COUNT(*) FROM oauth_credentials WHERE COALESCE(reauth_required,false)=false AND refresh_token IS NOT NULL AND refresh_token <> ''`).Scan(&count)
			if err != nil {
				return err
			}
			if count < 1 {
				return fmt.Errorf("no usable broadcast credential; connect the account via /auth/youtube/start")
			}
			return nil
		}},
		{"reconciler", func() error {
			last := db.GetHeartbeat(r.Context(), h.db, "job_reconcile_last")
			if last.IsZero() {
				return fmt.Errorf("reconciler has not run yet")
			}
			stale := 3 * h.cfg.ReconcileInterval
			if time.Since(last) > stale {
				return fmt.Errorf("reconciler stale: last run %s ago", time.Since(last).Round(time.Second))
			}
			return nil
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// HandleStatus reports operational state: session counts, next scheduled
// session, job heartbeats, credential expiry, pending recordings.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	out := map[string]any{}

	if counts, err := h.sessions.CountByStatus(ctx); err == nil {
		out["sessions"] = counts
	}
	if next, err := h.sessions.NextScheduled(ctx, time.Now()); err == nil {
		out["next_session"] = map[string]any{
			"id":              next.ID,
			"title":           next.Title,
			"scheduled_start": next.ScheduledStartAt,
		}
	}
	if h.recordings != nil {
		if n, err := h.recordings.CountPending(ctx); err == nil {
			out["pending_recordings"] = n
		}
	}

	heartbeats := map[string]any{}
	for _, key := range []string{"job_plan_last", "job_launch_last", "job_reconcile_last", "job_recording_last"} {
		if t := db.GetHeartbeat(ctx, h.db, key); !t.IsZero() {
			heartbeats[key] = t
		}
	}
	out["heartbeats"] = heartbeats

	credentials := []map[string]any{}
	accounts, err := db.ListCredentialAccounts(ctx, h.db)
	if err == nil {
		for _, account := range accounts {
			_, _, expiry, reauth, err := db.GetCredential(ctx, h.db, account)
			if err != nil {
				continue
			}
			credentials = append(credentials, map[string]any{
				"account_id":      account,
				"expires_at":      expiry,
				"reauth_required": reauth,
			})
		}
	}
	out["credentials"] = credentials

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}
