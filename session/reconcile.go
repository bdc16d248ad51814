package session

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/edustream/liveclass/db"
	"github.com/edustream/liveclass/oauth"
	"github.com/edustream/liveclass/telemetry"
	"github.com/edustream/liveclass/youtubeapi"
)

// Notifier fans out the "class is live" notification. notify.Notifier is the
// production implementation.
type Notifier interface {
	SessionLive(ctx context.Context, s Session) (delivered, failed int, err error)
}

// RecordingSeeder schedules post-broadcast recording polling for an ended
// session. recording.PGStore is the production implementation.
type RecordingSeeder interface {
	Seed(ctx context.Context, sessionID string, firstCheck time.Time) error
}

// TokenSource forces a token refresh after the provider rejects a call.
// oauth.Manager is the production implementation.
type TokenSource interface {
	ForceRefresh(ctx context.Context, accountID string) (string, error)
}

// Reconciler polls the provider for every active session and converges stored
// state: starting -> live on lifecycle live, starting/live -> ended on
// lifecycle complete. The provider's lifecycle status is authoritative; local
// state only follows it, except for the safety timeout.
type Reconciler struct {
	Store      Store
	Provider   BroadcastProvider
	Notify     Notifier
	Recordings RecordingSeeder
	Tokens     TokenSource

	CallTimeout        time.Duration
	MaxSessionDuration time.Duration
	GracePeriod        time.Duration
	// FirstRecordingCheck is how long after the end transition the recording
	// watcher makes its first poll.
	FirstRecordingCheck time.Duration

	Now func() time.Time
}

func (r *Reconciler) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// ReconcileAll runs one reconciliation pass. Sessions are handled in
// independent goroutines with their own provider-call timeout; one hung or
// failing session never blocks the rest.
func (r *Reconciler) ReconcileAll(ctx context.Context) error {
	start := time.Now()
	telemetry.ReconcileCycles.Inc()
	defer func() { telemetry.ReconcileDuration.Observe(time.Since(start).Seconds()) }()

	active, err := r.Store.ListActive(ctx)
	if err != nil {
		return err
	}
	telemetry.SetActiveSessions(len(active))
	if len(active) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	for _, s := range active {
		wg.Add(1)
		go func(s Session) {
			defer wg.Done()
			timeout := r.CallTimeout
			if timeout <= 0 {
				timeout = 15 * time.Second
			}
			sctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			if err := r.reconcileOne(sctx, s); err != nil {
				slog.Warn("reconcile session",
					slog.String("session_id", s.ID),
					slog.String("broadcast_id", s.BroadcastID),
					slog.Any("err", err))
			}
		}(s)
	}
	wg.Wait()
	return nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, s Session) error {
	now := r.now()

	// Safety timeout applies regardless of what the provider says: a session
	// that overran its slot plus grace is force-ended so it can't stay live
	// forever on a crashed or forgotten encoder.
	deadline := s.ScheduledStartAt.Add(r.MaxSessionDuration + r.GracePeriod)
	if now.After(deadline) {
		ended, err := r.Store.MarkEnded(ctx, s.ID, now)
		if err != nil {
			return err
		}
		if ended {
			telemetry.SafetyTimeouts.Inc()
			telemetry.EndedTransitions.Inc()
			slog.Warn("session force-ended by safety timeout",
				slog.String("session_id", s.ID),
				slog.Time("scheduled_start", s.ScheduledStartAt),
				slog.Time("deadline", deadline))
			r.seedRecording(ctx, s)
		}
		return nil
	}

	state, err := r.pollProvider(ctx, s)
	if err != nil {
		if errors.Is(err, oauth.ErrReauthRequired) {
			slog.Error("cannot poll broadcast: operator reauthorization required",
				slog.String("session_id", s.ID), slog.String("account", s.AccountID))
			return nil
		}
		if errors.Is(err, youtubeapi.ErrNotFound) {
			// Broadcast deleted in the provider console. Nothing left to
			// track; close out the session.
			if ended, endErr := r.Store.MarkEnded(ctx, s.ID, now); endErr == nil && ended {
				telemetry.EndedTransitions.Inc()
				slog.Warn("broadcast vanished on provider; session ended",
					slog.String("session_id", s.ID), slog.String("broadcast_id", s.BroadcastID))
			}
			return nil
		}
		// Transient: leave the session untouched, next tick retries.
		return err
	}

	switch state.LifeCycleStatus {
	case "live":
		if err := r.Store.MarkLive(ctx, s.ID, now, state.ThumbnailURL, state.ViewerCount); err != nil {
			return err
		}
		if s.Status == StatusStarting {
			telemetry.LiveTransitions.Inc()
			slog.Info("session live", slog.String("session_id", s.ID), slog.Int("viewers", state.ViewerCount))
		}
		r.fanoutOnce(ctx, s)
	case "complete", "revoked":
		ended, err := r.Store.MarkEnded(ctx, s.ID, now)
		if err != nil {
			return err
		}
		if ended {
			telemetry.EndedTransitions.Inc()
			slog.Info("session ended", slog.String("session_id", s.ID), slog.String("lifecycle", state.LifeCycleStatus))
			r.seedRecording(ctx, s)
		}
	default:
		// created/ready/testStarting/testing/liveStarting: broadcast exists
		// but the class hasn't started. Stay in starting.
	}
	return nil
}

// pollProvider fetches broadcast state, forcing one token refresh and one
// retry when the provider rejects the access token.
func (r *Reconciler) pollProvider(ctx context.Context, s Session) (youtubeapi.BroadcastState, error) {
	state, err := r.Provider.GetBroadcastState(ctx, s.AccountID, s.BroadcastID)
	if err == nil || !youtubeapi.IsAuthError(err) {
		return state, err
	}
	if r.Tokens == nil {
		return state, err
	}
	slog.Debug("provider rejected token; forcing refresh", slog.String("account", s.AccountID))
	if _, rerr := r.Tokens.ForceRefresh(ctx, s.AccountID); rerr != nil {
		return youtubeapi.BroadcastState{}, rerr
	}
	return r.Provider.GetBroadcastState(ctx, s.AccountID, s.BroadcastID)
}

// fanoutOnce delivers the live notification at most once per session. The
// notified flag is claimed before sending, so concurrent reconcilers and
// repeated live polls can't double-send.
func (r *Reconciler) fanoutOnce(ctx context.Context, s Session) {
	if r.Notify == nil {
		return
	}
	claimed, err := r.Store.ClaimNotified(ctx, s.ID)
	if err != nil {
		slog.Warn("claim notify", slog.String("session_id", s.ID), slog.Any("err", err))
		return
	}
	if !claimed {
		return
	}
	delivered, failed, err := r.Notify.SessionLive(ctx, s)
	if err != nil {
		slog.Warn("live fanout", slog.String("session_id", s.ID), slog.Any("err", err))
		return
	}
	slog.Info("live fanout complete",
		slog.String("session_id", s.ID), slog.Int("delivered", delivered), slog.Int("failed", failed))
}

func (r *Reconciler) seedRecording(ctx context.Context, s Session) {
	if r.Recordings == nil || s.BroadcastID == "" {
		return
	}
	first := r.FirstRecordingCheck
	if first <= 0 {
		first = time.Minute
	}
	if err := r.Recordings.Seed(ctx, s.ID, r.now().Add(first)); err != nil {
		slog.Warn("seed recording", slog.String("session_id", s.ID), slog.Any("err", err))
	}
}

// StartReconcilerJob runs ReconcileAll every interval and records the
// job_reconcile_last heartbeat consumed by /readyz and /status.
func StartReconcilerJob(ctx context.Context, dbc *sql.DB, r *Reconciler, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	slog.Info("reconciler job starting", slog.Duration("interval", interval))
	go func() {
		run := func() {
			db.SetHeartbeat(ctx, dbc, "job_reconcile_last")
			if err := r.ReconcileAll(ctx); err != nil {
				slog.Warn("reconcile pass", slog.Any("err", err))
			}
		}
		run()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				slog.Info("reconciler job stopped")
				return
			case <-ticker.C:
				run()
			}
		}
	}()
}
