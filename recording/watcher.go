package recording

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/edustream/liveclass/db"
	"github.com/edustream/liveclass/session"
	"github.com/edustream/liveclass/telemetry"
	"github.com/edustream/liveclass/youtubeapi"
)

// VideoProvider polls recording processing state. youtubeapi.Client is the
// production implementation.
type VideoProvider interface {
	GetVideoProcessingState(ctx context.Context, accountID, videoID string) (youtubeapi.VideoState, error)
}

// SessionGetter resolves the session owning a recording (for its broadcast id
// and account).
type SessionGetter interface {
	Get(ctx context.Context, id string) (session.Session, error)
}

// Catalog receives finished recordings. Failure to ingest keeps the row
// pending so the next check retries.
type Catalog interface {
	IngestRecording(ctx context.Context, sessionID string, v youtubeapi.VideoState) (catalogID string, err error)
}

// Watcher polls pending recordings until the provider reports them processed.
// The retry schedule (attempts, next_check_at) lives in the row itself, so
// backoff survives restarts.
type Watcher struct {
	Store    Store
	Sessions SessionGetter
	Provider VideoProvider
	Catalog  Catalog

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxAttempts    int

	Now func() time.Time
}

func (w *Watcher) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

// nextDelay is the wait before check number attempts+1: initial, doubled each
// attempt, capped at MaxBackoff.
func (w *Watcher) nextDelay(attempts int) time.Duration {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = w.InitialBackoff
	if bo.InitialInterval <= 0 {
		bo.InitialInterval = time.Minute
	}
	bo.Multiplier = 2
	bo.MaxInterval = w.MaxBackoff
	if bo.MaxInterval <= 0 {
		bo.MaxInterval = 16 * time.Minute
	}
	bo.RandomizationFactor = 0
	d := bo.NextBackOff()
	for i := 1; i < attempts; i++ {
		d = bo.NextBackOff()
	}
	return d
}

// CheckOnce polls one session's recording. Safe to re-run: ready and failed
// rows are no-ops.
func (w *Watcher) CheckOnce(ctx context.Context, sessionID string) error {
	rec, err := w.Store.Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load recording: %w", err)
	}
	if rec.IngestStatus != StatusPending {
		return nil
	}
	s, err := w.Sessions.Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if s.BroadcastID == "" {
		return w.giveUp(ctx, sessionID, "session has no broadcast id")
	}

	state, err := w.Provider.GetVideoProcessingState(ctx, s.AccountID, s.BroadcastID)
	if err != nil || state.UploadStatus != "processed" {
		if err != nil && !errors.Is(err, youtubeapi.ErrNotFound) {
			slog.Warn("recording poll failed",
				slog.String("session_id", sessionID), slog.Any("err", err))
		}
		return w.retryLater(ctx, rec)
	}

	catalogID := ""
	if w.Catalog != nil {
		catalogID, err = w.Catalog.IngestRecording(ctx, sessionID, state)
		if err != nil {
			slog.Warn("catalog ingest failed; recording stays pending",
				slog.String("session_id", sessionID), slog.Any("err", err))
			return w.retryLater(ctx, rec)
		}
	}

	updated, err := w.Store.MarkReady(ctx, sessionID, state.PlaybackURL, state.ThumbnailURL,
		state.DurationSeconds, state.FileSizeBytes, catalogID)
	if err != nil {
		return fmt.Errorf("mark ready: %w", err)
	}
	if updated {
		telemetry.RecordingsIngested.Inc()
		slog.Info("recording ingested",
			slog.String("session_id", sessionID),
			slog.String("playback_url", state.PlaybackURL),
			slog.Int("duration_seconds", state.DurationSeconds))
	}
	return nil
}

func (w *Watcher) retryLater(ctx context.Context, rec Recording) error {
	attempts := rec.Attempts + 1
	maxAttempts := w.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	if attempts >= maxAttempts {
		return w.giveUp(ctx, rec.SessionID, "max attempts reached")
	}
	next := w.now().Add(w.nextDelay(attempts))
	if err := w.Store.Reschedule(ctx, rec.SessionID, attempts, next); err != nil {
		return fmt.Errorf("reschedule recording: %w", err)
	}
	slog.Debug("recording not ready; rescheduled",
		slog.String("session_id", rec.SessionID),
		slog.Int("attempts", attempts),
		slog.Time("next_check", next))
	return nil
}

func (w *Watcher) giveUp(ctx context.Context, sessionID, reason string) error {
	if err := w.Store.MarkFailed(ctx, sessionID); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	telemetry.RecordingsFailed.Inc()
	slog.Error("recording abandoned; manual follow-up required",
		slog.String("session_id", sessionID), slog.String("reason", reason))
	return nil
}

// CheckDue polls every pending recording whose schedule has come due.
func (w *Watcher) CheckDue(ctx context.Context) error {
	due, err := w.Store.ListDue(ctx, w.now(), 50)
	if err != nil {
		return fmt.Errorf("list due recordings: %w", err)
	}
	for _, rec := range due {
		if err := w.CheckOnce(ctx, rec.SessionID); err != nil {
			slog.Warn("recording check", slog.String("session_id", rec.SessionID), slog.Any("err", err))
		}
	}
	if n, err := w.Store.CountPending(ctx); err == nil {
		telemetry.SetPendingRecordings(n)
	}
	return nil
}

// StartWatcherJob drives CheckDue on an interval.
func StartWatcherJob(ctx context.Context, dbc *sql.DB, w *Watcher, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	slog.Info("recording watcher starting", slog.Duration("interval", interval))
	go func() {
		run := func() {
			db.SetHeartbeat(ctx, dbc, "job_recording_last")
			if err := w.CheckDue(ctx); err != nil {
				slog.Warn("recording pass", slog.Any("err", err))
			}
		}
		run()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				slog.Info("recording watcher stopped")
				return
			case <-ticker.C:
				run()
			}
		}
	}()
}
