package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/edustream/liveclass/db"
	"github.com/edustream/liveclass/telemetry"
	"github.com/edustream/liveclass/youtubeapi"
)

// BroadcastProvider is the slice of the provider client the session workers
// use. youtubeapi.Client is the production implementation; tests use fakes.
type BroadcastProvider interface {
	CreateBroadcast(ctx context.Context, accountID, title, description string, start time.Time) (youtubeapi.BroadcastInfo, error)
	FindBroadcast(ctx context.Context, accountID, title string, scheduledStart time.Time, tolerance time.Duration) (youtubeapi.BroadcastInfo, error)
	GetBroadcastState(ctx context.Context, accountID, broadcastID string) (youtubeapi.BroadcastState, error)
}

// Launcher provisions the provider broadcast for sessions entering their
// launch window and transitions them scheduled -> starting.
type Launcher struct {
	Store    Store
	Provider BroadcastProvider
	Window   time.Duration

	Now func() time.Time
}

func (l *Launcher) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// Launch provisions a broadcast for s. Returns ErrNotReady when the session
// is outside its launch window or no longer scheduled. On provider failure
// the session row is untouched and the next tick retries.
func (l *Launcher) Launch(ctx context.Context, s Session) (Session, error) {
	if s.Status != StatusScheduled {
		return s, ErrNotReady
	}
	now := l.now()
	if d := now.Sub(s.ScheduledStartAt); d < -l.Window || d > l.Window {
		return s, ErrNotReady
	}

	start := time.Now()

	// A prior attempt may have created the broadcast and crashed before the
	// row update. Adopt it rather than provisioning a duplicate.
	info, err := l.Provider.FindBroadcast(ctx, s.AccountID, s.Title, s.ScheduledStartAt, l.Window)
	switch {
	case err == nil:
		slog.Info("adopting existing broadcast",
			slog.String("session_id", s.ID), slog.String("broadcast_id", info.BroadcastID))
	case errors.Is(err, youtubeapi.ErrNotFound):
		info, err = l.Provider.CreateBroadcast(ctx, s.AccountID, s.Title, s.Description, s.ScheduledStartAt)
		if err != nil {
			telemetry.LaunchFailures.Inc()
			return s, fmt.Errorf("create broadcast: %w", err)
		}
	default:
		telemetry.LaunchFailures.Inc()
		return s, fmt.Errorf("find broadcast: %w", err)
	}

	updated, err := l.Store.MarkStarting(ctx, s.ID, info.BroadcastID, info.StreamKey, info.IngestURL, now)
	if err != nil {
		return s, fmt.Errorf("mark starting: %w", err)
	}
	if !updated {
		// Another launcher got there first; its broadcast wins.
		return l.Store.Get(ctx, s.ID)
	}
	telemetry.SessionsLaunched.Inc()
	telemetry.LaunchDuration.Observe(time.Since(start).Seconds())
	slog.Info("session launched",
		slog.String("session_id", s.ID),
		slog.String("broadcast_id", info.BroadcastID),
		slog.Time("scheduled_start", s.ScheduledStartAt))
	return l.Store.Get(ctx, s.ID)
}

// StartLauncherJob scans for due scheduled sessions every interval and
// launches them.
func StartLauncherJob(ctx context.Context, dbc *sql.DB, l *Launcher, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	slog.Info("launcher job starting", slog.Duration("interval", interval))
	go func() {
		if err := launchOnce(ctx, dbc, l); err != nil {
			slog.Warn("launch pass", slog.Any("err", err))
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				slog.Info("launcher job stopped")
				return
			case <-ticker.C:
				if err := launchOnce(ctx, dbc, l); err != nil {
					slog.Warn("launch pass", slog.Any("err", err))
				}
			}
		}
	}()
}

func launchOnce(ctx context.Context, dbc *sql.DB, l *Launcher) error {
	db.SetHeartbeat(ctx, dbc, "job_launch_last")
	due, err := l.Store.ListDue(ctx, l.now(), l.Window)
	if err != nil {
		return fmt.Errorf("list due sessions: %w", err)
	}
	for _, s := range due {
		if _, err := l.Launch(ctx, s); err != nil && !errors.Is(err, ErrNotReady) {
			slog.Warn("launch failed; will retry next tick",
				slog.String("session_id", s.ID), slog.Any("err", err))
		}
	}
	return nil
}
