package schedule

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/edustream/liveclass/db"
	"github.com/edustream/liveclass/session"
	"github.com/edustream/liveclass/telemetry"
)

// ErrNotDue signals the occurrence is outside the planning horizon (too far
// ahead, or long past). A skip, not a failure.
var ErrNotDue = errors.New("slot occurrence not due for planning")

// SessionStore is the slice of the session store the planner needs.
// session.PGStore is the production implementation.
type SessionStore interface {
	CreateForSlot(ctx context.Context, s *session.Session) (bool, error)
	GetBySlotOccurrence(ctx context.Context, slotID int, date time.Time) (session.Session, error)
}

// Planner materializes slot occurrences into session rows ahead of their
// start. Idempotent: the (slot_id, slot_date) unique index makes a second
// invocation for the same occurrence a no-op.
type Planner struct {
	Slots     SlotSource
	Sessions  SessionStore
	AccountID string
	Lookahead time.Duration

	Now func() time.Time
}

func (p *Planner) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// EnsureSessionForSlot creates (or returns the existing) session for the
// slot's occurrence on date. Returns ErrSlotNotFound when the slot went
// inactive, ErrNotDue when the occurrence is outside the planning horizon.
func (p *Planner) EnsureSessionForSlot(ctx context.Context, slotID int, date time.Time) (session.Session, error) {
	slot, err := p.Slots.GetActive(ctx, slotID)
	if err != nil {
		return session.Session{}, err
	}
	start, err := slot.StartAt(date)
	if err != nil {
		return session.Session{}, err
	}
	now := p.now()
	lookahead := p.Lookahead
	if lookahead <= 0 {
		lookahead = 24 * time.Hour
	}
	if start.After(now.Add(lookahead)) || start.Before(now.Add(-time.Hour)) {
		return session.Session{}, ErrNotDue
	}

	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	title := slot.TopicTitle
	if slot.DayNumber > 0 {
		title = fmt.Sprintf("Day %d: %s", slot.DayNumber, slot.TopicTitle)
	}
	s := session.Session{
		ID:               uuid.NewString(),
		SlotID:           &slot.ID,
		SlotDate:         &day,
		AccountID:        p.AccountID,
		Title:            title,
		Description:      slot.TopicDescription,
		ScheduledStartAt: start,
		Status:           session.StatusScheduled,
	}
	created, err := p.Sessions.CreateForSlot(ctx, &s)
	if err != nil {
		return session.Session{}, err
	}
	if created {
		telemetry.SessionsPlanned.Inc()
		slog.Info("session planned",
			slog.String("session_id", s.ID),
			slog.Int("slot_id", slot.ID),
			slog.Time("scheduled_start", start))
		return s, nil
	}
	// Lost the insert race or already planned earlier; the stored row wins.
	return p.Sessions.GetBySlotOccurrence(ctx, slot.ID, day)
}

// PlanOnce walks every active slot and materializes occurrences inside the
// lookahead horizon.
func (p *Planner) PlanOnce(ctx context.Context) error {
	slots, err := p.Slots.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active slots: %w", err)
	}
	now := p.now()
	lookahead := p.Lookahead
	if lookahead <= 0 {
		lookahead = 24 * time.Hour
	}
	days := int(lookahead/(24*time.Hour)) + 1
	for _, slot := range slots {
		for d := 0; d <= days; d++ {
			date := now.AddDate(0, 0, d)
			_, err := p.EnsureSessionForSlot(ctx, slot.ID, date)
			if err != nil && !errors.Is(err, ErrNotDue) {
				if errors.Is(err, ErrSlotNotFound) {
					slog.Info("slot went inactive; skipping", slog.Int("slot_id", slot.ID))
					continue
				}
				slog.Warn("plan slot occurrence",
					slog.Int("slot_id", slot.ID), slog.Time("date", date), slog.Any("err", err))
			}
		}
	}
	return nil
}

// StartPlannerJob runs PlanOnce every interval.
func StartPlannerJob(ctx context.Context, dbc *sql.DB, p *Planner, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	slog.Info("planner job starting", slog.Duration("interval", interval))
	go func() {
		run := func() {
			db.SetHeartbeat(ctx, dbc, "job_plan_last")
			if err := p.PlanOnce(ctx); err != nil {
				slog.Warn("plan pass", slog.Any("err", err))
			}
		}
		run()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				slog.Info("planner job stopped")
				return
			case <-ticker.C:
				run()
			}
		}
	}()
}
