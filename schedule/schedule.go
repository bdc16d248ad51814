// Package schedule holds the recurring curriculum slots and the planner that
// materializes them into concrete sessions ahead of time.
package schedule

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrSlotNotFound is returned when a slot id doesn't resolve to an active
// slot (deleted or deactivated by an admin between listing and planning).
var ErrSlotNotFound = errors.New("schedule slot not found")

// Slot is one recurring class occurrence in the curriculum. Admin-maintained;
// the engine treats slots as read-only.
type Slot struct {
	ID               int
	DayNumber        int
	TopicTitle       string
	TopicDescription string
	// StartTime is the local time of day, "15:04:05".
	StartTime       string
	Timezone        string
	DurationMinutes int
	Active          bool
}

// SlotSource reads slots. PGSlotSource is the Postgres implementation.
type SlotSource interface {
	ListActive(ctx context.Context) ([]Slot, error)
	// GetActive returns ErrSlotNotFound for unknown or inactive slots.
	GetActive(ctx context.Context, id int) (Slot, error)
}

// PGSlotSource reads schedule_slots.
type PGSlotSource struct {
	DB *sql.DB
}

const slotCols = `id, COALESCE(day_number,0), topic_title, COALESCE(topic_description,''),
	start_time::text, timezone, duration_minutes, COALESCE(active,true)`

func (ss *PGSlotSource) ListActive(ctx context.Context) ([]Slot, error) {
	rows, err := ss.DB.QueryContext(ctx,
		`SELECT `+slotCols+` FROM schedule_slots WHERE COALESCE(active,true)=true ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Warn("failed to close rows", slog.Any("err", err))
		}
	}()
	var out []Slot
	for rows.Next() {
		var s Slot
		if err := rows.Scan(&s.ID, &s.DayNumber, &s.TopicTitle, &s.TopicDescription,
			&s.StartTime, &s.Timezone, &s.DurationMinutes, &s.Active); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (ss *PGSlotSource) GetActive(ctx context.Context, id int) (Slot, error) {
	var s Slot
	err := ss.DB.QueryRowContext(ctx,
		`SELECT `+slotCols+` FROM schedule_slots WHERE id=$1 AND COALESCE(active,true)=true`, id).
		Scan(&s.ID, &s.DayNumber, &s.TopicTitle, &s.TopicDescription,
			&s.StartTime, &s.Timezone, &s.DurationMinutes, &s.Active)
	if err == sql.ErrNoRows {
		return Slot{}, ErrSlotNotFound
	}
	if err != nil {
		return Slot{}, err
	}
	return s, nil
}

// StartAt combines the slot's time of day with a calendar date in the slot's
// timezone and returns the absolute start instant.
func (s Slot) StartAt(date time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("slot %d timezone %q: %w", s.ID, s.Timezone, err)
	}
	tod, err := parseTimeOfDay(s.StartTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("slot %d start_time %q: %w", s.ID, s.StartTime, err)
	}
	y, m, d := date.In(loc).Date()
	return time.Date(y, m, d, tod.Hour(), tod.Minute(), tod.Second(), 0, loc), nil
}

func parseTimeOfDay(v string) (time.Time, error) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable time of day")
}
