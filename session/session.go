// Package session holds the session model and store plus the two workers that
// drive it: the launcher (scheduled -> starting) and the reconciler
// (starting/live -> live/ended, driven by provider polls).
package session

import (
	"context"
	"errors"
	"time"
)

// Session lifecycle states. Transitions only move forward; ended is terminal.
const (
	StatusScheduled = "scheduled"
	StatusStarting  = "starting"
	StatusLive      = "live"
	StatusEnded     = "ended"
)

// ErrNotReady signals the launcher was invoked outside the launch window or
// on a session that already left scheduled. A no-op, not a failure.
var ErrNotReady = errors.New("session not ready to launch")

// ErrNotFound is returned for an unknown session id.
var ErrNotFound = errors.New("session not found")

// Session is one scheduled (or ad-hoc) live class occurrence.
type Session struct {
	ID          string
	SlotID      *int
	SlotDate    *time.Time
	AccountID   string
	Title       string
	Description string

	BroadcastID string
	StreamKey   string
	IngestURL   string

	ScheduledStartAt time.Time
	ActualStartAt    *time.Time
	ActualEndAt      *time.Time

	Status       string
	Notified     bool
	ViewerCount  int
	ThumbnailURL string

	CreatedAt time.Time
	UpdatedAt *time.Time
}

// Store persists sessions. PGStore is the Postgres implementation; tests use
// in-memory fakes.
type Store interface {
	// CreateForSlot inserts a slot-derived session. Returns false when the
	// (slot_id, slot_date) occurrence already exists.
	CreateForSlot(ctx context.Context, s *Session) (bool, error)
	// Create inserts an ad-hoc session (no slot).
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (Session, error)
	GetBySlotOccurrence(ctx context.Context, slotID int, date time.Time) (Session, error)
	// List returns sessions, optionally filtered by status, newest first.
	List(ctx context.Context, status string, limit int) ([]Session, error)
	// ListDue returns scheduled sessions whose start is within window of now
	// (either side).
	ListDue(ctx context.Context, now time.Time, window time.Duration) ([]Session, error)
	// ListActive returns sessions in starting or live.
	ListActive(ctx context.Context) ([]Session, error)

	// MarkStarting records the provisioned broadcast and moves the session to
	// starting. Guarded: returns false when the session already left
	// scheduled (lost race with another launcher).
	MarkStarting(ctx context.Context, id, broadcastID, streamKey, ingestURL string, at time.Time) (bool, error)
	// MarkLive moves the session to live (idempotent for already-live rows),
	// setting actual_start_at on first call and refreshing viewer count and
	// thumbnail every call.
	MarkLive(ctx context.Context, id string, at time.Time, thumbnailURL string, viewers int) error
	// ClaimNotified flips notified false -> true. Returns true only for the
	// caller that performed the flip; that caller runs the fanout.
	ClaimNotified(ctx context.Context, id string) (bool, error)
	// MarkEnded moves a starting/live session to ended. Returns false when
	// the session was not active (already ended).
	MarkEnded(ctx context.Context, id string, at time.Time) (bool, error)

	CountByStatus(ctx context.Context) (map[string]int, error)
	// NextScheduled returns the soonest upcoming scheduled session after now.
	NextScheduled(ctx context.Context, now time.Time) (Session, error)
}
