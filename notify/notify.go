// Package notify fans out the "class is live" notification to everyone
// enrolled in the course. Delivery is per-user and best-effort: one failed
// recipient never blocks the rest, and there is no in-call retry.
package notify

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/edustream/liveclass/session"
	"github.com/edustream/liveclass/telemetry"
)

// Directory resolves the audience for a course.
type Directory interface {
	EnrolledUserIDs(ctx context.Context, courseID string) ([]string, error)
}

// Deliverer sends one notification to one user. PGDeliverer writes in-app
// rows; an email or push implementation satisfies the same interface.
type Deliverer interface {
	Deliver(ctx context.Context, userID, title, message string, sessionID string) error
}

// Result summarizes one fanout.
type Result struct {
	Delivered int
	Failed    int
}

// Notifier performs the fanout.
type Notifier struct {
	Directory Directory
	Deliverer Deliverer
	CourseID  string
}

// Fanout notifies every enrolled user that the session is live. Individual
// delivery failures are counted and logged; only audience resolution failure
// is an error.
func (n *Notifier) Fanout(ctx context.Context, sessionID, title string) (Result, error) {
	users, err := n.Directory.EnrolledUserIDs(ctx, n.CourseID)
	if err != nil {
		return Result{}, fmt.Errorf("resolve audience: %w", err)
	}
	message := fmt.Sprintf("%s is live now. Join the session!", title)
	var res Result
	for _, uid := range users {
		if err := n.Deliverer.Deliver(ctx, uid, title, message, sessionID); err != nil {
			res.Failed++
			telemetry.FanoutFailed.Inc()
			slog.Warn("notification delivery failed",
				slog.String("user_id", uid), slog.String("session_id", sessionID), slog.Any("err", err))
			continue
		}
		res.Delivered++
		telemetry.FanoutDelivered.Inc()
	}
	return res, nil
}

// SessionLive adapts Fanout to the reconciler's notifier seam.
func (n *Notifier) SessionLive(ctx context.Context, s session.Session) (int, int, error) {
	res, err := n.Fanout(ctx, s.ID, s.Title)
	return res.Delivered, res.Failed, err
}

// PGDirectory reads the enrollments table.
type PGDirectory struct {
	DB *sql.DB
}

func (d *PGDirectory) EnrolledUserIDs(ctx context.Context, courseID string) ([]string, error) {
	rows, err := d.DB.QueryContext(ctx,
		`SELECT user_id FROM enrollments WHERE course_id=$1 AND COALESCE(active,true)=true`, courseID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Warn("failed to close rows", slog.Any("err", err))
		}
	}()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// PGDeliverer writes in-app notification rows.
type PGDeliverer struct {
	DB *sql.DB
}

func (d *PGDeliverer) Deliver(ctx context.Context, userID, title, message string, sessionID string) error {
	_, err := d.DB.ExecContext(ctx,
		`INSERT INTO notifications (user_id, session_id, title, message) VALUES ($1,$2,$3,$4)`,
		userID, sessionID, title, message)
	return err
}
