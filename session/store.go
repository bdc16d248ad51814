package session

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// PGStore implements Store over Postgres.
type PGStore struct {
	DB *sql.DB
}

const sessionCols = `id, slot_id, slot_date, account_id, title, COALESCE(description,''),
	COALESCE(broadcast_id,''), COALESCE(stream_key,''), COALESCE(ingest_url,''),
	scheduled_start_at, actual_start_at, actual_end_at, status, COALESCE(notified,false),
	COALESCE(viewer_count,0), COALESCE(thumbnail_url,''), created_at, updated_at`

func scanSession(row interface{ Scan(...any) error }) (Session, error) {
	var s Session
	var slotID sql.NullInt64
	var slotDate, actualStart, actualEnd, updated sql.NullTime
	err := row.Scan(&s.ID, &slotID, &slotDate, &s.AccountID, &s.Title, &s.Description,
		&s.BroadcastID, &s.StreamKey, &s.IngestURL,
		&s.ScheduledStartAt, &actualStart, &actualEnd, &s.Status, &s.Notified,
		&s.ViewerCount, &s.ThumbnailURL, &s.CreatedAt, &updated)
	if err != nil {
		return Session{}, err
	}
	if slotID.Valid {
		v := int(slotID.Int64)
		s.SlotID = &v
	}
	if slotDate.Valid {
		v := slotDate.Time
		s.SlotDate = &v
	}
	if actualStart.Valid {
		v := actualStart.Time
		s.ActualStartAt = &v
	}
	if actualEnd.Valid {
		v := actualEnd.Time
		s.ActualEndAt = &v
	}
	if updated.Valid {
		v := updated.Time
		s.UpdatedAt = &v
	}
	return s, nil
}

func (st *PGStore) CreateForSlot(ctx context.Context, s *Session) (bool, error) {
	if s.SlotID == nil || s.SlotDate == nil {
		return false, fmt.Errorf("slot session requires slot_id and slot_date")
	}
	res, err := st.DB.ExecContext(ctx, `INSERT INTO sessions
		(id, slot_id, slot_date, account_id, title, description, scheduled_start_at, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,'scheduled')
		ON CONFLICT (slot_id, slot_date) WHERE slot_id IS NOT NULL DO NOTHING`,
		s.ID, *s.SlotID, *s.SlotDate, s.AccountID, s.Title, s.Description, s.ScheduledStartAt)
	if err != nil {
		return false, fmt.Errorf("insert slot session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (st *PGStore) Create(ctx context.Context, s *Session) error {
	_, err := st.DB.ExecContext(ctx, `INSERT INTO sessions
		(id, account_id, title, description, scheduled_start_at, status)
		VALUES ($1,$2,$3,$4,$5,'scheduled')`,
		s.ID, s.AccountID, s.Title, s.Description, s.ScheduledStartAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (st *PGStore) Get(ctx context.Context, id string) (Session, error) {
	s, err := scanSession(st.DB.QueryRowContext(ctx,
		`SELECT `+sessionCols+` FROM sessions WHERE id=$1`, id))
	if err == sql.ErrNoRows {
		return Session{}, ErrNotFound
	}
	return s, err
}

func (st *PGStore) GetBySlotOccurrence(ctx context.Context, slotID int, date time.Time) (Session, error) {
	s, err := scanSession(st.DB.QueryRowContext(ctx,
		`SELECT `+sessionCols+` FROM sessions WHERE slot_id=$1 AND slot_date=$2`, slotID, date))
	if err == sql.ErrNoRows {
		return Session{}, ErrNotFound
	}
	return s, err
}

func (st *PGStore) List(ctx context.Context, status string, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + sessionCols + ` FROM sessions`
	args := []any{}
	if status != "" {
		q += ` WHERE status=$1`
		args = append(args, status)
	}
	q += fmt.Sprintf(` ORDER BY scheduled_start_at DESC LIMIT %d`, limit)
	return st.queryMany(ctx, q, args...)
}

func (st *PGStore) ListDue(ctx context.Context, now time.Time, window time.Duration) ([]Session, error) {
	return st.queryMany(ctx, `SELECT `+sessionCols+` FROM sessions
		WHERE status='scheduled' AND scheduled_start_at BETWEEN $1 AND $2
		ORDER BY scheduled_start_at ASC`, now.Add(-window), now.Add(window))
}

func (st *PGStore) ListActive(ctx context.Context) ([]Session, error) {
	return st.queryMany(ctx, `SELECT `+sessionCols+` FROM sessions
		WHERE status IN ('starting','live') ORDER BY scheduled_start_at ASC`)
}

func (st *PGStore) queryMany(ctx context.Context, q string, args ...any) ([]Session, error) {
	rows, err := st.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Warn("failed to close rows", slog.Any("err", err))
		}
	}()
	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (st *PGStore) MarkStarting(ctx context.Context, id, broadcastID, streamKey, ingestURL string, at time.Time) (bool, error) {
	res, err := st.DB.ExecContext(ctx, `UPDATE sessions
		SET broadcast_id=$2, stream_key=$3, ingest_url=$4, status='starting', updated_at=$5
		WHERE id=$1 AND status='scheduled'`,
		id, broadcastID, streamKey, ingestURL, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (st *PGStore) MarkLive(ctx context.Context, id string, at time.Time, thumbnailURL string, viewers int) error {
	_, err := st.DB.ExecContext(ctx, `UPDATE sessions
		SET status='live',
			actual_start_at=COALESCE(actual_start_at,$2),
			thumbnail_url=CASE WHEN $3<>'' THEN $3 ELSE thumbnail_url END,
			viewer_count=$4,
			updated_at=NOW()
		WHERE id=$1 AND status IN ('starting','live')`,
		id, at, thumbnailURL, viewers)
	return err
}

func (st *PGStore) ClaimNotified(ctx context.Context, id string) (bool, error) {
	res, err := st.DB.ExecContext(ctx,
		`UPDATE sessions SET notified=TRUE, updated_at=NOW() WHERE id=$1 AND notified=FALSE`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (st *PGStore) MarkEnded(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := st.DB.ExecContext(ctx, `UPDATE sessions
		SET status='ended', actual_end_at=COALESCE(actual_end_at,$2), updated_at=NOW()
		WHERE id=$1 AND status IN ('starting','live')`, id, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (st *PGStore) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := st.DB.QueryContext(ctx, `SELECT status, COUNT(1) FROM sessions GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Warn("failed to close rows", slog.Any("err", err))
		}
	}()
	out := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

func (st *PGStore) NextScheduled(ctx context.Context, now time.Time) (Session, error) {
	s, err := scanSession(st.DB.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM sessions
		WHERE status='scheduled' AND scheduled_start_at > $1
		ORDER BY scheduled_start_at ASC LIMIT 1`, now))
	if err == sql.ErrNoRows {
		return Session{}, ErrNotFound
	}
	return s, err
}
