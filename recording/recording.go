// Package recording tracks post-broadcast recordings: each ended session gets
// a pending row polled on a persisted exponential-backoff schedule until the
// provider finishes processing, then the recording is ingested into the
// content catalog.
package recording

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Ingest states for a recording row.
const (
	StatusPending = "pending"
	StatusReady   = "ready"
	StatusFailed  = "failed"
)

// Recording is the tracked post-broadcast asset for one session.
type Recording struct {
	ID              int
	SessionID       string
	PlaybackURL     string
	ThumbnailURL    string
	DurationSeconds int
	FileSizeBytes   int64
	IngestStatus    string
	Attempts        int
	NextCheckAt     *time.Time
	CatalogID       string
	CreatedAt       time.Time
	UpdatedAt       *time.Time
}

// Store persists recording rows. PGStore is the Postgres implementation.
type Store interface {
	// Seed creates the pending row for a session. Idempotent: the
	// UNIQUE(session_id) constraint makes repeats a no-op.
	Seed(ctx context.Context, sessionID string, firstCheck time.Time) error
	Get(ctx context.Context, sessionID string) (Recording, error)
	// ListDue returns pending rows whose next check time has passed.
	ListDue(ctx context.Context, now time.Time, limit int) ([]Recording, error)
	// MarkReady stores the final asset data. Guarded on pending status;
	// returns false when the row was already ready or failed.
	MarkReady(ctx context.Context, sessionID, playbackURL, thumbnailURL string, durationSeconds int, fileSizeBytes int64, catalogID string) (bool, error)
	Reschedule(ctx context.Context, sessionID string, attempts int, next time.Time) error
	MarkFailed(ctx context.Context, sessionID string) error
	CountPending(ctx context.Context) (int, error)
}

// PGStore implements Store over Postgres.
type PGStore struct {
	DB *sql.DB
}

func (st *PGStore) Seed(ctx context.Context, sessionID string, firstCheck time.Time) error {
	_, err := st.DB.ExecContext(ctx, `INSERT INTO recordings (session_id, ingest_status, attempts, next_check_at)
		VALUES ($1,'pending',0,$2)
		ON CONFLICT (session_id) DO NOTHING`, sessionID, firstCheck)
	if err != nil {
		return fmt.Errorf("seed recording: %w", err)
	}
	return nil
}

const recordingCols = `id, session_id, COALESCE(playback_url,''), COALESCE(thumbnail_url,''),
	COALESCE(duration_seconds,0), COALESCE(file_size_bytes,0), ingest_status,
	COALESCE(attempts,0), next_check_at, COALESCE(catalog_id,''), created_at, updated_at`

func scanRecording(row interface{ Scan(...any) error }) (Recording, error) {
	var r Recording
	var next, updated sql.NullTime
	err := row.Scan(&r.ID, &r.SessionID, &r.PlaybackURL, &r.ThumbnailURL,
		&r.DurationSeconds, &r.FileSizeBytes, &r.IngestStatus,
		&r.Attempts, &next, &r.CatalogID, &r.CreatedAt, &updated)
	if err != nil {
		return Recording{}, err
	}
	if next.Valid {
		v := next.Time
		r.NextCheckAt = &v
	}
	if updated.Valid {
		v := updated.Time
		r.UpdatedAt = &v
	}
	return r, nil
}

func (st *PGStore) Get(ctx context.Context, sessionID string) (Recording, error) {
	return scanRecording(st.DB.QueryRowContext(ctx,
		`SELECT `+recordingCols+` FROM recordings WHERE session_id=$1`, sessionID))
}

func (st *PGStore) ListDue(ctx context.Context, now time.Time, limit int) ([]Recording, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := st.DB.QueryContext(ctx, `SELECT `+recordingCols+` FROM recordings
		WHERE ingest_status='pending' AND (next_check_at IS NULL OR next_check_at <= $1)
		ORDER BY next_check_at ASC NULLS FIRST LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Warn("failed to close rows", slog.Any("err", err))
		}
	}()
	var out []Recording
	for rows.Next() {
		r, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (st *PGStore) MarkReady(ctx context.Context, sessionID, playbackURL, thumbnailURL string, durationSeconds int, fileSizeBytes int64, catalogID string) (bool, error) {
	res, err := st.DB.ExecContext(ctx, `UPDATE recordings
		SET ingest_status='ready', playback_url=$2, thumbnail_url=$3,
			duration_seconds=$4, file_size_bytes=$5, catalog_id=$6, updated_at=NOW()
		WHERE session_id=$1 AND ingest_status='pending'`,
		sessionID, playbackURL, thumbnailURL, durationSeconds, fileSizeBytes, catalogID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (st *PGStore) Reschedule(ctx context.Context, sessionID string, attempts int, next time.Time) error {
	_, err := st.DB.ExecContext(ctx, `UPDATE recordings
		SET attempts=$2, next_check_at=$3, updated_at=NOW()
		WHERE session_id=$1 AND ingest_status='pending'`, sessionID, attempts, next)
	return err
}

func (st *PGStore) MarkFailed(ctx context.Context, sessionID string) error {
	_, err := st.DB.ExecContext(ctx, `UPDATE recordings
		SET ingest_status='failed', next_check_at=NULL, updated_at=NOW()
		WHERE session_id=$1 AND ingest_status='pending'`, sessionID)
	return err
}

func (st *PGStore) CountPending(ctx context.Context) (int, error) {
	var n int
	err := st.DB.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM recordings WHERE ingest_status='pending'`).Scan(&n)
	return n, err
}
