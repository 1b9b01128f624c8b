package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrSessionNotFound is returned when no session row exists for an id.
var ErrSessionNotFound = errors.New("session not found")

// SessionRecord is the durable session row. Runtime state lives in the
// engine; this is what survives restarts and powers the lobby listing.
type SessionRecord struct {
	ID           string
	Name         string
	GMID         string
	JoinCodeHash []byte
	Status       string
	CreatedAt    time.Time
	EndedAt      *time.Time
}

// SessionRepository persists session lifecycle rows.
type SessionRepository struct {
	db *DB
}

func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a new session in the LOBBY state.
func (r *SessionRepository) Create(ctx context.Context, rec *SessionRecord) error {
	_, err := r.db.pool.Exec(ctx,
		`INSERT INTO sessions (id, name, gm_id, join_code_hash, status)
		 VALUES ($1, $2, $3, $4, $5)`,
		rec.ID, rec.Name, rec.GMID, rec.JoinCodeHash, rec.Status,
	)
	if err != nil {
		return fmt.Errorf("create session %s: %w", rec.ID, err)
	}
	return nil
}

// Get loads one session row.
func (r *SessionRepository) Get(ctx context.Context, sessionID string) (*SessionRecord, error) {
	var rec SessionRecord
	err := r.db.pool.QueryRow(ctx,
		`SELECT id, name, gm_id, join_code_hash, status, created_at, ended_at
		 FROM sessions WHERE id = $1`,
		sessionID,
	).Scan(&rec.ID, &rec.Name, &rec.GMID, &rec.JoinCodeHash, &rec.Status, &rec.CreatedAt, &rec.EndedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	return &rec, nil
}

// UpdateStatus moves a session through its lifecycle. Ending stamps ended_at.
func (r *SessionRepository) UpdateStatus(ctx context.Context, sessionID, status string) error {
	var tag string
	if status == "ENDED" {
		tag = `UPDATE sessions SET status = $2, ended_at = now() WHERE id = $1`
	} else {
		tag = `UPDATE sessions SET status = $2 WHERE id = $1`
	}
	res, err := r.db.pool.Exec(ctx, tag, sessionID, status)
	if err != nil {
		return fmt.Errorf("update session %s: %w", sessionID, err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return nil
}

// ListActive returns sessions that have not ended, newest first.
func (r *SessionRepository) ListActive(ctx context.Context) ([]*SessionRecord, error) {
	rows, err := r.db.pool.Query(ctx,
		`SELECT id, name, gm_id, join_code_hash, status, created_at, ended_at
		 FROM sessions WHERE status != 'ENDED' ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*SessionRecord
	for rows.Next() {
		var rec SessionRecord
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.GMID, &rec.JoinCodeHash,
			&rec.Status, &rec.CreatedAt, &rec.EndedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}
