package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// StoredEvent is one row of the append-only session audit log.
type StoredEvent struct {
	SessionID string          `json:"session_id"`
	Seq       uint64          `json:"seq"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// EventRepository persists session events. It satisfies the engine's audit
// log contract: an insert that fails aborts the mutation it records, and the
// (session_id, seq) primary key makes duplicate seqs impossible.
type EventRepository struct {
	db *DB
}

func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{db: db}
}

// Append writes one event row. The payload is stored as JSONB so the log
// doubles as the session's replayable transcript.
func (r *EventRepository) Append(ctx context.Context, sessionID string, seq uint64, kind string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = r.db.pool.Exec(ctx,
		`INSERT INTO session_events (session_id, seq, kind, payload) VALUES ($1, $2, $3, $4)`,
		sessionID, int64(seq), kind, data,
	)
	if err != nil {
		return fmt.Errorf("append event %d: %w", seq, err)
	}
	return nil
}

// List returns events for a session after the given seq, oldest first.
func (r *EventRepository) List(ctx context.Context, sessionID string, afterSeq uint64, limit int) ([]StoredEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	rows, err := r.db.pool.Query(ctx,
		`SELECT session_id, seq, kind, payload, created_at
		 FROM session_events
		 WHERE session_id = $1 AND seq > $2
		 ORDER BY seq ASC
		 LIMIT $3`,
		sessionID, int64(afterSeq), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []StoredEvent
	for rows.Next() {
		var evt StoredEvent
		var seq int64
		if err := rows.Scan(&evt.SessionID, &seq, &evt.Kind, &evt.Payload, &evt.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		evt.Seq = uint64(seq)
		out = append(out, evt)
	}
	return out, rows.Err()
}

// LastSeq returns the highest recorded seq for a session, zero when none.
func (r *EventRepository) LastSeq(ctx context.Context, sessionID string) (uint64, error) {
	var seq int64
	err := r.db.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM session_events WHERE session_id = $1`,
		sessionID,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return uint64(seq), nil
}
