package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/questforge/quest-server-go/internal/character"
)

// ErrCharacterNotFound is returned when no record exists for an id.
var ErrCharacterNotFound = errors.New("character not found")

// CharacterRecord is the permanent character row. The record column holds
// the character sheet in the same shape as the session live state, which is
// what makes activation and end-of-session sync a plain copy.
type CharacterRecord struct {
	ID       string
	PlayerID string
	Name     string
	State    *character.LiveState
}

// CharacterRepository reads character records at activation and writes the
// final live states back when a session ends.
type CharacterRepository struct {
	db *DB
}

func NewCharacterRepository(db *DB) *CharacterRepository {
	return &CharacterRepository{db: db}
}

// Create inserts a new character record.
func (r *CharacterRepository) Create(ctx context.Context, playerID string, state *character.LiveState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal character record: %w", err)
	}
	_, err = r.db.pool.Exec(ctx,
		`INSERT INTO characters (id, player_id, name, record) VALUES ($1, $2, $3, $4)`,
		state.CharacterID, playerID, state.Name, data,
	)
	if err != nil {
		return fmt.Errorf("create character %s: %w", state.CharacterID, err)
	}
	return nil
}

// Get loads one character record.
func (r *CharacterRepository) Get(ctx context.Context, characterID string) (*CharacterRecord, error) {
	var rec CharacterRecord
	var data []byte
	err := r.db.pool.QueryRow(ctx,
		`SELECT id, player_id, name, record FROM characters WHERE id = $1`,
		characterID,
	).Scan(&rec.ID, &rec.PlayerID, &rec.Name, &data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrCharacterNotFound, characterID)
	}
	if err != nil {
		return nil, fmt.Errorf("get character %s: %w", characterID, err)
	}
	if err := json.Unmarshal(data, &rec.State); err != nil {
		return nil, fmt.Errorf("decode character %s: %w", characterID, err)
	}
	return &rec, nil
}

// GetLiveStates loads the live-state seeds for a roster of character ids,
// preserving the requested order. A missing id fails the whole load so a
// session never activates with a partial party.
func (r *CharacterRepository) GetLiveStates(ctx context.Context, characterIDs []string) ([]*character.LiveState, error) {
	states := make([]*character.LiveState, 0, len(characterIDs))
	for _, id := range characterIDs {
		rec, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		states = append(states, rec.State)
	}
	return states, nil
}

// SyncLiveStates writes the final session states back to the records in one
// transaction. Implements the engine manager's character sink.
func (r *CharacterRepository) SyncLiveStates(ctx context.Context, sessionID string, states []*character.LiveState) error {
	tx, err := r.db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin sync: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, state := range states {
		data, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("marshal state %s: %w", state.CharacterID, err)
		}
		tag, err := tx.Exec(ctx,
			`UPDATE characters SET record = $2, updated_at = now() WHERE id = $1`,
			state.CharacterID, data,
		)
		if err != nil {
			return fmt.Errorf("sync character %s: %w", state.CharacterID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s", ErrCharacterNotFound, state.CharacterID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit sync for session %s: %w", sessionID, err)
	}
	return nil
}
