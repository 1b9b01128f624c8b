package game

import (
	"time"

	"github.com/questforge/quest-server-go/internal/game/rules"
)

// RestContext records the in-progress rest while the session sits in the
// rest phase.
type RestContext struct {
	Kind      rules.RestKind `json:"kind"`
	StartedAt time.Time      `json:"started_at"`
}

// State is the externally visible snapshot of a session's game state. The
// engine is the only writer; everyone else receives copies.
//
// Invariants: TurnOrder is a permutation of the active participants;
// ActivePlayerID, when set, is a member of TurnOrder; CombatBudget is
// present iff Phase is combat and a participant is active.
type State struct {
	SessionID        string            `json:"session_id"`
	Phase            rules.Phase       `json:"phase"`
	PreviousPhase    rules.Phase       `json:"previous_phase"`
	TurnOrder        []string          `json:"turn_order"`
	ActivePlayerID   string            `json:"active_player_id,omitempty"`
	RoundNumber      int               `json:"round_number"`
	WorldTurnPending bool              `json:"world_turn_pending"`
	EncounterID      string            `json:"encounter_id,omitempty"`
	PhaseEnteredAt   time.Time         `json:"phase_entered_at"`
	CombatBudget     *rules.TurnBudget `json:"combat_budget,omitempty"`
	RestContext      *RestContext      `json:"rest_context,omitempty"`
}
