package game

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/questforge/quest-server-go/internal/game/rules"
	"github.com/questforge/quest-server-go/internal/narrator"
)

// ActionStatus tracks a declared action through the pipeline. declared,
// processing and awaiting_roll are live; resolved, cancelled and failed are
// terminal and the record is never mutated afterwards.
type ActionStatus string

const (
	StatusDeclared     ActionStatus = "DECLARED"
	StatusProcessing   ActionStatus = "PROCESSING"
	StatusAwaitingRoll ActionStatus = "AWAITING_ROLL"
	StatusResolved     ActionStatus = "RESOLVED"
	StatusCancelled    ActionStatus = "CANCELLED"
	StatusFailed       ActionStatus = "FAILED"
)

// Terminal reports whether the status ends the pipeline.
func (s ActionStatus) Terminal() bool {
	switch s {
	case StatusResolved, StatusCancelled, StatusFailed:
		return true
	default:
		return false
	}
}

// PlayerAction is one declared action moving through the
// validate/adjudicate/roll pipeline. Exactly one non-terminal action may
// exist per actor at a time.
type PlayerAction struct {
	ID         string           `json:"id"`
	ActorID    string           `json:"actor_id"`
	ActionType rules.ActionType `json:"action_type"`
	Payload    json.RawMessage  `json:"payload,omitempty"`
	Status     ActionStatus     `json:"status"`
	DeclaredAt time.Time        `json:"declared_at"`
	FailReason string           `json:"fail_reason,omitempty"`

	// pendingRoll is the single outstanding request while awaiting_roll;
	// bundle carries the adjudication context between invocations.
	pendingRoll *narrator.RollRequest
	bundle      *narrator.Bundle
	// outcomesApplied gates cancellation: once mechanical outcomes have
	// landed there is no partial rollback across the boundary.
	outcomesApplied bool
	// Pre-consumed combat budget, refunded if the action is cancelled
	// before any outcome lands.
	budgetSlot     rules.BudgetSlot
	budgetConsumed bool
	budgetAmount   float64
}

// Intake and handshake failures, surfaced synchronously to the caller and
// never mutating state.
var (
	ErrNotYourTurn          = errors.New("not your turn")
	ErrActionAlreadyPending = errors.New("actor already has a pending action")
	ErrActionNotFound       = errors.New("action not found")
	ErrActorMismatch        = errors.New("submission actor does not match the pending request")
	ErrStaleRequest         = errors.New("roll request already answered or expired")
	ErrCancelTooLate        = errors.New("action already applied mechanical outcomes")
	ErrUnknownParticipant   = errors.New("unknown participant")
	ErrActorIncapacitated   = errors.New("actor cannot act in their current state")
	ErrNoWorldTurnPending   = errors.New("no world turn pending")
)
