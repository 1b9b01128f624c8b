package rules

import (
	"errors"
	"fmt"
	"sync"
)

// BudgetSlot identifies one of the four combat-turn allotments.
type BudgetSlot int

const (
	SlotAction BudgetSlot = iota
	SlotBonusAction
	SlotMovement
	SlotReaction
)

var budgetSlotNames = map[BudgetSlot]string{
	SlotAction:      "ACTION",
	SlotBonusAction: "BONUS_ACTION",
	SlotMovement:    "MOVEMENT",
	SlotReaction:    "REACTION",
}

func (s BudgetSlot) String() string {
	if name, ok := budgetSlotNames[s]; ok {
		return name
	}
	return fmt.Sprintf("SLOT_%d", int(s))
}

// ErrBudgetExceeded is returned when a slot is already consumed or movement
// would drop below zero. Budget failures reject the action before any
// adjudication is attempted.
var ErrBudgetExceeded = errors.New("turn budget exceeded")

// TurnBudget is one combatant's per-turn allotment. Action, bonus action and
// reaction are single-use; movement depletes in distance units and is never
// recovered within the same turn.
type TurnBudget struct {
	ActionUsed        bool    `json:"action_used"`
	BonusActionUsed   bool    `json:"bonus_action_used"`
	ReactionUsed      bool    `json:"reaction_used"`
	MovementRemaining float64 `json:"movement_remaining"`
	Speed             float64 `json:"speed"`
}

// NewTurnBudget returns a fresh budget for a combatant with the given speed.
func NewTurnBudget(speed float64) TurnBudget {
	return TurnBudget{MovementRemaining: speed, Speed: speed}
}

// Consume spends from the named slot. amount only applies to movement.
func (b *TurnBudget) Consume(slot BudgetSlot, amount float64) error {
	switch slot {
	case SlotAction:
		if b.ActionUsed {
			return fmt.Errorf("%w: action already used", ErrBudgetExceeded)
		}
		b.ActionUsed = true
	case SlotBonusAction:
		if b.BonusActionUsed {
			return fmt.Errorf("%w: bonus action already used", ErrBudgetExceeded)
		}
		b.BonusActionUsed = true
	case SlotReaction:
		if b.ReactionUsed {
			return fmt.Errorf("%w: reaction already used", ErrBudgetExceeded)
		}
		b.ReactionUsed = true
	case SlotMovement:
		if amount < 0 {
			return fmt.Errorf("%w: negative movement", ErrBudgetExceeded)
		}
		if amount > b.MovementRemaining {
			return fmt.Errorf("%w: movement %.0f exceeds remaining %.0f",
				ErrBudgetExceeded, amount, b.MovementRemaining)
		}
		b.MovementRemaining -= amount
	default:
		return fmt.Errorf("unknown budget slot %d", slot)
	}
	return nil
}

// BudgetTracker tracks turn budgets for every combatant in an encounter.
// Budgets are keyed by combatant ID rather than by current actor because a
// reaction may be spent outside its owner's turn (opportunity attacks while
// another combatant is acting).
type BudgetTracker struct {
	mu      sync.RWMutex
	budgets map[string]*TurnBudget
	speeds  map[string]float64
}

// NewBudgetTracker creates a tracker with the given per-combatant speeds.
func NewBudgetTracker(speeds map[string]float64) *BudgetTracker {
	bt := &BudgetTracker{
		budgets: make(map[string]*TurnBudget, len(speeds)),
		speeds:  make(map[string]float64, len(speeds)),
	}
	for id, speed := range speeds {
		budget := NewTurnBudget(speed)
		bt.budgets[id] = &budget
		bt.speeds[id] = speed
	}
	return bt
}

// ResetTurn restores the combatant's full allotment. Called at the start of
// that combatant's turn.
func (bt *BudgetTracker) ResetTurn(combatantID string) {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	budget := NewTurnBudget(bt.speeds[combatantID])
	bt.budgets[combatantID] = &budget
}

// Consume spends from a combatant's budget. Works for any combatant, not
// only the one whose turn it is.
func (bt *BudgetTracker) Consume(combatantID string, slot BudgetSlot, amount float64) (TurnBudget, error) {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	budget, ok := bt.budgets[combatantID]
	if !ok {
		return TurnBudget{}, fmt.Errorf("no budget for combatant %s", combatantID)
	}
	if err := budget.Consume(slot, amount); err != nil {
		return *budget, err
	}
	return *budget, nil
}

// Refund returns a previously consumed slot to the combatant, used when a
// declared action is cancelled before any outcome lands. Movement refunds
// clamp at the combatant's speed.
func (bt *BudgetTracker) Refund(combatantID string, slot BudgetSlot, amount float64) {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	budget, ok := bt.budgets[combatantID]
	if !ok {
		return
	}
	switch slot {
	case SlotAction:
		budget.ActionUsed = false
	case SlotBonusAction:
		budget.BonusActionUsed = false
	case SlotReaction:
		budget.ReactionUsed = false
	case SlotMovement:
		budget.MovementRemaining += amount
		if budget.MovementRemaining > budget.Speed {
			budget.MovementRemaining = budget.Speed
		}
	}
}

// Get returns a copy of the combatant's current budget.
func (bt *BudgetTracker) Get(combatantID string) (TurnBudget, bool) {
	bt.mu.RLock()
	defer bt.mu.RUnlock()

	budget, ok := bt.budgets[combatantID]
	if !ok {
		return TurnBudget{}, false
	}
	return *budget, true
}

// Remove drops a combatant from the tracker, e.g. when they leave the
// encounter mid-session.
func (bt *BudgetTracker) Remove(combatantID string) {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	delete(bt.budgets, combatantID)
	delete(bt.speeds, combatantID)
}
