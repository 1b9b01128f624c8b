package rules

import (
	"errors"
	"fmt"
)

// ActionType enumerates every declarable action kind. The set is closed so
// the intake layer and the adjudication templates can switch exhaustively.
type ActionType string

const (
	// Actions available across multiple phases.
	ActionMove       ActionType = "MOVE"
	ActionInteract   ActionType = "INTERACT"
	ActionSearch     ActionType = "SEARCH"
	ActionUseItem    ActionType = "USE_ITEM"
	ActionCastSpell  ActionType = "CAST_SPELL"
	ActionTalkToNPC  ActionType = "TALK_TO_NPC"
	ActionPass       ActionType = "PASS"
	ActionFreeAction ActionType = "FREE_ACTION"

	// Combat-only actions.
	ActionAttack    ActionType = "ATTACK"
	ActionDash      ActionType = "DASH"
	ActionDodge     ActionType = "DODGE"
	ActionDisengage ActionType = "DISENGAGE"
	ActionHelp      ActionType = "HELP"
	ActionHide      ActionType = "HIDE"
	ActionReady     ActionType = "READY"
)

// ErrIllegalForPhase is returned when an action type is declared outside the
// phases that permit it.
var ErrIllegalForPhase = errors.New("action not legal in current phase")

// legalActions is the static phase -> action-type table consulted by the
// intake layer. Free actions (chat, inventory inspection) never reach this
// table; they bypass the pipeline entirely.
var legalActions = map[Phase]map[ActionType]bool{
	PhaseExploration: {
		ActionMove:       true,
		ActionInteract:   true,
		ActionSearch:     true,
		ActionUseItem:    true,
		ActionCastSpell:  true,
		ActionTalkToNPC:  true,
		ActionPass:       true,
		ActionFreeAction: true,
	},
	PhaseCombat: {
		ActionMove:       true,
		ActionInteract:   true,
		ActionUseItem:    true,
		ActionCastSpell:  true,
		ActionPass:       true,
		ActionFreeAction: true,
		ActionAttack:     true,
		ActionDash:       true,
		ActionDodge:      true,
		ActionDisengage:  true,
		ActionHelp:       true,
		ActionHide:       true,
		ActionReady:      true,
	},
	PhaseSocial: {
		ActionTalkToNPC:  true,
		ActionInteract:   true,
		ActionUseItem:    true,
		ActionCastSpell:  true,
		ActionPass:       true,
		ActionFreeAction: true,
	},
	PhaseRest: {
		ActionUseItem:    true,
		ActionPass:       true,
		ActionFreeAction: true,
	},
}

// LegalInPhase reports whether the action type may be declared during the
// given phase.
func LegalInPhase(at ActionType, p Phase) bool {
	return legalActions[p][at]
}

// ValidateActionPhase returns ErrIllegalForPhase (wrapped with detail) when
// the action type is not in the phase's legal set.
func ValidateActionPhase(at ActionType, p Phase) error {
	if !LegalInPhase(at, p) {
		return fmt.Errorf("%w: %s during %s", ErrIllegalForPhase, at, p)
	}
	return nil
}

// BudgetSlotFor maps a combat action type to the budget slot it consumes.
// The second return is false for actions that cost nothing (pass, free
// actions) or that are priced by the adjudicator (interact, cast_spell uses
// the action slot by default).
func BudgetSlotFor(at ActionType) (BudgetSlot, bool) {
	switch at {
	case ActionAttack, ActionDash, ActionDodge, ActionDisengage,
		ActionHelp, ActionHide, ActionReady, ActionUseItem,
		ActionCastSpell, ActionInteract:
		return SlotAction, true
	case ActionMove:
		return SlotMovement, true
	default:
		return 0, false
	}
}
