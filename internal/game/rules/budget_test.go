package rules

import (
	"errors"
	"testing"
)

func TestTurnBudgetSingleUseSlots(t *testing.T) {
	b := NewTurnBudget(30)

	if err := b.Consume(SlotAction, 0); err != nil {
		t.Fatalf("first action consume: %v", err)
	}
	if err := b.Consume(SlotAction, 0); !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("second action consume: expected ErrBudgetExceeded, got %v", err)
	}

	if err := b.Consume(SlotBonusAction, 0); err != nil {
		t.Fatalf("bonus action consume: %v", err)
	}
	if err := b.Consume(SlotReaction, 0); err != nil {
		t.Fatalf("reaction consume: %v", err)
	}
	if err := b.Consume(SlotReaction, 0); !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("second reaction: expected ErrBudgetExceeded, got %v", err)
	}
}

func TestTurnBudgetMovementDepletes(t *testing.T) {
	b := NewTurnBudget(30)

	if err := b.Consume(SlotMovement, 20); err != nil {
		t.Fatalf("move 20: %v", err)
	}
	if b.MovementRemaining != 10 {
		t.Fatalf("expected 10 remaining, got %.0f", b.MovementRemaining)
	}
	if err := b.Consume(SlotMovement, 15); !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("overspend: expected ErrBudgetExceeded, got %v", err)
	}
	if b.MovementRemaining != 10 {
		t.Fatalf("failed consume must not change remaining, got %.0f", b.MovementRemaining)
	}
	if err := b.Consume(SlotMovement, 10); err != nil {
		t.Fatalf("exact spend: %v", err)
	}
	if b.MovementRemaining != 0 {
		t.Fatalf("expected 0 remaining, got %.0f", b.MovementRemaining)
	}
}

func TestBudgetTrackerOutOfTurnReaction(t *testing.T) {
	bt := NewBudgetTracker(map[string]float64{"fighter": 30, "rogue": 35})

	// The rogue spends a reaction while the fighter has the turn.
	budget, err := bt.Consume("rogue", SlotReaction, 0)
	if err != nil {
		t.Fatalf("out-of-turn reaction: %v", err)
	}
	if !budget.ReactionUsed {
		t.Fatal("reaction not marked used")
	}

	// The rogue's own turn starts: reaction comes back with the reset.
	bt.ResetTurn("rogue")
	budget, ok := bt.Get("rogue")
	if !ok {
		t.Fatal("rogue budget missing")
	}
	if budget.ReactionUsed || budget.MovementRemaining != 35 {
		t.Fatalf("reset incomplete: %+v", budget)
	}
}

func TestBudgetTrackerUnknownCombatant(t *testing.T) {
	bt := NewBudgetTracker(map[string]float64{"fighter": 30})
	if _, err := bt.Consume("ghost", SlotAction, 0); err == nil {
		t.Fatal("expected error for unknown combatant")
	}
	bt.Remove("fighter")
	if _, ok := bt.Get("fighter"); ok {
		t.Fatal("removed combatant still tracked")
	}
}

func TestBudgetSlotFor(t *testing.T) {
	slot, ok := BudgetSlotFor(ActionAttack)
	if !ok || slot != SlotAction {
		t.Fatalf("attack should cost the action slot, got %v/%v", slot, ok)
	}
	slot, ok = BudgetSlotFor(ActionMove)
	if !ok || slot != SlotMovement {
		t.Fatalf("move should cost movement, got %v/%v", slot, ok)
	}
	if _, ok := BudgetSlotFor(ActionPass); ok {
		t.Fatal("pass must not cost a slot")
	}
}
