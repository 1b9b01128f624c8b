package rules

import "testing"

func TestTurnManagerRoundRobin(t *testing.T) {
	tm := NewTurnManager([]string{"alice", "bob", "cara"})

	if tm.ActiveParticipant() != "alice" {
		t.Fatalf("expected alice active, got %s", tm.ActiveParticipant())
	}
	tm.Advance()
	if tm.ActiveParticipant() != "bob" {
		t.Fatalf("expected bob active, got %s", tm.ActiveParticipant())
	}
	tm.Advance()
	if tm.ActiveParticipant() != "cara" {
		t.Fatalf("expected cara active, got %s", tm.ActiveParticipant())
	}
	if tm.RoundNumber() != 1 || tm.WorldTurnPending() {
		t.Fatal("round must not complete before the last entrant acts")
	}
}

func TestTurnManagerWorldTurnWrap(t *testing.T) {
	tm := NewTurnManager([]string{"a", "b", "c", "d", "e"})

	// All five participants act: the world turn becomes pending and the
	// round counter increments exactly once.
	for i := 0; i < 5; i++ {
		tm.Advance()
	}
	if !tm.WorldTurnPending() {
		t.Fatal("expected world turn pending after full round")
	}
	if tm.RoundNumber() != 2 {
		t.Fatalf("expected round 2, got %d", tm.RoundNumber())
	}
	if tm.ActiveParticipant() != "" {
		t.Fatalf("no participant should be active during world turn, got %s", tm.ActiveParticipant())
	}

	// Advancing while the world turn is pending must not double count.
	tm.Advance()
	if tm.RoundNumber() != 2 {
		t.Fatalf("round incremented more than once: %d", tm.RoundNumber())
	}

	tm.CompleteWorldTurn()
	if tm.ActiveParticipant() != "a" {
		t.Fatalf("expected a active after world turn, got %s", tm.ActiveParticipant())
	}
}

func TestSetOrderRejectsNonPermutation(t *testing.T) {
	tm := NewTurnManager([]string{"a", "b"})
	active := map[string]bool{"a": true, "b": true}

	if err := tm.SetOrder([]string{"a"}, active); err == nil {
		t.Fatal("expected error for missing participant")
	}
	if err := tm.SetOrder([]string{"a", "a"}, active); err == nil {
		t.Fatal("expected error for duplicate participant")
	}
	if err := tm.SetOrder([]string{"a", "zed"}, active); err == nil {
		t.Fatal("expected error for unknown participant")
	}
	if err := tm.SetOrder([]string{"b", "a"}, active); err != nil {
		t.Fatalf("valid permutation rejected: %v", err)
	}
	if tm.ActiveParticipant() != "b" {
		t.Fatalf("expected b active after reorder, got %s", tm.ActiveParticipant())
	}
}

func TestRemoveRenormalizesOrder(t *testing.T) {
	tm := NewTurnManager([]string{"a", "b", "c"})
	tm.Advance() // b active

	tm.Remove("a")
	if tm.ActiveParticipant() != "b" {
		t.Fatalf("expected b still active, got %s", tm.ActiveParticipant())
	}
	for _, id := range tm.Order() {
		if id == "a" {
			t.Fatal("removed participant still in order")
		}
	}

	// Removing the active, last entrant ends the round.
	tm.Advance() // c active
	tm.Remove("c")
	if !tm.WorldTurnPending() {
		t.Fatal("expected world turn after removing active last entrant")
	}
}

func TestSortInitiative(t *testing.T) {
	order := SortInitiative([]InitiativeEntry{
		{ParticipantID: "slow", Roll: 8, Modifier: 1},
		{ParticipantID: "tie-low-mod", Roll: 15, Modifier: 1},
		{ParticipantID: "tie-high-mod", Roll: 15, Modifier: 3},
		{ParticipantID: "fast", Roll: 20, Modifier: 0},
		{ParticipantID: "tie-b", Roll: 12, Modifier: 2},
		{ParticipantID: "tie-a", Roll: 12, Modifier: 2},
	})

	want := []string{"fast", "tie-high-mod", "tie-low-mod", "tie-a", "tie-b", "slow"}
	for i, id := range want {
		if order[i] != id {
			t.Fatalf("position %d: expected %s, got %s (order %v)", i, id, order[i], order)
		}
	}
}
