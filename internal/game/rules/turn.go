package rules

import (
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidOrder is returned when a proposed turn order is not a
// permutation of the currently active participants.
var ErrInvalidOrder = errors.New("invalid turn order")

// InitiativeEntry is one participant's initiative roll for ordering combat.
type InitiativeEntry struct {
	ParticipantID string
	Roll          int
	Modifier      int
}

// SortInitiative orders entries by descending roll, ties broken by higher
// modifier, then by participant ID for a stable result.
func SortInitiative(entries []InitiativeEntry) []string {
	sorted := make([]InitiativeEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Roll != sorted[j].Roll {
			return sorted[i].Roll > sorted[j].Roll
		}
		if sorted[i].Modifier != sorted[j].Modifier {
			return sorted[i].Modifier > sorted[j].Modifier
		}
		return sorted[i].ParticipantID < sorted[j].ParticipantID
	})
	order := make([]string, len(sorted))
	for i, e := range sorted {
		order[i] = e.ParticipantID
	}
	return order
}

// TurnManager tracks turn order, the active participant, the round counter
// and the pending world turn. Order is round-robin over active participants
// in exploration/social and initiative order in combat; the manager only
// holds the sequence, the ordering policy is applied by whoever calls
// SetOrder.
type TurnManager struct {
	order            []string
	activeIndex      int
	roundNumber      int
	worldTurnPending bool
}

// NewTurnManager creates a manager over the given participants in the
// provided order, starting at round 1 with the first participant active.
func NewTurnManager(order []string) *TurnManager {
	tm := &TurnManager{activeIndex: 0, roundNumber: 1}
	tm.order = make([]string, len(order))
	copy(tm.order, order)
	return tm
}

// Order returns a copy of the current turn order.
func (tm *TurnManager) Order() []string {
	out := make([]string, len(tm.order))
	copy(out, tm.order)
	return out
}

// ActiveParticipant returns the participant whose turn it is, or "" when the
// world turn is pending or no participants remain.
func (tm *TurnManager) ActiveParticipant() string {
	if tm.worldTurnPending || len(tm.order) == 0 {
		return ""
	}
	return tm.order[tm.activeIndex]
}

// RoundNumber returns the current round, starting at 1. While the world turn
// is pending the counter already names the round about to start.
func (tm *TurnManager) RoundNumber() int {
	return tm.roundNumber
}

// WorldTurnPending reports whether every participant has acted this round
// and the narrator's world turn is owed.
func (tm *TurnManager) WorldTurnPending() bool {
	return tm.worldTurnPending
}

// Advance moves to the next participant. Advancing past the last entrant
// sets worldTurnPending and increments the round number exactly once; the
// next Advance is a no-op until CompleteWorldTurn runs.
func (tm *TurnManager) Advance() {
	if tm.worldTurnPending || len(tm.order) == 0 {
		return
	}
	tm.activeIndex++
	if tm.activeIndex >= len(tm.order) {
		tm.activeIndex = 0
		tm.roundNumber++
		tm.worldTurnPending = true
	}
}

// CompleteWorldTurn clears the pending world turn; the first participant of
// the new round becomes active.
func (tm *TurnManager) CompleteWorldTurn() {
	tm.worldTurnPending = false
	tm.activeIndex = 0
}

// SetOrder replaces the turn order. The proposed order must be a permutation
// of the given active participant set or ErrInvalidOrder is returned. The
// active pointer resets to the head of the new order.
func (tm *TurnManager) SetOrder(order []string, active map[string]bool) error {
	if len(order) != len(active) {
		return fmt.Errorf("%w: %d entries for %d active participants",
			ErrInvalidOrder, len(order), len(active))
	}
	seen := make(map[string]bool, len(order))
	for _, id := range order {
		if !active[id] {
			return fmt.Errorf("%w: %s is not an active participant", ErrInvalidOrder, id)
		}
		if seen[id] {
			return fmt.Errorf("%w: duplicate participant %s", ErrInvalidOrder, id)
		}
		seen[id] = true
	}
	tm.order = make([]string, len(order))
	copy(tm.order, order)
	tm.activeIndex = 0
	return nil
}

// Remove drops a participant from the order without leaving a dangling ID.
// If the removed participant was active, the turn passes to the next entrant
// (wrapping into a world turn if they were last).
func (tm *TurnManager) Remove(participantID string) {
	idx := -1
	for i, id := range tm.order {
		if id == participantID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return
	}
	tm.order = append(tm.order[:idx], tm.order[idx+1:]...)
	switch {
	case len(tm.order) == 0:
		tm.activeIndex = 0
	case idx < tm.activeIndex:
		tm.activeIndex--
	case tm.activeIndex >= len(tm.order):
		// Removed the active, last entrant: the round is over.
		tm.activeIndex = 0
		tm.roundNumber++
		tm.worldTurnPending = true
	}
}
