package rules

import (
	"errors"
	"fmt"
)

// Phase represents the broad modes of play a session cycles through.
type Phase int

const (
	PhaseExploration Phase = iota
	PhaseCombat
	PhaseSocial
	PhaseRest
)

var phaseNames = map[Phase]string{
	PhaseExploration: "EXPLORATION",
	PhaseCombat:      "COMBAT",
	PhaseSocial:      "SOCIAL",
	PhaseRest:        "REST",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("PHASE_%d", int(p))
}

// ParsePhase converts a wire-format phase name to a Phase.
func ParsePhase(name string) (Phase, error) {
	for p, n := range phaseNames {
		if n == name {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown phase %q", name)
}

// MarshalText implements encoding.TextMarshaler so Phase serializes by name.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Phase) UnmarshalText(data []byte) error {
	parsed, err := ParsePhase(string(data))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ErrIllegalTransition is returned when a requested phase change has no
// entry in the allowed-edge table. Callers always see the failure; an
// illegal edge never silently no-ops.
var ErrIllegalTransition = errors.New("illegal phase transition")

type phaseEdge struct {
	from Phase
	to   Phase
}

// allowedTransitions is the closed set of legal phase edges. Triggers are
// the caller's business; the table only answers whether the edge exists.
var allowedTransitions = map[phaseEdge]bool{
	{PhaseExploration, PhaseCombat}: true, // hostile region entered / GM-forced
	{PhaseCombat, PhaseExploration}: true, // no hostiles remain
	{PhaseExploration, PhaseSocial}: true, // NPC dialogue initiated
	{PhaseSocial, PhaseExploration}: true, // dialogue ended
	{PhaseCombat, PhaseSocial}:      true, // parley accepted
	{PhaseExploration, PhaseRest}:   true, // rest initiated by party+GM
	{PhaseSocial, PhaseRest}:        true,
	{PhaseRest, PhaseExploration}:   true, // rest completed or interrupted
}

// CanTransition reports whether the edge from -> to is in the allowed table.
func CanTransition(from, to Phase) bool {
	return allowedTransitions[phaseEdge{from, to}]
}

// ValidateTransition returns ErrIllegalTransition (wrapped with the edge)
// when the requested phase change is not allowed.
func ValidateTransition(from, to Phase) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}

// TurnGated reports whether declarations in this phase are restricted to
// the active participant. Social play has no strict turn lock; rest has no
// turn order at all.
func (p Phase) TurnGated() bool {
	switch p {
	case PhaseExploration, PhaseCombat:
		return true
	default:
		return false
	}
}

// RestKind distinguishes the two rest variants tracked in RestContext.
type RestKind string

const (
	RestShort RestKind = "SHORT"
	RestLong  RestKind = "LONG"
)
