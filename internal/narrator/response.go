package narrator

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/questforge/quest-server-go/internal/character"
	"github.com/questforge/quest-server-go/internal/game/rules"
)

// ErrSchemaViolation is returned when the narrator's reply does not
// deserialize into the closed Response contract. Any field outside the
// schema, or a missing narration, invalidates the whole reply.
var ErrSchemaViolation = errors.New("narrator reply violates response schema")

// RollType enumerates the checks a narrator may request.
type RollType string

const (
	RollAttack       RollType = "ATTACK_ROLL"
	RollAbilityCheck RollType = "ABILITY_CHECK"
	RollSavingThrow  RollType = "SAVING_THROW"
	RollDeathSave    RollType = "DEATH_SAVE"
	RollInitiative   RollType = "INITIATIVE"
)

var validRollTypes = map[RollType]bool{
	RollAttack:       true,
	RollAbilityCheck: true,
	RollSavingThrow:  true,
	RollDeathSave:    true,
	RollInitiative:   true,
}

// RollRequest names the actor and the single check required before
// adjudication can conclude.
type RollRequest struct {
	ID       string   `json:"id,omitempty"`
	ActorID  string   `json:"actor_id"`
	RollType RollType `json:"roll_type"`
	Ability  string   `json:"ability,omitempty"`
	Skill    string   `json:"skill,omitempty"`
	DC       int      `json:"dc,omitempty"`
	Reason   string   `json:"reason,omitempty"`
}

// OutcomeKind categorizes a mechanical outcome entry.
type OutcomeKind string

const (
	OutcomeDamage    OutcomeKind = "DAMAGE"
	OutcomeHealing   OutcomeKind = "HEALING"
	OutcomeCondition OutcomeKind = "CONDITION"
	OutcomeResource  OutcomeKind = "RESOURCE"
	OutcomeOther     OutcomeKind = "OTHER"
)

var validOutcomeKinds = map[OutcomeKind]bool{
	OutcomeDamage:    true,
	OutcomeHealing:   true,
	OutcomeCondition: true,
	OutcomeResource:  true,
	OutcomeOther:     true,
}

// TargetKind distinguishes player characters from narrator-run targets.
type TargetKind string

const (
	TargetCharacter TargetKind = "CHARACTER"
	TargetNPC       TargetKind = "NPC"
)

// Outcome is one mechanical effect of an adjudication, applied to the live
// character store transactionally with its siblings.
type Outcome struct {
	Kind       OutcomeKind        `json:"kind"`
	TargetID   string             `json:"target_id"`
	TargetKind TargetKind         `json:"target_kind"`
	Changes    []character.Change `json:"changes"`
}

// PrivateMessage is narration delivered to a single actor only.
type PrivateMessage struct {
	ActorID string `json:"actor_id"`
	Text    string `json:"text"`
}

// PhaseTransition asks the phase controller to change phase after outcomes
// are applied. NewPhase uses the wire-format phase names.
type PhaseTransition struct {
	NewPhase      string          `json:"new_phase"`
	Reason        string          `json:"reason"`
	EncounterData json.RawMessage `json:"encounter_data,omitempty"`
}

// StateChange is an auxiliary world update outside the character ledger
// (scene tags, NPC disposition deltas, world flags).
type StateChange struct {
	Kind  string `json:"kind"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Response is the validated adjudication contract. It is never persisted as
// an entity; it is consumed immediately by the bridge.
type Response struct {
	Narration         string           `json:"narration"`
	PrivateMessage    *PrivateMessage  `json:"private_message,omitempty"`
	MechanicalOutcome []Outcome        `json:"mechanical_outcome,omitempty"`
	RequiredRolls     []RollRequest    `json:"required_rolls,omitempty"`
	PhaseTransition   *PhaseTransition `json:"phase_transition,omitempty"`
	StateChanges      []StateChange    `json:"state_changes,omitempty"`
}

// ParseResponse decodes and validates a raw narrator reply. Decoding is
// strict: unknown fields fail the whole reply so a drifting model cannot
// smuggle unreviewed effects past validation.
func ParseResponse(raw []byte) (*Response, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var resp Response
	if err := dec.Decode(&resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}
	if err := resp.Validate(); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Validate checks the closed-variant fields of an already-decoded response.
func (r *Response) Validate() error {
	if r.Narration == "" {
		return fmt.Errorf("%w: missing narration", ErrSchemaViolation)
	}
	for i, roll := range r.RequiredRolls {
		if roll.ActorID == "" {
			return fmt.Errorf("%w: required roll %d missing actor", ErrSchemaViolation, i)
		}
		if !validRollTypes[roll.RollType] {
			return fmt.Errorf("%w: unknown roll type %q", ErrSchemaViolation, roll.RollType)
		}
	}
	for i, outcome := range r.MechanicalOutcome {
		if !validOutcomeKinds[outcome.Kind] {
			return fmt.Errorf("%w: unknown outcome kind %q", ErrSchemaViolation, outcome.Kind)
		}
		if outcome.TargetID == "" {
			return fmt.Errorf("%w: outcome %d missing target", ErrSchemaViolation, i)
		}
		if outcome.TargetKind != TargetCharacter && outcome.TargetKind != TargetNPC {
			return fmt.Errorf("%w: unknown target kind %q", ErrSchemaViolation, outcome.TargetKind)
		}
	}
	if r.PhaseTransition != nil {
		if _, err := rules.ParsePhase(r.PhaseTransition.NewPhase); err != nil {
			return fmt.Errorf("%w: %v", ErrSchemaViolation, err)
		}
	}
	if r.PrivateMessage != nil && r.PrivateMessage.ActorID == "" {
		return fmt.Errorf("%w: private message missing actor", ErrSchemaViolation)
	}
	return nil
}

// RollSubmission carries a player's answer to a RollRequest.
type RollSubmission struct {
	RollType RollType `json:"roll_type"`
	Ability  string   `json:"ability,omitempty"`
	Skill    string   `json:"skill,omitempty"`
	Natural  int      `json:"natural"`
	Modifier int      `json:"modifier"`
	Total    int      `json:"total"`
}
