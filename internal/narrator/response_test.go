package narrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResponseAcceptsFullReply(t *testing.T) {
	raw := `{
		"narration": "The blade bites deep.",
		"private_message": {"actor_id": "p1", "text": "You notice a second shadow."},
		"mechanical_outcome": [
			{"kind": "DAMAGE", "target_id": "npc-goblin", "target_kind": "NPC",
			 "changes": [{"kind": "DAMAGE", "amount": 7}]}
		],
		"state_changes": [{"kind": "npc_disposition", "key": "npc-goblin", "value": "-2"}]
	}`

	resp, err := ParseResponse([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "The blade bites deep.", resp.Narration)
	require.Len(t, resp.MechanicalOutcome, 1)
	assert.Equal(t, OutcomeDamage, resp.MechanicalOutcome[0].Kind)
	assert.Equal(t, TargetNPC, resp.MechanicalOutcome[0].TargetKind)
}

func TestParseResponseRejectsUnknownField(t *testing.T) {
	raw := `{"narration": "ok", "mood_lighting": "purple"}`
	_, err := ParseResponse([]byte(raw))
	assert.ErrorIs(t, err, ErrSchemaViolation)
}

func TestParseResponseRequiresNarration(t *testing.T) {
	_, err := ParseResponse([]byte(`{"state_changes": []}`))
	assert.ErrorIs(t, err, ErrSchemaViolation)
}

func TestParseResponseRejectsBadRollType(t *testing.T) {
	raw := `{"narration": "ok", "required_rolls": [{"actor_id": "p1", "roll_type": "VIBE_CHECK"}]}`
	_, err := ParseResponse([]byte(raw))
	assert.ErrorIs(t, err, ErrSchemaViolation)
}

func TestParseResponseRejectsBadPhase(t *testing.T) {
	raw := `{"narration": "ok", "phase_transition": {"new_phase": "DUNGEON", "reason": "x"}}`
	_, err := ParseResponse([]byte(raw))
	assert.ErrorIs(t, err, ErrSchemaViolation)

	raw = `{"narration": "ok", "phase_transition": {"new_phase": "COMBAT", "reason": "ambush"}}`
	resp, err := ParseResponse([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "COMBAT", resp.PhaseTransition.NewPhase)
}

func TestParseResponseRejectsBadOutcome(t *testing.T) {
	raw := `{"narration": "ok", "mechanical_outcome": [{"kind": "DAMAGE", "target_kind": "CHARACTER"}]}`
	_, err := ParseResponse([]byte(raw))
	assert.ErrorIs(t, err, ErrSchemaViolation)

	raw = `{"narration": "ok", "mechanical_outcome": [{"kind": "DAMAGE", "target_id": "x", "target_kind": "FURNITURE"}]}`
	_, err = ParseResponse([]byte(raw))
	assert.ErrorIs(t, err, ErrSchemaViolation)

	raw = `{"narration": "ok", "mechanical_outcome": [{"kind": "SPARKLES", "target_id": "x", "target_kind": "NPC"}]}`
	_, err = ParseResponse([]byte(raw))
	assert.ErrorIs(t, err, ErrSchemaViolation)
}

func TestParseResponseRejectsNonJSON(t *testing.T) {
	_, err := ParseResponse([]byte("The goblin falls over. Roll initiative!"))
	assert.ErrorIs(t, err, ErrSchemaViolation)
}
