package narrator

import (
	"fmt"
	"strings"
	"text/template"
)

// Kind selects the instruction template for an adjudication. The rules the
// narrator must follow differ per phase, and the enemy/world turns have no
// declaring actor at all.
type Kind string

const (
	KindExploration Kind = "exploration"
	KindCombat      Kind = "combat"
	KindSocial      Kind = "social"
	KindEnemyTurn   Kind = "enemy_turn"
	KindWorldTurn   Kind = "world_turn"
)

// systemPrompt pins the reply to the closed Response schema. Validation
// rejects anything outside it, so the instruction and the parser agree.
const systemPrompt = `You are the narrator of a live tabletop role-playing session.
Reply with a single JSON object and nothing else. Allowed fields:
"narration" (string, required), "private_message" ({"actor_id","text"}),
"mechanical_outcome" (list of {"kind","target_id","target_kind","changes"}),
"required_rolls" (list of {"actor_id","roll_type","ability","skill","dc","reason"}),
"phase_transition" ({"new_phase","reason","encounter_data"}),
"state_changes" (list of {"kind","key","value"}).
Outcome kinds: DAMAGE, HEALING, CONDITION, RESOURCE, OTHER.
Roll types: ATTACK_ROLL, ABILITY_CHECK, SAVING_THROW, DEATH_SAVE, INITIATIVE.
Phases: EXPLORATION, COMBAT, SOCIAL, REST. Do not invent other fields.`

var promptTemplates = map[Kind]string{
	KindExploration: `The party is exploring.
Scene: {{.SceneTags}}
{{.History}}{{.ActorBlock}}Declared action: {{.ActionType}} {{.ActionPayload}}
{{.RollBlock}}Adjudicate the action. Request an ABILITY_CHECK when the outcome is uncertain;
set the dc from the fiction. Narrate the result in 2-4 sentences.`,

	KindCombat: `Combat is underway, round {{.Round}}.
Scene: {{.SceneTags}}
{{.History}}{{.ActorBlock}}Declared action: {{.ActionType}} {{.ActionPayload}}
Target armor class: {{.TargetAC}}
{{.RollBlock}}Adjudicate under combat rules. An attack requires an ATTACK_ROLL with dc equal
to the target's armor class. Apply damage through mechanical_outcome only
after a roll meets its dc. Narrate tersely.`,

	KindSocial: `A social scene is in progress.
Scene: {{.SceneTags}}
NPC context: {{.NPCContext}}
{{.History}}{{.ActorBlock}}Declared action: {{.ActionType}} {{.ActionPayload}}
{{.RollBlock}}Adjudicate the exchange. Always emit a state_changes entry of kind
"npc_disposition" with the NPC id as key and the signed delta as value.
Request a persuasion or deception ABILITY_CHECK when stakes demand it.`,

	KindEnemyTurn: `It is an enemy combatant's turn, round {{.Round}}.
Scene: {{.SceneTags}}
{{.History}}Enemy: {{.NPCContext}}
Decide the enemy's action and adjudicate it. Attacks against player
characters require no player roll: resolve against the stated armor class
and emit damage via mechanical_outcome. Request SAVING_THROW rolls from
players targeted by effects that allow one.`,

	KindWorldTurn: `Every participant has acted this round ({{.Round}}).
Scene: {{.SceneTags}}
{{.History}}Narrate the world's turn: environment shifts, off-screen consequences,
approaching threats. Emit phase_transition only if the fiction demands a
phase change. Keep it to one paragraph.`,
}

// Bundle is the adjudication context assembled by the engine: who acts, what
// they declared, what the scene looks like, and - on re-invocation - the
// just-submitted roll.
type Bundle struct {
	Kind      Kind
	SessionID string
	Round     int

	ActorID      string
	ActorName    string
	ActorSummary string

	ActionType    string
	ActionPayload string

	SceneTags  []string
	History    []string
	NPCContext string
	TargetAC   int

	RollResult *RollSubmission
}

type promptData struct {
	SceneTags     string
	History       string
	ActorBlock    string
	ActionType    string
	ActionPayload string
	RollBlock     string
	NPCContext    string
	TargetAC      int
	Round         int
}

var compiledTemplates = func() map[Kind]*template.Template {
	out := make(map[Kind]*template.Template, len(promptTemplates))
	for kind, text := range promptTemplates {
		out[kind] = template.Must(template.New(string(kind)).Parse(text))
	}
	return out
}()

// RenderPrompt produces the user prompt for the bundle's template kind.
func RenderPrompt(bundle *Bundle) (string, error) {
	tmpl, ok := compiledTemplates[bundle.Kind]
	if !ok {
		return "", fmt.Errorf("no template for adjudication kind %q", bundle.Kind)
	}

	data := promptData{
		SceneTags:     strings.Join(bundle.SceneTags, ", "),
		ActionType:    bundle.ActionType,
		ActionPayload: bundle.ActionPayload,
		NPCContext:    bundle.NPCContext,
		TargetAC:      bundle.TargetAC,
		Round:         bundle.Round,
	}
	if len(bundle.History) > 0 {
		data.History = "Recent narration:\n" + strings.Join(bundle.History, "\n") + "\n"
	}
	if bundle.ActorSummary != "" {
		data.ActorBlock = fmt.Sprintf("Actor %s: %s\n", bundle.ActorName, bundle.ActorSummary)
	}
	if bundle.RollResult != nil {
		data.RollBlock = fmt.Sprintf(
			"The actor rolled %s: natural %d, modifier %+d, total %d. Resolve now; do not request further rolls for this action.\n",
			bundle.RollResult.RollType, bundle.RollResult.Natural,
			bundle.RollResult.Modifier, bundle.RollResult.Total,
		)
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render %s template: %w", bundle.Kind, err)
	}
	return sb.String(), nil
}
