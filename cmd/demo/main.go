// Demo runs a short scripted session against an in-memory stack: no
// database, no redis, no narrator backend. Useful for eyeballing the event
// stream and the turn flow without infrastructure.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/questforge/quest-server-go/internal/character"
	"github.com/questforge/quest-server-go/internal/game"
	"github.com/questforge/quest-server-go/internal/game/rules"
	"github.com/questforge/quest-server-go/internal/narrator"
)

// scriptedNarrator adjudicates deterministically so the demo needs no API
// key. Attacks request a roll; everything else just narrates.
type scriptedNarrator struct{}

func (scriptedNarrator) Adjudicate(_ context.Context, bundle *narrator.Bundle) (*narrator.Response, error) {
	if bundle.Kind == narrator.KindWorldTurn {
		return &narrator.Response{
			Narration: "Wind rattles the shutters of the roadside inn. Somewhere below, a door slams.",
		}, nil
	}
	if bundle.ActionType == string(rules.ActionAttack) && bundle.RollResult == nil {
		return &narrator.Response{
			Narration: fmt.Sprintf("%s squares up and swings.", bundle.ActorName),
			RequiredRolls: []narrator.RollRequest{{
				ActorID:  bundle.ActorID,
				RollType: narrator.RollAttack,
				DC:       bundle.TargetAC,
				Reason:   "melee attack",
			}},
		}, nil
	}
	if bundle.RollResult != nil && bundle.RollResult.Total >= bundle.TargetAC {
		return &narrator.Response{
			Narration: "The blow lands with a crunch.",
			MechanicalOutcome: []narrator.Outcome{{
				Kind:       narrator.OutcomeDamage,
				TargetID:   "bandit-1",
				TargetKind: narrator.TargetNPC,
			}},
		}, nil
	}
	return &narrator.Response{
		Narration: fmt.Sprintf("%s: the attempt plays out quietly.", bundle.ActorName),
	}, nil
}

type stdoutAudit struct{}

func (stdoutAudit) Append(_ context.Context, _ string, seq uint64, kind string, _ any) error {
	log.Printf("audit  seq=%-3d %s", seq, kind)
	return nil
}

func demoRoster() []*character.LiveState {
	mk := func(id, name string, hp, ac int, dex int) *character.LiveState {
		return &character.LiveState{
			CharacterID:    id,
			Name:           name,
			HPCurrent:      hp,
			HPMax:          hp,
			Conditions:     map[string]bool{},
			SpellSlots:     map[int]character.SpellSlots{1: {Max: 3}},
			ClassResources: map[string]int{},
			Consciousness:  character.Conscious,
			Speed:          30,
			ArmorClass:     ac,
			Abilities:      map[string]int{"dex": dex},
		}
	}
	return []*character.LiveState{
		mk("sariel", "Sariel", 18, 15, 16),
		mk("brom", "Brom", 26, 17, 10),
	}
}

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	manager := game.NewManager(game.ManagerConfig{
		Adjudicator: scriptedNarrator{},
		Audit:       stdoutAudit{},
		Logger:      logger,
	})

	engine, err := manager.Activate(ctx, "demo", demoRoster())
	if err != nil {
		log.Fatalf("activate: %v", err)
	}
	engine.Events().Subscribe(func(evt rules.Event) {
		log.Printf("event  seq=%-3d %-22s actor=%s", evt.Seq, evt.Type, evt.ActorID)
	})

	wait := func() { time.Sleep(200 * time.Millisecond) }

	// One exploration beat each.
	if _, err := engine.Declare(ctx, "sariel", rules.ActionSearch, nil); err != nil {
		log.Fatalf("declare: %v", err)
	}
	wait()
	if _, err := engine.Declare(ctx, "brom", rules.ActionInteract,
		json.RawMessage(`{"object":"cellar door"}`)); err != nil {
		log.Fatalf("declare: %v", err)
	}
	wait()
	if _, err := engine.RunWorldTurn(ctx); err != nil {
		log.Fatalf("world turn: %v", err)
	}

	// Into combat with an attack and its roll handshake.
	if _, err := engine.Transition(ctx, rules.PhaseCombat, "bandits burst in", game.TransitionOpts{}); err != nil {
		log.Fatalf("transition: %v", err)
	}
	snapshot := engine.Snapshot()
	attacker := snapshot.ActivePlayerID
	action, err := engine.Declare(ctx, attacker, rules.ActionAttack,
		json.RawMessage(`{"target_id":"bandit-1"}`))
	if err != nil {
		log.Fatalf("declare attack: %v", err)
	}
	wait()
	if err := engine.SubmitRoll(ctx, action.ID, attacker, narrator.RollSubmission{
		RollType: narrator.RollAttack,
		Natural:  16,
		Modifier: 5,
		Total:    21,
	}); err != nil {
		log.Fatalf("submit roll: %v", err)
	}
	wait()

	snapshot = engine.Snapshot()
	log.Printf("final  phase=%s round=%d order=%s",
		snapshot.Phase, snapshot.RoundNumber, strings.Join(snapshot.TurnOrder, ","))

	if err := manager.End(ctx, "demo"); err != nil {
		log.Fatalf("end: %v", err)
	}
}
