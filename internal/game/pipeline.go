package game

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/questforge/quest-server-go/internal/character"
	"github.com/questforge/quest-server-go/internal/game/rules"
	"github.com/questforge/quest-server-go/internal/narrator"
)

// declPayload is the structured part of an action payload the engine itself
// consults. The rest of the payload travels to the adjudicator untouched.
type declPayload struct {
	TargetID string  `json:"target_id"`
	NPCID    string  `json:"npc_id"`
	Distance float64 `json:"distance"`
}

func newActionID() string {
	return uuid.NewString()
}

func newEncounterID() string {
	return "enc-" + uuid.NewString()
}

// Declare runs the synchronous intake checks and, when they pass, hands the
// action to the adjudication goroutine. Every rejection is returned to the
// caller before any state changes; an accepted declaration is visible to the
// whole table immediately as ACTION_DECLARED.
func (e *Engine) Declare(ctx context.Context, actorID string, actionType rules.ActionType, payload json.RawMessage) (*PlayerAction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ended {
		return nil, fmt.Errorf("session %s has ended", e.sessionID)
	}
	if !e.participants[actorID] {
		return nil, fmt.Errorf("%w: %s", ErrUnknownParticipant, actorID)
	}
	if err := rules.ValidateActionPhase(actionType, e.phase); err != nil {
		return nil, err
	}
	if actionType != rules.ActionFreeAction {
		if state, err := e.chars.Get(actorID); err == nil && state.Consciousness != character.Conscious {
			return nil, fmt.Errorf("%w: %s is %s", ErrActorIncapacitated, actorID, state.Consciousness)
		}
		if e.phase.TurnGated() && e.turns.ActiveParticipant() != actorID {
			return nil, fmt.Errorf("%w: active participant is %q", ErrNotYourTurn, e.turns.ActiveParticipant())
		}
	}
	if pendingID, ok := e.pendingByActor[actorID]; ok {
		return nil, fmt.Errorf("%w: action %s", ErrActionAlreadyPending, pendingID)
	}

	var decl declPayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &decl); err != nil {
			return nil, fmt.Errorf("malformed action payload: %w", err)
		}
	}

	action := &PlayerAction{
		ID:         newActionID(),
		ActorID:    actorID,
		ActionType: actionType,
		Payload:    payload,
		Status:     StatusDeclared,
		DeclaredAt: time.Now(),
	}

	// Combat pre-consumes the budget so an over-budget declaration is
	// rejected before the narrator is ever involved.
	if e.phase == rules.PhaseCombat && e.budget != nil {
		if slot, ok := rules.BudgetSlotFor(actionType); ok {
			amount := 0.0
			if slot == rules.SlotMovement {
				if decl.Distance <= 0 {
					return nil, fmt.Errorf("move requires a positive distance")
				}
				amount = decl.Distance
			}
			budget, err := e.budget.Consume(actorID, slot, amount)
			if err != nil {
				return nil, err
			}
			action.budgetSlot = slot
			action.budgetConsumed = true
			action.budgetAmount = amount
			if err := e.emitLocked(ctx, rules.Event{
				Type:    rules.EventCombatBudgetChanged,
				ActorID: actorID,
				Payload: budget,
			}); err != nil {
				e.budget.Refund(actorID, slot, amount)
				return nil, err
			}
		}
	}

	e.actions[action.ID] = action
	e.pendingByActor[actorID] = action.ID
	if err := e.emitLocked(ctx, rules.Event{
		Type:     rules.EventActionDeclared,
		ActorID:  actorID,
		ActionID: action.ID,
		Payload:  action,
	}); err != nil {
		e.dropActionLocked(action, StatusFailed, err.Error())
		return nil, err
	}

	// PASS resolves without adjudication and yields the turn.
	if actionType == rules.ActionPass {
		e.resolveActionLocked(ctx, action, nil)
		out := *action
		return &out, nil
	}

	action.Status = StatusProcessing
	action.bundle = e.bundleForLocked(ctx, action, decl)
	go e.runAdjudication(action.ID)

	out := *action
	return &out, nil
}

// bundleForLocked assembles the adjudication context for a declared action.
func (e *Engine) bundleForLocked(ctx context.Context, a *PlayerAction, decl declPayload) *narrator.Bundle {
	kind := narrator.KindExploration
	switch e.phase {
	case rules.PhaseCombat:
		kind = narrator.KindCombat
	case rules.PhaseSocial:
		kind = narrator.KindSocial
	}

	bundle := &narrator.Bundle{
		Kind:          kind,
		SessionID:     e.sessionID,
		Round:         e.turns.RoundNumber(),
		ActorID:       a.ActorID,
		ActionType:    string(a.ActionType),
		ActionPayload: string(a.Payload),
		History:       append([]string(nil), e.history...),
		TargetAC:      defaultNPCArmor,
	}
	if state, err := e.chars.Get(a.ActorID); err == nil {
		bundle.ActorName = state.Name
		bundle.ActorSummary = summarizeState(state)
	}
	if e.scene != nil {
		bundle.SceneTags = e.scene.SceneTags(ctx, e.sessionID)
	}
	if decl.TargetID != "" {
		if target, err := e.chars.Get(decl.TargetID); err == nil {
			bundle.TargetAC = target.ArmorClass
		} else if e.npcs != nil {
			bundle.NPCContext = e.npcs.NPCContext(ctx, e.sessionID, decl.TargetID)
		}
	}
	if decl.NPCID != "" && e.npcs != nil {
		bundle.NPCContext = e.npcs.NPCContext(ctx, e.sessionID, decl.NPCID)
	}
	return bundle
}

// summarizeState renders the stat line the narrator sees for the actor.
func summarizeState(s *character.LiveState) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "HP %d/%d, AC %d, speed %.0f", s.HPCurrent, s.HPMax, s.ArmorClass, s.Speed)
	if len(s.Conditions) > 0 {
		names := make([]string, 0, len(s.Conditions))
		for name := range s.Conditions {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintf(&sb, ", conditions: %s", strings.Join(names, ", "))
	}
	return sb.String()
}

// runAdjudication performs the narrator round trip for one action. It holds
// no engine lock during the call; results are validated and then applied
// under the lock, where the action's status is re-checked first.
func (e *Engine) runAdjudication(actionID string) {
	ctx := context.Background()

	e.mu.Lock()
	action := e.actions[actionID]
	if action == nil || action.Status != StatusProcessing {
		e.mu.Unlock()
		return
	}
	bundle := action.bundle
	e.mu.Unlock()

	resp, err := e.adjudicator.Adjudicate(ctx, bundle)

	e.mu.Lock()
	defer e.mu.Unlock()

	action = e.actions[actionID]
	if action == nil || action.Status.Terminal() {
		// Cancelled while the narrator was thinking; discard the reply.
		return
	}
	if err != nil {
		e.logger.Warn("adjudication failed",
			zap.String("session_id", e.sessionID),
			zap.String("action_id", actionID),
			zap.Error(err),
		)
		e.failActionLocked(ctx, action, err.Error())
		return
	}
	e.applyResponseLocked(ctx, action, resp)
}

// applyResponseLocked lands a validated narrator response: mechanical
// outcomes first (all-or-nothing), then narration, then either the roll
// handshake or resolution.
func (e *Engine) applyResponseLocked(ctx context.Context, a *PlayerAction, resp *narrator.Response) {
	if len(resp.MechanicalOutcome) > 0 {
		if err := e.applyOutcomesLocked(ctx, a, resp.MechanicalOutcome); err != nil {
			e.failActionLocked(ctx, a, err.Error())
			return
		}
	}
	e.applyNarrationLocked(ctx, resp, a.ActorID, a.ID)

	// A single roll is honored per invocation; once a roll result has been
	// folded in, further requests from the narrator are ignored.
	if len(resp.RequiredRolls) > 0 && a.bundle != nil && a.bundle.RollResult == nil {
		roll := resp.RequiredRolls[0]
		if len(resp.RequiredRolls) > 1 {
			e.logger.Warn("narrator requested multiple rolls, honoring the first",
				zap.String("action_id", a.ID),
				zap.Int("requested", len(resp.RequiredRolls)),
			)
		}
		roll.ID = uuid.NewString()
		a.pendingRoll = &roll
		a.Status = StatusAwaitingRoll
		e.emitBestEffortLocked(ctx, rules.Event{
			Type:     rules.EventRollRequested,
			ActorID:  roll.ActorID,
			ActionID: a.ID,
			Payload:  roll,
		})
		return
	}

	e.resolveActionLocked(ctx, a, resp.PhaseTransition)
}

// applyOutcomesLocked commits the character-targeted outcome changes as one
// transaction and broadcasts the resulting states. Death saves are owned by
// the engine's roll handshake, so narrator-authored death-save changes are
// discarded.
func (e *Engine) applyOutcomesLocked(ctx context.Context, a *PlayerAction, outcomes []narrator.Outcome) error {
	changeSets := make(map[string][]character.Change)
	for _, outcome := range outcomes {
		if outcome.TargetKind != narrator.TargetCharacter {
			continue
		}
		for _, change := range outcome.Changes {
			if change.Kind == character.ChangeDeathSaveRoll {
				e.logger.Warn("discarding narrator-authored death save",
					zap.String("action_id", a.ID),
					zap.String("target_id", outcome.TargetID),
				)
				continue
			}
			changeSets[outcome.TargetID] = append(changeSets[outcome.TargetID], change)
		}
	}
	if len(changeSets) == 0 {
		return nil
	}

	reason := fmt.Sprintf("action %s (%s)", a.ID, a.ActionType)
	updated, err := e.chars.PatchAll(changeSets, reason)
	if err != nil {
		return fmt.Errorf("apply outcomes: %w", err)
	}
	a.outcomesApplied = true

	for characterID, state := range updated {
		e.emitBestEffortLocked(ctx, rules.Event{
			Type:     rules.EventLiveStateChanged,
			TargetID: characterID,
			ActionID: a.ID,
			Payload:  state,
		})
	}
	return nil
}

// applyNarrationLocked lands the narration, private message and auxiliary
// world updates of a response.
func (e *Engine) applyNarrationLocked(ctx context.Context, resp *narrator.Response, actorID, actionID string) {
	e.appendHistoryLocked(resp.Narration)
	e.emitBestEffortLocked(ctx, rules.Event{
		Type:     rules.EventNarration,
		ActorID:  actorID,
		ActionID: actionID,
		Payload:  map[string]any{"text": resp.Narration},
	})
	if resp.PrivateMessage != nil {
		e.emitBestEffortLocked(ctx, rules.Event{
			Type:     rules.EventPrivateMessage,
			ActorID:  resp.PrivateMessage.ActorID,
			ActionID: actionID,
			Payload:  map[string]any{"text": resp.PrivateMessage.Text},
			Private:  true,
		})
	}
	for _, sc := range resp.StateChanges {
		e.emitBestEffortLocked(ctx, rules.Event{
			Type:     rules.EventWorldStateChanged,
			ActionID: actionID,
			Payload:  sc,
		})
	}
}

// resolveActionLocked finishes a live action, applies any requested phase
// transition and advances the turn when the phase demands it.
func (e *Engine) resolveActionLocked(ctx context.Context, a *PlayerAction, pt *narrator.PhaseTransition) {
	a.Status = StatusResolved
	a.pendingRoll = nil
	delete(e.pendingByActor, a.ActorID)
	e.emitBestEffortLocked(ctx, rules.Event{
		Type:     rules.EventActionResolved,
		ActorID:  a.ActorID,
		ActionID: a.ID,
		Payload:  a,
	})

	transitioned := false
	if pt != nil {
		to, err := rules.ParsePhase(pt.NewPhase)
		if err == nil {
			err = e.transitionLocked(ctx, to, pt.Reason, TransitionOpts{})
		}
		if err != nil {
			// The narration already landed; an illegal transition request
			// leaves the phase untouched.
			e.logger.Warn("narrator phase transition rejected",
				zap.String("session_id", e.sessionID),
				zap.String("new_phase", pt.NewPhase),
				zap.Error(err),
			)
		} else {
			transitioned = true
		}
	}

	wasActive := e.turns.ActiveParticipant() == a.ActorID
	if !transitioned && e.phase.TurnGated() && wasActive && a.ActionType != rules.ActionFreeAction {
		if err := e.advanceTurnLocked(ctx); err != nil {
			e.logger.Error("turn advance failed", zap.Error(err))
		}
		e.maybeRequestDeathSaveLocked(ctx)
	}
}

// failActionLocked terminates an action as FAILED and refunds any
// pre-consumed budget when no outcome landed. The actor may redeclare.
func (e *Engine) failActionLocked(ctx context.Context, a *PlayerAction, reason string) {
	e.refundBudgetLocked(a)
	a.Status = StatusFailed
	a.FailReason = reason
	a.pendingRoll = nil
	delete(e.pendingByActor, a.ActorID)
	e.emitBestEffortLocked(ctx, rules.Event{
		Type:     rules.EventActionFailed,
		ActorID:  a.ActorID,
		ActionID: a.ID,
		Payload:  map[string]any{"reason": reason, "retryable": true},
	})
}

func (e *Engine) dropActionLocked(a *PlayerAction, status ActionStatus, reason string) {
	a.Status = status
	a.FailReason = reason
	delete(e.pendingByActor, a.ActorID)
	delete(e.actions, a.ID)
	e.refundBudgetLocked(a)
}

func (e *Engine) refundBudgetLocked(a *PlayerAction) {
	if a.budgetConsumed && !a.outcomesApplied && e.budget != nil {
		e.budget.Refund(a.ActorID, a.budgetSlot, a.budgetAmount)
		a.budgetConsumed = false
	}
}

// CancelAction aborts a live action. Only the declaring actor (or a
// privileged caller) may cancel, and never after mechanical outcomes have
// been applied.
func (e *Engine) CancelAction(ctx context.Context, actionID, actorID string, privileged bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, ok := e.actions[actionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrActionNotFound, actionID)
	}
	if !privileged && a.ActorID != actorID {
		return fmt.Errorf("%w: action belongs to %s", ErrActorMismatch, a.ActorID)
	}
	if a.outcomesApplied || a.Status.Terminal() {
		return fmt.Errorf("%w: status %s", ErrCancelTooLate, a.Status)
	}

	e.refundBudgetLocked(a)
	a.Status = StatusCancelled
	a.pendingRoll = nil
	delete(e.pendingByActor, a.ActorID)
	return e.emitLocked(ctx, rules.Event{
		Type:     rules.EventActionCanceled,
		ActorID:  a.ActorID,
		ActionID: a.ID,
	})
}

// SubmitRoll answers the outstanding roll request of an awaiting action.
// Death saves are applied to the ledger server-side; every other roll is
// folded into the bundle and the narrator is re-invoked to resolve.
func (e *Engine) SubmitRoll(ctx context.Context, actionID, actorID string, sub narrator.RollSubmission) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, ok := e.actions[actionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrActionNotFound, actionID)
	}
	if a.Status != StatusAwaitingRoll || a.pendingRoll == nil {
		return fmt.Errorf("%w: status %s", ErrStaleRequest, a.Status)
	}
	if a.pendingRoll.ActorID != actorID {
		return fmt.Errorf("%w: request is for %s", ErrActorMismatch, a.pendingRoll.ActorID)
	}
	if sub.RollType != a.pendingRoll.RollType {
		return fmt.Errorf("%w: expected %s, got %s", ErrStaleRequest, a.pendingRoll.RollType, sub.RollType)
	}

	e.emitBestEffortLocked(ctx, rules.Event{
		Type:     rules.EventRollResult,
		ActorID:  actorID,
		ActionID: a.ID,
		Payload:  sub,
	})

	if sub.RollType == narrator.RollDeathSave {
		state, err := e.chars.Patch(actorID, []character.Change{{
			Kind:    character.ChangeDeathSaveRoll,
			Natural: sub.Natural,
			Amount:  sub.Total,
		}}, "death save")
		if err != nil {
			return err
		}
		e.emitBestEffortLocked(ctx, rules.Event{
			Type:     rules.EventLiveStateChanged,
			TargetID: actorID,
			ActionID: a.ID,
			Payload:  state,
		})
	}

	a.pendingRoll = nil
	if a.bundle == nil {
		// Engine-initiated request with no adjudication context; the
		// mechanical result above is the whole story.
		e.resolveActionLocked(ctx, a, nil)
		return nil
	}

	a.bundle.RollResult = &sub
	a.Status = StatusProcessing
	go e.runAdjudication(a.ID)
	return nil
}

// maybeRequestDeathSaveLocked opens the death-save handshake when the newly
// active combatant is dying. The save occupies their turn.
func (e *Engine) maybeRequestDeathSaveLocked(ctx context.Context) {
	active := e.turns.ActiveParticipant()
	if active == "" {
		return
	}
	state, err := e.chars.Get(active)
	if err != nil || state.Consciousness != character.Dying {
		return
	}
	if _, pending := e.pendingByActor[active]; pending {
		return
	}

	a := &PlayerAction{
		ID:         newActionID(),
		ActorID:    active,
		ActionType: rules.ActionFreeAction,
		Status:     StatusAwaitingRoll,
		DeclaredAt: time.Now(),
		pendingRoll: &narrator.RollRequest{
			ID:       uuid.NewString(),
			ActorID:  active,
			RollType: narrator.RollDeathSave,
			DC:       10,
			Reason:   "dying",
		},
	}
	e.actions[a.ID] = a
	e.pendingByActor[active] = a.ID
	e.emitBestEffortLocked(ctx, rules.Event{
		Type:     rules.EventRollRequested,
		ActorID:  active,
		ActionID: a.ID,
		Payload:  a.pendingRoll,
	})
}

// RunWorldTurn adjudicates the world's slice of the round. The narrator call
// runs without the lock; on failure the world turn stays pending and can be
// retried.
func (e *Engine) RunWorldTurn(ctx context.Context) (State, error) {
	e.mu.Lock()
	if !e.turns.WorldTurnPending() {
		e.mu.Unlock()
		return State{}, ErrNoWorldTurnPending
	}
	bundle := &narrator.Bundle{
		Kind:      narrator.KindWorldTurn,
		SessionID: e.sessionID,
		Round:     e.turns.RoundNumber(),
		History:   append([]string(nil), e.history...),
	}
	if e.scene != nil {
		bundle.SceneTags = e.scene.SceneTags(ctx, e.sessionID)
	}
	e.mu.Unlock()

	resp, err := e.adjudicator.Adjudicate(ctx, bundle)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		return State{}, fmt.Errorf("world turn adjudication: %w", err)
	}
	if !e.turns.WorldTurnPending() {
		// Completed concurrently; drop the duplicate result.
		return e.snapshotLocked(), nil
	}

	if len(resp.MechanicalOutcome) > 0 {
		worldAction := &PlayerAction{ID: newActionID(), ActionType: rules.ActionFreeAction}
		if err := e.applyOutcomesLocked(ctx, worldAction, resp.MechanicalOutcome); err != nil {
			return State{}, err
		}
	}
	e.applyNarrationLocked(ctx, resp, "", "")

	e.turns.CompleteWorldTurn()
	e.emitBestEffortLocked(ctx, rules.Event{
		Type:    rules.EventWorldTurnCompleted,
		Payload: map[string]any{"round_number": e.turns.RoundNumber()},
	})
	e.emitBestEffortLocked(ctx, rules.Event{
		Type: rules.EventRoundStarted,
		Payload: map[string]any{
			"round_number":     e.turns.RoundNumber(),
			"active_player_id": e.turns.ActiveParticipant(),
		},
	})
	if e.phase == rules.PhaseCombat && e.budget != nil {
		if active := e.turns.ActiveParticipant(); active != "" {
			e.budget.ResetTurn(active)
			budget, _ := e.budget.Get(active)
			e.emitBestEffortLocked(ctx, rules.Event{
				Type:    rules.EventCombatBudgetChanged,
				ActorID: active,
				Payload: budget,
			})
		}
	}

	if resp.PhaseTransition != nil {
		if to, perr := rules.ParsePhase(resp.PhaseTransition.NewPhase); perr == nil {
			if terr := e.transitionLocked(ctx, to, resp.PhaseTransition.Reason, TransitionOpts{}); terr != nil {
				e.logger.Warn("world turn phase transition rejected", zap.Error(terr))
			}
		}
	}
	e.maybeRequestDeathSaveLocked(ctx)
	return e.snapshotLocked(), nil
}

// RunEnemyTurn adjudicates one narrator-run combatant's turn (privileged
// operation, combat only). Saving throws the enemy provokes become
// engine-initiated roll requests against the targeted players.
func (e *Engine) RunEnemyTurn(ctx context.Context, npcID string) (State, error) {
	e.mu.Lock()
	if e.phase != rules.PhaseCombat {
		e.mu.Unlock()
		return State{}, fmt.Errorf("%w: enemy turns only occur in combat", rules.ErrIllegalForPhase)
	}
	bundle := &narrator.Bundle{
		Kind:      narrator.KindEnemyTurn,
		SessionID: e.sessionID,
		Round:     e.turns.RoundNumber(),
		History:   append([]string(nil), e.history...),
	}
	if e.scene != nil {
		bundle.SceneTags = e.scene.SceneTags(ctx, e.sessionID)
	}
	if e.npcs != nil {
		bundle.NPCContext = e.npcs.NPCContext(ctx, e.sessionID, npcID)
	}
	e.mu.Unlock()

	resp, err := e.adjudicator.Adjudicate(ctx, bundle)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		return State{}, fmt.Errorf("enemy turn adjudication: %w", err)
	}

	if len(resp.MechanicalOutcome) > 0 {
		enemyAction := &PlayerAction{ID: newActionID(), ActorID: npcID, ActionType: rules.ActionFreeAction}
		if err := e.applyOutcomesLocked(ctx, enemyAction, resp.MechanicalOutcome); err != nil {
			return State{}, err
		}
	}
	e.applyNarrationLocked(ctx, resp, npcID, "")

	for _, roll := range resp.RequiredRolls {
		if !e.participants[roll.ActorID] {
			continue
		}
		if _, pending := e.pendingByActor[roll.ActorID]; pending {
			e.logger.Warn("skipping enemy roll request, actor has a pending action",
				zap.String("actor_id", roll.ActorID))
			continue
		}
		roll := roll
		roll.ID = uuid.NewString()
		a := &PlayerAction{
			ID:          newActionID(),
			ActorID:     roll.ActorID,
			ActionType:  rules.ActionFreeAction,
			Status:      StatusAwaitingRoll,
			DeclaredAt:  time.Now(),
			pendingRoll: &roll,
		}
		e.actions[a.ID] = a
		e.pendingByActor[roll.ActorID] = a.ID
		e.emitBestEffortLocked(ctx, rules.Event{
			Type:     rules.EventRollRequested,
			ActorID:  roll.ActorID,
			ActionID: a.ID,
			Payload:  roll,
		})
	}
	return e.snapshotLocked(), nil
}

// Action returns a copy of the action record.
func (e *Engine) Action(actionID string) (*PlayerAction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, ok := e.actions[actionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrActionNotFound, actionID)
	}
	out := *a
	return &out, nil
}

func (e *Engine) appendHistoryLocked(text string) {
	e.history = append(e.history, text)
	if len(e.history) > e.historyLimit {
		e.history = e.history[len(e.history)-e.historyLimit:]
	}
}

// emitBestEffortLocked is for events inside a larger apply where the
// triggering mutation has already committed; an audit failure is logged and
// the remaining events still go out.
func (e *Engine) emitBestEffortLocked(ctx context.Context, evt rules.Event) {
	if err := e.emitLocked(ctx, evt); err != nil {
		e.logger.Error("event emit failed",
			zap.String("session_id", e.sessionID),
			zap.String("event_type", string(evt.Type)),
			zap.Error(err),
		)
	}
}
