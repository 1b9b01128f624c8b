package game

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/questforge/quest-server-go/internal/character"
	"github.com/questforge/quest-server-go/internal/dice"
	"github.com/questforge/quest-server-go/internal/game/rules"
	"github.com/questforge/quest-server-go/internal/narrator"
)

// Adjudicator is the narrator bridge surface the engine depends on.
type Adjudicator interface {
	Adjudicate(ctx context.Context, bundle *narrator.Bundle) (*narrator.Response, error)
}

// AuditLog records session events durably. Append must succeed before the
// matching event is broadcast; a failed append aborts the mutation.
type AuditLog interface {
	Append(ctx context.Context, sessionID string, seq uint64, kind string, payload any) error
}

// SceneProvider supplies scene/region tags for the party's current position
// (the map/region service collaborator).
type SceneProvider interface {
	SceneTags(ctx context.Context, sessionID string) []string
}

// NPCProvider supplies personality/disposition context for social and enemy
// adjudication (the NPC service collaborator).
type NPCProvider interface {
	NPCContext(ctx context.Context, sessionID, npcID string) string
}

const (
	defaultHistoryLimit = 10
	defaultNPCArmor     = 13
)

// EngineConfig wires one session engine.
type EngineConfig struct {
	SessionID    string
	Participants []string // initial round-robin order; participant IDs double as character IDs
	Adjudicator  Adjudicator
	Audit        AuditLog
	Characters   *character.Store
	Scene        SceneProvider // optional
	NPCs         NPCProvider   // optional
	Roller       *dice.Roller  // optional; time-seeded when nil
	HistoryLimit int
	Logger       *zap.Logger
}

// Engine orchestrates one session: the phase/turn state machine, the action
// pipeline, the roll handshake and the combat budget. All state writes for
// the session are serialized behind mu; the narrator round trip is the only
// long-latency step and runs without the lock, re-acquiring it to apply
// validated results.
type Engine struct {
	sessionID   string
	logger      *zap.Logger
	adjudicator Adjudicator
	audit       AuditLog
	chars       *character.Store
	scene       SceneProvider
	npcs        NPCProvider
	roller      *dice.Roller
	bus         *rules.EventBus
	seq         *atomic.Uint64

	mu             sync.Mutex
	phase          rules.Phase
	previousPhase  rules.Phase
	phaseEnteredAt time.Time
	turns          *rules.TurnManager
	budget         *rules.BudgetTracker // non-nil iff phase == combat
	encounterID    string
	restCtx        *RestContext
	participants   map[string]bool
	actions        map[string]*PlayerAction
	pendingByActor map[string]string // actor -> non-terminal action ID
	history        []string
	historyLimit   int
	ended          bool
}

// NewEngine creates a session engine in the exploration phase with
// round-robin turn order over the configured participants.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.SessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}
	if len(cfg.Participants) == 0 {
		return nil, fmt.Errorf("at least one participant is required")
	}
	if cfg.Adjudicator == nil || cfg.Audit == nil || cfg.Characters == nil {
		return nil, fmt.Errorf("adjudicator, audit log and character store are required")
	}
	roller := cfg.Roller
	if roller == nil {
		roller = dice.NewRoller(time.Now().UnixNano())
	}
	limit := cfg.HistoryLimit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	participants := make(map[string]bool, len(cfg.Participants))
	for _, id := range cfg.Participants {
		participants[id] = true
	}

	return &Engine{
		sessionID:      cfg.SessionID,
		logger:         cfg.Logger,
		adjudicator:    cfg.Adjudicator,
		audit:          cfg.Audit,
		chars:          cfg.Characters,
		scene:          cfg.Scene,
		npcs:           cfg.NPCs,
		roller:         roller,
		bus:            rules.NewEventBus(),
		seq:            atomic.NewUint64(0),
		phase:          rules.PhaseExploration,
		previousPhase:  rules.PhaseExploration,
		phaseEnteredAt: time.Now(),
		turns:          rules.NewTurnManager(cfg.Participants),
		participants:   participants,
		actions:        make(map[string]*PlayerAction),
		pendingByActor: make(map[string]string),
		historyLimit:   limit,
	}, nil
}

// Events exposes the session event bus for broadcast subscribers. Listener
// callbacks run while the engine holds its lock and must not call back into
// engine methods; they should only hand the event off.
func (e *Engine) Events() *rules.EventBus {
	return e.bus
}

// Characters exposes the session's live character ledger.
func (e *Engine) Characters() *character.Store {
	return e.chars
}

// SessionID returns the session this engine serves.
func (e *Engine) SessionID() string {
	return e.sessionID
}

// Seq returns the last event sequence number issued.
func (e *Engine) Seq() uint64 {
	return e.seq.Load()
}

// Snapshot returns the current game state copy.
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() State {
	st := State{
		SessionID:        e.sessionID,
		Phase:            e.phase,
		PreviousPhase:    e.previousPhase,
		TurnOrder:        e.turns.Order(),
		ActivePlayerID:   e.turns.ActiveParticipant(),
		RoundNumber:      e.turns.RoundNumber(),
		WorldTurnPending: e.turns.WorldTurnPending(),
		EncounterID:      e.encounterID,
		PhaseEnteredAt:   e.phaseEnteredAt,
	}
	if e.restCtx != nil {
		rc := *e.restCtx
		st.RestContext = &rc
	}
	if e.phase == rules.PhaseCombat && e.budget != nil && st.ActivePlayerID != "" {
		if b, ok := e.budget.Get(st.ActivePlayerID); ok {
			st.CombatBudget = &b
		}
	}
	return st
}

// emitLocked persists the event to the audit log and then publishes it.
// Persist-before-broadcast: clients never observe a state change that was
// not durably recorded.
func (e *Engine) emitLocked(ctx context.Context, evt rules.Event) error {
	evt.Seq = e.seq.Inc()
	evt.SessionID = e.sessionID
	evt.Timestamp = time.Now()
	if err := e.audit.Append(ctx, e.sessionID, evt.Seq, string(evt.Type), evt); err != nil {
		return fmt.Errorf("audit append %s: %w", evt.Type, err)
	}
	e.bus.Publish(evt)
	return nil
}

// TransitionOpts carries the extra inputs some phase entries need.
type TransitionOpts struct {
	// Initiative seeds combat order on entry; when empty the engine rolls
	// d20 + dex modifier server-side for every participant.
	Initiative  []rules.InitiativeEntry
	EncounterID string
	RestKind    rules.RestKind
}

// Transition moves the session to another phase. Illegal edges fail with
// rules.ErrIllegalTransition and mutate nothing.
func (e *Engine) Transition(ctx context.Context, to rules.Phase, reason string, opts TransitionOpts) (State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.transitionLocked(ctx, to, reason, opts); err != nil {
		return State{}, err
	}
	return e.snapshotLocked(), nil
}

func (e *Engine) transitionLocked(ctx context.Context, to rules.Phase, reason string, opts TransitionOpts) error {
	from := e.phase
	if err := rules.ValidateTransition(from, to); err != nil {
		return err
	}

	// Stage the new turn structure before committing anything.
	var (
		newTurns   *rules.TurnManager
		newBudget  *rules.BudgetTracker
		encounter  string
		newRestCtx *RestContext
	)
	switch to {
	case rules.PhaseCombat:
		entries := opts.Initiative
		if len(entries) == 0 {
			entries = e.rollInitiativeLocked()
		}
		order := rules.SortInitiative(entries)
		if err := validateOrderCovers(order, e.participants); err != nil {
			return err
		}
		newTurns = rules.NewTurnManager(order)
		newBudget = rules.NewBudgetTracker(e.participantSpeedsLocked())
		encounter = opts.EncounterID
		if encounter == "" {
			encounter = newEncounterID()
		}
	case rules.PhaseRest:
		newTurns = rules.NewTurnManager(e.turns.Order())
		newRestCtx = &RestContext{Kind: opts.RestKind, StartedAt: time.Now()}
	default:
		// Round-robin phases keep the existing participant order.
		newTurns = rules.NewTurnManager(e.turns.Order())
	}

	evt := rules.Event{
		Type: rules.EventPhaseChanged,
		Payload: map[string]any{
			"from":         from.String(),
			"to":           to.String(),
			"reason":       reason,
			"encounter_id": encounter,
		},
	}
	if err := e.emitLocked(ctx, evt); err != nil {
		return err
	}

	e.previousPhase = from
	e.phase = to
	e.phaseEnteredAt = time.Now()
	e.turns = newTurns
	e.budget = newBudget
	e.encounterID = encounter
	e.restCtx = newRestCtx

	e.logger.Info("phase transition",
		zap.String("session_id", e.sessionID),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.String("reason", reason),
	)
	return nil
}

// rollInitiativeLocked rolls d20 + dexterity modifier for every participant.
func (e *Engine) rollInitiativeLocked() []rules.InitiativeEntry {
	entries := make([]rules.InitiativeEntry, 0, len(e.participants))
	for _, id := range e.turns.Order() {
		mod := 0
		if state, err := e.chars.Get(id); err == nil {
			mod = abilityModifier(state.Abilities["dex"])
		}
		entries = append(entries, rules.InitiativeEntry{
			ParticipantID: id,
			Roll:          e.roller.D20() + mod,
			Modifier:      mod,
		})
	}
	return entries
}

func (e *Engine) participantSpeedsLocked() map[string]float64 {
	speeds := make(map[string]float64, len(e.participants))
	for id := range e.participants {
		speed := 30.0
		if state, err := e.chars.Get(id); err == nil && state.Speed > 0 {
			speed = state.Speed
		}
		speeds[id] = speed
	}
	return speeds
}

// SetTurnOrder replaces the turn order (privileged operation). The proposed
// order must be a permutation of the active participants.
func (e *Engine) SetTurnOrder(ctx context.Context, order []string) (State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.turns.SetOrder(order, e.participants); err != nil {
		return State{}, err
	}
	if err := e.emitLocked(ctx, rules.Event{
		Type:    rules.EventTurnOrderChanged,
		Payload: map[string]any{"turn_order": order},
	}); err != nil {
		return State{}, err
	}
	return e.snapshotLocked(), nil
}

// EndTurn advances past the given actor's turn. Only the active participant
// may end their own turn; privileged callers may end anyone's.
func (e *Engine) EndTurn(ctx context.Context, actorID string, privileged bool) (State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !privileged && e.turns.ActiveParticipant() != actorID {
		return State{}, fmt.Errorf("%w: %s is not active", ErrNotYourTurn, actorID)
	}
	if err := e.advanceTurnLocked(ctx); err != nil {
		return State{}, err
	}
	e.maybeRequestDeathSaveLocked(ctx)
	return e.snapshotLocked(), nil
}

// advanceTurnLocked moves to the next participant, resetting the incoming
// combatant's budget and flagging the world turn at round end.
func (e *Engine) advanceTurnLocked(ctx context.Context) error {
	e.turns.Advance()
	active := e.turns.ActiveParticipant()

	if e.phase == rules.PhaseCombat && e.budget != nil && active != "" {
		e.budget.ResetTurn(active)
		budget, _ := e.budget.Get(active)
		if err := e.emitLocked(ctx, rules.Event{
			Type:    rules.EventCombatBudgetChanged,
			ActorID: active,
			Payload: budget,
		}); err != nil {
			return err
		}
	}

	evtType := rules.EventTurnAdvanced
	if e.turns.WorldTurnPending() {
		evtType = rules.EventWorldTurnStarted
	}
	return e.emitLocked(ctx, rules.Event{
		Type: evtType,
		Payload: map[string]any{
			"active_player_id":   active,
			"round_number":       e.turns.RoundNumber(),
			"world_turn_pending": e.turns.WorldTurnPending(),
		},
	})
}

// RemoveParticipant drops a participant mid-session, renormalizing the turn
// order. Their live state stays in the ledger for the end-of-session sync.
func (e *Engine) RemoveParticipant(ctx context.Context, participantID string) (State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.participants[participantID] {
		return State{}, fmt.Errorf("%w: %s", ErrUnknownParticipant, participantID)
	}
	delete(e.participants, participantID)
	e.turns.Remove(participantID)
	if e.budget != nil {
		e.budget.Remove(participantID)
	}
	if actionID, ok := e.pendingByActor[participantID]; ok {
		if a := e.actions[actionID]; a != nil && !a.Status.Terminal() {
			a.Status = StatusCancelled
		}
		delete(e.pendingByActor, participantID)
	}
	if err := e.emitLocked(ctx, rules.Event{
		Type:    rules.EventTurnOrderChanged,
		Payload: map[string]any{"turn_order": e.turns.Order(), "removed": participantID},
	}); err != nil {
		return State{}, err
	}
	return e.snapshotLocked(), nil
}

// PatchCharacter applies a manual (GM-driven) change set to one character's
// live state and broadcasts the result.
func (e *Engine) PatchCharacter(ctx context.Context, characterID string, changes []character.Change, reason string) (*character.LiveState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, err := e.chars.Patch(characterID, changes, reason)
	if err != nil {
		return nil, err
	}
	if err := e.emitLocked(ctx, rules.Event{
		Type:     rules.EventLiveStateChanged,
		TargetID: characterID,
		Payload:  state,
	}); err != nil {
		return nil, err
	}
	return state, nil
}

// Start announces the activated session. Called once by the manager after
// construction, before any client is attached.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.emitLocked(ctx, rules.Event{
		Type: rules.EventSessionActivated,
		Payload: map[string]any{
			"phase":      e.phase.String(),
			"turn_order": e.turns.Order(),
		},
	})
}

// End marks the session over. The manager owns syncing live state back to
// the character records.
func (e *Engine) End(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ended {
		return fmt.Errorf("session %s already ended", e.sessionID)
	}
	if err := e.emitLocked(ctx, rules.Event{Type: rules.EventSessionEnded}); err != nil {
		return err
	}
	e.ended = true
	return nil
}

func validateOrderCovers(order []string, active map[string]bool) error {
	if len(order) != len(active) {
		return fmt.Errorf("%w: initiative covers %d of %d participants",
			rules.ErrInvalidOrder, len(order), len(active))
	}
	for _, id := range order {
		if !active[id] {
			return fmt.Errorf("%w: %s is not an active participant", rules.ErrInvalidOrder, id)
		}
	}
	return nil
}

func abilityModifier(score int) int {
	if score == 0 {
		return 0
	}
	// Integer division truncates toward zero; floor instead so 8 -> -1.
	diff := score - 10
	if diff < 0 {
		return (diff - 1) / 2
	}
	return diff / 2
}
