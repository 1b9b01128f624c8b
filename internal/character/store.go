package character

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// PatchRecord is the audit entry produced for every applied patch. The
// reason string is human-readable and travels with the broadcast so players
// can see why their ledger moved.
type PatchRecord struct {
	CharacterID string   `json:"character_id"`
	Changes     []Change `json:"changes"`
	Reason      string   `json:"reason"`
}

// Store is the per-session live character ledger. All mutations are applied
// server-side through Patch; there is no client-authoritative write path.
type Store struct {
	logger *zap.Logger

	mu     sync.RWMutex
	states map[string]*LiveState
}

// NewStore initializes the ledger from the participants' character records.
func NewStore(initial []*LiveState, logger *zap.Logger) *Store {
	states := make(map[string]*LiveState, len(initial))
	for _, s := range initial {
		states[s.CharacterID] = s.Clone()
	}
	return &Store{logger: logger, states: states}
}

// Get returns a copy of the character's live state.
func (st *Store) Get(characterID string) (*LiveState, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	state, ok := st.states[characterID]
	if !ok {
		return nil, fmt.Errorf("no live state for character %s", characterID)
	}
	return state.Clone(), nil
}

// All returns copies of every participant's live state.
func (st *Store) All() []*LiveState {
	st.mu.RLock()
	defer st.mu.RUnlock()

	out := make([]*LiveState, 0, len(st.states))
	for _, state := range st.states {
		out = append(out, state.Clone())
	}
	return out
}

// Patch applies the changes to the character's state transactionally: they
// are staged against a copy and committed only if every change applies. The
// returned state is the committed result.
func (st *Store) Patch(characterID string, changes []Change, reason string) (*LiveState, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	current, ok := st.states[characterID]
	if !ok {
		return nil, fmt.Errorf("no live state for character %s", characterID)
	}

	staged := current.Clone()
	for i, change := range changes {
		if err := staged.Apply(change); err != nil {
			return nil, fmt.Errorf("change %d (%s): %w", i, change.Kind, err)
		}
	}
	st.states[characterID] = staged

	st.logger.Debug("live state patched",
		zap.String("character_id", characterID),
		zap.Int("changes", len(changes)),
		zap.String("reason", reason),
	)
	return staged.Clone(), nil
}

// PatchAll applies change sets to several characters as one transaction:
// every change set is staged first and nothing commits unless all of them
// apply. Used by adjudication, whose mechanical outcomes are all-or-nothing.
func (st *Store) PatchAll(changeSets map[string][]Change, reason string) (map[string]*LiveState, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	staged := make(map[string]*LiveState, len(changeSets))
	for characterID, changes := range changeSets {
		current, ok := st.states[characterID]
		if !ok {
			return nil, fmt.Errorf("no live state for character %s", characterID)
		}
		next := current.Clone()
		for i, change := range changes {
			if err := next.Apply(change); err != nil {
				return nil, fmt.Errorf("%s change %d (%s): %w", characterID, i, change.Kind, err)
			}
		}
		staged[characterID] = next
	}

	out := make(map[string]*LiveState, len(staged))
	for characterID, next := range staged {
		st.states[characterID] = next
		out[characterID] = next.Clone()
	}

	st.logger.Debug("live states patched",
		zap.Int("characters", len(staged)),
		zap.String("reason", reason),
	)
	return out, nil
}

// Remove drops a character from the ledger, e.g. when a participant leaves
// the session. The final state is returned so it can be synced back.
func (st *Store) Remove(characterID string) (*LiveState, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	state, ok := st.states[characterID]
	if !ok {
		return nil, false
	}
	delete(st.states, characterID)
	return state, true
}
