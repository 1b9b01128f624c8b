package game

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/questforge/quest-server-go/internal/character"
)

// ErrSessionNotActive is returned for session ids with no running engine.
var ErrSessionNotActive = errors.New("session not active")

// CharacterSink receives the final live states when a session ends so they
// can be written back to the permanent character records.
type CharacterSink interface {
	SyncLiveStates(ctx context.Context, sessionID string, states []*character.LiveState) error
}

// ManagerConfig carries the shared collaborators every session engine uses.
type ManagerConfig struct {
	Adjudicator Adjudicator
	Audit       AuditLog
	Scene       SceneProvider
	NPCs        NPCProvider
	Sink        CharacterSink
	// HistoryLimit caps the narration history fed to the narrator per
	// session; zero uses the engine default.
	HistoryLimit int
	Logger       *zap.Logger
}

// Manager owns the active session engines. One engine per active session;
// activation and teardown are serialized per manager, everything inside a
// session is serialized by its engine.
type Manager struct {
	cfg ManagerConfig

	mu      sync.RWMutex
	engines map[string]*Engine
}

// NewManager creates an empty session manager.
func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{
		cfg:     cfg,
		engines: make(map[string]*Engine),
	}
}

// Activate spins up the engine for a session, seeding the live character
// ledger from the roster. The roster order is the initial turn order.
func (m *Manager) Activate(ctx context.Context, sessionID string, roster []*character.LiveState) (*Engine, error) {
	if len(roster) == 0 {
		return nil, fmt.Errorf("session %s: empty roster", sessionID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.engines[sessionID]; exists {
		return nil, fmt.Errorf("session %s is already active", sessionID)
	}

	logger := m.cfg.Logger.With(zap.String("session_id", sessionID))
	participants := make([]string, len(roster))
	for i, state := range roster {
		participants[i] = state.CharacterID
	}

	engine, err := NewEngine(EngineConfig{
		SessionID:    sessionID,
		Participants: participants,
		Adjudicator:  m.cfg.Adjudicator,
		Audit:        m.cfg.Audit,
		Characters:   character.NewStore(roster, logger),
		Scene:        m.cfg.Scene,
		NPCs:         m.cfg.NPCs,
		HistoryLimit: m.cfg.HistoryLimit,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	if err := engine.Start(ctx); err != nil {
		return nil, err
	}

	m.engines[sessionID] = engine
	logger.Info("session activated", zap.Int("participants", len(participants)))
	return engine, nil
}

// Get returns the engine for an active session.
func (m *Manager) Get(sessionID string) (*Engine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	engine, ok := m.engines[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotActive, sessionID)
	}
	return engine, nil
}

// ActiveSessions lists the sessions currently running.
func (m *Manager) ActiveSessions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.engines))
	for id := range m.engines {
		ids = append(ids, id)
	}
	return ids
}

// End tears a session down: the engine emits its final event, the live
// states are synced back to the character records, and the engine is
// dropped. A sync failure keeps the session active so End can be retried
// without losing the ledger.
func (m *Manager) End(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	engine, ok := m.engines[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotActive, sessionID)
	}

	if m.cfg.Sink != nil {
		if err := m.cfg.Sink.SyncLiveStates(ctx, sessionID, engine.Characters().All()); err != nil {
			return fmt.Errorf("sync live states: %w", err)
		}
	}
	if err := engine.End(ctx); err != nil {
		return err
	}
	delete(m.engines, sessionID)

	m.cfg.Logger.Info("session ended", zap.String("session_id", sessionID))
	return nil
}
