package game

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/questforge/quest-server-go/internal/character"
	"github.com/questforge/quest-server-go/internal/game/rules"
	"github.com/questforge/quest-server-go/internal/narrator"
)

type recordingSink struct {
	mu     sync.Mutex
	synced map[string][]*character.LiveState
	fail   bool
}

func (r *recordingSink) SyncLiveStates(_ context.Context, sessionID string, states []*character.LiveState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return assert.AnError
	}
	if r.synced == nil {
		r.synced = make(map[string][]*character.LiveState)
	}
	r.synced[sessionID] = states
	return nil
}

func newTestManager(sink CharacterSink) *Manager {
	return NewManager(ManagerConfig{
		Adjudicator: &scriptedAdjudicator{},
		Audit:       &memAudit{},
		Sink:        sink,
		Logger:      zap.NewNop(),
	})
}

func TestManagerActivateAndGet(t *testing.T) {
	m := newTestManager(nil)

	engine, err := m.Activate(context.Background(), "sess-1", testRoster())
	require.NoError(t, err)
	assert.Equal(t, "sess-1", engine.SessionID())

	got, err := m.Get("sess-1")
	require.NoError(t, err)
	assert.Same(t, engine, got)

	assert.Equal(t, []string{"sess-1"}, m.ActiveSessions())
}

func TestManagerRejectsDoubleActivation(t *testing.T) {
	m := newTestManager(nil)

	_, err := m.Activate(context.Background(), "sess-1", testRoster())
	require.NoError(t, err)
	_, err = m.Activate(context.Background(), "sess-1", testRoster())
	assert.Error(t, err)
}

func TestManagerRejectsEmptyRoster(t *testing.T) {
	m := newTestManager(nil)
	_, err := m.Activate(context.Background(), "sess-1", nil)
	assert.Error(t, err)
}

func TestManagerEndSyncsLiveStates(t *testing.T) {
	sink := &recordingSink{}
	m := newTestManager(sink)

	engine, err := m.Activate(context.Background(), "sess-1", testRoster())
	require.NoError(t, err)

	_, err = engine.Characters().Patch("char-1",
		[]character.Change{{Kind: character.ChangeDamage, Amount: 7}}, "test")
	require.NoError(t, err)

	require.NoError(t, m.End(context.Background(), "sess-1"))

	_, err = m.Get("sess-1")
	assert.Error(t, err)

	states := sink.synced["sess-1"]
	require.Len(t, states, 2)
	for _, state := range states {
		if state.CharacterID == "char-1" {
			assert.Equal(t, 13, state.HPCurrent)
		}
	}
}

func TestManagerAppliesHistoryLimit(t *testing.T) {
	adj := &scriptedAdjudicator{}
	adj.pushReply(&narrator.Response{Narration: "first"})
	adj.pushReply(&narrator.Response{Narration: "second"})
	m := NewManager(ManagerConfig{
		Adjudicator:  adj,
		Audit:        &memAudit{},
		HistoryLimit: 1,
		Logger:       zap.NewNop(),
	})

	engine, err := m.Activate(context.Background(), "sess-1", testRoster())
	require.NoError(t, err)
	events := make(chan rules.Event, 64)
	engine.Events().Subscribe(func(evt rules.Event) { events <- evt })

	for _, actor := range []string{"char-1", "char-2"} {
		_, err := engine.Declare(context.Background(), actor, rules.ActionSearch, nil)
		require.NoError(t, err)
		waitForEvent(t, events, rules.EventActionResolved)
	}

	// With a limit of 1 only the latest narration reaches the next bundle.
	_, err = engine.RunWorldTurn(context.Background())
	require.NoError(t, err)

	adj.mu.Lock()
	defer adj.mu.Unlock()
	last := adj.bundles[len(adj.bundles)-1]
	assert.Equal(t, []string{"second"}, last.History)
}

func TestManagerEndKeepsSessionOnSyncFailure(t *testing.T) {
	sink := &recordingSink{fail: true}
	m := newTestManager(sink)

	_, err := m.Activate(context.Background(), "sess-1", testRoster())
	require.NoError(t, err)

	require.Error(t, m.End(context.Background(), "sess-1"))

	// Still active, End can be retried after the store recovers.
	_, err = m.Get("sess-1")
	require.NoError(t, err)

	sink.mu.Lock()
	sink.fail = false
	sink.mu.Unlock()
	require.NoError(t, m.End(context.Background(), "sess-1"))
}
