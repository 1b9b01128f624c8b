package session

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/questforge/quest-server-go/internal/repository"
)

type memStore struct {
	mu       sync.Mutex
	created  []string
	statuses map[string]string
}

func (m *memStore) Create(_ context.Context, rec *repository.SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, rec.ID)
	return nil
}

func (m *memStore) UpdateStatus(_ context.Context, sessionID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statuses == nil {
		m.statuses = make(map[string]string)
	}
	m.statuses[sessionID] = status
	return nil
}

func newTestRegistry(store Store) *Registry {
	return NewRegistry(store, Config{
		JoinCodeLength:  6,
		BcryptCost:      bcrypt.MinCost,
		MaxParticipants: 3,
	}, zap.NewNop())
}

func TestCreateAndJoinWithCode(t *testing.T) {
	store := &memStore{}
	r := newTestRegistry(store)

	sess, code, err := r.Create(context.Background(), "Tomb Delve", "gm-1")
	require.NoError(t, err)
	require.Len(t, code, 6)
	assert.Equal(t, StatusLobby, sess.Status)
	assert.Contains(t, store.created, sess.ID)

	joined, err := r.Join(context.Background(), sess.ID, code, "player-1", "char-1")
	require.NoError(t, err)
	require.Len(t, joined.Members, 1)
	assert.Equal(t, "char-1", joined.Members[0].CharacterID)
}

func TestJoinRejectsBadCode(t *testing.T) {
	r := newTestRegistry(nil)
	sess, _, err := r.Create(context.Background(), "s", "gm-1")
	require.NoError(t, err)

	_, err = r.Join(context.Background(), sess.ID, "WRONG1", "player-1", "char-1")
	assert.ErrorIs(t, err, ErrInvalidJoinCode)
}

func TestJoinEnforcesCapacityAndUniqueness(t *testing.T) {
	r := newTestRegistry(nil)
	sess, code, err := r.Create(context.Background(), "s", "gm-1")
	require.NoError(t, err)

	for i, char := range []string{"char-1", "char-2", "char-3"} {
		_, err := r.Join(context.Background(), sess.ID, code, "player", char)
		require.NoError(t, err, "join %d", i)
	}

	_, err = r.Join(context.Background(), sess.ID, code, "player", "char-1")
	assert.ErrorIs(t, err, ErrAlreadyJoined)

	_, err = r.Join(context.Background(), sess.ID, code, "player", "char-4")
	assert.ErrorIs(t, err, ErrSessionFull)
}

func TestActivateLifecycle(t *testing.T) {
	store := &memStore{}
	r := newTestRegistry(store)
	sess, code, err := r.Create(context.Background(), "s", "gm-1")
	require.NoError(t, err)

	_, err = r.Activate(context.Background(), sess.ID, "gm-1")
	assert.Error(t, err, "empty lobby must not activate")

	_, err = r.Join(context.Background(), sess.ID, code, "p1", "char-2")
	require.NoError(t, err)
	_, err = r.Join(context.Background(), sess.ID, code, "p2", "char-1")
	require.NoError(t, err)

	_, err = r.Activate(context.Background(), sess.ID, "p1")
	assert.Error(t, err, "only the GM activates")

	roster, err := r.Activate(context.Background(), sess.ID, "gm-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"char-2", "char-1"}, roster, "roster keeps join order")
	assert.Equal(t, StatusActive, store.statuses[sess.ID])

	// Joining after activation is rejected.
	_, err = r.Join(context.Background(), sess.ID, code, "p3", "char-3")
	assert.ErrorIs(t, err, ErrWrongStatus)

	require.NoError(t, r.End(context.Background(), sess.ID, "gm-1"))
	assert.Equal(t, StatusEnded, store.statuses[sess.ID])
}

func TestPlayerFor(t *testing.T) {
	r := newTestRegistry(nil)
	sess, code, err := r.Create(context.Background(), "s", "gm-1")
	require.NoError(t, err)
	_, err = r.Join(context.Background(), sess.ID, code, "player-9", "char-1")
	require.NoError(t, err)

	player, ok := r.PlayerFor(sess.ID, "char-1")
	require.True(t, ok)
	assert.Equal(t, "player-9", player)

	_, ok = r.PlayerFor(sess.ID, "char-2")
	assert.False(t, ok)
}

func TestJoinCodeAlphabetAvoidsAmbiguity(t *testing.T) {
	for i := 0; i < 20; i++ {
		code, err := generateJoinCode(8)
		require.NoError(t, err)
		assert.NotContains(t, code, "O")
		assert.NotContains(t, code, "0")
		assert.NotContains(t, code, "I")
		assert.NotContains(t, code, "1")
		assert.NotContains(t, code, "L")
	}
}
