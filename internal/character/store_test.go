package character

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore([]*LiveState{newTestState()}, zap.NewNop())
}

func TestStorePatchCommits(t *testing.T) {
	st := newTestStore(t)

	updated, err := st.Patch("char-1", []Change{
		{Kind: ChangeDamage, Amount: 5},
		{Kind: ChangeConditionAdd, Condition: "prone"},
	}, "goblin shove")
	require.NoError(t, err)
	assert.Equal(t, 15, updated.HPCurrent)
	assert.True(t, updated.Conditions["prone"])

	stored, err := st.Get("char-1")
	require.NoError(t, err)
	assert.Equal(t, 15, stored.HPCurrent)
}

func TestStorePatchAllOrNothing(t *testing.T) {
	st := newTestStore(t)

	// Second change fails (no level 9 slots), so the damage must not land.
	_, err := st.Patch("char-1", []Change{
		{Kind: ChangeDamage, Amount: 5},
		{Kind: ChangeSpellSlotSpend, SlotLevel: 9},
	}, "fireball upcast")
	require.Error(t, err)

	stored, err := st.Get("char-1")
	require.NoError(t, err)
	assert.Equal(t, 20, stored.HPCurrent)
}

func TestStoreGetReturnsCopy(t *testing.T) {
	st := newTestStore(t)

	state, err := st.Get("char-1")
	require.NoError(t, err)
	state.HPCurrent = 1
	state.Conditions["charmed"] = true

	fresh, err := st.Get("char-1")
	require.NoError(t, err)
	assert.Equal(t, 20, fresh.HPCurrent)
	assert.False(t, fresh.Conditions["charmed"])
}

func TestStoreUnknownCharacter(t *testing.T) {
	st := newTestStore(t)

	_, err := st.Get("nobody")
	assert.Error(t, err)
	_, err = st.Patch("nobody", []Change{{Kind: ChangeHeal, Amount: 1}}, "test")
	assert.Error(t, err)
}

func TestStoreRemove(t *testing.T) {
	st := newTestStore(t)

	final, ok := st.Remove("char-1")
	require.True(t, ok)
	assert.Equal(t, "char-1", final.CharacterID)
	_, ok = st.Remove("char-1")
	assert.False(t, ok)
	assert.Empty(t, st.All())
}
