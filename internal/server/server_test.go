package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/questforge/quest-server-go/internal/character"
	"github.com/questforge/quest-server-go/internal/game"
	"github.com/questforge/quest-server-go/internal/narrator"
	"github.com/questforge/quest-server-go/internal/session"
)

type stubAdjudicator struct {
	mu      sync.Mutex
	replies []*narrator.Response
}

func (s *stubAdjudicator) push(resp *narrator.Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, resp)
}

func (s *stubAdjudicator) Adjudicate(context.Context, *narrator.Bundle) (*narrator.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.replies) == 0 {
		return &narrator.Response{Narration: "nothing happens"}, nil
	}
	resp := s.replies[0]
	s.replies = s.replies[1:]
	return resp, nil
}

type nopAudit struct{}

func (nopAudit) Append(context.Context, string, uint64, string, any) error { return nil }

type fakeCharSource struct{}

func (fakeCharSource) GetLiveStates(_ context.Context, ids []string) ([]*character.LiveState, error) {
	states := make([]*character.LiveState, len(ids))
	for i, id := range ids {
		states[i] = &character.LiveState{
			CharacterID:    id,
			Name:           "Hero " + id,
			HPCurrent:      20,
			HPMax:          20,
			Conditions:     map[string]bool{},
			SpellSlots:     map[int]character.SpellSlots{},
			ClassResources: map[string]int{},
			Consciousness:  character.Conscious,
			Speed:          30,
			ArmorClass:     14,
			Abilities:      map[string]int{"dex": 12},
		}
	}
	return states, nil
}

type testRig struct {
	srv *httptest.Server
	adj *stubAdjudicator
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	logger := zap.NewNop()
	adj := &stubAdjudicator{}

	registry := session.NewRegistry(nil, session.Config{
		JoinCodeLength: 6,
		BcryptCost:     bcrypt.MinCost,
	}, logger)
	manager := game.NewManager(game.ManagerConfig{
		Adjudicator: adj,
		Audit:       nopAudit{},
		Logger:      logger,
	})
	s := NewServer(registry, manager, fakeCharSource{}, nil, nil, logger)

	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return &testRig{srv: srv, adj: adj}
}

func (rig *testRig) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, rig.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

// createActiveSession drives the lobby flow and returns the session id.
func (rig *testRig) createActiveSession(t *testing.T) string {
	t.Helper()
	resp, body := rig.do(t, http.MethodPost, "/api/sessions", map[string]string{
		"name": "Tomb Delve", "gm_id": "gm-1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	sess := body["session"].(map[string]any)
	sessionID := sess["id"].(string)
	code := body["join_code"].(string)

	for _, char := range []string{"char-1", "char-2"} {
		resp, _ := rig.do(t, http.MethodPost, "/api/sessions/"+sessionID+"/join", map[string]string{
			"join_code": code, "player_id": "p-" + char, "character_id": char,
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, _ = rig.do(t, http.MethodPost, "/api/sessions/"+sessionID+"/activate", map[string]string{
		"caller_id": "gm-1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return sessionID
}

func TestHealthz(t *testing.T) {
	rig := newTestRig(t)
	resp, body := rig.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	rig := newTestRig(t)
	sessionID := rig.createActiveSession(t)

	resp, state := rig.do(t, http.MethodGet, "/api/sessions/"+sessionID+"/state", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "EXPLORATION", state["phase"])
	assert.Equal(t, "char-1", state["active_player_id"])

	resp, body := rig.do(t, http.MethodGet, "/api/sessions/"+sessionID+"/characters", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["characters"], 2)

	resp, _ = rig.do(t, http.MethodPost, "/api/sessions/"+sessionID+"/end", map[string]string{
		"caller_id": "gm-1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = rig.do(t, http.MethodGet, "/api/sessions/"+sessionID+"/state", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestJoinRequiresValidCode(t *testing.T) {
	rig := newTestRig(t)
	resp, body := rig.do(t, http.MethodPost, "/api/sessions", map[string]string{
		"name": "s", "gm_id": "gm-1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	sessionID := body["session"].(map[string]any)["id"].(string)

	resp, _ = rig.do(t, http.MethodPost, "/api/sessions/"+sessionID+"/join", map[string]string{
		"join_code": "WRONG1", "player_id": "p1", "character_id": "char-1",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestDeclareActionFlow(t *testing.T) {
	rig := newTestRig(t)
	rig.adj.push(&narrator.Response{Narration: "You find a lever."})
	sessionID := rig.createActiveSession(t)

	resp, action := rig.do(t, http.MethodPost, "/api/sessions/"+sessionID+"/actions", map[string]any{
		"actor_id": "char-1", "action_type": "SEARCH",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	actionID := action["id"].(string)

	require.Eventually(t, func() bool {
		_, got := rig.do(t, http.MethodGet,
			fmt.Sprintf("/api/sessions/%s/actions/%s", sessionID, actionID), nil)
		return got["status"] == "RESOLVED"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestDeclareOutOfTurnIsConflict(t *testing.T) {
	rig := newTestRig(t)
	sessionID := rig.createActiveSession(t)

	resp, _ := rig.do(t, http.MethodPost, "/api/sessions/"+sessionID+"/actions", map[string]any{
		"actor_id": "char-2", "action_type": "SEARCH",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestTransitionRequiresGM(t *testing.T) {
	rig := newTestRig(t)
	sessionID := rig.createActiveSession(t)

	resp, _ := rig.do(t, http.MethodPost, "/api/sessions/"+sessionID+"/phase", map[string]any{
		"caller_id": "char-1", "to": "COMBAT", "reason": "ambush",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, state := rig.do(t, http.MethodPost, "/api/sessions/"+sessionID+"/phase", map[string]any{
		"caller_id": "gm-1", "to": "COMBAT", "reason": "ambush",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "COMBAT", state["phase"])
	assert.NotEmpty(t, state["encounter_id"])
}

func TestIllegalTransitionIsConflict(t *testing.T) {
	rig := newTestRig(t)
	sessionID := rig.createActiveSession(t)

	resp, _ := rig.do(t, http.MethodPost, "/api/sessions/"+sessionID+"/phase", map[string]any{
		"caller_id": "gm-1", "to": "COMBAT", "reason": "ambush",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = rig.do(t, http.MethodPost, "/api/sessions/"+sessionID+"/phase", map[string]any{
		"caller_id": "gm-1", "to": "REST", "reason": "nap mid-combat",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestPatchCharacterRequiresGM(t *testing.T) {
	rig := newTestRig(t)
	sessionID := rig.createActiveSession(t)
	path := "/api/sessions/" + sessionID + "/characters/char-1/patch"

	resp, _ := rig.do(t, http.MethodPost, path, map[string]any{
		"caller_id": "char-2",
		"changes":   []map[string]any{{"kind": "DAMAGE", "amount": 5}},
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, state := rig.do(t, http.MethodPost, path, map[string]any{
		"caller_id": "gm-1",
		"changes":   []map[string]any{{"kind": "DAMAGE", "amount": 5}},
		"reason":    "fell in a pit",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(15), state["hp_current"])
}

func TestEndTurnAndWorldTurn(t *testing.T) {
	rig := newTestRig(t)
	rig.adj.push(&narrator.Response{Narration: "The torches gutter."})
	sessionID := rig.createActiveSession(t)

	for _, actor := range []string{"char-1", "char-2"} {
		resp, _ := rig.do(t, http.MethodPost, "/api/sessions/"+sessionID+"/end-turn", map[string]string{
			"actor_id": actor,
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, state := rig.do(t, http.MethodGet, "/api/sessions/"+sessionID+"/state", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, state["world_turn_pending"])

	resp, state = rig.do(t, http.MethodPost, "/api/sessions/"+sessionID+"/world-turn", map[string]string{
		"caller_id": "gm-1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, state["world_turn_pending"])
	assert.Equal(t, float64(2), state["round_number"])
}
