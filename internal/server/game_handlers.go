package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/questforge/quest-server-go/internal/character"
	"github.com/questforge/quest-server-go/internal/game"
	"github.com/questforge/quest-server-go/internal/game/rules"
	"github.com/questforge/quest-server-go/internal/narrator"
)

func (s *Server) engineFor(r *http.Request) (*game.Engine, error) {
	return s.manager.Get(chi.URLParam(r, "sessionID"))
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	engine, err := s.engineFor(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, engine.Snapshot())
}

func (s *Server) handleGetCharacters(w http.ResponseWriter, r *http.Request) {
	engine, err := s.engineFor(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"characters": engine.Characters().All()})
}

func (s *Server) handleDeclareAction(w http.ResponseWriter, r *http.Request) {
	engine, err := s.engineFor(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var req struct {
		ActorID    string          `json:"actor_id"`
		ActionType string          `json:"action_type"`
		Payload    json.RawMessage `json:"payload"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respond(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	action, err := engine.Declare(r.Context(), req.ActorID, rules.ActionType(req.ActionType), req.Payload)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusAccepted, action)
}

func (s *Server) handleGetAction(w http.ResponseWriter, r *http.Request) {
	engine, err := s.engineFor(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	action, err := engine.Action(chi.URLParam(r, "actionID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, action)
}

func (s *Server) handleCancelAction(w http.ResponseWriter, r *http.Request) {
	engine, err := s.engineFor(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var req struct {
		CallerID string `json:"caller_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respond(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	err = engine.CancelAction(r.Context(), chi.URLParam(r, "actionID"),
		req.CallerID, s.isGM(sessionID, req.CallerID))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleSubmitRoll(w http.ResponseWriter, r *http.Request) {
	engine, err := s.engineFor(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var req struct {
		ActorID    string                  `json:"actor_id"`
		Submission narrator.RollSubmission `json:"submission"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respond(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	err = engine.SubmitRoll(r.Context(), chi.URLParam(r, "actionID"), req.ActorID, req.Submission)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusAccepted, map[string]string{"status": "submitted"})
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	engine, err := s.engineFor(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var req struct {
		CallerID    string                  `json:"caller_id"`
		To          string                  `json:"to"`
		Reason      string                  `json:"reason"`
		EncounterID string                  `json:"encounter_id"`
		RestKind    string                  `json:"rest_kind"`
		Initiative  []rules.InitiativeEntry `json:"initiative"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respond(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	if !s.isGM(sessionID, req.CallerID) {
		s.respond(w, http.StatusForbidden, map[string]string{"error": "phase transitions require the GM"})
		return
	}
	to, err := rules.ParsePhase(req.To)
	if err != nil {
		s.respond(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	snapshot, err := engine.Transition(r.Context(), to, req.Reason, game.TransitionOpts{
		Initiative:  req.Initiative,
		EncounterID: req.EncounterID,
		RestKind:    rules.RestKind(req.RestKind),
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, snapshot)
}

func (s *Server) handleSetTurnOrder(w http.ResponseWriter, r *http.Request) {
	engine, err := s.engineFor(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var req struct {
		CallerID string   `json:"caller_id"`
		Order    []string `json:"order"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respond(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if !s.isGM(chi.URLParam(r, "sessionID"), req.CallerID) {
		s.respond(w, http.StatusForbidden, map[string]string{"error": "turn order changes require the GM"})
		return
	}

	snapshot, err := engine.SetTurnOrder(r.Context(), req.Order)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, snapshot)
}

func (s *Server) handleEndTurn(w http.ResponseWriter, r *http.Request) {
	engine, err := s.engineFor(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var req struct {
		ActorID string `json:"actor_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respond(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	privileged := s.isGM(chi.URLParam(r, "sessionID"), req.ActorID)
	snapshot, err := engine.EndTurn(r.Context(), req.ActorID, privileged)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, snapshot)
}

func (s *Server) handleWorldTurn(w http.ResponseWriter, r *http.Request) {
	engine, err := s.engineFor(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var req struct {
		CallerID string `json:"caller_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respond(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if !s.isGM(chi.URLParam(r, "sessionID"), req.CallerID) {
		s.respond(w, http.StatusForbidden, map[string]string{"error": "world turns require the GM"})
		return
	}

	snapshot, err := engine.RunWorldTurn(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, snapshot)
}

func (s *Server) handleEnemyTurn(w http.ResponseWriter, r *http.Request) {
	engine, err := s.engineFor(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var req struct {
		CallerID string `json:"caller_id"`
		NPCID    string `json:"npc_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respond(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if !s.isGM(chi.URLParam(r, "sessionID"), req.CallerID) {
		s.respond(w, http.StatusForbidden, map[string]string{"error": "enemy turns require the GM"})
		return
	}
	if req.NPCID == "" {
		s.respond(w, http.StatusBadRequest, map[string]string{"error": "npc_id is required"})
		return
	}

	snapshot, err := engine.RunEnemyTurn(r.Context(), req.NPCID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, snapshot)
}

func (s *Server) handlePatchCharacter(w http.ResponseWriter, r *http.Request) {
	engine, err := s.engineFor(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var req struct {
		CallerID string             `json:"caller_id"`
		Changes  []character.Change `json:"changes"`
		Reason   string             `json:"reason"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respond(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if !s.isGM(chi.URLParam(r, "sessionID"), req.CallerID) {
		s.respond(w, http.StatusForbidden, map[string]string{"error": "manual patches require the GM"})
		return
	}
	if len(req.Changes) == 0 {
		s.respond(w, http.StatusBadRequest, map[string]string{"error": "changes are required"})
		return
	}

	characterID := chi.URLParam(r, "characterID")
	reason := req.Reason
	if reason == "" {
		reason = fmt.Sprintf("manual patch by %s", req.CallerID)
	}
	state, err := engine.PatchCharacter(r.Context(), characterID, req.Changes, reason)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, state)
}
