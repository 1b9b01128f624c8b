package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/questforge/quest-server-go/internal/game"
)

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
		GMID string `json:"gm_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respond(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Name == "" || req.GMID == "" {
		s.respond(w, http.StatusBadRequest, map[string]string{"error": "name and gm_id are required"})
		return
	}

	sess, code, err := s.registry.Create(r.Context(), req.Name, req.GMID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusCreated, map[string]any{
		"session":   sess,
		"join_code": code,
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.registry.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, sess)
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	var req struct {
		JoinCode    string `json:"join_code"`
		PlayerID    string `json:"player_id"`
		CharacterID string `json:"character_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respond(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	sess, err := s.registry.Join(r.Context(), sessionID, req.JoinCode, req.PlayerID, req.CharacterID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, sess)
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	var req struct {
		CharacterID string `json:"character_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respond(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	// A leave during play also drops the participant from the running
	// engine and renormalizes the turn order.
	if engine, err := s.manager.Get(sessionID); err == nil {
		if _, err := engine.RemoveParticipant(r.Context(), req.CharacterID); err != nil {
			s.respondError(w, r, err)
			return
		}
		s.respond(w, http.StatusOK, map[string]string{"status": "removed"})
		return
	}

	if err := s.registry.Leave(sessionID, req.CharacterID); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]string{"status": "left"})
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	var req struct {
		CallerID string `json:"caller_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respond(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	roster, err := s.registry.Activate(r.Context(), sessionID, req.CallerID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	states, err := s.chars.GetLiveStates(r.Context(), roster)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	engine, err := s.manager.Activate(r.Context(), sessionID, states)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if s.hub != nil {
		s.hub.AttachEngine(engine)
	}

	s.logger.Info("session activated",
		zap.String("session_id", sessionID),
		zap.Int("roster", len(roster)),
	)
	s.respond(w, http.StatusOK, engine.Snapshot())
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	var req struct {
		CallerID string `json:"caller_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respond(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if err := s.registry.End(r.Context(), sessionID, req.CallerID); err != nil {
		s.respondError(w, r, err)
		return
	}
	// A session ended straight from the lobby has no engine to tear down.
	if err := s.manager.End(r.Context(), sessionID); err != nil && !errors.Is(err, game.ErrSessionNotActive) {
		s.respondError(w, r, err)
		return
	}
	if s.hub != nil {
		s.hub.CloseSession(sessionID)
	}
	s.respond(w, http.StatusOK, map[string]string{"status": "ended"})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		s.respond(w, http.StatusNotFound, map[string]string{"error": "event log not configured"})
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	afterSeq, _ := strconv.ParseUint(r.URL.Query().Get("after_seq"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	events, err := s.events.List(r.Context(), sessionID, afterSeq, limit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		http.Error(w, "websocket not configured", http.StatusNotFound)
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	actorID := r.URL.Query().Get("actor_id")
	if actorID == "" {
		http.Error(w, "actor_id is required", http.StatusBadRequest)
		return
	}
	if _, err := s.registry.Get(sessionID); err != nil {
		http.Error(w, fmt.Sprintf("unknown session %s", sessionID), http.StatusNotFound)
		return
	}
	afterSeq, _ := strconv.ParseUint(r.URL.Query().Get("after_seq"), 10, 64)

	if err := s.hub.ServeWS(w, r, sessionID, actorID, afterSeq); err != nil {
		s.logger.Warn("websocket upgrade failed",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
	}
}
