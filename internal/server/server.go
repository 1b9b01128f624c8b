package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/questforge/quest-server-go/internal/broadcast"
	"github.com/questforge/quest-server-go/internal/character"
	"github.com/questforge/quest-server-go/internal/game"
	"github.com/questforge/quest-server-go/internal/game/rules"
	"github.com/questforge/quest-server-go/internal/repository"
	"github.com/questforge/quest-server-go/internal/session"
)

// CharacterSource loads the live-state seeds for a roster at activation;
// satisfied by repository.CharacterRepository.
type CharacterSource interface {
	GetLiveStates(ctx context.Context, characterIDs []string) ([]*character.LiveState, error)
}

// EventSource pages the durable audit log; satisfied by
// repository.EventRepository. Optional.
type EventSource interface {
	List(ctx context.Context, sessionID string, afterSeq uint64, limit int) ([]repository.StoredEvent, error)
}

// Server exposes the orchestration API over HTTP and websockets.
type Server struct {
	registry *session.Registry
	manager  *game.Manager
	chars    CharacterSource
	events   EventSource
	hub      *broadcast.Hub
	logger   *zap.Logger
}

func NewServer(
	registry *session.Registry,
	manager *game.Manager,
	chars CharacterSource,
	events EventSource,
	hub *broadcast.Hub,
	logger *zap.Logger,
) *Server {
	return &Server{
		registry: registry,
		manager:  manager,
		chars:    chars,
		events:   events,
		hub:      hub,
		logger:   logger,
	}
}

// Router builds the HTTP routing table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(90 * time.Second))

	r.Get("/healthz", s.handleHealth)

	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", s.handleCreateSession)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Post("/join", s.handleJoin)
			r.Post("/leave", s.handleLeave)
			r.Post("/activate", s.handleActivate)
			r.Post("/end", s.handleEndSession)

			r.Get("/state", s.handleGetState)
			r.Get("/characters", s.handleGetCharacters)
			r.Post("/characters/{characterID}/patch", s.handlePatchCharacter)
			r.Get("/events", s.handleListEvents)

			r.Post("/actions", s.handleDeclareAction)
			r.Get("/actions/{actionID}", s.handleGetAction)
			r.Delete("/actions/{actionID}", s.handleCancelAction)
			r.Post("/actions/{actionID}/roll", s.handleSubmitRoll)

			r.Post("/phase", s.handleTransition)
			r.Put("/turn-order", s.handleSetTurnOrder)
			r.Post("/end-turn", s.handleEndTurn)
			r.Post("/world-turn", s.handleWorldTurn)
			r.Post("/enemy-turn", s.handleEnemyTurn)
		})
	})

	r.Get("/ws/sessions/{sessionID}", s.handleWebSocket)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": s.manager.ActiveSessions(),
	})
}

func (s *Server) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		if err := json.NewEncoder(w).Encode(body); err != nil {
			s.logger.Error("encode response", zap.Error(err))
		}
	}
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	} else {
		s.logger.Debug("request rejected",
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	s.respond(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps domain failures to HTTP statuses. Rule violations are
// conflicts: the request was well-formed but the game state forbids it.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, game.ErrSessionNotActive),
		errors.Is(err, game.ErrActionNotFound),
		errors.Is(err, repository.ErrCharacterNotFound),
		errors.Is(err, repository.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrInvalidJoinCode):
		return http.StatusForbidden
	case errors.Is(err, session.ErrSessionFull),
		errors.Is(err, session.ErrWrongStatus),
		errors.Is(err, session.ErrAlreadyJoined),
		errors.Is(err, game.ErrNotYourTurn),
		errors.Is(err, game.ErrActionAlreadyPending),
		errors.Is(err, game.ErrActorMismatch),
		errors.Is(err, game.ErrStaleRequest),
		errors.Is(err, game.ErrCancelTooLate),
		errors.Is(err, game.ErrActorIncapacitated),
		errors.Is(err, game.ErrNoWorldTurnPending),
		errors.Is(err, rules.ErrIllegalTransition),
		errors.Is(err, rules.ErrIllegalForPhase),
		errors.Is(err, rules.ErrBudgetExceeded),
		errors.Is(err, rules.ErrInvalidOrder):
		return http.StatusConflict
	case errors.Is(err, game.ErrUnknownParticipant):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// isGM reports whether the caller is the session's GM, which unlocks the
// privileged operations.
func (s *Server) isGM(sessionID, callerID string) bool {
	sess, err := s.registry.Get(sessionID)
	return err == nil && sess.GMID == callerID
}
