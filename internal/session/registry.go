package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/questforge/quest-server-go/internal/repository"
)

// Session lifecycle states persisted to the sessions table.
const (
	StatusLobby  = "LOBBY"
	StatusActive = "ACTIVE"
	StatusEnded  = "ENDED"
)

var (
	ErrInvalidJoinCode = errors.New("invalid join code")
	ErrSessionFull     = errors.New("session is full")
	ErrWrongStatus     = errors.New("operation not allowed in current session status")
	ErrAlreadyJoined   = errors.New("character already joined")
	ErrNotFound        = errors.New("session not found")
)

// Store is the persistence surface the registry needs; satisfied by
// repository.SessionRepository.
type Store interface {
	Create(ctx context.Context, rec *repository.SessionRecord) error
	UpdateStatus(ctx context.Context, sessionID, status string) error
}

// Member is one joined participant in the lobby roster.
type Member struct {
	PlayerID    string    `json:"player_id"`
	CharacterID string    `json:"character_id"`
	JoinedAt    time.Time `json:"joined_at"`
}

// Session is the registry's in-memory view of one session.
type Session struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	GMID      string    `json:"gm_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	Members   []Member  `json:"members"`

	joinCodeHash []byte
}

// Config tunes join-code generation and lobby limits.
type Config struct {
	JoinCodeLength  int
	BcryptCost      int
	MaxParticipants int
}

// Registry manages session lifecycles and lobby membership. Join codes are
// stored only as bcrypt hashes; the plaintext exists once, in the create
// response to the GM.
type Registry struct {
	store  Store
	cfg    Config
	logger *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates a registry. store may be nil for ephemeral use.
func NewRegistry(store Store, cfg Config, logger *zap.Logger) *Registry {
	if cfg.JoinCodeLength < 4 {
		cfg.JoinCodeLength = 6
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.MaxParticipants <= 0 {
		cfg.MaxParticipants = 8
	}
	return &Registry{
		store:    store,
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// joinCodeAlphabet omits characters that read ambiguously over voice chat.
const joinCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

func generateJoinCode(length int) (string, error) {
	code := make([]byte, length)
	max := big.NewInt(int64(len(joinCodeAlphabet)))
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate join code: %w", err)
		}
		code[i] = joinCodeAlphabet[n.Int64()]
	}
	return string(code), nil
}

// Create opens a new session lobby and returns it with the one-time
// plaintext join code.
func (r *Registry) Create(ctx context.Context, name, gmID string) (*Session, string, error) {
	code, err := generateJoinCode(r.cfg.JoinCodeLength)
	if err != nil {
		return nil, "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), r.cfg.BcryptCost)
	if err != nil {
		return nil, "", fmt.Errorf("hash join code: %w", err)
	}

	sess := &Session{
		ID:           "sess-" + uuid.NewString(),
		Name:         name,
		GMID:         gmID,
		Status:       StatusLobby,
		CreatedAt:    time.Now(),
		joinCodeHash: hash,
	}
	if r.store != nil {
		if err := r.store.Create(ctx, &repository.SessionRecord{
			ID:           sess.ID,
			Name:         sess.Name,
			GMID:         sess.GMID,
			JoinCodeHash: hash,
			Status:       sess.Status,
		}); err != nil {
			return nil, "", err
		}
	}

	r.mu.Lock()
	r.sessions[sess.ID] = sess
	r.mu.Unlock()

	r.logger.Info("session created",
		zap.String("session_id", sess.ID),
		zap.String("gm_id", gmID),
	)
	return sess.clone(), code, nil
}

// Join adds a character to the lobby after verifying the join code.
func (r *Registry) Join(ctx context.Context, sessionID, joinCode, playerID, characterID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	if sess.Status != StatusLobby {
		return nil, fmt.Errorf("%w: %s", ErrWrongStatus, sess.Status)
	}
	if err := bcrypt.CompareHashAndPassword(sess.joinCodeHash, []byte(joinCode)); err != nil {
		return nil, ErrInvalidJoinCode
	}
	// A duplicate join adds no one, so uniqueness outranks capacity.
	for _, m := range sess.Members {
		if m.CharacterID == characterID {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyJoined, characterID)
		}
	}
	if len(sess.Members) >= r.cfg.MaxParticipants {
		return nil, ErrSessionFull
	}

	sess.Members = append(sess.Members, Member{
		PlayerID:    playerID,
		CharacterID: characterID,
		JoinedAt:    time.Now(),
	})
	r.logger.Info("character joined session",
		zap.String("session_id", sessionID),
		zap.String("character_id", characterID),
	)
	return sess.clone(), nil
}

// Leave removes a character from the lobby before activation.
func (r *Registry) Leave(sessionID, characterID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	if sess.Status != StatusLobby {
		return fmt.Errorf("%w: %s", ErrWrongStatus, sess.Status)
	}
	for i, m := range sess.Members {
		if m.CharacterID == characterID {
			sess.Members = append(sess.Members[:i], sess.Members[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("character %s is not in session %s", characterID, sessionID)
}

// Get returns a copy of the session.
func (r *Registry) Get(sessionID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	return sess.clone(), nil
}

// Activate moves a lobby to ACTIVE and returns the roster character ids in
// join order. Only the GM activates a session, and never an empty one.
func (r *Registry) Activate(ctx context.Context, sessionID, callerID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	if sess.GMID != callerID {
		return nil, fmt.Errorf("only the GM may activate session %s", sessionID)
	}
	if sess.Status != StatusLobby {
		return nil, fmt.Errorf("%w: %s", ErrWrongStatus, sess.Status)
	}
	if len(sess.Members) == 0 {
		return nil, fmt.Errorf("session %s has no participants", sessionID)
	}

	if r.store != nil {
		if err := r.store.UpdateStatus(ctx, sessionID, StatusActive); err != nil {
			return nil, err
		}
	}
	sess.Status = StatusActive

	roster := make([]string, len(sess.Members))
	for i, m := range sess.Members {
		roster[i] = m.CharacterID
	}
	return roster, nil
}

// End marks a session ENDED. The engine teardown happens separately; the
// registry only records the lifecycle.
func (r *Registry) End(ctx context.Context, sessionID, callerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	if sess.GMID != callerID {
		return fmt.Errorf("only the GM may end session %s", sessionID)
	}
	if sess.Status == StatusEnded {
		return fmt.Errorf("%w: %s", ErrWrongStatus, sess.Status)
	}

	if r.store != nil {
		if err := r.store.UpdateStatus(ctx, sessionID, StatusEnded); err != nil {
			return err
		}
	}
	sess.Status = StatusEnded
	return nil
}

// PlayerFor returns the player controlling a character in the session.
func (r *Registry) PlayerFor(sessionID, characterID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[sessionID]
	if !ok {
		return "", false
	}
	for _, m := range sess.Members {
		if m.CharacterID == characterID {
			return m.PlayerID, true
		}
	}
	return "", false
}

func (s *Session) clone() *Session {
	out := *s
	out.Members = append([]Member(nil), s.Members...)
	out.joinCodeHash = nil
	return &out
}
