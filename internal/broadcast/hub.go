package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/questforge/quest-server-go/internal/game"
	"github.com/questforge/quest-server-go/internal/game/rules"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 512
	sendBuffer     = 64
)

// EventCache retains recent session events for reconnect replay. Events are
// cached before fan-out so a client that reconnects with its last applied
// seq never observes a gap.
type EventCache interface {
	Store(ctx context.Context, sessionID string, seq uint64, data []byte) error
	Since(ctx context.Context, sessionID string, afterSeq uint64) ([][]byte, error)
}

// Client is one websocket connection of one actor in one session.
type Client struct {
	id        string
	sessionID string
	actorID   string
	conn      *websocket.Conn
	send      chan []byte
	hub       *Hub

	mu     sync.Mutex
	closed bool
}

// Hub fans session events out to connected clients. Events arrive from the
// engine bus already in seq order; per-client ordering is preserved by the
// send channel and the single write pump.
type Hub struct {
	logger *zap.Logger
	cache  EventCache

	mu       sync.RWMutex
	sessions map[string]map[string]*Client
}

// NewHub creates a hub. cache may be nil, which disables reconnect replay.
func NewHub(cache EventCache, logger *zap.Logger) *Hub {
	return &Hub{
		logger:   logger,
		cache:    cache,
		sessions: make(map[string]map[string]*Client),
	}
}

// AttachEngine wires the hub to a session engine's event bus. Returns the
// subscription handle so the caller can detach at session end.
func (h *Hub) AttachEngine(engine *game.Engine) int {
	return engine.Events().Subscribe(func(evt rules.Event) {
		h.Dispatch(evt)
	})
}

// Dispatch caches and fans out one event. Private events reach only the
// clients of the addressed actor.
func (h *Hub) Dispatch(evt rules.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("marshal event",
			zap.String("session_id", evt.SessionID),
			zap.String("event_type", string(evt.Type)),
			zap.Error(err),
		)
		return
	}

	if h.cache != nil && !evt.Private {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := h.cache.Store(ctx, evt.SessionID, evt.Seq, data); err != nil {
			h.logger.Warn("event cache store failed",
				zap.String("session_id", evt.SessionID),
				zap.Uint64("seq", evt.Seq),
				zap.Error(err),
			)
		}
		cancel()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.sessions[evt.SessionID] {
		if evt.Private && client.actorID != evt.ActorID {
			continue
		}
		select {
		case client.send <- data:
		default:
			h.logger.Warn("client send buffer full, dropping event",
				zap.String("client_id", client.id),
				zap.String("session_id", evt.SessionID),
				zap.Uint64("seq", evt.Seq),
			)
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// ServeWS upgrades the request and attaches the client to the session
// stream. afterSeq > 0 replays the cached events the client missed before
// live events flow.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, sessionID, actorID string, afterSeq uint64) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := &Client{
		id:        uuid.NewString(),
		sessionID: sessionID,
		actorID:   actorID,
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		hub:       h,
	}

	// Write the replay straight to the connection before registering so the
	// backlog, however large, precedes anything live. The conn has no other
	// writer yet; writePump starts after registration.
	if h.cache != nil {
		missed, err := h.cache.Since(r.Context(), sessionID, afterSeq)
		if err != nil {
			h.logger.Warn("event replay failed",
				zap.String("session_id", sessionID),
				zap.Uint64("after_seq", afterSeq),
				zap.Error(err),
			)
		}
		for _, data := range missed {
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				conn.Close()
				return err
			}
		}
	}

	h.register(client)
	go client.writePump()
	go client.readPump()
	return nil
}

func (h *Hub) register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.sessions[client.sessionID]
	if !ok {
		clients = make(map[string]*Client)
		h.sessions[client.sessionID] = clients
	}
	clients[client.id] = client

	h.logger.Info("client connected",
		zap.String("client_id", client.id),
		zap.String("session_id", client.sessionID),
		zap.String("actor_id", client.actorID),
		zap.Int("session_clients", len(clients)),
	)
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.sessions[client.sessionID]
	if !ok {
		return
	}
	if _, ok := clients[client.id]; !ok {
		return
	}
	delete(clients, client.id)
	close(client.send)
	if len(clients) == 0 {
		delete(h.sessions, client.sessionID)
	}

	h.logger.Info("client disconnected",
		zap.String("client_id", client.id),
		zap.String("session_id", client.sessionID),
	)
}

// CloseSession disconnects every client of a session, e.g. at session end.
func (h *Hub) CloseSession(sessionID string) {
	h.mu.Lock()
	clients := h.sessions[sessionID]
	delete(h.sessions, sessionID)
	h.mu.Unlock()

	for _, client := range clients {
		close(client.send)
		client.close()
	}
}

// SessionClients returns the number of connected clients for a session.
func (h *Hub) SessionClients(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains the connection so control frames are processed; this is a
// one-way stream, inbound text frames are ignored.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("unexpected close",
					zap.String("client_id", c.id),
					zap.Error(err),
				)
			}
			return
		}
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.conn.Close()
}
