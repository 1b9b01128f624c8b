package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/questforge/quest-server-go/internal/game/rules"
)

// memoryCache is an in-memory EventCache for hub tests.
type memoryCache struct {
	mu     sync.Mutex
	events map[string][][]byte
}

func (m *memoryCache) Store(_ context.Context, sessionID string, _ uint64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.events == nil {
		m.events = make(map[string][][]byte)
	}
	m.events[sessionID] = append(m.events[sessionID], data)
	return nil
}

func (m *memoryCache) Since(_ context.Context, sessionID string, afterSeq uint64) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out [][]byte
	for _, data := range m.events[sessionID] {
		var envelope struct {
			Seq uint64 `json:"seq"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}
		if envelope.Seq > afterSeq {
			out = append(out, data)
		}
	}
	return out, nil
}

func wsServer(t *testing.T, hub *Hub, sessionID, actorID string, afterSeq uint64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, hub.ServeWS(w, r, sessionID, actorID, afterSeq))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) rules.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var evt rules.Event
	require.NoError(t, json.Unmarshal(data, &evt))
	return evt
}

func TestHubDeliversEventsInOrder(t *testing.T) {
	hub := NewHub(nil, zap.NewNop())
	srv := wsServer(t, hub, "sess-1", "char-1", 0)
	conn := dial(t, srv)

	require.Eventually(t, func() bool {
		return hub.SessionClients("sess-1") == 1
	}, time.Second, 10*time.Millisecond)

	for seq := uint64(1); seq <= 3; seq++ {
		hub.Dispatch(rules.Event{Type: rules.EventNarration, Seq: seq, SessionID: "sess-1"})
	}

	for want := uint64(1); want <= 3; want++ {
		evt := readEvent(t, conn)
		assert.Equal(t, want, evt.Seq)
	}
}

func TestHubScopesPrivateEventsToActor(t *testing.T) {
	hub := NewHub(nil, zap.NewNop())
	srvA := wsServer(t, hub, "sess-1", "char-1", 0)
	srvB := wsServer(t, hub, "sess-1", "char-2", 0)
	connA := dial(t, srvA)
	connB := dial(t, srvB)

	require.Eventually(t, func() bool {
		return hub.SessionClients("sess-1") == 2
	}, time.Second, 10*time.Millisecond)

	hub.Dispatch(rules.Event{
		Type: rules.EventPrivateMessage, Seq: 1, SessionID: "sess-1",
		ActorID: "char-1", Private: true,
	})
	hub.Dispatch(rules.Event{Type: rules.EventNarration, Seq: 2, SessionID: "sess-1"})

	evt := readEvent(t, connA)
	assert.Equal(t, rules.EventPrivateMessage, evt.Type)
	evt = readEvent(t, connA)
	assert.Equal(t, rules.EventNarration, evt.Type)

	// The other actor only sees the public event.
	evt = readEvent(t, connB)
	assert.Equal(t, rules.EventNarration, evt.Type)
}

func TestHubIgnoresOtherSessions(t *testing.T) {
	hub := NewHub(nil, zap.NewNop())
	srv := wsServer(t, hub, "sess-1", "char-1", 0)
	conn := dial(t, srv)

	require.Eventually(t, func() bool {
		return hub.SessionClients("sess-1") == 1
	}, time.Second, 10*time.Millisecond)

	hub.Dispatch(rules.Event{Type: rules.EventNarration, Seq: 1, SessionID: "sess-2"})
	hub.Dispatch(rules.Event{Type: rules.EventNarration, Seq: 1, SessionID: "sess-1"})

	evt := readEvent(t, conn)
	assert.Equal(t, "sess-1", evt.SessionID)
}

func TestHubReplaysMissedEventsOnReconnect(t *testing.T) {
	cache := &memoryCache{}
	hub := NewHub(cache, zap.NewNop())

	// Events dispatched before anyone connects still land in the cache.
	for seq := uint64(1); seq <= 4; seq++ {
		hub.Dispatch(rules.Event{Type: rules.EventNarration, Seq: seq, SessionID: "sess-1"})
	}

	// Reconnect claiming seq 2 was the last applied.
	srv := wsServer(t, hub, "sess-1", "char-1", 2)
	conn := dial(t, srv)

	evt := readEvent(t, conn)
	assert.Equal(t, uint64(3), evt.Seq)
	evt = readEvent(t, conn)
	assert.Equal(t, uint64(4), evt.Seq)
}

func TestHubReplaysBacklogLargerThanSendBuffer(t *testing.T) {
	cache := &memoryCache{}
	hub := NewHub(cache, zap.NewNop())

	// A backlog well past the per-client send buffer must still replay in
	// full without stalling the upgrade handler.
	backlog := uint64(sendBuffer*2 + 10)
	for seq := uint64(1); seq <= backlog; seq++ {
		hub.Dispatch(rules.Event{Type: rules.EventNarration, Seq: seq, SessionID: "sess-1"})
	}

	srv := wsServer(t, hub, "sess-1", "char-1", 0)
	conn := dial(t, srv)

	for want := uint64(1); want <= backlog; want++ {
		evt := readEvent(t, conn)
		require.Equal(t, want, evt.Seq)
	}

	// Live events still follow the replay.
	require.Eventually(t, func() bool {
		return hub.SessionClients("sess-1") == 1
	}, time.Second, 10*time.Millisecond)
	hub.Dispatch(rules.Event{Type: rules.EventNarration, Seq: backlog + 1, SessionID: "sess-1"})
	assert.Equal(t, backlog+1, readEvent(t, conn).Seq)
}

func TestHubDoesNotCachePrivateEvents(t *testing.T) {
	cache := &memoryCache{}
	hub := NewHub(cache, zap.NewNop())

	hub.Dispatch(rules.Event{
		Type: rules.EventPrivateMessage, Seq: 1, SessionID: "sess-1",
		ActorID: "char-1", Private: true,
	})

	missed, err := cache.Since(context.Background(), "sess-1", 0)
	require.NoError(t, err)
	assert.Empty(t, missed)
}
