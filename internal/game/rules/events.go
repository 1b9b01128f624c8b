package rules

import (
	"sync"
	"time"
)

// EventType indicates the category of a session event.
type EventType string

const (
	// Phase and turn events.
	EventPhaseChanged       EventType = "PHASE_CHANGED"
	EventTurnAdvanced       EventType = "TURN_ADVANCED"
	EventTurnOrderChanged   EventType = "TURN_ORDER_CHANGED"
	EventWorldTurnStarted   EventType = "WORLD_TURN_STARTED"
	EventWorldTurnCompleted EventType = "WORLD_TURN_COMPLETED"
	EventRoundStarted       EventType = "ROUND_STARTED"

	// Action pipeline events.
	EventActionDeclared EventType = "ACTION_DECLARED"
	EventActionResolved EventType = "ACTION_RESOLVED"
	EventActionFailed   EventType = "ACTION_FAILED"
	EventActionCanceled EventType = "ACTION_CANCELED"

	// Roll handshake events.
	EventRollRequested EventType = "ROLL_REQUESTED"
	EventRollResult    EventType = "ROLL_RESULT"

	// Narration events.
	EventNarration      EventType = "NARRATION"
	EventPrivateMessage EventType = "PRIVATE_MESSAGE"

	// Resource events.
	EventLiveStateChanged    EventType = "LIVE_STATE_CHANGED"
	EventCombatBudgetChanged EventType = "COMBAT_BUDGET_CHANGED"
	EventWorldStateChanged   EventType = "WORLD_STATE_CHANGED"

	// Session lifecycle events.
	EventSessionActivated EventType = "SESSION_ACTIVATED"
	EventSessionEnded     EventType = "SESSION_ENDED"
)

// Event represents a state change that subscribers may react to. Seq is the
// per-session monotonic counter clients use to reconcile replays: an event
// whose Seq was already applied must be a no-op.
type Event struct {
	Type      EventType `json:"type"`
	Seq       uint64    `json:"seq"`
	SessionID string    `json:"session_id"`
	ActorID   string    `json:"actor_id,omitempty"`
	TargetID  string    `json:"target_id,omitempty"`
	ActionID  string    `json:"action_id,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	Private   bool      `json:"-"` // deliver only to ActorID's clients
	Timestamp time.Time `json:"timestamp"`
}

// Listener defines a callback that reacts to incoming events.
type Listener func(Event)

// TypedListener defines a callback that reacts to a specific event type.
type TypedListener struct {
	Handle    int
	EventType EventType
	Callback  func(Event)
}

// EventBus provides a synchronous publish/subscribe implementation with type
// filtering. Delivery order matches publish order because Publish runs the
// callbacks inline.
type EventBus struct {
	mu             sync.RWMutex
	listeners      map[int]Listener
	typedListeners map[EventType][]TypedListener
	nextHandle     int
}

// NewEventBus constructs a fresh event bus instance.
func NewEventBus() *EventBus {
	return &EventBus{
		listeners:      make(map[int]Listener),
		typedListeners: make(map[EventType][]TypedListener),
	}
}

// Subscribe registers a listener for all events and returns a handle.
func (bus *EventBus) Subscribe(listener Listener) int {
	if listener == nil {
		return -1
	}
	bus.mu.Lock()
	defer bus.mu.Unlock()
	handle := bus.nextHandle
	bus.nextHandle++
	bus.listeners[handle] = listener
	return handle
}

// SubscribeTyped registers a listener for a specific event type.
func (bus *EventBus) SubscribeTyped(eventType EventType, callback func(Event)) int {
	if callback == nil {
		return -1
	}
	bus.mu.Lock()
	defer bus.mu.Unlock()
	handle := bus.nextHandle
	bus.nextHandle++
	bus.typedListeners[eventType] = append(bus.typedListeners[eventType], TypedListener{
		Handle:    handle,
		EventType: eventType,
		Callback:  callback,
	})
	return handle
}

// Unsubscribe removes the listener identified by the provided handle.
func (bus *EventBus) Unsubscribe(handle int) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	delete(bus.listeners, handle)
	for eventType, listeners := range bus.typedListeners {
		for i := len(listeners) - 1; i >= 0; i-- {
			if listeners[i].Handle == handle {
				bus.typedListeners[eventType] = append(listeners[:i], listeners[i+1:]...)
				break
			}
		}
	}
}

// Publish delivers the event to all registered listeners synchronously.
func (bus *EventBus) Publish(event Event) {
	bus.mu.RLock()
	defer bus.mu.RUnlock()

	for _, listener := range bus.listeners {
		listener(event)
	}
	if typed, ok := bus.typedListeners[event.Type]; ok {
		for _, listener := range typed {
			listener.Callback(event)
		}
	}
}
