package rules

import "testing"

func TestEventBusSubscribeTyped(t *testing.T) {
	bus := NewEventBus()

	phaseChanges := 0
	turnAdvances := 0

	phaseHandle := bus.SubscribeTyped(EventPhaseChanged, func(e Event) {
		phaseChanges++
	})
	bus.SubscribeTyped(EventTurnAdvanced, func(e Event) {
		turnAdvances++
	})

	bus.Publish(Event{Type: EventPhaseChanged, SessionID: "sess-1"})
	if phaseChanges != 1 {
		t.Fatalf("expected 1 phase change, got %d", phaseChanges)
	}
	if turnAdvances != 0 {
		t.Fatalf("expected 0 turn advances, got %d", turnAdvances)
	}

	bus.Publish(Event{Type: EventTurnAdvanced, SessionID: "sess-1"})
	if phaseChanges != 1 || turnAdvances != 1 {
		t.Fatalf("expected 1/1, got %d/%d", phaseChanges, turnAdvances)
	}

	bus.Unsubscribe(phaseHandle)
	bus.Publish(Event{Type: EventPhaseChanged, SessionID: "sess-1"})
	if phaseChanges != 1 {
		t.Fatalf("unsubscribed listener still fired: %d", phaseChanges)
	}
	bus.Publish(Event{Type: EventTurnAdvanced, SessionID: "sess-1"})
	if turnAdvances != 2 {
		t.Fatalf("expected 2 turn advances, got %d", turnAdvances)
	}
}

func TestEventBusSubscribeAll(t *testing.T) {
	bus := NewEventBus()

	var seen []EventType
	handle := bus.Subscribe(func(e Event) {
		seen = append(seen, e.Type)
	})

	bus.Publish(Event{Type: EventPhaseChanged})
	bus.Publish(Event{Type: EventRollRequested})
	bus.Publish(Event{Type: EventLiveStateChanged})

	if len(seen) != 3 {
		t.Fatalf("expected 3 events, got %d", len(seen))
	}
	if seen[0] != EventPhaseChanged || seen[2] != EventLiveStateChanged {
		t.Fatalf("delivery order broken: %v", seen)
	}

	bus.Unsubscribe(handle)
	bus.Publish(Event{Type: EventNarration})
	if len(seen) != 3 {
		t.Fatalf("unsubscribed listener still fired: %d events", len(seen))
	}
}

func TestEventBusDeliversToBothListenerKinds(t *testing.T) {
	bus := NewEventBus()

	all := 0
	typed := 0
	bus.Subscribe(func(e Event) { all++ })
	bus.SubscribeTyped(EventRollResult, func(e Event) { typed++ })

	bus.Publish(Event{Type: EventRollResult, ActorID: "char-1"})
	bus.Publish(Event{Type: EventNarration})

	if all != 2 {
		t.Fatalf("expected 2 broad deliveries, got %d", all)
	}
	if typed != 1 {
		t.Fatalf("expected 1 typed delivery, got %d", typed)
	}
}

func TestEventBusNilListener(t *testing.T) {
	bus := NewEventBus()

	if handle := bus.Subscribe(nil); handle != -1 {
		t.Fatalf("expected -1 for nil listener, got %d", handle)
	}
	if handle := bus.SubscribeTyped(EventNarration, nil); handle != -1 {
		t.Fatalf("expected -1 for nil typed listener, got %d", handle)
	}
	// Must not panic with no listeners registered.
	bus.Publish(Event{Type: EventNarration})
}
