package status

import (
	"testing"
	"time"

	"github.com/corpchat/chatsync/internal/bus"
)

func TestHandshakeSequence(t *testing.T) {
	m := NewMachine(nil)
	for _, to := range []State{Connecting, AwaitingHandshake, Connected} {
		if err := m.Transition(to); err != nil {
			t.Fatalf("Transition(%s) error = %v", to, err)
		}
	}
	if !m.IsConnected() {
		t.Error("IsConnected() = false after full handshake")
	}
	if err := m.Transition(Disconnected); err != nil {
		t.Fatalf("Transition(Disconnected) error = %v", err)
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Connected); err == nil {
		t.Error("Disconnected -> Connected should be rejected")
	}
	if m.Current() != Disconnected {
		t.Errorf("Current() = %s, want Disconnected after rejected transition", m.Current())
	}
}

func TestSelfTransitionIsNoop(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Disconnected); err != nil {
		t.Errorf("self transition error = %v", err)
	}
}

func TestTransitionPublishesChange(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("session.state", 8)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		change, ok := evt.Payload.(Change)
		if !ok {
			t.Fatalf("payload type = %T, want Change", evt.Payload)
		}
		if change.From != Disconnected || change.To != Connecting {
			t.Errorf("change = %+v, want Disconnected -> Connecting", change)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for state event")
	}
}
