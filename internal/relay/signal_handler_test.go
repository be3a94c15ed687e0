package relay

import (
	"testing"

	"github.com/openconf/meshrelay/internal/api"
)

func TestForwardDropsMisaddressedSignals(t *testing.T) {
	t.Parallel()
	hub := NewHub()
	h := NewSignalHandler(nil, hub, nil)

	bob := &fakeSocket{}
	hub.Room("r1").signal.Put("bob", bob)

	h.forward("r1", "alice", api.ChannelMessage{Event: api.EventOffer})
	h.forward("r1", "alice", api.ChannelMessage{Event: api.EventOffer, To: "alice"})

	if got := len(bob.messages()); got != 0 {
		t.Fatalf("bob got %d messages, want 0 after misaddressed sends", got)
	}

	h.forward("r1", "alice", api.ChannelMessage{Event: api.EventOffer, To: "bob", From: "mallory"})

	msgs := bob.messages()
	if len(msgs) != 1 {
		t.Fatalf("bob got %d messages, want 1", len(msgs))
	}
	if msgs[0].From != "alice" {
		t.Errorf("forwarded From = %q, want the authenticated sender", msgs[0].From)
	}
}

func TestForwardDropsNonSignalEvents(t *testing.T) {
	t.Parallel()
	hub := NewHub()
	h := NewSignalHandler(nil, hub, nil)

	bob := &fakeSocket{}
	hub.Room("r1").signal.Put("bob", bob)

	h.forward("r1", "alice", api.ChannelMessage{Event: api.EventChat, To: "bob"})

	if got := len(bob.messages()); got != 0 {
		t.Errorf("bob got %d messages, want 0 for a non-signal event", got)
	}
}
