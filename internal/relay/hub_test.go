package relay

import (
	"sync"
	"testing"
	"time"

	"github.com/openconf/meshrelay/internal/api"
	"github.com/openconf/meshrelay/internal/sockets"
)

type fakeSocket struct {
	mu      sync.Mutex
	written []api.ChannelMessage
	closed  bool
}

func (f *fakeSocket) ReadJSON(v interface{}) error { select {} }

func (f *fakeSocket) WriteJSON(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, v.(api.ChannelMessage))
	return nil
}

func (f *fakeSocket) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSocket) messages() []api.ChannelMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]api.ChannelMessage(nil), f.written...)
}

func (f *fakeSocket) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func TestBroadcastPresenceExcludesSender(t *testing.T) {
	t.Parallel()
	hub := NewHub()

	alice, bob, carol := &fakeSocket{}, &fakeSocket{}, &fakeSocket{}
	room := hub.Room("r1")
	room.presence.Put("alice", alice)
	room.presence.Put("bob", bob)
	room.presence.Put("carol", carol)

	hub.BroadcastPresence("r1", "alice", api.ChannelMessage{Event: api.EventChat, From: "alice"})

	if got := len(alice.messages()); got != 0 {
		t.Errorf("sender received %d messages, want 0", got)
	}
	for name, s := range map[string]*fakeSocket{"bob": bob, "carol": carol} {
		msgs := s.messages()
		if len(msgs) != 1 || msgs[0].Event != api.EventChat {
			t.Errorf("%s got %v, want one chat message", name, msgs)
		}
	}
}

func TestSendSignalAddressedOnly(t *testing.T) {
	t.Parallel()
	hub := NewHub()

	bob, carol := &fakeSocket{}, &fakeSocket{}
	room := hub.Room("r1")
	room.signal.Put("bob", bob)
	room.signal.Put("carol", carol)

	if !hub.SendSignal("r1", "bob", api.ChannelMessage{Event: api.EventOffer, From: "alice", To: "bob"}) {
		t.Fatal("SendSignal to connected participant failed")
	}
	if hub.SendSignal("r1", "nobody", api.ChannelMessage{Event: api.EventOffer}) {
		t.Error("SendSignal to unknown participant reported success")
	}

	if got := len(bob.messages()); got != 1 {
		t.Errorf("bob got %d messages, want 1", got)
	}
	if got := len(carol.messages()); got != 0 {
		t.Errorf("carol got %d messages, want 0", got)
	}
}

func TestDisconnectParticipantClosesAllTopics(t *testing.T) {
	t.Parallel()
	hub := NewHub()

	pres, sig := &fakeSocket{}, &fakeSocket{}
	room := hub.Room("r1")
	room.presence.Put("bob", pres)
	room.signal.Put("bob", sig)

	hub.DisconnectParticipant("r1", "bob")

	if !pres.isClosed() || !sig.isClosed() {
		t.Error("expected both topic connections closed")
	}
	if hub.SendPresence("r1", "bob", api.ChannelMessage{Event: api.EventChat}) {
		t.Error("presence send succeeded after disconnect")
	}
}

func TestSweepStaleClosesIdleConnections(t *testing.T) {
	t.Parallel()
	hub := NewHub()

	idle, fresh := &fakeSocket{}, &fakeSocket{}
	room := hub.Room("r1")
	room.presence.Put("idle", idle)
	room.presence.Put("fresh", fresh)
	room.lastSeen.Store("idle", time.Now().Add(-time.Hour))
	room.lastSeen.Store("fresh", time.Now())

	hub.SweepStale(time.Minute)

	if !idle.isClosed() {
		t.Error("idle connection survived the sweep")
	}
	if fresh.isClosed() {
		t.Error("fresh connection was swept")
	}
}

func TestCloseRoomDropsState(t *testing.T) {
	t.Parallel()
	hub := NewHub()

	s := &fakeSocket{}
	hub.Room("r1").presence.Put("bob", s)
	hub.CloseRoom("r1")

	if !s.isClosed() {
		t.Error("expected connection closed with the room")
	}
	if hub.Room("r1").presence.Len() != 0 {
		t.Error("expected a fresh empty hub after close")
	}
}

var _ sockets.Socket = (*fakeSocket)(nil)
