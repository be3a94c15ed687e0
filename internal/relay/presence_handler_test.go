package relay

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/openconf/meshrelay/internal/api"
	"github.com/openconf/meshrelay/internal/store"
)

func TestSendRosterExcludesWaitingParticipants(t *testing.T) {
	t.Parallel()

	st, err := store.Open(filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	room, hostID, _, err := st.CreateRoom(store.RoomOptions{
		Title: "m", HostName: "host", WaitingRoomEnabled: true,
	})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	waiting, err := st.AddParticipant(room.ID, "bob")
	if err != nil {
		t.Fatalf("AddParticipant: %v", err)
	}
	if waiting.Status != api.StatusWaiting {
		t.Fatalf("joiner status = %q, want waiting", waiting.Status)
	}

	h := NewPresenceHandler(st, NewHub(), nil, nil)
	socket := &fakeSocket{}
	loop := NewConnectionLoop(socket, "host", time.Minute)
	loop.Start()

	h.sendRoster(loop, room.ID)

	deadline := time.Now().Add(2 * time.Second)
	for len(socket.messages()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	loop.Stop()

	msgs := socket.messages()
	if len(msgs) != 1 || msgs[0].Event != api.EventRoster {
		t.Fatalf("got %v, want one roster message", msgs)
	}
	roster := msgs[0].Roster
	if len(roster) != 1 {
		t.Fatalf("roster holds %d members, want only the admitted host", len(roster))
	}
	if roster[0].ID != hostID {
		t.Errorf("roster member = %q, want host %q", roster[0].ID, hostID)
	}
}
