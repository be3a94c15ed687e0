package relay

import (
	"time"

	"github.com/openconf/meshrelay/internal/api"
	"github.com/openconf/meshrelay/internal/metrics"
	"github.com/openconf/meshrelay/internal/sockets"
	"github.com/openconf/meshrelay/internal/utils"
)

// roomHub holds the live connections of one room, split by topic.
// Waiting participants sit in their own pool: they receive admission
// row updates only and are invisible to the presence topic until
// admitted.
type roomHub struct {
	presence *sockets.SocketPool
	signal   *sockets.SocketPool
	waiting  *sockets.SocketPool

	lastSeen utils.SyncMapWrapper[sockets.ParticipantID, time.Time]
}

func newRoomHub() *roomHub {
	return &roomHub{
		presence: sockets.NewSocketPool(),
		signal:   sockets.NewSocketPool(),
		waiting:  sockets.NewSocketPool(),
	}
}

func (h *roomHub) close() {
	h.presence.Close()
	h.signal.Close()
	h.waiting.Close()
	h.lastSeen.Clear()
}

// Hub routes channel messages between the connected participants of
// every active room.
type Hub struct {
	rooms utils.SyncMapWrapper[string, *roomHub]
}

func NewHub() *Hub {
	return &Hub{}
}

// Room returns the hub for roomID, creating it on first use.
func (h *Hub) Room(roomID string) *roomHub {
	if room, ok := h.rooms.Load(roomID); ok {
		return room
	}
	room, _ := h.rooms.LoadOrStore(roomID, newRoomHub())
	return room
}

// BroadcastPresence fans a message out to every admitted participant
// in the room except the sender.
func (h *Hub) BroadcastPresence(roomID string, except sockets.ParticipantID, msg api.ChannelMessage) {
	room := h.Room(roomID)
	room.presence.Range(func(id sockets.ParticipantID, s sockets.Socket) bool {
		if id == except {
			return true
		}
		if err := s.WriteJSON(msg); err != nil {
			metrics.DroppedMessagesTotal.WithLabelValues("write_failed").Inc()
		}
		return true
	})
	metrics.ChannelMessagesTotal.WithLabelValues("presence", string(msg.Event), "out").Inc()
}

// SendPresence delivers a message to a single admitted participant.
func (h *Hub) SendPresence(roomID string, to sockets.ParticipantID, msg api.ChannelMessage) bool {
	s := h.Room(roomID).presence.GetSocket(to)
	if s == nil {
		metrics.DroppedMessagesTotal.WithLabelValues("recipient_offline").Inc()
		return false
	}
	if err := s.WriteJSON(msg); err != nil {
		metrics.DroppedMessagesTotal.WithLabelValues("write_failed").Inc()
		return false
	}
	metrics.ChannelMessagesTotal.WithLabelValues("presence", string(msg.Event), "out").Inc()
	return true
}

// SendSignal delivers a signaling message to the addressed participant
// alone. Signaling is strictly point to point.
func (h *Hub) SendSignal(roomID string, to sockets.ParticipantID, msg api.ChannelMessage) bool {
	s := h.Room(roomID).signal.GetSocket(to)
	if s == nil {
		metrics.DroppedMessagesTotal.WithLabelValues("recipient_offline").Inc()
		return false
	}
	if err := s.WriteJSON(msg); err != nil {
		metrics.DroppedMessagesTotal.WithLabelValues("write_failed").Inc()
		return false
	}
	metrics.ChannelMessagesTotal.WithLabelValues("signal", string(msg.Event), "out").Inc()
	return true
}

// SendWaiting pushes an admission row update to a waiting participant.
func (h *Hub) SendWaiting(roomID string, to sockets.ParticipantID, msg api.ChannelMessage) bool {
	s := h.Room(roomID).waiting.GetSocket(to)
	if s == nil {
		return false
	}
	return s.WriteJSON(msg) == nil
}

// PresenceIDs snapshots the admitted participants currently connected
// to the presence topic.
func (h *Hub) PresenceIDs(roomID string) []sockets.ParticipantID {
	var ids []sockets.ParticipantID
	h.Room(roomID).presence.Range(func(id sockets.ParticipantID, _ sockets.Socket) bool {
		ids = append(ids, id)
		return true
	})
	return ids
}

// Touch records channel activity for the stale participant sweep.
func (h *Hub) Touch(roomID string, id sockets.ParticipantID) {
	h.Room(roomID).lastSeen.Store(id, time.Now())
}

// DisconnectParticipant force-closes every connection a participant
// holds in the room. Used on host removal.
func (h *Hub) DisconnectParticipant(roomID string, id sockets.ParticipantID) {
	room := h.Room(roomID)
	room.presence.CloseSocket(id)
	room.signal.CloseSocket(id)
	room.waiting.CloseSocket(id)
	room.lastSeen.Delete(id)
}

// CloseRoom tears down every connection in the room.
func (h *Hub) CloseRoom(roomID string) {
	if room, ok := h.rooms.LoadAndDelete(roomID); ok {
		room.close()
	}
}

// SweepStale closes presence connections that produced no traffic
// within timeout. The read loop observes the close and runs its normal
// departure path.
func (h *Hub) SweepStale(timeout time.Duration) {
	cutoff := time.Now().Add(-timeout)
	h.rooms.Range(func(roomID string, room *roomHub) bool {
		room.lastSeen.Range(func(id sockets.ParticipantID, seen time.Time) bool {
			if seen.Before(cutoff) {
				room.presence.CloseSocket(id)
				room.signal.CloseSocket(id)
				room.lastSeen.Delete(id)
			}
			return true
		})
		return true
	})
}
