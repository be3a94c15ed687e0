package relay

import (
	"log/slog"

	"github.com/gofiber/contrib/websocket"
	"github.com/openconf/meshrelay/internal/metrics"
	"github.com/openconf/meshrelay/internal/sockets"
)

type Session struct {
	Socket        sockets.Socket
	ParticipantID sockets.ParticipantID
	RoomID        string
	Cleanup       func()
}

// SessionHandler registers room connections in the hub's pools and
// keeps the connection metrics in step with them.
type SessionHandler struct {
	hub *Hub
}

func NewSessionHandler(hub *Hub) *SessionHandler {
	return &SessionHandler{hub: hub}
}

func (h *SessionHandler) RegisterPresenceSession(conn *websocket.Conn, roomID string, id sockets.ParticipantID) *Session {
	socket := h.hub.Room(roomID).presence.AddSocket(id, conn)
	h.hub.Touch(roomID, id)

	metrics.ActiveParticipants.Inc()
	metrics.ActiveWebSocketConnections.Inc()
	metrics.WebSocketConnectionsTotal.Inc()

	cleanup := func() {
		metrics.ActiveParticipants.Dec()
		metrics.ActiveWebSocketConnections.Dec()
		h.hub.Room(roomID).presence.CloseSocket(id)
		h.hub.Room(roomID).lastSeen.Delete(id)
	}

	slog.Info("presence session started", "roomID", roomID, "participantID", id)

	return &Session{Socket: socket, ParticipantID: id, RoomID: roomID, Cleanup: cleanup}
}

func (h *SessionHandler) RegisterSignalSession(conn *websocket.Conn, roomID string, id sockets.ParticipantID) *Session {
	socket := h.hub.Room(roomID).signal.AddSocket(id, conn)

	metrics.ActiveWebSocketConnections.Inc()
	metrics.WebSocketConnectionsTotal.Inc()

	cleanup := func() {
		metrics.ActiveWebSocketConnections.Dec()
		h.hub.Room(roomID).signal.CloseSocket(id)
	}

	slog.Info("signal session started", "roomID", roomID, "participantID", id)

	return &Session{Socket: socket, ParticipantID: id, RoomID: roomID, Cleanup: cleanup}
}

func (h *SessionHandler) RegisterWaitingSession(conn *websocket.Conn, roomID string, id sockets.ParticipantID) *Session {
	socket := h.hub.Room(roomID).waiting.AddSocket(id, conn)

	metrics.WaitingParticipants.Inc()
	metrics.ActiveWebSocketConnections.Inc()
	metrics.WebSocketConnectionsTotal.Inc()

	cleanup := func() {
		metrics.WaitingParticipants.Dec()
		metrics.ActiveWebSocketConnections.Dec()
		h.hub.Room(roomID).waiting.CloseSocket(id)
	}

	slog.Info("waiting session started", "roomID", roomID, "participantID", id)

	return &Session{Socket: socket, ParticipantID: id, RoomID: roomID, Cleanup: cleanup}
}
