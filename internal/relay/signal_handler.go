package relay

import (
	"log/slog"

	"github.com/gofiber/contrib/websocket"
	"github.com/openconf/meshrelay/internal/api"
	"github.com/openconf/meshrelay/internal/metrics"
	"github.com/openconf/meshrelay/internal/sockets"
	"github.com/openconf/meshrelay/internal/store"
)

// SignalHandler serves the per-room signaling topic. The relay never
// inspects session descriptions; it stamps the sender and forwards
// each message to the addressed participant alone.
type SignalHandler struct {
	store          *store.Store
	hub            *Hub
	sessionHandler *SessionHandler
}

func NewSignalHandler(st *store.Store, hub *Hub, sessionHandler *SessionHandler) *SignalHandler {
	return &SignalHandler{store: st, hub: hub, sessionHandler: sessionHandler}
}

func (h *SignalHandler) HandleSocket(c *websocket.Conn, roomID string, id sockets.ParticipantID) {
	participant, err := h.store.GetParticipant(roomID, string(id))
	if err != nil || participant.Status != api.StatusAdmitted {
		slog.Warn("signal connect rejected", "roomID", roomID, "participantID", id, "error", err)
		_ = c.Close()
		return
	}

	session := h.sessionHandler.RegisterSignalSession(c, roomID, id)
	defer session.Cleanup()

	var message api.ChannelMessage
	for {
		if err := session.Socket.ReadJSON(&message); err != nil {
			slog.Debug("signal disconnected", "participantID", id)
			return
		}
		metrics.ChannelMessagesTotal.WithLabelValues("signal", string(message.Event), "in").Inc()
		h.forward(roomID, id, message)
	}
}

func (h *SignalHandler) forward(roomID string, from sockets.ParticipantID, m api.ChannelMessage) {
	switch m.Event {
	case api.EventOffer, api.EventAnswer, api.EventIceCandidate:
	case api.EventPong:
		return
	default:
		metrics.DroppedMessagesTotal.WithLabelValues("unknown_event").Inc()
		return
	}

	if m.To == "" || m.To == string(from) {
		metrics.DroppedMessagesTotal.WithLabelValues("misaddressed").Inc()
		slog.Warn("dropping misaddressed signal", "event", m.Event, "from", from, "to", m.To)
		return
	}

	// The sender field is authoritative; clients cannot spoof it.
	m.From = string(from)
	if !h.hub.SendSignal(roomID, sockets.ParticipantID(m.To), m) {
		slog.Debug("signal recipient offline", "event", m.Event, "to", m.To)
	}
}
