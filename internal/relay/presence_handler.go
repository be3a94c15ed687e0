package relay

import (
	"log/slog"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/openconf/meshrelay/internal/api"
	"github.com/openconf/meshrelay/internal/config"
	"github.com/openconf/meshrelay/internal/metrics"
	"github.com/openconf/meshrelay/internal/sockets"
	"github.com/openconf/meshrelay/internal/store"
)

// PresenceHandler serves the per-room presence topic: roster delivery,
// join/leave fanout, hand raising and chat. Waiting participants are
// parked on a separate flow that only ever sees their own admission
// row updates.
type PresenceHandler struct {
	store          *store.Store
	hub            *Hub
	sessionHandler *SessionHandler
	cfg            *config.Manager
}

func NewPresenceHandler(st *store.Store, hub *Hub, sessionHandler *SessionHandler, cfg *config.Manager) *PresenceHandler {
	return &PresenceHandler{store: st, hub: hub, sessionHandler: sessionHandler, cfg: cfg}
}

func (h *PresenceHandler) HandleSocket(c *websocket.Conn, roomID string, id sockets.ParticipantID) {
	participant, err := h.store.GetParticipant(roomID, string(id))
	if err != nil {
		slog.Warn("presence connect for unknown participant", "roomID", roomID, "participantID", id)
		_ = c.Close()
		return
	}

	switch participant.Status {
	case api.StatusAdmitted:
		h.handleAdmitted(c, roomID, id, participant)
	case api.StatusWaiting:
		h.handleWaiting(c, roomID, id)
	default:
		slog.Warn("presence connect in terminal state", "participantID", id, "status", participant.Status)
		_ = c.Close()
	}
}

func (h *PresenceHandler) handleAdmitted(c *websocket.Conn, roomID string, id sockets.ParticipantID, participant api.Participant) {
	session := h.sessionHandler.RegisterPresenceSession(c, roomID, id)
	defer session.Cleanup()

	pingInterval := time.Duration(h.cfg.Get().Server.PingInterval) * time.Millisecond
	loop := NewConnectionLoop(session.Socket, id, pingInterval)
	loop.Start()
	defer loop.Stop()

	h.sendRoster(loop, roomID)
	h.replayChat(loop, roomID)

	h.hub.BroadcastPresence(roomID, id, api.ChannelMessage{
		Event: api.EventUserJoined,
		From:  string(id),
		Joined: &api.JoinedPayload{
			ParticipantID: participant.ID,
			DisplayName:   participant.DisplayName,
			Role:          participant.Role,
		},
	})

	var message api.ChannelMessage
	for {
		if err := session.Socket.ReadJSON(&message); err != nil {
			slog.Debug("presence disconnected", "participantID", id)
			break
		}
		h.hub.Touch(roomID, id)
		metrics.ChannelMessagesTotal.WithLabelValues("presence", string(message.Event), "in").Inc()
		h.processMessage(roomID, id, participant, message)
	}

	if err := h.store.MarkLeft(roomID, string(id)); err != nil {
		slog.Error("failed to record departure", "participantID", id, "error", err)
	}
	h.hub.BroadcastPresence(roomID, id, api.ChannelMessage{
		Event: api.EventUserLeft,
		From:  string(id),
		Left:  &api.LeftPayload{ParticipantID: string(id)},
	})
}

// handleWaiting parks a waiting participant. The connection carries
// admission events toward the client and nothing else; inbound traffic
// is read only to detect disconnect and keep the socket alive.
func (h *PresenceHandler) handleWaiting(c *websocket.Conn, roomID string, id sockets.ParticipantID) {
	session := h.sessionHandler.RegisterWaitingSession(c, roomID, id)
	defer session.Cleanup()

	var message api.ChannelMessage
	for {
		if err := session.Socket.ReadJSON(&message); err != nil {
			slog.Debug("waiting participant disconnected", "participantID", id)
			return
		}
	}
}

// sendRoster delivers the current admitted membership to a newcomer.
// The roster snapshot anchors the client's initiator decisions, so it
// is the first message on a fresh presence connection.
func (h *PresenceHandler) sendRoster(loop *ConnectionLoop, roomID string) {
	admitted, err := h.store.ParticipantsByStatus(roomID, api.StatusAdmitted)
	if err != nil {
		slog.Error("failed to load roster", "roomID", roomID, "error", err)
		return
	}
	loop.SendMessage(api.ChannelMessage{Event: api.EventRoster, Roster: admitted})
}

func (h *PresenceHandler) replayChat(loop *ConnectionLoop, roomID string) {
	limit := h.cfg.Get().Rooms.ChatHistoryLimit
	history, err := h.store.RecentChat(roomID, limit)
	if err != nil {
		slog.Error("failed to load chat history", "roomID", roomID, "error", err)
		return
	}
	for i := range history {
		msg := history[i]
		loop.SendMessage(api.ChannelMessage{Event: api.EventChat, From: msg.ParticipantID, Chat: &msg})
	}
}

func (h *PresenceHandler) processMessage(roomID string, id sockets.ParticipantID, participant api.Participant, m api.ChannelMessage) {
	switch m.Event {
	case api.EventPong:
		return

	case api.EventHandRaised, api.EventHandLowered:
		metrics.HandRaisesTotal.Inc()
		h.hub.BroadcastPresence(roomID, id, api.ChannelMessage{
			Event: m.Event,
			From:  string(id),
			Hand: &api.HandPayload{
				ParticipantID: string(id),
				DisplayName:   participant.DisplayName,
				Timestamp:     time.Now().Unix(),
			},
		})

	case api.EventChat:
		if m.Chat == nil || m.Chat.Body == "" {
			return
		}
		msg := api.ChatPayload{
			ParticipantID: string(id),
			DisplayName:   participant.DisplayName,
			Body:          m.Chat.Body,
			SentAt:        time.Now().UTC(),
		}
		if err := h.store.AppendChat(roomID, msg); err != nil {
			slog.Error("failed to persist chat message", "roomID", roomID, "error", err)
		}
		metrics.ChatMessagesTotal.Inc()
		h.hub.BroadcastPresence(roomID, id, api.ChannelMessage{
			Event: api.EventChat,
			From:  string(id),
			Chat:  &msg,
		})

	default:
		metrics.DroppedMessagesTotal.WithLabelValues("unknown_event").Inc()
	}
}
