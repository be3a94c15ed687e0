package relay

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/openconf/meshrelay/internal/api"
	"github.com/openconf/meshrelay/internal/config"
	"github.com/openconf/meshrelay/internal/metrics"
	"github.com/openconf/meshrelay/internal/sockets"
	"github.com/openconf/meshrelay/internal/store"
)

const hostKeyHeader = "X-Host-Key"

// AdmissionAPI is the REST surface for room lifecycle and membership
// decisions. Every decision lands in the store first; the pushed row
// update toward the affected participant is best effort and the
// polling read covers a missed push.
type AdmissionAPI struct {
	store *store.Store
	hub   *Hub
	cfg   *config.Manager
}

func NewAdmissionAPI(st *store.Store, hub *Hub, cfg *config.Manager) *AdmissionAPI {
	return &AdmissionAPI{store: st, hub: hub, cfg: cfg}
}

func (a *AdmissionAPI) Setup(app *fiber.App) {
	app.Post("/api/rooms", a.handleCreateRoom)
	app.Post("/api/rooms/:room/join", a.handleJoin)
	app.Get("/api/rooms/:room/participants/:id", a.handleParticipantStatus)
	app.Get("/api/rooms/:room/waiting", a.handleListWaiting)
	app.Post("/api/rooms/:room/participants/:id/admit", a.handleAdmit)
	app.Post("/api/rooms/:room/participants/:id/deny", a.handleDeny)
	app.Post("/api/rooms/:room/participants/:id/remove", a.handleRemove)
	app.Post("/api/rooms/:room/lock", a.handleLock)
	app.Post("/api/rooms/:room/unlock", a.handleUnlock)
	app.Post("/api/rooms/:room/end", a.handleEnd)
}

func (a *AdmissionAPI) handleCreateRoom(c *fiber.Ctx) error {
	var req api.CreateRoomRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(api.ErrorResponse{Error: "invalid request body"})
	}
	if req.Title == "" || req.HostName == "" {
		return c.Status(fiber.StatusBadRequest).JSON(api.ErrorResponse{Error: "title and hostName are required"})
	}

	cfg := a.cfg.Get()
	opts := store.RoomOptions{
		Title:               req.Title,
		HostName:            req.HostName,
		WaitingRoomEnabled:  cfg.Rooms.WaitingRoomDefault,
		ScreenShareEnabled:  cfg.Rooms.ScreenShareDefault,
		ScreenShareHostOnly: cfg.Rooms.ScreenShareHostOnlyDefault,
	}
	if req.WaitingRoomEnabled != nil {
		opts.WaitingRoomEnabled = *req.WaitingRoomEnabled
	}
	if req.ScreenShareEnabled != nil {
		opts.ScreenShareEnabled = *req.ScreenShareEnabled
	}
	if req.ScreenShareHostOnly != nil {
		opts.ScreenShareHostOnly = *req.ScreenShareHostOnly
	}

	room, hostID, hostKey, err := a.store.CreateRoom(opts)
	if err != nil {
		slog.Error("failed to create room", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(api.ErrorResponse{Error: "failed to create room"})
	}

	metrics.ActiveRooms.Inc()
	metrics.RoomsCreatedTotal.Inc()
	slog.Info("room created", "roomID", room.ID, "title", room.Title)

	return c.JSON(api.CreateRoomResponse{
		Room:     room,
		HostID:   hostID,
		HostKey:  hostKey,
		PcConfig: cfg.WebRTC.PeerConnectionConfig,
	})
}

func (a *AdmissionAPI) handleJoin(c *fiber.Ctx) error {
	roomID := c.Params("room")

	var req api.JoinRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(api.ErrorResponse{Error: "invalid request body"})
	}
	if req.DisplayName == "" {
		return c.Status(fiber.StatusBadRequest).JSON(api.ErrorResponse{Error: "displayName is required"})
	}

	participant, err := a.store.AddParticipant(roomID, req.DisplayName)
	switch {
	case errors.Is(err, store.ErrRoomNotFound):
		return c.Status(fiber.StatusNotFound).JSON(api.ErrorResponse{Error: "room not found"})
	case errors.Is(err, store.ErrRoomEnded):
		return c.Status(fiber.StatusGone).JSON(api.ErrorResponse{Error: "room has ended"})
	case errors.Is(err, store.ErrRoomLocked):
		return c.Status(fiber.StatusForbidden).JSON(api.ErrorResponse{Error: "room is locked"})
	case err != nil:
		slog.Error("failed to join room", "roomID", roomID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(api.ErrorResponse{Error: "failed to join room"})
	}

	room, err := a.store.GetRoom(roomID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(api.ErrorResponse{Error: "failed to load room"})
	}

	metrics.ParticipantsJoinedTotal.Inc()
	slog.Info("participant joined", "roomID", roomID, "participantID", participant.ID, "status", participant.Status)

	return c.JSON(api.JoinResponse{
		ParticipantID: participant.ID,
		Role:          participant.Role,
		Status:        participant.Status,
		Room:          room,
		PcConfig:      a.cfg.Get().WebRTC.PeerConnectionConfig,
	})
}

// handleParticipantStatus is the polling read of one's own admission
// row, the fallback for a missed push.
func (a *AdmissionAPI) handleParticipantStatus(c *fiber.Ctx) error {
	participant, err := a.store.GetParticipant(c.Params("room"), c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(api.ErrorResponse{Error: "participant not found"})
	}
	return c.JSON(api.ParticipantStatusResponse{
		ParticipantID: participant.ID,
		Status:        participant.Status,
	})
}

func (a *AdmissionAPI) handleListWaiting(c *fiber.Ctx) error {
	roomID := c.Params("room")
	if err := a.requireHost(c, roomID); err != nil {
		return err
	}
	waiting, err := a.store.ParticipantsByStatus(roomID, api.StatusWaiting)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(api.ErrorResponse{Error: "failed to list waiting participants"})
	}
	return c.JSON(waiting)
}

func (a *AdmissionAPI) handleAdmit(c *fiber.Ctx) error {
	return a.decide(c, api.StatusAdmitted)
}

func (a *AdmissionAPI) handleDeny(c *fiber.Ctx) error {
	return a.decide(c, api.StatusDenied)
}

// decide applies a host admission decision. The store transition is
// one-shot; a decision that arrives second reports conflict and the
// first decision stands.
func (a *AdmissionAPI) decide(c *fiber.Ctx, status api.AdmissionStatus) error {
	roomID := c.Params("room")
	participantID := c.Params("id")

	if err := a.requireHost(c, roomID); err != nil {
		return err
	}

	err := a.store.Decide(roomID, participantID, status)
	switch {
	case errors.Is(err, store.ErrParticipantNotFound):
		return c.Status(fiber.StatusNotFound).JSON(api.ErrorResponse{Error: "participant not found"})
	case errors.Is(err, store.ErrNotWaiting):
		return c.Status(fiber.StatusConflict).JSON(api.ErrorResponse{Error: "participant is not waiting"})
	case err != nil:
		return c.Status(fiber.StatusInternalServerError).JSON(api.ErrorResponse{Error: "failed to apply decision"})
	}

	metrics.AdmissionDecisionsTotal.WithLabelValues(string(status)).Inc()
	slog.Info("admission decision", "roomID", roomID, "participantID", participantID, "status", status)

	a.hub.SendWaiting(roomID, sockets.ParticipantID(participantID), api.ChannelMessage{
		Event:     api.EventAdmission,
		Admission: &api.AdmissionPayload{ParticipantID: participantID, Status: status},
	})

	return c.SendStatus(fiber.StatusNoContent)
}

func (a *AdmissionAPI) handleRemove(c *fiber.Ctx) error {
	roomID := c.Params("room")
	participantID := c.Params("id")

	if err := a.requireHost(c, roomID); err != nil {
		return err
	}

	if err := a.store.Remove(roomID, participantID); err != nil {
		if errors.Is(err, store.ErrParticipantNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(api.ErrorResponse{Error: "participant not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(api.ErrorResponse{Error: "failed to remove participant"})
	}

	slog.Info("participant removed", "roomID", roomID, "participantID", participantID)

	// Tell the removed participant first, then everyone else.
	a.hub.SendPresence(roomID, sockets.ParticipantID(participantID), api.ChannelMessage{
		Event:     api.EventAdmission,
		Admission: &api.AdmissionPayload{ParticipantID: participantID, Status: api.StatusRemoved},
	})
	a.hub.DisconnectParticipant(roomID, sockets.ParticipantID(participantID))
	a.hub.BroadcastPresence(roomID, sockets.ParticipantID(participantID), api.ChannelMessage{
		Event: api.EventUserLeft,
		From:  participantID,
		Left:  &api.LeftPayload{ParticipantID: participantID},
	})

	return c.SendStatus(fiber.StatusNoContent)
}

func (a *AdmissionAPI) handleLock(c *fiber.Ctx) error {
	return a.setLocked(c, true)
}

func (a *AdmissionAPI) handleUnlock(c *fiber.Ctx) error {
	return a.setLocked(c, false)
}

func (a *AdmissionAPI) setLocked(c *fiber.Ctx, locked bool) error {
	roomID := c.Params("room")
	if err := a.requireHost(c, roomID); err != nil {
		return err
	}
	if err := a.store.SetLocked(roomID, locked); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(api.ErrorResponse{Error: "failed to update room"})
	}
	slog.Info("room lock changed", "roomID", roomID, "locked", locked)
	return c.SendStatus(fiber.StatusNoContent)
}

func (a *AdmissionAPI) handleEnd(c *fiber.Ctx) error {
	roomID := c.Params("room")
	if err := a.requireHost(c, roomID); err != nil {
		return err
	}

	if err := a.store.EndRoom(roomID); err != nil {
		if errors.Is(err, store.ErrRoomNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(api.ErrorResponse{Error: "room not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(api.ErrorResponse{Error: "failed to end room"})
	}

	metrics.ActiveRooms.Dec()
	metrics.RoomsEndedTotal.Inc()
	slog.Info("room ended", "roomID", roomID)

	a.hub.BroadcastPresence(roomID, "", api.ChannelMessage{Event: api.EventMeetingEnded})
	a.hub.CloseRoom(roomID)

	return c.SendStatus(fiber.StatusNoContent)
}

func (a *AdmissionAPI) requireHost(c *fiber.Ctx, roomID string) error {
	err := a.store.CheckHostKey(roomID, c.Get(hostKeyHeader))
	switch {
	case errors.Is(err, store.ErrRoomNotFound):
		return c.Status(fiber.StatusNotFound).JSON(api.ErrorResponse{Error: "room not found"})
	case errors.Is(err, store.ErrNotHost):
		return c.Status(fiber.StatusForbidden).JSON(api.ErrorResponse{Error: "host key required"})
	case err != nil:
		return c.Status(fiber.StatusInternalServerError).JSON(api.ErrorResponse{Error: "failed to authorize"})
	}
	return nil
}
