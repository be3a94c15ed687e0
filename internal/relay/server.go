package relay

import (
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/openconf/meshrelay/internal/config"
	"github.com/openconf/meshrelay/internal/sockets"
	"github.com/openconf/meshrelay/internal/store"
	"github.com/openconf/meshrelay/internal/utils"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server wires the room channel endpoints and the admission REST API
// onto a Fiber application.
//
// Endpoints:
//   - GET /ws/rooms/:room/presence?participantId=... roster, chat, hands, admission
//   - GET /ws/rooms/:room/signal?participantId=...   point-to-point SDP and ICE
//   - /api/rooms...                                  room lifecycle and admission
//   - GET /metrics                                   Prometheus scrape (IP-restricted)
type Server struct {
	app             *fiber.App
	cfg             *config.Manager
	store           *store.Store
	hub             *Hub
	sessionHandler  *SessionHandler
	presenceHandler *PresenceHandler
	signalHandler   *SignalHandler
	admissionAPI    *AdmissionAPI
	staleSweepTimer utils.IntervalTimer
}

func NewServer(cfg *config.Manager, st *store.Store, app *fiber.App) *Server {
	hub := NewHub()
	sessionHandler := NewSessionHandler(hub)

	s := &Server{
		app:             app,
		cfg:             cfg,
		store:           st,
		hub:             hub,
		sessionHandler:  sessionHandler,
		presenceHandler: NewPresenceHandler(st, hub, sessionHandler, cfg),
		signalHandler:   NewSignalHandler(st, hub, sessionHandler),
		admissionAPI:    NewAdmissionAPI(st, hub, cfg),
	}

	timeout := cfg.Get().Rooms.StaleParticipantTimeout
	s.staleSweepTimer = utils.SetIntervalTimer(timeout, func() {
		hub.SweepStale(timeout)
	})

	return s
}

func (s *Server) Close() {
	s.staleSweepTimer.Stop()
	s.hub.rooms.Range(func(roomID string, _ *roomHub) bool {
		s.hub.CloseRoom(roomID)
		return true
	})
}

func (s *Server) SetupRoutes() {
	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	s.app.Get("/ws/rooms/:room/presence", websocket.New(func(c *websocket.Conn) {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("panic in presence handler", "error", err)
			}
		}()

		roomID, id, ok := channelParams(c)
		if !ok {
			_ = c.Close()
			return
		}
		s.presenceHandler.HandleSocket(c, roomID, id)
	}))

	s.app.Get("/ws/rooms/:room/signal", websocket.New(func(c *websocket.Conn) {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("panic in signal handler", "error", err)
			}
		}()

		roomID, id, ok := channelParams(c)
		if !ok {
			_ = c.Close()
			return
		}
		s.signalHandler.HandleSocket(c, roomID, id)
	}))

	s.admissionAPI.Setup(s.app)

	metricsHandler := adaptor.HTTPHandler(promhttp.Handler())
	s.app.Get("/metrics", func(c *fiber.Ctx) error {
		allowed, err := s.isAdminIPAddr(c.Context().RemoteAddr().String())
		if err != nil || !allowed {
			return fiber.ErrForbidden
		}
		return metricsHandler(c)
	})

	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
}

func channelParams(c *websocket.Conn) (string, sockets.ParticipantID, bool) {
	roomID := c.Params("room")
	participantID := c.Query("participantId")
	if roomID == "" || participantID == "" {
		slog.Warn("channel connect missing identifiers", "roomID", roomID)
		return "", "", false
	}
	return roomID, sockets.ParticipantID(participantID), true
}

// isAdminIPAddr checks the remote address against the configured admin
// networks.
func (s *Server) isAdminIPAddr(addrPort string) (bool, error) {
	ip, err := netip.ParseAddrPort(addrPort)
	if err != nil {
		return false, fmt.Errorf("can not parse admin ipaddr, error - %v", err)
	}

	for _, n := range s.cfg.Get().Security.AdminsRawNetworks {
		if n.Contains(ip.Addr()) {
			return true, nil
		}
	}
	return false, nil
}

// PingInterval exposes the configured keepalive cadence for clients.
func (s *Server) PingInterval() time.Duration {
	return time.Duration(s.cfg.Get().Server.PingInterval) * time.Millisecond
}
