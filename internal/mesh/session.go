package mesh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openconf/meshrelay/internal/api"
	"github.com/valyala/fasthttp"
)

// DefaultAdmissionTimeout bounds how long a join waits on the host.
const DefaultAdmissionTimeout = 5 * time.Minute

var (
	ErrAdmissionDenied = errors.New("the host denied admission")
	ErrRemovedFromRoom = errors.New("removed from the room by the host")
	ErrScreenShareOff  = errors.New("screen sharing is disabled in this room")
	ErrScreenShareHost = errors.New("only the host may share a screen in this room")
)

// SessionConfig configures one participant's attendance.
type SessionConfig struct {
	RelayURL    string // http(s) base, e.g. https://relay.example.com
	RoomID      string
	DisplayName string
	PublicIP    string

	AdmissionTimeout time.Duration

	// OnRemoteStream fires for every classified remote track.
	OnRemoteStream func(RemoteStream)
	// OnPresence fires for roster, join/leave, hand and chat events.
	OnPresence func(api.ChannelMessage)
}

// Session is one participant's connection to a room: the two channel
// topics, the local media source and the mesh negotiator.
type Session struct {
	cfg  SessionConfig
	room api.Room

	participantID string
	role          api.Role

	presence   *Channel
	signal     *Channel
	media      *LocalMediaSource
	negotiator *Negotiator

	cancel context.CancelFunc
}

// Join runs the whole entry flow: the join request, the waiting room
// if the host enabled it, then channel subscription and mesh
// activation.
func Join(cfg SessionConfig) (*Session, error) {
	if cfg.AdmissionTimeout == 0 {
		cfg.AdmissionTimeout = DefaultAdmissionTimeout
	}

	joinResp, err := requestJoin(cfg)
	if err != nil {
		return nil, err
	}

	s := &Session{
		cfg:           cfg,
		room:          joinResp.Room,
		participantID: joinResp.ParticipantID,
		role:          joinResp.Role,
	}

	if joinResp.Status == api.StatusWaiting {
		if err := s.awaitAdmission(); err != nil {
			return nil, err
		}
	}

	if err := s.activate(joinResp.PcConfig); err != nil {
		s.Leave()
		return nil, err
	}
	return s, nil
}

func (s *Session) ParticipantID() string    { return s.participantID }
func (s *Session) Role() api.Role           { return s.role }
func (s *Session) Room() api.Room           { return s.room }
func (s *Session) Media() *LocalMediaSource { return s.media }

// awaitAdmission parks on the waiting flow: the presence endpoint
// delivers admission row updates, the status endpoint is polled as a
// fallback, and the first terminal decision settles the join.
func (s *Session) awaitAdmission() error {
	waiting, err := DialChannel(s.channelURL("presence"))
	if err != nil {
		return fmt.Errorf("failed to join waiting room: %w", err)
	}
	defer waiting.Close()

	coordinator := NewAdmissionCoordinator(s.statusURL())
	go waiting.ReadLoop(func(m api.ChannelMessage) {
		if m.Event == api.EventAdmission && m.Admission != nil {
			coordinator.Deliver(m.Admission.Status)
		}
	})

	status, err := coordinator.Wait(s.cfg.AdmissionTimeout)
	if err != nil {
		return err
	}

	switch status {
	case api.StatusAdmitted:
		slog.Info("admitted to room", "roomID", s.cfg.RoomID)
		return nil
	case api.StatusDenied:
		return ErrAdmissionDenied
	case api.StatusRemoved:
		return ErrRemovedFromRoom
	}
	return fmt.Errorf("unexpected admission status %q", status)
}

// activate builds the media source and negotiator, then subscribes to
// both topics. The signal subscription comes first so no offer from a
// fast peer can be missed while the roster is in flight.
func (s *Session) activate(pcConfig api.PeerConnectionConfig) error {
	media, err := NewLocalMediaSource()
	if err != nil {
		return err
	}
	s.media = media

	webrtcAPI, err := newWebRTCAPI(s.cfg.PublicIP)
	if err != nil {
		return err
	}

	signal, err := DialChannel(s.channelURL("signal"))
	if err != nil {
		return fmt.Errorf("failed to subscribe to signaling: %w", err)
	}
	s.signal = signal

	s.negotiator = NewNegotiator(
		s.participantID, webrtcAPI, pcConfig.WebrtcConfiguration(),
		channelSignalSender{signal}, media,
	)
	if s.cfg.OnRemoteStream != nil {
		s.negotiator.OnRemoteStream(s.cfg.OnRemoteStream)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.negotiator.Run(ctx)
	go signal.ReadLoop(s.negotiator.HandleChannelMessage)

	presence, err := DialChannel(s.channelURL("presence"))
	if err != nil {
		return fmt.Errorf("failed to subscribe to presence: %w", err)
	}
	s.presence = presence
	go presence.ReadLoop(func(m api.ChannelMessage) {
		s.negotiator.HandleChannelMessage(m)
		if s.cfg.OnPresence != nil {
			s.cfg.OnPresence(m)
		}
	})

	return nil
}

func (s *Session) RaiseHand() error {
	return s.presence.Send(api.ChannelMessage{Event: api.EventHandRaised})
}

func (s *Session) LowerHand() error {
	return s.presence.Send(api.ChannelMessage{Event: api.EventHandLowered})
}

func (s *Session) SendChat(body string) error {
	return s.presence.Send(api.ChannelMessage{
		Event: api.EventChat,
		Chat:  &api.ChatPayload{Body: body},
	})
}

// StartScreenShare checks the room policy locally before touching the
// mesh; the relay distributes the policy at join time.
func (s *Session) StartScreenShare() error {
	if !s.room.ScreenShareEnabled {
		return ErrScreenShareOff
	}
	if s.room.ScreenShareHostOnly && s.role != api.RoleHost {
		return ErrScreenShareHost
	}
	s.negotiator.StartScreenShare()
	return nil
}

func (s *Session) StopScreenShare() {
	s.negotiator.StopScreenShare()
}

func (s *Session) SetAudioMuted(muted bool) { s.media.SetAudioMuted(muted) }
func (s *Session) SetVideoMuted(muted bool) { s.media.SetVideoMuted(muted) }

// Leave tears the session down: negotiator first so links close
// cleanly, then the channel connections.
func (s *Session) Leave() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.signal != nil {
		_ = s.signal.Close()
	}
	if s.presence != nil {
		_ = s.presence.Close()
	}
}

type channelSignalSender struct {
	channel *Channel
}

func (c channelSignalSender) SendSignal(msg api.ChannelMessage) error {
	return c.channel.Send(msg)
}

func (s *Session) channelURL(topic string) string {
	base := strings.Replace(s.cfg.RelayURL, "http", "ws", 1)
	return fmt.Sprintf("%s/ws/rooms/%s/%s?participantId=%s", base, s.cfg.RoomID, topic, s.participantID)
}

func (s *Session) statusURL() string {
	return fmt.Sprintf("%s/api/rooms/%s/participants/%s", s.cfg.RelayURL, s.cfg.RoomID, s.participantID)
}

func requestJoin(cfg SessionConfig) (*api.JoinResponse, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	body, err := json.Marshal(api.JoinRequest{DisplayName: cfg.DisplayName})
	if err != nil {
		return nil, err
	}

	req.SetRequestURI(fmt.Sprintf("%s/api/rooms/%s/join", cfg.RelayURL, cfg.RoomID))
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	client := &fasthttp.Client{}
	if err := client.DoTimeout(req, resp, 10*time.Second); err != nil {
		return nil, fmt.Errorf("join request failed: %w", err)
	}

	if resp.StatusCode() != fasthttp.StatusOK {
		var apiErr api.ErrorResponse
		if json.Unmarshal(resp.Body(), &apiErr) == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("join rejected: %s", apiErr.Error)
		}
		return nil, fmt.Errorf("join rejected with status %d", resp.StatusCode())
	}

	var joinResp api.JoinResponse
	if err := json.Unmarshal(resp.Body(), &joinResp); err != nil {
		return nil, fmt.Errorf("failed to decode join response: %w", err)
	}
	return &joinResp, nil
}
