package api

import "github.com/pion/webrtc/v4"

// PeerConnectionConfig is the client-facing subset of the WebRTC
// configuration, distributed in the join response so every participant
// uses the same ICE servers.
type PeerConnectionConfig struct {
	IceServers []IceServer `json:"iceServers" yaml:"iceServers"`
}

type IceServer struct {
	URLs       []string `json:"urls" yaml:"urls"`
	Username   string   `json:"username,omitempty" yaml:"username,omitempty"`
	Credential string   `json:"credential,omitempty" yaml:"credential,omitempty"`
}

func (c PeerConnectionConfig) WebrtcConfiguration() webrtc.Configuration {
	servers := make([]webrtc.ICEServer, 0, len(c.IceServers))
	for _, s := range c.IceServers {
		server := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			server.Username = s.Username
			server.Credential = s.Credential
		}
		servers = append(servers, server)
	}
	return webrtc.Configuration{ICEServers: servers}
}

func DefaultPeerConnectionConfig() PeerConnectionConfig {
	return PeerConnectionConfig{
		IceServers: []IceServer{
			{URLs: []string{
				"stun:stun.l.google.com:19302",
				"stun:stun1.l.google.com:19302",
			}},
		},
	}
}

type CreateRoomRequest struct {
	Title               string `json:"title"`
	HostName            string `json:"hostName"`
	WaitingRoomEnabled  *bool  `json:"waitingRoomEnabled,omitempty"`
	ScreenShareEnabled  *bool  `json:"screenShareEnabled,omitempty"`
	ScreenShareHostOnly *bool  `json:"screenShareHostOnly,omitempty"`
}

// CreateRoomResponse returns the host's participant identity and the
// key authorizing host-only room actions (admission, removal, ending).
type CreateRoomResponse struct {
	Room     Room                 `json:"room"`
	HostID   string               `json:"hostId"`
	HostKey  string               `json:"hostKey"`
	PcConfig PeerConnectionConfig `json:"pcConfig"`
}

type JoinRequest struct {
	DisplayName string `json:"displayName"`
}

type JoinResponse struct {
	ParticipantID string               `json:"participantId"`
	Role          Role                 `json:"role"`
	Status        AdmissionStatus      `json:"status"`
	Room          Room                 `json:"room"`
	PcConfig      PeerConnectionConfig `json:"pcConfig"`
}

// ParticipantStatusResponse is the polling read of a participant's own
// admission status, the fallback path when the pushed row update is
// missed.
type ParticipantStatusResponse struct {
	ParticipantID string          `json:"participantId"`
	Status        AdmissionStatus `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
