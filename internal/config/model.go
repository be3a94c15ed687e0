package config

import (
	"net/netip"
	"time"

	"github.com/openconf/meshrelay/internal/api"
)

type AppConfig struct {
	Server   ServerConfig   `json:"server" yaml:"server"`
	Security SecurityConfig `json:"security" yaml:"security"`
	WebRTC   WebRTCConfig   `json:"webrtc" yaml:"webrtc"`
	Rooms    RoomsConfig    `json:"rooms" yaml:"rooms"`
}

type ServerConfig struct {
	Port         int    `json:"port" yaml:"port"`
	PublicIP     string `json:"publicIp" yaml:"publicIp"`
	PingInterval int    `json:"pingInterval" yaml:"pingInterval"` // milliseconds
}

type SecurityConfig struct {
	TLSCrtFile        *string        `json:"tlsCrtFile" yaml:"tlsCrtFile"`
	TLSKeyFile        *string        `json:"tlsKeyFile" yaml:"tlsKeyFile"`
	AdminsRawNetworks []netip.Prefix `json:"adminsNetworks" yaml:"adminsNetworks"`
}

type WebRTCConfig struct {
	PeerConnectionConfig api.PeerConnectionConfig `json:"peerConnectionConfig" yaml:"peerConnectionConfig"`
}

// RoomsConfig holds room lifecycle defaults and the state store
// location. Policy flags here are defaults for newly created rooms;
// each room carries its own copy.
type RoomsConfig struct {
	StorePath                  string        `json:"storePath" yaml:"storePath"`
	WaitingRoomDefault         bool          `json:"waitingRoomDefault" yaml:"waitingRoomDefault"`
	ScreenShareDefault         bool          `json:"screenShareDefault" yaml:"screenShareDefault"`
	ScreenShareHostOnlyDefault bool          `json:"screenShareHostOnlyDefault" yaml:"screenShareHostOnlyDefault"`
	ChatHistoryLimit           int           `json:"chatHistoryLimit" yaml:"chatHistoryLimit"`
	StaleParticipantTimeout    time.Duration `json:"staleParticipantTimeout" yaml:"staleParticipantTimeout"`
}

func DefaultAppConfig() AppConfig {
	return AppConfig{
		Server: ServerConfig{
			Port:         13478,
			PublicIP:     "",
			PingInterval: 30000,
		},
		Security: SecurityConfig{
			TLSCrtFile: nil,
			TLSKeyFile: nil,
			AdminsRawNetworks: []netip.Prefix{
				netip.MustParsePrefix("0.0.0.0/0"),
			},
		},
		WebRTC: WebRTCConfig{
			PeerConnectionConfig: api.DefaultPeerConnectionConfig(),
		},
		Rooms: RoomsConfig{
			StorePath:                  "./meshrelay.db",
			WaitingRoomDefault:         true,
			ScreenShareDefault:         true,
			ScreenShareHostOnlyDefault: false,
			ChatHistoryLimit:           200,
			StaleParticipantTimeout:    time.Minute,
		},
	}
}
