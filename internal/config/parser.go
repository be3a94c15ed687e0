package config

import (
	"net/netip"
	"time"

	"github.com/openconf/meshrelay/internal/api"
)

type RawServerConfig struct {
	Port         *int    `yaml:"port" json:"port"`
	PublicIP     *string `yaml:"publicIp" json:"publicIp"`
	PingInterval *int    `yaml:"pingInterval" json:"pingInterval"`
}

func (r RawServerConfig) ToDomain() ServerConfig {
	var cfg ServerConfig
	if r.Port != nil {
		cfg.Port = *r.Port
	}
	if r.PublicIP != nil {
		cfg.PublicIP = *r.PublicIP
	}
	if r.PingInterval != nil {
		cfg.PingInterval = *r.PingInterval
	}
	return cfg
}

type RawSecurityConfig struct {
	TLSCrtFile        *string   `yaml:"tlsCrtFile" json:"tlsCrtFile"`
	TLSKeyFile        *string   `yaml:"tlsKeyFile" json:"tlsKeyFile"`
	AdminsRawNetworks *[]string `yaml:"adminsNetworks" json:"adminsNetworks"`
}

func (r RawSecurityConfig) ToDomain() (SecurityConfig, error) {
	var cfg SecurityConfig
	cfg.TLSCrtFile = r.TLSCrtFile
	cfg.TLSKeyFile = r.TLSKeyFile

	if r.AdminsRawNetworks != nil {
		nets := make([]netip.Prefix, 0, len(*r.AdminsRawNetworks))
		for _, s := range *r.AdminsRawNetworks {
			p, err := netip.ParsePrefix(s)
			if err != nil {
				return SecurityConfig{}, err
			}
			nets = append(nets, p)
		}
		cfg.AdminsRawNetworks = nets
	}

	return cfg, nil
}

type RawWebRTCConfig struct {
	PeerConnectionConfig *api.PeerConnectionConfig `yaml:"peerConnectionConfig" json:"peerConnectionConfig"`
}

func (r RawWebRTCConfig) ToDomain() WebRTCConfig {
	var cfg WebRTCConfig
	if r.PeerConnectionConfig != nil {
		cfg.PeerConnectionConfig = *r.PeerConnectionConfig
	}
	return cfg
}

type RawRoomsConfig struct {
	StorePath                  *string `yaml:"storePath" json:"storePath"`
	WaitingRoomDefault         *bool   `yaml:"waitingRoomDefault" json:"waitingRoomDefault"`
	ScreenShareDefault         *bool   `yaml:"screenShareDefault" json:"screenShareDefault"`
	ScreenShareHostOnlyDefault *bool   `yaml:"screenShareHostOnlyDefault" json:"screenShareHostOnlyDefault"`
	ChatHistoryLimit           *int    `yaml:"chatHistoryLimit" json:"chatHistoryLimit"`
	StaleParticipantTimeout    *string `yaml:"staleParticipantTimeout" json:"staleParticipantTimeout"`
}

// Apply overrides cfg in place. The policy defaults are booleans, so
// an explicit false in the file must win over the compiled default;
// the zero-skipping merge cannot express that.
func (r RawRoomsConfig) Apply(cfg *RoomsConfig) error {
	if r.StorePath != nil {
		cfg.StorePath = *r.StorePath
	}
	if r.WaitingRoomDefault != nil {
		cfg.WaitingRoomDefault = *r.WaitingRoomDefault
	}
	if r.ScreenShareDefault != nil {
		cfg.ScreenShareDefault = *r.ScreenShareDefault
	}
	if r.ScreenShareHostOnlyDefault != nil {
		cfg.ScreenShareHostOnlyDefault = *r.ScreenShareHostOnlyDefault
	}
	if r.ChatHistoryLimit != nil {
		cfg.ChatHistoryLimit = *r.ChatHistoryLimit
	}
	if r.StaleParticipantTimeout != nil {
		d, err := time.ParseDuration(*r.StaleParticipantTimeout)
		if err != nil {
			return err
		}
		cfg.StaleParticipantTimeout = d
	}
	return nil
}
