// Package mesh implements the client side of a full-mesh conference:
// one peer connection per remote participant, negotiated over the
// relay's signaling topic and coordinated by a single-goroutine
// negotiator.
package mesh

import (
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"
)

// newWebRTCAPI builds the pion API shared by every peer link of one
// session: default codecs, default interceptors plus periodic PLI so
// remote senders refresh keyframes, and an optional 1:1 NAT mapping
// for hosts with a known public address.
func newWebRTCAPI(publicIP string) (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("failed to register default interceptors: %w", err)
	}

	pliFactory, err := intervalpli.NewReceiverInterceptor()
	if err != nil {
		return nil, fmt.Errorf("failed to create PLI factory: %w", err)
	}
	interceptorRegistry.Add(pliFactory)

	se := webrtc.SettingEngine{}
	if publicIP != "" {
		se.SetNAT1To1IPs([]string{publicIP}, webrtc.ICECandidateTypeHost)
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	), nil
}
