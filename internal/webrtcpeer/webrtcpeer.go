// Package webrtcpeer adapts a pion PeerConnection into the send-only audio
// endpoint the negotiation coordinator drives.
package webrtcpeer

import (
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/transport/v3/vnet"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-audio-source/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-audio-source/internal/media"
)

type APIOptions struct {
	// LoggerFactory receives pion's internal logs. Nil keeps pion's default.
	LoggerFactory logging.LoggerFactory
	// Net replaces the OS network stack (tests use a vnet router).
	Net *vnet.Net
}

// NewAPI builds a pion API that only knows codec, with the default
// interceptors (NACK, RTCP reports, TWCC) and the configured network settings.
func NewAPI(cfg config.Config, codec media.Codec, opts APIOptions) (*webrtc.API, error) {
	se := webrtc.SettingEngine{}
	if opts.LoggerFactory != nil {
		se.LoggerFactory = opts.LoggerFactory
	}
	if opts.Net != nil {
		se.SetNet(opts.Net)
	}
	if err := ApplyNetworkSettings(&se, cfg); err != nil {
		return nil, err
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(codec.Parameters(), webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register %s codec: %w", codec.Name, err)
	}
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	return webrtc.NewAPI(
		webrtc.WithSettingEngine(se),
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(registry),
	), nil
}

var nat1To1CandidateTypes = map[config.NAT1To1IPCandidateType]webrtc.ICECandidateType{
	"":                               webrtc.ICECandidateTypeHost,
	config.NAT1To1CandidateTypeHost:  webrtc.ICECandidateTypeHost,
	config.NAT1To1CandidateTypeSrflx: webrtc.ICECandidateTypeSrflx,
}

// ApplyNetworkSettings maps the ICE socket knobs from cfg onto se.
func ApplyNetworkSettings(se *webrtc.SettingEngine, cfg config.Config) error {
	if r := cfg.WebRTCUDPPortRange; r != nil {
		if err := se.SetEphemeralUDPPortRange(r.Min, r.Max); err != nil {
			return fmt.Errorf("udp port range %d-%d: %w", r.Min, r.Max, err)
		}
	}

	if len(cfg.WebRTCNAT1To1IPs) != 0 {
		typ, ok := nat1To1CandidateTypes[cfg.WebRTCNAT1To1IPCandidateType]
		if !ok {
			return fmt.Errorf("invalid NAT 1:1 IP candidate type %q", cfg.WebRTCNAT1To1IPCandidateType)
		}
		se.SetNAT1To1IPs(cfg.WebRTCNAT1To1IPs, typ)
	}

	// pion has no bind-address setting. The IP filter limits both candidate
	// gathering and the sockets ICE opens.
	if bindIP := cfg.WebRTCUDPListenIP; !config.IsUnspecifiedIP(bindIP) {
		se.SetIPFilter(bindIP.Equal)
	}
	return nil
}
