// Package webrtcpeer adapts pion/webrtc PeerConnections and DataChannels to
// the session package's transport interfaces.
package webrtcpeer

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-peer-drop/internal/config"
)

// NewAPI builds a pion API from cfg. opts run last and may override anything,
// e.g. to swap in a virtual network for tests.
func NewAPI(cfg config.Config, logger *slog.Logger, opts ...func(*webrtc.SettingEngine)) (*webrtc.API, error) {
	se := webrtc.SettingEngine{}
	if logger != nil {
		se.LoggerFactory = NewSlogLoggerFactory(logger)
	}
	if err := ApplyNetworkSettings(&se, cfg); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		opt(&se)
	}
	return webrtc.NewAPI(webrtc.WithSettingEngine(se)), nil
}

func ApplyNetworkSettings(se *webrtc.SettingEngine, cfg config.Config) error {
	if cfg.WebRTCUDPPortRange != nil {
		if err := se.SetEphemeralUDPPortRange(cfg.WebRTCUDPPortRange.Min, cfg.WebRTCUDPPortRange.Max); err != nil {
			return fmt.Errorf("set ephemeral udp port range: %w", err)
		}
	}

	if len(cfg.WebRTCNAT1To1IPs) > 0 {
		var candidateType webrtc.ICECandidateType
		switch cfg.WebRTCNAT1To1IPCandidateType {
		case config.NAT1To1CandidateTypeHost:
			candidateType = webrtc.ICECandidateTypeHost
		case config.NAT1To1CandidateTypeSrflx:
			candidateType = webrtc.ICECandidateTypeSrflx
		default:
			return fmt.Errorf("invalid NAT 1:1 IP candidate type %q", cfg.WebRTCNAT1To1IPCandidateType)
		}
		se.SetNAT1To1IPs(cfg.WebRTCNAT1To1IPs, candidateType)
	}

	// There is no bind-address knob; IPFilter restricts both gathering and
	// socket binding.
	if !config.IsUnspecifiedIP(cfg.WebRTCUDPListenIP) {
		listenIP := cfg.WebRTCUDPListenIP
		se.SetIPFilter(func(ip net.IP) bool {
			return ip.Equal(listenIP)
		})
	}

	if cfg.WebRTCSCTPMaxReceiveBufferBytes > 0 {
		se.SetSCTPMaxReceiveBufferSize(uint32(cfg.WebRTCSCTPMaxReceiveBufferBytes))
	}
	return nil
}
