package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

const (
	flagWebRTCUDPPortMin             = "webrtc-udp-port-min"
	flagWebRTCUDPPortMax             = "webrtc-udp-port-max"
	flagWebRTCNAT1To1IPs             = "webrtc-nat-1to1-ips"
	flagWebRTCNAT1To1IPCandidateType = "webrtc-nat-1to1-ip-candidate-type"
	flagWebRTCUDPListenIP            = "webrtc-udp-listen-ip"
)

// minWebRTCUDPPorts rejects ranges small enough to exhaust under normal ICE
// gathering.
const minWebRTCUDPPorts = 100

type NAT1To1IPCandidateType string

const (
	NAT1To1CandidateTypeHost  NAT1To1IPCandidateType = "host"
	NAT1To1CandidateTypeSrflx NAT1To1IPCandidateType = "srflx"
)

type UDPPortRange struct {
	Min uint16
	Max uint16
}

// Size is the number of ports in the inclusive range.
func (r UDPPortRange) Size() int { return int(r.Max) - int(r.Min) + 1 }

// networkFlags holds the raw ICE socket settings between flag parsing and
// validation.
type networkFlags struct {
	portMin, portMax uint
	listenIP         string
	nat1To1IPs       string
	nat1To1Type      string
}

func (n *networkFlags) fromEnv(env *envReader) {
	n.portMin = env.port(EnvWebRTCUDPPortMin)
	n.portMax = env.port(EnvWebRTCUDPPortMax)
	n.listenIP = env.stringOr(EnvWebRTCUDPListenIP, DefaultWebRTCUDPListenIP)
	n.nat1To1IPs = env.stringOr(EnvWebRTCNAT1To1IPs, "")
	n.nat1To1Type = env.stringOr(EnvWebRTCNAT1To1IPCandidateType, string(NAT1To1CandidateTypeHost))
}

func (n *networkFlags) apply(cfg *Config) error {
	portRange, err := n.portRange()
	if err != nil {
		return err
	}
	cfg.WebRTCUDPPortRange = portRange

	cfg.WebRTCUDPListenIP = net.ParseIP(strings.TrimSpace(n.listenIP))
	if cfg.WebRTCUDPListenIP == nil {
		return fmt.Errorf("%s/--%s: %q is not an IP", EnvWebRTCUDPListenIP, flagWebRTCUDPListenIP, n.listenIP)
	}

	if strings.TrimSpace(n.nat1To1IPs) != "" {
		if cfg.WebRTCNAT1To1IPs, err = parseIPList(n.nat1To1IPs); err != nil {
			return fmt.Errorf("%s/--%s: %w", EnvWebRTCNAT1To1IPs, flagWebRTCNAT1To1IPs, err)
		}
	}

	rawType := n.nat1To1Type
	if strings.TrimSpace(rawType) == "" {
		rawType = string(NAT1To1CandidateTypeHost)
	}
	cfg.WebRTCNAT1To1IPCandidateType, err = choice("candidate type", rawType, map[string]NAT1To1IPCandidateType{
		"host":  NAT1To1CandidateTypeHost,
		"srflx": NAT1To1CandidateTypeSrflx,
	}, "host or srflx")
	if err != nil {
		return fmt.Errorf("%s/--%s: %w", EnvWebRTCNAT1To1IPCandidateType, flagWebRTCNAT1To1IPCandidateType, err)
	}
	return nil
}

// portRange returns nil when neither bound is set; pion then picks ephemeral
// ports.
func (n *networkFlags) portRange() (*UDPPortRange, error) {
	if n.portMin == 0 && n.portMax == 0 {
		return nil, nil
	}
	if n.portMin == 0 || n.portMax == 0 {
		return nil, fmt.Errorf("%s/--%s and %s/--%s must be set together",
			EnvWebRTCUDPPortMin, flagWebRTCUDPPortMin, EnvWebRTCUDPPortMax, flagWebRTCUDPPortMax)
	}
	lo, err := checkPort(n.portMin)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", flagWebRTCUDPPortMin, err)
	}
	hi, err := checkPort(n.portMax)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", flagWebRTCUDPPortMax, err)
	}
	r := UDPPortRange{Min: lo, Max: hi}
	switch {
	case lo > hi:
		return nil, fmt.Errorf("WebRTC UDP port range %d-%d is inverted", lo, hi)
	case r.Size() < minWebRTCUDPPorts:
		return nil, fmt.Errorf("WebRTC UDP port range is too small: %d ports, need at least %d", r.Size(), minWebRTCUDPPorts)
	}
	return &r, nil
}

func IsUnspecifiedIP(ip net.IP) bool {
	return ip == nil || ip.IsUnspecified()
}

func parsePort(s string) (uint16, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("not a port number")
	}
	return checkPort(uint(v))
}

func checkPort(v uint) (uint16, error) {
	if v < 1 || v > 65535 {
		return 0, fmt.Errorf("port %d outside 1-65535", v)
	}
	return uint16(v), nil
}

func parseIPList(s string) ([]string, error) {
	fields := splitCommaSeparated(s)
	if len(fields) == 0 {
		return nil, fmt.Errorf("no IPs listed")
	}
	ips := make([]string, 0, len(fields))
	for _, f := range fields {
		ip := net.ParseIP(f)
		if ip == nil {
			return nil, fmt.Errorf("%q is not an IP", f)
		}
		ips = append(ips, ip.String())
	}
	return ips, nil
}
