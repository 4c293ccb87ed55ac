package webrtcpeer

import (
	"bytes"
	"log/slog"
	"net"
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-audio-source/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-audio-source/internal/media"
	"github.com/wilsonzlin/aero/proxy/webrtc-audio-source/internal/readiness"
	"github.com/wilsonzlin/aero/proxy/webrtc-audio-source/internal/session"
)

func TestNewAPI_RejectsInvalidCandidateType(t *testing.T) {
	codec, _ := media.LookupCodec(media.CodecOpus, media.DefaultPayloadType)
	_, err := NewAPI(config.Config{
		WebRTCNAT1To1IPs:             []string{"203.0.113.10"},
		WebRTCNAT1To1IPCandidateType: "relay",
	}, codec, APIOptions{})
	if err == nil {
		t.Fatalf("expected error for invalid candidate type")
	}
}

func TestNewAPI_AppliesNetworkSettings(t *testing.T) {
	codec, _ := media.LookupCodec(media.CodecPCMU, 0)
	api, err := NewAPI(config.Config{
		WebRTCUDPPortRange:           &config.UDPPortRange{Min: 40000, Max: 40199},
		WebRTCNAT1To1IPs:             []string{"203.0.113.10"},
		WebRTCNAT1To1IPCandidateType: config.NAT1To1CandidateTypeSrflx,
		WebRTCUDPListenIP:            net.ParseIP("127.0.0.1"),
	}, codec, APIOptions{})
	if err != nil {
		t.Fatalf("NewAPI: %v", err)
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("NewPeerConnection: %v", err)
	}
	_ = pc.Close()
}

func TestOfferAdvertisesOnlyConfiguredCodecSendOnly(t *testing.T) {
	codec, _ := media.LookupCodec(media.CodecOpus, 111)
	api, err := NewAPI(config.Config{}, codec, APIOptions{})
	if err != nil {
		t.Fatalf("NewAPI: %v", err)
	}
	track, err := media.NewSinkTrack(codec, "test")
	if err != nil {
		t.Fatalf("NewSinkTrack: %v", err)
	}
	ep, err := NewEndpoint(api, EndpointConfig{}, track)
	if err != nil {
		t.Fatalf("NewEndpoint: %v", err)
	}
	t.Cleanup(func() { _ = ep.Close() })

	if err := ep.Start(nopEvents{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := ep.Start(nopEvents{}); err == nil {
		t.Fatalf("second Start succeeded")
	}

	sdp, err := ep.CreateOffer()
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if got := describeSDP(sdp); got != "audio:sendonly" {
		t.Fatalf("media=%q, want audio:sendonly", got)
	}
	if !strings.Contains(sdp, "a=rtpmap:111 opus/48000/2") {
		t.Fatalf("offer missing opus rtpmap:\n%s", sdp)
	}
	if strings.Contains(sdp, "PCMU") {
		t.Fatalf("offer advertises unconfigured codec:\n%s", sdp)
	}
}

func TestDescribeSDP(t *testing.T) {
	raw := "v=0\r\n" +
		"o=- 1 1 IN IP4 0.0.0.0\r\n" +
		"s=-\r\n" +
		"t=0 0\r\n" +
		"m=audio 9 UDP/TLS/RTP/SAVPF 0\r\n" +
		"c=IN IP4 0.0.0.0\r\n" +
		"a=recvonly\r\n" +
		"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
		"c=IN IP4 0.0.0.0\r\n"
	if got := describeSDP(raw); got != "audio:recvonly,video:sendrecv" {
		t.Fatalf("describeSDP=%q", got)
	}
	if got := describeSDP("garbage"); got != "unparseable" {
		t.Fatalf("describeSDP(garbage)=%q", got)
	}
}

func TestLoggerFactory_TagsScopeAndRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	l := NewLoggerFactory(log).NewLogger("ice")

	l.Debugf("hidden %d", 1)
	l.Tracef("hidden %d", 2)
	l.Warnf("visible %d", 3)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("below-level records emitted: %q", out)
	}
	if !strings.Contains(out, "visible 3") || !strings.Contains(out, "scope=ice") {
		t.Fatalf("output=%q, want scoped warn record", out)
	}
}

type nopEvents struct{}

func (nopEvents) NegotiationNeeded()                  {}
func (nopEvents) LocalCandidate(session.Candidate)    {}
func (nopEvents) TransportPadAvailable(readiness.Pad) {}
func (nopEvents) TransportFailed(error)               {}
