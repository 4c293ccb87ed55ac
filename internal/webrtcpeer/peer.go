package webrtcpeer

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-audio-source/internal/media"
	"github.com/wilsonzlin/aero/proxy/webrtc-audio-source/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-audio-source/internal/readiness"
	"github.com/wilsonzlin/aero/proxy/webrtc-audio-source/internal/session"
)

var ErrPeerConnectionFailed = errors.New("peer connection failed")

// Events receives transport notifications. Implementations must not block;
// pion invokes them from its own goroutines.
type Events interface {
	NegotiationNeeded()
	LocalCandidate(c session.Candidate)
	TransportPadAvailable(pad readiness.Pad)
	TransportFailed(cause error)
}

type EndpointConfig struct {
	ICEServers []webrtc.ICEServer
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

// Endpoint owns the server-side PeerConnection carrying the single outgoing
// audio track.
type Endpoint struct {
	pc      *webrtc.PeerConnection
	track   *media.SinkTrack
	log     *slog.Logger
	metrics *metrics.Metrics

	startOnce sync.Once
	closeOnce sync.Once
}

func NewEndpoint(api *webrtc.API, cfg EndpointConfig, track *media.SinkTrack) (*Endpoint, error) {
	if api == nil {
		return nil, errors.New("webrtcpeer: api is required")
	}
	if track == nil {
		return nil, errors.New("webrtcpeer: track is required")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers:   cfg.ICEServers,
		BundlePolicy: webrtc.BundlePolicyMaxBundle,
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	return &Endpoint{
		pc:      pc,
		track:   track,
		log:     log.With("component", "webrtc"),
		metrics: cfg.Metrics,
	}, nil
}

// Start wires transport callbacks to events and adds the send-only audio
// transceiver, which makes pion signal that negotiation is needed.
func (e *Endpoint) Start(events Events) error {
	err := errors.New("webrtcpeer: endpoint already started")
	e.startOnce.Do(func() { err = e.start(events) })
	return err
}

func (e *Endpoint) start(events Events) error {
	e.pc.OnNegotiationNeeded(func() {
		e.log.Debug("negotiation needed")
		events.NegotiationNeeded()
	})
	e.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			e.log.Debug("local ICE gathering complete")
			return
		}
		events.LocalCandidate(candidateFromInit(c.ToJSON()))
	})
	e.pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		e.log.Info("ICE connection state changed", "state", state.String())
	})
	e.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		e.log.Info("peer connection state changed", "state", state.String())
		if state == webrtc.PeerConnectionStateFailed {
			events.TransportFailed(ErrPeerConnectionFailed)
		}
	})
	e.track.OnPad(events.TransportPadAvailable)

	tr, err := e.pc.AddTransceiverFromTrack(e.track, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendonly,
	})
	if err != nil {
		return fmt.Errorf("add audio transceiver: %w", err)
	}
	go e.readRTCP(tr.Sender())
	return nil
}

func (e *Endpoint) CreateOffer() (string, error) {
	offer, err := e.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	return offer.SDP, nil
}

func (e *Endpoint) SetLocalDescription(sdp string) error {
	return e.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp})
}

func (e *Endpoint) SetRemoteDescription(sdp string) error {
	if err := e.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}); err != nil {
		return err
	}
	e.log.Debug("remote answer accepted", "media", describeSDP(sdp))
	return nil
}

func (e *Endpoint) AddICECandidate(c session.Candidate) error {
	idx := c.SDPMLineIndex
	return e.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    &idx,
		UsernameFragment: c.UsernameFragment,
	})
}

func (e *Endpoint) AttachTransportSink(pad readiness.Pad) error {
	return e.track.Link(pad)
}

func (e *Endpoint) ConnectionState() webrtc.PeerConnectionState {
	return e.pc.ConnectionState()
}

func (e *Endpoint) Close() error {
	var err error
	e.closeOnce.Do(func() {
		err = e.pc.Close()
	})
	return err
}

// readRTCP drains the sender's RTCP so interceptors keep running, and counts
// receiver reports from the remote peer.
func (e *Endpoint) readRTCP(sender *webrtc.RTPSender) {
	for {
		pkts, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range pkts {
			rr, ok := pkt.(*rtcp.ReceiverReport)
			if !ok {
				continue
			}
			for _, report := range rr.Reports {
				e.metrics.Inc(metrics.RTCPReceiverReport)
				e.log.Debug("receiver report",
					"ssrc", report.SSRC,
					"fraction_lost", float64(report.FractionLost)/256,
					"total_lost", report.TotalLost,
					"jitter", report.Jitter,
				)
			}
		}
	}
}

func candidateFromInit(init webrtc.ICECandidateInit) session.Candidate {
	c := session.Candidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		UsernameFragment: init.UsernameFragment,
	}
	if init.SDPMLineIndex != nil {
		c.SDPMLineIndex = *init.SDPMLineIndex
	}
	return c
}
