// Command listener-go is a headless stand-in for the browser: it connects to
// the signaling WebSocket, answers the offer, trickles candidates both ways and
// exits once it has received enough RTP on the audio track.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"golang.org/x/net/websocket"
	"golang.org/x/sync/errgroup"
)

type signalMessage struct {
	Type string                   `json:"type,omitempty"`
	SDP  string                   `json:"sdp,omitempty"`
	ICE  *webrtc.ICECandidateInit `json:"ice,omitempty"`
}

type rtpStats struct {
	packets  int
	gaps     int
	lastSeq  uint16
	haveSeq  bool
	ssrc     uint32
	mimeType string
}

func (s *rtpStats) observe(pkt *rtp.Packet) {
	if s.haveSeq && pkt.SequenceNumber != s.lastSeq+1 {
		s.gaps++
	}
	s.lastSeq = pkt.SequenceNumber
	s.haveSeq = true
	s.ssrc = pkt.SSRC
	s.packets++
}

func main() {
	signalURL := envOrDefault("SIGNALING_URL", "ws://127.0.0.1:9001/")
	want := envIntOrDefault("PACKETS", 50)
	timeout := envDurationOrDefault("TIMEOUT", 30*time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stats, err := listen(ctx, signalURL, want)
	if err != nil {
		fmt.Fprintf(os.Stderr, "listener: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("RECEIVED %d %s ssrc=%d gaps=%d\n", stats.packets, stats.mimeType, stats.ssrc, stats.gaps)
}

func listen(ctx context.Context, signalURL string, want int) (*rtpStats, error) {
	ws, err := websocket.Dial(signalURL, "", "http://localhost/")
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", signalURL, err)
	}
	defer ws.Close()

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	defer pc.Close()

	var sendMu sync.Mutex
	send := func(msg signalMessage) error {
		sendMu.Lock()
		defer sendMu.Unlock()
		return websocket.JSON.Send(ws, msg)
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		_ = send(signalMessage{ICE: &init})
	})

	failed := make(chan struct{})
	var failOnce sync.Once
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state == webrtc.PeerConnectionStateFailed {
			failOnce.Do(func() { close(failed) })
		}
	})

	tracks := make(chan *webrtc.TrackRemote, 1)
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		select {
		case tracks <- track:
		default:
		}
	})

	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})

	// Signaling reader. Closing ws unblocks Receive once the group is done.
	g.Go(func() error {
		for {
			var msg signalMessage
			if err := websocket.JSON.Receive(ws, &msg); err != nil {
				select {
				case <-done:
					return nil
				default:
				}
				return fmt.Errorf("signaling receive: %w", err)
			}
			switch {
			case msg.Type == "offer":
				if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: msg.SDP}); err != nil {
					return fmt.Errorf("set remote offer: %w", err)
				}
				answer, err := pc.CreateAnswer(nil)
				if err != nil {
					return fmt.Errorf("create answer: %w", err)
				}
				if err := pc.SetLocalDescription(answer); err != nil {
					return fmt.Errorf("set local answer: %w", err)
				}
				if err := send(signalMessage{Type: "answer", SDP: answer.SDP}); err != nil {
					return fmt.Errorf("send answer: %w", err)
				}
			case msg.ICE != nil:
				if err := pc.AddICECandidate(*msg.ICE); err != nil {
					return fmt.Errorf("add remote candidate: %w", err)
				}
			}
		}
	})

	stats := &rtpStats{}
	g.Go(func() error {
		defer close(done)
		defer ws.Close()

		var track *webrtc.TrackRemote
		select {
		case track = <-tracks:
		case <-failed:
			return errors.New("peer connection failed")
		case <-gctx.Done():
			return fmt.Errorf("waiting for audio track: %w", gctx.Err())
		}
		stats.mimeType = track.Codec().MimeType

		// ReadRTP blocks; the deferred pc.Close in listen unblocks it on error.
		go func() {
			<-gctx.Done()
			_ = pc.Close()
		}()
		for stats.packets < want {
			pkt, _, err := track.ReadRTP()
			if err != nil {
				return fmt.Errorf("read rtp after %d packets: %w", stats.packets, err)
			}
			stats.observe(pkt)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return stats, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return fallback
}

func envDurationOrDefault(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return fallback
}
