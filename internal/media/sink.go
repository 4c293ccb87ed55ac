package media

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-audio-source/internal/readiness"
)

// SinkTrack is the outgoing audio track. Every binding the transport makes is
// reported as a pad through the OnPad callback.
type SinkTrack struct {
	*webrtc.TrackLocalStaticRTP

	codec Codec

	mu    sync.Mutex
	onPad func(readiness.Pad)
	bound map[string]webrtc.RTPCodecParameters
}

func NewSinkTrack(codec Codec, streamID string) (*SinkTrack, error) {
	track, err := webrtc.NewTrackLocalStaticRTP(codec.Capability(), "audio", streamID)
	if err != nil {
		return nil, fmt.Errorf("create local audio track: %w", err)
	}
	return &SinkTrack{
		TrackLocalStaticRTP: track,
		codec:               codec,
		bound:               make(map[string]webrtc.RTPCodecParameters),
	}, nil
}

// OnPad sets the binding callback. It runs on the transport's goroutine and
// must not block.
func (t *SinkTrack) OnPad(fn func(readiness.Pad)) {
	t.mu.Lock()
	t.onPad = fn
	t.mu.Unlock()
}

func (t *SinkTrack) Bind(ctx webrtc.TrackLocalContext) (webrtc.RTPCodecParameters, error) {
	params, err := t.TrackLocalStaticRTP.Bind(ctx)
	if err != nil {
		return params, err
	}
	t.recordBinding(readiness.Pad{
		ID:          ctx.ID(),
		Codec:       params.MimeType,
		PayloadType: uint8(params.PayloadType),
		SSRC:        uint32(ctx.SSRC()),
	}, params)
	return params, nil
}

func (t *SinkTrack) Unbind(ctx webrtc.TrackLocalContext) error {
	t.mu.Lock()
	delete(t.bound, ctx.ID())
	t.mu.Unlock()
	return t.TrackLocalStaticRTP.Unbind(ctx)
}

func (t *SinkTrack) recordBinding(pad readiness.Pad, params webrtc.RTPCodecParameters) {
	t.mu.Lock()
	t.bound[pad.ID] = params
	onPad := t.onPad
	t.mu.Unlock()

	if onPad != nil {
		onPad(pad)
	}
}

// Link confirms that pad is a live binding whose negotiated codec is the one
// the encoder produces.
func (t *SinkTrack) Link(pad readiness.Pad) error {
	t.mu.Lock()
	params, ok := t.bound[pad.ID]
	t.mu.Unlock()

	if !ok {
		return fmt.Errorf("pad %s is not bound to the audio track", pad.ID)
	}
	if !t.codec.Matches(params.MimeType) {
		return fmt.Errorf("pad %s negotiated %s, encoder produces %s", pad.ID, params.MimeType, t.codec.MimeType)
	}
	return nil
}

func (t *SinkTrack) MediaCodec() Codec { return t.codec }
