// Package media produces the outgoing audio stream: a live test tone, encoded
// and packetized into RTP, written to a WebRTC track once the transport sink is
// ready.
package media

import (
	"fmt"
	"strings"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4"
)

const (
	CodecOpus = "opus"
	CodecPCMU = "pcmu"

	DefaultPayloadType = 96
	DefaultFrame       = 20 * time.Millisecond

	// rtpMTU leaves headroom for SRTP and TURN framing on a 1280-byte path.
	rtpMTU = 1200
)

type Codec struct {
	Name        string
	MimeType    string
	ClockRate   uint32
	Channels    uint16
	PayloadType uint8
	SDPFmtpLine string
}

// LookupCodec returns the codec definition for name. payloadType is only
// honored for codecs with a dynamic payload type; PCMU always uses 0.
func LookupCodec(name string, payloadType uint8) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case CodecOpus:
		if payloadType < 96 || payloadType > 127 {
			return Codec{}, fmt.Errorf("opus payload type %d outside dynamic range 96-127", payloadType)
		}
		return Codec{
			Name:        CodecOpus,
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			PayloadType: payloadType,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		}, nil
	case CodecPCMU:
		return Codec{
			Name:        CodecPCMU,
			MimeType:    webrtc.MimeTypePCMU,
			ClockRate:   8000,
			PayloadType: 0,
		}, nil
	default:
		return Codec{}, fmt.Errorf("unsupported codec %q (expected %s or %s)", name, CodecOpus, CodecPCMU)
	}
}

func (c Codec) Capability() webrtc.RTPCodecCapability {
	return webrtc.RTPCodecCapability{
		MimeType:    c.MimeType,
		ClockRate:   c.ClockRate,
		Channels:    c.Channels,
		SDPFmtpLine: c.SDPFmtpLine,
	}
}

func (c Codec) Parameters() webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{
		RTPCodecCapability: c.Capability(),
		PayloadType:        webrtc.PayloadType(c.PayloadType),
	}
}

// SamplesPerFrame is the RTP timestamp increment for one frame.
func (c Codec) SamplesPerFrame(frame time.Duration) uint32 {
	return uint32(int64(c.ClockRate) * int64(frame) / int64(time.Second))
}

func (c Codec) payloader() rtp.Payloader {
	if c.Name == CodecPCMU {
		return &codecs.G711Payloader{}
	}
	return &codecs.OpusPayloader{}
}

// Matches reports whether a negotiated MIME type refers to this codec.
func (c Codec) Matches(mimeType string) bool {
	return strings.EqualFold(c.MimeType, mimeType)
}
