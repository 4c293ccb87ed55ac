package media

import (
	"fmt"

	"github.com/zaf/g711"
	"gopkg.in/hraban/opus.v2"
)

const (
	DefaultOpusBitrate = 32000
	maxOpusPacketBytes = 4000
)

// Encoder turns one frame of PCM into one codec payload.
type Encoder interface {
	Encode(pcm []int16) ([]byte, error)
}

// NewEncoder builds the encoder for c. bitrate only applies to Opus; zero keeps
// the default.
func NewEncoder(c Codec, bitrate int) (Encoder, error) {
	switch c.Name {
	case CodecOpus:
		enc, err := opus.NewEncoder(int(c.ClockRate), 1, opus.AppVoIP)
		if err != nil {
			return nil, fmt.Errorf("create opus encoder: %w", err)
		}
		if bitrate <= 0 {
			bitrate = DefaultOpusBitrate
		}
		if err := enc.SetBitrate(bitrate); err != nil {
			return nil, fmt.Errorf("set opus bitrate %d: %w", bitrate, err)
		}
		return &opusEncoder{enc: enc, buf: make([]byte, maxOpusPacketBytes)}, nil
	case CodecPCMU:
		return pcmuEncoder{}, nil
	default:
		return nil, fmt.Errorf("no encoder for codec %q", c.Name)
	}
}

type opusEncoder struct {
	enc *opus.Encoder
	buf []byte
}

func (e *opusEncoder) Encode(pcm []int16) ([]byte, error) {
	n, err := e.enc.Encode(pcm, e.buf)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, e.buf[:n])
	return out, nil
}

type pcmuEncoder struct{}

func (pcmuEncoder) Encode(pcm []int16) ([]byte, error) {
	out := make([]byte, len(pcm))
	for i, s := range pcm {
		out[i] = g711.EncodeUlawFrame(s)
	}
	return out, nil
}
