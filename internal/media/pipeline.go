package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/pion/rtp"

	"github.com/wilsonzlin/aero/proxy/webrtc-audio-source/internal/metrics"
)

// RTPWriter receives packetized media. *SinkTrack satisfies it.
type RTPWriter interface {
	WriteRTP(p *rtp.Packet) error
}

type PipelineConfig struct {
	Codec   Codec
	ToneHz  float64
	Bitrate int
	// Frame is the packetization interval. Defaults to DefaultFrame.
	Frame time.Duration

	// Encoder overrides the codec's default encoder.
	Encoder Encoder

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Pipeline paces tone -> encode -> packetize -> write in real time.
type Pipeline struct {
	codec      Codec
	frame      time.Duration
	source     *ToneSource
	encoder    Encoder
	packetizer rtp.Packetizer
	out        RTPWriter
	log        *slog.Logger
	metrics    *metrics.Metrics
}

func NewPipeline(cfg PipelineConfig, out RTPWriter) (*Pipeline, error) {
	if out == nil {
		return nil, errors.New("media: pipeline output is required")
	}
	if cfg.Codec.ClockRate == 0 {
		return nil, errors.New("media: codec is required")
	}
	if cfg.Frame <= 0 {
		cfg.Frame = DefaultFrame
	}
	enc := cfg.Encoder
	if enc == nil {
		var err error
		enc, err = NewEncoder(cfg.Codec, cfg.Bitrate)
		if err != nil {
			return nil, err
		}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Pipeline{
		codec:   cfg.Codec,
		frame:   cfg.Frame,
		source:  NewToneSource(cfg.ToneHz, cfg.Codec.ClockRate, cfg.Frame),
		encoder: enc,
		packetizer: rtp.NewPacketizer(
			rtpMTU,
			cfg.Codec.PayloadType,
			rand.Uint32(),
			cfg.Codec.payloader(),
			rtp.NewRandomSequencer(),
			cfg.Codec.ClockRate,
		),
		out:     out,
		log:     log.With("component", "media", "codec", cfg.Codec.Name),
		metrics: cfg.Metrics,
	}, nil
}

// Run produces frames until ctx is done. Packets produced before gate is
// closed are dropped; the source keeps running so timestamps stay continuous
// once release starts.
func (p *Pipeline) Run(ctx context.Context, gate <-chan struct{}) error {
	ticker := time.NewTicker(p.frame)
	defer ticker.Stop()

	samples := p.codec.SamplesPerFrame(p.frame)
	released := false
	p.log.Info("media pipeline started", "frame", p.frame, "samples_per_frame", samples)

	for {
		select {
		case <-ctx.Done():
			p.log.Info("media pipeline stopped")
			return nil
		case <-ticker.C:
		}

		payload, err := p.encoder.Encode(p.source.Next())
		if err != nil {
			return fmt.Errorf("encode %s frame: %w", p.codec.Name, err)
		}
		packets := p.packetizer.Packetize(payload, samples)

		if !released {
			select {
			case <-gate:
				released = true
				p.log.Info("releasing media to transport")
			default:
				p.metrics.Add(metrics.RTPPacketsGated, uint64(len(packets)))
				continue
			}
		}

		for _, pkt := range packets {
			if err := p.out.WriteRTP(pkt); err != nil {
				p.metrics.Inc(metrics.RTPWriteFailed)
				p.log.Debug("rtp write failed", "err", err)
				continue
			}
			p.metrics.Inc(metrics.RTPPacketsSent)
		}
	}
}
