package media

import (
	"math"
	"time"
)

const (
	DefaultToneHz        = 440
	defaultToneAmplitude = 0.3
)

// ToneSource generates a continuous mono sine wave, one frame at a time.
// Phase carries across frames so consecutive frames join without clicks.
type ToneSource struct {
	step      float64
	amplitude float64
	samples   int
	phase     float64
}

func NewToneSource(freqHz float64, sampleRate uint32, frame time.Duration) *ToneSource {
	if freqHz <= 0 {
		freqHz = DefaultToneHz
	}
	return &ToneSource{
		step:      2 * math.Pi * freqHz / float64(sampleRate),
		amplitude: defaultToneAmplitude,
		samples:   int(int64(sampleRate) * int64(frame) / int64(time.Second)),
	}
}

func (s *ToneSource) FrameSamples() int { return s.samples }

// Next returns the next frame of PCM samples.
func (s *ToneSource) Next() []int16 {
	out := make([]int16, s.samples)
	for i := range out {
		out[i] = int16(s.amplitude * math.MaxInt16 * math.Sin(s.phase))
		s.phase += s.step
		if s.phase >= 2*math.Pi {
			s.phase -= 2 * math.Pi
		}
	}
	return out
}
