package audio

import "time"

const (
	SampleRate    = 48000
	Channels      = 2
	BitDepth      = 16
	FrameDuration = 20 * time.Millisecond
	FrameSize     = 960                  // samples per channel per 20ms frame
	FrameSamples  = FrameSize * Channels // total interleaved samples per frame
	FrameBytes    = FrameSamples * 2     // bytes per frame (int16 = 2 bytes)
)

// PCM is a decoded track: interleaved stereo int16 at SampleRate.
type PCM struct {
	Samples []int16
}

// Frames returns the number of stereo sample frames.
func (p *PCM) Frames() int {
	if p == nil {
		return 0
	}
	return len(p.Samples) / Channels
}

// Seconds returns the track length in seconds.
func (p *PCM) Seconds() float64 {
	return float64(p.Frames()) / SampleRate
}

// FrameAt converts a position in seconds to a sample frame index, clamped to the track.
func (p *PCM) FrameAt(seconds float64) int {
	f := int(seconds * SampleRate)
	if f < 0 {
		return 0
	}
	if n := p.Frames(); f > n {
		return n
	}
	return f
}
