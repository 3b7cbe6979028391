package audio

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/gopxl/beep/v2"
)

// GainFunc reports the current output gain (0..1) for the left and right inputs.
type GainFunc func() (left, right float64)

// MixBus pulls both deck outputs, applies the mixer gains and emits PCM
// frames at real-time rate.
type MixBus struct {
	left, right beep.Streamer
	gains       GainFunc
	frameCh     chan []int16
	mixed       atomic.Uint64

	bufL, bufR [][2]float64
}

// NewMixBus creates a mix bus over two inputs.
func NewMixBus(left, right beep.Streamer, gains GainFunc) *MixBus {
	return &MixBus{
		left:    left,
		right:   right,
		gains:   gains,
		frameCh: make(chan []int16, 100),
		bufL:    make([][2]float64, FrameSize),
		bufR:    make([][2]float64, FrameSize),
	}
}

// Frames returns the channel of outgoing PCM frames (20ms each).
func (m *MixBus) Frames() <-chan []int16 {
	return m.frameCh
}

// FramesMixed returns how many frames have been produced.
func (m *MixBus) FramesMixed() uint64 {
	return m.mixed.Load()
}

// Run starts the bus. Blocks until ctx is cancelled.
func (m *MixBus) Run(ctx context.Context) {
	defer close(m.frameCh)

	ticker := time.NewTicker(FrameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frame := m.MixNext()
		select {
		case m.frameCh <- frame:
		case <-ctx.Done():
			return
		}
	}
}

// MixNext renders one frame without waiting for the ticker.
func (m *MixBus) MixNext() []int16 {
	pull(m.left, m.bufL)
	pull(m.right, m.bufR)
	gl, gr := m.gains()
	m.mixed.Add(1)
	return MixFrame(m.bufL, m.bufR, gl, gr)
}

func pull(s beep.Streamer, buf [][2]float64) {
	n := 0
	for n < len(buf) {
		got, ok := s.Stream(buf[n:])
		if !ok || got == 0 {
			break
		}
		n += got
	}
	for i := n; i < len(buf); i++ {
		buf[i] = [2]float64{}
	}
}
