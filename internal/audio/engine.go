package audio

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/gopxl/beep/v2"
)

var (
	// ErrEngineStopped means Stop was called on an engine that was not running,
	// usually because it reached the end of the track on its own.
	ErrEngineStopped = errors.New("engine already stopped")

	// ErrEngineClosed is returned by every call after Close.
	ErrEngineClosed = errors.New("engine closed")
)

// Engine is the real-time playback collaborator for one decoded track.
// Its own notion of running may lag or race the caller; Player treats it as
// advisory and keeps its own flag.
type Engine interface {
	Start(offsetSeconds float64) error
	Stop() error
	SetRate(rate float64) error
	Close() error
}

// EngineFactory builds an engine for freshly decoded audio.
type EngineFactory func(pcm *PCM) Engine

// PCMSource exposes a PCM buffer as a beep.StreamSeeker.
type PCMSource struct {
	pcm *PCM
	pos int
}

// NewPCMSource wraps pcm, positioned at the start.
func NewPCMSource(pcm *PCM) *PCMSource {
	return &PCMSource{pcm: pcm}
}

func (s *PCMSource) Stream(samples [][2]float64) (n int, ok bool) {
	total := s.pcm.Frames()
	if s.pos >= total {
		return 0, false
	}
	for n < len(samples) && s.pos < total {
		i := s.pos * Channels
		samples[n][0] = float64(s.pcm.Samples[i]) / 32768
		samples[n][1] = float64(s.pcm.Samples[i+1]) / 32768
		n++
		s.pos++
	}
	return n, true
}

func (s *PCMSource) Err() error { return nil }

func (s *PCMSource) Len() int { return s.pcm.Frames() }

func (s *PCMSource) Position() int { return s.pos }

func (s *PCMSource) Seek(p int) error {
	if p < 0 || p > s.Len() {
		return fmt.Errorf("seek %d out of range [0, %d]", p, s.Len())
	}
	s.pos = p
	return nil
}

// BeepEngine plays a PCM buffer through a beep resampler (rate) and a beep
// ctrl (start/stop). It is itself a beep.Streamer pulled by the mix bus.
type BeepEngine struct {
	quality int

	mu        sync.Mutex
	src       *PCMSource
	resampler *beep.Resampler
	ctrl      *beep.Ctrl
	rate      float64
	ended     bool
	closed    bool
}

// NewBeepEngine builds a stopped engine at rate 1. quality is the beep
// resampling quality (1..64).
func NewBeepEngine(pcm *PCM, quality int) *BeepEngine {
	if quality < 1 {
		quality = 1
	} else if quality > 64 {
		quality = 64
	}
	src := NewPCMSource(pcm)
	rs := beep.ResampleRatio(quality, 1, src)
	return &BeepEngine{
		quality:   quality,
		src:       src,
		resampler: rs,
		ctrl:      &beep.Ctrl{Streamer: rs, Paused: true},
		rate:      1,
	}
}

// BeepEngineFactory returns an EngineFactory producing BeepEngines.
func BeepEngineFactory(quality int) EngineFactory {
	return func(pcm *PCM) Engine {
		return NewBeepEngine(pcm, quality)
	}
}

func (e *BeepEngine) Start(offsetSeconds float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	if err := e.src.Seek(e.src.pcm.FrameAt(offsetSeconds)); err != nil {
		return err
	}
	// A fresh resampler drops samples buffered from the old position.
	e.resampler = beep.ResampleRatio(e.quality, e.rate, e.src)
	e.ctrl.Streamer = e.resampler
	e.ctrl.Paused = false
	e.ended = false
	return nil
}

func (e *BeepEngine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	wasRunning := !e.ctrl.Paused && !e.ended
	e.ctrl.Paused = true
	if !wasRunning {
		return ErrEngineStopped
	}
	return nil
}

func (e *BeepEngine) SetRate(rate float64) error {
	if !(rate > 0) || math.IsInf(rate, 0) {
		return fmt.Errorf("invalid rate %v", rate)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	e.rate = rate
	e.resampler.SetRatio(rate)
	return nil
}

// Running reports whether the engine is producing track audio.
func (e *BeepEngine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.closed && !e.ctrl.Paused && !e.ended
}

func (e *BeepEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.ctrl.Paused = true
	return nil
}

// Stream always fills samples; silence after the end, while stopped, or once closed.
func (e *BeepEngine) Stream(samples [][2]float64) (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	if !e.closed && !e.ended {
		var ok bool
		n, ok = e.ctrl.Stream(samples)
		if !ok || n < len(samples) {
			e.ended = true
		}
	}
	for i := n; i < len(samples); i++ {
		samples[i] = [2]float64{}
	}
	return len(samples), true
}

func (e *BeepEngine) Err() error { return nil }

// Socket is a beep.Streamer whose source can be swapped while the mix bus is
// pulling from it. An empty socket streams silence.
type Socket struct {
	mu sync.Mutex
	s  beep.Streamer
}

// Set replaces the source. nil unplugs it.
func (s *Socket) Set(st beep.Streamer) {
	s.mu.Lock()
	s.s = st
	s.mu.Unlock()
}

func (s *Socket) Stream(samples [][2]float64) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	if s.s != nil {
		var ok bool
		n, ok = s.s.Stream(samples)
		if !ok {
			n = 0
		}
	}
	for i := n; i < len(samples); i++ {
		samples[i] = [2]float64{}
	}
	return len(samples), true
}

func (s *Socket) Err() error { return nil }
