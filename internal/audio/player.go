package audio

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/rs/zerolog"

	"github.com/satindergrewal/twindeck/internal/clock"
)

// MinRate is the slowest rate handed to an engine. Zero or negative requests
// are raised to it; beep resamplers cannot run at ratio 0.
const MinRate = 0.01

// TrackLoader fetches and decodes a track URL.
type TrackLoader interface {
	Load(ctx context.Context, rawURL string) (*PCM, error)
}

// Player is the playback primitive for one deck. It keeps its own time base:
// the engine's transport clock is never read back, because it does not apply
// the rate multiplier the same way across implementations.
type Player struct {
	clock     clock.Clock
	loader    TrackLoader
	newEngine EngineFactory
	log       zerolog.Logger
	out       Socket

	mu        sync.Mutex
	pcm       *PCM
	engine    Engine
	playing   bool
	pausedAt  float64 // resume point in track seconds
	startedAt time.Time
	rate      float64
}

// NewPlayer creates an empty player.
func NewPlayer(clk clock.Clock, loader TrackLoader, newEngine EngineFactory, log zerolog.Logger) *Player {
	return &Player{
		clock:     clk,
		loader:    loader,
		newEngine: newEngine,
		log:       log,
		rate:      1,
	}
}

// Output is the player's audio for the mix bus. It streams silence while empty.
func (p *Player) Output() beep.Streamer {
	return &p.out
}

// Load fetches and decodes url and installs a fresh engine. On success the
// resume point resets to 0 and the player is stopped. On failure the player is
// left empty and a *LoadError is returned; nothing panics into the caller.
func (p *Player) Load(ctx context.Context, url string) error {
	pcm, err := p.loader.Load(ctx, url)
	if err != nil {
		var le *LoadError
		if !errors.As(err, &le) {
			err = &LoadError{URL: url, Err: err}
		}
		p.Dispose()
		return err
	}

	engine := p.newEngine(pcm)

	p.mu.Lock()
	old := p.engine
	p.pcm = pcm
	p.engine = engine
	p.playing = false
	p.pausedAt = 0
	if err := engine.SetRate(p.rate); err != nil {
		p.log.Warn().Err(err).Msg("engine rejected rate on load")
	}
	p.mu.Unlock()

	if st, ok := engine.(beep.Streamer); ok {
		p.out.Set(st)
	} else {
		p.out.Set(nil)
	}
	if old != nil {
		old.Close()
	}
	return nil
}

// Loaded reports whether a track is installed.
func (p *Player) Loaded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine != nil
}

// Playing reports the player's own running flag.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Duration returns the loaded track length in seconds, 0 when empty.
func (p *Player) Duration() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pcm.Seconds()
}

// Rate returns the rate last applied.
func (p *Player) Rate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rate
}

// Play starts from the resume point. It is a no-op while already playing.
func (p *Player) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.engine == nil {
		p.log.Debug().Msg("play ignored: no track loaded")
		return
	}
	if p.playing {
		return
	}
	p.startLocked(p.pausedAt)
}

// PlayFrom starts from seconds, restarting if already playing.
func (p *Player) PlayFrom(seconds float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.engine == nil {
		p.log.Debug().Msg("play ignored: no track loaded")
		return
	}
	p.startLocked(p.clampLocked(seconds))
}

func (p *Player) startLocked(from float64) {
	if err := p.engine.Start(from); err != nil {
		p.log.Warn().Err(err).Float64("from", from).Msg("engine timing warning: start")
	}
	p.pausedAt = from
	p.startedAt = p.clock.Now()
	p.playing = true
}

// Pause is idempotent and always leaves the position consistent, even when the
// engine complains that it already stopped itself.
func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.engine == nil {
		p.log.Debug().Msg("pause ignored: no track loaded")
		return
	}
	if !p.playing {
		return
	}
	p.pausedAt = p.currentLocked()
	p.playing = false
	if err := p.engine.Stop(); err != nil {
		p.log.Warn().Err(err).Float64("at", p.pausedAt).Msg("engine timing warning: pause")
	}
}

// CurrentTime is the resume point while stopped, or the resume point plus
// elapsed wall time times rate while playing. Clamped to the track.
func (p *Player) CurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentLocked()
}

// ResumePoint is where the next Play starts from while stopped, or the
// position the current run was anchored at while playing.
func (p *Player) ResumePoint() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pausedAt
}

func (p *Player) currentLocked() float64 {
	if !p.playing {
		return p.pausedAt
	}
	elapsed := p.clock.Now().Sub(p.startedAt).Seconds()
	return p.clampLocked(p.pausedAt + elapsed*p.rate)
}

func (p *Player) clampLocked(seconds float64) float64 {
	if math.IsNaN(seconds) || seconds < 0 {
		return 0
	}
	if d := p.pcm.Seconds(); seconds > d {
		return d
	}
	return seconds
}

// SetRate changes speed without a jump: the current position becomes the new
// anchor before the rate changes.
func (p *Player) SetRate(rate float64) {
	if math.IsNaN(rate) || rate < MinRate {
		rate = MinRate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playing {
		p.pausedAt = p.currentLocked()
		p.startedAt = p.clock.Now()
	}
	p.rate = rate
	if p.engine == nil {
		return
	}
	if err := p.engine.SetRate(rate); err != nil {
		p.log.Warn().Err(err).Float64("rate", rate).Msg("engine timing warning: rate")
	}
}

// Seek moves the position, keeping the play state.
func (p *Player) Seek(seconds float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.engine == nil {
		p.log.Debug().Msg("seek ignored: no track loaded")
		return
	}
	seconds = p.clampLocked(seconds)
	if p.playing {
		p.startLocked(seconds)
		return
	}
	p.pausedAt = seconds
}

// Remaining returns the wall time until the track end at the current rate,
// and false when stopped or empty.
func (p *Player) Remaining() (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.engine == nil || !p.playing {
		return 0, false
	}
	left := p.pcm.Seconds() - p.currentLocked()
	if left < 0 {
		left = 0
	}
	return time.Duration(left / p.rate * float64(time.Second)), true
}

// Dispose releases the engine. Safe to call repeatedly; the player can load again afterwards.
func (p *Player) Dispose() {
	p.mu.Lock()
	engine := p.engine
	p.engine = nil
	p.pcm = nil
	p.playing = false
	p.pausedAt = 0
	p.mu.Unlock()

	p.out.Set(nil)
	if engine != nil {
		engine.Close()
	}
}
