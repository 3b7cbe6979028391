package deck

import (
	"context"

	"github.com/satindergrewal/twindeck/internal/mixer"
)

// LoadTrack fetches and decodes t.URL. EMPTY|LOADED goes to LOADING, then to
// LOADED on success or back to EMPTY with a *audio.LoadError on failure.
// Pitch, bend, EQ and FX reset to neutral so a new track never inherits the
// previous one's tweaks; volume is a mixer setting and is kept.
func (d *Deck) LoadTrack(ctx context.Context, t Track) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	if d.state == Loading {
		d.mu.Unlock()
		return ErrLoadInProgress
	}
	d.stopGesturesLocked()
	d.stopEndTimerLocked()
	d.player.Dispose()
	d.chain.Reset()
	d.track = nil
	d.state = Loading
	d.resetTweaksLocked()
	d.loadSeq++
	seq := d.loadSeq
	ctx, cancel := context.WithTimeout(ctx, d.cfg.LoadTimeout)
	d.cancelLoad = cancel
	d.mu.Unlock()
	defer cancel()

	d.log.Debug().Str("url", t.URL).Float64("original_bpm", t.OriginalBPM).Msg("loading track")
	d.notify()

	d.loadMu.Lock()
	err := d.player.Load(ctx, t.URL)
	d.loadMu.Unlock()

	d.mu.Lock()
	if seq != d.loadSeq || d.closed {
		// Ejected while loading. A newer load, if any, replaces the player's
		// track itself.
		if d.state != Loading {
			d.player.Dispose()
		}
		d.mu.Unlock()
		return ErrLoadCancelled
	}
	d.cancelLoad = nil
	if err != nil {
		d.state = Empty
		d.mu.Unlock()
		d.notify()
		return err
	}
	track := t
	d.track = &track
	d.state = Loaded
	d.player.SetRate(d.rateLocked())
	d.mu.Unlock()

	d.log.Info().Str("track", t.Name).Float64("duration", d.player.Duration()).Msg("track loaded")
	d.notify()
	return nil
}

func (d *Deck) resetTweaksLocked() {
	d.pitch = 0
	d.bend = 1
	d.eq = mixer.NeutralEQ()
	d.fx = mixer.NeutralFX()
	d.chain.Set(d.eq, d.fx)
	d.syncing = false
	d.tempoLocked = false
}

// loadedLocked reports whether a track is installed, logging op at debug level
// when it is not.
func (d *Deck) loadedLocked(op string) bool {
	if d.track == nil {
		d.log.Debug().Str("op", op).Stringer("state", d.state).Msg("ignored: no track loaded")
		return false
	}
	return true
}

// Play starts from the resume point. Playing is a no-op; during a gesture the
// deck will resume playing when the gesture ends.
func (d *Deck) Play() {
	d.mu.Lock()
	if !d.loadedLocked("play") {
		d.mu.Unlock()
		return
	}
	switch d.state {
	case Playing:
		d.mu.Unlock()
		return
	case Scrubbing, Backspinning:
		d.resumeAfter = true
		d.mu.Unlock()
		return
	}
	// A manual start overrides an armed synced start. The rate stays on the
	// sync ratio so the user hears no glide.
	if d.syncing {
		d.syncing = false
		d.tempoLocked = true
	}
	d.startLocked()
	d.mu.Unlock()
	d.notify()
}

func (d *Deck) startLocked() {
	d.player.SetRate(d.rateLocked())
	d.player.Play()
	d.state = Playing
	d.scheduleEndLocked()
}

// Pause stops playback and records the position. It always succeeds.
func (d *Deck) Pause() {
	d.mu.Lock()
	if !d.loadedLocked("pause") {
		d.mu.Unlock()
		return
	}
	switch d.state {
	case Playing:
		d.stopEndTimerLocked()
		d.player.Pause()
		d.state = Loaded
	case Scrubbing, Backspinning:
		d.resumeAfter = false
	default:
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()
	d.notify()
}

// Seek moves to seconds, clamped to the track, keeping the play state.
func (d *Deck) Seek(seconds float64) {
	d.mu.Lock()
	if !d.loadedLocked("seek") {
		d.mu.Unlock()
		return
	}
	d.player.Seek(seconds)
	if d.state == Playing {
		d.scheduleEndLocked()
	}
	d.mu.Unlock()
	d.notify()
}

// Cue returns to the start and stops. It is the one explicit reset of the
// resume point.
func (d *Deck) Cue() {
	d.mu.Lock()
	if !d.loadedLocked("cue") {
		d.mu.Unlock()
		return
	}
	d.stopGesturesLocked()
	d.stopEndTimerLocked()
	d.player.Pause()
	d.player.Seek(0)
	d.state = Loaded
	d.mu.Unlock()
	d.notify()
}

// Eject returns the deck to EMPTY, cancelling a pending load.
func (d *Deck) Eject() {
	d.mu.Lock()
	if d.state == Empty {
		d.mu.Unlock()
		return
	}
	if d.cancelLoad != nil {
		d.cancelLoad()
		d.cancelLoad = nil
	}
	d.loadSeq++
	d.stopGesturesLocked()
	d.stopEndTimerLocked()
	d.player.Dispose()
	d.chain.Reset()
	d.track = nil
	d.state = Empty
	d.resetTweaksLocked()
	d.mu.Unlock()

	d.log.Debug().Msg("ejected")
	d.notify()
}

// scheduleEndLocked arms the end-of-track timer for the current run.
func (d *Deck) scheduleEndLocked() {
	d.stopEndTimerLocked()
	left, ok := d.player.Remaining()
	if !ok {
		return
	}
	gen := d.endGen
	d.endTimer = d.clock.AfterFunc(left, func() { d.onEnd(gen) })
}

func (d *Deck) stopEndTimerLocked() {
	d.endGen++
	if d.endTimer != nil {
		d.endTimer.Stop()
		d.endTimer = nil
	}
}

// onEnd reconciles a deck that ran off the end of its track to LOADED, with
// the resume point at the end.
func (d *Deck) onEnd(gen uint64) {
	d.mu.Lock()
	if gen != d.endGen || d.state != Playing {
		d.mu.Unlock()
		return
	}
	d.endTimer = nil
	d.player.Pause()
	d.state = Loaded
	d.mu.Unlock()

	d.log.Debug().Msg("track ended")
	d.notify()
}
