package deck

import (
	"math"
	"time"

	"github.com/satindergrewal/twindeck/internal/audio"
)

const maxBend = 4.0

// Scrub nudges the position by velocity (a jog or drag delta), independent of
// the playback rate. The first delta pauses the player and enters SCRUBBING;
// the gesture ends on ReleaseScrub or after ScrubIdleRelease without a delta,
// returning to whatever state the deck was in before. A delta below
// -BackspinVelocity triggers a backspin instead.
func (d *Deck) Scrub(velocity float64) {
	if math.IsNaN(velocity) || math.IsInf(velocity, 0) {
		return
	}
	if velocity < -d.cfg.BackspinVelocity {
		d.TriggerBackspin()
		return
	}

	d.mu.Lock()
	if !d.loadedLocked("scrub") {
		d.mu.Unlock()
		return
	}
	switch d.state {
	case Backspinning:
		d.mu.Unlock()
		return
	case Loaded, Playing:
		d.resumeAfter = d.state == Playing
		d.stopEndTimerLocked()
		d.player.Pause()
		d.state = Scrubbing
	}

	d.player.Seek(d.player.CurrentTime() + velocity*d.cfg.ScrubSecondsPerUnit)

	if d.scrubTimer != nil {
		d.scrubTimer.Stop()
	}
	d.scrubGen++
	gen := d.scrubGen
	d.scrubTimer = d.clock.AfterFunc(d.cfg.ScrubIdleRelease, func() { d.releaseScrub(gen) })
	d.mu.Unlock()
	d.notify()
}

// ReleaseScrub ends a scrub gesture. Outside a scrub it does nothing.
func (d *Deck) ReleaseScrub() {
	d.mu.Lock()
	gen := d.scrubGen
	d.mu.Unlock()
	d.releaseScrub(gen)
}

func (d *Deck) releaseScrub(gen uint64) {
	d.mu.Lock()
	if gen != d.scrubGen || d.state != Scrubbing {
		d.mu.Unlock()
		return
	}
	d.stopScrubLocked()
	d.resumeLocked()
	d.mu.Unlock()
	d.notify()
}

func (d *Deck) stopScrubLocked() {
	d.scrubGen++
	if d.scrubTimer != nil {
		d.scrubTimer.Stop()
		d.scrubTimer = nil
	}
}

// resumeLocked returns from a gesture to the pre-gesture state.
func (d *Deck) resumeLocked() {
	d.state = Loaded
	if d.resumeAfter {
		d.startLocked()
	}
	d.resumeAfter = false
}

// TriggerBackspin spins the track backwards and lets it come back. Decoded
// audio only plays forwards, so the spin is a run of steps that each jump
// back and play a short burst, fastest first and easing out: the rate starts
// at BackspinPeakRate times normal and ramps down to normal as the jumps
// shrink. The deck then lands BackspinRewind seconds before where it started,
// back in its pre-gesture state at its normal rate. A hard timeout forces that
// return even if a step never fires.
func (d *Deck) TriggerBackspin() {
	d.mu.Lock()
	if !d.loadedLocked("backspin") {
		d.mu.Unlock()
		return
	}
	switch d.state {
	case Backspinning, Loading:
		d.mu.Unlock()
		return
	case Scrubbing:
		// keep resumeAfter from the scrub that led here
		d.stopScrubLocked()
	default:
		d.resumeAfter = d.state == Playing
	}
	resume := d.resumeAfter
	d.stopEndTimerLocked()
	from := d.player.CurrentTime()
	d.player.Pause()
	d.state = Backspinning
	d.spinGen++
	gen := d.spinGen

	steps := d.cfg.BackspinSteps
	if steps < 1 {
		steps = 1
	}
	interval := d.cfg.BackspinDuration / time.Duration(steps)
	spin := planBackspin(from, d.rateLocked(), d.cfg.BackspinPeakRate, steps, d.cfg.BackspinRewind)
	d.spinLanding = spin.landing

	d.spinTimers = append(d.spinTimers[:0],
		d.clock.AfterFunc(d.cfg.BackspinTimeout, func() { d.finishBackspin(gen, true) }),
	)
	d.spinStepLocked(gen, spin, 0, interval)
	d.mu.Unlock()

	d.log.Debug().Bool("resume", resume).Float64("from", from).Float64("to", spin.landing).Msg("backspin")
	d.notify()
}

// backspin is a planned spin: where each burst starts, how fast it plays, and
// where the deck lands afterwards.
type backspin struct {
	starts  []float64
	rates   []float64
	landing float64
}

// planBackspin splits rewind seconds over steps, weighted by 1-smoothstep so
// the spin starts fast and slows to a stop. Burst rates follow the same curve
// from peak times normal down to normal.
func planBackspin(from, normal, peak float64, steps int, rewind float64) backspin {
	if math.IsNaN(peak) || peak < 1 {
		peak = 1
	}
	weights := make([]float64, steps)
	var sum float64
	for i := range weights {
		weights[i] = 1 - audio.Smoothstep(float64(i)/float64(steps))
		sum += weights[i]
	}

	b := backspin{
		starts: make([]float64, steps),
		rates:  make([]float64, steps),
	}
	pos := from
	for i, w := range weights {
		pos -= w / sum * rewind
		b.starts[i] = math.Max(pos, 0)
		b.rates[i] = normal * (1 + (peak-1)*w)
	}
	b.landing = math.Max(from-rewind, 0)
	return b
}

func (d *Deck) spinStep(gen uint64, spin backspin, i int, interval time.Duration) {
	d.mu.Lock()
	if gen != d.spinGen || d.state != Backspinning {
		d.mu.Unlock()
		return
	}
	if i >= len(spin.starts) {
		d.mu.Unlock()
		d.finishBackspin(gen, false)
		return
	}
	d.spinStepLocked(gen, spin, i, interval)
	d.mu.Unlock()
	d.notify()
}

// spinStepLocked jumps back to burst i and schedules the next one.
func (d *Deck) spinStepLocked(gen uint64, spin backspin, i int, interval time.Duration) {
	d.player.SetRate(spin.rates[i])
	d.player.PlayFrom(spin.starts[i])
	d.spinTimers = append(d.spinTimers, d.clock.AfterFunc(interval, func() { d.spinStep(gen, spin, i+1, interval) }))
}

func (d *Deck) finishBackspin(gen uint64, timedOut bool) {
	d.mu.Lock()
	if gen != d.spinGen || d.state != Backspinning {
		d.mu.Unlock()
		return
	}
	d.stopSpinLocked()
	d.landSpinLocked()
	d.resumeLocked()
	d.mu.Unlock()

	if timedOut {
		d.log.Warn().Msg("backspin timed out, forcing return")
	}
	d.notify()
}

// landSpinLocked silences the last burst and puts the deck at the landing
// point at its normal rate.
func (d *Deck) landSpinLocked() {
	d.player.Pause()
	d.player.Seek(d.spinLanding)
	d.player.SetRate(d.rateLocked())
}

func (d *Deck) stopSpinLocked() {
	d.spinGen++
	for _, t := range d.spinTimers {
		t.Stop()
	}
	d.spinTimers = d.spinTimers[:0]
}

// stopGesturesLocked abandons any scrub or backspin without resuming.
func (d *Deck) stopGesturesLocked() {
	d.stopScrubLocked()
	d.stopSpinLocked()
	d.resumeAfter = false
	if d.state == Backspinning {
		d.player.Pause()
		d.player.SetRate(d.rateLocked())
	}
	if d.state == Scrubbing || d.state == Backspinning {
		d.state = Loaded
	}
}

// BendTempo layers a temporary multiplier over the sync-derived rate. The
// caller owns the gesture: the bend stays until it is set back to 1.
// Non-positive or NaN input releases the bend; large values cap at 4.
func (d *Deck) BendTempo(rate float64) {
	if math.IsNaN(rate) || rate <= 0 {
		rate = 1
	}
	rate = math.Min(rate, maxBend)

	d.mu.Lock()
	if !d.loadedLocked("bend") {
		d.mu.Unlock()
		return
	}
	d.bend = rate
	d.applyRateLocked()
	d.mu.Unlock()
	d.notify()
}
