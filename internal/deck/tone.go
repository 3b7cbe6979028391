package deck

import (
	"github.com/satindergrewal/twindeck/internal/mixer"
	"github.com/satindergrewal/twindeck/internal/tempo"
)

// SetPitch sets the pitch offset in percent, clamped to [-25, 25].
func (d *Deck) SetPitch(pct float64) {
	d.mu.Lock()
	if !d.loadedLocked("pitch") {
		d.mu.Unlock()
		return
	}
	d.pitch = tempo.ClampPitch(pct)
	d.applyRateLocked()
	d.mu.Unlock()
	d.notify()
}

// SetVolume sets the deck fader in percent. It is a mixer setting, so it works
// on an empty deck and survives loads.
func (d *Deck) SetVolume(pct float64) {
	d.mu.Lock()
	d.volume = mixer.ClampPercent(pct)
	d.mu.Unlock()
	d.notify()
}

// Volume returns the fader position in percent.
func (d *Deck) Volume() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.volume
}

// SetEQ retunes the 3-band EQ. Bands are clamped to ±12 dB.
func (d *Deck) SetEQ(eq mixer.EQ) {
	d.mu.Lock()
	if !d.loadedLocked("eq") {
		d.mu.Unlock()
		return
	}
	d.eq = mixer.ClampEQ(eq)
	d.chain.Set(d.eq, d.fx)
	d.mu.Unlock()
	d.notify()
}

// SetFX retunes the filter, reverb and delay.
func (d *Deck) SetFX(fx mixer.FX) {
	d.mu.Lock()
	if !d.loadedLocked("fx") {
		d.mu.Unlock()
		return
	}
	d.fx = mixer.ClampFX(fx)
	d.chain.Set(d.eq, d.fx)
	d.mu.Unlock()
	d.notify()
}

// Retune recomputes the rate after the global tempo or sync switch changed.
func (d *Deck) Retune() {
	d.mu.Lock()
	if d.track == nil {
		d.mu.Unlock()
		return
	}
	d.applyRateLocked()
	d.mu.Unlock()
	d.notify()
}

// LockToGlobal follows the global tempo even when global sync is off.
func (d *Deck) LockToGlobal(on bool) {
	d.mu.Lock()
	if !d.loadedLocked("lock") {
		d.mu.Unlock()
		return
	}
	d.tempoLocked = on
	d.applyRateLocked()
	d.mu.Unlock()
	d.notify()
}

// ArmSync marks the deck as waiting for a synced start and switches it to the
// global tempo now, so nothing glides at the start instant.
func (d *Deck) ArmSync() error {
	d.mu.Lock()
	if d.track == nil {
		d.mu.Unlock()
		return ErrNoTrack
	}
	if d.state != Loaded {
		d.mu.Unlock()
		return ErrNotStopped
	}
	d.syncing = true
	d.applyRateLocked()
	d.mu.Unlock()
	d.notify()
	return nil
}

// FireSync starts an armed deck and keeps it on the global tempo. It reports
// false if the deck was no longer armed or not stopped.
func (d *Deck) FireSync() bool {
	d.mu.Lock()
	if !d.syncing || d.state != Loaded {
		d.mu.Unlock()
		return false
	}
	d.syncing = false
	d.tempoLocked = true
	d.startLocked()
	d.mu.Unlock()
	d.notify()
	return true
}

// DisarmSync drops an armed start. The deck stays stopped and its rate falls
// back to whatever its own settings give.
func (d *Deck) DisarmSync() {
	d.mu.Lock()
	if !d.syncing {
		d.mu.Unlock()
		return
	}
	d.syncing = false
	d.applyRateLocked()
	d.mu.Unlock()
	d.notify()
}
