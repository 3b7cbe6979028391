// Package beatgrid derives bar/beat coordinates from a playback position.
//
// The grid is fixed at 4/4. That is a simplification, not a setting.
package beatgrid

import (
	"math"
	"time"
)

// BeatsPerBar is fixed; odd meters are not modelled.
const BeatsPerBar = 4

// Position is a derived grid coordinate. It is recomputed on every query and
// never stored, so floating error cannot accumulate.
type Position struct {
	Bar  int `json:"bar"`  // 1-based
	Beat int `json:"beat"` // 1..BeatsPerBar

	// Aligned reports that the opposite deck sits on the same beat.
	Aligned bool `json:"aligned"`
	// Queued reports that a synced start is pending on this deck.
	Queued bool `json:"queued"`
}

// PositionFor maps seconds at bpm to a bar and beat. Negative time and an
// unusable tempo both collapse to bar 1 beat 1.
func PositionFor(seconds, bpm float64) Position {
	if !(bpm > 0) || math.IsInf(bpm, 0) || !(seconds > 0) || math.IsInf(seconds, 0) {
		return Position{Bar: 1, Beat: 1}
	}
	secondsPerBeat := 60 / bpm
	totalBeats := int(math.Floor(seconds / secondsPerBeat))
	return Position{
		Bar:  totalBeats/BeatsPerBar + 1,
		Beat: totalBeats%BeatsPerBar + 1,
	}
}

// IsAligned is true when both positions report the same beat. Bars may differ
// because one deck usually started earlier.
func IsAligned(a, b Position) bool {
	return a.Beat == b.Beat
}

// BeatsUntilNextBar returns 1..BeatsPerBar. A leader exactly on a downbeat is a
// full bar away, never zero.
func BeatsUntilNextBar(p Position) int {
	beat := p.Beat
	if beat < 1 {
		beat = 1
	}
	return BeatsPerBar - (beat-1)%BeatsPerBar
}

// DelayUntilNextBar converts BeatsUntilNextBar into wall-clock time at bpm.
func DelayUntilNextBar(p Position, bpm float64) time.Duration {
	if !(bpm > 0) || math.IsInf(bpm, 0) {
		return 0
	}
	seconds := float64(BeatsUntilNextBar(p)) * 60 / bpm
	return time.Duration(seconds * float64(time.Second))
}
