package tempo

import "math"

const (
	MinPitch = -25.0
	MaxPitch = 25.0

	// MaxBPM caps user tempo input. Anything above is treated as a slider glitch.
	MaxBPM = 999.0
)

// ClampPitch limits a pitch offset (percent) to [MinPitch, MaxPitch].
// NaN collapses to 0 so a bad slider value never reaches the engine.
func ClampPitch(pct float64) float64 {
	if math.IsNaN(pct) {
		return 0
	}
	return math.Max(MinPitch, math.Min(MaxPitch, pct))
}

// ClampBPM limits a tempo to [0, MaxBPM]. Non-positive and NaN input become 0,
// which EffectiveRate treats as "unknown".
func ClampBPM(bpm float64) float64 {
	if math.IsNaN(bpm) || bpm <= 0 {
		return 0
	}
	return math.Min(bpm, MaxBPM)
}

// EffectiveRate returns the playback-speed multiplier for a deck.
//
// With sync off the rate is the pitch factor alone. With sync on it is
// globalBPM/originalBPM scaled by the pitch factor. A non-positive original or
// global tempo drops the sync ratio (ratio 1) instead of dividing by zero.
func EffectiveRate(originalBPM, globalBPM float64, syncEnabled bool, pitchPercent float64) float64 {
	pitch := 1 + ClampPitch(pitchPercent)/100
	if !syncEnabled || !usable(originalBPM) || !usable(globalBPM) {
		return pitch
	}
	return (globalBPM / originalBPM) * pitch
}

// EffectiveBPM is the tempo a listener hears when a track authored at
// originalBPM plays back at rate.
func EffectiveBPM(originalBPM, rate float64) float64 {
	if !usable(originalBPM) || !usable(rate) {
		return 0
	}
	return originalBPM * rate
}

func usable(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
