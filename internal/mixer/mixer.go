// Package mixer holds the crossfader curve and the per-deck gain, EQ and FX
// parameter model. Everything here is stateless.
package mixer

import "math"

// Side is which end of the crossfader a deck sits on.
type Side int

const (
	Left  Side = iota // deck A
	Right             // deck B
)

const (
	MinEQ = -12.0 // dB
	MaxEQ = 12.0

	MinFilter = -100.0 // full low-pass
	MaxFilter = 100.0  // full high-pass
)

// EQ is a 3-band gain in dB. 0 is neutral.
type EQ struct {
	Low  float64 `json:"low"`
	Mid  float64 `json:"mid"`
	High float64 `json:"high"`
}

// FX is the per-deck effects send. Filter is bipolar around 0; Reverb and
// Delay are wet amounts in percent.
type FX struct {
	Filter float64 `json:"filter"`
	Reverb float64 `json:"reverb"`
	Delay  float64 `json:"delay"`
}

// NeutralEQ is the flat EQ a freshly loaded track starts with.
func NeutralEQ() EQ { return EQ{} }

// NeutralFX is the dry FX state a freshly loaded track starts with.
func NeutralFX() FX { return FX{} }

// IsNeutral reports whether e changes nothing.
func (e EQ) IsNeutral() bool { return e == EQ{} }

// IsNeutral reports whether f changes nothing.
func (f FX) IsNeutral() bool { return f == FX{} }

// ClampEQ limits each band to [MinEQ, MaxEQ]. NaN becomes 0.
func ClampEQ(e EQ) EQ {
	return EQ{
		Low:  clamp(e.Low, MinEQ, MaxEQ),
		Mid:  clamp(e.Mid, MinEQ, MaxEQ),
		High: clamp(e.High, MinEQ, MaxEQ),
	}
}

// ClampFX limits the filter to [-100, 100] and the sends to [0, 100].
func ClampFX(f FX) FX {
	return FX{
		Filter: clamp(f.Filter, MinFilter, MaxFilter),
		Reverb: ClampPercent(f.Reverb),
		Delay:  ClampPercent(f.Delay),
	}
}

// ClampPercent limits v to [0, 100]. NaN becomes 0.
func ClampPercent(v float64) float64 {
	return clamp(v, 0, 100)
}

// GainFor returns the output gain (0..1) for the deck on side, using an
// equal-power cosine curve so the centre position does not dip in loudness.
func GainFor(side Side, crossfaderPercent, volumePercent float64) float64 {
	x := ClampPercent(crossfaderPercent) / 100
	vol := ClampPercent(volumePercent) / 100
	if side == Right {
		x = 1 - x
	}
	g := vol * math.Cos(x*math.Pi/2)
	// cos(pi/2) is 6e-17, not 0
	if g < 1e-12 {
		return 0
	}
	return g
}

// Gains returns both deck gains for the current crossfader and volumes.
func Gains(crossfaderPercent, volumeA, volumeB float64) (a, b float64) {
	return GainFor(Left, crossfaderPercent, volumeA), GainFor(Right, crossfaderPercent, volumeB)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(lo, math.Min(hi, v))
}
