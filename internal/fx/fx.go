// Package fx is the per-deck processing chain: 3-band EQ, a bipolar filter,
// a feedback delay and a small comb reverb. The chain sits between a deck's
// player and the mix bus and is retuned live from the deck's EQ/FX settings.
package fx

import (
	"math"
	"sync"

	"github.com/gopxl/beep/v2"

	"github.com/satindergrewal/twindeck/internal/mixer"
)

const (
	lowCrossover  = 250.0  // Hz
	highCrossover = 4000.0 // Hz

	filterLPMin = 200.0   // cutoff at filter -100
	filterLPMax = 20000.0 // cutoff near filter 0
	filterHPMin = 20.0
	filterHPMax = 5000.0 // cutoff at filter +100

	delayTime     = 0.375 // seconds, a dotted eighth at 120 BPM
	delayFeedback = 0.4

	combFeedback = 0.84
	combDamp     = 0.2
)

// Comb lengths in samples at 44.1kHz; scaled to the chain's rate.
var combTuning = []int{1557, 1617, 1491, 1422}

// onePole is a first order low-pass section.
type onePole struct {
	alpha float64
	y     float64
}

func newOnePole(cutoff, sampleRate float64) onePole {
	var p onePole
	p.tune(cutoff, sampleRate)
	return p
}

func (p *onePole) tune(cutoff, sampleRate float64) {
	rc := 1.0 / (2 * math.Pi * cutoff)
	dt := 1.0 / sampleRate
	p.alpha = dt / (rc + dt)
}

func (p *onePole) process(x float64) float64 {
	p.y += p.alpha * (x - p.y)
	return p.y
}

type comb struct {
	buf   []float64
	pos   int
	store float64
}

func (c *comb) process(x float64) float64 {
	out := c.buf[c.pos]
	c.store = out*(1-combDamp) + c.store*combDamp
	c.buf[c.pos] = x + c.store*combFeedback
	c.pos++
	if c.pos == len(c.buf) {
		c.pos = 0
	}
	return out
}

// Chain applies EQ and FX to a source streamer.
type Chain struct {
	src        beep.Streamer
	sampleRate float64

	mu       sync.Mutex
	eq       mixer.EQ
	fx       mixer.FX
	gains    [3]float64 // linear low, mid, high
	lowBand  [2]onePole
	highBand [2]onePole
	filter   [2]onePole
	delay    [][2]float64
	delayPos int
	combs    [2][]comb
}

// NewChain wraps src. sampleRate is the rate src streams at.
func NewChain(src beep.Streamer, sampleRate int) *Chain {
	sr := float64(sampleRate)
	c := &Chain{
		src:        src,
		sampleRate: sr,
		gains:      [3]float64{1, 1, 1},
		delay:      make([][2]float64, int(delayTime*sr)),
	}
	for ch := 0; ch < 2; ch++ {
		c.lowBand[ch] = newOnePole(lowCrossover, sr)
		c.highBand[ch] = newOnePole(highCrossover, sr)
		c.filter[ch] = newOnePole(filterLPMax, sr)
		for _, n := range combTuning {
			// spread the right channel a little for width
			size := int(float64(n+ch*23) * sr / 44100)
			c.combs[ch] = append(c.combs[ch], comb{buf: make([]float64, size)})
		}
	}
	return c
}

// Set retunes the chain. Values are clamped.
func (c *Chain) Set(eq mixer.EQ, fx mixer.FX) {
	eq = mixer.ClampEQ(eq)
	fx = mixer.ClampFX(fx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.eq = eq
	c.fx = fx
	c.gains = [3]float64{dbToGain(eq.Low), dbToGain(eq.Mid), dbToGain(eq.High)}

	if cutoff, ok := filterCutoff(fx.Filter); ok {
		for ch := range c.filter {
			c.filter[ch].tune(cutoff, c.sampleRate)
		}
	}
}

// Settings returns the current EQ and FX.
func (c *Chain) Settings() (mixer.EQ, mixer.FX) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eq, c.fx
}

// Reset clears the delay and reverb tails and the filter memory.
func (c *Chain) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for ch := 0; ch < 2; ch++ {
		c.lowBand[ch].y = 0
		c.highBand[ch].y = 0
		c.filter[ch].y = 0
		for i := range c.combs[ch] {
			clear(c.combs[ch][i].buf)
			c.combs[ch][i].store = 0
		}
	}
	clear(c.delay)
	c.delayPos = 0
}

func (c *Chain) Stream(samples [][2]float64) (n int, ok bool) {
	n, ok = c.src.Stream(samples)

	c.mu.Lock()
	defer c.mu.Unlock()

	delayWet := c.fx.Delay / 100
	reverbWet := c.fx.Reverb / 100
	for i := range samples[:n] {
		for ch := 0; ch < 2; ch++ {
			x := samples[i][ch]

			low := c.lowBand[ch].process(x)
			belowHigh := c.highBand[ch].process(x)
			y := low*c.gains[0] + (belowHigh-low)*c.gains[1] + (x-belowHigh)*c.gains[2]

			switch {
			case c.fx.Filter < 0:
				y = c.filter[ch].process(y)
			case c.fx.Filter > 0:
				y -= c.filter[ch].process(y)
			}

			if reverbWet > 0 {
				var wet float64
				for j := range c.combs[ch] {
					wet += c.combs[ch][j].process(y)
				}
				y += wet / float64(len(c.combs[ch])) * reverbWet
			}

			echo := c.delay[c.delayPos][ch]
			c.delay[c.delayPos][ch] = y + echo*delayFeedback
			y += echo * delayWet

			samples[i][ch] = y
		}
		c.delayPos++
		if c.delayPos == len(c.delay) {
			c.delayPos = 0
		}
	}
	return n, ok
}

func (c *Chain) Err() error { return c.src.Err() }

func dbToGain(db float64) float64 {
	return math.Pow(10, db/20)
}

// filterCutoff maps the bipolar filter knob to a cutoff frequency. It returns
// false at 0, where the filter is bypassed.
func filterCutoff(v float64) (float64, bool) {
	switch {
	case v < 0:
		return filterLPMax * math.Pow(filterLPMin/filterLPMax, -v/100), true
	case v > 0:
		return filterHPMin * math.Pow(filterHPMax/filterHPMin, v/100), true
	}
	return 0, false
}
