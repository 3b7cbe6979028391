package mixer

import (
	"math"
	"testing"
)

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestGainForEqualPowerCentre(t *testing.T) {
	a, b := Gains(50, 100, 100)
	if !near(a, b) {
		t.Errorf("centre gains differ: %v vs %v", a, b)
	}
	if !near(a, math.Cos(math.Pi/4)) {
		t.Errorf("centre gain = %v, want %v", a, math.Cos(math.Pi/4))
	}
	// equal power: a^2 + b^2 == 1
	if !near(a*a+b*b, 1) {
		t.Errorf("power at centre = %v, want 1", a*a+b*b)
	}
}

func TestGainForEnds(t *testing.T) {
	tests := []struct {
		cf         float64
		wantA      float64
		wantB      float64
		volA, volB float64
	}{
		{0, 1, 0, 100, 100},
		{100, 0, 1, 100, 100},
		{0, 0.5, 0, 50, 100},
		{100, 0, 0.25, 100, 25},
	}
	for _, tt := range tests {
		a, b := Gains(tt.cf, tt.volA, tt.volB)
		if !near(a, tt.wantA) || !near(b, tt.wantB) {
			t.Errorf("Gains(%v, %v, %v) = %v, %v, want %v, %v", tt.cf, tt.volA, tt.volB, a, b, tt.wantA, tt.wantB)
		}
	}
}

func TestGainForVolumeRespectsCrossfader(t *testing.T) {
	full := GainFor(Left, 30, 100)
	half := GainFor(Left, 30, 50)
	if !near(half, full/2) {
		t.Errorf("half volume gain = %v, want %v", half, full/2)
	}
}

func TestGainForClampsInput(t *testing.T) {
	if g := GainFor(Left, -50, 100); !near(g, 1) {
		t.Errorf("crossfader -50 -> %v, want 1", g)
	}
	if g := GainFor(Right, 150, 200); !near(g, 1) {
		t.Errorf("crossfader 150 volume 200 -> %v, want 1", g)
	}
	if g := GainFor(Left, math.NaN(), math.NaN()); g != 0 {
		t.Errorf("NaN volume -> %v, want 0", g)
	}
}

func TestGainForMonotonic(t *testing.T) {
	prevA, prevB := 2.0, -1.0
	for cf := 0.0; cf <= 100; cf++ {
		a, b := Gains(cf, 100, 100)
		if a > prevA || b < prevB {
			t.Fatalf("non-monotonic at %v: a=%v b=%v", cf, a, b)
		}
		prevA, prevB = a, b
	}
}

func TestClampEQ(t *testing.T) {
	got := ClampEQ(EQ{Low: -40, Mid: math.NaN(), High: 6})
	want := EQ{Low: MinEQ, Mid: 0, High: 6}
	if got != want {
		t.Errorf("ClampEQ = %+v, want %+v", got, want)
	}
}

func TestClampFX(t *testing.T) {
	got := ClampFX(FX{Filter: 300, Reverb: -5, Delay: 42})
	want := FX{Filter: MaxFilter, Reverb: 0, Delay: 42}
	if got != want {
		t.Errorf("ClampFX = %+v, want %+v", got, want)
	}
}

func TestNeutral(t *testing.T) {
	if !NeutralEQ().IsNeutral() || !NeutralFX().IsNeutral() {
		t.Error("neutral defaults should report neutral")
	}
	if (EQ{Low: 1}).IsNeutral() || (FX{Delay: 1}).IsNeutral() {
		t.Error("non-zero settings should not report neutral")
	}
}
