package audio_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/satindergrewal/twindeck/internal/audio"
	"github.com/satindergrewal/twindeck/internal/audio/audiotest"
	"github.com/satindergrewal/twindeck/internal/clock"
)

func newTestPlayer(t *testing.T) (*audio.Player, *clock.Manual, func() *audiotest.Engine) {
	t.Helper()
	clk := clock.NewManual(time.Unix(1000, 0))
	loader := audiotest.NewLoader().Add("song.mp3", 120)
	factory, last := audiotest.Factory()
	return audio.NewPlayer(clk, loader, factory, zerolog.Nop()), clk, last
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestPlayerLoadResetsPosition(t *testing.T) {
	p, _, last := newTestPlayer(t)
	if err := p.Load(context.Background(), "song.mp3"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !p.Loaded() {
		t.Fatal("player should be loaded")
	}
	if p.Playing() {
		t.Error("player should be stopped after load")
	}
	if p.CurrentTime() != 0 {
		t.Errorf("CurrentTime = %v, want 0", p.CurrentTime())
	}
	if p.Duration() != 120 {
		t.Errorf("Duration = %v, want 120", p.Duration())
	}
	if last() == nil {
		t.Error("load should build an engine")
	}
}

func TestPlayerLoadFailureLeavesEmpty(t *testing.T) {
	p, _, last := newTestPlayer(t)
	p.Load(context.Background(), "song.mp3")
	first := last()

	err := p.Load(context.Background(), "missing.mp3")
	var le *audio.LoadError
	if !errors.As(err, &le) {
		t.Fatalf("Load error = %v, want *LoadError", err)
	}
	if le.URL != "missing.mp3" {
		t.Errorf("LoadError.URL = %q", le.URL)
	}
	if !errors.Is(err, audiotest.ErrNotFound) {
		t.Errorf("error should wrap ErrNotFound, got %v", err)
	}
	if p.Loaded() {
		t.Error("failed load should leave the player empty")
	}
	if !first.Closed() {
		t.Error("previous engine should be released")
	}
}

func TestPlayerTimeAdvancesWithRate(t *testing.T) {
	tests := []struct {
		rate    float64
		elapsed time.Duration
		want    float64
	}{
		{1, 2 * time.Second, 2},
		{1.25, 4 * time.Second, 5},
		{0.5, 10 * time.Second, 5},
	}
	for _, tt := range tests {
		p, clk, _ := newTestPlayer(t)
		p.Load(context.Background(), "song.mp3")
		p.SetRate(tt.rate)
		p.Play()
		clk.Advance(tt.elapsed)
		if got := p.CurrentTime(); !approx(got, tt.want) {
			t.Errorf("rate %v after %v: CurrentTime = %v, want %v", tt.rate, tt.elapsed, got, tt.want)
		}
	}
}

func TestPlayerPauseRoundTrip(t *testing.T) {
	p, clk, last := newTestPlayer(t)
	p.Load(context.Background(), "song.mp3")
	p.Play()
	clk.Advance(3 * time.Second)
	p.Pause()

	if p.Playing() {
		t.Error("player should be paused")
	}
	at := p.CurrentTime()
	if !approx(at, 3) {
		t.Errorf("paused at %v, want 3", at)
	}
	clk.Advance(5 * time.Second)
	if p.CurrentTime() != at {
		t.Error("time should not move while paused")
	}

	p.Play()
	starts := last().Starts()
	if got := starts[len(starts)-1]; !approx(got, 3) {
		t.Errorf("resume offset = %v, want 3", got)
	}
}

func TestPlayerPauseIdempotent(t *testing.T) {
	p, clk, last := newTestPlayer(t)
	p.Load(context.Background(), "song.mp3")
	p.Play()
	clk.Advance(time.Second)
	p.Pause()
	p.Pause()
	if last().Stops() != 1 {
		t.Errorf("engine Stop called %d times, want 1", last().Stops())
	}
}

func TestPlayerPauseSurvivesEngineStopError(t *testing.T) {
	p, clk, last := newTestPlayer(t)
	p.Load(context.Background(), "song.mp3")
	p.Play()
	clk.Advance(2 * time.Second)

	last().SelfStop()
	last().FailStop()
	p.Pause()

	if p.Playing() {
		t.Error("player must be stopped even when the engine errors")
	}
	if !approx(p.CurrentTime(), 2) {
		t.Errorf("CurrentTime = %v, want 2", p.CurrentTime())
	}
}

func TestPlayerPlayWhilePlayingIsNoop(t *testing.T) {
	p, clk, last := newTestPlayer(t)
	p.Load(context.Background(), "song.mp3")
	p.Play()
	clk.Advance(time.Second)
	p.Play()
	if n := len(last().Starts()); n != 1 {
		t.Errorf("engine started %d times, want 1", n)
	}
	if !approx(p.CurrentTime(), 1) {
		t.Errorf("CurrentTime = %v, want 1", p.CurrentTime())
	}
}

func TestPlayerSetRateNoJump(t *testing.T) {
	p, clk, last := newTestPlayer(t)
	p.Load(context.Background(), "song.mp3")
	p.Play()
	clk.Advance(4 * time.Second)

	before := p.CurrentTime()
	p.SetRate(2)
	if after := p.CurrentTime(); !approx(before, after) {
		t.Errorf("rate change jumped from %v to %v", before, after)
	}
	clk.Advance(time.Second)
	if got := p.CurrentTime(); !approx(got, 6) {
		t.Errorf("CurrentTime = %v, want 6", got)
	}
	if last().Rate() != 2 {
		t.Errorf("engine rate = %v, want 2", last().Rate())
	}
}

func TestPlayerSetRateFloor(t *testing.T) {
	p, _, _ := newTestPlayer(t)
	for _, r := range []float64{0, -3, math.NaN()} {
		p.SetRate(r)
		if p.Rate() != audio.MinRate {
			t.Errorf("SetRate(%v) -> %v, want %v", r, p.Rate(), audio.MinRate)
		}
	}
}

func TestPlayerSeekKeepsPlayState(t *testing.T) {
	p, clk, _ := newTestPlayer(t)
	p.Load(context.Background(), "song.mp3")

	p.Seek(30)
	if p.Playing() || p.CurrentTime() != 30 {
		t.Errorf("stopped seek: playing=%v at=%v", p.Playing(), p.CurrentTime())
	}

	p.Play()
	p.Seek(60)
	clk.Advance(time.Second)
	if !p.Playing() || !approx(p.CurrentTime(), 61) {
		t.Errorf("playing seek: playing=%v at=%v", p.Playing(), p.CurrentTime())
	}

	p.Seek(-5)
	if p.CurrentTime() != 0 {
		t.Errorf("negative seek = %v, want 0", p.CurrentTime())
	}
	p.Seek(500)
	if p.CurrentTime() != 120 {
		t.Errorf("seek past end = %v, want 120", p.CurrentTime())
	}
}

func TestPlayerCurrentTimeClampsAtEnd(t *testing.T) {
	p, clk, _ := newTestPlayer(t)
	p.Load(context.Background(), "song.mp3")
	p.PlayFrom(119)
	clk.Advance(10 * time.Second)
	if p.CurrentTime() != 120 {
		t.Errorf("CurrentTime = %v, want 120", p.CurrentTime())
	}
}

func TestPlayerRemaining(t *testing.T) {
	p, _, _ := newTestPlayer(t)
	if _, ok := p.Remaining(); ok {
		t.Error("empty player has no remaining time")
	}
	p.Load(context.Background(), "song.mp3")
	p.PlayFrom(100)
	p.SetRate(2)
	d, ok := p.Remaining()
	if !ok || d != 10*time.Second {
		t.Errorf("Remaining = %v, %v, want 10s, true", d, ok)
	}
}

func TestPlayerEmptyOperationsAreNoops(t *testing.T) {
	p, _, _ := newTestPlayer(t)
	p.Play()
	p.Pause()
	p.Seek(10)
	p.PlayFrom(3)
	if p.Playing() || p.CurrentTime() != 0 {
		t.Error("operations on an empty player should do nothing")
	}
}

func TestPlayerDisposeIdempotent(t *testing.T) {
	p, _, last := newTestPlayer(t)
	p.Load(context.Background(), "song.mp3")
	p.Play()
	p.Dispose()
	p.Dispose()
	if p.Loaded() || p.Playing() {
		t.Error("disposed player should be empty and stopped")
	}
	if !last().Closed() {
		t.Error("engine should be closed")
	}
	if err := p.Load(context.Background(), "song.mp3"); err != nil {
		t.Errorf("reload after dispose: %v", err)
	}
}
