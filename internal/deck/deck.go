// Package deck is the per-deck engine: one track's lifecycle from load
// through play, pause, scrub, backspin and tempo bend, with the deck's own
// playing flag as the single source of truth over the audio engine.
package deck

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/rs/zerolog"

	"github.com/satindergrewal/twindeck/internal/audio"
	"github.com/satindergrewal/twindeck/internal/beatgrid"
	"github.com/satindergrewal/twindeck/internal/clock"
	"github.com/satindergrewal/twindeck/internal/fx"
	"github.com/satindergrewal/twindeck/internal/mixer"
	"github.com/satindergrewal/twindeck/internal/tempo"
)

var (
	// ErrLoadInProgress is returned when a load is requested while another is pending.
	ErrLoadInProgress = errors.New("deck: load already in progress")

	// ErrLoadCancelled is returned by a load that was overtaken by an eject.
	ErrLoadCancelled = errors.New("deck: load cancelled")

	// ErrClosed is returned by LoadTrack after Close.
	ErrClosed = errors.New("deck: closed")

	// ErrNoTrack is returned by ArmSync on an empty deck.
	ErrNoTrack = errors.New("deck: no track loaded")

	// ErrNotStopped is returned by ArmSync when the deck is playing or mid-gesture.
	ErrNotStopped = errors.New("deck: not stopped")
)

// ID names a deck.
type ID string

const (
	A ID = "A"
	B ID = "B"
)

// ParseID accepts "a", "A", "b" or "B".
func ParseID(s string) (ID, bool) {
	switch strings.ToUpper(s) {
	case "A":
		return A, true
	case "B":
		return B, true
	}
	return "", false
}

// Side is the crossfader end the deck feeds.
func (id ID) Side() mixer.Side {
	if id == B {
		return mixer.Right
	}
	return mixer.Left
}

// Other returns the opposite deck.
func (id ID) Other() ID {
	if id == A {
		return B
	}
	return A
}

// Track is an immutable reference to an audio resource. OriginalBPM is
// supplied by the user and anchors all tempo math.
type Track struct {
	Name        string  `json:"name"`
	URL         string  `json:"url"`
	OriginalBPM float64 `json:"original_bpm"`
	Key         string  `json:"key,omitempty"`
}

// State is the deck's position in its lifecycle.
type State int

const (
	Empty State = iota
	Loading
	Loaded // stopped
	Playing
	Scrubbing
	Backspinning
)

var stateNames = [...]string{"empty", "loading", "loaded", "playing", "scrubbing", "backspinning"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("deck: unknown state %q", b)
}

// Globals is the shared tempo state every deck reads and none writes.
type Globals interface {
	GlobalBPM() float64
	BPMSyncEnabled() bool
}

// Config holds the gesture tuning. None of these values are load-bearing;
// they are exposed so a controller can be matched by feel.
type Config struct {
	ScrubSecondsPerUnit float64       // track seconds moved per unit of scrub velocity
	ScrubIdleRelease    time.Duration // a scrub with no new delta for this long releases itself
	BackspinVelocity    float64       // scrub velocity below minus this triggers a backspin
	BackspinDuration    time.Duration
	BackspinRewind      float64 // track seconds rewound over one backspin
	BackspinPeakRate    float64 // burst rate at the start of a spin, as a multiple of the normal rate
	BackspinSteps       int
	BackspinTimeout     time.Duration // hard limit before the deck is forced back to normal
	LoadTimeout         time.Duration
}

// DefaultConfig returns the stock gesture tuning.
func DefaultConfig() Config {
	return Config{
		ScrubSecondsPerUnit: 0.01,
		ScrubIdleRelease:    250 * time.Millisecond,
		BackspinVelocity:    40,
		BackspinDuration:    600 * time.Millisecond,
		BackspinRewind:      1.5,
		BackspinPeakRate:    3,
		BackspinSteps:       12,
		BackspinTimeout:     2 * time.Second,
		LoadTimeout:         60 * time.Second,
	}
}

// Deps are the collaborators a deck is built from.
type Deps struct {
	Clock   clock.Clock
	Loader  audio.TrackLoader
	Engines audio.EngineFactory
	Globals Globals
	Log     zerolog.Logger
}

// Snapshot is a read-only view of a deck for the render loop and subscribers.
type Snapshot struct {
	ID              ID                `json:"id"`
	State           State             `json:"state"`
	Track           *Track            `json:"track"`
	IsPlaying       bool              `json:"is_playing"`
	PausedAtSeconds float64           `json:"paused_at_seconds"`
	CurrentSeconds  float64           `json:"current_seconds"`
	DurationSeconds float64           `json:"duration_seconds"`
	PitchPercent    float64           `json:"pitch_percent"`
	EQ              mixer.EQ          `json:"eq"`
	FX              mixer.FX          `json:"fx"`
	VolumePercent   float64           `json:"volume_percent"`
	IsSyncing       bool              `json:"is_syncing"`
	TempoLocked     bool              `json:"tempo_locked"`
	Bend            float64           `json:"bend"`
	Rate            float64           `json:"rate"`
	EffectiveBPM    float64           `json:"effective_bpm"`
	Beat            beatgrid.Position `json:"beat"`
}

// Deck owns its player and FX chain exclusively. All mutation goes through
// its methods, and every method is safe to call in any state.
type Deck struct {
	id      ID
	cfg     Config
	clock   clock.Clock
	globals Globals
	player  *audio.Player
	chain   *fx.Chain
	log     zerolog.Logger

	loadMu sync.Mutex // serializes player loads

	mu          sync.Mutex
	state       State
	track       *Track
	pitch       float64
	bend        float64
	eq          mixer.EQ
	fx          mixer.FX
	volume      float64
	syncing     bool
	tempoLocked bool
	closed      bool

	loadSeq    uint64
	cancelLoad func()

	endTimer clock.Timer
	endGen   uint64

	// gesture state
	resumeAfter bool
	scrubTimer  clock.Timer
	scrubGen    uint64
	spinTimers  []clock.Timer
	spinGen     uint64
	spinLanding float64

	watchers  map[int]func(Snapshot)
	nextWatch int
}

// New builds an empty deck.
func New(id ID, cfg Config, deps Deps) *Deck {
	log := deps.Log.With().Str("deck", string(id)).Logger()
	player := audio.NewPlayer(deps.Clock, deps.Loader, deps.Engines, log)
	return &Deck{
		id:       id,
		cfg:      cfg,
		clock:    deps.Clock,
		globals:  deps.Globals,
		player:   player,
		chain:    fx.NewChain(player.Output(), audio.SampleRate),
		log:      log,
		bend:     1,
		volume:   100,
		watchers: make(map[int]func(Snapshot)),
	}
}

func (d *Deck) ID() ID { return d.id }

// Output is the deck's processed audio for the mix bus.
func (d *Deck) Output() beep.Streamer {
	return d.chain
}

// Watch registers fn to receive a snapshot after every state change. fn runs
// on the goroutine that made the change, outside the deck lock. The returned
// func unregisters it.
func (d *Deck) Watch(fn func(Snapshot)) (cancel func()) {
	d.mu.Lock()
	id := d.nextWatch
	d.nextWatch++
	d.watchers[id] = fn
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.watchers, id)
		d.mu.Unlock()
	}
}

func (d *Deck) notify() {
	d.mu.Lock()
	snap := d.snapshotLocked()
	fns := make([]func(Snapshot), 0, len(d.watchers))
	for _, fn := range d.watchers {
		fns = append(fns, fn)
	}
	d.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// Snapshot returns the current deck state. Safe to call at any rate, in any state.
func (d *Deck) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshotLocked()
}

func (d *Deck) snapshotLocked() Snapshot {
	s := Snapshot{
		ID:            d.id,
		State:         d.state,
		IsPlaying:     d.state == Playing,
		PitchPercent:  d.pitch,
		EQ:            d.eq,
		FX:            d.fx,
		VolumePercent: d.volume,
		IsSyncing:     d.syncing,
		TempoLocked:   d.tempoLocked,
		Bend:          d.bend,
		Beat:          beatgrid.Position{Bar: 1, Beat: 1, Queued: d.syncing},
	}
	if d.track == nil {
		return s
	}
	t := *d.track
	s.Track = &t
	s.CurrentSeconds = d.player.CurrentTime()
	s.PausedAtSeconds = d.player.ResumePoint()
	s.DurationSeconds = d.player.Duration()
	s.Rate = d.rateLocked()
	s.EffectiveBPM = tempo.EffectiveBPM(t.OriginalBPM, s.Rate)
	s.Beat = beatgrid.PositionFor(s.CurrentSeconds, t.OriginalBPM)
	s.Beat.Queued = d.syncing
	return s
}

// CurrentTime returns the playback position in track seconds, 0 when empty.
func (d *Deck) CurrentTime() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.track == nil {
		return 0
	}
	return d.player.CurrentTime()
}

// BeatPosition places the current position on the track's own beat grid.
// Media time at the original tempo is used so the grid stays locked to the
// music whatever rate it plays at.
func (d *Deck) BeatPosition() beatgrid.Position {
	return d.Snapshot().Beat
}

// EffectiveBPM is the tempo the deck is heard at, 0 when unknown.
func (d *Deck) EffectiveBPM() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.track == nil {
		return 0
	}
	return tempo.EffectiveBPM(d.track.OriginalBPM, d.rateLocked())
}

// rateLocked composes the sync ratio, pitch and bend. Sync applies when the
// global switch is on, when the deck is locked to the global tempo, or while a
// bar-aligned start is armed.
func (d *Deck) rateLocked() float64 {
	if d.track == nil {
		return d.bend
	}
	sync := d.globals.BPMSyncEnabled() || d.tempoLocked || d.syncing
	return tempo.EffectiveRate(d.track.OriginalBPM, d.globals.GlobalBPM(), sync, d.pitch) * d.bend
}

// applyRateLocked pushes the composed rate to the player without a position
// jump and moves the end-of-track timer to match.
func (d *Deck) applyRateLocked() {
	d.player.SetRate(d.rateLocked())
	if d.state == Playing {
		d.scheduleEndLocked()
	}
}

// Close ejects the track and drops all watchers.
func (d *Deck) Close() {
	d.Eject()
	d.mu.Lock()
	d.closed = true
	d.watchers = make(map[int]func(Snapshot))
	d.mu.Unlock()
}
