// Package console is the single observable state container for the mixer:
// global tempo, crossfader, both decks and the sync coordinator. Every
// mutation goes through its command methods, which never fail (except Load)
// and publish the resulting state to subscribers.
package console

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/satindergrewal/twindeck/internal/audio"
	"github.com/satindergrewal/twindeck/internal/beatgrid"
	"github.com/satindergrewal/twindeck/internal/beatsync"
	"github.com/satindergrewal/twindeck/internal/clock"
	"github.com/satindergrewal/twindeck/internal/deck"
	"github.com/satindergrewal/twindeck/internal/mixer"
	"github.com/satindergrewal/twindeck/internal/tempo"
)

// ErrUnknownDeck is returned by Load for an id that is neither A nor B.
var ErrUnknownDeck = errors.New("console: unknown deck")

// DefaultGlobalBPM is the shared tempo at startup.
const DefaultGlobalBPM = 128.0

// Options configure a console.
type Options struct {
	GlobalBPM  float64
	BPMSync    bool
	Crossfader float64 // percent
	Deck       deck.Config
}

// DefaultOptions returns the startup state: 128 BPM, sync on, crossfader centred.
func DefaultOptions() Options {
	return Options{
		GlobalBPM:  DefaultGlobalBPM,
		BPMSync:    true,
		Crossfader: 50,
		Deck:       deck.DefaultConfig(),
	}
}

// StateUpdate is one published change.
type StateUpdate struct {
	Type      string    `json:"type"` // deck, global, mixer, sync
	Deck      deck.ID   `json:"deck,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Global is the shared state every deck reads.
type Global struct {
	GlobalBPM         float64 `json:"global_bpm"`
	BPMSyncEnabled    bool    `json:"bpm_sync_enabled"`
	CrossfaderPercent float64 `json:"crossfader_percent"`
}

// Status is the render-loop view: both decks, global state, output gains.
type Status struct {
	Global  Global                    `json:"global"`
	Decks   map[deck.ID]deck.Snapshot `json:"decks"`
	Gains   map[deck.ID]float64       `json:"gains"`
	Aligned bool                      `json:"aligned"`
}

// Console owns both decks and the shared state.
type Console struct {
	clock clock.Clock
	log   zerolog.Logger
	coord *beatsync.Coordinator
	decks map[deck.ID]*deck.Deck

	mu         sync.RWMutex
	globalBPM  float64
	bpmSync    bool
	crossfader float64

	subMu sync.Mutex
	subs  map[uuid.UUID]chan StateUpdate

	unwatch []func()
}

// New builds a console with two empty decks.
func New(opts Options, loader audio.TrackLoader, engines audio.EngineFactory, clk clock.Clock, log zerolog.Logger) *Console {
	c := &Console{
		clock:      clk,
		log:        log.With().Str("component", "console").Logger(),
		coord:      beatsync.New(clk, log),
		decks:      make(map[deck.ID]*deck.Deck, 2),
		globalBPM:  tempo.ClampBPM(opts.GlobalBPM),
		bpmSync:    opts.BPMSync,
		crossfader: mixer.ClampPercent(opts.Crossfader),
		subs:       make(map[uuid.UUID]chan StateUpdate),
	}
	deps := deck.Deps{
		Clock:   clk,
		Loader:  loader,
		Engines: engines,
		Globals: c,
		Log:     log.With().Str("component", "deck").Logger(),
	}
	for _, id := range []deck.ID{deck.A, deck.B} {
		d := deck.New(id, opts.Deck, deps)
		c.decks[id] = d
		c.unwatch = append(c.unwatch, d.Watch(func(s deck.Snapshot) {
			c.publish("deck", id, s)
		}))
	}
	c.coord.OnEvent(func(e beatsync.Event) {
		c.publish("sync", e.Pending.Follower, e)
	})
	return c
}

// GlobalBPM implements deck.Globals.
func (c *Console) GlobalBPM() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.globalBPM
}

// BPMSyncEnabled implements deck.Globals.
func (c *Console) BPMSyncEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bpmSync
}

// Deck returns the deck for id.
func (c *Console) Deck(id deck.ID) (*deck.Deck, bool) {
	d, ok := c.decks[id]
	return d, ok
}

// with runs fn on the deck for id, logging unknown ids at debug level.
func (c *Console) with(id deck.ID, op string, fn func(d *deck.Deck)) {
	d, ok := c.decks[id]
	if !ok {
		c.log.Debug().Str("deck", string(id)).Str("op", op).Msg("ignored: unknown deck")
		return
	}
	fn(d)
}

// Load loads t onto deck id. It is the one command that reports failure.
func (c *Console) Load(ctx context.Context, id deck.ID, t deck.Track) error {
	d, ok := c.decks[id]
	if !ok {
		return ErrUnknownDeck
	}
	c.coord.Cancel(id)
	if err := d.LoadTrack(ctx, t); err != nil {
		c.log.Error().Err(err).Str("deck", string(id)).Str("url", t.URL).Msg("load failed")
		return err
	}
	return nil
}

func (c *Console) Play(id deck.ID) {
	c.with(id, "play", (*deck.Deck).Play)
}

func (c *Console) Pause(id deck.ID) {
	c.with(id, "pause", (*deck.Deck).Pause)
}

// TogglePlay pauses a playing deck and starts a stopped one.
func (c *Console) TogglePlay(id deck.ID) {
	c.with(id, "toggle", func(d *deck.Deck) {
		if d.Snapshot().IsPlaying {
			d.Pause()
			return
		}
		d.Play()
	})
}

func (c *Console) Seek(id deck.ID, seconds float64) {
	c.with(id, "seek", func(d *deck.Deck) { d.Seek(seconds) })
}

func (c *Console) Cue(id deck.ID) {
	c.with(id, "cue", (*deck.Deck).Cue)
}

// Eject empties a deck. Syncs it leads or follows are dropped by the
// coordinator's watchers.
func (c *Console) Eject(id deck.ID) {
	c.with(id, "eject", (*deck.Deck).Eject)
}

func (c *Console) SetPitch(id deck.ID, pct float64) {
	c.with(id, "pitch", func(d *deck.Deck) { d.SetPitch(pct) })
}

func (c *Console) Scrub(id deck.ID, delta float64) {
	c.with(id, "scrub", func(d *deck.Deck) { d.Scrub(delta) })
}

func (c *Console) ReleaseScrub(id deck.ID) {
	c.with(id, "release", (*deck.Deck).ReleaseScrub)
}

func (c *Console) TriggerBackspin(id deck.ID) {
	c.with(id, "backspin", (*deck.Deck).TriggerBackspin)
}

func (c *Console) BendTempo(id deck.ID, rate float64) {
	c.with(id, "bend", func(d *deck.Deck) { d.BendTempo(rate) })
}

func (c *Console) SetEQ(id deck.ID, eq mixer.EQ) {
	c.with(id, "eq", func(d *deck.Deck) { d.SetEQ(eq) })
}

func (c *Console) SetFX(id deck.ID, fx mixer.FX) {
	c.with(id, "fx", func(d *deck.Deck) { d.SetFX(fx) })
}

// SetVolume sets a deck fader. Gains follow from Gains on the next pull, so a
// volume change respects the current crossfader position.
func (c *Console) SetVolume(id deck.ID, pct float64) {
	c.with(id, "volume", func(d *deck.Deck) { d.SetVolume(pct) })
}

// SetCrossfader moves the crossfader, clamped to [0, 100].
func (c *Console) SetCrossfader(pct float64) {
	c.mu.Lock()
	c.crossfader = mixer.ClampPercent(pct)
	c.mu.Unlock()
	c.publish("mixer", "", c.gainsMap())
}

// SetGlobalBPM sets the shared tempo and retunes both decks. Non-positive
// input is stored as 0, which every deck treats as "no sync ratio".
func (c *Console) SetGlobalBPM(bpm float64) {
	c.mu.Lock()
	c.globalBPM = tempo.ClampBPM(bpm)
	c.mu.Unlock()
	c.retune()
	c.publish("global", "", c.global())
}

// ToggleBPMSync flips global sync and retunes both decks.
func (c *Console) ToggleBPMSync() {
	c.mu.Lock()
	c.bpmSync = !c.bpmSync
	c.mu.Unlock()
	c.retune()
	c.publish("global", "", c.global())
}

// retune pushes the global tempo to both decks, then moves any pending
// synced start onto the leader's bar at its new tempo.
func (c *Console) retune() {
	ids := []deck.ID{deck.A, deck.B}
	for _, id := range ids {
		c.decks[id].Retune()
	}
	for _, id := range ids {
		p, ok, err := c.coord.Reschedule(id)
		if !ok {
			continue
		}
		if err != nil {
			c.log.Info().Err(err).Str("deck", string(id)).Msg("synced start dropped on retune")
			continue
		}
		c.log.Debug().Str("deck", string(id)).Dur("delay", p.Delay).Msg("synced start rescheduled")
	}
}

// SyncDeckToGlobal locks deck id to the global tempo. If the other deck is
// playing and this one is loaded and stopped, it also schedules a start on
// the other deck's next bar.
func (c *Console) SyncDeckToGlobal(id deck.ID) {
	d, ok := c.decks[id]
	if !ok {
		c.log.Debug().Str("deck", string(id)).Msg("sync ignored: unknown deck")
		return
	}
	d.LockToGlobal(true)

	other := c.decks[id.Other()]
	if other.Snapshot().State != deck.Playing || d.Snapshot().State != deck.Loaded {
		return
	}
	if _, err := c.coord.SyncFollowerToLeader(other, d); err != nil {
		c.log.Debug().Err(err).Str("deck", string(id)).Msg("synced start not scheduled")
	}
}

// CancelSync drops a pending synced start on deck id.
func (c *Console) CancelSync(id deck.ID) {
	c.coord.Cancel(id)
}

// PendingSync returns the pending synced start on deck id.
func (c *Console) PendingSync(id deck.ID) (beatsync.Pending, bool) {
	return c.coord.Pending(id)
}

func (c *Console) global() Global {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Global{
		GlobalBPM:         c.globalBPM,
		BPMSyncEnabled:    c.bpmSync,
		CrossfaderPercent: c.crossfader,
	}
}

// Gains returns the current output gains for deck A and deck B.
func (c *Console) Gains() (a, b float64) {
	c.mu.RLock()
	cf := c.crossfader
	c.mu.RUnlock()
	return mixer.Gains(cf, c.decks[deck.A].Volume(), c.decks[deck.B].Volume())
}

func (c *Console) gainsMap() map[deck.ID]float64 {
	a, b := c.Gains()
	return map[deck.ID]float64{deck.A: a, deck.B: b}
}

// Snapshot returns the full state for the render loop. Beat alignment is only
// meaningful, and only reported, while both decks are playing.
func (c *Console) Snapshot() Status {
	a := c.decks[deck.A].Snapshot()
	b := c.decks[deck.B].Snapshot()
	aligned := a.IsPlaying && b.IsPlaying && beatgrid.IsAligned(a.Beat, b.Beat)
	a.Beat.Aligned = aligned
	b.Beat.Aligned = aligned
	return Status{
		Global:  c.global(),
		Decks:   map[deck.ID]deck.Snapshot{deck.A: a, deck.B: b},
		Gains:   c.gainsMap(),
		Aligned: aligned,
	}
}

// Subscribe returns a channel of state updates and a func to stop them.
// Updates to a full channel are dropped.
func (c *Console) Subscribe() (<-chan StateUpdate, func()) {
	id := uuid.New()
	ch := make(chan StateUpdate, 16)

	c.subMu.Lock()
	c.subs[id] = ch
	c.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			if _, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(ch)
			}
			c.subMu.Unlock()
		})
	}
}

func (c *Console) publish(typ string, id deck.ID, data any) {
	u := StateUpdate{Type: typ, Deck: id, Timestamp: c.clock.Now(), Data: data}

	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- u:
		default:
			c.log.Debug().Str("type", typ).Msg("subscriber full, update dropped")
		}
	}
}

// Close cancels pending syncs, ejects both decks and closes all subscriptions.
func (c *Console) Close() {
	c.coord.Close()
	for _, fn := range c.unwatch {
		fn()
	}
	for _, d := range c.decks {
		d.Close()
	}
	c.subMu.Lock()
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
	c.subMu.Unlock()
}
