// Package beatsync brings a stopped deck onto a playing deck's bar grid: it
// waits for the leader's next downbeat and starts the follower exactly then,
// already running at the shared global tempo.
package beatsync

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/satindergrewal/twindeck/internal/beatgrid"
	"github.com/satindergrewal/twindeck/internal/clock"
	"github.com/satindergrewal/twindeck/internal/deck"
)

var (
	ErrSameDeck           = errors.New("beatsync: leader and follower are the same deck")
	ErrLeaderNotPlaying   = errors.New("beatsync: leader is not playing")
	ErrLeaderTempoUnknown = errors.New("beatsync: leader tempo unknown")
	ErrFollowerEmpty      = errors.New("beatsync: follower has no track")
	ErrFollowerPlaying    = errors.New("beatsync: follower is not stopped")
)

// Deck is what the coordinator needs from a deck.
type Deck interface {
	ID() deck.ID
	Snapshot() deck.Snapshot
	ArmSync() error
	FireSync() bool
	DisarmSync()
	Watch(fn func(deck.Snapshot)) (cancel func())
}

// Pending describes a scheduled synced start.
type Pending struct {
	ID            uuid.UUID     `json:"id"`
	Leader        deck.ID       `json:"leader"`
	Follower      deck.ID       `json:"follower"`
	BeatsUntilBar int           `json:"beats_until_bar"`
	Delay         time.Duration `json:"delay"`
	FireAt        time.Time     `json:"fire_at"`
}

type pending struct {
	Pending
	leader   Deck
	follower Deck
	timer    clock.Timer
	unwatch  []func()
	done     bool
}

// Coordinator schedules synced starts against the shared transport clock.
// At most one start is pending per follower.
type Coordinator struct {
	clock clock.Clock
	log   zerolog.Logger

	mu      sync.Mutex
	pending map[deck.ID]*pending
	onEvent func(Event)
}

// EventType names what happened to a pending sync.
type EventType string

const (
	Scheduled EventType = "scheduled"
	Fired     EventType = "fired"
	Lost      EventType = "lost"      // leader stopped first
	Cancelled EventType = "cancelled" // dropped by a caller or the follower
)

// Event reports a change to a pending sync.
type Event struct {
	Type    EventType `json:"type"`
	Pending Pending   `json:"pending"`
}

// New creates a coordinator.
func New(clk clock.Clock, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		clock:   clk,
		log:     log.With().Str("component", "beatsync").Logger(),
		pending: make(map[deck.ID]*pending),
	}
}

// OnEvent sets a callback for sync lifecycle events. It runs outside the
// coordinator lock.
func (c *Coordinator) OnEvent(fn func(Event)) {
	c.mu.Lock()
	c.onEvent = fn
	c.mu.Unlock()
}

func (c *Coordinator) emit(t EventType, p Pending) {
	c.mu.Lock()
	fn := c.onEvent
	c.mu.Unlock()
	if fn != nil {
		fn(Event{Type: t, Pending: p})
	}
}

// SyncFollowerToLeader schedules follower to start on leader's next bar.
//
// The wait is BeatsUntilNextBar beats at the leader's effective tempo. A
// leader exactly on a downbeat waits a full bar. The follower is armed (and
// retuned to the global tempo) before the timer is set. If the leader stops
// before the start, the sync is dropped and the follower left stopped.
func (c *Coordinator) SyncFollowerToLeader(leader, follower Deck) (Pending, error) {
	if leader.ID() == follower.ID() {
		return Pending{}, ErrSameDeck
	}
	ls := leader.Snapshot()
	if ls.State != deck.Playing {
		return Pending{}, ErrLeaderNotPlaying
	}
	if !(ls.EffectiveBPM > 0) {
		return Pending{}, ErrLeaderTempoUnknown
	}
	fs := follower.Snapshot()
	if fs.Track == nil {
		return Pending{}, ErrFollowerEmpty
	}
	if fs.State != deck.Loaded {
		return Pending{}, ErrFollowerPlaying
	}

	c.Cancel(follower.ID())
	if err := follower.ArmSync(); err != nil {
		return Pending{}, err
	}

	beats := beatgrid.BeatsUntilNextBar(ls.Beat)
	delay := beatgrid.DelayUntilNextBar(ls.Beat, ls.EffectiveBPM)
	p := &pending{
		Pending: Pending{
			ID:            uuid.New(),
			Leader:        leader.ID(),
			Follower:      follower.ID(),
			BeatsUntilBar: beats,
			Delay:         delay,
			FireAt:        c.clock.Now().Add(delay),
		},
		leader:   leader,
		follower: follower,
	}

	c.mu.Lock()
	c.pending[p.Follower] = p
	p.timer = c.clock.AfterFunc(delay, func() { c.fire(p) })
	c.mu.Unlock()

	unwatch := []func(){
		leader.Watch(func(s deck.Snapshot) {
			if s.State != deck.Playing {
				c.lose(p)
			}
		}),
		follower.Watch(func(s deck.Snapshot) {
			// Disarmed elsewhere: ejected, reloaded or started by hand.
			if !s.IsSyncing {
				c.drop(p, false)
			}
		}),
	}
	c.mu.Lock()
	if p.done {
		c.mu.Unlock()
		for _, fn := range unwatch {
			fn()
		}
	} else {
		p.unwatch = unwatch
		c.mu.Unlock()
	}

	// The leader may have stopped before its watcher was in place.
	if leader.Snapshot().State != deck.Playing {
		c.lose(p)
		return p.Pending, ErrLeaderNotPlaying
	}

	c.log.Info().
		Str("id", p.ID.String()).
		Str("leader", string(p.Leader)).
		Str("follower", string(p.Follower)).
		Int("beat", ls.Beat.Beat).
		Int("beats_until_bar", beats).
		Dur("delay", delay).
		Msg("sync scheduled")
	c.emit(Scheduled, p.Pending)
	return p.Pending, nil
}

// finish retires p. It reports false if p was already retired.
func (c *Coordinator) finish(p *pending) bool {
	c.mu.Lock()
	if p.done {
		c.mu.Unlock()
		return false
	}
	p.done = true
	if c.pending[p.Follower] == p {
		delete(c.pending, p.Follower)
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	unwatch := p.unwatch
	p.unwatch = nil
	c.mu.Unlock()

	for _, fn := range unwatch {
		fn()
	}
	return true
}

func (c *Coordinator) fire(p *pending) {
	if !c.finish(p) {
		return
	}
	if p.leader.Snapshot().State != deck.Playing {
		p.follower.DisarmSync()
		c.log.Info().Str("id", p.ID.String()).Str("follower", string(p.Follower)).Msg("sync target lost")
		c.emit(Lost, p.Pending)
		return
	}
	if !p.follower.FireSync() {
		c.log.Debug().Str("id", p.ID.String()).Msg("follower no longer armed at fire time")
		c.emit(Cancelled, p.Pending)
		return
	}
	c.log.Info().Str("id", p.ID.String()).Str("follower", string(p.Follower)).Msg("sync fired")
	c.emit(Fired, p.Pending)
}

// lose drops p because its leader stopped. The follower stays stopped.
func (c *Coordinator) lose(p *pending) {
	if !c.finish(p) {
		return
	}
	p.follower.DisarmSync()
	c.log.Info().
		Str("id", p.ID.String()).
		Str("leader", string(p.Leader)).
		Str("follower", string(p.Follower)).
		Msg("sync target lost")
	c.emit(Lost, p.Pending)
}

func (c *Coordinator) drop(p *pending, disarm bool) {
	if !c.finish(p) {
		return
	}
	if disarm {
		p.follower.DisarmSync()
	}
	c.log.Debug().Str("id", p.ID.String()).Str("follower", string(p.Follower)).Msg("sync cancelled")
	c.emit(Cancelled, p.Pending)
}

// Cancel drops the pending sync for follower, if any, and disarms it.
func (c *Coordinator) Cancel(follower deck.ID) bool {
	c.mu.Lock()
	p, ok := c.pending[follower]
	c.mu.Unlock()
	if !ok {
		return false
	}
	c.drop(p, true)
	return true
}

// Reschedule recomputes the pending sync for follower from the leader's
// current position and tempo. Call it after anything changes the leader's
// effective BPM, or the start lands off the bar. It reports false when nothing
// was pending.
func (c *Coordinator) Reschedule(follower deck.ID) (Pending, bool, error) {
	c.mu.Lock()
	p, ok := c.pending[follower]
	c.mu.Unlock()
	if !ok {
		return Pending{}, false, nil
	}
	np, err := c.SyncFollowerToLeader(p.leader, p.follower)
	return np, true, err
}

// Pending returns the scheduled sync for follower.
func (c *Coordinator) Pending(follower deck.ID) (Pending, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[follower]
	if !ok {
		return Pending{}, false
	}
	return p.Pending, true
}

// Close cancels everything pending.
func (c *Coordinator) Close() {
	c.mu.Lock()
	ids := make([]deck.ID, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	for _, id := range ids {
		c.Cancel(id)
	}
}
