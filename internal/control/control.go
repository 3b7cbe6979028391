// Package control maps a MIDI DJ controller onto console commands.
package control

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"

	"github.com/satindergrewal/twindeck/internal/deck"
	"github.com/satindergrewal/twindeck/internal/tempo"
)

// Commands is the part of the console a controller drives.
type Commands interface {
	TogglePlay(id deck.ID)
	SyncDeckToGlobal(id deck.ID)
	ToggleBPMSync()
	SetPitch(id deck.ID, pct float64)
	SetVolume(id deck.ID, pct float64)
	SetCrossfader(pct float64)
	Scrub(id deck.ID, delta float64)
	BendTempo(id deck.ID, rate float64)
}

// Default note and controller numbers.
const (
	NotePlayA     = 0x10
	NotePlayB     = 0x11
	NoteSyncA     = 0x12
	NoteSyncB     = 0x13
	NoteBPMSync   = 0x14
	CCPitchA      = 0x01
	CCPitchB      = 0x02
	CCVolumeA     = 0x03
	CCVolumeB     = 0x04
	CCCrossfader  = 0x05
	CCJogA        = 0x06
	CCJogB        = 0x07
	jogCentre     = 64
	maxBendOffset = 0.08
)

// Surface turns MIDI messages on one channel into console commands. Pitch
// bend on the channel bends deck A; on the next channel it bends deck B.
type Surface struct {
	cmds    Commands
	channel uint8
	log     zerolog.Logger

	mu   sync.Mutex
	stop func()
}

// New returns a surface listening on channel (0-15).
func New(cmds Commands, channel uint8, log zerolog.Logger) *Surface {
	return &Surface{
		cmds:    cmds,
		channel: channel & 0x0f,
		log:     log.With().Str("component", "midi").Logger(),
	}
}

// Listen starts delivering messages from in. It replaces any earlier input.
func (s *Surface) Listen(in drivers.In) error {
	stop, err := gomidi.ListenTo(in, func(msg gomidi.Message, timestampms int32) {
		s.Handle(msg)
	})
	if err != nil {
		return fmt.Errorf("listen on %s: %w", in, err)
	}
	s.mu.Lock()
	old := s.stop
	s.stop = stop
	s.mu.Unlock()
	if old != nil {
		old()
	}
	s.log.Info().Str("port", in.String()).Uint8("channel", s.channel).Msg("midi input open")
	return nil
}

// ListenPort opens the input port whose name contains name.
func (s *Surface) ListenPort(name string) error {
	in, err := gomidi.FindInPort(name)
	if err != nil {
		return fmt.Errorf("find midi input %q: %w", name, err)
	}
	return s.Listen(in)
}

// Handle applies msg and reports whether it was mapped.
func (s *Surface) Handle(msg gomidi.Message) bool {
	var ch, key, vel, cc, val uint8
	var rel int16
	var abs uint16
	switch {
	case msg.GetNoteOn(&ch, &key, &vel):
		if ch != s.channel || vel == 0 {
			return false
		}
		return s.note(key)
	case msg.GetControlChange(&ch, &cc, &val):
		if ch != s.channel {
			return false
		}
		return s.control(cc, val)
	case msg.GetPitchBend(&ch, &rel, &abs):
		switch ch {
		case s.channel:
			s.cmds.BendTempo(deck.A, BendRate(rel))
		case (s.channel + 1) & 0x0f:
			s.cmds.BendTempo(deck.B, BendRate(rel))
		default:
			return false
		}
		return true
	}
	return false
}

func (s *Surface) note(key uint8) bool {
	switch key {
	case NotePlayA:
		s.cmds.TogglePlay(deck.A)
	case NotePlayB:
		s.cmds.TogglePlay(deck.B)
	case NoteSyncA:
		s.cmds.SyncDeckToGlobal(deck.A)
	case NoteSyncB:
		s.cmds.SyncDeckToGlobal(deck.B)
	case NoteBPMSync:
		s.cmds.ToggleBPMSync()
	default:
		s.log.Debug().Uint8("note", key).Msg("unmapped note")
		return false
	}
	return true
}

func (s *Surface) control(cc, val uint8) bool {
	switch cc {
	case CCPitchA:
		s.cmds.SetPitch(deck.A, PitchPercent(val))
	case CCPitchB:
		s.cmds.SetPitch(deck.B, PitchPercent(val))
	case CCVolumeA:
		s.cmds.SetVolume(deck.A, Percent(val))
	case CCVolumeB:
		s.cmds.SetVolume(deck.B, Percent(val))
	case CCCrossfader:
		s.cmds.SetCrossfader(Percent(val))
	case CCJogA:
		return s.jog(deck.A, val)
	case CCJogB:
		return s.jog(deck.B, val)
	default:
		s.log.Debug().Uint8("cc", cc).Msg("unmapped control")
		return false
	}
	return true
}

func (s *Surface) jog(id deck.ID, val uint8) bool {
	delta := JogDelta(val)
	if delta == 0 {
		return false
	}
	s.cmds.Scrub(id, delta)
	return true
}

// Close stops listening.
func (s *Surface) Close() {
	s.mu.Lock()
	stop := s.stop
	s.stop = nil
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// Percent maps a 7-bit value onto 0..100.
func Percent(v uint8) float64 {
	return float64(v&0x7f) / 127 * 100
}

// PitchPercent maps a 7-bit value onto the pitch range, 0 at the bottom.
func PitchPercent(v uint8) float64 {
	return tempo.MinPitch + Percent(v)/100*(tempo.MaxPitch-tempo.MinPitch)
}

// JogDelta decodes a relative jog value where 64 means no motion.
func JogDelta(v uint8) float64 {
	return float64(int(v&0x7f) - jogCentre)
}

// BendRate maps a relative pitch bend (-8192..8191) to a tempo multiplier.
// The centre position is 1, which releases the bend.
func BendRate(rel int16) float64 {
	return 1 + float64(rel)/8192*maxBendOffset
}
