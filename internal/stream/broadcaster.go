// Package stream fans the mixed master out to monitoring listeners over HTTP
// (MP3) and WebRTC (Opus).
package stream

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// ListenerBuffer is how many 20ms frames a listener may fall behind (~3s).
const ListenerBuffer = 150

// Broadcaster fans out master PCM frames from the mix bus to N listeners.
type Broadcaster struct {
	log       zerolog.Logger
	mu        sync.RWMutex
	listeners map[*Listener]struct{}
	sent      atomic.Uint64
	dropped   atomic.Uint64
}

// Listener receives master frames from the broadcaster.
type Listener struct {
	C    chan []int16 // buffered channel of 20ms PCM frames
	done chan struct{}
	once sync.Once
}

// Done is closed when the listener is unsubscribed.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

// NewBroadcaster creates a new broadcaster.
func NewBroadcaster(log zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		log:       log.With().Str("component", "stream").Logger(),
		listeners: make(map[*Listener]struct{}),
	}
}

// Subscribe registers a new listener.
func (b *Broadcaster) Subscribe() *Listener {
	l := &Listener{
		C:    make(chan []int16, ListenerBuffer),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.listeners[l] = struct{}{}
	n := len(b.listeners)
	b.mu.Unlock()
	b.log.Debug().Int("listeners", n).Msg("listener subscribed")
	return l
}

// Unsubscribe removes a listener and signals it to stop. Safe to call twice.
func (b *Broadcaster) Unsubscribe(l *Listener) {
	b.mu.Lock()
	delete(b.listeners, l)
	b.mu.Unlock()
	l.once.Do(func() { close(l.done) })
}

// ListenerCount returns the number of active listeners.
func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Sent and Dropped count per-listener frame deliveries and drops.
func (b *Broadcaster) Sent() uint64    { return b.sent.Load() }
func (b *Broadcaster) Dropped() uint64 { return b.dropped.Load() }

// Run reads frames from source and fans out to all listeners.
// Slow listeners get frames dropped rather than holding up the mix bus.
func (b *Broadcaster) Run(ctx context.Context, source <-chan []int16) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-source:
			if !ok {
				return
			}
			b.mu.RLock()
			for l := range b.listeners {
				select {
				case l.C <- frame:
					b.sent.Add(1)
				default:
					b.dropped.Add(1)
				}
			}
			b.mu.RUnlock()
		}
	}
}
