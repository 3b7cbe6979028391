// Package audiotest provides scripted stand-ins for the decode and playback
// collaborators so deck timing can be tested without FFmpeg or a sound card.
package audiotest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/satindergrewal/twindeck/internal/audio"
)

// ErrNotFound is what Loader returns for URLs it has no track for.
var ErrNotFound = errors.New("track not found")

// Loader serves silent tracks of fixed lengths keyed by URL.
type Loader struct {
	mu      sync.Mutex
	tracks  map[string]float64
	calls   int
	blockCh chan struct{}
}

// NewLoader returns a loader that knows no tracks.
func NewLoader() *Loader {
	return &Loader{tracks: make(map[string]float64)}
}

// Add registers url as a silent track of seconds length.
func (l *Loader) Add(url string, seconds float64) *Loader {
	l.mu.Lock()
	l.tracks[url] = seconds
	l.mu.Unlock()
	return l
}

// Block makes subsequent loads wait until the returned func is called.
func (l *Loader) Block() (release func()) {
	ch := make(chan struct{})
	l.mu.Lock()
	l.blockCh = ch
	l.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// Calls returns how many loads were attempted.
func (l *Loader) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func (l *Loader) Load(ctx context.Context, url string) (*audio.PCM, error) {
	l.mu.Lock()
	l.calls++
	seconds, ok := l.tracks[url]
	block := l.blockCh
	l.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, &audio.LoadError{URL: url, Err: ctx.Err()}
		}
	}
	if !ok {
		return nil, &audio.LoadError{URL: url, Err: ErrNotFound}
	}
	frames := int(seconds * audio.SampleRate)
	return &audio.PCM{Samples: make([]int16, frames*audio.Channels)}, nil
}

// Engine records every call and can be told to fail.
type Engine struct {
	mu       sync.Mutex
	running  bool
	closed   bool
	rate     float64
	starts   []float64
	stops    int
	failStop bool
}

// Factory returns an EngineFactory and a func to fetch the most recent engine.
func Factory() (audio.EngineFactory, func() *Engine) {
	var mu sync.Mutex
	var last *Engine
	f := func(pcm *audio.PCM) audio.Engine {
		e := &Engine{rate: 1}
		mu.Lock()
		last = e
		mu.Unlock()
		return e
	}
	return f, func() *Engine {
		mu.Lock()
		defer mu.Unlock()
		return last
	}
}

func (e *Engine) Start(offset float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return audio.ErrEngineClosed
	}
	e.running = true
	e.starts = append(e.starts, offset)
	return nil
}

func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stops++
	if e.failStop {
		e.running = false
		return fmt.Errorf("scripted stop failure")
	}
	if !e.running {
		return audio.ErrEngineStopped
	}
	e.running = false
	return nil
}

func (e *Engine) SetRate(rate float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rate = rate
	return nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.running = false
	return nil
}

// SelfStop simulates the engine stopping on its own (end of buffer, device hiccup).
func (e *Engine) SelfStop() {
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
}

// FailStop makes every later Stop return an error.
func (e *Engine) FailStop() {
	e.mu.Lock()
	e.failStop = true
	e.mu.Unlock()
}

func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Engine) Rate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rate
}

// Starts returns the offsets passed to Start, oldest first.
func (e *Engine) Starts() []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]float64(nil), e.starts...)
}

func (e *Engine) Stops() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stops
}
