package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	gomidi "gitlab.com/gomidi/midi/v2"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // register the MIDI driver

	"github.com/satindergrewal/twindeck/internal/api"
	"github.com/satindergrewal/twindeck/internal/audio"
	"github.com/satindergrewal/twindeck/internal/clock"
	"github.com/satindergrewal/twindeck/internal/config"
	"github.com/satindergrewal/twindeck/internal/console"
	"github.com/satindergrewal/twindeck/internal/control"
	"github.com/satindergrewal/twindeck/internal/deck"
	"github.com/satindergrewal/twindeck/internal/stream"
)

func main() {
	cfg := config.Load()
	log := newLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info().Msg("twindeck starting up...")

	// Track sources: local files and http(s) always, s3:// when configured
	var objects audio.ObjectFetcher
	if cfg.S3Endpoint != "" {
		fetcher, err := audio.NewS3Fetcher(ctx, audio.S3Config{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("s3 track source")
		}
		objects = fetcher
		log.Info().Str("endpoint", cfg.S3Endpoint).Msg("s3 track source enabled")
	}
	loader := audio.NewLoader(objects)

	c := console.New(consoleOptions(cfg), loader, audio.BeepEngineFactory(cfg.ResampleQuality), clock.Real{}, log)
	defer c.Close()

	// Master bus: both deck outputs through the crossfader, 20ms at a time
	deckA, _ := c.Deck(deck.A)
	deckB, _ := c.Deck(deck.B)
	bus := audio.NewMixBus(deckA.Output(), deckB.Output(), c.Gains)
	go bus.Run(ctx)

	broadcaster := stream.NewBroadcaster(log)
	go broadcaster.Run(ctx, bus.Frames())

	webrtcHandler := stream.NewWebRTCHandler(broadcaster, cfg.OpusBitrate, log)
	defer webrtcHandler.Close()

	// MIDI controller (optional)
	if cfg.MIDIInPort != "" {
		surface := control.New(c, uint8(cfg.MIDIChannel), log)
		if err := surface.ListenPort(cfg.MIDIInPort); err != nil {
			log.Warn().Err(err).Msg("MIDI controller not available")
		}
		defer gomidi.CloseDriver()
		defer surface.Close()
	} else {
		log.Info().Msg("MIDI not configured (set TWINDECK_MIDI_IN to enable)")
	}

	apiServer := &api.Server{
		Console:        c,
		Log:            log.With().Str("component", "api").Logger(),
		AllowedOrigins: cfg.CORSOrigins,
	}
	routes := apiServer.Routes()

	mux := http.NewServeMux()
	mux.Handle("/api/", routes)
	mux.Handle("/healthz", routes)
	mux.Handle("/stream", api.WithCORS(cfg.CORSOrigins, apiServer.Log, stream.NewHTTPHandler(broadcaster, cfg.MP3Bitrate, log)))
	mux.Handle("/offer", api.WithCORS(cfg.CORSOrigins, apiServer.Log, webrtcHandler))
	mux.HandleFunc("GET /api/monitor", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"http_listeners":   broadcaster.ListenerCount(),
			"webrtc_listeners": webrtcHandler.PeerCount(),
			"frames_mixed":     bus.FramesMixed(),
			"frames_sent":      broadcaster.Sent(),
			"frames_dropped":   broadcaster.Dropped(),
		})
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down...")
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := server.Shutdown(shutdownCtx); err != nil {
			// SSE and MP3 monitors never finish on their own
			server.Close()
		}
	}()

	log.Info().Str("addr", addr).Float64("global_bpm", cfg.GlobalBPM).Msg("twindeck live")
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("HTTP server error")
	}
}

func consoleOptions(cfg config.Config) console.Options {
	return console.Options{
		GlobalBPM:  cfg.GlobalBPM,
		BPMSync:    cfg.BPMSync,
		Crossfader: cfg.Crossfader,
		Deck: deck.Config{
			ScrubSecondsPerUnit: cfg.ScrubSecondsPerUnit,
			ScrubIdleRelease:    cfg.ScrubIdleRelease,
			BackspinVelocity:    cfg.BackspinVelocity,
			BackspinDuration:    cfg.BackspinDuration,
			BackspinRewind:      cfg.BackspinRewind,
			BackspinPeakRate:    cfg.BackspinPeakRate,
			BackspinSteps:       cfg.BackspinSteps,
			BackspinTimeout:     cfg.BackspinTimeout,
			LoadTimeout:         cfg.LoadTimeout,
		},
	}
}

// newLogger builds the root logger. An unknown level falls back to info.
func newLogger(level, format string, out io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	if format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}
