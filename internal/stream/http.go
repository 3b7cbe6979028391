package stream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/satindergrewal/twindeck/internal/audio"
)

// DefaultMP3Bitrate is the monitor stream bitrate in kbit/s.
const DefaultMP3Bitrate = 192

// HTTPHandler serves the master as a chunked MP3 stream.
// Each connection spawns an FFmpeg process to encode PCM -> MP3 in real-time.
type HTTPHandler struct {
	broadcaster *Broadcaster
	bitrate     int
	log         zerolog.Logger
}

// NewHTTPHandler creates an HTTP monitor handler. A non-positive bitrate
// selects DefaultMP3Bitrate.
func NewHTTPHandler(b *Broadcaster, bitrateKbps int, log zerolog.Logger) *HTTPHandler {
	if bitrateKbps <= 0 {
		bitrateKbps = DefaultMP3Bitrate
	}
	return &HTTPHandler{
		broadcaster: b,
		bitrate:     bitrateKbps,
		log:         log.With().Str("component", "stream").Str("transport", "http").Logger(),
	}
}

func (h *HTTPHandler) encoderArgs() []string {
	return []string{
		"-f", "s16le",
		"-ar", strconv.Itoa(audio.SampleRate),
		"-ac", strconv.Itoa(audio.Channels),
		"-i", "pipe:0",
		"-codec:a", "libmp3lame",
		"-b:a", fmt.Sprintf("%dk", h.bitrate),
		"-f", "mp3",
		"-fflags", "nobuffer",
		"-flush_packets", "1",
		"-loglevel", "error",
		"pipe:1",
	}
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "close")
	w.Header().Set("ICY-Name", "twindeck master")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// FFmpeg: PCM stdin -> MP3 stdout
	cmd := exec.CommandContext(ctx, "ffmpeg", h.encoderArgs()...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		h.log.Error().Err(err).Msg("stdin pipe")
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		h.log.Error().Err(err).Msg("stdout pipe")
		return
	}

	if err := cmd.Start(); err != nil {
		h.log.Error().Err(err).Msg("ffmpeg start")
		return
	}

	listener := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(listener)

	h.log.Info().Str("remote", r.RemoteAddr).Int("listeners", h.broadcaster.ListenerCount()).Msg("monitor connected")
	defer func() {
		h.log.Info().Str("remote", r.RemoteAddr).Msg("monitor disconnected")
	}()

	// Feed PCM frames to FFmpeg
	go func() {
		defer stdin.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-listener.Done():
				return
			case frame, ok := <-listener.C:
				if !ok {
					return
				}
				pcm := audio.SamplesToBytes(frame)
				if _, err := stdin.Write(pcm); err != nil {
					return
				}
			}
		}
	}()

	// Read MP3 from FFmpeg and write to HTTP response
	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				break
			}
			flusher.Flush()
		}
		if err != nil {
			if err != io.EOF {
				h.log.Warn().Err(err).Msg("ffmpeg read")
			}
			break
		}
	}

	cmd.Wait()
}
