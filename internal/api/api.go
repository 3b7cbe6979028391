// Package api exposes the console over HTTP: fire-and-forget JSON commands,
// a status endpoint for render-loop polling and a server-sent event stream.
package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/satindergrewal/twindeck/internal/console"
	"github.com/satindergrewal/twindeck/internal/deck"
)

const maxBody = 1 << 16

// Server serves the console command surface.
type Server struct {
	Console *console.Console
	Log     zerolog.Logger

	// KeepAlive is the SSE comment interval. Zero means 15s.
	KeepAlive time.Duration

	// AllowedOrigins are the cross-origin browser UIs that may drive the
	// console. "*" allows any. Empty means same-origin only.
	AllowedOrigins []string
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/events", s.handleEvents)

	mux.HandleFunc("POST /api/decks/{deck}/load", s.handleLoad)
	mux.HandleFunc("POST /api/decks/{deck}/play", s.deckAction(s.Console.Play))
	mux.HandleFunc("POST /api/decks/{deck}/pause", s.deckAction(s.Console.Pause))
	mux.HandleFunc("POST /api/decks/{deck}/toggle", s.deckAction(s.Console.TogglePlay))
	mux.HandleFunc("POST /api/decks/{deck}/cue", s.deckAction(s.Console.Cue))
	mux.HandleFunc("POST /api/decks/{deck}/eject", s.deckAction(s.Console.Eject))
	mux.HandleFunc("POST /api/decks/{deck}/release", s.deckAction(s.Console.ReleaseScrub))
	mux.HandleFunc("POST /api/decks/{deck}/backspin", s.deckAction(s.Console.TriggerBackspin))
	mux.HandleFunc("POST /api/decks/{deck}/sync", s.deckAction(s.Console.SyncDeckToGlobal))
	mux.HandleFunc("POST /api/decks/{deck}/cancel-sync", s.deckAction(s.Console.CancelSync))
	mux.HandleFunc("POST /api/decks/{deck}/seek", s.handleSeek)
	mux.HandleFunc("POST /api/decks/{deck}/pitch", s.handlePitch)
	mux.HandleFunc("POST /api/decks/{deck}/scrub", s.handleScrub)
	mux.HandleFunc("POST /api/decks/{deck}/bend", s.handleBend)
	mux.HandleFunc("POST /api/decks/{deck}/eq", s.handleEQ)
	mux.HandleFunc("POST /api/decks/{deck}/fx", s.handleFX)
	mux.HandleFunc("POST /api/decks/{deck}/volume", s.handleVolume)

	mux.HandleFunc("POST /api/mixer/crossfader", s.handleCrossfader)
	mux.HandleFunc("POST /api/global/bpm", s.handleGlobalBPM)
	mux.HandleFunc("POST /api/global/sync-toggle", s.handleSyncToggle)

	return WithCORS(s.AllowedOrigins, s.Log, mux)
}

// WithCORS lets browser UIs on the allowed origins drive the console.
// Requests without an Origin header (curl, the MIDI bridge) and same-origin
// requests pass. A browser request from any other origin is refused before
// it reaches a handler, so a foreign page cannot fire commands even with a
// request that skips the preflight.
func WithCORS(allowed []string, log zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		w.Header().Add("Vary", "Origin")
		switch {
		case origin == "" || sameOrigin(origin, r.Host):
		case slices.Contains(allowed, "*") || slices.Contains(allowed, origin):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		default:
			log.Warn().Str("origin", origin).Str("path", r.URL.Path).Msg("cross-origin request refused")
			writeError(w, http.StatusForbidden, "origin not allowed")
			return
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func sameOrigin(origin, host string) bool {
	u, err := url.Parse(origin)
	return err == nil && u.Host != "" && u.Host == host
}

func readJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// deckID resolves the {deck} path segment, writing a 404 when it names no deck.
func deckID(w http.ResponseWriter, r *http.Request) (deck.ID, bool) {
	id, ok := deck.ParseID(r.PathValue("deck"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown deck")
	}
	return id, ok
}
