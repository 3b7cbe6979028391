package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/satindergrewal/twindeck/internal/audio"
	"github.com/satindergrewal/twindeck/internal/deck"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Console.Snapshot())
}

// deckSnapshot answers a deck command with that deck's new state.
func (s *Server) deckSnapshot(w http.ResponseWriter, id deck.ID) {
	writeJSON(w, http.StatusOK, s.Console.Snapshot().Decks[id])
}

func (s *Server) deckAction(fn func(deck.ID)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := deckID(w, r)
		if !ok {
			return
		}
		fn(id)
		s.deckSnapshot(w, id)
	}
}

// deckValue decodes a JSON body into a T and applies it to the deck.
func deckValue[T any](s *Server, apply func(deck.ID, T)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := deckID(w, r)
		if !ok {
			return
		}
		var req T
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "bad json")
			return
		}
		apply(id, req)
		s.deckSnapshot(w, id)
	}
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	id, ok := deckID(w, r)
	if !ok {
		return
	}
	var req LoadRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}

	err := s.Console.Load(r.Context(), id, req)
	var le *audio.LoadError
	switch {
	case err == nil:
		s.deckSnapshot(w, id)
	case errors.As(err, &le):
		writeError(w, http.StatusUnprocessableEntity, le.Error())
	case errors.Is(err, deck.ErrLoadInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, deck.ErrLoadCancelled), errors.Is(err, context.Canceled):
		writeError(w, http.StatusConflict, "load cancelled")
	default:
		s.Log.Error().Err(err).Str("deck", string(id)).Msg("load")
		writeError(w, http.StatusInternalServerError, "load failed")
	}
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	deckValue(s, func(id deck.ID, req SeekRequest) { s.Console.Seek(id, req.Seconds) })(w, r)
}

func (s *Server) handlePitch(w http.ResponseWriter, r *http.Request) {
	deckValue(s, func(id deck.ID, req PercentRequest) { s.Console.SetPitch(id, req.Percent) })(w, r)
}

func (s *Server) handleScrub(w http.ResponseWriter, r *http.Request) {
	deckValue(s, func(id deck.ID, req ScrubRequest) { s.Console.Scrub(id, req.Delta) })(w, r)
}

func (s *Server) handleBend(w http.ResponseWriter, r *http.Request) {
	deckValue(s, func(id deck.ID, req BendRequest) { s.Console.BendTempo(id, req.Rate) })(w, r)
}

func (s *Server) handleEQ(w http.ResponseWriter, r *http.Request) {
	deckValue(s, s.Console.SetEQ)(w, r)
}

func (s *Server) handleFX(w http.ResponseWriter, r *http.Request) {
	deckValue(s, s.Console.SetFX)(w, r)
}

func (s *Server) handleVolume(w http.ResponseWriter, r *http.Request) {
	deckValue(s, func(id deck.ID, req PercentRequest) { s.Console.SetVolume(id, req.Percent) })(w, r)
}

func (s *Server) handleCrossfader(w http.ResponseWriter, r *http.Request) {
	var req PercentRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	s.Console.SetCrossfader(req.Percent)
	writeJSON(w, http.StatusOK, s.Console.Snapshot())
}

func (s *Server) handleGlobalBPM(w http.ResponseWriter, r *http.Request) {
	var req BPMRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	s.Console.SetGlobalBPM(req.BPM)
	writeJSON(w, http.StatusOK, s.Console.Snapshot())
}

func (s *Server) handleSyncToggle(w http.ResponseWriter, r *http.Request) {
	s.Console.ToggleBPMSync()
	writeJSON(w, http.StatusOK, s.Console.Snapshot())
}
