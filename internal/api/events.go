package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// handleEvents relays console state updates as server-sent events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	updates, unsubscribe := s.Console.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// The first event is the full state so a client can render immediately.
	if err := writeEvent(w, "status", s.Console.Snapshot()); err != nil {
		return
	}
	flusher.Flush()

	every := s.KeepAlive
	if every <= 0 {
		every = 15 * time.Second
	}
	keepAlive := time.NewTicker(every)
	defer keepAlive.Stop()

	log := s.Log.With().Str("remote", r.RemoteAddr).Logger()
	log.Debug().Msg("event stream opened")
	defer func() { log.Debug().Msg("event stream closed") }()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		case u, ok := <-updates:
			if !ok {
				return
			}
			if err := writeEvent(w, u.Type, u); err != nil {
				log.Debug().Err(err).Msg("event write")
				return
			}
		}
		flusher.Flush()
	}
}

func writeEvent(w http.ResponseWriter, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
