package api

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/satindergrewal/twindeck/internal/audio/audiotest"
	"github.com/satindergrewal/twindeck/internal/clock"
	"github.com/satindergrewal/twindeck/internal/console"
	"github.com/satindergrewal/twindeck/internal/deck"
)

func newServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	clk := clock.NewManual(time.Unix(0, 0))
	loader := audiotest.NewLoader().Add("https://cdn.example.com/a.mp3", 180)
	factory, _ := audiotest.Factory()
	c := console.New(console.DefaultOptions(), loader, factory, clk, zerolog.Nop())
	t.Cleanup(c.Close)
	s := &Server{Console: c, Log: zerolog.Nop()}
	return s, s.Routes()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

const loadBody = `{"name":"A","url":"https://cdn.example.com/a.mp3","original_bpm":120}`

func TestHealthz(t *testing.T) {
	_, h := newServer(t)
	rec := do(t, h, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("healthz = %d %q", rec.Code, rec.Body.String())
	}
}

func TestLoadAndPlay(t *testing.T) {
	_, h := newServer(t)

	rec := do(t, h, http.MethodPost, "/api/decks/a/load", loadBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("load = %d %s", rec.Code, rec.Body.String())
	}
	snap := decode[deck.Snapshot](t, rec)
	if snap.State != deck.Loaded || snap.DurationSeconds != 180 {
		t.Errorf("after load: state=%v duration=%v", snap.State, snap.DurationSeconds)
	}

	rec = do(t, h, http.MethodPost, "/api/decks/A/play", "")
	if snap := decode[deck.Snapshot](t, rec); !snap.IsPlaying {
		t.Error("deck not playing after play")
	}
}

func TestLoadErrors(t *testing.T) {
	_, h := newServer(t)
	tests := []struct {
		name, path, body string
		want             int
	}{
		{"unknown deck", "/api/decks/c/load", loadBody, http.StatusNotFound},
		{"bad json", "/api/decks/a/load", "{", http.StatusBadRequest},
		{"unknown field", "/api/decks/a/load", `{"url":"x","tempo":1}`, http.StatusBadRequest},
		{"no url", "/api/decks/a/load", `{"name":"A"}`, http.StatusBadRequest},
		{"unreachable", "/api/decks/a/load", `{"url":"https://cdn.example.com/missing.mp3"}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(t, h, http.MethodPost, tt.path, tt.body); rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestDeckValues(t *testing.T) {
	_, h := newServer(t)
	do(t, h, http.MethodPost, "/api/decks/b/load", loadBody)

	snap := decode[deck.Snapshot](t, do(t, h, http.MethodPost, "/api/decks/b/pitch", `{"percent":40}`))
	if snap.PitchPercent != 25 {
		t.Errorf("pitch = %v, want clamped 25", snap.PitchPercent)
	}
	snap = decode[deck.Snapshot](t, do(t, h, http.MethodPost, "/api/decks/b/seek", `{"seconds":30}`))
	if snap.CurrentSeconds != 30 {
		t.Errorf("position = %v, want 30", snap.CurrentSeconds)
	}
	snap = decode[deck.Snapshot](t, do(t, h, http.MethodPost, "/api/decks/b/eq", `{"low":-30,"mid":3,"high":0}`))
	if snap.EQ.Low != -12 || snap.EQ.Mid != 3 {
		t.Errorf("eq = %+v", snap.EQ)
	}
	snap = decode[deck.Snapshot](t, do(t, h, http.MethodPost, "/api/decks/b/fx", `{"filter":-50,"reverb":20,"delay":0}`))
	if snap.FX.Filter != -50 || snap.FX.Reverb != 20 {
		t.Errorf("fx = %+v", snap.FX)
	}
	snap = decode[deck.Snapshot](t, do(t, h, http.MethodPost, "/api/decks/b/volume", `{"percent":75}`))
	if snap.VolumePercent != 75 {
		t.Errorf("volume = %v", snap.VolumePercent)
	}
	snap = decode[deck.Snapshot](t, do(t, h, http.MethodPost, "/api/decks/b/eject", ""))
	if snap.State != deck.Empty {
		t.Errorf("state after eject = %v", snap.State)
	}
}

func TestGlobalAndMixer(t *testing.T) {
	_, h := newServer(t)

	st := decode[console.Status](t, do(t, h, http.MethodPost, "/api/global/bpm", `{"bpm":140}`))
	if st.Global.GlobalBPM != 140 {
		t.Errorf("global bpm = %v", st.Global.GlobalBPM)
	}
	st = decode[console.Status](t, do(t, h, http.MethodPost, "/api/global/sync-toggle", ""))
	if st.Global.BPMSyncEnabled {
		t.Error("sync should be toggled off")
	}
	st = decode[console.Status](t, do(t, h, http.MethodPost, "/api/mixer/crossfader", `{"percent":100}`))
	if st.Gains[deck.A] != 0 || st.Gains[deck.B] != 1 {
		t.Errorf("gains at full right = %v", st.Gains)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	_, h := newServer(t)
	if rec := do(t, h, http.MethodGet, "/api/decks/a/play", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET play = %d, want 405", rec.Code)
	}
}

func TestCORS(t *testing.T) {
	s, _ := newServer(t)
	s.AllowedOrigins = []string{"http://localhost:5173"}
	h := s.Routes()

	tests := []struct {
		name       string
		method     string
		origin     string
		wantStatus int
		wantAllow  string
	}{
		{"allowed preflight", http.MethodOptions, "http://localhost:5173", http.StatusNoContent, "http://localhost:5173"},
		{"allowed command", http.MethodPost, "http://localhost:5173", http.StatusOK, "http://localhost:5173"},
		{"foreign preflight", http.MethodOptions, "https://evil.example", http.StatusForbidden, ""},
		{"foreign simple post", http.MethodPost, "https://evil.example", http.StatusForbidden, ""},
		{"same origin", http.MethodPost, "http://example.com", http.StatusOK, ""},
		{"no origin", http.MethodPost, "", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/global/sync-toggle", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Errorf("allow origin = %q, want %q", got, tt.wantAllow)
			}
		})
	}

	if s.Console.Snapshot().Global.BPMSyncEnabled {
		t.Error("refused requests must not reach the console")
	}
}

func TestCORSDefaultsToSameOrigin(t *testing.T) {
	_, h := newServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/decks/a/play", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403 with no allow-list", rec.Code)
	}
}

func TestEvents(t *testing.T) {
	_, h := newServer(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/events")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	events := make(chan string, 16)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if name, ok := strings.CutPrefix(sc.Text(), "event: "); ok {
				events <- name
			}
		}
		close(events)
	}()

	next := func() string {
		select {
		case e := <-events:
			return e
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for an event")
			return ""
		}
	}

	if e := next(); e != "status" {
		t.Fatalf("first event = %q, want status", e)
	}

	r, err := http.Post(srv.URL+"/api/mixer/crossfader", "application/json", strings.NewReader(`{"percent":10}`))
	if err != nil {
		t.Fatal(err)
	}
	r.Body.Close()
	if e := next(); e != "mixer" {
		t.Errorf("event after crossfader = %q, want mixer", e)
	}
}
