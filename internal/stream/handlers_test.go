package stream

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"

	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"

	"github.com/satindergrewal/twindeck/internal/audio"
)

func TestEncoderArgs(t *testing.T) {
	h := NewHTTPHandler(NewBroadcaster(zerolog.Nop()), 0, zerolog.Nop())
	args := h.encoderArgs()
	if !slices.Contains(args, "192k") {
		t.Errorf("default bitrate missing from %v", args)
	}
	if !slices.Contains(args, "48000") {
		t.Errorf("sample rate missing from %v", args)
	}

	h = NewHTTPHandler(NewBroadcaster(zerolog.Nop()), 320, zerolog.Nop())
	if !slices.Contains(h.encoderArgs(), "320k") {
		t.Error("custom bitrate not used")
	}
}

func TestWebRTCRejectsBadRequests(t *testing.T) {
	h := NewWebRTCHandler(NewBroadcaster(zerolog.Nop()), 0, zerolog.Nop())
	defer h.Close()

	tests := []struct {
		method string
		body   string
		want   int
	}{
		{http.MethodGet, "", http.StatusMethodNotAllowed},
		{http.MethodPost, "{not json", http.StatusBadRequest},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, "/offer", strings.NewReader(tt.body))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Errorf("%s %q: status %d, want %d", tt.method, tt.body, rec.Code, tt.want)
		}
	}
	if h.PeerCount() != 0 {
		t.Errorf("PeerCount = %d, want 0", h.PeerCount())
	}
}

func TestPumpOpusEncodesMasterFrames(t *testing.T) {
	b := NewBroadcaster(zerolog.Nop())
	h := NewWebRTCHandler(b, 96000, zerolog.Nop())
	l := b.Subscribe()
	defer b.Unsubscribe(l)

	bus := masterBus(1, 0)
	for i := 0; i < 3; i++ {
		l.C <- bus.MixNext()
	}

	errHangup := errors.New("peer hung up")
	var packets []media.Sample
	err := h.pumpOpus(l, func(s media.Sample) error {
		s.Data = append([]byte(nil), s.Data...)
		packets = append(packets, s)
		if len(packets) == 3 {
			return errHangup
		}
		return nil
	})
	if !errors.Is(err, errHangup) {
		t.Fatalf("pumpOpus = %v, want the write error", err)
	}
	for i, p := range packets {
		if len(p.Data) == 0 || len(p.Data) > maxOpusPacket {
			t.Errorf("packet %d is %d bytes", i, len(p.Data))
		}
		if p.Duration != audio.FrameDuration {
			t.Errorf("packet %d lasts %v, want %v", i, p.Duration, audio.FrameDuration)
		}
	}
}

func TestPumpOpusStopsOnUnsubscribe(t *testing.T) {
	b := NewBroadcaster(zerolog.Nop())
	h := NewWebRTCHandler(b, 0, zerolog.Nop())
	l := b.Subscribe()
	b.Unsubscribe(l)

	err := h.pumpOpus(l, func(media.Sample) error {
		t.Error("nothing should be written after unsubscribe")
		return nil
	})
	if err != nil {
		t.Errorf("pumpOpus = %v, want nil", err)
	}
}
