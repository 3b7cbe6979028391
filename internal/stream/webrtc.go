package stream

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"
	"gopkg.in/hraban/opus.v2"

	"github.com/satindergrewal/twindeck/internal/audio"
)

// DefaultOpusBitrate is the WebRTC monitor bitrate in bit/s.
const DefaultOpusBitrate = 128000

// maxOpusPacket bounds one encoded 20ms frame.
const maxOpusPacket = 4000

// WebRTCHandler answers SDP offers with a low-latency Opus monitor of the
// master, for cueing against the live mix. Each accepted offer becomes a
// peer with its own broadcaster listener and encoder. Cross-origin policy is
// left to the wrapping handler.
type WebRTCHandler struct {
	broadcaster *Broadcaster
	bitrate     int
	log         zerolog.Logger

	mu    sync.Mutex
	peers map[uuid.UUID]*webrtc.PeerConnection
}

// NewWebRTCHandler creates a WebRTC monitor handler. A non-positive bitrate
// selects DefaultOpusBitrate.
func NewWebRTCHandler(b *Broadcaster, bitrate int, log zerolog.Logger) *WebRTCHandler {
	if bitrate <= 0 {
		bitrate = DefaultOpusBitrate
	}
	return &WebRTCHandler{
		broadcaster: b,
		bitrate:     bitrate,
		log:         log.With().Str("component", "stream").Str("transport", "webrtc").Logger(),
		peers:       make(map[uuid.UUID]*webrtc.PeerConnection),
	}
}

// PeerCount returns the number of active WebRTC peers.
func (h *WebRTCHandler) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// negotiationError carries the status a failed negotiation step answers with.
type negotiationError struct {
	status int
	step   string
	err    error
}

func (e *negotiationError) Error() string { return e.step + ": " + e.err.Error() }
func (e *negotiationError) Unwrap() error { return e.err }

func (h *WebRTCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
		http.Error(w, "invalid SDP offer", http.StatusBadRequest)
		return
	}

	id := uuid.New()
	pc, track, err := h.answer(offer)
	if err != nil {
		var ne *negotiationError
		if errors.As(err, &ne) {
			h.log.Warn().Err(err).Str("peer", id.String()).Msg("negotiation failed")
			http.Error(w, ne.step+" failed", ne.status)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.mu.Lock()
	h.peers[id] = pc
	n := len(h.peers)
	h.mu.Unlock()
	h.log.Info().Str("peer", id.String()).Int("peers", n).Msg("monitor peer connected")

	listener := h.broadcaster.Subscribe()
	go func() {
		defer h.broadcaster.Unsubscribe(listener)
		if err := h.pumpOpus(listener, track.WriteSample); err != nil {
			h.log.Debug().Err(err).Str("peer", id.String()).Msg("monitor stream ended")
		}
	}()

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			if h.dropPeer(id) {
				h.broadcaster.Unsubscribe(listener)
				pc.Close()
				h.log.Info().Str("peer", id.String()).Str("state", s.String()).Int("peers", h.PeerCount()).Msg("monitor peer gone")
			}
		}
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pc.LocalDescription())
}

// answer builds a peer with one Opus track and completes ICE gathering so the
// returned local description is self-contained.
func (h *WebRTCHandler) answer(offer webrtc.SessionDescription) (*webrtc.PeerConnection, *webrtc.TrackLocalStaticSample, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, nil, &negotiationError{http.StatusInternalServerError, "create peer connection", err}
	}
	fail := func(status int, step string, err error) (*webrtc.PeerConnection, *webrtc.TrackLocalStaticSample, error) {
		pc.Close()
		return nil, nil, &negotiationError{status, step, err}
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: audio.SampleRate, Channels: audio.Channels},
		"master",
		"twindeck-master",
	)
	if err != nil {
		return fail(http.StatusInternalServerError, "create audio track", err)
	}
	if _, err := pc.AddTrack(track); err != nil {
		return fail(http.StatusInternalServerError, "add track", err)
	}
	if err := pc.SetRemoteDescription(offer); err != nil {
		return fail(http.StatusBadRequest, "set remote description", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fail(http.StatusInternalServerError, "create answer", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return fail(http.StatusInternalServerError, "set local description", err)
	}
	<-gathered
	return pc, track, nil
}

// pumpOpus encodes master frames from l and hands each packet to write until
// the listener is unsubscribed or write fails.
func (h *WebRTCHandler) pumpOpus(l *Listener, write func(media.Sample) error) error {
	enc, err := opus.NewEncoder(audio.SampleRate, audio.Channels, opus.AppAudio)
	if err != nil {
		return err
	}
	if err := enc.SetBitrate(h.bitrate); err != nil {
		h.log.Warn().Err(err).Int("bitrate", h.bitrate).Msg("opus bitrate rejected")
	}

	packet := make([]byte, maxOpusPacket)
	for {
		select {
		case <-l.Done():
			return nil
		case frame, ok := <-l.C:
			if !ok {
				return nil
			}
			n, err := enc.Encode(frame, packet)
			if err != nil {
				h.log.Warn().Err(err).Int("samples", len(frame)).Msg("opus encode")
				continue
			}
			if err := write(media.Sample{Data: packet[:n], Duration: audio.FrameDuration}); err != nil {
				return err
			}
		}
	}
}

// dropPeer forgets id and reports whether it was still known.
func (h *WebRTCHandler) dropPeer(id uuid.UUID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.peers[id]; !ok {
		return false
	}
	delete(h.peers, id)
	return true
}

// Close hangs up every peer.
func (h *WebRTCHandler) Close() {
	h.mu.Lock()
	peers := h.peers
	h.peers = make(map[uuid.UUID]*webrtc.PeerConnection)
	h.mu.Unlock()
	for id, pc := range peers {
		if err := pc.Close(); err != nil {
			h.log.Debug().Err(err).Str("peer", id.String()).Msg("peer close")
		}
	}
}
