package api

import "github.com/satindergrewal/twindeck/internal/deck"

type LoadRequest = deck.Track

type SeekRequest struct {
	Seconds float64 `json:"seconds"`
}

type PercentRequest struct {
	Percent float64 `json:"percent"`
}

type ScrubRequest struct {
	Delta float64 `json:"delta"`
}

type BendRequest struct {
	Rate float64 `json:"rate"`
}

type BPMRequest struct {
	BPM float64 `json:"bpm"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
