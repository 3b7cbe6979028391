package audio

// Smoothstep returns the smoothstep interpolation for t in [0,1].
// Formula: 3t^2 - 2t^3.
func Smoothstep(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	return t * t * (3 - 2*t)
}

// MixFrame sums two float stereo buffers, each scaled by its gain, into one
// interleaved int16 frame. Buffers must have the same length.
func MixFrame(a, b [][2]float64, gainA, gainB float64) []int16 {
	result := make([]int16, len(a)*Channels)
	for i := range a {
		for ch := 0; ch < Channels; ch++ {
			mixed := a[i][ch]*gainA + b[i][ch]*gainB
			result[i*Channels+ch] = clip(mixed * 32768)
		}
	}
	return result
}

// clip converts to int16, saturating at the type bounds.
func clip(v float64) int16 {
	if v > 32767 {
		return 32767
	} else if v < -32768 {
		return -32768
	}
	return int16(v)
}
