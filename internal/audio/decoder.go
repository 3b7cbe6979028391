package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os/exec"
)

// ErrEmptyAudio is returned when a source decodes to zero samples.
var ErrEmptyAudio = errors.New("no audio samples decoded")

// DecodeFunc turns an encoded audio stream into interleaved stereo PCM.
type DecodeFunc func(ctx context.Context, r io.Reader) ([]int16, error)

func ffmpegArgs(input string) []string {
	return []string{
		"-i", input,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", "48000",
		"-ac", "2",
		"-loglevel", "error",
		"pipe:1",
	}
}

// DecodeFile runs FFmpeg to decode an audio file to raw PCM int16 samples.
// Returns interleaved stereo samples at 48kHz.
func DecodeFile(ctx context.Context, path string) ([]int16, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg", ffmpegArgs(path)...)
	out, err := runFFmpeg(cmd)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg decode %s: %w", path, err)
	}
	return bytesToSamples(out), nil
}

// DecodeReader is DecodeFile for a stream; FFmpeg reads the encoded bytes from stdin.
func DecodeReader(ctx context.Context, r io.Reader) ([]int16, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg", ffmpegArgs("pipe:0")...)
	cmd.Stdin = r
	out, err := runFFmpeg(cmd)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg decode stream: %w", err)
	}
	return bytesToSamples(out), nil
}

func runFFmpeg(cmd *exec.Cmd) ([]byte, error) {
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := bytes.TrimSpace(stderr.Bytes()); len(msg) > 0 {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return out, nil
}

func bytesToSamples(out []byte) []int16 {
	// Ensure even byte count for int16 alignment
	if len(out)%2 != 0 {
		out = out[:len(out)-1]
	}

	samples := make([]int16, len(out)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(out[i*2 : i*2+2]))
	}
	return samples
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}
