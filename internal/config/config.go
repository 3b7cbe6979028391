package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	// Server
	Port        int
	CORSOrigins []string // browser origins allowed to drive the API besides its own

	// Console startup state
	GlobalBPM  float64
	BPMSync    bool
	Crossfader float64 // percent, 0 = full deck A

	// Deck gestures
	ScrubSecondsPerUnit float64
	ScrubIdleRelease    time.Duration
	BackspinVelocity    float64 // magnitude of the negative scrub velocity that starts a backspin
	BackspinDuration    time.Duration
	BackspinRewind      float64 // track seconds rewound by one backspin
	BackspinPeakRate    float64 // first burst rate as a multiple of the normal rate
	BackspinSteps       int
	BackspinTimeout     time.Duration
	LoadTimeout         time.Duration

	// Playback
	ResampleQuality int // beep resampler quality, 1-64

	// Monitor output
	MP3Bitrate  int // kbit/s
	OpusBitrate int // bit/s

	// Controller
	MIDIInPort  string // substring of the input port name, empty disables MIDI
	MIDIChannel int

	// S3-compatible track source, disabled when S3Endpoint is empty
	S3Endpoint        string
	S3Region          string
	S3AccessKeyID     string
	S3SecretAccessKey string

	// Logging
	LogLevel  string // debug, info, warn, error
	LogFormat string // json or console
}

// Load reads configuration from environment variables with sane defaults.
// Values that do not parse fall back to the default.
func Load() Config {
	return Config{
		Port:        envInt("TWINDECK_PORT", 8080),
		CORSOrigins: envList("TWINDECK_CORS_ORIGINS"),

		GlobalBPM:  envFloat("TWINDECK_GLOBAL_BPM", 128),
		BPMSync:    envBool("TWINDECK_BPM_SYNC", true),
		Crossfader: envFloat("TWINDECK_CROSSFADER", 50),

		ScrubSecondsPerUnit: envFloat("TWINDECK_SCRUB_SECONDS_PER_UNIT", 0.01),
		ScrubIdleRelease:    envDuration("TWINDECK_SCRUB_IDLE_RELEASE_MS", time.Millisecond, 250*time.Millisecond),
		BackspinVelocity:    envFloat("TWINDECK_BACKSPIN_VELOCITY", 40),
		BackspinDuration:    envDuration("TWINDECK_BACKSPIN_MS", time.Millisecond, 600*time.Millisecond),
		BackspinRewind:      envFloat("TWINDECK_BACKSPIN_REWIND", 1.5),
		BackspinPeakRate:    envFloat("TWINDECK_BACKSPIN_PEAK_RATE", 3),
		BackspinSteps:       envInt("TWINDECK_BACKSPIN_STEPS", 12),
		BackspinTimeout:     envDuration("TWINDECK_BACKSPIN_TIMEOUT_MS", time.Millisecond, 2*time.Second),
		LoadTimeout:         envDuration("TWINDECK_LOAD_TIMEOUT_S", time.Second, 60*time.Second),

		ResampleQuality: envInt("TWINDECK_RESAMPLE_QUALITY", 3),

		MP3Bitrate:  envInt("TWINDECK_MP3_BITRATE", 192),
		OpusBitrate: envInt("TWINDECK_OPUS_BITRATE", 128000),

		MIDIInPort:  envStr("TWINDECK_MIDI_IN", ""),
		MIDIChannel: envInt("TWINDECK_MIDI_CHANNEL", 0),

		S3Endpoint:        envStr("S3_ENDPOINT", ""),
		S3Region:          envStr("S3_REGION", ""),
		S3AccessKeyID:     envStr("S3_ACCESS_KEY_ID", ""),
		S3SecretAccessKey: envStr("S3_SECRET_ACCESS_KEY", ""),

		LogLevel:  strings.ToLower(envStr("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(envStr("LOG_FORMAT", "json")),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// envList reads a comma-separated list, dropping blanks. Unset gives nil.
func envList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// envDuration reads an integer count of unit. Negative counts are rejected.
func envDuration(key string, unit, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return time.Duration(n) * unit
		}
	}
	return fallback
}
