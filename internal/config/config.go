package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds the fully processed scheduling configuration.
//
// Durations are in seconds unless the field name says otherwise; the
// retry fields are in milliseconds to match the backoff arithmetic.
type Config struct {
	// Buffer management
	MaxBufferLength    float64 // target ahead-buffer, seconds
	MaxMaxBufferLength float64 // hard cap, halved on buffer-full
	MaxBufferSize      float64 // ahead-buffer cap in bytes, converted via level bitrate
	MaxBufferHole      float64 // max gap treated as contiguous

	// Fragment lookup
	MaxFragLookUpTolerance float64

	// Live
	LiveSyncDuration          float64 // 0 means derive from LiveSyncDurationCount
	LiveSyncDurationCount     int
	LiveMaxLatencyDuration    float64 // 0 means derive from LiveMaxLatencyDurationCount
	LiveMaxLatencyDurationCount int
	InitialLiveManifestSize   int

	// Startup
	StartFragPrefetch bool
	StartLevel        int // -1 = auto
	TestBandwidth     bool
	StartPosition     float64 // -1 = default (live sync point or 0)
	DefaultAudioCodec string

	// Retry envelope for fragment and key loads
	FragLoadingMaxRetry        int
	FragLoadingRetryDelayMS    int
	FragLoadingMaxRetryTimeoutMS int

	// Playback nudging
	NudgeOffset   float64
	NudgeMaxRetry int

	// Stall detection
	StallDebounceMS int
}

// Default returns the configuration used when no overrides are present.
func Default() *Config {
	return &Config{
		MaxBufferLength:              30,
		MaxMaxBufferLength:           600,
		MaxBufferSize:                60 * 1000 * 1000,
		MaxBufferHole:                0.5,
		MaxFragLookUpTolerance:       0.25,
		LiveSyncDurationCount:        3,
		LiveMaxLatencyDurationCount:  0,
		InitialLiveManifestSize:      1,
		StartFragPrefetch:            false,
		StartLevel:                   -1,
		TestBandwidth:                true,
		StartPosition:                -1,
		FragLoadingMaxRetry:          6,
		FragLoadingRetryDelayMS:      1000,
		FragLoadingMaxRetryTimeoutMS: 64000,
		NudgeOffset:                  0.1,
		NudgeMaxRetry:                3,
		StallDebounceMS:              250,
	}
}

// Load reads the optional .env file and then assembles a Config from the
// environment, falling back to defaults for anything unset. Pass paths to
// load specific env files; with no paths, ".env" is tried and a missing
// file is not an error.
func Load(paths ...string) (*Config, error) {
	if len(paths) == 0 {
		// Best effort: absence of .env just means env/defaults only.
		_ = godotenv.Load()
	} else {
		if err := godotenv.Load(paths...); err != nil {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}

	cfg := Default()
	cfg.MaxBufferLength = GetEnvFloat("HLS_MAX_BUFFER_LENGTH", cfg.MaxBufferLength)
	cfg.MaxMaxBufferLength = GetEnvFloat("HLS_MAX_MAX_BUFFER_LENGTH", cfg.MaxMaxBufferLength)
	cfg.MaxBufferSize = GetEnvFloat("HLS_MAX_BUFFER_SIZE", cfg.MaxBufferSize)
	cfg.MaxBufferHole = GetEnvFloat("HLS_MAX_BUFFER_HOLE", cfg.MaxBufferHole)
	cfg.MaxFragLookUpTolerance = GetEnvFloat("HLS_MAX_FRAG_LOOKUP_TOLERANCE", cfg.MaxFragLookUpTolerance)
	cfg.LiveSyncDuration = GetEnvFloat("HLS_LIVE_SYNC_DURATION", cfg.LiveSyncDuration)
	cfg.LiveSyncDurationCount = GetEnvInt("HLS_LIVE_SYNC_DURATION_COUNT", cfg.LiveSyncDurationCount)
	cfg.LiveMaxLatencyDuration = GetEnvFloat("HLS_LIVE_MAX_LATENCY_DURATION", cfg.LiveMaxLatencyDuration)
	cfg.LiveMaxLatencyDurationCount = GetEnvInt("HLS_LIVE_MAX_LATENCY_DURATION_COUNT", cfg.LiveMaxLatencyDurationCount)
	cfg.InitialLiveManifestSize = GetEnvInt("HLS_INITIAL_LIVE_MANIFEST_SIZE", cfg.InitialLiveManifestSize)
	cfg.StartFragPrefetch = GetEnvBool("HLS_START_FRAG_PREFETCH", cfg.StartFragPrefetch)
	cfg.StartLevel = GetEnvInt("HLS_START_LEVEL", cfg.StartLevel)
	cfg.TestBandwidth = GetEnvBool("HLS_TEST_BANDWIDTH", cfg.TestBandwidth)
	cfg.StartPosition = GetEnvFloat("HLS_START_POSITION", cfg.StartPosition)
	cfg.DefaultAudioCodec = GetEnv("HLS_DEFAULT_AUDIO_CODEC", cfg.DefaultAudioCodec)
	cfg.FragLoadingMaxRetry = GetEnvInt("HLS_FRAG_LOADING_MAX_RETRY", cfg.FragLoadingMaxRetry)
	cfg.FragLoadingRetryDelayMS = GetEnvInt("HLS_FRAG_LOADING_RETRY_DELAY_MS", cfg.FragLoadingRetryDelayMS)
	cfg.FragLoadingMaxRetryTimeoutMS = GetEnvInt("HLS_FRAG_LOADING_MAX_RETRY_TIMEOUT_MS", cfg.FragLoadingMaxRetryTimeoutMS)
	cfg.NudgeOffset = GetEnvFloat("HLS_NUDGE_OFFSET", cfg.NudgeOffset)
	cfg.NudgeMaxRetry = GetEnvInt("HLS_NUDGE_MAX_RETRY", cfg.NudgeMaxRetry)
	cfg.StallDebounceMS = GetEnvInt("HLS_STALL_DEBOUNCE_MS", cfg.StallDebounceMS)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the scheduler cannot run with.
func (c *Config) Validate() error {
	if c.MaxBufferLength <= 0 {
		return fmt.Errorf("maxBufferLength must be positive, got %v", c.MaxBufferLength)
	}
	if c.MaxMaxBufferLength < c.MaxBufferLength {
		return fmt.Errorf("maxMaxBufferLength (%v) must be >= maxBufferLength (%v)", c.MaxMaxBufferLength, c.MaxBufferLength)
	}
	if c.MaxBufferHole < 0 {
		return fmt.Errorf("maxBufferHole must not be negative, got %v", c.MaxBufferHole)
	}
	if c.FragLoadingMaxRetry < 0 {
		return fmt.Errorf("fragLoadingMaxRetry must not be negative, got %d", c.FragLoadingMaxRetry)
	}
	if c.LiveMaxLatencyDuration > 0 && c.LiveSyncDuration > 0 && c.LiveMaxLatencyDuration <= c.LiveSyncDuration {
		return fmt.Errorf("liveMaxLatencyDuration must exceed liveSyncDuration")
	}
	if c.LiveMaxLatencyDurationCount > 0 && c.LiveMaxLatencyDurationCount <= c.LiveSyncDurationCount {
		return fmt.Errorf("liveMaxLatencyDurationCount must exceed liveSyncDurationCount")
	}
	return nil
}

// LiveSync returns the target latency behind the live edge in seconds.
func (c *Config) LiveSync(targetDuration float64) float64 {
	if c.LiveSyncDuration > 0 {
		return c.LiveSyncDuration
	}
	return float64(c.LiveSyncDurationCount) * targetDuration
}

// LiveMaxLatency returns the catch-up threshold in seconds, or 0 when disabled.
func (c *Config) LiveMaxLatency(targetDuration float64) float64 {
	if c.LiveMaxLatencyDuration > 0 {
		return c.LiveMaxLatencyDuration
	}
	if c.LiveMaxLatencyDurationCount > 0 {
		return float64(c.LiveMaxLatencyDurationCount) * targetDuration
	}
	return 0
}

// GetEnv returns the value of the environment variable named by key, or
// fallback if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of the environment variable named by
// key, or fallback if the variable is unset, empty, or not a valid integer.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

// GetEnvFloat returns the float value of the environment variable named by
// key, or fallback if the variable is unset, empty, or not a valid number.
func GetEnvFloat(key string, fallback float64) float64 {
	if s := os.Getenv(key); s != "" {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return fallback
}

// GetEnvBool returns the boolean value of the environment variable named by
// key, or fallback if the variable is unset, empty, or not a valid boolean.
func GetEnvBool(key string, fallback bool) bool {
	if s := os.Getenv(key); s != "" {
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
	}
	return fallback
}
