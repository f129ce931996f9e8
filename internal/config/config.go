// Package config loads the broker's tuning parameters from the process
// environment, following the same envStr/envInt/envFloat-style loader the
// rest of this stack uses for deployment configuration.
package config

import (
	"time"

	"github.com/voxbridge/broker/internal/env"
)

// Config holds every tunable named in the configuration table.
type Config struct {
	Port string

	// Audio Ingestion & Segmenter
	SampleRate    int
	VADChunkMs    int
	MaxSegmentMs  int
	PreRollMs     int

	// Classifier & Admission Filter
	SubmitMinTextChars   int
	SubmitRequireSpeech  bool
	SubmitMinIntervalMs  int
	FilterFiller         bool
	FillerMaxChars       int

	// Merge Buffer
	FinalMergeGapMs int
	FinalMergeMaxMs int

	// Interruption
	InterruptPreToken      bool
	InterruptPostTokenMode string
	InterruptMinChars      int

	// Backend Queue + Dispatcher + Bridge
	BackendMaxPending     int
	BackendReqTimeout     time.Duration
	BackendConnTimeout    time.Duration
	BackendReconnect      time.Duration
	BackendWSPingInterval time.Duration
	BackendWSPingTimeout  time.Duration // 0 means "none"

	// External collaborator endpoints
	ASRURL     string
	ASRPoolSize int
	BackendURL string

	// Fatal-only behavior (§7)
	StrictModel bool
}

// Load reads configuration from the environment, applying the defaults from
// the configuration table.
func Load() Config {
	return Config{
		Port: env.Str("VOXBRIDGE_PORT", "8000"),

		SampleRate:   env.Int("SAMPLE_RATE", 16000),
		VADChunkMs:   env.Int("VAD_CHUNK_MS", 200),
		MaxSegmentMs: env.Int("MAX_SEGMENT_MS", 30000),
		PreRollMs:    env.Int("PRE_ROLL_MS", 120),

		SubmitMinTextChars:  env.Int("SUBMIT_MIN_TEXT_CHARS", 2),
		SubmitRequireSpeech: env.Bool("SUBMIT_REQUIRE_SPEECH", true),
		SubmitMinIntervalMs: env.Int("SUBMIT_MIN_INTERVAL_MS", 600),
		FilterFiller:        env.Bool("FILTER_FILLER", true),
		FillerMaxChars:      env.Int("FILLER_MAX_CHARS", 8),

		FinalMergeGapMs: env.Int("FINAL_MERGE_GAP_MS", 500),
		FinalMergeMaxMs: env.Int("FINAL_MERGE_MAX_MS", 2200),

		InterruptPreToken:      env.Bool("INTERRUPT_PRE_TOKEN", true),
		InterruptPostTokenMode: env.Str("INTERRUPT_POST_TOKEN_MODE", "conditional"),
		InterruptMinChars:      env.Int("INTERRUPT_MIN_CHARS", 6),

		BackendMaxPending:     env.Int("BACKEND_MAX_PENDING", 8),
		BackendReqTimeout:     env.Seconds("BACKEND_REQ_TIMEOUT_S", 30*time.Second),
		BackendConnTimeout:    env.Seconds("BACKEND_CONN_TIMEOUT_S", 8*time.Second),
		BackendReconnect:      env.Seconds("BACKEND_RECONNECT_S", 1500*time.Millisecond),
		BackendWSPingInterval: env.Seconds("BACKEND_WS_PING_INTERVAL_S", 20*time.Second),
		BackendWSPingTimeout:  env.Seconds("BACKEND_WS_PING_TIMEOUT_S", 0),

		ASRURL:      env.Str("ASR_URL", "http://localhost:8080"),
		ASRPoolSize: env.Int("ASR_POOL_SIZE", 50),
		BackendURL:  env.Str("BACKEND_WS_URL", "ws://localhost:8090/backend"),

		StrictModel: env.Bool("STRICT_MODEL", false),
	}
}
