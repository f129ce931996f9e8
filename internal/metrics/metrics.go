// Package metrics exposes the broker's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voxbridge_sessions_active",
		Help: "Currently connected client sessions",
	})

	SessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voxbridge_sessions_total",
		Help: "Total client sessions handled since start",
	})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voxbridge_stage_duration_seconds",
		Help:    "Per-stage latency by stage label (only the asr stage is observed)",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.2, 0.5, 1.0, 2.0, 5.0, 10.0},
	}, []string{"stage"})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxbridge_errors_total",
		Help: "Error counts by stage and error type",
	}, []string{"stage", "error_type"})

	AudioChunksIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voxbridge_audio_chunks_ingested_total",
		Help: "Total VAD-sized audio chunks ingested",
	})

	SpeechSegmentsFinalized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voxbridge_speech_segments_finalized_total",
		Help: "Speech segments finalized into a ParsedUtterance",
	})

	UtterancesAdmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voxbridge_utterances_admitted_total",
		Help: "Utterances that passed the admission filter",
	})

	UtterancesFiltered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxbridge_utterances_filtered_total",
		Help: "Utterances rejected by the admission filter, by reason",
	}, []string{"reason"})

	MergeCommits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxbridge_merge_commits_total",
		Help: "Merge window commits, by reason",
	}, []string{"reason"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voxbridge_backend_queue_depth",
		Help: "Sum of queued BackendRequests across all sessions",
	})

	Interruptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxbridge_interruptions_total",
		Help: "Inflight request interruptions, by kind (pre_token, post_token)",
	}, []string{"kind"})

	BridgeReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voxbridge_bridge_reconnects_total",
		Help: "Backend Bridge reconnect attempts",
	})

	BridgeOrphanResponses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voxbridge_bridge_orphan_responses_total",
		Help: "Backend messages received with an unrecognized request_id",
	})
)
