package session

import (
	"context"
	"fmt"

	"github.com/voxbridge/broker/internal/audio"
	"github.com/voxbridge/broker/internal/metrics"
)

// IngestPCM accumulates raw PCM16LE mono samples and drives the VAD
// boundary detector one chunk at a time (spec §4.2). Empty frames are
// ignored.
func (s *Session) IngestPCM(ctx context.Context, data []byte) {
	samples := audio.DecodePCM16LE(data)
	if len(samples) == 0 {
		return
	}

	chunkSamples := s.cfg.SampleRate * s.cfg.VADChunkMs / 1000
	if chunkSamples <= 0 {
		chunkSamples = 1
	}

	s.audioMu.Lock()
	defer s.audioMu.Unlock()

	s.pending = append(s.pending, samples...)
	for len(s.pending) >= chunkSamples {
		chunk := s.pending[:chunkSamples]
		s.pending = s.pending[chunkSamples:]
		s.processChunkLocked(ctx, chunk, true)
	}
}

// Flush forces segment finalization and a merge commit regardless of
// thresholds (spec §4.2, §4.4).
func (s *Session) Flush(ctx context.Context) {
	s.audioMu.Lock()
	var finalSeg []float32
	if len(s.pending) > 0 {
		chunk := s.pending
		s.pending = nil
		finalSeg = s.processChunkLocked(ctx, chunk, false)
	}
	if finalSeg == nil && s.inSegment {
		finalSeg = s.segment
		s.segment = nil
		s.inSegment = false
	}
	s.history = nil
	s.audioMu.Unlock()

	if finalSeg != nil {
		s.finalizeSegment(ctx, finalSeg)
	}

	s.window.Flush()

	ev := newEvent("status", s.id)
	ev["message"] = "flushed"
	s.emit(ev)
}

// processChunkLocked must be called with audioMu held. It runs the VAD
// boundary detector and applies the transition rules from spec §4.2. When a
// segment finalizes and async is true, transcription is dispatched on its
// own goroutine so audio ingestion never blocks on the ASR collaborator
// (spec §5 suspension points); when async is false (Flush), the finalized
// segment is returned for the caller to transcribe after releasing audioMu.
func (s *Session) processChunkLocked(ctx context.Context, chunk []float32, async bool) []float32 {
	beginMs, endMs := s.collaborator.DetectBoundary(chunk)
	metrics.AudioChunksIngested.Inc()

	if beginMs >= 0 && !s.inSegment {
		s.segment = append(append([]float32{}, s.history...), chunk...)
		s.inSegment = true
	} else if s.inSegment {
		s.segment = append(s.segment, chunk...)
	}

	s.updateHistoryLocked(chunk)

	maxSegmentSamples := s.cfg.SampleRate * s.cfg.MaxSegmentMs / 1000
	if !s.inSegment || (endMs < 0 && len(s.segment) < maxSegmentSamples) {
		return nil
	}

	segCopy := s.segment
	s.segment = nil
	s.inSegment = false
	metrics.SpeechSegmentsFinalized.Inc()

	if async {
		go s.finalizeSegment(ctx, segCopy)
		return nil
	}
	return segCopy
}

func (s *Session) updateHistoryLocked(chunk []float32) {
	preRollSamples := s.cfg.SampleRate * s.cfg.PreRollMs / 1000
	s.history = append(s.history, chunk...)
	if len(s.history) > preRollSamples {
		s.history = s.history[len(s.history)-preRollSamples:]
	}
}

func (s *Session) finalizeSegment(ctx context.Context, segment []float32) {
	utt, err := s.collaborator.Transcribe(ctx, segment)
	if err != nil {
		ev := newEvent("warn", s.id)
		ev["message"] = fmt.Sprintf("asr error: %v", err)
		s.emit(ev)
		return
	}

	ev := newEvent("asr", s.id)
	ev["text"] = utt.CleanText
	ev["raw_text"] = utt.RawText
	ev["language"] = utt.Language
	ev["emotion"] = utt.Emotion
	ev["audio_event"] = utt.AudioEvent
	ev["itn"] = utt.ITN
	ev["final"] = true
	s.emit(ev)

	s.admitAndMerge(utt)
}
