package session

import (
	"fmt"
	"time"

	"github.com/voxbridge/broker/internal/asr"
	"github.com/voxbridge/broker/internal/classify"
	"github.com/voxbridge/broker/internal/merge"
	"github.com/voxbridge/broker/internal/metrics"
	"github.com/voxbridge/broker/internal/queue"
)

// admitAndMerge runs the Classifier & Admission Filter (spec §4.3) on a
// freshly transcribed utterance, applies interruption (spec §4.6) for
// admitted utterances, and appends the result to the Merge Buffer.
func (s *Session) admitAndMerge(utt asr.ParsedUtterance) {
	cls := classify.Classify(utt.CleanText, s.cfg.FillerMaxChars)
	nowMs := time.Now().UnixMilli()

	s.submitMu.Lock()
	lastSubmitMs := s.lastSubmitMs
	s.submitMu.Unlock()

	verdict := classify.Admit(classify.AdmissionConfig{
		FilterFiller:        s.cfg.FilterFiller,
		SubmitMinTextChars:  s.cfg.SubmitMinTextChars,
		SubmitRequireSpeech: s.cfg.SubmitRequireSpeech,
		SubmitMinIntervalMs: s.cfg.SubmitMinIntervalMs,
	}, classify.AdmissionInput{
		Class:        cls,
		CleanText:    utt.CleanText,
		AudioEvent:   utt.AudioEvent,
		NowMs:        nowMs,
		LastSubmitMs: lastSubmitMs,
	})

	if !verdict.Admitted {
		metrics.UtterancesFiltered.WithLabelValues(verdict.Reason).Inc()
		ev := newEvent("filtered", s.id)
		ev["reason"] = verdict.Reason
		ev["text"] = utt.CleanText
		s.emit(ev)
		return
	}

	s.submitMu.Lock()
	s.lastSubmitMs = nowMs
	s.submitMu.Unlock()
	metrics.UtterancesAdmitted.Inc()

	result := s.dispatcher.TryInterrupt(cls, utt.CleanText)
	if result.Interrupted && result.Kind == "pre_token" && result.StolenText != "" {
		s.window.StealBack(result.StolenText)
	}

	s.window.Append(nowMs, utt.CleanText, utt.Emotion, utt.AudioEvent)
}

// onMergeCommit is the Merge Buffer's OnCommit callback (spec §4.4 -> §4.5).
// It may run on the window's timer goroutine; it never blocks on the
// dispatcher, only on the bounded, non-blocking Backend Queue.
func (s *Session) onMergeCommit(c merge.Commit) {
	reqID := fmt.Sprintf("%s-r%d", s.id, s.nextRequestSeq())

	req := queue.BackendRequest{
		RequestID:   reqID,
		SessionID:   s.id,
		Text:        c.Text,
		Emotion:     c.Emotion,
		AudioEvent:  c.AudioEvent,
		TsMs:        time.Now().UnixMilli(),
		MergeReason: string(c.Reason),
		MergeCount:  c.Count,
	}

	if !s.queue.TryPut(req) {
		s.window.Restore(time.Now().UnixMilli(), c.Text, c.Emotion, c.AudioEvent)

		ev := newEvent("filtered", s.id)
		ev["reason"] = "backend_queue_busy_buffering"
		ev["text"] = c.Text
		s.emit(ev)

		busy := newEvent("backend_state", s.id)
		busy["stage"] = "queue_busy"
		s.emit(busy)
		return
	}

	metrics.MergeCommits.WithLabelValues(string(c.Reason)).Inc()
	metrics.QueueDepth.Set(float64(s.queue.Len()))

	ev := newEvent("backend_state", s.id)
	ev["stage"] = "queued"
	ev["request_id"] = reqID
	ev["queue_size"] = s.queue.Len()
	ev["merge_reason"] = string(c.Reason)
	ev["merge_count"] = c.Count
	s.emit(ev)
}
