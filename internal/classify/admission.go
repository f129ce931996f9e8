package classify

// Rejection reasons, emitted verbatim in `filtered` events (spec §4.3, §6.1).
const (
	ReasonFillerText           = "filler_text"
	ReasonTextTooShort         = "text_too_short"
	ReasonNotSpeechEvent       = "not_speech_event"
	ReasonSubmitIntervalLimited = "submit_interval_limited"
)

// AdmissionConfig is the subset of configuration the filter consults.
type AdmissionConfig struct {
	FilterFiller        bool
	SubmitMinTextChars  int
	SubmitRequireSpeech bool
	SubmitMinIntervalMs int
}

// AdmissionInput describes one ParsedUtterance's bearing on the filter.
type AdmissionInput struct {
	Class        Class
	CleanText    string
	AudioEvent   string
	NowMs        int64
	LastSubmitMs int64
}

// Verdict is the outcome of the admission filter: either Admitted is true,
// or Reason names why the utterance was rejected.
type Verdict struct {
	Admitted bool
	Reason   string
}

// Admit applies the ordered short-circuit admission rules (spec §4.3).
func Admit(cfg AdmissionConfig, in AdmissionInput) Verdict {
	if cfg.FilterFiller && in.Class == DropFiller {
		return Verdict{Reason: ReasonFillerText}
	}
	if in.Class != KeepShort && len([]rune(in.CleanText)) < cfg.SubmitMinTextChars {
		return Verdict{Reason: ReasonTextTooShort}
	}
	if cfg.SubmitRequireSpeech && in.AudioEvent != "Speech" {
		return Verdict{Reason: ReasonNotSpeechEvent}
	}
	if in.NowMs-in.LastSubmitMs < int64(cfg.SubmitMinIntervalMs) {
		return Verdict{Reason: ReasonSubmitIntervalLimited}
	}
	return Verdict{Admitted: true}
}
