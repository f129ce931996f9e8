package asr

import "regexp"

// tagPattern matches the FunASR-style inline tag convention the recognizer
// prefixes onto raw text: <|lang|><|emotion|><|event|><|itn|>clean text.
var tagPattern = regexp.MustCompile(`<\|([^|]+)\|>`)

// splitTags pulls leading <|tag|> markers off raw and classifies each by its
// content (not its position) into language, emotion, audio-event and ITN
// fields; any tag that is not a language, emotion or ITN tag is taken as the
// audio event. It returns the
// remaining text with all tags stripped. Unrecognized or missing tags fall
// back to empty strings; callers supply defaults.
func splitTags(raw string) (language, emotion, audioEvent, itn, clean string) {
	tags := make([]string, 0, 4)
	clean = raw

	for {
		loc := tagPattern.FindStringIndex(clean)
		if loc == nil || loc[0] != 0 {
			break
		}
		m := tagPattern.FindStringSubmatch(clean)
		tags = append(tags, m[1])
		clean = clean[loc[1]:]
	}

	for _, t := range tags {
		switch {
		case isLanguageTag(t):
			language = t
		case isEmotionTag(t):
			emotion = t
		case isITNTag(t):
			itn = t
		default:
			audioEvent = t
		}
	}
	return language, emotion, audioEvent, itn, clean
}

func isLanguageTag(t string) bool {
	switch t {
	case "zh", "en", "yue", "ja", "ko", "nospeech":
		return true
	}
	return false
}

func isEmotionTag(t string) bool {
	return len(t) > 4 && t[:4] == "EMO_"
}

func isITNTag(t string) bool {
	return t == "withitn" || t == "woitn"
}
