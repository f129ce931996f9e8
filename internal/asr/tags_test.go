package asr

import "testing"

func TestSplitTagsWellFormed(t *testing.T) {
	raw := "<|en|><|EMO_HAPPY|><|Speech|><|withitn|>turn off the kitchen light"
	language, emotion, audioEvent, itn, clean := splitTags(raw)

	if language != "en" {
		t.Errorf("language = %q, want en", language)
	}
	if emotion != "EMO_HAPPY" {
		t.Errorf("emotion = %q, want EMO_HAPPY", emotion)
	}
	if audioEvent != "Speech" {
		t.Errorf("audioEvent = %q, want Speech", audioEvent)
	}
	if itn != "withitn" {
		t.Errorf("itn = %q, want withitn", itn)
	}
	if clean != "turn off the kitchen light" {
		t.Errorf("clean = %q, want stripped text", clean)
	}
}

func TestSplitTagsPartial(t *testing.T) {
	cases := []struct {
		name           string
		raw            string
		wantLanguage   string
		wantEmotion    string
		wantAudioEvent string
		wantITN        string
		wantClean      string
	}{
		{
			name:      "no tags at all",
			raw:       "hello there",
			wantClean: "hello there",
		},
		{
			name:         "language only",
			raw:          "<|zh|>你好",
			wantLanguage: "zh",
			wantClean:    "你好",
		},
		{
			name:           "event only, missing everything else",
			raw:            "<|Laughter|>haha",
			wantAudioEvent: "Laughter",
			wantClean:      "haha",
		},
		{
			name:         "language and itn, no emotion or event",
			raw:          "<|en|><|woitn|>stop",
			wantLanguage: "en",
			wantITN:      "woitn",
			wantClean:    "stop",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			language, emotion, audioEvent, itn, clean := splitTags(tc.raw)
			if language != tc.wantLanguage {
				t.Errorf("language = %q, want %q", language, tc.wantLanguage)
			}
			if emotion != tc.wantEmotion {
				t.Errorf("emotion = %q, want %q", emotion, tc.wantEmotion)
			}
			if audioEvent != tc.wantAudioEvent {
				t.Errorf("audioEvent = %q, want %q", audioEvent, tc.wantAudioEvent)
			}
			if itn != tc.wantITN {
				t.Errorf("itn = %q, want %q", itn, tc.wantITN)
			}
			if clean != tc.wantClean {
				t.Errorf("clean = %q, want %q", clean, tc.wantClean)
			}
		})
	}
}

func TestSplitTagsOutOfOrder(t *testing.T) {
	// splitTags classifies by content, not position, so a scrambled tag
	// order still resolves correctly unlike a fixed-slot parser.
	raw := "<|withitn|><|Speech|><|EMO_SAD|><|ja|>text"
	language, emotion, audioEvent, itn, clean := splitTags(raw)

	if language != "ja" {
		t.Errorf("language = %q, want ja", language)
	}
	if emotion != "EMO_SAD" {
		t.Errorf("emotion = %q, want EMO_SAD", emotion)
	}
	if audioEvent != "Speech" {
		t.Errorf("audioEvent = %q, want Speech", audioEvent)
	}
	if itn != "withitn" {
		t.Errorf("itn = %q, want withitn", itn)
	}
	if clean != "text" {
		t.Errorf("clean = %q, want text", clean)
	}
}

func TestSplitTagsStopsAtFirstNonTagText(t *testing.T) {
	// Once the leading run of <|tag|> markers ends, the rest is clean text
	// verbatim, even if it happens to contain <| | > characters later on.
	raw := "<|en|>is <|this|> a tag?"
	_, _, _, _, clean := splitTags(raw)
	if clean != "is <|this|> a tag?" {
		t.Errorf("clean = %q, want embedded pipes left alone", clean)
	}
}
