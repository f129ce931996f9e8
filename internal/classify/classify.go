// Package classify implements utterance classification and the admission
// filter (spec §4.3): deciding whether a ParsedUtterance is noise, a short
// but meaningful acknowledgement, or ordinary speech worth forwarding to the
// backend.
package classify

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Class is the admission verdict for one utterance.
type Class string

const (
	Normal     Class = "normal"
	KeepShort  Class = "keep_short"
	DropFiller Class = "drop_filler"
)

// Normalize folds text to NFKC, lowercases it, strips whitespace and
// punctuation, and collapses any run of the same rune longer than 2 down to
// length 2. This is the token classification operates on (spec §4.3).
func Normalize(text string) string {
	folded := norm.NFKC.String(text)
	folded = strings.ToLower(folded)

	var stripped []rune
	for _, r := range folded {
		if unicode.IsSpace(r) || unicode.IsPunct(r) {
			continue
		}
		stripped = append(stripped, r)
	}

	return collapseRuns(stripped)
}

func collapseRuns(runes []rune) string {
	if len(runes) == 0 {
		return ""
	}
	var b strings.Builder
	run := 1
	b.WriteRune(runes[0])
	for i := 1; i < len(runes); i++ {
		if runes[i] == runes[i-1] {
			run++
		} else {
			run = 1
		}
		if run <= 2 {
			b.WriteRune(runes[i])
		}
	}
	return b.String()
}

// Classify applies the ordered classification rule from spec §4.3 to the
// raw (pre-normalization) source text and returns the first matching class.
// fillerMaxChars is FILLER_MAX_CHARS (spec §6.3): the length cap the
// all-filler-character and all-filler-word heuristics use. It is a pure
// function of its input (P8).
func Classify(source string, fillerMaxChars int) Class {
	token := Normalize(source)

	if token == "" {
		return DropFiller
	}
	if _, ok := KeepShortTokens[token]; ok {
		return KeepShort
	}
	if _, ok := DropFillerTokens[token]; ok {
		return DropFiller
	}
	if _, ok := CommonFillers[token]; ok {
		return DropFiller
	}
	if _, ok := LowSemanticSingleTokens[token]; ok {
		return DropFiller
	}
	if isAllZHFillerChars(token, fillerMaxChars) {
		return DropFiller
	}
	if isEnglishFiller(source, fillerMaxChars) {
		return DropFiller
	}
	return Normal
}

func isAllZHFillerChars(token string, fillerMaxChars int) bool {
	runes := []rune(token)
	if len(runes) > fillerMaxChars {
		return false
	}
	for _, r := range runes {
		if _, ok := ZHFillerChars[r]; !ok {
			return false
		}
	}
	return true
}

// isEnglishFiller implements classification step 6: extract ASCII word runs
// from the lower-cased source; if there are 1-2 words and all are in
// ENLowSemanticWords, it's filler; otherwise if the total letter count is at
// most 2*fillerMaxChars and every word is in ENFillerWords, it's filler.
func isEnglishFiller(source string, fillerMaxChars int) bool {
	lower := strings.ToLower(source)
	words := extractASCIIWords(lower)
	if len(words) == 0 {
		return false
	}

	if len(words) <= 2 {
		allLowSemantic := true
		for _, w := range words {
			if _, ok := ENLowSemanticWords[w]; !ok {
				allLowSemantic = false
				break
			}
		}
		if allLowSemantic {
			return true
		}
	}

	letters := 0
	allFiller := true
	for _, w := range words {
		letters += len(w)
		if _, ok := ENFillerWords[w]; !ok {
			allFiller = false
		}
	}
	return allFiller && letters <= 2*fillerMaxChars
}

func extractASCIIWords(lower string) []string {
	var words []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}
	for _, r := range lower {
		if r >= 'a' && r <= 'z' {
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return words
}
