package stt

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MinTranscriptLength is the shortest transcript accepted as speech.
const MinTranscriptLength = 3

// hallucinations are transcripts providers return for silence or room noise.
var hallucinations = map[string]struct{}{
	"thank you":              {},
	"thanks":                 {},
	"thank you very much":    {},
	"thank you for watching": {},
	"thanks for watching":    {},
	"bye":                    {},
	"goodbye":                {},
	"bye bye":                {},
	"you":                    {},
}

// Clean trims a raw provider transcript and rejects noise.
// It returns ErrEmptyTranscript for blank, too-short or denylisted text.
func Clean(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	if utf8.RuneCountInString(text) < MinTranscriptLength {
		return "", fmt.Errorf("%w: transcript too short (%q)", ErrEmptyTranscript, text)
	}
	if IsHallucination(text) {
		return "", fmt.Errorf("%w: filtered likely hallucination (%q)", ErrEmptyTranscript, text)
	}
	return text, nil
}

// IsHallucination reports whether text is a known silence artifact.
// Matching ignores case, surrounding whitespace and trailing punctuation.
func IsHallucination(text string) bool {
	norm := strings.ToLower(strings.TrimSpace(text))
	norm = strings.Trim(norm, " .!?,;:…")
	_, ok := hallucinations[norm]
	return ok
}
