// Package stt turns recorded speech into text.
//
// A Transcriber accepts one complete audio payload, either raw bytes or a
// base64 string as sent by browsers, and returns a cleaned transcript:
//
//	dg, _ := stt.NewDeepgram(stt.WithAPIKey(os.Getenv("DEEPGRAM_API_KEY")))
//	res, err := dg.Transcribe(ctx, stt.Audio{Base64: payload, Format: "webm"})
//	if errors.Is(err, stt.ErrEmptyTranscript) {
//	    // silence or noise, nothing to answer
//	}
//
// Payloads below the minimum size are rejected before any network call, and
// transcripts that providers commonly invent for silence are dropped.
package stt

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
)

// DefaultMinAudioBytes is the smallest payload worth sending to a provider.
// Anything shorter is treated as corrupt or empty input.
const DefaultMinAudioBytes = 1000

// Transcriber converts a complete audio payload to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio Audio) (*Result, error)
}

// Audio is an inbound audio payload. Exactly one of Data or Base64 is
// normally set; Data wins when both are.
type Audio struct {
	// Data is raw encoded audio (webm, wav, ...).
	Data []byte

	// Base64 is the same audio as a base64 string, optionally a data URL.
	Base64 string

	// Format is a container hint such as "webm" or "audio/wav".
	Format string
}

// Result is a cleaned transcription.
type Result struct {
	// Text is the trimmed, non-empty transcript.
	Text string

	// Confidence is the provider's score in [0,1], zero if not reported.
	Confidence float64

	// Provider names the service that produced the transcript.
	Provider string

	// LatencyMs is the provider round trip in milliseconds.
	LatencyMs int64
}

// Bytes normalizes the payload to raw bytes.
func (a Audio) Bytes() ([]byte, error) {
	if len(a.Data) > 0 {
		return a.Data, nil
	}
	encoded := strings.TrimSpace(a.Base64)
	if encoded == "" {
		return nil, fmt.Errorf("%w: no audio data", ErrInvalidInput)
	}
	// Browsers often send data URLs: data:audio/webm;base64,AAAA...
	if strings.HasPrefix(encoded, "data:") {
		if i := strings.Index(encoded, ","); i >= 0 {
			encoded = encoded[i+1:]
		}
	}
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if data, err := enc.DecodeString(encoded); err == nil {
			return data, nil
		}
	}
	return nil, fmt.Errorf("%w: audio is not valid base64", ErrInvalidInput)
}

// Validate normalizes audio and rejects payloads shorter than min bytes.
// A min of zero or less uses DefaultMinAudioBytes.
func Validate(audio Audio, min int) ([]byte, error) {
	if min <= 0 {
		min = DefaultMinAudioBytes
	}
	data, err := audio.Bytes()
	if err != nil {
		return nil, err
	}
	if len(data) < min {
		return nil, fmt.Errorf("%w: audio payload is %d bytes, need at least %d",
			ErrInvalidInput, len(data), min)
	}
	return data, nil
}

// MimeType returns the content type to send upstream for this payload.
func (a Audio) MimeType() string {
	if strings.HasPrefix(a.Base64, "data:") {
		if end := strings.Index(a.Base64, ";"); end > len("data:") {
			return a.Base64[len("data:"):end]
		}
	}
	return MimeType(a.Format)
}

// MimeType maps a format hint to a content type.
// Unknown hints map to audio/webm, the browser MediaRecorder default.
func MimeType(format string) string {
	f := strings.ToLower(strings.TrimSpace(format))
	if strings.Contains(f, "/") {
		return f
	}
	switch f {
	case "wav", "wave":
		return "audio/wav"
	case "mp3", "mpeg":
		return "audio/mpeg"
	case "ogg", "opus":
		return "audio/ogg"
	case "m4a", "mp4", "aac":
		return "audio/mp4"
	case "flac":
		return "audio/flac"
	default:
		return "audio/webm"
	}
}
