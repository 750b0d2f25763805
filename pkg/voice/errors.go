package voice

import (
	"errors"
	"fmt"

	"github.com/teslashibe/go-voicerelay/pkg/auth"
	"github.com/teslashibe/go-voicerelay/pkg/inference"
	"github.com/teslashibe/go-voicerelay/pkg/stt"
)

// ErrNoInput is returned when a request carries neither audio nor text.
var ErrNoInput = errors.New("voice: request has no audio or text")

// ErrorKind classifies a failed run.
type ErrorKind string

const (
	KindUnknown               ErrorKind = "unknown"
	KindInvalidInput          ErrorKind = "invalid_input"
	KindEmptyTranscript       ErrorKind = "empty_transcript"
	KindTranscriptionProvider ErrorKind = "transcription_provider"
	KindGenerationProvider    ErrorKind = "generation_provider"
	KindEmptyResponse         ErrorKind = "empty_response"
	KindChannelAuth           ErrorKind = "channel_auth"
)

// Kinds lists every failure kind, in reporting order.
var Kinds = []ErrorKind{
	KindInvalidInput,
	KindEmptyTranscript,
	KindTranscriptionProvider,
	KindGenerationProvider,
	KindEmptyResponse,
	KindChannelAuth,
	KindUnknown,
}

// Message is the short, user-facing description of the kind.
func (k ErrorKind) Message() string {
	switch k {
	case KindInvalidInput:
		return "invalid input"
	case KindEmptyTranscript:
		return "no speech detected"
	case KindTranscriptionProvider:
		return "transcription failed"
	case KindGenerationProvider:
		return "response generation failed"
	case KindEmptyResponse:
		return "empty response"
	case KindChannelAuth:
		return "unauthorized"
	}
	return "voice processing failed"
}

// Error is a classified pipeline failure.
type Error struct {
	Kind  ErrorKind
	Stage State // state the run was in when it failed
	Err   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.Message()
	}
	return fmt.Sprintf("%s: %v", e.Kind.Message(), e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Classify maps any error onto an ErrorKind.
// Errors produced by a Pipeline carry their kind; anything else is
// classified by its sentinel.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var ve *Error
	if errors.As(err, &ve) {
		return ve.Kind
	}

	var sttErr *stt.ProviderError
	switch {
	case errors.Is(err, ErrNoInput),
		errors.Is(err, stt.ErrInvalidInput),
		errors.Is(err, inference.ErrEmptyPrompt):
		return KindInvalidInput
	case errors.Is(err, stt.ErrEmptyTranscript):
		return KindEmptyTranscript
	case errors.Is(err, inference.ErrEmptyResponse):
		return KindEmptyResponse
	case errors.Is(err, auth.ErrUnauthorized):
		return KindChannelAuth
	case errors.As(err, &sttErr), errors.Is(err, stt.ErrNoAPIKey):
		return KindTranscriptionProvider
	}
	return KindUnknown
}

// classifyStage classifies err raised while the run was in stage. Provider
// failures without a sentinel are attributed to the stage's provider.
func classifyStage(stage State, err error) *Error {
	kind := Classify(err)
	if kind == KindUnknown {
		switch stage {
		case StateTranscribing:
			kind = KindTranscriptionProvider
		case StateThinking:
			kind = KindGenerationProvider
		}
	}
	return &Error{Kind: kind, Stage: stage, Err: err}
}
