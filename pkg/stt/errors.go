package stt

import (
	"errors"
	"fmt"
)

// Sentinel errors for the stt package.
var (
	// ErrInvalidInput indicates a missing, undecodable or undersized payload.
	ErrInvalidInput = errors.New("stt: invalid audio input")

	// ErrEmptyTranscript indicates no usable speech was detected.
	ErrEmptyTranscript = errors.New("stt: no speech detected")

	// ErrNoAPIKey indicates the provider API key was not configured.
	ErrNoAPIKey = errors.New("stt: API key required")
)

// ProviderError is a failed call to a transcription provider.
// Message carries the provider's own explanation.
type ProviderError struct {
	// Provider identifies which service failed.
	Provider string

	// StatusCode is the HTTP status, zero for transport failures.
	StatusCode int

	// Message is the provider's error message.
	Message string

	// Err is the underlying transport error, if any.
	Err error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("stt [%s]: API error %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("stt [%s]: %s", e.Provider, e.Message)
}

// Unwrap returns the underlying transport error.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsRateLimited returns true for HTTP 429.
func (e *ProviderError) IsRateLimited() bool {
	return e.StatusCode == 429
}

// IsUnauthorized returns true for HTTP 401 and 403.
func (e *ProviderError) IsUnauthorized() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
}

// wrapTransport wraps a transport-level failure as a ProviderError.
func wrapTransport(provider string, err error) error {
	return &ProviderError{Provider: provider, Message: err.Error(), Err: err}
}
