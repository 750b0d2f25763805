package stt

import (
	"context"
	"sync"
)

// Mock implements Transcriber for testing.
type Mock struct {
	// TranscribeFunc is called when Transcribe is invoked.
	TranscribeFunc func(ctx context.Context, audio Audio) (*Result, error)

	mu    sync.Mutex
	calls int
}

// NewMock returns a mock that transcribes everything to text.
func NewMock(text string) *Mock {
	return &Mock{
		TranscribeFunc: func(ctx context.Context, audio Audio) (*Result, error) {
			return &Result{Text: text, Confidence: 0.99, Provider: "mock"}, nil
		},
	}
}

// WithError returns a mock whose Transcribe always fails with err.
func WithError(err error) *Mock {
	return &Mock{
		TranscribeFunc: func(ctx context.Context, audio Audio) (*Result, error) {
			return nil, err
		},
	}
}

// Transcribe calls TranscribeFunc and records the call.
func (m *Mock) Transcribe(ctx context.Context, audio Audio) (*Result, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.TranscribeFunc == nil {
		return nil, ErrEmptyTranscript
	}
	return m.TranscribeFunc(ctx, audio)
}

// Calls returns how many times Transcribe was invoked.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

var _ Transcriber = (*Mock)(nil)
