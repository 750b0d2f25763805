package voice

import "fmt"

// State is the lifecycle position of one pipeline run.
type State int

const (
	StateIdle State = iota
	StateTranscribing
	StateThinking
	StateComplete
	StateFailed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTranscribing:
		return "transcribing"
	case StateThinking:
		return "thinking"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// CanTransition reports whether a run may move from s to next.
// Text runs go straight from Idle to Thinking.
func (s State) CanTransition(next State) bool {
	if s.Terminal() {
		return false
	}
	if next == StateFailed {
		return true
	}
	switch s {
	case StateIdle:
		return next == StateTranscribing || next == StateThinking
	case StateTranscribing:
		return next == StateThinking
	case StateThinking:
		return next == StateComplete
	}
	return false
}
